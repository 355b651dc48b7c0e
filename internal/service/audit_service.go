package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/gatepass-api/internal/models"
	"github.com/noah-isme/gatepass-api/pkg/jobs"
)

const auditJobType = "audit_log"

type auditLogger interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

type auditQueue interface {
	TryEnqueue(job jobs.Job) error
}

// AuditService records audit trail entries off the request path.
type AuditService struct {
	store  auditLogger
	queue  auditQueue
	logger *zap.Logger
}

// NewAuditService constructs the service. Without a queue entries are written inline.
func NewAuditService(store auditLogger, queue auditQueue, logger *zap.Logger) *AuditService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuditService{store: store, queue: queue, logger: logger}
}

// Record schedules the entry for persistence. Failures are logged, never returned.
func (s *AuditService) Record(ctx context.Context, log *models.AuditLog) {
	if s == nil || s.store == nil || log == nil {
		return
	}
	if log.ID == "" {
		log.ID = uuid.NewString()
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now().UTC()
	}
	if s.queue != nil {
		err := s.queue.TryEnqueue(jobs.Job{ID: log.ID, Type: auditJobType, Payload: log})
		if err == nil {
			return
		}
		s.logger.Warn("audit queue unavailable, writing inline", zap.String("action", log.Action), zap.Error(err))
	}
	if err := s.store.CreateAuditLog(ctx, log); err != nil {
		s.logger.Warn("failed to persist audit log", zap.String("action", log.Action), zap.Error(err))
	}
}

// AuditWriter drains audit jobs into storage.
type AuditWriter struct {
	store auditLogger
}

// NewAuditWriter constructs a writer for the audit queue.
func NewAuditWriter(store auditLogger) *AuditWriter {
	return &AuditWriter{store: store}
}

// Handle processes a queue job.
func (w *AuditWriter) Handle(ctx context.Context, job jobs.Job) error {
	log, ok := job.Payload.(*models.AuditLog)
	if !ok || log == nil {
		return fmt.Errorf("audit job %s: unexpected payload %T", job.ID, job.Payload)
	}
	return w.store.CreateAuditLog(ctx, log)
}
