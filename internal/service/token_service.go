package service

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/gatepass-api/internal/dto"
	"github.com/noah-isme/gatepass-api/internal/models"
	"github.com/noah-isme/gatepass-api/internal/repository"
	"github.com/noah-isme/gatepass-api/internal/workflow"
	appErrors "github.com/noah-isme/gatepass-api/pkg/errors"
)

type tokenStore interface {
	InsertUnique(ctx context.Context, exec sqlx.ExtContext, token *models.GatePassToken) (bool, error)
	GetByValue(ctx context.Context, value string) (*models.GatePassToken, error)
	ListUsages(ctx context.Context, tokenID string) ([]models.UsageEntry, error)
	Retire(ctx context.Context, id string, status models.TokenStatus, at time.Time) (bool, error)
	Consume(ctx context.Context, exec sqlx.ExtContext, id string, seenCount int, at time.Time) (*models.GatePassToken, error)
	AppendUsage(ctx context.Context, exec sqlx.ExtContext, usage *models.UsageEntry) error
}

type requestStatusReader interface {
	StatusByID(ctx context.Context, id string) (models.GatePassStatus, error)
}

// TokenConfig tunes token generation. Value length and the use allowance are
// fixed by the exit/entry model.
type TokenConfig struct {
	MaxAttempts int
}

// TokenService issues gate pass tokens and redeems them at the gate.
type TokenService struct {
	store    tokenStore
	requests requestStatusReader
	tx       txProvider
	metrics  *MetricsService
	audit    auditRecorder
	logger   *zap.Logger
	config   TokenConfig
	now      func() time.Time
	generate func(n int) (string, error)
}

// TokenServiceOption configures the service.
type TokenServiceOption func(*TokenService)

// WithTokenClock overrides the time source.
func WithTokenClock(now func() time.Time) TokenServiceOption {
	return func(s *TokenService) {
		if now != nil {
			s.now = now
		}
	}
}

// WithTokenGenerator overrides the random value source.
func WithTokenGenerator(fn func(n int) (string, error)) TokenServiceOption {
	return func(s *TokenService) {
		if fn != nil {
			s.generate = fn
		}
	}
}

// NewTokenService constructs the service with defaults.
func NewTokenService(store tokenStore, requests requestStatusReader, tx txProvider, metrics *MetricsService, audit auditRecorder, logger *zap.Logger, cfg TokenConfig, opts ...TokenServiceOption) *TokenService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	svc := &TokenService{
		store:    store,
		requests: requests,
		tx:       tx,
		metrics:  metrics,
		audit:    audit,
		logger:   logger,
		config:   cfg,
		now:      func() time.Time { return time.Now().UTC() },
		generate: randomHex,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(svc)
		}
	}
	return svc
}

// Issue mints a token for requestID inside the caller's transaction. An empty
// tokenID is assigned by the store. Value collisions are detected by the
// storage layer and regenerated.
func (s *TokenService) Issue(ctx context.Context, exec sqlx.ExtContext, tokenID, requestID string, expiresAt time.Time) (*models.GatePassToken, error) {
	for attempt := 1; attempt <= s.config.MaxAttempts; attempt++ {
		value, err := s.generate(models.TokenKeyBytes)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to generate gate pass token")
		}
		token := &models.GatePassToken{
			ID:          tokenID,
			RequestID:   requestID,
			Value:       value,
			UsesAllowed: models.DefaultTokenUses,
			UsesCount:   0,
			Status:      models.TokenStatusActive,
			ExpiresAt:   expiresAt,
			CreatedAt:   s.now(),
		}
		inserted, err := s.store.InsertUnique(ctx, exec, token)
		if err != nil {
			if errors.Is(err, repository.ErrTokenAlreadyIssued) {
				return nil, appErrors.Clone(appErrors.ErrConflict, "a gate pass token was already issued for this request")
			}
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store gate pass token")
		}
		if inserted {
			return token, nil
		}
		s.logger.Debug("gate pass token value collided, regenerating", zap.String("request_id", requestID), zap.Int("attempt", attempt))
	}
	return nil, appErrors.Clone(appErrors.ErrInternal, "could not generate a unique gate pass token")
}

// Scan redeems one use of the token identified by key.
func (s *TokenService) Scan(ctx context.Context, key string, actor workflow.Actor) (result *dto.ScanResult, err error) {
	if actor.ID == "" {
		return nil, appErrors.ErrUnauthorized
	}
	if actor.Role != models.RoleSecurity && actor.Role != models.RoleWarden {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only security or warden may scan gate pass tokens")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "key is required")
	}

	outcome := ScanResultError
	defer func() { s.metrics.RecordScan(outcome) }()

	token, err := s.store.GetByValue(ctx, key)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			outcome = ScanResultNotFound
			return nil, appErrors.ErrTokenNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load gate pass token")
	}

	if token.Status != models.TokenStatusActive {
		outcome = ScanResultInactive
		return nil, appErrors.ErrTokenInactive
	}

	now := s.now()
	if now.After(token.ExpiresAt) {
		outcome = ScanResultExpired
		s.retire(ctx, token, models.TokenStatusRevoked, now)
		return nil, appErrors.ErrTokenExpired
	}

	status, err := s.requests.StatusByID(ctx, token.RequestID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load gate pass request")
	}
	if status != models.GatePassStatusApproved {
		outcome = ScanResultRejected
		return nil, appErrors.Clone(appErrors.ErrValidation, "associated gate pass request is not approved")
	}

	if token.UsesCount >= token.UsesAllowed {
		outcome = ScanResultExhausted
		s.retire(ctx, token, models.TokenStatusUsed, now)
		return nil, appErrors.ErrTokenExhausted
	}

	usageType := models.UsageTypeEntry
	if token.UsesCount == 0 {
		usageType = models.UsageTypeExit
	}

	consumed, err := s.consume(ctx, token, usageType, actor, now)
	if err != nil {
		if appErr := appErrors.FromError(err); appErr.Code == appErrors.ErrConflict.Code {
			outcome = ScanResultConflict
		}
		return nil, err
	}

	usages, listErr := s.store.ListUsages(ctx, consumed.ID)
	if listErr != nil {
		s.logger.Warn("failed to load gate pass token usage log", zap.String("token_id", consumed.ID), zap.Error(listErr))
	} else {
		consumed.Usages = usages
	}

	outcome = string(usageType)
	s.logger.Info("gate pass token scanned",
		zap.String("token_id", consumed.ID),
		zap.String("request_id", consumed.RequestID),
		zap.String("type", string(usageType)),
		zap.Int("uses_count", consumed.UsesCount),
		zap.String("actor_id", actor.ID),
	)
	if s.audit != nil {
		s.audit.Record(ctx, &models.AuditLog{
			UserID:     &actor.ID,
			Action:     models.AuditActionGatePassTokenUse,
			Resource:   "gatepass_token",
			ResourceID: &consumed.ID,
			NewValues:  []byte(`{"type":"` + string(usageType) + `"}`),
			IPAddress:  "system",
			UserAgent:  "token-service",
		})
	}

	return &dto.ScanResult{
		Type:          usageType,
		RemainingUses: consumed.RemainingUses(),
		Token:         consumed,
		RequestID:     consumed.RequestID,
	}, nil
}

func (s *TokenService) consume(ctx context.Context, token *models.GatePassToken, usageType models.UsageType, actor workflow.Actor, now time.Time) (consumed *models.GatePassToken, err error) {
	tx, err := s.tx.BeginTxx(ctx, nil)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to begin transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	consumed, err = s.store.Consume(ctx, tx, token.ID, token.UsesCount, now)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			err = appErrors.Clone(appErrors.ErrConflict, "gate pass token changed during scan, please scan again")
			return nil, err
		}
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to redeem gate pass token")
		return nil, err
	}

	usage := &models.UsageEntry{
		TokenID:   token.ID,
		ActorID:   actor.ID,
		Type:      usageType,
		ScannedAt: now,
	}
	if err = s.store.AppendUsage(ctx, tx, usage); err != nil {
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record gate pass token usage")
		return nil, err
	}

	if err = tx.Commit(); err != nil {
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit gate pass token usage")
		return nil, err
	}
	return consumed, nil
}

// retire applies a terminal status on the failing path. It only logs on error
// so the caller still reports the original reason.
func (s *TokenService) retire(ctx context.Context, token *models.GatePassToken, status models.TokenStatus, at time.Time) {
	changed, err := s.store.Retire(ctx, token.ID, status, at)
	if err != nil {
		s.logger.Warn("failed to retire gate pass token", zap.String("token_id", token.ID), zap.String("status", string(status)), zap.Error(err))
		return
	}
	if changed {
		s.logger.Warn("gate pass token retired", zap.String("token_id", token.ID), zap.String("status", string(status)))
	}
	token.Status = status
}

func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
