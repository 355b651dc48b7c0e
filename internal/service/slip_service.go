package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/gatepass-api/internal/dto"
	"github.com/noah-isme/gatepass-api/internal/models"
	"github.com/noah-isme/gatepass-api/internal/workflow"
	appErrors "github.com/noah-isme/gatepass-api/pkg/errors"
	"github.com/noah-isme/gatepass-api/pkg/export"
)

const slipScope = "slip"

type slipRequestReader interface {
	GetByID(ctx context.Context, id string) (*models.GatePassRequest, error)
}

type slipSigner interface {
	Generate(subject, scope string) (string, time.Time, error)
	Parse(token string) (subject, scope string, expiresAt time.Time, err error)
}

type slipRenderer interface {
	Render(slip export.PassSlip) ([]byte, error)
}

// SlipConfig tunes printable pass links.
type SlipConfig struct {
	APIPrefix string
}

// SlipService hands out signed links to printable passes and renders them.
type SlipService struct {
	requests slipRequestReader
	signer   slipSigner
	renderer slipRenderer
	logger   *zap.Logger
	cfg      SlipConfig
}

// NewSlipService constructs a SlipService.
func NewSlipService(requests slipRequestReader, signer slipSigner, renderer slipRenderer, logger *zap.Logger, cfg SlipConfig) *SlipService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if renderer == nil {
		renderer = export.NewPDFExporter(time.UTC)
	}
	return &SlipService{requests: requests, signer: signer, renderer: renderer, logger: logger, cfg: cfg}
}

// Link signs a download URL for an approved request. Only the owning student,
// the warden, and security may ask for one.
func (s *SlipService) Link(ctx context.Context, requestID string, actor workflow.Actor) (*dto.SlipLink, error) {
	if actor.ID == "" {
		return nil, appErrors.ErrUnauthorized
	}
	request, err := s.loadApproved(ctx, requestID)
	if err != nil {
		return nil, err
	}
	switch actor.Role {
	case models.RoleWarden, models.RoleSecurity:
	case models.RoleStudent:
		if request.StudentID != actor.ID {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "students can only print their own gate pass")
		}
	default:
		return nil, appErrors.Clone(appErrors.ErrForbidden, "role cannot print gate passes")
	}

	token, expiresAt, err := s.signer.Generate(request.ID, slipScope)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign slip link")
	}
	prefix := strings.TrimRight(s.cfg.APIPrefix, "/")
	if prefix == "" {
		prefix = "/api/v1"
	}
	return &dto.SlipLink{
		URL:       fmt.Sprintf("%s/gatepasses/slips/%s", prefix, token),
		ExpiresAt: expiresAt,
	}, nil
}

// Download validates a signed token and renders the slip PDF. The returned
// name is suitable for a Content-Disposition header.
func (s *SlipService) Download(ctx context.Context, token string) ([]byte, string, error) {
	requestID, scope, _, err := s.signer.Parse(token)
	if err != nil || scope != slipScope {
		return nil, "", appErrors.Clone(appErrors.ErrUnauthorized, "slip link is invalid or expired")
	}
	request, err := s.loadApproved(ctx, requestID)
	if err != nil {
		return nil, "", err
	}

	payload, err := s.renderer.Render(buildSlip(request))
	if err != nil {
		return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render gate pass slip")
	}
	s.logger.Debug("gate pass slip rendered", zap.String("request_id", request.ID), zap.Int("bytes", len(payload)))
	return payload, fmt.Sprintf("gatepass_%s.pdf", request.ID), nil
}

func (s *SlipService) loadApproved(ctx context.Context, requestID string) (*models.GatePassRequest, error) {
	requestID = strings.TrimSpace(requestID)
	if _, err := uuid.Parse(requestID); err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "invalid gate pass request id")
	}
	request, err := s.requests.GetByID(ctx, requestID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrRequestNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load gate pass request")
	}
	if request.Status != models.GatePassStatusApproved || request.Token == nil {
		return nil, appErrors.Clone(appErrors.ErrConflict, "gate pass request has no issued pass to print")
	}
	return request, nil
}

func buildSlip(req *models.GatePassRequest) export.PassSlip {
	slip := export.PassSlip{
		Title:              "Campus Gate Pass",
		RequestID:          req.ID,
		StudentID:          req.StudentID,
		Course:             workflow.StudentCourse(req),
		RoomNumber:         req.StudentRoomNumber,
		Reason:             req.Reason,
		Destination:        req.Destination,
		OutTime:            req.OutTime,
		ExpectedReturnTime: req.ExpectedReturnTime,
		TokenValue:         req.Token.Value,
		UsesAllowed:        req.Token.UsesAllowed,
		UsesCount:          req.Token.UsesCount,
		TokenStatus:        string(req.Token.Status),
	}
	if req.Student != nil {
		slip.StudentName = req.Student.FullName
		if slip.RoomNumber == "" {
			slip.RoomNumber = req.Student.RoomNumber
		}
	}
	for _, entry := range req.History {
		actor := entry.ActorName
		if actor == "" {
			actor = string(entry.ActorRole)
		}
		slip.Trail = append(slip.Trail, export.SlipTrailRow{
			Stage:  string(entry.Stage),
			Action: string(entry.Action),
			Actor:  actor,
			At:     entry.CreatedAt,
		})
	}
	return slip
}
