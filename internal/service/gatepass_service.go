package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/gatepass-api/internal/dto"
	"github.com/noah-isme/gatepass-api/internal/models"
	"github.com/noah-isme/gatepass-api/internal/repository"
	"github.com/noah-isme/gatepass-api/internal/workflow"
	appErrors "github.com/noah-isme/gatepass-api/pkg/errors"
)

const summaryCachePrefix = "gatepass:summary:"

type txProvider interface {
	BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error)
}

type gatePassStore interface {
	Create(ctx context.Context, req *models.GatePassRequest) error
	GetByID(ctx context.Context, id string) (*models.GatePassRequest, error)
	List(ctx context.Context, filter models.GatePassFilter) ([]models.GatePassRequest, int, error)
	CountByStatus(ctx context.Context, filter models.GatePassFilter) ([]models.GatePassStatusCount, error)
	Transition(ctx context.Context, exec sqlx.ExtContext, params repository.TransitionParams) error
	AppendDecision(ctx context.Context, exec sqlx.ExtContext, entry *models.DecisionEntry) error
}

type studentProfileReader interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
}

type tokenIssuer interface {
	Issue(ctx context.Context, exec sqlx.ExtContext, tokenID, requestID string, expiresAt time.Time) (*models.GatePassToken, error)
}

// GatePassConfig tunes the approval workflow.
type GatePassConfig struct {
	Location        *time.Location
	MinReasonLength int
	SummaryCacheTTL time.Duration
}

// GatePassService owns the request lifecycle from submission to final decision.
type GatePassService struct {
	store     gatePassStore
	students  studentProfileReader
	tokens    tokenIssuer
	tx        txProvider
	cache     *CacheService
	metrics   *MetricsService
	audit     auditRecorder
	validator *validator.Validate
	logger    *zap.Logger
	config    GatePassConfig
	now       func() time.Time
}

// GatePassServiceOption configures the service.
type GatePassServiceOption func(*GatePassService)

// WithGatePassClock overrides the time source.
func WithGatePassClock(now func() time.Time) GatePassServiceOption {
	return func(s *GatePassService) {
		if now != nil {
			s.now = now
		}
	}
}

// WithGatePassCache enables summary caching.
func WithGatePassCache(cache *CacheService) GatePassServiceOption {
	return func(s *GatePassService) {
		s.cache = cache
	}
}

// WithGatePassMetrics attaches domain counters.
func WithGatePassMetrics(metrics *MetricsService) GatePassServiceOption {
	return func(s *GatePassService) {
		s.metrics = metrics
	}
}

// WithGatePassAudit attaches the audit recorder.
func WithGatePassAudit(audit auditRecorder) GatePassServiceOption {
	return func(s *GatePassService) {
		s.audit = audit
	}
}

// NewGatePassService constructs the service with defaults.
func NewGatePassService(store gatePassStore, students studentProfileReader, tokens tokenIssuer, tx txProvider, validate *validator.Validate, logger *zap.Logger, cfg GatePassConfig, opts ...GatePassServiceOption) *GatePassService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.MinReasonLength <= 0 {
		cfg.MinReasonLength = 5
	}
	svc := &GatePassService{
		store:     store,
		students:  students,
		tokens:    tokens,
		tx:        tx,
		validator: validate,
		logger:    logger,
		config:    cfg,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(svc)
		}
	}
	return svc
}

// Create submits a new request on behalf of a student.
func (s *GatePassService) Create(ctx context.Context, req dto.CreateGatePassRequest, actor workflow.Actor) (*models.GatePassRequest, error) {
	if actor.ID == "" {
		return nil, appErrors.ErrUnauthorized
	}
	if actor.Role != models.RoleStudent {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only students can create gate pass requests")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "reason, destination, outTime and expectedReturnTime are required")
	}

	reason := strings.TrimSpace(req.Reason)
	if len([]rune(reason)) < s.config.MinReasonLength {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("reason must be at least %d characters", s.config.MinReasonLength))
	}
	destination := strings.TrimSpace(req.Destination)
	if destination == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "destination is required")
	}
	outTime, err := time.Parse(time.RFC3339, strings.TrimSpace(req.OutTime))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "outTime must be an RFC 3339 timestamp")
	}
	returnTime, err := time.Parse(time.RFC3339, strings.TrimSpace(req.ExpectedReturnTime))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "expectedReturnTime must be an RFC 3339 timestamp")
	}
	if !returnTime.After(outTime) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "expectedReturnTime must be after outTime")
	}

	stage, err := workflow.DetermineInitialStage(outTime.In(s.config.Location))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "outTime is invalid")
	}

	summary := &models.StudentSummary{ID: actor.ID, Course: actor.Course, RoomNumber: actor.RoomNumber}
	if s.students != nil {
		profile, err := s.students.FindByID(ctx, actor.ID)
		switch {
		case err == nil:
			summary = &models.StudentSummary{
				ID:         profile.ID,
				FullName:   profile.FullName,
				Email:      profile.Email,
				Course:     profile.Course,
				RoomNumber: profile.RoomNumber,
			}
		case errors.Is(err, sql.ErrNoRows):
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student profile not found")
		default:
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student profile")
		}
	}

	request := &models.GatePassRequest{
		StudentID:          actor.ID,
		Reason:             reason,
		Destination:        destination,
		OutTime:            outTime.UTC(),
		ExpectedReturnTime: returnTime.UTC(),
		Status:             models.GatePassStatusPending,
		CurrentStage:       stage,
		StudentCourse:      strings.TrimSpace(summary.Course),
		StudentRoomNumber:  strings.TrimSpace(summary.RoomNumber),
		CreatedAt:          s.now(),
	}
	if err := s.store.Create(ctx, request); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create gate pass request")
	}
	request.Student = summary
	request.History = []models.DecisionEntry{}

	s.logger.Info("gate pass request created",
		zap.String("request_id", request.ID),
		zap.String("stage", string(stage)),
		zap.String("actor_id", actor.ID),
	)
	s.emitAudit(ctx, actor, models.AuditActionGatePassCreate, request.ID, fmt.Sprintf(`{"stage":%q}`, stage))
	s.invalidateSummaries(ctx)
	return request, nil
}

// List returns requests visible to the actor. Students see their own;
// approvers see their assigned stage unless actedByMe switches to their
// decision history; security sees everything; the warden defaults to the
// warden stage and may filter by any stage.
func (s *GatePassService) List(ctx context.Context, query dto.GatePassQuery, actor workflow.Actor) ([]models.GatePassRequest, *models.Pagination, error) {
	if actor.ID == "" {
		return nil, nil, appErrors.ErrUnauthorized
	}
	filter, err := s.scopeFilter(query, actor)
	if err != nil {
		return nil, nil, err
	}
	if query.Status != "" {
		status, ok := models.ParseGatePassStatus(query.Status)
		if !ok {
			return nil, nil, appErrors.Clone(appErrors.ErrValidation, "invalid status filter provided")
		}
		filter.Status = status
	}
	filter.Page = query.Page
	filter.PageSize = query.PageSize

	items, total, err := s.store.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list gate pass requests")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	if items == nil {
		items = []models.GatePassRequest{}
	}
	return items, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// scopeFilter builds the role-derived default scope plus validated stage and
// student filters. The status filter is applied by the caller.
func (s *GatePassService) scopeFilter(query dto.GatePassQuery, actor workflow.Actor) (models.GatePassFilter, error) {
	var filter models.GatePassFilter

	var stageFilter models.Stage
	if query.Stage != "" {
		stage, ok := models.ParseStage(query.Stage)
		if !ok {
			return filter, appErrors.Clone(appErrors.ErrValidation, "invalid stage filter provided")
		}
		stageFilter = stage
	}
	studentID := strings.TrimSpace(query.StudentID)

	switch actor.Role {
	case models.RoleStudent:
		if studentID != "" && studentID != actor.ID {
			return filter, appErrors.Clone(appErrors.ErrForbidden, "students can only view their own requests")
		}
		filter.StudentID = actor.ID
		filter.Stage = stageFilter
		return filter, nil
	case models.RoleSecurity:
		filter.Stage = stageFilter
		filter.StudentID = studentID
		if query.ActedByMe {
			filter.ActedBy = actor.ID
		}
		return filter, nil
	}

	assigned, ok := workflow.AssignedStage(actor.Role)
	if !ok {
		return filter, appErrors.Clone(appErrors.ErrForbidden, "role cannot list gate pass requests")
	}
	filter.StudentID = studentID
	if query.ActedByMe {
		filter.ActedBy = actor.ID
		filter.Stage = stageFilter
		return filter, nil
	}
	filter.Stage = assigned
	if actor.Role == models.RoleWarden && stageFilter != "" {
		filter.Stage = stageFilter
	}
	if assigned == models.StageClassIncharge {
		course := workflow.NormalizeCourse(actor.Course)
		if course == "" {
			return filter, appErrors.ErrCourseRequired
		}
		filter.Course = course
	}
	return filter, nil
}

// Get returns one request if the actor may view it.
func (s *GatePassService) Get(ctx context.Context, id string, actor workflow.Actor) (*models.GatePassRequest, error) {
	if actor.ID == "" {
		return nil, appErrors.ErrUnauthorized
	}
	request, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canView(actor, request) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "you are not allowed to view this gate pass request")
	}
	return request, nil
}

func canView(actor workflow.Actor, req *models.GatePassRequest) bool {
	switch actor.Role {
	case models.RoleStudent:
		return req.StudentID == actor.ID
	case models.RoleWarden, models.RoleSecurity:
		return true
	}
	return workflow.CanActOn(actor, req) || req.HasActor(actor.ID)
}

// Decide dispatches forward, approve or reject.
func (s *GatePassService) Decide(ctx context.Context, id string, req dto.DecisionRequest, actor workflow.Actor) (*models.GatePassRequest, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "action is required")
	}
	switch strings.ToLower(strings.TrimSpace(req.Action)) {
	case "forward":
		return s.Forward(ctx, id, actor, req.Remarks)
	case "approve":
		return s.Approve(ctx, id, actor, req.Remarks)
	case "reject":
		return s.Reject(ctx, id, actor, req.Remarks)
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, "unsupported action for gate pass request")
	}
}

// Forward moves a pending request to the next academic stage.
func (s *GatePassService) Forward(ctx context.Context, id string, actor workflow.Actor, remarks string) (*models.GatePassRequest, error) {
	return s.transition(ctx, id, actor, models.DecisionForward, remarks)
}

// Approve finalises a pending request and issues its gate token in the same
// transaction.
func (s *GatePassService) Approve(ctx context.Context, id string, actor workflow.Actor, remarks string) (*models.GatePassRequest, error) {
	return s.transition(ctx, id, actor, models.DecisionApprove, remarks)
}

// Reject finalises a pending request without a token.
func (s *GatePassService) Reject(ctx context.Context, id string, actor workflow.Actor, remarks string) (*models.GatePassRequest, error) {
	return s.transition(ctx, id, actor, models.DecisionReject, remarks)
}

func (s *GatePassService) transition(ctx context.Context, id string, actor workflow.Actor, action models.DecisionAction, remarks string) (*models.GatePassRequest, error) {
	if actor.ID == "" {
		return nil, appErrors.ErrUnauthorized
	}
	request, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if request.Status != models.GatePassStatusPending {
		return nil, appErrors.Clone(appErrors.ErrConflict, "gate pass request is no longer pending")
	}
	if err := workflow.AuthorizeStageAction(actor, request); err != nil {
		return nil, err
	}

	fromStage := request.CurrentStage
	params := repository.TransitionParams{
		ID:        request.ID,
		FromStage: fromStage,
		At:        s.now(),
	}
	entry := &models.DecisionEntry{
		RequestID: request.ID,
		Stage:     fromStage,
		Action:    action,
		ActorID:   actor.ID,
		ActorRole: actor.Role,
		Remarks:   optionalString(remarks),
		CreatedAt: params.At,
	}

	switch action {
	case models.DecisionForward:
		if workflow.WardenOnlyActions(fromStage) {
			return nil, appErrors.Clone(appErrors.ErrValidation, "warden requests can only be approved or rejected")
		}
		next, ok := workflow.DetermineNextStage(fromStage)
		if !ok {
			return nil, appErrors.Clone(appErrors.ErrValidation, "this request cannot be forwarded further")
		}
		params.Status = models.GatePassStatusPending
		params.ToStage = next
		entry.ForwardedTo = &next
	case models.DecisionApprove:
		if request.TokenID != nil || request.Token != nil {
			return nil, appErrors.Clone(appErrors.ErrConflict, "gate pass token already issued for this request")
		}
		tokenID := uuid.NewString()
		params.Status = models.GatePassStatusApproved
		params.ToStage = models.StageCompleted
		params.TokenID = &tokenID
		params.RequireNoToken = true
	case models.DecisionReject:
		params.Status = models.GatePassStatusRejected
		params.ToStage = models.StageCompleted
	}

	if fromStage == models.StageClassIncharge && request.Student != nil {
		params.StudentCourse = strings.TrimSpace(request.Student.Course)
		params.StudentRoom = strings.TrimSpace(request.Student.RoomNumber)
	}

	start := time.Now()
	if err := s.commitTransition(ctx, request, params, entry); err != nil {
		return nil, err
	}
	s.metrics.ObserveDBQuery("gatepass_"+string(action), time.Since(start))
	s.metrics.RecordDecision(action, fromStage)
	if action == models.DecisionApprove {
		s.metrics.RecordTokenIssued()
	}

	s.logger.Info("gate pass request decided",
		zap.String("request_id", request.ID),
		zap.String("stage", string(fromStage)),
		zap.String("action", string(action)),
		zap.String("next_stage", string(params.ToStage)),
		zap.String("actor_id", actor.ID),
	)
	s.emitAudit(ctx, actor, auditActionFor(action), request.ID,
		fmt.Sprintf(`{"from":%q,"to":%q,"status":%q}`, fromStage, params.ToStage, params.Status))
	s.invalidateSummaries(ctx)

	updated, err := s.load(ctx, request.ID)
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *GatePassService) commitTransition(ctx context.Context, request *models.GatePassRequest, params repository.TransitionParams, entry *models.DecisionEntry) (err error) {
	tx, err := s.tx.BeginTxx(ctx, nil)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to begin transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = s.store.Transition(ctx, tx, params); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			err = appErrors.Clone(appErrors.ErrConflict, "gate pass request was already processed by another reviewer")
			return err
		}
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update gate pass request")
		return err
	}

	if params.TokenID != nil {
		if _, err = s.tokens.Issue(ctx, tx, *params.TokenID, request.ID, request.ExpectedReturnTime); err != nil {
			return err
		}
	}

	if err = s.store.AppendDecision(ctx, tx, entry); err != nil {
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record gate pass decision")
		return err
	}

	if err = tx.Commit(); err != nil {
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit gate pass decision")
		return err
	}
	return nil
}

// Summary counts requests by status within the actor's default list scope.
func (s *GatePassService) Summary(ctx context.Context, actor workflow.Actor) (*dto.GatePassSummary, error) {
	if actor.ID == "" {
		return nil, appErrors.ErrUnauthorized
	}
	filter, err := s.scopeFilter(dto.GatePassQuery{}, actor)
	if err != nil {
		return nil, err
	}
	scope := summaryScope(filter)
	key := summaryCachePrefix + scope

	var cached dto.GatePassSummary
	if hit, _ := s.cache.Get(ctx, key, &cached); hit {
		return &cached, nil
	}

	rows, err := s.store.CountByStatus(ctx, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to summarise gate pass requests")
	}
	summary := &dto.GatePassSummary{
		Scope: scope,
		Counts: map[models.GatePassStatus]int{
			models.GatePassStatusPending:   0,
			models.GatePassStatusApproved:  0,
			models.GatePassStatusRejected:  0,
			models.GatePassStatusCancelled: 0,
		},
		GeneratedAt: s.now(),
	}
	for _, row := range rows {
		summary.Counts[row.Status] += row.Total
		summary.Total += row.Total
	}
	_ = s.cache.Set(ctx, key, summary, s.config.SummaryCacheTTL)
	return summary, nil
}

func summaryScope(filter models.GatePassFilter) string {
	switch {
	case filter.StudentID != "":
		return "student:" + filter.StudentID
	case filter.Course != "":
		return "stage:" + string(filter.Stage) + ":course:" + filter.Course
	case filter.Stage != "":
		return "stage:" + string(filter.Stage)
	default:
		return "all"
	}
}

func (s *GatePassService) invalidateSummaries(ctx context.Context) {
	_ = s.cache.Invalidate(ctx, summaryCachePrefix+"*")
}

func (s *GatePassService) load(ctx context.Context, id string) (*models.GatePassRequest, error) {
	id = strings.TrimSpace(id)
	if _, err := uuid.Parse(id); err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "invalid gate pass request id")
	}
	request, err := s.store.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrRequestNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load gate pass request")
	}
	return request, nil
}

func (s *GatePassService) emitAudit(ctx context.Context, actor workflow.Actor, action, requestID, payload string) {
	if s.audit == nil {
		return
	}
	s.audit.Record(ctx, &models.AuditLog{
		UserID:     &actor.ID,
		Action:     action,
		Resource:   "gatepass_request",
		ResourceID: &requestID,
		NewValues:  []byte(payload),
		IPAddress:  "system",
		UserAgent:  "gatepass-service",
	})
}

func auditActionFor(action models.DecisionAction) string {
	switch action {
	case models.DecisionForward:
		return models.AuditActionGatePassForward
	case models.DecisionApprove:
		return models.AuditActionGatePassApprove
	default:
		return models.AuditActionGatePassReject
	}
}

func optionalString(value string) *string {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	v := strings.TrimSpace(value)
	return &v
}
