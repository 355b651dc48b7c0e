package service

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gatepass-api/internal/dto"
	"github.com/noah-isme/gatepass-api/internal/models"
	"github.com/noah-isme/gatepass-api/internal/repository"
	"github.com/noah-isme/gatepass-api/internal/workflow"
	appErrors "github.com/noah-isme/gatepass-api/pkg/errors"
)

var campusZone = time.FixedZone("IST", 5*3600+1800)

type sqlTxMock struct {
	db *sqlx.DB
}

func newSQLTxMock(t *testing.T) (*sqlTxMock, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return &sqlTxMock{db: sqlx.NewDb(db, "sqlmock")}, mock
}

func (m *sqlTxMock) BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error) {
	return m.db.BeginTxx(ctx, opts)
}

// gatePassStoreStub mirrors the conditional update semantics of the
// repository in memory.
type gatePassStoreStub struct {
	mu            sync.Mutex
	requests      map[string]*models.GatePassRequest
	students      map[string]*models.StudentSummary
	lastFilter    models.GatePassFilter
	counts        []models.GatePassStatusCount
	countCalls    int
	transitionErr error
	appendErr     error
}

func newGatePassStoreStub() *gatePassStoreStub {
	return &gatePassStoreStub{
		requests: map[string]*models.GatePassRequest{},
		students: map[string]*models.StudentSummary{},
	}
}

func (s *gatePassStoreStub) Create(ctx context.Context, req *models.GatePassRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	req.ID = uuid.NewString()
	req.UpdatedAt = req.CreatedAt
	cp := *req
	s.requests[req.ID] = &cp
	return nil
}

func (s *gatePassStoreStub) seed(req models.GatePassRequest) *models.GatePassRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.Status == "" {
		req.Status = models.GatePassStatusPending
	}
	if req.ExpectedReturnTime.IsZero() {
		req.ExpectedReturnTime = time.Date(2026, 10, 19, 18, 0, 0, 0, time.UTC)
	}
	s.requests[req.ID] = &req
	return &req
}

func (s *gatePassStoreStub) GetByID(ctx context.Context, id string) (*models.GatePassRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *req
	cp.History = append([]models.DecisionEntry{}, req.History...)
	cp.Student = s.students[req.StudentID]
	if req.TokenID != nil {
		cp.Token = &models.GatePassToken{ID: *req.TokenID, RequestID: req.ID, Status: models.TokenStatusActive}
	}
	return &cp, nil
}

func (s *gatePassStoreStub) List(ctx context.Context, filter models.GatePassFilter) ([]models.GatePassRequest, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastFilter = filter
	out := []models.GatePassRequest{}
	for _, req := range s.requests {
		if filter.StudentID != "" && req.StudentID != filter.StudentID {
			continue
		}
		if filter.Stage != "" && req.CurrentStage != filter.Stage {
			continue
		}
		if filter.Status != "" && req.Status != filter.Status {
			continue
		}
		out = append(out, *req)
	}
	return out, len(out), nil
}

func (s *gatePassStoreStub) StatusByID(ctx context.Context, id string) (models.GatePassStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[id]
	if !ok {
		return "", sql.ErrNoRows
	}
	return req.Status, nil
}

func (s *gatePassStoreStub) CountByStatus(ctx context.Context, filter models.GatePassFilter) ([]models.GatePassStatusCount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.countCalls++
	s.lastFilter = filter
	return s.counts, nil
}

func (s *gatePassStoreStub) Transition(ctx context.Context, exec sqlx.ExtContext, params repository.TransitionParams) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.transitionErr != nil {
		return s.transitionErr
	}
	req, ok := s.requests[params.ID]
	if !ok || req.Status != models.GatePassStatusPending || req.CurrentStage != params.FromStage {
		return sql.ErrNoRows
	}
	if params.RequireNoToken && req.TokenID != nil {
		return sql.ErrNoRows
	}
	req.Status = params.Status
	req.CurrentStage = params.ToStage
	if params.TokenID != nil {
		req.TokenID = params.TokenID
	}
	if req.StudentCourse == "" {
		req.StudentCourse = params.StudentCourse
	}
	if req.StudentRoomNumber == "" {
		req.StudentRoomNumber = params.StudentRoom
	}
	at := params.At
	req.LastActionAt = &at
	return nil
}

func (s *gatePassStoreStub) AppendDecision(ctx context.Context, exec sqlx.ExtContext, entry *models.DecisionEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.appendErr != nil {
		return s.appendErr
	}
	entry.ID = uuid.NewString()
	req := s.requests[entry.RequestID]
	req.History = append(req.History, *entry)
	return nil
}

type profileStub struct {
	users map[string]*models.User
}

func (p *profileStub) FindByID(ctx context.Context, id string) (*models.User, error) {
	if u, ok := p.users[id]; ok {
		return u, nil
	}
	return nil, sql.ErrNoRows
}

type tokenIssuerStub struct {
	issued  []string
	expires []time.Time
	err     error
}

func (t *tokenIssuerStub) Issue(ctx context.Context, exec sqlx.ExtContext, tokenID, requestID string, expiresAt time.Time) (*models.GatePassToken, error) {
	if t.err != nil {
		return nil, t.err
	}
	t.issued = append(t.issued, requestID)
	t.expires = append(t.expires, expiresAt)
	return &models.GatePassToken{ID: tokenID, RequestID: requestID, ExpiresAt: expiresAt}, nil
}

type gatePassFixture struct {
	svc    *GatePassService
	store  *gatePassStoreStub
	tokens *tokenIssuerStub
	mock   sqlmock.Sqlmock
	audit  *recordedAudit
	cache  *memoryCache
}

type memoryCache struct {
	mu      sync.Mutex
	entries map[string]interface{}
	deletes []string
}

func (m *memoryCache) Get(ctx context.Context, key string, dest interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	val, ok := m.entries[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	summary, ok := val.(*dto.GatePassSummary)
	if !ok {
		return appErrors.ErrCacheMiss
	}
	*(dest.(*dto.GatePassSummary)) = *summary
	return nil
}

func (m *memoryCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = value
	return nil
}

func (m *memoryCache) DeleteByPattern(ctx context.Context, pattern string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deletes = append(m.deletes, pattern)
	m.entries = map[string]interface{}{}
	return nil
}

func newGatePassFixture(t *testing.T) *gatePassFixture {
	t.Helper()
	store := newGatePassStoreStub()
	tokens := &tokenIssuerStub{}
	tx, mock := newSQLTxMock(t)
	audit := &recordedAudit{}
	mem := &memoryCache{entries: map[string]interface{}{}}
	profiles := &profileStub{users: map[string]*models.User{
		"student-1": {ID: "student-1", FullName: "Asha Rao", Email: "asha@campus.test", Course: "CSE", RoomNumber: "B-204"},
	}}
	now := time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC)
	svc := NewGatePassService(store, profiles, tokens, tx, nil, nil,
		GatePassConfig{Location: campusZone, SummaryCacheTTL: time.Minute},
		WithGatePassClock(func() time.Time { return now }),
		WithGatePassAudit(audit),
		WithGatePassCache(NewCacheService(mem, nil, time.Minute, nil, true)),
	)
	return &gatePassFixture{svc: svc, store: store, tokens: tokens, mock: mock, audit: audit, cache: mem}
}

var (
	studentActor  = workflow.Actor{ID: "student-1", Role: models.RoleStudent, Course: "CSE"}
	inchargeActor = workflow.Actor{ID: "ci-1", Role: models.RoleClassIncharge, Course: "cse"}
	hodActor      = workflow.Actor{ID: "hod-1", Role: models.RoleHOD}
	wardenActor   = workflow.Actor{ID: "warden-1", Role: models.RoleWarden}
	securityActor = workflow.Actor{ID: "guard-1", Role: models.RoleSecurity}
)

func validCreate(out, back string) dto.CreateGatePassRequest {
	return dto.CreateGatePassRequest{
		Reason:             "Visiting family",
		Destination:        "City",
		OutTime:            out,
		ExpectedReturnTime: back,
	}
}

func TestGatePassCreateRoutesByCampusTime(t *testing.T) {
	f := newGatePassFixture(t)
	ctx := context.Background()

	// Monday 10:00 campus time.
	day, err := f.svc.Create(ctx, validCreate("2026-10-19T10:00:00+05:30", "2026-10-19T18:00:00+05:30"), studentActor)
	require.NoError(t, err)
	assert.Equal(t, models.StageClassIncharge, day.CurrentStage)
	assert.Equal(t, models.GatePassStatusPending, day.Status)
	assert.Equal(t, "CSE", day.StudentCourse)
	assert.Equal(t, "B-204", day.StudentRoomNumber)
	assert.Empty(t, day.History)

	// 04:30 UTC on Monday is 10:00 in campus time.
	utc, err := f.svc.Create(ctx, validCreate("2026-10-19T04:30:00Z", "2026-10-19T12:00:00Z"), studentActor)
	require.NoError(t, err)
	assert.Equal(t, models.StageClassIncharge, utc.CurrentStage)

	night, err := f.svc.Create(ctx, validCreate("2026-10-19T20:00:00+05:30", "2026-10-19T23:00:00+05:30"), studentActor)
	require.NoError(t, err)
	assert.Equal(t, models.StageWarden, night.CurrentStage)

	weekend, err := f.svc.Create(ctx, validCreate("2026-10-24T10:00:00+05:30", "2026-10-24T18:00:00+05:30"), studentActor)
	require.NoError(t, err)
	assert.Equal(t, models.StageWarden, weekend.CurrentStage)

	assert.Equal(t, []string{models.AuditActionGatePassCreate, models.AuditActionGatePassCreate, models.AuditActionGatePassCreate, models.AuditActionGatePassCreate}, f.audit.actions())
}

func TestGatePassCreateValidation(t *testing.T) {
	f := newGatePassFixture(t)
	ctx := context.Background()

	_, err := f.svc.Create(ctx, validCreate("2026-10-19T10:00:00+05:30", "2026-10-19T18:00:00+05:30"), hodActor)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)

	cases := map[string]dto.CreateGatePassRequest{
		"missing destination": {Reason: "Visiting family", OutTime: "2026-10-19T10:00:00Z", ExpectedReturnTime: "2026-10-19T12:00:00Z"},
		"short reason":        {Reason: "  hi  ", Destination: "City", OutTime: "2026-10-19T10:00:00Z", ExpectedReturnTime: "2026-10-19T12:00:00Z"},
		"bad time":            {Reason: "Visiting family", Destination: "City", OutTime: "tomorrow", ExpectedReturnTime: "2026-10-19T12:00:00Z"},
		"return before out":   {Reason: "Visiting family", Destination: "City", OutTime: "2026-10-19T12:00:00Z", ExpectedReturnTime: "2026-10-19T10:00:00Z"},
		"return equals out":   {Reason: "Visiting family", Destination: "City", OutTime: "2026-10-19T12:00:00Z", ExpectedReturnTime: "2026-10-19T12:00:00Z"},
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.svc.Create(ctx, payload, studentActor)
			require.Error(t, err)
			assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
		})
	}
	assert.Empty(t, f.store.requests)
}

func TestGatePassFullAcademicChain(t *testing.T) {
	f := newGatePassFixture(t)
	ctx := context.Background()
	f.store.students["student-1"] = &models.StudentSummary{ID: "student-1", Course: "CSE", RoomNumber: "B-204"}
	req := f.store.seed(models.GatePassRequest{StudentID: "student-1", CurrentStage: models.StageClassIncharge})

	actors := []workflow.Actor{
		inchargeActor,
		hodActor,
		{ID: "dean-1", Role: models.RoleDean},
	}
	for i := 0; i < len(actors)+1; i++ {
		f.mock.ExpectBegin()
		f.mock.ExpectCommit()
	}

	expected := []models.Stage{models.StageHOD, models.StageDean, models.StageVC}
	for i, actor := range actors {
		updated, err := f.svc.Forward(ctx, req.ID, actor, "ok")
		require.NoError(t, err)
		assert.Equal(t, expected[i], updated.CurrentStage)
		assert.Equal(t, models.GatePassStatusPending, updated.Status)
		require.Len(t, updated.History, i+1)
		last := updated.History[i]
		assert.Equal(t, models.DecisionForward, last.Action)
		require.NotNil(t, last.ForwardedTo)
		assert.Equal(t, expected[i], *last.ForwardedTo)
	}

	_, err := f.svc.Forward(ctx, req.ID, workflow.Actor{ID: "vc-1", Role: models.RoleVC}, "")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)

	approved, err := f.svc.Approve(ctx, req.ID, workflow.Actor{ID: "vc-1", Role: models.RoleVC}, "enjoy")
	require.NoError(t, err)
	assert.Equal(t, models.GatePassStatusApproved, approved.Status)
	assert.Equal(t, models.StageCompleted, approved.CurrentStage)
	require.NotNil(t, approved.TokenID)
	require.Len(t, approved.History, 4)
	assert.Equal(t, models.StageVC, approved.History[3].Stage)
	assert.Equal(t, models.DecisionApprove, approved.History[3].Action)
	assert.Equal(t, []string{req.ID}, f.tokens.issued)
	assert.Equal(t, []time.Time{req.ExpectedReturnTime}, f.tokens.expires)
	assert.Equal(t, "CSE", approved.StudentCourse)

	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestGatePassApprovalThroughGateScans(t *testing.T) {
	store := newGatePassStoreStub()
	tx, mock := newSQLTxMock(t)
	profiles := &profileStub{users: map[string]*models.User{
		"student-1": {ID: "student-1", FullName: "Asha Rao", Course: "CSE", RoomNumber: "B-204"},
	}}
	tokenStore := newTokenStoreStub()
	now := time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	metrics := NewMetricsService()
	tokens := NewTokenService(tokenStore, store, tx, metrics, nil, nil, TokenConfig{}, WithTokenClock(clock))
	svc := NewGatePassService(store, profiles, tokens, tx, nil, nil,
		GatePassConfig{Location: campusZone},
		WithGatePassClock(clock),
		WithGatePassMetrics(metrics),
	)
	ctx := context.Background()

	created, err := svc.Create(ctx, validCreate("2026-10-19T10:00:00+05:30", "2026-10-19T14:00:00+05:30"), studentActor)
	require.NoError(t, err)
	assert.Equal(t, models.StageClassIncharge, created.CurrentStage)

	for i := 0; i < 4; i++ {
		mock.ExpectBegin()
		mock.ExpectCommit()
	}

	forwarded, err := svc.Forward(ctx, created.ID, inchargeActor, "")
	require.NoError(t, err)
	assert.Equal(t, models.StageHOD, forwarded.CurrentStage)
	require.Len(t, forwarded.History, 1)

	approved, err := svc.Approve(ctx, created.ID, hodActor, "")
	require.NoError(t, err)
	assert.Equal(t, models.GatePassStatusApproved, approved.Status)
	assert.Equal(t, models.StageCompleted, approved.CurrentStage)
	require.NotNil(t, approved.TokenID)

	value, ok := tokenStore.byReq[created.ID]
	require.True(t, ok)
	issued := tokenStore.byValue[value]
	assert.Equal(t, *approved.TokenID, issued.ID)
	assert.True(t, issued.ExpiresAt.Equal(time.Date(2026, 10, 19, 14, 0, 0, 0, campusZone)))
	assert.Equal(t, models.DefaultTokenUses, issued.UsesAllowed)

	exit, err := tokens.Scan(ctx, value, securityActor)
	require.NoError(t, err)
	assert.Equal(t, models.UsageTypeExit, exit.Type)
	assert.Equal(t, 1, exit.RemainingUses)

	entry, err := tokens.Scan(ctx, value, securityActor)
	require.NoError(t, err)
	assert.Equal(t, models.UsageTypeEntry, entry.Type)
	assert.Equal(t, 0, entry.RemainingUses)
	assert.Equal(t, models.TokenStatusUsed, entry.Token.Status)

	_, err = tokens.Scan(ctx, value, securityActor)
	assert.Equal(t, appErrors.ErrTokenInactive.Code, appErrors.FromError(err).Code)

	_, err = svc.Approve(ctx, created.ID, hodActor, "")
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGatePassDecisionsOnFinishedRequest(t *testing.T) {
	f := newGatePassFixture(t)
	ctx := context.Background()
	req := f.store.seed(models.GatePassRequest{StudentID: "student-1", CurrentStage: models.StageWarden})

	f.mock.ExpectBegin()
	f.mock.ExpectCommit()
	_, err := f.svc.Approve(ctx, req.ID, wardenActor, "")
	require.NoError(t, err)

	for _, action := range []string{"approve", "reject", "forward"} {
		_, err := f.svc.Decide(ctx, req.ID, dto.DecisionRequest{Action: action}, wardenActor)
		require.Error(t, err)
		assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code, action)
	}
	assert.Len(t, f.tokens.issued, 1)
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestGatePassWardenCannotForward(t *testing.T) {
	f := newGatePassFixture(t)
	req := f.store.seed(models.GatePassRequest{StudentID: "student-1", CurrentStage: models.StageWarden})

	_, err := f.svc.Decide(context.Background(), req.ID, dto.DecisionRequest{Action: "FORWARD"}, wardenActor)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
	assert.Empty(t, f.store.requests[req.ID].History)
}

func TestGatePassRejectDoesNotIssueToken(t *testing.T) {
	f := newGatePassFixture(t)
	req := f.store.seed(models.GatePassRequest{StudentID: "student-1", CurrentStage: models.StageHOD})

	f.mock.ExpectBegin()
	f.mock.ExpectCommit()
	updated, err := f.svc.Decide(context.Background(), req.ID, dto.DecisionRequest{Action: "Reject", Remarks: " no "}, hodActor)
	require.NoError(t, err)
	assert.Equal(t, models.GatePassStatusRejected, updated.Status)
	assert.Equal(t, models.StageCompleted, updated.CurrentStage)
	assert.Nil(t, updated.TokenID)
	require.Len(t, updated.History, 1)
	require.NotNil(t, updated.History[0].Remarks)
	assert.Equal(t, "no", *updated.History[0].Remarks)
	assert.Empty(t, f.tokens.issued)
	assert.Contains(t, f.audit.actions(), models.AuditActionGatePassReject)
}

func TestGatePassUnsupportedAction(t *testing.T) {
	f := newGatePassFixture(t)
	req := f.store.seed(models.GatePassRequest{StudentID: "student-1", CurrentStage: models.StageHOD})

	_, err := f.svc.Decide(context.Background(), req.ID, dto.DecisionRequest{Action: "escalate"}, hodActor)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestGatePassStageAuthorization(t *testing.T) {
	f := newGatePassFixture(t)
	ctx := context.Background()
	f.store.students["student-1"] = &models.StudentSummary{ID: "student-1", Course: "CSE"}
	req := f.store.seed(models.GatePassRequest{StudentID: "student-1", CurrentStage: models.StageClassIncharge, StudentCourse: "CSE"})

	_, err := f.svc.Forward(ctx, req.ID, hodActor, "")
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)

	_, err = f.svc.Forward(ctx, req.ID, workflow.Actor{ID: "ci-2", Role: models.RoleClassIncharge, Course: "ECE"}, "")
	assert.Equal(t, appErrors.ErrCourseMismatch.Code, appErrors.FromError(err).Code)

	_, err = f.svc.Forward(ctx, req.ID, workflow.Actor{ID: "ci-3", Role: models.RoleClassIncharge}, "")
	assert.Equal(t, appErrors.ErrCourseRequired.Code, appErrors.FromError(err).Code)

	// teacher is an alias of class incharge.
	f.mock.ExpectBegin()
	f.mock.ExpectCommit()
	updated, err := f.svc.Forward(ctx, req.ID, workflow.Actor{ID: "t-1", Role: models.RoleTeacher, Course: " cse "}, "")
	require.NoError(t, err)
	assert.Equal(t, models.StageHOD, updated.CurrentStage)
}

func TestGatePassLostRaceRollsBack(t *testing.T) {
	f := newGatePassFixture(t)
	req := f.store.seed(models.GatePassRequest{StudentID: "student-1", CurrentStage: models.StageWarden})
	f.store.transitionErr = sql.ErrNoRows

	f.mock.ExpectBegin()
	f.mock.ExpectRollback()
	_, err := f.svc.Approve(context.Background(), req.ID, wardenActor, "")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
	assert.Empty(t, f.tokens.issued)
	assert.Empty(t, f.audit.actions())
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestGatePassTokenFailureRollsBack(t *testing.T) {
	f := newGatePassFixture(t)
	req := f.store.seed(models.GatePassRequest{StudentID: "student-1", CurrentStage: models.StageWarden})
	f.tokens.err = appErrors.Clone(appErrors.ErrConflict, "a gate pass token was already issued for this request")

	f.mock.ExpectBegin()
	f.mock.ExpectRollback()
	_, err := f.svc.Approve(context.Background(), req.ID, wardenActor, "")
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestGatePassDecisionAppendFailureRollsBack(t *testing.T) {
	f := newGatePassFixture(t)
	req := f.store.seed(models.GatePassRequest{StudentID: "student-1", CurrentStage: models.StageHOD})
	f.store.appendErr = errors.New("disk full")

	f.mock.ExpectBegin()
	f.mock.ExpectRollback()
	_, err := f.svc.Forward(context.Background(), req.ID, hodActor, "")
	assert.Equal(t, appErrors.ErrInternal.Code, appErrors.FromError(err).Code)
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestGatePassStaleApprovalsIssueOneToken(t *testing.T) {
	f := newGatePassFixture(t)
	req := f.store.seed(models.GatePassRequest{StudentID: "student-1", CurrentStage: models.StageWarden})

	// Every caller passed the pending check against the same snapshot.
	loaded, err := f.svc.load(context.Background(), req.ID)
	require.NoError(t, err)

	f.mock.ExpectBegin()
	f.mock.ExpectCommit()
	for i := 0; i < 3; i++ {
		f.mock.ExpectBegin()
		f.mock.ExpectRollback()
	}

	var ok, conflicts int
	for i := 0; i < 4; i++ {
		tokenID := uuid.NewString()
		params := repository.TransitionParams{
			ID:             req.ID,
			FromStage:      models.StageWarden,
			ToStage:        models.StageCompleted,
			Status:         models.GatePassStatusApproved,
			TokenID:        &tokenID,
			RequireNoToken: true,
			At:             time.Now(),
		}
		entry := &models.DecisionEntry{RequestID: req.ID, Stage: models.StageWarden, Action: models.DecisionApprove, ActorID: "warden-1"}
		err := f.svc.commitTransition(context.Background(), loaded, params, entry)
		if err == nil {
			ok++
			continue
		}
		if appErrors.FromError(err).Code == appErrors.ErrConflict.Code {
			conflicts++
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 3, conflicts)
	assert.Len(t, f.tokens.issued, 1)
	assert.Len(t, f.store.requests[req.ID].History, 1)
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestGatePassListScoping(t *testing.T) {
	f := newGatePassFixture(t)
	ctx := context.Background()

	_, _, err := f.svc.List(ctx, dto.GatePassQuery{StudentID: "student-2"}, studentActor)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)

	_, _, err = f.svc.List(ctx, dto.GatePassQuery{}, studentActor)
	require.NoError(t, err)
	assert.Equal(t, "student-1", f.store.lastFilter.StudentID)

	_, _, err = f.svc.List(ctx, dto.GatePassQuery{Stage: "warden"}, hodActor)
	require.NoError(t, err)
	assert.Equal(t, models.StageHOD, f.store.lastFilter.Stage)

	_, _, err = f.svc.List(ctx, dto.GatePassQuery{}, inchargeActor)
	require.NoError(t, err)
	assert.Equal(t, models.StageClassIncharge, f.store.lastFilter.Stage)
	assert.Equal(t, "CSE", f.store.lastFilter.Course)

	_, _, err = f.svc.List(ctx, dto.GatePassQuery{}, workflow.Actor{ID: "ci-9", Role: models.RoleClassIncharge})
	assert.Equal(t, appErrors.ErrCourseRequired.Code, appErrors.FromError(err).Code)

	_, _, err = f.svc.List(ctx, dto.GatePassQuery{}, wardenActor)
	require.NoError(t, err)
	assert.Equal(t, models.StageWarden, f.store.lastFilter.Stage)

	_, _, err = f.svc.List(ctx, dto.GatePassQuery{Stage: "hod"}, wardenActor)
	require.NoError(t, err)
	assert.Equal(t, models.StageHOD, f.store.lastFilter.Stage)

	_, _, err = f.svc.List(ctx, dto.GatePassQuery{ActedByMe: true}, hodActor)
	require.NoError(t, err)
	assert.Equal(t, "hod-1", f.store.lastFilter.ActedBy)
	assert.Empty(t, f.store.lastFilter.Stage)

	_, page, err := f.svc.List(ctx, dto.GatePassQuery{Status: "APPROVED", PageSize: 500}, securityActor)
	require.NoError(t, err)
	assert.Equal(t, models.GatePassStatusApproved, f.store.lastFilter.Status)
	assert.Empty(t, f.store.lastFilter.Stage)
	assert.Equal(t, 20, page.PageSize)

	_, _, err = f.svc.List(ctx, dto.GatePassQuery{Status: "lost"}, securityActor)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)

	_, _, err = f.svc.List(ctx, dto.GatePassQuery{Stage: "registrar"}, securityActor)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestGatePassGetVisibility(t *testing.T) {
	f := newGatePassFixture(t)
	ctx := context.Background()
	req := f.store.seed(models.GatePassRequest{StudentID: "student-1", CurrentStage: models.StageHOD, StudentCourse: "CSE"})

	got, err := f.svc.Get(ctx, req.ID, studentActor)
	require.NoError(t, err)
	assert.Equal(t, req.ID, got.ID)

	_, err = f.svc.Get(ctx, req.ID, workflow.Actor{ID: "student-2", Role: models.RoleStudent})
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)

	_, err = f.svc.Get(ctx, req.ID, hodActor)
	require.NoError(t, err)

	_, err = f.svc.Get(ctx, req.ID, workflow.Actor{ID: "dean-1", Role: models.RoleDean})
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)

	// Past actors keep read access after the request moves on.
	f.store.requests[req.ID].History = []models.DecisionEntry{{ActorID: "ci-1", Action: models.DecisionForward}}
	_, err = f.svc.Get(ctx, req.ID, inchargeActor)
	require.NoError(t, err)

	_, err = f.svc.Get(ctx, req.ID, securityActor)
	require.NoError(t, err)

	_, err = f.svc.Get(ctx, uuid.NewString(), securityActor)
	assert.Equal(t, appErrors.ErrRequestNotFound.Code, appErrors.FromError(err).Code)

	_, err = f.svc.Get(ctx, "not-a-uuid", securityActor)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestGatePassSummaryCachedAndInvalidated(t *testing.T) {
	f := newGatePassFixture(t)
	ctx := context.Background()
	f.store.counts = []models.GatePassStatusCount{{Status: models.GatePassStatusPending, Total: 3}, {Status: models.GatePassStatusApproved, Total: 2}}

	summary, err := f.svc.Summary(ctx, hodActor)
	require.NoError(t, err)
	assert.Equal(t, "stage:hod", summary.Scope)
	assert.Equal(t, 5, summary.Total)
	assert.Equal(t, 0, summary.Counts[models.GatePassStatusRejected])
	assert.Equal(t, 3, summary.Counts[models.GatePassStatusPending])

	_, err = f.svc.Summary(ctx, hodActor)
	require.NoError(t, err)
	assert.Equal(t, 1, f.store.countCalls)

	_, err = f.svc.Create(ctx, validCreate("2026-10-19T10:00:00+05:30", "2026-10-19T18:00:00+05:30"), studentActor)
	require.NoError(t, err)
	assert.Contains(t, f.cache.deletes, summaryCachePrefix+"*")

	_, err = f.svc.Summary(ctx, hodActor)
	require.NoError(t, err)
	assert.Equal(t, 2, f.store.countCalls)
}
