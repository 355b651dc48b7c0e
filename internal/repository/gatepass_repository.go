package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/gatepass-api/internal/models"
)

const gatePassColumns = `r.id, r.student_id, r.reason, r.destination, r.out_time, r.expected_return_time, r.status,
       r.current_stage, r.gatepass_token_id, r.student_course, r.student_room_number, r.last_action_at,
       r.created_at, r.updated_at`

const decisionColumns = `d.id, d.request_id, d.stage, d.action, d.actor_id, COALESCE(u.full_name, '') AS actor_name,
       d.actor_role, d.remarks, d.forwarded_to, d.created_at`

// GatePassRepository persists gate pass requests and their decision history.
type GatePassRepository struct {
	db *sqlx.DB
}

// NewGatePassRepository constructs the repository.
func NewGatePassRepository(db *sqlx.DB) *GatePassRepository {
	return &GatePassRepository{db: db}
}

func (r *GatePassRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// Create inserts a new pending request.
func (r *GatePassRepository) Create(ctx context.Context, req *models.GatePassRequest) error {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.Status == "" {
		req.Status = models.GatePassStatusPending
	}
	now := time.Now().UTC()
	if req.CreatedAt.IsZero() {
		req.CreatedAt = now
	}
	req.UpdatedAt = req.CreatedAt
	const query = `INSERT INTO gatepass_requests
	(id, student_id, reason, destination, out_time, expected_return_time, status, current_stage,
	 student_course, student_room_number, created_at, updated_at)
	VALUES (:id, :student_id, :reason, :destination, :out_time, :expected_return_time, :status, :current_stage,
	 :student_course, :student_room_number, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, req); err != nil {
		return fmt.Errorf("create gatepass request: %w", err)
	}
	return nil
}

// GetByID fetches a request with its student summary, history and token.
func (r *GatePassRepository) GetByID(ctx context.Context, id string) (*models.GatePassRequest, error) {
	query := `SELECT ` + gatePassColumns + ` FROM gatepass_requests r WHERE r.id = $1`
	var req models.GatePassRequest
	if err := r.db.GetContext(ctx, &req, query, id); err != nil {
		return nil, err
	}
	items := []models.GatePassRequest{req}
	if err := r.populate(ctx, items); err != nil {
		return nil, err
	}
	return &items[0], nil
}

// StatusByID returns only the lifecycle status of a request.
func (r *GatePassRepository) StatusByID(ctx context.Context, id string) (models.GatePassStatus, error) {
	const query = `SELECT status FROM gatepass_requests WHERE id = $1`
	var status models.GatePassStatus
	if err := r.db.GetContext(ctx, &status, query, id); err != nil {
		return "", err
	}
	return status, nil
}

// List returns requests matching the filter, newest first, with total count.
func (r *GatePassRepository) List(ctx context.Context, filter models.GatePassFilter) ([]models.GatePassRequest, int, error) {
	where, args := buildGatePassConditions(filter, true)

	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	query := fmt.Sprintf(`SELECT %s FROM gatepass_requests r JOIN users u ON u.id = r.student_id%s
ORDER BY r.created_at DESC LIMIT %d OFFSET %d`, gatePassColumns, where, pageSize, offset)
	var items []models.GatePassRequest
	if err := r.db.SelectContext(ctx, &items, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list gatepass requests: %w", err)
	}

	countQuery := `SELECT COUNT(*) FROM gatepass_requests r JOIN users u ON u.id = r.student_id` + where
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count gatepass requests: %w", err)
	}

	if err := r.populate(ctx, items); err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// CountByStatus groups requests in the filter scope by status. The status
// field of the filter is ignored.
func (r *GatePassRepository) CountByStatus(ctx context.Context, filter models.GatePassFilter) ([]models.GatePassStatusCount, error) {
	where, args := buildGatePassConditions(filter, false)
	query := `SELECT r.status, COUNT(*) AS total FROM gatepass_requests r JOIN users u ON u.id = r.student_id` +
		where + ` GROUP BY r.status ORDER BY r.status`
	var counts []models.GatePassStatusCount
	if err := r.db.SelectContext(ctx, &counts, query, args...); err != nil {
		return nil, fmt.Errorf("count gatepass requests by status: %w", err)
	}
	return counts, nil
}

func buildGatePassConditions(filter models.GatePassFilter, withStatus bool) (string, []interface{}) {
	conditions := make([]string, 0, 5)
	args := make([]interface{}, 0, 5)
	if withStatus && filter.Status != "" {
		args = append(args, filter.Status)
		conditions = append(conditions, fmt.Sprintf("r.status = $%d", len(args)))
	}
	if filter.Stage != "" {
		args = append(args, filter.Stage)
		conditions = append(conditions, fmt.Sprintf("r.current_stage = $%d", len(args)))
	}
	if filter.StudentID != "" {
		args = append(args, filter.StudentID)
		conditions = append(conditions, fmt.Sprintf("r.student_id = $%d", len(args)))
	}
	if filter.ActedBy != "" {
		args = append(args, filter.ActedBy)
		conditions = append(conditions, fmt.Sprintf(
			"EXISTS (SELECT 1 FROM gatepass_decisions d WHERE d.request_id = r.id AND d.actor_id = $%d)", len(args)))
	}
	if filter.Course != "" {
		args = append(args, strings.ToUpper(strings.TrimSpace(filter.Course)))
		conditions = append(conditions, fmt.Sprintf(
			"UPPER(TRIM(COALESCE(NULLIF(r.student_course, ''), u.course))) = $%d", len(args)))
	}
	if len(conditions) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}

// TransitionParams describes a conditional move out of a pending stage.
type TransitionParams struct {
	ID             string
	FromStage      models.Stage
	ToStage        models.Stage
	Status         models.GatePassStatus
	TokenID        *string
	RequireNoToken bool
	StudentCourse  string
	StudentRoom    string
	At             time.Time
}

// Transition applies the move only while the request is still pending at
// FromStage. A lost race or stale read yields sql.ErrNoRows.
func (r *GatePassRepository) Transition(ctx context.Context, exec sqlx.ExtContext, params TransitionParams) error {
	query := `UPDATE gatepass_requests SET
	status = $1,
	current_stage = $2,
	gatepass_token_id = COALESCE($3, gatepass_token_id),
	student_course = CASE WHEN student_course = '' THEN $4 ELSE student_course END,
	student_room_number = CASE WHEN student_room_number = '' THEN $5 ELSE student_room_number END,
	last_action_at = $6,
	updated_at = $6
WHERE id = $7 AND status = $8 AND current_stage = $9`
	if params.RequireNoToken {
		query += ` AND gatepass_token_id IS NULL`
	}
	result, err := r.exec(exec).ExecContext(ctx, query,
		params.Status,
		params.ToStage,
		params.TokenID,
		params.StudentCourse,
		params.StudentRoom,
		params.At,
		params.ID,
		models.GatePassStatusPending,
		params.FromStage,
	)
	if err != nil {
		return fmt.Errorf("transition gatepass request: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check gatepass transition rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// AppendDecision inserts an immutable history entry.
func (r *GatePassRepository) AppendDecision(ctx context.Context, exec sqlx.ExtContext, entry *models.DecisionEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO gatepass_decisions
	(id, request_id, stage, action, actor_id, actor_role, remarks, forwarded_to, created_at)
	VALUES (:id, :request_id, :stage, :action, :actor_id, :actor_role, :remarks, :forwarded_to, :created_at)`
	if _, err := sqlx.NamedExecContext(ctx, r.exec(exec), query, entry); err != nil {
		return fmt.Errorf("append gatepass decision: %w", err)
	}
	return nil
}

// populate resolves student summaries, history and tokens for a page of
// requests using one query per relation.
func (r *GatePassRepository) populate(ctx context.Context, items []models.GatePassRequest) error {
	if len(items) == 0 {
		return nil
	}
	requestIDs := make([]string, 0, len(items))
	studentIDs := make([]string, 0, len(items))
	seenStudent := make(map[string]struct{}, len(items))
	for _, item := range items {
		requestIDs = append(requestIDs, item.ID)
		if _, ok := seenStudent[item.StudentID]; !ok {
			seenStudent[item.StudentID] = struct{}{}
			studentIDs = append(studentIDs, item.StudentID)
		}
	}

	var students []models.StudentSummary
	const studentQuery = `SELECT id, full_name, email, course, room_number FROM users WHERE id = ANY($1)`
	if err := r.db.SelectContext(ctx, &students, studentQuery, pq.Array(studentIDs)); err != nil {
		return fmt.Errorf("load gatepass students: %w", err)
	}
	studentByID := make(map[string]models.StudentSummary, len(students))
	for _, s := range students {
		studentByID[s.ID] = s
	}

	var history []models.DecisionEntry
	historyQuery := `SELECT ` + decisionColumns + ` FROM gatepass_decisions d LEFT JOIN users u ON u.id = d.actor_id
WHERE d.request_id = ANY($1) ORDER BY d.created_at ASC, d.id ASC`
	if err := r.db.SelectContext(ctx, &history, historyQuery, pq.Array(requestIDs)); err != nil {
		return fmt.Errorf("load gatepass history: %w", err)
	}
	historyByRequest := make(map[string][]models.DecisionEntry, len(items))
	for _, entry := range history {
		historyByRequest[entry.RequestID] = append(historyByRequest[entry.RequestID], entry)
	}

	var tokens []models.GatePassToken
	tokenQuery := `SELECT ` + tokenColumns + ` FROM gatepass_tokens WHERE request_id = ANY($1)`
	if err := r.db.SelectContext(ctx, &tokens, tokenQuery, pq.Array(requestIDs)); err != nil {
		return fmt.Errorf("load gatepass tokens: %w", err)
	}
	tokenByRequest := make(map[string]models.GatePassToken, len(tokens))
	for _, token := range tokens {
		tokenByRequest[token.RequestID] = token
	}

	for i := range items {
		if student, ok := studentByID[items[i].StudentID]; ok {
			s := student
			items[i].Student = &s
		}
		items[i].History = historyByRequest[items[i].ID]
		if items[i].History == nil {
			items[i].History = []models.DecisionEntry{}
		}
		if token, ok := tokenByRequest[items[i].ID]; ok {
			tk := token
			items[i].Token = &tk
		}
	}
	return nil
}
