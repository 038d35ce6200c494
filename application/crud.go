package application

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"admitflow/document"
)

// CRUDService covers application creation and read access. Stage mutations
// live in TransitionService; step writes in StepService.
type CRUDService struct {
	pool        *pgxpool.Pool
	timeline    TimelineWriter
	outbox      OutboxWriter
	idGenerator func() string
}

func NewCRUDService(pool *pgxpool.Pool, timeline TimelineWriter, outbox OutboxWriter) *CRUDService {
	return &CRUDService{
		pool:        pool,
		timeline:    timeline,
		outbox:      outbox,
		idGenerator: func() string { return uuid.NewString() },
	}
}

// WithIDGenerator overrides id generation, for deterministic tests.
func (s *CRUDService) WithIDGenerator(gen func() string) *CRUDService {
	s.idGenerator = gen
	return s
}

type CreateParams struct {
	AgentUserID  string
	StudentName  string
	StudentEmail string
	CourseCode   string
	// MandatoryDocumentTypes defaults to the standard set when empty.
	MandatoryDocumentTypes []string
}

type ListFilters struct {
	AgentUserID string
	Stage       Stage
	Page        int
	PageSize    int
}

const applicationColumns = `id, agent_user_id, student_name, student_email, course_code, stage, mandatory_document_types, decision_at, created_at, updated_at`

// Create opens a new application in DRAFT with an empty completed-step set.
func (s *CRUDService) Create(ctx context.Context, params CreateParams) (Application, error) {
	if params.AgentUserID == "" {
		return Application{}, fmt.Errorf("application: agent user id required")
	}
	if strings.TrimSpace(params.StudentName) == "" || strings.TrimSpace(params.StudentEmail) == "" {
		return Application{}, fmt.Errorf("application: student name and email required")
	}
	if strings.TrimSpace(params.CourseCode) == "" {
		return Application{}, fmt.Errorf("application: course code required")
	}

	mandatory := params.MandatoryDocumentTypes
	if len(mandatory) == 0 {
		for _, t := range document.DefaultMandatoryTypes() {
			mandatory = append(mandatory, string(t))
		}
	} else {
		for _, t := range mandatory {
			if !document.IsValidType(t) {
				return Application{}, fmt.Errorf("application: unknown document type %q", t)
			}
		}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Application{}, fmt.Errorf("application: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	const insertSQL = `
INSERT INTO applications (id, agent_user_id, student_name, student_email, course_code, stage, mandatory_document_types)
VALUES ($1, $2, $3, $4, $5, 'draft', $6)
RETURNING ` + applicationColumns

	app, err := scanApplication(tx.QueryRow(ctx, insertSQL,
		s.idGenerator(),
		params.AgentUserID,
		params.StudentName,
		params.StudentEmail,
		params.CourseCode,
		mandatory,
	))
	if err != nil {
		return Application{}, fmt.Errorf("application: insert: %w", err)
	}

	if s.timeline != nil {
		actor := params.AgentUserID
		payload := map[string]any{
			"course_code":   app.CourseCode,
			"student_email": app.StudentEmail,
		}
		if err := s.timeline.Append(ctx, tx, app.ID, "APPLICATION_CREATED", &actor, payload); err != nil {
			return Application{}, fmt.Errorf("application: append timeline: %w", err)
		}
	}
	if s.outbox != nil {
		payload := map[string]any{
			"application_id": app.ID,
			"agent_user_id":  app.AgentUserID,
		}
		if err := s.outbox.Enqueue(ctx, tx, "application.created", payload); err != nil {
			return Application{}, fmt.Errorf("application: enqueue outbox: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Application{}, fmt.Errorf("application: commit: %w", err)
	}

	return app, nil
}

// Get loads one application with its completed-step set.
func (s *CRUDService) Get(ctx context.Context, applicationID string) (Application, error) {
	const selectSQL = `SELECT ` + applicationColumns + ` FROM applications WHERE id = $1`

	app, err := scanApplication(s.pool.QueryRow(ctx, selectSQL, applicationID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Application{}, ErrNotFound
		}
		return Application{}, fmt.Errorf("application: get: %w", err)
	}

	const stepsSQL = `SELECT step_id, acknowledged FROM application_steps WHERE application_id = $1`
	rows, err := s.pool.Query(ctx, stepsSQL, applicationID)
	if err != nil {
		return Application{}, fmt.Errorf("application: load steps: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			step StepID
			ack  bool
		)
		if err := rows.Scan(&step, &ack); err != nil {
			return Application{}, fmt.Errorf("application: scan step: %w", err)
		}
		if def, ok := StepByID(step); ok && def.AcknowledgmentOnly && !ack {
			continue
		}
		app.CompletedSteps = append(app.CompletedSteps, step)
	}
	if err := rows.Err(); err != nil {
		return Application{}, fmt.Errorf("application: iterate steps: %w", err)
	}

	return app, nil
}

// StepPayload returns the stored payload for one step, or ErrNotFound when
// the step has never been saved.
func (s *CRUDService) StepPayload(ctx context.Context, applicationID string, step StepID) ([]byte, error) {
	const query = `SELECT payload FROM application_steps WHERE application_id = $1 AND step_id = $2`

	var payload []byte
	if err := s.pool.QueryRow(ctx, query, applicationID, step).Scan(&payload); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("application: step payload: %w", err)
	}
	return payload, nil
}

// List returns applications matching the filters, newest first.
func (s *CRUDService) List(ctx context.Context, filters ListFilters) ([]Application, int, error) {
	if filters.Page <= 0 {
		filters.Page = 1
	}
	if filters.PageSize <= 0 || filters.PageSize > 100 {
		filters.PageSize = 20
	}

	where := make([]string, 0, 2)
	args := make([]any, 0, 4)
	if filters.AgentUserID != "" {
		args = append(args, filters.AgentUserID)
		where = append(where, fmt.Sprintf("agent_user_id = $%d", len(args)))
	}
	if filters.Stage != "" {
		args = append(args, filters.Stage)
		where = append(where, fmt.Sprintf("stage = $%d::application_stage", len(args)))
	}

	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	countArgs := make([]any, len(args))
	copy(countArgs, args)

	args = append(args, filters.PageSize, (filters.Page-1)*filters.PageSize)
	query := `SELECT ` + applicationColumns + ` FROM applications` + clause +
		fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("application: list: %w", err)
	}
	defer rows.Close()

	apps := []Application{}
	for rows.Next() {
		app, err := scanApplication(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("application: scan row: %w", err)
		}
		apps = append(apps, app)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("application: iterate rows: %w", err)
	}

	var total int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM applications`+clause, countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("application: count: %w", err)
	}

	return apps, total, nil
}

// History returns the ordered stage transition record for an application.
func (s *CRUDService) History(ctx context.Context, applicationID string) ([]StageHistoryEntry, error) {
	const query = `
SELECT id, application_id, from_stage, to_stage, actor_id::text, note, created_at
FROM stage_history
WHERE application_id = $1
ORDER BY created_at ASC, id ASC
`

	rows, err := s.pool.Query(ctx, query, applicationID)
	if err != nil {
		return nil, fmt.Errorf("application: history: %w", err)
	}
	defer rows.Close()

	entries := make([]StageHistoryEntry, 0, 8)
	for rows.Next() {
		var entry StageHistoryEntry
		if err := rows.Scan(&entry.ID, &entry.ApplicationID, &entry.FromStage, &entry.ToStage, &entry.ActorID, &entry.Note, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("application: scan history: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("application: iterate history: %w", err)
	}
	return entries, nil
}

func scanApplication(row pgx.Row) (Application, error) {
	var (
		app      Application
		rawTypes []string
	)
	err := row.Scan(
		&app.ID,
		&app.AgentUserID,
		&app.StudentName,
		&app.StudentEmail,
		&app.CourseCode,
		&app.Stage,
		&rawTypes,
		&app.DecisionAt,
		&app.CreatedAt,
		&app.UpdatedAt,
	)
	if err != nil {
		return Application{}, err
	}
	for _, t := range rawTypes {
		app.MandatoryDocumentTypes = append(app.MandatoryDocumentTypes, document.Type(t))
	}
	return app, nil
}
