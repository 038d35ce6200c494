package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"admitflow/document"
)

// Snapshot is the aggregate state a guarded mutation needs, loaded under
// FOR UPDATE so concurrent writers serialize on the application row.
type Snapshot struct {
	ID                     string
	Stage                  Stage
	CompletedSteps         []StepID
	MandatoryDocumentTypes []document.Type
	DecisionAt             *time.Time
}

// HistoryParams enumerates one stage-history append.
type HistoryParams struct {
	ApplicationID string
	FromStage     Stage
	ToStage       Stage
	ActorID       *string
	Note          *string
}

// Repository defines the data access required by the workflow services.
type Repository interface {
	LockForUpdate(ctx context.Context, tx pgx.Tx, applicationID string) (Snapshot, error)
	UpdateStage(ctx context.Context, tx pgx.Tx, applicationID string, to Stage, stampDecision bool) error
	AppendHistory(ctx context.Context, tx pgx.Tx, params HistoryParams) (string, error)
	UpsertStep(ctx context.Context, tx pgx.Tx, applicationID string, step StepID, payload map[string]any, acknowledged bool) error
	InsertAssessment(ctx context.Context, tx pgx.Tx, params AssessmentParams) (string, error)
}

// PGRepository implements Repository backed by PostgreSQL.
type PGRepository struct{}

func NewRepository() *PGRepository {
	return &PGRepository{}
}

// LockForUpdate locks the application row and loads the completed-step set.
// A step row counts as completed when saved; the declaration step additionally
// requires its acknowledgment flag. NOWAIT rejects a concurrent writer with a
// retryable conflict instead of blocking on the row lock.
func (r *PGRepository) LockForUpdate(ctx context.Context, tx pgx.Tx, applicationID string) (Snapshot, error) {
	const selectSQL = `
SELECT id, stage, mandatory_document_types, decision_at
FROM applications
WHERE id = $1
FOR UPDATE NOWAIT
`

	var (
		snap     Snapshot
		rawTypes []string
	)
	if err := tx.QueryRow(ctx, selectSQL, applicationID).Scan(&snap.ID, &snap.Stage, &rawTypes, &snap.DecisionAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Snapshot{}, ErrNotFound
		}
		if isLockConflict(err) {
			return Snapshot{}, ErrTransitionConflict
		}
		return Snapshot{}, fmt.Errorf("application: lock row: %w", err)
	}
	for _, t := range rawTypes {
		snap.MandatoryDocumentTypes = append(snap.MandatoryDocumentTypes, document.Type(t))
	}

	steps, err := completedSteps(ctx, tx, applicationID)
	if err != nil {
		return Snapshot{}, err
	}
	snap.CompletedSteps = steps

	return snap, nil
}

func completedSteps(ctx context.Context, tx pgx.Tx, applicationID string) ([]StepID, error) {
	const query = `SELECT step_id, acknowledged FROM application_steps WHERE application_id = $1`

	rows, err := tx.Query(ctx, query, applicationID)
	if err != nil {
		return nil, fmt.Errorf("application: load steps: %w", err)
	}
	defer rows.Close()

	completed := make([]StepID, 0, 12)
	for rows.Next() {
		var (
			step StepID
			ack  bool
		)
		if err := rows.Scan(&step, &ack); err != nil {
			return nil, fmt.Errorf("application: scan step: %w", err)
		}
		if def, ok := StepByID(step); ok && def.AcknowledgmentOnly && !ack {
			continue
		}
		completed = append(completed, step)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("application: iterate steps: %w", err)
	}
	return completed, nil
}

// UpdateStage writes the new stage. decision_at is stamped at most once via
// COALESCE, keeping terminal entry idempotent at the storage layer.
func (r *PGRepository) UpdateStage(ctx context.Context, tx pgx.Tx, applicationID string, to Stage, stampDecision bool) error {
	const updateSQL = `
UPDATE applications
SET stage = $2::application_stage,
    decision_at = CASE WHEN $3 THEN COALESCE(decision_at, get_tx_timestamp()) ELSE decision_at END,
    updated_at = get_tx_timestamp()
WHERE id = $1
`
	tag, err := tx.Exec(ctx, updateSQL, applicationID, to, stampDecision)
	if err != nil {
		return fmt.Errorf("application: update stage: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PGRepository) AppendHistory(ctx context.Context, tx pgx.Tx, params HistoryParams) (string, error) {
	const insertSQL = `
INSERT INTO stage_history (application_id, from_stage, to_stage, actor_id, note)
VALUES ($1, $2::application_stage, $3::application_stage, $4::uuid, $5)
RETURNING id
`

	var actor any
	if params.ActorID != nil && *params.ActorID != "" {
		actor = *params.ActorID
	}

	var id string
	if err := tx.QueryRow(ctx, insertSQL, params.ApplicationID, params.FromStage, params.ToStage, actor, params.Note).Scan(&id); err != nil {
		return "", fmt.Errorf("application: append history: %w", err)
	}
	return id, nil
}

// UpsertStep stores or overwrites one step payload. Re-saving a completed step
// replaces the payload and leaves the completed set unchanged.
func (r *PGRepository) UpsertStep(ctx context.Context, tx pgx.Tx, applicationID string, step StepID, payload map[string]any, acknowledged bool) error {
	body, err := marshalPayload(payload)
	if err != nil {
		return err
	}

	const upsertSQL = `
INSERT INTO application_steps (application_id, step_id, payload, acknowledged)
VALUES ($1, $2, $3::jsonb, $4)
ON CONFLICT (application_id, step_id)
DO UPDATE SET payload = EXCLUDED.payload,
              acknowledged = EXCLUDED.acknowledged,
              updated_at = get_tx_timestamp()
`
	if _, err := tx.Exec(ctx, upsertSQL, applicationID, step, body, acknowledged); err != nil {
		return fmt.Errorf("application: upsert step: %w", err)
	}
	return nil
}

// AssessmentParams enumerates one Genuine Student scorecard row.
type AssessmentParams struct {
	ApplicationID string
	AssessorID    string
	Decision      AssessmentDecision
	Notes         string
}

func (r *PGRepository) InsertAssessment(ctx context.Context, tx pgx.Tx, params AssessmentParams) (string, error) {
	const insertSQL = `
INSERT INTO gs_assessments (application_id, assessor_id, decision, notes)
VALUES ($1, $2::uuid, $3, $4)
RETURNING id
`

	var id string
	if err := tx.QueryRow(ctx, insertSQL, params.ApplicationID, params.AssessorID, params.Decision, params.Notes).Scan(&id); err != nil {
		return "", fmt.Errorf("application: insert assessment: %w", err)
	}
	return id, nil
}

// isLockConflict maps serialization failures and lock timeouts to the
// retryable conflict error.
func isLockConflict(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "55P03":
			return true
		}
	}
	return false
}

func marshalPayload(payload map[string]any) ([]byte, error) {
	if payload == nil {
		payload = map[string]any{}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("application: marshal step payload: %w", err)
	}
	return body, nil
}
