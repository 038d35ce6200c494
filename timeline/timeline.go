package timeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Event is one immutable audit record for an application. Rows are append-only;
// a database trigger blocks deletes and updates.
type Event struct {
	ID            int64
	ApplicationID string
	Seq           int
	Type          string
	ActorID       *string
	Payload       []byte
	CreatedAt     time.Time
}

// Recorder appends timeline events inside the caller's transaction so audit
// rows commit or roll back together with the mutation they describe.
type Recorder struct{}

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Append(ctx context.Context, tx pgx.Tx, applicationID, eventType string, actorID *string, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("timeline: marshal payload: %w", err)
	}

	var actor any
	if actorID != nil && *actorID != "" {
		actor = *actorID
	}

	const insertSQL = `
INSERT INTO timeline_events (application_id, type, payload, actor_id)
VALUES ($1, $2, $3::jsonb, $4::uuid)
`
	if _, err := tx.Exec(ctx, insertSQL, applicationID, eventType, body, actor); err != nil {
		return fmt.Errorf("timeline: insert event: %w", err)
	}
	return nil
}

// Outbox enqueues transactional outbox messages for downstream delivery
// (notifications, email, webhooks). This core only produces the record.
type Outbox struct{}

func NewOutbox() *Outbox {
	return &Outbox{}
}

func (o *Outbox) Enqueue(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("timeline: marshal outbox payload: %w", err)
	}

	const insertSQL = `INSERT INTO outbox (topic, payload) VALUES ($1, $2::jsonb)`
	if _, err := tx.Exec(ctx, insertSQL, topic, body); err != nil {
		return fmt.Errorf("timeline: enqueue outbox: %w", err)
	}
	return nil
}

// Reader exposes the activity feed for one application.
type Reader struct {
	pool *pgxpool.Pool
}

func NewReader(pool *pgxpool.Pool) *Reader {
	return &Reader{pool: pool}
}

// List returns up to limit events for the application, oldest first.
func (r *Reader) List(ctx context.Context, applicationID string, limit int) ([]Event, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	const query = `
SELECT id, application_id, seq, type, actor_id::text, payload, created_at
FROM timeline_events
WHERE application_id = $1
ORDER BY seq ASC
LIMIT $2
`

	rows, err := r.pool.Query(ctx, query, applicationID, limit)
	if err != nil {
		return nil, fmt.Errorf("timeline: list events: %w", err)
	}
	defer rows.Close()

	events := make([]Event, 0, limit)
	for rows.Next() {
		var ev Event
		if err := rows.Scan(&ev.ID, &ev.ApplicationID, &ev.Seq, &ev.Type, &ev.ActorID, &ev.Payload, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("timeline: scan event: %w", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("timeline: iterate events: %w", err)
	}
	return events, nil
}
