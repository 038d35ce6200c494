package document

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrNotFound is returned when no document row exists for the identifier.
	ErrNotFound = errors.New("document: not found")
	// ErrDuplicateIdempotencyKey signals the key was already reserved; the
	// upload callback is a replay.
	ErrDuplicateIdempotencyKey = errors.New("document: duplicate idempotency key")
)

// Repository defines the data access needed by the service and by the
// submission gate in the application package.
type Repository interface {
	Insert(ctx context.Context, tx pgx.Tx, rec Record) (Record, error)
	InsertIdempotencyKey(ctx context.Context, tx pgx.Tx, key string) error
	GetForUpdate(ctx context.Context, tx pgx.Tx, documentID string) (Record, error)
	UpdateReview(ctx context.Context, tx pgx.Tx, documentID string, status VerificationStatus, reviewerID string, note *string) (Record, error)
	ListLatest(ctx context.Context, applicationID string) ([]Record, error)
	VerificationStatuses(ctx context.Context, tx pgx.Tx, applicationID string) (map[Type]VerificationStatus, error)
}

// PGRepository implements Repository backed by PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const recordColumns = `id, application_id, doc_type, version, file_name, status, review_note, reviewed_by, uploaded_by, created_at, updated_at`

// Insert stores a new document version. The version is computed inside the
// caller's transaction so concurrent uploads of the same type serialize on the
// unique (application_id, doc_type, version) constraint.
func (r *PGRepository) Insert(ctx context.Context, tx pgx.Tx, rec Record) (Record, error) {
	const insertSQL = `
INSERT INTO documents (id, application_id, doc_type, version, file_name, status, uploaded_by)
VALUES ($1, $2, $3,
        COALESCE((SELECT MAX(version) FROM documents WHERE application_id=$2 AND doc_type=$3), 0) + 1,
        $4, 'pending_review', $5)
RETURNING ` + recordColumns

	row := tx.QueryRow(ctx, insertSQL, rec.ID, rec.ApplicationID, rec.Type, rec.FileName, rec.UploadedBy)
	inserted, err := scanRecord(row)
	if err != nil {
		return Record{}, fmt.Errorf("document: insert: %w", err)
	}
	return inserted, nil
}

// InsertIdempotencyKey reserves the key inside the active transaction. Storage
// callbacks are delivered at least once; the unique constraint makes replays
// visible before any version row is written.
func (r *PGRepository) InsertIdempotencyKey(ctx context.Context, tx pgx.Tx, key string) error {
	if key == "" {
		return fmt.Errorf("document: empty idempotency key")
	}

	_, err := tx.Exec(ctx, `INSERT INTO idempotency (key) VALUES ($1)`, key)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("document: insert idempotency key: %w", err)
	}

	return nil
}

// GetForUpdate locks the document row so a review decision cannot race another
// reviewer or a concurrent re-upload of the same type.
func (r *PGRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, documentID string) (Record, error) {
	const selectSQL = `SELECT ` + recordColumns + ` FROM documents WHERE id = $1 FOR UPDATE`

	rec, err := scanRecord(tx.QueryRow(ctx, selectSQL, documentID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("document: get for update: %w", err)
	}
	return rec, nil
}

func (r *PGRepository) UpdateReview(ctx context.Context, tx pgx.Tx, documentID string, status VerificationStatus, reviewerID string, note *string) (Record, error) {
	const updateSQL = `
UPDATE documents
SET status = $2, reviewed_by = $3, review_note = $4, updated_at = get_tx_timestamp()
WHERE id = $1
RETURNING ` + recordColumns

	rec, err := scanRecord(tx.QueryRow(ctx, updateSQL, documentID, status, reviewerID, note))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("document: update review: %w", err)
	}
	return rec, nil
}

// ListLatest returns the newest version of each uploaded type, in display
// order.
func (r *PGRepository) ListLatest(ctx context.Context, applicationID string) ([]Record, error) {
	const query = `
SELECT DISTINCT ON (doc_type) ` + recordColumns + `
FROM documents
WHERE application_id = $1
ORDER BY doc_type, version DESC
`

	rows, err := r.pool.Query(ctx, query, applicationID)
	if err != nil {
		return nil, fmt.Errorf("document: list latest: %w", err)
	}
	defer rows.Close()

	records := make([]Record, 0, 8)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("document: scan record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("document: iterate records: %w", err)
	}

	sortByDisplayOrder(records)
	return records, nil
}

// VerificationStatuses reports the latest status per uploaded type inside the
// caller's transaction. Types with no upload are absent from the map; the gate
// treats missing keys as not_uploaded.
func (r *PGRepository) VerificationStatuses(ctx context.Context, tx pgx.Tx, applicationID string) (map[Type]VerificationStatus, error) {
	const query = `
SELECT DISTINCT ON (doc_type) doc_type, status
FROM documents
WHERE application_id = $1
ORDER BY doc_type, version DESC
`

	rows, err := tx.Query(ctx, query, applicationID)
	if err != nil {
		return nil, fmt.Errorf("document: verification statuses: %w", err)
	}
	defer rows.Close()

	statuses := make(map[Type]VerificationStatus)
	for rows.Next() {
		var (
			t Type
			s VerificationStatus
		)
		if err := rows.Scan(&t, &s); err != nil {
			return nil, fmt.Errorf("document: scan status: %w", err)
		}
		statuses[t] = s
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("document: iterate statuses: %w", err)
	}
	return statuses, nil
}

func sortByDisplayOrder(records []Record) {
	for i := 1; i < len(records); i++ {
		for j := i; j > 0 && DisplayRank(records[j].Type) < DisplayRank(records[j-1].Type); j-- {
			records[j], records[j-1] = records[j-1], records[j]
		}
	}
}

func scanRecord(row pgx.Row) (Record, error) {
	var rec Record
	err := row.Scan(
		&rec.ID,
		&rec.ApplicationID,
		&rec.Type,
		&rec.Version,
		&rec.FileName,
		&rec.Status,
		&rec.ReviewNote,
		&rec.ReviewedBy,
		&rec.UploadedBy,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if err != nil {
		return Record{}, err
	}
	return rec, nil
}
