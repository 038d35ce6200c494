package document

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

var (
	// ErrUnknownType signals an upload or review referencing a type outside the catalogue.
	ErrUnknownType = errors.New("document: unknown document type")
	// ErrNotReviewable signals a review decision on a document that is not pending review.
	ErrNotReviewable = errors.New("document: not pending review")
	// ErrReviewNoteRequired signals a rejection without an explanation for the applicant.
	ErrReviewNoteRequired = errors.New("document: rejection requires a review note")
	// ErrInvalidVerdict signals a verdict outside {verify, reject}.
	ErrInvalidVerdict = errors.New("document: invalid review verdict")
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// TimelineWriter appends audit events inside the caller's transaction.
type TimelineWriter interface {
	Append(ctx context.Context, tx pgx.Tx, applicationID, eventType string, actorID *string, payload map[string]any) error
}

// OutboxWriter enqueues downstream notifications inside the caller's transaction.
type OutboxWriter interface {
	Enqueue(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error
}

// Service owns the document upload and staff review lifecycle. It never
// mutates application stage; the application package only reads the statuses
// this service writes.
type Service struct {
	pool        TxBeginner
	repo        Repository
	timeline    TimelineWriter
	outbox      OutboxWriter
	idGenerator func() string
}

func NewService(pool TxBeginner, repo Repository, timeline TimelineWriter, outbox OutboxWriter) *Service {
	return &Service{
		pool:        pool,
		repo:        repo,
		timeline:    timeline,
		outbox:      outbox,
		idGenerator: func() string { return uuid.NewString() },
	}
}

// WithIDGenerator overrides id generation, for deterministic tests.
func (s *Service) WithIDGenerator(gen func() string) *Service {
	s.idGenerator = gen
	return s
}

// UploadParams registers one uploaded file version. Blob storage is handled
// upstream; this service records metadata and resets the type to pending review.
type UploadParams struct {
	ApplicationID string
	Type          string
	FileName      string
	UploadedBy    string
	// IdempotencyKey dedupes storage callbacks, which are delivered at least
	// once. Empty skips the check.
	IdempotencyKey string
}

func (s *Service) RegisterUpload(ctx context.Context, params UploadParams) (Record, error) {
	if params.ApplicationID == "" {
		return Record{}, fmt.Errorf("document: missing application id")
	}
	if !IsValidType(params.Type) {
		return Record{}, ErrUnknownType
	}
	if strings.TrimSpace(params.FileName) == "" {
		return Record{}, fmt.Errorf("document: missing file name")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Record{}, fmt.Errorf("document: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if params.IdempotencyKey != "" {
		if err := s.repo.InsertIdempotencyKey(ctx, tx, params.IdempotencyKey); err != nil {
			if errors.Is(err, ErrDuplicateIdempotencyKey) {
				return s.latestOfType(ctx, params.ApplicationID, Type(params.Type))
			}
			return Record{}, err
		}
	}

	rec, err := s.repo.Insert(ctx, tx, Record{
		ID:            s.idGenerator(),
		ApplicationID: params.ApplicationID,
		Type:          Type(params.Type),
		FileName:      params.FileName,
		UploadedBy:    params.UploadedBy,
	})
	if err != nil {
		return Record{}, err
	}

	actor := params.UploadedBy
	if s.timeline != nil {
		payload := map[string]any{
			"document_id": rec.ID,
			"doc_type":    rec.Type,
			"version":     rec.Version,
		}
		if err := s.timeline.Append(ctx, tx, rec.ApplicationID, "DOCUMENT_UPLOADED", &actor, payload); err != nil {
			return Record{}, fmt.Errorf("document: append timeline: %w", err)
		}
	}
	if s.outbox != nil {
		payload := map[string]any{
			"application_id": rec.ApplicationID,
			"document_id":    rec.ID,
			"doc_type":       rec.Type,
		}
		if err := s.outbox.Enqueue(ctx, tx, "document.uploaded", payload); err != nil {
			return Record{}, fmt.Errorf("document: enqueue outbox: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Record{}, fmt.Errorf("document: commit tx: %w", err)
	}

	return rec, nil
}

// ReviewVerdict is the staff decision on a pending document.
type ReviewVerdict string

const (
	VerdictVerify ReviewVerdict = "verify"
	VerdictReject ReviewVerdict = "reject"
)

type ReviewParams struct {
	DocumentID string
	ReviewerID string
	Verdict    ReviewVerdict
	Note       *string
}

// Review applies a staff verdict to the latest pending version of a document.
// Only pending_review documents are reviewable; a rejection must carry a note
// telling the applicant what to fix.
func (s *Service) Review(ctx context.Context, params ReviewParams) (Record, error) {
	if params.DocumentID == "" {
		return Record{}, fmt.Errorf("document: missing document id")
	}

	var status VerificationStatus
	switch params.Verdict {
	case VerdictVerify:
		status = StatusVerified
	case VerdictReject:
		if params.Note == nil || strings.TrimSpace(*params.Note) == "" {
			return Record{}, ErrReviewNoteRequired
		}
		status = StatusRejected
	default:
		return Record{}, ErrInvalidVerdict
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Record{}, fmt.Errorf("document: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	current, err := s.repo.GetForUpdate(ctx, tx, params.DocumentID)
	if err != nil {
		return Record{}, err
	}
	if current.Status != StatusPendingReview {
		return Record{}, ErrNotReviewable
	}

	updated, err := s.repo.UpdateReview(ctx, tx, params.DocumentID, status, params.ReviewerID, params.Note)
	if err != nil {
		return Record{}, err
	}

	actor := params.ReviewerID
	if s.timeline != nil {
		payload := map[string]any{
			"document_id": updated.ID,
			"doc_type":    updated.Type,
			"version":     updated.Version,
			"status":      updated.Status,
		}
		if updated.ReviewNote != nil {
			payload["note"] = *updated.ReviewNote
		}
		if err := s.timeline.Append(ctx, tx, updated.ApplicationID, "DOCUMENT_REVIEWED", &actor, payload); err != nil {
			return Record{}, fmt.Errorf("document: append timeline: %w", err)
		}
	}
	if s.outbox != nil {
		payload := map[string]any{
			"application_id": updated.ApplicationID,
			"document_id":    updated.ID,
			"doc_type":       updated.Type,
			"status":         updated.Status,
		}
		if err := s.outbox.Enqueue(ctx, tx, "document.reviewed", payload); err != nil {
			return Record{}, fmt.Errorf("document: enqueue outbox: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Record{}, fmt.Errorf("document: commit tx: %w", err)
	}

	return updated, nil
}

// ListByApplication returns the latest version of each uploaded type.
func (s *Service) ListByApplication(ctx context.Context, applicationID string) ([]Record, error) {
	return s.repo.ListLatest(ctx, applicationID)
}

// latestOfType resolves the record a replayed callback originally produced.
func (s *Service) latestOfType(ctx context.Context, applicationID string, t Type) (Record, error) {
	records, err := s.repo.ListLatest(ctx, applicationID)
	if err != nil {
		return Record{}, err
	}
	for _, rec := range records {
		if rec.Type == t {
			return rec, nil
		}
	}
	return Record{}, ErrNotFound
}
