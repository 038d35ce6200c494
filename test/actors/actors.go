package actors

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"admitflow/application"
	"admitflow/document"
)

// expected reports whether an error is a legitimate guard outcome rather than
// a harness failure. Actors race each other on purpose; guards firing is the
// system working. Connection-level failures are also expected because the
// chaos goroutine terminates backends mid-flight.
func expected(err error) bool {
	var (
		illegal    *application.IllegalTransitionError
		incomplete *application.IncompleteFormError
		unverified *application.UnverifiedDocumentsError
		uneditable *application.NotEditableError
	)
	switch {
	case errors.As(err, &illegal),
		errors.As(err, &incomplete),
		errors.As(err, &unverified),
		errors.As(err, &uneditable):
		return true
	case errors.Is(err, application.ErrTransitionConflict),
		errors.Is(err, application.ErrMissingReason),
		errors.Is(err, document.ErrNotReviewable),
		errors.Is(err, document.ErrNotFound):
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// Unique violations happen when two uploads compute the same next
		// version; one loses and retries on the next loop iteration.
		if pgErr.Code == "23505" {
			return true
		}
		// class 08: connection exception; class 57: operator intervention
		// (pg_terminate_backend); class 40: transaction rollback.
		switch pgErr.Code[:2] {
		case "08", "57", "40":
			return true
		}
	}
	msg := err.Error()
	return strings.Contains(msg, "conn closed") || strings.Contains(msg, "connection reset")
}

// StepSaver hammers the step ledger of one application with overlapping saves,
// including repeated saves of the same step.
func StepSaver(ctx context.Context, svc *application.StepService, applicationID, agentID string, stop <-chan struct{}) error {
	defs := application.Steps()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		def := defs[rand.Intn(len(defs))]
		_, err := svc.SaveStep(ctx, application.SaveStepParams{
			ApplicationID: applicationID,
			Step:          string(def.ID),
			Payload:       map[string]any{"filled": true, "nonce": rand.Int63()},
			Acknowledged:  def.AcknowledgmentOnly,
			ActorID:       agentID,
		})
		if err != nil && !expected(err) && ctx.Err() == nil {
			return fmt.Errorf("step saver: %w", err)
		}
		time.Sleep(time.Duration(10+rand.Intn(20)) * time.Millisecond)
	}
}

// Uploader registers document versions, replaying a fixed idempotency key some
// of the time to exercise callback dedup.
func Uploader(ctx context.Context, svc *document.Service, applicationID, agentID string, stop <-chan struct{}) error {
	types := document.DefaultMandatoryTypes()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		docType := types[rand.Intn(len(types))]
		key := ""
		if rand.Intn(3) == 0 {
			key = fmt.Sprintf("replay-%s-%s", applicationID, docType)
		}
		_, err := svc.RegisterUpload(ctx, document.UploadParams{
			ApplicationID:  applicationID,
			Type:           string(docType),
			FileName:       fmt.Sprintf("%s-%d.pdf", docType, rand.Int63()),
			UploadedBy:     agentID,
			IdempotencyKey: key,
		})
		if err != nil && !expected(err) && ctx.Err() == nil {
			return fmt.Errorf("uploader: %w", err)
		}
		time.Sleep(time.Duration(20+rand.Intn(40)) * time.Millisecond)
	}
}

// Reviewer plays staff: picks a pending document and issues a verdict, mostly
// verifying, occasionally rejecting with a note.
func Reviewer(ctx context.Context, pool *pgxpool.Pool, svc *document.Service, applicationID, staffID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		var docID string
		err := pool.QueryRow(ctx, `
SELECT id FROM documents
WHERE application_id = $1 AND status = 'pending_review'
ORDER BY random() LIMIT 1`, applicationID).Scan(&docID)
		if err == nil {
			params := document.ReviewParams{
				DocumentID: docID,
				ReviewerID: staffID,
				Verdict:    document.VerdictVerify,
			}
			if rand.Intn(5) == 0 {
				note := "Please re-upload a legible scan"
				params.Verdict = document.VerdictReject
				params.Note = &note
			}
			if _, err := svc.Review(ctx, params); err != nil && !expected(err) && ctx.Err() == nil {
				return fmt.Errorf("reviewer: %w", err)
			}
		}
		time.Sleep(time.Duration(30+rand.Intn(50)) * time.Millisecond)
	}
}

// Submitter repeatedly attempts DRAFT -> SUBMITTED. Most attempts bounce off
// the completion or document gates until the other actors catch up; exactly
// one may ever succeed.
func Submitter(ctx context.Context, svc *application.TransitionService, applicationID, agentID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		_, err := svc.Transition(ctx, application.TransitionParams{
			ApplicationID: applicationID,
			Target:        application.StageSubmitted,
			ActorID:       agentID,
		})
		if err != nil && !expected(err) && ctx.Err() == nil {
			return fmt.Errorf("submitter: %w", err)
		}
		time.Sleep(time.Duration(20+rand.Intn(40)) * time.Millisecond)
	}
}

// StaffMover walks the review pipeline with randomized legal and illegal
// targets; guards must absorb the illegal ones without corrupting history.
func StaffMover(ctx context.Context, svc *application.TransitionService, applicationID, staffID string, stop <-chan struct{}) error {
	targets := []application.Stage{
		application.StageStaffReview,
		application.StageAwaitingDocuments,
		application.StageGSAssessment,
		application.StageOfferGenerated,
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		target := targets[rand.Intn(len(targets))]
		_, err := svc.Transition(ctx, application.TransitionParams{
			ApplicationID: applicationID,
			Target:        target,
			ActorID:       staffID,
		})
		if err != nil && !expected(err) && ctx.Err() == nil {
			return fmt.Errorf("staff mover: %w", err)
		}
		time.Sleep(time.Duration(30+rand.Intn(60)) * time.Millisecond)
	}
}

// Assessor records Genuine Student scorecards whenever the application sits in
// GS_ASSESSMENT; decisions skew toward pending so the run does not terminate
// the application too early.
func Assessor(ctx context.Context, svc *application.TransitionService, applicationID, staffID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		decision := application.DecisionPending
		if rand.Intn(4) == 0 {
			decision = application.DecisionPass
		}
		_, err := svc.RecordGSAssessment(ctx, application.GSAssessmentParams{
			ApplicationID: applicationID,
			AssessorID:    staffID,
			Decision:      decision,
			Notes:         "stress assessor",
		})
		if err != nil && !expected(err) && ctx.Err() == nil {
			return fmt.Errorf("assessor: %w", err)
		}
		time.Sleep(time.Duration(100+rand.Intn(100)) * time.Millisecond)
	}
}

// OutboxWorker consumes pending outbox messages with SKIP LOCKED, simulating
// occasional delivery failures that bump the attempt counter.
func OutboxWorker(ctx context.Context, pool *pgxpool.Pool, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		tx, err := pool.Begin(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			time.Sleep(50 * time.Millisecond)
			continue
		}
		rows, err := tx.Query(ctx, `SELECT id FROM outbox WHERE status='pending' ORDER BY created_at FOR UPDATE SKIP LOCKED LIMIT 10`)
		if err != nil {
			_ = tx.Rollback(ctx)
			time.Sleep(50 * time.Millisecond)
			continue
		}
		ids := make([]string, 0, 10)
		for rows.Next() {
			var id string
			_ = rows.Scan(&id)
			ids = append(ids, id)
		}
		rows.Close()
		for _, id := range ids {
			if rand.Intn(10) == 0 {
				_, _ = tx.Exec(ctx, `UPDATE outbox SET attempts=attempts+1 WHERE id=$1`, id)
				continue
			}
			_, _ = tx.Exec(ctx, `UPDATE outbox SET status='processed' WHERE id=$1`, id)
		}
		_ = tx.Commit(ctx)
		time.Sleep(100 * time.Millisecond)
	}
}

// HistoryVandal tries to rewrite audit rows directly; the append-only triggers
// must refuse every attempt.
func HistoryVandal(ctx context.Context, pool *pgxpool.Pool, applicationID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		// A delete matching zero rows succeeds without firing the trigger, so
		// only affected rows count as a breach.
		if tag, err := pool.Exec(ctx, `DELETE FROM stage_history WHERE application_id=$1`, applicationID); err == nil && tag.RowsAffected() > 0 {
			return fmt.Errorf("history vandal: stage_history delete was allowed")
		}
		if tag, err := pool.Exec(ctx, `UPDATE timeline_events SET type='TAMPERED' WHERE application_id=$1`, applicationID); err == nil && tag.RowsAffected() > 0 {
			return fmt.Errorf("history vandal: timeline_events update was allowed")
		}
		time.Sleep(time.Duration(200+rand.Intn(200)) * time.Millisecond)
	}
}
