package application

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"admitflow/document"
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// DocumentStatusReader reports the latest verification status per document
// type, read inside the active transaction so the gate sees the same snapshot
// the transition commits against.
type DocumentStatusReader interface {
	VerificationStatuses(ctx context.Context, tx pgx.Tx, applicationID string) (map[document.Type]document.VerificationStatus, error)
}

// TimelineWriter appends audit events inside the caller's transaction.
type TimelineWriter interface {
	Append(ctx context.Context, tx pgx.Tx, applicationID, eventType string, actorID *string, payload map[string]any) error
}

// OutboxWriter enqueues downstream notifications inside the caller's transaction.
type OutboxWriter interface {
	Enqueue(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error
}

// TransitionService owns every stage mutation. Each transition is one
// transaction: lock row, evaluate guards, write stage + history + timeline +
// outbox, commit. Guards run before any write, so a failed transition leaves
// persisted state untouched.
type TransitionService struct {
	pool     TxBeginner
	repo     Repository
	docs     DocumentStatusReader
	timeline TimelineWriter
	outbox   OutboxWriter
}

func NewTransitionService(pool TxBeginner, repo Repository, docs DocumentStatusReader, timeline TimelineWriter, outbox OutboxWriter) *TransitionService {
	if repo == nil {
		repo = NewRepository()
	}
	return &TransitionService{
		pool:     pool,
		repo:     repo,
		docs:     docs,
		timeline: timeline,
		outbox:   outbox,
	}
}

type TransitionParams struct {
	ApplicationID string
	Target        Stage
	ActorID       string
	Note          *string
}

type TransitionResult struct {
	From           Stage
	To             Stage
	HistoryEntryID string
}

// Transition moves the application along one edge of the transition table.
func (s *TransitionService) Transition(ctx context.Context, params TransitionParams) (TransitionResult, error) {
	if params.ApplicationID == "" {
		return TransitionResult{}, fmt.Errorf("application: missing application id")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return TransitionResult{}, fmt.Errorf("application: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	snap, err := s.repo.LockForUpdate(ctx, tx, params.ApplicationID)
	if err != nil {
		return TransitionResult{}, err
	}

	result, err := s.transitionLocked(ctx, tx, snap, params)
	if err != nil {
		return TransitionResult{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		if isLockConflict(err) {
			return TransitionResult{}, ErrTransitionConflict
		}
		return TransitionResult{}, fmt.Errorf("application: commit transition: %w", err)
	}

	return result, nil
}

// transitionLocked applies guards and writes inside the caller's transaction.
// Assessment routing reuses it so pass/fail outcomes share the exact guard
// path of a plain transition.
func (s *TransitionService) transitionLocked(ctx context.Context, tx pgx.Tx, snap Snapshot, params TransitionParams) (TransitionResult, error) {
	if snap.Stage.IsTerminal() || !CanTransition(snap.Stage, params.Target) {
		return TransitionResult{}, &IllegalTransitionError{From: snap.Stage, To: params.Target}
	}

	if snap.Stage == StageDraft && params.Target == StageSubmitted {
		if missing := MissingSteps(snap.CompletedSteps); len(missing) > 0 {
			return TransitionResult{}, &IncompleteFormError{MissingSteps: missing}
		}
		if err := s.checkDocuments(ctx, tx, snap); err != nil {
			return TransitionResult{}, err
		}
	}

	// Documents may have been re-requested and re-uploaded since submission,
	// so the offer guard re-checks them.
	if params.Target == StageOfferGenerated {
		if err := s.checkDocuments(ctx, tx, snap); err != nil {
			return TransitionResult{}, err
		}
	}

	if params.Target == StageRejected {
		if params.Note == nil || strings.TrimSpace(*params.Note) == "" {
			return TransitionResult{}, ErrMissingReason
		}
	}

	stampDecision := params.Target.IsTerminal() && snap.DecisionAt == nil
	if err := s.repo.UpdateStage(ctx, tx, snap.ID, params.Target, stampDecision); err != nil {
		return TransitionResult{}, err
	}

	var actor *string
	if params.ActorID != "" {
		actor = &params.ActorID
	}

	historyID, err := s.repo.AppendHistory(ctx, tx, HistoryParams{
		ApplicationID: snap.ID,
		FromStage:     snap.Stage,
		ToStage:       params.Target,
		ActorID:       actor,
		Note:          params.Note,
	})
	if err != nil {
		return TransitionResult{}, err
	}

	if s.timeline != nil {
		payload := map[string]any{
			"previous_stage": snap.Stage,
			"next_stage":     params.Target,
		}
		if params.Note != nil {
			payload["note"] = *params.Note
		}
		if err := s.timeline.Append(ctx, tx, snap.ID, "APPLICATION_STAGE_CHANGED", actor, payload); err != nil {
			return TransitionResult{}, fmt.Errorf("application: append timeline: %w", err)
		}
	}
	if s.outbox != nil {
		payload := map[string]any{
			"application_id": snap.ID,
			"previous":       snap.Stage,
			"next":           params.Target,
		}
		if err := s.outbox.Enqueue(ctx, tx, "application.stage_changed", payload); err != nil {
			return TransitionResult{}, fmt.Errorf("application: enqueue outbox: %w", err)
		}
	}

	return TransitionResult{From: snap.Stage, To: params.Target, HistoryEntryID: historyID}, nil
}

func (s *TransitionService) checkDocuments(ctx context.Context, tx pgx.Tx, snap Snapshot) error {
	statuses, err := s.docs.VerificationStatuses(ctx, tx, snap.ID)
	if err != nil {
		return fmt.Errorf("application: read document statuses: %w", err)
	}
	if unverified := UnverifiedDocuments(snap.MandatoryDocumentTypes, statuses); len(unverified) > 0 {
		return &UnverifiedDocumentsError{Types: unverified}
	}
	return nil
}
