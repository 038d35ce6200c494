package application

import (
	"context"
	"fmt"

	"admitflow/document"
)

// StepService owns the step completion ledger: saving intake steps, computing
// completion, and evaluating submission readiness.
type StepService struct {
	pool     TxBeginner
	repo     Repository
	docs     DocumentStatusReader
	timeline TimelineWriter
}

func NewStepService(pool TxBeginner, repo Repository, docs DocumentStatusReader, timeline TimelineWriter) *StepService {
	if repo == nil {
		repo = NewRepository()
	}
	return &StepService{
		pool:     pool,
		repo:     repo,
		docs:     docs,
		timeline: timeline,
	}
}

type SaveStepParams struct {
	ApplicationID string
	Step          string
	Payload       map[string]any
	// Acknowledged applies to the declaration step only; it completes via
	// this flag rather than payload presence.
	Acknowledged bool
	ActorID      string
}

type SaveStepResult struct {
	CompletionPercentage float64
	NextStep             *StepID
	CanSubmit            bool
}

// SaveStep stores one step payload and returns the updated ledger view.
// Idempotent: re-saving a completed step overwrites the payload and leaves
// the completed set unchanged. Steps are agent-editable only in DRAFT.
func (s *StepService) SaveStep(ctx context.Context, params SaveStepParams) (SaveStepResult, error) {
	if params.ApplicationID == "" {
		return SaveStepResult{}, fmt.Errorf("application: missing application id")
	}
	def, err := ParseStepID(params.Step)
	if err != nil {
		return SaveStepResult{}, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return SaveStepResult{}, fmt.Errorf("application: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	snap, err := s.repo.LockForUpdate(ctx, tx, params.ApplicationID)
	if err != nil {
		return SaveStepResult{}, err
	}
	if snap.Stage != StageDraft {
		return SaveStepResult{}, &NotEditableError{Stage: snap.Stage}
	}

	// A completed declaration stays acknowledged; a re-save without the flag
	// overwrites the payload only, so completion never decreases from a save.
	acknowledged := def.AcknowledgmentOnly && (params.Acknowledged || containsStep(snap.CompletedSteps, def.ID))
	if err := s.repo.UpsertStep(ctx, tx, snap.ID, def.ID, params.Payload, acknowledged); err != nil {
		return SaveStepResult{}, err
	}

	completed := snap.CompletedSteps
	if (!def.AcknowledgmentOnly || acknowledged) && !containsStep(completed, def.ID) {
		completed = append(completed, def.ID)
	}

	statuses, err := s.docs.VerificationStatuses(ctx, tx, snap.ID)
	if err != nil {
		return SaveStepResult{}, fmt.Errorf("application: read document statuses: %w", err)
	}

	result := ledgerView(completed, UnverifiedDocuments(snap.MandatoryDocumentTypes, statuses))

	if s.timeline != nil {
		var actor *string
		if params.ActorID != "" {
			actor = &params.ActorID
		}
		payload := map[string]any{
			"step":       def.ID,
			"completion": result.CompletionPercentage,
		}
		if err := s.timeline.Append(ctx, tx, snap.ID, "APPLICATION_STEP_SAVED", actor, payload); err != nil {
			return SaveStepResult{}, fmt.Errorf("application: append timeline: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return SaveStepResult{}, fmt.Errorf("application: commit step save: %w", err)
	}

	return result, nil
}

// Readiness is the blocking-issues view the API shows before the agent
// attempts submission.
type Readiness struct {
	CanSubmit            bool
	CompletionPercentage float64
	MissingSteps         []StepID
	UnverifiedDocuments  []string
}

// EvaluateSubmissionReadiness is the independently callable read behind the
// DRAFT -> SUBMITTED guard: true iff all mandatory steps are saved and every
// mandatory document type is verified.
func (s *StepService) EvaluateSubmissionReadiness(ctx context.Context, applicationID string) (Readiness, error) {
	if applicationID == "" {
		return Readiness{}, fmt.Errorf("application: missing application id")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Readiness{}, fmt.Errorf("application: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	snap, err := s.repo.LockForUpdate(ctx, tx, applicationID)
	if err != nil {
		return Readiness{}, err
	}

	statuses, err := s.docs.VerificationStatuses(ctx, tx, snap.ID)
	if err != nil {
		return Readiness{}, fmt.Errorf("application: read document statuses: %w", err)
	}
	unverified := UnverifiedDocuments(snap.MandatoryDocumentTypes, statuses)

	readiness := Readiness{
		CompletionPercentage: CompletionPercentage(snap.CompletedSteps),
		MissingSteps:         MissingSteps(snap.CompletedSteps),
	}
	for _, t := range unverified {
		readiness.UnverifiedDocuments = append(readiness.UnverifiedDocuments, string(t))
	}
	readiness.CanSubmit = len(readiness.MissingSteps) == 0 && len(unverified) == 0

	if err := tx.Commit(ctx); err != nil {
		return Readiness{}, fmt.Errorf("application: commit readiness read: %w", err)
	}

	return readiness, nil
}

func ledgerView(completed []StepID, unverified []document.Type) SaveStepResult {
	result := SaveStepResult{
		CompletionPercentage: CompletionPercentage(completed),
	}
	if next, ok := NextStep(completed); ok {
		result.NextStep = &next
	}
	result.CanSubmit = len(MissingSteps(completed)) == 0 && len(unverified) == 0
	return result
}
