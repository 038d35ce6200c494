package application

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"admitflow/document"
)

func newStepService(repo *fakeRepo, docs *fakeDocs) (*StepService, *fakePool, *fakeTimeline) {
	pool := &fakePool{}
	tl := &fakeTimeline{}
	svc := NewStepService(pool, repo, docs, tl)
	return svc, pool, tl
}

func TestSaveStep_FirstStep(t *testing.T) {
	repo := &fakeRepo{snap: draftSnapshot(nil)}
	svc, pool, tl := newStepService(repo, &fakeDocs{})

	result, err := svc.SaveStep(context.Background(), SaveStepParams{
		ApplicationID: "app-1",
		Step:          "personal_details",
		Payload:       map[string]any{"given_name": "Mei", "family_name": "Chen"},
		ActorID:       "agent-1",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.CompletionPercentage != 8.33 {
		t.Errorf("completion = %v, want 8.33", result.CompletionPercentage)
	}
	if result.NextStep == nil || *result.NextStep != StepContactDetails {
		t.Errorf("next step = %v, want %s", result.NextStep, StepContactDetails)
	}
	if result.CanSubmit {
		t.Error("one of twelve steps cannot be submittable")
	}
	if len(repo.steps) != 1 || repo.steps[0].Step != StepPersonalDetails {
		t.Fatalf("saved steps = %+v", repo.steps)
	}
	if !pool.tx.committed {
		t.Error("expected commit")
	}
	if len(tl.events) != 1 || tl.events[0].Type != "APPLICATION_STEP_SAVED" {
		t.Errorf("timeline events = %+v", tl.events)
	}
}

func TestSaveStep_ResaveIsIdempotent(t *testing.T) {
	repo := &fakeRepo{snap: draftSnapshot([]StepID{StepPersonalDetails})}
	svc, _, _ := newStepService(repo, &fakeDocs{})

	result, err := svc.SaveStep(context.Background(), SaveStepParams{
		ApplicationID: "app-1",
		Step:          "personal_details",
		Payload:       map[string]any{"given_name": "Mei-Ling"},
		ActorID:       "agent-1",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Completed set unchanged; the overwrite does not double-count.
	if result.CompletionPercentage != 8.33 {
		t.Errorf("completion = %v, want 8.33", result.CompletionPercentage)
	}
}

func TestSaveStep_UnknownStep(t *testing.T) {
	repo := &fakeRepo{snap: draftSnapshot(nil)}
	svc, _, _ := newStepService(repo, &fakeDocs{})

	_, err := svc.SaveStep(context.Background(), SaveStepParams{
		ApplicationID: "app-1",
		Step:          "step_13",
	})
	var unknown *UnknownStepError
	if !errors.As(err, &unknown) {
		t.Fatalf("expected UnknownStepError, got %v", err)
	}
	if len(repo.steps) != 0 {
		t.Error("unknown step must not be persisted")
	}
}

func TestSaveStep_NotEditableOutsideDraft(t *testing.T) {
	for _, stage := range []Stage{StageSubmitted, StageStaffReview, StageEnrolled} {
		repo := &fakeRepo{snap: Snapshot{ID: "app-1", Stage: stage}}
		svc, pool, _ := newStepService(repo, &fakeDocs{})

		_, err := svc.SaveStep(context.Background(), SaveStepParams{
			ApplicationID: "app-1",
			Step:          "employment",
			Payload:       map[string]any{"employer": "Acme"},
		})
		var notEditable *NotEditableError
		if !errors.As(err, &notEditable) {
			t.Fatalf("stage %s: expected NotEditableError, got %v", stage, err)
		}
		if notEditable.Stage != stage {
			t.Errorf("error stage = %s, want %s", notEditable.Stage, stage)
		}
		if pool.tx.committed || len(repo.steps) != 0 {
			t.Errorf("stage %s: locked application must not be written", stage)
		}
	}
}

func TestSaveStep_DeclarationNeedsAcknowledgment(t *testing.T) {
	ids := allStepIDs()
	repo := &fakeRepo{snap: draftSnapshot(ids[:11])}
	docs := &fakeDocs{statuses: verifiedAll(document.TypePassport, document.TypeTranscripts)}
	svc, _, _ := newStepService(repo, docs)

	// Saving the declaration without the acknowledgment flag stores the row
	// but does not complete the step.
	result, err := svc.SaveStep(context.Background(), SaveStepParams{
		ApplicationID: "app-1",
		Step:          "declaration",
		Acknowledged:  false,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.CompletionPercentage != 91.67 {
		t.Errorf("completion = %v, want 91.67", result.CompletionPercentage)
	}
	if result.CanSubmit {
		t.Error("unacknowledged declaration cannot be submittable")
	}
	if len(repo.steps) != 1 || repo.steps[0].Acknowledged {
		t.Fatalf("saved steps = %+v", repo.steps)
	}

	result, err = svc.SaveStep(context.Background(), SaveStepParams{
		ApplicationID: "app-1",
		Step:          "declaration",
		Acknowledged:  true,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.CompletionPercentage != 100 {
		t.Errorf("completion = %v, want 100", result.CompletionPercentage)
	}
	if result.NextStep != nil {
		t.Errorf("next step = %v, want nil", result.NextStep)
	}
	if !result.CanSubmit {
		t.Error("acknowledged declaration with verified documents should be submittable")
	}
}

func TestSaveStep_ResaveKeepsDeclarationAcknowledged(t *testing.T) {
	repo := &fakeRepo{snap: draftSnapshot(allStepIDs())}
	docs := &fakeDocs{statuses: verifiedAll(document.TypePassport, document.TypeTranscripts)}
	svc, _, _ := newStepService(repo, docs)

	// Editing the declaration payload without re-sending the flag must not
	// un-acknowledge the step; completion stays at 100.
	result, err := svc.SaveStep(context.Background(), SaveStepParams{
		ApplicationID: "app-1",
		Step:          "declaration",
		Payload:       map[string]any{"signed_name": "Mei Chen"},
		Acknowledged:  false,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.CompletionPercentage != 100 {
		t.Errorf("completion = %v, want 100", result.CompletionPercentage)
	}
	if !result.CanSubmit {
		t.Error("re-saving a completed declaration must not revoke submission")
	}
	if len(repo.steps) != 1 || !repo.steps[0].Acknowledged {
		t.Fatalf("persisted step must stay acknowledged, got %+v", repo.steps)
	}
}

func TestSaveStep_DocumentsHoldBackSubmission(t *testing.T) {
	repo := &fakeRepo{snap: draftSnapshot(allStepIDs())}
	docs := &fakeDocs{statuses: map[document.Type]document.VerificationStatus{
		document.TypePassport:    document.StatusVerified,
		document.TypeTranscripts: document.StatusPendingReview,
	}}
	svc, _, _ := newStepService(repo, docs)

	result, err := svc.SaveStep(context.Background(), SaveStepParams{
		ApplicationID: "app-1",
		Step:          "employment",
		Payload:       map[string]any{"employer": "Acme"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.CompletionPercentage != 100 {
		t.Errorf("completion = %v, want 100", result.CompletionPercentage)
	}
	if result.CanSubmit {
		t.Error("pending documents must hold back submission")
	}
}

func TestEvaluateSubmissionReadiness_Blocked(t *testing.T) {
	ids := allStepIDs()
	repo := &fakeRepo{snap: draftSnapshot(ids[:10])}
	docs := &fakeDocs{statuses: map[document.Type]document.VerificationStatus{
		document.TypePassport: document.StatusVerified,
	}}
	svc, _, _ := newStepService(repo, docs)

	readiness, err := svc.EvaluateSubmissionReadiness(context.Background(), "app-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if readiness.CanSubmit {
		t.Error("expected blocked readiness")
	}
	if readiness.CompletionPercentage != 83.33 {
		t.Errorf("completion = %v, want 83.33", readiness.CompletionPercentage)
	}
	wantMissing := []StepID{StepFinancialDeclaration, StepDeclaration}
	if !reflect.DeepEqual(readiness.MissingSteps, wantMissing) {
		t.Errorf("missing steps = %v, want %v", readiness.MissingSteps, wantMissing)
	}
	wantDocs := []string{string(document.TypeTranscripts)}
	if !reflect.DeepEqual(readiness.UnverifiedDocuments, wantDocs) {
		t.Errorf("unverified documents = %v, want %v", readiness.UnverifiedDocuments, wantDocs)
	}
}

func TestEvaluateSubmissionReadiness_Ready(t *testing.T) {
	repo := &fakeRepo{snap: draftSnapshot(allStepIDs())}
	docs := &fakeDocs{statuses: verifiedAll(document.TypePassport, document.TypeTranscripts)}
	svc, _, _ := newStepService(repo, docs)

	readiness, err := svc.EvaluateSubmissionReadiness(context.Background(), "app-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !readiness.CanSubmit {
		t.Fatal("expected ready")
	}
	if readiness.CompletionPercentage != 100 {
		t.Errorf("completion = %v", readiness.CompletionPercentage)
	}
	if len(readiness.MissingSteps) != 0 || len(readiness.UnverifiedDocuments) != 0 {
		t.Errorf("readiness = %+v", readiness)
	}
}
