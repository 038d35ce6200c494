package application

import "testing"

func TestTransitionTable_TerminalStagesHaveNoOutboundEdges(t *testing.T) {
	for _, stage := range AllStages() {
		if !stage.IsTerminal() {
			continue
		}
		if targets := AllowedTargets(stage); len(targets) != 0 {
			t.Errorf("terminal stage %s has outbound edges %v", stage, targets)
		}
		for _, target := range AllStages() {
			if CanTransition(stage, target) {
				t.Errorf("CanTransition(%s, %s) = true for terminal stage", stage, target)
			}
		}
	}
}

func TestTransitionTable_AllStagesReachableFromDraft(t *testing.T) {
	reached := map[Stage]bool{StageDraft: true}
	frontier := []Stage{StageDraft}
	for len(frontier) > 0 {
		current := frontier[0]
		frontier = frontier[1:]
		for _, next := range AllowedTargets(current) {
			if !reached[next] {
				reached[next] = true
				frontier = append(frontier, next)
			}
		}
	}

	for _, stage := range AllStages() {
		if !reached[stage] {
			t.Errorf("stage %s is unreachable from draft", stage)
		}
	}
}

func TestCanTransition_Edges(t *testing.T) {
	cases := []struct {
		from, to Stage
		want     bool
	}{
		{StageDraft, StageSubmitted, true},
		{StageDraft, StageStaffReview, false},
		{StageSubmitted, StageStaffReview, true},
		{StageSubmitted, StageAwaitingDocuments, true},
		{StageSubmitted, StageRejected, true},
		{StageSubmitted, StageOfferGenerated, false},
		{StageStaffReview, StageGSAssessment, true},
		{StageStaffReview, StageOfferGenerated, true},
		{StageStaffReview, StageEnrolled, false},
		{StageAwaitingDocuments, StageStaffReview, true},
		{StageAwaitingDocuments, StageSubmitted, false},
		{StageGSAssessment, StageStaffReview, true},
		{StageGSAssessment, StageRejected, true},
		{StageGSAssessment, StageOfferGenerated, false},
		{StageOfferGenerated, StageOfferAccepted, true},
		{StageOfferGenerated, StageWithdrawn, true},
		{StageOfferGenerated, StageRejected, false},
		{StageOfferAccepted, StageEnrolled, true},
		{StageEnrolled, StageWithdrawn, false},
		{StageRejected, StageDraft, false},
	}

	for _, tc := range cases {
		if got := CanTransition(tc.from, tc.to); got != tc.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestParseStage(t *testing.T) {
	if _, err := ParseStage("gs_assessment"); err != nil {
		t.Fatalf("expected gs_assessment to parse: %v", err)
	}
	if _, err := ParseStage("approved"); err == nil {
		t.Fatal("expected error for unknown stage")
	}
}
