package application

import "fmt"

// stageTransitions is the complete edge set of the workflow. Terminal stages
// are intentionally absent as keys: nothing leads out of them.
var stageTransitions = map[Stage][]Stage{
	StageDraft:             {StageSubmitted},
	StageSubmitted:         {StageStaffReview, StageAwaitingDocuments, StageRejected},
	StageStaffReview:       {StageAwaitingDocuments, StageGSAssessment, StageOfferGenerated, StageRejected},
	StageAwaitingDocuments: {StageStaffReview, StageRejected},
	StageGSAssessment:      {StageStaffReview, StageRejected},
	StageOfferGenerated:    {StageOfferAccepted, StageWithdrawn},
	StageOfferAccepted:     {StageEnrolled},
}

// CanTransition reports whether from -> to is an edge of the transition table.
func CanTransition(from, to Stage) bool {
	for _, allowed := range stageTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// AllowedTargets returns the stages reachable in one step from the given stage.
// Terminal stages return an empty slice.
func AllowedTargets(from Stage) []Stage {
	targets := stageTransitions[from]
	out := make([]Stage, len(targets))
	copy(out, targets)
	return out
}

// AllStages lists every stage in workflow order.
func AllStages() []Stage {
	return []Stage{
		StageDraft,
		StageSubmitted,
		StageStaffReview,
		StageAwaitingDocuments,
		StageGSAssessment,
		StageOfferGenerated,
		StageOfferAccepted,
		StageEnrolled,
		StageRejected,
		StageWithdrawn,
	}
}

// ParseStage validates a caller-supplied stage name.
func ParseStage(raw string) (Stage, error) {
	for _, s := range AllStages() {
		if Stage(raw) == s {
			return s, nil
		}
	}
	return "", fmt.Errorf("application: unknown stage %q", raw)
}
