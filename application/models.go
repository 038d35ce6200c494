package application

import (
	"time"

	"admitflow/document"
)

// Stage is the application's position in the admission workflow. The only
// legal mutations go through TransitionService; nothing writes the column
// directly.
type Stage string

const (
	StageDraft             Stage = "draft"
	StageSubmitted         Stage = "submitted"
	StageStaffReview       Stage = "staff_review"
	StageAwaitingDocuments Stage = "awaiting_documents"
	StageGSAssessment      Stage = "gs_assessment"
	StageOfferGenerated    Stage = "offer_generated"
	StageOfferAccepted     Stage = "offer_accepted"
	StageEnrolled          Stage = "enrolled"
	StageRejected          Stage = "rejected"
	StageWithdrawn         Stage = "withdrawn"
)

// IsTerminal reports whether the stage has no outbound edges. decision_at is
// stamped exactly once, on entry into a terminal stage.
func (s Stage) IsTerminal() bool {
	switch s {
	case StageEnrolled, StageRejected, StageWithdrawn:
		return true
	default:
		return false
	}
}

// StepID names one of the twelve intake form sections.
type StepID string

// Application is the central aggregate. CompletedSteps and the step payloads
// live in their own table; this struct mirrors the applications row plus the
// derived completion set.
type Application struct {
	ID                     string
	AgentUserID            string
	StudentName            string
	StudentEmail           string
	CourseCode             string
	Stage                  Stage
	CompletedSteps         []StepID
	MandatoryDocumentTypes []document.Type
	DecisionAt             *time.Time
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

// StageHistoryEntry is one immutable record of a stage transition. The ordered
// sequence for an application always reconstructs a legal path through the
// transition table.
type StageHistoryEntry struct {
	ID            string
	ApplicationID string
	FromStage     Stage
	ToStage       Stage
	ActorID       *string
	Note          *string
	CreatedAt     time.Time
}
