package application

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// AssessmentDecision is the outcome of a Genuine Student interview/scorecard.
type AssessmentDecision string

const (
	DecisionPass    AssessmentDecision = "pass"
	DecisionFail    AssessmentDecision = "fail"
	DecisionPending AssessmentDecision = "pending"
)

// ErrInvalidDecision signals a decision outside {pass, fail, pending}.
var ErrInvalidDecision = errors.New("application: invalid assessment decision")

// RouteAssessment computes the stage an assessment outcome moves the
// application to. pass routes to staff review, fail to rejected; pending is
// not a transition, the stage stays unchanged. Invoked from any stage other
// than GS_ASSESSMENT the routing itself is illegal.
func RouteAssessment(current Stage, decision AssessmentDecision) (Stage, bool, error) {
	var target Stage
	switch decision {
	case DecisionPass:
		target = StageStaffReview
	case DecisionFail:
		target = StageRejected
	case DecisionPending:
		target = ""
	default:
		return "", false, ErrInvalidDecision
	}

	if current != StageGSAssessment {
		return "", false, &IllegalTransitionError{From: current, To: target}
	}
	if decision == DecisionPending {
		return "", false, nil
	}
	return target, true, nil
}

type GSAssessmentParams struct {
	ApplicationID string
	AssessorID    string
	Decision      AssessmentDecision
	Notes         string
}

type GSAssessmentResult struct {
	AssessmentID string
	Transitioned bool
	NewStage     Stage
}

// RecordGSAssessment persists the scorecard and applies the routed transition
// in the same transaction. A fail outcome carries the assessment notes as the
// rejection note; a pending outcome records the scorecard only, with no
// history entry.
func (s *TransitionService) RecordGSAssessment(ctx context.Context, params GSAssessmentParams) (GSAssessmentResult, error) {
	if params.ApplicationID == "" {
		return GSAssessmentResult{}, fmt.Errorf("application: missing application id")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return GSAssessmentResult{}, fmt.Errorf("application: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	snap, err := s.repo.LockForUpdate(ctx, tx, params.ApplicationID)
	if err != nil {
		return GSAssessmentResult{}, err
	}

	target, moved, err := RouteAssessment(snap.Stage, params.Decision)
	if err != nil {
		return GSAssessmentResult{}, err
	}

	assessmentID, err := s.repo.InsertAssessment(ctx, tx, AssessmentParams{
		ApplicationID: params.ApplicationID,
		AssessorID:    params.AssessorID,
		Decision:      params.Decision,
		Notes:         params.Notes,
	})
	if err != nil {
		return GSAssessmentResult{}, err
	}

	result := GSAssessmentResult{AssessmentID: assessmentID}
	if moved {
		var note *string
		if params.Decision == DecisionFail {
			// Validate on the trimmed copy; the history row keeps the notes
			// exactly as supplied.
			if strings.TrimSpace(params.Notes) == "" {
				return GSAssessmentResult{}, ErrMissingReason
			}
			note = &params.Notes
		}
		if _, err := s.transitionLocked(ctx, tx, snap, TransitionParams{
			ApplicationID: params.ApplicationID,
			Target:        target,
			ActorID:       params.AssessorID,
			Note:          note,
		}); err != nil {
			return GSAssessmentResult{}, err
		}
		result.Transitioned = true
		result.NewStage = target
	}

	if s.timeline != nil {
		actor := params.AssessorID
		payload := map[string]any{
			"assessment_id": assessmentID,
			"decision":      params.Decision,
		}
		if err := s.timeline.Append(ctx, tx, params.ApplicationID, "GS_ASSESSMENT_RECORDED", &actor, payload); err != nil {
			return GSAssessmentResult{}, fmt.Errorf("application: append timeline: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		if isLockConflict(err) {
			return GSAssessmentResult{}, ErrTransitionConflict
		}
		return GSAssessmentResult{}, fmt.Errorf("application: commit assessment: %w", err)
	}

	return result, nil
}
