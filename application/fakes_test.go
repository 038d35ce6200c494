package application

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"admitflow/document"
)

type fakePool struct {
	tx       *fakeTx
	beginErr error
}

func (f *fakePool) Begin(ctx context.Context) (pgx.Tx, error) {
	if f.beginErr != nil {
		return nil, f.beginErr
	}
	f.tx = &fakeTx{}
	return f.tx, nil
}

type fakeTx struct {
	rolled    bool
	committed bool
	commitErr error
}

func (f *fakeTx) Begin(context.Context) (pgx.Tx, error) {
	return nil, errors.New("fakeTx does not support nested transactions")
}

func (f *fakeTx) Commit(context.Context) error {
	if f.commitErr != nil {
		return f.commitErr
	}
	f.committed = true
	return nil
}

func (f *fakeTx) Rollback(context.Context) error {
	f.rolled = true
	return nil
}

func (f *fakeTx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	panic("not implemented")
}

func (f *fakeTx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults {
	panic("not implemented")
}

func (f *fakeTx) LargeObjects() pgx.LargeObjects {
	panic("not implemented")
}

func (f *fakeTx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	panic("not implemented")
}

func (f *fakeTx) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	panic("not implemented")
}

func (f *fakeTx) Query(context.Context, string, ...any) (pgx.Rows, error) {
	panic("not implemented")
}

func (f *fakeTx) QueryRow(context.Context, string, ...any) pgx.Row {
	panic("not implemented")
}

func (f *fakeTx) Conn() *pgx.Conn {
	return nil
}

type savedStep struct {
	Step         StepID
	Payload      map[string]any
	Acknowledged bool
}

type fakeRepo struct {
	snap    Snapshot
	lockErr error

	updateErr     error
	updatedStage  Stage
	stamped       bool
	stageUpdates  int
	history       []HistoryParams
	historyErr    error
	steps         []savedStep
	upsertErr     error
	assessments   []AssessmentParams
	assessmentErr error
}

func (f *fakeRepo) LockForUpdate(context.Context, pgx.Tx, string) (Snapshot, error) {
	if f.lockErr != nil {
		return Snapshot{}, f.lockErr
	}
	return f.snap, nil
}

func (f *fakeRepo) UpdateStage(_ context.Context, _ pgx.Tx, _ string, to Stage, stampDecision bool) error {
	if f.updateErr != nil {
		return f.updateErr
	}
	f.stageUpdates++
	f.updatedStage = to
	f.stamped = stampDecision
	return nil
}

func (f *fakeRepo) AppendHistory(_ context.Context, _ pgx.Tx, params HistoryParams) (string, error) {
	if f.historyErr != nil {
		return "", f.historyErr
	}
	f.history = append(f.history, params)
	return fmt.Sprintf("history-%d", len(f.history)), nil
}

func (f *fakeRepo) UpsertStep(_ context.Context, _ pgx.Tx, _ string, step StepID, payload map[string]any, acknowledged bool) error {
	if f.upsertErr != nil {
		return f.upsertErr
	}
	f.steps = append(f.steps, savedStep{Step: step, Payload: payload, Acknowledged: acknowledged})
	return nil
}

func (f *fakeRepo) InsertAssessment(_ context.Context, _ pgx.Tx, params AssessmentParams) (string, error) {
	if f.assessmentErr != nil {
		return "", f.assessmentErr
	}
	f.assessments = append(f.assessments, params)
	return fmt.Sprintf("assessment-%d", len(f.assessments)), nil
}

type fakeDocs struct {
	statuses map[document.Type]document.VerificationStatus
	err      error
}

func (f *fakeDocs) VerificationStatuses(context.Context, pgx.Tx, string) (map[document.Type]document.VerificationStatus, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.statuses, nil
}

type recordedEvent struct {
	Type    string
	ActorID *string
	Payload map[string]any
}

type fakeTimeline struct {
	events []recordedEvent
	err    error
}

func (f *fakeTimeline) Append(_ context.Context, _ pgx.Tx, _ string, eventType string, actorID *string, payload map[string]any) error {
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, recordedEvent{Type: eventType, ActorID: actorID, Payload: payload})
	return nil
}

type fakeOutbox struct {
	topics []string
	err    error
}

func (f *fakeOutbox) Enqueue(_ context.Context, _ pgx.Tx, topic string, _ map[string]any) error {
	if f.err != nil {
		return f.err
	}
	f.topics = append(f.topics, topic)
	return nil
}

// verifiedAll returns a status map marking every given type verified.
func verifiedAll(types ...document.Type) map[document.Type]document.VerificationStatus {
	statuses := make(map[document.Type]document.VerificationStatus, len(types))
	for _, t := range types {
		statuses[t] = document.StatusVerified
	}
	return statuses
}
