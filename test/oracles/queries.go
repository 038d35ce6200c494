package oracles

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Oracle struct {
	Name string
	SQL  string
}

// All returns the invariant checks run against the live database while actors
// are racing. Any returned row is a violation.
func All() []Oracle {
	return []Oracle{
		{
			// Every recorded transition must be an edge of the stage machine.
			Name: "O1_history_legal_edges",
			SQL: `WITH legal(from_stage, to_stage) AS (VALUES
                      ('draft','submitted'),
                      ('submitted','staff_review'), ('submitted','awaiting_documents'), ('submitted','rejected'),
                      ('staff_review','awaiting_documents'), ('staff_review','gs_assessment'),
                      ('staff_review','offer_generated'), ('staff_review','rejected'),
                      ('awaiting_documents','staff_review'), ('awaiting_documents','rejected'),
                      ('gs_assessment','staff_review'), ('gs_assessment','rejected'),
                      ('offer_generated','offer_accepted'), ('offer_generated','withdrawn'),
                      ('offer_accepted','enrolled'))
                  SELECT h.id, h.from_stage, h.to_stage FROM stage_history h
                  LEFT JOIN legal l ON l.from_stage = h.from_stage::text AND l.to_stage = h.to_stage::text
                  WHERE l.from_stage IS NULL`,
		},
		{
			// Timeline seq must be strictly increasing per application.
			Name: "O2_timeline_seq_monotonic",
			SQL: `WITH seqs AS (
                      SELECT application_id, seq,
                             LAG(seq) OVER (PARTITION BY application_id ORDER BY id) AS prev
                      FROM timeline_events)
                  SELECT * FROM seqs WHERE prev IS NOT NULL AND seq <= prev`,
		},
		{
			// decision_at is set exactly when the application sits in a
			// terminal stage, and terminal stages are never left.
			Name: "O3_decision_iff_terminal",
			SQL: `SELECT id, stage, decision_at FROM applications
                  WHERE (stage IN ('enrolled','rejected','withdrawn')) <> (decision_at IS NOT NULL)`,
		},
		{
			// No application may leave draft with an incomplete ledger: twelve
			// step rows, declaration acknowledged.
			Name: "O4_submitted_means_complete",
			SQL: `SELECT a.id FROM applications a
                  WHERE EXISTS (SELECT 1 FROM stage_history h
                                WHERE h.application_id = a.id AND h.from_stage = 'draft' AND h.to_stage = 'submitted')
                    AND 12 > (SELECT COUNT(*) FROM application_steps s
                              WHERE s.application_id = a.id
                                AND (s.step_id <> 'declaration' OR s.acknowledged))`,
		},
		{
			// Submission also requires every mandatory document type verified
			// at the moment the edge was taken; a later re-upload flips the
			// latest version back to pending, so check the verified version
			// exists at all.
			Name: "O5_submitted_means_docs_verified",
			SQL: `SELECT a.id, m.doc_type FROM applications a
                  CROSS JOIN LATERAL unnest(a.mandatory_document_types) AS m(doc_type)
                  WHERE EXISTS (SELECT 1 FROM stage_history h
                                WHERE h.application_id = a.id AND h.from_stage = 'draft' AND h.to_stage = 'submitted')
                    AND NOT EXISTS (SELECT 1 FROM documents d
                                    WHERE d.application_id = a.id AND d.doc_type = m.doc_type
                                      AND d.status = 'verified')`,
		},
		{
			// Document versions are contiguous from 1 per (application, type).
			Name: "O6_document_versions_contiguous",
			SQL: `WITH v AS (
                      SELECT application_id, doc_type, version,
                             LAG(version) OVER (PARTITION BY application_id, doc_type ORDER BY version) AS prev
                      FROM documents)
                  SELECT * FROM v
                  WHERE (prev IS NULL AND version <> 1) OR (prev IS NOT NULL AND version <> prev + 1)`,
		},
		{
			// An edge that has no return path can appear at most once.
			Name: "O7_no_repeated_oneway_edges",
			SQL: `SELECT application_id, from_stage, to_stage, COUNT(*) FROM stage_history
                  WHERE from_stage = 'draft'
                  GROUP BY application_id, from_stage, to_stage HAVING COUNT(*) > 1`,
		},
		{
			// Failed GS assessments must carry notes; they become the
			// rejection reason.
			Name: "O8_failed_assessment_has_notes",
			SQL:  `SELECT id FROM gs_assessments WHERE decision = 'fail' AND btrim(notes) = ''`,
		},
		{
			// Outbox messages must not sit unprocessed forever.
			Name: "O9_outbox_drains",
			SQL: `SELECT id, topic, attempts FROM outbox
                  WHERE status = 'pending' AND now() - created_at > interval '5 minutes'`,
		},
		{
			// The append-only triggers must exist; without them the other
			// oracles prove nothing.
			Name: "O10_audit_triggers_present",
			SQL: `SELECT 'missing_trigger' AS detail
                  WHERE NOT EXISTS (SELECT 1 FROM pg_trigger WHERE tgname = 'no_mutate_stage_history')
                     OR NOT EXISTS (SELECT 1 FROM pg_trigger WHERE tgname = 'no_mutate_timeline_events')
                     OR NOT EXISTS (SELECT 1 FROM pg_trigger WHERE tgname = 'applications_decision_guard')`,
		},
	}
}

// Run executes all oracles and returns the first failure (name and sample row
// text) or an empty name when every invariant holds.
func Run(ctx context.Context, pool *pgxpool.Pool) (string, string, error) {
	for _, o := range All() {
		rows, err := pool.Query(ctx, o.SQL)
		if err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
		has := rows.Next()
		if has {
			vals, err := rows.Values()
			rows.Close()
			if err != nil {
				return o.Name, "", err
			}
			return o.Name, fmt.Sprintf("%v", vals), nil
		}
		rows.Close()
	}
	return "", "", nil
}
