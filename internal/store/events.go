package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/prestige/internal/ir"
)

// Event is one record of the append-only audit trail. Seq is a per-runbook
// logical clock; it, not CreatedAt, defines the order of events.
type Event struct {
	Seq       int64
	RunbookID uuid.UUID
	Kind      string
	Detail    ir.ArgMap
	CreatedAt time.Time
}

// Audit event kinds written by the compiler and executor.
const (
	EventCompiled     = "compiled"
	EventLockAcquired = "lock_acquired"
	EventLockReleased = "lock_released"
	EventStepStarted  = "step_started"
	EventStepExecuted = "step_executed"
	EventStepFailed   = "step_failed"
	EventGateOpened   = "gate_opened"
	EventGateResolved = "gate_resolved"
	EventRunCompleted = "run_completed"
	EventRunFailed    = "run_failed"
)

// AppendEventTx appends an audit event inside an existing transaction,
// allocating the next per-runbook seq. The UNIQUE(runbook_id, seq)
// constraint turns a lost race on the clock into an insert error rather
// than a silent reorder.
func AppendEventTx(ctx context.Context, tx *sql.Tx, runbookID uuid.UUID, kind string, detail ir.ArgMap) error {
	var maxSeq sql.NullInt64
	err := tx.QueryRowContext(ctx, `
		SELECT MAX(seq) FROM runbook_events WHERE runbook_id = ?
	`, runbookID.String()).Scan(&maxSeq)
	if err != nil {
		return fmt.Errorf("append event: read seq: %w", err)
	}

	if detail == nil {
		detail = ir.ArgMap{}
	}
	detailJSON, err := ir.MarshalCanonical(detail)
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runbook_events (runbook_id, seq, kind, detail, created_at)
		VALUES (?, ?, ?, ?, ?)
	`,
		runbookID.String(),
		maxSeq.Int64+1,
		kind,
		string(detailJSON),
		formatTime(time.Now().UTC()),
	)
	if err != nil {
		return fmt.Errorf("append event %s: %w", kind, err)
	}
	return nil
}

// AppendEvent is AppendEventTx in its own transaction.
func (s *Store) AppendEvent(ctx context.Context, runbookID uuid.UUID, kind string, detail ir.ArgMap) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("append event: begin tx: %w", err)
	}
	defer tx.Rollback()
	if err := AppendEventTx(ctx, tx, runbookID, kind, detail); err != nil {
		return err
	}
	return tx.Commit()
}

// ListEvents returns a runbook's audit trail in seq order.
func (s *Store) ListEvents(ctx context.Context, runbookID uuid.UUID) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, kind, detail, created_at
		FROM runbook_events
		WHERE runbook_id = ?
		ORDER BY seq ASC
	`, runbookID.String())
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		ev := Event{RunbookID: runbookID}
		var detail, createdAt string
		if err := rows.Scan(&ev.Seq, &ev.Kind, &detail, &createdAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if ev.Detail, err = unmarshalArgs(detail); err != nil {
			return nil, err
		}
		if ev.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	if events == nil {
		events = []Event{}
	}
	return events, nil
}
