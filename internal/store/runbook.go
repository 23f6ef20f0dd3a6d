package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/prestige/internal/ir"
)

// CreateRunbook inserts a new runbook in Draft status with its version
// counter at 1. The business reference must be unique.
func (s *Store) CreateRunbook(ctx context.Context, businessRef string) (ir.Runbook, error) {
	rb := ir.Runbook{
		ID:          uuid.New(),
		BusinessRef: businessRef,
		NextVersion: 1,
		Status:      ir.StatusDraft,
		CreatedAt:   time.Now().UTC(),
	}
	rb.UpdatedAt = rb.CreatedAt

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runbooks (id, business_ref, status, next_version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		rb.ID.String(),
		rb.BusinessRef,
		string(rb.Status),
		rb.NextVersion,
		formatTime(rb.CreatedAt),
		formatTime(rb.UpdatedAt),
	)
	if err != nil {
		return ir.Runbook{}, fmt.Errorf("create runbook %q: %w", businessRef, err)
	}
	return rb, nil
}

// GetRunbook loads a runbook and its entries in seq order.
// Returns sql.ErrNoRows if not found.
func (s *Store) GetRunbook(ctx context.Context, id uuid.UUID) (ir.Runbook, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, business_ref, status, next_version, created_at, updated_at
		FROM runbooks
		WHERE id = ?
	`, id.String())
	return s.scanRunbook(ctx, row)
}

// FindRunbookByRef loads a runbook by its business reference.
// Returns sql.ErrNoRows if not found.
func (s *Store) FindRunbookByRef(ctx context.Context, businessRef string) (ir.Runbook, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, business_ref, status, next_version, created_at, updated_at
		FROM runbooks
		WHERE business_ref = ?
	`, businessRef)
	return s.scanRunbook(ctx, row)
}

func (s *Store) scanRunbook(ctx context.Context, row *sql.Row) (ir.Runbook, error) {
	var (
		rb                   ir.Runbook
		idStr, status        string
		createdAt, updatedAt string
	)
	err := row.Scan(&idStr, &rb.BusinessRef, &status, &rb.NextVersion, &createdAt, &updatedAt)
	if err != nil {
		return ir.Runbook{}, err
	}
	rb.ID, err = uuid.Parse(idStr)
	if err != nil {
		return ir.Runbook{}, fmt.Errorf("scan runbook: %w", err)
	}
	rb.Status = ir.RunbookStatus(status)
	if rb.CreatedAt, err = parseTime(createdAt); err != nil {
		return ir.Runbook{}, fmt.Errorf("scan runbook: %w", err)
	}
	if rb.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return ir.Runbook{}, fmt.Errorf("scan runbook: %w", err)
	}

	rb.Entries, err = s.readEntries(ctx, rb.ID)
	if err != nil {
		return ir.Runbook{}, err
	}
	return rb, nil
}

func (s *Store) readEntries(ctx context.Context, runbookID uuid.UUID) ([]ir.RunbookEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, seq, op, args, alias, mode, status
		FROM runbook_entries
		WHERE runbook_id = ?
		ORDER BY seq ASC
	`, runbookID.String())
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	defer rows.Close()

	var entries []ir.RunbookEntry
	for rows.Next() {
		var e ir.RunbookEntry
		var idStr, args, mode, status string
		if err := rows.Scan(&idStr, &e.Seq, &e.Op, &args, &e.Alias, &mode, &status); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		if e.ID, err = uuid.Parse(idStr); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		if e.Args, err = unmarshalArgs(args); err != nil {
			return nil, err
		}
		e.Mode = ir.ExecutionMode(mode)
		e.Status = ir.EntryStatus(status)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entries: %w", err)
	}
	if entries == nil {
		entries = []ir.RunbookEntry{}
	}
	return entries, nil
}

// AppendEntries appends entries to a runbook and moves it back to Draft: a
// runbook with new entries always needs recompilation, whatever state the
// previous version ended in. Seq numbers continue from the current maximum.
func (s *Store) AppendEntries(ctx context.Context, runbookID uuid.UUID, entries []ir.RunbookEntry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("append entries: begin tx: %w", err)
	}
	defer tx.Rollback()

	var maxSeq sql.NullInt64
	err = tx.QueryRowContext(ctx, `
		SELECT MAX(seq) FROM runbook_entries WHERE runbook_id = ?
	`, runbookID.String()).Scan(&maxSeq)
	if err != nil {
		return fmt.Errorf("append entries: read max seq: %w", err)
	}

	seq := int(maxSeq.Int64)
	for _, e := range entries {
		seq++
		argsJSON, err := marshalArgs(e.Args)
		if err != nil {
			return fmt.Errorf("append entries: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO runbook_entries (id, runbook_id, seq, op, args, alias, mode, status)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`,
			e.ID.String(),
			runbookID.String(),
			seq,
			e.Op,
			argsJSON,
			e.Alias,
			string(e.Mode),
			string(ir.EntryPending),
		)
		if err != nil {
			return fmt.Errorf("append entry %s: %w", e.Op, err)
		}
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE runbooks SET status = ?, updated_at = ? WHERE id = ?
	`, string(ir.StatusDraft), formatTime(time.Now().UTC()), runbookID.String())
	if err != nil {
		return fmt.Errorf("append entries: update status: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return fmt.Errorf("append entries: runbook %s: %w", runbookID, sql.ErrNoRows)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("append entries: commit: %w", err)
	}
	return nil
}

// SetStatusTx records a status transition inside an existing transaction.
// The transition is validated against the status machine and guarded with a
// compare-and-set on the current status, so a concurrent transition fails
// instead of silently overwriting.
func SetStatusTx(ctx context.Context, tx *sql.Tx, runbookID uuid.UUID, from, to ir.RunbookStatus) error {
	if !ir.CanTransition(from, to) {
		return fmt.Errorf("runbook %s: illegal status transition %s -> %s", runbookID, from, to)
	}
	res, err := tx.ExecContext(ctx, `
		UPDATE runbooks SET status = ?, updated_at = ? WHERE id = ? AND status = ?
	`, string(to), formatTime(time.Now().UTC()), runbookID.String(), string(from))
	if err != nil {
		return fmt.Errorf("set status %s: %w", to, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("runbook %s: status changed concurrently (expected %s)", runbookID, from)
	}
	return nil
}

// SetStatus is SetStatusTx in its own transaction.
func (s *Store) SetStatus(ctx context.Context, runbookID uuid.UUID, from, to ir.RunbookStatus) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("set status: begin tx: %w", err)
	}
	defer tx.Rollback()
	if err := SetStatusTx(ctx, tx, runbookID, from, to); err != nil {
		return err
	}
	return tx.Commit()
}

// UpdateEntryTx rewrites an entry's arguments and status inside an existing
// transaction. Gate resolution uses this to merge the resolution payload
// into the suspended entry before recompilation.
func UpdateEntryTx(ctx context.Context, tx *sql.Tx, entryID uuid.UUID, args ir.ArgMap, status ir.EntryStatus) error {
	argsJSON, err := marshalArgs(args)
	if err != nil {
		return fmt.Errorf("update entry: %w", err)
	}
	res, err := tx.ExecContext(ctx, `
		UPDATE runbook_entries SET args = ?, status = ? WHERE id = ?
	`, argsJSON, string(status), entryID.String())
	if err != nil {
		return fmt.Errorf("update entry %s: %w", entryID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("update entry %s: %w", entryID, sql.ErrNoRows)
	}
	return nil
}

// SetEntryStatusTx records an entry status change inside an existing
// transaction.
func SetEntryStatusTx(ctx context.Context, tx *sql.Tx, entryID uuid.UUID, status ir.EntryStatus) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE runbook_entries SET status = ? WHERE id = ?
	`, string(status), entryID.String())
	if err != nil {
		return fmt.Errorf("set entry status %s: %w", status, err)
	}
	return nil
}

// ListRunbooks returns all runbooks without their entries, ordered by
// creation time then id for a stable listing.
func (s *Store) ListRunbooks(ctx context.Context) ([]ir.Runbook, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, business_ref, status, next_version, created_at, updated_at
		FROM runbooks
		ORDER BY created_at ASC, id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list runbooks: %w", err)
	}
	defer rows.Close()

	var runbooks []ir.Runbook
	for rows.Next() {
		var (
			rb                   ir.Runbook
			idStr, status        string
			createdAt, updatedAt string
		)
		if err := rows.Scan(&idStr, &rb.BusinessRef, &status, &rb.NextVersion, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan runbook: %w", err)
		}
		if rb.ID, err = uuid.Parse(idStr); err != nil {
			return nil, fmt.Errorf("scan runbook: %w", err)
		}
		rb.Status = ir.RunbookStatus(status)
		if rb.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("scan runbook: %w", err)
		}
		if rb.UpdatedAt, err = parseTime(updatedAt); err != nil {
			return nil, fmt.Errorf("scan runbook: %w", err)
		}
		runbooks = append(runbooks, rb)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runbooks: %w", err)
	}
	if runbooks == nil {
		runbooks = []ir.Runbook{}
	}
	return runbooks, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}
