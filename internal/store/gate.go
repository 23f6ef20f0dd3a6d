package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/prestige/internal/ir"
)

// CreateGateRequestTx persists a gate request inside an existing
// transaction. The executor writes it in the same transaction that moves
// the runbook to AwaitingGate, so a suspended runbook always has its gate
// on record.
func CreateGateRequestTx(ctx context.Context, tx *sql.Tx, req ir.GateRequest) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO gate_requests (id, runbook_id, entry_index, kind, prompt, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		req.ID.String(),
		req.RunbookID.String(),
		req.EntryIndex,
		string(req.Kind),
		req.Prompt,
		formatTime(req.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("create gate request: %w", err)
	}
	return nil
}

// GetGateRequest loads a gate request by id.
// Returns sql.ErrNoRows if not found.
func (s *Store) GetGateRequest(ctx context.Context, id uuid.UUID) (ir.GateRequest, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, runbook_id, entry_index, kind, prompt, created_at, resolved_at
		FROM gate_requests
		WHERE id = ?
	`, id.String())
	return scanGateRequest(row.Scan)
}

// ListOpenGateRequests returns unresolved gate requests, oldest first. A
// zero runbookID lists gates across all runbooks.
func (s *Store) ListOpenGateRequests(ctx context.Context, runbookID uuid.UUID) ([]ir.GateRequest, error) {
	query := `
		SELECT id, runbook_id, entry_index, kind, prompt, created_at, resolved_at
		FROM gate_requests
		WHERE resolved_at IS NULL
	`
	args := []any{}
	if runbookID != uuid.Nil {
		query += ` AND runbook_id = ?`
		args = append(args, runbookID.String())
	}
	query += ` ORDER BY created_at ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list gate requests: %w", err)
	}
	defer rows.Close()

	var reqs []ir.GateRequest
	for rows.Next() {
		req, err := scanGateRequest(rows.Scan)
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate gate requests: %w", err)
	}
	if reqs == nil {
		reqs = []ir.GateRequest{}
	}
	return reqs, nil
}

// ResolveGateRequestTx marks a gate request resolved inside an existing
// transaction. Resolving twice is an error: the second resolver must see
// that its input was not applied.
func ResolveGateRequestTx(ctx context.Context, tx *sql.Tx, id uuid.UUID, resolvedAt time.Time) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE gate_requests SET resolved_at = ? WHERE id = ? AND resolved_at IS NULL
	`, formatTime(resolvedAt), id.String())
	if err != nil {
		return fmt.Errorf("resolve gate request %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("gate request %s is already resolved or does not exist", id)
	}
	return nil
}

func scanGateRequest(scan func(...any) error) (ir.GateRequest, error) {
	var req ir.GateRequest
	var idStr, rbStr, kind, createdAt string
	var resolvedAt sql.NullString
	err := scan(&idStr, &rbStr, &req.EntryIndex, &kind, &req.Prompt, &createdAt, &resolvedAt)
	if err != nil {
		return ir.GateRequest{}, err
	}
	if req.ID, err = uuid.Parse(idStr); err != nil {
		return ir.GateRequest{}, fmt.Errorf("scan gate request: %w", err)
	}
	if req.RunbookID, err = uuid.Parse(rbStr); err != nil {
		return ir.GateRequest{}, fmt.Errorf("scan gate request: %w", err)
	}
	req.Kind = ir.GateKind(kind)
	if req.CreatedAt, err = parseTime(createdAt); err != nil {
		return ir.GateRequest{}, fmt.Errorf("scan gate request: %w", err)
	}
	if resolvedAt.Valid {
		t, err := parseTime(resolvedAt.String)
		if err != nil {
			return ir.GateRequest{}, fmt.Errorf("scan gate request: %w", err)
		}
		req.ResolvedAt = &t
	}
	return req, nil
}
