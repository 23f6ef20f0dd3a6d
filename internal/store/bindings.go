package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/roach88/prestige/internal/ir"
)

// SaveBindingTx upserts one runtime alias binding inside an existing
// transaction. The executor writes it in the same transaction as the step
// that produced it, so a rolled-back step leaves no binding behind.
func SaveBindingTx(ctx context.Context, tx *sql.Tx, runbookID uuid.UUID, alias string, value ir.ArgValue) error {
	data, err := ir.MarshalCanonical(value)
	if err != nil {
		return fmt.Errorf("save binding @%s: %w", alias, err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO runbook_bindings (runbook_id, alias, value)
		VALUES (?, ?, ?)
		ON CONFLICT(runbook_id, alias) DO UPDATE SET value = excluded.value
	`, runbookID.String(), alias, string(data))
	if err != nil {
		return fmt.Errorf("save binding @%s: %w", alias, err)
	}
	return nil
}

// LoadBindings returns every persisted alias binding of a runbook.
func (s *Store) LoadBindings(ctx context.Context, runbookID uuid.UUID) (ir.ArgMap, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT alias, value FROM runbook_bindings WHERE runbook_id = ?
	`, runbookID.String())
	if err != nil {
		return nil, fmt.Errorf("load bindings: %w", err)
	}
	defer rows.Close()

	bindings := ir.ArgMap{}
	for rows.Next() {
		var alias, data string
		if err := rows.Scan(&alias, &data); err != nil {
			return nil, fmt.Errorf("scan binding: %w", err)
		}
		value, err := ir.UnmarshalArgValue([]byte(data))
		if err != nil {
			return nil, fmt.Errorf("binding @%s: %w", alias, err)
		}
		bindings[alias] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate bindings: %w", err)
	}
	return bindings, nil
}
