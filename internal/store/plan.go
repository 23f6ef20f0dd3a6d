package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/roach88/prestige/internal/ir"
)

// VersionConflictError reports a lost race on the version counter: another
// compilation advanced next_version between our read and our update.
type VersionConflictError struct {
	RunbookID uuid.UUID
	Expected  int64
}

func (e *VersionConflictError) Error() string {
	return fmt.Sprintf("runbook %s: version conflict at %d (allocated concurrently)", e.RunbookID, e.Expected)
}

// IsVersionConflict reports whether err is a version allocation conflict.
func IsVersionConflict(err error) bool {
	var vc *VersionConflictError
	return errors.As(err, &vc)
}

// AllocateVersion claims plan version `expected` for a runbook inside an
// existing transaction. The caller supplies the NextVersion it observed
// when it loaded the runbook; the guarded UPDATE is the optimistic check.
// Zero rows affected means another compilation claimed the version first,
// and the caller must reload and retry.
func AllocateVersion(ctx context.Context, tx *sql.Tx, runbookID uuid.UUID, expected int64) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE runbooks SET next_version = ? WHERE id = ? AND next_version = ?
	`, expected+1, runbookID.String(), expected)
	if err != nil {
		return fmt.Errorf("allocate version: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("allocate version: %w", err)
	}
	if n == 0 {
		return &VersionConflictError{RunbookID: runbookID, Expected: expected}
	}
	return nil
}

// WritePlanTx persists a compiled plan and its steps inside an existing
// transaction. Plan versions are write-once: the version must have been
// claimed via AllocateVersion in the same transaction, and the primary key
// rejects any attempt to rewrite an existing version.
func WritePlanTx(ctx context.Context, tx *sql.Tx, plan *ir.CompiledPlan) error {
	planHash, err := ir.PlanHash(plan.RunbookID.String(), plan.Version, plan.Steps)
	if err != nil {
		return fmt.Errorf("write plan: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO plan_versions
		(runbook_id, version, source_hash, plan_hash, engine_version, plan_schema_version, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		plan.RunbookID.String(),
		plan.Version,
		plan.SourceHash,
		planHash,
		ir.EngineVersion,
		ir.PlanSchemaVersion,
		formatTime(plan.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("write plan version %d: %w", plan.Version, err)
	}

	for _, step := range plan.Steps {
		argsJSON, err := marshalArgs(step.Args)
		if err != nil {
			return fmt.Errorf("write plan step %d: %w", step.Index, err)
		}
		writeSetJSON, err := marshalWriteSet(step.WriteSet)
		if err != nil {
			return fmt.Errorf("write plan step %d: %w", step.Index, err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO plan_steps
			(runbook_id, version, step_index, op, args, alias, write_set, mode)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`,
			plan.RunbookID.String(),
			plan.Version,
			step.Index,
			step.Op,
			argsJSON,
			step.Alias,
			writeSetJSON,
			string(step.Mode),
		)
		if err != nil {
			return fmt.Errorf("write plan step %d: %w", step.Index, err)
		}
	}

	return nil
}

// GetPlan loads a persisted plan version with its steps in index order.
// Returns sql.ErrNoRows if the version does not exist.
func (s *Store) GetPlan(ctx context.Context, runbookID uuid.UUID, version int64) (ir.CompiledPlan, error) {
	plan := ir.CompiledPlan{RunbookID: runbookID, Version: version}

	var createdAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT source_hash, created_at
		FROM plan_versions
		WHERE runbook_id = ? AND version = ?
	`, runbookID.String(), version).Scan(&plan.SourceHash, &createdAt)
	if err != nil {
		return ir.CompiledPlan{}, err
	}
	if plan.CreatedAt, err = parseTime(createdAt); err != nil {
		return ir.CompiledPlan{}, fmt.Errorf("get plan: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT step_index, op, args, alias, write_set, mode
		FROM plan_steps
		WHERE runbook_id = ? AND version = ?
		ORDER BY step_index ASC
	`, runbookID.String(), version)
	if err != nil {
		return ir.CompiledPlan{}, fmt.Errorf("get plan steps: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var step ir.CompiledStep
		var args, writeSet, mode string
		if err := rows.Scan(&step.Index, &step.Op, &args, &step.Alias, &writeSet, &mode); err != nil {
			return ir.CompiledPlan{}, fmt.Errorf("scan plan step: %w", err)
		}
		if step.Args, err = unmarshalArgs(args); err != nil {
			return ir.CompiledPlan{}, err
		}
		if step.WriteSet, err = unmarshalWriteSet(writeSet); err != nil {
			return ir.CompiledPlan{}, err
		}
		step.Mode = ir.ExecutionMode(mode)
		plan.Steps = append(plan.Steps, step)
	}
	if err := rows.Err(); err != nil {
		return ir.CompiledPlan{}, fmt.Errorf("iterate plan steps: %w", err)
	}

	return plan, nil
}

// LatestPlanVersion returns the highest persisted plan version for a
// runbook, or 0 if none exists yet.
func (s *Store) LatestPlanVersion(ctx context.Context, runbookID uuid.UUID) (int64, error) {
	var version sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT MAX(version) FROM plan_versions WHERE runbook_id = ?
	`, runbookID.String()).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("latest plan version: %w", err)
	}
	return version.Int64, nil
}

// PlanVersionInfo is a plan version's header row, without its steps.
type PlanVersionInfo struct {
	Version    int64
	SourceHash string
	PlanHash   string
	StepCount  int
	CreatedAt  string
}

// ListPlanVersions returns every persisted plan version for a runbook in
// ascending version order.
func (s *Store) ListPlanVersions(ctx context.Context, runbookID uuid.UUID) ([]PlanVersionInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT v.version, v.source_hash, v.plan_hash, v.created_at,
		       (SELECT COUNT(*) FROM plan_steps s
		        WHERE s.runbook_id = v.runbook_id AND s.version = v.version)
		FROM plan_versions v
		WHERE v.runbook_id = ?
		ORDER BY v.version ASC
	`, runbookID.String())
	if err != nil {
		return nil, fmt.Errorf("list plan versions: %w", err)
	}
	defer rows.Close()

	var infos []PlanVersionInfo
	for rows.Next() {
		var info PlanVersionInfo
		if err := rows.Scan(&info.Version, &info.SourceHash, &info.PlanHash, &info.CreatedAt, &info.StepCount); err != nil {
			return nil, fmt.Errorf("scan plan version: %w", err)
		}
		infos = append(infos, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate plan versions: %w", err)
	}
	return infos, nil
}

// FindPlanBySourceHash returns the newest plan version compiled from the
// given entries hash, if any. Lets a recompilation of unchanged entries
// reuse the existing version instead of allocating a new one.
func (s *Store) FindPlanBySourceHash(ctx context.Context, runbookID uuid.UUID, sourceHash string) (int64, bool, error) {
	var version int64
	err := s.db.QueryRowContext(ctx, `
		SELECT version FROM plan_versions
		WHERE runbook_id = ? AND source_hash = ?
		ORDER BY version DESC
		LIMIT 1
	`, runbookID.String(), sourceHash).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("find plan by source hash: %w", err)
	}
	return version, true, nil
}
