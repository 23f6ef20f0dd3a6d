// Package telemetry persists execution outcomes to a local bbolt file,
// separate from the primary store. The sink is best-effort by contract:
// callers treat an emit failure as a dropped record, never as a failure
// of the run that produced it.
package telemetry

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"github.com/roach88/prestige/internal/ir"
)

// Record is the persisted shape of one execution outcome.
type Record struct {
	Kind        ir.OutcomeKind `json:"kind"`
	RunbookID   uuid.UUID      `json:"runbook_id"`
	PlanVersion int64          `json:"plan_version"`
	FailedStep  int            `json:"failed_step,omitempty"`
	Error       string         `json:"error,omitempty"`
	Resumable   bool           `json:"resumable,omitempty"`
	GateID      string         `json:"gate_id,omitempty"`
	RecordedAt  time.Time      `json:"recorded_at"`
}

// Sink writes outcome records to a bbolt database, one bucket per runbook,
// keyed by the bucket's monotonic sequence.
type Sink struct {
	db *bolt.DB
}

// Open opens (or creates) the sink file. The open timeout guards against a
// stale file lock from a dead process.
func Open(path string) (*Sink, error) {
	db, err := bolt.Open(path, 0o644, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("telemetry: open %s: %w", path, err)
	}
	return &Sink{db: db}, nil
}

func (s *Sink) Close() error {
	return s.db.Close()
}

// EmitOutcome appends one record for the outcome. Implements the engine's
// telemetry emitter contract.
func (s *Sink) EmitOutcome(ctx context.Context, outcome *ir.ExecutionOutcome) error {
	rec := Record{
		Kind:        outcome.Kind,
		RunbookID:   outcome.RunbookID,
		PlanVersion: outcome.PlanVersion,
		FailedStep:  outcome.FailedStep,
		Error:       outcome.Error,
		Resumable:   outcome.Resumable,
		RecordedAt:  time.Now().UTC(),
	}
	if outcome.Gate != nil {
		rec.GateID = outcome.Gate.ID.String()
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("telemetry: marshal record: %w", err)
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(outcome.RunbookID[:])
		if err != nil {
			return err
		}
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		return b.Put(seqKey(seq), payload)
	})
}

// Outcomes returns every record emitted for a runbook, oldest first.
func (s *Sink) Outcomes(runbookID uuid.UUID) ([]Record, error) {
	var recs []Record
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(runbookID[:])
		if b == nil {
			return nil
		}
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var rec Record
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("telemetry: decode record: %w", err)
			}
			recs = append(recs, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return recs, nil
}

func seqKey(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return key
}
