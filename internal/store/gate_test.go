package store

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/prestige/internal/ir"
)

func createTestGate(t *testing.T, s *Store, runbookID uuid.UUID, entryIndex int) ir.GateRequest {
	t.Helper()
	ctx := context.Background()

	req := ir.GateRequest{
		ID:         uuid.New(),
		RunbookID:  runbookID,
		EntryIndex: entryIndex,
		Kind:       ir.GateApproval,
		Prompt:     "approve kyc for CBU-1",
		CreatedAt:  time.Now().UTC(),
	}

	tx, err := s.BeginTx(ctx)
	if err != nil {
		t.Fatalf("BeginTx() failed: %v", err)
	}
	defer tx.Rollback()
	if err := CreateGateRequestTx(ctx, tx, req); err != nil {
		t.Fatalf("CreateGateRequestTx() failed: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit failed: %v", err)
	}
	return req
}

func TestGateRequest_CreateAndGet(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	rb, err := s.CreateRunbook(ctx, "CBU-1")
	if err != nil {
		t.Fatalf("CreateRunbook() failed: %v", err)
	}
	req := createTestGate(t, s, rb.ID, 2)

	got, err := s.GetGateRequest(ctx, req.ID)
	if err != nil {
		t.Fatalf("GetGateRequest() failed: %v", err)
	}
	if got.RunbookID != rb.ID || got.EntryIndex != 2 {
		t.Errorf("gate = %+v", got)
	}
	if got.Kind != ir.GateApproval {
		t.Errorf("kind = %s, want %s", got.Kind, ir.GateApproval)
	}
	if got.ResolvedAt != nil {
		t.Error("new gate request is already resolved")
	}
}

func TestGateRequest_ListOpenFiltersResolved(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	rb, err := s.CreateRunbook(ctx, "CBU-1")
	if err != nil {
		t.Fatalf("CreateRunbook() failed: %v", err)
	}
	first := createTestGate(t, s, rb.ID, 0)
	second := createTestGate(t, s, rb.ID, 1)

	tx, err := s.BeginTx(ctx)
	if err != nil {
		t.Fatalf("BeginTx() failed: %v", err)
	}
	if err := ResolveGateRequestTx(ctx, tx, first.ID, time.Now().UTC()); err != nil {
		t.Fatalf("ResolveGateRequestTx() failed: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit failed: %v", err)
	}

	open, err := s.ListOpenGateRequests(ctx, rb.ID)
	if err != nil {
		t.Fatalf("ListOpenGateRequests() failed: %v", err)
	}
	if len(open) != 1 || open[0].ID != second.ID {
		t.Errorf("open gates = %+v, want only %s", open, second.ID)
	}

	// uuid.Nil lists across runbooks.
	all, err := s.ListOpenGateRequests(ctx, uuid.Nil)
	if err != nil {
		t.Fatalf("ListOpenGateRequests(all) failed: %v", err)
	}
	if len(all) != 1 {
		t.Errorf("got %d open gates across runbooks, want 1", len(all))
	}
}

func TestGateRequest_ResolveIsOneShot(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	rb, err := s.CreateRunbook(ctx, "CBU-1")
	if err != nil {
		t.Fatalf("CreateRunbook() failed: %v", err)
	}
	req := createTestGate(t, s, rb.ID, 0)

	tx, err := s.BeginTx(ctx)
	if err != nil {
		t.Fatalf("BeginTx() failed: %v", err)
	}
	if err := ResolveGateRequestTx(ctx, tx, req.ID, time.Now().UTC()); err != nil {
		t.Fatalf("first resolve failed: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit failed: %v", err)
	}

	tx2, err := s.BeginTx(ctx)
	if err != nil {
		t.Fatalf("BeginTx() failed: %v", err)
	}
	defer tx2.Rollback()
	if err := ResolveGateRequestTx(ctx, tx2, req.ID, time.Now().UTC()); err == nil {
		t.Error("second resolve did not fail")
	}
}

func TestGateRequest_NotFound(t *testing.T) {
	s := createTestStore(t)

	_, err := s.GetGateRequest(context.Background(), uuid.New())
	if err != sql.ErrNoRows {
		t.Errorf("err = %v, want sql.ErrNoRows", err)
	}
}
