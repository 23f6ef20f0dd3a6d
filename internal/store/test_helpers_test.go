package store

import (
	"path/filepath"
	"testing"

	"github.com/google/uuid"

	"github.com/roach88/prestige/internal/ir"
)

// createTestStore creates a file-backed store in a temp dir.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestEntry builds an entry with minimal required fields.
func createTestEntry(op, alias string, args ir.ArgMap) ir.RunbookEntry {
	if args == nil {
		args = ir.ArgMap{}
	}
	return ir.RunbookEntry{
		ID:     uuid.New(),
		Op:     op,
		Args:   args,
		Alias:  alias,
		Mode:   ir.ModeSync,
		Status: ir.EntryPending,
	}
}
