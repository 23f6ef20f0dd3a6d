package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/prestige/internal/ir"
)

func writeTempFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadEntries_DSL(t *testing.T) {
	path := writeTempFile(t, "onboarding.rb", `
;; minimal onboarding
(case.create :business-ref "CBU-1" :as @c)
(entity.create :name "John" :as @e :mode durable)
(entity.assign-role :entity @e :role DIRECTOR :case @c)
`)

	entries, err := LoadEntries(path)
	require.NoError(t, err)
	require.Len(t, entries, 3)

	assert.Equal(t, "case.create", entries[0].Op)
	assert.Equal(t, "c", entries[0].Alias)
	assert.Equal(t, ir.ModeSync, entries[0].Mode)

	assert.Equal(t, ir.ModeDurable, entries[1].Mode)
	assert.Equal(t, ir.AliasRef{Name: "e"}, entries[2].Args["entity"])
}

func TestLoadEntries_YAML(t *testing.T) {
	path := writeTempFile(t, "onboarding.yaml", `
entries:
  - op: case.create
    as: c
    args:
      business-ref: CBU-1
  - op: kyc.approve
    mode: durable
    args:
      case: "@c"
      approved: true
`)

	entries, err := LoadEntries(path)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, "case.create", entries[0].Op)
	assert.Equal(t, "c", entries[0].Alias)
	assert.Equal(t, ir.ArgString("CBU-1"), entries[0].Args["business-ref"])

	assert.Equal(t, ir.ModeDurable, entries[1].Mode)
	assert.Equal(t, ir.AliasRef{Name: "c"}, entries[1].Args["case"])
	assert.Equal(t, ir.ArgBool(true), entries[1].Args["approved"])
}

func TestLoadEntries_YAMLErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"no entries", "entries: []", "no entries"},
		{"missing op", "entries:\n  - as: c", "missing op"},
		{"bad mode", "entries:\n  - op: case.create\n    mode: eventually", "unknown mode"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeTempFile(t, "bad.yaml", tt.content)
			_, err := LoadEntries(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadEntries_MissingFile(t *testing.T) {
	_, err := LoadEntries(filepath.Join(t.TempDir(), "nope.rb"))
	require.Error(t, err)
}

func TestYAMLArgValue_Nested(t *testing.T) {
	val, err := yamlArgValue(map[string]any{
		"tags":  []any{"a", "b"},
		"count": 2,
	})
	require.NoError(t, err)
	m, ok := val.(ir.ArgMap)
	require.True(t, ok)
	assert.Equal(t, ir.ArgList{ir.ArgString("a"), ir.ArgString("b")}, m["tags"])
	assert.Equal(t, ir.ArgInt(2), m["count"])
}
