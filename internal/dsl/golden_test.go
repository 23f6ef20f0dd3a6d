package dsl

import (
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/require"

	"github.com/roach88/prestige/internal/ir"
)

// canonicalEntries renders entries the same way the content hash sees them:
// op, args, alias, and mode only. Entry IDs are freshly generated per parse
// and must not appear in golden snapshots.
func canonicalEntries(t *testing.T, entries []ir.RunbookEntry) []byte {
	t.Helper()
	list := make(ir.ArgList, len(entries))
	for i, e := range entries {
		list[i] = ir.ArgMap{
			"op":    ir.ArgString(e.Op),
			"args":  e.Args,
			"alias": ir.ArgString(e.Alias),
			"mode":  ir.ArgString(string(e.Mode)),
		}
	}
	data, err := ir.MarshalCanonical(list)
	require.NoError(t, err)
	return data
}

func TestParseOnboardingGolden(t *testing.T) {
	src := `;; onboarding happy path
(case.create :business-ref "CBU-1234" :as @case)
(entity.create :name "John Smith" :kind company :as @john)
(entity.assign-role :case @case :entity @john :role DIRECTOR :mode durable)
`

	prog, err := Parse(src)
	require.NoError(t, err)
	entries, err := Entries(prog)
	require.NoError(t, err)

	g := goldie.New(t)
	g.Assert(t, "parse_onboarding", canonicalEntries(t, entries))
}
