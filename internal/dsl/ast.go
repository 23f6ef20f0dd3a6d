package dsl

import (
	"github.com/roach88/prestige/internal/ir"
)

// Pos is a source position, 1-based.
type Pos struct {
	Line int
	Col  int
}

// Program is a parsed sequence of verb forms.
type Program struct {
	Forms []Form
}

// Form is one parsed verb call. Keys preserve source order; PathKeys holds
// the split path segments for each key (":a.b.c" → ["a","b","c"]).
type Form struct {
	Verb string
	Pos  Pos

	// Pairs preserves keyword/value pairs in source order. Repeated keys
	// are a parse error.
	Pairs []Pair
}

// Pair is one keyword/value pair inside a form.
type Pair struct {
	Key   string   // joined canonical key, e.g. "kyc.risk.rating"
	Path  []string // split path segments
	Value ir.ArgValue
	Pos   Pos
}

// Get returns the value for a canonical key, if present.
func (f *Form) Get(key string) (ir.ArgValue, bool) {
	for _, p := range f.Pairs {
		if p.Key == key {
			return p.Value, true
		}
	}
	return nil, false
}
