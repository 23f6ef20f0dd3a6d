package dsl

import (
	"github.com/google/uuid"

	"github.com/roach88/prestige/internal/ir"
)

// Reserved keys that shape the entry rather than feed the operation.
const (
	keyAs   = "as"   // :as @alias declares the entry's output alias
	keyMode = "mode" // :mode sync|durable, default sync
)

// Entries converts a parsed program into runbook entries. The reserved
// ":as" and ":mode" pairs are lifted onto the entry; everything else
// becomes an operation argument. Verb names are canonicalized through the
// alias table.
func Entries(prog *Program) ([]ir.RunbookEntry, error) {
	entries := make([]ir.RunbookEntry, 0, len(prog.Forms))
	for seq, form := range prog.Forms {
		entry, err := toEntry(seq, &form)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *entry)
	}
	return entries, nil
}

func toEntry(seq int, form *Form) (*ir.RunbookEntry, error) {
	entry := &ir.RunbookEntry{
		ID:     uuid.New(),
		Seq:    seq,
		Op:     NormalizeVerb(form.Verb),
		Args:   ir.ArgMap{},
		Mode:   ir.ModeSync,
		Status: ir.EntryPending,
	}

	for _, pair := range form.Pairs {
		switch pair.Key {
		case keyAs:
			ref, ok := pair.Value.(ir.AliasRef)
			if !ok {
				return nil, errAt(pair.Pos, ":as takes an alias reference, e.g. :as @john")
			}
			entry.Alias = ref.Name

		case keyMode:
			kw, ok := pair.Value.(ir.ArgKeyword)
			if !ok {
				return nil, errAt(pair.Pos, ":mode takes a bare keyword: sync or durable")
			}
			switch ir.ExecutionMode(kw) {
			case ir.ModeSync, ir.ModeDurable:
				entry.Mode = ir.ExecutionMode(kw)
			default:
				return nil, errAt(pair.Pos, "unknown execution mode %q", string(kw))
			}

		default:
			entry.Args[pair.Key] = pair.Value
		}
	}

	return entry, nil
}
