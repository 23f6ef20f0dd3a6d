package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed identity. The version suffix allows
// a future algorithm migration without colliding with old hashes.
const (
	DomainEntries = "prestige/entries/v1"
	DomainPlan    = "prestige/plan/v1"
	DomainEvent   = "prestige/event/v1"
)

// hashWithDomain computes SHA256(domain || 0x00 || data). The null separator
// prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// EntriesHash computes the content hash of an ordered entry list. Entry IDs
// and statuses are excluded: the hash identifies WHAT would execute (op,
// args, alias, mode, order), so an unchanged list resubmitted after a gate
// resolution maps to the same compiled version.
func EntriesHash(entries []RunbookEntry) (string, error) {
	list := make(ArgList, len(entries))
	for i, e := range entries {
		list[i] = ArgMap{
			"op":    ArgString(e.Op),
			"args":  e.Args,
			"alias": ArgString(e.Alias),
			"mode":  ArgString(string(e.Mode)),
		}
	}
	canonical, err := MarshalCanonical(list)
	if err != nil {
		return "", fmt.Errorf("entries hash: %w", err)
	}
	return hashWithDomain(DomainEntries, canonical), nil
}

// PlanHash computes the content hash of a compiled plan's steps. Used as an
// integrity check on the write-once plan rows.
func PlanHash(runbookID string, version int64, steps []CompiledStep) (string, error) {
	list := make(ArgList, len(steps))
	for i, s := range steps {
		writeSet := make(ArgList, len(s.WriteSet))
		for j, k := range s.WriteSet {
			writeSet[j] = ArgString(k)
		}
		list[i] = ArgMap{
			"op":        ArgString(s.Op),
			"args":      s.Args,
			"alias":     ArgString(s.Alias),
			"mode":      ArgString(string(s.Mode)),
			"write_set": writeSet,
		}
	}
	obj := ArgMap{
		"runbook": ArgString(runbookID),
		"version": ArgInt(version),
		"steps":   list,
	}
	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("plan hash: %w", err)
	}
	return hashWithDomain(DomainPlan, canonical), nil
}
