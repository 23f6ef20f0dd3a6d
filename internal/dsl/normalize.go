package dsl

import "strings"

// normalizeKeySegment canonicalizes a key segment: lowercase with dashes.
// Submitters mix "document_id" and "document-id" for the same argument; the
// dashed form is canonical.
func normalizeKeySegment(s string) string {
	return strings.ToLower(strings.ReplaceAll(s, "_", "-"))
}

// verbAliases maps legacy or colloquial verb spellings to their canonical
// operation names.
var verbAliases = map[string]string{
	"ubo.add-evidence": "document.use",
	"ubo.add_evidence": "document.use",
	"case.open":        "case.create",
	"entity.add-role":  "entity.assign-role",
}

// NormalizeVerb returns the canonical operation name for a parsed verb.
// Underscores in verb names are canonicalized to dashes before the alias
// table is consulted.
func NormalizeVerb(verb string) string {
	canonical := strings.ToLower(verb)
	if mapped, ok := verbAliases[canonical]; ok {
		return mapped
	}
	canonical = strings.ReplaceAll(canonical, "_", "-")
	if mapped, ok := verbAliases[canonical]; ok {
		return mapped
	}
	return canonical
}
