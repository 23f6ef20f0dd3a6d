package harness

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/roach88/prestige/internal/store"
)

// AssertionContext carries what assertion evaluation needs to inspect the
// database a scenario left behind.
type AssertionContext struct {
	Store *store.Store
	Ctx   context.Context
	Ref   string
}

// EvaluateAssertions checks every assertion and returns one message per
// failure. Evaluation never stops early; the caller sees all failures at
// once.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var failures []string
	for i, a := range assertions {
		if msg := evaluateOne(result, &a, actx); msg != "" {
			failures = append(failures, fmt.Sprintf("assertions[%d] (%s): %s", i, a.Type, msg))
		}
	}
	return failures
}

func evaluateOne(result *Result, a *Assertion, actx *AssertionContext) string {
	switch a.Type {
	case AssertFinalState:
		return assertFinalState(a, actx)
	case AssertRowCount:
		return assertRowCount(a, actx)
	case AssertEventKinds:
		return assertEventKinds(a, result)
	case AssertStatus:
		if string(result.Status) != a.Status {
			return fmt.Sprintf("status is %q, want %q", result.Status, a.Status)
		}
	case AssertVersionCount:
		if result.Versions != a.Count {
			return fmt.Sprintf("%d plan versions, want %d", result.Versions, a.Count)
		}
	}
	return ""
}

// assertFinalState checks that the row matching Where carries the Expect
// values. Columns come from trusted scenario files, not user input; they are
// still restricted to identifier characters before being interpolated.
func assertFinalState(a *Assertion, actx *AssertionContext) string {
	for _, col := range append(keysOf(a.Where), keysOf(a.Expect)...) {
		if !safeIdentifier(col) {
			return fmt.Sprintf("unsafe column name %q", col)
		}
	}
	if !safeIdentifier(a.Table) {
		return fmt.Sprintf("unsafe table name %q", a.Table)
	}

	cols := keysOf(a.Expect)
	query := "SELECT " + strings.Join(cols, ", ") + " FROM " + a.Table
	var params []any
	if len(a.Where) > 0 {
		var clauses []string
		for _, col := range keysOf(a.Where) {
			clauses = append(clauses, col+" = ?")
			params = append(params, a.Where[col])
		}
		query += " WHERE " + strings.Join(clauses, " AND ")
	}

	dest := make([]any, len(cols))
	for i := range dest {
		var v any
		dest[i] = &v
	}
	if err := actx.Store.DB().QueryRowContext(actx.Ctx, query, params...).Scan(dest...); err != nil {
		return fmt.Sprintf("query %s: %v", a.Table, err)
	}

	for i, col := range cols {
		got := *(dest[i].(*any))
		if !looselyEqual(got, a.Expect[col]) {
			return fmt.Sprintf("%s.%s is %v, want %v", a.Table, col, got, a.Expect[col])
		}
	}
	return ""
}

func assertRowCount(a *Assertion, actx *AssertionContext) string {
	if !safeIdentifier(a.Table) {
		return fmt.Sprintf("unsafe table name %q", a.Table)
	}
	var count int
	query := "SELECT COUNT(*) FROM " + a.Table
	if err := actx.Store.DB().QueryRowContext(actx.Ctx, query).Scan(&count); err != nil {
		return fmt.Sprintf("count %s: %v", a.Table, err)
	}
	if count != a.Count {
		return fmt.Sprintf("%s holds %d rows, want %d", a.Table, count, a.Count)
	}
	return ""
}

func assertEventKinds(a *Assertion, result *Result) string {
	if len(result.EventKinds) != len(a.Kinds) {
		return fmt.Sprintf("audit trail is %v, want %v", result.EventKinds, a.Kinds)
	}
	for i, kind := range a.Kinds {
		if result.EventKinds[i] != kind {
			return fmt.Sprintf("event %d is %q, want %q (trail %v)", i, result.EventKinds[i], kind, result.EventKinds)
		}
	}
	return ""
}

func keysOf(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	// Sorted so interpolated queries and failure messages are stable.
	sort.Strings(keys)
	return keys
}

func safeIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
		default:
			return false
		}
	}
	return true
}

// looselyEqual compares a scanned SQLite value against a YAML-decoded
// expectation, tolerating the int64/int and []byte/string splits the two
// decoders produce.
func looselyEqual(got, want any) bool {
	switch g := got.(type) {
	case []byte:
		return string(g) == fmt.Sprintf("%v", want)
	case int64:
		switch w := want.(type) {
		case int:
			return g == int64(w)
		case int64:
			return g == w
		}
	case string:
		if w, ok := want.(string); ok {
			return g == w
		}
	}
	return fmt.Sprintf("%v", got) == fmt.Sprintf("%v", want)
}
