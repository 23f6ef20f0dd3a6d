package compiler

import (
	"fmt"
	"sort"
	"strings"

	"github.com/roach88/prestige/internal/ir"
)

// checkBindings validates the alias dependency structure of an entry list:
// every referenced alias must be produced exactly once, by an earlier entry.
// Entries execute in sequence, so a forward reference can never be
// satisfied and is rejected like a cycle.
func checkBindings(entries []ir.RunbookEntry) CompileErrors {
	var errs CompileErrors

	// Producer index per alias. Duplicate declarations are reported once,
	// at the second declaration site.
	producers := make(map[string]int)
	for i, e := range entries {
		if e.Alias == "" {
			continue
		}
		if first, dup := producers[e.Alias]; dup {
			errs = append(errs, CompileError{
				Code:     ErrDuplicateBinding,
				EntrySeq: e.Seq,
				Op:       e.Op,
				Message:  fmt.Sprintf("binding @%s is already declared by entry %d", e.Alias, entries[first].Seq),
			})
			continue
		}
		producers[e.Alias] = i
	}

	for i, e := range entries {
		for _, alias := range referencedAliases(e.Args) {
			producer, ok := producers[alias]
			if !ok {
				errs = append(errs, CompileError{
					Code:     ErrUnknownBinding,
					EntrySeq: e.Seq,
					Op:       e.Op,
					Message:  fmt.Sprintf("binding @%s is not declared by any entry", alias),
				})
				continue
			}
			if producer >= i {
				errs = append(errs, CompileError{
					Code:     ErrCyclicBinding,
					EntrySeq: e.Seq,
					Op:       e.Op,
					Message:  fmt.Sprintf("binding @%s is used before entry %d produces it", alias, entries[producer].Seq),
				})
			}
		}
	}

	// Cycles among the producers themselves (an entry consuming a binding
	// whose producer depends back on this entry's own alias) are a special
	// case of the forward check above, but reporting them as a cycle path
	// is far more useful than two forward-use errors.
	for _, cycle := range aliasCycles(entries, producers) {
		errs = append(errs, CompileError{
			Code:    ErrCyclicBinding,
			Message: fmt.Sprintf("binding cycle: %s", strings.Join(cycle, " -> ")),
		})
	}

	return errs
}

// referencedAliases collects the alias names an argument map references,
// recursing through lists and maps. Names are deduplicated and sorted so
// error output is stable.
func referencedAliases(args ir.ArgMap) []string {
	seen := make(map[string]struct{})
	for _, key := range args.SortedKeys() {
		walkAliasRefs(args[key], func(name string) {
			seen[name] = struct{}{}
		})
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func walkAliasRefs(v ir.ArgValue, fn func(name string)) {
	switch val := v.(type) {
	case ir.AliasRef:
		fn(val.Name)
	case ir.ArgList:
		for _, item := range val {
			walkAliasRefs(item, fn)
		}
	case ir.ArgMap:
		for _, key := range val.SortedKeys() {
			walkAliasRefs(val[key], fn)
		}
	}
}

// aliasCycles finds strongly connected components in the alias dependency
// graph using Tarjan's algorithm. Edges run from an alias to the aliases
// its producing entry consumes. Each cycle is returned as a closed path of
// @alias labels.
func aliasCycles(entries []ir.RunbookEntry, producers map[string]int) [][]string {
	graph := make(map[string][]string, len(producers))
	for alias, idx := range producers {
		deps := referencedAliases(entries[idx].Args)
		edges := make([]string, 0, len(deps))
		for _, dep := range deps {
			if _, ok := producers[dep]; ok {
				edges = append(edges, dep)
			}
		}
		graph[alias] = edges
	}

	sccs := tarjanSCC(graph)

	var cycles [][]string
	for _, scc := range sccs {
		if len(scc) == 1 && !hasSelfLoop(scc[0], graph) {
			continue
		}
		sort.Strings(scc)
		path := make([]string, 0, len(scc)+1)
		for _, alias := range scc {
			path = append(path, "@"+alias)
		}
		path = append(path, "@"+scc[0])
		cycles = append(cycles, path)
	}

	// Stable report order across runs.
	sort.Slice(cycles, func(i, j int) bool { return cycles[i][0] < cycles[j][0] })
	return cycles
}

func hasSelfLoop(node string, graph map[string][]string) bool {
	for _, neighbor := range graph[node] {
		if neighbor == node {
			return true
		}
	}
	return false
}

// tarjanSCC finds strongly connected components.
// Single-node SCCs without self-loops are NOT cycles.
func tarjanSCC(graph map[string][]string) [][]string {
	var (
		index   = 0
		stack   []string
		indices = make(map[string]int)
		lowlink = make(map[string]int)
		onStack = make(map[string]bool)
		sccs    [][]string
	)

	var strongConnect func(string)
	strongConnect = func(v string) {
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range graph[v] {
			if _, visited := indices[w]; !visited {
				strongConnect(w)
				lowlink[v] = min(lowlink[v], lowlink[w])
			} else if onStack[w] {
				lowlink[v] = min(lowlink[v], indices[w])
			}
		}

		if lowlink[v] == indices[v] {
			var scc []string
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				scc = append(scc, w)
				if w == v {
					break
				}
			}
			sccs = append(sccs, scc)
		}
	}

	// Deterministic visit order keeps SCC output stable for error reports.
	nodes := make([]string, 0, len(graph))
	for node := range graph {
		nodes = append(nodes, node)
	}
	sort.Strings(nodes)
	for _, node := range nodes {
		if _, visited := indices[node]; !visited {
			strongConnect(node)
		}
	}

	return sccs
}
