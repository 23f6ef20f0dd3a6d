package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/roach88/prestige/internal/dsl"
	"github.com/roach88/prestige/internal/ir"
)

// LoadEntries reads a runbook file and converts it to entries. The format
// follows the extension: .yaml/.yml files are YAML entry lists, everything
// else is parsed as the s-expression DSL.
func LoadEntries(path string) ([]ir.RunbookEntry, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return decodeYAMLEntries(src)
	default:
		prog, err := dsl.Parse(string(src))
		if err != nil {
			return nil, err
		}
		return dsl.Entries(prog)
	}
}

// yamlRunbook is the YAML submission shape:
//
//	entries:
//	  - op: case.create
//	    as: c
//	    mode: durable
//	    args:
//	      business-ref: CBU-1234
type yamlRunbook struct {
	Entries []yamlEntry `yaml:"entries"`
}

type yamlEntry struct {
	Op   string         `yaml:"op"`
	As   string         `yaml:"as"`
	Mode string         `yaml:"mode"`
	Args map[string]any `yaml:"args"`
}

func decodeYAMLEntries(src []byte) ([]ir.RunbookEntry, error) {
	var doc yamlRunbook
	if err := yaml.Unmarshal(src, &doc); err != nil {
		return nil, fmt.Errorf("decode yaml runbook: %w", err)
	}
	if len(doc.Entries) == 0 {
		return nil, fmt.Errorf("yaml runbook has no entries")
	}

	entries := make([]ir.RunbookEntry, 0, len(doc.Entries))
	for seq, ye := range doc.Entries {
		if ye.Op == "" {
			return nil, fmt.Errorf("entry %d: missing op", seq)
		}
		mode := ir.ModeSync
		switch ye.Mode {
		case "", string(ir.ModeSync):
		case string(ir.ModeDurable):
			mode = ir.ModeDurable
		default:
			return nil, fmt.Errorf("entry %d: unknown mode %q", seq, ye.Mode)
		}

		args := ir.ArgMap{}
		for key, raw := range ye.Args {
			val, err := yamlArgValue(raw)
			if err != nil {
				return nil, fmt.Errorf("entry %d: argument %q: %w", seq, key, err)
			}
			args[key] = val
		}

		entries = append(entries, ir.RunbookEntry{
			ID:     uuid.New(),
			Seq:    seq,
			Op:     dsl.NormalizeVerb(ye.Op),
			Args:   args,
			Alias:  strings.TrimPrefix(ye.As, "@"),
			Mode:   mode,
			Status: ir.EntryPending,
		})
	}
	return entries, nil
}

// yamlArgValue maps a decoded YAML value onto the argument model. A string
// starting with "@" is an alias reference, matching the DSL's reading.
func yamlArgValue(raw any) (ir.ArgValue, error) {
	switch v := raw.(type) {
	case string:
		if name, ok := strings.CutPrefix(v, "@"); ok && name != "" {
			return ir.AliasRef{Name: name}, nil
		}
		return ir.ArgString(v), nil
	case bool:
		return ir.ArgBool(v), nil
	case int:
		return ir.ArgInt(v), nil
	case int64:
		return ir.ArgInt(v), nil
	case []any:
		list := make(ir.ArgList, 0, len(v))
		for _, item := range v {
			val, err := yamlArgValue(item)
			if err != nil {
				return nil, err
			}
			list = append(list, val)
		}
		return list, nil
	case map[string]any:
		m := ir.ArgMap{}
		for key, item := range v {
			val, err := yamlArgValue(item)
			if err != nil {
				return nil, err
			}
			m[key] = val
		}
		return m, nil
	default:
		return nil, fmt.Errorf("unsupported value %v (%T)", raw, raw)
	}
}
