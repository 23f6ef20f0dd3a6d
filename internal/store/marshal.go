package store

import (
	"encoding/json"
	"fmt"

	"github.com/roach88/prestige/internal/ir"
)

// marshalArgs converts an argument map to canonical JSON TEXT for storage.
// Canonical bytes keep the stored form identical to the bytes hashed by
// ir.EntriesHash.
func marshalArgs(args ir.ArgMap) (string, error) {
	data, err := ir.MarshalCanonical(args)
	if err != nil {
		return "", fmt.Errorf("marshal args: %w", err)
	}
	return string(data), nil
}

// unmarshalArgs parses canonical JSON TEXT back into an argument map.
// Tagged forms ($alias, $attr, $doc, $kw, $dec) round-trip to their typed
// values; large integers go through json.Number to avoid float64 precision
// loss.
func unmarshalArgs(data string) (ir.ArgMap, error) {
	if data == "" || data == "{}" {
		return ir.ArgMap{}, nil
	}
	args, err := ir.UnmarshalArgMap([]byte(data))
	if err != nil {
		return nil, fmt.Errorf("unmarshal args: %w", err)
	}
	return args, nil
}

// marshalWriteSet converts a step's write set to canonical JSON TEXT.
func marshalWriteSet(keys []string) (string, error) {
	data, err := ir.MarshalCanonical(keys)
	if err != nil {
		return "", fmt.Errorf("marshal write set: %w", err)
	}
	return string(data), nil
}

// unmarshalWriteSet parses a stored write set.
func unmarshalWriteSet(data string) ([]string, error) {
	if data == "" || data == "[]" {
		return []string{}, nil
	}
	var keys []string
	if err := json.Unmarshal([]byte(data), &keys); err != nil {
		return nil, fmt.Errorf("unmarshal write set: %w", err)
	}
	return keys, nil
}
