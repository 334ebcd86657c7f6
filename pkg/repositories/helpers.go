// Package repositories contains the data access layer. Every repository
// reads its querier from the context scope set by database.SetScope /
// database.WithTx, so the same code runs against the pool or inside the
// per-entity transaction.
package repositories

import "encoding/json"

// nullString returns nil if the string is empty, otherwise the string pointer.
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// jsonbStrings converts a string slice to a JSONB parameter, storing NULL for
// empty slices.
func jsonbStrings(v []string) any {
	if len(v) == 0 {
		return nil
	}
	return v
}

// jsonbMap converts a map to a JSONB parameter, storing NULL for empty maps.
func jsonbMap(v map[string]any) any {
	if len(v) == 0 {
		return nil
	}
	return v
}

// jsonUnmarshal decodes a JSONB column, tolerating NULL.
func jsonUnmarshal(data []byte, v any) error {
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	return json.Unmarshal(data, v)
}
