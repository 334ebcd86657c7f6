package lindi

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilterDropsInlinePayloads(t *testing.T) {
	doc := &Document{
		Refs: map[string]any{
			"acquisition/.zattrs":      `{"neurodata_type": "NWBFile"}`,
			"acquisition/data/0.0":     "base64:AAAA////",
			"acquisition/data/.zarray": []any{"https://blob.example/chunk", float64(0), float64(4096)},
			"units/spike_times":        []any{"a", "b"},
		},
		GenerationMetadata: map[string]any{"generatedBy": "lindi 0.3"},
	}

	got := Filter(doc)

	assert.Contains(t, got.Refs, "acquisition/.zattrs")
	assert.Contains(t, got.Refs, "units/spike_times", "only exactly-three-element arrays are chunk descriptors")
	assert.NotContains(t, got.Refs, "acquisition/data/0.0")
	assert.NotContains(t, got.Refs, "acquisition/data/.zarray")
	assert.Equal(t, "lindi 0.3", got.GenerationMetadata["generatedBy"])
}

func TestFilterDropsEscapedControlStrings(t *testing.T) {
	doc := &Document{
		Refs: map[string]any{
			"bad":  "payload with \\u0007 marker",
			"good": "ordinary value",
		},
	}

	got := Filter(doc)
	assert.NotContains(t, got.Refs, "bad")
	assert.Equal(t, "ordinary value", got.Refs["good"])
}

func TestFilterKeepsEscapedWhitespace(t *testing.T) {
	doc := &Document{
		Refs: map[string]any{
			"tabbed":  "col1\\u0009col2",
			"wrapped": "line1\\u000aline2\\u000d",
			"mixed":   "ok\\u0009text\\u0008gone",
		},
	}

	got := Filter(doc)

	// Escaped tab, LF and CR are benign and never a reason to drop a ref.
	assert.Equal(t, "col1\\u0009col2", got.Refs["tabbed"])
	assert.Equal(t, "line1\\u000aline2\\u000d", got.Refs["wrapped"])
	// A real control escape alongside them still drops the whole string.
	assert.NotContains(t, got.Refs, "mixed")
}

func TestFilterScrubsControlCharacters(t *testing.T) {
	doc := &Document{
		Refs: map[string]any{
			"group/.zattrs": map[string]any{
				"description": "line1\nline2\x00tail",
				"nested":      []any{"ok\ttab", "ctl\x1bseq"},
			},
		},
		GenerationMetadata: map[string]any{
			"note\x00": "value\x07",
		},
	}

	got := Filter(doc)

	attrs, ok := got.Refs["group/.zattrs"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "line1\nline2tail", attrs["description"], "normal whitespace survives, control chars do not")

	nested, ok := attrs["nested"].([]any)
	require.True(t, ok)
	assert.Equal(t, []any{"ok\ttab", "ctlseq"}, nested)

	assert.Equal(t, "value", got.GenerationMetadata["note"])
}

func TestFilterEmptyDocument(t *testing.T) {
	got := Filter(&Document{})
	assert.NotNil(t, got.Refs)
	assert.NotNil(t, got.GenerationMetadata)
	assert.Empty(t, got.Refs)
}
