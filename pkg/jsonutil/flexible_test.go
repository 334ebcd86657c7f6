package jsonutil

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFlexibleStringValue(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		expected string
	}{
		{"string", `"hello"`, "hello"},
		{"integer", `42`, "42"},
		{"float", `3.5`, "3.5"},
		{"bool", `true`, "true"},
		{"null", `null`, ""},
		{"empty", ``, ""},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, FlexibleStringValue(json.RawMessage(tc.raw)))
		})
	}
}

func TestFlexibleStringList(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		expected []string
	}{
		{"array", `["dcite:Author","dcite:ContactPerson"]`, []string{"dcite:Author", "dcite:ContactPerson"}},
		{"single string", `"dcite:Author"`, []string{"dcite:Author"}},
		{"empty array", `[]`, []string{}},
		{"null", `null`, nil},
		{"empty", ``, nil},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, FlexibleStringList(json.RawMessage(tc.raw)))
		})
	}
}

func TestFlexibleInt64(t *testing.T) {
	assert.Equal(t, int64(123), FlexibleInt64(json.RawMessage(`123`)))
	assert.Equal(t, int64(123), FlexibleInt64(json.RawMessage(`"123"`)))
	assert.Equal(t, int64(9007199254740992), FlexibleInt64(json.RawMessage(`9007199254740992`)))
	assert.Equal(t, int64(0), FlexibleInt64(json.RawMessage(`null`)))
	assert.Equal(t, int64(0), FlexibleInt64(json.RawMessage(`"n/a"`)))
}
