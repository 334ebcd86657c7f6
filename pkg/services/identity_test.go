package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeContributorIdentifier(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ""},
		{"orcid url", "https://orcid.org/0000-0002-1825-0097", "0000-0002-1825-0097"},
		{"orcid http url", "http://orcid.org/0000-0002-1825-0097", "0000-0002-1825-0097"},
		{"orcid url without dashes", "https://orcid.org/0000000218250097", "0000-0002-1825-0097"},
		{"orcid with checksum X", "https://orcid.org/0000-0002-1825-009X", "0000-0002-1825-009X"},
		{"ror bare id", "ror.org/01aj84f44", "https://ror.org/01aj84f44"},
		{"ror full url", "https://ror.org/01aj84f44", "https://ror.org/01aj84f44"},
		{"plain name id passes through", "some-grant-123", "some-grant-123"},
		{"whitespace trimmed", "  0000-0002-1825-0097 ", "0000-0002-1825-0097"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeContributorIdentifier(tt.in))
		})
	}
}

func TestNormalizeOntologyIdentifier(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"uberon purl", "http://purl.obolibrary.org/obo/UBERON_0002421", "UBERON:0002421"},
		{"chebi purl", "http://purl.obolibrary.org/obo/CHEBI_15355", "CHEBI:15355"},
		{"already compact", "UBERON:0002421", "UBERON:0002421"},
		{"other ontology untouched", "http://purl.obolibrary.org/obo/GO_0008150", "http://purl.obolibrary.org/obo/GO_0008150"},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeOntologyIdentifier(tt.in))
		})
	}
}
