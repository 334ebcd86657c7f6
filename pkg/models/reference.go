package models

// Reference term kinds. Each kind is a lookup table of (identifier, name)
// pairs resolved-or-created by name during upsert: species, experimental
// approaches, measurement techniques, data standards, anatomical terms and
// biological sex values.
const (
	TermSpecies              = "species"
	TermApproach             = "approach"
	TermMeasurementTechnique = "measurement_technique"
	TermDataStandard         = "data_standard"
	TermAnatomy              = "anatomy"
	TermSex                  = "sex"
)

// ReferenceTerm is one row of a typed lookup table. Identifier is an ontology
// id (NCBI taxonomy, UBERON, CHEBI, ...) normalized to compact form before
// matching.
type ReferenceTerm struct {
	ID         int64  `json:"id"`
	Kind       string `json:"kind"`
	Identifier string `json:"identifier"`
	Name       string `json:"name"`
}
