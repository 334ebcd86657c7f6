package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/dandisql/mirror/pkg/jsonutil"
)

// Document structs mirror the loosely-typed JSON the archive publishes.
// Fields the archive serializes inconsistently (string-or-number,
// string-or-list) are held as json.RawMessage and decoded through accessor
// methods; everything else is typed directly so malformed documents fail fast
// at the client boundary.

// DandisetDocument is the full metadata document for one dandiset version.
type DandisetDocument struct {
	ID               string                `json:"id"`         // "DANDI:000003/0.230629.1955"
	Identifier       string                `json:"identifier"` // "DANDI:000003"
	Version          string                `json:"version"`
	Name             string                `json:"name"`
	Description      string                `json:"description"`
	URL              string                `json:"url"`
	DOI              string                `json:"doi"`
	Citation         string                `json:"citation"`
	SchemaKey        string                `json:"schemaKey"`
	SchemaVersion    string                `json:"schemaVersion"`
	Repository       string                `json:"repository"`
	DateCreated      string                `json:"dateCreated"`
	DateModified     string                `json:"dateModified"`
	DatePublished    string                `json:"datePublished"`
	License          json.RawMessage       `json:"license"`
	Keywords         json.RawMessage       `json:"keywords"`
	StudyTarget      json.RawMessage       `json:"studyTarget"`
	Protocol         json.RawMessage       `json:"protocol"`
	Acknowledgement  string                `json:"acknowledgement"`
	ManifestLocation json.RawMessage       `json:"manifestLocation"`
	Contributors     []ContributorDocument `json:"contributor"`
	About            []AboutDocument       `json:"about"`
	Access           []AccessDocument      `json:"access"`
	RelatedResources []ResourceDocument    `json:"relatedResource"`
	AssetsSummary    *AssetsSummaryDoc     `json:"assetsSummary"`
	PublishedBy      *ActivityDocument     `json:"publishedBy"`
	WasGeneratedBy   []ActivityDocument    `json:"wasGeneratedBy"`
}

// LicenseList returns the license field as a list regardless of shape.
func (d *DandisetDocument) LicenseList() []string { return jsonutil.FlexibleStringList(d.License) }

// KeywordList returns the keywords field as a list regardless of shape.
func (d *DandisetDocument) KeywordList() []string { return jsonutil.FlexibleStringList(d.Keywords) }

// StudyTargetList returns the studyTarget field as a list.
func (d *DandisetDocument) StudyTargetList() []string {
	return jsonutil.FlexibleStringList(d.StudyTarget)
}

// ProtocolList returns the protocol field as a list.
func (d *DandisetDocument) ProtocolList() []string { return jsonutil.FlexibleStringList(d.Protocol) }

// ManifestLocationList returns the manifestLocation field as a list.
func (d *DandisetDocument) ManifestLocationList() []string {
	return jsonutil.FlexibleStringList(d.ManifestLocation)
}

// IsDraft reports whether the document describes an unpublished draft.
func (d *DandisetDocument) IsDraft() bool { return d.Version == "" || d.Version == "draft" }

// ContributorDocument is one entry of a dandiset's contributor list.
type ContributorDocument struct {
	Name              string               `json:"name"`
	Identifier        string               `json:"identifier"`
	Email             string               `json:"email"`
	URL               string               `json:"url"`
	AwardNumber       string               `json:"awardNumber"`
	SchemaKey         string               `json:"schemaKey"`
	RoleName          json.RawMessage      `json:"roleName"`
	IncludeInCitation *bool                `json:"includeInCitation"`
	Affiliations      []AffiliationDocument `json:"affiliation"`
}

// Roles returns the roleName field as a list regardless of shape.
func (c *ContributorDocument) Roles() []string { return jsonutil.FlexibleStringList(c.RoleName) }

// AffiliationDocument is a contributor's institutional affiliation.
type AffiliationDocument struct {
	Name       string `json:"name"`
	Identifier string `json:"identifier"`
	SchemaKey  string `json:"schemaKey"`
}

// AboutDocument is one entry of the dandiset's subject-matter list. Only
// Anatomy entries are mirrored; other schema keys are ignored.
type AboutDocument struct {
	Name       string `json:"name"`
	Identifier string `json:"identifier"`
	SchemaKey  string `json:"schemaKey"`
}

// AccessDocument describes an access requirement.
type AccessDocument struct {
	Status         string                `json:"status"`
	SchemaKey      string                `json:"schemaKey"`
	EmbargoedUntil string                `json:"embargoedUntil"`
	ContactPoint   *ContactPointDocument `json:"contactPoint"`
}

// ContactPointDocument is the contact block inside an access requirement.
type ContactPointDocument struct {
	Email     string `json:"email"`
	URL       string `json:"url"`
	SchemaKey string `json:"schemaKey"`
}

// ResourceDocument is one related external resource.
type ResourceDocument struct {
	Identifier   string `json:"identifier"`
	Name         string `json:"name"`
	URL          string `json:"url"`
	Repository   string `json:"repository"`
	Relation     string `json:"relation"`
	ResourceType string `json:"resourceType"`
	SchemaKey    string `json:"schemaKey"`
}

// TypeDocument is the shared shape of typed vocabulary entries (species,
// approach, measurement technique, data standard, sex).
type TypeDocument struct {
	Name       string `json:"name"`
	Identifier string `json:"identifier"`
	SchemaKey  string `json:"schemaKey"`
}

// AssetsSummaryDoc is the statistical rollup embedded in a dandiset document.
type AssetsSummaryDoc struct {
	SchemaKey            string          `json:"schemaKey"`
	NumberOfBytes        json.RawMessage `json:"numberOfBytes"`
	NumberOfFiles        json.RawMessage `json:"numberOfFiles"`
	NumberOfSubjects     json.RawMessage `json:"numberOfSubjects"`
	NumberOfSamples      json.RawMessage `json:"numberOfSamples"`
	NumberOfCells        json.RawMessage `json:"numberOfCells"`
	VariableMeasured     json.RawMessage `json:"variableMeasured"`
	Species              []TypeDocument  `json:"species"`
	Approach             []TypeDocument  `json:"approach"`
	MeasurementTechnique []TypeDocument  `json:"measurementTechnique"`
	DataStandard         []TypeDocument  `json:"dataStandard"`
}

// Bytes returns numberOfBytes tolerant of string encoding.
func (s *AssetsSummaryDoc) Bytes() int64 { return jsonutil.FlexibleInt64(s.NumberOfBytes) }

// Files returns numberOfFiles tolerant of string encoding.
func (s *AssetsSummaryDoc) Files() int64 { return jsonutil.FlexibleInt64(s.NumberOfFiles) }

// Subjects returns numberOfSubjects, or nil when the document omits it.
func (s *AssetsSummaryDoc) Subjects() *int64 { return optionalCount(s.NumberOfSubjects) }

// Samples returns numberOfSamples, or nil when the document omits it.
func (s *AssetsSummaryDoc) Samples() *int64 { return optionalCount(s.NumberOfSamples) }

// Cells returns numberOfCells, or nil when the document omits it.
func (s *AssetsSummaryDoc) Cells() *int64 { return optionalCount(s.NumberOfCells) }

// VariableMeasuredList returns variableMeasured as a list of strings.
func (s *AssetsSummaryDoc) VariableMeasuredList() []string {
	return flexibleValueList(s.VariableMeasured)
}

func optionalCount(raw json.RawMessage) *int64 {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	n := jsonutil.FlexibleInt64(raw)
	return &n
}

// ActivityDocument is a provenance activity.
type ActivityDocument struct {
	ID                string             `json:"id"`
	Name              string             `json:"name"`
	Description       string             `json:"description"`
	SchemaKey         string             `json:"schemaKey"`
	StartDate         string             `json:"startDate"`
	EndDate           string             `json:"endDate"`
	WasAssociatedWith []SoftwareDocument `json:"wasAssociatedWith"`
}

// SoftwareDocument is a software tool associated with an activity.
type SoftwareDocument struct {
	Name       string `json:"name"`
	Identifier string `json:"identifier"`
	Version    string `json:"version"`
	URL        string `json:"url"`
	SchemaKey  string `json:"schemaKey"`
}

// ParticipantDocument is an experimental subject attributed to an asset.
type ParticipantDocument struct {
	Identifier string          `json:"identifier"`
	SchemaKey  string          `json:"schemaKey"`
	Species    *TypeDocument   `json:"species"`
	Sex        *TypeDocument   `json:"sex"`
	Age        json.RawMessage `json:"age"`
}

// AgeMap returns the age block as a generic map, or nil when absent/invalid.
func (p *ParticipantDocument) AgeMap() map[string]any {
	if len(p.Age) == 0 || string(p.Age) == "null" {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(p.Age, &m); err != nil {
		return nil
	}
	return m
}

// AssetDocument is the full metadata document for one asset.
type AssetDocument struct {
	ID                   string                `json:"id"` // "dandiasset:<uuid>"
	Identifier           string                `json:"identifier"`
	Path                 string                `json:"path"`
	ContentSize          json.RawMessage       `json:"contentSize"`
	EncodingFormat       string                `json:"encodingFormat"`
	SchemaKey            string                `json:"schemaKey"`
	SchemaVersion        string                `json:"schemaVersion"`
	DateModified         string                `json:"dateModified"`
	DatePublished        string                `json:"datePublished"`
	BlobDateModified     string                `json:"blobDateModified"`
	Digest               map[string]any        `json:"digest"`
	ContentURL           json.RawMessage       `json:"contentUrl"`
	VariableMeasured     json.RawMessage       `json:"variableMeasured"`
	Access               []AccessDocument      `json:"access"`
	Approach             []TypeDocument        `json:"approach"`
	MeasurementTechnique []TypeDocument        `json:"measurementTechnique"`
	WasAttributedTo      []ParticipantDocument `json:"wasAttributedTo"`
	WasGeneratedBy       []ActivityDocument    `json:"wasGeneratedBy"`
	PublishedBy          *ActivityDocument     `json:"publishedBy"`
}

// AssetID returns the stable archive-wide asset id, preferring the identifier
// field and falling back to the prefixed id ("dandiasset:<uuid>").
func (a *AssetDocument) AssetID() string {
	if a.Identifier != "" {
		return a.Identifier
	}
	if i := strings.IndexByte(a.ID, ':'); i >= 0 {
		return a.ID[i+1:]
	}
	return a.ID
}

// Size returns contentSize tolerant of string encoding.
func (a *AssetDocument) Size() int64 { return jsonutil.FlexibleInt64(a.ContentSize) }

// ContentURLList returns contentUrl as a list regardless of shape.
func (a *AssetDocument) ContentURLList() []string {
	return jsonutil.FlexibleStringList(a.ContentURL)
}

// VariableMeasuredList returns variableMeasured as a list of strings; entries
// the archive encodes as objects are flattened to their JSON text.
func (a *AssetDocument) VariableMeasuredList() []string {
	return flexibleValueList(a.VariableMeasured)
}

// flexibleValueList renders a JSON array of arbitrary values as strings.
func flexibleValueList(raw json.RawMessage) []string {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	var values []json.RawMessage
	if err := json.Unmarshal(raw, &values); err != nil {
		return jsonutil.FlexibleStringList(raw)
	}
	out := make([]string, 0, len(values))
	for _, v := range values {
		out = append(out, jsonutil.FlexibleStringValue(v))
	}
	return out
}

// timeFormats are the timestamp layouts the archive has been observed to
// emit. RFC3339 variants first; the date-only form appears on embargo dates.
var timeFormats = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999", // no zone, assume UTC
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// ParseTime parses an archive timestamp. Empty input yields (nil, nil);
// malformed input yields an error the call site counts without aborting.
func ParseTime(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	for _, layout := range timeFormats {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t, nil
		}
	}
	return nil, fmt.Errorf("unrecognized timestamp %q", s)
}
