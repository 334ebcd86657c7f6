package models

import "time"

// Activity schema keys.
const (
	SchemaKeyActivity        = "Activity"
	SchemaKeyProject         = "Project"
	SchemaKeySession         = "Session"
	SchemaKeyPublishActivity = "PublishActivity"
)

// Activity is a provenance activity (publish activity, recording session,
// project) resolved by name.
type Activity struct {
	ID          int64      `json:"id"`
	Identifier  string     `json:"identifier"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	SchemaKey   string     `json:"schema_key"`
	StartDate   *time.Time `json:"start_date,omitempty"`
	EndDate     *time.Time `json:"end_date,omitempty"`
}

// Software is a tool associated with an activity, resolved by (name, version).
type Software struct {
	ID         int64  `json:"id"`
	Identifier string `json:"identifier"`
	Name       string `json:"name"`
	Version    string `json:"version"`
	URL        string `json:"url"`
}

// Participant is an experimental subject attributed to assets.
type Participant struct {
	ID         int64          `json:"id"`
	Identifier string         `json:"identifier"`
	SpeciesID  *int64         `json:"species_id,omitempty"`
	SexID      *int64         `json:"sex_id,omitempty"`
	Age        map[string]any `json:"age,omitempty"`
	SchemaKey  string         `json:"schema_key"`
}
