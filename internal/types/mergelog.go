package types

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// MergeAction discriminates merge_log rows.
type MergeAction string

const (
	ActionMerge           MergeAction = "merge"
	ActionRejectDuplicate MergeAction = "reject_duplicate"
)

// MergeLogEntry is an immutable audit record. For reject_duplicate the
// (primary, secondary) pair is unique so the same pair cannot be
// rejected twice. Metadata carries a pre-merge snapshot of both venues
// for forensic recovery.
type MergeLogEntry struct {
	ID          uuid.UUID       `json:"id"`
	Action      MergeAction     `json:"action"`
	PrimaryID   uuid.UUID       `json:"primary_id"`
	SecondaryID uuid.UUID       `json:"secondary_id"`
	Actor       string          `json:"actor"`
	Notes       *string         `json:"notes,omitempty"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// MergeSnapshot is the metadata payload written on a merge.
type MergeSnapshot struct {
	Primary   Venue `json:"primary"`
	Secondary Venue `json:"secondary"`
}
