package types

import (
	"bytes"
	"time"

	"github.com/google/uuid"
)

// Venue matches the venues table structure. A venue row is created on
// first sighting by any ingester; later sightings update it in place.
// Soft deletion only ever happens as the byproduct of a merge, in which
// case MergedIntoID points at the canonical venue.
type Venue struct {
	ID           uuid.UUID  `json:"id"`
	Name         string     `json:"name"`
	Address      string     `json:"address"`
	Postcode     *string    `json:"postcode,omitempty"`
	Lat          float64    `json:"lat"`
	Lng          float64    `json:"lng"`
	PlaceID      *string    `json:"place_id,omitempty"` // authoritative once set
	CityID       uuid.UUID  `json:"city_id"`
	Phone        *string    `json:"phone,omitempty"`
	Website      *string    `json:"website,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	DeletedAt    *time.Time `json:"deleted_at,omitempty"`
	MergedIntoID *uuid.UUID `json:"merged_into_id,omitempty"`
}

// VenueStatus is a tagged variant: a venue is either active or merged
// into exactly one other venue. A redirect target can by construction
// never itself be redirected, so chains are unrepresentable here.
type VenueStatus struct {
	mergedInto *uuid.UUID
}

// Status derives the venue's lifecycle state from the row.
func (v *Venue) Status() VenueStatus {
	if v.MergedIntoID != nil {
		target := *v.MergedIntoID
		return VenueStatus{mergedInto: &target}
	}
	return VenueStatus{}
}

// Active reports whether the venue is the canonical record.
func (s VenueStatus) Active() bool {
	return s.mergedInto == nil
}

// MergedInto returns the redirect target when the venue has been merged
// away.
func (s VenueStatus) MergedInto() (uuid.UUID, bool) {
	if s.mergedInto == nil {
		return uuid.Nil, false
	}
	return *s.mergedInto, true
}

// OrderPair returns the two ids in canonical order (bytewise, which
// matches Postgres uuid ordering) so that pair-keyed rows are unique
// regardless of argument order.
func OrderPair(a, b uuid.UUID) (uuid.UUID, uuid.UUID) {
	if bytes.Compare(a[:], b[:]) <= 0 {
		return a, b
	}
	return b, a
}
