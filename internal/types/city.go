package types

import (
	"time"

	"github.com/google/uuid"
)

// City matches the cities table structure. The slug is the global
// identity key: it is derived deterministically from the normalized name
// and disambiguated with the country code on cross-country collisions.
type City struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Slug      string    `json:"slug"`
	CountryID uuid.UUID `json:"country_id"`
	Lat       *float64  `json:"lat,omitempty"`
	Lng       *float64  `json:"lng,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
