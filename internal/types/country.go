package types

import (
	"time"

	"github.com/google/uuid"
)

// Country matches the countries table structure. Countries are created
// lazily on first sighting and never deleted.
type Country struct {
	ID        uuid.UUID `json:"id"`
	Code      string    `json:"code"` // normalized ISO 3166-1 alpha-2, unique
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}
