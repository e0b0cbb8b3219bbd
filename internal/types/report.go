package types

// GeocodeCountry is the country part of a geocoder response.
type GeocodeCountry struct {
	Name string `json:"name"`
	Code string `json:"code"`
}

// GeocodeCity is the city part of a geocoder response.
type GeocodeCity struct {
	Name string `json:"name"`
}

// GeocodeResult is the output shape of the external geocode resolver.
// It is untrusted input: the ingest service validates presence of
// coordinates and country/city names before resolving anything.
type GeocodeResult struct {
	Country GeocodeCountry `json:"country"`
	City    GeocodeCity    `json:"city"`
	Lat     float64        `json:"lat"`
	Lng     float64        `json:"lng"`
	PlaceID *string        `json:"place_id,omitempty"`
}

// VenueReport is the single strict boundary struct an ingestion worker
// submits. Loose scraper output is normalized into this once, at the
// HTTP boundary; nothing downstream branches on raw input shape.
type VenueReport struct {
	Name       string        `json:"name"`
	RawAddress string        `json:"raw_address"`
	Postcode   *string       `json:"postcode,omitempty"`
	Phone      *string       `json:"phone,omitempty"`
	Website    *string       `json:"website,omitempty"`
	Geocode    GeocodeResult `json:"geocode"`
}
