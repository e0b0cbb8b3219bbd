package city

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/triviahound/venue-directory/internal/api"
)

var _ Repository = (*PostgresCityRepo)(nil)

// CitySummary is a directory listing row: a city plus how many active
// venues currently resolve into it.
type CitySummary struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Slug        string    `json:"slug"`
	CountryCode string    `json:"country_code"`
	CountryName string    `json:"country_name"`
	Lat         *float64  `json:"lat,omitempty"`
	Lng         *float64  `json:"lng,omitempty"`
	VenueCount  int       `json:"venue_count"`
	CreatedAt   time.Time `json:"created_at"`
}

type Repository interface {
	ListCities(ctx context.Context, countryCode string) ([]CitySummary, error)
}

type PostgresCityRepo struct {
	logger *slog.Logger
	pgpool api.PGXPool
}

func NewCityRepository(pgpool api.PGXPool, logger *slog.Logger) *PostgresCityRepo {
	return &PostgresCityRepo{
		logger: logger,
		pgpool: pgpool,
	}
}

// ListCities returns every city with its active venue count, optionally
// filtered to one ISO country code. Soft-deleted venues do not count.
func (r *PostgresCityRepo) ListCities(ctx context.Context, countryCode string) ([]CitySummary, error) {
	ctx, span := otel.Tracer("CityRepo").Start(ctx, "ListCities", trace.WithAttributes(
		semconv.DBSystemPostgreSQL,
	))
	defer span.End()

	query := `
        SELECT c.id, c.name, c.slug, co.code, co.name, c.lat, c.lng,
               COUNT(v.id) FILTER (WHERE v.deleted_at IS NULL), c.created_at
        FROM cities c
        JOIN countries co ON co.id = c.country_id
        LEFT JOIN venues v ON v.city_id = c.id
        WHERE ($1 = '' OR co.code = $1)
        GROUP BY c.id, c.name, c.slug, co.code, co.name, c.lat, c.lng, c.created_at
        ORDER BY co.code, c.name`

	rows, err := r.pgpool.Query(ctx, query, countryCode)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "DB query failed")
		return nil, fmt.Errorf("failed to list cities: %w", err)
	}
	defer rows.Close()

	cities := make([]CitySummary, 0, 16)
	for rows.Next() {
		var c CitySummary
		if err := rows.Scan(
			&c.ID, &c.Name, &c.Slug, &c.CountryCode, &c.CountryName,
			&c.Lat, &c.Lng, &c.VenueCount, &c.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan city row: %w", err)
		}
		cities = append(cities, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate city rows: %w", err)
	}

	span.SetStatus(codes.Ok, "Cities listed")
	return cities, nil
}
