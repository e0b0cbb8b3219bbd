package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/triviahound/venue-directory/internal/api"
	"github.com/triviahound/venue-directory/internal/types"
)

// Ensure implementation satisfies the interface
var _ Service = (*ServiceImpl)(nil)

// Service defines the business logic contract for the identity upsert
// pipeline: one geocoded venue report in, one canonical venue out.
type Service interface {
	// ResolveVenue validates and normalizes the report, then resolves
	// or creates Country -> City -> Venue atomically. The bool reports
	// whether a new venue row was created.
	ResolveVenue(ctx context.Context, report types.VenueReport) (*types.Venue, bool, error)
	GetVenue(ctx context.Context, id uuid.UUID) (*types.Venue, error)
}

// ServiceImpl provides the implementation for Service.
type ServiceImpl struct {
	logger *slog.Logger
	repo   Repository
}

// NewServiceImpl creates a new ingest service instance.
func NewServiceImpl(repo Repository, logger *slog.Logger) *ServiceImpl {
	return &ServiceImpl{
		logger: logger,
		repo:   repo,
	}
}

// ResolveVenue normalizes the untrusted report once, at this boundary,
// into a strict ResolvedReport; everything downstream works on that.
func (s *ServiceImpl) ResolveVenue(ctx context.Context, report types.VenueReport) (*types.Venue, bool, error) {
	ctx, span := otel.Tracer("IngestService").Start(ctx, "ResolveVenue", trace.WithAttributes(
		attribute.String("venue.name", report.Name),
		attribute.String("country.code", report.Geocode.Country.Code),
	))
	defer span.End()

	l := s.logger.With(slog.String("method", "ResolveVenue"), slog.String("venue", report.Name))
	l.DebugContext(ctx, "Resolving venue report")

	rec, err := normalizeReport(report)
	if err != nil {
		l.WarnContext(ctx, "Report failed validation", slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "Report validation failed")
		return nil, false, err
	}

	venue, created, err := s.repo.ResolveVenue(ctx, rec)
	if err != nil {
		l.ErrorContext(ctx, "Failed to resolve venue", slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "Venue resolution failed")
		return nil, false, fmt.Errorf("error resolving venue: %w", err)
	}

	l.InfoContext(ctx, "Venue resolved",
		slog.String("venueID", venue.ID.String()), slog.Bool("created", created))
	span.SetAttributes(attribute.String("venue.id", venue.ID.String()))
	span.SetStatus(codes.Ok, "Venue resolved")
	return venue, created, nil
}

// GetVenue fetches a venue by id, including soft-deleted rows so the
// caller can follow a merge redirect.
func (s *ServiceImpl) GetVenue(ctx context.Context, id uuid.UUID) (*types.Venue, error) {
	l := s.logger.With(slog.String("method", "GetVenue"), slog.String("venueID", id.String()))
	l.DebugContext(ctx, "Fetching venue")

	venue, err := s.repo.GetVenue(ctx, id)
	if err != nil {
		l.ErrorContext(ctx, "Failed to fetch venue", slog.Any("error", err))
		return nil, fmt.Errorf("error fetching venue: %w", err)
	}
	return venue, nil
}

// normalizeReport validates the untrusted geocode output and collapses
// the loose report into the strict shape the repository consumes.
func normalizeReport(report types.VenueReport) (ResolvedReport, error) {
	name := strings.Join(strings.Fields(report.Name), " ")
	address := strings.TrimSpace(report.RawAddress)
	if name == "" || address == "" {
		return ResolvedReport{}, api.ErrMissingAddress
	}
	if report.Geocode.Lat == 0 && report.Geocode.Lng == 0 {
		return ResolvedReport{}, api.ErrMissingGeocoordinates
	}

	code := NormalizeCountryCode(report.Geocode.Country.Code)
	countryName := strings.TrimSpace(report.Geocode.Country.Name)
	if len(code) != 2 || countryName == "" {
		return ResolvedReport{}, api.ErrInvalidCountryData
	}

	cityName := NormalizeCityName(report.Geocode.City.Name)
	if cityName == "" {
		return ResolvedReport{}, api.ErrInvalidCityData
	}
	slug := Slugify(cityName)
	if slug == "" {
		return ResolvedReport{}, api.ErrInvalidCityData
	}

	return ResolvedReport{
		Name:        name,
		Address:     address,
		Postcode:    normalizeOptional(report.Postcode, strings.ToUpper),
		Phone:       normalizeOptional(report.Phone, nil),
		Website:     normalizeOptional(report.Website, strings.ToLower),
		Lat:         report.Geocode.Lat,
		Lng:         report.Geocode.Lng,
		PlaceID:     normalizeOptional(report.Geocode.PlaceID, nil),
		CountryName: countryName,
		CountryCode: code,
		CityName:    cityName,
		CitySlug:    slug,
	}, nil
}

// normalizeOptional trims an optional field and drops it entirely when
// blank, so an empty string can never clear a stored value downstream.
func normalizeOptional(val *string, fold func(string) string) *string {
	if val == nil {
		return nil
	}
	v := strings.TrimSpace(*val)
	if v == "" {
		return nil
	}
	if fold != nil {
		v = fold(v)
	}
	return &v
}
