package city

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"

	"github.com/triviahound/venue-directory/internal/api"
)

var _ Service = (*ServiceImpl)(nil)

type Service interface {
	ListCities(ctx context.Context, countryCode string) ([]CitySummary, error)
}

type ServiceImpl struct {
	logger *slog.Logger
	repo   Repository
}

func NewCityService(repo Repository, logger *slog.Logger) *ServiceImpl {
	return &ServiceImpl{
		logger: logger,
		repo:   repo,
	}
}

func (s *ServiceImpl) ListCities(ctx context.Context, countryCode string) ([]CitySummary, error) {
	ctx, span := otel.Tracer("CityService").Start(ctx, "ListCities")
	defer span.End()

	code := strings.ToUpper(strings.TrimSpace(countryCode))
	if code != "" && len(code) != 2 {
		return nil, fmt.Errorf("country code must be two letters: %w", api.ErrBadRequest)
	}

	cities, err := s.repo.ListCities(ctx, code)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to list cities", slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "Listing failed")
		return nil, err
	}

	span.SetStatus(codes.Ok, "Cities listed")
	return cities, nil
}
