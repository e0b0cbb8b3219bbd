package merge

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/triviahound/venue-directory/internal/types"
)

var _ Service = (*ServiceImpl)(nil)

// Service orchestrates merge and rejection decisions made by curators.
type Service interface {
	MergeVenues(ctx context.Context, primaryID, secondaryID uuid.UUID, actor, notes string) (*types.Venue, error)
	RejectDuplicate(ctx context.Context, aID, bID uuid.UUID, actor string) error
}

type ServiceImpl struct {
	logger *slog.Logger
	repo   Repository
}

func NewMergeService(repo Repository, logger *slog.Logger) *ServiceImpl {
	return &ServiceImpl{
		logger: logger,
		repo:   repo,
	}
}

func (s *ServiceImpl) MergeVenues(ctx context.Context, primaryID, secondaryID uuid.UUID, actor, notes string) (*types.Venue, error) {
	ctx, span := otel.Tracer("MergeService").Start(ctx, "MergeVenues", trace.WithAttributes(
		attribute.String("venue.primary_id", primaryID.String()),
		attribute.String("venue.secondary_id", secondaryID.String()),
	))
	defer span.End()

	l := s.logger.With(slog.String("method", "MergeVenues"),
		slog.String("primaryID", primaryID.String()), slog.String("secondaryID", secondaryID.String()))
	l.DebugContext(ctx, "Merging venues", slog.String("actor", actor))

	venue, err := s.repo.Merge(ctx, primaryID, secondaryID, actor, notes)
	if err != nil {
		l.ErrorContext(ctx, "Failed to merge venues", slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "Merge failed")
		return nil, err
	}

	span.SetStatus(codes.Ok, "Venues merged")
	return venue, nil
}

func (s *ServiceImpl) RejectDuplicate(ctx context.Context, aID, bID uuid.UUID, actor string) error {
	ctx, span := otel.Tracer("MergeService").Start(ctx, "RejectDuplicate", trace.WithAttributes(
		attribute.String("venue.a_id", aID.String()),
		attribute.String("venue.b_id", bID.String()),
	))
	defer span.End()

	l := s.logger.With(slog.String("method", "RejectDuplicate"))
	l.DebugContext(ctx, "Rejecting duplicate pair", slog.String("actor", actor))

	if err := s.repo.RejectDuplicate(ctx, aID, bID, actor); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Rejection failed")
		return err
	}

	span.SetStatus(codes.Ok, "Pair rejected")
	return nil
}
