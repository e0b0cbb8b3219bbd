package ingest

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"

	"github.com/triviahound/venue-directory/app/observability/metrics"
	"github.com/triviahound/venue-directory/internal/api"
	"github.com/triviahound/venue-directory/internal/types"
)

type HandlerImpl struct {
	logger  *slog.Logger
	service Service
}

func NewHandlerImpl(service Service, logger *slog.Logger) *HandlerImpl {
	return &HandlerImpl{
		logger:  logger,
		service: service,
	}
}

// ResolveVenue handles POST /ingest/venues - resolves a geocoded venue
// report to its canonical venue, creating rows as needed.
// Responds 201 when a new venue row was created, 200 when an existing
// one matched.
func (h *HandlerImpl) ResolveVenue(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("IngestHandler").Start(r.Context(), "ResolveVenue")
	defer span.End()

	l := h.logger.With(slog.String("handler", "ResolveVenue"))
	start := time.Now()

	var report types.VenueReport
	if err := api.DecodeJSONBody(w, r, &report); err != nil {
		l.WarnContext(ctx, "Invalid request body", slog.Any("error", err))
		span.SetStatus(codes.Error, "Invalid request body")
		api.ErrorResponse(w, r, http.StatusBadRequest, err.Error())
		return
	}

	venue, created, err := h.service.ResolveVenue(ctx, report)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Resolution failed")
		switch {
		case errors.Is(err, api.ErrMissingAddress),
			errors.Is(err, api.ErrMissingGeocoordinates),
			errors.Is(err, api.ErrInvalidCountryData),
			errors.Is(err, api.ErrInvalidCityData):
			api.ErrorResponse(w, r, http.StatusBadRequest, err.Error())
		case errors.Is(err, api.ErrUniqueConstraintRace),
			errors.Is(err, api.ErrSlugConflictUnresolvable):
			api.ErrorResponse(w, r, http.StatusConflict, err.Error())
		default:
			l.ErrorContext(ctx, "Venue resolution failed", slog.Any("error", err))
			api.ErrorResponse(w, r, http.StatusInternalServerError, "failed to resolve venue")
		}
		return
	}

	m := metrics.Get()
	m.VenuesResolvedTotal.Add(ctx, 1)
	if created {
		m.VenuesCreatedTotal.Add(ctx, 1)
	}
	m.ResolveDurationSeconds.Record(ctx, time.Since(start).Seconds())

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	span.SetStatus(codes.Ok, "Venue resolved")
	api.WriteJSONResponse(w, r, status, venue)
}

// GetVenue handles GET /venues/{venueID}. A soft-deleted venue is
// returned with its merge redirect so callers can follow it.
func (h *HandlerImpl) GetVenue(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("IngestHandler").Start(r.Context(), "GetVenue")
	defer span.End()

	l := h.logger.With(slog.String("handler", "GetVenue"))

	id, err := uuid.Parse(chi.URLParam(r, "venueID"))
	if err != nil {
		span.SetStatus(codes.Error, "Invalid venue id")
		api.ErrorResponse(w, r, http.StatusBadRequest, "invalid venue id")
		return
	}

	venue, err := h.service.GetVenue(ctx, id)
	if err != nil {
		if errors.Is(err, api.ErrNotFound) {
			span.SetStatus(codes.Error, "Venue not found")
			api.ErrorResponse(w, r, http.StatusNotFound, "venue not found")
			return
		}
		l.ErrorContext(ctx, "Failed to fetch venue", slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "Service operation failed")
		api.ErrorResponse(w, r, http.StatusInternalServerError, "failed to fetch venue")
		return
	}

	span.SetStatus(codes.Ok, "Venue returned")
	api.WriteJSONResponse(w, r, http.StatusOK, venue)
}
