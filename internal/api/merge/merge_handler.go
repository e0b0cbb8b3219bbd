package merge

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"

	"github.com/triviahound/venue-directory/app/observability/metrics"
	"github.com/triviahound/venue-directory/internal/api"
)

var _ Handler = (*HandlerImpl)(nil)

type Handler interface {
	MergeVenues(w http.ResponseWriter, r *http.Request)
	RejectDuplicate(w http.ResponseWriter, r *http.Request)
}

type HandlerImpl struct {
	service Service
	logger  *slog.Logger
}

func NewMergeHandler(service Service, logger *slog.Logger) *HandlerImpl {
	return &HandlerImpl{
		service: service,
		logger:  logger,
	}
}

type mergeRequest struct {
	PrimaryID   uuid.UUID `json:"primary_id"`
	SecondaryID uuid.UUID `json:"secondary_id"`
	Actor       string    `json:"actor"`
	Notes       string    `json:"notes,omitempty"`
}

type rejectRequest struct {
	VenueAID uuid.UUID `json:"venue_a_id"`
	VenueBID uuid.UUID `json:"venue_b_id"`
	Actor    string    `json:"actor"`
}

// MergeVenues consolidates two venues into the designated primary.
func (h *HandlerImpl) MergeVenues(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("MergeHandler").Start(r.Context(), "MergeVenues")
	defer span.End()

	l := h.logger.With(slog.String("handler", "MergeVenues"))

	var req mergeRequest
	if err := api.DecodeJSONBody(w, r, &req); err != nil {
		l.WarnContext(ctx, "Invalid merge request body", slog.Any("error", err))
		api.ErrorResponse(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.PrimaryID == uuid.Nil || req.SecondaryID == uuid.Nil {
		api.ErrorResponse(w, r, http.StatusBadRequest, "primary_id and secondary_id are required")
		return
	}
	if req.Actor == "" {
		api.ErrorResponse(w, r, http.StatusBadRequest, "actor is required")
		return
	}

	venue, err := h.service.MergeVenues(ctx, req.PrimaryID, req.SecondaryID, req.Actor, req.Notes)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Merge failed")
		switch {
		case errors.Is(err, api.ErrBadRequest):
			api.ErrorResponse(w, r, http.StatusBadRequest, err.Error())
		case errors.Is(err, api.ErrNotFound):
			api.ErrorResponse(w, r, http.StatusNotFound, err.Error())
		case errors.Is(err, api.ErrMergeConflict):
			metrics.Get().MergeConflictsTotal.Add(ctx, 1)
			api.ErrorResponse(w, r, http.StatusConflict, err.Error())
		case errors.Is(err, api.ErrAlreadyMerged):
			api.ErrorResponse(w, r, http.StatusConflict, err.Error())
		default:
			api.ErrorResponse(w, r, http.StatusInternalServerError, "failed to merge venues")
		}
		return
	}

	metrics.Get().MergesTotal.Add(ctx, 1)
	span.SetStatus(codes.Ok, "Venues merged")
	api.WriteJSONResponse(w, r, http.StatusOK, venue)
}

// RejectDuplicate marks a candidate pair as not-a-duplicate. Repeated
// rejections of the same pair are idempotent.
func (h *HandlerImpl) RejectDuplicate(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("MergeHandler").Start(r.Context(), "RejectDuplicate")
	defer span.End()

	l := h.logger.With(slog.String("handler", "RejectDuplicate"))

	var req rejectRequest
	if err := api.DecodeJSONBody(w, r, &req); err != nil {
		l.WarnContext(ctx, "Invalid reject request body", slog.Any("error", err))
		api.ErrorResponse(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.VenueAID == uuid.Nil || req.VenueBID == uuid.Nil {
		api.ErrorResponse(w, r, http.StatusBadRequest, "venue_a_id and venue_b_id are required")
		return
	}
	if req.Actor == "" {
		api.ErrorResponse(w, r, http.StatusBadRequest, "actor is required")
		return
	}

	err := h.service.RejectDuplicate(ctx, req.VenueAID, req.VenueBID, req.Actor)
	if err != nil && !errors.Is(err, api.ErrAlreadyRejected) {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Rejection failed")
		if errors.Is(err, api.ErrBadRequest) {
			api.ErrorResponse(w, r, http.StatusBadRequest, err.Error())
			return
		}
		api.ErrorResponse(w, r, http.StatusInternalServerError, "failed to reject duplicate")
		return
	}

	metrics.Get().DuplicateRejectionsTotal.Add(ctx, 1)
	span.SetStatus(codes.Ok, "Pair rejected")
	api.WriteJSONResponse(w, r, http.StatusOK, map[string]bool{"success": true})
}
