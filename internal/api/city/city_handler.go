package city

import (
	"errors"
	"log/slog"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"

	"github.com/triviahound/venue-directory/internal/api"
)

var _ Handler = (*HandlerImpl)(nil)

type Handler interface {
	ListCities(w http.ResponseWriter, r *http.Request)
}

type HandlerImpl struct {
	service Service
	logger  *slog.Logger
}

func NewCityHandler(service Service, logger *slog.Logger) *HandlerImpl {
	return &HandlerImpl{
		service: service,
		logger:  logger,
	}
}

// ListCities serves the directory's city index, optionally filtered by
// the ?country query parameter (ISO 3166-1 alpha-2).
func (h *HandlerImpl) ListCities(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("CityHandler").Start(r.Context(), "ListCities")
	defer span.End()

	l := h.logger.With(slog.String("handler", "ListCities"))

	cities, err := h.service.ListCities(ctx, r.URL.Query().Get("country"))
	if err != nil {
		l.ErrorContext(ctx, "Failed to list cities", slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "Listing failed")
		if errors.Is(err, api.ErrBadRequest) {
			api.ErrorResponse(w, r, http.StatusBadRequest, err.Error())
			return
		}
		api.ErrorResponse(w, r, http.StatusInternalServerError, "failed to list cities")
		return
	}

	span.SetStatus(codes.Ok, "Cities listed")
	api.WriteJSONResponse(w, r, http.StatusOK, cities)
}
