package dedupe

import (
	"log/slog"
	"net/http"
	"strconv"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"

	"github.com/triviahound/venue-directory/app/observability/metrics"
	"github.com/triviahound/venue-directory/internal/api"
	"github.com/triviahound/venue-directory/internal/types"
)

const defaultCandidateLimit = 100

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

// candidateResponse decorates a candidate with its confidence band; the
// band is presentation only and never stored.
type candidateResponse struct {
	types.DuplicateCandidate
	Band types.ConfidenceBand `json:"band"`
}

// Scan handles POST /duplicates/scan - triggers one detector pass and
// returns its summary. The same pass also runs on the background
// schedule; this endpoint exists for operators.
func (h *HandlerImpl) Scan(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("DedupeHandler").Start(r.Context(), "Scan")
	defer span.End()

	l := h.logger.With(slog.String("handler", "Scan"))
	l.InfoContext(ctx, "Manual duplicate scan requested")

	summary, err := h.service.Scan(ctx)
	if err != nil {
		l.ErrorContext(ctx, "Duplicate scan failed", slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "Scan failed")
		api.ErrorResponse(w, r, http.StatusInternalServerError, "duplicate scan failed")
		return
	}

	m := metrics.Get()
	m.DuplicatePairsScoredTotal.Add(ctx, int64(summary.PairsCompared))
	m.DuplicateCandidatesTotal.Add(ctx, int64(summary.CandidatesUpserted))
	m.ScanBucketFailuresTotal.Add(ctx, int64(summary.BucketsFailed))

	span.SetStatus(codes.Ok, "Scan completed")
	api.WriteJSONResponse(w, r, http.StatusOK, summary)
}

// ListCandidates handles GET /duplicates - pending candidates ordered
// by descending confidence, labeled with their band.
func (h *HandlerImpl) ListCandidates(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("DedupeHandler").Start(r.Context(), "ListCandidates")
	defer span.End()

	l := h.logger.With(slog.String("handler", "ListCandidates"))

	limit := defaultCandidateLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			api.ErrorResponse(w, r, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = parsed
	}

	cands, err := h.service.ListPendingCandidates(ctx, limit)
	if err != nil {
		l.ErrorContext(ctx, "Failed to list candidates", slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "Service operation failed")
		api.ErrorResponse(w, r, http.StatusInternalServerError, "failed to list candidates")
		return
	}

	resp := make([]candidateResponse, 0, len(cands))
	for _, c := range cands {
		resp = append(resp, candidateResponse{DuplicateCandidate: c, Band: c.Band()})
	}

	span.SetStatus(codes.Ok, "Candidates returned")
	api.WriteJSONResponse(w, r, http.StatusOK, resp)
}
