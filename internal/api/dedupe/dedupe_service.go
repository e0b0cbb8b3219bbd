package dedupe

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/triviahound/venue-directory/internal/types"
)

// Ensure implementation satisfies the interface
var _ Service = (*ServiceImpl)(nil)

// Service defines the business logic contract of the fuzzy duplicate
// detector.
type Service interface {
	// Scan runs one full detector pass: bucket by city, score pairs
	// within each bucket, upsert candidates above the confidence floor.
	// A failing bucket is skipped and reported, never aborts the scan.
	Scan(ctx context.Context) (types.ScanSummary, error)
	ListPendingCandidates(ctx context.Context, limit int) ([]types.DuplicateCandidate, error)
}

// ServiceImpl provides the implementation for Service.
type ServiceImpl struct {
	logger *slog.Logger
	repo   Repository
	policy Policy
}

// NewServiceImpl creates a new detector service. The policy travels as
// an explicit value; nothing about scoring is ambient state.
func NewServiceImpl(repo Repository, policy Policy, logger *slog.Logger) *ServiceImpl {
	return &ServiceImpl{
		logger: logger,
		repo:   repo,
		policy: policy,
	}
}

// Scan compares venues within locality buckets only, so the pass stays
// far from quadratic over the full venue set. Buckets run in parallel,
// bounded by the policy's worker limit.
func (s *ServiceImpl) Scan(ctx context.Context) (types.ScanSummary, error) {
	ctx, span := otel.Tracer("DedupeService").Start(ctx, "Scan")
	defer span.End()

	l := s.logger.With(slog.String("method", "Scan"))
	start := time.Now()

	buckets, err := s.repo.ListCityBuckets(ctx)
	if err != nil {
		l.ErrorContext(ctx, "Failed to list buckets", slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "Bucket listing failed")
		return types.ScanSummary{}, fmt.Errorf("error listing scan buckets: %w", err)
	}

	var pairsCompared, upserted, failed atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	workers := s.policy.Workers
	if workers < 1 {
		workers = 1
	}
	g.SetLimit(workers)

	for _, cityID := range buckets {
		g.Go(func() error {
			pairs, ups, err := s.scanBucket(gctx, cityID)
			pairsCompared.Add(int64(pairs))
			upserted.Add(int64(ups))
			if err != nil {
				// One bad bucket must not abort the pass.
				failed.Add(1)
				l.WarnContext(gctx, "Bucket scan failed, skipping",
					slog.String("cityID", cityID.String()), slog.Any("error", err))
			}
			return nil
		})
	}
	_ = g.Wait()

	summary := types.ScanSummary{
		BucketsScanned:     len(buckets),
		BucketsFailed:      int(failed.Load()),
		PairsCompared:      int(pairsCompared.Load()),
		CandidatesUpserted: int(upserted.Load()),
		Duration:           time.Since(start),
	}

	l.InfoContext(ctx, "Duplicate scan completed",
		slog.Int("buckets", summary.BucketsScanned),
		slog.Int("failed", summary.BucketsFailed),
		slog.Int("pairs", summary.PairsCompared),
		slog.Int("candidates", summary.CandidatesUpserted),
		slog.Duration("duration", summary.Duration),
	)
	span.SetAttributes(
		attribute.Int("scan.buckets", summary.BucketsScanned),
		attribute.Int("scan.pairs", summary.PairsCompared),
		attribute.Int("scan.candidates", summary.CandidatesUpserted),
	)
	span.SetStatus(codes.Ok, "Scan completed")
	return summary, nil
}

// scanBucket compares every venue pair within one city and persists
// the pairs scoring at or above the confidence floor.
func (s *ServiceImpl) scanBucket(ctx context.Context, cityID uuid.UUID) (pairs, upserted int, err error) {
	venues, err := s.repo.ListActiveVenuesByCity(ctx, cityID)
	if err != nil {
		return 0, 0, err
	}

	for i := 0; i < len(venues); i++ {
		for j := i + 1; j < len(venues); j++ {
			pairs++
			score := ScorePair(venues[i], venues[j], s.policy)
			if score.Confidence < s.policy.MinConfidence {
				continue
			}

			aID, bID := types.OrderPair(venues[i].ID, venues[j].ID)
			cand := &types.DuplicateCandidate{
				VenueAID:           aID,
				VenueBID:           bID,
				NameSimilarity:     score.NameSimilarity,
				LocationSimilarity: score.LocationSimilarity,
				ConfidenceScore:    score.Confidence,
				MatchCriteria:      score.Criteria,
				Status:             types.CandidatePending,
			}
			stored, err := s.repo.UpsertCandidate(ctx, cand)
			if err != nil {
				return pairs, upserted, err
			}
			if stored {
				upserted++
			}
		}
	}
	return pairs, upserted, nil
}

// ListPendingCandidates exposes open candidates, highest confidence
// first, for the review surface.
func (s *ServiceImpl) ListPendingCandidates(ctx context.Context, limit int) ([]types.DuplicateCandidate, error) {
	l := s.logger.With(slog.String("method", "ListPendingCandidates"))
	l.DebugContext(ctx, "Fetching pending candidates", slog.Int("limit", limit))

	cands, err := s.repo.ListPendingCandidates(ctx, limit)
	if err != nil {
		l.ErrorContext(ctx, "Failed to fetch pending candidates", slog.Any("error", err))
		return nil, fmt.Errorf("error fetching pending candidates: %w", err)
	}
	return cands, nil
}
