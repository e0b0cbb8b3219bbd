package dedupe

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/triviahound/venue-directory/internal/api"
	"github.com/triviahound/venue-directory/internal/types"
)

var _ Repository = (*PostgresDedupeRepo)(nil)

// Repository defines the persistence contract of the duplicate
// detector. The detector only reads venue state and only writes
// duplicate_candidates rows.
type Repository interface {
	// ListCityBuckets returns the ids of cities holding at least two
	// active venues; cross-bucket pairs are never compared.
	ListCityBuckets(ctx context.Context) ([]uuid.UUID, error)
	ListActiveVenuesByCity(ctx context.Context, cityID uuid.UUID) ([]types.Venue, error)
	// UpsertCandidate inserts or refreshes the canonically-ordered
	// pair. It reports false when the row was skipped: the pair has a
	// standing rejection, or is no longer pending.
	UpsertCandidate(ctx context.Context, cand *types.DuplicateCandidate) (bool, error)
	// ListPendingCandidates returns pending candidates ordered by
	// descending confidence for the review surface.
	ListPendingCandidates(ctx context.Context, limit int) ([]types.DuplicateCandidate, error)
}

type PostgresDedupeRepo struct {
	logger *slog.Logger
	pgpool api.PGXPool
}

func NewDedupeRepository(pgpool api.PGXPool, logger *slog.Logger) *PostgresDedupeRepo {
	return &PostgresDedupeRepo{
		logger: logger,
		pgpool: pgpool,
	}
}

func (r *PostgresDedupeRepo) ListCityBuckets(ctx context.Context) ([]uuid.UUID, error) {
	ctx, span := otel.Tracer("DedupeRepo").Start(ctx, "ListCityBuckets", trace.WithAttributes(
		semconv.DBSystemPostgreSQL,
	))
	defer span.End()

	rows, err := r.pgpool.Query(ctx, `
        SELECT city_id
        FROM venues
        WHERE deleted_at IS NULL
        GROUP BY city_id
        HAVING COUNT(*) > 1`)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "DB SELECT failed")
		return nil, fmt.Errorf("failed to list city buckets: %w", err)
	}
	defer rows.Close()

	var buckets []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan city bucket: %w", err)
		}
		buckets = append(buckets, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate city buckets: %w", err)
	}

	span.SetAttributes(attribute.Int("buckets.count", len(buckets)))
	span.SetStatus(codes.Ok, "Buckets listed")
	return buckets, nil
}

func (r *PostgresDedupeRepo) ListActiveVenuesByCity(ctx context.Context, cityID uuid.UUID) ([]types.Venue, error) {
	rows, err := r.pgpool.Query(ctx, `
        SELECT id, name, address, postcode, lat, lng, place_id, city_id, phone, website,
               created_at, updated_at, deleted_at, merged_into_id
        FROM venues
        WHERE city_id = $1 AND deleted_at IS NULL
        ORDER BY id`, cityID)
	if err != nil {
		return nil, fmt.Errorf("failed to list venues for city: %w", err)
	}
	defer rows.Close()

	var venues []types.Venue
	for rows.Next() {
		var v types.Venue
		if err := rows.Scan(
			&v.ID, &v.Name, &v.Address, &v.Postcode, &v.Lat, &v.Lng, &v.PlaceID,
			&v.CityID, &v.Phone, &v.Website, &v.CreatedAt, &v.UpdatedAt, &v.DeletedAt, &v.MergedIntoID,
		); err != nil {
			return nil, fmt.Errorf("failed to scan venue: %w", err)
		}
		venues = append(venues, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate venues: %w", err)
	}
	return venues, nil
}

// UpsertCandidate is a single statement keyed on the ordered pair: a
// re-scan refreshes scores on a pending row instead of creating a
// second one; pairs with a standing reject_duplicate log entry are
// filtered out by the NOT EXISTS guard, and rows already merged or
// rejected are left untouched by the status predicate.
func (r *PostgresDedupeRepo) UpsertCandidate(ctx context.Context, cand *types.DuplicateCandidate) (bool, error) {
	ctx, span := otel.Tracer("DedupeRepo").Start(ctx, "UpsertCandidate", trace.WithAttributes(
		semconv.DBSystemPostgreSQL,
		attribute.String("db.sql.table", "duplicate_candidates"),
	))
	defer span.End()

	tag, err := r.pgpool.Exec(ctx, `
        INSERT INTO duplicate_candidates
            (venue_a_id, venue_b_id, name_similarity, location_similarity, confidence_score, match_criteria, status)
        SELECT $1, $2, $3, $4, $5, $6, 'pending'
        WHERE NOT EXISTS (
            SELECT 1 FROM merge_log
            WHERE action = 'reject_duplicate' AND primary_id = $1 AND secondary_id = $2
        )
        ON CONFLICT (venue_a_id, venue_b_id) DO UPDATE SET
            name_similarity = EXCLUDED.name_similarity,
            location_similarity = EXCLUDED.location_similarity,
            confidence_score = EXCLUDED.confidence_score,
            match_criteria = EXCLUDED.match_criteria,
            updated_at = Now()
        WHERE duplicate_candidates.status = 'pending'`,
		cand.VenueAID, cand.VenueBID,
		cand.NameSimilarity, cand.LocationSimilarity, cand.ConfidenceScore,
		cand.MatchCriteria,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "DB UPSERT failed")
		return false, fmt.Errorf("failed to upsert duplicate candidate: %w", err)
	}

	span.SetStatus(codes.Ok, "Candidate upserted")
	return tag.RowsAffected() > 0, nil
}

func (r *PostgresDedupeRepo) ListPendingCandidates(ctx context.Context, limit int) ([]types.DuplicateCandidate, error) {
	ctx, span := otel.Tracer("DedupeRepo").Start(ctx, "ListPendingCandidates", trace.WithAttributes(
		semconv.DBSystemPostgreSQL,
	))
	defer span.End()

	rows, err := r.pgpool.Query(ctx, `
        SELECT id, venue_a_id, venue_b_id, name_similarity, location_similarity,
               confidence_score, match_criteria, status, created_at, updated_at
        FROM duplicate_candidates
        WHERE status = 'pending'
        ORDER BY confidence_score DESC, created_at
        LIMIT $1`, limit)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "DB SELECT failed")
		return nil, fmt.Errorf("failed to list pending candidates: %w", err)
	}
	defer rows.Close()

	var cands []types.DuplicateCandidate
	for rows.Next() {
		var c types.DuplicateCandidate
		if err := rows.Scan(
			&c.ID, &c.VenueAID, &c.VenueBID, &c.NameSimilarity, &c.LocationSimilarity,
			&c.ConfidenceScore, &c.MatchCriteria, &c.Status, &c.CreatedAt, &c.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan candidate: %w", err)
		}
		cands = append(cands, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate candidates: %w", err)
	}

	span.SetAttributes(attribute.Int("candidates.count", len(cands)))
	span.SetStatus(codes.Ok, "Pending candidates listed")
	return cands, nil
}
