package merge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/triviahound/venue-directory/internal/api"
	"github.com/triviahound/venue-directory/internal/types"
)

var _ Repository = (*PostgresMergeRepo)(nil)

// Repository defines the persistence contract of the merge and
// soft-delete manager. Every operation is one transaction: a violated
// precondition or failed step rolls back entirely, never leaving
// partial state.
type Repository interface {
	Merge(ctx context.Context, primaryID, secondaryID uuid.UUID, actor, notes string) (*types.Venue, error)
	RejectDuplicate(ctx context.Context, aID, bID uuid.UUID, actor string) error
}

type PostgresMergeRepo struct {
	logger *slog.Logger
	pgpool api.PGXPool
}

func NewMergeRepository(pgpool api.PGXPool, logger *slog.Logger) *PostgresMergeRepo {
	return &PostgresMergeRepo{
		logger: logger,
		pgpool: pgpool,
	}
}

// Merge consolidates secondary into primary: dependents are re-pointed,
// secondary is soft-deleted with its merge redirect set, and an audit
// row with a pre-merge snapshot of both venues is appended. Row locks
// are taken NOWAIT so a losing concurrent merge fails immediately with
// ErrMergeConflict instead of queueing.
func (r *PostgresMergeRepo) Merge(ctx context.Context, primaryID, secondaryID uuid.UUID, actor, notes string) (*types.Venue, error) {
	ctx, span := otel.Tracer("MergeRepo").Start(ctx, "Merge", trace.WithAttributes(
		semconv.DBSystemPostgreSQL,
		attribute.String("venue.primary_id", primaryID.String()),
		attribute.String("venue.secondary_id", secondaryID.String()),
	))
	defer span.End()

	l := r.logger.With(slog.String("method", "Merge"),
		slog.String("primaryID", primaryID.String()), slog.String("secondaryID", secondaryID.String()))

	if primaryID == secondaryID {
		return nil, fmt.Errorf("cannot merge a venue into itself: %w", api.ErrBadRequest)
	}

	tx, err := r.pgpool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	primary, secondary, err := r.lockPair(ctx, tx, primaryID, secondaryID)
	if err != nil {
		l.WarnContext(ctx, "Merge preconditions failed", slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "Preconditions failed")
		return nil, err
	}

	if _, merged := secondary.Status().MergedInto(); merged {
		return nil, fmt.Errorf("secondary venue %s: %w", secondaryID, api.ErrAlreadyMerged)
	}
	if _, merged := primary.Status().MergedInto(); merged {
		// Redirects must point at venues without redirects; a merged
		// primary would create a chain.
		return nil, fmt.Errorf("primary venue %s: %w", primaryID, api.ErrMergeChainRejected)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE events SET venue_id = $1 WHERE venue_id = $2`, primaryID, secondaryID); err != nil {
		return nil, fmt.Errorf("failed to re-point events: %w", err)
	}

	if err := r.rewireCandidates(ctx, tx, primaryID, secondaryID); err != nil {
		return nil, err
	}

	if _, err := tx.Exec(ctx,
		`UPDATE venues SET deleted_at = Now(), merged_into_id = $1, updated_at = Now() WHERE id = $2`,
		primaryID, secondaryID); err != nil {
		return nil, fmt.Errorf("failed to soft-delete secondary venue: %w", err)
	}

	snapshot, err := json.Marshal(types.MergeSnapshot{Primary: *primary, Secondary: *secondary})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal merge snapshot: %w", err)
	}
	var notesArg *string
	if notes != "" {
		notesArg = &notes
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO merge_log (action, primary_id, secondary_id, actor, notes, metadata)
         VALUES ('merge', $1, $2, $3, $4, $5)`,
		primaryID, secondaryID, actor, notesArg, snapshot); err != nil {
		return nil, fmt.Errorf("failed to append merge log: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	l.InfoContext(ctx, "Venues merged", slog.String("actor", actor))
	span.SetStatus(codes.Ok, "Venues merged")
	return primary, nil
}

// lockPair locks both venue rows in id order (avoiding lock-order
// deadlock between concurrent merges) and returns them keyed by role.
func (r *PostgresMergeRepo) lockPair(ctx context.Context, tx pgx.Tx, primaryID, secondaryID uuid.UUID) (primary, secondary *types.Venue, err error) {
	rows, err := tx.Query(ctx, `
        SELECT id, name, address, postcode, lat, lng, place_id, city_id, phone, website,
               created_at, updated_at, deleted_at, merged_into_id
        FROM venues
        WHERE id = ANY($1)
        ORDER BY id
        FOR UPDATE NOWAIT`, []uuid.UUID{primaryID, secondaryID})
	if err != nil {
		if api.IsLockNotAvailable(err) {
			return nil, nil, fmt.Errorf("venue rows locked by another merge: %w", api.ErrMergeConflict)
		}
		return nil, nil, fmt.Errorf("failed to lock venue rows: %w", err)
	}
	defer rows.Close()

	byID := make(map[uuid.UUID]*types.Venue, 2)
	for rows.Next() {
		var v types.Venue
		if err := rows.Scan(
			&v.ID, &v.Name, &v.Address, &v.Postcode, &v.Lat, &v.Lng, &v.PlaceID,
			&v.CityID, &v.Phone, &v.Website, &v.CreatedAt, &v.UpdatedAt, &v.DeletedAt, &v.MergedIntoID,
		); err != nil {
			return nil, nil, fmt.Errorf("failed to scan locked venue: %w", err)
		}
		byID[v.ID] = &v
	}
	if err := rows.Err(); err != nil {
		if api.IsLockNotAvailable(err) {
			return nil, nil, fmt.Errorf("venue rows locked by another merge: %w", api.ErrMergeConflict)
		}
		return nil, nil, fmt.Errorf("failed to read locked venues: %w", err)
	}

	primary, secondary = byID[primaryID], byID[secondaryID]
	if primary == nil {
		return nil, nil, fmt.Errorf("primary venue %s: %w", primaryID, api.ErrNotFound)
	}
	if secondary == nil {
		return nil, nil, fmt.Errorf("secondary venue %s: %w", secondaryID, api.ErrNotFound)
	}
	return primary, secondary, nil
}

// rewireCandidates re-points duplicate candidates referencing the
// secondary venue. The merged pair itself is marked merged; a
// re-pointed pair colliding with an existing candidate row is dropped
// rather than duplicated.
func (r *PostgresMergeRepo) rewireCandidates(ctx context.Context, tx pgx.Tx, primaryID, secondaryID uuid.UUID) error {
	type candRef struct {
		id   uuid.UUID
		a, b uuid.UUID
	}

	rows, err := tx.Query(ctx,
		`SELECT id, venue_a_id, venue_b_id FROM duplicate_candidates
         WHERE venue_a_id = $1 OR venue_b_id = $1`, secondaryID)
	if err != nil {
		return fmt.Errorf("failed to list candidates for rewiring: %w", err)
	}
	refs := make([]candRef, 0, 4)
	for rows.Next() {
		var c candRef
		if err := rows.Scan(&c.id, &c.a, &c.b); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan candidate for rewiring: %w", err)
		}
		refs = append(refs, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to iterate candidates for rewiring: %w", err)
	}

	for _, c := range refs {
		other := c.a
		if other == secondaryID {
			other = c.b
		}
		if other == primaryID {
			if _, err := tx.Exec(ctx,
				`UPDATE duplicate_candidates SET status = 'merged', updated_at = Now() WHERE id = $1`,
				c.id); err != nil {
				return fmt.Errorf("failed to mark candidate merged: %w", err)
			}
			continue
		}

		na, nb := types.OrderPair(primaryID, other)
		sp, err := tx.Begin(ctx)
		if err != nil {
			return fmt.Errorf("failed to open savepoint: %w", err)
		}
		_, err = sp.Exec(ctx,
			`UPDATE duplicate_candidates SET venue_a_id = $1, venue_b_id = $2, updated_at = Now() WHERE id = $3`,
			na, nb, c.id)
		if err == nil {
			if err := sp.Commit(ctx); err != nil {
				return fmt.Errorf("failed to release savepoint: %w", err)
			}
			continue
		}
		_ = sp.Rollback(ctx)
		if !api.IsUniqueViolation(err, "") {
			return fmt.Errorf("failed to rewire candidate: %w", err)
		}
		// The primary already has a candidate with this other venue.
		if _, err := tx.Exec(ctx,
			`DELETE FROM duplicate_candidates WHERE id = $1`, c.id); err != nil {
			return fmt.Errorf("failed to drop colliding candidate: %w", err)
		}
	}
	return nil
}

// RejectDuplicate records a permanent "not a duplicate" decision for
// the canonically-ordered pair. A second rejection of the same pair
// hits the partial unique index and surfaces ErrAlreadyRejected, which
// callers treat as success.
func (r *PostgresMergeRepo) RejectDuplicate(ctx context.Context, aID, bID uuid.UUID, actor string) error {
	ctx, span := otel.Tracer("MergeRepo").Start(ctx, "RejectDuplicate", trace.WithAttributes(
		semconv.DBSystemPostgreSQL,
		attribute.String("venue.a_id", aID.String()),
		attribute.String("venue.b_id", bID.String()),
	))
	defer span.End()

	l := r.logger.With(slog.String("method", "RejectDuplicate"))

	if aID == bID {
		return fmt.Errorf("cannot reject a venue against itself: %w", api.ErrBadRequest)
	}
	first, second := types.OrderPair(aID, bID)

	tx, err := r.pgpool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO merge_log (action, primary_id, secondary_id, actor)
         VALUES ('reject_duplicate', $1, $2, $3)`,
		first, second, actor)
	if err != nil {
		if api.IsUniqueViolation(err, "") {
			l.DebugContext(ctx, "Pair already rejected",
				slog.String("a", first.String()), slog.String("b", second.String()))
			span.SetStatus(codes.Ok, "Pair already rejected")
			return fmt.Errorf("pair (%s, %s): %w", first, second, api.ErrAlreadyRejected)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "DB INSERT failed")
		return fmt.Errorf("failed to append rejection log: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE duplicate_candidates SET status = 'rejected', updated_at = Now()
         WHERE venue_a_id = $1 AND venue_b_id = $2 AND status = 'pending'`,
		first, second); err != nil {
		return fmt.Errorf("failed to mark candidate rejected: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	l.InfoContext(ctx, "Duplicate pair rejected", slog.String("actor", actor))
	span.SetStatus(codes.Ok, "Pair rejected")
	return nil
}
