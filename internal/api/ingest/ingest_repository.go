package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/patrickmn/go-cache"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/triviahound/venue-directory/internal/api"
	"github.com/triviahound/venue-directory/internal/types"
)

// Bounded optimistic-concurrency retry: attempt insert, on a unique
// violation from a concurrent writer re-select by natural key.
const maxResolveAttempts = 3

var _ Repository = (*PostgresIngestRepo)(nil)

// Repository defines the contract for the identity upsert pipeline's
// persistence. ResolveVenue runs Country -> City -> Venue resolution in
// one transaction; a failure at any step leaves no partial state.
type Repository interface {
	ResolveVenue(ctx context.Context, rec ResolvedReport) (*types.Venue, bool, error)
	// GetVenue retrieves a venue by id including soft-deleted rows, so
	// callers can follow a merge redirect. Returns api.ErrNotFound when
	// no row exists.
	GetVenue(ctx context.Context, id uuid.UUID) (*types.Venue, error)
}

// ResolvedReport is a VenueReport after boundary validation and
// normalization: trimmed fields, uppercased country code, collapsed
// city name and the precomputed base slug.
type ResolvedReport struct {
	Name        string
	Address     string
	Postcode    *string
	Phone       *string
	Website     *string
	Lat         float64
	Lng         float64
	PlaceID     *string
	CountryName string
	CountryCode string
	CityName    string
	CitySlug    string
}

type cachedCity struct {
	ID        uuid.UUID
	CountryID uuid.UUID
}

// cacheStash collects lookup-cache writes produced inside an open
// transaction. Ids minted by in-tx INSERTs must not reach the shared
// cache until the transaction commits; a rollback would otherwise leave
// phantom ids that later calls trust without re-selecting.
type cacheStash map[string]any

func (s cacheStash) add(key string, val any) { s[key] = val }

type PostgresIngestRepo struct {
	logger *slog.Logger
	pgpool api.PGXPool
	// lookup caches immutable resolutions (country code -> id, city
	// slug+country -> id). Entries are never invalidated within their
	// TTL because countries are never deleted and slugs never move
	// between cities; the cache only skips SELECTs, never decides.
	lookup *cache.Cache
}

func NewIngestRepository(pgpool api.PGXPool, logger *slog.Logger) *PostgresIngestRepo {
	return &PostgresIngestRepo{
		logger: logger,
		pgpool: pgpool,
		lookup: cache.New(30*time.Minute, 10*time.Minute),
	}
}

const venueColumns = `id, name, address, postcode, lat, lng, place_id, city_id, phone, website, created_at, updated_at, deleted_at, merged_into_id`

func scanVenue(row pgx.Row) (*types.Venue, error) {
	var v types.Venue
	err := row.Scan(
		&v.ID, &v.Name, &v.Address, &v.Postcode, &v.Lat, &v.Lng, &v.PlaceID,
		&v.CityID, &v.Phone, &v.Website, &v.CreatedAt, &v.UpdatedAt, &v.DeletedAt, &v.MergedIntoID,
	)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// ResolveVenue implements the find-or-create pipeline. It is safe to
// call concurrently with identical or overlapping input; correctness
// relies on the uniqueness constraints plus the bounded retry loops,
// not on application-level locks.
func (r *PostgresIngestRepo) ResolveVenue(ctx context.Context, rec ResolvedReport) (*types.Venue, bool, error) {
	ctx, span := otel.Tracer("IngestRepo").Start(ctx, "ResolveVenue", trace.WithAttributes(
		semconv.DBSystemPostgreSQL,
		attribute.String("venue.name", rec.Name),
		attribute.String("city.slug", rec.CitySlug),
	))
	defer span.End()

	l := r.logger.With(slog.String("method", "ResolveVenue"), slog.String("venue", rec.Name), slog.String("citySlug", rec.CitySlug))

	tx, err := r.pgpool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, false, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	pending := cacheStash{}

	countryID, err := r.resolveCountry(ctx, tx, rec.CountryCode, rec.CountryName, pending)
	if err != nil {
		l.ErrorContext(ctx, "Country resolution failed", slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "Country resolution failed")
		return nil, false, err
	}

	cityID, err := r.resolveCity(ctx, tx, rec, countryID, pending)
	if err != nil {
		l.ErrorContext(ctx, "City resolution failed", slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "City resolution failed")
		return nil, false, err
	}

	venue, created, err := r.resolveVenue(ctx, tx, rec, cityID)
	if err != nil {
		l.ErrorContext(ctx, "Venue resolution failed", slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "Venue resolution failed")
		return nil, false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, false, fmt.Errorf("failed to commit transaction: %w", err)
	}
	for key, val := range pending {
		r.lookup.Set(key, val, cache.DefaultExpiration)
	}

	span.SetAttributes(attribute.String("venue.id", venue.ID.String()), attribute.Bool("venue.created", created))
	span.SetStatus(codes.Ok, "Venue resolved")
	return venue, created, nil
}

// resolveCountry finds or lazily creates the country row. The insert
// attempt runs in a savepoint so a unique violation from a concurrent
// writer does not poison the surrounding transaction.
func (r *PostgresIngestRepo) resolveCountry(ctx context.Context, tx pgx.Tx, code, name string, pending cacheStash) (uuid.UUID, error) {
	cacheKey := "country:" + code
	if hit, ok := r.lookup.Get(cacheKey); ok {
		return hit.(uuid.UUID), nil
	}

	var id uuid.UUID
	for attempt := 1; attempt <= maxResolveAttempts; attempt++ {
		err := tx.QueryRow(ctx, `SELECT id FROM countries WHERE code = $1`, code).Scan(&id)
		if err == nil {
			// Select hits are committed rows, safe to cache right away.
			r.lookup.Set(cacheKey, id, cache.DefaultExpiration)
			return id, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return uuid.Nil, fmt.Errorf("failed to select country: %w", err)
		}

		sp, err := tx.Begin(ctx)
		if err != nil {
			return uuid.Nil, fmt.Errorf("failed to open savepoint: %w", err)
		}
		err = sp.QueryRow(ctx,
			`INSERT INTO countries (code, name) VALUES ($1, $2) RETURNING id`,
			code, name,
		).Scan(&id)
		if err == nil {
			if err := sp.Commit(ctx); err != nil {
				return uuid.Nil, fmt.Errorf("failed to release savepoint: %w", err)
			}
			pending.add(cacheKey, id)
			return id, nil
		}
		_ = sp.Rollback(ctx)
		if api.IsUniqueViolation(err, "") {
			r.logger.DebugContext(ctx, "Lost country insert race, re-selecting",
				slog.String("code", code), slog.Int("attempt", attempt))
			continue
		}
		return uuid.Nil, fmt.Errorf("failed to insert country: %w", err)
	}
	return uuid.Nil, fmt.Errorf("country %s: %w", code, api.ErrUniqueConstraintRace)
}

// resolveCity looks the city up by slug, the global identity key. A
// base-slug hit owned by another country falls through to the
// country-suffixed slug; a suffixed hit owned by another country is a
// data inconsistency, never a silent reassignment.
func (r *PostgresIngestRepo) resolveCity(ctx context.Context, tx pgx.Tx, rec ResolvedReport, countryID uuid.UUID, pending cacheStash) (uuid.UUID, error) {
	cacheKey := "city:" + rec.CitySlug + "|" + rec.CountryCode
	if hit, ok := r.lookup.Get(cacheKey); ok {
		cc := hit.(cachedCity)
		if cc.CountryID != countryID {
			return uuid.Nil, fmt.Errorf("cached city %s belongs to another country: %w", rec.CitySlug, api.ErrInvalidCityData)
		}
		return cc.ID, nil
	}

	candidates := []string{rec.CitySlug, DisambiguateSlug(rec.CitySlug, rec.CountryCode)}

	for attempt := 1; attempt <= maxResolveAttempts; attempt++ {
		for i, slug := range candidates {
			var (
				id        uuid.UUID
				ownerID   uuid.UUID
				ownerName string
			)
			err := tx.QueryRow(ctx,
				`SELECT id, country_id, name FROM cities WHERE slug = $1`, slug,
			).Scan(&id, &ownerID, &ownerName)
			if err == nil {
				if ownerID == countryID {
					r.lookup.Set(cacheKey, cachedCity{ID: id, CountryID: ownerID}, cache.DefaultExpiration)
					return id, nil
				}
				if i == len(candidates)-1 {
					// The country-suffixed slug already embeds our code;
					// a foreign owner means the stored data is wrong.
					return uuid.Nil, fmt.Errorf("city slug %s held by another country: %w", slug, api.ErrInvalidCityData)
				}
				continue
			}
			if !errors.Is(err, pgx.ErrNoRows) {
				return uuid.Nil, fmt.Errorf("failed to select city: %w", err)
			}

			sp, err := tx.Begin(ctx)
			if err != nil {
				return uuid.Nil, fmt.Errorf("failed to open savepoint: %w", err)
			}
			err = sp.QueryRow(ctx,
				`INSERT INTO cities (name, slug, country_id) VALUES ($1, $2, $3) RETURNING id`,
				rec.CityName, slug, countryID,
			).Scan(&id)
			if err == nil {
				if err := sp.Commit(ctx); err != nil {
					return uuid.Nil, fmt.Errorf("failed to release savepoint: %w", err)
				}
				pending.add(cacheKey, cachedCity{ID: id, CountryID: countryID})
				return id, nil
			}
			_ = sp.Rollback(ctx)
			if api.IsUniqueViolation(err, "") {
				// Concurrent insert won the slug; restart from the
				// re-select so we either adopt it or disambiguate.
				r.logger.DebugContext(ctx, "Lost city insert race, re-selecting",
					slog.String("slug", slug), slog.Int("attempt", attempt))
				break
			}
			return uuid.Nil, fmt.Errorf("failed to insert city: %w", err)
		}
	}
	return uuid.Nil, fmt.Errorf("city slug %s: %w", rec.CitySlug, api.ErrSlugConflictUnresolvable)
}

// resolveVenue matches by (i) stable place identifier, (ii) name+city.
// A match with an empty field diff performs no write at all; an insert
// that loses a uniqueness race re-selects and retries, bounded.
func (r *PostgresIngestRepo) resolveVenue(ctx context.Context, tx pgx.Tx, rec ResolvedReport, cityID uuid.UUID) (*types.Venue, bool, error) {
	for attempt := 1; attempt <= maxResolveAttempts; attempt++ {
		existing, err := r.matchVenue(ctx, tx, rec, cityID)
		if err != nil {
			return nil, false, err
		}
		if existing != nil {
			updated, err := r.applyVenueDiff(ctx, tx, existing, rec)
			if err != nil {
				return nil, false, err
			}
			return updated, false, nil
		}

		sp, err := tx.Begin(ctx)
		if err != nil {
			return nil, false, fmt.Errorf("failed to open savepoint: %w", err)
		}
		created, err := scanVenue(sp.QueryRow(ctx,
			`INSERT INTO venues (name, address, postcode, lat, lng, place_id, city_id, phone, website)
             VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
             RETURNING `+venueColumns,
			rec.Name, rec.Address, rec.Postcode, rec.Lat, rec.Lng, rec.PlaceID, cityID, rec.Phone, rec.Website,
		))
		if err == nil {
			if err := sp.Commit(ctx); err != nil {
				return nil, false, fmt.Errorf("failed to release savepoint: %w", err)
			}
			return created, true, nil
		}
		_ = sp.Rollback(ctx)
		if api.IsUniqueViolation(err, "") {
			r.logger.DebugContext(ctx, "Lost venue insert race, re-selecting",
				slog.String("venue", rec.Name), slog.Int("attempt", attempt))
			continue
		}
		return nil, false, fmt.Errorf("failed to insert venue: %w", err)
	}
	return nil, false, fmt.Errorf("venue %s: %w", rec.Name, api.ErrUniqueConstraintRace)
}

func (r *PostgresIngestRepo) matchVenue(ctx context.Context, tx pgx.Tx, rec ResolvedReport, cityID uuid.UUID) (*types.Venue, error) {
	if rec.PlaceID != nil {
		v, err := scanVenue(tx.QueryRow(ctx,
			`SELECT `+venueColumns+` FROM venues WHERE place_id = $1 AND deleted_at IS NULL`, *rec.PlaceID))
		if err == nil {
			return v, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("failed to match venue by place id: %w", err)
		}
	}

	v, err := scanVenue(tx.QueryRow(ctx,
		`SELECT `+venueColumns+` FROM venues WHERE name = $1 AND city_id = $2 AND deleted_at IS NULL`, rec.Name, cityID))
	if err == nil {
		return v, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to match venue by name and city: %w", err)
	}

	// The (name, postcode) constraint spans cities; a racing insert can
	// only be found through it.
	if rec.Postcode != nil {
		v, err := scanVenue(tx.QueryRow(ctx,
			`SELECT `+venueColumns+` FROM venues WHERE name = $1 AND postcode = $2 AND deleted_at IS NULL`, rec.Name, *rec.Postcode))
		if err == nil {
			return v, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("failed to match venue by name and postcode: %w", err)
		}
	}
	return nil, nil
}

// applyVenueDiff computes the field-level diff between the stored row
// and the incoming report and issues an UPDATE only when something
// actually changed, avoiding timestamp churn and downstream event
// storms. A stored place identifier is never cleared or replaced.
func (r *PostgresIngestRepo) applyVenueDiff(ctx context.Context, tx pgx.Tx, existing *types.Venue, rec ResolvedReport) (*types.Venue, error) {
	sets := make([]string, 0, 8)
	args := make([]any, 0, 9)
	add := func(col string, val any) {
		args = append(args, val)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}

	if rec.Address != "" && rec.Address != existing.Address {
		add("address", rec.Address)
	}
	if rec.Postcode != nil && !eqStrPtr(rec.Postcode, existing.Postcode) {
		add("postcode", *rec.Postcode)
	}
	if rec.Lat != existing.Lat || rec.Lng != existing.Lng {
		add("lat", rec.Lat)
		add("lng", rec.Lng)
	}
	if rec.Phone != nil && !eqStrPtr(rec.Phone, existing.Phone) {
		add("phone", *rec.Phone)
	}
	if rec.Website != nil && !eqStrPtr(rec.Website, existing.Website) {
		add("website", *rec.Website)
	}
	if rec.Name != existing.Name {
		add("name", rec.Name)
	}
	// Identifier monotonicity: only an absent stored place_id can gain
	// one; an incoming empty or differing identifier never wins.
	if rec.PlaceID != nil && existing.PlaceID == nil {
		add("place_id", *rec.PlaceID)
	}

	if len(sets) == 0 {
		return existing, nil
	}

	args = append(args, existing.ID)
	query := fmt.Sprintf(
		`UPDATE venues SET %s, updated_at = Now() WHERE id = $%d RETURNING `+venueColumns,
		strings.Join(sets, ", "), len(args),
	)
	updated, err := scanVenue(tx.QueryRow(ctx, query, args...))
	if err != nil {
		return nil, fmt.Errorf("failed to update venue: %w", err)
	}
	return updated, nil
}

func (r *PostgresIngestRepo) GetVenue(ctx context.Context, id uuid.UUID) (*types.Venue, error) {
	ctx, span := otel.Tracer("IngestRepo").Start(ctx, "GetVenue", trace.WithAttributes(
		semconv.DBSystemPostgreSQL,
		attribute.String("venue.id", id.String()),
	))
	defer span.End()

	v, err := scanVenue(r.pgpool.QueryRow(ctx,
		`SELECT `+venueColumns+` FROM venues WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			span.SetStatus(codes.Error, "Venue not found")
			return nil, fmt.Errorf("venue %s: %w", id, api.ErrNotFound)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "DB SELECT failed")
		return nil, fmt.Errorf("failed to fetch venue: %w", err)
	}
	span.SetStatus(codes.Ok, "Venue fetched")
	return v, nil
}

func eqStrPtr(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
