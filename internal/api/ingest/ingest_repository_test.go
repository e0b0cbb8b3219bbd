package ingest

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"regexp"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/triviahound/venue-directory/internal/api"
)

var venueColumnNames = []string{
	"id", "name", "address", "postcode", "lat", "lng", "place_id",
	"city_id", "phone", "website", "created_at", "updated_at", "deleted_at", "merged_into_id",
}

func setupIngestRepoTest(t *testing.T) (*PostgresIngestRepo, pgxmock.PgxPoolIface) {
	t.Helper()
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mockPool.Close)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewIngestRepository(mockPool, logger), mockPool
}

func TestPostgresIngestRepo_GetVenue(t *testing.T) {
	ctx := context.Background()

	t.Run("found", func(t *testing.T) {
		repo, mockPool := setupIngestRepoTest(t)
		id := uuid.New()
		cityID := uuid.New()
		now := time.Now()

		mockPool.ExpectQuery(regexp.QuoteMeta(`SELECT `+venueColumns+` FROM venues WHERE id = $1`)).
			WithArgs(id).
			WillReturnRows(pgxmock.NewRows(venueColumnNames).AddRow(
				id, "The Crown & Anchor", "12 High Street", nil, 51.5007, -0.1246, nil,
				cityID, nil, nil, now, now, nil, nil,
			))

		venue, err := repo.GetVenue(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, id, venue.ID)
		assert.Equal(t, "The Crown & Anchor", venue.Name)
		assert.Nil(t, venue.DeletedAt)
		require.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("soft-deleted row still returned", func(t *testing.T) {
		repo, mockPool := setupIngestRepoTest(t)
		id := uuid.New()
		target := uuid.New()
		now := time.Now()
		deleted := now.Add(-time.Hour)

		mockPool.ExpectQuery(regexp.QuoteMeta(`SELECT `+venueColumns+` FROM venues WHERE id = $1`)).
			WithArgs(id).
			WillReturnRows(pgxmock.NewRows(venueColumnNames).AddRow(
				id, "Old Name", "1 Somewhere", nil, 51.0, -0.1, nil,
				uuid.New(), nil, nil, now, now, &deleted, &target,
			))

		venue, err := repo.GetVenue(ctx, id)
		require.NoError(t, err)
		require.NotNil(t, venue.MergedIntoID)
		assert.Equal(t, target, *venue.MergedIntoID)
		redirect, merged := venue.Status().MergedInto()
		assert.True(t, merged)
		assert.Equal(t, target, redirect)
		require.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("not found", func(t *testing.T) {
		repo, mockPool := setupIngestRepoTest(t)
		id := uuid.New()

		mockPool.ExpectQuery(regexp.QuoteMeta(`SELECT `+venueColumns+` FROM venues WHERE id = $1`)).
			WithArgs(id).
			WillReturnError(pgx.ErrNoRows)

		_, err := repo.GetVenue(ctx, id)
		assert.ErrorIs(t, err, api.ErrNotFound)
		require.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestPostgresIngestRepo_ResolveVenue_MatchNoDiff(t *testing.T) {
	// A report identical to the stored row must not issue any UPDATE.
	ctx := context.Background()
	repo, mockPool := setupIngestRepoTest(t)

	countryID := uuid.New()
	cityID := uuid.New()
	venueID := uuid.New()
	now := time.Now()

	rec := ResolvedReport{
		Name:        "Quiz Corner",
		Address:     "5 Market Square",
		Lat:         52.95,
		Lng:         -1.15,
		CountryName: "United Kingdom",
		CountryCode: "GB",
		CityName:    "Nottingham",
		CitySlug:    "nottingham",
	}

	mockPool.ExpectBeginTx(pgx.TxOptions{})
	mockPool.ExpectQuery(regexp.QuoteMeta(`SELECT id FROM countries WHERE code = $1`)).
		WithArgs("GB").
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(countryID))
	mockPool.ExpectQuery(regexp.QuoteMeta(`SELECT id, country_id, name FROM cities WHERE slug = $1`)).
		WithArgs("nottingham").
		WillReturnRows(pgxmock.NewRows([]string{"id", "country_id", "name"}).AddRow(cityID, countryID, "Nottingham"))
	mockPool.ExpectQuery(regexp.QuoteMeta(`SELECT `+venueColumns+` FROM venues WHERE name = $1 AND city_id = $2 AND deleted_at IS NULL`)).
		WithArgs("Quiz Corner", cityID).
		WillReturnRows(pgxmock.NewRows(venueColumnNames).AddRow(
			venueID, "Quiz Corner", "5 Market Square", nil, 52.95, -1.15, nil,
			cityID, nil, nil, now, now, nil, nil,
		))
	mockPool.ExpectCommit()
	mockPool.ExpectRollback() // deferred rollback after commit is a no-op

	venue, created, err := repo.ResolveVenue(ctx, rec)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, venueID, venue.ID)
	require.NoError(t, mockPool.ExpectationsWereMet())
}

func TestPostgresIngestRepo_ResolveVenue_PlaceIDMonotonic(t *testing.T) {
	ctx := context.Background()

	baseRec := func() ResolvedReport {
		return ResolvedReport{
			Name:        "Quiz Corner",
			Address:     "5 Market Square",
			Lat:         52.95,
			Lng:         -1.15,
			CountryName: "United Kingdom",
			CountryCode: "GB",
			CityName:    "Nottingham",
			CitySlug:    "nottingham",
		}
	}

	expectLookups := func(mockPool pgxmock.PgxPoolIface, countryID, cityID uuid.UUID) {
		mockPool.ExpectBeginTx(pgx.TxOptions{})
		mockPool.ExpectQuery(regexp.QuoteMeta(`SELECT id FROM countries WHERE code = $1`)).
			WithArgs("GB").
			WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(countryID))
		mockPool.ExpectQuery(regexp.QuoteMeta(`SELECT id, country_id, name FROM cities WHERE slug = $1`)).
			WithArgs("nottingham").
			WillReturnRows(pgxmock.NewRows([]string{"id", "country_id", "name"}).AddRow(cityID, countryID, "Nottingham"))
	}

	t.Run("stored identifier is never overwritten", func(t *testing.T) {
		repo, mockPool := setupIngestRepoTest(t)
		countryID, cityID, venueID := uuid.New(), uuid.New(), uuid.New()
		now := time.Now()

		rec := baseRec()
		rec.Address = "9 New Walk"
		rec.PlaceID = strPtr("g-new")

		expectLookups(mockPool, countryID, cityID)
		mockPool.ExpectQuery(regexp.QuoteMeta(`SELECT `+venueColumns+` FROM venues WHERE place_id = $1 AND deleted_at IS NULL`)).
			WithArgs("g-new").
			WillReturnError(pgx.ErrNoRows)
		mockPool.ExpectQuery(regexp.QuoteMeta(`SELECT `+venueColumns+` FROM venues WHERE name = $1 AND city_id = $2 AND deleted_at IS NULL`)).
			WithArgs("Quiz Corner", cityID).
			WillReturnRows(pgxmock.NewRows(venueColumnNames).AddRow(
				venueID, "Quiz Corner", "5 Market Square", nil, 52.95, -1.15, strPtr("g-old"),
				cityID, nil, nil, now, now, nil, nil,
			))
		// The exact SET clause matters: only the address may change, the
		// stored place identifier must stay out of the statement.
		mockPool.ExpectQuery(regexp.QuoteMeta(`UPDATE venues SET address = $1, updated_at = Now() WHERE id = $2 RETURNING `+venueColumns)).
			WithArgs("9 New Walk", venueID).
			WillReturnRows(pgxmock.NewRows(venueColumnNames).AddRow(
				venueID, "Quiz Corner", "9 New Walk", nil, 52.95, -1.15, strPtr("g-old"),
				cityID, nil, nil, now, now, nil, nil,
			))
		mockPool.ExpectCommit()
		mockPool.ExpectRollback()

		venue, created, err := repo.ResolveVenue(ctx, rec)
		require.NoError(t, err)
		assert.False(t, created)
		require.NotNil(t, venue.PlaceID)
		assert.Equal(t, "g-old", *venue.PlaceID)
		require.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("absent identifier is gained", func(t *testing.T) {
		repo, mockPool := setupIngestRepoTest(t)
		countryID, cityID, venueID := uuid.New(), uuid.New(), uuid.New()
		now := time.Now()

		rec := baseRec()
		rec.PlaceID = strPtr("g-new")

		expectLookups(mockPool, countryID, cityID)
		mockPool.ExpectQuery(regexp.QuoteMeta(`SELECT `+venueColumns+` FROM venues WHERE place_id = $1 AND deleted_at IS NULL`)).
			WithArgs("g-new").
			WillReturnError(pgx.ErrNoRows)
		mockPool.ExpectQuery(regexp.QuoteMeta(`SELECT `+venueColumns+` FROM venues WHERE name = $1 AND city_id = $2 AND deleted_at IS NULL`)).
			WithArgs("Quiz Corner", cityID).
			WillReturnRows(pgxmock.NewRows(venueColumnNames).AddRow(
				venueID, "Quiz Corner", "5 Market Square", nil, 52.95, -1.15, nil,
				cityID, nil, nil, now, now, nil, nil,
			))
		mockPool.ExpectQuery(regexp.QuoteMeta(`UPDATE venues SET place_id = $1, updated_at = Now() WHERE id = $2 RETURNING `+venueColumns)).
			WithArgs("g-new", venueID).
			WillReturnRows(pgxmock.NewRows(venueColumnNames).AddRow(
				venueID, "Quiz Corner", "5 Market Square", nil, 52.95, -1.15, strPtr("g-new"),
				cityID, nil, nil, now, now, nil, nil,
			))
		mockPool.ExpectCommit()
		mockPool.ExpectRollback()

		venue, created, err := repo.ResolveVenue(ctx, rec)
		require.NoError(t, err)
		assert.False(t, created)
		require.NotNil(t, venue.PlaceID)
		assert.Equal(t, "g-new", *venue.PlaceID)
		require.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestPostgresIngestRepo_ResolveVenue_RollbackDiscardsLookupCache(t *testing.T) {
	// Country and city ids minted inside a transaction that later rolls
	// back must not survive in the lookup cache: the next call has to
	// re-select both, or it would hand out ids no row backs.
	ctx := context.Background()
	repo, mockPool := setupIngestRepoTest(t)

	countryID := uuid.New()
	cityID := uuid.New()
	venueID := uuid.New()
	now := time.Now()

	rec := ResolvedReport{
		Name:        "The Ship Inn",
		Address:     "3 Quayside",
		Lat:         54.97,
		Lng:         -1.6,
		CountryName: "United Kingdom",
		CountryCode: "GB",
		CityName:    "Newcastle",
		CitySlug:    "newcastle",
	}

	// First call creates the country and city in-tx, then the venue
	// insert fails hard and everything rolls back.
	mockPool.ExpectBeginTx(pgx.TxOptions{})
	mockPool.ExpectQuery(regexp.QuoteMeta(`SELECT id FROM countries WHERE code = $1`)).
		WithArgs("GB").
		WillReturnError(pgx.ErrNoRows)
	mockPool.ExpectBegin()
	mockPool.ExpectQuery(regexp.QuoteMeta(`INSERT INTO countries (code, name) VALUES ($1, $2) RETURNING id`)).
		WithArgs("GB", "United Kingdom").
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(countryID))
	mockPool.ExpectCommit()
	mockPool.ExpectQuery(regexp.QuoteMeta(`SELECT id, country_id, name FROM cities WHERE slug = $1`)).
		WithArgs("newcastle").
		WillReturnError(pgx.ErrNoRows)
	mockPool.ExpectBegin()
	mockPool.ExpectQuery(regexp.QuoteMeta(`INSERT INTO cities (name, slug, country_id) VALUES ($1, $2, $3) RETURNING id`)).
		WithArgs("Newcastle", "newcastle", countryID).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(cityID))
	mockPool.ExpectCommit()
	mockPool.ExpectQuery(regexp.QuoteMeta(`SELECT `+venueColumns+` FROM venues WHERE name = $1 AND city_id = $2 AND deleted_at IS NULL`)).
		WithArgs("The Ship Inn", cityID).
		WillReturnError(pgx.ErrNoRows)
	mockPool.ExpectBegin()
	mockPool.ExpectQuery(`INSERT INTO venues`).
		WithArgs("The Ship Inn", "3 Quayside", (*string)(nil), 54.97, -1.6, (*string)(nil), cityID, (*string)(nil), (*string)(nil)).
		WillReturnError(errors.New("connection reset"))
	mockPool.ExpectRollback()
	mockPool.ExpectRollback()

	_, _, err := repo.ResolveVenue(ctx, rec)
	require.Error(t, err)

	// Second call must hit the database for both resolutions again; the
	// expectation set below fails if either SELECT is skipped.
	mockPool.ExpectBeginTx(pgx.TxOptions{})
	mockPool.ExpectQuery(regexp.QuoteMeta(`SELECT id FROM countries WHERE code = $1`)).
		WithArgs("GB").
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(countryID))
	mockPool.ExpectQuery(regexp.QuoteMeta(`SELECT id, country_id, name FROM cities WHERE slug = $1`)).
		WithArgs("newcastle").
		WillReturnRows(pgxmock.NewRows([]string{"id", "country_id", "name"}).AddRow(cityID, countryID, "Newcastle"))
	mockPool.ExpectQuery(regexp.QuoteMeta(`SELECT `+venueColumns+` FROM venues WHERE name = $1 AND city_id = $2 AND deleted_at IS NULL`)).
		WithArgs("The Ship Inn", cityID).
		WillReturnError(pgx.ErrNoRows)
	mockPool.ExpectBegin()
	mockPool.ExpectQuery(`INSERT INTO venues`).
		WithArgs("The Ship Inn", "3 Quayside", (*string)(nil), 54.97, -1.6, (*string)(nil), cityID, (*string)(nil), (*string)(nil)).
		WillReturnRows(pgxmock.NewRows(venueColumnNames).AddRow(
			venueID, "The Ship Inn", "3 Quayside", nil, 54.97, -1.6, nil,
			cityID, nil, nil, now, now, nil, nil,
		))
	mockPool.ExpectCommit()
	mockPool.ExpectCommit()
	mockPool.ExpectRollback()

	venue, created, err := repo.ResolveVenue(ctx, rec)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, venueID, venue.ID)
	require.NoError(t, mockPool.ExpectationsWereMet())
}
