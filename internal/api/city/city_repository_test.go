package city

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupCityRepoTest(t *testing.T) (*PostgresCityRepo, pgxmock.PgxPoolIface) {
	t.Helper()
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mockPool.Close)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewCityRepository(mockPool, logger), mockPool
}

var citySummaryColumns = []string{
	"id", "name", "slug", "code", "country_name", "lat", "lng", "venue_count", "created_at",
}

func TestPostgresCityRepo_ListCities(t *testing.T) {
	ctx := context.Background()

	t.Run("all countries", func(t *testing.T) {
		repo, mockPool := setupCityRepoTest(t)
		now := time.Now()

		mockPool.ExpectQuery(`SELECT c\.id, c\.name, c\.slug, co\.code, co\.name`).
			WithArgs("").
			WillReturnRows(pgxmock.NewRows(citySummaryColumns).
				AddRow(uuid.New(), "London", "london", "GB", "United Kingdom", nil, nil, 12, now).
				AddRow(uuid.New(), "Austin", "austin", "US", "United States", nil, nil, 4, now))

		cities, err := repo.ListCities(ctx, "")
		require.NoError(t, err)
		require.Len(t, cities, 2)
		assert.Equal(t, "london", cities[0].Slug)
		assert.Equal(t, 12, cities[0].VenueCount)
		require.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("filtered by country", func(t *testing.T) {
		repo, mockPool := setupCityRepoTest(t)
		now := time.Now()

		mockPool.ExpectQuery(`SELECT c\.id, c\.name, c\.slug, co\.code, co\.name`).
			WithArgs("GB").
			WillReturnRows(pgxmock.NewRows(citySummaryColumns).
				AddRow(uuid.New(), "London", "london", "GB", "United Kingdom", nil, nil, 12, now))

		cities, err := repo.ListCities(ctx, "GB")
		require.NoError(t, err)
		require.Len(t, cities, 1)
		assert.Equal(t, "GB", cities[0].CountryCode)
		require.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("empty directory", func(t *testing.T) {
		repo, mockPool := setupCityRepoTest(t)

		mockPool.ExpectQuery(`SELECT c\.id, c\.name, c\.slug, co\.code, co\.name`).
			WithArgs("").
			WillReturnRows(pgxmock.NewRows(citySummaryColumns))

		cities, err := repo.ListCities(ctx, "")
		require.NoError(t, err)
		assert.Empty(t, cities)
		require.NoError(t, mockPool.ExpectationsWereMet())
	})
}
