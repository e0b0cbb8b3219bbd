package container

import (
	"context"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	database "github.com/triviahound/venue-directory/app/db"
	"github.com/triviahound/venue-directory/config"
	"github.com/triviahound/venue-directory/internal/api/city"
	"github.com/triviahound/venue-directory/internal/api/dedupe"
	"github.com/triviahound/venue-directory/internal/api/ingest"
	"github.com/triviahound/venue-directory/internal/api/merge"
)

// Container holds all application dependencies
type Container struct {
	Config        *config.Config
	Logger        *slog.Logger
	Pool          *pgxpool.Pool
	IngestHandler *ingest.HandlerImpl
	DedupeHandler *dedupe.HandlerImpl
	MergeHandler  *merge.HandlerImpl
	CityHandler   *city.HandlerImpl
	DedupeService dedupe.Service
}

// NewContainer initializes and returns a new dependency container
func NewContainer(cfg *config.Config, logger *slog.Logger) (*Container, error) {
	// Initialize database
	dbConfig, err := database.NewDatabaseConfig(cfg, logger)
	if err != nil {
		logger.Error("Failed to generate database config", slog.Any("error", err))
		return nil, err
	}

	pool, err := database.Init(dbConfig.ConnectionURL, logger)
	if err != nil {
		logger.Error("Failed to initialize database pool", slog.Any("error", err))
		return nil, err
	}

	ingestRepo := ingest.NewIngestRepository(pool, logger)
	ingestService := ingest.NewServiceImpl(ingestRepo, logger)
	ingestHandler := ingest.NewHandlerImpl(ingestService, logger)

	dedupeRepo := dedupe.NewDedupeRepository(pool, logger)
	dedupeService := dedupe.NewServiceImpl(dedupeRepo, scanPolicy(cfg), logger)
	dedupeHandler := dedupe.NewHandlerImpl(dedupeService, logger)

	mergeRepo := merge.NewMergeRepository(pool, logger)
	mergeService := merge.NewMergeService(mergeRepo, logger)
	mergeHandler := merge.NewMergeHandler(mergeService, logger)

	cityRepo := city.NewCityRepository(pool, logger)
	cityService := city.NewCityService(cityRepo, logger)
	cityHandler := city.NewCityHandler(cityService, logger)

	return &Container{
		Config:        cfg,
		Logger:        logger,
		Pool:          pool,
		IngestHandler: ingestHandler,
		DedupeHandler: dedupeHandler,
		MergeHandler:  mergeHandler,
		CityHandler:   cityHandler,
		DedupeService: dedupeService,
	}, nil
}

// scanPolicy builds the duplicate-scoring policy from config, keeping
// defaults for anything unset.
func scanPolicy(cfg *config.Config) dedupe.Policy {
	policy := dedupe.DefaultPolicy()
	d := cfg.Dedupe
	if d.Workers > 0 {
		policy.Workers = d.Workers
	}
	if d.RadiusMeters > 0 {
		policy.RadiusMeters = d.RadiusMeters
	}
	if d.NameWeight > 0 {
		policy.NameWeight = d.NameWeight
	}
	if d.LocationWeight > 0 {
		policy.LocationWeight = d.LocationWeight
	}
	if d.JaroWinklerWeight > 0 {
		policy.JaroWinklerWeight = d.JaroWinklerWeight
	}
	if d.LevenshteinWeight > 0 {
		policy.LevenshteinWeight = d.LevenshteinWeight
	}
	if d.PostcodeBonus > 0 {
		policy.PostcodeBonus = d.PostcodeBonus
	}
	if d.MinConfidence > 0 {
		policy.MinConfidence = d.MinConfidence
	}
	return policy
}

// Close releases all resources held by the container
func (c *Container) Close() {
	if c.Pool != nil {
		c.Pool.Close()
	}
}

// WaitForDB waits for the database to be ready
func (c *Container) WaitForDB(ctx context.Context) bool {
	return database.WaitForDB(ctx, c.Pool, c.Logger)
}

// RunMigrations runs database migrations
func (c *Container) RunMigrations(connectionURL string) error {
	return database.RunMigrations(connectionURL, c.Logger)
}
