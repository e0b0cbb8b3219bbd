package metrics

import (
	"log"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// AppMetrics holds the application's metric instruments.
// Make fields public so they can be accessed from other packages.
type AppMetrics struct {
	VenuesResolvedTotal       metric.Int64Counter
	VenuesCreatedTotal        metric.Int64Counter
	ResolveDurationSeconds    metric.Float64Histogram
	DuplicatePairsScoredTotal metric.Int64Counter
	DuplicateCandidatesTotal  metric.Int64Counter
	ScanBucketFailuresTotal   metric.Int64Counter
	MergesTotal               metric.Int64Counter
	MergeConflictsTotal       metric.Int64Counter
	DuplicateRejectionsTotal  metric.Int64Counter
}

var (
	// Global instance of AppMetrics (initialized once)
	appMetrics *AppMetrics
	once       sync.Once
)

// InitAppMetrics initializes the global metrics instruments ONLY ONCE.
// It gets the Meter from the globally configured MeterProvider.
func InitAppMetrics() {
	once.Do(func() {
		meter := otel.GetMeterProvider().Meter("venue-directory")
		var err error
		m := &AppMetrics{}

		m.VenuesResolvedTotal, err = meter.Int64Counter(
			"venues_resolved_total",
			metric.WithDescription("Total number of venue reports resolved to a canonical venue"),
			metric.WithUnit("{venue}"),
		)
		if err != nil {
			log.Fatalf("Metrics: Failed to create venues_resolved_total: %v", err)
		}

		m.VenuesCreatedTotal, err = meter.Int64Counter(
			"venues_created_total",
			metric.WithDescription("Total number of venue rows newly created by resolution"),
			metric.WithUnit("{venue}"),
		)
		if err != nil {
			log.Fatalf("Metrics: Failed to create venues_created_total: %v", err)
		}

		m.ResolveDurationSeconds, err = meter.Float64Histogram(
			"venue_resolve_duration_seconds",
			metric.WithDescription("Duration of venue resolution in seconds"),
			metric.WithUnit("s"),
		)
		if err != nil {
			log.Fatalf("Metrics: Failed to create venue_resolve_duration_seconds: %v", err)
		}

		m.DuplicatePairsScoredTotal, err = meter.Int64Counter(
			"duplicate_pairs_scored_total",
			metric.WithDescription("Total number of venue pairs compared by the duplicate detector"),
			metric.WithUnit("{pair}"),
		)
		if err != nil {
			log.Fatalf("Metrics: Failed to create duplicate_pairs_scored_total: %v", err)
		}

		m.DuplicateCandidatesTotal, err = meter.Int64Counter(
			"duplicate_candidates_total",
			metric.WithDescription("Total number of duplicate candidates upserted"),
			metric.WithUnit("{candidate}"),
		)
		if err != nil {
			log.Fatalf("Metrics: Failed to create duplicate_candidates_total: %v", err)
		}

		m.ScanBucketFailuresTotal, err = meter.Int64Counter(
			"scan_bucket_failures_total",
			metric.WithDescription("Total number of locality buckets skipped due to errors during a scan"),
			metric.WithUnit("{bucket}"),
		)
		if err != nil {
			log.Fatalf("Metrics: Failed to create scan_bucket_failures_total: %v", err)
		}

		m.MergesTotal, err = meter.Int64Counter(
			"venue_merges_total",
			metric.WithDescription("Total number of completed venue merges"),
			metric.WithUnit("{merge}"),
		)
		if err != nil {
			log.Fatalf("Metrics: Failed to create venue_merges_total: %v", err)
		}

		m.MergeConflictsTotal, err = meter.Int64Counter(
			"venue_merge_conflicts_total",
			metric.WithDescription("Total number of merges aborted by a concurrent writer"),
			metric.WithUnit("{conflict}"),
		)
		if err != nil {
			log.Fatalf("Metrics: Failed to create venue_merge_conflicts_total: %v", err)
		}

		m.DuplicateRejectionsTotal, err = meter.Int64Counter(
			"duplicate_rejections_total",
			metric.WithDescription("Total number of pairs marked as not duplicates"),
			metric.WithUnit("{rejection}"),
		)
		if err != nil {
			log.Fatalf("Metrics: Failed to create duplicate_rejections_total: %v", err)
		}

		log.Println("Application metrics instruments initialized.")
		appMetrics = m
	})
}

// Get returns the globally initialized AppMetrics instance.
// Panics if InitAppMetrics was not called first.
func Get() *AppMetrics {
	if appMetrics == nil {
		// This indicates a programming error - InitAppMetrics must be called at startup.
		panic("metrics instruments not initialized. Call metrics.InitAppMetrics() first.")
	}
	return appMetrics
}
