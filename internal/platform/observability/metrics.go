package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ObservationsIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crawler_observations_ingested_total",
		Help: "The total number of provider observations fed to the dedup index",
	}, []string{"category", "provider"})

	DuplicatesMerged = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crawler_duplicates_merged_total",
		Help: "Observations merged into an existing canonical record",
	}, []string{"category"})

	CanonicalItems = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "crawler_canonical_items",
		Help: "Number of canonical records held by the dedup index",
	}, []string{"category"})

	ProviderSkips = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crawler_provider_skips_total",
		Help: "Provider calls skipped for a keyword, by failure kind",
	}, []string{"provider", "kind"})

	ProviderRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "crawler_provider_request_duration_seconds",
		Help:    "Duration of provider HTTP requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"host"})

	KeywordsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crawler_keywords_processed_total",
		Help: "Keywords fully searched across every provider",
	}, []string{"category"})

	KeywordsRemaining = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "crawler_keywords_remaining",
		Help: "Keywords left in the current run queue",
	}, []string{"category"})

	CheckpointWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crawler_checkpoint_writes_total",
		Help: "Checkpoint writes by status",
	}, []string{"category", "status"})

	RunsPaused = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crawler_runs_paused_total",
		Help: "Runs stopped in ERROR state, by failure kind",
	}, []string{"category", "kind"})

	GateDrops = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crawler_gate_drops_total",
		Help: "Records dropped by the filter cascade, by gate",
	}, []string{"gate"})

	ItemsKept = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crawler_items_kept_total",
		Help: "Records kept by the filter cascade",
	}, []string{"category"})

	ClassifierRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "crawler_classifier_request_duration_seconds",
		Help:    "Duration of zero-shot classifier model calls",
		Buckets: prometheus.DefBuckets,
	}, []string{"model"})

	ClassifierCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crawler_classifier_cache_hits_total",
		Help: "Classification results served from the cache",
	})

	EnrichmentFetches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crawler_enrichment_fetches_total",
		Help: "Description enrichment page fetches by outcome",
	}, []string{"outcome"})

	AuditWriteErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crawler_audit_write_errors_total",
		Help: "Failed discard-audit or kept-item writes",
	}, []string{"sink"})
)
