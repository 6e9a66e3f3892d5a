package telemetry

// Latency buckets for local SQLite work
var StoreOpBuckets = []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25}

// Release engine metrics
var (
	// ReleasesPublishedTotal counts created releases by operation
	// (normal_release, gray_release, master_normal_release_merge_to_gray, ...)
	ReleasesPublishedTotal CounterVec = noopCounterVec{}

	// ReleaseFailuresTotal counts rejected or failed release operations by reason
	ReleaseFailuresTotal CounterVec = noopCounterVec{}

	// RollbacksTotal counts successful rollbacks
	RollbacksTotal Counter = NoopStat{}
)

// Change-message pipeline metrics
var (
	// MessagesSentTotal counts appended change-message rows
	MessagesSentTotal Counter = NoopStat{}

	// MessageSendFailuresTotal counts failed appends
	MessageSendFailuresTotal Counter = NoopStat{}

	// MessageCleanDeletesTotal counts duplicate rows removed by the compactor
	MessageCleanDeletesTotal Counter = NoopStat{}

	// MessageCleanQueueDropsTotal counts ids dropped because the clean queue was full
	MessageCleanQueueDropsTotal Counter = NoopStat{}

	// CacheMergesTotal counts cache merges by path (push, scan)
	CacheMergesTotal CounterVec = noopCounterVec{}

	// CacheScanPagesTotal counts catch-up scan pages fetched
	CacheScanPagesTotal Counter = NoopStat{}

	// CacheScanFailuresTotal counts catch-up scan errors (swallowed, retried)
	CacheScanFailuresTotal Counter = NoopStat{}

	// CacheMaxIDScanned exports the cache watermark
	CacheMaxIDScanned Gauge = NoopStat{}
)

// Notification metrics
var (
	// LongPollActive gauges currently held long-poll subscribers
	LongPollActive Gauge = NoopStat{}

	// HubSignalsDroppedTotal counts wakeups dropped on full subscriber buffers
	HubSignalsDroppedTotal Counter = NoopStat{}

	// ForwardPublishTotal counts push-bridge publishes by result (success, failed)
	ForwardPublishTotal CounterVec = noopCounterVec{}
)

// bindMetrics swaps the noop defaults for registry-backed metrics.
// Called from InitializeTelemetry once the registry exists.
func bindMetrics() {
	ReleasesPublishedTotal = NewCounterVec("releases_published_total",
		"Releases created, by operation", []string{"operation"})
	ReleaseFailuresTotal = NewCounterVec("release_failures_total",
		"Rejected or failed release operations, by reason", []string{"reason"})
	RollbacksTotal = NewCounter("rollbacks_total", "Successful release rollbacks")

	MessagesSentTotal = NewCounter("messages_sent_total", "Change messages appended")
	MessageSendFailuresTotal = NewCounter("message_send_failures_total",
		"Change message append failures")
	MessageCleanDeletesTotal = NewCounter("message_clean_deletes_total",
		"Duplicate change-message rows removed by the compactor")
	MessageCleanQueueDropsTotal = NewCounter("message_clean_queue_drops_total",
		"Compaction ids dropped because the clean queue was full")
	CacheMergesTotal = NewCounterVec("cache_merges_total",
		"Cache merges, by update path", []string{"path"})
	CacheScanPagesTotal = NewCounter("cache_scan_pages_total",
		"Catch-up scan pages fetched")
	CacheScanFailuresTotal = NewCounter("cache_scan_failures_total",
		"Catch-up scan failures (retried on next cycle)")
	CacheMaxIDScanned = NewGauge("cache_max_id_scanned",
		"Highest change-message id merged into the cache")

	LongPollActive = NewGauge("long_poll_active", "Currently held long-poll subscribers")
	HubSignalsDroppedTotal = NewCounter("hub_signals_dropped_total",
		"Notification wakeups dropped on full subscriber buffers")
	ForwardPublishTotal = NewCounterVec("forward_publish_total",
		"Push-bridge publishes, by result", []string{"result"})
}
