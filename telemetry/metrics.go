package telemetry

// Histogram bucket definitions for different latency profiles
var (
	// RowOpBuckets for local SQLite row operations (single transaction)
	RowOpBuckets = []float64{0.0001, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 1}

	// TableOpBuckets for DDL and whole-table maintenance
	TableOpBuckets = []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5}
)

// Row lifecycle metrics
var (
	// RowOperationsTotal counts row operations by op (insert, update, delete, checkpoint, ...) and result (success, failed, denied)
	RowOperationsTotal CounterVec = noopCounterVec{}

	// RowOperationDurationSeconds measures row operation latency by op
	RowOperationDurationSeconds HistogramVec = noopHistogramVec{}

	// AuthorizationDenialsTotal counts policy denials by action (NEW_ROW, CHANGE_ROW, DELETE_ROW, MODIFY_FILTER)
	AuthorizationDenialsTotal CounterVec = noopCounterVec{}

	// AttachmentPurgeFailuresTotal counts post-commit attachment purges that failed
	AttachmentPurgeFailuresTotal Counter = NoopStat{}

	// NotificationsDroppedTotal counts row events dropped for slow subscribers
	NotificationsDroppedTotal Counter = NoopStat{}
)

// Conflict metrics
var (
	// ConflictsPlacedTotal counts rows placed into conflict by the sync driver
	ConflictsPlacedTotal Counter = NoopStat{}

	// ConflictsResolvedTotal counts resolutions by strategy (take_server, take_local, take_local_deltas, delete)
	ConflictsResolvedTotal CounterVec = noopCounterVec{}
)

// Metadata and table metrics
var (
	// KVSTypeCorrectionsTotal counts metadata writes whose declared type was forced
	KVSTypeCorrectionsTotal Counter = NoopStat{}

	// TableOperationsTotal counts table-level operations by op (create, open, drop, schema_etag_changed) and result
	TableOperationsTotal CounterVec = noopCounterVec{}

	// TableOperationDurationSeconds measures table-level operation latency
	TableOperationDurationSeconds HistogramVec = noopHistogramVec{}

	// TableHealth tracks per-table health bits by kind (checkpoints, conflicts)
	TableHealth GaugeVec = noopGaugeVec{}

	// TablesTotal tracks number of user tables known to the store
	TablesTotal Gauge = NoopStat{}
)

func initMetrics() {
	RowOperationsTotal = NewCounterVec(
		"row_operations_total",
		"Row operations by op and result",
		[]string{"op", "result"},
	)
	RowOperationDurationSeconds = NewHistogramVec(
		"row_operation_duration_seconds",
		"Row operation duration in seconds",
		[]string{"op"},
		RowOpBuckets,
	)
	AuthorizationDenialsTotal = NewCounterVec(
		"authorization_denials_total",
		"Row authorization denials by action",
		[]string{"action"},
	)
	AttachmentPurgeFailuresTotal = NewCounter(
		"attachment_purge_failures_total",
		"Attachment purges that failed after commit",
	)
	NotificationsDroppedTotal = NewCounter(
		"notifications_dropped_total",
		"Row change events dropped because a subscriber buffer was full",
	)

	ConflictsPlacedTotal = NewCounter(
		"conflicts_placed_total",
		"Rows placed into conflict",
	)
	ConflictsResolvedTotal = NewCounterVec(
		"conflicts_resolved_total",
		"Conflicts resolved by strategy",
		[]string{"strategy"},
	)

	KVSTypeCorrectionsTotal = NewCounter(
		"kvs_type_corrections_total",
		"Metadata writes whose value type was forced to the declared restriction",
	)
	TableOperationsTotal = NewCounterVec(
		"table_operations_total",
		"Table operations by op and result",
		[]string{"op", "result"},
	)
	TableOperationDurationSeconds = NewHistogramVec(
		"table_operation_duration_seconds",
		"Table operation duration in seconds",
		[]string{"op"},
		TableOpBuckets,
	)
	TableHealth = NewGaugeVec(
		"table_health",
		"Whether a table has checkpoints or conflicts (1=yes, 0=no)",
		[]string{"table", "kind"},
	)
	TablesTotal = NewGauge(
		"tables",
		"Number of user tables",
	)
}
