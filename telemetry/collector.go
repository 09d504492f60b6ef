package telemetry

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// HealthSource lists tables and reports whether each has checkpoints or conflicts
type HealthSource interface {
	ListTables(ctx context.Context) ([]string, error)
	TableHealthFlags(ctx context.Context, tableID string) (hasCheckpoints, hasConflicts bool, err error)
}

// MetricsCollector periodically collects table health and updates telemetry gauges
type MetricsCollector struct {
	source   HealthSource
	interval time.Duration
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewMetricsCollector creates a new metrics collector
func NewMetricsCollector(source HealthSource, interval time.Duration) *MetricsCollector {
	return &MetricsCollector{
		source:   source,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the periodic collection
func (mc *MetricsCollector) Start() {
	mc.wg.Add(1)
	go mc.collectLoop()
}

// Stop stops the collector
func (mc *MetricsCollector) Stop() {
	close(mc.stopCh)
	mc.wg.Wait()
}

func (mc *MetricsCollector) collectLoop() {
	defer mc.wg.Done()

	ticker := time.NewTicker(mc.interval)
	defer ticker.Stop()

	mc.Collect(context.Background())

	for {
		select {
		case <-ticker.C:
			mc.Collect(context.Background())
		case <-mc.stopCh:
			return
		}
	}
}

// Collect runs one collection pass
func (mc *MetricsCollector) Collect(ctx context.Context) {
	if mc.source == nil {
		return
	}

	tables, err := mc.source.ListTables(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Health collector failed to list tables")
		return
	}
	TablesTotal.Set(float64(len(tables)))

	for _, table := range tables {
		checkpoints, conflicts, err := mc.source.TableHealthFlags(ctx, table)
		if err != nil {
			log.Warn().Err(err).Str("table", table).Msg("Health collector failed to read table health")
			continue
		}
		TableHealth.With(table, "checkpoints").Set(boolGauge(checkpoints))
		TableHealth.With(table, "conflicts").Set(boolGauge(conflicts))
	}
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
