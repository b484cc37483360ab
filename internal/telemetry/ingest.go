package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	apimetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const meterName = "github.com/MrSnakeDoc/integrator/ingest"

// IngestMetrics records one data point set per ingestion run.
type IngestMetrics struct {
	runs     apimetric.Int64Counter
	duration apimetric.Float64Histogram
	entries  apimetric.Int64Gauge
}

// NewIngestMetrics creates the instruments on mp. A nil provider yields
// no-op instruments.
func NewIngestMetrics(mp apimetric.MeterProvider) (*IngestMetrics, error) {
	if mp == nil {
		mp = noop.NewMeterProvider()
	}
	meter := mp.Meter(meterName)

	runs, err := meter.Int64Counter("integrator_ingest_runs_total",
		apimetric.WithDescription("Ingestion runs by terminal status"),
		apimetric.WithUnit("{run}"))
	if err != nil {
		return nil, err
	}
	duration, err := meter.Float64Histogram("integrator_ingest_duration_seconds",
		apimetric.WithDescription("Wall time of one ingestion run"),
		apimetric.WithUnit("s"))
	if err != nil {
		return nil, err
	}
	entries, err := meter.Int64Gauge("integrator_ingest_entries",
		apimetric.WithDescription("Top-level entries in the last imported payload"),
		apimetric.WithUnit("{entry}"))
	if err != nil {
		return nil, err
	}
	return &IngestMetrics{runs: runs, duration: duration, entries: entries}, nil
}

// Record adds one finished run. Safe on a nil receiver.
func (m *IngestMetrics) Record(ctx context.Context, trigger, status, reason string, entries int, elapsed time.Duration) {
	if m == nil {
		return
	}
	attrs := apimetric.WithAttributes(
		attribute.String("trigger", trigger),
		attribute.String("status", status),
		attribute.String("reason", reason),
	)
	m.runs.Add(ctx, 1, attrs)
	m.duration.Record(ctx, elapsed.Seconds(), attrs)
	if status == "imported" {
		m.entries.Record(ctx, int64(entries))
	}
}
