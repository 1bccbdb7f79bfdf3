// Package telemetry wires OpenTelemetry metrics with a Prometheus exporter.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

const meterName = "github.com/planvista/pfa-server"

// NewMeterProvider builds a metrics provider that exposes everything through
// the process-wide Prometheus registry and installs it globally.
func NewMeterProvider() (*sdkmetric.MeterProvider, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)
	return provider, nil
}

// SyncMetrics holds the instruments emitted by sync runs. A nil *SyncMetrics
// is valid and records nothing, which keeps tests free of metric plumbing.
type SyncMetrics struct {
	runs     metric.Int64Counter
	records  metric.Int64Counter
	duration metric.Float64Histogram
}

// NewSyncMetrics registers the sync instruments on the global meter provider.
func NewSyncMetrics() (*SyncMetrics, error) {
	meter := otel.GetMeterProvider().Meter(meterName)

	runs, err := meter.Int64Counter("pfa_sync_runs_total",
		metric.WithDescription("Completed sync runs by outcome"))
	if err != nil {
		return nil, fmt.Errorf("failed to create run counter: %w", err)
	}
	records, err := meter.Int64Counter("pfa_sync_records_total",
		metric.WithDescription("Synced records by result"))
	if err != nil {
		return nil, fmt.Errorf("failed to create record counter: %w", err)
	}
	duration, err := meter.Float64Histogram("pfa_sync_run_duration_seconds",
		metric.WithDescription("Wall-clock duration of sync runs"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, fmt.Errorf("failed to create duration histogram: %w", err)
	}

	return &SyncMetrics{runs: runs, records: records, duration: duration}, nil
}

// RecordRun counts one finished run and its duration.
func (m *SyncMetrics) RecordRun(ctx context.Context, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	m.runs.Add(ctx, 1, attrs)
	m.duration.Record(ctx, elapsed.Seconds(), attrs)
}

// AddRecords counts records by result (inserted, updated, skipped, errored).
func (m *SyncMetrics) AddRecords(ctx context.Context, result string, n int64) {
	if m == nil || n == 0 {
		return
	}
	m.records.Add(ctx, n, metric.WithAttributes(attribute.String("result", result)))
}
