// Package telemetry records task orchestration metrics through OpenTelemetry.
// It uses the global MeterProvider; configure it via otel.SetMeterProvider
// before recording (typically done via clue.ConfigureOpenTelemetry or the
// OTEL_* environment variables).
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/openplane/warehub"

// Metrics records task lifecycle counters and durations. A nil *Metrics is a
// valid no-op recorder so callers need not guard each call site.
type Metrics struct {
	meter metric.Meter
}

// New returns a Metrics recorder on the global MeterProvider.
func New() *Metrics {
	return &Metrics{meter: otel.Meter(meterName)}
}

// TaskSubmitted counts a task accepted by the gateway.
func (m *Metrics) TaskSubmitted(ctx context.Context, kind string) {
	m.inc(ctx, "warehub.tasks.submitted", kind)
}

// TaskRejected counts a submission refused before enqueue.
func (m *Metrics) TaskRejected(ctx context.Context, kind string) {
	m.inc(ctx, "warehub.tasks.rejected", kind)
}

// TaskCompleted counts a task that reached a terminal SUCCESS entry.
func (m *Metrics) TaskCompleted(ctx context.Context, kind string) {
	m.inc(ctx, "warehub.tasks.completed", kind)
}

// TaskFailed counts a task that reached a terminal ERROR entry.
func (m *Metrics) TaskFailed(ctx context.Context, kind string) {
	m.inc(ctx, "warehub.tasks.failed", kind)
}

// TaskDuration records end-to-end execution time of one task.
func (m *Metrics) TaskDuration(ctx context.Context, kind string, d time.Duration) {
	if m == nil {
		return
	}
	hist, err := m.meter.Float64Histogram("warehub.tasks.duration",
		metric.WithUnit("s"))
	if err != nil {
		return
	}
	hist.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("kind", kind)))
}

func (m *Metrics) inc(ctx context.Context, name, kind string) {
	if m == nil {
		return
	}
	counter, err := m.meter.Int64Counter(name)
	if err != nil {
		return
	}
	counter.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}
