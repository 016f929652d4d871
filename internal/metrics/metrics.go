// Package metrics exports the Runtime Registry's operational gauges and
// counters over Prometheus, via the OTel metrics SDK.
package metrics

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

const meterName = "coderun.runtime_registry"

// Registry holds the instruments the Runtime Registry updates as
// workflows start, finish, and get rejected by the concurrency cap.
type Registry struct {
	provider *sdkmetric.MeterProvider

	runningWorkflows       metric.Int64UpDownCounter
	workflowDuration       metric.Float64Histogram
	concurrencyRejections  metric.Int64Counter
}

var (
	initOnce sync.Once
	initErr  error
	global   *Registry
)

// Init builds the process-wide Registry, starting a Prometheus exporter
// that a caller serves over its own HTTP metrics endpoint. Safe to call
// more than once; only the first call takes effect.
func Init() (*Registry, error) {
	initOnce.Do(func() {
		global, initErr = newRegistry()
	})
	return global, initErr
}

func newRegistry() (*Registry, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, err
	}
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	meter := provider.Meter(meterName)

	runningWorkflows, err := meter.Int64UpDownCounter(
		"coderun_running_workflows",
		metric.WithDescription("number of workflows the Runtime Registry currently owns an agent task for"),
	)
	if err != nil {
		return nil, err
	}

	workflowDuration, err := meter.Float64Histogram(
		"coderun_workflow_duration_seconds",
		metric.WithDescription("wall-clock duration of a workflow from start_workflow to agent task exit"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	concurrencyRejections, err := meter.Int64Counter(
		"coderun_concurrency_cap_rejections_total",
		metric.WithDescription("start_workflow calls rejected because max_concurrent_workflows was already reached"),
	)
	if err != nil {
		return nil, err
	}

	return &Registry{
		provider:              provider,
		runningWorkflows:      runningWorkflows,
		workflowDuration:      workflowDuration,
		concurrencyRejections: concurrencyRejections,
	}, nil
}

// WorkflowStarted increments the running-workflows gauge.
func (r *Registry) WorkflowStarted(ctx context.Context) {
	if r == nil {
		return
	}
	r.runningWorkflows.Add(ctx, 1)
}

// WorkflowStopped decrements the running-workflows gauge and records the
// workflow's total duration.
func (r *Registry) WorkflowStopped(ctx context.Context, durationSeconds float64) {
	if r == nil {
		return
	}
	r.runningWorkflows.Add(ctx, -1)
	r.workflowDuration.Record(ctx, durationSeconds)
}

// ConcurrencyCapRejected increments the rejection counter.
func (r *Registry) ConcurrencyCapRejected(ctx context.Context) {
	if r == nil {
		return
	}
	r.concurrencyRejections.Add(ctx, 1)
}

// Shutdown flushes and stops the metrics provider.
func (r *Registry) Shutdown(ctx context.Context) error {
	if r == nil || r.provider == nil {
		return nil
	}
	return r.provider.Shutdown(ctx)
}
