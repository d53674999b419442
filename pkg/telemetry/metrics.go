package telemetry

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	metricsOnce          sync.Once
	metricsInitErr       error
	chainExecCounter     metric.Int64Counter
	chainFailureCounter  metric.Int64Counter
	chainErrorCounter    metric.Int64Counter
	chainLatencyHist     metric.Float64Histogram
	moduleSkippedCounter metric.Int64Counter
)

// ChainMetrics captures the fields needed to record one chain operation.
type ChainMetrics struct {
	Side          string
	Operation     string
	AuthContextID string
	Status        string
	Failed        bool
	Err           error
	Duration      time.Duration
	// Skipped counts absent slots passed over by the chain.
	Skipped int
}

// RecordChainMetrics emits counters and histograms that describe a chain
// operation.
func RecordChainMetrics(ctx context.Context, m ChainMetrics) {
	if err := ensureMetrics(); err != nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("authchain.side", m.Side),
		attribute.String("authchain.operation", m.Operation),
		attribute.String("authchain.auth_context_id", m.AuthContextID),
		attribute.String("authchain.status", m.Status),
	}

	chainExecCounter.Add(ctx, 1, metric.WithAttributes(attrs...))

	if m.Duration > 0 {
		chainLatencyHist.Record(ctx, float64(m.Duration)/float64(time.Millisecond), metric.WithAttributes(attrs...))
	}
	if m.Failed {
		chainFailureCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
	if m.Err != nil {
		chainErrorCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
	if m.Skipped > 0 {
		moduleSkippedCounter.Add(ctx, int64(m.Skipped), metric.WithAttributes(attrs...))
	}
}

func ensureMetrics() error {
	metricsOnce.Do(func() {
		meter := otel.GetMeterProvider().Meter("authchain.chain")

		chainExecCounter, metricsInitErr = meter.Int64Counter(
			"authchain.chain.executions_total",
			metric.WithDescription("Chain operations partitioned by side, operation and status"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		chainFailureCounter, metricsInitErr = meter.Int64Counter(
			"authchain.chain.failures_total",
			metric.WithDescription("Chain operations that reduced to the failure status"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		chainErrorCounter, metricsInitErr = meter.Int64Counter(
			"authchain.chain.errors_total",
			metric.WithDescription("Chain operations aborted by a module error"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		moduleSkippedCounter, metricsInitErr = meter.Int64Counter(
			"authchain.module.skipped_total",
			metric.WithDescription("Absent module slots skipped during chain operations"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		chainLatencyHist, metricsInitErr = meter.Float64Histogram(
			"authchain.chain.duration_ms",
			metric.WithDescription("Observed chain operation latency"),
			metric.WithUnit("ms"),
		)
	})

	return metricsInitErr
}
