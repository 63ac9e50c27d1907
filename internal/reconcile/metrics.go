package reconcile

import (
	"context"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Stats are cumulative counters since the Reconciler was created.
type Stats struct {
	PassesCompleted   uint64
	PassesInterrupted uint64
	PassesFailed      uint64
	PassesSkipped     uint64
	Resolved          uint64
	Abandoned         uint64
	Deferred          uint64
	Failed            uint64
	Busy              uint64
}

type counters struct {
	passesCompleted   atomic.Uint64
	passesInterrupted atomic.Uint64
	passesFailed      atomic.Uint64
	passesSkipped     atomic.Uint64
	resolved          atomic.Uint64
	abandoned         atomic.Uint64
	deferred          atomic.Uint64
	failed            atomic.Uint64
	busy              atomic.Uint64
}

func (c *counters) snapshot() Stats {
	return Stats{
		PassesCompleted:   c.passesCompleted.Load(),
		PassesInterrupted: c.passesInterrupted.Load(),
		PassesFailed:      c.passesFailed.Load(),
		PassesSkipped:     c.passesSkipped.Load(),
		Resolved:          c.resolved.Load(),
		Abandoned:         c.abandoned.Load(),
		Deferred:          c.deferred.Load(),
		Failed:            c.failed.Load(),
		Busy:              c.busy.Load(),
	}
}

func (c *counters) add(report Report) {
	c.resolved.Add(uint64(report.Resolved))
	c.abandoned.Add(uint64(report.Abandoned))
	c.deferred.Add(uint64(report.Deferred))
	c.failed.Add(uint64(report.Failed))
	c.busy.Add(uint64(report.Busy))
}

// registerMetrics exposes the counters through the global meter provider.
// With no provider installed the callbacks are never invoked.
func (c *counters) registerMetrics() error {
	meter := otel.GetMeterProvider().Meter("payment-reconciler.reconcile")

	_, err := meter.Int64ObservableCounter("reconcile_passes_total",
		metric.WithDescription("Reconciliation passes by result"),
		metric.WithInt64Callback(func(_ context.Context, obs metric.Int64Observer) error {
			obs.Observe(int64(c.passesCompleted.Load()), metric.WithAttributes(attribute.String("result", "completed")))
			obs.Observe(int64(c.passesInterrupted.Load()), metric.WithAttributes(attribute.String("result", "interrupted")))
			obs.Observe(int64(c.passesFailed.Load()), metric.WithAttributes(attribute.String("result", "failed")))
			obs.Observe(int64(c.passesSkipped.Load()), metric.WithAttributes(attribute.String("result", "skipped")))
			return nil
		}),
	)
	if err != nil {
		return err
	}

	_, err = meter.Int64ObservableCounter("reconcile_markers_total",
		metric.WithDescription("Failed payment markers processed by outcome"),
		metric.WithInt64Callback(func(_ context.Context, obs metric.Int64Observer) error {
			obs.Observe(int64(c.resolved.Load()), metric.WithAttributes(attribute.String("outcome", string(OutcomeResolved))))
			obs.Observe(int64(c.abandoned.Load()), metric.WithAttributes(attribute.String("outcome", string(OutcomeAbandoned))))
			obs.Observe(int64(c.deferred.Load()), metric.WithAttributes(attribute.String("outcome", string(OutcomeRetryLater))))
			obs.Observe(int64(c.failed.Load()), metric.WithAttributes(attribute.String("outcome", "error")))
			obs.Observe(int64(c.busy.Load()), metric.WithAttributes(attribute.String("outcome", "busy")))
			return nil
		}),
	)
	return err
}
