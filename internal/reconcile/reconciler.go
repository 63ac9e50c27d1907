package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ronakch1234/payment-reconciler/internal/core/datamodel/payment"
	"github.com/ronakch1234/payment-reconciler/internal/core/events"
)

var (
	// ErrPassInProgress is returned by RunPass while another pass is running.
	ErrPassInProgress = errors.New("reconciliation pass already in progress")

	errMarkerBusy = errors.New("previous attempt still running")
)

const defaultEntryTimeout = 5 * time.Second

// Store is the part of the payment store the loop reads and updates.
type Store interface {
	ListRetryableFailedPayments(ctx context.Context) ([]*payment.FailedPayment, error)
	MarkFailedPaymentNonRetryable(ctx context.Context, id int64, at time.Time) error
	RecordFailedPaymentAttempt(ctx context.Context, id int64, at time.Time) error
}

// Report summarizes one pass.
type Report struct {
	Scanned   int
	Resolved  int
	Abandoned int
	Deferred  int
	Failed    int
	// Skipped counts markers left for the next pass after cancellation.
	Skipped int
	// Busy counts markers whose attempt from an earlier pass outlived its
	// entry timeout and has not returned yet.
	Busy int
}

type Options struct {
	// EntryTimeout bounds the handling of a single marker.
	EntryTimeout time.Duration
	Bus          *events.EventBus
	Logger       *slog.Logger
}

// Reconciler runs reconciliation passes. At most one pass runs at a time.
type Reconciler struct {
	store        Store
	resolver     Resolver
	entryTimeout time.Duration
	bus          *events.EventBus
	logger       *slog.Logger
	now          func() time.Time

	running atomic.Bool
	// inFlight holds the ids of markers whose resolver call has not returned,
	// including attempts abandoned by a timed out pass.
	inFlight sync.Map
	counters counters
}

func NewReconciler(store Store, resolver Resolver, opts Options) *Reconciler {
	if resolver == nil {
		resolver = AcknowledgeResolver{}
	}
	if opts.EntryTimeout <= 0 {
		opts.EntryTimeout = defaultEntryTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	r := &Reconciler{
		store:        store,
		resolver:     resolver,
		entryTimeout: opts.EntryTimeout,
		bus:          opts.Bus,
		logger:       opts.Logger,
		now:          time.Now,
	}
	if err := r.counters.registerMetrics(); err != nil {
		r.logger.Warn("failed to register reconciliation metrics", "error", err)
	}
	return r
}

// Stats returns the cumulative counters.
func (r *Reconciler) Stats() Stats {
	return r.counters.snapshot()
}

// RunPass reconciles a snapshot of the retryable markers. A failure on one
// marker is logged and counted; it never stops the rest of the batch. When ctx
// is cancelled the pass stops between markers and the remainder stays
// retryable for the next pass.
func (r *Reconciler) RunPass(ctx context.Context) (Report, error) {
	if !r.running.CompareAndSwap(false, true) {
		r.counters.passesSkipped.Add(1)
		r.logger.Warn("reconciliation pass skipped, previous pass still running")
		return Report{}, ErrPassInProgress
	}
	defer r.running.Store(false)

	start := r.now()
	markers, err := r.store.ListRetryableFailedPayments(ctx)
	if err != nil {
		r.counters.passesFailed.Add(1)
		r.logger.Error("failed to load retryable payments", "error", err)
		return Report{}, fmt.Errorf("load retryable payments: %w", err)
	}

	report := Report{Scanned: len(markers)}
	for i, marker := range markers {
		if ctx.Err() != nil {
			report.Skipped = len(markers) - i
			break
		}

		outcome, err := r.reconcileOne(ctx, marker)
		if errors.Is(err, errMarkerBusy) {
			report.Busy++
			r.logger.Warn("skipping payment, previous attempt still running",
				"failed_payment_id", marker.ID,
				"payment_id", marker.PaymentID)
			continue
		}
		if err != nil {
			report.Failed++
			r.logger.Error("failed to reconcile payment",
				"failed_payment_id", marker.ID,
				"payment_id", marker.PaymentID,
				"error", err)
			continue
		}

		switch outcome {
		case OutcomeResolved:
			report.Resolved++
		case OutcomeAbandoned:
			report.Abandoned++
		case OutcomeRetryLater:
			report.Deferred++
		}

		if outcome != OutcomeRetryLater && r.bus != nil {
			r.bus.Publish(ctx, events.NewPaymentRetryResolvedEvent(marker.ID, marker.PaymentID, string(outcome)))
		}
	}

	r.counters.add(report)

	attrs := []any{
		"scanned", report.Scanned,
		"resolved", report.Resolved,
		"abandoned", report.Abandoned,
		"deferred", report.Deferred,
		"failed", report.Failed,
		"skipped", report.Skipped,
		"busy", report.Busy,
		"duration_ms", r.now().Sub(start).Milliseconds(),
	}
	if report.Skipped > 0 {
		r.counters.passesInterrupted.Add(1)
		r.logger.Info("reconciliation pass interrupted", attrs...)
		return report, ctx.Err()
	}
	r.counters.passesCompleted.Add(1)
	if report.Scanned > 0 {
		r.logger.Info("reconciliation pass completed", attrs...)
	} else {
		r.logger.Debug("reconciliation pass completed", attrs...)
	}
	return report, nil
}

type entryResult struct {
	outcome Outcome
	err     error
}

// reconcileOne resolves one marker and applies the matching state change. The
// work runs in its own goroutine so that a resolver ignoring ctx cannot hold up
// the pass past the entry timeout. The marker stays in inFlight until that
// goroutine returns, so a later pass never starts a second attempt beside it.
func (r *Reconciler) reconcileOne(ctx context.Context, marker *payment.FailedPayment) (Outcome, error) {
	if _, busy := r.inFlight.LoadOrStore(marker.ID, struct{}{}); busy {
		return "", errMarkerBusy
	}

	ctx, cancel := context.WithTimeout(ctx, r.entryTimeout)
	defer cancel()

	done := make(chan entryResult, 1)
	go func() {
		defer r.inFlight.Delete(marker.ID)
		defer func() {
			if rec := recover(); rec != nil {
				r.logger.Error("panic while reconciling payment",
					"failed_payment_id", marker.ID,
					"panic", rec,
					"stack", string(debug.Stack()))
				done <- entryResult{err: fmt.Errorf("panic: %v", rec)}
			}
		}()
		outcome, err := r.apply(ctx, marker)
		done <- entryResult{outcome: outcome, err: err}
	}()

	select {
	case res := <-done:
		return res.outcome, res.err
	case <-ctx.Done():
		return "", fmt.Errorf("reconcile failed payment %d: %w", marker.ID, ctx.Err())
	}
}

func (r *Reconciler) apply(ctx context.Context, marker *payment.FailedPayment) (Outcome, error) {
	outcome, err := r.resolver.Resolve(ctx, marker)
	if err != nil {
		return "", fmt.Errorf("resolve: %w", err)
	}

	at := r.now().UTC()
	switch outcome {
	case OutcomeResolved, OutcomeAbandoned:
		err = r.store.MarkFailedPaymentNonRetryable(ctx, marker.ID, at)
	case OutcomeRetryLater:
		err = r.store.RecordFailedPaymentAttempt(ctx, marker.ID, at)
	default:
		return "", fmt.Errorf("unknown outcome %q", outcome)
	}
	if err != nil {
		return "", fmt.Errorf("update marker: %w", err)
	}
	return outcome, nil
}
