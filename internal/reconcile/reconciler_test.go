package reconcile_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/ronakch1234/payment-reconciler/internal/core/datamodel/payment"
	"github.com/ronakch1234/payment-reconciler/internal/core/events"
	"github.com/ronakch1234/payment-reconciler/internal/reconcile"
)

var _ = Describe("Reconciler", func() {
	var (
		store *memoryStore
		ctx   context.Context
	)

	BeforeEach(func() {
		store = newMemoryStore(3)
		ctx = context.Background()
	})

	newReconciler := func(resolver reconcile.Resolver, timeout time.Duration) *reconcile.Reconciler {
		return reconcile.NewReconciler(store, resolver, reconcile.Options{
			EntryTimeout: timeout,
			Logger:       quietLogger(),
		})
	}

	It("flips every retryable marker with the acknowledge resolver", func() {
		r := newReconciler(reconcile.AcknowledgeResolver{}, time.Second)

		report, err := r.RunPass(ctx)

		Expect(err).ToNot(HaveOccurred())
		Expect(report).To(Equal(reconcile.Report{Scanned: 3, Resolved: 3}))
		for id := int64(1); id <= 3; id++ {
			Expect(store.retryable(id)).To(BeFalse())
		}
	})

	It("does nothing on a second pass", func() {
		r := newReconciler(nil, time.Second)
		_, err := r.RunPass(ctx)
		Expect(err).ToNot(HaveOccurred())

		report, err := r.RunPass(ctx)

		Expect(err).ToNot(HaveOccurred())
		Expect(report.Scanned).To(BeZero())
		Expect(r.Stats().PassesCompleted).To(Equal(uint64(2)))
		Expect(r.Stats().Resolved).To(Equal(uint64(3)))
	})

	It("completes with an empty report when nothing is retryable", func() {
		store = newMemoryStore(0)
		r := newReconciler(nil, time.Second)

		report, err := r.RunPass(ctx)

		Expect(err).ToNot(HaveOccurred())
		Expect(report).To(Equal(reconcile.Report{}))
	})

	It("continues past a marker whose update fails", func() {
		store.failMark[2] = errors.New("connection reset")
		r := newReconciler(nil, time.Second)

		report, err := r.RunPass(ctx)

		Expect(err).ToNot(HaveOccurred())
		Expect(report.Resolved).To(Equal(2))
		Expect(report.Failed).To(Equal(1))
		Expect(store.retryable(1)).To(BeFalse())
		Expect(store.retryable(2)).To(BeTrue())
		Expect(store.retryable(3)).To(BeFalse())
	})

	It("retries a failed marker on the next pass", func() {
		store.failMark[2] = errors.New("connection reset")
		r := newReconciler(nil, time.Second)
		_, err := r.RunPass(ctx)
		Expect(err).ToNot(HaveOccurred())

		delete(store.failMark, 2)
		report, err := r.RunPass(ctx)

		Expect(err).ToNot(HaveOccurred())
		Expect(report).To(Equal(reconcile.Report{Scanned: 1, Resolved: 1}))
		Expect(store.retryable(2)).To(BeFalse())
	})

	It("applies the transition for each outcome", func() {
		outcomes := map[int64]reconcile.Outcome{
			1: reconcile.OutcomeResolved,
			2: reconcile.OutcomeAbandoned,
			3: reconcile.OutcomeRetryLater,
		}
		r := newReconciler(reconcile.ResolverFunc(func(ctx context.Context, m *payment.FailedPayment) (reconcile.Outcome, error) {
			return outcomes[m.ID], nil
		}), time.Second)

		report, err := r.RunPass(ctx)

		Expect(err).ToNot(HaveOccurred())
		Expect(report).To(Equal(reconcile.Report{Scanned: 3, Resolved: 1, Abandoned: 1, Deferred: 1}))
		Expect(store.retryable(1)).To(BeFalse())
		Expect(store.retryable(2)).To(BeFalse())
		Expect(store.retryable(3)).To(BeTrue())
		Expect(store.attemptsFor(3)).To(Equal(1))
	})

	It("leaves the marker untouched when the resolver errors", func() {
		r := newReconciler(reconcile.ResolverFunc(func(ctx context.Context, m *payment.FailedPayment) (reconcile.Outcome, error) {
			if m.ID == 1 {
				return "", errors.New("gateway down")
			}
			return reconcile.OutcomeResolved, nil
		}), time.Second)

		report, err := r.RunPass(ctx)

		Expect(err).ToNot(HaveOccurred())
		Expect(report.Failed).To(Equal(1))
		Expect(store.retryable(1)).To(BeTrue())
		Expect(store.attemptsFor(1)).To(BeZero())
	})

	It("isolates a panicking resolver", func() {
		r := newReconciler(reconcile.ResolverFunc(func(ctx context.Context, m *payment.FailedPayment) (reconcile.Outcome, error) {
			if m.ID == 2 {
				panic("unexpected nil")
			}
			return reconcile.OutcomeResolved, nil
		}), time.Second)

		report, err := r.RunPass(ctx)

		Expect(err).ToNot(HaveOccurred())
		Expect(report.Resolved).To(Equal(2))
		Expect(report.Failed).To(Equal(1))
		Expect(store.retryable(2)).To(BeTrue())
	})

	It("times out a stuck marker and moves on", func() {
		release := make(chan struct{})
		defer close(release)
		r := newReconciler(reconcile.ResolverFunc(func(ctx context.Context, m *payment.FailedPayment) (reconcile.Outcome, error) {
			if m.ID == 1 {
				<-release
				return "", errors.New("released")
			}
			return reconcile.OutcomeResolved, nil
		}), 50*time.Millisecond)

		report, err := r.RunPass(ctx)

		Expect(err).ToNot(HaveOccurred())
		Expect(report.Failed).To(Equal(1))
		Expect(report.Resolved).To(Equal(2))
		Expect(store.retryable(1)).To(BeTrue())
	})

	It("does not start a second attempt while a timed out one is still running", func() {
		store = newMemoryStore(1)
		release := make(chan struct{})
		var calls, active, maxActive atomic.Int32
		r := newReconciler(reconcile.ResolverFunc(func(ctx context.Context, m *payment.FailedPayment) (reconcile.Outcome, error) {
			calls.Add(1)
			n := active.Add(1)
			defer active.Add(-1)
			for {
				cur := maxActive.Load()
				if n <= cur || maxActive.CompareAndSwap(cur, n) {
					break
				}
			}
			<-release
			return reconcile.OutcomeResolved, nil
		}), 20*time.Millisecond)

		first, err := r.RunPass(ctx)
		Expect(err).ToNot(HaveOccurred())
		Expect(first.Failed).To(Equal(1))

		for i := 0; i < 2; i++ {
			report, err := r.RunPass(ctx)
			Expect(err).ToNot(HaveOccurred())
			Expect(report.Busy).To(Equal(1))
			Expect(report.Failed).To(BeZero())
		}
		Expect(calls.Load()).To(Equal(int32(1)))
		Expect(maxActive.Load()).To(Equal(int32(1)))
		Expect(r.Stats().Busy).To(Equal(uint64(2)))

		close(release)
		Eventually(func() bool { return store.retryable(1) }).Should(BeFalse())

		report, err := r.RunPass(ctx)
		Expect(err).ToNot(HaveOccurred())
		Expect(report.Scanned).To(BeZero())
	})

	It("retries a marker once its abandoned attempt returns", func() {
		store = newMemoryStore(1)
		release := make(chan struct{})
		returned := make(chan struct{})
		var calls atomic.Int32
		r := newReconciler(reconcile.ResolverFunc(func(ctx context.Context, m *payment.FailedPayment) (reconcile.Outcome, error) {
			if calls.Add(1) == 1 {
				defer close(returned)
				<-release
				return "", errors.New("gateway hung")
			}
			return reconcile.OutcomeResolved, nil
		}), 20*time.Millisecond)

		_, err := r.RunPass(ctx)
		Expect(err).ToNot(HaveOccurred())

		close(release)
		Eventually(returned).Should(BeClosed())
		// the in-flight entry is cleared after the resolver returns
		Eventually(func() int {
			report, err := r.RunPass(ctx)
			Expect(err).ToNot(HaveOccurred())
			return report.Resolved
		}).Should(Equal(1))
		Expect(store.retryable(1)).To(BeFalse())
		Expect(calls.Load()).To(Equal(int32(2)))
	})

	It("counts a cancelled pass as interrupted", func() {
		passCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		r := newReconciler(reconcile.ResolverFunc(func(ctx context.Context, m *payment.FailedPayment) (reconcile.Outcome, error) {
			cancel()
			return reconcile.OutcomeResolved, nil
		}), 5*time.Second)

		_, err := r.RunPass(passCtx)

		Expect(err).To(MatchError(context.Canceled))
		Expect(r.Stats().PassesInterrupted).To(Equal(uint64(1)))
		Expect(r.Stats().PassesCompleted).To(BeZero())
	})

	It("rejects an overlapping pass", func() {
		started := make(chan struct{})
		release := make(chan struct{})
		var once sync.Once
		r := newReconciler(reconcile.ResolverFunc(func(ctx context.Context, m *payment.FailedPayment) (reconcile.Outcome, error) {
			once.Do(func() { close(started) })
			<-release
			return reconcile.OutcomeResolved, nil
		}), 5*time.Second)

		result := make(chan error, 1)
		go func() {
			defer GinkgoRecover()
			_, err := r.RunPass(ctx)
			result <- err
		}()
		Eventually(started).Should(BeClosed())

		_, err := r.RunPass(ctx)
		Expect(err).To(MatchError(reconcile.ErrPassInProgress))
		Expect(r.Stats().PassesSkipped).To(Equal(uint64(1)))

		close(release)
		Eventually(result).Should(Receive(BeNil()))

		_, err = r.RunPass(ctx)
		Expect(err).ToNot(HaveOccurred())
	})

	It("stops between markers when cancelled", func() {
		passCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		r := newReconciler(reconcile.ResolverFunc(func(ctx context.Context, m *payment.FailedPayment) (reconcile.Outcome, error) {
			cancel()
			return reconcile.OutcomeResolved, nil
		}), 5*time.Second)

		report, err := r.RunPass(passCtx)

		Expect(err).To(MatchError(context.Canceled))
		Expect(report.Scanned).To(Equal(3))
		Expect(report.Skipped).To(Equal(2))
		Expect(report.Resolved + report.Failed).To(Equal(1))
		Expect(store.retryable(2)).To(BeTrue())
		Expect(store.retryable(3)).To(BeTrue())
	})

	It("fails the pass when the snapshot cannot be loaded", func() {
		store.listErr = errors.New("pool exhausted")
		r := newReconciler(nil, time.Second)

		_, err := r.RunPass(ctx)

		Expect(err).To(HaveOccurred())
		Expect(r.Stats().PassesFailed).To(Equal(uint64(1)))
	})

	It("publishes an event per flipped marker", func() {
		bus := events.NewEventBus(quietLogger())
		var mu sync.Mutex
		var outcomes []string
		bus.Subscribe(events.EventTypePaymentRetryResolved, func(ctx context.Context, e events.Event) error {
			mu.Lock()
			defer mu.Unlock()
			outcomes = append(outcomes, e.(*events.PaymentRetryResolvedEvent).Outcome)
			return nil
		})
		r := reconcile.NewReconciler(store, reconcile.ResolverFunc(func(ctx context.Context, m *payment.FailedPayment) (reconcile.Outcome, error) {
			if m.ID == 3 {
				return reconcile.OutcomeRetryLater, nil
			}
			return reconcile.OutcomeResolved, nil
		}), reconcile.Options{Bus: bus, Logger: quietLogger()})

		_, err := r.RunPass(ctx)
		Expect(err).ToNot(HaveOccurred())
		bus.Wait()

		mu.Lock()
		defer mu.Unlock()
		Expect(outcomes).To(ConsistOf("resolved", "resolved"))
	})
})
