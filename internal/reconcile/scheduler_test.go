package reconcile_test

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/ronakch1234/payment-reconciler/internal/core/datamodel/payment"
	"github.com/ronakch1234/payment-reconciler/internal/reconcile"
)

var _ = Describe("Scheduler", func() {
	var store *memoryStore

	BeforeEach(func() {
		store = newMemoryStore(1)
	})

	It("rejects a non-positive interval", func() {
		r := reconcile.NewReconciler(store, nil, reconcile.Options{Logger: quietLogger()})

		_, err := reconcile.NewScheduler(r, 0, quietLogger())

		Expect(err).To(HaveOccurred())
	})

	It("runs passes on the interval", func() {
		r := reconcile.NewReconciler(store, reconcile.ResolverFunc(func(ctx context.Context, m *payment.FailedPayment) (reconcile.Outcome, error) {
			return reconcile.OutcomeRetryLater, nil
		}), reconcile.Options{Logger: quietLogger()})
		s, err := reconcile.NewScheduler(r, 20*time.Millisecond, quietLogger())
		Expect(err).ToNot(HaveOccurred())

		s.Start()
		defer func() { Expect(s.Stop(context.Background())).To(Succeed()) }()

		Eventually(func() uint64 { return r.Stats().PassesCompleted }).
			WithTimeout(2 * time.Second).
			Should(BeNumerically(">=", 3))
		Expect(store.attemptsFor(1)).To(BeNumerically(">=", 3))
	})

	It("never runs two passes at once", func() {
		var active, maxActive atomic.Int32
		r := reconcile.NewReconciler(store, reconcile.ResolverFunc(func(ctx context.Context, m *payment.FailedPayment) (reconcile.Outcome, error) {
			n := active.Add(1)
			defer active.Add(-1)
			for {
				cur := maxActive.Load()
				if n <= cur || maxActive.CompareAndSwap(cur, n) {
					break
				}
			}
			time.Sleep(60 * time.Millisecond)
			return reconcile.OutcomeRetryLater, nil
		}), reconcile.Options{EntryTimeout: time.Second, Logger: quietLogger()})
		s, err := reconcile.NewScheduler(r, 10*time.Millisecond, quietLogger())
		Expect(err).ToNot(HaveOccurred())

		s.Start()
		Eventually(func() uint64 { return r.Stats().PassesCompleted }).
			WithTimeout(2 * time.Second).
			Should(BeNumerically(">=", 3))
		Expect(s.Stop(context.Background())).To(Succeed())

		Expect(maxActive.Load()).To(Equal(int32(1)))
	})

	It("drains the in-flight pass on stop", func() {
		started := make(chan struct{})
		var once sync.Once
		var finished atomic.Bool
		r := reconcile.NewReconciler(store, reconcile.ResolverFunc(func(ctx context.Context, m *payment.FailedPayment) (reconcile.Outcome, error) {
			once.Do(func() { close(started) })
			time.Sleep(100 * time.Millisecond)
			finished.Store(true)
			return reconcile.OutcomeResolved, nil
		}), reconcile.Options{EntryTimeout: time.Second, Logger: quietLogger()})
		s, err := reconcile.NewScheduler(r, 10*time.Millisecond, quietLogger())
		Expect(err).ToNot(HaveOccurred())

		s.Start()
		Eventually(started).WithTimeout(time.Second).Should(BeClosed())

		Expect(s.Stop(context.Background())).To(Succeed())
		Expect(finished.Load()).To(BeTrue())
		Expect(store.retryable(1)).To(BeFalse())
	})

	It("cancels the in-flight pass when the stop deadline passes", func() {
		started := make(chan struct{})
		var once sync.Once
		r := reconcile.NewReconciler(store, reconcile.ResolverFunc(func(ctx context.Context, m *payment.FailedPayment) (reconcile.Outcome, error) {
			once.Do(func() { close(started) })
			<-ctx.Done()
			return "", ctx.Err()
		}), reconcile.Options{EntryTimeout: 10 * time.Second, Logger: quietLogger()})
		s, err := reconcile.NewScheduler(r, 10*time.Millisecond, quietLogger())
		Expect(err).ToNot(HaveOccurred())

		s.Start()
		Eventually(started).WithTimeout(time.Second).Should(BeClosed())

		stopCtx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		err = s.Stop(stopCtx)

		Expect(err).To(MatchError(context.DeadlineExceeded))
		Expect(store.retryable(1)).To(BeTrue())
	})
})
