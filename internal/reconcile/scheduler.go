package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"
)

const jobName = "reconcile-failed-payments"

// Scheduler runs Reconciler passes on a fixed interval. A tick that arrives
// while a pass is still running is dropped, never run concurrently.
type Scheduler struct {
	reconciler *Reconciler
	scheduler  gocron.Scheduler
	interval   time.Duration
	logger     *slog.Logger

	// ctx is handed to every pass; cancel abandons an in-flight pass on a
	// forced stop.
	ctx    context.Context
	cancel context.CancelFunc
}

func NewScheduler(reconciler *Reconciler, interval time.Duration, logger *slog.Logger) (*Scheduler, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("reconciliation interval must be positive, got %s", interval)
	}
	if logger == nil {
		logger = slog.Default()
	}

	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	sched := &Scheduler{
		reconciler: reconciler,
		scheduler:  s,
		interval:   interval,
		logger:     logger,
		ctx:        ctx,
		cancel:     cancel,
	}

	_, err = s.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(sched.tick),
		gocron.WithName(jobName),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		cancel()
		_ = s.Shutdown()
		return nil, fmt.Errorf("register reconciliation job: %w", err)
	}

	return sched, nil
}

func (s *Scheduler) tick() {
	if _, err := s.reconciler.RunPass(s.ctx); err != nil {
		switch {
		case errors.Is(err, ErrPassInProgress), errors.Is(err, context.Canceled):
		default:
			s.logger.Error("reconciliation pass failed", "error", err)
		}
	}
}

// Start begins scheduling; the first pass runs one interval from now.
func (s *Scheduler) Start() {
	s.scheduler.Start()
	s.logger.Info("reconciliation scheduler started", "interval", s.interval.String())
}

// Stop prevents further passes and waits for the in-flight pass to finish.
// If ctx ends first the pass is cancelled, which leaves unvisited markers
// retryable, and Stop still waits for it to return.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := make(chan error, 1)
	go func() {
		done <- s.scheduler.Shutdown()
	}()

	select {
	case err := <-done:
		s.cancel()
		s.logger.Info("reconciliation scheduler stopped")
		return err
	case <-ctx.Done():
		s.logger.Warn("reconciliation scheduler stop deadline exceeded, cancelling in-flight pass")
		s.cancel()
		err := <-done
		return errors.Join(ctx.Err(), err)
	}
}
