package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ronakch1234/payment-reconciler/internal/reconcile"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Start background workers",
	Long:  `Start background workers without the HTTP server`,
}

var reconcileWorkerCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Start the failed payment reconciliation loop",
	Long:  `Run reconciliation passes on the configured interval until interrupted, or a single pass with --once`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return startReconcileWorker(cmd.Context())
	},
}

var runOnce bool

func startReconcileWorker(parent context.Context) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps, err := initializeDependencies(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize dependencies: %w", err)
	}
	defer deps.Close()

	lg := deps.Logger

	if runOnce {
		report, err := deps.Reconciler.RunPass(ctx)
		if err != nil {
			return fmt.Errorf("reconciliation pass: %w", err)
		}
		lg.Info("reconciliation pass finished",
			"scanned", report.Scanned,
			"resolved", report.Resolved,
			"abandoned", report.Abandoned,
			"deferred", report.Deferred,
			"failed", report.Failed,
			"busy", report.Busy)
		return nil
	}

	scheduler, err := reconcile.NewScheduler(deps.Reconciler, deps.Config.Reconciliation.Interval(), lg)
	if err != nil {
		return err
	}
	scheduler.Start()

	lg.Info("reconciliation worker is running. Press Ctrl+C to stop.")
	<-ctx.Done()
	lg.Info("received signal, shutting down reconciliation worker")

	stopCtx, cancel := context.WithTimeout(context.Background(), deps.Config.Server.ShutdownTimeout)
	defer cancel()
	if err := scheduler.Stop(stopCtx); err != nil {
		lg.Warn("reconciliation worker stopped before the pass finished", "error", err)
		return err
	}

	stats := deps.Reconciler.Stats()
	lg.Info("reconciliation worker shutdown complete",
		"passes", stats.PassesCompleted,
		"resolved", stats.Resolved,
		"failed", stats.Failed)
	return nil
}

func init() {
	reconcileWorkerCmd.Flags().BoolVar(&runOnce, "once", false, "Run a single reconciliation pass and exit")

	workerCmd.AddCommand(reconcileWorkerCmd)
	rootCmd.AddCommand(workerCmd)
}
