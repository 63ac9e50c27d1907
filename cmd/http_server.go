package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"golang.org/x/sync/errgroup"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/ronakch1234/payment-reconciler/internal"
	"github.com/ronakch1234/payment-reconciler/internal/core/events"
	"github.com/ronakch1234/payment-reconciler/internal/payment"
	paymentstore "github.com/ronakch1234/payment-reconciler/internal/payment/postgres"
	"github.com/ronakch1234/payment-reconciler/internal/paymentgateway"
	"github.com/ronakch1234/payment-reconciler/internal/reconcile"
	"github.com/ronakch1234/payment-reconciler/internal/transport/rest"
	"github.com/ronakch1234/payment-reconciler/pkg/logger"
)

var httpServerCmd = &cobra.Command{
	Use:   "server",
	Short: "Start HTTP server",
	Long:  `Start the HTTP server for webhooks and payment queries, with the reconciliation loop running in process`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return startHTTPServer(cmd.Context())
	},
}

// Dependencies is the set of process-owned components. The database handle is
// opened once and shared by every component; Close releases it.
type Dependencies struct {
	Config     *internal.Config
	DB         *sqlx.DB
	Gorm       *gorm.DB
	Logger     *slog.Logger
	Bus        *events.EventBus
	Repository *paymentstore.PaymentRepository
	Payments   *payment.Service
	Reconciler *reconcile.Reconciler

	shutdownMetrics func(context.Context) error
	shutdownTracing func(context.Context) error
}

func startHTTPServer(parent context.Context) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps, err := initializeDependencies(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize dependencies: %w", err)
	}
	defer deps.Close()

	cfg := deps.Config
	router := chi.NewRouter()
	rest.RegisterRoutes(router, deps.DB.DB, payment.NewHandler(deps.Payments), deps.Logger)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	var scheduler *reconcile.Scheduler
	if cfg.Reconciliation.Enabled {
		scheduler, err = reconcile.NewScheduler(deps.Reconciler, cfg.Reconciliation.Interval(), deps.Logger)
		if err != nil {
			return err
		}
		scheduler.Start()
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		deps.Logger.Info("starting HTTP server", "address", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		deps.Logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		var errs []error
		if err := server.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
		if scheduler != nil {
			if err := scheduler.Stop(shutdownCtx); err != nil {
				errs = append(errs, fmt.Errorf("scheduler stop: %w", err))
			}
		}
		deps.Bus.Wait()
		return errors.Join(errs...)
	})

	if err := g.Wait(); err != nil {
		deps.Logger.Error("server stopped with error", "error", err)
		return err
	}

	deps.Logger.Info("server stopped")
	return nil
}

func initializeDependencies(ctx context.Context) (*Dependencies, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	lg := logger.LoggerWrapper()

	shutdownMetrics, err := initMetrics(ctx, cfg.Observability.Metrics)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}

	tp, err := initTracing(ctx, cfg.Observability.Tracing)
	if err != nil {
		_ = shutdownMetrics(context.Background())
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}
	shutdownTracing := shutdownTracerProvider(tp)

	db, err := initDB(ctx, cfg.Database)
	if err != nil {
		_ = shutdownTracing(context.Background())
		_ = shutdownMetrics(context.Background())
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	gormDB, err := initGorm(db, tp)
	if err != nil {
		_ = db.Close()
		_ = shutdownTracing(context.Background())
		_ = shutdownMetrics(context.Background())
		return nil, fmt.Errorf("failed to initialize gorm: %w", err)
	}

	bus := events.NewEventBus(lg)
	subscribeEventLogging(bus, lg)

	repo := paymentstore.NewPaymentRepository(gormDB, cfg.Database.QueryTimeout)

	resolver, err := newResolver(cfg, repo, lg)
	if err != nil {
		_ = db.Close()
		_ = shutdownTracing(context.Background())
		_ = shutdownMetrics(context.Background())
		return nil, err
	}

	return &Dependencies{
		Config:     cfg,
		DB:         db,
		Gorm:       gormDB,
		Logger:     lg,
		Bus:        bus,
		Repository: repo,
		Payments:   payment.NewService(repo, bus, lg),
		Reconciler: reconcile.NewReconciler(repo, resolver, reconcile.Options{
			EntryTimeout: cfg.Reconciliation.EntryTimeout,
			Bus:          bus,
			Logger:       lg.With("component", "reconciler"),
		}),
		shutdownMetrics: shutdownMetrics,
		shutdownTracing: shutdownTracing,
	}, nil
}

// Close waits for event handlers, flushes telemetry and closes the database.
func (d *Dependencies) Close() {
	d.Bus.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.shutdownTracing(ctx); err != nil {
		d.Logger.Error("tracer shutdown error", "error", err)
	}
	if err := d.shutdownMetrics(ctx); err != nil {
		d.Logger.Error("metrics shutdown error", "error", err)
	}

	if err := d.DB.Close(); err != nil {
		d.Logger.Error("database close error", "error", err)
	}
}

func newResolver(cfg *internal.Config, repo *paymentstore.PaymentRepository, lg *slog.Logger) (reconcile.Resolver, error) {
	switch cfg.Reconciliation.Resolver {
	case internal.ResolverAcknowledge, "":
		return reconcile.AcknowledgeResolver{}, nil
	case internal.ResolverGateway:
		client := paymentgateway.NewClient(paymentgateway.Config{
			BaseURL: cfg.Gateway.BaseURL,
			APIKey:  cfg.Gateway.APIKey,
			Timeout: cfg.Gateway.Timeout,
		}, lg)
		return reconcile.NewGatewayResolver(repo, client), nil
	default:
		return nil, fmt.Errorf("unknown reconciliation resolver %q", cfg.Reconciliation.Resolver)
	}
}

func subscribeEventLogging(bus *events.EventBus, lg *slog.Logger) {
	logEvent := func(ctx context.Context, event events.Event) error {
		lg.Info("event published",
			"event_id", event.EventID(),
			"event_type", event.EventType(),
			"payload", event.Payload())
		return nil
	}
	bus.Subscribe(events.EventTypePaymentFailed, logEvent)
	bus.Subscribe(events.EventTypePaymentRetryResolved, logEvent)
}

// initDB opens the shared connection pool.
func initDB(ctx context.Context, cfg internal.DatabaseConfig) (*sqlx.DB, error) {
	const driver = "pgx"

	db, err := sqlx.Open(driver, cfg.GetDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open db connection: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	pingCtx, cancel := internal.WithTimeout(ctx, cfg.QueryTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

// initGorm wraps the shared pool; gorm never opens connections of its own.
// Queries are traced when tp is non-nil.
func initGorm(db *sqlx.DB, tp *sdktrace.TracerProvider) (*gorm.DB, error) {
	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: db.DB}), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, err
	}

	if err := instrumentGorm(gormDB, tp); err != nil {
		return nil, err
	}
	return gormDB, nil
}
