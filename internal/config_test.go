package internal_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/ronakch1234/payment-reconciler/internal"
)

var _ = Describe("Config", func() {
	var cfg *internal.Config

	BeforeEach(func() {
		cfg = &internal.Config{
			Database: internal.DatabaseConfig{Host: "localhost", Name: "payments"},
		}
		cfg.SetDefaults()
	})

	It("accepts the defaults", func() {
		Expect(cfg.Validate()).To(Succeed())
		Expect(cfg.Server.Port).To(Equal(3000))
		Expect(cfg.Reconciliation.Interval()).To(Equal(5 * time.Second))
		Expect(cfg.Reconciliation.Resolver).To(Equal(internal.ResolverAcknowledge))
	})

	It("converts interval_ms into a duration", func() {
		cfg.Reconciliation.IntervalMs = 250
		Expect(cfg.Reconciliation.Interval()).To(Equal(250 * time.Millisecond))
	})

	It("rejects a negative interval", func() {
		cfg.Reconciliation.IntervalMs = -1
		Expect(cfg.Validate()).To(MatchError(ContainSubstring("IntervalMs")))
	})

	It("rejects an unknown resolver", func() {
		cfg.Reconciliation.Resolver = "magic"
		Expect(cfg.Validate()).To(MatchError(ContainSubstring("Resolver")))
	})

	It("requires a gateway url for the gateway resolver", func() {
		cfg.Reconciliation.Resolver = internal.ResolverGateway
		Expect(cfg.Validate()).To(MatchError(ContainSubstring("base_url is required")))

		cfg.Gateway.BaseURL = "http://gateway.local"
		Expect(cfg.Validate()).To(Succeed())
	})

	It("rejects more idle than open connections", func() {
		cfg.Database.MaxIdleConns = 20
		cfg.Database.MaxOpenConns = 2
		Expect(cfg.Validate()).To(MatchError(ContainSubstring("max_idle_conns")))
	})

	It("requires a metrics endpoint when metrics are enabled", func() {
		cfg.Observability.Metrics.Enabled = true
		Expect(cfg.Validate()).To(MatchError(ContainSubstring("Endpoint")))
	})

	It("requires a trace endpoint when tracing is enabled", func() {
		cfg.Observability.Tracing.Enabled = true
		cfg.Observability.Tracing.Endpoint = ""
		Expect(cfg.Validate()).To(MatchError(ContainSubstring("Endpoint")))
	})

	It("samples every trace unless told otherwise", func() {
		cfg.Observability.Tracing = internal.TracingConfig{}
		cfg.SetDefaults()
		Expect(cfg.Observability.Tracing.SampleRatio).To(Equal(1.0))
		Expect(cfg.Observability.Tracing.ServiceName).To(Equal(cfg.Observability.Metrics.ServiceName))
	})

	Describe("GetDSN", func() {
		It("prefers the explicit source", func() {
			cfg.Database.Source = "postgres://a:b@db:5432/x"
			Expect(cfg.Database.GetDSN()).To(Equal("postgres://a:b@db:5432/x"))
		})

		It("builds a url from the discrete fields", func() {
			cfg.Database = internal.DatabaseConfig{
				Host: "db", Port: 5433, User: "postgres", Password: "p@ss", Name: "nodejs_interview",
			}
			Expect(cfg.Database.GetDSN()).To(Equal("postgres://postgres:p%40ss@db:5433/nodejs_interview?sslmode=disable"))
		})
	})

	Describe("LoadConfigFromEnv", func() {
		It("falls back to the documented defaults", func() {
			envCfg := internal.LoadConfigFromEnv()
			Expect(envCfg.Database.Name).To(Equal("nodejs_interview"))
			Expect(envCfg.Reconciliation.IntervalMs).To(Equal(internal.DefaultReconcileIntervalMs))
		})

		It("reads the reconciliation interval", func() {
			GinkgoT().Setenv("RECONCILE_INTERVAL_MS", "1500")
			envCfg := internal.LoadConfigFromEnv()
			Expect(envCfg.Reconciliation.Interval()).To(Equal(1500 * time.Millisecond))
		})
	})
})
