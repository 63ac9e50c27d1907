package internal

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

const (
	ResolverAcknowledge = "acknowledge"
	ResolverGateway     = "gateway"

	DefaultReconcileIntervalMs = 5000
)

type Config struct {
	Env            string               `mapstructure:"env"`
	Server         ServerConfig         `mapstructure:"http_server"`
	Database       DatabaseConfig       `mapstructure:"database"`
	Reconciliation ReconciliationConfig `mapstructure:"reconciliation"`
	Gateway        GatewayConfig        `mapstructure:"gateway"`
	Observability  ObservabilityConfig  `mapstructure:"observability"`
}

type ServerConfig struct {
	Port              int           `mapstructure:"port" validate:"required,min=1,max=65535"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout"`
	IdleTimeout       time.Duration `mapstructure:"idle_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Source          string        `mapstructure:"source"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port" validate:"omitempty,min=1,max=65535"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	MaxOpenConns    int           `mapstructure:"max_open_conns" validate:"required,min=1"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" validate:"required,min=1"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	QueryTimeout    time.Duration `mapstructure:"query_timeout"`
}

// ReconciliationConfig drives the failed-payment retry loop. IntervalMs is the
// trigger period of a pass.
type ReconciliationConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	IntervalMs   int           `mapstructure:"interval_ms" validate:"min=1"`
	EntryTimeout time.Duration `mapstructure:"entry_timeout"`
	Resolver     string        `mapstructure:"resolver" validate:"omitempty,oneof=acknowledge gateway"`
}

type GatewayConfig struct {
	BaseURL string        `mapstructure:"base_url" validate:"omitempty,url"`
	APIKey  string        `mapstructure:"api_key"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type ObservabilityConfig struct {
	Metrics MetricsConfig `mapstructure:"metrics"`
	Tracing TracingConfig `mapstructure:"tracing"`
	Logging LoggingConfig `mapstructure:"logging"`
}

type MetricsConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Endpoint    string        `mapstructure:"endpoint" validate:"required_if=Enabled true"`
	ServiceName string        `mapstructure:"service_name"`
	Interval    time.Duration `mapstructure:"interval"`
}

type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	Endpoint    string  `mapstructure:"endpoint" validate:"required_if=Enabled true"`
	ServiceName string  `mapstructure:"service_name"`
	SampleRatio float64 `mapstructure:"sample_ratio" validate:"gte=0,lte=1"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"omitempty,oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"omitempty,oneof=json text"`
}

// Interval is the reconciliation trigger period.
func (c ReconciliationConfig) Interval() time.Duration {
	return time.Duration(c.IntervalMs) * time.Millisecond
}

// SetDefaults fills the zero values that have a sensible default.
func (c *Config) SetDefaults() {
	if c.Env == "" {
		c.Env = "development"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 3000
	}
	if c.Server.ReadHeaderTimeout == 0 {
		c.Server.ReadHeaderTimeout = 5 * time.Second
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 15 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 15 * time.Second
	}
	if c.Server.IdleTimeout == 0 {
		c.Server.IdleTimeout = 60 * time.Second
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 30 * time.Second
	}
	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = 10
	}
	if c.Database.MaxIdleConns == 0 {
		c.Database.MaxIdleConns = 5
	}
	if c.Database.QueryTimeout == 0 {
		c.Database.QueryTimeout = DefaultStoreTimeout
	}
	if c.Reconciliation.IntervalMs == 0 {
		c.Reconciliation.IntervalMs = DefaultReconcileIntervalMs
	}
	if c.Reconciliation.EntryTimeout == 0 {
		c.Reconciliation.EntryTimeout = DefaultStoreTimeout
	}
	if c.Reconciliation.Resolver == "" {
		c.Reconciliation.Resolver = ResolverAcknowledge
	}
	if c.Gateway.Timeout == 0 {
		c.Gateway.Timeout = 10 * time.Second
	}
	if c.Observability.Metrics.ServiceName == "" {
		c.Observability.Metrics.ServiceName = "payment-reconciler"
	}
	if c.Observability.Metrics.Interval == 0 {
		c.Observability.Metrics.Interval = 15 * time.Second
	}
	if c.Observability.Tracing.ServiceName == "" {
		c.Observability.Tracing.ServiceName = c.Observability.Metrics.ServiceName
	}
	if c.Observability.Tracing.SampleRatio == 0 {
		c.Observability.Tracing.SampleRatio = 1
	}
}

// LoadConfigFromEnv builds the config from plain environment variables. It is
// used for container deployments where no config file is mounted.
func LoadConfigFromEnv() *Config {
	cfg := &Config{
		Env: getEnv("APP_ENV", "production"),
		Server: ServerConfig{
			Port: getEnvAsInt("PORT", 3000),
		},
		Database: DatabaseConfig{
			Source:       os.Getenv("DATABASE_URL"),
			Host:         getEnv("DB_HOST", "localhost"),
			Port:         getEnvAsInt("DB_PORT", 5432),
			User:         getEnv("DB_USER", "postgres"),
			Password:     getEnv("DB_PASSWORD", "postgres"),
			Name:         getEnv("DB_NAME", "nodejs_interview"),
			MaxOpenConns: getEnvAsInt("DB_MAX_OPEN_CONNS", 10),
			MaxIdleConns: getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
			QueryTimeout: getEnvAsDuration("DB_QUERY_TIMEOUT", DefaultStoreTimeout),
		},
		Reconciliation: ReconciliationConfig{
			Enabled:      getEnvAsBool("RECONCILE_ENABLED", true),
			IntervalMs:   getEnvAsInt("RECONCILE_INTERVAL_MS", DefaultReconcileIntervalMs),
			EntryTimeout: getEnvAsDuration("RECONCILE_ENTRY_TIMEOUT", DefaultStoreTimeout),
			Resolver:     getEnv("RECONCILE_RESOLVER", ResolverAcknowledge),
		},
		Gateway: GatewayConfig{
			BaseURL: os.Getenv("GATEWAY_BASE_URL"),
			APIKey:  os.Getenv("GATEWAY_API_KEY"),
			Timeout: getEnvAsDuration("GATEWAY_TIMEOUT", 10*time.Second),
		},
		Observability: ObservabilityConfig{
			Metrics: MetricsConfig{
				Enabled:  getEnvAsBool("METRICS_ENABLED", false),
				Endpoint: os.Getenv("OTEL_COLLECTOR_ENDPOINT"),
			},
			Tracing: TracingConfig{
				Enabled:  getEnvAsBool("TRACING_ENABLED", false),
				Endpoint: os.Getenv("OTEL_COLLECTOR_ENDPOINT"),
			},
			Logging: LoggingConfig{
				Level:  getEnv("LOG_LEVEL", "info"),
				Format: getEnv("LOG_FORMAT", "json"),
			},
		},
	}
	cfg.SetDefaults()
	return cfg
}

// ----------------- HELPERS -----------------

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsBool(key string, defaultVal bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultVal
}

// ----------------- VALIDATION -----------------

var structValidator = validator.New()

func (c *Config) Validate() error {
	var errs []string

	if err := structValidator.Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			for _, fe := range fieldErrs {
				errs = append(errs, fmt.Sprintf("%s failed on %q", fe.Namespace(), fe.Tag()))
			}
		} else {
			errs = append(errs, err.Error())
		}
	}

	if err := c.Server.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("server config: %v", err))
	}

	if err := c.Database.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("database config: %v", err))
	}

	if c.Reconciliation.Resolver == ResolverGateway && c.Gateway.BaseURL == "" {
		errs = append(errs, "gateway config: base_url is required when reconciliation.resolver is gateway")
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}

	return nil
}

func (c *ServerConfig) Validate() error {
	if c.ReadTimeout < c.ReadHeaderTimeout {
		return errors.New("read_timeout must be >= read_header_timeout")
	}
	return nil
}

func (c *DatabaseConfig) Validate() error {
	if c.MaxIdleConns > c.MaxOpenConns {
		return errors.New("max_idle_conns cannot be greater than max_open_conns")
	}
	if c.Source == "" && c.Host == "" {
		return errors.New("either source or host is required")
	}
	return nil
}

// GetDSN returns the explicit source when set, otherwise a postgres URL built
// from the discrete connection fields.
func (c *DatabaseConfig) GetDSN() string {
	if c.Source != "" {
		return c.Source
	}
	port := c.Port
	if port == 0 {
		port = 5432
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     net.JoinHostPort(c.Host, strconv.Itoa(port)),
		Path:     "/" + c.Name,
		RawQuery: "sslmode=disable",
	}
	return u.String()
}
