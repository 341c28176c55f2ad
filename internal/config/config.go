package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"

	BusProviderNats = "nats"
	BusProviderGRPC = "grpc"
)

type Config struct {
	App      AppConfig
	Store    StoreConfig
	Postgres PostgresConfig
	Redis    RedisConfig
	Nats     NatsConfig
	GRPC     GRPCConfig
	API      APIConfig
	Outbox   OutboxConfig
	Stripe   StripeConfig
	Ledger   LedgerConfig
}

type AppConfig struct {
	Env          string `envconfig:"CREDITFLOW_APP_ENV" default:"dev"`
	ServiceName  string `envconfig:"CREDITFLOW_SERVICE_NAME" default:"creditflow"`
	LogLevel     string `envconfig:"CREDITFLOW_LOG_LEVEL" default:"info"`
	LogFormat    string `envconfig:"CREDITFLOW_LOG_FORMAT" default:"json"`
	LogWarnStack bool   `envconfig:"CREDITFLOW_LOG_WARN_STACK" default:"false"`
}

type StoreConfig struct {
	Driver      string `envconfig:"CREDITFLOW_STORE_DRIVER" default:"postgres"`
	AutoMigrate bool   `envconfig:"CREDITFLOW_AUTO_MIGRATE" default:"false"`
}

type PostgresConfig struct {
	DSN      string `envconfig:"CREDITFLOW_POSTGRES_DSN"`
	User     string `envconfig:"CREDITFLOW_POSTGRES_USER"`
	Password string `envconfig:"CREDITFLOW_POSTGRES_PASSWORD"`
	Host     string `envconfig:"CREDITFLOW_POSTGRES_HOST"`
	Port     int    `envconfig:"CREDITFLOW_POSTGRES_PORT" default:"5432"`
	DB       string `envconfig:"CREDITFLOW_POSTGRES_DB"`
	SSLMode  string `envconfig:"CREDITFLOW_POSTGRES_SSLMODE" default:"disable"`

	MaxConns        int32         `envconfig:"CREDITFLOW_POSTGRES_MAX_CONNS" default:"20"`
	ConnMaxLifetime time.Duration `envconfig:"CREDITFLOW_POSTGRES_CONN_MAX_LIFETIME" default:"1h"`
}

type RedisConfig struct {
	Host           string        `envconfig:"CREDITFLOW_REDIS_HOST"`
	Port           string        `envconfig:"CREDITFLOW_REDIS_PORT" default:"6379"`
	Password       string        `envconfig:"CREDITFLOW_REDIS_PASSWORD"`
	DB             int           `envconfig:"CREDITFLOW_REDIS_DB" default:"0"`
	IdempotencyTTL time.Duration `envconfig:"CREDITFLOW_REDIS_IDEMPOTENCY_TTL" default:"24h"`
}

type NatsConfig struct {
	Host string `envconfig:"CREDITFLOW_NATS_HOST"`
	Port string `envconfig:"CREDITFLOW_NATS_PORT" default:"4222"`
}

type GRPCConfig struct {
	ListenPort string `envconfig:"CREDITFLOW_GRPC_LISTEN_PORT" default:"50051"`
	// Remote EventService used as the bus when BusProvider is grpc.
	BusHost string `envconfig:"CREDITFLOW_GRPC_HOST"`
	BusPort string `envconfig:"CREDITFLOW_GRPC_PORT"`
}

type APIConfig struct {
	Enabled     bool   `envconfig:"CREDITFLOW_API_ENABLED" default:"false"`
	Port        string `envconfig:"CREDITFLOW_API_PORT"`
	BusProvider string `envconfig:"CREDITFLOW_BUS_PROVIDER"`
}

type OutboxConfig struct {
	BatchSize    int           `envconfig:"CREDITFLOW_OUTBOX_BATCH_SIZE" default:"50"`
	PollInterval time.Duration `envconfig:"CREDITFLOW_OUTBOX_POLL_INTERVAL" default:"500ms"`
	MaxAttempts  int           `envconfig:"CREDITFLOW_OUTBOX_MAX_ATTEMPTS" default:"10"`
}

type StripeConfig struct {
	WebhookSecret string `envconfig:"CREDITFLOW_STRIPE_WEBHOOK_SECRET"`
}

type LedgerConfig struct {
	RefundFailedAssets bool `envconfig:"CREDITFLOW_REFUND_FAILED_ASSETS" default:"true"`
}

// Load reads .env (if present) and the process environment into a validated Config.
// The HTTP server is optional: ApiAddr returns an error unless CREDITFLOW_API_ENABLED=true.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	c.Store.Driver = strings.ToLower(strings.TrimSpace(c.Store.Driver))
	switch c.Store.Driver {
	case StoreDriverPostgres:
		if err := c.Postgres.ensureDSN(); err != nil {
			return err
		}
		if c.Redis.Host == "" {
			return fmt.Errorf("missing required env for redis: CREDITFLOW_REDIS_HOST")
		}
	case StoreDriverMemory:
	default:
		return fmt.Errorf("invalid store driver %q, must be 'postgres' or 'memory'", c.Store.Driver)
	}

	provider := strings.ToLower(strings.TrimSpace(c.API.BusProvider))
	if provider == "" {
		return fmt.Errorf("missing required env: CREDITFLOW_BUS_PROVIDER (nats|grpc)")
	}
	if provider != BusProviderNats && provider != BusProviderGRPC {
		return fmt.Errorf("invalid bus provider %q, must be 'nats' or 'grpc'", provider)
	}
	c.API.BusProvider = provider

	if provider == BusProviderGRPC && (c.GRPC.BusHost == "" || c.GRPC.BusPort == "") {
		return fmt.Errorf("missing required env for grpc bus: CREDITFLOW_GRPC_HOST/PORT")
	}
	if provider == BusProviderNats && c.Nats.Host == "" {
		return fmt.Errorf("missing required env for nats bus: CREDITFLOW_NATS_HOST")
	}
	return nil
}

func (p *PostgresConfig) ensureDSN() error {
	if p.DSN != "" {
		return nil
	}
	if p.User == "" || p.Host == "" || p.DB == "" {
		return fmt.Errorf("missing required env for database: CREDITFLOW_POSTGRES_DSN or CREDITFLOW_POSTGRES_USER/HOST/DB")
	}

	userInfo := url.User(p.User)
	if p.Password != "" {
		userInfo = url.UserPassword(p.User, p.Password)
	}
	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", p.Host, p.Port),
		Path:   p.DB,
	}
	if p.SSLMode != "" {
		q := u.Query()
		q.Set("sslmode", p.SSLMode)
		u.RawQuery = q.Encode()
	}
	p.DSN = u.String()
	return nil
}

func (c *Config) DSN() string {
	return c.Postgres.DSN
}

// RedisEnabled reports whether a Redis host was configured.
func (c *Config) RedisEnabled() bool {
	return c.Redis.Host != ""
}

func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%s", c.Redis.Host, c.Redis.Port)
}

func (c *Config) NatsAddr() string {
	return fmt.Sprintf("nats://%s:%s", c.Nats.Host, c.Nats.Port)
}

func (c *Config) GRPCAddr() string {
	return fmt.Sprintf("%s:%s", c.GRPC.BusHost, c.GRPC.BusPort)
}

func (c *Config) GRPCListenAddr() string {
	return ":" + c.GRPC.ListenPort
}

// ApiAddr returns the HTTP listen address if the API is enabled.
// Callers skip starting the HTTP server when it returns an error.
func (c *Config) ApiAddr() (string, error) {
	if !c.API.Enabled {
		return "", fmt.Errorf("HTTP API is disabled (CREDITFLOW_API_ENABLED != true)")
	}
	if c.API.Port == "" {
		return "", fmt.Errorf("CREDITFLOW_API_PORT is required when CREDITFLOW_API_ENABLED=true")
	}
	return ":" + c.API.Port, nil
}

// BusAddr returns the connection address for the configured bus provider.
func (c *Config) BusAddr() string {
	if c.API.BusProvider == BusProviderNats {
		return c.NatsAddr()
	}
	return c.GRPCAddr()
}
