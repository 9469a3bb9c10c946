package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates application configuration values.
type Config struct {
	HTTP      HTTPConfig
	Logging   LoggingConfig
	Store     StoreConfig
	Graph     GraphConfig
	Cache     CacheConfig
	Channel   ChannelConfig
	Gateway   GatewayConfig
	Risk      RiskConfig
	Generator GeneratorConfig
	Broadcast BroadcastConfig
}

// HTTPConfig governs HTTP server behaviour.
type HTTPConfig struct {
	Host              string
	Port              int
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	ShutdownTimeout   time.Duration
	AllowedOriginsCSV string
}

// LoggingConfig controls structured logging settings.
type LoggingConfig struct {
	Level         string
	Format        string // text|json
	IncludeCaller bool
}

// StoreConfig selects the persistent store.
type StoreConfig struct {
	Driver      string // memory|postgres|neo4j
	DatabaseURL string
	MaxConns    int32
	SeedUsers   int
	SeedBalance string
}

// GraphConfig describes connectivity to the graph database (Neo4j).
type GraphConfig struct {
	URI            string
	Database       string
	Username       string
	Password       string
	MaxConnections int
}

// CacheConfig points at the optional cache backend. An empty URL disables it.
type CacheConfig struct {
	RedisURL string
}

// ChannelConfig selects the event channel carrying transaction requests.
type ChannelConfig struct {
	Driver  string // memory|kafka
	Brokers []string
	Topic   string
	GroupID string
	Buffer  int
}

// GatewayConfig selects and tunes the settlement backend.
type GatewayConfig struct {
	Provider       string // mock|stripe|square|paypal
	ApprovalRate   float64
	Timeout        time.Duration
	RatePerSecond  float64
	StripeKey      string
	StripeMethod   string
	SquareToken    string
	SquareLocation string
	SquareBaseURL  string
	PayPalClientID string
	PayPalSecret   string
	PayPalBaseURL  string
}

// RiskConfig tunes the fraud engine.
type RiskConfig struct {
	Threshold      float64
	VelocityWindow time.Duration
	Timezone       string
}

// GeneratorConfig drives synthetic request production.
type GeneratorConfig struct {
	Interval  time.Duration
	Seed      int64
	MaxAmount string
	AutoStart bool
}

// BroadcastConfig sizes per-subscriber queues.
type BroadcastConfig struct {
	SubscriberBuffer int
}

const (
	defaultHost             = "0.0.0.0"
	defaultPort             = 8080
	defaultReadTimeout      = 10 * time.Second
	defaultWriteTimeout     = 15 * time.Second
	defaultIdleTimeout      = 60 * time.Second
	defaultShutdownTimeout  = 10 * time.Second
	defaultLoggingLevel     = "info"
	defaultLoggingFormat    = "text"
	defaultStoreDriver      = "memory"
	defaultStoreMaxConns    = 10
	defaultSeedUsers        = 5
	defaultSeedBalance      = "10000.00"
	defaultGraphMaxSessions = 10
	defaultChannelDriver    = "memory"
	defaultChannelTopic     = "transactions"
	defaultChannelGroup     = "payment-processing-group"
	defaultChannelBuffer    = 256
	defaultGatewayProvider  = "mock"
	defaultApprovalRate     = 0.90
	defaultGatewayTimeout   = 10 * time.Second
	defaultStripeMethod     = "pm_card_visa"
	defaultSquareBaseURL    = "https://connect.squareup.com"
	defaultPayPalSandboxURL = "https://api.sandbox.paypal.com"
	defaultPayPalLiveURL    = "https://api.paypal.com"
	defaultRiskThreshold    = 0.85
	defaultVelocityWindow   = 60 * time.Minute
	defaultGenerateInterval = 2 * time.Second
	defaultMaxAmount        = "10000.00"
	defaultSubscriberBuffer = 64
)

// Load reads configuration from the environment, optionally seeded from a .env file.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("ignoring unreadable .env file", "error", err)
	}

	cfg := Config{
		HTTP: HTTPConfig{
			Host:              valueOrDefault("SERVER_HOST", defaultHost),
			AllowedOriginsCSV: os.Getenv("SERVER_ALLOWED_ORIGINS"),
		},
		Logging: LoggingConfig{
			Level:         valueOrDefault("LOG_LEVEL", defaultLoggingLevel),
			Format:        valueOrDefault("LOG_FORMAT", defaultLoggingFormat),
			IncludeCaller: parseBoolWithDefault("LOG_INCLUDE_CALLER", false),
		},
		Store: StoreConfig{
			Driver:      strings.ToLower(valueOrDefault("STORE_DRIVER", defaultStoreDriver)),
			DatabaseURL: os.Getenv("DATABASE_URL"),
			MaxConns:    int32(parseIntWithDefault("DATABASE_MAX_CONNS", defaultStoreMaxConns)),
			SeedUsers:   parseIntWithDefault("SEED_USERS", defaultSeedUsers),
			SeedBalance: valueOrDefault("SEED_BALANCE", defaultSeedBalance),
		},
		Graph: GraphConfig{
			URI:            os.Getenv("GRAPH_URI"),
			Database:       valueOrDefault("GRAPH_DATABASE", ""),
			Username:       os.Getenv("GRAPH_USERNAME"),
			Password:       os.Getenv("GRAPH_PASSWORD"),
			MaxConnections: parseIntWithDefault("GRAPH_MAX_CONNECTIONS", defaultGraphMaxSessions),
		},
		Cache: CacheConfig{
			RedisURL: os.Getenv("REDIS_URL"),
		},
		Channel: ChannelConfig{
			Driver:  strings.ToLower(valueOrDefault("CHANNEL_DRIVER", defaultChannelDriver)),
			Brokers: parseCSV(os.Getenv("KAFKA_BROKERS")),
			Topic:   valueOrDefault("KAFKA_TOPIC", defaultChannelTopic),
			GroupID: valueOrDefault("KAFKA_GROUP_ID", defaultChannelGroup),
			Buffer:  parseIntWithDefault("CHANNEL_BUFFER", defaultChannelBuffer),
		},
		Gateway: GatewayConfig{
			Provider:       strings.ToLower(valueOrDefault("PAYMENT_GATEWAY", defaultGatewayProvider)),
			ApprovalRate:   clampProbability(parseFloatWithDefault("MOCK_APPROVAL_RATE", defaultApprovalRate)),
			RatePerSecond:  parseFloatWithDefault("GATEWAY_RATE_LIMIT", 0),
			StripeKey:      os.Getenv("STRIPE_SECRET_KEY"),
			StripeMethod:   valueOrDefault("STRIPE_PAYMENT_METHOD", defaultStripeMethod),
			SquareToken:    os.Getenv("SQUARE_ACCESS_TOKEN"),
			SquareLocation: os.Getenv("SQUARE_LOCATION_ID"),
			SquareBaseURL:  valueOrDefault("SQUARE_BASE_URL", defaultSquareBaseURL),
			PayPalClientID: os.Getenv("PAYPAL_CLIENT_ID"),
			PayPalSecret:   os.Getenv("PAYPAL_CLIENT_SECRET"),
			PayPalBaseURL:  paypalBaseURL(),
		},
		Risk: RiskConfig{
			Threshold: clampProbability(parseFloatWithDefault("FRAUD_RISK_THRESHOLD", defaultRiskThreshold)),
			Timezone:  valueOrDefault("RISK_TIMEZONE", "Local"),
		},
		Generator: GeneratorConfig{
			Seed:      int64(parseIntWithDefault("GENERATOR_SEED", 0)),
			MaxAmount: valueOrDefault("MAX_TRANSACTION_AMOUNT", defaultMaxAmount),
			AutoStart: parseBoolWithDefault("GENERATOR_AUTOSTART", false),
		},
		Broadcast: BroadcastConfig{
			SubscriberBuffer: parseIntWithDefault("BROADCAST_BUFFER", defaultSubscriberBuffer),
		},
	}

	port, err := parsePort("SERVER_PORT", defaultPort)
	if err != nil {
		return Config{}, err
	}
	cfg.HTTP.Port = port

	durations := []struct {
		key      string
		fallback time.Duration
		target   *time.Duration
	}{
		{"SERVER_READ_TIMEOUT", defaultReadTimeout, &cfg.HTTP.ReadTimeout},
		{"SERVER_WRITE_TIMEOUT", defaultWriteTimeout, &cfg.HTTP.WriteTimeout},
		{"SERVER_IDLE_TIMEOUT", defaultIdleTimeout, &cfg.HTTP.IdleTimeout},
		{"SERVER_SHUTDOWN_TIMEOUT", defaultShutdownTimeout, &cfg.HTTP.ShutdownTimeout},
		{"GATEWAY_TIMEOUT", defaultGatewayTimeout, &cfg.Gateway.Timeout},
		{"GENERATOR_INTERVAL", defaultGenerateInterval, &cfg.Generator.Interval},
	}
	for _, d := range durations {
		v, err := parseDurationWithDefault(d.key, d.fallback)
		if err != nil {
			return Config{}, err
		}
		*d.target = v
	}

	window := defaultVelocityWindow
	if v := os.Getenv("VELOCITY_WINDOW_MINUTES"); v != "" {
		minutes, err := strconv.Atoi(v)
		if err != nil || minutes <= 0 {
			return Config{}, fmt.Errorf("invalid VELOCITY_WINDOW_MINUTES value %q", v)
		}
		window = time.Duration(minutes) * time.Minute
	}
	cfg.Risk.VelocityWindow = window

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.Store.Driver {
	case "memory":
	case "postgres":
		if c.Store.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for postgres store")
		}
	case "neo4j":
		if c.Graph.URI == "" {
			return fmt.Errorf("GRAPH_URI is required for neo4j store")
		}
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.Store.Driver)
	}

	switch c.Channel.Driver {
	case "memory":
	case "kafka":
		if len(c.Channel.Brokers) == 0 {
			return fmt.Errorf("KAFKA_BROKERS is required for kafka channel")
		}
	default:
		return fmt.Errorf("unknown CHANNEL_DRIVER %q", c.Channel.Driver)
	}

	switch c.Gateway.Provider {
	case "mock", "stripe", "square", "paypal":
	default:
		return fmt.Errorf("unknown PAYMENT_GATEWAY %q", c.Gateway.Provider)
	}
	return nil
}

// paypalBaseURL honours an explicit PAYPAL_BASE_URL, otherwise picks the live
// API only when PAYPAL_ENVIRONMENT=production.
func paypalBaseURL() string {
	if v := os.Getenv("PAYPAL_BASE_URL"); v != "" {
		return v
	}
	if strings.EqualFold(os.Getenv("PAYPAL_ENVIRONMENT"), "production") {
		return defaultPayPalLiveURL
	}
	return defaultPayPalSandboxURL
}

func valueOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func parseBoolWithDefault(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		val, err := strconv.ParseBool(v)
		if err != nil {
			return fallback
		}
		return val
	}
	return fallback
}

func parseIntWithDefault(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if val, err := strconv.Atoi(v); err == nil {
			return val
		}
	}
	return fallback
}

func parseFloatWithDefault(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if val, err := strconv.ParseFloat(v, 64); err == nil {
			return val
		}
	}
	return fallback
}

func parseDurationWithDefault(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func parsePort(key string, fallback int) (int, error) {
	if v := os.Getenv(key); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s value %q: %w", key, v, err)
		}
		if port <= 0 || port > 65535 {
			return 0, fmt.Errorf("port %d is out of range", port)
		}
		return port, nil
	}
	return fallback, nil
}

func parseCSV(csv string) []string {
	if csv == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(csv, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func clampProbability(value float64) float64 {
	if value < 0 {
		return 0
	}
	if value > 1 {
		return 1
	}
	return value
}
