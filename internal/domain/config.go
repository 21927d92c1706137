package domain

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the complete fraudsim configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server"`

	// Tier determines which backends are used
	Tier Tier `json:"tier"`

	// Core settings
	Scoring ScoringConfig `json:"scoring"`
	Perturb PerturbConfig `json:"perturb"`
	Search  SearchConfig  `json:"search"`
	Audit   AuditConfig   `json:"audit"`

	// Component configurations
	Repository RepositoryConfig `json:"repository"`
	Cache      CacheConfig      `json:"cache"`
	EventBus   EventBusConfig   `json:"eventBus"`

	// AsyncWorker enables the event-driven scoring worker.
	AsyncWorker bool `json:"asyncWorker"`

	// Observability
	Logging LoggingConfig `json:"logging"`
	Tracing TracingConfig `json:"tracing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	ReadTimeout  int    `json:"readTimeout"`  // seconds
	WriteTimeout int    `json:"writeTimeout"` // seconds

	// MaxBodyBytes caps request bodies; audit batches are the largest.
	MaxBodyBytes int64 `json:"maxBodyBytes"`
}

// DefaultMaxBodyBytes is the request body cap used when none is configured.
const DefaultMaxBodyBytes = 16 << 20

// ScoringConfig holds detection rule weights and thresholds.
type ScoringConfig struct {
	// Engine selects the scorer: "heuristic" or "cel".
	Engine string `json:"engine"`

	// RulesFile is an optional YAML rule set for the CEL scorer.
	RulesFile string `json:"rulesFile,omitempty"`

	GeoMismatchWeight  float64 `json:"geoMismatchWeight"`
	HighValueThreshold float64 `json:"highValueThreshold"`
	HighValueWeight    float64 `json:"highValueWeight"`
	TestItemWeight     float64 `json:"testItemWeight"`
	VelocityThreshold  float64 `json:"velocityThreshold"` // count scale
	VelocityFactor     float64 `json:"velocityFactor"`
	VelocityCap        float64 `json:"velocityCap"`

	// DetectionThreshold: score > threshold means detected.
	DetectionThreshold float64 `json:"detectionThreshold"`
}

// Scorer engine names.
const (
	ScorerHeuristic = "heuristic"
	ScorerCEL       = "cel"
)

// DefaultDetectionThreshold is the score above which an order is detected.
const DefaultDetectionThreshold = 0.7

// DefaultMaxAttemptsLimit is the largest max_attempts the API accepts by default.
const DefaultMaxAttemptsLimit = 100000

// PerturbConfig parameterizes the perturbation operators.
type PerturbConfig struct {
	AmountMinFactor float64 `json:"amountMinFactor"`
	AmountMaxFactor float64 `json:"amountMaxFactor"`
	AmountFloor     float64 `json:"amountFloor"`

	// ShippingRewriteProb is the chance the shipping country is forced to HomeMarket.
	ShippingRewriteProb float64 `json:"shippingRewriteProb"`
	HomeMarket          string  `json:"homeMarket"`

	// IPKeepCountryProb is the chance the IP stays in its inferred country.
	IPKeepCountryProb float64  `json:"ipKeepCountryProb"`
	CountryPool       []string `json:"countryPool"`

	// AddressTable maps a country code to its two-octet address prefixes.
	AddressTable map[string][]string `json:"addressTable"`
}

// SearchConfig holds adversarial search settings.
type SearchConfig struct {
	MaxAttempts      int   `json:"maxAttempts"`
	MaxAttemptsLimit int   `json:"maxAttemptsLimit"` // cap on client-supplied max_attempts
	Workers          int   `json:"workers"`
	Seed             int64 `json:"seed"` // 0 = seeded from the clock
	RecordTrace      bool  `json:"recordTrace"`
}

// AuditConfig holds batch auditor settings.
type AuditConfig struct {
	Workers       int `json:"workers"`
	ExcerptLength int `json:"excerptLength"`
	HistogramBins int `json:"histogramBins"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // json, text
}

// SlogLevel maps Level to a slog level. Unknown values mean info.
func (c LoggingConfig) SlogLevel() slog.Level {
	switch strings.ToLower(strings.TrimSpace(c.Level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool   `json:"enabled"`
	ServiceName string `json:"serviceName"`
}

// Tier represents the deployment tier.
type Tier string

const (
	// TierCommunity uses SQLite, an in-memory cache and channels.
	TierCommunity Tier = "community"

	// TierPro uses PostgreSQL, Redis and NATS.
	TierPro Tier = "pro"
)

// DefaultScoringConfig returns the reference rule weights.
func DefaultScoringConfig() ScoringConfig {
	return ScoringConfig{
		Engine:             ScorerHeuristic,
		GeoMismatchWeight:  0.3,
		HighValueThreshold: 1000,
		HighValueWeight:    0.2,
		TestItemWeight:     0.5,
		VelocityThreshold:  5,
		VelocityFactor:     0.06,
		VelocityCap:        0.3,
		DetectionThreshold: DefaultDetectionThreshold,
	}
}

// DefaultPerturbConfig returns the reference operator parameters.
func DefaultPerturbConfig() PerturbConfig {
	return PerturbConfig{
		AmountMinFactor:     0.7,
		AmountMaxFactor:     1.3,
		AmountFloor:         1,
		ShippingRewriteProb: 0.3,
		HomeMarket:          "US",
		IPKeepCountryProb:   0.3,
		CountryPool:         []string{"US", "GB", "DE", "CA"},
		AddressTable: map[string][]string{
			"US": {"12.34", "56.78", "90.12"},
			"GB": {"5.152", "31.185"},
			"DE": {"46.101", "78.194"},
			"CN": {"36.110", "42.122"},
			"RU": {"31.134", "46.178"},
			"NG": {"41.190", "105.235"},
		},
	}
}

// DefaultConfig returns a default configuration for Community tier.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 60,
			MaxBodyBytes: DefaultMaxBodyBytes,
		},
		Tier:    TierCommunity,
		Scoring: DefaultScoringConfig(),
		Perturb: DefaultPerturbConfig(),
		Search: SearchConfig{
			MaxAttempts:      100,
			MaxAttemptsLimit: DefaultMaxAttemptsLimit,
			Workers:          8,
		},
		Audit: AuditConfig{
			Workers:       8,
			ExcerptLength: 50,
			HistogramBins: 20,
		},
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./fraudsim.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			TTLs:         DefaultCacheTTLs(),
			LocalMaxSize: 10000,
			LocalTTL:     5 * time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "fraudsim",
		},
	}
}

// ProConfig returns a configuration for Pro tier.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "fraudsim",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		TTLs:           DefaultCacheTTLs(),
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.AsyncWorker = true
	cfg.Tracing.Enabled = true
	return cfg
}

// LoadConfig builds the configuration for the tier named by FRAUDSIM_TIER
// and applies FRAUDSIM_* overrides.
func LoadConfig() *Config {
	cfg := DefaultConfig()
	if Tier(os.Getenv("FRAUDSIM_TIER")) == TierPro {
		cfg = ProConfig()
	}

	cfg.Server.Port = getenvInt("FRAUDSIM_PORT", cfg.Server.Port)
	cfg.Server.MaxBodyBytes = int64(getenvInt("FRAUDSIM_MAX_BODY_BYTES", int(cfg.Server.MaxBodyBytes)))
	cfg.Repository.SQLitePath = getenv("FRAUDSIM_SQLITE_PATH", cfg.Repository.SQLitePath)
	cfg.Repository.PostgresHost = getenv("FRAUDSIM_POSTGRES_HOST", cfg.Repository.PostgresHost)
	cfg.Repository.PostgresUser = getenv("FRAUDSIM_POSTGRES_USER", cfg.Repository.PostgresUser)
	cfg.Repository.PostgresPassword = getenv("FRAUDSIM_POSTGRES_PASSWORD", cfg.Repository.PostgresPassword)
	cfg.Cache.RedisAddr = getenv("FRAUDSIM_REDIS_ADDR", cfg.Cache.RedisAddr)
	cfg.Cache.TTLs.Report = getenvDuration("FRAUDSIM_REPORT_TTL", cfg.Cache.TTLs.Report)
	cfg.Cache.TTLs.Evasion = getenvDuration("FRAUDSIM_EVASION_TTL", cfg.Cache.TTLs.Evasion)
	cfg.Cache.TTLs.Velocity = getenvDuration("FRAUDSIM_VELOCITY_WINDOW", cfg.Cache.TTLs.Velocity)
	cfg.EventBus.NATSUrl = getenv("FRAUDSIM_NATS_URL", cfg.EventBus.NATSUrl)

	cfg.Scoring.Engine = getenv("FRAUDSIM_SCORER", cfg.Scoring.Engine)
	cfg.Scoring.RulesFile = getenv("FRAUDSIM_RULES_FILE", cfg.Scoring.RulesFile)
	cfg.Scoring.DetectionThreshold = getenvFloat("FRAUDSIM_DETECTION_THRESHOLD", cfg.Scoring.DetectionThreshold)
	cfg.Perturb.HomeMarket = getenv("FRAUDSIM_HOME_MARKET", cfg.Perturb.HomeMarket)

	cfg.Search.MaxAttempts = getenvInt("FRAUDSIM_MAX_ATTEMPTS", cfg.Search.MaxAttempts)
	cfg.Search.MaxAttemptsLimit = getenvInt("FRAUDSIM_MAX_ATTEMPTS_LIMIT", cfg.Search.MaxAttemptsLimit)
	cfg.Search.Workers = getenvInt("FRAUDSIM_WORKERS", cfg.Search.Workers)
	cfg.Search.Seed = int64(getenvInt("FRAUDSIM_SEED", int(cfg.Search.Seed)))
	cfg.Audit.Workers = cfg.Search.Workers

	cfg.Logging.Level = getenv("FRAUDSIM_LOG_LEVEL", cfg.Logging.Level)
	if os.Getenv("FRAUDSIM_DEBUG") == "true" {
		cfg.Logging.Level = "debug"
	}
	if v := os.Getenv("FRAUDSIM_ASYNC_WORKER"); v != "" {
		cfg.AsyncWorker = strings.EqualFold(v, "true")
	}

	return cfg
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getenvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return fallback
}
