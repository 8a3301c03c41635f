package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the main application configuration
type Config struct {
	Server     ServerConfig       `mapstructure:"server"`
	Storage    StorageConfig      `mapstructure:"storage"`
	Cache      CacheConfig        `mapstructure:"cache"`
	Engine     EngineConfig       `mapstructure:"engine"`
	Guidelines GuidelinesDBConfig `mapstructure:"guidelines"`
	Notify     NotifyConfig       `mapstructure:"notify"`
	Logging    LoggingConfig      `mapstructure:"logging"`
}

// GuidelinesDBConfig points at the external Guidelines Database. An empty
// base URL selects the built-in baseline guideline set.
type GuidelinesDBConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// ServerConfig represents HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// StorageConfig selects and configures the assessment audit store
type StorageConfig struct {
	Driver   string         `mapstructure:"driver"` // "sqlite" or "postgres"
	SQLite   SQLiteConfig   `mapstructure:"sqlite"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// SQLiteConfig configures the standalone single-file store
type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

// PostgresConfig configures the postgres connection pool
type PostgresConfig struct {
	Host        string        `mapstructure:"host"`
	Port        int           `mapstructure:"port"`
	Database    string        `mapstructure:"database"`
	Username    string        `mapstructure:"username"`
	Password    string        `mapstructure:"password"`
	SSLMode     string        `mapstructure:"ssl_mode"`
	MaxConns    int32         `mapstructure:"max_conns"`
	MinConns    int32         `mapstructure:"min_conns"`
	MaxConnLife time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdle time.Duration `mapstructure:"max_conn_idle"`
}

// CacheConfig configures the guideline read-through cache
type CacheConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
	TTL           time.Duration `mapstructure:"ttl"`
	TrendLRUSize  int           `mapstructure:"trend_lru_size"`
}

// EngineConfig carries the injectable analytical tables. Weight tables are
// configuration, not constants, so guideline updates need no code change.
type EngineConfig struct {
	Trend       TrendConfig       `mapstructure:"trend"`
	Gap         GapConfig         `mapstructure:"gap"`
	Aggregation AggregationConfig `mapstructure:"aggregation"`
	Explanation ExplanationConfig `mapstructure:"explanation"`
}

// TrendConfig configures the trend detector
type TrendConfig struct {
	SmoothingWindow       int                      `mapstructure:"smoothing_window"`
	PValueThreshold       float64                  `mapstructure:"p_value_threshold"`
	RapidChangeWindowDays int                      `mapstructure:"rapid_change_window_days"`
	RapidChangeFraction   float64                  `mapstructure:"rapid_change_fraction"`
	ResidualCapSigma      float64                  `mapstructure:"residual_cap_sigma"`
	Thresholds            map[string]RateThreshold `mapstructure:"thresholds"` // per-parameter rate magnitudes
	DefaultThreshold      RateThreshold            `mapstructure:"default_threshold"`
}

// RateThreshold maps rate-of-change magnitude to significance tiers
type RateThreshold struct {
	Moderate float64 `mapstructure:"moderate"` // |rate|/day at which significance is MODERATE
	High     float64 `mapstructure:"high"`     // |rate|/day at which significance is HIGH
}

// GapConfig configures the gap detector
type GapConfig struct {
	RiskWeights       map[string]float64 `mapstructure:"risk_weights"` // keyed by test category
	HighThreshold     float64            `mapstructure:"high_threshold"`
	ModerateThreshold float64            `mapstructure:"moderate_threshold"`
	RelaxationOrder   []string           `mapstructure:"relaxation_order"`
}

// AggregationConfig configures the risk aggregator
type AggregationConfig struct {
	AbsenceWeight     float64 `mapstructure:"absence_weight"`
	TrendWeight       float64 `mapstructure:"trend_weight"`
	FollowUpWeight    float64 `mapstructure:"follow_up_weight"`
	DemographicWeight float64 `mapstructure:"demographic_weight"`
	ConservativeScore float64 `mapstructure:"conservative_score"` // substitute on calculation failure
}

// ExplanationConfig configures the explanation builder
type ExplanationConfig struct {
	DenylistTerms []string `mapstructure:"denylist_terms"`
	MaxGradeLevel float64  `mapstructure:"max_grade_level"`
}

// NotifyConfig configures follow-up notification dispatch. Dispatch is
// disabled when the base URL is empty.
type NotifyConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	BaseURL       string        `mapstructure:"base_url"`
	Timeout       time.Duration `mapstructure:"timeout"`
	RatePerSecond float64       `mapstructure:"rate_per_second"`
	Burst         int           `mapstructure:"burst"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Manager loads and validates configuration using Viper
type Manager struct {
	config *Config
}

// NewManager creates a new configuration manager
func NewManager() (*Manager, error) {
	m := &Manager{}
	if err := m.loadConfig(); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return m, nil
}

// loadConfig loads configuration from file and environment
func (m *Manager) loadConfig() error {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/preventive-health-engine/")

	viper.SetEnvPrefix("PHE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found; defaults and environment variables apply
	}

	config := &Config{}
	if err := viper.Unmarshal(config); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}

	m.config = config
	return nil
}

// setDefaults sets default configuration values
func setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", "30s")
	viper.SetDefault("server.write_timeout", "30s")
	viper.SetDefault("server.idle_timeout", "120s")

	viper.SetDefault("storage.driver", "sqlite")
	viper.SetDefault("storage.sqlite.path", "data/assessments.db")
	viper.SetDefault("storage.postgres.host", "localhost")
	viper.SetDefault("storage.postgres.port", 5432)
	viper.SetDefault("storage.postgres.database", "preventive_health")
	viper.SetDefault("storage.postgres.username", "postgres")
	viper.SetDefault("storage.postgres.password", "")
	viper.SetDefault("storage.postgres.ssl_mode", "disable")
	viper.SetDefault("storage.postgres.max_conns", 25)
	viper.SetDefault("storage.postgres.min_conns", 2)
	viper.SetDefault("storage.postgres.max_conn_lifetime", "1h")
	viper.SetDefault("storage.postgres.max_conn_idle", "30m")

	viper.SetDefault("cache.enabled", false)
	viper.SetDefault("cache.redis_addr", "localhost:6379")
	viper.SetDefault("cache.redis_db", 0)
	viper.SetDefault("cache.ttl", "24h")
	viper.SetDefault("cache.trend_lru_size", 512)

	viper.SetDefault("engine.trend.smoothing_window", 3)
	viper.SetDefault("engine.trend.p_value_threshold", 0.05)
	viper.SetDefault("engine.trend.rapid_change_window_days", 90)
	viper.SetDefault("engine.trend.rapid_change_fraction", 0.20)
	viper.SetDefault("engine.trend.residual_cap_sigma", 2.5)
	viper.SetDefault("engine.trend.default_threshold.moderate", 0.001)
	viper.SetDefault("engine.trend.default_threshold.high", 0.005)
	viper.SetDefault("engine.trend.thresholds.hba1c.moderate", 0.0005)
	viper.SetDefault("engine.trend.thresholds.hba1c.high", 0.002)
	viper.SetDefault("engine.trend.thresholds.fasting_glucose.moderate", 0.02)
	viper.SetDefault("engine.trend.thresholds.fasting_glucose.high", 0.1)

	viper.SetDefault("engine.gap.risk_weights", map[string]float64{
		"CANCER_SCREENING": 3.0,
		"DIABETES":         2.5,
		"CARDIOVASCULAR":   2.5,
		"GENERAL_WELLNESS": 1.0,
	})
	viper.SetDefault("engine.gap.high_threshold", 2.0)
	viper.SetDefault("engine.gap.moderate_threshold", 0.75)
	viper.SetDefault("engine.gap.relaxation_order", []string{"risk_factors", "age_range"})

	viper.SetDefault("engine.aggregation.absence_weight", 0.4)
	viper.SetDefault("engine.aggregation.trend_weight", 0.3)
	viper.SetDefault("engine.aggregation.follow_up_weight", 0.2)
	viper.SetDefault("engine.aggregation.demographic_weight", 0.1)
	viper.SetDefault("engine.aggregation.conservative_score", 75.0)

	viper.SetDefault("engine.explanation.max_grade_level", 8.0)

	viper.SetDefault("guidelines.base_url", "")
	viper.SetDefault("guidelines.timeout", "10s")

	viper.SetDefault("notify.enabled", true)
	viper.SetDefault("notify.base_url", "")
	viper.SetDefault("notify.timeout", "5s")
	viper.SetDefault("notify.rate_per_second", 5.0)
	viper.SetDefault("notify.burst", 10)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
}

// GetConfig returns the complete configuration
func (m *Manager) GetConfig() *Config {
	return m.config
}

// Validate validates the configuration
func (m *Manager) Validate() error {
	config := m.config

	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}

	switch config.Storage.Driver {
	case "sqlite":
		if config.Storage.SQLite.Path == "" {
			return fmt.Errorf("sqlite path is required")
		}
	case "postgres":
		if config.Storage.Postgres.Host == "" {
			return fmt.Errorf("postgres host is required")
		}
		if config.Storage.Postgres.Database == "" {
			return fmt.Errorf("postgres database name is required")
		}
	default:
		return fmt.Errorf("unknown storage driver: %s", config.Storage.Driver)
	}

	agg := config.Engine.Aggregation
	sum := agg.AbsenceWeight + agg.TrendWeight + agg.FollowUpWeight + agg.DemographicWeight
	if sum < 0.999 || sum > 1.001 {
		return fmt.Errorf("aggregation weights must sum to 1.0, got %.3f", sum)
	}

	if config.Engine.Trend.SmoothingWindow < 1 {
		return fmt.Errorf("smoothing window must be at least 1")
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLogLevels[strings.ToLower(config.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s", config.Logging.Level)
	}

	return nil
}

// PostgresConnectionString returns a formatted connection string
func (m *Manager) PostgresConnectionString() string {
	pg := m.config.Storage.Postgres
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		pg.Host, pg.Port, pg.Username, pg.Password, pg.Database, pg.SSLMode)
}
