package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete application configuration
type Config struct {
	Engine    EngineConfig    `mapstructure:"engine"`
	Validator ValidatorConfig `mapstructure:"validator"`
	Features  FeaturesConfig  `mapstructure:"features"`
	Zones     ZonesConfig     `mapstructure:"zones"`
	Ensemble  EnsembleConfig  `mapstructure:"ensemble"`
	Ingest    IngestConfig    `mapstructure:"ingest"`
	Gateway   GatewayConfig   `mapstructure:"gateway"`
	API       APIConfig       `mapstructure:"api"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Telegram  TelegramConfig  `mapstructure:"telegram"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// EngineConfig holds the core pipeline behavior configuration
type EngineConfig struct {
	WindowSize                int           `mapstructure:"window_size"`
	DeescalationConfirmations int           `mapstructure:"deescalation_confirmations"`
	Partitions                int           `mapstructure:"partitions"`
	QueueDepth                int           `mapstructure:"queue_depth"`
	PredictorTimeout          time.Duration `mapstructure:"predictor_timeout"`
	ReadingBudget             time.Duration `mapstructure:"reading_budget"`
	SweepInterval             time.Duration `mapstructure:"sweep_interval"`
	CheckpointInterval        time.Duration `mapstructure:"checkpoint_interval"`
	OfflineAfter              time.Duration `mapstructure:"offline_after"`
}

// ValidatorConfig holds ingest validation limits
type ValidatorConfig struct {
	MaxPressureBar float64       `mapstructure:"max_pressure_bar"`
	MaxFutureSkew  time.Duration `mapstructure:"max_future_skew"`
}

// FeaturesConfig holds feature extraction parameters
type FeaturesConfig struct {
	NightStartHour int `mapstructure:"night_start_hour"`
	NightEndHour   int `mapstructure:"night_end_hour"`
}

// ZonesConfig holds per-zone alert response budgets and optional
// classification table overrides. Empty band lists keep the built-in
// thresholds.
type ZonesConfig struct {
	CriticalResponseBudget time.Duration `mapstructure:"critical_response_budget"`
	StandardResponseBudget time.Duration `mapstructure:"standard_response_budget"`
	CriticalBands          []ZoneBand    `mapstructure:"critical_bands"`
	StandardBands          []ZoneBand    `mapstructure:"standard_bands"`
}

// ZoneBand is one classification table row: the risk level applies when
// either probability reaches its threshold. Thresholds above 1 never match.
type ZoneBand struct {
	Level string  `mapstructure:"level"`
	Burst float64 `mapstructure:"burst"`
	Leak  float64 `mapstructure:"leak"`
}

// EnsembleConfig holds model loading configuration
type EnsembleConfig struct {
	ModelsDir string `mapstructure:"models_dir"`
}

// IngestConfig holds Kafka reading-source configuration
type IngestConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
	GroupID string   `mapstructure:"group_id"`
}

// GatewayConfig holds SCADA gateway polling configuration
type GatewayConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	BaseURL      string        `mapstructure:"base_url"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	Timeout      time.Duration `mapstructure:"timeout"`
	Limit        int           `mapstructure:"limit"`
}

// APIConfig holds HTTP API configuration
type APIConfig struct {
	ListenAddr      string        `mapstructure:"listen_addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// StorageConfig holds persistence configuration
type StorageConfig struct {
	DBPath     string `mapstructure:"db_path"`
	MaxResults int    `mapstructure:"max_results"`
}

// CacheConfig holds Redis cache configuration
type CacheConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Addr        string        `mapstructure:"addr"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	TTL         time.Duration `mapstructure:"ttl"`
	RecentLimit int           `mapstructure:"recent_limit"`
}

// TelegramConfig holds Telegram notification configuration
type TelegramConfig struct {
	BotToken   string        `mapstructure:"bot_token"`
	ChatID     int64         `mapstructure:"chat_id"`
	Enabled    bool          `mapstructure:"enabled"`
	MaxRetries int           `mapstructure:"max_retries"`
	RetryDelay time.Duration `mapstructure:"retry_delay"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from file and environment variables
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(path)

	setDefaults(v)

	// Enable environment variable override
	v.SetEnvPrefix("AQUASENTRY")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults configures default values for all configuration options
func setDefaults(v *viper.Viper) {
	// Engine defaults
	v.SetDefault("engine.window_size", 30)
	v.SetDefault("engine.deescalation_confirmations", 2)
	v.SetDefault("engine.partitions", 8)
	v.SetDefault("engine.queue_depth", 50)
	v.SetDefault("engine.predictor_timeout", "1s")
	v.SetDefault("engine.reading_budget", "5s")
	v.SetDefault("engine.sweep_interval", "15s")
	v.SetDefault("engine.checkpoint_interval", "1m")
	v.SetDefault("engine.offline_after", "5m")

	// Validator defaults
	v.SetDefault("validator.max_pressure_bar", 25.0)
	v.SetDefault("validator.max_future_skew", "2m")

	// Feature defaults
	v.SetDefault("features.night_start_hour", 22)
	v.SetDefault("features.night_end_hour", 6)

	// Zone defaults
	v.SetDefault("zones.critical_response_budget", "5m")
	v.SetDefault("zones.standard_response_budget", "15m")

	// Ensemble defaults
	v.SetDefault("ensemble.models_dir", "./configs/models")

	// Ingest defaults
	v.SetDefault("ingest.enabled", false)
	v.SetDefault("ingest.brokers", []string{"localhost:9092"})
	v.SetDefault("ingest.topic", "sensor-readings")
	v.SetDefault("ingest.group_id", "aquasentry")

	// Gateway defaults
	v.SetDefault("gateway.enabled", false)
	v.SetDefault("gateway.base_url", "http://localhost:8089")
	v.SetDefault("gateway.poll_interval", "30s")
	v.SetDefault("gateway.timeout", "10s")
	v.SetDefault("gateway.limit", 500)

	// API defaults
	v.SetDefault("api.listen_addr", ":8080")
	v.SetDefault("api.shutdown_timeout", "10s")

	// Storage defaults
	v.SetDefault("storage.db_path", "./data/aquasentry.db")
	v.SetDefault("storage.max_results", 100000)

	// Cache defaults
	v.SetDefault("cache.enabled", false)
	v.SetDefault("cache.addr", "localhost:6379")
	v.SetDefault("cache.db", 0)
	v.SetDefault("cache.ttl", "1h")
	v.SetDefault("cache.recent_limit", 1000)

	// Telegram defaults
	v.SetDefault("telegram.enabled", false)
	v.SetDefault("telegram.max_retries", 3)
	v.SetDefault("telegram.retry_delay", "1s")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	// Validate engine config
	if c.Engine.WindowSize < 2 {
		return fmt.Errorf("engine.window_size must be at least 2")
	}
	if c.Engine.DeescalationConfirmations < 1 {
		return fmt.Errorf("engine.deescalation_confirmations must be at least 1")
	}
	if c.Engine.Partitions < 1 {
		return fmt.Errorf("engine.partitions must be at least 1")
	}
	if c.Engine.QueueDepth < 1 {
		return fmt.Errorf("engine.queue_depth must be at least 1")
	}
	if c.Engine.PredictorTimeout <= 0 {
		return fmt.Errorf("engine.predictor_timeout must be positive")
	}
	if c.Engine.SweepInterval < 1*time.Second {
		return fmt.Errorf("engine.sweep_interval must be at least 1 second")
	}
	if c.Engine.CheckpointInterval < 10*time.Second {
		return fmt.Errorf("engine.checkpoint_interval must be at least 10 seconds")
	}

	// Validate validator config
	if c.Validator.MaxPressureBar <= 0 {
		return fmt.Errorf("validator.max_pressure_bar must be positive")
	}
	if c.Validator.MaxFutureSkew < 0 {
		return fmt.Errorf("validator.max_future_skew must not be negative")
	}

	// Validate feature config
	if c.Features.NightStartHour < 0 || c.Features.NightStartHour > 23 {
		return fmt.Errorf("features.night_start_hour must be between 0 and 23")
	}
	if c.Features.NightEndHour < 0 || c.Features.NightEndHour > 23 {
		return fmt.Errorf("features.night_end_hour must be between 0 and 23")
	}

	// Validate zone config
	if c.Zones.CriticalResponseBudget < 1*time.Minute {
		return fmt.Errorf("zones.critical_response_budget must be at least 1 minute")
	}
	if c.Zones.StandardResponseBudget < 1*time.Minute {
		return fmt.Errorf("zones.standard_response_budget must be at least 1 minute")
	}
	validBandLevels := map[string]bool{"medium": true, "high": true, "critical": true}
	for _, band := range append(append([]ZoneBand{}, c.Zones.CriticalBands...), c.Zones.StandardBands...) {
		if !validBandLevels[band.Level] {
			return fmt.Errorf("zone band level must be one of: medium, high, critical, got %q", band.Level)
		}
		if band.Burst < 0 || band.Leak < 0 {
			return fmt.Errorf("zone band thresholds must not be negative")
		}
	}

	// Validate ensemble config
	if c.Ensemble.ModelsDir == "" {
		return fmt.Errorf("ensemble.models_dir is required")
	}

	// Validate ingest config
	if c.Ingest.Enabled {
		if len(c.Ingest.Brokers) == 0 {
			return fmt.Errorf("ingest.brokers must contain at least one broker when ingest is enabled")
		}
		if c.Ingest.Topic == "" {
			return fmt.Errorf("ingest.topic is required when ingest is enabled")
		}
		if c.Ingest.GroupID == "" {
			return fmt.Errorf("ingest.group_id is required when ingest is enabled")
		}
	}

	// Validate gateway config
	if c.Gateway.Enabled {
		if c.Gateway.BaseURL == "" {
			return fmt.Errorf("gateway.base_url is required when gateway polling is enabled")
		}
		if c.Gateway.PollInterval < 1*time.Second {
			return fmt.Errorf("gateway.poll_interval must be at least 1 second")
		}
		if c.Gateway.Limit < 1 || c.Gateway.Limit > 10000 {
			return fmt.Errorf("gateway.limit must be between 1 and 10000")
		}
	}

	// Validate API config
	if c.API.ListenAddr == "" {
		return fmt.Errorf("api.listen_addr is required")
	}

	// Validate storage config
	if c.Storage.DBPath == "" {
		return fmt.Errorf("storage.db_path is required")
	}
	if c.Storage.MaxResults < 1 {
		return fmt.Errorf("storage.max_results must be at least 1")
	}

	// Validate cache config
	if c.Cache.Enabled {
		if c.Cache.Addr == "" {
			return fmt.Errorf("cache.addr is required when cache is enabled")
		}
		if c.Cache.RecentLimit < 1 {
			return fmt.Errorf("cache.recent_limit must be at least 1")
		}
	}

	// Validate telegram config
	if c.Telegram.Enabled {
		if c.Telegram.BotToken == "" {
			return fmt.Errorf("telegram.bot_token is required when telegram is enabled")
		}
		if c.Telegram.ChatID == 0 {
			return fmt.Errorf("telegram.chat_id is required when telegram is enabled")
		}
		if c.Telegram.MaxRetries < 1 {
			return fmt.Errorf("telegram.max_retries must be at least 1")
		}
	}

	// Validate logging config
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	return nil
}
