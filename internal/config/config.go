package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Engine   EngineConfig   `mapstructure:"engine"`
	Parking  ParkingConfig  `mapstructure:"parking"`
	Log      LogConfig      `mapstructure:"log"`
}

type ServerConfig struct {
	Addr           string   `mapstructure:"addr"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type DatabaseConfig struct {
	DSN string `mapstructure:"dsn"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
}

type EngineConfig struct {
	ToggleCooldownMinutes          int     `mapstructure:"toggle_cooldown_minutes"`
	ExitSimilarityThreshold        float64 `mapstructure:"exit_similarity_threshold"`
	ImmediateFinalizationThreshold float64 `mapstructure:"immediate_finalization_threshold"`
	BufferWindowSeconds            int     `mapstructure:"buffer_window_seconds"`
	OrphanSessionHorizonHours      int     `mapstructure:"orphan_session_horizon_hours"`
	IdentityRecencyHorizonHours    int     `mapstructure:"identity_recency_horizon_hours"`
	MinPlateDigits                 int     `mapstructure:"min_plate_digits"`
	CameraQueueSize                int     `mapstructure:"camera_queue_size"`
	DropOldestOnFullQueue          bool    `mapstructure:"drop_oldest_on_full_queue"`
	PersistenceRetries             int     `mapstructure:"persistence_retries"`
	RetrySpillPath                 string  `mapstructure:"retry_spill_path"`
}

type ParkingConfig struct {
	HourlyRate         float64 `mapstructure:"hourly_rate"`
	MinimumChargeHours float64 `mapstructure:"minimum_charge_hours"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

func (c EngineConfig) ToggleCooldown() time.Duration {
	return time.Duration(c.ToggleCooldownMinutes) * time.Minute
}

func (c EngineConfig) BufferWindow() time.Duration {
	return time.Duration(c.BufferWindowSeconds) * time.Second
}

func (c EngineConfig) OrphanSessionHorizon() time.Duration {
	return time.Duration(c.OrphanSessionHorizonHours) * time.Hour
}

func (c EngineConfig) IdentityRecencyHorizon() time.Duration {
	return time.Duration(c.IdentityRecencyHorizonHours) * time.Hour
}

// Load reads configuration from an optional YAML file and PARKGATE_* env
// variables, on top of the built-in defaults.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("database.dsn", "host=localhost user=parkgate password=parkgate dbname=parkgate port=5432 sslmode=disable")
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("engine.toggle_cooldown_minutes", 2)
	v.SetDefault("engine.exit_similarity_threshold", 0.80)
	v.SetDefault("engine.immediate_finalization_threshold", 0.95)
	v.SetDefault("engine.buffer_window_seconds", 3)
	v.SetDefault("engine.orphan_session_horizon_hours", 24)
	v.SetDefault("engine.identity_recency_horizon_hours", 24)
	v.SetDefault("engine.min_plate_digits", 4)
	v.SetDefault("engine.camera_queue_size", 256)
	v.SetDefault("engine.drop_oldest_on_full_queue", true)
	v.SetDefault("engine.persistence_retries", 5)
	v.SetDefault("engine.retry_spill_path", "parkgate-retry.jsonl")
	v.SetDefault("parking.hourly_rate", 50.0)
	v.SetDefault("parking.minimum_charge_hours", 1.0)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)

	v.SetEnvPrefix("PARKGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Engine.ExitSimilarityThreshold <= 0 || c.Engine.ExitSimilarityThreshold > 1 {
		return fmt.Errorf("engine.exit_similarity_threshold must be in (0,1], got %v", c.Engine.ExitSimilarityThreshold)
	}
	if c.Engine.ImmediateFinalizationThreshold <= 0 || c.Engine.ImmediateFinalizationThreshold > 1 {
		return fmt.Errorf("engine.immediate_finalization_threshold must be in (0,1], got %v", c.Engine.ImmediateFinalizationThreshold)
	}
	if c.Engine.ToggleCooldownMinutes < 0 {
		return fmt.Errorf("engine.toggle_cooldown_minutes must not be negative")
	}
	if c.Engine.CameraQueueSize <= 0 {
		return fmt.Errorf("engine.camera_queue_size must be positive")
	}
	if c.Parking.HourlyRate < 0 {
		return fmt.Errorf("parking.hourly_rate must not be negative")
	}
	return nil
}
