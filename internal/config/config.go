package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App    AppConfig    `mapstructure:"app"`
	Server ServerConfig `mapstructure:"server"`
	Engine EngineConfig `mapstructure:"engine"`
	Store  StoreConfig  `mapstructure:"store"`
}

type AppConfig struct {
	Name     string `mapstructure:"name"`
	LogLevel string `mapstructure:"log_level"`
	LogFile  string `mapstructure:"log_file"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr"`
	// AdminToken is the bootstrap bearer token that works before any
	// API key exists. Leave empty to require API keys only.
	AdminToken string `mapstructure:"admin_token"`
}

type EngineConfig struct {
	// MaxConcurrentJobs bounds simultaneously running pipelines.
	MaxConcurrentJobs int `mapstructure:"max_concurrent_jobs"`
	// TempDir holds per-execution working directories.
	TempDir string `mapstructure:"temp_dir"`
	// StaleExecutionAfter is the staleness threshold past which an
	// execution still Running at startup is reconciled to Failed.
	StaleExecutionAfter time.Duration `mapstructure:"stale_execution_after"`
}

type StoreConfig struct {
	// DataDir is the badger database directory.
	DataDir string `mapstructure:"data_dir"`
}

func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetDefault("app.name", "dbackup")
	v.SetDefault("app.log_level", "info")
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("engine.max_concurrent_jobs", 2)
	v.SetDefault("engine.stale_execution_after", 6*time.Hour)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Store.DataDir == "" {
		return fmt.Errorf("store.data_dir is required")
	}
	if c.Engine.TempDir == "" {
		return fmt.Errorf("engine.temp_dir is required")
	}
	if c.Engine.MaxConcurrentJobs < 1 {
		return fmt.Errorf("engine.max_concurrent_jobs must be at least 1")
	}
	if c.Engine.StaleExecutionAfter <= 0 {
		return fmt.Errorf("engine.stale_execution_after must be positive")
	}
	return nil
}
