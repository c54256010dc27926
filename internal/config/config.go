package config

import (
	"strings"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	Oracle   Oracle   `mapstructure:"oracle"`
	Trading  Trading  `mapstructure:"trading"`
	Staking  Staking  `mapstructure:"staking"`
	Logger   Logger   `mapstructure:"logger"`
	Server   Server   `mapstructure:"server"`
	Database Database `mapstructure:"database"`
}

// Oracle holds the configuration for the market price feed.
type Oracle struct {
	ApiKey         string  `mapstructure:"apiKey"`
	BaseURL        string  `mapstructure:"base_url"`
	TimeoutSeconds int     `mapstructure:"timeout_seconds"`
	RateLimit      float64 `mapstructure:"rate_limit"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`
}

// Server holds the configuration for the HTTP API server.
type Server struct {
	Port int `mapstructure:"port"`
}

// Database holds the configuration for the database.
type Database struct {
	DSN string `mapstructure:"dsn"`
}

// Trading holds the configuration for trade placement and settlement.
type Trading struct {
	SweepInterval      int     `mapstructure:"sweep_interval"`
	DefaultPayout      float64 `mapstructure:"default_payout"`
	InitialBalance     float64 `mapstructure:"initial_balance"`
	InitialDemoBalance float64 `mapstructure:"initial_demo_balance"`
	MaxStake           float64 `mapstructure:"max_stake"`
	FallbackJitter     float64 `mapstructure:"fallback_jitter"`
}

// Staking holds the configuration for staking positions.
type Staking struct {
	DefaultAPY          float64 `mapstructure:"default_apy"`
	DefaultDurationDays int     `mapstructure:"default_duration_days"`
}

// Logger holds the configuration for the logger.
type Logger struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(path string) (config Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName("config") // name of config file (without extension)
	viper.SetConfigType("yml")    // or yaml, json

	// Allow environment variables to override config file
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set default values
	viper.SetDefault("oracle.base_url", "https://api.twelvedata.com")
	viper.SetDefault("oracle.timeout_seconds", 5)
	viper.SetDefault("oracle.rate_limit", 8) // requests per second
	viper.SetDefault("oracle.rate_limit_burst", 4)
	viper.SetDefault("trading.sweep_interval", 10) // seconds
	viper.SetDefault("trading.default_payout", 85.0)
	viper.SetDefault("trading.initial_balance", 1000.0)
	viper.SetDefault("trading.initial_demo_balance", 10000.0)
	viper.SetDefault("trading.max_stake", 50000.0)
	viper.SetDefault("trading.fallback_jitter", 0.005)
	viper.SetDefault("staking.default_apy", 12.0)
	viper.SetDefault("staking.default_duration_days", 30)
	viper.SetDefault("database.dsn", "tradepro.db")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("logger.level", "info")
	viper.SetDefault("logger.format", "console")

	err = viper.ReadInConfig()
	if err != nil {
		return
	}

	err = viper.Unmarshal(&config)
	return
}
