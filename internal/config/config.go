package config

import (
	"fmt"

	"github.com/spf13/viper"
)

type Config struct {
	Port          string `mapstructure:"PORT"`
	Env           string `mapstructure:"ENV"`
	DatabaseURL   string `mapstructure:"DATABASE_URL"`
	DBMaxConns    int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns    int32  `mapstructure:"DB_MIN_CONNS"`
	EDISenderID   string `mapstructure:"EDI_SENDER_ID"`
	EDIReceiverID string `mapstructure:"EDI_RECEIVER_ID"`
	EDIUsage      string `mapstructure:"EDI_USAGE_INDICATOR"`
	EDIFilePrefix string `mapstructure:"EDI_FILE_PREFIX"`
	JWTSigningKey string `mapstructure:"JWT_SIGNING_KEY"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("EDI_USAGE_INDICATOR", "T")
	v.SetDefault("EDI_FILE_PREFIX", "837P")

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("EDI_SENDER_ID")
	v.BindEnv("EDI_RECEIVER_ID")
	v.BindEnv("EDI_USAGE_INDICATOR")
	v.BindEnv("EDI_FILE_PREFIX")
	v.BindEnv("JWT_SIGNING_KEY")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.EDISenderID == "" {
		return nil, fmt.Errorf("EDI_SENDER_ID is required")
	}
	if cfg.EDIReceiverID == "" {
		return nil, fmt.Errorf("EDI_RECEIVER_ID is required")
	}
	if cfg.EDIUsage != "T" && cfg.EDIUsage != "P" {
		return nil, fmt.Errorf("EDI_USAGE_INDICATOR must be T or P, got %q", cfg.EDIUsage)
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the service is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}
