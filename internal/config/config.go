package config

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Config struct {
	Mode          string        `mapstructure:"mode"`
	ServerURL     string        `mapstructure:"server_url"`
	StreamURL     string        `mapstructure:"stream_url"`
	Token         string        `mapstructure:"token"`
	Instrument    string        `mapstructure:"instrument"`
	ActionTimeout time.Duration `mapstructure:"action_timeout"`
	ForceResync   bool          `mapstructure:"force_resync"`

	// Devserver settings.
	Port   int    `mapstructure:"port"`
	Secret string `mapstructure:"secret"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetDefault("mode", "release")
	v.SetDefault("server_url", "http://localhost:8080")
	v.SetDefault("stream_url", "ws://localhost:8080/api/ws")
	v.SetDefault("instrument", "vocals")
	v.SetDefault("action_timeout", "5s")
	v.SetDefault("force_resync", false)
	v.SetDefault("port", 8080)
	v.SetDefault("secret", "dev-secret")

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("config loaded")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
