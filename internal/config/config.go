// Package config loads application configuration from file, environment and
// defaults, in that order of increasing precedence for the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/josephgoksu/specwing/models"
	"github.com/josephgoksu/specwing/types"
)

const (
	// EnvPrefix namespaces environment overrides, e.g. SPECWING_SERVER_PORT.
	EnvPrefix = "SPECWING"

	configName = ".specwing"
	configType = "yaml"
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("verbose", false)
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8750)
	v.SetDefault("server.allowedOrigins", []string{"http://localhost:5173"})
	v.SetDefault("data.path", defaultDataPath())
	v.SetDefault("execution.requestTimeoutSeconds", 600)
	v.SetDefault("execution.heartbeatSeconds", 15)
	v.SetDefault("execution.bufferSize", 512)
	v.SetDefault("execution.healthCacheSeconds", 30)
	v.SetDefault("execution.gracePeriodSeconds", 60)
	v.SetDefault("telemetry.enabled", false)
}

func defaultDataPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "specwing.db"
	}
	return home + "/.specwing/specwing.db"
}

// Load reads configuration from cfgFile (or the default search paths when
// empty) plus SPECWING_* environment overrides, validates it, and returns the
// result. A missing config file is fine; defaults still apply.
func Load(cfgFile string) (*types.AppConfig, error) {
	v := viper.New()
	setDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName(configName)
		v.SetConfigType(configType)
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(home)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg types.AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.Config = v.ConfigFileUsed()

	for i := range cfg.Backends {
		cfg.Backends[i].APIKey = ResolveAPIKey(cfg.Backends[i].Provider, cfg.Backends[i].APIKey)
	}

	if err := models.ValidateStruct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// ResolveAPIKey returns the configured key when set, otherwise the
// provider's conventional environment variable. Ollama needs no key.
func ResolveAPIKey(provider, configured string) string {
	if configured != "" {
		return configured
	}
	switch provider {
	case "openai":
		return os.Getenv("OPENAI_API_KEY")
	case "anthropic":
		return os.Getenv("ANTHROPIC_API_KEY")
	case "gemini":
		if key := os.Getenv("GEMINI_API_KEY"); key != "" {
			return key
		}
		return os.Getenv("GOOGLE_API_KEY")
	default:
		return ""
	}
}
