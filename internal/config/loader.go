package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	apperrors "github.com/edgard/bizcircle/internal/errors"
)

// EnvPrefix is the prefix of environment variable overrides, e.g. BIZCIRCLE_DATABASE_DSN.
const EnvPrefix = "BIZCIRCLE"

// Load reads configuration from, in increasing precedence:
//  1. built-in defaults
//  2. the YAML file at path (./config.yaml when path is empty; optional in that case)
//  3. environment variables, including those from a .env file in the working directory
//
// The result is validated before it is returned.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("Failed to load .env file", "error", err)
	}

	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// Keys without defaults are invisible to AutomaticEnv during Unmarshal.
	bindings := map[string][]string{
		"extractor.api_key":  {EnvPrefix + "_EXTRACTOR_API_KEY", "GEMINI_API_KEY", "DEEPSEEK_API_KEY", "OPENAI_API_KEY"},
		"extractor.model":    {EnvPrefix + "_EXTRACTOR_MODEL"},
		"extractor.base_url": {EnvPrefix + "_EXTRACTOR_BASE_URL"},
		"pipeline.groups":    {EnvPrefix + "_PIPELINE_GROUPS"},
	}
	for key, envs := range bindings {
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return nil, apperrors.NewConfigError("failed to bind environment", err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, apperrors.NewConfigError(fmt.Sprintf("failed to read config file %q", path), err)
		}
		slog.Debug("No config file found, using defaults and environment")
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, apperrors.NewConfigError("failed to parse config", err)
	}

	if cfg.Extractor.Model == "" {
		cfg.Extractor.Model = defaultModel(cfg.Extractor.Provider)
	}
	if cfg.Extractor.Provider == "openai" && cfg.Extractor.BaseURL == "" {
		cfg.Extractor.BaseURL = DefaultOpenAIBaseURL
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cfg against its struct tags.
func Validate(cfg *Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		return apperrors.NewConfigError("invalid configuration", err)
	}
	return nil
}
