// Package config loads the worker's settings from the environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Run modes.
const (
	RunModeLambda = "lambda"
	RunModeServer = "server"
)

// Quota backends.
const (
	QuotaBackendDynamoDB = "dynamodb"
	QuotaBackendRedis    = "redis"
	QuotaBackendMemory   = "memory"
)

// Config holds every setting read at startup. Secrets are not stored here;
// the LLM key is read from Parameter Store under ParamPrefix.
type Config struct {
	RunMode   string `envconfig:"RUN_MODE" default:"lambda"`
	HTTPAddr  string `envconfig:"HTTP_ADDR" default:":8080"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"json"`
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`

	// Comma separated. Empty allows every origin.
	AllowedOrigins []string `envconfig:"ALLOWED_ORIGIN"`

	MaxReqPerDay    int    `envconfig:"MAX_REQ_PER_DAY" default:"40"`
	// Standalone /title budget, enforced only when TITLE_MODEL is set.
	MaxTitlePerDay  int    `envconfig:"MAX_TITLE_PER_DAY" default:"100"`
	QuotaBackend    string `envconfig:"QUOTA_BACKEND" default:"dynamodb"`
	QuotaTable      string `envconfig:"QUOTA_TABLE"`
	RedisAddr       string `envconfig:"REDIS_ADDR"`
	RedisPassword   string `envconfig:"REDIS_PASSWORD"`
	RedisDB         int    `envconfig:"REDIS_DB" default:"0"`
	MaxMessages     int    `envconfig:"MAX_MESSAGES" default:"50"`
	MaxMessageChars int    `envconfig:"MAX_MESSAGE_CHARS" default:"8000"`

	ParamPrefix   string        `envconfig:"PARAM_PREFIX" required:"true"`
	ParamCacheTTL time.Duration `envconfig:"PARAM_CACHE_TTL" default:"10m"`

	LLMBaseURL      string        `envconfig:"LLM_BASE_URL" default:"https://api.openai.com/v1"`
	LLMTimeout      time.Duration `envconfig:"LLM_TIMEOUT" default:"30s"`
	Model           string        `envconfig:"MODEL" required:"true"`
	FastModel       string        `envconfig:"FAST_MODEL"`
	DeepModel       string        `envconfig:"DEEP_MODEL"`
	// Last candidate of the default fallback list. Set it to "" to drop it.
	LastResortModel string        `envconfig:"LAST_RESORT_MODEL" default:"gpt-4o-mini"`
	TitleModel      string        `envconfig:"TITLE_MODEL"`
	// Overrides the default, deep, last resort fallback order when set.
	FallbackModels []string `envconfig:"FALLBACK_MODELS"`

	IdentityURL      string        `envconfig:"IDENTITY_URL" required:"true"`
	IdentityAPIKey   string        `envconfig:"IDENTITY_API_KEY" required:"true"`
	IdentityCacheTTL time.Duration `envconfig:"IDENTITY_CACHE_TTL" default:"5m"`
}

// Load reads the environment and validates the result.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("config: process environment: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) normalize() {
	c.RunMode = strings.ToLower(strings.TrimSpace(c.RunMode))
	c.QuotaBackend = strings.ToLower(strings.TrimSpace(c.QuotaBackend))
	c.LogFormat = strings.ToLower(strings.TrimSpace(c.LogFormat))
	c.AllowedOrigins = trimAll(c.AllowedOrigins)
	c.FallbackModels = trimAll(c.FallbackModels)
	if c.MaxReqPerDay < 1 {
		c.MaxReqPerDay = 1
	}
	if c.MaxTitlePerDay < 1 {
		c.MaxTitlePerDay = 1
	}
}

// Validate reports the first inconsistent setting.
func (c *Config) Validate() error {
	switch c.RunMode {
	case RunModeLambda, RunModeServer:
	default:
		return fmt.Errorf("config: unsupported RUN_MODE %q", c.RunMode)
	}
	switch c.LogFormat {
	case "json", "text":
	default:
		return fmt.Errorf("config: unsupported LOG_FORMAT %q", c.LogFormat)
	}
	switch c.QuotaBackend {
	case QuotaBackendDynamoDB:
		if strings.TrimSpace(c.QuotaTable) == "" {
			return errors.New("config: QUOTA_TABLE is required for the dynamodb quota backend")
		}
	case QuotaBackendRedis:
		if strings.TrimSpace(c.RedisAddr) == "" {
			return errors.New("config: REDIS_ADDR is required for the redis quota backend")
		}
	case QuotaBackendMemory:
		if c.RunMode == RunModeLambda {
			return errors.New("config: the memory quota backend is not allowed in lambda mode")
		}
	default:
		return fmt.Errorf("config: unsupported QUOTA_BACKEND %q", c.QuotaBackend)
	}
	if c.MaxMessages < 1 || c.MaxMessageChars < 1 {
		return errors.New("config: MAX_MESSAGES and MAX_MESSAGE_CHARS must be positive")
	}
	return nil
}

// Fallbacks returns the ordered fallback candidates swept in fast mode.
func (c *Config) Fallbacks() []string {
	if len(c.FallbackModels) > 0 {
		return c.FallbackModels
	}
	out := make([]string, 0, 3)
	for _, m := range []string{c.Model, c.DeepModel, c.LastResortModel} {
		if m = strings.TrimSpace(m); m != "" {
			out = append(out, m)
		}
	}
	return out
}

func trimAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
