package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog/log"
)

var knownWeakSecrets = []string{
	"change-me", "dev-secret-change-me", "secret", "admin", "password",
}

type Config struct {
	Port                        int    `env:"PORT" envDefault:"8080"`
	DatabaseURL                 string `env:"DATABASE_URL,required"`
	RedisURL                    string `env:"REDIS_URL,required"`
	StreamAPIKey                string `env:"STREAM_API_KEY,required"`
	StreamAPISecret             string `env:"STREAM_API_SECRET,required"`
	StreamBaseURL               string `env:"STREAM_BASE_URL" envDefault:"https://video.stream-io-api.com"`
	StreamCallType              string `env:"STREAM_CALL_TYPE" envDefault:"default"`
	OpenAIAPIKey                string `env:"OPENAI_API_KEY"`
	OpenAIModel                 string `env:"OPENAI_MODEL" envDefault:"gpt-4o"`
	OpenAIBaseURL               string `env:"OPENAI_BASE_URL"`
	AgentVoice                  string `env:"AGENT_VOICE" envDefault:"alloy"`
	AgentLockTTLSeconds         int    `env:"AGENT_LOCK_TTL_SECONDS" envDefault:"45"`
	SummaryWorkers              int    `env:"SUMMARY_WORKERS" envDefault:"2"`
	SummaryRecoveryAfterMinutes int    `env:"SUMMARY_RECOVERY_AFTER_MINUTES" envDefault:"15"`
	SummaryMaxAttempts          int    `env:"SUMMARY_MAX_ATTEMPTS" envDefault:"3"`
	PinAttemptsPerWindow        int    `env:"PIN_ATTEMPTS_PER_WINDOW" envDefault:"5"`
	RunMigrations               bool   `env:"RUN_MIGRATIONS" envDefault:"true"`
	LogLevel                    string `env:"LOG_LEVEL" envDefault:"info"`
}

func (c *Config) AgentLockTTL() time.Duration {
	return time.Duration(c.AgentLockTTLSeconds) * time.Second
}

func (c *Config) SummaryRecoveryAfter() time.Duration {
	return time.Duration(c.SummaryRecoveryAfterMinutes) * time.Minute
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func (c *Config) Validate(isProduction bool) error {
	if c.SummaryWorkers < 1 {
		return fmt.Errorf("SUMMARY_WORKERS must be at least 1")
	}
	if c.SummaryMaxAttempts < 1 {
		return fmt.Errorf("SUMMARY_MAX_ATTEMPTS must be at least 1")
	}
	// The attach lease is held across GetCall and ConnectAgent.
	if c.AgentLockTTL() <= 2*PlatformRequestTimeout {
		return fmt.Errorf("AGENT_LOCK_TTL_SECONDS must exceed %s", 2*PlatformRequestTimeout)
	}

	if isProduction {
		if err := validateSecret("STREAM_API_SECRET", c.StreamAPISecret); err != nil {
			return err
		}
		if c.OpenAIAPIKey == "" {
			log.Warn().Msg("OPENAI_API_KEY is empty in production: agents cannot join calls and summaries will fail")
		}
		if strings.HasPrefix(c.RedisURL, "redis://") {
			log.Warn().Msg("REDIS_URL uses redis:// (not TLS) in production: consider using rediss://")
		}
	}

	return nil
}

func validateSecret(name, value string) error {
	if len(value) < 32 {
		return fmt.Errorf("%s must be at least 32 characters in production", name)
	}
	for _, weak := range knownWeakSecrets {
		if value == weak {
			return fmt.Errorf("%s is a known weak default; set a strong secret in production", name)
		}
	}
	return nil
}

func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
