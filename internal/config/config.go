package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port                  string   `mapstructure:"PORT"`
	Env                   string   `mapstructure:"ENV"`
	CMID                  string   `mapstructure:"CM_ID"`
	JWTSecret             string   `mapstructure:"JWT_SECRET"`
	TokenTTLSeconds       int      `mapstructure:"TOKEN_TTL_SECONDS"`
	LinkTokenTTLSeconds   int      `mapstructure:"LINK_TOKEN_TTL_SECONDS"`
	MaxOTPRetries         int      `mapstructure:"MAX_OTP_RETRIES"`
	ConsentValidityHours  int      `mapstructure:"CONSENT_VALIDITY_HOURS"`
	DataRequestTTLHours   int      `mapstructure:"DATA_REQUEST_TTL_HOURS"`
	WebhookTimeoutSeconds int      `mapstructure:"WEBHOOK_TIMEOUT_SECONDS"`
	WebhookMaxAttempts    int      `mapstructure:"WEBHOOK_MAX_ATTEMPTS"`
	WebhookWorkers        int      `mapstructure:"WEBHOOK_WORKERS"`
	DatabaseURL           string   `mapstructure:"DATABASE_URL"`
	DBMaxConns            int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns            int32    `mapstructure:"DB_MIN_CONNS"`
	CORSOrigins           []string `mapstructure:"CORS_ORIGINS"`
	ClientCredentials     string   `mapstructure:"CLIENT_CREDENTIALS"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("CM_ID", "sbx")
	v.SetDefault("TOKEN_TTL_SECONDS", 900)
	v.SetDefault("LINK_TOKEN_TTL_SECONDS", 300)
	v.SetDefault("MAX_OTP_RETRIES", 3)
	v.SetDefault("CONSENT_VALIDITY_HOURS", 24)
	v.SetDefault("DATA_REQUEST_TTL_HOURS", 24)
	v.SetDefault("WEBHOOK_TIMEOUT_SECONDS", 10)
	v.SetDefault("WEBHOOK_MAX_ATTEMPTS", 5)
	v.SetDefault("WEBHOOK_WORKERS", 4)
	v.SetDefault("DB_MAX_CONNS", 10)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("CM_ID")
	v.BindEnv("JWT_SECRET")
	v.BindEnv("TOKEN_TTL_SECONDS")
	v.BindEnv("LINK_TOKEN_TTL_SECONDS")
	v.BindEnv("MAX_OTP_RETRIES")
	v.BindEnv("CONSENT_VALIDITY_HOURS")
	v.BindEnv("DATA_REQUEST_TTL_HOURS")
	v.BindEnv("WEBHOOK_TIMEOUT_SECONDS")
	v.BindEnv("WEBHOOK_MAX_ATTEMPTS")
	v.BindEnv("WEBHOOK_WORKERS")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("CORS_ORIGINS")
	v.BindEnv("CLIENT_CREDENTIALS")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

func (c *Config) TokenTTL() time.Duration {
	return time.Duration(c.TokenTTLSeconds) * time.Second
}

func (c *Config) LinkTokenTTL() time.Duration {
	return time.Duration(c.LinkTokenTTLSeconds) * time.Second
}

func (c *Config) ConsentValidity() time.Duration {
	return time.Duration(c.ConsentValidityHours) * time.Hour
}

func (c *Config) DataRequestTTL() time.Duration {
	return time.Duration(c.DataRequestTTLHours) * time.Hour
}

func (c *Config) WebhookTimeout() time.Duration {
	return time.Duration(c.WebhookTimeoutSeconds) * time.Second
}

// Credentials parses CLIENT_CREDENTIALS ("id:secret,id2:secret2") into a map.
// Malformed entries are skipped.
func (c *Config) Credentials() map[string]string {
	creds := make(map[string]string)
	for _, pair := range strings.Split(c.ClientCredentials, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		id, secret, ok := strings.Cut(pair, ":")
		if !ok || id == "" || secret == "" {
			continue
		}
		creds[id] = secret
	}
	return creds
}

// Validate checks that the configuration is safe to run. Outside development
// a real JWT secret and at least one client credential are required.
func (c *Config) Validate() error {
	if c.Env != "development" && c.Env != "production" {
		return fmt.Errorf("ENV must be \"development\" or \"production\", got %q", c.Env)
	}
	if !c.IsDev() {
		if c.JWTSecret == "" {
			return fmt.Errorf("JWT_SECRET is required in production")
		}
		if len(c.Credentials()) == 0 {
			return fmt.Errorf("CLIENT_CREDENTIALS is required in production")
		}
	}
	if c.TokenTTLSeconds <= 0 {
		return fmt.Errorf("TOKEN_TTL_SECONDS must be positive, got %d", c.TokenTTLSeconds)
	}
	if c.WebhookMaxAttempts <= 0 {
		return fmt.Errorf("WEBHOOK_MAX_ATTEMPTS must be positive, got %d", c.WebhookMaxAttempts)
	}
	if c.WebhookWorkers <= 0 {
		return fmt.Errorf("WEBHOOK_WORKERS must be positive, got %d", c.WebhookWorkers)
	}
	return nil
}
