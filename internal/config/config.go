package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/sirupsen/logrus"
)

// Duration accepts a Go duration ("15m", "168h") or a bare number of
// milliseconds ("900000").
type Duration time.Duration

func (d *Duration) Decode(value string) error {
	value = strings.TrimSpace(value)
	if ms, err := strconv.ParseInt(value, 10, 64); err == nil {
		*d = Duration(time.Duration(ms) * time.Millisecond)
		return nil
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

type LogConfig struct {
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"text"`
}

type SweepConfig struct {
	Enabled   bool     `envconfig:"SWEEP_ENABLED" default:"true"`
	Schedule  string   `envconfig:"SWEEP_SCHEDULE" default:"0 2 * * *"`
	Grace     Duration `envconfig:"SWEEP_GRACE" default:"24h"`
	BatchSize int      `envconfig:"SWEEP_BATCH_SIZE" default:"500"`
	LockTTL   Duration `envconfig:"SWEEP_LOCK_TTL" default:"10m"`
}

// MetricsConfig guards the Prometheus endpoint. An empty token leaves it open.
type MetricsConfig struct {
	Token      string   `envconfig:"METRICS_TOKEN"`
	AllowedIPs []string `envconfig:"METRICS_ALLOWED_IPS"`
}

type Config struct {
	AppEnv      string `envconfig:"APP_ENV" default:"dev"`
	DatabaseURL string `envconfig:"DATABASE_URL"`
	HTTPAddr    string `envconfig:"HTTP_ADDR" default:":8080"`
	RedisAddr   string `envconfig:"REDIS_ADDR"`

	CORSAllowedOrigins []string `envconfig:"CORS_ALLOWED_ORIGINS"`

	Auth    AuthRuntimeConfig
	Sweep   SweepConfig
	Log     LogConfig
	Metrics MetricsConfig
}

// Load reads .env (if present) and the process environment. A missing or
// weak signing key is an error wrapping ErrWeakSigningKey; the caller must
// refuse to start.
func Load() (*Config, error) {
	// .env is optional; real environment variables win.
	_ = godotenv.Load()

	cfg := &Config{}
	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	cfg.AppEnv = strings.ToLower(strings.TrimSpace(cfg.AppEnv))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.DatabaseURL) == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if err := validateAuth(&c.Auth); err != nil {
		return err
	}
	if c.Sweep.Grace.Std() < 0 {
		return fmt.Errorf("SWEEP_GRACE must be >= 0")
	}
	if strings.TrimSpace(c.Sweep.Schedule) == "" {
		return fmt.Errorf("SWEEP_SCHEDULE must not be empty")
	}
	if c.Log.LogFormat != LogFormatText && c.Log.LogFormat != LogFormatJSON {
		return fmt.Errorf("LOG_FORMAT must be one of: %s, %s", LogFormatText, LogFormatJSON)
	}
	if _, err := logrus.ParseLevel(c.Log.LogLevel); err != nil {
		return fmt.Errorf("invalid LOG_LEVEL %q: %w", c.Log.LogLevel, err)
	}
	return nil
}

func (c *Config) IsProdLike() bool {
	return isProdLike(c.AppEnv)
}
