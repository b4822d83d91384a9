package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Backend names accepted by Env.Backend.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// Env is the process configuration read from the environment by the
// bracketer command.
type Env struct {
	Definition  string `env:"BRACKETER_DEFINITION,required"`
	OptionsFile string `env:"BRACKETER_OPTIONS_FILE"`

	Backend       string `env:"BRACKETER_BACKEND"        envDefault:"memory"`
	SQLitePath    string `env:"BRACKETER_SQLITE_PATH"    envDefault:"bracketer.db"`
	RedisAddr     string `env:"BRACKETER_REDIS_ADDR"     envDefault:"localhost:6379"`
	RedisPassword string `env:"BRACKETER_REDIS_PASSWORD"`
	RedisDB       int    `env:"BRACKETER_REDIS_DB"       envDefault:"0"`
	RedisPrefix   string `env:"BRACKETER_REDIS_PREFIX"   envDefault:"bracketer:"`

	Workers   int `env:"BRACKETER_WORKERS"    envDefault:"4"`
	QueueSize int `env:"BRACKETER_QUEUE_SIZE" envDefault:"64"`

	// Pointer fields are nil when the variable is unset, so that an explicit
	// zero (BRACKETER_STATE_TTL=0, BRACKETER_ORDERED=false) still overrides
	// the options file.
	EntityTrait  string         `env:"BRACKETER_ENTITY_TRAIT"`
	StateTTL     *time.Duration `env:"BRACKETER_STATE_TTL"`
	StoreTimeout *time.Duration `env:"BRACKETER_STORE_TIMEOUT"`
	RenderPolicy string         `env:"BRACKETER_RENDER_POLICY"`
	Ordered      *bool          `env:"BRACKETER_ORDERED"`
	SweepEvery   time.Duration  `env:"BRACKETER_SWEEP_INTERVAL" envDefault:"1m"`

	DeadLetterFile string `env:"BRACKETER_DEAD_LETTER_FILE"`

	LogLevel     string `env:"BRACKETER_LOG_LEVEL" envDefault:"info"`
	OTLPEndpoint string `env:"BRACKETER_OTLP_ENDPOINT"`
}

// ParseEnv loads configuration from environment variables into target.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// LoadEnv reads and validates Env.
func LoadEnv() (Env, error) {
	var cfg Env
	if err := ParseEnv(&cfg); err != nil {
		return Env{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Env{}, err
	}
	return cfg, nil
}

// Validate checks value ranges and enumerations.
func (e Env) Validate() error {
	switch e.Backend {
	case BackendMemory, BackendSQLite, BackendRedis:
	default:
		return fmt.Errorf("unknown backend %q (want memory, sqlite or redis)", e.Backend)
	}
	if e.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", e.Workers)
	}
	if e.QueueSize < 0 {
		return fmt.Errorf("queue size must not be negative, got %d", e.QueueSize)
	}
	if _, err := e.Level(); err != nil {
		return err
	}
	return nil
}

// Level parses LogLevel.
func (e Env) Level() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.ToUpper(e.LogLevel))); err != nil {
		return 0, fmt.Errorf("invalid log level %q: %w", e.LogLevel, err)
	}
	return lvl, nil
}

// Options returns the bracketer options set in the environment as a Config.
// Unset variables are omitted so that they do not override file values.
func (e Env) Options() Config {
	m := make(map[string]any)
	if e.EntityTrait != "" {
		m["entity_trait"] = e.EntityTrait
	}
	if e.StateTTL != nil {
		m["state_ttl"] = *e.StateTTL
	}
	if e.StoreTimeout != nil {
		m["store_timeout"] = *e.StoreTimeout
	}
	if e.RenderPolicy != "" {
		m["render_policy"] = e.RenderPolicy
	}
	if e.Ordered != nil {
		m["ordered"] = *e.Ordered
	}
	return New(m)
}
