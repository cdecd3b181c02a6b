// Package config loads runtime settings from defaults, an optional YAML file and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"

	NotificationsPostgres = "postgres"
	NotificationsMongo    = "mongo"
	NotificationsMemory   = "memory"
)

// Config holds every runtime setting of the service.
type Config struct {
	Env         string `yaml:"env"`
	HTTPAddr    string `yaml:"http_addr"`
	LogLevel    string `yaml:"log_level"`
	Store       string `yaml:"store"`
	DatabaseURL string `yaml:"database_url"`

	Notifications NotificationConfig `yaml:"notifications"`
	Mongo         MongoConfig        `yaml:"mongo"`
	AMQP          AMQPConfig         `yaml:"amqp"`
	Outbox        OutboxConfig       `yaml:"outbox"`
	JWT           JWTConfig          `yaml:"jwt"`
}

// NotificationConfig selects the inbox backend and the dispatch retry policy.
type NotificationConfig struct {
	Backend         string        `yaml:"backend"`
	MaxRetries      int           `yaml:"max_retries"`
	InitialInterval time.Duration `yaml:"initial_interval"`
}

// MongoConfig locates the MongoDB inbox.
type MongoConfig struct {
	URI      string `yaml:"uri"`
	Database string `yaml:"database"`
}

// AMQPConfig locates the broker the outbox relay publishes to.
type AMQPConfig struct {
	URL      string `yaml:"url"`
	Exchange string `yaml:"exchange"`
}

// OutboxConfig tunes the relay loop.
type OutboxConfig struct {
	BatchSize   int           `yaml:"batch_size"`
	Interval    time.Duration `yaml:"interval"`
	MaxAttempts int           `yaml:"max_attempts"`
}

// JWTConfig holds the token signing secret and lifetime.
type JWTConfig struct {
	Secret string        `yaml:"secret"`
	TTL    time.Duration `yaml:"ttl"`
}

// Default returns the settings used when nothing else is configured.
func Default() Config {
	return Config{
		Env:      "development",
		HTTPAddr: ":8080",
		LogLevel: "info",
		Store:    StorePostgres,
		Notifications: NotificationConfig{
			Backend:         NotificationsPostgres,
			MaxRetries:      3,
			InitialInterval: 100 * time.Millisecond,
		},
		Mongo: MongoConfig{Database: "homeflow"},
		AMQP:  AMQPConfig{Exchange: "homeflow.events"},
		Outbox: OutboxConfig{
			BatchSize:   50,
			Interval:    time.Second,
			MaxAttempts: 10,
		},
		JWT: JWTConfig{TTL: 24 * time.Hour},
	}
}

// Load builds a Config. path may be empty, in which case only defaults and environment apply.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

type lookupFunc func(string) (string, bool)

func applyEnv(cfg *Config, lookup lookupFunc) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	integer := func(key string, dst *int) error {
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: %s: %w", key, err)
		}
		*dst = n
		return nil
	}
	duration := func(key string, dst *time.Duration) error {
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("config: %s: %w", key, err)
		}
		*dst = d
		return nil
	}

	str("HOMEFLOW_ENV", &cfg.Env)
	str("HOMEFLOW_HTTP_ADDR", &cfg.HTTPAddr)
	str("HOMEFLOW_LOG_LEVEL", &cfg.LogLevel)
	str("HOMEFLOW_STORE", &cfg.Store)
	str("DATABASE_URL", &cfg.DatabaseURL)
	str("HOMEFLOW_NOTIFICATIONS_BACKEND", &cfg.Notifications.Backend)
	str("HOMEFLOW_MONGO_URI", &cfg.Mongo.URI)
	str("HOMEFLOW_MONGO_DATABASE", &cfg.Mongo.Database)
	str("HOMEFLOW_AMQP_URL", &cfg.AMQP.URL)
	str("HOMEFLOW_AMQP_EXCHANGE", &cfg.AMQP.Exchange)
	str("HOMEFLOW_JWT_SECRET", &cfg.JWT.Secret)

	return errors.Join(
		integer("HOMEFLOW_NOTIFICATIONS_MAX_RETRIES", &cfg.Notifications.MaxRetries),
		duration("HOMEFLOW_NOTIFICATIONS_INITIAL_INTERVAL", &cfg.Notifications.InitialInterval),
		integer("HOMEFLOW_OUTBOX_BATCH_SIZE", &cfg.Outbox.BatchSize),
		duration("HOMEFLOW_OUTBOX_INTERVAL", &cfg.Outbox.Interval),
		integer("HOMEFLOW_OUTBOX_MAX_ATTEMPTS", &cfg.Outbox.MaxAttempts),
		duration("HOMEFLOW_JWT_TTL", &cfg.JWT.TTL),
	)
}

// Validate checks cross-field constraints.
func (c Config) Validate() error {
	var errs []error

	switch c.Store {
	case StorePostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("config: database_url required for postgres store"))
		}
	case StoreMemory:
	default:
		errs = append(errs, fmt.Errorf("config: unknown store %q", c.Store))
	}

	switch c.Notifications.Backend {
	case NotificationsPostgres:
		if c.Store != StorePostgres {
			errs = append(errs, errors.New("config: postgres notifications require the postgres store"))
		}
	case NotificationsMongo:
		if c.Mongo.URI == "" || c.Mongo.Database == "" {
			errs = append(errs, errors.New("config: mongo uri and database required for mongo notifications"))
		}
	case NotificationsMemory:
	default:
		errs = append(errs, fmt.Errorf("config: unknown notifications backend %q", c.Notifications.Backend))
	}

	if c.Notifications.MaxRetries < 0 {
		errs = append(errs, errors.New("config: notifications.max_retries must not be negative"))
	}
	if c.Outbox.BatchSize <= 0 || c.Outbox.BatchSize > 1000 {
		errs = append(errs, errors.New("config: outbox.batch_size must be within 1..1000"))
	}
	if c.Outbox.MaxAttempts <= 0 {
		errs = append(errs, errors.New("config: outbox.max_attempts must be positive"))
	}
	if c.JWT.Secret == "" {
		errs = append(errs, errors.New("config: jwt.secret required"))
	}
	if c.JWT.TTL <= 0 {
		errs = append(errs, errors.New("config: jwt.ttl must be positive"))
	}

	return errors.Join(errs...)
}
