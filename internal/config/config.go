package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	DeliverySMTP    = "smtp"
	DeliveryWebhook = "webhook"
)

type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	Scheduler  SchedulerConfig
	Generation GenerationConfig
	Delivery   DeliveryConfig
	Log        LogConfig
}

type ServerConfig struct {
	Address string
	APIKey  string
}

type DatabaseConfig struct {
	PostgresURL string
}

type RedisConfig struct {
	Enabled  bool
	Address  string
	Password string
	DB       int
	TTL      time.Duration
}

type SchedulerConfig struct {
	Timezone          string
	ReconcileInterval time.Duration
	BatchConcurrency  int
	FireTimeout       time.Duration
}

type GenerationConfig struct {
	APIKey  string
	Model   string
	BaseURL string
	Timeout time.Duration
}

type DeliveryConfig struct {
	Mode    string
	Timeout time.Duration
	SMTP    SMTPConfig
	Webhook WebhookConfig
}

type SMTPConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	From     string
}

type WebhookConfig struct {
	URL string
}

type LogConfig struct {
	Level  string
	Format string
}

// LoadAll reads the whole configuration from the environment. Every problem
// found is reported in the returned error, not only the first one.
func LoadAll() (*Config, error) {
	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	intVar := func(key string, def int) int {
		v, err := getEnvInt(key, def)
		collect(err)
		return v
	}
	required := func(key string) string {
		v, err := requireEnv(key)
		collect(err)
		return v
	}

	cfg := &Config{
		Server: ServerConfig{
			Address: getEnv("SERVER_ADDRESS", ":8080"),
			APIKey:  os.Getenv("SCHEDULER_API_KEY"),
		},
		Database: DatabaseConfig{
			PostgresURL: required("POSTGRES_URL"),
		},
		Generation: GenerationConfig{
			APIKey:  required("GEMINI_API_KEY"),
			Model:   getEnv("GEMINI_MODEL", "gemini-2.0-flash"),
			BaseURL: os.Getenv("GEMINI_BASE_URL"),
			Timeout: seconds(intVar("GENERATION_TIMEOUT_SECONDS", 60)),
		},
		Scheduler: SchedulerConfig{
			Timezone:          os.Getenv("SCHEDULER_TIMEZONE"),
			ReconcileInterval: seconds(intVar("RECONCILE_INTERVAL_SECONDS", 300)),
			BatchConcurrency:  intVar("BATCH_CONCURRENCY", 4),
			FireTimeout:       seconds(intVar("FIRE_TIMEOUT_SECONDS", 180)),
		},
		Delivery: DeliveryConfig{
			Mode:    strings.ToLower(getEnv("DELIVERY_MODE", DeliverySMTP)),
			Timeout: seconds(intVar("DELIVERY_TIMEOUT_SECONDS", 10)),
		},
		Log: LogConfig{
			Level:  strings.ToLower(getEnv("LOG_LEVEL", "info")),
			Format: strings.ToLower(getEnv("LOG_FORMAT", "text")),
		},
	}

	switch cfg.Delivery.Mode {
	case DeliverySMTP:
		user := required("EMAIL_USER")
		cfg.Delivery.SMTP = SMTPConfig{
			Host:     required("EMAIL_HOST"),
			Port:     intVar("EMAIL_PORT", 465),
			User:     user,
			Password: required("EMAIL_PASS"),
			From:     getEnv("EMAIL_FROM", user),
		}
	case DeliveryWebhook:
		cfg.Delivery.Webhook = WebhookConfig{URL: required("WEBHOOK_URL")}
	default:
		collect(fmt.Errorf("DELIVERY_MODE must be %q or %q, got %q", DeliverySMTP, DeliveryWebhook, cfg.Delivery.Mode))
	}

	redisCfg, err := loadRedisConfig()
	collect(err)
	cfg.Redis = redisCfg

	if err := joinErrors(errs); err != nil {
		return nil, err
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadRedisConfig() (RedisConfig, error) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		return RedisConfig{Enabled: false}, nil
	}

	db, dbErr := getEnvInt("REDIS_DB", 0)
	ttl, ttlErr := getEnvInt("REDIS_TTL_SECONDS", 7*24*60*60)

	return RedisConfig{
		Enabled:  true,
		Address:  addr,
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       db,
		TTL:      seconds(ttl),
	}, joinErrors([]error{dbErr, ttlErr})
}

func validate(cfg *Config) error {
	var errs []error
	if cfg.Scheduler.BatchConcurrency <= 0 {
		errs = append(errs, errors.New("BATCH_CONCURRENCY must be > 0"))
	}
	if cfg.Scheduler.ReconcileInterval <= 0 {
		errs = append(errs, errors.New("RECONCILE_INTERVAL_SECONDS must be > 0"))
	}
	if cfg.Scheduler.FireTimeout <= 0 {
		errs = append(errs, errors.New("FIRE_TIMEOUT_SECONDS must be > 0"))
	}
	if cfg.Generation.Timeout <= 0 {
		errs = append(errs, errors.New("GENERATION_TIMEOUT_SECONDS must be > 0"))
	}
	if cfg.Delivery.Timeout <= 0 {
		errs = append(errs, errors.New("DELIVERY_TIMEOUT_SECONDS must be > 0"))
	}
	if cfg.Scheduler.Timezone != "" {
		if _, err := time.LoadLocation(cfg.Scheduler.Timezone); err != nil {
			errs = append(errs, fmt.Errorf("SCHEDULER_TIMEZONE: %w", err))
		}
	}
	return joinErrors(errs)
}

// Location returns the scheduler timezone, time.Local when unset.
func (c SchedulerConfig) Location() *time.Location {
	if c.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

func requireEnv(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("missing required env var: %s", key)
	}
	return val, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def, fmt.Errorf("invalid int for env %s: %s", key, v)
	}
	return i, nil
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

func joinErrors(errs []error) error {
	return errors.Join(errs...)
}
