// Package config читает настройки процесса из переменных окружения.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/kaushiksamanta/krama/internal/substrate"
	"github.com/kaushiksamanta/krama/internal/telemetry"
)

// ErrInvalid — значение переменной окружения не разбирается.
var ErrInvalid = errors.New("invalid configuration")

// Config — настройки сервера и CLI.
type Config struct {
	// Port — порт HTTP сервера (KRAMA_PORT).
	Port int

	// DatabaseURL — DSN PostgreSQL (DB_URL). Пусто — журнал в памяти.
	DatabaseURL string

	// RabbitMQURL — адрес брокера (RABBITMQ_URL). Пусто — без управляющей очереди.
	RabbitMQURL string

	// DefaultTimeout — таймаут попытки activity по умолчанию (KRAMA_DEFAULT_TIMEOUT).
	DefaultTimeout time.Duration

	// BackoffCeiling — потолок задержки retry (KRAMA_BACKOFF_CEILING).
	BackoffCeiling time.Duration

	// ShutdownTimeout — лимит graceful shutdown (KRAMA_SHUTDOWN_TIMEOUT).
	ShutdownTimeout time.Duration

	Log telemetry.LogConfig
}

// Defaults возвращает значения по умолчанию.
func Defaults() Config {
	return Config{
		Port:            8080,
		DefaultTimeout:  substrate.DefaultTimeout,
		BackoffCeiling:  substrate.DefaultBackoffCeiling,
		ShutdownTimeout: 10 * time.Second,
	}
}

// Load читает конфигурацию из окружения процесса.
func Load() (Config, error) {
	return load(os.LookupEnv)
}

func load(lookup func(string) (string, bool)) (Config, error) {
	cfg := Defaults()

	var errs []error
	if v, ok := lookup("KRAMA_PORT"); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil || port <= 0 || port > 65535 {
			errs = append(errs, fmt.Errorf("%w: KRAMA_PORT=%q", ErrInvalid, v))
		} else {
			cfg.Port = port
		}
	}

	cfg.DatabaseURL, _ = lookup("DB_URL")
	cfg.RabbitMQURL, _ = lookup("RABBITMQ_URL")
	cfg.Log.Level, _ = lookup("LOG_LEVEL")
	cfg.Log.Format, _ = lookup("LOG_FORMAT")

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"KRAMA_DEFAULT_TIMEOUT", &cfg.DefaultTimeout},
		{"KRAMA_BACKOFF_CEILING", &cfg.BackoffCeiling},
		{"KRAMA_SHUTDOWN_TIMEOUT", &cfg.ShutdownTimeout},
	}
	for _, d := range durations {
		v, ok := lookup(d.key)
		if !ok || v == "" {
			continue
		}
		parsed, err := time.ParseDuration(v)
		if err != nil || parsed <= 0 {
			errs = append(errs, fmt.Errorf("%w: %s=%q", ErrInvalid, d.key, v))
			continue
		}
		*d.dst = parsed
	}

	return cfg, errors.Join(errs...)
}

// Addr возвращает адрес для net/http.
func (c Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Substrate возвращает таймаут и потолок backoff для исполнителя.
func (c Config) Substrate() substrate.Defaults {
	return substrate.Defaults{
		Timeout:        c.DefaultTimeout,
		BackoffCeiling: c.BackoffCeiling,
	}
}
