package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	Environment string `env:"ENV" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL"`
	DBDSN       string `env:"DB_DSN,required"`
	HTTPAddr    string `env:"HTTP_ADDR" envDefault:":8080"`

	MigrationsDir string `env:"MIGRATIONS_DIR" envDefault:"migrations"`

	Telegram struct {
		Token        string  `env:"TOKEN"`
		StaffChatIDs []int64 `env:"STAFF_CHAT_IDS" envSeparator:","`
		OrgID        int64   `env:"ORG_ID" envDefault:"1"`
	} `envPrefix:"TELEGRAM_"`

	RabbitMQ struct {
		DSN   string `env:"DSN"`
		Queue string `env:"QUEUE" envDefault:"booking_events"`
	} `envPrefix:"RABBITMQ_"`

	Redis struct {
		Addr     string `env:"ADDR"`
		Password string `env:"PASSWORD"`
	} `envPrefix:"REDIS_"`

	Scheduler struct {
		Timezone             string        `env:"TIMEZONE" envDefault:"Local"`
		SourceTimeout        time.Duration `env:"SOURCE_TIMEOUT" envDefault:"5s"`
		WorkerConcurrency    int           `env:"WORKER_CONCURRENCY" envDefault:"8"`
		BookingLockTTL       time.Duration `env:"BOOKING_LOCK_TTL" envDefault:"10s"`
		PendingReminderAfter time.Duration `env:"PENDING_REMINDER_AFTER" envDefault:"2h"`
	} `envPrefix:"SCHEDULER_"`
}

// Load reads .env when present and then the process environment. Optional
// integrations stay disabled while their address or token is empty.
func Load() (*Config, error) {
	// a missing .env is fine, variables may come from the environment
	_ = godotenv.Load(".env")

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		var aggErr env.AggregateError
		if errors.As(err, &aggErr) && len(aggErr.Errors) > 0 {
			return nil, aggErr.Errors[0]
		}
		return nil, err
	}

	if _, err := cfg.Location(); err != nil {
		return nil, err
	}
	if cfg.Scheduler.WorkerConcurrency <= 0 {
		return nil, fmt.Errorf("SCHEDULER_WORKER_CONCURRENCY must be positive, got %d", cfg.Scheduler.WorkerConcurrency)
	}

	return cfg, nil
}

// Location is the single time zone the scheduling engine works in
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Scheduler.Timezone)
	if err != nil {
		return nil, fmt.Errorf("SCHEDULER_TIMEZONE: %w", err)
	}
	return loc, nil
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
