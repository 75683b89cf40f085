package config

import (
	"errors"
	"flag"
	"fmt"
	"reflect"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/shopspring/decimal"
)

// Config contains application configuration
type Config struct {
	RunAddress  string `env:"RUN_ADDRESS"`
	DatabaseURI string `env:"DATABASE_URI"`
	JWTSecret   string `env:"JWT_SECRET"`
	AdminToken  string `env:"ADMIN_TOKEN"`

	ProviderBaseURL   string        `env:"PROVIDER_BASE_URL"`
	ProviderAPIKey    string        `env:"PROVIDER_API_KEY"`
	ProviderTimeout   time.Duration `env:"PROVIDER_TIMEOUT"`
	PlayerLookupDelay time.Duration `env:"PLAYER_LOOKUP_DELAY"`

	KafkaBrokers       string `env:"KAFKA_BROKERS"`
	NotificationsTopic string `env:"NOTIFICATIONS_TOPIC"`
	AdminChatID        int64  `env:"ADMIN_CHAT_ID"`

	PollInitialDelay time.Duration `env:"POLL_INITIAL_DELAY"`
	PollBaseDelay    time.Duration `env:"POLL_BASE_DELAY"`
	PollMaxRetries   int           `env:"POLL_MAX_RETRIES"`

	WorkerInterval time.Duration `env:"WORKER_INTERVAL"`
	WorkerBatch    int           `env:"WORKER_BATCH"`
	JobLease       time.Duration `env:"JOB_LEASE"`

	RUBPerUSDT decimal.Decimal `env:"RUB_PER_USDT"`
}

func defaults() Config {
	return Config{
		RunAddress:         ":8080",
		JWTSecret:          "storefront-dev-secret",
		ProviderTimeout:    10 * time.Second,
		PlayerLookupDelay:  2 * time.Second,
		NotificationsTopic: "storefront.notifications",
		PollInitialDelay:   30 * time.Second,
		PollBaseDelay:      time.Minute,
		PollMaxRetries:     10,
		WorkerInterval:     5 * time.Second,
		WorkerBatch:        10,
		JobLease:           2 * time.Minute,
		RUBPerUSDT:         decimal.NewFromInt(90),
	}
}

var parsers = map[reflect.Type]env.ParserFunc{
	reflect.TypeOf(decimal.Decimal{}): func(v string) (interface{}, error) {
		return decimal.NewFromString(v)
	},
}

// Parse reads flags from args, then lets environment variables override them.
func Parse(args []string) (*Config, error) {
	cfg := defaults()

	fs := flag.NewFlagSet("storefront", flag.ContinueOnError)
	fs.StringVar(&cfg.RunAddress, "a", cfg.RunAddress, "Server run address")
	fs.StringVar(&cfg.DatabaseURI, "d", cfg.DatabaseURI, "Database URI (empty runs in memory)")
	fs.StringVar(&cfg.JWTSecret, "s", cfg.JWTSecret, "JWT signing secret")
	fs.StringVar(&cfg.ProviderBaseURL, "p", cfg.ProviderBaseURL, "Top-up provider base URL (empty uses the mock provider)")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if err := env.ParseWithFuncs(&cfg, parsers); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if cfg.PollMaxRetries < 0 || cfg.WorkerBatch <= 0 {
		return nil, fmt.Errorf("invalid worker settings: max retries %d, batch %d", cfg.PollMaxRetries, cfg.WorkerBatch)
	}
	// The in-memory store serializes every transaction, and provider orders
	// call the provider inside one.
	if cfg.ProviderBaseURL != "" && cfg.DatabaseURI == "" {
		return nil, errors.New("a real top-up provider requires DATABASE_URI")
	}
	return &cfg, nil
}
