// Package config содержит логику чтения конфигурации сервиса лояльности.
package config

import (
	"flag"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config содержит параметры конфигурации сервиса лояльности.
type Config struct {
	RunAddress  string `env:"RUN_ADDRESS"`
	DatabaseURI string `env:"DATABASE_URI"`

	TransactionLogDriver string `env:"TRANSACTION_LOG_DRIVER" envDefault:"pgx"`
	TransactionLogDSN    string `env:"TRANSACTION_LOG_DSN"`

	SettlementAddress       string        `env:"SETTLEMENT_ADDRESS"`
	SettlementSourceAccount string        `env:"SETTLEMENT_SOURCE_ACCOUNT" envDefault:"1000000001"`
	SettlementTimeout       time.Duration `env:"SETTLEMENT_TIMEOUT" envDefault:"30s"`

	NotificationAddress string `env:"NOTIFICATION_ADDRESS"`

	RabbitMQURL   string `env:"RABBITMQ_URL"`
	AlertExchange string `env:"ALERT_EXCHANGE" envDefault:"loyalty.alerts"`

	APIKey string `env:"API_KEY"`

	PollInterval   time.Duration `env:"POLL_INTERVAL" envDefault:"30s"`
	PollWindow     time.Duration `env:"POLL_WINDOW" envDefault:"30m"`
	ExpiryInterval time.Duration `env:"EXPIRY_INTERVAL" envDefault:"6h"`
	ReminderDays   []int         `env:"REMINDER_DAYS" envDefault:"30,7,1" envSeparator:","`

	RedemptionCatalog string `env:"REDEMPTION_CATALOG"`
	LogBufferSize     int    `env:"LOG_BUFFER_SIZE" envDefault:"1000"`

	GL GLAccounts
}

// GLAccounts содержит счета главной книги для проводок по погашению баллов.
type GLAccounts struct {
	Liability string `env:"GL_LIABILITY" envDefault:"LOYALTY_POINTS_LIABILITY"`
	Expense   string `env:"GL_EXPENSE" envDefault:"LOYALTY_REDEMPTION_EXPENSE"`
	Cash      string `env:"GL_CASH" envDefault:"CASH_ACCOUNT"`
	Airtime   string `env:"GL_AIRTIME" envDefault:"AIRTIME_PURCHASE"`
	Bills     string `env:"GL_BILLS" envDefault:"BILLS_PAYABLE"`
}

// Load считывает конфигурацию только из переменных окружения.
func Load() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
// Переменные окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envSettlementAddress := cfg.SettlementAddress

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.SettlementAddress, "r", "", "settlement service address")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envSettlementAddress != "" {
		cfg.SettlementAddress = envSettlementAddress
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// TransactionLogSource возвращает DSN журнала операций; по умолчанию это основная база.
func (c *Config) TransactionLogSource() string {
	if c.TransactionLogDSN != "" {
		return c.TransactionLogDSN
	}
	return c.DatabaseURI
}

func (c *Config) validate() error {
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive, got %s", c.PollInterval)
	}
	// Окно опроса шире интервала, иначе поздние строки журнала теряются между тиками.
	if c.PollWindow <= c.PollInterval {
		return fmt.Errorf("poll window %s must exceed poll interval %s", c.PollWindow, c.PollInterval)
	}
	if c.ExpiryInterval <= 0 {
		return fmt.Errorf("expiry interval must be positive, got %s", c.ExpiryInterval)
	}
	for _, d := range c.ReminderDays {
		if d <= 0 {
			return fmt.Errorf("reminder days must be positive, got %d", d)
		}
	}
	return nil
}
