// Package config содержит логику чтения конфигурации сервиса кредитных заявок.
package config

import (
	"flag"
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Config содержит параметры конфигурации сервиса кредитных заявок.
type Config struct {
	RunAddress        string `env:"RUN_ADDRESS"`
	DatabaseURI       string `env:"DATABASE_URI"`
	AuthorizeAddress  string `env:"AUTHORIZE_API_ADDRESS"`
	NotifyAddress     string `env:"NOTIFY_API_ADDRESS"`
	WorkerConcurrency int    `env:"WORKER_CONCURRENCY"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envAuthorizeAddress := cfg.AuthorizeAddress
	envNotifyAddress := cfg.NotifyAddress
	envWorkerConcurrency := cfg.WorkerConcurrency

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.AuthorizeAddress, "r", "", "authorization API address")
	flag.StringVar(&cfg.NotifyAddress, "n", "", "notification API address")
	flag.IntVar(&cfg.WorkerConcurrency, "w", 4, "number of background job workers")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envAuthorizeAddress != "" {
		cfg.AuthorizeAddress = envAuthorizeAddress
	}
	if envNotifyAddress != "" {
		cfg.NotifyAddress = envNotifyAddress
	}
	if envWorkerConcurrency > 0 {
		cfg.WorkerConcurrency = envWorkerConcurrency
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}
	if cfg.WorkerConcurrency <= 0 {
		cfg.WorkerConcurrency = 4
	}

	return cfg, nil
}
