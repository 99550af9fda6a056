package crawler

import (
	"time"

	"github.com/JakeFAU/clinic-crawler/internal/config"
)

// Config is the engine's immutable view of the crawl settings.
type Config struct {
	RootURL           string
	UserAgent         string
	Timeout           time.Duration
	ClinicConcurrency int
	Deadline          time.Duration
	Policy            BackoffPolicy
}

// NewConfig derives engine settings from a validated configuration.
func NewConfig(cfg config.Config) Config {
	return Config{
		RootURL:           cfg.RootURL(),
		UserAgent:         cfg.Crawler.UserAgent,
		Timeout:           config.Seconds(cfg.HTTP.TimeoutSeconds),
		ClinicConcurrency: cfg.Crawler.ClinicConcurrency,
		Deadline:          config.Seconds(cfg.Crawler.DeadlineSeconds),
		Policy: BackoffPolicy{
			MaxRetries: cfg.HTTP.MaxRetries,
			MinDelay:   config.Seconds(cfg.Crawler.MinDelaySeconds),
			MaxDelay:   config.Seconds(cfg.Crawler.MaxDelaySeconds),
			Base:       config.Seconds(cfg.HTTP.BackoffBaseSeconds),
			Cap:        config.Seconds(cfg.HTTP.BackoffMaxSeconds),
		},
	}
}
