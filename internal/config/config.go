// Package config loads and validates crawler configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/andybalholm/cascadia"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// ErrInvalidConfig marks configuration errors detected before any network activity.
var ErrInvalidConfig = errors.New("invalid configuration")

// DefaultBaseURL is the archived site the crawl starts from.
const DefaultBaseURL = "https://web.archive.org/web/20250708180027/https://www.myfootdr.com.au"

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"

// Config captures all crawl configuration knobs loaded via Viper.
type Config struct {
	Crawler  CrawlerConfig  `mapstructure:"crawler"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Links    LinksConfig    `mapstructure:"links"`
	Output   OutputConfig   `mapstructure:"output"`
	Snapshot SnapshotConfig `mapstructure:"snapshot"`
	Server   ServerConfig   `mapstructure:"server"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// CrawlerConfig governs traversal and politeness.
type CrawlerConfig struct {
	BaseURL           string  `mapstructure:"base_url"`
	RootPath          string  `mapstructure:"root_path"`
	UserAgent         string  `mapstructure:"user_agent"`
	MinDelaySeconds   float64 `mapstructure:"min_delay_seconds"`
	MaxDelaySeconds   float64 `mapstructure:"max_delay_seconds"`
	ClinicConcurrency int     `mapstructure:"clinic_concurrency"`
	DeadlineSeconds   float64 `mapstructure:"deadline_seconds"`
}

// HTTPConfig configures request timeout and retry behavior.
type HTTPConfig struct {
	TimeoutSeconds     float64 `mapstructure:"timeout_seconds"`
	MaxRetries         int     `mapstructure:"max_retries"`
	BackoffBaseSeconds float64 `mapstructure:"backoff_base_seconds"`
	BackoffMaxSeconds  float64 `mapstructure:"backoff_max_seconds"`
}

// LinksConfig holds the anchor classification rules for listing pages.
type LinksConfig struct {
	RegionSelectors      []string `mapstructure:"region_selectors"`
	RegionHrefPattern    string   `mapstructure:"region_href_pattern"`
	ClinicSelectors      []string `mapstructure:"clinic_selectors"`
	ClinicHrefPattern    string   `mapstructure:"clinic_href_pattern"`
	ClinicExcludePattern string   `mapstructure:"clinic_exclude_pattern"`
	IgnoredLabels        []string `mapstructure:"ignored_labels"`
}

// OutputConfig sets the CSV destination.
type OutputConfig struct {
	File string `mapstructure:"file"`
}

// SnapshotConfig enables raw page archiving when Dir is set.
type SnapshotConfig struct {
	Dir string `mapstructure:"dir"`
}

// ServerConfig controls the optional status server.
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// flagKeys maps CLI flag names onto configuration keys.
var flagKeys = map[string]string{
	"base-url":    "crawler.base_url",
	"min-delay":   "crawler.min_delay_seconds",
	"max-delay":   "crawler.max_delay_seconds",
	"concurrency": "crawler.clinic_concurrency",
	"deadline":    "crawler.deadline_seconds",
	"max-retries": "http.max_retries",
	"timeout":     "http.timeout_seconds",
	"output":      "output.file",
	"snapshot":    "snapshot.dir",
	"listen":      "server.addr",
	"dev":         "logging.development",
	"log-level":   "logging.level",
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	return LoadWithFlags(path, nil)
}

// LoadWithFlags builds a Config from disk/environment and lets any changed
// flag in flags override the matching key.
func LoadWithFlags(path string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CLINICS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	if flags != nil {
		for name, key := range flagKeys {
			flag := flags.Lookup(name)
			if flag == nil {
				continue
			}
			if err := v.BindPFlag(key, flag); err != nil {
				return Config{}, fmt.Errorf("bind flag %s: %w", name, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("crawler.base_url", DefaultBaseURL)
	v.SetDefault("crawler.root_path", "/our-clinics/")
	v.SetDefault("crawler.user_agent", defaultUserAgent)
	v.SetDefault("crawler.min_delay_seconds", 1.0)
	v.SetDefault("crawler.max_delay_seconds", 2.0)
	v.SetDefault("crawler.clinic_concurrency", 1)
	v.SetDefault("crawler.deadline_seconds", 0)
	v.SetDefault("http.timeout_seconds", 10)
	v.SetDefault("http.max_retries", 3)
	v.SetDefault("http.backoff_base_seconds", 1.0)
	v.SetDefault("http.backoff_max_seconds", 30.0)
	v.SetDefault("links.region_selectors", []string{
		".region-list a",
		".clinic-regions a",
		`[class*="region"] a`,
	})
	v.SetDefault("links.region_href_pattern", `/regions/`)
	v.SetDefault("links.clinic_selectors", []string{
		".clinic-list a",
		".clinic-item a",
		".clinic-name a",
		"h3 a",
		"article a",
		".entry-title a",
	})
	v.SetDefault("links.clinic_href_pattern", `/our-clinics/`)
	v.SetDefault("links.clinic_exclude_pattern", `/regions/|/our-clinics/?$|/page/\d+`)
	v.SetDefault("links.ignored_labels", []string{
		"Our Clinics",
		"Clinics",
		"Read More",
		"View Clinic",
		"Book Online",
		"Next",
		"Previous",
	})
	v.SetDefault("output.file", "clinics.csv")
	v.SetDefault("snapshot.dir", "")
	v.SetDefault("server.addr", "")
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if err := c.validateCrawler(); err != nil {
		return err
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return invalid("http.timeout_seconds must be > 0")
	}
	if c.HTTP.MaxRetries < 1 {
		return invalid("http.max_retries must be >= 1")
	}
	if c.HTTP.BackoffBaseSeconds < 0 {
		return invalid("http.backoff_base_seconds must be >= 0")
	}
	if c.HTTP.BackoffMaxSeconds < c.HTTP.BackoffBaseSeconds {
		return invalid("http.backoff_max_seconds must be >= http.backoff_base_seconds")
	}
	if err := c.validateLinks(); err != nil {
		return err
	}
	if strings.TrimSpace(c.Output.File) == "" {
		return invalid("output.file must be set")
	}
	return nil
}

func (c Config) validateCrawler() error {
	u, err := url.Parse(c.Crawler.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return invalid("crawler.base_url must be an absolute URL, got %q", c.Crawler.BaseURL)
	}
	if c.Crawler.UserAgent == "" {
		return invalid("crawler.user_agent must be set")
	}
	if c.Crawler.MinDelaySeconds < 0 {
		return invalid("crawler.min_delay_seconds must be >= 0")
	}
	if c.Crawler.MaxDelaySeconds < c.Crawler.MinDelaySeconds {
		return invalid("crawler.max_delay_seconds must be >= crawler.min_delay_seconds")
	}
	if c.Crawler.ClinicConcurrency <= 0 {
		return invalid("crawler.clinic_concurrency must be > 0")
	}
	if c.Crawler.DeadlineSeconds < 0 {
		return invalid("crawler.deadline_seconds must be >= 0")
	}
	return nil
}

func (c Config) validateLinks() error {
	for _, sel := range append(append([]string{}, c.Links.RegionSelectors...), c.Links.ClinicSelectors...) {
		if _, err := cascadia.Compile(sel); err != nil {
			return invalid("links selector %q: %v", sel, err)
		}
	}
	patterns := map[string]string{
		"links.region_href_pattern":    c.Links.RegionHrefPattern,
		"links.clinic_href_pattern":    c.Links.ClinicHrefPattern,
		"links.clinic_exclude_pattern": c.Links.ClinicExcludePattern,
	}
	for key, pattern := range patterns {
		if _, err := regexp.Compile(pattern); err != nil {
			return invalid("%s: %v", key, err)
		}
	}
	if c.Links.RegionHrefPattern == "" || c.Links.ClinicHrefPattern == "" {
		return invalid("links href patterns must be set")
	}
	return nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
}

// RootURL joins the base URL and root path into the crawl entry point.
func (c Config) RootURL() string {
	return strings.TrimRight(c.Crawler.BaseURL, "/") + "/" + strings.TrimLeft(c.Crawler.RootPath, "/")
}

// Seconds converts a fractional seconds value into a time.Duration.
func Seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
