// Package config holds the full scrutiny configuration and its YAML loader.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all scrutiny configuration.
type Config struct {
	DBPath   string         `yaml:"db_path"`
	Broker   BrokerConfig   `yaml:"broker"`
	Research ResearchConfig `yaml:"research"`
	Browser  BrowserConfig  `yaml:"browser"`
	Fetch    FetchConfig    `yaml:"fetch"`
	Planner  PlannerConfig  `yaml:"planner"`
	HTTP     HTTPConfig     `yaml:"http"`
}

// BrokerConfig controls the job queue and per-collector worker pools.
type BrokerConfig struct {
	Visibility      time.Duration `yaml:"visibility"`
	PollInterval    time.Duration `yaml:"poll_interval"`
	AwaitTimeout    time.Duration `yaml:"await_timeout"`
	MaxAttempts     int           `yaml:"max_attempts"`
	CrawlWorkers    int           `yaml:"crawl_workers"`
	ProbeWorkers    int           `yaml:"probe_workers"`
	FingerWorkers   int           `yaml:"finger_workers"`
	DiscoverWorkers int           `yaml:"discover_workers"`
}

// ResearchConfig controls the orchestration loop and its stop policy.
type ResearchConfig struct {
	MaxIterations     int           `yaml:"max_iterations"`
	CoverageThreshold float64       `yaml:"coverage_threshold"`
	MaxOpenGaps       int           `yaml:"max_open_gaps"`
	RunDeadline       time.Duration `yaml:"run_deadline"`
	AnalyzerRecentN   int           `yaml:"analyzer_recent_n"`
}

// BrowserConfig controls the Chrome instance used by the discovery agent.
type BrowserConfig struct {
	// Headful opens a visible Chrome window for local debugging.
	Headful         bool          `yaml:"headful"`
	MaxMemoryMB     int           `yaml:"max_memory_mb"`
	RecycleInterval time.Duration `yaml:"recycle_interval"`
	PageTimeout     time.Duration `yaml:"page_timeout"`
}

// FetchConfig controls the plain HTTP fetcher used by the crawler,
// prober and fingerprinter.
type FetchConfig struct {
	Timeout      time.Duration `yaml:"timeout"`
	MaxBodyBytes int64         `yaml:"max_body_bytes"`
	UserAgent    string        `yaml:"user_agent"`
}

// PlannerConfig selects and configures the reasoning backend.
type PlannerConfig struct {
	Model     string        `yaml:"model"`
	APIKeyEnv string        `yaml:"api_key_env"`
	Timeout   time.Duration `yaml:"timeout"`
}

// HTTPConfig controls the service surface.
type HTTPConfig struct {
	Addr            string `yaml:"addr"`
	AdminUser       string `yaml:"admin_user"`
	AdminBcryptHash string `yaml:"admin_bcrypt_hash"`
}

func (c *Config) defaults() {
	if c.DBPath == "" {
		c.DBPath = "scrutiny.db"
	}
	if c.Broker.Visibility <= 0 {
		c.Broker.Visibility = 2 * time.Minute
	}
	if c.Broker.PollInterval <= 0 {
		c.Broker.PollInterval = 500 * time.Millisecond
	}
	if c.Broker.AwaitTimeout <= 0 {
		c.Broker.AwaitTimeout = 5 * time.Minute
	}
	if c.Broker.MaxAttempts <= 0 {
		c.Broker.MaxAttempts = 3
	}
	if c.Broker.CrawlWorkers <= 0 {
		c.Broker.CrawlWorkers = 2
	}
	if c.Broker.ProbeWorkers <= 0 {
		c.Broker.ProbeWorkers = 3
	}
	if c.Broker.FingerWorkers <= 0 {
		c.Broker.FingerWorkers = 5
	}
	if c.Broker.DiscoverWorkers <= 0 {
		c.Broker.DiscoverWorkers = 1
	}
	if c.Research.MaxIterations <= 0 {
		c.Research.MaxIterations = 5
	}
	if c.Research.CoverageThreshold <= 0 {
		c.Research.CoverageThreshold = 0.8
	}
	if c.Research.MaxOpenGaps <= 0 {
		c.Research.MaxOpenGaps = 3
	}
	if c.Research.RunDeadline <= 0 {
		c.Research.RunDeadline = 2 * time.Hour
	}
	if c.Research.AnalyzerRecentN <= 0 {
		c.Research.AnalyzerRecentN = 20
	}
	if c.Browser.MaxMemoryMB <= 0 {
		c.Browser.MaxMemoryMB = 1024
	}
	if c.Browser.RecycleInterval <= 0 {
		c.Browser.RecycleInterval = 30 * time.Minute
	}
	if c.Browser.PageTimeout <= 0 {
		c.Browser.PageTimeout = 45 * time.Second
	}
	if c.Fetch.Timeout <= 0 {
		c.Fetch.Timeout = 30 * time.Second
	}
	if c.Fetch.MaxBodyBytes <= 0 {
		c.Fetch.MaxBodyBytes = 10 << 20
	}
	if c.Fetch.UserAgent == "" {
		c.Fetch.UserAgent = "scrutiny-research/1.0"
	}
	if c.Planner.Model == "" {
		c.Planner.Model = "gemini-2.5-flash"
	}
	if c.Planner.APIKeyEnv == "" {
		c.Planner.APIKeyEnv = "GEMINI_API_KEY"
	}
	if c.Planner.Timeout <= 0 {
		c.Planner.Timeout = 90 * time.Second
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8480"
	}
}

// Default returns a Config with every field at its default value.
func Default() *Config {
	cfg := &Config{}
	cfg.defaults()
	return cfg
}

// LoadFile reads a YAML config file and fills defaults for absent fields.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.defaults()
	return cfg, nil
}
