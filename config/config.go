// Package config loads the process-wide configuration: defaults first,
// then an optional config file, then DEEPRESEARCH_* environment
// variables. Configuration is read once at startup; there is no
// hot-reload.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the research engine.
type Config struct {
	General GeneralConfig `mapstructure:"general"`
	Search  SearchConfig  `mapstructure:"search"`
	Queue   QueueConfig   `mapstructure:"queue"`
	Browser BrowserConfig `mapstructure:"browser"`
	Session SessionConfig `mapstructure:"session"`
	Extract ExtractConfig `mapstructure:"extract"`
	Analyze AnalyzeConfig `mapstructure:"analyze"`
	Output  OutputConfig  `mapstructure:"output"`
	Server  ServerConfig  `mapstructure:"server"`
}

// GeneralConfig contains general application settings.
type GeneralConfig struct {
	Debug    bool   `mapstructure:"debug"`
	LogLevel string `mapstructure:"log_level"`
}

// SearchConfig controls the dispatcher.
type SearchConfig struct {
	MaxParallel     int           `mapstructure:"max_parallel"`
	StaggerDelay    time.Duration `mapstructure:"stagger_delay"`
	InterChunkDelay time.Duration `mapstructure:"inter_chunk_delay"`
	MaxResults      int           `mapstructure:"max_results"`
	EngineURL       string        `mapstructure:"engine_url"`
}

func (s SearchConfig) Validate() error {
	if s.MaxParallel <= 0 {
		return fmt.Errorf("search.max_parallel must be > 0")
	}
	if s.MaxResults <= 0 {
		return fmt.Errorf("search.max_results must be > 0")
	}
	return nil
}

// QueueConfig controls the search queue rate limiter and retries.
type QueueConfig struct {
	MaxRetries int           `mapstructure:"max_retries"`
	RateEvery  time.Duration `mapstructure:"rate_every"`
	RateBurst  int           `mapstructure:"rate_burst"`
	RetryBase  time.Duration `mapstructure:"retry_base"`
}

func (q QueueConfig) Validate() error {
	if q.MaxRetries < 0 {
		return fmt.Errorf("queue.max_retries must be >= 0")
	}
	if q.RateBurst <= 0 {
		return fmt.Errorf("queue.rate_burst must be > 0")
	}
	return nil
}

// BrowserConfig controls the headless browser pool.
type BrowserConfig struct {
	PoolSize          int           `mapstructure:"pool_size"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout"`
	Headless          bool          `mapstructure:"headless"`
}

func (b BrowserConfig) Validate() error {
	if b.PoolSize <= 0 {
		return fmt.Errorf("browser.pool_size must be > 0")
	}
	if b.NavigationTimeout <= 0 {
		return fmt.Errorf("browser.navigation_timeout must be > 0")
	}
	return nil
}

// SessionConfig bounds one research session.
type SessionConfig struct {
	MaxDepth       int           `mapstructure:"max_depth"`
	MaxBranching   int           `mapstructure:"max_branching"`
	Timeout        time.Duration `mapstructure:"timeout"`
	TimeoutCeiling time.Duration `mapstructure:"timeout_ceiling"`
	MinRelevance   float64       `mapstructure:"min_relevance"`
	FollowLinks    bool          `mapstructure:"follow_links"`
}

func (s SessionConfig) Validate() error {
	if s.MinRelevance < 0 || s.MinRelevance > 1 {
		return fmt.Errorf("session.min_relevance must be within [0,1]")
	}
	if s.Timeout <= 0 {
		return fmt.Errorf("session.timeout must be > 0")
	}
	return nil
}

// ExtractConfig bounds the content extractor.
type ExtractConfig struct {
	MaxContentLength int `mapstructure:"max_content_length"`
}

// AnalyzeConfig bounds the content analyzer.
type AnalyzeConfig struct {
	MinTopicConfidence   float64 `mapstructure:"min_topic_confidence"`
	MaxTopics            int     `mapstructure:"max_topics"`
	MinInsightImportance float64 `mapstructure:"min_insight_importance"`
	MaxInsights          int     `mapstructure:"max_insights"`
}

// OutputConfig controls result persistence.
type OutputConfig struct {
	ResultsDir string `mapstructure:"results_dir"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Address string `mapstructure:"address"`
}

// LoadConfig loads config from the given file, or from the default
// search paths when path is empty. A missing config file is fine;
// defaults and environment variables still apply.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("json")

	v.SetDefault("general.debug", false)
	v.SetDefault("general.log_level", "info")
	v.SetDefault("search.max_parallel", 5)
	v.SetDefault("search.stagger_delay", 200*time.Millisecond)
	v.SetDefault("search.inter_chunk_delay", time.Second)
	v.SetDefault("search.max_results", 10)
	v.SetDefault("search.engine_url", "https://www.google.com")
	v.SetDefault("queue.max_retries", 3)
	v.SetDefault("queue.rate_every", 2*time.Second)
	v.SetDefault("queue.rate_burst", 3)
	v.SetDefault("queue.retry_base", 2*time.Second)
	v.SetDefault("browser.pool_size", 5)
	v.SetDefault("browser.navigation_timeout", 15*time.Second)
	v.SetDefault("browser.headless", true)
	v.SetDefault("session.max_depth", 2)
	v.SetDefault("session.max_branching", 3)
	v.SetDefault("session.timeout", 55*time.Second)
	v.SetDefault("session.timeout_ceiling", 2*time.Minute)
	v.SetDefault("session.min_relevance", 0.7)
	v.SetDefault("session.follow_links", false)
	v.SetDefault("extract.max_content_length", 20000)
	v.SetDefault("analyze.min_topic_confidence", 0.3)
	v.SetDefault("analyze.max_topics", 10)
	v.SetDefault("analyze.min_insight_importance", 0.3)
	v.SetDefault("analyze.max_insights", 20)
	v.SetDefault("output.results_dir", "results")
	v.SetDefault("server.address", ":8080")

	if path == "" {
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
		exe, _ := os.Executable()
		exeDir := filepath.Dir(exe)
		v.AddConfigPath(exeDir)
		v.AddConfigPath(filepath.Join(exeDir, "..", "config"))
	} else {
		v.SetConfigFile(path)
	}

	v.SetEnvPrefix("DEEPRESEARCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Search.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Queue.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Browser.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Session.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
