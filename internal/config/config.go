package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/thomaskoefod/cardreadr/internal/logging"
)

type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	Feeds     []FeedConfig    `yaml:"feeds"`
	Interests []string        `yaml:"interests"`
	Ollama    OllamaConfig    `yaml:"ollama"`
	Raindrop  RaindropConfig  `yaml:"raindrop"`
	UI        UIConfig        `yaml:"ui"`
	Server    ServerConfig    `yaml:"server"`
	Client    ClientConfig    `yaml:"client"`
	Queue     QueueConfig     `yaml:"queue"`
	Selection SelectionConfig `yaml:"selection"`
	Scoring   ScoringConfig   `yaml:"scoring"`
	Refresh   RefreshConfig   `yaml:"refresh"`
	Log       logging.Config  `yaml:"log"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type FeedConfig struct {
	URL  string `yaml:"url"`
	Name string `yaml:"name"`
}

type OllamaConfig struct {
	Host  string `yaml:"host"`
	Model string `yaml:"model"`
}

type RaindropConfig struct {
	APIToken string `yaml:"api_token"`
}

type UIConfig struct {
	// LogFile receives log output while the card reader owns the terminal.
	LogFile string `yaml:"log_file"`
}

type ServerConfig struct {
	Addr              string `yaml:"addr"`
	RequestsPerMinute int    `yaml:"requests_per_minute"`
}

type ClientConfig struct {
	BaseURL string `yaml:"base_url"`
	Timeout string `yaml:"timeout"`
}

// GetTimeout parses the client timeout string
func (c *ClientConfig) GetTimeout() (time.Duration, error) {
	return time.ParseDuration(c.Timeout)
}

// QueueConfig tunes the client prefetch queue. Larger batches mean fewer
// round trips but more wasted prefetch when the reader stops.
type QueueConfig struct {
	BatchSize int `yaml:"batch_size"`
	MinSize   int `yaml:"min_size"`
}

type SelectionConfig struct {
	PExploit          float64 `yaml:"p_exploit"`
	MaxBatch          int     `yaml:"max_batch"`
	CandidateLimit    int     `yaml:"candidate_limit"`
	RepeatFeedPenalty float64 `yaml:"repeat_feed_penalty"`
	Seed              int64   `yaml:"seed"`
}

type ScoringConfig struct {
	// Default is the scorer used when no trained model is active:
	// "heuristic" or "interests".
	Default   string `yaml:"default"`
	ModelsDir string `yaml:"models_dir"`
	HalfLife  string `yaml:"half_life"`
}

// GetHalfLife parses the recency half-life string
func (s *ScoringConfig) GetHalfLife() (time.Duration, error) {
	return time.ParseDuration(s.HalfLife)
}

type RefreshConfig struct {
	Schedule string `yaml:"schedule"`
	Timezone string `yaml:"timezone"`
}

// Load reads configuration from file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns a Config with every field set to its default.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (cfg *Config) applyDefaults() {
	if cfg.Database.Path == "" {
		cfg.Database.Path = "~/.local/share/cardreadr/cardreadr.db"
	}
	cfg.Database.Path = expandPath(cfg.Database.Path)

	if cfg.Ollama.Host == "" {
		cfg.Ollama.Host = "http://localhost:11434"
	}
	if cfg.Ollama.Model == "" {
		cfg.Ollama.Model = "nomic-embed-text"
	}
	if cfg.UI.LogFile == "" {
		cfg.UI.LogFile = "~/.local/share/cardreadr/reader.log"
	}
	cfg.UI.LogFile = expandPath(cfg.UI.LogFile)

	if cfg.Server.Addr == "" {
		cfg.Server.Addr = "127.0.0.1:5000"
	}
	if cfg.Server.RequestsPerMinute == 0 {
		cfg.Server.RequestsPerMinute = 600
	}
	if cfg.Client.BaseURL == "" {
		cfg.Client.BaseURL = "http://127.0.0.1:5000"
	}
	if cfg.Client.Timeout == "" {
		cfg.Client.Timeout = "10s"
	}

	if cfg.Queue.BatchSize == 0 {
		cfg.Queue.BatchSize = 3
	}
	if cfg.Queue.MinSize == 0 {
		cfg.Queue.MinSize = 2
	}

	if cfg.Selection.PExploit == 0 {
		cfg.Selection.PExploit = 0.8
	}
	if cfg.Selection.MaxBatch == 0 {
		cfg.Selection.MaxBatch = 5
	}
	if cfg.Selection.RepeatFeedPenalty == 0 {
		cfg.Selection.RepeatFeedPenalty = 1.0
	}

	if cfg.Scoring.Default == "" {
		cfg.Scoring.Default = "heuristic"
	}
	if cfg.Scoring.ModelsDir == "" {
		cfg.Scoring.ModelsDir = "~/.local/share/cardreadr/models"
	}
	cfg.Scoring.ModelsDir = expandPath(cfg.Scoring.ModelsDir)
	if cfg.Scoring.HalfLife == "" {
		cfg.Scoring.HalfLife = "48h"
	}

	if cfg.Refresh.Schedule == "" {
		cfg.Refresh.Schedule = "0 * * * *"
	}
	if cfg.Refresh.Timezone == "" {
		cfg.Refresh.Timezone = "Local"
	}
}

// Validate checks value ranges that defaults cannot repair.
func (cfg *Config) Validate() error {
	if cfg.Selection.PExploit < 0 || cfg.Selection.PExploit > 1 {
		return fmt.Errorf("selection.p_exploit must be within [0,1], got %v", cfg.Selection.PExploit)
	}
	if cfg.Selection.MaxBatch < 1 {
		return fmt.Errorf("selection.max_batch must be positive, got %d", cfg.Selection.MaxBatch)
	}
	if cfg.Selection.RepeatFeedPenalty <= 0 || cfg.Selection.RepeatFeedPenalty > 1 {
		return fmt.Errorf("selection.repeat_feed_penalty must be within (0,1], got %v", cfg.Selection.RepeatFeedPenalty)
	}
	if cfg.Queue.BatchSize < 1 || cfg.Queue.BatchSize > cfg.Selection.MaxBatch {
		return fmt.Errorf("queue.batch_size must be within [1,%d], got %d", cfg.Selection.MaxBatch, cfg.Queue.BatchSize)
	}
	if cfg.Queue.MinSize < 0 {
		return fmt.Errorf("queue.min_size must not be negative, got %d", cfg.Queue.MinSize)
	}
	switch cfg.Scoring.Default {
	case "heuristic", "interests":
	default:
		return fmt.Errorf("scoring.default must be heuristic or interests, got %q", cfg.Scoring.Default)
	}
	if _, err := cfg.Scoring.GetHalfLife(); err != nil {
		return fmt.Errorf("scoring.half_life: %w", err)
	}
	if _, err := cfg.Client.GetTimeout(); err != nil {
		return fmt.Errorf("client.timeout: %w", err)
	}
	return nil
}

// Save writes configuration to file
func Save(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}

// expandPath expands ~ to home directory
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}

// DefaultConfigPath returns the default configuration file path
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(home, ".config", "cardreadr", "config.yaml")
}
