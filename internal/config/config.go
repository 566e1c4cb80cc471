package config

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config holds all application configuration
type Config struct {
	Version    int              `toml:"version"`
	Store      StoreConfig      `toml:"store"`
	IMAP       IMAPConfig       `toml:"imap"`
	SMTP       SMTPConfig       `toml:"smtp"`
	Review     ReviewConfig     `toml:"review"`
	Generation GenerationConfig `toml:"generation"`
	Publisher  PublisherConfig  `toml:"publisher"`
	Pipeline   PipelineConfig   `toml:"pipeline"`
	Feeds      []FeedConfig     `toml:"feeds"`
}

// StoreConfig describes where durable state lives
type StoreConfig struct {
	DBPath    string `toml:"db_path"`
	OutputDir string `toml:"output_dir"`
	OutboxDir string `toml:"outbox_dir"`
	CacheDir  string `toml:"cache_dir"`
}

// IMAPConfig describes the inbound mailbox
type IMAPConfig struct {
	Host    string `toml:"host"`
	Port    int    `toml:"port"`
	User    string `toml:"user"`
	Pass    string `toml:"pass"`
	Mailbox string `toml:"mailbox"`
}

// SMTPConfig describes the outbound mail transport
type SMTPConfig struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	User     string `toml:"user"`
	Pass     string `toml:"pass"`
	FromAddr string `toml:"from_address"`
	SSL      bool   `toml:"ssl"` // implicit TLS (port 465) instead of STARTTLS
}

// ReviewConfig controls the human review loop
type ReviewConfig struct {
	Recipient            string   `toml:"recipient"`
	ReplyTo              string   `toml:"reply_to"`
	CheckIntervalMinutes int      `toml:"check_interval_minutes"`
	ExpiryHours          int      `toml:"expiry_hours"`
	PreviewChars         int      `toml:"preview_chars"`
	AllowFrom            []string `toml:"allow_from"`
	AutoAck              bool     `toml:"auto_ack"`
	TokenFile            string   `toml:"token_file"` // optional override for instruction token sets
}

// GenerationConfig defines how candidate articles are produced
type GenerationConfig struct {
	Provider       string `toml:"provider"`
	APIKey         string `toml:"api_key"`
	Model          string `toml:"model"`
	CandidateCount int    `toml:"candidate_count"`
	MaxTokens      int    `toml:"max_tokens"`
}

// ProviderAnthropic is the only generation provider currently wired up
const ProviderAnthropic = "anthropic"

// PublisherConfig describes the external publishing tool
type PublisherConfig struct {
	Enabled        bool   `toml:"enabled"`
	Command        string `toml:"command"`
	Theme          string `toml:"theme"`
	Highlight      string `toml:"highlight"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// PipelineConfig controls the daily production run
type PipelineConfig struct {
	DailyTime string   `toml:"daily_time"`
	Timezone  string   `toml:"timezone"`
	Topic     string   `toml:"topic"` // optional fixed focus; empty means derive from feeds
	Keywords  []string `toml:"keywords"`
}

// FeedConfig describes one RSS/Atom source
type FeedConfig struct {
	Name     string `toml:"name"`
	URL      string `toml:"url"`
	Category string `toml:"category"`
	Weight   int    `toml:"weight"`
}

// Default returns a Config with sensible defaults
func Default() *Config {
	return &Config{
		Version: 1,
		IMAP: IMAPConfig{
			Host:    "imap.gmail.com",
			Port:    993,
			Mailbox: "INBOX",
		},
		SMTP: SMTPConfig{
			Host: "smtp.gmail.com",
			Port: 587,
		},
		Review: ReviewConfig{
			CheckIntervalMinutes: 5,
			ExpiryHours:          24,
			PreviewChars:         500,
			AutoAck:              true,
		},
		Generation: GenerationConfig{
			Provider:       ProviderAnthropic,
			Model:          "claude-sonnet-4-20250514",
			CandidateCount: 3,
			MaxTokens:      4096,
		},
		Publisher: PublisherConfig{
			Command:        "wenyan",
			Theme:          "lapis",
			Highlight:      "solarized-light",
			TimeoutSeconds: 120,
		},
		Pipeline: PipelineConfig{
			DailyTime: "08:00",
			Timezone:  "Asia/Shanghai",
		},
	}
}

// ConfigDir returns the platform-appropriate config directory
func ConfigDir() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "inkpress"), nil
}

// ConfigPath returns the full path to the config file
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// DataDir returns the directory for the database, outbox and exports
func DataDir() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "data"), nil
}

// CacheDir returns the platform-appropriate cache directory
func CacheDir() (string, error) {
	cacheDir, err := os.UserCacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(cacheDir, "inkpress"), nil
}

// Load reads config from disk
func Load() (*Config, error) {
	path, err := ConfigPath()
	if err != nil {
		return nil, err
	}
	return LoadFile(path)
}

// LoadFile reads config from an explicit path
func LoadFile(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}
	cfg.FillPaths()
	return &cfg, nil
}

// FillPaths resolves empty storage paths against the platform directories.
func (c *Config) FillPaths() {
	dataDir, err := DataDir()
	if err != nil {
		return
	}
	if c.Store.DBPath == "" {
		c.Store.DBPath = filepath.Join(dataDir, "inkpress.db")
	}
	if c.Store.OutputDir == "" {
		c.Store.OutputDir = filepath.Join(dataDir, "output")
	}
	if c.Store.OutboxDir == "" {
		c.Store.OutboxDir = filepath.Join(dataDir, "outbox")
	}
	if c.Store.CacheDir == "" {
		if cacheDir, err := CacheDir(); err == nil {
			c.Store.CacheDir = filepath.Join(cacheDir, "llm")
		}
	}
}

// Save writes config to disk
func (c *Config) Save() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}

	path, err := ConfigPath()
	if err != nil {
		return err
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	defer f.Close()

	encoder := toml.NewEncoder(f)
	return encoder.Encode(c)
}
