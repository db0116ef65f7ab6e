package config

import (
	"errors"
	"strings"
)

type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`

	// Storage backs the registries and dedup cursors across restarts.
	// If omitted, everything is kept in memory only.
	Storage *StorageConfig `json:"storage,omitempty"`

	// Sources controls which watchers run and on what cadence.
	Sources SourcesConfig `json:"sources"`

	Matcher  MatcherConfig   `json:"matcher,omitempty"`
	Notifier *NotifierConfig `json:"notifier,omitempty"`

	// ShutdownTimeout bounds how long Stop() waits for in-flight
	// watcher cycles and notifier fanout. Go duration string.
	ShutdownTimeout string `json:"shutdown_timeout,omitempty"`
}

type TelegramConfig struct {
	Token string `json:"token"`

	// PollTimeout is the long-poll timeout, a Go duration string.
	PollTimeout string `json:"poll_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string        `json:"level"`
	Console bool          `json:"console"`
	File    FileLogConfig `json:"file"`
}

type FileLogConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

// StorageConfig controls the persistence layer.
//
// Driver values: "sqlite" or "none" (in-memory only).
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string
}

type SourcesConfig struct {
	Reddit   PollSourceConfig   `json:"reddit"`
	News     PollSourceConfig   `json:"news"`
	Twitter  PollSourceConfig   `json:"twitter"`
	Telegram StreamSourceConfig `json:"telegram"`
}

// PollSourceConfig configures a periodic watcher.
//
// Schedule accepts either a Go duration ("5m") or a standard cron
// expression ("*/5 * * * *").
//
// Targets seeds the source registry on first run; once the registry is
// persisted, runtime mutations win and this list is ignored.
type PollSourceConfig struct {
	Enabled  bool     `json:"enabled"`
	Schedule string   `json:"schedule,omitempty"`
	Targets  []string `json:"targets,omitempty"`

	// BaseURL overrides the source's API host. Twitter uses it to pick
	// the Nitter instance to search through.
	BaseURL string `json:"base_url,omitempty"`
}

// StreamSourceConfig configures the realtime (push) watcher.
type StreamSourceConfig struct {
	Enabled bool `json:"enabled"`
}

// MatcherConfig controls keyword matching policy.
//
// WholeWord switches from substring containment to whole-word matching.
// Default is substring, matching the historical behavior.
type MatcherConfig struct {
	WholeWord bool `json:"whole_word,omitempty"`
}

// NotifierConfig controls the alert delivery pipeline.
//
// All durations are Go duration strings (e.g. "500ms", "10s").
type NotifierConfig struct {
	Workers    int    `json:"workers,omitempty"`
	QueueSize  int    `json:"queue_size,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
	RetryMax   int    `json:"retry_max,omitempty"`
	RetryDelay string `json:"retry_delay,omitempty"`
}

// Validate checks fields that must be right before the app can start.
// Schedule strings are validated by the watch package when watchers are
// built, so only coarse checks live here.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Telegram.Token) == "" {
		return errors.New("telegram.token is required")
	}
	if c.Storage != nil {
		switch strings.ToLower(strings.TrimSpace(c.Storage.Driver)) {
		case "", "none", "sqlite", "sqlite3":
		default:
			return errors.New("storage.driver must be \"sqlite\" or \"none\"")
		}
	}
	if _, err := ParseDurationField("shutdown_timeout", c.ShutdownTimeout); err != nil {
		return err
	}
	if c.Notifier != nil {
		if _, err := ParseDurationField("notifier.retry_delay", c.Notifier.RetryDelay); err != nil {
			return err
		}
	}
	return nil
}
