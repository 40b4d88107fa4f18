package config

import (
	"fmt"
	"strings"
	"time"
)

type Config struct {
	Telegram   TelegramConfig   `json:"telegram"`
	OpenAI     OpenAIConfig     `json:"openai"`
	Newsletter NewsletterConfig `json:"newsletter"`
	Summarize  SummarizeConfig  `json:"summarize,omitempty"`
	Storage    StorageConfig    `json:"storage,omitempty"`
	Logging    LoggingConfig    `json:"logging,omitempty"`
}

type TelegramConfig struct {
	Token string `json:"token"`

	// PollTimeout is a Go duration string (e.g. "10s").
	PollTimeout string `json:"poll_timeout,omitempty"`
}

type OpenAIConfig struct {
	APIKey string `json:"api_key"`
	Model  string `json:"model,omitempty"` // default: gpt-4o-mini
}

// NewsletterConfig drives the daily scan and the personal delivery
// scheduler.
type NewsletterConfig struct {
	// Channels are public channel names scanned for tagged posts.
	Channels []string `json:"channels"`
	// Tags select posts (case-insensitive substring match).
	Tags []string `json:"tags"`

	Timezone string `json:"timezone,omitempty"` // IANA TZ; default: local

	// PrewarmAt optionally schedules a daily HH:MM scan so the cache is hot
	// before the first delivery hour. Empty disables the job.
	PrewarmAt string `json:"prewarm_at,omitempty"`

	// ScanWindow bounds how far back one scan looks (default "24h").
	ScanWindow string `json:"scan_window,omitempty"`
	// ScanLimit bounds posts fetched per channel (default 20).
	ScanLimit int `json:"scan_limit,omitempty"`
}

// SummarizeConfig tunes the batch summarization pipeline.
//
// Defaults (when fields are omitted/zero):
//   - batch_size: 10
//   - max_concurrent: 6
//   - chunk_limit: 4000
//   - message_delay: "500ms"
type SummarizeConfig struct {
	BatchSize     int    `json:"batch_size,omitempty"`
	MaxConcurrent int    `json:"max_concurrent,omitempty"`
	ChunkLimit    int    `json:"chunk_limit,omitempty"`
	MessageDelay  string `json:"message_delay,omitempty"`
}

// StorageConfig controls subscriber persistence.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./subscribers.json" }
type StorageConfig struct {
	Driver string `json:"driver"`
	Path   string `json:"path"`
}

type LoggingConfig struct {
	Level   string            `json:"level,omitempty"`
	Console *bool             `json:"console,omitempty"` // default true
	File    LoggingFileConfig `json:"file,omitempty"`
}

type LoggingFileConfig struct {
	Enabled bool   `json:"enabled,omitempty"`
	Path    string `json:"path,omitempty"`
}

// Validate rejects configs that cannot possibly run.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Telegram.Token) == "" {
		return fmt.Errorf("telegram.token is required")
	}
	if strings.TrimSpace(c.OpenAI.APIKey) == "" {
		return fmt.Errorf("openai.api_key is required")
	}
	if len(c.Newsletter.Channels) == 0 {
		return fmt.Errorf("newsletter.channels must not be empty")
	}
	if c.Newsletter.Timezone != "" {
		if _, err := time.LoadLocation(c.Newsletter.Timezone); err != nil {
			return fmt.Errorf("newsletter.timezone: %w", err)
		}
	}
	for _, field := range []struct{ path, raw string }{
		{"telegram.poll_timeout", c.Telegram.PollTimeout},
		{"newsletter.scan_window", c.Newsletter.ScanWindow},
		{"summarize.message_delay", c.Summarize.MessageDelay},
	} {
		if _, err := ParseDurationField(field.path, field.raw); err != nil {
			return err
		}
	}
	return nil
}

// ConsoleEnabled applies the "default true" rule for logging.console.
func (l LoggingConfig) ConsoleEnabled() bool {
	return l.Console == nil || *l.Console
}
