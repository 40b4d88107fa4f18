package storage

import (
	"context"
	"errors"
	"strings"

	"digestbot/pkg/logx"
)

var ErrDisabled = errors.New("storage disabled")

// Record is one subscriber's durable state.
type Record struct {
	ID   int64 `json:"id"`
	Hour int   `json:"newsletter_time"`
}

// Config configures subscriber persistence.
//
// Driver values:
//   - "file": JSON file backend (migrates the legacy flat-list format)
//   - "sqlite": SQLite database file
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver string
	Path   string
}

// Store is the minimal persistence API for subscriber records.
// Load is called once at startup; Save replaces the full record set after
// every subscription mutation.
type Store interface {
	Load(ctx context.Context) ([]Record, error)
	Save(ctx context.Context, recs []Record) error
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
