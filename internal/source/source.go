package source

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Post is a single channel message as returned by a Source.
// Immutable once produced.
type Post struct {
	Channel   string
	Text      string
	Date      time.Time
	Views     int
	MessageID int
	URL       string
}

// Filter narrows a channel fetch.
//
// Limit bounds the number of posts returned (0 means source default).
// Keywords, when non-empty, keeps only posts containing at least one
// keyword (case-insensitive substring match).
// Since, when non-zero, drops posts older than the given instant.
type Filter struct {
	Limit    int
	Keywords []string
	Since    time.Time
}

// ErrUnavailable marks a channel that cannot be read at all
// (private, deleted, or the preview endpoint refused the request).
var ErrUnavailable = errors.New("channel unavailable")

// Source fetches posts for a single channel, newest first.
//
// Implementations must not guarantee any ordering beyond "newest first as
// published"; callers that need deterministic sequencing key off their own
// indices, not timestamps.
type Source interface {
	Fetch(ctx context.Context, channel string, f Filter) ([]Post, error)
}

func matchKeywords(textLower string, keywords []string) bool {
	if len(keywords) == 0 {
		return true
	}
	for _, kw := range keywords {
		if kw == "" {
			continue
		}
		if strings.Contains(textLower, kw) {
			return true
		}
	}
	return false
}
