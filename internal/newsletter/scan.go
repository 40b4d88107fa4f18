package newsletter

import (
	"context"
	"strings"

	"digestbot/internal/source"
	"digestbot/pkg/logx"
)

// TaggedPost is a scanned post together with the tag that selected it.
type TaggedPost struct {
	Post source.Post
	Tag  string
}

// dailyCache is a single-slot cache of the day's scan result.
// Valid only while its date stamp equals the current calendar date.
type dailyCache struct {
	date  string // "2006-01-02" in the service location
	posts []TaggedPost
}

func (s *Service) today() string {
	return s.now().In(s.loc).Format("2006-01-02")
}

// DailyPosts returns today's tagged posts, scanning the channels only when
// the cache is stale. Two same-day calls hit the source at most once; a day
// with zero tagged posts is cached like any other result.
func (s *Service) DailyPosts(ctx context.Context) ([]TaggedPost, error) {
	today := s.today()

	s.mu.Lock()
	if s.cache.date == today {
		posts := s.cache.posts
		s.mu.Unlock()
		s.log.Info("using cached daily posts", logx.Int("posts", len(posts)))
		return posts, nil
	}
	s.mu.Unlock()

	posts := s.scanChannels(ctx)

	s.mu.Lock()
	s.cache = dailyCache{date: today, posts: posts}
	s.mu.Unlock()

	s.log.Info("daily scan cache refreshed", logx.Int("posts", len(posts)))
	return posts, nil
}

// InvalidateCache drops the cached scan result, forcing the next
// DailyPosts call to rescan.
func (s *Service) InvalidateCache() {
	s.mu.Lock()
	s.cache = dailyCache{}
	s.mu.Unlock()
}

// scanChannels walks every configured channel and keeps posts matching one
// of the configured tags. One channel's failure never blocks the others.
func (s *Service) scanChannels(ctx context.Context) []TaggedPost {
	since := s.now().Add(-s.cfg.ScanWindow)

	var found []TaggedPost
	for _, channel := range s.cfg.Channels {
		posts, err := s.src.Fetch(ctx, channel, source.Filter{
			Limit: s.cfg.ScanLimit,
			Since: since,
		})
		if err != nil {
			s.log.Error("channel scan failed",
				logx.String("channel", channel),
				logx.Err(err))
			continue
		}
		for _, p := range posts {
			if p.Text == "" {
				continue
			}
			if tag := s.matchTag(p.Text); tag != "" {
				found = append(found, TaggedPost{Post: p, Tag: tag})
			}
		}
	}
	return found
}

// matchTag returns the first configured tag contained in text, or "".
func (s *Service) matchTag(text string) string {
	lower := strings.ToLower(text)
	for _, tag := range s.cfg.Tags {
		if tag == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(tag)) {
			return tag
		}
	}
	return ""
}

// rolloverIfNeeded resets per-day bookkeeping when the calendar date has
// changed since the last delivery cycle.
func (s *Service) rolloverIfNeeded() {
	today := s.today()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastDate != "" && s.lastDate != today {
		s.cache = dailyCache{}
		s.sentToday = make(map[int64]struct{})
		s.log.Info("date rollover: cleared sent flags and scan cache", logx.String("date", today))
	}
	s.lastDate = today
}

// ResetDay clears the sent-today flags and the scan cache unconditionally.
// Invoked by the midnight maintenance job; the scheduler loop's own
// rollover check stays as a backstop.
func (s *Service) ResetDay() {
	s.mu.Lock()
	s.cache = dailyCache{}
	s.sentToday = make(map[int64]struct{})
	s.mu.Unlock()
	s.log.Info("daily state reset")
}
