package source

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"digestbot/pkg/logx"
)

const (
	previewBaseURL   = "https://t.me/s"
	defaultFetchCap  = 20
	defaultUserAgent = "Mozilla/5.0 (compatible; digestbot/1.0)"
)

// WebSource reads public channels through their t.me/s preview pages.
// It needs no API credentials but only sees channels with a public preview.
type WebSource struct {
	client *http.Client
	log    logx.Logger
}

func NewWebSource(client *http.Client, log logx.Logger) *WebSource {
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &WebSource{client: client, log: log}
}

// Fetch returns the channel's visible posts, newest first, after applying f.
func (s *WebSource) Fetch(ctx context.Context, channel string, f Filter) ([]Post, error) {
	channel = strings.TrimPrefix(strings.TrimSpace(channel), "@")
	if channel == "" {
		return nil, fmt.Errorf("%w: empty channel name", ErrUnavailable)
	}

	doc, err := s.fetchDocument(ctx, previewBaseURL+"/"+url.PathEscape(channel))
	if err != nil {
		return nil, err
	}

	limit := f.Limit
	if limit <= 0 {
		limit = defaultFetchCap
	}
	keywords := lowerAll(f.Keywords)

	var posts []Post
	doc.Find("div.tgme_widget_message_wrap").Each(func(_ int, sel *goquery.Selection) {
		p, ok := parseMessage(channel, sel)
		if !ok {
			return
		}
		if !f.Since.IsZero() && p.Date.Before(f.Since) {
			return
		}
		if !matchKeywords(strings.ToLower(p.Text), keywords) {
			return
		}
		posts = append(posts, p)
	})

	// The preview page lists oldest first; callers expect newest first.
	for i, j := 0, len(posts)-1; i < j; i, j = i+1, j-1 {
		posts[i], posts[j] = posts[j], posts[i]
	}
	if len(posts) > limit {
		posts = posts[:limit]
	}

	s.log.Debug("channel fetched",
		logx.String("channel", channel),
		logx.Int("posts", len(posts)))
	return posts, nil
}

func (s *WebSource) fetchDocument(ctx context.Context, pageURL string) (*goquery.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("User-Agent", defaultUserAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", pageURL, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w: %s returned %s", ErrUnavailable, pageURL, resp.Status)
	default:
		return nil, fmt.Errorf("fetch %s: unexpected status %s", pageURL, resp.Status)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", pageURL, err)
	}
	return doc, nil
}

func parseMessage(channel string, sel *goquery.Selection) (Post, bool) {
	text := strings.TrimSpace(sel.Find("div.tgme_widget_message_text").First().Text())
	if text == "" {
		return Post{}, false
	}

	p := Post{Channel: channel, Text: text}

	if link, ok := sel.Find("a.tgme_widget_message_date").First().Attr("href"); ok {
		p.URL = link
		if idx := strings.LastIndexByte(link, '/'); idx >= 0 {
			p.MessageID, _ = strconv.Atoi(link[idx+1:])
		}
	}
	if raw, ok := sel.Find("a.tgme_widget_message_date time").First().Attr("datetime"); ok {
		if ts, err := time.Parse(time.RFC3339, raw); err == nil {
			p.Date = ts
		}
	}
	views := strings.TrimSpace(sel.Find("span.tgme_widget_message_views").First().Text())
	p.Views = parseViews(views)

	return p, true
}

// parseViews handles telegram's abbreviated counters like "1.2K" and "3M".
func parseViews(s string) int {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	mult := 1.0
	switch {
	case strings.HasSuffix(s, "K"):
		mult, s = 1e3, strings.TrimSuffix(s, "K")
	case strings.HasSuffix(s, "M"):
		mult, s = 1e6, strings.TrimSuffix(s, "M")
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return int(v * mult)
}

func lowerAll(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.ToLower(strings.TrimSpace(s))
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
