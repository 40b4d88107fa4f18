package newsletter

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"digestbot/internal/source"
	"digestbot/internal/storage"
	"digestbot/internal/summarize"
	"digestbot/internal/transport"
	"digestbot/pkg/logx"
)

const (
	// HourMin..HourMax bound the configurable delivery hour.
	HourMin = 9
	HourMax = 20
	// DefaultHour is assigned on subscribe and during legacy migration.
	DefaultHour = 12

	defaultScanWindow = 24 * time.Hour
	defaultScanLimit  = 20
	defaultChunkLimit = 4000
	defaultSendDelay  = 500 * time.Millisecond
)

type Config struct {
	// Channels are the channel names scanned for tagged posts.
	Channels []string
	// Tags select posts for the daily digest (case-insensitive substring).
	Tags []string

	Timezone string

	// ChunkLimit bounds one outgoing message; MessageDelay paces chunks.
	ChunkLimit   int
	MessageDelay time.Duration

	// ScanWindow and ScanLimit bound one channel scan.
	ScanWindow time.Duration
	ScanLimit  int
}

// Service owns subscriber state, the daily scan cache, and the personal
// delivery scheduler. Subscriber mutations are infrequent next to
// summarization traffic, so one coarse mutex guards them all.
type Service struct {
	cfg      Config
	loc      *time.Location
	log      logx.Logger
	src      source.Source
	pipeline *summarize.Pipeline
	adapter  transport.Adapter
	store    storage.Store

	mu        sync.Mutex
	hours     map[int64]int      // subscriber id -> delivery hour
	sentToday map[int64]struct{} // ids already delivered this date
	cache     dailyCache
	lastDate  string // calendar date observed by the previous cycle

	forceCh chan struct{}

	// now is swapped in tests; everything time-sensitive goes through it.
	now func() time.Time
}

func New(cfg Config, src source.Source, pipeline *summarize.Pipeline, adapter transport.Adapter, store storage.Store, log logx.Logger) (*Service, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.ChunkLimit <= 0 {
		cfg.ChunkLimit = defaultChunkLimit
	}
	if cfg.MessageDelay <= 0 {
		cfg.MessageDelay = defaultSendDelay
	}
	if cfg.ScanWindow <= 0 {
		cfg.ScanWindow = defaultScanWindow
	}
	if cfg.ScanLimit <= 0 {
		cfg.ScanLimit = defaultScanLimit
	}

	loc := time.Local
	if cfg.Timezone != "" {
		l, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			return nil, fmt.Errorf("newsletter timezone: %w", err)
		}
		loc = l
	}

	s := &Service{
		cfg:       cfg,
		loc:       loc,
		log:       log,
		src:       src,
		pipeline:  pipeline,
		adapter:   adapter,
		store:     store,
		hours:     make(map[int64]int),
		sentToday: make(map[int64]struct{}),
		forceCh:   make(chan struct{}, 1),
		now:       time.Now,
	}

	if err := s.loadSubscribers(context.Background()); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Service) loadSubscribers(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	recs, err := s.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("load subscribers: %w", err)
	}
	s.mu.Lock()
	for _, r := range recs {
		s.hours[r.ID] = clampHour(r.Hour)
	}
	s.mu.Unlock()
	s.log.Info("subscribers loaded", logx.Int("count", len(recs)))
	return nil
}

// Subscribe adds a user with the default delivery hour.
// Returns false if the user was already subscribed.
func (s *Service) Subscribe(ctx context.Context, userID int64) (bool, error) {
	s.mu.Lock()
	if _, ok := s.hours[userID]; ok {
		s.mu.Unlock()
		return false, nil
	}
	s.hours[userID] = DefaultHour
	s.mu.Unlock()

	if err := s.persist(ctx); err != nil {
		return true, err
	}
	s.log.Info("user subscribed", logx.Int64("user", userID))
	return true, nil
}

// Unsubscribe removes a user. Returns false if they were not subscribed.
func (s *Service) Unsubscribe(ctx context.Context, userID int64) (bool, error) {
	s.mu.Lock()
	if _, ok := s.hours[userID]; !ok {
		s.mu.Unlock()
		return false, nil
	}
	delete(s.hours, userID)
	delete(s.sentToday, userID)
	s.mu.Unlock()

	if err := s.persist(ctx); err != nil {
		return true, err
	}
	s.log.Info("user unsubscribed", logx.Int64("user", userID))
	return true, nil
}

// SetHour changes a subscriber's delivery hour.
// Returns false if the user is not subscribed or the hour is out of range.
func (s *Service) SetHour(ctx context.Context, userID int64, hour int) (bool, error) {
	if hour < HourMin || hour > HourMax {
		return false, nil
	}
	s.mu.Lock()
	if _, ok := s.hours[userID]; !ok {
		s.mu.Unlock()
		return false, nil
	}
	s.hours[userID] = hour
	s.mu.Unlock()

	if err := s.persist(ctx); err != nil {
		return true, err
	}
	s.log.Info("delivery hour updated", logx.Int64("user", userID), logx.Int("hour", hour))
	return true, nil
}

func (s *Service) IsSubscribed(userID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.hours[userID]
	return ok
}

// HourOf returns the subscriber's delivery hour, or DefaultHour if unknown.
func (s *Service) HourOf(userID int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if h, ok := s.hours[userID]; ok {
		return h
	}
	return DefaultHour
}

// Subscribers returns the current records sorted by id.
func (s *Service) Subscribers() []storage.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recordsLocked()
}

// ActiveHours returns the distinct delivery hours currently configured,
// ascending. Empty when there are no subscribers.
func (s *Service) ActiveHours() []int {
	s.mu.Lock()
	defer s.mu.Unlock()

	set := make(map[int]struct{})
	for _, h := range s.hours {
		if h >= HourMin && h <= HourMax {
			set[h] = struct{}{}
		}
	}
	out := make([]int, 0, len(set))
	for h := range set {
		out = append(out, h)
	}
	sort.Ints(out)
	return out
}

func (s *Service) persist(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	s.mu.Lock()
	recs := s.recordsLocked()
	s.mu.Unlock()

	if err := s.store.Save(ctx, recs); err != nil {
		return fmt.Errorf("save subscribers: %w", err)
	}
	return nil
}

func (s *Service) recordsLocked() []storage.Record {
	recs := make([]storage.Record, 0, len(s.hours))
	for id, h := range s.hours {
		recs = append(recs, storage.Record{ID: id, Hour: h})
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].ID < recs[j].ID })
	return recs
}

func clampHour(h int) int {
	if h < HourMin || h > HourMax {
		return DefaultHour
	}
	return h
}
