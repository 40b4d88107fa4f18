package schedule

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"digestbot/pkg/logx"
)

type Config struct {
	Timezone string // IANA TZ, e.g. "Asia/Jerusalem"
}

// Service is a thin cron wrapper for time-of-day maintenance jobs
// (cache prewarm, midnight reset). It is deliberately minimal: the
// personal delivery scheduler has its own loop and does not run here.
type Service struct {
	mu sync.Mutex

	log logx.Logger
	cfg Config

	parser cron.Parser
	c      *cron.Cron
}

func New(cfg Config, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:    cfg,
		log:    log,
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	loc := s.loadLocationLocked()
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(loc))
	s.c.Start()
	s.log.Info("maintenance schedule started", logx.String("tz", loc.String()))
	_ = ctx
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c == nil {
		return
	}
	stopCtx := s.c.Stop()
	select {
	case <-stopCtx.Done():
	case <-ctx.Done():
	}
	s.c = nil
	s.log.Info("maintenance schedule stopped")
}

// AddCron registers a job under a raw cron spec.
func (s *Service) AddCron(name, spec string, job func(ctx context.Context)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c == nil {
		return errors.New("schedule not started")
	}
	_, err := s.c.AddFunc(spec, func() {
		start := time.Now()
		job(context.Background())
		s.log.Debug("maintenance job finished",
			logx.String("job", name),
			logx.Duration("took", time.Since(start)))
	})
	if err != nil {
		return fmt.Errorf("add job %q: %w", name, err)
	}
	s.log.Info("maintenance job registered", logx.String("job", name), logx.String("spec", spec))
	return nil
}

// AddDaily registers a job at HH:MM every day in the schedule timezone.
func (s *Service) AddDaily(name, atHHMM string, job func(ctx context.Context)) error {
	h, m, err := parseHHMM(atHHMM)
	if err != nil {
		return err
	}
	return s.AddCron(name, fmt.Sprintf("%d %d * * *", m, h), job)
}

func (s *Service) loadLocationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone, falling back to Local",
			logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

func parseHHMM(s string) (int, int, error) {
	parts := strings.SplitN(strings.TrimSpace(s), ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid HH:MM value %q", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h, m, nil
}
