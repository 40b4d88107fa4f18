package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"digestbot/internal/config"
	"digestbot/internal/newsletter"
	"digestbot/internal/schedule"
	"digestbot/internal/source"
	"digestbot/internal/storage"
	"digestbot/internal/summarize"
	"digestbot/internal/transport/telegram"
	"digestbot/pkg/logx"
)

// App assembles the digest service: config, logging, storage, the
// Telegram adapter, the summarization pipeline and the delivery
// scheduler. Build once, then Start/Stop.
type App struct {
	mgr    *config.Manager
	logSvc *logx.Service
	log    logx.Logger

	store      storage.Store
	adapter    *telegram.Adapter
	Newsletter *newsletter.Service
	sched      *schedule.Service

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// Build wires every component from the loaded config. Nothing is
// started yet; Start owns the goroutines.
func Build(mgr *config.Manager) (*App, error) {
	cfg := mgr.Get()
	if cfg == nil {
		var err error
		cfg, err = mgr.Load()
		if err != nil {
			return nil, err
		}
	}

	logSvc, log := logx.New(logxConfig(cfg.Logging))
	mgr.SetLogger(log.With(logx.String("component", "config")))

	store, err := storage.Open(storage.Config{
		Driver: cfg.Storage.Driver,
		Path:   cfg.Storage.Path,
	}, log)
	if err != nil {
		logSvc.Close()
		return nil, fmt.Errorf("open storage: %w", err)
	}

	pollTimeout, _ := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	adapter, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
	}, log)
	if err != nil {
		closeStore(store, log)
		logSvc.Close()
		return nil, fmt.Errorf("telegram: %w", err)
	}

	src := source.NewWebSource(&http.Client{Timeout: 30 * time.Second}, log)

	summarizer := summarize.NewOpenAI(summarize.OpenAIConfig{
		APIKey: cfg.OpenAI.APIKey,
		Model:  cfg.OpenAI.Model,
	}, log)
	pipeline := summarize.NewPipeline(summarizer, summarize.PipelineConfig{
		BatchSize:   cfg.Summarize.BatchSize,
		Concurrency: cfg.Summarize.MaxConcurrent,
	}, log)

	scanWindow, _ := config.ParseDurationField("newsletter.scan_window", cfg.Newsletter.ScanWindow)
	msgDelay, _ := config.ParseDurationField("summarize.message_delay", cfg.Summarize.MessageDelay)
	nl, err := newsletter.New(newsletter.Config{
		Channels:     cfg.Newsletter.Channels,
		Tags:         cfg.Newsletter.Tags,
		Timezone:     cfg.Newsletter.Timezone,
		ChunkLimit:   cfg.Summarize.ChunkLimit,
		MessageDelay: msgDelay,
		ScanWindow:   scanWindow,
		ScanLimit:    cfg.Newsletter.ScanLimit,
	}, src, pipeline, adapter, store, log)
	if err != nil {
		closeStore(store, log)
		logSvc.Close()
		return nil, fmt.Errorf("newsletter: %w", err)
	}

	a := &App{
		mgr:        mgr,
		logSvc:     logSvc,
		log:        log,
		store:      store,
		adapter:    adapter,
		Newsletter: nl,
		sched:      schedule.New(schedule.Config{Timezone: cfg.Newsletter.Timezone}, log),
	}
	mgr.OnReload(a.applyReload)
	return a, nil
}

// Start launches the delivery loop, the maintenance cron and the
// config watcher. It returns immediately.
func (a *App) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	cfg := a.mgr.Get()

	a.sched.Start(runCtx)
	if err := a.sched.AddCron("daily-reset", "0 0 * * *", func(ctx context.Context) {
		a.Newsletter.ResetDay()
	}); err != nil {
		cancel()
		return err
	}
	if at := cfg.Newsletter.PrewarmAt; at != "" {
		if err := a.sched.AddDaily("digest-prewarm", at, a.prewarm); err != nil {
			cancel()
			return err
		}
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.Newsletter.Run(runCtx)
	}()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.mgr.Watch(runCtx); err != nil {
			a.log.Warn("config watcher stopped", logx.Err(err))
		}
	}()

	// SIGUSR1 forces an immediate scan-and-deliver pass.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGUSR1)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer signal.Stop(sigCh)
		for {
			select {
			case <-runCtx.Done():
				return
			case <-sigCh:
				a.log.Info("received SIGUSR1, forcing scan")
				a.Newsletter.ForceScan()
			}
		}
	}()

	a.log.Info("digestbot started",
		logx.Int("channels", len(cfg.Newsletter.Channels)),
		logx.Int("subscribers", len(a.Newsletter.Subscribers())))
	return nil
}

// Stop shuts everything down in reverse start order.
func (a *App) Stop(ctx context.Context) {
	if a.cancel != nil {
		a.cancel()
	}
	a.wg.Wait()

	a.sched.Stop(ctx)
	if err := a.adapter.Stop(ctx); err != nil {
		a.log.Warn("telegram stop", logx.Err(err))
	}
	closeStore(a.store, a.log)
	a.log.Info("digestbot stopped")
	a.logSvc.Close()
}

// prewarm refreshes the daily cache ahead of the first delivery hour so
// subscribers at the edge of the window get a fast send.
func (a *App) prewarm(ctx context.Context) {
	a.Newsletter.InvalidateCache()
	posts, err := a.Newsletter.DailyPosts(ctx)
	if err != nil {
		a.log.Warn("prewarm scan failed", logx.Err(err))
		return
	}
	a.log.Info("daily cache prewarmed", logx.Int("posts", len(posts)))
}

func (a *App) applyReload(cfg *config.Config) {
	a.logSvc.Apply(logxConfig(cfg.Logging))
	a.log.Info("logging config reapplied", logx.String("level", cfg.Logging.Level))
}

func logxConfig(l config.LoggingConfig) logx.Config {
	return logx.Config{
		Level:   l.Level,
		Console: l.ConsoleEnabled(),
		File: logx.FileConfig{
			Enabled: l.File.Enabled,
			Path:    l.File.Path,
		},
	}
}

func closeStore(store storage.Store, log logx.Logger) {
	if store == nil {
		return
	}
	if err := store.Close(); err != nil {
		log.Warn("storage close", logx.Err(err))
	}
}
