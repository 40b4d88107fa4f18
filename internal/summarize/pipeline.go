package summarize

import (
	"context"
	"fmt"
	"sync"

	"digestbot/internal/source"
	"digestbot/pkg/logx"
)

const (
	// DefaultBatchSize is the maximum number of posts per summarization batch.
	DefaultBatchSize = 10
	// DefaultConcurrency caps simultaneous summarization calls process-wide.
	DefaultConcurrency = 6
)

// Sink receives completed summaries strictly in batch order within a channel.
// Order across channels is not defined.
type Sink func(ctx context.Context, channel, summary string) error

// Pipeline fans a post set out into per-channel batches, summarizes them
// concurrently under a global concurrency cap, and emits each channel's
// summaries to the sink in batch-index order regardless of completion order.
type Pipeline struct {
	sum         Summarizer
	log         logx.Logger
	batchSize   int
	concurrency int
}

type PipelineConfig struct {
	BatchSize   int
	Concurrency int
}

func NewPipeline(sum Summarizer, cfg PipelineConfig, log logx.Logger) *Pipeline {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Pipeline{
		sum:         sum,
		log:         log,
		batchSize:   cfg.BatchSize,
		concurrency: cfg.Concurrency,
	}
}

// assembly is one channel's reassembly state: a sparse buffer of completed
// summaries plus the next batch index due at the sink. Guarded by mu so
// channels never block each other.
type assembly struct {
	mu     sync.Mutex
	buffer map[int]string
	next   int
	total  int
}

// Result reports one pipeline run.
type Result struct {
	Summaries []string // all produced summaries, one per batch, unordered
	Batches   int
	Failed    int
}

// Run processes all posts and blocks until every batch has resolved and every
// channel has drained to the sink. A failing batch contributes a placeholder
// summary at its index and never cancels sibling batches. Sink errors stop
// draining for that channel's current run of ready batches but are retried
// the next time an earlier batch lands (they stay buffered).
func (p *Pipeline) Run(ctx context.Context, posts []source.Post, keywords string, sink Sink) Result {
	batches := SplitBatches(posts, p.batchSize)
	if len(batches) == 0 {
		return Result{}
	}

	states := make(map[string]*assembly)
	for _, b := range batches {
		if _, ok := states[b.Channel]; !ok {
			states[b.Channel] = &assembly{buffer: make(map[int]string), next: 1, total: b.Total}
		}
	}

	p.log.Info("summarization run started",
		logx.Int("batches", len(batches)),
		logx.Int("channels", len(states)),
		logx.Int("concurrency", p.concurrency))

	sem := newSemaphore(p.concurrency)

	var (
		wg        sync.WaitGroup
		resMu     sync.Mutex
		summaries []string
		failed    int
	)

	for _, b := range batches {
		b := b
		wg.Add(1)
		go func() {
			defer wg.Done()

			sem.acquire()
			defer sem.release()

			summary, err := p.sum.Summarize(ctx, b, keywords)
			if err != nil {
				p.log.Error("batch summarization failed",
					logx.String("channel", b.Channel),
					logx.Int("batch", b.Index),
					logx.Int("total", b.Total),
					logx.Err(err))
				summary = fmt.Sprintf("⚠️ summarization failed for @%s batch %d/%d: %v",
					b.Channel, b.Index, b.Total, err)
			}

			resMu.Lock()
			summaries = append(summaries, summary)
			if err != nil {
				failed++
			}
			resMu.Unlock()

			p.bufferAndDrain(ctx, states[b.Channel], b, summary, sink)
		}()
	}

	wg.Wait()

	p.log.Info("summarization run finished",
		logx.Int("batches", len(batches)),
		logx.Int("failed", failed))
	return Result{Summaries: summaries, Batches: len(batches), Failed: failed}
}

// bufferAndDrain stores the finished summary at its batch index, then flushes
// every contiguous ready entry starting at the channel's next expected index.
// The worker that completes the currently-due batch is the one that drains;
// no separate coordinator is needed.
func (p *Pipeline) bufferAndDrain(ctx context.Context, st *assembly, b Batch, summary string, sink Sink) {
	st.mu.Lock()
	defer st.mu.Unlock()

	st.buffer[b.Index] = summary

	for st.next <= st.total {
		ready, ok := st.buffer[st.next]
		if !ok {
			return
		}
		if sink != nil {
			if err := sink(ctx, b.Channel, ready); err != nil {
				p.log.Error("summary delivery failed",
					logx.String("channel", b.Channel),
					logx.Int("batch", st.next),
					logx.Err(err))
				return
			}
		}
		delete(st.buffer, st.next)
		st.next++
		p.log.Debug("summary delivered in order",
			logx.String("channel", b.Channel),
			logx.Int("batch", st.next-1),
			logx.Int("total", st.total))
	}
}

// semaphore is a channel-based counting semaphore with tokens pre-filled up
// to the limit. The limit is fixed for the life of the semaphore.
type semaphore struct {
	ch chan struct{}
}

func newSemaphore(limit int) *semaphore {
	if limit <= 0 {
		limit = 1
	}
	s := &semaphore{ch: make(chan struct{}, limit)}
	for i := 0; i < limit; i++ {
		s.ch <- struct{}{}
	}
	return s
}

func (s *semaphore) acquire() { <-s.ch }

func (s *semaphore) release() {
	// Best-effort: never block on release.
	select {
	case s.ch <- struct{}{}:
	default:
	}
}
