package newsletter

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/time/rate"

	"digestbot/internal/source"
	"digestbot/internal/transport"
	"digestbot/pkg/logx"
	"digestbot/pkg/textkit"
)

// deliverTo runs the summarization pipeline for one subscriber and streams
// the ordered summaries to them. A permanent transport failure unsubscribes
// the recipient; transient failures are logged and delivery continues.
func (s *Service) deliverTo(ctx context.Context, userID int64, posts []TaggedPost) error {
	limiter := rate.NewLimiter(rate.Every(s.cfg.MessageDelay), 1)
	target := transport.ChatTarget{ChatID: userID}
	keywords := strings.Join(s.cfg.Tags, ", ")

	header := fmt.Sprintf("📢 Your daily digest (%02d:00):", s.HourOf(userID))
	if err := s.sendChunked(ctx, limiter, target, header); err != nil {
		return s.handleSendErr(ctx, userID, err)
	}

	flat := make([]source.Post, 0, len(posts))
	for _, tp := range posts {
		flat = append(flat, tp.Post)
	}

	// Sinks for different channels may run concurrently; guard the
	// first-failure slot.
	var (
		sendMu  sync.Mutex
		sendErr error
	)
	res := s.pipeline.Run(ctx, flat, keywords, func(ctx context.Context, channel, summary string) error {
		text := fmt.Sprintf("📺 @%s\n\n%s", channel, summary)
		if err := s.sendChunked(ctx, limiter, target, text); err != nil {
			sendMu.Lock()
			if sendErr == nil {
				sendErr = err
			}
			sendMu.Unlock()
			return err
		}
		return nil
	})

	s.log.Info("digest delivered",
		logx.Int64("user", userID),
		logx.Int("batches", res.Batches),
		logx.Int("failed", res.Failed))

	if sendErr != nil {
		return s.handleSendErr(ctx, userID, sendErr)
	}
	return nil
}

// sendChunked splits text at line boundaries and paces the chunks so the
// transport's rate limits are respected.
func (s *Service) sendChunked(ctx context.Context, limiter *rate.Limiter, to transport.ChatTarget, text string) error {
	for _, chunk := range textkit.SplitLines(text, s.cfg.ChunkLimit) {
		if err := limiter.Wait(ctx); err != nil {
			return err
		}
		if err := s.adapter.SendText(ctx, to, chunk, &transport.SendOptions{DisablePreview: true}); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) handleSendErr(ctx context.Context, userID int64, err error) error {
	if transport.IsPermanent(err) {
		s.log.Warn("recipient unreachable, unsubscribing",
			logx.Int64("user", userID),
			logx.Err(err))
		if _, uerr := s.Unsubscribe(ctx, userID); uerr != nil {
			s.log.Error("unsubscribe after permanent failure failed",
				logx.Int64("user", userID),
				logx.Err(uerr))
		}
		return err
	}
	s.log.Warn("delivery failed (transient)",
		logx.Int64("user", userID),
		logx.Err(err))
	return err
}

// deliverDue sends today's digest to every subscriber whose hour equals the
// current hour and who has not received one today, then marks them sent.
func (s *Service) deliverDue(ctx context.Context, posts []TaggedPost) {
	hour := s.now().In(s.loc).Hour()

	s.mu.Lock()
	var due []int64
	for id, h := range s.hours {
		if h != hour {
			continue
		}
		if _, sent := s.sentToday[id]; sent {
			continue
		}
		due = append(due, id)
	}
	s.mu.Unlock()

	if len(due) == 0 {
		s.log.Info("no deliveries due", logx.Int("hour", hour))
		return
	}
	s.log.Info("delivering digests", logx.Int("hour", hour), logx.Int("users", len(due)))

	for _, id := range due {
		if err := s.deliverTo(ctx, id, posts); err != nil && transport.IsPermanent(err) {
			continue // already unsubscribed, nothing to mark
		}
		s.mu.Lock()
		s.sentToday[id] = struct{}{}
		s.mu.Unlock()
	}
}

// ForceRun scans immediately and delivers the result to every subscriber,
// bypassing both the per-day dedup and the hour match. Operator action.
func (s *Service) ForceRun(ctx context.Context) error {
	s.log.Info("forced scan requested")
	s.InvalidateCache()

	posts, err := s.DailyPosts(ctx)
	if err != nil {
		return err
	}
	if len(posts) == 0 {
		s.log.Info("forced scan found no tagged posts")
		return nil
	}

	s.mu.Lock()
	ids := make([]int64, 0, len(s.hours))
	for id := range s.hours {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	for _, id := range ids {
		_ = s.deliverTo(ctx, id, posts)
	}
	return nil
}
