package newsletter

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"digestbot/internal/source"
	"digestbot/internal/storage"
	"digestbot/internal/summarize"
	"digestbot/internal/transport"
	"digestbot/pkg/logx"
)

// fakeSource counts fetches and serves a fixed post set per channel.
type fakeSource struct {
	mu      sync.Mutex
	fetches int
	posts   map[string][]source.Post
	fail    map[string]bool
}

func (f *fakeSource) Fetch(_ context.Context, channel string, _ source.Filter) ([]source.Post, error) {
	f.mu.Lock()
	f.fetches++
	f.mu.Unlock()
	if f.fail[channel] {
		return nil, fmt.Errorf("%w: %s", source.ErrUnavailable, channel)
	}
	return f.posts[channel], nil
}

func (f *fakeSource) fetchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetches
}

// fakeAdapter records sends and can simulate a permanently gone recipient.
type fakeAdapter struct {
	mu    sync.Mutex
	sends map[int64][]string
	gone  map[int64]bool
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{sends: make(map[int64][]string), gone: make(map[int64]bool)}
}

func (f *fakeAdapter) SendText(_ context.Context, to transport.ChatTarget, text string, _ *transport.SendOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.gone[to.ChatID] {
		return fmt.Errorf("%w: chat %d", transport.ErrRecipientGone, to.ChatID)
	}
	f.sends[to.ChatID] = append(f.sends[to.ChatID], text)
	return nil
}

func (f *fakeAdapter) Stop(context.Context) error { return nil }

func (f *fakeAdapter) sendCount(id int64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sends[id])
}

// memStore is an in-memory storage.Store.
type memStore struct {
	mu    sync.Mutex
	recs  []storage.Record
	saves int
}

func (m *memStore) Load(context.Context) ([]storage.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]storage.Record(nil), m.recs...), nil
}

func (m *memStore) Save(_ context.Context, recs []storage.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs = append([]storage.Record(nil), recs...)
	m.saves++
	return nil
}

func (m *memStore) Close() error { return nil }

// echoSummarizer returns a deterministic summary without external calls.
type echoSummarizer struct{}

func (echoSummarizer) Summarize(_ context.Context, b summarize.Batch, _ string) (string, error) {
	return fmt.Sprintf("summary %s#%d", b.Channel, b.Index), nil
}

func newTestService(t *testing.T, src source.Source, adapter transport.Adapter, store storage.Store) *Service {
	t.Helper()
	pipe := summarize.NewPipeline(echoSummarizer{}, summarize.PipelineConfig{BatchSize: 2, Concurrency: 2}, logx.Nop())
	svc, err := New(Config{
		Channels:     []string{"law", "banking"},
		Tags:         []string{"taxes", "visa"},
		Timezone:     "UTC",
		MessageDelay: time.Millisecond,
	}, src, pipe, adapter, store, logx.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return svc
}

func taggedPosts(src *fakeSource) {
	src.posts = map[string][]source.Post{
		"law":     {{Channel: "law", Text: "new rules on taxes", Date: time.Now()}},
		"banking": {{Channel: "banking", Text: "visa requirements changed", Date: time.Now()}},
	}
}

func TestSubscribeLifecycle(t *testing.T) {
	t.Parallel()
	store := &memStore{}
	svc := newTestService(t, &fakeSource{}, newFakeAdapter(), store)
	ctx := context.Background()

	ok, err := svc.Subscribe(ctx, 42)
	if err != nil || !ok {
		t.Fatalf("Subscribe = (%v, %v)", ok, err)
	}
	if ok, _ := svc.Subscribe(ctx, 42); ok {
		t.Fatal("double subscribe should report false")
	}
	if got := svc.HourOf(42); got != DefaultHour {
		t.Fatalf("default hour = %d, want %d", got, DefaultHour)
	}

	if ok, _ := svc.SetHour(ctx, 42, 18); !ok {
		t.Fatal("SetHour in range should succeed")
	}
	if ok, _ := svc.SetHour(ctx, 42, 23); ok {
		t.Fatal("SetHour out of range should be rejected")
	}
	if ok, _ := svc.SetHour(ctx, 99, 10); ok {
		t.Fatal("SetHour for unknown user should be rejected")
	}

	hours := svc.ActiveHours()
	if len(hours) != 1 || hours[0] != 18 {
		t.Fatalf("ActiveHours = %v, want [18]", hours)
	}

	if ok, _ := svc.Unsubscribe(ctx, 42); !ok {
		t.Fatal("Unsubscribe should succeed")
	}
	if svc.IsSubscribed(42) {
		t.Fatal("still subscribed after Unsubscribe")
	}
	if store.saves < 3 {
		t.Fatalf("expected a save per mutation, got %d", store.saves)
	}
}

func TestLoadClampsOutOfRangeHours(t *testing.T) {
	t.Parallel()
	store := &memStore{recs: []storage.Record{{ID: 1, Hour: 99}, {ID: 2, Hour: 15}}}
	svc := newTestService(t, &fakeSource{}, newFakeAdapter(), store)

	if got := svc.HourOf(1); got != DefaultHour {
		t.Fatalf("out-of-range hour not clamped: %d", got)
	}
	if got := svc.HourOf(2); got != 15 {
		t.Fatalf("valid hour altered: %d", got)
	}
}

func TestDailyPostsCachesSameDay(t *testing.T) {
	t.Parallel()
	src := &fakeSource{}
	taggedPosts(src)
	svc := newTestService(t, src, newFakeAdapter(), nil)

	ctx := context.Background()
	first, err := svc.DailyPosts(ctx)
	if err != nil {
		t.Fatalf("DailyPosts: %v", err)
	}
	if len(first) != 2 {
		t.Fatalf("expected 2 tagged posts, got %d", len(first))
	}
	after := src.fetchCount()

	second, err := svc.DailyPosts(ctx)
	if err != nil {
		t.Fatalf("DailyPosts: %v", err)
	}
	if src.fetchCount() != after {
		t.Fatal("second same-day call must not hit the source")
	}
	if len(second) != len(first) {
		t.Fatalf("cached result differs: %d vs %d", len(second), len(first))
	}
}

func TestDailyPostsCachesEmptyDay(t *testing.T) {
	t.Parallel()
	src := &fakeSource{posts: map[string][]source.Post{
		"law": {{Channel: "law", Text: "nothing of interest", Date: time.Now()}},
	}}
	svc := newTestService(t, src, newFakeAdapter(), nil)

	ctx := context.Background()
	posts, err := svc.DailyPosts(ctx)
	if err != nil {
		t.Fatalf("DailyPosts: %v", err)
	}
	if len(posts) != 0 {
		t.Fatalf("expected no tagged posts, got %d", len(posts))
	}
	after := src.fetchCount()

	// A day without tagged posts is still a completed scan; the second call
	// must serve the empty result from cache.
	if _, err := svc.DailyPosts(ctx); err != nil {
		t.Fatalf("DailyPosts: %v", err)
	}
	if src.fetchCount() != after {
		t.Fatal("second same-day call re-scanned despite empty cached result")
	}
}

func TestScanIsolatesChannelFailure(t *testing.T) {
	t.Parallel()
	src := &fakeSource{fail: map[string]bool{"law": true}}
	taggedPosts(src)
	svc := newTestService(t, src, newFakeAdapter(), nil)

	posts, err := svc.DailyPosts(context.Background())
	if err != nil {
		t.Fatalf("DailyPosts: %v", err)
	}
	if len(posts) != 1 || posts[0].Post.Channel != "banking" {
		t.Fatalf("expected only banking posts, got %#v", posts)
	}
}

func TestDeliverDueOncePerDay(t *testing.T) {
	t.Parallel()
	src := &fakeSource{}
	taggedPosts(src)
	adapter := newFakeAdapter()
	svc := newTestService(t, src, adapter, nil)
	ctx := context.Background()

	if _, err := svc.Subscribe(ctx, 7); err != nil {
		t.Fatal(err)
	}
	fixed := time.Date(2026, 8, 30, DefaultHour, 5, 0, 0, time.UTC)
	svc.now = func() time.Time { return fixed }

	posts, _ := svc.DailyPosts(ctx)

	svc.deliverDue(ctx, posts)
	count := adapter.sendCount(7)
	if count == 0 {
		t.Fatal("expected a delivery")
	}

	// Second fire within the same hour must be a no-op.
	svc.deliverDue(ctx, posts)
	if adapter.sendCount(7) != count {
		t.Fatal("subscriber delivered twice in one day")
	}
}

func TestDeliverDueSkipsOtherHours(t *testing.T) {
	t.Parallel()
	src := &fakeSource{}
	taggedPosts(src)
	adapter := newFakeAdapter()
	svc := newTestService(t, src, adapter, nil)
	ctx := context.Background()

	_, _ = svc.Subscribe(ctx, 7)
	_, _ = svc.SetHour(ctx, 7, 18)
	svc.now = func() time.Time {
		return time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	}

	posts, _ := svc.DailyPosts(ctx)
	svc.deliverDue(ctx, posts)
	if adapter.sendCount(7) != 0 {
		t.Fatal("delivered outside the subscriber's hour")
	}
}

func TestPermanentFailureUnsubscribes(t *testing.T) {
	t.Parallel()
	src := &fakeSource{}
	taggedPosts(src)
	adapter := newFakeAdapter()
	adapter.gone[7] = true
	store := &memStore{}
	svc := newTestService(t, src, adapter, store)
	ctx := context.Background()

	_, _ = svc.Subscribe(ctx, 7)
	fixed := time.Date(2026, 8, 30, DefaultHour, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return fixed }

	posts, _ := svc.DailyPosts(ctx)
	svc.deliverDue(ctx, posts)

	if svc.IsSubscribed(7) {
		t.Fatal("permanently unreachable subscriber must be removed")
	}
	recs, _ := store.Load(ctx)
	if len(recs) != 0 {
		t.Fatalf("removal not persisted: %#v", recs)
	}
}

func TestDateRolloverResetsSentFlags(t *testing.T) {
	t.Parallel()
	src := &fakeSource{}
	taggedPosts(src)
	adapter := newFakeAdapter()
	svc := newTestService(t, src, adapter, nil)
	ctx := context.Background()

	_, _ = svc.Subscribe(ctx, 7)
	day1 := time.Date(2026, 8, 30, DefaultHour, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return day1 }

	svc.rolloverIfNeeded()
	posts, _ := svc.DailyPosts(ctx)
	svc.deliverDue(ctx, posts)
	sent := adapter.sendCount(7)
	if sent == 0 {
		t.Fatal("expected day-1 delivery")
	}

	// Next day: flags cleared, cache invalid, delivery happens again.
	day2 := day1.AddDate(0, 0, 1)
	svc.now = func() time.Time { return day2 }
	svc.rolloverIfNeeded()

	fetches := src.fetchCount()
	posts, _ = svc.DailyPosts(ctx)
	if src.fetchCount() == fetches {
		t.Fatal("cache must be stale after rollover")
	}
	svc.deliverDue(ctx, posts)
	if adapter.sendCount(7) <= sent {
		t.Fatal("expected day-2 delivery after rollover")
	}
}

func TestDeliverKeepsChannelOrder(t *testing.T) {
	t.Parallel()
	src := &fakeSource{posts: map[string][]source.Post{
		"law": {
			{Channel: "law", Text: "taxes one"},
			{Channel: "law", Text: "taxes two"},
			{Channel: "law", Text: "taxes three"},
			{Channel: "law", Text: "taxes four"},
			{Channel: "law", Text: "taxes five"},
		},
	}}
	adapter := newFakeAdapter()
	svc := newTestService(t, src, adapter, nil)
	ctx := context.Background()

	_, _ = svc.Subscribe(ctx, 7)
	posts, _ := svc.DailyPosts(ctx)
	if err := svc.deliverTo(ctx, 7, posts); err != nil {
		t.Fatalf("deliverTo: %v", err)
	}

	// Batch size 2 -> 3 law batches; summaries must arrive as #1, #2, #3.
	var idx []int
	adapter.mu.Lock()
	for _, msg := range adapter.sends[7] {
		for i := 1; i <= 3; i++ {
			if strings.Contains(msg, fmt.Sprintf("summary law#%d", i)) {
				idx = append(idx, i)
			}
		}
	}
	adapter.mu.Unlock()
	if len(idx) != 3 {
		t.Fatalf("expected 3 batch summaries, got %v", idx)
	}
	for i, v := range idx {
		if v != i+1 {
			t.Fatalf("summaries out of order: %v", idx)
		}
	}
}
