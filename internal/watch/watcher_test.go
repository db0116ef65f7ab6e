package watch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/robfig/cron/v3"

	"mentionbot/internal/eventbus"
	"mentionbot/internal/registry"
	"mentionbot/pkg/logx"
)

type fakeTargets struct {
	mu   sync.Mutex
	list []registry.Target
}

func (f *fakeTargets) ListSource(source string) []registry.Target {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []registry.Target
	for _, t := range f.list {
		if t.Source == source {
			out = append(out, t)
		}
	}
	return out
}

func (f *fakeTargets) Remove(_ context.Context, source, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, t := range f.list {
		if t.Source == source && t.ID == id {
			f.list = append(f.list[:i], f.list[i+1:]...)
			return nil
		}
	}
	return registry.ErrNotFound
}

type fakeKeywords struct{ vals []string }

func (f *fakeKeywords) Values() []string { return append([]string(nil), f.vals...) }

type fakeClient struct {
	mu    sync.Mutex
	items map[string][]Item
	err   error
	calls int
}

func (f *fakeClient) Source() string { return "reddit" }

func (f *fakeClient) Fetch(_ context.Context, targetID string) ([]Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.items[targetID], nil
}

type fakeSink struct {
	mu     sync.Mutex
	events []MatchEvent
}

func (f *fakeSink) Enqueue(ev MatchEvent) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return true
}

func (f *fakeSink) keywords() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.events))
	for i, ev := range f.events {
		out[i] = ev.Keyword
	}
	return out
}

func newTestWatcher(cfg Config, client PollClient, targets TargetSet, keywords KeywordSet, sink Sink) *Watcher {
	if cfg.Source == "" {
		cfg.Source = "reddit"
	}
	if cfg.Schedule == nil {
		cfg.Schedule = cron.Every(time.Hour)
	}
	return New(cfg, client, targets, keywords, NewCursors(nil, 50), sink, nil, logx.Nop())
}

func TestCycleEmitsOncePerItem(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	targets := &fakeTargets{list: []registry.Target{{Source: "reddit", ID: "golang", Label: "r/golang"}}}
	client := &fakeClient{items: map[string][]Item{
		"golang": {
			{ID: "p1", Content: "Bitcoin just moved"},
			{ID: "p2", Content: "nothing relevant"},
		},
	}}
	sink := &fakeSink{}
	w := newTestWatcher(Config{Dedup: DedupSeen}, client, targets, &fakeKeywords{vals: []string{"bitcoin"}}, sink)

	if err := w.cycle(ctx); err != nil {
		t.Fatalf("cycle error: %v", err)
	}
	if got := sink.keywords(); len(got) != 1 || got[0] != "bitcoin" {
		t.Fatalf("events after first cycle = %v, want [bitcoin]", got)
	}

	// Same items fetched again: the recency set suppresses them.
	if err := w.cycle(ctx); err != nil {
		t.Fatalf("cycle error: %v", err)
	}
	if got := sink.keywords(); len(got) != 1 {
		t.Fatalf("events after second cycle = %v, want no new events", got)
	}
}

func TestCycleWatermarkPrimesOnFirstPass(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	targets := &fakeTargets{list: []registry.Target{{Source: "reddit", ID: "golang", Label: "r/golang"}}}
	client := &fakeClient{items: map[string][]Item{
		"golang": {{ID: "old", At: t0, Content: "bitcoin backlog post"}},
	}}
	sink := &fakeSink{}
	w := newTestWatcher(Config{Dedup: DedupWatermark}, client, targets, &fakeKeywords{vals: []string{"bitcoin"}}, sink)

	if err := w.cycle(ctx); err != nil {
		t.Fatalf("cycle error: %v", err)
	}
	if got := sink.keywords(); len(got) != 0 {
		t.Fatalf("priming cycle emitted %v, want nothing", got)
	}

	client.mu.Lock()
	client.items["golang"] = []Item{
		{ID: "old", At: t0, Content: "bitcoin backlog post"},
		{ID: "new", At: t0.Add(time.Minute), Content: "fresh bitcoin news"},
	}
	client.mu.Unlock()

	if err := w.cycle(ctx); err != nil {
		t.Fatalf("cycle error: %v", err)
	}
	got := sink.keywords()
	if len(got) != 1 || got[0] != "bitcoin" {
		t.Fatalf("events after second cycle = %v, want exactly the fresh item's match", got)
	}
}

func TestCycleWatermarkKeepsSameTimestampBatch(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	targets := &fakeTargets{list: []registry.Target{{Source: "reddit", ID: "golang", Label: "r/golang"}}}
	client := &fakeClient{items: map[string][]Item{
		"golang": {{ID: "seed", At: t0, Content: "old post"}},
	}}
	sink := &fakeSink{}
	w := newTestWatcher(Config{Dedup: DedupWatermark}, client, targets, &fakeKeywords{vals: []string{"bitcoin"}}, sink)

	if err := w.cycle(ctx); err != nil {
		t.Fatalf("priming cycle error: %v", err)
	}

	// Two distinct new items sharing one publication second: both must
	// alert, the first must not mask the second.
	t1 := t0.Add(time.Minute)
	client.mu.Lock()
	client.items["golang"] = []Item{
		{ID: "a", At: t1, Content: "bitcoin item one"},
		{ID: "b", At: t1, Content: "bitcoin item two"},
	}
	client.mu.Unlock()

	if err := w.cycle(ctx); err != nil {
		t.Fatalf("cycle error: %v", err)
	}
	if got := sink.keywords(); len(got) != 2 {
		t.Fatalf("distinct same-timestamp items emitted %d events (%v), want 2", len(got), got)
	}

	// A third cycle fetching the same batch emits nothing new.
	if err := w.cycle(ctx); err != nil {
		t.Fatalf("cycle error: %v", err)
	}
	if got := sink.keywords(); len(got) != 2 {
		t.Fatalf("repeated batch emitted extra events: %v", got)
	}
}

func TestCycleSkipsFetchWithoutKeywords(t *testing.T) {
	t.Parallel()
	targets := &fakeTargets{list: []registry.Target{{Source: "reddit", ID: "golang"}}}
	client := &fakeClient{}
	w := newTestWatcher(Config{}, client, targets, &fakeKeywords{}, &fakeSink{})

	if err := w.cycle(context.Background()); err != nil {
		t.Fatalf("cycle error: %v", err)
	}
	if client.calls != 0 {
		t.Fatalf("Fetch called %d times with an empty keyword set, want 0", client.calls)
	}
}

func TestCycleDropsTargetAfterRepeatedUnavailable(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	targets := &fakeTargets{list: []registry.Target{{Source: "reddit", ID: "gone"}}}
	client := &fakeClient{err: TargetUnavailable("gone", errors.New("404"))}
	w := newTestWatcher(Config{MaxTargetFailures: 3}, client, targets, &fakeKeywords{vals: []string{"x"}}, &fakeSink{})

	for i := 0; i < 2; i++ {
		if err := w.cycle(ctx); err != nil {
			t.Fatalf("cycle %d error: %v", i, err)
		}
		if len(targets.ListSource("reddit")) != 1 {
			t.Fatalf("target dropped after %d failures, want it kept until the threshold", i+1)
		}
	}
	if err := w.cycle(ctx); err != nil {
		t.Fatalf("cycle error: %v", err)
	}
	if len(targets.ListSource("reddit")) != 0 {
		t.Fatal("target should be dropped after the third consecutive failure")
	}
}

func TestCycleClassifiesErrors(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	targets := &fakeTargets{list: []registry.Target{{Source: "reddit", ID: "golang"}}}
	kw := &fakeKeywords{vals: []string{"x"}}

	transient := &fakeClient{err: errors.New("timeout")}
	w := newTestWatcher(Config{}, transient, targets, kw, &fakeSink{})
	err := w.cycle(ctx)
	var te *TransientError
	if !errors.As(err, &te) {
		t.Fatalf("unclassified fetch error = %v, want it wrapped transient", err)
	}

	fatal := &fakeClient{err: Fatal(errors.New("credentials revoked"))}
	w = newTestWatcher(Config{}, fatal, targets, kw, &fakeSink{})
	if err := w.cycle(ctx); !IsFatal(err) {
		t.Fatalf("cycle error = %v, want fatal", err)
	}
}

// snapshotClient appends a second target to the registry while the
// first target's fetch is in flight.
type snapshotClient struct {
	mu      sync.Mutex
	targets *fakeTargets
	fetched []string
	grown   bool
}

func (c *snapshotClient) Source() string { return "reddit" }

func (c *snapshotClient) Fetch(_ context.Context, targetID string) ([]Item, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fetched = append(c.fetched, targetID)
	if !c.grown {
		c.grown = true
		c.targets.mu.Lock()
		c.targets.list = append(c.targets.list, registry.Target{Source: "reddit", ID: "t2"})
		c.targets.mu.Unlock()
	}
	return nil, nil
}

func (c *snapshotClient) fetchedIDs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.fetched...)
}

func TestCycleUsesTargetSnapshot(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	targets := &fakeTargets{list: []registry.Target{{Source: "reddit", ID: "t1"}}}
	client := &snapshotClient{targets: targets}
	w := newTestWatcher(Config{Dedup: DedupSeen}, client, targets, &fakeKeywords{vals: []string{"x"}}, &fakeSink{})

	if err := w.cycle(ctx); err != nil {
		t.Fatalf("cycle error: %v", err)
	}
	if got := client.fetchedIDs(); len(got) != 1 || got[0] != "t1" {
		t.Fatalf("first cycle fetched %v, want only the snapshot taken at cycle start", got)
	}

	if err := w.cycle(ctx); err != nil {
		t.Fatalf("cycle error: %v", err)
	}
	got := client.fetchedIDs()
	want := []string{"t1", "t1", "t2"}
	if len(got) != len(want) {
		t.Fatalf("fetches across two cycles = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("fetches across two cycles = %v, want %v", got, want)
		}
	}
}

func TestRunBackoffSequence(t *testing.T) {
	t.Parallel()
	targets := &fakeTargets{list: []registry.Target{{Source: "reddit", ID: "golang"}}}
	client := &fakeClient{err: errors.New("timeout")}
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(16)
	defer unsub()

	cfg := Config{
		Source:      "reddit",
		Schedule:    cron.Every(time.Hour),
		BackoffBase: 10 * time.Millisecond,
		BackoffMax:  25 * time.Millisecond,
	}
	w := New(cfg, client, targets, &fakeKeywords{vals: []string{"x"}}, NewCursors(nil, 50), &fakeSink{}, bus, logx.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Run(ctx) }()

	var delays []time.Duration
	deadline := time.After(5 * time.Second)
	for len(delays) < 4 {
		select {
		case <-deadline:
			t.Fatalf("collected only %d backoff notices before the deadline", len(delays))
		case ev := <-ch:
			if ev.Type != eventbus.EventWatchBackoff {
				continue
			}
			n, ok := ev.Data.(BackoffNotice)
			if !ok {
				t.Fatalf("backoff event carried %T", ev.Data)
			}
			delays = append(delays, n.Delay)
		}
	}
	cancel()

	for i := 1; i < len(delays); i++ {
		if delays[i] < delays[i-1] {
			t.Fatalf("backoff delays decreased: %v", delays)
		}
		if delays[i-1] < cfg.BackoffMax && delays[i] <= delays[i-1] {
			t.Fatalf("backoff delays did not increase below the cap: %v", delays)
		}
		if delays[i] > cfg.BackoffMax {
			t.Fatalf("backoff delay %v exceeds the cap %v", delays[i], cfg.BackoffMax)
		}
	}
	if last := delays[len(delays)-1]; last != cfg.BackoffMax {
		t.Fatalf("final delay = %v, want it pinned at the cap %v", last, cfg.BackoffMax)
	}
}

func TestRunStopsOnFatal(t *testing.T) {
	t.Parallel()
	targets := &fakeTargets{list: []registry.Target{{Source: "reddit", ID: "golang"}}}
	client := &fakeClient{err: Fatal(errors.New("credentials revoked"))}
	w := newTestWatcher(Config{}, client, targets, &fakeKeywords{vals: []string{"x"}}, &fakeSink{})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := w.Run(ctx)
	if !IsFatal(err) {
		t.Fatalf("Run returned %v, want the fatal error", err)
	}
	if w.State() != StateStopped {
		t.Fatalf("state after Run = %v, want stopped", w.State())
	}
}
