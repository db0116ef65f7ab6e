package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"mentionbot/internal/registry"
	"mentionbot/internal/transport"
	"mentionbot/internal/watch"
	"mentionbot/pkg/logx"
)

func TestFormatAlertContract(t *testing.T) {
	t.Parallel()
	ev := watch.MatchEvent{
		SourceName: "Reddit",
		Keyword:    "bitcoin",
		Context:    "r/CryptoCurrency",
		Excerpt:    "Bitcoin just crossed the line",
		Link:       "https://reddit.com/r/CryptoCurrency/abc",
		At:         time.Date(2026, 3, 1, 14, 7, 33, 0, time.UTC),
	}
	want := `Source: Reddit | Time: 14:07 | Match: "bitcoin" | Context: r/CryptoCurrency | Excerpt: "Bitcoin just crossed the line" | Link: https://reddit.com/r/CryptoCurrency/abc`
	if got := FormatAlert(ev); got != want {
		t.Fatalf("FormatAlert mismatch\n got: %s\nwant: %s", got, want)
	}
}

func TestFormatAlertNormalizesTimeToUTC(t *testing.T) {
	t.Parallel()
	loc := time.FixedZone("UTC+3", 3*3600)
	ev := watch.MatchEvent{
		SourceName: "News",
		Keyword:    "etf",
		At:         time.Date(2026, 3, 1, 17, 30, 0, 0, loc),
	}
	got := FormatAlert(ev)
	if want := "Time: 14:30"; !containsSub(got, want) {
		t.Fatalf("FormatAlert = %q, want it to contain %q", got, want)
	}
}

func TestFormatAlertBoundsExcerpt(t *testing.T) {
	t.Parallel()
	long := make([]rune, 0, 600)
	for i := 0; i < 600; i++ {
		long = append(long, 'x')
	}
	ev := watch.MatchEvent{SourceName: "News", Keyword: "x", Excerpt: string(long)}
	got := FormatAlert(ev)
	if len([]rune(got)) > maxExcerptRunes+120 {
		t.Fatalf("formatted alert is %d runes, excerpt was not clipped", len([]rune(got)))
	}
	if !containsSub(got, "...") {
		t.Fatal("clipped excerpt should end with an ellipsis")
	}
}

func containsSub(s, sub string) bool {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return true
		}
	}
	return false
}

type fakeSender struct {
	mu       sync.Mutex
	sent     map[int64][]string
	failFor  map[int64]error
	attempts map[int64]int
}

func newFakeSender() *fakeSender {
	return &fakeSender{sent: map[int64][]string{}, failFor: map[int64]error{}, attempts: map[int64]int{}}
}

func (f *fakeSender) SendText(_ context.Context, to transport.ChatTarget, text string, _ *transport.SendOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts[to.ChatID]++
	if err := f.failFor[to.ChatID]; err != nil {
		return err
	}
	f.sent[to.ChatID] = append(f.sent[to.ChatID], text)
	return nil
}

func (f *fakeSender) sentTo(chatID int64) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent[chatID]...)
}

func (f *fakeSender) attemptsTo(chatID int64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts[chatID]
}

func testService(sender Sender, dests DestinationSet) *Service {
	return New(Config{
		Workers:    1,
		QueueSize:  16,
		RatePerSec: 10000,
		RetryMax:   3,
		RetryDelay: time.Millisecond,
	}, sender, dests, nil, logx.Nop())
}

func destsWith(t *testing.T, chatIDs ...int64) *registry.Destinations {
	t.Helper()
	d := registry.NewDestinations(nil)
	ctx := context.Background()
	for i, id := range chatIDs {
		var err error
		if i == 0 {
			_, err = d.SetPrimary(ctx, id, 1)
		} else {
			_, err = d.Add(ctx, id, 1)
		}
		if err != nil {
			t.Fatalf("seeding destinations: %v", err)
		}
	}
	return d
}

func TestDeliverFanoutIsolatesFailures(t *testing.T) {
	t.Parallel()
	sender := newFakeSender()
	sender.failFor[100] = errors.New("chat migrated")
	svc := testService(sender, destsWith(t, 100, 200))

	ev := watch.MatchEvent{ID: "ev1", SourceName: "Reddit", Keyword: "bitcoin", At: time.Now()}
	svc.deliver(context.Background(), ev)

	if got := sender.sentTo(200); len(got) != 1 {
		t.Fatalf("healthy destination received %d messages, want exactly 1", len(got))
	}
	if got := sender.attemptsTo(100); got != 3 {
		t.Fatalf("failing destination attempted %d times, want RetryMax=3", got)
	}
	stats := svc.Stats()
	if stats.Sent != 1 || stats.Failed != 1 {
		t.Fatalf("stats = %+v, want Sent=1 Failed=1", stats)
	}
}

func TestDeliverRetriesThenSucceeds(t *testing.T) {
	t.Parallel()
	sender := newFakeSender()
	svc := testService(sender, destsWith(t, 300))

	// Fail the first attempt only.
	sender.failFor[300] = errors.New("temporary")
	go func() {
		time.Sleep(5 * time.Millisecond)
		sender.mu.Lock()
		delete(sender.failFor, 300)
		sender.mu.Unlock()
	}()

	svc.cfg.RetryDelay = 20 * time.Millisecond
	svc.deliver(context.Background(), watch.MatchEvent{ID: "ev2", SourceName: "News", Keyword: "etf", At: time.Now()})

	if got := sender.sentTo(300); len(got) != 1 {
		t.Fatalf("destination received %d messages after retry, want 1", len(got))
	}
	if svc.Stats().Failed != 0 {
		t.Fatal("a delivery that eventually succeeded must not count as failed")
	}
}

func TestDeliverDropsWithoutDestinations(t *testing.T) {
	t.Parallel()
	sender := newFakeSender()
	svc := testService(sender, registry.NewDestinations(nil))

	svc.deliver(context.Background(), watch.MatchEvent{ID: "ev3", SourceName: "News", Keyword: "etf", At: time.Now()})
	if svc.Stats().Dropped != 1 {
		t.Fatalf("stats = %+v, want Dropped=1", svc.Stats())
	}
}

func TestEnqueueDropsWhenFull(t *testing.T) {
	t.Parallel()
	svc := New(Config{Workers: 1, QueueSize: 1, RatePerSec: 10000, RetryMax: 1, RetryDelay: time.Millisecond},
		newFakeSender(), registry.NewDestinations(nil), nil, logx.Nop())

	// No workers running, so the second enqueue hits a full queue.
	if !svc.Enqueue(watch.MatchEvent{ID: "a"}) {
		t.Fatal("first Enqueue should be accepted")
	}
	if svc.Enqueue(watch.MatchEvent{ID: "b"}) {
		t.Fatal("second Enqueue should be dropped")
	}
	if svc.Stats().Dropped != 1 {
		t.Fatalf("stats = %+v, want Dropped=1", svc.Stats())
	}
}

func TestSystemGoesToPrimaryOnly(t *testing.T) {
	t.Parallel()
	sender := newFakeSender()
	svc := testService(sender, destsWith(t, 100, 200))

	svc.System(context.Background(), "watcher stopped")
	if got := sender.sentTo(100); len(got) != 1 || got[0] != "watcher stopped" {
		t.Fatalf("primary received %v, want the notice", got)
	}
	if got := sender.sentTo(200); len(got) != 0 {
		t.Fatalf("secondary received %v, want nothing", got)
	}
}
