package watch

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"mentionbot/internal/eventbus"
	"mentionbot/internal/match"
	"mentionbot/internal/registry"
	"mentionbot/pkg/logx"
)

// State is the watcher lifecycle phase, exposed for the status command.
type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateBackoff
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateBackoff:
		return "backoff"
	default:
		return "stopped"
	}
}

// DedupMode selects how a watcher skips already-processed items.
type DedupMode int

const (
	// DedupWatermark keeps a monotonic high-water timestamp. Suits
	// sources whose items carry ordered publication times.
	DedupWatermark DedupMode = iota
	// DedupSeen keeps a bounded set of recently seen item IDs. Suits
	// unordered sources.
	DedupSeen
)

// TargetSet is the slice of the target registry a watcher needs.
type TargetSet interface {
	ListSource(source string) []registry.Target
	Remove(ctx context.Context, source, id string) error
}

// KeywordSet is the slice of the keyword registry a watcher needs.
type KeywordSet interface {
	Values() []string
}

// Notices published on the event bus alongside the structured log.
type BackoffNotice struct {
	Source string
	Delay  time.Duration
	Reason string
}

type TargetDropNotice struct {
	Source string
	Target string
	Label  string
	Reason string
}

type FatalNotice struct {
	Source string
	Reason string
}

// Config tunes one poll watcher.
type Config struct {
	// Source is the registry source key, e.g. "reddit".
	Source string
	// DisplayName is the human name used in alerts, e.g. "Reddit".
	DisplayName string
	Schedule    cron.Schedule
	Dedup       DedupMode
	Policy      match.Policy
	// BackoffBase seeds the transient-failure backoff; it doubles up
	// to BackoffMax and resets after a clean cycle.
	BackoffBase time.Duration
	BackoffMax  time.Duration
	// MaxTargetFailures is how many consecutive unavailable errors a
	// target survives before it is dropped from the registry.
	MaxTargetFailures int
}

func (c *Config) applyDefaults() {
	if c.DisplayName == "" {
		c.DisplayName = c.Source
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 5 * time.Second
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = 5 * time.Minute
	}
	if c.MaxTargetFailures <= 0 {
		c.MaxTargetFailures = 3
	}
}

// Watcher is a poll loop over one source type. Each cycle it snapshots
// the target and keyword registries, fetches new items per target,
// dedups them against the per-target cursor and emits a match event
// per keyword hit.
type Watcher struct {
	cfg      Config
	client   PollClient
	targets  TargetSet
	keywords KeywordSet
	cursors  *Cursors
	sink     Sink
	bus      eventbus.Bus
	log      logx.Logger

	state    atomic.Int32
	failures map[string]int
}

func New(cfg Config, client PollClient, targets TargetSet, keywords KeywordSet, cursors *Cursors, sink Sink, bus eventbus.Bus, log logx.Logger) *Watcher {
	cfg.applyDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Watcher{
		cfg:      cfg,
		client:   client,
		targets:  targets,
		keywords: keywords,
		cursors:  cursors,
		sink:     sink,
		bus:      bus,
		log:      log.With(logx.String("source", cfg.Source)),
		failures: map[string]int{},
	}
}

func (w *Watcher) Source() string { return w.cfg.Source }

func (w *Watcher) State() State { return State(w.state.Load()) }

func (w *Watcher) setState(s State) { w.state.Store(int32(s)) }

// Run drives the poll loop until ctx ends or a fatal error occurs.
// Transient failures never escape; they only stretch the next attempt.
func (w *Watcher) Run(ctx context.Context) error {
	w.setState(StateStarting)
	defer w.setState(StateStopped)

	backoff := w.cfg.BackoffBase
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}

		w.setState(StateRunning)
		err := w.cycle(ctx)
		switch {
		case ctx.Err() != nil:
			return ctx.Err()
		case err == nil:
			backoff = w.cfg.BackoffBase
			timer.Reset(time.Until(w.cfg.Schedule.Next(time.Now())))
		case IsFatal(err):
			w.log.Error("watcher stopping on fatal error", logx.Err(err))
			w.publish(eventbus.EventWatchFatal, FatalNotice{Source: w.cfg.DisplayName, Reason: err.Error()})
			return err
		default:
			w.setState(StateBackoff)
			w.log.Warn("poll cycle failed, backing off",
				logx.Err(err), logx.Duration("delay", backoff))
			w.publish(eventbus.EventWatchBackoff, BackoffNotice{Source: w.cfg.DisplayName, Delay: backoff, Reason: err.Error()})
			timer.Reset(backoff)
			backoff *= 2
			if backoff > w.cfg.BackoffMax {
				backoff = w.cfg.BackoffMax
			}
		}
	}
}

// cycle runs one pass over the current target snapshot. It returns nil
// on success, a fatal error to stop the watcher, or a transient error
// to trigger backoff. Target-unavailable failures are absorbed here.
func (w *Watcher) cycle(ctx context.Context) error {
	keywords := w.keywords.Values()
	if len(keywords) == 0 {
		w.log.Trace("no keywords registered, skipping cycle")
		return nil
	}

	for _, target := range w.targets.ListSource(w.cfg.Source) {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		items, err := w.client.Fetch(ctx, target.ID)
		if err != nil {
			if IsFatal(err) {
				return err
			}
			if IsTargetUnavailable(err) {
				w.targetFailed(ctx, target, err)
				continue
			}
			return Transient(err)
		}
		delete(w.failures, target.ID)
		if err := w.processItems(ctx, target, keywords, items); err != nil {
			return err
		}
	}
	return nil
}

func (w *Watcher) processItems(ctx context.Context, target registry.Target, keywords []string, items []Item) error {
	key := CursorKey(w.cfg.Source, target.ID)
	cur, err := w.cursors.Load(ctx, key)
	if err != nil {
		return Transient(err)
	}

	// A fresh watermark cursor primes on its first pass so a backlog
	// of old items does not flood the destinations.
	prime := w.cfg.Dedup == DedupWatermark && cur.Watermark().IsZero()

	// Items are judged against the watermark as it stood before this
	// batch. Sources with second-granularity timestamps routinely
	// return distinct items sharing one publication time; advancing
	// mid-batch would swallow all but the first of them.
	wm := cur.Watermark()

	for _, it := range items {
		if w.isDuplicate(cur, wm, it) {
			continue
		}
		w.markProcessed(cur, it)
		if prime {
			continue
		}
		if it.ContextLabel == "" {
			it.ContextLabel = target.Label
		}
		for _, kw := range match.Match(it.Content, keywords, w.cfg.Policy) {
			ev := NewMatchEvent(w.cfg.DisplayName, kw, it)
			if w.sink != nil && w.sink.Enqueue(ev) {
				w.publish(eventbus.EventMatchEmitted, ev)
				w.log.Debug("match emitted",
					logx.String("keyword", kw),
					logx.String("target", target.ID),
					logx.String("event_id", ev.ID))
			}
		}
	}

	if err := w.cursors.Save(ctx, key, cur); err != nil {
		w.log.Warn("cursor save failed", logx.Err(err), logx.String("target", target.ID))
	}
	return nil
}

func (w *Watcher) isDuplicate(cur *Cursor, wm time.Time, it Item) bool {
	if w.cfg.Dedup == DedupWatermark && !it.At.IsZero() {
		if wm.IsZero() {
			return false
		}
		return !it.At.After(wm)
	}
	return cur.Seen(it.ID)
}

func (w *Watcher) markProcessed(cur *Cursor, it Item) {
	if w.cfg.Dedup == DedupWatermark && !it.At.IsZero() {
		cur.Advance(it.At)
		return
	}
	cur.MarkSeen(it.ID)
}

// targetFailed counts one unavailable error against a target and drops
// it from the registry once the threshold is crossed.
func (w *Watcher) targetFailed(ctx context.Context, target registry.Target, cause error) {
	w.failures[target.ID]++
	n := w.failures[target.ID]
	w.log.Warn("target unavailable",
		logx.Err(cause),
		logx.String("target", target.ID),
		logx.Int("consecutive", n))
	if n < w.cfg.MaxTargetFailures {
		return
	}

	delete(w.failures, target.ID)
	if err := w.targets.Remove(ctx, w.cfg.Source, target.ID); err != nil {
		w.log.Error("failed removing unavailable target", logx.Err(err), logx.String("target", target.ID))
		return
	}
	w.cursors.Forget(CursorKey(w.cfg.Source, target.ID))
	w.log.Warn("target dropped after repeated failures", logx.String("target", target.ID))
	w.publish(eventbus.EventTargetDropped, TargetDropNotice{
		Source: w.cfg.DisplayName,
		Target: target.ID,
		Label:  target.Label,
		Reason: cause.Error(),
	})
}

func (w *Watcher) publish(typ string, data any) {
	if w.bus != nil {
		w.bus.Publish(eventbus.Event{Type: typ, Data: data})
	}
}
