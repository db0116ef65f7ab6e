package watch

import (
	"context"
	"strings"
	"time"

	"mentionbot/internal/eventbus"
	"mentionbot/internal/match"
	"mentionbot/internal/registry"
	"mentionbot/pkg/logx"
)

// StreamConfig tunes one stream watcher.
type StreamConfig struct {
	Source      string
	DisplayName string
	Policy      match.Policy
	// BackoffBase seeds the resubscribe backoff after the stream
	// drops; it doubles up to BackoffMax and resets once a
	// subscription stays healthy.
	BackoffBase time.Duration
	BackoffMax  time.Duration
}

func (c *StreamConfig) applyDefaults() {
	if c.DisplayName == "" {
		c.DisplayName = c.Source
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 5 * time.Second
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = 5 * time.Minute
	}
}

// StreamWatcher consumes pushed items from a realtime source. Items
// arriving for targets not in the registry are ignored, so adding or
// removing a target takes effect on the next item.
type StreamWatcher struct {
	cfg      StreamConfig
	client   StreamClient
	targets  TargetSet
	keywords KeywordSet
	cursors  *Cursors
	sink     Sink
	bus      eventbus.Bus
	log      logx.Logger
}

func NewStream(cfg StreamConfig, client StreamClient, targets TargetSet, keywords KeywordSet, cursors *Cursors, sink Sink, bus eventbus.Bus, log logx.Logger) *StreamWatcher {
	cfg.applyDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	return &StreamWatcher{
		cfg:      cfg,
		client:   client,
		targets:  targets,
		keywords: keywords,
		cursors:  cursors,
		sink:     sink,
		bus:      bus,
		log:      log.With(logx.String("source", cfg.Source)),
	}
}

func (w *StreamWatcher) Source() string { return w.cfg.Source }

// Run subscribes to the stream and processes items until ctx ends or
// the client reports a fatal error. Lost subscriptions are retried
// with doubling backoff.
func (w *StreamWatcher) Run(ctx context.Context) error {
	backoff := w.cfg.BackoffBase

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		ch, err := w.client.Subscribe(ctx)
		if err != nil {
			if IsFatal(err) {
				w.log.Error("stream watcher stopping on fatal error", logx.Err(err))
				w.publish(eventbus.EventWatchFatal, FatalNotice{Source: w.cfg.DisplayName, Reason: err.Error()})
				return err
			}
			w.log.Warn("stream subscribe failed, backing off",
				logx.Err(err), logx.Duration("delay", backoff))
			w.publish(eventbus.EventWatchBackoff, BackoffNotice{Source: w.cfg.DisplayName, Delay: backoff, Reason: err.Error()})
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > w.cfg.BackoffMax {
				backoff = w.cfg.BackoffMax
			}
			continue
		}

		w.log.Info("stream subscribed")
		start := time.Now()
		w.consume(ctx, ch)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		// The channel closed without a fatal error: the connection
		// dropped. A subscription that held for a while resets the
		// backoff before the retry.
		if time.Since(start) > 30*time.Second {
			backoff = w.cfg.BackoffBase
		}
		w.log.Warn("stream closed, resubscribing", logx.Duration("delay", backoff))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > w.cfg.BackoffMax {
			backoff = w.cfg.BackoffMax
		}
	}
}

func (w *StreamWatcher) consume(ctx context.Context, ch <-chan StreamItem) {
	for {
		select {
		case <-ctx.Done():
			return
		case si, ok := <-ch:
			if !ok {
				return
			}
			w.handle(ctx, si)
		}
	}
}

func (w *StreamWatcher) handle(ctx context.Context, si StreamItem) {
	target, ok := w.findTarget(si.TargetID)
	if !ok {
		return
	}
	keywords := w.keywords.Values()
	if len(keywords) == 0 {
		return
	}

	key := CursorKey(w.cfg.Source, target.ID)
	cur, err := w.cursors.Load(ctx, key)
	if err != nil {
		w.log.Warn("cursor load failed", logx.Err(err), logx.String("target", target.ID))
		return
	}
	if cur.Seen(si.Item.ID) {
		return
	}
	cur.MarkSeen(si.Item.ID)

	it := si.Item
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

	if err := w.cursors.Save(ctx, key, cur); err != nil {
		w.log.Warn("cursor save failed", logx.Err(err), logx.String("target", target.ID))
	}
}

// findTarget matches a pushed item's origin against the registry
// snapshot. Identifiers compare case-insensitively since upstream
// usernames are not case-sensitive.
func (w *StreamWatcher) findTarget(targetID string) (registry.Target, bool) {
	for _, t := range w.targets.ListSource(w.cfg.Source) {
		if strings.EqualFold(t.ID, targetID) {
			return t, true
		}
	}
	return registry.Target{}, false
}

func (w *StreamWatcher) publish(typ string, data any) {
	if w.bus != nil {
		w.bus.Publish(eventbus.Event{Type: typ, Data: data})
	}
}
