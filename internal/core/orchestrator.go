package core

import (
	"context"
	"fmt"

	"mentionbot/internal/config"
	"mentionbot/internal/eventbus"
	"mentionbot/internal/match"
	"mentionbot/internal/notify"
	"mentionbot/internal/registry"
	"mentionbot/internal/runtime/supervisor"
	"mentionbot/internal/sources/news"
	"mentionbot/internal/sources/reddit"
	tgsource "mentionbot/internal/sources/telegram"
	"mentionbot/internal/sources/twitter"
	"mentionbot/internal/transport"
	"mentionbot/internal/watch"
	"mentionbot/pkg/logx"
)

// WatcherStatus is one watcher's snapshot for the status command.
type WatcherStatus struct {
	Source string
	State  string
}

// Orchestrator owns the watcher fleet: it builds one watcher per
// enabled source and runs them under the app supervisor. Fatal watcher
// errors stop that watcher and raise an operator notice; the rest of
// the fleet keeps running.
type Orchestrator struct {
	log      logx.Logger
	bus      eventbus.Bus
	notifier *notify.Service

	pollers   []*watch.Watcher
	stream    *watch.StreamWatcher
	streamSrc *tgsource.Stream
}

func newOrchestrator(cfg *config.Config, targets *registry.Targets, keywords *registry.Keywords, cursors *watch.Cursors, notifier *notify.Service, bus eventbus.Bus, log logx.Logger) (*Orchestrator, error) {
	o := &Orchestrator{
		log:      log.With(logx.String("component", "orchestrator")),
		bus:      bus,
		notifier: notifier,
	}
	policy := match.Policy{WholeWord: cfg.Matcher.WholeWord}

	if cfg.Sources.Reddit.Enabled {
		sched, err := watch.ParseSchedule(defaultSchedule(cfg.Sources.Reddit.Schedule, "5m"))
		if err != nil {
			return nil, fmt.Errorf("sources.reddit: %w", err)
		}
		client := reddit.New(reddit.Config{BaseURL: cfg.Sources.Reddit.BaseURL}, log)
		o.pollers = append(o.pollers, watch.New(watch.Config{
			Source:      "reddit",
			DisplayName: "Reddit",
			Schedule:    sched,
			Dedup:       watch.DedupWatermark,
			Policy:      policy,
		}, client, targets, keywords, cursors, notifier, bus, log))
	}

	if cfg.Sources.News.Enabled {
		sched, err := watch.ParseSchedule(defaultSchedule(cfg.Sources.News.Schedule, "10m"))
		if err != nil {
			return nil, fmt.Errorf("sources.news: %w", err)
		}
		client := news.New(news.Config{}, log)
		o.pollers = append(o.pollers, watch.New(watch.Config{
			Source:      "news",
			DisplayName: "News",
			Schedule:    sched,
			Dedup:       watch.DedupSeen,
			Policy:      policy,
		}, client, targets, keywords, cursors, notifier, bus, log))
	}

	if cfg.Sources.Twitter.Enabled {
		sched, err := watch.ParseSchedule(defaultSchedule(cfg.Sources.Twitter.Schedule, "5m"))
		if err != nil {
			return nil, fmt.Errorf("sources.twitter: %w", err)
		}
		client := twitter.New(twitter.Config{BaseURL: cfg.Sources.Twitter.BaseURL}, log)
		o.pollers = append(o.pollers, watch.New(watch.Config{
			Source:      "twitter",
			DisplayName: "Twitter",
			Schedule:    sched,
			Dedup:       watch.DedupSeen,
			Policy:      policy,
		}, client, targets, keywords, cursors, notifier, bus, log))
	}

	if cfg.Sources.Telegram.Enabled {
		o.streamSrc = tgsource.NewStream(0, log)
		o.stream = watch.NewStream(watch.StreamConfig{
			Source:      "telegram",
			DisplayName: "Telegram",
			Policy:      policy,
		}, o.streamSrc, targets, keywords, cursors, notifier, bus, log)
	}

	return o, nil
}

func defaultSchedule(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// Start launches every watcher plus the notice listener. Watchers are
// wrapped so a fatal error stops that one watcher cleanly while panics
// still restart it.
func (o *Orchestrator) Start(sup *supervisor.Supervisor) {
	for _, w := range o.pollers {
		w := w
		sup.GoRestart("watch."+w.Source(), o.guard(w.Run))
	}
	if o.stream != nil {
		sup.GoRestart("watch."+o.stream.Source(), o.guard(o.stream.Run))
	}
	sup.Go0("watch.notices", o.runNotices)
}

// guard converts a fatal watcher error into a clean exit so the
// restart loop does not resurrect a watcher that cannot recover. The
// operator notice is raised by the notice listener off the bus.
func (o *Orchestrator) guard(run func(ctx context.Context) error) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		err := run(ctx)
		if err != nil && watch.IsFatal(err) {
			return nil
		}
		return err
	}
}

// OfferChannelPost feeds one observed channel post to the realtime
// watcher. A no-op when the telegram source is disabled.
func (o *Orchestrator) OfferChannelPost(post transport.ChannelPost) {
	if o.streamSrc != nil {
		o.streamSrc.Offer(post)
	}
}

// Status reports each watcher's current state.
func (o *Orchestrator) Status() []WatcherStatus {
	var out []WatcherStatus
	for _, w := range o.pollers {
		out = append(out, WatcherStatus{Source: w.Source(), State: w.State().String()})
	}
	if o.stream != nil {
		out = append(out, WatcherStatus{Source: o.stream.Source(), State: "streaming"})
	}
	return out
}

// runNotices forwards watcher lifecycle events to the primary
// destination so operators learn about dropped targets and dead
// watchers without reading logs.
func (o *Orchestrator) runNotices(ctx context.Context) {
	ch, unsub := o.bus.Subscribe(32)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			switch ev.Type {
			case eventbus.EventTargetDropped:
				if d, ok := ev.Data.(watch.TargetDropNotice); ok {
					o.notifier.System(ctx, fmt.Sprintf(
						"%s: target %q removed after repeated failures (%s)", d.Source, d.Target, d.Reason))
				}
			case eventbus.EventWatchFatal:
				if d, ok := ev.Data.(watch.FatalNotice); ok {
					o.notifier.System(ctx, fmt.Sprintf(
						"%s watcher stopped: %s. It will not restart until the process does.", d.Source, d.Reason))
				}
			}
		}
	}
}
