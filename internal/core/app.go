package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"mentionbot/internal/config"
	"mentionbot/internal/eventbus"
	"mentionbot/internal/notify"
	"mentionbot/internal/registry"
	"mentionbot/internal/runtime/supervisor"
	"mentionbot/internal/storage"
	"mentionbot/internal/transport"
	tgtransport "mentionbot/internal/transport/telegram"
	"mentionbot/internal/watch"
	"mentionbot/pkg/logx"
)

// App wires the whole pipeline: transport, registries, watchers,
// matcher and notifier. Build with New, drive with Start/Stop.
type App struct {
	cfg *config.Config
	mgr *config.Manager
	log logx.Logger

	store        storage.Store
	bus          eventbus.Bus
	adapter      *tgtransport.Adapter
	keywords     *registry.Keywords
	targets      *registry.Targets
	destinations *registry.Destinations
	operators    *registry.Operators
	notifier     *notify.Service
	orch         *Orchestrator
	router       *Router

	sup       *supervisor.Supervisor
	updates   chan transport.Update
	startedAt time.Time
}

func New(ctx context.Context, cfg *config.Config, mgr *config.Manager, log logx.Logger) (*App, error) {
	if cfg == nil {
		return nil, errors.New("nil config")
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	var storeCfg storage.Config
	if cfg.Storage != nil {
		busy, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
		if err != nil {
			return nil, err
		}
		storeCfg = storage.Config{Driver: cfg.Storage.Driver, Path: cfg.Storage.Path, BusyTimeout: busy}
	}
	store, err := storage.Open(storeCfg, log)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}

	a := &App{
		cfg:          cfg,
		mgr:          mgr,
		log:          log,
		store:        store,
		bus:          eventbus.New(),
		keywords:     registry.NewKeywords(store),
		targets:      registry.NewTargets(store),
		destinations: registry.NewDestinations(store),
		operators:    registry.NewOperators(store),
	}
	if err := a.hydrate(ctx); err != nil {
		a.closeStore()
		return nil, err
	}
	a.seedTargets(ctx)

	pollTimeout, err := config.ParseDurationField("telegram.poll_timeout", cfg.Telegram.PollTimeout)
	if err != nil {
		a.closeStore()
		return nil, err
	}
	adapter, err := tgtransport.New(tgtransport.Config{Token: cfg.Telegram.Token, PollTimeout: pollTimeout}, log)
	if err != nil {
		a.closeStore()
		return nil, fmt.Errorf("building telegram adapter: %w", err)
	}
	a.adapter = adapter

	a.notifier = notify.New(notifierConfig(cfg), adapter, a.destinations, a.bus, log)

	cursors := watch.NewCursors(store, 0)
	orch, err := newOrchestrator(cfg, a.targets, a.keywords, cursors, a.notifier, a.bus, log)
	if err != nil {
		a.closeStore()
		return nil, err
	}
	a.orch = orch

	a.router = NewRouter(RouterDeps{
		Sender:       adapter,
		Keywords:     a.keywords,
		Targets:      a.targets,
		Destinations: a.destinations,
		Operators:    a.operators,
		Status:       a.statusReport,
		Log:          log,
	})
	return a, nil
}

func notifierConfig(cfg *config.Config) notify.Config {
	var nc notify.Config
	if cfg.Notifier != nil {
		nc.Workers = cfg.Notifier.Workers
		nc.QueueSize = cfg.Notifier.QueueSize
		nc.RatePerSec = float64(cfg.Notifier.RatePerSec)
		nc.RetryMax = cfg.Notifier.RetryMax
		if d, err := config.ParseDurationField("notifier.retry_delay", cfg.Notifier.RetryDelay); err == nil {
			nc.RetryDelay = d
		}
	}
	return nc
}

func (a *App) hydrate(ctx context.Context) error {
	for _, h := range []func(context.Context) error{
		a.keywords.Hydrate,
		a.targets.Hydrate,
		a.destinations.Hydrate,
		a.operators.Hydrate,
	} {
		if err := h(ctx); err != nil {
			return fmt.Errorf("hydrating registries: %w", err)
		}
	}
	a.log.Info("registries hydrated",
		logx.Int("keywords", a.keywords.Len()),
		logx.Int("targets", a.targets.Len()),
		logx.Int("destinations", a.destinations.Len()),
		logx.Int("operators", a.operators.Len()))
	return nil
}

// seedTargets applies config-declared targets for sources whose
// registry is still empty. Runtime mutations win on later runs.
func (a *App) seedTargets(ctx context.Context) {
	seed := func(source string, ids []string) {
		if len(ids) == 0 || len(a.targets.ListSource(source)) > 0 {
			return
		}
		for _, id := range ids {
			if _, err := a.targets.Add(ctx, registry.Target{Source: source, ID: id}); err != nil &&
				!errors.Is(err, registry.ErrAlreadyExists) {
				a.log.Warn("seeding target failed",
					logx.Err(err), logx.String("source", source), logx.String("target", id))
			}
		}
		a.log.Info("seeded targets from config",
			logx.String("source", source), logx.Int("count", len(ids)))
	}
	seed("reddit", a.cfg.Sources.Reddit.Targets)
	seed("news", a.cfg.Sources.News.Targets)
	seed("twitter", a.cfg.Sources.Twitter.Targets)
}

// Start brings the daemon up: transport polling, update routing, the
// notifier pool, the watcher fleet and config hot reload.
func (a *App) Start(ctx context.Context) error {
	a.startedAt = time.Now()
	a.sup = supervisor.NewSupervisor(ctx, supervisor.WithLogger(a.log.With(logx.String("comp", "app"))))
	a.updates = make(chan transport.Update, 256)

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return fmt.Errorf("starting telegram adapter: %w", err)
	}

	a.sup.Go0("updates.route", a.routeUpdates)
	a.sup.Go("notify.pool", a.notifier.Run)
	a.orch.Start(a.sup)

	if a.mgr != nil {
		a.sup.Go("config.watch", a.mgr.Watch)
		a.sup.Go0("config.reload", a.watchReload)
	}

	a.log.Info("mentionbot started",
		logx.Int("watchers", len(a.orch.Status())),
		logx.Bool("persistent", a.store != nil))
	return nil
}

// routeUpdates splits inbound transport updates: operator messages go
// to the command router, channel posts feed the realtime watcher.
func (a *App) routeUpdates(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case up := <-a.updates:
			switch up.Kind {
			case transport.UpdateMessage:
				if up.Message != nil {
					a.router.Handle(ctx, *up.Message)
				}
			case transport.UpdateChannelPost:
				if up.ChannelPost != nil {
					a.orch.OfferChannelPost(*up.ChannelPost)
				}
			}
		}
	}
}

// watchReload consumes config hot-reload publications. Watcher
// schedules and the notifier pool are built once at startup, so a
// changed file takes full effect on the next restart.
func (a *App) watchReload(ctx context.Context) {
	ch := a.mgr.Subscribe(1)
	defer a.mgr.Unsubscribe(ch)
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-ch:
			if !ok {
				return
			}
			if cfg == nil {
				continue
			}
			a.log.Info("config file changed; source schedules and notifier sizing apply on restart")
		}
	}
}

// Stop shuts the daemon down within the configured timeout.
func (a *App) Stop(ctx context.Context) error {
	timeout, err := config.ParseDurationOrDefault("shutdown_timeout", a.cfg.ShutdownTimeout, 10*time.Second)
	if err != nil {
		timeout = 10 * time.Second
	}
	sctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if a.adapter != nil {
		if err := a.adapter.Stop(sctx); err != nil {
			a.log.Warn("telegram adapter stop failed", logx.Err(err))
		}
	}
	if a.sup != nil {
		if err := a.sup.Stop(sctx); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			a.log.Warn("supervisor stop reported error", logx.Err(err))
		}
	}
	a.closeStore()
	a.log.Info("mentionbot stopped", logx.Duration("uptime", time.Since(a.startedAt)))
	return nil
}

func (a *App) closeStore() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn("closing storage failed", logx.Err(err))
		}
	}
}

func (a *App) statusReport() StatusReport {
	return StatusReport{
		Uptime:       time.Since(a.startedAt),
		Watchers:     a.orch.Status(),
		Keywords:     a.keywords.Len(),
		Targets:      a.targets.Len(),
		Destinations: a.destinations.Len(),
		Operators:    a.operators.Len(),
		Delivery:     a.notifier.Stats(),
	}
}
