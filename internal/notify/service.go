package notify

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"mentionbot/internal/eventbus"
	"mentionbot/internal/registry"
	"mentionbot/internal/transport"
	"mentionbot/internal/watch"
	"mentionbot/pkg/logx"
)

// Sender is the slice of the transport adapter the notifier uses.
type Sender interface {
	SendText(ctx context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) error
}

// DestinationSet is the slice of the destination registry the notifier
// reads. One snapshot is taken per event.
type DestinationSet interface {
	List() []registry.Destination
	Primary() (registry.Destination, bool)
}

// Config tunes the delivery pipeline.
type Config struct {
	Workers   int
	QueueSize int
	// RatePerSec caps outbound sends across all workers.
	RatePerSec float64
	// RetryMax is the total attempts per destination; RetryDelay is
	// the fixed pause between attempts.
	RetryMax   int
	RetryDelay time.Duration
}

func (c *Config) applyDefaults() {
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 128
	}
	if c.RatePerSec <= 0 {
		c.RatePerSec = 5
	}
	if c.RetryMax <= 0 {
		c.RetryMax = 3
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 2 * time.Second
	}
}

// Stats are cumulative delivery counters for the status command.
type Stats struct {
	Enqueued int64
	Sent     int64
	Failed   int64
	Dropped  int64
}

// Service owns the alert queue and the delivery workers. An event is
// delivered to every destination in the snapshot taken when a worker
// picks it up; destinations fail independently of one another.
type Service struct {
	cfg          Config
	sender       Sender
	destinations DestinationSet
	bus          eventbus.Bus
	log          logx.Logger
	limiter      *rate.Limiter

	queue chan watch.MatchEvent

	enqueued atomic.Int64
	sent     atomic.Int64
	failed   atomic.Int64
	dropped  atomic.Int64
}

func New(cfg Config, sender Sender, destinations DestinationSet, bus eventbus.Bus, log logx.Logger) *Service {
	cfg.applyDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:          cfg,
		sender:       sender,
		destinations: destinations,
		bus:          bus,
		log:          log.With(logx.String("component", "notify")),
		limiter:      rate.NewLimiter(rate.Limit(cfg.RatePerSec), 1),
		queue:        make(chan watch.MatchEvent, cfg.QueueSize),
	}
}

// Enqueue hands an event to the delivery pipeline without blocking.
// A full queue drops the event and reports false.
func (s *Service) Enqueue(ev watch.MatchEvent) bool {
	select {
	case s.queue <- ev:
		s.enqueued.Add(1)
		return true
	default:
		s.dropped.Add(1)
		s.log.Warn("alert queue full, dropping event",
			logx.String("event_id", ev.ID),
			logx.String("keyword", ev.Keyword))
		s.publish(eventbus.EventAlertDropped, ev)
		return false
	}
}

// Run starts the worker pool and blocks until ctx ends. Events still
// queued at shutdown are abandoned.
func (s *Service) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for i := 0; i < s.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.worker(ctx)
		}()
	}
	wg.Wait()
	return ctx.Err()
}

func (s *Service) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-s.queue:
			s.deliver(ctx, ev)
		}
	}
}

// deliver fans one event out to the current destination snapshot,
// concurrently, one goroutine per destination.
func (s *Service) deliver(ctx context.Context, ev watch.MatchEvent) {
	dests := s.destinations.List()
	if len(dests) == 0 {
		s.dropped.Add(1)
		s.log.Warn("no destinations registered, dropping alert",
			logx.String("event_id", ev.ID),
			logx.String("keyword", ev.Keyword))
		s.publish(eventbus.EventAlertDropped, ev)
		return
	}

	text := FormatAlert(ev)
	var wg sync.WaitGroup
	for _, d := range dests {
		wg.Add(1)
		go func(d registry.Destination) {
			defer wg.Done()
			s.sendWithRetry(ctx, d.ChatID, text, ev.ID)
		}(d)
	}
	wg.Wait()
}

// sendWithRetry attempts one destination with a fixed pause between
// attempts. Failures here never affect other destinations.
func (s *Service) sendWithRetry(ctx context.Context, chatID int64, text, eventID string) {
	var lastErr error
	for attempt := 1; attempt <= s.cfg.RetryMax; attempt++ {
		if err := s.limiter.Wait(ctx); err != nil {
			return
		}
		err := s.sender.SendText(ctx, transport.ChatTarget{ChatID: chatID}, text, &transport.SendOptions{DisablePreview: true})
		if err == nil {
			s.sent.Add(1)
			s.publish(eventbus.EventAlertSent, eventID)
			return
		}
		lastErr = err
		s.log.Warn("alert send failed",
			logx.Err(err),
			logx.Int64("chat_id", chatID),
			logx.Int("attempt", attempt))
		if attempt < s.cfg.RetryMax {
			select {
			case <-ctx.Done():
				return
			case <-time.After(s.cfg.RetryDelay):
			}
		}
	}
	s.failed.Add(1)
	s.log.Error("alert delivery abandoned",
		logx.Err(lastErr),
		logx.Int64("chat_id", chatID),
		logx.String("event_id", eventID))
	s.publish(eventbus.EventAlertFailed, eventID)
}

// System sends an operational notice to the primary destination. Used
// for fatal watcher reports and target-drop notes, not for matches.
func (s *Service) System(ctx context.Context, text string) {
	primary, ok := s.destinations.Primary()
	if !ok {
		s.log.Warn("no primary destination for system notice", logx.String("text", text))
		return
	}
	s.sendWithRetry(ctx, primary.ChatID, text, "system")
}

func (s *Service) Stats() Stats {
	return Stats{
		Enqueued: s.enqueued.Load(),
		Sent:     s.sent.Load(),
		Failed:   s.failed.Load(),
		Dropped:  s.dropped.Load(),
	}
}

func (s *Service) publish(typ string, data any) {
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: typ, Data: data})
	}
}
