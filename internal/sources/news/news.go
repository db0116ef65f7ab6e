// Package news fetches RSS and Atom feeds. The target ID is the feed
// URL itself.
package news

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/mmcdole/gofeed"

	"mentionbot/internal/watch"
	"mentionbot/pkg/logx"
)

type Config struct {
	Timeout time.Duration
	// MaxItems caps how many entries one fetch returns per feed.
	MaxItems int
}

type Client struct {
	cfg    Config
	parser *gofeed.Parser
	log    logx.Logger
}

func New(cfg Config, log logx.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	if cfg.MaxItems <= 0 {
		cfg.MaxItems = 30
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	p := gofeed.NewParser()
	p.Client = &http.Client{Timeout: cfg.Timeout}
	p.UserAgent = "mentionbot/1.0 (keyword monitor)"
	return &Client{cfg: cfg, parser: p, log: log.With(logx.String("component", "news"))}
}

func (c *Client) Source() string { return "news" }

// Fetch parses one feed and returns its entries, oldest first.
func (c *Client) Fetch(ctx context.Context, feedURL string) ([]watch.Item, error) {
	feed, err := c.parser.ParseURLWithContext(feedURL, ctx)
	if err != nil {
		return nil, classify(feedURL, err)
	}

	n := len(feed.Items)
	if n > c.cfg.MaxItems {
		n = c.cfg.MaxItems
	}
	items := make([]watch.Item, 0, n)
	// Feeds list newest entries first; walk backwards for oldest-first.
	for i := n - 1; i >= 0; i-- {
		entry := feed.Items[i]
		id := entry.GUID
		if id == "" {
			id = entry.Link
		}
		var at time.Time
		if entry.PublishedParsed != nil {
			at = entry.PublishedParsed.UTC()
		} else if entry.UpdatedParsed != nil {
			at = entry.UpdatedParsed.UTC()
		}
		content := entry.Title
		if entry.Description != "" {
			content += "\n" + entry.Description
		}
		items = append(items, watch.Item{
			ID:           id,
			At:           at,
			Content:      content,
			ContextLabel: feed.Title,
			Link:         entry.Link,
		})
	}
	return items, nil
}

func classify(feedURL string, err error) error {
	var httpErr gofeed.HTTPError
	if errors.As(err, &httpErr) {
		switch {
		case httpErr.StatusCode == http.StatusForbidden,
			httpErr.StatusCode == http.StatusNotFound,
			httpErr.StatusCode == http.StatusGone:
			return watch.TargetUnavailable(feedURL, err)
		case httpErr.StatusCode == http.StatusTooManyRequests, httpErr.StatusCode >= 500:
			return watch.Transient(err)
		default:
			return watch.Transient(err)
		}
	}
	if errors.Is(err, gofeed.ErrFeedTypeNotDetected) {
		return watch.TargetUnavailable(feedURL, err)
	}
	return watch.Transient(fmt.Errorf("fetching feed %s: %w", feedURL, err))
}
