// Package twitter polls tweet search results. The target ID is the
// search query itself, so each monitored query becomes one target.
// Fetching goes through a Nitter-compatible instance, which exposes
// search results as RSS without API credentials.
package twitter

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/mmcdole/gofeed"

	"mentionbot/internal/watch"
	"mentionbot/pkg/logx"
)

const defaultBaseURL = "https://nitter.net"

type Config struct {
	// BaseURL points at the Nitter instance to query.
	BaseURL string
	Timeout time.Duration
	// MaxItems caps how many results one fetch returns per query.
	MaxItems int
}

type Client struct {
	cfg    Config
	parser *gofeed.Parser
	log    logx.Logger
}

func New(cfg Config, log logx.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
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
	return &Client{cfg: cfg, parser: p, log: log.With(logx.String("component", "twitter"))}
}

func (c *Client) Source() string { return "twitter" }

// Fetch runs one search query and returns its results, oldest first.
func (c *Client) Fetch(ctx context.Context, query string) ([]watch.Item, error) {
	feedURL := fmt.Sprintf("%s/search/rss?f=tweets&q=%s", c.cfg.BaseURL, url.QueryEscape(query))
	feed, err := c.parser.ParseURLWithContext(feedURL, ctx)
	if err != nil {
		return nil, classify(query, err)
	}

	n := len(feed.Items)
	if n > c.cfg.MaxItems {
		n = c.cfg.MaxItems
	}
	items := make([]watch.Item, 0, n)
	for i := n - 1; i >= 0; i-- {
		entry := feed.Items[i]
		id := entry.GUID
		if id == "" {
			id = entry.Link
		}
		var at time.Time
		if entry.PublishedParsed != nil {
			at = entry.PublishedParsed.UTC()
		}
		items = append(items, watch.Item{
			ID:           id,
			At:           at,
			Content:      entry.Title,
			ContextLabel: author(entry, query),
			Link:         entry.Link,
		})
	}
	return items, nil
}

// author prefers the tweet's dc:creator handle over the query label.
func author(entry *gofeed.Item, query string) string {
	if entry.DublinCoreExt != nil && len(entry.DublinCoreExt.Creator) > 0 {
		return entry.DublinCoreExt.Creator[0]
	}
	return "search: " + query
}

func classify(query string, err error) error {
	var httpErr gofeed.HTTPError
	if errors.As(err, &httpErr) {
		switch {
		case httpErr.StatusCode == http.StatusForbidden,
			httpErr.StatusCode == http.StatusNotFound,
			httpErr.StatusCode == http.StatusGone:
			return watch.TargetUnavailable(query, err)
		default:
			return watch.Transient(err)
		}
	}
	if errors.Is(err, gofeed.ErrFeedTypeNotDetected) {
		return watch.Transient(fmt.Errorf("search feed for %q unreadable: %w", query, err))
	}
	return watch.Transient(fmt.Errorf("searching %q: %w", query, err))
}
