// Package reddit fetches new submissions and comments from subreddit
// listings. It is a thin boundary client; dedup and matching happen
// upstream.
package reddit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"mentionbot/internal/watch"
	"mentionbot/pkg/logx"
)

const (
	defaultBaseURL = "https://www.reddit.com"
	defaultLimit   = 25
	userAgent      = "mentionbot/1.0 (keyword monitor)"
)

type Config struct {
	// BaseURL overrides the API host, mainly for tests.
	BaseURL string
	// Limit caps how many entries one listing fetch returns.
	Limit   int
	Timeout time.Duration
}

type Client struct {
	cfg  Config
	http *http.Client
	log  logx.Logger
}

func New(cfg Config, log logx.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Limit <= 0 {
		cfg.Limit = defaultLimit
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
		log:  log.With(logx.String("component", "reddit")),
	}
}

func (c *Client) Source() string { return "reddit" }

// listing mirrors the slice of the listing payload we consume. The
// same shape serves both the submission and the comment endpoints.
type listing struct {
	Data struct {
		Children []struct {
			Data entry `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

type entry struct {
	Name       string  `json:"name"`
	Title      string  `json:"title"`
	SelfText   string  `json:"selftext"`
	Body       string  `json:"body"`
	Subreddit  string  `json:"subreddit"`
	Permalink  string  `json:"permalink"`
	CreatedUTC float64 `json:"created_utc"`
}

// Fetch returns the newest submissions and comments for one subreddit,
// oldest first so watermark advancement sees them in order.
func (c *Client) Fetch(ctx context.Context, subreddit string) ([]watch.Item, error) {
	posts, err := c.fetchListing(ctx, subreddit, "new")
	if err != nil {
		return nil, err
	}
	comments, err := c.fetchListing(ctx, subreddit, "comments")
	if err != nil {
		return nil, err
	}

	items := append(posts, comments...)
	sort.SliceStable(items, func(i, j int) bool { return items[i].At.Before(items[j].At) })
	return items, nil
}

func (c *Client) fetchListing(ctx context.Context, subreddit, feed string) ([]watch.Item, error) {
	url := fmt.Sprintf("%s/r/%s/%s.json?limit=%d", c.cfg.BaseURL, subreddit, feed, c.cfg.Limit)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, watch.Fatal(err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, watch.Transient(err)
	}
	defer resp.Body.Close()

	if err := classifyStatus(subreddit, resp.StatusCode); err != nil {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, err
	}

	var body listing
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, watch.Transient(fmt.Errorf("decoding %s listing for r/%s: %w", feed, subreddit, err))
	}

	items := make([]watch.Item, 0, len(body.Data.Children))
	for _, child := range body.Data.Children {
		items = append(items, c.item(child.Data))
	}
	return items, nil
}

// item maps one listing entry onto a watch item. Comments carry Body
// and no Title; submissions are the other way around.
func (c *Client) item(e entry) watch.Item {
	content := e.Title
	label := "r/" + e.Subreddit
	if e.Body != "" {
		content = e.Body
		label += " (comment)"
	} else if e.SelfText != "" {
		content += "\n" + e.SelfText
	}
	return watch.Item{
		ID:           e.Name,
		At:           time.Unix(int64(e.CreatedUTC), 0).UTC(),
		Content:      content,
		ContextLabel: label,
		Link:         c.cfg.BaseURL + e.Permalink,
	}
}

func classifyStatus(subreddit string, status int) error {
	switch {
	case status == http.StatusOK:
		return nil
	case status == http.StatusUnauthorized:
		return watch.Fatal(fmt.Errorf("listing request rejected: %d", status))
	case status == http.StatusForbidden, status == http.StatusNotFound:
		return watch.TargetUnavailable(subreddit, fmt.Errorf("listing returned %d", status))
	case status == http.StatusTooManyRequests, status >= 500:
		return watch.Transient(fmt.Errorf("listing returned %d", status))
	default:
		return watch.Transient(fmt.Errorf("unexpected listing status %d", status))
	}
}
