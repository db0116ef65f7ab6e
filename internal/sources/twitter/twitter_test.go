package twitter

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"mentionbot/internal/watch"
	"mentionbot/pkg/logx"
)

const searchFeed = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0" xmlns:dc="http://purl.org/dc/elements/1.1/">
<channel>
  <title>Search results for "bitcoin"</title>
  <item>
    <title>bitcoin just broke resistance</title>
    <dc:creator>@chartwatcher</dc:creator>
    <guid>https://nitter.net/chartwatcher/status/2</guid>
    <link>https://nitter.net/chartwatcher/status/2</link>
    <pubDate>Thu, 01 Jan 2026 12:10:00 GMT</pubDate>
  </item>
  <item>
    <title>thinking about bitcoin again</title>
    <dc:creator>@hodler</dc:creator>
    <guid>https://nitter.net/hodler/status/1</guid>
    <link>https://nitter.net/hodler/status/1</link>
    <pubDate>Thu, 01 Jan 2026 12:00:00 GMT</pubDate>
  </item>
</channel>
</rss>`

func TestFetchParsesSearchFeedOldestFirst(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/search/rss" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("q"); got != "bitcoin" {
			t.Errorf("q = %q, want bitcoin", got)
		}
		w.Header().Set("Content-Type", "application/rss+xml")
		w.Write([]byte(searchFeed))
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL}, logx.Nop())
	items, err := c.Fetch(context.Background(), "bitcoin")
	if err != nil {
		t.Fatalf("Fetch error: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("got %d items, want 2", len(items))
	}
	if items[0].ID != "https://nitter.net/hodler/status/1" {
		t.Fatalf("order starts with %s, want oldest first", items[0].ID)
	}
	if items[0].ContextLabel != "@hodler" {
		t.Fatalf("ContextLabel = %q, want the author handle", items[0].ContextLabel)
	}
	if !items[1].At.After(items[0].At) {
		t.Fatal("timestamps should increase with position")
	}
}

func TestFetchClassifiesStatuses(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		status int
		check  func(error) bool
	}{
		{name: "blocked instance", status: http.StatusForbidden, check: watch.IsTargetUnavailable},
		{name: "missing endpoint", status: http.StatusNotFound, check: watch.IsTargetUnavailable},
		{name: "rate limited", status: http.StatusTooManyRequests, check: isTransient},
		{name: "server error", status: http.StatusBadGateway, check: isTransient},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			c := New(Config{BaseURL: srv.URL}, logx.Nop())
			_, err := c.Fetch(context.Background(), "whatever")
			if err == nil {
				t.Fatalf("status %d produced no error", tt.status)
			}
			if !tt.check(err) {
				t.Fatalf("status %d classified as %T (%v)", tt.status, err, err)
			}
		})
	}
}

func isTransient(err error) bool {
	return err != nil && !watch.IsFatal(err) && !watch.IsTargetUnavailable(err)
}
