// Package telegram adapts channel posts pushed by the bot transport
// into the stream-watcher item shape. No polling happens here; the
// transport's update loop feeds Offer as posts arrive.
package telegram

import (
	"context"
	"fmt"
	"strconv"

	"mentionbot/internal/transport"
	"mentionbot/internal/watch"
	"mentionbot/pkg/logx"
)

type Stream struct {
	ch  chan watch.StreamItem
	log logx.Logger
}

func NewStream(buffer int, log logx.Logger) *Stream {
	if buffer <= 0 {
		buffer = 64
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Stream{
		ch:  make(chan watch.StreamItem, buffer),
		log: log.With(logx.String("component", "telegram_source")),
	}
}

func (s *Stream) Source() string { return "telegram" }

// Subscribe hands out the push channel. The stream watcher owns
// consumption; the channel stays open for the process lifetime.
func (s *Stream) Subscribe(_ context.Context) (<-chan watch.StreamItem, error) {
	return s.ch, nil
}

// Offer enqueues one channel post without blocking. Posts arriving
// faster than the watcher drains them are dropped.
func (s *Stream) Offer(post transport.ChannelPost) bool {
	targetID := post.ChatUsername
	if targetID == "" {
		targetID = strconv.FormatInt(post.ChatID, 10)
	}
	label := post.ChatTitle
	if label == "" {
		label = targetID
	}
	item := watch.StreamItem{
		TargetID: targetID,
		Item: watch.Item{
			ID:           fmt.Sprintf("%d/%d", post.ChatID, post.MessageID),
			At:           post.At,
			Content:      post.Text,
			ContextLabel: label,
			Link:         postLink(post),
		},
	}
	select {
	case s.ch <- item:
		return true
	default:
		s.log.Warn("channel post dropped, stream buffer full",
			logx.Int64("chat_id", post.ChatID),
			logx.Int("message_id", post.MessageID))
		return false
	}
}

// postLink builds a t.me permalink for public channels. Private
// channels have no stable public link, so the link is empty.
func postLink(post transport.ChannelPost) string {
	if post.ChatUsername == "" {
		return ""
	}
	return fmt.Sprintf("https://t.me/%s/%d", post.ChatUsername, post.MessageID)
}
