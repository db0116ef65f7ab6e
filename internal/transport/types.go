package transport

import (
	"context"
	"time"
)

type UpdateKind string

const (
	UpdateMessage     UpdateKind = "message"
	UpdateChannelPost UpdateKind = "channel_post"
)

type Update struct {
	Kind        UpdateKind
	Message     *Message
	ChannelPost *ChannelPost
}

// Message is an inbound chat message (the operator command surface).
type Message struct {
	ID           int
	ChatID       int64
	FromID       int64
	FromUsername string
	Text         string
	IsGroup      bool
}

// ChannelPost is a new post observed in a channel the bot is a member
// of. It feeds the realtime channel watcher.
type ChannelPost struct {
	MessageID    int
	ChatID       int64
	ChatUsername string
	ChatTitle    string
	Text         string
	At           time.Time
}

type ChatTarget struct {
	ChatID int64
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
}

// Adapter abstracts the chat platform used for commands and alert
// delivery. The only implementation today is Telegram.
type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) error
}
