package core

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"mentionbot/internal/notify"
	"mentionbot/internal/registry"
	"mentionbot/internal/transport"
	"mentionbot/pkg/logx"
)

// Sender is the reply half of the transport, shared with the notifier.
type Sender interface {
	SendText(ctx context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) error
}

// StatusReport aggregates the numbers behind the /status reply.
type StatusReport struct {
	Uptime       time.Duration
	Watchers     []WatcherStatus
	Keywords     int
	Targets      int
	Destinations int
	Operators    int
	Delivery     notify.Stats
}

type RouterDeps struct {
	Sender       Sender
	Keywords     *registry.Keywords
	Targets      *registry.Targets
	Destinations *registry.Destinations
	Operators    *registry.Operators
	Status       func() StatusReport
	Log          logx.Logger
}

// Router dispatches operator commands arriving as chat messages. The
// open commands (/start, /help, /ping, /get_chat_id) work for anyone;
// everything that reads or mutates the registries requires operator
// rights. The very first /start claims the creator slot.
type Router struct {
	deps RouterDeps
	log  logx.Logger
}

func NewRouter(deps RouterDeps) *Router {
	log := deps.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Router{deps: deps, log: log.With(logx.String("component", "commands"))}
}

func (r *Router) Handle(ctx context.Context, msg transport.Message) {
	text := strings.TrimSpace(msg.Text)
	if !strings.HasPrefix(text, "/") {
		return
	}
	fields := strings.Fields(text)
	cmd := fields[0]
	if i := strings.Index(cmd, "@"); i > 0 {
		cmd = cmd[:i]
	}
	args := fields[1:]

	switch cmd {
	case "/start":
		r.handleStart(ctx, msg)
		return
	case "/help":
		r.reply(ctx, msg, helpText(r.deps.Operators.IsOperator(msg.FromID)))
		return
	case "/ping":
		r.reply(ctx, msg, "pong")
		return
	case "/get_chat_id":
		r.reply(ctx, msg, fmt.Sprintf("Chat ID: %d", msg.ChatID))
		return
	}

	if !r.deps.Operators.IsOperator(msg.FromID) {
		r.log.Warn("command rejected for non-operator",
			logx.Int64("user_id", msg.FromID),
			logx.String("command", cmd))
		r.reply(ctx, msg, "You are not authorized to use this command.")
		return
	}

	switch cmd {
	case "/status":
		r.reply(ctx, msg, formatStatus(r.deps.Status()))
	case "/keywords":
		r.handleKeywordList(ctx, msg)
	case "/add":
		r.handleKeywordAdd(ctx, msg, args)
	case "/remove":
		r.handleKeywordRemove(ctx, msg, args)
	case "/targets":
		r.handleTargetList(ctx, msg, args)
	case "/add_target":
		r.handleTargetAdd(ctx, msg, args)
	case "/remove_target":
		r.handleTargetRemove(ctx, msg, args)
	case "/channels":
		r.handleTargetList(ctx, msg, []string{"telegram"})
	case "/add_channel":
		if len(args) == 0 {
			r.reply(ctx, msg, "Usage: /add_channel <channel> [label]")
			return
		}
		r.handleTargetAdd(ctx, msg, append([]string{"telegram"}, args...))
	case "/remove_channel":
		if len(args) == 0 {
			r.reply(ctx, msg, "Usage: /remove_channel <channel>")
			return
		}
		r.handleTargetRemove(ctx, msg, append([]string{"telegram"}, args...))
	case "/set_alert_channel":
		r.handleSetPrimary(ctx, msg, args)
	case "/add_alert_channel":
		r.handleDestinationAdd(ctx, msg, args)
	case "/remove_alert_channel":
		r.handleDestinationRemove(ctx, msg, args)
	case "/list_alert_channels":
		r.handleDestinationList(ctx, msg)
	case "/operators":
		r.handleOperatorList(ctx, msg)
	case "/add_operator":
		r.handleOperatorAdd(ctx, msg, args)
	case "/remove_operator":
		r.handleOperatorRemove(ctx, msg, args)
	default:
		r.reply(ctx, msg, "Unknown command. Try /help.")
	}
}

func (r *Router) handleStart(ctx context.Context, msg transport.Message) {
	if !r.deps.Operators.HasCreator() {
		claimed, err := r.deps.Operators.Bootstrap(ctx, msg.FromID, msg.FromUsername)
		if err != nil {
			r.fail(ctx, msg, err)
			return
		}
		if claimed {
			r.log.Info("creator bootstrapped", logx.Int64("user_id", msg.FromID))
			r.reply(ctx, msg, "Welcome! You are now the bot creator and first operator. Use /help to see the commands.")
			return
		}
	}
	if r.deps.Operators.IsOperator(msg.FromID) {
		r.reply(ctx, msg, "Hello again. Use /help to see the commands.")
		return
	}
	r.reply(ctx, msg, "Hello! This bot is managed by its operators.")
}

func (r *Router) handleKeywordList(ctx context.Context, msg transport.Message) {
	values := r.deps.Keywords.Values()
	if len(values) == 0 {
		r.reply(ctx, msg, "No keywords registered. Add one with /add <keyword>.")
		return
	}
	var b strings.Builder
	b.WriteString("Monitored keywords:\n")
	for i, v := range values {
		fmt.Fprintf(&b, "%d. %s\n", i+1, v)
	}
	r.reply(ctx, msg, strings.TrimRight(b.String(), "\n"))
}

func (r *Router) handleKeywordAdd(ctx context.Context, msg transport.Message, args []string) {
	if len(args) == 0 {
		r.reply(ctx, msg, "Usage: /add <keyword>")
		return
	}
	kw, err := r.deps.Keywords.Add(ctx, strings.Join(args, " "), msg.FromID)
	if err != nil {
		r.fail(ctx, msg, err)
		return
	}
	r.reply(ctx, msg, fmt.Sprintf("Keyword %q added.", kw.Value))
}

func (r *Router) handleKeywordRemove(ctx context.Context, msg transport.Message, args []string) {
	if len(args) == 0 {
		r.reply(ctx, msg, "Usage: /remove <keyword>")
		return
	}
	raw := strings.Join(args, " ")
	if err := r.deps.Keywords.Remove(ctx, raw); err != nil {
		r.fail(ctx, msg, err)
		return
	}
	r.reply(ctx, msg, fmt.Sprintf("Keyword %q removed.", registry.NormalizeKeyword(raw)))
}

func (r *Router) handleTargetList(ctx context.Context, msg transport.Message, args []string) {
	var targets []registry.Target
	if len(args) > 0 {
		targets = r.deps.Targets.ListSource(strings.ToLower(args[0]))
	} else {
		targets = r.deps.Targets.List()
	}
	if len(targets) == 0 {
		r.reply(ctx, msg, "No targets registered. Add one with /add_target <source> <id>.")
		return
	}
	var b strings.Builder
	b.WriteString("Monitored targets:\n")
	for i, t := range targets {
		fmt.Fprintf(&b, "%d. [%s] %s (%s)\n", i+1, t.Source, t.ID, t.Label)
	}
	r.reply(ctx, msg, strings.TrimRight(b.String(), "\n"))
}

func (r *Router) handleTargetAdd(ctx context.Context, msg transport.Message, args []string) {
	if len(args) < 2 {
		r.reply(ctx, msg, "Usage: /add_target <source> <id> [label]")
		return
	}
	t := registry.Target{Source: args[0], ID: targetID(args[0], args[1]), AddedBy: msg.FromID}
	if len(args) > 2 {
		t.Label = strings.Join(args[2:], " ")
	}
	added, err := r.deps.Targets.Add(ctx, t)
	if err != nil {
		r.fail(ctx, msg, err)
		return
	}
	r.reply(ctx, msg, fmt.Sprintf("Target %q added to %s.", added.ID, added.Source))
}

func (r *Router) handleTargetRemove(ctx context.Context, msg transport.Message, args []string) {
	if len(args) < 2 {
		r.reply(ctx, msg, "Usage: /remove_target <source> <id>")
		return
	}
	id := targetID(args[0], args[1])
	if err := r.deps.Targets.Remove(ctx, args[0], id); err != nil {
		r.fail(ctx, msg, err)
		return
	}
	r.reply(ctx, msg, fmt.Sprintf("Target %q removed from %s.", id, strings.ToLower(args[0])))
}

// targetID canonicalizes a target argument for its source. Telegram
// channels are stored by bare username because inbound posts carry the
// username without the "@" people naturally type.
func targetID(source, raw string) string {
	if strings.EqualFold(strings.TrimSpace(source), "telegram") {
		return strings.TrimPrefix(raw, "@")
	}
	return raw
}

// chatRef resolves an optional chat argument: a numeric ID, or "here"
// (also the default) for the chat the command came from.
func chatRef(msg transport.Message, args []string) (int64, error) {
	if len(args) == 0 || strings.EqualFold(args[0], "here") {
		return msg.ChatID, nil
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return 0, registry.ErrInvalid
	}
	return id, nil
}

func (r *Router) handleSetPrimary(ctx context.Context, msg transport.Message, args []string) {
	chatID, err := chatRef(msg, args)
	if err != nil {
		r.reply(ctx, msg, "Usage: /set_alert_channel [chat_id|here]")
		return
	}
	dst, err := r.deps.Destinations.SetPrimary(ctx, chatID, msg.FromID)
	if err != nil {
		r.fail(ctx, msg, err)
		return
	}
	r.reply(ctx, msg, fmt.Sprintf("Primary alert channel set to %d.", dst.ChatID))
	r.confirmDestination(ctx, msg, dst.ChatID)
}

func (r *Router) handleDestinationAdd(ctx context.Context, msg transport.Message, args []string) {
	chatID, err := chatRef(msg, args)
	if err != nil {
		r.reply(ctx, msg, "Usage: /add_alert_channel [chat_id|here]")
		return
	}
	dst, err := r.deps.Destinations.Add(ctx, chatID, msg.FromID)
	if err != nil {
		r.fail(ctx, msg, err)
		return
	}
	r.reply(ctx, msg, fmt.Sprintf("Alert channel %d added.", dst.ChatID))
	r.confirmDestination(ctx, msg, dst.ChatID)
}

func (r *Router) handleDestinationRemove(ctx context.Context, msg transport.Message, args []string) {
	chatID, err := chatRef(msg, args)
	if err != nil {
		r.reply(ctx, msg, "Usage: /remove_alert_channel [chat_id|here]")
		return
	}
	if err := r.deps.Destinations.Remove(ctx, chatID); err != nil {
		r.fail(ctx, msg, err)
		return
	}
	r.reply(ctx, msg, fmt.Sprintf("Alert channel %d removed.", chatID))
}

func (r *Router) handleDestinationList(ctx context.Context, msg transport.Message) {
	dests := r.deps.Destinations.List()
	if len(dests) == 0 {
		r.reply(ctx, msg, "No alert channels registered. Set one with /set_alert_channel.")
		return
	}
	var b strings.Builder
	b.WriteString("Alert channels:\n")
	for i, d := range dests {
		mark := ""
		if d.Primary {
			mark = " (primary)"
		}
		fmt.Fprintf(&b, "%d. %d%s\n", i+1, d.ChatID, mark)
	}
	r.reply(ctx, msg, strings.TrimRight(b.String(), "\n"))
}

func (r *Router) handleOperatorList(ctx context.Context, msg transport.Message) {
	ops := r.deps.Operators.List()
	creator := r.deps.Operators.CreatorID()
	var b strings.Builder
	b.WriteString("Operators:\n")
	for i, op := range ops {
		name := op.Username
		if name == "" {
			name = strconv.FormatInt(op.UserID, 10)
		}
		mark := ""
		if op.UserID == creator {
			mark = " (creator)"
		}
		fmt.Fprintf(&b, "%d. %s [%d]%s\n", i+1, name, op.UserID, mark)
	}
	r.reply(ctx, msg, strings.TrimRight(b.String(), "\n"))
}

func (r *Router) handleOperatorAdd(ctx context.Context, msg transport.Message, args []string) {
	if len(args) == 0 {
		r.reply(ctx, msg, "Usage: /add_operator <user_id> [username]")
		return
	}
	userID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		r.reply(ctx, msg, "Usage: /add_operator <user_id> [username]")
		return
	}
	op := registry.Operator{UserID: userID, GrantedBy: msg.FromID}
	if len(args) > 1 {
		op.Username = strings.TrimPrefix(args[1], "@")
	}
	if _, err := r.deps.Operators.Grant(ctx, op); err != nil {
		r.fail(ctx, msg, err)
		return
	}
	r.reply(ctx, msg, fmt.Sprintf("Operator %d added.", userID))
}

func (r *Router) handleOperatorRemove(ctx context.Context, msg transport.Message, args []string) {
	if len(args) == 0 {
		r.reply(ctx, msg, "Usage: /remove_operator <user_id>")
		return
	}
	userID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		r.reply(ctx, msg, "Usage: /remove_operator <user_id>")
		return
	}
	if err := r.deps.Operators.Revoke(ctx, userID); err != nil {
		r.fail(ctx, msg, err)
		return
	}
	r.reply(ctx, msg, fmt.Sprintf("Operator %d removed.", userID))
}

func formatStatus(s StatusReport) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Uptime: %s\n", s.Uptime.Round(time.Second))
	b.WriteString("Watchers:\n")
	if len(s.Watchers) == 0 {
		b.WriteString("  none enabled\n")
	}
	for _, w := range s.Watchers {
		fmt.Fprintf(&b, "  %s: %s\n", w.Source, w.State)
	}
	fmt.Fprintf(&b, "Keywords: %d | Targets: %d | Channels: %d | Operators: %d\n",
		s.Keywords, s.Targets, s.Destinations, s.Operators)
	fmt.Fprintf(&b, "Alerts: %d sent, %d failed, %d dropped",
		s.Delivery.Sent, s.Delivery.Failed, s.Delivery.Dropped)
	return b.String()
}

func helpText(operator bool) string {
	open := strings.Join([]string{
		"/start - introduce yourself to the bot",
		"/help - this message",
		"/ping - liveness check",
		"/get_chat_id - show this chat's ID",
	}, "\n")
	if !operator {
		return open
	}
	return open + "\n" + strings.Join([]string{
		"/status - watcher and delivery status",
		"/keywords - list monitored keywords",
		"/add <keyword> - monitor a keyword",
		"/remove <keyword> - stop monitoring a keyword",
		"/targets [source] - list monitored targets",
		"/add_target <source> <id> [label] - monitor a target",
		"/remove_target <source> <id> - stop monitoring a target",
		"/channels - list monitored chat channels",
		"/add_channel <channel> [label] - monitor a chat channel",
		"/remove_channel <channel> - stop monitoring a chat channel",
		"/set_alert_channel [chat_id|here] - set the primary alert channel",
		"/add_alert_channel [chat_id|here] - add a secondary alert channel",
		"/remove_alert_channel [chat_id|here] - remove an alert channel",
		"/list_alert_channels - list alert channels",
		"/operators - list operators",
		"/add_operator <user_id> [username] - grant operator rights",
		"/remove_operator <user_id> - revoke operator rights",
	}, "\n")
}

// confirmDestination greets a newly registered alert chat so operators
// can tell immediately whether the bot can actually post there.
func (r *Router) confirmDestination(ctx context.Context, msg transport.Message, chatID int64) {
	if chatID == msg.ChatID {
		return
	}
	err := r.deps.Sender.SendText(ctx, transport.ChatTarget{ChatID: chatID},
		"This chat will now receive mention alerts.", &transport.SendOptions{DisablePreview: true})
	if err != nil {
		r.log.Warn("destination confirmation failed", logx.Err(err), logx.Int64("chat_id", chatID))
		r.reply(ctx, msg, fmt.Sprintf("Warning: could not post to %d. Check that the bot is a member there.", chatID))
	}
}

func (r *Router) fail(ctx context.Context, msg transport.Message, err error) {
	switch {
	case errors.Is(err, registry.ErrAlreadyExists):
		r.reply(ctx, msg, "That entry already exists.")
	case errors.Is(err, registry.ErrNotFound):
		r.reply(ctx, msg, "No such entry.")
	case errors.Is(err, registry.ErrProtected):
		r.reply(ctx, msg, "The creator cannot be removed.")
	case errors.Is(err, registry.ErrInvalid):
		r.reply(ctx, msg, "That value is not valid.")
	default:
		r.log.Error("command failed", logx.Err(err))
		r.reply(ctx, msg, "Something went wrong, check the logs.")
	}
}

func (r *Router) reply(ctx context.Context, msg transport.Message, text string) {
	err := r.deps.Sender.SendText(ctx, transport.ChatTarget{ChatID: msg.ChatID}, text, &transport.SendOptions{DisablePreview: true})
	if err != nil {
		r.log.Warn("reply failed", logx.Err(err), logx.Int64("chat_id", msg.ChatID))
	}
}
