// Package dispatch turns inbound chat messages into command invocations:
// text extraction, prefix normalization, lookup, authorization, rate
// limiting and contained handler execution.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"slices"
	"strings"
	"sync/atomic"
	"time"
	"unicode"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Sender delivers text replies. quoted, when set, is the message being answered.
type Sender interface {
	SendText(ctx context.Context, chat, text string, quoted *Inbound) error
}

// Fallback modes for non-command text.
const (
	FallbackIgnore = "ignore"
	FallbackEcho   = "echo"
)

// User-facing replies.
const (
	MsgUnknownCommand = "❓ Unknown command: %s"
	MsgOwnerOnly      = "❌ Owner-only command."
	MsgGroupOnly      = "❌ This command works only in groups."
	MsgThrottled      = "⏳ Too many commands. Please slow down."
	MsgCommandFailed  = "⚠️ Command failed. Please try again later."
)

// Settings are the hot-swappable knobs of a dispatcher.
type Settings struct {
	Prefix         *PrefixNormalizer
	Owners         []string // user parts, see NormalizeUser
	RateLimit      int
	RateWindow     time.Duration
	SilentThrottle bool
	Fallback       string
	Timeout        time.Duration
}

// Result classifies what Dispatch did with a message.
type Result string

const (
	ResultIgnored   Result = "ignored"
	ResultDuplicate Result = "duplicate"
	ResultFallback  Result = "fallback"
	ResultUnknown   Result = "unknown"
	ResultDenied    Result = "denied"
	ResultThrottled Result = "throttled"
	ResultHandled   Result = "handled"
	ResultFailed    Result = "failed"
)

// Context is what a handler sees of one invocation.
type Context struct {
	Msg       *Inbound
	Name      string // as typed, lower-cased
	Args      []string
	RawArgs   string // text after the command name, untrimmed inside
	Command   *Command
	RequestID string
	IsOwner   bool

	d *Dispatcher
}

// Reply sends text to the invoking chat, quoting the command message.
func (c *Context) Reply(ctx context.Context, text string) error {
	return c.d.sender.SendText(ctx, c.Msg.Chat, text, c.Msg)
}

// Registry returns the registry the invocation was resolved against.
func (c *Context) Registry() *Registry { return c.d.Registry() }

// Settings returns the dispatcher settings in effect.
func (c *Context) Settings() Settings { return c.d.Settings() }

// ChatFlags returns the dispatcher's per-chat toggles.
func (c *Context) ChatFlags() *ChatFlags { return c.d.flags }

// Dispatcher routes inbound messages to commands. Registry and settings can
// be swapped while dispatches are in flight; each dispatch uses the values
// it loaded at its start.
type Dispatcher struct {
	sender   Sender
	registry atomic.Pointer[Registry]
	settings atomic.Pointer[Settings]
	limiter  *RateLimiter
	dedupe   *Dedupe
	flags    *ChatFlags
	lanes    *lanes
	tracer   trace.Tracer
}

// Option customizes a Dispatcher.
type Option func(*Dispatcher)

// WithDedupe drops messages whose id was seen within ttl.
func WithDedupe(size int, ttl time.Duration) Option {
	return func(d *Dispatcher) {
		if ttl > 0 {
			d.dedupe = NewDedupe(size, ttl)
		}
	}
}

// WithRateLimiter shares a limiter, mainly for tests with a fake clock.
func WithRateLimiter(rl *RateLimiter) Option {
	return func(d *Dispatcher) { d.limiter = rl }
}

// WithLaneCapacity bounds the per-sender backlog of Submit.
func WithLaneCapacity(n int) Option {
	return func(d *Dispatcher) { d.lanes = newLanes(n) }
}

func New(sender Sender, reg *Registry, s Settings, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		sender:  sender,
		limiter: NewRateLimiter(),
		flags:   NewChatFlags(),
		lanes:   newLanes(0),
		tracer:  otel.Tracer("github.com/nextlevelbuilder/luxbot/internal/dispatch"),
	}
	for _, o := range opts {
		o(d)
	}
	if reg == nil {
		reg = NewRegistry()
	}
	d.registry.Store(reg)
	d.UpdateSettings(s)
	return d
}

func (d *Dispatcher) Registry() *Registry { return d.registry.Load() }

// SwapRegistry installs reg and returns the previous registry.
func (d *Dispatcher) SwapRegistry(reg *Registry) *Registry {
	return d.registry.Swap(reg)
}

func (d *Dispatcher) Settings() Settings { return *d.settings.Load() }

// UpdateSettings installs s, filling defaults.
func (d *Dispatcher) UpdateSettings(s Settings) {
	if s.Prefix == nil {
		s.Prefix = NewPrefixNormalizer(".")
	}
	if s.Fallback == "" {
		s.Fallback = FallbackIgnore
	}
	if s.Timeout <= 0 {
		s.Timeout = 30 * time.Second
	}
	owners := make([]string, 0, len(s.Owners))
	for _, o := range s.Owners {
		if u := NormalizeUser(o); u != "" {
			owners = append(owners, u)
		}
	}
	s.Owners = owners
	d.settings.Store(&s)
}

func (d *Dispatcher) ChatFlags() *ChatFlags { return d.flags }

// RateLimiter exposes the limiter.
func (d *Dispatcher) RateLimiter() *RateLimiter { return d.limiter }

// CleanupRateLimits drops the buckets whose window, as configured now, has
// elapsed.
func (d *Dispatcher) CleanupRateLimits() {
	if w := d.Settings().RateWindow; w > 0 {
		d.limiter.Cleanup(w)
	}
}

// IsOwner reports whether jid belongs to a configured owner.
func (d *Dispatcher) IsOwner(jid string) bool {
	u := NormalizeUser(jid)
	return u != "" && slices.Contains(d.Settings().Owners, u)
}

// Submit queues m on its sender's lane: one sender's messages are handled
// in arrival order, different senders concurrently.
func (d *Dispatcher) Submit(ctx context.Context, m *Inbound) {
	if m == nil {
		return
	}
	d.lanes.enqueue(m.SenderKey(), func() { d.Dispatch(ctx, m) })
}

// Wait blocks until every submitted message has been handled.
func (d *Dispatcher) Wait() { d.lanes.wait() }

// Dispatch handles one message synchronously.
func (d *Dispatcher) Dispatch(ctx context.Context, m *Inbound) Result {
	if m == nil || m.Message == nil || m.FromMe || m.Broadcast {
		return ResultIgnored
	}
	if d.dedupe != nil && m.ID != "" && d.dedupe.Seen(m.Chat+"|"+m.ID) {
		slog.Debug("duplicate message dropped", "id", m.ID, "chat", m.Chat)
		return ResultDuplicate
	}

	text, ok := ExtractText(m.Message)
	if !ok {
		return ResultIgnored
	}

	s := d.Settings()
	normalized := s.Prefix.Apply(text)
	if !s.Prefix.IsCommand(normalized) {
		return d.fallback(ctx, s, m, text)
	}

	body := strings.TrimPrefix(normalized, s.Prefix.Marker())
	fields := strings.Fields(body)
	if len(fields) == 0 {
		return ResultIgnored
	}
	name := strings.ToLower(fields[0])
	args := fields[1:]
	rawArgs := strings.TrimSpace(strings.TrimLeftFunc(body, unicode.IsSpace)[len(fields[0]):])

	reqID := uuid.NewString()
	ctx, span := d.tracer.Start(ctx, "dispatch "+name, trace.WithAttributes(
		attribute.String("luxbot.command", name),
		attribute.String("luxbot.request_id", reqID),
		attribute.Bool("luxbot.group", m.IsGroup),
	))
	defer span.End()

	log := slog.With("request_id", reqID, "command", name, "chat", m.Chat, "sender", m.Sender)

	cmd, ok := d.Registry().Resolve(name)
	if !ok {
		log.Debug("unknown command")
		d.reply(ctx, m, fmt.Sprintf(MsgUnknownCommand, name))
		span.SetAttributes(attribute.String("luxbot.result", string(ResultUnknown)))
		return ResultUnknown
	}

	isOwner := d.IsOwner(m.Sender)
	if cmd.OwnerOnly && !isOwner {
		log.Info("owner-only command denied")
		d.reply(ctx, m, MsgOwnerOnly)
		span.SetAttributes(attribute.String("luxbot.result", string(ResultDenied)))
		return ResultDenied
	}
	if cmd.GroupOnly && !m.IsGroup {
		d.reply(ctx, m, MsgGroupOnly)
		span.SetAttributes(attribute.String("luxbot.result", string(ResultDenied)))
		return ResultDenied
	}

	if !d.limiter.Allow(m.SenderKey(), s.RateLimit, s.RateWindow) {
		log.Info("command rate limited", "limit", s.RateLimit, "window", s.RateWindow)
		if !s.SilentThrottle {
			d.reply(ctx, m, MsgThrottled)
		}
		span.SetAttributes(attribute.String("luxbot.result", string(ResultThrottled)))
		return ResultThrottled
	}

	c := &Context{
		Msg:       m,
		Name:      name,
		Args:      args,
		RawArgs:   rawArgs,
		Command:   cmd,
		RequestID: reqID,
		IsOwner:   isOwner,
		d:         d,
	}

	start := time.Now()
	if err := d.run(ctx, s.Timeout, cmd.Handler, c); err != nil {
		log.Error("command failed", "error", err, "duration_ms", time.Since(start).Milliseconds())
		span.RecordError(err)
		span.SetStatus(codes.Error, "command failed")
		d.reply(ctx, m, MsgCommandFailed)
		return ResultFailed
	}
	log.Debug("command handled", "duration_ms", time.Since(start).Milliseconds())
	span.SetAttributes(attribute.String("luxbot.result", string(ResultHandled)))
	return ResultHandled
}

// run executes h with a deadline inside a recover boundary. A handler that
// outlives the deadline keeps running in the background; its result is dropped.
func (d *Dispatcher) run(ctx context.Context, timeout time.Duration, h HandlerFunc, c *Context) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("command panicked", "request_id", c.RequestID, "panic", r, "stack", string(debug.Stack()))
				done <- fmt.Errorf("panic: %v", r)
			}
		}()
		done <- h(ctx, c)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("command %s: %w", c.Name, ctx.Err())
	}
}

func (d *Dispatcher) fallback(ctx context.Context, s Settings, m *Inbound, text string) Result {
	if s.Fallback != FallbackEcho || !d.flags.Echo(m.Chat) {
		return ResultIgnored
	}
	d.reply(ctx, m, text)
	return ResultFallback
}

func (d *Dispatcher) reply(ctx context.Context, m *Inbound, text string) {
	if err := d.sender.SendText(ctx, m.Chat, text, m); err != nil {
		slog.Warn("reply failed", "chat", m.Chat, "error", err)
	}
}

// NormalizeUser reduces a JID or phone number to its user part:
// "+1 555-000@s.whatsapp.net" and "1555000:12@s.whatsapp.net" both give "1555000".
func NormalizeUser(id string) string {
	id = strings.TrimSpace(id)
	if at := strings.IndexByte(id, '@'); at >= 0 {
		id = id[:at]
	}
	if colon := strings.IndexByte(id, ':'); colon >= 0 {
		id = id[:colon]
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '+', ' ', '-', '(', ')':
			return -1
		}
		return r
	}, id)
}
