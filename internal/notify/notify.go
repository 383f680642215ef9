// Package notify delivers operator-facing notifications about campaign
// dispatches and instance lifecycle changes.
package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Kind identifies a notification
type Kind string

const (
	KindDispatchSucceeded Kind = "dispatch_succeeded"
	KindDispatchFailed    Kind = "dispatch_failed"
	KindIntentAbandoned   Kind = "intent_abandoned"
	KindInstanceCreated   Kind = "instance_created"
	KindStatusChanged     Kind = "status_changed"
	KindStatusMismatch    Kind = "status_mismatch"
	KindQRRefreshed       Kind = "qr_refreshed"
	KindPairingOpened     Kind = "pairing_opened"
	KindPairingClosed     Kind = "pairing_closed"
	KindDisconnected      Kind = "disconnected"
	KindOperationFailed   Kind = "operation_failed"
)

// Notification is a single operator message
type Notification struct {
	Kind       Kind      `json:"kind"`
	Instance   string    `json:"instance,omitempty"`
	CampaignID string    `json:"campaign_id,omitempty"`
	Operation  string    `json:"operation,omitempty"`
	Message    string    `json:"message"`
	Error      string    `json:"error,omitempty"`
	Time       time.Time `json:"time"`
}

// IsError reports whether the notification describes a failure
func (n Notification) IsError() bool {
	return n.Kind == KindDispatchFailed || n.Kind == KindOperationFailed || n.Kind == KindIntentAbandoned
}

// Notifier receives notifications. Implementations must not block the caller
// for long and report their own delivery failures.
type Notifier interface {
	Notify(ctx context.Context, n Notification)
}

// Nop discards notifications
type Nop struct{}

func (Nop) Notify(context.Context, Notification) {}

// Logger writes notifications to a slog logger
type Logger struct {
	logger *slog.Logger
}

// NewLogger creates a log-backed notifier
func NewLogger(logger *slog.Logger) *Logger {
	return &Logger{logger: logger.With("component", "notify")}
}

func (l *Logger) Notify(ctx context.Context, n Notification) {
	attrs := []any{"kind", n.Kind}
	if n.Instance != "" {
		attrs = append(attrs, "instance", n.Instance)
	}
	if n.CampaignID != "" {
		attrs = append(attrs, "campaign_id", n.CampaignID)
	}
	if n.Operation != "" {
		attrs = append(attrs, "operation", n.Operation)
	}
	if n.Error != "" {
		attrs = append(attrs, "error", n.Error)
	}

	if n.IsError() {
		l.logger.WarnContext(ctx, n.Message, attrs...)
		return
	}
	l.logger.InfoContext(ctx, n.Message, attrs...)
}

// Multi fans a notification out to several notifiers
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, n Notification) {
	for _, notifier := range m {
		notifier.Notify(ctx, n)
	}
}

// Chan buffers notifications for pull-based consumers such as the API's
// events endpoint. When the buffer is full the oldest entry is dropped.
type Chan struct {
	mu      sync.Mutex
	ch      chan Notification
	dropped int
}

// NewChan creates a channel notifier holding up to size notifications
func NewChan(size int) *Chan {
	if size <= 0 {
		size = 100
	}
	return &Chan{ch: make(chan Notification, size)}
}

func (c *Chan) Notify(ctx context.Context, n Notification) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for {
		select {
		case c.ch <- n:
			return
		default:
		}
		select {
		case <-c.ch:
			c.dropped++
		default:
		}
	}
}

// C exposes the receive side
func (c *Chan) C() <-chan Notification {
	return c.ch
}

// Drain returns everything currently buffered without blocking
func (c *Chan) Drain() []Notification {
	var out []Notification
	for {
		select {
		case n := <-c.ch:
			out = append(out, n)
		default:
			return out
		}
	}
}

// Dropped returns how many notifications were discarded on overflow
func (c *Chan) Dropped() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropped
}

// New stamps a notification with the current time
func New(kind Kind, message string) Notification {
	return Notification{Kind: kind, Message: message, Time: time.Now().UTC()}
}
