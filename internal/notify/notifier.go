// Package notify delivers operational alerts (leadership changes, flush
// failures, feed drops) to webhook channels. Delivery is best-effort and
// rate-limited per event kind so a flapping feed cannot page an operator
// once per tick.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Event kinds raised by the pipeline.
const (
	EventLeaderElected    = "leader_elected"
	EventLeaderLost       = "leader_lost"
	EventFlushFailed      = "flush_failed"
	EventFeedDisconnected = "feed_disconnected"
)

// throttleWindow is the minimum spacing between two alerts of the same kind.
const throttleWindow = time.Minute

// Sender is one delivery channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Notifier fans one event out to every configured sender. Events not in the
// allowed set are dropped; an empty set allows everything. A repeated event
// kind inside the throttle window is dropped silently.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	logger  *slog.Logger

	mu       sync.Mutex
	lastSent map[string]time.Time
}

// New creates a Notifier delivering to senders, filtered to the given event
// kinds.
func New(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	return &Notifier{
		senders:  senders,
		events:   allowed,
		logger:   logger.With(slog.String("component", "notifier")),
		lastSent: make(map[string]time.Time),
	}
}

// Enabled reports whether at least one sender is configured.
func (n *Notifier) Enabled() bool { return len(n.senders) > 0 }

// Notify delivers one event to every sender. It never returns an error to
// the pipeline; failed senders are logged and skipped.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) {
	if len(n.senders) == 0 {
		return
	}
	if len(n.events) > 0 && !n.events[event] {
		return
	}
	if !n.pass(event) {
		n.logger.Debug("alert throttled", slog.String("event", event))
		return
	}

	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.Warn("alert delivery failed",
				slog.String("sender", s.Name()),
				slog.String("event", event),
				slog.String("error", err.Error()),
			)
			continue
		}
		n.logger.Debug("alert delivered",
			slog.String("sender", s.Name()),
			slog.String("event", event),
		)
	}
}

// Notifyf formats the message body before delivery.
func (n *Notifier) Notifyf(ctx context.Context, event, title, format string, args ...any) {
	n.Notify(ctx, event, title, fmt.Sprintf(format, args...))
}

// pass records the event time and reports whether enough time has elapsed
// since the previous alert of the same kind.
func (n *Notifier) pass(event string) bool {
	now := time.Now()
	n.mu.Lock()
	defer n.mu.Unlock()

	if last, ok := n.lastSent[event]; ok && now.Sub(last) < throttleWindow {
		return false
	}
	n.lastSent[event] = now
	return true
}
