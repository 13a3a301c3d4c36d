// Package notify delivers operator alerts to chat channels. Alerts carry an
// event type so operators can choose which ones they receive, and repeated
// alerts of one type can be throttled.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alanyoungcy/polyindexer/internal/domain"
)

// Event types raised by the indexer.
const (
	EventJobFailed      = "job_failed"
	EventChunkSkipped   = "chunk_skipped"
	EventMarketResolved = "market_resolved"
)

// Sender is one notification channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Notifier fans alerts out to every sender. Only event types in the allowed
// set are forwarded; an empty set allows everything.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	logger  *slog.Logger

	limiter domain.RateLimiter
	limit   int
	window  time.Duration
}

// NewNotifier creates a Notifier for senders, forwarding only events.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Throttle caps each event type at limit alerts per window. Alerts over the
// cap are dropped.
func (n *Notifier) Throttle(limiter domain.RateLimiter, limit int, window time.Duration) {
	n.limiter = limiter
	n.limit = limit
	n.window = window
}

// Enabled reports whether any sender is configured.
func (n *Notifier) Enabled() bool { return len(n.senders) > 0 }

// Notify forwards an alert of the given event type.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if len(n.senders) == 0 {
		return nil
	}
	if len(n.events) > 0 && !n.events[event] {
		n.logger.DebugContext(ctx, "event filtered out", slog.String("event", event))
		return nil
	}
	if n.limiter != nil && n.limit > 0 {
		ok, err := n.limiter.Allow(ctx, "notify:"+event, n.limit, n.window)
		if err != nil {
			// Deliver anyway; a broken limiter must not swallow alerts.
			n.logger.WarnContext(ctx, "alert throttle unavailable", slog.String("error", err.Error()))
		} else if !ok {
			n.logger.DebugContext(ctx, "alert throttled", slog.String("event", event))
			return nil
		}
	}
	return n.dispatch(ctx, title, message)
}

// dispatch sends to every sender; one failing sender does not stop the rest.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %w", errors.Join(errs...))
	}
	return nil
}
