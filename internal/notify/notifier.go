// Package notify fans operational alerts out to chat channels. The vault
// service reports restricted-state transitions, reconcile losses, keeper
// rebalances, and failed operations; operators choose which of those event
// kinds reach them via the configured event filter.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// Sender delivers one formatted alert to a single channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Notifier routes alerts to every configured Sender, filtered by event kind.
type Notifier struct {
	targets []Sender
	allow   map[string]bool
	logger  *slog.Logger
}

// NewNotifier builds a Notifier over the given senders. The events slice
// names the event kinds Notify will forward; an empty slice forwards
// everything.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allow := make(map[string]bool, len(events))
	for _, e := range events {
		allow[strings.TrimSpace(e)] = true
	}
	return &Notifier{
		targets: senders,
		allow:   allow,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Notify delivers an alert if its event kind passes the configured filter.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if len(n.allow) > 0 && !n.allow[event] {
		n.logger.DebugContext(ctx, "event filtered", slog.String("event", event))
		return nil
	}
	return n.deliver(ctx, title, message)
}

// NotifyAll delivers an alert to every sender, ignoring the event filter.
func (n *Notifier) NotifyAll(ctx context.Context, title, message string) error {
	return n.deliver(ctx, title, message)
}

// deliver sends to every target. A failing sender does not stop delivery to
// the rest; the failures come back joined.
func (n *Notifier) deliver(ctx context.Context, title, message string) error {
	if len(n.targets) == 0 {
		return nil
	}

	var failed []error
	for _, t := range n.targets {
		if err := t.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", t.Name()),
				slog.String("error", err.Error()))
			failed = append(failed, fmt.Errorf("%s: %w", t.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "alert delivered",
			slog.String("sender", t.Name()),
			slog.String("title", title))
	}
	if len(failed) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %w", len(failed), errors.Join(failed...))
	}
	return nil
}
