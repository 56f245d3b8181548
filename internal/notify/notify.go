// Package notify surfaces soft user notifications and diagnostics reporting.
package notify

import (
	"context"
	"log/slog"
)

// Notifier delivers a non-blocking, best-effort user notification.
type Notifier interface {
	Notify(ctx context.Context, summary string)
}

// NotifyFunc adapts a function to the Notifier interface.
type NotifyFunc func(context.Context, string)

func (f NotifyFunc) Notify(ctx context.Context, summary string) {
	f(ctx, summary)
}

// Nop is a notifier that drops every notification.
type Nop struct{}

func (Nop) Notify(context.Context, string) {}

// Desktop routes notifications through the freedesktop DBus service.
type Desktop struct {
	logger *slog.Logger
}

// NewDesktop creates a desktop notifier; logger may be nil.
func NewDesktop(logger *slog.Logger) *Desktop {
	return &Desktop{logger: logger}
}

// Notify sends a transient desktop notification. Failures are logged, never returned.
func (d *Desktop) Notify(ctx context.Context, summary string) {
	if summary == "" {
		return
	}
	if _, err := desktopNotify(ctx, "recollect", 0, summary, 4000); err != nil && d.logger != nil {
		d.logger.Warn("desktop notification failed", "error", err.Error(), "summary", summary)
	}
}
