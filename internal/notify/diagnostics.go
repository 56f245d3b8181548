package notify

import (
	"context"
	"log/slog"
)

// Diagnostics records non-fatal failures for later inspection. Implementations
// must swallow their own errors; a diagnostics sink never fails the caller.
type Diagnostics interface {
	Report(ctx context.Context, stage string, err error)
}

// LogDiagnostics writes diagnostics to the structured log.
type LogDiagnostics struct {
	logger *slog.Logger
}

// NewLogDiagnostics creates a log-backed diagnostics sink; logger may be nil.
func NewLogDiagnostics(logger *slog.Logger) *LogDiagnostics {
	return &LogDiagnostics{logger: logger}
}

func (d *LogDiagnostics) Report(_ context.Context, stage string, err error) {
	if d.logger == nil || err == nil {
		return
	}
	d.logger.Warn("diagnostic", "stage", stage, "error", err.Error())
}

// NopDiagnostics discards every report.
type NopDiagnostics struct{}

func (NopDiagnostics) Report(context.Context, string, error) {}
