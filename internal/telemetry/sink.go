// Package telemetry reports operational errors and exposes metrics.
package telemetry

import "log/slog"

// Sink accepts error reports. Report never blocks and never panics.
type Sink interface {
	Report(message string)
}

// Nop discards every report.
type Nop struct{}

// Report implements Sink.
func (Nop) Report(string) {}

// New returns a webhook sink for url, or Nop when url is empty.
func New(url string, logger *slog.Logger) Sink {
	if logger == nil {
		logger = slog.Default()
	}
	if url == "" {
		logger.Warn("[TELEMETRY] Error webhook URL is not defined, alerts disabled")
		return Nop{}
	}
	return NewWebhook(url, logger)
}
