// Package heartbeat periodically reports the bot's response statistics.
package heartbeat

import (
	"context"
	"log/slog"
	"time"
)

// DefaultInterval is how often statistics are logged when no interval
// is configured.
const DefaultInterval = 10 * time.Minute

// Reporter is anything that can write a summary of itself to the log.
type Reporter interface {
	LogSummary()
}

// Service logs a summary on every tick and once more on shutdown.
type Service struct {
	interval time.Duration
	reporter Reporter
}

// NewService creates a heartbeat for r.
func NewService(interval time.Duration, r Reporter) *Service {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Service{interval: interval, reporter: r}
}

// Run blocks until ctx is cancelled.
func (s *Service) Run(ctx context.Context) {
	slog.Debug("Heartbeat started", "interval", s.interval)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.reporter.LogSummary()
			slog.Debug("Heartbeat stopped")
			return
		case <-ticker.C:
			s.reporter.LogSummary()
		}
	}
}
