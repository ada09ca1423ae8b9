// Package retention periodically removes abandoned placeholder chats and
// expired auth records.
package retention

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/leo-pe2/ai-chat-main/internal/shared"
)

// Purger removes placeholder chats past their retention window.
type Purger interface {
	PurgeStalePlaceholders(ctx context.Context, now time.Time) (int64, error)
}

// AuthCleaner removes expired sessions and challenges.
type AuthCleaner interface {
	CleanupExpiredAuth(ctx context.Context, now time.Time) (int64, error)
}

// Result summarizes one sweep.
type Result struct {
	Chats int64
	Auth  int64
}

// Sweeper runs retention on a fixed interval.
type Sweeper struct {
	purger   Purger
	auth     AuthCleaner
	hooks    []func()
	interval time.Duration
	now      func() time.Time
	logger   *slog.Logger
}

// Option configures a Sweeper.
type Option func(*Sweeper)

// WithAuthCleaner also sweeps expired auth records.
func WithAuthCleaner(a AuthCleaner) Option {
	return func(s *Sweeper) { s.auth = a }
}

// WithHook runs fn after every sweep.
func WithHook(fn func()) Option {
	return func(s *Sweeper) { s.hooks = append(s.hooks, fn) }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Sweeper) { s.logger = l }
}

// New creates a sweeper that runs every interval.
func New(purger Purger, interval time.Duration, opts ...Option) *Sweeper {
	s := &Sweeper{
		purger:   purger,
		interval: interval,
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start sweeps once immediately and then on every tick until ctx is done.
func (s *Sweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	go func() {
		defer ticker.Stop()
		s.logger.Info("Retention worker started", "interval", s.interval)
		s.RunOnce(ctx)

		for {
			select {
			case <-ticker.C:
				s.RunOnce(ctx)
			case <-ctx.Done():
				s.logger.Info("Retention worker shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

// RunOnce performs a single sweep. Failures are logged, never returned.
func (s *Sweeper) RunOnce(ctx context.Context) Result {
	var res Result
	now := s.now()

	n, err := withRetry(ctx, func() (int64, error) { return s.purger.PurgeStalePlaceholders(ctx, now) })
	if err != nil {
		s.logger.Error("Retention worker failed to purge placeholder chats", "error", err)
	} else if n > 0 {
		res.Chats = n
		s.logger.Info("Retention worker purged placeholder chats", "count", n)
	}

	if s.auth != nil {
		n, err := withRetry(ctx, func() (int64, error) { return s.auth.CleanupExpiredAuth(ctx, now) })
		if err != nil {
			s.logger.Error("Retention worker failed to clean up auth records", "error", err)
		} else if n > 0 {
			res.Auth = n
			s.logger.Info("Retention worker removed expired auth records", "count", n)
		}
	}

	for _, hook := range s.hooks {
		hook()
	}
	return res
}

// withRetry retries fn with exponential backoff while the database reports
// lock contention.
func withRetry(ctx context.Context, fn func() (int64, error)) (int64, error) {
	const maxRetries = 3
	baseDelay := 100 * time.Millisecond

	var err error
	for i := 0; i < maxRetries; i++ {
		var n int64
		n, err = fn()
		if err == nil {
			return n, nil
		}
		if !shared.IsConflictError(err) || i == maxRetries-1 {
			break
		}

		delay := baseDelay * time.Duration(1<<i) // 100ms, 200ms, 400ms
		slog.Debug("Retention worker: database busy, retrying", "attempt", i+1, "delay", delay)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	return 0, fmt.Errorf("after retries: %w", err)
}
