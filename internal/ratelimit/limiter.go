package ratelimit

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultLimit  = 10
	DefaultWindow = time.Hour
)

// Limiter admits or denies requests per client identifier
type Limiter struct {
	store  Store
	limit  int
	window time.Duration
	now    func() time.Time
	logger *zap.Logger
}

// Option configures a Limiter
type Option func(*Limiter)

// WithClock replaces time.Now, mainly for tests
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// WithLogger attaches a logger for sweep diagnostics
func WithLogger(logger *zap.Logger) Option {
	return func(l *Limiter) { l.logger = logger }
}

// New creates a limiter. Non-positive limit or window fall back to 10 per hour.
func New(store Store, limit int, window time.Duration, opts ...Option) *Limiter {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if window <= 0 {
		window = DefaultWindow
	}

	l := &Limiter{
		store:  store,
		limit:  limit,
		window: window,
		now:    time.Now,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Limit returns the number of requests admitted per window
func (l *Limiter) Limit() int { return l.limit }

// Window returns the window length
func (l *Limiter) Window() time.Duration { return l.window }

// Allow sweeps expired records, then admits clientID if it still has quota in
// its current window. Denial never mutates the record.
func (l *Limiter) Allow(ctx context.Context, clientID string) (bool, error) {
	now := l.now()

	removed, err := l.store.Sweep(ctx, now.Add(-l.window))
	if err != nil {
		return false, fmt.Errorf("sweep rate limit records: %w", err)
	}
	if removed > 0 {
		l.logger.Debug("Swept expired rate limit records", zap.Int("removed", removed))
	}

	count, allowed, err := l.store.Increment(ctx, clientID, l.limit, l.window, now)
	if err != nil {
		return false, fmt.Errorf("increment rate limit for %s: %w", clientID, err)
	}

	if !allowed {
		l.logger.Debug("Rate limit reached",
			zap.String("client", clientID),
			zap.Int("count", count),
			zap.Int("limit", l.limit))
	}
	return allowed, nil
}

// Describe renders the quota as the hint returned to throttled clients
func (l *Limiter) Describe() string {
	if l.window == time.Hour {
		return fmt.Sprintf("每小时最多%d次请求", l.limit)
	}
	return fmt.Sprintf("每%s最多%d次请求", l.window, l.limit)
}
