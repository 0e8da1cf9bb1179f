// Package ratelimit implements the per-client fixed-window request limiter.
//
// A client may make at most Limit requests per Window. The first request from a
// client opens its window; once the window has elapsed the next request opens a
// fresh one. Counters live in a Store so the same limiter can run against a
// process-local map or a shared Redis instance.
package ratelimit

import (
	"context"
	"time"
)

// Record is the state kept for one client identifier
type Record struct {
	Count       int
	WindowStart time.Time
}

// Expired reports whether the record's window has fully elapsed at now
func (r Record) Expired(now time.Time, window time.Duration) bool {
	return now.Sub(r.WindowStart) > window
}

// Store keeps bounded-window counters keyed by client identity.
//
// Increment must check and bump the counter as one atomic step: a Store shared
// by concurrent requests may never let more than limit calls through within one
// window.
type Store interface {
	// Get returns the record for key, if one is tracked.
	Get(ctx context.Context, key string) (Record, bool, error)
	// Increment opens a new window at now when key has none (or its window
	// elapsed) with count 1, bumps the count when it is below limit, and
	// otherwise leaves it untouched. It returns the resulting count and whether
	// the request was admitted.
	Increment(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (int, bool, error)
	// Sweep drops records whose window started before cutoff and returns how
	// many were removed.
	Sweep(ctx context.Context, cutoff time.Time) (int, error)
}
