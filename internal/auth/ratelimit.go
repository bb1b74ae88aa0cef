// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"log/slog"
	"time"

	"github.com/gobwas/glob"
	"github.com/samber/oops"

	"github.com/holomush/authcore/internal/observability"
)

// Rate limit configuration bounds.
const (
	MinRateLimitRequests = 1
	MaxRateLimitRequests = 1000
	MinRateLimitWindow   = time.Second
	MaxRateLimitWindow   = time.Hour
)

// unknownSource keys requests that arrive without a source identifier.
const unknownSource = "unknown"

// rateLimitKeyPrefix namespaces sign-in windows in shared stores.
const rateLimitKeyPrefix = "signin:"

// RateLimitPolicy configures the fixed-window limiter. A zero Window disables it.
type RateLimitPolicy struct {
	MaxRequests int
	Window      time.Duration

	// Exempt lists source globs that bypass the limiter, e.g. "10.0.**".
	Exempt []string
}

// Enabled reports whether the limiter does anything.
func (p RateLimitPolicy) Enabled() bool {
	return p.Window > 0
}

// Validate checks bounds of an enabled policy.
func (p RateLimitPolicy) Validate() error {
	if !p.Enabled() {
		return nil
	}
	if p.MaxRequests < MinRateLimitRequests || p.MaxRequests > MaxRateLimitRequests {
		return oops.Code("AUTH_INVALID_RATE_LIMIT").
			With("max_requests", p.MaxRequests).
			Errorf("rate limit max requests must be between %d and %d", MinRateLimitRequests, MaxRateLimitRequests)
	}
	if p.Window < MinRateLimitWindow || p.Window > MaxRateLimitWindow {
		return oops.Code("AUTH_INVALID_RATE_LIMIT").
			With("window", p.Window.String()).
			Errorf("rate limit window must be between %s and %s", MinRateLimitWindow, MaxRateLimitWindow)
	}
	return nil
}

// CompileExempt compiles exempt patterns. '.' and ':' separate segments so a
// single '*' stays within one IPv4 octet or IPv6 group.
func CompileExempt(patterns []string) ([]glob.Glob, error) {
	globs := make([]glob.Glob, 0, len(patterns))
	for _, p := range patterns {
		g, err := glob.Compile(p, '.', ':')
		if err != nil {
			return nil, oops.Code("AUTH_INVALID_RATE_LIMIT").With("pattern", p).Wrap(err)
		}
		globs = append(globs, g)
	}
	return globs, nil
}

// Window is the counter state for one source key.
type Window struct {
	Count int
	Start time.Time
}

// AdvanceWindow returns the window after one more request at now. Elapsed
// windows restart at 1. The count never exceeds limit+1.
func AdvanceWindow(w *Window, limit int, window time.Duration, now time.Time) Window {
	if w == nil || now.Sub(w.Start) >= window {
		return Window{Count: 1, Start: now}
	}
	next := *w
	if next.Count <= limit {
		next.Count++
	}
	return next
}

// WindowStore holds fixed-window counters. Hit must apply AdvanceWindow
// atomically per key and return the resulting window.
type WindowStore interface {
	Hit(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (Window, error)
}

// Allowance describes an admitted request.
type Allowance struct {
	// Remaining is the number of further requests allowed in the current window.
	Remaining int

	// ResetAt is when the current window ends. Zero when the limiter is
	// disabled or the source is exempt.
	ResetAt time.Time

	// Exempt is set when the source matched an exempt pattern.
	Exempt bool
}

// RateLimiter throttles requests per source identifier.
type RateLimiter struct {
	store  WindowStore
	policy RateLimitPolicy
	exempt []glob.Glob
	clock  Clock
	logger *slog.Logger
}

// NewRateLimiter creates a RateLimiter. store may be nil when the policy is disabled.
func NewRateLimiter(store WindowStore, policy RateLimitPolicy, clock Clock, logger *slog.Logger) (*RateLimiter, error) {
	if policy.Enabled() && store == nil {
		return nil, oops.Code("AUTH_INVALID_DEPENDENCY").Errorf("window store is required")
	}
	if clock == nil {
		return nil, oops.Code("AUTH_INVALID_DEPENDENCY").Errorf("clock is required")
	}
	if logger == nil {
		return nil, oops.Code("AUTH_INVALID_DEPENDENCY").Errorf("logger is required")
	}
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	exempt, err := CompileExempt(policy.Exempt)
	if err != nil {
		return nil, err
	}
	return &RateLimiter{store: store, policy: policy, exempt: exempt, clock: clock, logger: logger}, nil
}

// Check counts one request from sourceID. It fails with RATE_LIMITED once the
// window's budget is spent. Store errors are returned as errors.
func (r *RateLimiter) Check(ctx context.Context, sourceID string) (Result[Allowance], error) {
	if !r.policy.Enabled() {
		return Succeed(Allowance{Remaining: r.policy.MaxRequests}), nil
	}
	if sourceID == "" {
		sourceID = unknownSource
	}
	for _, g := range r.exempt {
		if g.Match(sourceID) {
			return Succeed(Allowance{Remaining: r.policy.MaxRequests, Exempt: true}), nil
		}
	}

	now := r.clock.Now()
	w, err := r.store.Hit(ctx, rateLimitKeyPrefix+sourceID, r.policy.MaxRequests, r.policy.Window, now)
	if err != nil {
		return Result[Allowance]{}, oops.Code("AUTH_RATE_LIMIT_CHECK_FAILED").
			With("operation", "hit window").
			With("source", sourceID).
			Wrap(err)
	}

	resetAt := w.Start.Add(r.policy.Window)
	if w.Count > r.policy.MaxRequests {
		observability.RecordRateLimited()
		r.logger.WarnContext(ctx, "rate limited",
			"event", "rate_limited",
			"source", sourceID,
			"reset_at", resetAt,
		)
		return FailRetry[Allowance](CodeRateLimited, "too many requests", resetAt.Sub(now)), nil
	}
	return Succeed(Allowance{Remaining: r.policy.MaxRequests - w.Count, ResetAt: resetAt}), nil
}
