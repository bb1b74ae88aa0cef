// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/samber/oops"

	"github.com/holomush/authcore/internal/observability"
)

// Lockout configuration bounds and defaults.
const (
	DefaultLockoutThreshold = 5
	DefaultLockoutDuration  = 15 * time.Minute

	MinLockoutThreshold = 1
	MaxLockoutThreshold = 100
	MinLockoutDuration  = time.Minute
	MaxLockoutDuration  = 24 * time.Hour
)

// LockoutPolicy decides when repeated failures lock an account.
type LockoutPolicy struct {
	// Threshold is the number of consecutive failures that triggers a lockout.
	Threshold int

	// Duration is how long the account stays locked.
	Duration time.Duration
}

// Validate rejects policies that could lock out every account or never lock.
func (p LockoutPolicy) Validate() error {
	if p.Threshold < MinLockoutThreshold || p.Threshold > MaxLockoutThreshold {
		return oops.Code("AUTH_INVALID_LOCKOUT_POLICY").
			With("threshold", p.Threshold).
			Errorf("lockout threshold must be between %d and %d", MinLockoutThreshold, MaxLockoutThreshold)
	}
	if p.Duration < MinLockoutDuration || p.Duration > MaxLockoutDuration {
		return oops.Code("AUTH_INVALID_LOCKOUT_POLICY").
			With("duration", p.Duration.String()).
			Errorf("lockout duration must be between %s and %s", MinLockoutDuration, MaxLockoutDuration)
	}
	return nil
}

// AttemptRecord tracks consecutive failures for one account identifier.
type AttemptRecord struct {
	Key           string
	Failures      int
	LastFailureAt time.Time
	LockedUntil   *time.Time
}

// LockStatus is the lockout state of an identifier at a point in time.
type LockStatus struct {
	Locked       bool
	Failures     int
	RetryAfterMs int64
	LockedUntil  *time.Time
}

// Status evaluates a record at now. A lock that has run out reads as
// unlocked with zero failures; nothing needs to sweep it.
func (p LockoutPolicy) Status(rec *AttemptRecord, now time.Time) LockStatus {
	if rec == nil {
		return LockStatus{}
	}
	if rec.LockedUntil != nil {
		if now.Before(*rec.LockedUntil) {
			until := *rec.LockedUntil
			return LockStatus{
				Locked:       true,
				Failures:     rec.Failures,
				RetryAfterMs: until.Sub(now).Milliseconds(),
				LockedUntil:  &until,
			}
		}
		return LockStatus{}
	}
	return LockStatus{Failures: rec.Failures}
}

// Apply returns the record after one more failure at now.
// A record that is still locked is returned unchanged.
func (p LockoutPolicy) Apply(rec AttemptRecord, now time.Time) AttemptRecord {
	if rec.LockedUntil != nil {
		if now.Before(*rec.LockedUntil) {
			return rec
		}
		rec.Failures = 0
		rec.LockedUntil = nil
	}

	rec.Failures++
	rec.LastFailureAt = now
	if rec.Failures >= p.Threshold {
		until := now.Add(p.Duration)
		rec.LockedUntil = &until
	}
	return rec
}

// AttemptStore persists attempt records. RecordFailure must read, apply the
// policy and write as one atomic step per key.
type AttemptStore interface {
	// Get returns the record for key, or ErrNotFound.
	Get(ctx context.Context, key string) (*AttemptRecord, error)

	// RecordFailure applies policy.Apply to the stored record (or an empty one)
	// and returns the result.
	RecordFailure(ctx context.Context, key string, policy LockoutPolicy, now time.Time) (*AttemptRecord, error)

	// Reset clears the record for key. Resetting a missing key is not an error.
	Reset(ctx context.Context, key string) error
}

// LoginAttempts tracks per-account failures and lockouts.
type LoginAttempts struct {
	store  AttemptStore
	policy LockoutPolicy
	clock  Clock
	logger *slog.Logger
}

// NewLoginAttempts creates a LoginAttempts service.
func NewLoginAttempts(store AttemptStore, policy LockoutPolicy, clock Clock, logger *slog.Logger) (*LoginAttempts, error) {
	if store == nil {
		return nil, oops.Code("AUTH_INVALID_DEPENDENCY").Errorf("attempt store is required")
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
	return &LoginAttempts{store: store, policy: policy, clock: clock, logger: logger}, nil
}

// IsLocked reports whether identifier is currently locked out.
func (a *LoginAttempts) IsLocked(ctx context.Context, identifier string) (Result[LockStatus], error) {
	rec, err := a.store.Get(ctx, identifier)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Succeed(LockStatus{}), nil
		}
		return Result[LockStatus]{}, oops.Code("AUTH_LOCKOUT_CHECK_FAILED").
			With("operation", "get attempt record").
			Wrap(err)
	}
	return Succeed(a.policy.Status(rec, a.clock.Now())), nil
}

// RecordFailure counts one failed attempt and returns the resulting status.
func (a *LoginAttempts) RecordFailure(ctx context.Context, identifier string) (LockStatus, error) {
	now := a.clock.Now()
	rec, err := a.store.RecordFailure(ctx, identifier, a.policy, now)
	if err != nil {
		return LockStatus{}, oops.Code("AUTH_RECORD_FAILURE_FAILED").
			With("operation", "record failure").
			Wrap(err)
	}

	status := a.policy.Status(rec, now)
	if status.Locked && rec.Failures == a.policy.Threshold && rec.LastFailureAt.Equal(now) {
		observability.RecordLockout()
		a.logger.WarnContext(ctx, "account locked",
			"event", "account_locked",
			"identifier", identifier,
			"failures", rec.Failures,
			"locked_until", status.LockedUntil,
		)
	}
	return status, nil
}

// RecordSuccess resets the failure counter for identifier.
func (a *LoginAttempts) RecordSuccess(ctx context.Context, identifier string) error {
	if err := a.store.Reset(ctx, identifier); err != nil {
		return oops.Code("AUTH_RECORD_SUCCESS_FAILED").
			With("operation", "reset attempts").
			Wrap(err)
	}
	return nil
}
