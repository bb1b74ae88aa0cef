// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/samber/oops"

	"github.com/holomush/authcore/internal/auth"
)

// AttemptRepository implements auth.AttemptStore using PostgreSQL. Each
// failure is applied under a row lock so concurrent sign-ins serialize.
type AttemptRepository struct {
	pool poolIface
}

// NewAttemptRepository creates a new AttemptRepository.
func NewAttemptRepository(pool poolIface) *AttemptRepository {
	return &AttemptRepository{pool: pool}
}

// Get returns the failure record for key.
func (r *AttemptRepository) Get(ctx context.Context, key string) (*auth.AttemptRecord, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT key, failures, last_failure_at, locked_until
		FROM login_attempts
		WHERE key = $1
	`, key)

	rec, err := scanAttempt(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("ATTEMPT_NOT_FOUND").With("key", key).Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("ATTEMPT_GET_FAILED").
			With("operation", "get login attempts").
			With("key", key).
			Wrap(err)
	}
	return rec, nil
}

// RecordFailure applies one failure to the record for key inside a transaction.
func (r *AttemptRepository) RecordFailure(ctx context.Context, key string, policy auth.LockoutPolicy, now time.Time) (*auth.AttemptRecord, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, oops.Code("ATTEMPT_RECORD_FAILED").With("operation", "begin transaction").Wrap(err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	if _, err := tx.Exec(ctx, `
		INSERT INTO login_attempts (key, failures, last_failure_at)
		VALUES ($1, 0, $2)
		ON CONFLICT (key) DO NOTHING
	`, key, now); err != nil {
		return nil, oops.Code("ATTEMPT_RECORD_FAILED").
			With("operation", "ensure login attempts row").
			With("key", key).
			Wrap(err)
	}

	current, err := scanAttempt(tx.QueryRow(ctx, `
		SELECT key, failures, last_failure_at, locked_until
		FROM login_attempts
		WHERE key = $1
		FOR UPDATE
	`, key))
	if err != nil {
		return nil, oops.Code("ATTEMPT_RECORD_FAILED").
			With("operation", "lock login attempts row").
			With("key", key).
			Wrap(err)
	}

	next := policy.Apply(*current, now)
	if _, err := tx.Exec(ctx, `
		UPDATE login_attempts
		SET failures = $2, last_failure_at = $3, locked_until = $4
		WHERE key = $1
	`, key, next.Failures, next.LastFailureAt, next.LockedUntil); err != nil {
		return nil, oops.Code("ATTEMPT_RECORD_FAILED").
			With("operation", "update login attempts").
			With("key", key).
			Wrap(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, oops.Code("ATTEMPT_RECORD_FAILED").With("operation", "commit").With("key", key).Wrap(err)
	}
	return &next, nil
}

// Reset deletes the record for key.
func (r *AttemptRepository) Reset(ctx context.Context, key string) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM login_attempts WHERE key = $1`, key); err != nil {
		return oops.Code("ATTEMPT_RESET_FAILED").
			With("operation", "delete login attempts").
			With("key", key).
			Wrap(err)
	}
	return nil
}

// scanAttempt scans a single row into an AttemptRecord.
// Callers are responsible for handling pgx.ErrNoRows.
func scanAttempt(row pgx.Row) (*auth.AttemptRecord, error) {
	var rec auth.AttemptRecord
	if err := row.Scan(&rec.Key, &rec.Failures, &rec.LastFailureAt, &rec.LockedUntil); err != nil {
		return nil, err //nolint:wrapcheck // callers wrap with context-specific info
	}
	return &rec, nil
}

// Compile-time interface check.
var _ auth.AttemptStore = (*AttemptRepository)(nil)
