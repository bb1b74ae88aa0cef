// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/holomush/authcore/internal/auth"
)

const sessionColumns = `id, identity_id, access_token_digest, access_expires_at,
	reset_token_digest, reset_expires_at, source_ip, user_agent, created_at, updated_at`

// SessionRepository implements auth.SessionRepository using PostgreSQL.
type SessionRepository struct {
	pool poolIface
}

// NewSessionRepository creates a new SessionRepository.
func NewSessionRepository(pool poolIface) *SessionRepository {
	return &SessionRepository{pool: pool}
}

// Create stores a new session. A reused id or digest maps to
// auth.ErrDuplicate; a missing owner maps to auth.ErrIdentityNotFound.
func (r *SessionRepository) Create(ctx context.Context, session *auth.Session) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO sessions (`+sessionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		session.ID.String(),
		session.IdentityID.String(),
		session.AccessTokenDigest,
		session.AccessExpiresAt,
		session.ResetTokenDigest,
		session.ResetExpiresAt,
		session.SourceIP,
		session.UserAgent,
		session.CreatedAt,
		session.UpdatedAt,
	)
	switch {
	case err == nil:
		return nil
	case isUniqueViolation(err):
		return oops.Code("SESSION_DUPLICATE").
			With("session_id", session.ID.String()).
			Wrap(auth.ErrDuplicate)
	case isForeignKeyViolation(err):
		return oops.Code("IDENTITY_NOT_FOUND").
			With("identity_id", session.IdentityID.String()).
			Wrap(auth.ErrIdentityNotFound)
	default:
		return oops.Code("SESSION_CREATE_FAILED").
			With("operation", "insert session").
			With("identity_id", session.IdentityID.String()).
			Wrap(err)
	}
}

// FindFirst returns the session (identityID, sessionID) with the latest
// access expiry.
func (r *SessionRepository) FindFirst(ctx context.Context, identityID, sessionID ulid.ULID) (*auth.Session, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+sessionColumns+`
		FROM sessions
		WHERE identity_id = $1 AND id = $2
		ORDER BY access_expires_at DESC
		LIMIT 1
	`, identityID.String(), sessionID.String())

	session, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("SESSION_NOT_FOUND").
			With("session_id", sessionID.String()).
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("SESSION_FIND_FAILED").
			With("operation", "find session").
			With("session_id", sessionID.String()).
			Wrap(err)
	}
	return session, nil
}

// Touch sets updated_at on a session.
func (r *SessionRepository) Touch(ctx context.Context, id ulid.ULID, updatedAt time.Time) error {
	result, err := r.pool.Exec(ctx, `
		UPDATE sessions SET updated_at = $2
		WHERE id = $1
	`, id.String(), updatedAt)
	if err != nil {
		return oops.Code("SESSION_TOUCH_FAILED").
			With("operation", "update updated_at").
			With("session_id", id.String()).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("SESSION_NOT_FOUND").
			With("session_id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	return nil
}

// Delete removes a session by ID.
func (r *SessionRepository) Delete(ctx context.Context, id ulid.ULID) error {
	result, err := r.pool.Exec(ctx, `DELETE FROM sessions WHERE id = $1`, id.String())
	if err != nil {
		return oops.Code("SESSION_DELETE_FAILED").
			With("operation", "delete session").
			With("session_id", id.String()).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("SESSION_NOT_FOUND").
			With("session_id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	return nil
}

// DeleteByIdentity removes every session of an identity.
func (r *SessionRepository) DeleteByIdentity(ctx context.Context, identityID ulid.ULID) (int64, error) {
	result, err := r.pool.Exec(ctx, `DELETE FROM sessions WHERE identity_id = $1`, identityID.String())
	if err != nil {
		return 0, oops.Code("SESSION_DELETE_BY_IDENTITY_FAILED").
			With("operation", "delete sessions by identity").
			With("identity_id", identityID.String()).
			Wrap(err)
	}
	return result.RowsAffected(), nil
}

// DeleteOldest keeps the newest keep sessions of an identity and removes the rest.
func (r *SessionRepository) DeleteOldest(ctx context.Context, identityID ulid.ULID, keep int) (int64, error) {
	result, err := r.pool.Exec(ctx, `
		DELETE FROM sessions
		WHERE identity_id = $1 AND id NOT IN (
			SELECT id FROM sessions
			WHERE identity_id = $1
			ORDER BY created_at DESC, id DESC
			LIMIT $2
		)
	`, identityID.String(), keep)
	if err != nil {
		return 0, oops.Code("SESSION_DELETE_OLDEST_FAILED").
			With("operation", "delete oldest sessions").
			With("identity_id", identityID.String()).
			With("keep", keep).
			Wrap(err)
	}
	return result.RowsAffected(), nil
}

// DeleteExpired removes sessions whose access and reset tokens have both expired.
func (r *SessionRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.pool.Exec(ctx, `
		DELETE FROM sessions
		WHERE access_expires_at <= $1 AND reset_expires_at <= $1
	`, now)
	if err != nil {
		return 0, oops.Code("SESSION_DELETE_EXPIRED_FAILED").
			With("operation", "delete expired sessions").
			Wrap(err)
	}
	return result.RowsAffected(), nil
}

// scanSession scans a single row into a Session.
// Callers are responsible for handling pgx.ErrNoRows.
func scanSession(row pgx.Row) (*auth.Session, error) {
	var (
		idStr         string
		identityIDStr string
		session       auth.Session
	)
	err := row.Scan(
		&idStr,
		&identityIDStr,
		&session.AccessTokenDigest,
		&session.AccessExpiresAt,
		&session.ResetTokenDigest,
		&session.ResetExpiresAt,
		&session.SourceIP,
		&session.UserAgent,
		&session.CreatedAt,
		&session.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err //nolint:wrapcheck // callers wrap with context-specific info
		}
		return nil, oops.Code("SESSION_SCAN_FAILED").With("operation", "scan session").Wrap(err)
	}

	if session.ID, err = ulid.Parse(idStr); err != nil {
		return nil, oops.Code("SESSION_INVALID_ID").
			With("operation", "parse session id").
			With("id", idStr).
			Wrap(err)
	}
	if session.IdentityID, err = ulid.Parse(identityIDStr); err != nil {
		return nil, oops.Code("SESSION_INVALID_IDENTITY_ID").
			With("operation", "parse identity id").
			With("identity_id", identityIDStr).
			Wrap(err)
	}
	return &session, nil
}

// Compile-time interface check.
var _ auth.SessionRepository = (*SessionRepository)(nil)
