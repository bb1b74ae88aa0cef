// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"errors"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Session binds an issued token pair to one identity.
type Session struct {
	ID                ulid.ULID
	IdentityID        ulid.ULID
	AccessTokenDigest string
	AccessExpiresAt   time.Time
	ResetTokenDigest  string
	ResetExpiresAt    time.Time
	SourceIP          string
	UserAgent         string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// NewSession builds a validated Session from freshly issued tokens.
// SourceIP and UserAgent are optional.
func NewSession(issued *IssuedSession, sourceIP, userAgent string) (*Session, error) {
	if issued == nil {
		return nil, oops.Code("SESSION_INVALID").Errorf("issued session cannot be nil")
	}
	if isZeroID(issued.SessionID) {
		return nil, oops.Code("SESSION_INVALID_ID").Errorf("session ID cannot be zero")
	}
	if isZeroID(issued.IdentityID) {
		return nil, oops.Code("SESSION_INVALID_IDENTITY").Errorf("identity ID cannot be zero")
	}
	if issued.AccessTokenDigest == "" || issued.ResetTokenDigest == "" {
		return nil, oops.Code("SESSION_INVALID_HASH").Errorf("token digests cannot be empty")
	}
	if !issued.AccessExpiresAt.After(issued.IssuedAt) {
		return nil, oops.Code("SESSION_INVALID_EXPIRY").
			With("issued_at", issued.IssuedAt).
			With("access_expires_at", issued.AccessExpiresAt).
			Errorf("access expiry must be after creation")
	}

	return &Session{
		ID:                issued.SessionID,
		IdentityID:        issued.IdentityID,
		AccessTokenDigest: issued.AccessTokenDigest,
		AccessExpiresAt:   issued.AccessExpiresAt,
		ResetTokenDigest:  issued.ResetTokenDigest,
		ResetExpiresAt:    issued.ResetExpiresAt,
		SourceIP:          sourceIP,
		UserAgent:         userAgent,
		CreatedAt:         issued.IssuedAt,
		UpdatedAt:         issued.IssuedAt,
	}, nil
}

// IsAccessExpiredAt reports whether the access token is unusable at t.
// The expiry instant itself counts as expired.
func (s *Session) IsAccessExpiredAt(t time.Time) bool {
	return !t.Before(s.AccessExpiresAt)
}

// IsResetExpiredAt reports whether the reset token is unusable at t.
func (s *Session) IsResetExpiredAt(t time.Time) bool {
	return !t.Before(s.ResetExpiresAt)
}

// SessionRepository manages session persistence.
type SessionRepository interface {
	// Create stores a new session. Returns ErrDuplicate if the ID exists and
	// ErrIdentityNotFound if the owning identity does not.
	Create(ctx context.Context, session *Session) error

	// FindFirst returns the session matching both IDs with the latest access
	// expiry. Returns ErrNotFound if there is none.
	FindFirst(ctx context.Context, identityID, sessionID ulid.ULID) (*Session, error)

	// Touch updates UpdatedAt for a session.
	Touch(ctx context.Context, id ulid.ULID, updatedAt time.Time) error

	// Delete removes a session by ID. Returns ErrNotFound if it does not exist.
	Delete(ctx context.Context, id ulid.ULID) error

	// DeleteByIdentity removes all sessions for an identity.
	DeleteByIdentity(ctx context.Context, identityID ulid.ULID) (int64, error)

	// DeleteOldest removes all but the newest keep sessions of an identity.
	DeleteOldest(ctx context.Context, identityID ulid.ULID, keep int) (int64, error)

	// DeleteExpired removes sessions whose access and reset tokens have both
	// expired at now, returning the count of deleted records.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// SessionStore maps repository errors onto result codes.
type SessionStore struct {
	repo SessionRepository
}

// NewSessionStore creates a SessionStore.
func NewSessionStore(repo SessionRepository) (*SessionStore, error) {
	if repo == nil {
		return nil, oops.Code("AUTH_INVALID_DEPENDENCY").Errorf("session repository is required")
	}
	return &SessionStore{repo: repo}, nil
}

// Create persists a session. A duplicate ID fails with SESSION_DUPLICATE and a
// missing owner with IDENTITY_NOT_FOUND; any other error is returned.
func (s *SessionStore) Create(ctx context.Context, session *Session) (Result[*Session], error) {
	err := s.repo.Create(ctx, session)
	switch {
	case err == nil:
		return Succeed(session), nil
	case errors.Is(err, ErrDuplicate):
		return Fail[*Session](CodeSessionDuplicate, "session already exists"), nil
	case errors.Is(err, ErrIdentityNotFound):
		return Fail[*Session](CodeIdentityNotFound, "identity not found"), nil
	default:
		return Result[*Session]{}, oops.Code("SESSION_CREATE_FAILED").
			With("session_id", session.ID.String()).
			Wrap(err)
	}
}

// FindFirst returns the freshest matching session, or nil when there is none.
func (s *SessionStore) FindFirst(ctx context.Context, identityID, sessionID ulid.ULID) (*Session, error) {
	session, err := s.repo.FindFirst(ctx, identityID, sessionID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, oops.Code("SESSION_FIND_FAILED").
			With("identity_id", identityID.String()).
			With("session_id", sessionID.String()).
			Wrap(err)
	}
	return session, nil
}

// Touch records activity on a session.
func (s *SessionStore) Touch(ctx context.Context, id ulid.ULID, at time.Time) error {
	if err := s.repo.Touch(ctx, id, at); err != nil {
		return oops.Code("SESSION_TOUCH_FAILED").With("session_id", id.String()).Wrap(err)
	}
	return nil
}

// Delete removes one session. It reports false when the session did not exist.
func (s *SessionStore) Delete(ctx context.Context, id ulid.ULID) (bool, error) {
	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, oops.Code("SESSION_DELETE_FAILED").With("session_id", id.String()).Wrap(err)
	}
	return true, nil
}

// DeleteByIdentity removes every session of an identity.
func (s *SessionStore) DeleteByIdentity(ctx context.Context, identityID ulid.ULID) (int64, error) {
	n, err := s.repo.DeleteByIdentity(ctx, identityID)
	if err != nil {
		return 0, oops.Code("SESSION_DELETE_FAILED").With("identity_id", identityID.String()).Wrap(err)
	}
	return n, nil
}

// Prune keeps only the newest keep sessions of an identity. keep <= 0 is a no-op.
func (s *SessionStore) Prune(ctx context.Context, identityID ulid.ULID, keep int) (int64, error) {
	if keep <= 0 {
		return 0, nil
	}
	n, err := s.repo.DeleteOldest(ctx, identityID, keep)
	if err != nil {
		return 0, oops.Code("SESSION_PRUNE_FAILED").
			With("identity_id", identityID.String()).
			With("keep", keep).
			Wrap(err)
	}
	return n, nil
}

// DeleteExpired removes sessions that can no longer be used or refreshed.
func (s *SessionStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	n, err := s.repo.DeleteExpired(ctx, now)
	if err != nil {
		return 0, oops.Code("SESSION_SWEEP_FAILED").Wrap(err)
	}
	return n, nil
}
