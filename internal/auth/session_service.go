// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// SessionService manages sessions after sign-in: sign-out, refresh and sweep.
type SessionService struct {
	sessions   *SessionStore
	identities IdentityRepository
	opener     sessionOpener
	clock      Clock
	logger     *slog.Logger
}

// NewSessionService creates a SessionService. maxSessions caps sessions per
// identity on refresh, as WithMaxSessions does for sign-in.
func NewSessionService(sessions *SessionStore, identities IdentityRepository, issuer *TokenIssuer, clock Clock, logger *slog.Logger, maxSessions int) (*SessionService, error) {
	switch {
	case sessions == nil:
		return nil, oops.Code("AUTH_INVALID_DEPENDENCY").Errorf("session store is required")
	case identities == nil:
		return nil, oops.Code("AUTH_INVALID_DEPENDENCY").Errorf("identity repository is required")
	case issuer == nil:
		return nil, oops.Code("AUTH_INVALID_DEPENDENCY").Errorf("token issuer is required")
	case clock == nil:
		return nil, oops.Code("AUTH_INVALID_DEPENDENCY").Errorf("clock is required")
	case logger == nil:
		return nil, oops.Code("AUTH_INVALID_DEPENDENCY").Errorf("logger is required")
	}
	return &SessionService{
		sessions:   sessions,
		identities: identities,
		opener: sessionOpener{
			issuer:      issuer,
			sessions:    sessions,
			logger:      logger,
			maxSessions: maxSessions,
		},
		clock:  clock,
		logger: logger,
	}, nil
}

// SignOut deletes one session owned by identityID.
func (s *SessionService) SignOut(ctx context.Context, identityID, sessionID ulid.ULID) Result[struct{}] {
	res, err := s.signOut(ctx, identityID, sessionID)
	return settle(ctx, s.logger, "sign-out", res, err)
}

func (s *SessionService) signOut(ctx context.Context, identityID, sessionID ulid.ULID) (Result[struct{}], error) {
	if isZeroID(identityID) || isZeroID(sessionID) {
		return Fail[struct{}](CodeValidation, "identity and session are required"), nil
	}
	session, err := s.sessions.FindFirst(ctx, identityID, sessionID)
	if err != nil {
		return Result[struct{}]{}, err
	}
	if session == nil {
		return Fail[struct{}](CodeSessionNotFound, "session not found"), nil
	}
	deleted, err := s.sessions.Delete(ctx, session.ID)
	if err != nil {
		return Result[struct{}]{}, err
	}
	if !deleted {
		return Fail[struct{}](CodeSessionNotFound, "session not found"), nil
	}
	s.logger.InfoContext(ctx, "session revoked",
		"event", "session_revoked",
		"identity_id", identityID.String(),
		"session_id", sessionID.String(),
	)
	return Succeed(struct{}{}), nil
}

// SignOutAll deletes every session of identityID and returns how many were removed.
func (s *SessionService) SignOutAll(ctx context.Context, identityID ulid.ULID) Result[int64] {
	if isZeroID(identityID) {
		return Fail[int64](CodeValidation, "identity is required")
	}
	n, err := s.sessions.DeleteByIdentity(ctx, identityID)
	if err != nil {
		return settle(ctx, s.logger, "sign-out all", Result[int64]{}, err)
	}
	s.logger.InfoContext(ctx, "sessions revoked",
		"event", "session_revoked",
		"identity_id", identityID.String(),
		"count", n,
	)
	return Succeed(n)
}

// Refresh trades a valid reset token for a brand new session. The old
// session is deleted; sessions are never extended in place.
func (s *SessionService) Refresh(ctx context.Context, identityID, sessionID ulid.ULID, resetToken, sourceIP string) Result[*SignInOutput] {
	res, err := s.refresh(ctx, identityID, sessionID, resetToken, sourceIP)
	return settle(ctx, s.logger, "session refresh", res, err)
}

func (s *SessionService) refresh(ctx context.Context, identityID, sessionID ulid.ULID, resetToken, sourceIP string) (Result[*SignInOutput], error) {
	if isZeroID(identityID) || isZeroID(sessionID) || resetToken == "" {
		return Fail[*SignInOutput](CodeValidation, "identity, session and reset token are required"), nil
	}

	session, err := s.sessions.FindFirst(ctx, identityID, sessionID)
	if err != nil {
		return Result[*SignInOutput]{}, err
	}
	if session == nil {
		return Fail[*SignInOutput](CodeSessionNotFound, "session not found"), nil
	}
	if session.IsResetExpiredAt(s.clock.Now()) {
		return Fail[*SignInOutput](CodeSessionExpired, "session has expired"), nil
	}
	match, err := VerifyToken(resetToken, session.ResetTokenDigest)
	if err != nil {
		return Result[*SignInOutput]{}, oops.Code("AUTH_REFRESH_FAILED").
			With("operation", "verify reset token").
			With("session_id", sessionID.String()).
			Wrap(err)
	}
	if !match {
		return Fail[*SignInOutput](CodeSessionInvalid, "reset token is invalid"), nil
	}

	identity, err := s.identities.GetByID(ctx, identityID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Fail[*SignInOutput](CodeIdentityNotFound, "identity not found"), nil
		}
		return Result[*SignInOutput]{}, oops.Code("AUTH_REFRESH_FAILED").
			With("operation", "get identity by id").
			With("identity_id", identityID.String()).
			Wrap(err)
	}

	// Whoever deletes the old session first wins a concurrent refresh.
	deleted, err := s.sessions.Delete(ctx, session.ID)
	if err != nil {
		return Result[*SignInOutput]{}, err
	}
	if !deleted {
		return Fail[*SignInOutput](CodeSessionNotFound, "session not found"), nil
	}

	return s.opener.open(ctx, identity, sourceIP)
}

// Sweep deletes sessions that can no longer be used or refreshed.
func (s *SessionService) Sweep(ctx context.Context) Result[int64] {
	n, err := s.sessions.DeleteExpired(ctx, s.clock.Now())
	if err != nil {
		return settle(ctx, s.logger, "session sweep", Result[int64]{}, err)
	}
	s.logger.InfoContext(ctx, "expired sessions swept", "count", n)
	return Succeed(n)
}
