// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/holomush/authcore/internal/observability"
	"github.com/holomush/authcore/pkg/errutil"
)

// SessionValidator resolves a presented access token to its identity.
type SessionValidator struct {
	sessions   *SessionStore
	identities IdentityRepository
	clock      Clock
	logger     *slog.Logger
	timeout    time.Duration
}

// ValidatorOption configures a SessionValidator during construction.
type ValidatorOption func(*SessionValidator)

// WithValidationTimeout bounds each Validate call. Zero disables the bound.
func WithValidationTimeout(d time.Duration) ValidatorOption {
	return func(v *SessionValidator) {
		v.timeout = d
	}
}

// NewSessionValidator creates a SessionValidator.
func NewSessionValidator(sessions *SessionStore, identities IdentityRepository, clock Clock, logger *slog.Logger, opts ...ValidatorOption) (*SessionValidator, error) {
	if sessions == nil {
		return nil, oops.Code("AUTH_INVALID_DEPENDENCY").Errorf("session store is required")
	}
	if identities == nil {
		return nil, oops.Code("AUTH_INVALID_DEPENDENCY").Errorf("identity repository is required")
	}
	if clock == nil {
		return nil, oops.Code("AUTH_INVALID_DEPENDENCY").Errorf("clock is required")
	}
	if logger == nil {
		return nil, oops.Code("AUTH_INVALID_DEPENDENCY").Errorf("logger is required")
	}

	v := &SessionValidator{
		sessions:   sessions,
		identities: identities,
		clock:      clock,
		logger:     logger,
		timeout:    DefaultOperationTimeout,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// Validate checks token against the session (identityID, sessionID) and
// returns the owning identity. A token presented at or after its expiry
// fails with SESSION_EXPIRED.
func (v *SessionValidator) Validate(ctx context.Context, identityID, sessionID ulid.ULID, token string) Result[*Identity] {
	ctx, cancel := withOperationTimeout(ctx, v.timeout)
	defer cancel()

	ctx, span := tracer.Start(ctx, "auth.validate_session",
		trace.WithAttributes(attribute.String("auth.session_id", sessionID.String())),
	)
	defer span.End()

	res, err := v.validate(ctx, identityID, sessionID, token)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "session validation failed")
		errutil.LogErrorContext(ctx, v.logger, "session validation failed", err)
		res = Fail[*Identity](CodeUnexpected, msgUnexpected)
	}

	outcome := outcomeOf(res.Code())
	span.SetAttributes(attribute.String("auth.outcome", outcome))
	observability.RecordSessionValidation(outcome)
	return res
}

func (v *SessionValidator) validate(ctx context.Context, identityID, sessionID ulid.ULID, token string) (Result[*Identity], error) {
	if isZeroID(identityID) || isZeroID(sessionID) || token == "" {
		return Fail[*Identity](CodeValidation, "identity, session and token are required"), nil
	}
	if err := ctx.Err(); err != nil {
		return Result[*Identity]{}, oops.Code("AUTH_VALIDATE_TIMEOUT").Wrap(err)
	}

	session, err := v.sessions.FindFirst(ctx, identityID, sessionID)
	if err != nil {
		return Result[*Identity]{}, err
	}
	if session == nil {
		return v.reject(ctx, sessionID, CodeSessionNotFound, "session not found"), nil
	}

	now := v.clock.Now()
	if session.IsAccessExpiredAt(now) {
		return v.reject(ctx, sessionID, CodeSessionExpired, "session has expired"), nil
	}

	match, err := VerifyToken(token, session.AccessTokenDigest)
	if err != nil {
		return Result[*Identity]{}, oops.Code("AUTH_VALIDATE_FAILED").
			With("operation", "verify token").
			With("session_id", sessionID.String()).
			Wrap(err)
	}
	if !match {
		return v.reject(ctx, sessionID, CodeSessionInvalid, "session token is invalid"), nil
	}

	identity, err := v.identities.GetByID(ctx, identityID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return v.reject(ctx, sessionID, CodeIdentityNotFound, "identity not found"), nil
		}
		return Result[*Identity]{}, oops.Code("AUTH_VALIDATE_FAILED").
			With("operation", "get identity by id").
			With("identity_id", identityID.String()).
			Wrap(err)
	}

	if err := v.sessions.Touch(ctx, session.ID, now); err != nil {
		errutil.LogBestEffort(ctx, v.logger, "touch_session", err)
	}

	return Succeed(identity.redacted()), nil
}

func (v *SessionValidator) reject(ctx context.Context, sessionID ulid.ULID, code, message string) Result[*Identity] {
	v.logger.InfoContext(ctx, "session rejected",
		"event", "session_rejected",
		"session_id", sessionID.String(),
		"code", code,
	)
	return Fail[*Identity](code, message)
}
