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
)

// AccountService registers identities and changes their passwords.
type AccountService struct {
	deps   AccountDeps
	policy PasswordPolicy
}

// AccountDeps are the collaborators of AccountService. Limiter and Attempts
// guard the current-password check of ChangePassword the same way they guard
// sign-in.
type AccountDeps struct {
	Identities IdentityRepository
	Sessions   *SessionStore
	Hasher     PasswordHasher
	Limiter    *RateLimiter
	Attempts   *LoginAttempts
	Clock      Clock
	Logger     *slog.Logger
}

func (d AccountDeps) validate() error {
	missing := func(name string) error {
		return oops.Code("AUTH_INVALID_DEPENDENCY").Errorf("%s is required", name)
	}
	switch {
	case d.Identities == nil:
		return missing("identity repository")
	case d.Sessions == nil:
		return missing("session store")
	case d.Hasher == nil:
		return missing("password hasher")
	case d.Limiter == nil:
		return missing("rate limiter")
	case d.Attempts == nil:
		return missing("login attempts")
	case d.Clock == nil:
		return missing("clock")
	case d.Logger == nil:
		return missing("logger")
	}
	return nil
}

// NewAccountService creates an AccountService.
func NewAccountService(deps AccountDeps, policy PasswordPolicy) (*AccountService, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	if policy.MinLength < 1 || policy.MaxLength < policy.MinLength {
		return nil, oops.Code("AUTH_INVALID_PASSWORD_POLICY").
			With("min", policy.MinLength).
			With("max", policy.MaxLength).
			Errorf("password policy needs 1 <= min <= max")
	}
	return &AccountService{deps: deps, policy: policy}, nil
}

// Register creates an identity. A taken email fails with IDENTITY_DUPLICATE.
func (s *AccountService) Register(ctx context.Context, email, displayName, password string) Result[*Identity] {
	res, err := s.register(ctx, email, displayName, password)
	return settle(ctx, s.deps.Logger, "register identity", res, err)
}

func (s *AccountService) register(ctx context.Context, email, displayName, password string) (Result[*Identity], error) {
	if err := s.policy.Validate(password); err != nil {
		return validationFailure[*Identity](err), nil
	}
	digest, res, err := s.hash(password)
	if res != nil {
		return failAs[*Identity](res), nil
	}
	if err != nil {
		return Result[*Identity]{}, err
	}

	identity, err := NewIdentity(email, displayName, digest, s.deps.Clock.Now())
	if err != nil {
		return validationFailure[*Identity](err), nil
	}

	if err := s.deps.Identities.Create(ctx, identity); err != nil {
		if errors.Is(err, ErrDuplicate) {
			return Fail[*Identity](CodeIdentityDuplicate, "an identity with that email already exists"), nil
		}
		return Result[*Identity]{}, oops.Code("AUTH_REGISTER_FAILED").
			With("operation", "create identity").
			Wrap(err)
	}

	s.deps.Logger.InfoContext(ctx, "identity registered",
		"event", "identity_registered",
		"identity_id", identity.ID.String(),
	)
	return Succeed(identity.redacted()), nil
}

// ChangePassword replaces the password after checking the current one, then
// revokes every session of the identity. The check is rate limited per
// sourceIP and counts towards the identity's lockout like a sign-in.
func (s *AccountService) ChangePassword(ctx context.Context, identityID ulid.ULID, current, next, sourceIP string) Result[struct{}] {
	res, err := s.changePassword(ctx, identityID, current, next, sourceIP)
	return settle(ctx, s.deps.Logger, "change password", res, err)
}

func (s *AccountService) changePassword(ctx context.Context, identityID ulid.ULID, current, next, sourceIP string) (Result[struct{}], error) {
	allowed, err := s.deps.Limiter.Check(ctx, sourceIP)
	if err != nil {
		return Result[struct{}]{}, err
	}
	if !allowed.OK() {
		return failAs[struct{}](allowed.Failure()), nil
	}

	if isZeroID(identityID) || current == "" {
		return Fail[struct{}](CodeValidation, "identity and current password are required"), nil
	}

	identity, err := s.deps.Identities.GetByID(ctx, identityID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Fail[struct{}](CodeIdentityNotFound, "identity not found"), nil
		}
		return Result[struct{}]{}, oops.Code("AUTH_CHANGE_PASSWORD_FAILED").
			With("operation", "get identity by id").
			Wrap(err)
	}

	lock, err := s.deps.Attempts.IsLocked(ctx, identity.Email)
	if err != nil {
		return Result[struct{}]{}, err
	}
	if lock.Data().Locked {
		return FailRetry[struct{}](CodeAccountLocked, "account is temporarily locked",
			time.Duration(lock.Data().RetryAfterMs)*time.Millisecond), nil
	}

	valid, err := s.deps.Hasher.Verify(current, identity.PasswordDigest)
	if err != nil {
		return Result[struct{}]{}, oops.Code("AUTH_CHANGE_PASSWORD_FAILED").
			With("operation", "verify password").
			Wrap(err)
	}
	if !valid {
		status, err := s.deps.Attempts.RecordFailure(ctx, identity.Email)
		if err != nil {
			return Result[struct{}]{}, err
		}
		s.deps.Logger.InfoContext(ctx, "password change rejected",
			"event", "password_change_failed",
			"identity_id", identityID.String(),
			"failures", status.Failures,
			"source", sourceIP,
		)
		return Fail[struct{}](CodeInvalidCredentials, msgInvalidCredentials), nil
	}
	if err := s.deps.Attempts.RecordSuccess(ctx, identity.Email); err != nil {
		return Result[struct{}]{}, err
	}

	if err := s.policy.Validate(next); err != nil {
		return validationFailure[struct{}](err), nil
	}
	digest, res, err := s.hash(next)
	if res != nil {
		return failAs[struct{}](res), nil
	}
	if err != nil {
		return Result[struct{}]{}, err
	}

	if err := s.deps.Identities.UpdatePassword(ctx, identityID, digest, s.deps.Clock.Now()); err != nil {
		return Result[struct{}]{}, oops.Code("AUTH_CHANGE_PASSWORD_FAILED").
			With("operation", "update password").
			Wrap(err)
	}
	revoked, err := s.deps.Sessions.DeleteByIdentity(ctx, identityID)
	if err != nil {
		return Result[struct{}]{}, err
	}

	s.deps.Logger.InfoContext(ctx, "password changed",
		"event", "password_changed",
		"identity_id", identityID.String(),
		"sessions_revoked", revoked,
	)
	return Succeed(struct{}{}), nil
}

// hash digests a password. Input the hasher refuses comes back as a
// VALIDATION_ERROR failure rather than an error.
func (s *AccountService) hash(password string) (string, *Failure, error) {
	digest, err := s.deps.Hasher.Hash(password)
	if err == nil {
		return digest, nil, nil
	}
	if oopsErr, ok := oops.AsOops(err); ok {
		switch oopsErr.Code() {
		case "AUTH_PASSWORD_TOO_LONG", "AUTH_EMPTY_PASSWORD":
			return "", &Failure{Code: CodeValidation, Message: oopsErr.Error()}, nil
		}
	}
	return "", nil, oops.Code("AUTH_HASH_FAILED").With("operation", "hash password").Wrap(err)
}

// validationFailure turns a validation error into a VALIDATION_ERROR result.
func validationFailure[T any](err error) Result[T] {
	msg := "input is not valid"
	if oopsErr, ok := oops.AsOops(err); ok {
		msg = oopsErr.Error()
	}
	return Fail[T](CodeValidation, msg)
}
