// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/holomush/authcore/internal/auth"
	"github.com/holomush/authcore/internal/auth/authtest"
	"github.com/holomush/authcore/internal/auth/memory"
	"github.com/holomush/authcore/pkg/errutil"
)

const (
	aliceEmail    = "a@x.com"
	alicePassword = "correct horse battery"
)

func TestSignIn_Success(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, harnessConfig{})
	alice := h.register(t, aliceEmail, alicePassword)

	res := h.signIn.Execute(ctx, "  A@X.com ", alicePassword, "1.2.3.4")
	require.True(t, res.OK(), "failure: %+v", res.Failure())

	out := res.Data()
	assert.Equal(t, alice.ID, out.Identity.ID)
	assert.Empty(t, out.Identity.PasswordDigest)
	assert.Len(t, out.AccessToken, 64)
	assert.Len(t, out.ResetToken, 64)
	assert.Equal(t, epoch.Add(time.Hour), out.AccessExpiresAt)
	assert.Equal(t, epoch.Add(24*time.Hour), out.ResetExpiresAt)

	stored, err := h.store.FindFirst(ctx, alice.ID, out.SessionID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, auth.HashToken(out.AccessToken), stored.AccessTokenDigest)
	assert.NotContains(t, stored.AccessTokenDigest, out.AccessToken)
	assert.Equal(t, "1.2.3.4", stored.SourceIP)

	findLog(t, h.logs, func(e logEntry) bool { return e.Event == "session_created" })
	assert.NotContains(t, h.logs.String(), out.AccessToken)
	assert.NotContains(t, h.logs.String(), alicePassword)
}

func TestSignIn_RecordsUserAgent(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	alice := h.register(t, aliceEmail, alicePassword)

	ctx := auth.ContextWithUserAgent(context.Background(), "authcore-test/1.0")
	res := h.signIn.Execute(ctx, aliceEmail, alicePassword, "1.2.3.4")
	require.True(t, res.OK())

	stored, err := h.store.FindFirst(ctx, alice.ID, res.Data().SessionID)
	require.NoError(t, err)
	assert.Equal(t, "authcore-test/1.0", stored.UserAgent)
}

// Five wrong passwords lock the account for a minute; the sixth attempt is
// refused even with the right password until the lock has run out.
func TestSignIn_LockoutScenario(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, harnessConfig{
		lockout: auth.LockoutPolicy{Threshold: 5, Duration: 60_000 * time.Millisecond},
	})
	h.register(t, aliceEmail, alicePassword)

	for i := 1; i <= 5; i++ {
		res := h.signIn.Execute(ctx, aliceEmail, "wrong password", "1.2.3.4")
		require.Equal(t, auth.CodeInvalidCredentials, res.Code(), "attempt %d", i)
	}

	res := h.signIn.Execute(ctx, aliceEmail, alicePassword, "1.2.3.4")
	assert.Equal(t, auth.CodeAccountLocked, res.Code())
	assert.Equal(t, int64(60_000), res.Failure().RetryAfterMs)

	h.clock.Advance(30 * time.Second)
	res = h.signIn.Execute(ctx, aliceEmail, alicePassword, "1.2.3.4")
	assert.Equal(t, auth.CodeAccountLocked, res.Code())
	assert.Equal(t, int64(30_000), res.Failure().RetryAfterMs)

	h.clock.Advance(30_001 * time.Millisecond)
	res = h.signIn.Execute(ctx, aliceEmail, alicePassword, "1.2.3.4")
	assert.True(t, res.OK(), "failure: %+v", res.Failure())
}

func TestSignIn_LockedAccountSkipsVerification(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, harnessConfig{lockout: auth.LockoutPolicy{Threshold: 1, Duration: time.Minute}})
	h.register(t, aliceEmail, alicePassword)

	require.Equal(t, auth.CodeInvalidCredentials, h.signIn.Execute(ctx, aliceEmail, "nope", "").Code())

	// Failures while locked neither extend the lock nor count.
	for i := 0; i < 3; i++ {
		assert.Equal(t, auth.CodeAccountLocked, h.signIn.Execute(ctx, aliceEmail, "nope", "").Code())
	}
	rec, err := h.attempts.Get(ctx, aliceEmail)
	require.NoError(t, err)
	assert.Equal(t, 1, rec.Failures)
	assert.Equal(t, epoch.Add(time.Minute), *rec.LockedUntil)
}

func TestSignIn_SuccessResetsFailureCount(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, harnessConfig{lockout: auth.LockoutPolicy{Threshold: 3, Duration: time.Minute}})
	h.register(t, aliceEmail, alicePassword)

	for i := 0; i < 2; i++ {
		require.Equal(t, auth.CodeInvalidCredentials, h.signIn.Execute(ctx, aliceEmail, "nope", "").Code())
	}
	require.True(t, h.signIn.Execute(ctx, aliceEmail, alicePassword, "").OK())

	_, err := h.attempts.Get(ctx, aliceEmail)
	assert.ErrorIs(t, err, auth.ErrNotFound)

	require.Equal(t, auth.CodeInvalidCredentials, h.signIn.Execute(ctx, aliceEmail, "nope", "").Code())
	rec, err := h.attempts.Get(ctx, aliceEmail)
	require.NoError(t, err)
	assert.Equal(t, 1, rec.Failures)

	// Two more failures would have locked with the pre-reset count; one does not.
	require.Equal(t, auth.CodeInvalidCredentials, h.signIn.Execute(ctx, aliceEmail, "nope", "").Code())
	assert.True(t, h.signIn.Execute(ctx, aliceEmail, alicePassword, "").OK())
}

// Three sign-ins per second from one address pass the limiter; the fourth is
// rejected until the window has passed.
func TestSignIn_RateLimitScenario(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, harnessConfig{rate: auth.RateLimitPolicy{MaxRequests: 3, Window: 1000 * time.Millisecond}})
	h.register(t, aliceEmail, alicePassword)

	for i := 0; i < 3; i++ {
		res := h.signIn.Execute(ctx, aliceEmail, "wrong password", "1.2.3.4")
		require.NotEqual(t, auth.CodeRateLimited, res.Code(), "call %d", i+1)
	}

	res := h.signIn.Execute(ctx, aliceEmail, alicePassword, "1.2.3.4")
	assert.Equal(t, auth.CodeRateLimited, res.Code())
	assert.Equal(t, int64(1000), res.Failure().RetryAfterMs)

	other := h.signIn.Execute(ctx, aliceEmail, alicePassword, "5.6.7.8")
	assert.True(t, other.OK())

	h.clock.Advance(1001 * time.Millisecond)
	res = h.signIn.Execute(ctx, aliceEmail, alicePassword, "1.2.3.4")
	assert.True(t, res.OK(), "failure: %+v", res.Failure())
}

func TestSignIn_RateLimitDoesNotTouchLockout(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, harnessConfig{rate: auth.RateLimitPolicy{MaxRequests: 1, Window: time.Second}})
	h.register(t, aliceEmail, alicePassword)

	require.True(t, h.signIn.Execute(ctx, aliceEmail, alicePassword, "1.2.3.4").OK())
	for i := 0; i < 10; i++ {
		require.Equal(t, auth.CodeRateLimited, h.signIn.Execute(ctx, aliceEmail, "nope", "1.2.3.4").Code())
	}
	_, err := h.attempts.Get(ctx, aliceEmail)
	assert.ErrorIs(t, err, auth.ErrNotFound)
}

func TestSignIn_NoEnumeration(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, harnessConfig{})
	h.register(t, aliceEmail, alicePassword)

	unknown := h.signIn.Execute(ctx, "nobody@x.com", alicePassword, "")
	wrong := h.signIn.Execute(ctx, aliceEmail, "wrong password", "")

	assert.Equal(t, auth.CodeInvalidCredentials, unknown.Code())
	assert.Equal(t, unknown.Failure(), wrong.Failure())

	_, err := h.attempts.Get(ctx, "nobody@x.com")
	assert.ErrorIs(t, err, auth.ErrNotFound, "unknown emails are not tracked")
}

func TestSignIn_UnknownEmailStillVerifies(t *testing.T) {
	ctx := context.Background()
	identities := new(authtest.IdentityRepository)
	identities.On("GetByEmail", mock.Anything, "nobody@x.com").Return(nil, auth.ErrNotFound)

	hasher := new(authtest.PasswordHasher)
	hasher.On("Hash", mock.Anything).Return("dummy-digest", nil).Once()
	hasher.On("Verify", "pw", "dummy-digest").Return(false, nil).Once()

	clock := authtest.NewFakeClock(epoch)
	limiter, err := auth.NewRateLimiter(nil, auth.RateLimitPolicy{}, clock, discardLogger())
	require.NoError(t, err)
	attempts, err := auth.NewLoginAttempts(memory.NewAttemptStore(), auth.LockoutPolicy{Threshold: 5, Duration: time.Minute}, clock, discardLogger())
	require.NoError(t, err)
	issuer, err := auth.NewTokenIssuer(time.Hour, time.Hour, clock)
	require.NoError(t, err)
	store, err := auth.NewSessionStore(memory.NewSessionRepository(nil))
	require.NoError(t, err)

	svc, err := auth.NewSignInService(auth.SignInDeps{
		Identities: identities,
		Hasher:     hasher,
		Limiter:    limiter,
		Attempts:   attempts,
		Issuer:     issuer,
		Sessions:   store,
		Clock:      clock,
		Logger:     discardLogger(),
	})
	require.NoError(t, err)

	res := svc.Execute(ctx, "nobody@x.com", "pw", "")
	assert.Equal(t, auth.CodeInvalidCredentials, res.Code())
	hasher.AssertExpectations(t)
}

func TestSignIn_ValidationErrors(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, harnessConfig{})

	tests := []struct {
		name     string
		email    string
		password string
	}{
		{"empty email", "", "password"},
		{"malformed email", "not-an-email", "password"},
		{"email too long", strings.Repeat("a", 250) + "@x.com", "password"},
		{"empty password", aliceEmail, ""},
		{"password too long", aliceEmail, strings.Repeat("p", 73)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := h.signIn.Execute(ctx, tt.email, tt.password, "")
			assert.Equal(t, auth.CodeValidation, res.Code())
		})
	}
}

func TestSignIn_StorageFailureIsUnexpected(t *testing.T) {
	ctx := context.Background()
	identities := new(authtest.IdentityRepository)
	identities.On("GetByEmail", mock.Anything, aliceEmail).Return(nil, errors.New("connection reset by peer"))
	h := newHarness(t, harnessConfig{identities: identities})

	res := h.signIn.Execute(ctx, aliceEmail, alicePassword, "")
	assert.Equal(t, auth.CodeUnexpected, res.Code())
	assert.NotContains(t, res.Failure().Message, "connection reset")

	entry := findLog(t, h.logs, func(e logEntry) bool { return e.Level == "ERROR" })
	assert.Equal(t, "sign-in failed", entry.Msg)
	assert.Contains(t, entry.Error, "connection reset by peer")
}

func TestSignIn_FailureRecordErrorIsUnexpected(t *testing.T) {
	ctx := context.Background()
	attempts := new(authtest.AttemptStore)
	attempts.On("Get", mock.Anything, aliceEmail).Return(nil, auth.ErrNotFound)
	attempts.On("RecordFailure", mock.Anything, aliceEmail, mock.Anything, mock.Anything).Return(nil, errors.New("deadlock detected"))
	h := newHarness(t, harnessConfig{attempts: attempts})
	h.register(t, aliceEmail, alicePassword)

	res := h.signIn.Execute(ctx, aliceEmail, "wrong password", "")
	assert.Equal(t, auth.CodeUnexpected, res.Code())
}

func TestSignIn_SessionCreateFailures(t *testing.T) {
	ctx := context.Background()

	t.Run("storage error is unexpected, not invalid credentials", func(t *testing.T) {
		repo := new(authtest.SessionRepository)
		repo.On("Create", mock.Anything, mock.Anything).Return(errors.New("disk full"))
		h := newHarness(t, harnessConfig{sessionRepo: repo})
		h.register(t, aliceEmail, alicePassword)

		res := h.signIn.Execute(ctx, aliceEmail, alicePassword, "")
		assert.Equal(t, auth.CodeUnexpected, res.Code())
	})

	for name, repoErr := range map[string]error{
		"missing owner": auth.ErrIdentityNotFound,
		"duplicate id":  auth.ErrDuplicate,
	} {
		t.Run(name+" after verification is unexpected", func(t *testing.T) {
			repo := new(authtest.SessionRepository)
			repo.On("Create", mock.Anything, mock.Anything).Return(repoErr)
			h := newHarness(t, harnessConfig{sessionRepo: repo})
			h.register(t, aliceEmail, alicePassword)

			res := h.signIn.Execute(ctx, aliceEmail, alicePassword, "")
			assert.Equal(t, auth.CodeUnexpected, res.Code())
			assert.Equal(t, "an unexpected error occurred", res.Failure().Message)

			entry := findLog(t, h.logs, func(e logEntry) bool { return e.Level == "ERROR" })
			assert.Equal(t, "AUTH_SESSION_OPEN_FAILED", entry.Code)
		})
	}
}

func TestSignIn_Timeout(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	h.register(t, aliceEmail, alicePassword)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := h.signIn.Execute(ctx, aliceEmail, alicePassword, "")
	assert.Equal(t, auth.CodeUnexpected, res.Code())

	_, err := h.attempts.Get(context.Background(), aliceEmail)
	assert.ErrorIs(t, err, auth.ErrNotFound, "a timed out call records nothing")
}

func TestSignIn_PrunesOldSessions(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, harnessConfig{opts: []auth.SignInOption{auth.WithMaxSessions(2)}})
	alice := h.register(t, aliceEmail, alicePassword)

	var first auth.SignInOutput
	for i := 0; i < 3; i++ {
		res := h.signIn.Execute(ctx, aliceEmail, alicePassword, "")
		require.True(t, res.OK())
		if i == 0 {
			first = *res.Data()
		}
		h.clock.Advance(time.Second)
	}

	assert.Equal(t, 2, h.sessions.(*memory.SessionRepository).Len())
	gone, err := h.store.FindFirst(ctx, alice.ID, first.SessionID)
	require.NoError(t, err)
	assert.Nil(t, gone)
}

func TestSignIn_UpgradesOutdatedDigest(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, harnessConfig{})

	legacy, err := auth.NewArgon2idHasher().Hash(alicePassword)
	require.NoError(t, err)
	identity, err := auth.NewIdentity(aliceEmail, "Alice", legacy, epoch)
	require.NoError(t, err)
	require.NoError(t, h.identities.Create(ctx, identity))

	require.True(t, h.signIn.Execute(ctx, aliceEmail, alicePassword, "").OK())

	stored, err := h.identities.GetByID(ctx, identity.ID)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(stored.PasswordDigest, "$2a$"))
	assert.False(t, h.hasher.NeedsUpgrade(stored.PasswordDigest))

	require.True(t, h.signIn.Execute(ctx, aliceEmail, alicePassword, "").OK())
}

func TestNewSignInService_MissingDependency(t *testing.T) {
	_, err := auth.NewSignInService(auth.SignInDeps{})
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "AUTH_INVALID_DEPENDENCY")
}
