// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/holomush/authcore/internal/auth"
	"github.com/holomush/authcore/internal/auth/authtest"
	"github.com/holomush/authcore/internal/auth/memory"
)

// harnessConfig overrides parts of the default wiring.
type harnessConfig struct {
	rate        auth.RateLimitPolicy
	lockout     auth.LockoutPolicy
	opts        []auth.SignInOption
	identities  auth.IdentityRepository
	sessionRepo auth.SessionRepository
	attempts    auth.AttemptStore
}

// harness wires every auth component over in-memory stores.
type harness struct {
	clock      *authtest.FakeClock
	logs       *bytes.Buffer
	logger     *slog.Logger
	hasher     auth.PasswordHasher
	identities auth.IdentityRepository
	sessions   auth.SessionRepository
	attempts   auth.AttemptStore
	store      *auth.SessionStore
	issuer     *auth.TokenIssuer
	signIn     *auth.SignInService
	validator  *auth.SessionValidator
	service    *auth.SessionService
	accounts   *auth.AccountService

	accountDeps auth.AccountDeps
}

func newHarness(t *testing.T, cfg harnessConfig) *harness {
	t.Helper()

	if cfg.lockout == (auth.LockoutPolicy{}) {
		cfg.lockout = auth.LockoutPolicy{Threshold: 5, Duration: time.Minute}
	}
	if cfg.identities == nil {
		cfg.identities = memory.NewIdentityRepository()
	}
	if cfg.sessionRepo == nil {
		if ids, ok := cfg.identities.(*memory.IdentityRepository); ok {
			cfg.sessionRepo = memory.NewSessionRepository(ids)
		} else {
			cfg.sessionRepo = memory.NewSessionRepository(nil)
		}
	}
	if cfg.attempts == nil {
		cfg.attempts = memory.NewAttemptStore()
	}

	h := &harness{
		clock:      authtest.NewFakeClock(epoch),
		logs:       &bytes.Buffer{},
		identities: cfg.identities,
		sessions:   cfg.sessionRepo,
		attempts:   cfg.attempts,
	}
	h.logger = slog.New(slog.NewJSONHandler(h.logs, nil))

	var err error
	h.hasher, err = auth.NewBcryptHasher(bcrypt.MinCost)
	require.NoError(t, err)

	limiter, err := auth.NewRateLimiter(memory.NewWindowStore(), cfg.rate, h.clock, h.logger)
	require.NoError(t, err)
	attempts, err := auth.NewLoginAttempts(h.attempts, cfg.lockout, h.clock, h.logger)
	require.NoError(t, err)
	h.issuer, err = auth.NewTokenIssuer(time.Hour, 24*time.Hour, h.clock)
	require.NoError(t, err)
	h.store, err = auth.NewSessionStore(h.sessions)
	require.NoError(t, err)

	h.signIn, err = auth.NewSignInService(auth.SignInDeps{
		Identities: h.identities,
		Hasher:     h.hasher,
		Limiter:    limiter,
		Attempts:   attempts,
		Issuer:     h.issuer,
		Sessions:   h.store,
		Clock:      h.clock,
		Logger:     h.logger,
	}, cfg.opts...)
	require.NoError(t, err)

	h.validator, err = auth.NewSessionValidator(h.store, h.identities, h.clock, h.logger)
	require.NoError(t, err)
	h.service, err = auth.NewSessionService(h.store, h.identities, h.issuer, h.clock, h.logger, 0)
	require.NoError(t, err)
	h.accountDeps = auth.AccountDeps{
		Identities: h.identities,
		Sessions:   h.store,
		Hasher:     h.hasher,
		Limiter:    limiter,
		Attempts:   attempts,
		Clock:      h.clock,
		Logger:     h.logger,
	}
	h.accounts, err = auth.NewAccountService(h.accountDeps, auth.PasswordPolicy{MinLength: 8, MaxLength: 72})
	require.NoError(t, err)

	return h
}

// register stores an identity with password directly through the repository.
func (h *harness) register(t *testing.T, email, password string) *auth.Identity {
	t.Helper()
	digest, err := h.hasher.Hash(password)
	require.NoError(t, err)
	identity, err := auth.NewIdentity(email, "Test User", digest, h.clock.Now())
	require.NoError(t, err)
	require.NoError(t, h.identities.Create(context.Background(), identity))
	return identity
}

// logEntry represents a parsed JSON log entry.
type logEntry struct {
	Level     string `json:"level"`
	Msg       string `json:"msg"`
	Event     string `json:"event"`
	Operation string `json:"operation"`
	Error     string `json:"error"`
	Code      string `json:"code"`
	Reason    string `json:"reason"`
}

// logEntries parses every JSON line written to buf.
func logEntries(t *testing.T, buf *bytes.Buffer) []logEntry {
	t.Helper()
	var entries []logEntry
	sc := bufio.NewScanner(bytes.NewReader(buf.Bytes()))
	for sc.Scan() {
		var e logEntry
		require.NoError(t, json.Unmarshal(sc.Bytes(), &e))
		entries = append(entries, e)
	}
	require.NoError(t, sc.Err())
	return entries
}

// findLog returns the first entry matching pred, failing the test if none does.
func findLog(t *testing.T, buf *bytes.Buffer, pred func(logEntry) bool) logEntry {
	t.Helper()
	for _, e := range logEntries(t, buf) {
		if pred(e) {
			return e
		}
	}
	require.FailNow(t, "no matching log entry", buf.String())
	return logEntry{}
}
