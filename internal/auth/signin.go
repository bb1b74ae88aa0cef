// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/holomush/authcore/internal/observability"
	"github.com/holomush/authcore/pkg/errutil"
)

var tracer = otel.Tracer("authcore/auth")

// Caller-facing messages. They never say which check failed.
const (
	msgInvalidCredentials = "invalid email or password"
	msgUnexpected         = "an unexpected error occurred"
)

// DefaultOperationTimeout bounds a whole sign-in or validation call.
const DefaultOperationTimeout = 5 * time.Second

// SignInOutput is returned by a successful sign-in. The raw tokens are only
// ever available here.
type SignInOutput struct {
	Identity        *Identity
	SessionID       ulid.ULID
	AccessToken     string
	AccessExpiresAt time.Time
	ResetToken      string
	ResetExpiresAt  time.Time
}

// SignInDeps are the collaborators of SignInService.
type SignInDeps struct {
	Identities IdentityRepository
	Hasher     PasswordHasher
	Limiter    *RateLimiter
	Attempts   *LoginAttempts
	Issuer     *TokenIssuer
	Sessions   *SessionStore
	Clock      Clock
	Logger     *slog.Logger
}

func (d SignInDeps) validate() error {
	missing := func(name string) error {
		return oops.Code("AUTH_INVALID_DEPENDENCY").Errorf("%s is required", name)
	}
	switch {
	case d.Identities == nil:
		return missing("identity repository")
	case d.Hasher == nil:
		return missing("password hasher")
	case d.Limiter == nil:
		return missing("rate limiter")
	case d.Attempts == nil:
		return missing("login attempts")
	case d.Issuer == nil:
		return missing("token issuer")
	case d.Sessions == nil:
		return missing("session store")
	case d.Clock == nil:
		return missing("clock")
	case d.Logger == nil:
		return missing("logger")
	}
	return nil
}

// SignInOption configures a SignInService during construction.
type SignInOption func(*SignInService)

// WithMaxSessions caps the sessions kept per identity. Older sessions are
// pruned after each sign-in. Zero means unlimited.
func WithMaxSessions(n int) SignInOption {
	return func(s *SignInService) {
		s.maxSessions = n
	}
}

// WithOperationTimeout bounds each Execute call. Zero disables the bound.
func WithOperationTimeout(d time.Duration) SignInOption {
	return func(s *SignInService) {
		s.timeout = d
	}
}

// WithMaxPasswordLength rejects longer passwords as malformed input before
// they reach the hasher.
func WithMaxPasswordLength(n int) SignInOption {
	return func(s *SignInService) {
		s.maxPasswordLength = n
	}
}

// SignInService verifies credentials and opens sessions.
type SignInService struct {
	deps SignInDeps

	maxSessions       int
	timeout           time.Duration
	maxPasswordLength int

	// dummyDigest is verified against when the email is unknown so both
	// failure paths cost one hash verification.
	dummyDigest string
}

// NewSignInService creates a SignInService.
func NewSignInService(deps SignInDeps, opts ...SignInOption) (*SignInService, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}

	s := &SignInService{
		deps:              deps,
		timeout:           DefaultOperationTimeout,
		maxPasswordLength: bcryptMaxInput,
	}
	for _, opt := range opts {
		opt(s)
	}

	seed, _, err := GenerateToken()
	if err != nil {
		return nil, err
	}
	if len(seed) > bcryptMaxInput {
		seed = seed[:bcryptMaxInput]
	}
	dummy, err := deps.Hasher.Hash(seed)
	if err != nil {
		return nil, oops.Code("AUTH_DUMMY_DIGEST_FAILED").Wrap(err)
	}
	s.dummyDigest = dummy

	return s, nil
}

// Execute signs in with email and password from sourceIP. Expected
// rejections come back as failed Results; anything else is logged and
// reported as UNEXPECTED_ERROR.
func (s *SignInService) Execute(ctx context.Context, email, password, sourceIP string) Result[*SignInOutput] {
	ctx, cancel := withOperationTimeout(ctx, s.timeout)
	defer cancel()

	ctx, span := tracer.Start(ctx, "auth.signin",
		trace.WithAttributes(attribute.String("auth.source_ip", sourceIP)),
	)
	defer span.End()

	res, err := s.execute(ctx, email, password, sourceIP)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "sign-in failed")
		errutil.LogErrorContext(ctx, s.deps.Logger, "sign-in failed", err)
		res = Fail[*SignInOutput](CodeUnexpected, msgUnexpected)
	}

	outcome := outcomeOf(res.Code())
	span.SetAttributes(attribute.String("auth.outcome", outcome))
	observability.RecordSignIn(outcome)
	return res
}

func (s *SignInService) execute(ctx context.Context, email, password, sourceIP string) (Result[*SignInOutput], error) {
	if err := ctx.Err(); err != nil {
		return Result[*SignInOutput]{}, oops.Code("AUTH_SIGNIN_TIMEOUT").With("operation", "start").Wrap(err)
	}

	allowed, err := s.deps.Limiter.Check(ctx, sourceIP)
	if err != nil {
		return Result[*SignInOutput]{}, err
	}
	if !allowed.OK() {
		return failAs[*SignInOutput](allowed.Failure()), nil
	}

	email = NormalizeEmail(email)
	if err := ValidateEmail(email); err != nil {
		return Fail[*SignInOutput](CodeValidation, "email is not a valid address"), nil
	}
	if password == "" || utf8.RuneCountInString(password) > s.maxPasswordLength {
		return Fail[*SignInOutput](CodeValidation, "password is empty or too long"), nil
	}

	identity, err := s.deps.Identities.GetByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			return Result[*SignInOutput]{}, oops.Code("AUTH_SIGNIN_FAILED").
				With("operation", "get identity by email").
				Wrap(err)
		}
		// Spend the same hashing work as a real mismatch.
		_, _ = s.deps.Hasher.Verify(password, s.dummyDigest) //nolint:errcheck // timing guard only
		s.deps.Logger.InfoContext(ctx, "sign-in rejected",
			"event", "signin_failed",
			"reason", "unknown_email",
			"source", sourceIP,
		)
		return Fail[*SignInOutput](CodeInvalidCredentials, msgInvalidCredentials), nil
	}

	lock, err := s.deps.Attempts.IsLocked(ctx, email)
	if err != nil {
		return Result[*SignInOutput]{}, err
	}
	if lock.Data().Locked {
		s.deps.Logger.InfoContext(ctx, "sign-in rejected",
			"event", "signin_failed",
			"reason", "account_locked",
			"identity_id", identity.ID.String(),
			"source", sourceIP,
		)
		return FailRetry[*SignInOutput](CodeAccountLocked, "account is temporarily locked",
			time.Duration(lock.Data().RetryAfterMs)*time.Millisecond), nil
	}

	valid, err := s.deps.Hasher.Verify(password, identity.PasswordDigest)
	if err != nil {
		return Result[*SignInOutput]{}, oops.Code("AUTH_SIGNIN_FAILED").
			With("operation", "verify password").
			With("identity_id", identity.ID.String()).
			Wrap(err)
	}
	if !valid {
		status, err := s.deps.Attempts.RecordFailure(ctx, email)
		if err != nil {
			return Result[*SignInOutput]{}, err
		}
		s.deps.Logger.InfoContext(ctx, "sign-in rejected",
			"event", "signin_failed",
			"reason", "bad_password",
			"identity_id", identity.ID.String(),
			"failures", status.Failures,
			"source", sourceIP,
		)
		return Fail[*SignInOutput](CodeInvalidCredentials, msgInvalidCredentials), nil
	}

	if err := s.deps.Attempts.RecordSuccess(ctx, email); err != nil {
		return Result[*SignInOutput]{}, err
	}
	s.upgradeDigest(ctx, identity, password)

	if err := ctx.Err(); err != nil {
		return Result[*SignInOutput]{}, oops.Code("AUTH_SIGNIN_TIMEOUT").With("operation", "issue session").Wrap(err)
	}

	opener := sessionOpener{
		issuer:      s.deps.Issuer,
		sessions:    s.deps.Sessions,
		logger:      s.deps.Logger,
		maxSessions: s.maxSessions,
	}
	return opener.open(ctx, identity, sourceIP)
}

// sessionOpener issues tokens, persists the session and prunes old ones.
type sessionOpener struct {
	issuer      *TokenIssuer
	sessions    *SessionStore
	logger      *slog.Logger
	maxSessions int
}

func (o sessionOpener) open(ctx context.Context, identity *Identity, sourceIP string) (Result[*SignInOutput], error) {
	issued, err := o.issuer.Issue(identity.ID)
	if err != nil {
		return Result[*SignInOutput]{}, oops.Code("AUTH_SESSION_OPEN_FAILED").With("operation", "issue tokens").Wrap(err)
	}
	session, err := NewSession(issued, sourceIP, UserAgentFromContext(ctx))
	if err != nil {
		return Result[*SignInOutput]{}, oops.Code("AUTH_SESSION_OPEN_FAILED").With("operation", "build session").Wrap(err)
	}

	created, err := o.sessions.Create(ctx, session)
	if err != nil {
		return Result[*SignInOutput]{}, err
	}
	if !created.OK() {
		// Credentials are already accepted here; a rejected create is a system fault.
		return Result[*SignInOutput]{}, oops.Code("AUTH_SESSION_OPEN_FAILED").
			With("operation", "create session").
			With("identity_id", identity.ID.String()).
			With("session_code", created.Code()).
			Errorf("%s", created.Failure().Message)
	}

	if o.maxSessions > 0 {
		if _, err := o.sessions.Prune(ctx, identity.ID, o.maxSessions); err != nil {
			errutil.LogBestEffort(ctx, o.logger, "prune_sessions", err)
		}
	}

	o.logger.InfoContext(ctx, "session created",
		"event", "session_created",
		"identity_id", identity.ID.String(),
		"session_id", session.ID.String(),
		"source", sourceIP,
	)

	return Succeed(&SignInOutput{
		Identity:        identity.redacted(),
		SessionID:       issued.SessionID,
		AccessToken:     issued.AccessToken,
		AccessExpiresAt: issued.AccessExpiresAt,
		ResetToken:      issued.ResetToken,
		ResetExpiresAt:  issued.ResetExpiresAt,
	}), nil
}

// upgradeDigest rehashes a verified password produced with outdated parameters.
func (s *SignInService) upgradeDigest(ctx context.Context, identity *Identity, password string) {
	if !s.deps.Hasher.NeedsUpgrade(identity.PasswordDigest) {
		return
	}
	digest, err := s.deps.Hasher.Hash(password)
	if err != nil {
		errutil.LogBestEffort(ctx, s.deps.Logger, "rehash_password", err)
		return
	}
	if err := s.deps.Identities.UpdatePassword(ctx, identity.ID, digest, s.deps.Clock.Now()); err != nil {
		errutil.LogBestEffort(ctx, s.deps.Logger, "store_rehashed_password", err)
		return
	}
	identity.PasswordDigest = digest
}

// withOperationTimeout bounds ctx by d. Zero leaves ctx unbounded.
func withOperationTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, d)
}

// outcomeOf maps a result code to a metric label.
func outcomeOf(code string) string {
	if code == "" {
		return observability.OutcomeSuccess
	}
	return code
}

type userAgentKey struct{}

// ContextWithUserAgent attaches the client's user agent to ctx so the
// session opened by a sign-in records it.
func ContextWithUserAgent(ctx context.Context, userAgent string) context.Context {
	return context.WithValue(ctx, userAgentKey{}, userAgent)
}

// UserAgentFromContext returns the user agent set by ContextWithUserAgent.
func UserAgentFromContext(ctx context.Context) string {
	ua, _ := ctx.Value(userAgentKey{}).(string)
	return ua
}
