// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Token configuration.
const (
	TokenBytes = 32 // 32 bytes = 64 hex chars

	MinTokenTTL = 5 * time.Minute
	MaxTokenTTL = 365 * 24 * time.Hour
)

// IssuedSession is the output of TokenIssuer.Issue. The raw tokens are
// handed to the caller once and never stored.
type IssuedSession struct {
	SessionID  ulid.ULID
	IdentityID ulid.ULID
	IssuedAt   time.Time

	AccessToken       string
	AccessTokenDigest string
	AccessExpiresAt   time.Time

	ResetToken       string
	ResetTokenDigest string
	ResetExpiresAt   time.Time
}

// TokenIssuer generates session ids and token pairs.
type TokenIssuer struct {
	accessTTL time.Duration
	resetTTL  time.Duration
	clock     Clock
}

// NewTokenIssuer creates a TokenIssuer. Both TTLs must be between 5 minutes and one year.
func NewTokenIssuer(accessTTL, resetTTL time.Duration, clock Clock) (*TokenIssuer, error) {
	if clock == nil {
		return nil, oops.Code("AUTH_INVALID_DEPENDENCY").Errorf("clock is required")
	}
	for name, ttl := range map[string]time.Duration{"access": accessTTL, "reset": resetTTL} {
		if ttl < MinTokenTTL || ttl > MaxTokenTTL {
			return nil, oops.Code("AUTH_INVALID_TOKEN_TTL").
				With("token", name).
				With("ttl", ttl.String()).
				Errorf("%s token ttl must be between %s and %s", name, MinTokenTTL, MaxTokenTTL)
		}
	}
	return &TokenIssuer{accessTTL: accessTTL, resetTTL: resetTTL, clock: clock}, nil
}

// Issue creates a new session id with fresh access and reset tokens for identityID.
func (t *TokenIssuer) Issue(identityID ulid.ULID) (*IssuedSession, error) {
	if isZeroID(identityID) {
		return nil, oops.Code("AUTH_INVALID_IDENTITY").Errorf("identity ID cannot be zero")
	}

	now := t.clock.Now()
	sessionID, err := ulid.New(ulid.Timestamp(now), ulid.DefaultEntropy())
	if err != nil {
		return nil, oops.Code("SESSION_ID_GENERATE_FAILED").Wrap(err)
	}

	access, accessDigest, err := GenerateToken()
	if err != nil {
		return nil, err
	}
	reset, resetDigest, err := GenerateToken()
	if err != nil {
		return nil, err
	}

	return &IssuedSession{
		SessionID:         sessionID,
		IdentityID:        identityID,
		IssuedAt:          now,
		AccessToken:       access,
		AccessTokenDigest: accessDigest,
		AccessExpiresAt:   now.Add(t.accessTTL),
		ResetToken:        reset,
		ResetTokenDigest:  resetDigest,
		ResetExpiresAt:    now.Add(t.resetTTL),
	}, nil
}

// GenerateToken creates a secure random token and its digest.
// The plaintext token goes to the client; the digest is stored.
func GenerateToken() (token, digest string, err error) {
	tokenBytes := make([]byte, TokenBytes)
	if _, err = rand.Read(tokenBytes); err != nil {
		return "", "", oops.Code("SESSION_TOKEN_GENERATE_FAILED").
			With("operation", "crypto/rand.Read").
			With("requested_bytes", TokenBytes).
			Wrap(err)
	}

	token = hex.EncodeToString(tokenBytes)
	return token, HashToken(token), nil
}

// HashToken computes the hex SHA-256 digest of a token.
func HashToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

// VerifyToken checks a plaintext token against a stored digest in constant time.
// Returns (true, nil) on match, (false, nil) on mismatch, or (false, error) on empty input.
func VerifyToken(token, digest string) (bool, error) {
	if token == "" {
		return false, oops.Code("SESSION_TOKEN_EMPTY").Errorf("session token cannot be empty")
	}
	if digest == "" {
		return false, oops.Code("SESSION_HASH_EMPTY").Errorf("stored digest cannot be empty")
	}
	computed := HashToken(token)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(digest)) == 1, nil
}
