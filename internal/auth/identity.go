// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Identity validation constraints.
const (
	MaxEmailLength       = 254
	MaxDisplayNameLength = 100
)

// emailRegex matches a normalized (lowercase) address: a local part of
// letters, digits and ._%+- followed by a dotted domain with an alphabetic TLD.
var emailRegex = regexp.MustCompile(`^[a-z0-9._%+\-]+@[a-z0-9\-]+(\.[a-z0-9\-]+)*\.[a-z]{2,}$`)

// Identity is an account that can sign in.
type Identity struct {
	ID             ulid.ULID
	Email          string
	DisplayName    string
	PasswordDigest string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// NewIdentity creates a validated Identity. The email is normalized.
func NewIdentity(email, displayName, passwordDigest string, now time.Time) (*Identity, error) {
	email = NormalizeEmail(email)
	if err := ValidateEmail(email); err != nil {
		return nil, err
	}
	if err := ValidateDisplayName(displayName); err != nil {
		return nil, err
	}
	if passwordDigest == "" {
		return nil, oops.Code("IDENTITY_INVALID_DIGEST").Errorf("password digest cannot be empty")
	}
	return &Identity{
		ID:             ulid.Make(),
		Email:          email,
		DisplayName:    strings.TrimSpace(displayName),
		PasswordDigest: passwordDigest,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

// NormalizeEmail trims surrounding whitespace and lowercases the address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidateEmail checks a normalized email address.
func ValidateEmail(email string) error {
	if email == "" {
		return oops.Code("AUTH_INVALID_EMAIL").Errorf("email cannot be empty")
	}
	if len(email) > MaxEmailLength {
		return oops.Code("AUTH_INVALID_EMAIL").
			With("max", MaxEmailLength).
			Errorf("email must be at most %d characters", MaxEmailLength)
	}
	if !emailRegex.MatchString(email) {
		return oops.Code("AUTH_INVALID_EMAIL").Errorf("email is not a valid address")
	}
	return nil
}

// ValidateDisplayName checks that a display name is present and not too long.
func ValidateDisplayName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return oops.Code("AUTH_INVALID_DISPLAY_NAME").Errorf("display name cannot be empty")
	}
	if utf8.RuneCountInString(name) > MaxDisplayNameLength {
		return oops.Code("AUTH_INVALID_DISPLAY_NAME").
			With("max", MaxDisplayNameLength).
			Errorf("display name must be at most %d characters", MaxDisplayNameLength)
	}
	return nil
}

// PasswordPolicy bounds password length in characters.
type PasswordPolicy struct {
	MinLength int
	MaxLength int
}

// Validate checks a new password against the policy.
func (p PasswordPolicy) Validate(password string) error {
	n := utf8.RuneCountInString(password)
	if n < p.MinLength {
		return oops.Code("AUTH_INVALID_PASSWORD").
			With("min", p.MinLength).
			Errorf("password must be at least %d characters", p.MinLength)
	}
	if n > p.MaxLength {
		return oops.Code("AUTH_INVALID_PASSWORD").
			With("max", p.MaxLength).
			Errorf("password must be at most %d characters", p.MaxLength)
	}
	return nil
}

// IdentityRepository manages identity persistence.
type IdentityRepository interface {
	// Create stores a new identity. Returns ErrDuplicate if the email is taken.
	Create(ctx context.Context, identity *Identity) error

	// GetByID retrieves an identity by ID.
	GetByID(ctx context.Context, id ulid.ULID) (*Identity, error)

	// GetByEmail retrieves an identity by email (case-insensitive).
	// Returns ErrNotFound if no identity has the given email.
	GetByEmail(ctx context.Context, email string) (*Identity, error)

	// UpdatePassword replaces the password digest for an identity.
	UpdatePassword(ctx context.Context, id ulid.ULID, passwordDigest string, updatedAt time.Time) error

	// Delete removes an identity.
	Delete(ctx context.Context, id ulid.ULID) error
}

func isZeroID(id ulid.ULID) bool {
	return id.Compare(ulid.ULID{}) == 0
}

// redacted returns a copy without the password digest, for handing to callers.
func (i *Identity) redacted() *Identity {
	out := *i
	out.PasswordDigest = ""
	return &out
}
