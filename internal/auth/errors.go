// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import "errors"

// Result failure codes. These are stable and safe to hand to callers.
const (
	CodeRateLimited        = "RATE_LIMITED"
	CodeAccountLocked      = "ACCOUNT_LOCKED"
	CodeInvalidCredentials = "INVALID_CREDENTIALS"
	CodeSessionNotFound    = "SESSION_NOT_FOUND"
	CodeSessionExpired     = "SESSION_EXPIRED"
	CodeSessionInvalid     = "SESSION_INVALID"
	CodeSessionDuplicate   = "SESSION_DUPLICATE"
	CodeIdentityNotFound   = "IDENTITY_NOT_FOUND"
	CodeIdentityDuplicate  = "IDENTITY_DUPLICATE"
	CodeValidation         = "VALIDATION_ERROR"
	CodeUnexpected         = "UNEXPECTED_ERROR"
)

// Sentinel errors returned by persistence collaborators. Implementations wrap
// them with oops so callers can match with errors.Is.
var (
	// ErrNotFound is returned when a requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicate is returned when an entity with the same identity already exists.
	ErrDuplicate = errors.New("duplicate")

	// ErrIdentityNotFound is returned when a session references a missing identity.
	ErrIdentityNotFound = errors.New("identity not found")
)
