// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package memory provides in-process implementations of the auth stores.
// They are safe for concurrent use and suited to single-instance
// deployments and tests.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/holomush/authcore/internal/auth"
)

// IdentityRepository is an in-memory auth.IdentityRepository.
type IdentityRepository struct {
	mu      sync.RWMutex
	byID    map[ulid.ULID]auth.Identity
	byEmail map[string]ulid.ULID
}

// NewIdentityRepository creates an empty IdentityRepository.
func NewIdentityRepository() *IdentityRepository {
	return &IdentityRepository{
		byID:    make(map[ulid.ULID]auth.Identity),
		byEmail: make(map[string]ulid.ULID),
	}
}

// Create stores a new identity.
func (r *IdentityRepository) Create(_ context.Context, identity *auth.Identity) error {
	email := auth.NormalizeEmail(identity.Email)

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byID[identity.ID]; ok {
		return oops.Code("IDENTITY_CREATE_FAILED").With("id", identity.ID.String()).Wrap(auth.ErrDuplicate)
	}
	if _, ok := r.byEmail[email]; ok {
		return oops.Code("IDENTITY_CREATE_FAILED").With("email", email).Wrap(auth.ErrDuplicate)
	}
	r.byID[identity.ID] = *identity
	r.byEmail[email] = identity.ID
	return nil
}

// GetByID retrieves an identity by ID.
func (r *IdentityRepository) GetByID(_ context.Context, id ulid.ULID) (*auth.Identity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	identity, ok := r.byID[id]
	if !ok {
		return nil, oops.Code("IDENTITY_NOT_FOUND").With("id", id.String()).Wrap(auth.ErrNotFound)
	}
	return &identity, nil
}

// GetByEmail retrieves an identity by email, ignoring case.
func (r *IdentityRepository) GetByEmail(_ context.Context, email string) (*auth.Identity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byEmail[auth.NormalizeEmail(email)]
	if !ok {
		return nil, oops.Code("IDENTITY_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	identity := r.byID[id]
	return &identity, nil
}

// UpdatePassword replaces an identity's password digest.
func (r *IdentityRepository) UpdatePassword(_ context.Context, id ulid.ULID, digest string, updatedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	identity, ok := r.byID[id]
	if !ok {
		return oops.Code("IDENTITY_NOT_FOUND").With("id", id.String()).Wrap(auth.ErrNotFound)
	}
	identity.PasswordDigest = digest
	identity.UpdatedAt = updatedAt
	r.byID[id] = identity
	return nil
}

// Delete removes an identity.
func (r *IdentityRepository) Delete(_ context.Context, id ulid.ULID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	identity, ok := r.byID[id]
	if !ok {
		return oops.Code("IDENTITY_NOT_FOUND").With("id", id.String()).Wrap(auth.ErrNotFound)
	}
	delete(r.byID, id)
	delete(r.byEmail, auth.NormalizeEmail(identity.Email))
	return nil
}

// exists reports whether id is stored. Used for the session foreign key check.
func (r *IdentityRepository) exists(id ulid.ULID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byID[id]
	return ok
}

var _ auth.IdentityRepository = (*IdentityRepository)(nil)
