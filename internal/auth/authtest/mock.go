// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package authtest

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/mock"

	"github.com/holomush/authcore/internal/auth"
)

// IdentityRepository is a testify mock of auth.IdentityRepository.
type IdentityRepository struct {
	mock.Mock
}

func (m *IdentityRepository) Create(ctx context.Context, identity *auth.Identity) error {
	args := m.Called(ctx, identity)
	return args.Error(0)
}

func (m *IdentityRepository) GetByID(ctx context.Context, id ulid.ULID) (*auth.Identity, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*auth.Identity), args.Error(1)
}

func (m *IdentityRepository) GetByEmail(ctx context.Context, email string) (*auth.Identity, error) {
	args := m.Called(ctx, email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*auth.Identity), args.Error(1)
}

func (m *IdentityRepository) UpdatePassword(ctx context.Context, id ulid.ULID, digest string, updatedAt time.Time) error {
	args := m.Called(ctx, id, digest, updatedAt)
	return args.Error(0)
}

func (m *IdentityRepository) Delete(ctx context.Context, id ulid.ULID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

// SessionRepository is a testify mock of auth.SessionRepository.
type SessionRepository struct {
	mock.Mock
}

func (m *SessionRepository) Create(ctx context.Context, session *auth.Session) error {
	args := m.Called(ctx, session)
	return args.Error(0)
}

func (m *SessionRepository) FindFirst(ctx context.Context, identityID, sessionID ulid.ULID) (*auth.Session, error) {
	args := m.Called(ctx, identityID, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*auth.Session), args.Error(1)
}

func (m *SessionRepository) Touch(ctx context.Context, id ulid.ULID, updatedAt time.Time) error {
	args := m.Called(ctx, id, updatedAt)
	return args.Error(0)
}

func (m *SessionRepository) Delete(ctx context.Context, id ulid.ULID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *SessionRepository) DeleteByIdentity(ctx context.Context, identityID ulid.ULID) (int64, error) {
	args := m.Called(ctx, identityID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *SessionRepository) DeleteOldest(ctx context.Context, identityID ulid.ULID, keep int) (int64, error) {
	args := m.Called(ctx, identityID, keep)
	return args.Get(0).(int64), args.Error(1)
}

func (m *SessionRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	args := m.Called(ctx, now)
	return args.Get(0).(int64), args.Error(1)
}

// AttemptStore is a testify mock of auth.AttemptStore.
type AttemptStore struct {
	mock.Mock
}

func (m *AttemptStore) Get(ctx context.Context, key string) (*auth.AttemptRecord, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*auth.AttemptRecord), args.Error(1)
}

func (m *AttemptStore) RecordFailure(ctx context.Context, key string, policy auth.LockoutPolicy, now time.Time) (*auth.AttemptRecord, error) {
	args := m.Called(ctx, key, policy, now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*auth.AttemptRecord), args.Error(1)
}

func (m *AttemptStore) Reset(ctx context.Context, key string) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}

// WindowStore is a testify mock of auth.WindowStore.
type WindowStore struct {
	mock.Mock
}

func (m *WindowStore) Hit(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (auth.Window, error) {
	args := m.Called(ctx, key, limit, window, now)
	return args.Get(0).(auth.Window), args.Error(1)
}

// PasswordHasher is a testify mock of auth.PasswordHasher.
type PasswordHasher struct {
	mock.Mock
}

func (m *PasswordHasher) Hash(password string) (string, error) {
	args := m.Called(password)
	return args.String(0), args.Error(1)
}

func (m *PasswordHasher) Verify(password, digest string) (bool, error) {
	args := m.Called(password, digest)
	return args.Bool(0), args.Error(1)
}

func (m *PasswordHasher) NeedsUpgrade(digest string) bool {
	args := m.Called(digest)
	return args.Bool(0)
}

// Verify interfaces are satisfied.
var (
	_ auth.IdentityRepository = (*IdentityRepository)(nil)
	_ auth.SessionRepository  = (*SessionRepository)(nil)
	_ auth.AttemptStore       = (*AttemptStore)(nil)
	_ auth.WindowStore        = (*WindowStore)(nil)
	_ auth.PasswordHasher     = (*PasswordHasher)(nil)
)
