// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/holomush/authcore/internal/auth"
	"github.com/holomush/authcore/internal/auth/authtest"
	"github.com/holomush/authcore/pkg/errutil"
)

func issueFor(t *testing.T, identityID ulid.ULID) *auth.IssuedSession {
	t.Helper()
	issuer, err := auth.NewTokenIssuer(time.Hour, 24*time.Hour, authtest.NewFakeClock(epoch))
	require.NoError(t, err)
	issued, err := issuer.Issue(identityID)
	require.NoError(t, err)
	return issued
}

func TestNewSession(t *testing.T) {
	identityID := ulid.Make()

	t.Run("copies issued fields", func(t *testing.T) {
		issued := issueFor(t, identityID)
		s, err := auth.NewSession(issued, "1.2.3.4", "curl/8")
		require.NoError(t, err)

		assert.Equal(t, issued.SessionID, s.ID)
		assert.Equal(t, identityID, s.IdentityID)
		assert.Equal(t, issued.AccessTokenDigest, s.AccessTokenDigest)
		assert.Equal(t, issued.ResetTokenDigest, s.ResetTokenDigest)
		assert.Equal(t, "1.2.3.4", s.SourceIP)
		assert.Equal(t, "curl/8", s.UserAgent)
		assert.Equal(t, epoch, s.CreatedAt)
		assert.Equal(t, epoch, s.UpdatedAt)
	})

	tests := []struct {
		name   string
		mutate func(*auth.IssuedSession)
		code   string
	}{
		{"zero session id", func(i *auth.IssuedSession) { i.SessionID = ulid.ULID{} }, "SESSION_INVALID_ID"},
		{"zero identity id", func(i *auth.IssuedSession) { i.IdentityID = ulid.ULID{} }, "SESSION_INVALID_IDENTITY"},
		{"empty access digest", func(i *auth.IssuedSession) { i.AccessTokenDigest = "" }, "SESSION_INVALID_HASH"},
		{"empty reset digest", func(i *auth.IssuedSession) { i.ResetTokenDigest = "" }, "SESSION_INVALID_HASH"},
		{"expiry equal to creation", func(i *auth.IssuedSession) { i.AccessExpiresAt = i.IssuedAt }, "SESSION_INVALID_EXPIRY"},
		{"expiry before creation", func(i *auth.IssuedSession) { i.AccessExpiresAt = i.IssuedAt.Add(-time.Second) }, "SESSION_INVALID_EXPIRY"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			issued := issueFor(t, identityID)
			tt.mutate(issued)
			_, err := auth.NewSession(issued, "", "")
			errutil.AssertErrorCode(t, err, tt.code)
		})
	}

	t.Run("nil issued session", func(t *testing.T) {
		_, err := auth.NewSession(nil, "", "")
		errutil.AssertErrorCode(t, err, "SESSION_INVALID")
	})
}

func TestSession_ExpiryBoundaries(t *testing.T) {
	s := &auth.Session{AccessExpiresAt: epoch.Add(time.Hour), ResetExpiresAt: epoch.Add(2 * time.Hour)}

	assert.False(t, s.IsAccessExpiredAt(epoch.Add(time.Hour-time.Nanosecond)))
	assert.True(t, s.IsAccessExpiredAt(epoch.Add(time.Hour)))
	assert.True(t, s.IsAccessExpiredAt(epoch.Add(time.Hour+time.Nanosecond)))

	assert.False(t, s.IsResetExpiredAt(epoch.Add(time.Hour)))
	assert.True(t, s.IsResetExpiredAt(epoch.Add(2*time.Hour)))
}

func TestSessionStore_Create(t *testing.T) {
	ctx := context.Background()
	session := &auth.Session{ID: ulid.Make(), IdentityID: ulid.Make()}

	tests := []struct {
		name     string
		repoErr  error
		wantCode string
		wantErr  bool
	}{
		{name: "success", repoErr: nil},
		{name: "duplicate", repoErr: auth.ErrDuplicate, wantCode: auth.CodeSessionDuplicate},
		{name: "missing identity", repoErr: auth.ErrIdentityNotFound, wantCode: auth.CodeIdentityNotFound},
		{name: "storage failure", repoErr: errors.New("disk full"), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := new(authtest.SessionRepository)
			repo.On("Create", ctx, session).Return(tt.repoErr)
			store, err := auth.NewSessionStore(repo)
			require.NoError(t, err)

			res, err := store.Create(ctx, session)
			if tt.wantErr {
				require.Error(t, err)
				errutil.AssertErrorCode(t, err, "SESSION_CREATE_FAILED")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantCode, res.Code())
			if tt.wantCode == "" {
				assert.Same(t, session, res.Data())
			}
		})
	}
}

func TestSessionStore_FindFirst(t *testing.T) {
	ctx := context.Background()
	identityID, sessionID := ulid.Make(), ulid.Make()

	t.Run("absent session is nil", func(t *testing.T) {
		repo := new(authtest.SessionRepository)
		repo.On("FindFirst", ctx, identityID, sessionID).Return(nil, auth.ErrNotFound)
		store, err := auth.NewSessionStore(repo)
		require.NoError(t, err)

		s, err := store.FindFirst(ctx, identityID, sessionID)
		require.NoError(t, err)
		assert.Nil(t, s)
	})

	t.Run("storage failure is an error", func(t *testing.T) {
		repo := new(authtest.SessionRepository)
		repo.On("FindFirst", ctx, identityID, sessionID).Return(nil, errors.New("timeout"))
		store, err := auth.NewSessionStore(repo)
		require.NoError(t, err)

		_, err = store.FindFirst(ctx, identityID, sessionID)
		errutil.AssertErrorCode(t, err, "SESSION_FIND_FAILED")
		errutil.AssertErrorContext(t, err, "session_id", sessionID.String())
	})
}

func TestSessionStore_Prune(t *testing.T) {
	ctx := context.Background()
	identityID := ulid.Make()

	repo := new(authtest.SessionRepository)
	repo.On("DeleteOldest", ctx, identityID, 3).Return(int64(2), nil)
	store, err := auth.NewSessionStore(repo)
	require.NoError(t, err)

	n, err := store.Prune(ctx, identityID, 0)
	require.NoError(t, err)
	assert.Zero(t, n)
	repo.AssertNotCalled(t, "DeleteOldest", mock.Anything, mock.Anything, 0)

	n, err = store.Prune(ctx, identityID, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	repo.AssertExpectations(t)
}

func TestSessionStore_Delete(t *testing.T) {
	ctx := context.Background()
	id := ulid.Make()

	repo := new(authtest.SessionRepository)
	repo.On("Delete", ctx, id).Return(auth.ErrNotFound).Once()
	store, err := auth.NewSessionStore(repo)
	require.NoError(t, err)

	deleted, err := store.Delete(ctx, id)
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestNewSessionStore_NilRepo(t *testing.T) {
	_, err := auth.NewSessionStore(nil)
	errutil.AssertErrorCode(t, err, "AUTH_INVALID_DEPENDENCY")
}
