// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/holomush/authcore/internal/auth"
)

// SessionRepository is an in-memory auth.SessionRepository.
type SessionRepository struct {
	mu         sync.RWMutex
	sessions   map[ulid.ULID]auth.Session
	identities *IdentityRepository
}

// NewSessionRepository creates an empty SessionRepository. When identities is
// non-nil, Create rejects sessions whose owner is not stored there.
func NewSessionRepository(identities *IdentityRepository) *SessionRepository {
	return &SessionRepository{
		sessions:   make(map[ulid.ULID]auth.Session),
		identities: identities,
	}
}

// Create stores a new session.
func (r *SessionRepository) Create(_ context.Context, session *auth.Session) error {
	if r.identities != nil && !r.identities.exists(session.IdentityID) {
		return oops.Code("SESSION_CREATE_FAILED").
			With("identity_id", session.IdentityID.String()).
			Wrap(auth.ErrIdentityNotFound)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[session.ID]; ok {
		return oops.Code("SESSION_CREATE_FAILED").
			With("session_id", session.ID.String()).
			Wrap(auth.ErrDuplicate)
	}
	r.sessions[session.ID] = *session
	return nil
}

// FindFirst returns the matching session with the latest access expiry.
func (r *SessionRepository) FindFirst(_ context.Context, identityID, sessionID ulid.ULID) (*auth.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[sessionID]
	if !ok || s.IdentityID != identityID {
		return nil, oops.Code("SESSION_NOT_FOUND").
			With("session_id", sessionID.String()).
			Wrap(auth.ErrNotFound)
	}
	return &s, nil
}

// Touch updates UpdatedAt for a session.
func (r *SessionRepository) Touch(_ context.Context, id ulid.ULID, updatedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return oops.Code("SESSION_NOT_FOUND").With("session_id", id.String()).Wrap(auth.ErrNotFound)
	}
	s.UpdatedAt = updatedAt
	r.sessions[id] = s
	return nil
}

// Delete removes a session by ID.
func (r *SessionRepository) Delete(_ context.Context, id ulid.ULID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[id]; !ok {
		return oops.Code("SESSION_NOT_FOUND").With("session_id", id.String()).Wrap(auth.ErrNotFound)
	}
	delete(r.sessions, id)
	return nil
}

// DeleteByIdentity removes all sessions for an identity.
func (r *SessionRepository) DeleteByIdentity(_ context.Context, identityID ulid.ULID) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for id, s := range r.sessions {
		if s.IdentityID == identityID {
			delete(r.sessions, id)
			n++
		}
	}
	return n, nil
}

// DeleteOldest removes all but the newest keep sessions of an identity.
func (r *SessionRepository) DeleteOldest(_ context.Context, identityID ulid.ULID, keep int) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var owned []auth.Session
	for _, s := range r.sessions {
		if s.IdentityID == identityID {
			owned = append(owned, s)
		}
	}
	if len(owned) <= keep {
		return 0, nil
	}

	// Newest first; session IDs are ULIDs so they break ties by creation order.
	sort.Slice(owned, func(i, j int) bool {
		if !owned[i].CreatedAt.Equal(owned[j].CreatedAt) {
			return owned[i].CreatedAt.After(owned[j].CreatedAt)
		}
		return owned[i].ID.Compare(owned[j].ID) > 0
	})

	var n int64
	for _, s := range owned[keep:] {
		delete(r.sessions, s.ID)
		n++
	}
	return n, nil
}

// DeleteExpired removes sessions whose access and reset tokens have both expired.
func (r *SessionRepository) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for id, s := range r.sessions {
		if s.IsAccessExpiredAt(now) && s.IsResetExpiredAt(now) {
			delete(r.sessions, id)
			n++
		}
	}
	return n, nil
}

// Len returns the number of stored sessions.
func (r *SessionRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

var _ auth.SessionRepository = (*SessionRepository)(nil)
