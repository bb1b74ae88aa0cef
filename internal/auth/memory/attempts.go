// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package memory

import (
	"context"
	"sync"
	"time"

	"github.com/samber/oops"

	"github.com/holomush/authcore/internal/auth"
)

// AttemptStore is an in-memory auth.AttemptStore. A single mutex serializes
// the read-apply-write of RecordFailure.
type AttemptStore struct {
	mu      sync.Mutex
	records map[string]auth.AttemptRecord
}

// NewAttemptStore creates an empty AttemptStore.
func NewAttemptStore() *AttemptStore {
	return &AttemptStore{records: make(map[string]auth.AttemptRecord)}
}

// Get returns a copy of the record for key.
func (s *AttemptStore) Get(_ context.Context, key string) (*auth.AttemptRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[key]
	if !ok {
		return nil, oops.Code("ATTEMPT_NOT_FOUND").With("key", key).Wrap(auth.ErrNotFound)
	}
	return copyRecord(rec), nil
}

// RecordFailure applies one failure to the record for key.
func (s *AttemptStore) RecordFailure(_ context.Context, key string, policy auth.LockoutPolicy, now time.Time) (*auth.AttemptRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[key]
	if !ok {
		rec = auth.AttemptRecord{Key: key}
	}
	rec = policy.Apply(rec, now)
	s.records[key] = rec
	return copyRecord(rec), nil
}

// Reset clears the record for key.
func (s *AttemptStore) Reset(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, key)
	return nil
}

func copyRecord(rec auth.AttemptRecord) *auth.AttemptRecord {
	out := rec
	if rec.LockedUntil != nil {
		until := *rec.LockedUntil
		out.LockedUntil = &until
	}
	return &out
}

var _ auth.AttemptStore = (*AttemptStore)(nil)
