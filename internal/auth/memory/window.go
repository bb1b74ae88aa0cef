// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package memory

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/holomush/authcore/internal/auth"
)

// pruneEvery is how many hits pass between sweeps of elapsed windows.
const pruneEvery = 1024

type windowEntry struct {
	window   auth.Window
	duration time.Duration
}

// WindowStore is an in-memory auth.WindowStore. Elapsed windows are dropped
// lazily during Hit; there is no background goroutine.
type WindowStore struct {
	mu      sync.Mutex
	windows map[string]windowEntry
	hits    int

	// keyGauge tracks the number of live windows (nil if no registry provided).
	keyGauge prometheus.Gauge
}

// NewWindowStore creates an empty WindowStore.
func NewWindowStore() *WindowStore {
	return newWindowStore(nil)
}

// NewWindowStoreWithRegistry creates a WindowStore and registers a gauge of
// tracked windows with reg.
func NewWindowStoreWithRegistry(reg prometheus.Registerer) *WindowStore {
	return newWindowStore(reg)
}

func newWindowStore(reg prometheus.Registerer) *WindowStore {
	s := &WindowStore{windows: make(map[string]windowEntry)}
	if reg != nil {
		s.keyGauge = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "authcore_ratelimit_windows",
			Help: "Current number of tracked rate limit windows",
		})
		reg.MustRegister(s.keyGauge)
	}
	return s
}

// Hit counts one request for key and returns the resulting window.
func (s *WindowStore) Hit(_ context.Context, key string, limit int, window time.Duration, now time.Time) (auth.Window, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var current *auth.Window
	if e, ok := s.windows[key]; ok {
		current = &e.window
	}
	next := auth.AdvanceWindow(current, limit, window, now)
	s.windows[key] = windowEntry{window: next, duration: window}

	s.hits++
	if s.hits >= pruneEvery {
		s.hits = 0
		s.pruneLocked(now)
	}
	s.updateGaugeLocked()

	return next, nil
}

// Prune drops every window that has elapsed at now.
func (s *WindowStore) Prune(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneLocked(now)
	s.updateGaugeLocked()
}

// Len returns the number of tracked windows.
func (s *WindowStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.windows)
}

func (s *WindowStore) pruneLocked(now time.Time) {
	for key, e := range s.windows {
		if now.Sub(e.window.Start) >= e.duration {
			delete(s.windows, key)
		}
	}
}

func (s *WindowStore) updateGaugeLocked() {
	if s.keyGauge != nil {
		s.keyGauge.Set(float64(len(s.windows)))
	}
}

var _ auth.WindowStore = (*WindowStore)(nil)
