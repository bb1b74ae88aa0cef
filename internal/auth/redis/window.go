// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package redis

import (
	"context"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/samber/oops"

	"github.com/holomush/authcore/internal/auth"
)

// hitScript advances one fixed window. It mirrors auth.AdvanceWindow:
// an elapsed or missing window restarts at 1 and the count stops at limit+1.
// Times are caller clock milliseconds; the key expires when the window ends.
var hitScript = goredis.NewScript(`
local count = tonumber(redis.call('HGET', KEYS[1], 'count'))
local start = tonumber(redis.call('HGET', KEYS[1], 'start'))
local now = tonumber(ARGV[1])
local limit = tonumber(ARGV[2])
local window = tonumber(ARGV[3])

if count == nil or start == nil or now - start >= window then
	count = 1
	start = now
elseif count <= limit then
	count = count + 1
end

redis.call('HSET', KEYS[1], 'count', count, 'start', start)
redis.call('PEXPIRE', KEYS[1], start + window - now)
return {count, start}
`)

// WindowStore is an auth.WindowStore shared by every process using the
// same Redis. Each Hit runs as a single script, so it is atomic per key.
type WindowStore struct {
	client goredis.Scripter
	prefix string
}

// NewWindowStore creates a WindowStore. prefix namespaces every key.
func NewWindowStore(client goredis.Scripter, prefix string) *WindowStore {
	return &WindowStore{client: client, prefix: prefix}
}

// Hit counts one request for key and returns the resulting window.
func (s *WindowStore) Hit(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (auth.Window, error) {
	vals, err := hitScript.Run(ctx, s.client, []string{s.prefix + key},
		now.UnixMilli(), limit, window.Milliseconds(),
	).Int64Slice()
	if err != nil {
		return auth.Window{}, oops.Code("RATE_LIMIT_STORE_FAILED").
			With("operation", "run window script").
			With("key", key).
			Wrap(err)
	}
	if len(vals) != 2 {
		return auth.Window{}, oops.Code("RATE_LIMIT_STORE_FAILED").
			With("operation", "decode window").
			With("key", key).
			Errorf("expected 2 values, got %d", len(vals))
	}
	return auth.Window{
		Count: int(vals[0]),
		Start: time.UnixMilli(vals[1]).In(now.Location()),
	}, nil
}

var _ auth.WindowStore = (*WindowStore)(nil)
