package staging

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const lockPrefix = "upload:lock:"

// DefaultLockLease bounds how long a crashed chunk call can hold its token.
const DefaultLockLease = 30 * time.Second

// ErrLockHeld means another chunk call for the same token is in flight.
var ErrLockHeld = errors.New("upload session is locked by another request")

// Lock is a short-lived lease over one upload token. It serializes chunk
// calls so two overlapping requests cannot consume the same row range.
type Lock struct {
	rdb   *redis.Client
	key   string
	owner string
}

// luaRelease deletes the lock only if the caller still owns it, so a lease
// that expired and was re-acquired by someone else is never released by the
// original holder.
//
// KEYS[1] = lock key
// ARGV[1] = owner id
const luaRelease = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

var releaseScript = redis.NewScript(luaRelease)

// AcquireLock takes the per-token lock, or fails immediately with ErrLockHeld.
// lease <= 0 falls back to DefaultLockLease.
func (s *Store) AcquireLock(ctx context.Context, token string, lease time.Duration) (*Lock, error) {
	if lease <= 0 {
		lease = DefaultLockLease
	}
	owner := uuid.NewString()
	key := lockPrefix + token

	ok, err := s.rdb.SetNX(ctx, key, owner, lease).Result()
	if err != nil {
		return nil, fmt.Errorf("staging: acquire lock: %w", err)
	}
	if !ok {
		return nil, ErrLockHeld
	}
	return &Lock{rdb: s.rdb, key: key, owner: owner}, nil
}

// Release frees the lock if this holder still owns it.
func (l *Lock) Release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, l.rdb, []string{l.key}, l.owner).Err(); err != nil {
		return fmt.Errorf("staging: release lock: %w", err)
	}
	return nil
}
