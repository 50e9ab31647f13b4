/**
 * @description
 * A minimal Redis lease used to make sure a scheduled sweep runs on a single
 * replica at a time. Acquisition is SET NX PX; release deletes the key only
 * when it still holds this lease's token.
 */
package redislock

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrNotAcquired is returned when another holder owns the lease.
var ErrNotAcquired = errors.New("redislock: lease held by another owner")

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker hands out named leases.
type Locker struct {
	client redis.UniversalClient
	prefix string
}

// Lease is a held lock. Release it when the guarded work is done.
type Lease struct {
	client redis.UniversalClient
	key    string
	token  string
}

// New creates a Locker whose keys are namespaced by prefix.
func New(client redis.UniversalClient, prefix string) *Locker {
	trimmed := strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if trimmed == "" {
		trimmed = "gescomptes:lock"
	}
	return &Locker{client: client, prefix: trimmed}
}

// Key returns the redis key used for name.
func (l *Locker) Key(name string) string {
	return fmt.Sprintf("%s:%s", l.prefix, strings.TrimSpace(name))
}

// Acquire takes the lease for name for at most ttl.
func (l *Locker) Acquire(ctx context.Context, name string, ttl time.Duration) (*Lease, error) {
	if ttl < time.Second {
		ttl = time.Second
	}
	key := l.Key(name)
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redislock: acquire %s: %w", key, err)
	}
	if !ok {
		return nil, ErrNotAcquired
	}
	return &Lease{client: l.client, key: key, token: token}, nil
}

// Release frees the lease if it is still owned. Releasing an expired lease is
// not an error.
func (l *Lease) Release(ctx context.Context) error {
	if l == nil {
		return nil
	}
	if err := releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("redislock: release %s: %w", l.key, err)
	}
	return nil
}
