package conversation

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Per-thread mutual-exclusion lease. Appends to one thread serialize on a
// SET NX PX key holding a fencing token; the short TTL bounds the damage of
// a crashed holder.
const (
	leaseTTL          = 5 * time.Second
	leaseWait         = 2 * time.Second
	leaseRetryBackoff = 25 * time.Millisecond
)

// releaseScript deletes the lock only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type lease struct {
	rdb   *redis.Client
	key   string
	token string
}

// acquireLease takes the per-thread lease, retrying briefly if another
// append holds it.
func (s *Store) acquireLease(ctx context.Context, id string) (*lease, error) {
	l := &lease{rdb: s.rdb, key: lockKey(id), token: uuid.NewString()}

	deadline := time.Now().Add(leaseWait)
	for {
		ok, err := s.rdb.SetNX(ctx, l.key, l.token, leaseTTL).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire thread lease: %w", err)
		}
		if ok {
			return l, nil
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("thread %s: lease held too long", id)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(leaseRetryBackoff):
		}
	}
}

// Release frees the lease if we still hold it. Expired leases release as a
// no-op.
func (l *lease) Release(ctx context.Context) {
	_ = releaseScript.Run(ctx, l.rdb, []string{l.key}, l.token).Err()
}
