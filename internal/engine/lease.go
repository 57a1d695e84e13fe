package engine

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dyluth/chanrelay/pkg/relay"
)

// renewScript extends the lease only if we still own it.
var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// releaseScript deletes the lease only if we still own it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Lease is a Redis lock (SET NX PX) naming the one relayd per instance that
// consumes posts and commands. Every other relayd keeps its index warm from
// routing changes and takes over once the holder stops renewing.
type Lease struct {
	rdb   *redis.Client
	key   string
	owner string
	ttl   time.Duration
	now   func() time.Time

	// validUntil is the local deadline of the last successful acquire, in unix nanos.
	validUntil atomic.Int64
}

// NewLease creates a lease on the instance's leader key for owner.
func NewLease(client *relay.Client, owner string, ttl time.Duration) *Lease {
	return &Lease{
		rdb:   client.Redis(),
		key:   relay.LeaderKey(client.InstanceName()),
		owner: owner,
		ttl:   ttl,
		now:   time.Now,
	}
}

// Owner returns the id this lease is held under.
func (l *Lease) Owner() string { return l.owner }

// RenewInterval is how often a holder must call Acquire to keep the lease.
func (l *Lease) RenewInterval() time.Duration { return l.ttl / 3 }

// Acquire takes the lease if it is free, or renews it if we hold it.
// It reports whether we hold it afterwards.
func (l *Lease) Acquire(ctx context.Context) (bool, error) {
	start := l.now()

	taken, err := l.rdb.SetNX(ctx, l.key, l.owner, l.ttl).Result()
	if err != nil {
		l.validUntil.Store(0)
		return false, fmt.Errorf("failed to acquire leader lease: %w", err)
	}
	if !taken {
		renewed, err := renewScript.Run(ctx, l.rdb, []string{l.key}, l.owner, l.ttl.Milliseconds()).Int()
		if err != nil {
			l.validUntil.Store(0)
			return false, fmt.Errorf("failed to renew leader lease: %w", err)
		}
		taken = renewed == 1
	}

	if !taken {
		l.validUntil.Store(0)
		return false, nil
	}
	// Counted from before the request so we never outlive the key in Redis.
	l.validUntil.Store(start.Add(l.ttl).UnixNano())
	return true, nil
}

// Held reports whether the last acquire succeeded and has not yet expired.
func (l *Lease) Held() bool {
	return l.now().UnixNano() < l.validUntil.Load()
}

// Release gives the lease up so a standby can take over without waiting for expiry.
func (l *Lease) Release(ctx context.Context) error {
	l.validUntil.Store(0)
	if err := releaseScript.Run(ctx, l.rdb, []string{l.key}, l.owner).Err(); err != nil {
		return fmt.Errorf("failed to release leader lease: %w", err)
	}
	return nil
}
