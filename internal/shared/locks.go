package shared

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// CustomerLockKey builds the redis key serializing settlement work for one
// customer.
func CustomerLockKey(customerCode string) string {
	return fmt.Sprintf("customer:%s:settle:lock", customerCode)
}

// releaseScript deletes the lock only when still held by the releasing owner.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// CustomerLocks serializes settlement work per customer code. Two concurrent
// chains for the same customer would race on the balance and on the invoice
// walk, so every event-graph handler and orchestrator entry point takes this
// lock first.
type CustomerLocks struct {
	client *redis.Client
	ttl    time.Duration
	retry  time.Duration
}

// heldLockKey marks a context that already carries a customer's lease.
type heldLockKey struct{}

// NewCustomerLocks constructs the lock manager. ttl bounds how long a crashed
// holder can block a customer.
func NewCustomerLocks(client *redis.Client, ttl time.Duration) *CustomerLocks {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &CustomerLocks{client: client, ttl: ttl, retry: 50 * time.Millisecond}
}

// Acquire blocks until the customer's lock is held or ctx expires. The
// returned context records the lease, making nested Acquire calls for the
// same customer no-ops; a graph handler can therefore hold the lock across
// a whole settlement chain while Allocate and Reverse keep their own guard.
// The returned function releases the lock.
func (l *CustomerLocks) Acquire(ctx context.Context, customerCode string) (context.Context, func(), error) {
	if l == nil || l.client == nil {
		return ctx, func() {}, nil
	}
	key := CustomerLockKey(customerCode)
	if held, _ := ctx.Value(heldLockKey{}).(string); held == key {
		return ctx, func() {}, nil
	}
	owner := uuid.NewString()
	for {
		ok, err := l.client.SetNX(ctx, key, owner, l.ttl).Result()
		if err != nil {
			return nil, nil, fmt.Errorf("shared: acquire lock %s: %w", key, err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, nil, fmt.Errorf("shared: acquire lock %s: %w", key, ctx.Err())
		case <-time.After(l.retry):
		}
	}
	release := func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = releaseScript.Run(releaseCtx, l.client, []string{key}, owner).Err()
	}
	return context.WithValue(ctx, heldLockKey{}, key), release, nil
}
