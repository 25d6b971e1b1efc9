package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Guard marks ids as seen for a TTL.
type Guard struct {
	store Store
	ttl   time.Duration
	scope string
}

// NewGuard builds a guard whose keys are prefixed with scope.
func NewGuard(store Store, ttl time.Duration, scope string) (*Guard, error) {
	if store == nil {
		return nil, errors.New("idempotency store is required")
	}
	if ttl < 0 {
		return nil, errors.New("ttl must be non-negative")
	}
	if scope == "" {
		return nil, errors.New("scope is required")
	}
	return &Guard{store: store, ttl: ttl, scope: scope}, nil
}

func (g *Guard) key(id string) string {
	return fmt.Sprintf("lmsy:idem:%s:%s", g.scope, id)
}

// CheckAndMark reports whether id was already seen, marking it when it was not.
func (g *Guard) CheckAndMark(ctx context.Context, id string) (bool, error) {
	if id == "" {
		return false, errors.New("event id is required")
	}
	set, err := g.store.SetNX(ctx, g.key(id), "1", g.ttl)
	if err != nil {
		return false, fmt.Errorf("set idempotency key: %w", err)
	}
	return !set, nil
}

// Forget clears id so a redelivery is processed again.
func (g *Guard) Forget(ctx context.Context, id string) error {
	if id == "" {
		return errors.New("event id is required")
	}
	return g.store.Del(ctx, g.key(id))
}

// Lock is a TTL-bounded mutual exclusion for cron runs.
type Lock struct {
	store Store
	key   string
	ttl   time.Duration
	owner string
}

// NewLock builds a lock on key. A non-positive ttl defaults to 15 minutes.
func NewLock(store Store, key string, ttl time.Duration) (*Lock, error) {
	if store == nil {
		return nil, errors.New("lock store is required")
	}
	if key == "" {
		return nil, errors.New("lock key is required")
	}
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &Lock{store: store, key: "lmsy:lock:" + key, ttl: ttl}, nil
}

// Acquire tries to own the lock. It returns false when another run holds it.
func (l *Lock) Acquire(ctx context.Context) (bool, error) {
	owner := uuid.NewString()
	ok, err := l.store.SetNX(ctx, l.key, owner, l.ttl)
	if err != nil {
		return false, fmt.Errorf("setnx: %w", err)
	}
	if ok {
		l.owner = owner
	}
	return ok, nil
}

// Release frees the lock if this instance still owns it. The ownership check
// and the delete happen atomically in the store, so a lock that expired and
// was taken by another run is left alone.
func (l *Lock) Release(ctx context.Context) error {
	if l.owner == "" {
		return nil
	}
	if _, err := l.store.DelIfValue(ctx, l.key, l.owner); err != nil {
		return fmt.Errorf("release lock: %w", err)
	}
	l.owner = ""
	return nil
}
