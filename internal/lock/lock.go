// Package lock provides short-lived leases that keep two workers from running
// the same generation task at once.
package lock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	appErrors "github.com/unclebandit/campaign-engine/internal/errors"
)

// Lease is a held lock. Release is safe to call more than once.
type Lease interface {
	Release(ctx context.Context) error
}

// Locker hands out leases by key. Acquire returns appErrors.ErrLockNotAcquired
// when another holder owns the key.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, error)
}

type localEntry struct {
	token   string
	expires time.Time
}

// LocalLocker is an in-process Locker for single-node runs and tests.
type LocalLocker struct {
	mu      sync.Mutex
	entries map[string]localEntry
	Now     func() time.Time
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{entries: map[string]localEntry{}, Now: time.Now}
}

func (l *LocalLocker) Acquire(_ context.Context, key string, ttl time.Duration) (Lease, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.Now()
	if e, ok := l.entries[key]; ok && now.Before(e.expires) {
		return nil, appErrors.ErrLockNotAcquired
	}
	token := uuid.NewString()
	l.entries[key] = localEntry{token: token, expires: now.Add(ttl)}
	return &localLease{owner: l, key: key, token: token}, nil
}

type localLease struct {
	owner *LocalLocker
	key   string
	token string
}

func (ll *localLease) Release(context.Context) error {
	l := ll.owner
	l.mu.Lock()
	defer l.mu.Unlock()
	// An expired lease may have been taken over; only the holder deletes.
	if e, ok := l.entries[ll.key]; ok && e.token == ll.token {
		delete(l.entries, ll.key)
	}
	return nil
}
