package memory

import (
	"context"
	"sync"
	"time"

	"github.com/custodia-labs/storekb/internal/core/domain"
	"github.com/custodia-labs/storekb/internal/core/ports/driven"
)

// Ensure LockStore implements the interface.
var _ driven.LockStore = (*LockStore)(nil)

// LockStore is an in-process lease table. The mutex makes acquisition a
// single compare-and-swap.
type LockStore struct {
	mu    sync.Mutex
	locks map[string]domain.LockInfo
	now   func() time.Time
}

// NewLockStore creates an empty lock store.
func NewLockStore(opts ...Option) *LockStore {
	o := buildOptions(opts)
	return &LockStore{
		locks: make(map[string]domain.LockInfo),
		now:   o.now,
	}
}

// TryAcquire takes the lock if free, expired or already owned.
func (s *LockStore) TryAcquire(_ context.Context, name, owner string, ttl time.Duration) error {
	if name == "" || owner == "" || ttl <= 0 {
		return domain.ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	held, ok := s.locks[name]
	switch {
	case !ok || held.Expired(now):
		s.locks[name] = domain.LockInfo{Name: name, Owner: owner, AcquiredAt: now, ExpiresAt: now.Add(ttl)}
		return nil
	case held.Owner == owner:
		held.ExpiresAt = now.Add(ttl)
		s.locks[name] = held
		return nil
	default:
		return &domain.LockContentionError{
			Name:       name,
			Holder:     held.Owner,
			AcquiredAt: held.AcquiredAt,
			ExpiresAt:  held.ExpiresAt,
		}
	}
}

// Refresh extends a lease still held by owner.
func (s *LockStore) Refresh(_ context.Context, name, owner string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	held, ok := s.locks[name]
	if !ok || held.Owner != owner {
		return domain.ErrLockContention
	}
	held.ExpiresAt = s.now().Add(ttl)
	s.locks[name] = held
	return nil
}

// Release frees the lock if owner holds it.
func (s *LockStore) Release(_ context.Context, name, owner string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if held, ok := s.locks[name]; ok && held.Owner == owner {
		delete(s.locks, name)
	}
	return nil
}

// Holder returns the current lease or nil.
func (s *LockStore) Holder(_ context.Context, name string) (*domain.LockInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	held, ok := s.locks[name]
	if !ok {
		return nil, nil
	}
	return &held, nil
}

// ReclaimExpired deletes expired leases.
func (s *LockStore) ReclaimExpired(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	n := 0
	for name, held := range s.locks {
		if held.Expired(now) {
			delete(s.locks, name)
			n++
		}
	}
	return n, nil
}
