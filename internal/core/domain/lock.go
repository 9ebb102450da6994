package domain

import "time"

// SyncLockName is the lock guarding the sync state machine.
const SyncLockName = "sync"

// DefaultLockTimeout is how long a lease lives without being refreshed.
// After it elapses the lock is considered abandoned and may be reclaimed.
// This is a liveness valve for crashed workers, not a correctness guarantee:
// a worker stalled for longer than the timeout can overlap its successor.
const DefaultLockTimeout = 30 * time.Minute

// LockInfo describes the current holder of a lease.
type LockInfo struct {
	Name       string    `json:"name"`
	Owner      string    `json:"owner"`
	AcquiredAt time.Time `json:"acquired_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// Expired reports whether the lease has passed its expiry at now.
func (l *LockInfo) Expired(now time.Time) bool {
	return !now.Before(l.ExpiresAt)
}
