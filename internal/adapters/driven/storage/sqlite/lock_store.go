package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/custodia-labs/storekb/internal/core/domain"
	"github.com/custodia-labs/storekb/internal/core/ports/driven"
)

// lockStore implements driven.LockStore with a conditional upsert, so
// acquisition is one atomic statement across processes sharing the file.
type lockStore struct {
	store *Store
}

var _ driven.LockStore = (*lockStore)(nil)

// TryAcquire takes the lock if it is free, expired, or already owned.
func (s *lockStore) TryAcquire(ctx context.Context, name, owner string, ttl time.Duration) error {
	if name == "" || owner == "" || ttl <= 0 {
		return domain.ErrInvalidInput
	}
	now := s.store.now()

	res, err := s.store.db.ExecContext(ctx, `
		INSERT INTO locks (name, owner, acquired_at, expires_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			acquired_at = CASE WHEN locks.owner = excluded.owner THEN locks.acquired_at ELSE excluded.acquired_at END,
			owner = excluded.owner,
			expires_at = excluded.expires_at
		WHERE locks.owner = excluded.owner OR locks.expires_at <= excluded.acquired_at
	`, name, owner, toMillis(now), toMillis(now.Add(ttl)))
	if err != nil {
		return &domain.StorageError{Op: "acquire lock", Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return &domain.StorageError{Op: "acquire lock", Err: err}
	}
	if n > 0 {
		return nil
	}

	holder, err := s.Holder(ctx, name)
	if err != nil {
		return err
	}
	if holder == nil {
		// Released between the upsert and the read; report contention
		// and let the caller retry.
		return &domain.LockContentionError{Name: name}
	}
	return &domain.LockContentionError{
		Name:       name,
		Holder:     holder.Owner,
		AcquiredAt: holder.AcquiredAt,
		ExpiresAt:  holder.ExpiresAt,
	}
}

// Refresh extends the lease if owner still holds it.
func (s *lockStore) Refresh(ctx context.Context, name, owner string, ttl time.Duration) error {
	res, err := s.store.db.ExecContext(ctx,
		"UPDATE locks SET expires_at = ? WHERE name = ? AND owner = ?",
		toMillis(s.store.now().Add(ttl)), name, owner)
	if err != nil {
		return &domain.StorageError{Op: "refresh lock", Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return &domain.StorageError{Op: "refresh lock", Err: err}
	}
	if n == 0 {
		return domain.ErrLockContention
	}
	return nil
}

// Release deletes the lock if owner holds it.
func (s *lockStore) Release(ctx context.Context, name, owner string) error {
	if _, err := s.store.db.ExecContext(ctx,
		"DELETE FROM locks WHERE name = ? AND owner = ?", name, owner); err != nil {
		return &domain.StorageError{Op: "release lock", Err: err}
	}
	return nil
}

// Holder returns the current lease, or nil if none is recorded.
func (s *lockStore) Holder(ctx context.Context, name string) (*domain.LockInfo, error) {
	var info domain.LockInfo
	var acquired, expires int64
	err := s.store.db.QueryRowContext(ctx,
		"SELECT name, owner, acquired_at, expires_at FROM locks WHERE name = ?", name).
		Scan(&info.Name, &info.Owner, &acquired, &expires)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, &domain.StorageError{Op: "get lock", Err: err}
	}
	info.AcquiredAt = fromMillis(acquired)
	info.ExpiresAt = fromMillis(expires)
	return &info, nil
}

// ReclaimExpired deletes leases past their expiry.
func (s *lockStore) ReclaimExpired(ctx context.Context) (int, error) {
	res, err := s.store.db.ExecContext(ctx,
		"DELETE FROM locks WHERE expires_at <= ?", toMillis(s.store.now()))
	if err != nil {
		return 0, &domain.StorageError{Op: "reclaim locks", Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, &domain.StorageError{Op: "reclaim locks", Err: err}
	}
	return int(n), nil
}
