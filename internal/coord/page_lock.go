package coord

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// PageLock is an advisory, TTL-bounded claim that one user is editing an
// entire page.
type PageLock struct {
	PageID     int64  `db:"page_id"`
	OwnerID    string `db:"owner_id"`
	OwnerName  string `db:"owner_name"`
	Reason     string `db:"reason"`
	AcquiredAt int64  `db:"acquired_at"`
	ExpiresAt  int64  `db:"expires_at"`
}

// ExpiresTime returns the lock expiry as a time.Time.
func (l *PageLock) ExpiresTime() time.Time { return time.Unix(l.ExpiresAt, 0).UTC() }

// LockGrant is the outcome of a lock acquisition attempt. When Granted is
// false, the owner fields identify the current holder.
type LockGrant struct {
	Granted   bool
	OwnerID   string
	OwnerName string
	ExpiresAt time.Time
}

// AcquirePageLock attempts to claim the page-wide edit lock.
//
// The claim is a single conditional upsert: the row is written only when no
// lock exists or the existing one has expired. Re-acquisition by the current
// owner is an idempotent success and does not move the expiry; only
// RefreshPageLock extends a lock. Two racing acquirers therefore cannot
// both observe "absent" and both win — the storage layer picks exactly one.
func (s *Store) AcquirePageLock(ctx context.Context, pageID int64, userID, userName, reason string, ttl time.Duration) (*LockGrant, error) {
	now := s.now()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO page_locks (page_id, owner_id, owner_name, reason, acquired_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(page_id) DO UPDATE SET
			owner_id = excluded.owner_id,
			owner_name = excluded.owner_name,
			reason = excluded.reason,
			acquired_at = excluded.acquired_at,
			expires_at = excluded.expires_at
		WHERE page_locks.expires_at <= excluded.acquired_at`,
		pageID, userID, userName, reason, now.Unix(), now.Add(ttl).Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to acquire page lock: %w", err)
	}

	var lock PageLock
	if err := s.db.GetContext(ctx, &lock,
		`SELECT * FROM page_locks WHERE page_id = ?`, pageID); err != nil {
		return nil, fmt.Errorf("failed to read page lock after acquire: %w", err)
	}

	return &LockGrant{
		Granted:   lock.OwnerID == userID,
		OwnerID:   lock.OwnerID,
		OwnerName: lock.OwnerName,
		ExpiresAt: lock.ExpiresTime(),
	}, nil
}

// RefreshPageLock extends the expiry of a lock the caller still owns.
// Returns false when the caller is not the owner or the lock has lapsed.
func (s *Store) RefreshPageLock(ctx context.Context, pageID int64, userID string, ttl time.Duration) (bool, error) {
	now := s.now()
	res, err := s.db.ExecContext(ctx,
		`UPDATE page_locks SET expires_at = ? WHERE page_id = ? AND owner_id = ? AND expires_at > ?`,
		now.Add(ttl).Unix(), pageID, userID, now.Unix())
	if err != nil {
		return false, fmt.Errorf("failed to refresh page lock: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n > 0, nil
}

// ReleasePageLock deletes the lock if the caller owns it or is privileged.
func (s *Store) ReleasePageLock(ctx context.Context, pageID int64, userID string, privileged bool) (bool, error) {
	var res sql.Result
	var err error
	if privileged {
		res, err = s.db.ExecContext(ctx, `DELETE FROM page_locks WHERE page_id = ?`, pageID)
	} else {
		res, err = s.db.ExecContext(ctx,
			`DELETE FROM page_locks WHERE page_id = ? AND owner_id = ?`, pageID, userID)
	}
	if err != nil {
		return false, fmt.Errorf("failed to release page lock: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n > 0, nil
}

// PageLockStatus returns the current valid lock, or nil when the page is
// unlocked. An expired lock reads as unlocked and is cleared on the way.
func (s *Store) PageLockStatus(ctx context.Context, pageID int64) (*PageLock, error) {
	now := s.now().Unix()
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM page_locks WHERE page_id = ? AND expires_at <= ?`, pageID, now); err != nil {
		return nil, fmt.Errorf("failed to sweep expired page lock: %w", err)
	}

	var lock PageLock
	err := s.db.GetContext(ctx, &lock, `SELECT * FROM page_locks WHERE page_id = ?`, pageID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read page lock: %w", err)
	}
	return &lock, nil
}
