package coord

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// SectionLock is an advisory, TTL-bounded claim on a sub-region of a page.
// Multiple valid locks may coexist per page as long as their section ids
// differ.
type SectionLock struct {
	PageID       int64  `db:"page_id"`
	SectionID    string `db:"section_id"`
	SectionTitle string `db:"section_title"`
	OwnerID      string `db:"owner_id"`
	OwnerName    string `db:"owner_name"`
	AcquiredAt   int64  `db:"acquired_at"`
	ExpiresAt    int64  `db:"expires_at"`
}

// ExpiresTime returns the lock expiry as a time.Time.
func (l *SectionLock) ExpiresTime() time.Time { return time.Unix(l.ExpiresAt, 0).UTC() }

// AcquireSectionLock claims a single section of a page, with the same
// atomic conditional-upsert contract as AcquirePageLock.
func (s *Store) AcquireSectionLock(ctx context.Context, pageID int64, sectionID, sectionTitle, userID, userName string, ttl time.Duration) (*LockGrant, error) {
	now := s.now()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO section_locks (page_id, section_id, section_title, owner_id, owner_name, acquired_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(page_id, section_id) DO UPDATE SET
			section_title = excluded.section_title,
			owner_id = excluded.owner_id,
			owner_name = excluded.owner_name,
			acquired_at = excluded.acquired_at,
			expires_at = excluded.expires_at
		WHERE section_locks.expires_at <= excluded.acquired_at`,
		pageID, sectionID, sectionTitle, userID, userName, now.Unix(), now.Add(ttl).Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to acquire section lock: %w", err)
	}

	var lock SectionLock
	if err := s.db.GetContext(ctx, &lock,
		`SELECT * FROM section_locks WHERE page_id = ? AND section_id = ?`, pageID, sectionID); err != nil {
		return nil, fmt.Errorf("failed to read section lock after acquire: %w", err)
	}

	return &LockGrant{
		Granted:   lock.OwnerID == userID,
		OwnerID:   lock.OwnerID,
		OwnerName: lock.OwnerName,
		ExpiresAt: lock.ExpiresTime(),
	}, nil
}

// RefreshSectionLock extends the expiry of a section lock the caller owns.
func (s *Store) RefreshSectionLock(ctx context.Context, pageID int64, sectionID, userID string, ttl time.Duration) (bool, error) {
	now := s.now()
	res, err := s.db.ExecContext(ctx,
		`UPDATE section_locks SET expires_at = ?
		 WHERE page_id = ? AND section_id = ? AND owner_id = ? AND expires_at > ?`,
		now.Add(ttl).Unix(), pageID, sectionID, userID, now.Unix())
	if err != nil {
		return false, fmt.Errorf("failed to refresh section lock: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n > 0, nil
}

// ReleaseSectionLock deletes one section lock if the caller owns it or is
// privileged.
func (s *Store) ReleaseSectionLock(ctx context.Context, pageID int64, sectionID, userID string, privileged bool) (bool, error) {
	var res sql.Result
	var err error
	if privileged {
		res, err = s.db.ExecContext(ctx,
			`DELETE FROM section_locks WHERE page_id = ? AND section_id = ?`, pageID, sectionID)
	} else {
		res, err = s.db.ExecContext(ctx,
			`DELETE FROM section_locks WHERE page_id = ? AND section_id = ? AND owner_id = ?`,
			pageID, sectionID, userID)
	}
	if err != nil {
		return false, fmt.Errorf("failed to release section lock: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n > 0, nil
}

// ReleaseUserSectionLocks drops every section lock a user holds on a page.
// Called when the user's whole-page edit commits.
func (s *Store) ReleaseUserSectionLocks(ctx context.Context, pageID int64, userID string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM section_locks WHERE page_id = ? AND owner_id = ?`, pageID, userID); err != nil {
		return fmt.Errorf("failed to release user section locks: %w", err)
	}
	return nil
}

// ListSectionLocks returns the valid section locks of a page, sweeping
// expired ones first.
func (s *Store) ListSectionLocks(ctx context.Context, pageID int64) ([]*SectionLock, error) {
	now := s.now().Unix()
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM section_locks WHERE page_id = ? AND expires_at <= ?`, pageID, now); err != nil {
		return nil, fmt.Errorf("failed to sweep expired section locks: %w", err)
	}

	var locks []*SectionLock
	if err := s.db.SelectContext(ctx, &locks,
		`SELECT * FROM section_locks WHERE page_id = ? ORDER BY section_id`, pageID); err != nil {
		return nil, fmt.Errorf("failed to list section locks: %w", err)
	}
	return locks, nil
}

// SectionLockStatus returns the valid lock on one section, or nil.
func (s *Store) SectionLockStatus(ctx context.Context, pageID int64, sectionID string) (*SectionLock, error) {
	now := s.now().Unix()
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM section_locks WHERE page_id = ? AND section_id = ? AND expires_at <= ?`,
		pageID, sectionID, now); err != nil {
		return nil, fmt.Errorf("failed to sweep expired section lock: %w", err)
	}

	var lock SectionLock
	err := s.db.GetContext(ctx, &lock,
		`SELECT * FROM section_locks WHERE page_id = ? AND section_id = ?`, pageID, sectionID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read section lock: %w", err)
	}
	return &lock, nil
}
