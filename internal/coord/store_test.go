//go:build integration

package coord

import (
	"context"
	"testing"
	"time"

	"go-wiki-collab/internal/config"
)

// setupStore creates an in-memory coordination store with a controllable
// clock so TTL expiry can be simulated without sleeping.
func setupStore(t *testing.T) (*Store, *time.Time, func()) {
	t.Helper()

	s, err := Open(config.CoordConfig{FilePath: "file::memory:"})
	if err != nil {
		t.Fatalf("failed to open coordination store: %v", err)
	}

	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	teardown := func() {
		s.Close()
	}
	return s, &now, teardown
}

func TestAcquirePageLock(t *testing.T) {
	s, clock, teardown := setupStore(t)
	defer teardown()
	ctx := context.Background()

	t.Run("grant, deny, expire, re-grant", func(t *testing.T) {
		grant, err := s.AcquirePageLock(ctx, 1, "alice", "Alice", "editing", time.Hour)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !grant.Granted {
			t.Fatal("expected first acquire to be granted")
		}

		denied, err := s.AcquirePageLock(ctx, 1, "bob", "Bob", "editing", time.Hour)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if denied.Granted {
			t.Fatal("expected second acquire by another user to be denied")
		}
		if denied.OwnerName != "Alice" {
			t.Errorf("expected holder name 'Alice', got '%s'", denied.OwnerName)
		}
		if !denied.ExpiresAt.Equal(clock.Add(time.Hour)) {
			t.Errorf("expected holder expiry %v, got %v", clock.Add(time.Hour), denied.ExpiresAt)
		}

		// Advance past the TTL; the lock must now be stealable.
		*clock = clock.Add(time.Hour + time.Minute)
		grant, err = s.AcquirePageLock(ctx, 1, "bob", "Bob", "editing", time.Hour)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !grant.Granted {
			t.Fatal("expected acquire after expiry to be granted")
		}
		if grant.OwnerID != "bob" {
			t.Errorf("expected owner 'bob', got '%s'", grant.OwnerID)
		}
	})

	t.Run("idempotent re-acquire keeps expiry", func(t *testing.T) {
		first, err := s.AcquirePageLock(ctx, 2, "alice", "Alice", "editing", time.Hour)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		*clock = clock.Add(10 * time.Minute)
		second, err := s.AcquirePageLock(ctx, 2, "alice", "Alice", "editing", time.Hour)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !second.Granted {
			t.Fatal("expected re-acquire by owner to be granted")
		}
		if !second.ExpiresAt.Equal(first.ExpiresAt) {
			t.Errorf("re-acquire must not move expiry: was %v, now %v", first.ExpiresAt, second.ExpiresAt)
		}
	})
}

func TestRefreshPageLock(t *testing.T) {
	s, clock, teardown := setupStore(t)
	defer teardown()
	ctx := context.Background()

	if _, err := s.AcquirePageLock(ctx, 1, "alice", "Alice", "editing", time.Hour); err != nil {
		t.Fatal(err)
	}

	ok, err := s.RefreshPageLock(ctx, 1, "bob", time.Hour)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Error("non-owner must not refresh")
	}

	*clock = clock.Add(30 * time.Minute)
	ok, err = s.RefreshPageLock(ctx, 1, "alice", time.Hour)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatal("owner refresh failed")
	}

	status, err := s.PageLockStatus(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if status == nil {
		t.Fatal("expected lock to still exist")
	}
	if !status.ExpiresTime().Equal(clock.Add(time.Hour)) {
		t.Errorf("expected refreshed expiry %v, got %v", clock.Add(time.Hour), status.ExpiresTime())
	}

	// A lapsed lock cannot be refreshed back to life.
	*clock = clock.Add(2 * time.Hour)
	ok, err = s.RefreshPageLock(ctx, 1, "alice", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("expired lock must not be refreshable")
	}
}

func TestReleasePageLock(t *testing.T) {
	s, _, teardown := setupStore(t)
	defer teardown()
	ctx := context.Background()

	if _, err := s.AcquirePageLock(ctx, 1, "alice", "Alice", "editing", time.Hour); err != nil {
		t.Fatal(err)
	}

	ok, err := s.ReleasePageLock(ctx, 1, "bob", false)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("non-owner release must fail")
	}

	ok, err = s.ReleasePageLock(ctx, 1, "bob", true)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Error("privileged release must succeed")
	}

	status, err := s.PageLockStatus(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if status != nil {
		t.Error("expected page to be unlocked after privileged release")
	}
}

func TestPageLockStatus_ExpiredReadsUnlocked(t *testing.T) {
	s, clock, teardown := setupStore(t)
	defer teardown()
	ctx := context.Background()

	if _, err := s.AcquirePageLock(ctx, 1, "alice", "Alice", "editing", time.Minute); err != nil {
		t.Fatal(err)
	}

	*clock = clock.Add(2 * time.Minute)
	status, err := s.PageLockStatus(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if status != nil {
		t.Error("expired lock must read as unlocked")
	}

	// The stale record must actually be gone, not just filtered.
	var n int
	if err := s.db.Get(&n, `SELECT COUNT(*) FROM page_locks WHERE page_id = 1`); err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("expected stale lock record to be cleared, found %d rows", n)
	}
}

func TestSectionLocks(t *testing.T) {
	s, clock, teardown := setupStore(t)
	defer teardown()
	ctx := context.Background()

	t.Run("disjoint sections coexist", func(t *testing.T) {
		g1, err := s.AcquireSectionLock(ctx, 1, "intro", "Introduction", "alice", "Alice", 30*time.Minute)
		if err != nil {
			t.Fatal(err)
		}
		g2, err := s.AcquireSectionLock(ctx, 1, "body", "Body", "bob", "Bob", 30*time.Minute)
		if err != nil {
			t.Fatal(err)
		}
		if !g1.Granted || !g2.Granted {
			t.Fatal("locks on different sections must both be granted")
		}

		denied, err := s.AcquireSectionLock(ctx, 1, "intro", "Introduction", "carol", "Carol", 30*time.Minute)
		if err != nil {
			t.Fatal(err)
		}
		if denied.Granted {
			t.Fatal("expected lock on a held section to be denied")
		}
		if denied.OwnerName != "Alice" {
			t.Errorf("expected holder 'Alice', got '%s'", denied.OwnerName)
		}
		if denied.ExpiresAt.IsZero() {
			t.Error("denial must carry the holder's expiry")
		}

		locks, err := s.ListSectionLocks(ctx, 1)
		if err != nil {
			t.Fatal(err)
		}
		if len(locks) != 2 {
			t.Fatalf("expected 2 section locks, got %d", len(locks))
		}
	})

	t.Run("list sweeps expired locks", func(t *testing.T) {
		*clock = clock.Add(31 * time.Minute)
		locks, err := s.ListSectionLocks(ctx, 1)
		if err != nil {
			t.Fatal(err)
		}
		if len(locks) != 0 {
			t.Errorf("expected all section locks expired, got %d", len(locks))
		}
	})

	t.Run("release whole page for one user", func(t *testing.T) {
		if _, err := s.AcquireSectionLock(ctx, 2, "a", "", "alice", "Alice", time.Hour); err != nil {
			t.Fatal(err)
		}
		if _, err := s.AcquireSectionLock(ctx, 2, "b", "", "alice", "Alice", time.Hour); err != nil {
			t.Fatal(err)
		}
		if _, err := s.AcquireSectionLock(ctx, 2, "c", "", "bob", "Bob", time.Hour); err != nil {
			t.Fatal(err)
		}

		if err := s.ReleaseUserSectionLocks(ctx, 2, "alice"); err != nil {
			t.Fatal(err)
		}
		locks, err := s.ListSectionLocks(ctx, 2)
		if err != nil {
			t.Fatal(err)
		}
		if len(locks) != 1 || locks[0].OwnerID != "bob" {
			t.Errorf("expected only bob's lock to remain, got %+v", locks)
		}
	})
}

func TestDrafts(t *testing.T) {
	s, clock, teardown := setupStore(t)
	defer teardown()
	ctx := context.Background()

	t.Run("missing draft is not an error", func(t *testing.T) {
		d, err := s.GetDraft(ctx, 1, "alice")
		if err != nil {
			t.Fatal(err)
		}
		if d != nil {
			t.Errorf("expected nil draft, got %+v", d)
		}
	})

	t.Run("save overwrites and stamps time", func(t *testing.T) {
		if err := s.SaveDraft(ctx, &Draft{PageID: 1, UserID: "alice", Title: "T", Content: "v1"}); err != nil {
			t.Fatal(err)
		}
		*clock = clock.Add(time.Minute)
		if err := s.SaveDraft(ctx, &Draft{PageID: 1, UserID: "alice", Title: "T", Content: "v2"}); err != nil {
			t.Fatal(err)
		}

		d, err := s.GetDraft(ctx, 1, "alice")
		if err != nil {
			t.Fatal(err)
		}
		if d == nil || d.Content != "v2" {
			t.Fatalf("expected overwritten draft content 'v2', got %+v", d)
		}
		if !d.SavedTime().Equal(*clock) {
			t.Errorf("expected saved_at %v, got %v", *clock, d.SavedTime())
		}
	})

	t.Run("drafts are per user", func(t *testing.T) {
		if err := s.SaveDraft(ctx, &Draft{PageID: 1, UserID: "bob", Content: "bob's"}); err != nil {
			t.Fatal(err)
		}
		d, err := s.GetDraft(ctx, 1, "alice")
		if err != nil {
			t.Fatal(err)
		}
		if d.Content != "v2" {
			t.Error("another user's save must not clobber the draft")
		}
	})

	t.Run("list for user spans pages", func(t *testing.T) {
		*clock = clock.Add(time.Minute)
		if err := s.SaveDraft(ctx, &Draft{PageID: 7, UserID: "alice", Content: "other page"}); err != nil {
			t.Fatal(err)
		}
		drafts, err := s.ListDraftsForUser(ctx, "alice")
		if err != nil {
			t.Fatal(err)
		}
		if len(drafts) != 2 {
			t.Fatalf("expected 2 drafts, got %d", len(drafts))
		}
		if drafts[0].PageID != 7 {
			t.Error("expected newest draft first")
		}
	})

	t.Run("delete", func(t *testing.T) {
		ok, err := s.DeleteDraft(ctx, 1, "alice")
		if err != nil {
			t.Fatal(err)
		}
		if !ok {
			t.Error("expected delete to report an existing draft")
		}
		ok, err = s.DeleteDraft(ctx, 1, "alice")
		if err != nil {
			t.Fatal(err)
		}
		if ok {
			t.Error("second delete must report nothing to remove")
		}
	})
}

func TestPresence(t *testing.T) {
	s, clock, teardown := setupStore(t)
	defer teardown()
	ctx := context.Background()
	maxAge := 30 * time.Minute
	window := time.Minute

	if err := s.Heartbeat(ctx, 1, "alice", "Alice", maxAge); err != nil {
		t.Fatal(err)
	}
	if err := s.Heartbeat(ctx, 1, "bob", "Bob", maxAge); err != nil {
		t.Fatal(err)
	}

	t.Run("list excludes the caller", func(t *testing.T) {
		editors, err := s.ActiveEditors(ctx, 1, window, "alice")
		if err != nil {
			t.Fatal(err)
		}
		if len(editors) != 1 || editors[0].DisplayName != "Bob" {
			t.Errorf("expected only Bob, got %+v", editors)
		}
	})

	t.Run("read prunes beyond the window and persists", func(t *testing.T) {
		*clock = clock.Add(2 * time.Minute)
		if err := s.Heartbeat(ctx, 1, "bob", "Bob", maxAge); err != nil {
			t.Fatal(err)
		}

		editors, err := s.ActiveEditors(ctx, 1, window, "")
		if err != nil {
			t.Fatal(err)
		}
		if len(editors) != 1 || editors[0].UserID != "bob" {
			t.Errorf("expected alice pruned, got %+v", editors)
		}

		var n int
		if err := s.db.Get(&n, `SELECT COUNT(*) FROM presence WHERE page_id = 1`); err != nil {
			t.Fatal(err)
		}
		if n != 1 {
			t.Errorf("expected pruned set to be persisted, found %d rows", n)
		}
	})

	t.Run("explicit remove", func(t *testing.T) {
		if err := s.RemovePresence(ctx, 1, "bob"); err != nil {
			t.Fatal(err)
		}
		editors, err := s.ActiveEditors(ctx, 1, window, "")
		if err != nil {
			t.Fatal(err)
		}
		if len(editors) != 0 {
			t.Errorf("expected empty presence set, got %+v", editors)
		}
	})
}

func TestDiscussion(t *testing.T) {
	s, clock, teardown := setupStore(t)
	defer teardown()
	ctx := context.Background()
	retention := 24 * time.Hour

	for i := 0; i < 3; i++ {
		msg := &Message{PageID: 1, AuthorID: "alice", AuthorName: "Alice", Body: "msg"}
		if err := s.PostMessage(ctx, msg, retention); err != nil {
			t.Fatal(err)
		}
		if msg.ID == "" {
			t.Fatal("expected message to be assigned an id")
		}
		*clock = clock.Add(time.Minute)
	}

	t.Run("newest first, capped", func(t *testing.T) {
		messages, err := s.ListMessages(ctx, 1, 2)
		if err != nil {
			t.Fatal(err)
		}
		if len(messages) != 2 {
			t.Fatalf("expected cap of 2, got %d", len(messages))
		}
		if messages[0].CreatedAt < messages[1].CreatedAt {
			t.Error("expected most recent message first")
		}
	})

	t.Run("retention trims on write", func(t *testing.T) {
		*clock = clock.Add(25 * time.Hour)
		if err := s.PostMessage(ctx, &Message{PageID: 1, AuthorID: "bob", AuthorName: "Bob", Body: "new"}, retention); err != nil {
			t.Fatal(err)
		}
		messages, err := s.ListMessages(ctx, 1, 50)
		if err != nil {
			t.Fatal(err)
		}
		if len(messages) != 1 {
			t.Fatalf("expected old messages trimmed, got %d", len(messages))
		}
		if messages[0].Body != "new" {
			t.Errorf("expected only the new message, got %q", messages[0].Body)
		}
	})
}
