package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go-wiki-collab/internal/config"
	"go-wiki-collab/internal/coord"
	"go-wiki-collab/internal/data"
	"go-wiki-collab/internal/diff"
	"go-wiki-collab/internal/events"
	"go-wiki-collab/internal/logger"
)

const (
	minSectionLockTTL = 5 * time.Minute
	maxSectionLockTTL = 120 * time.Minute
)

// Actor identifies the user performing an edit operation. Privileged actors
// (moderators) may break locks and resolve conflicts.
type Actor struct {
	ID         string
	Name       string
	Privileged bool
}

// CommitParams carries a whole-page save request.
type CommitParams struct {
	Title       string
	Content     string
	Comment     string
	Category    string
	Subcategory string
	// LastCheck is the client's last-known-fresh timestamp. When set, a
	// newer current version triggers the three-way conflict check. When
	// nil the client never polled, and the commit proceeds unguarded.
	LastCheck *time.Time
	// Force skips conflict detection entirely. Logged as an overwrite.
	Force bool
}

// EditContext is everything a client needs to open the edit screen.
type EditContext struct {
	Lock    *coord.LockGrant
	Draft   *coord.Draft
	Editors []string
}

// PageStatusInfo answers the edit-screen poll.
type PageStatusInfo struct {
	HasBeenModified bool
	CurrentVersion  int64
	LastModified    *time.Time
	Editors         []string
}

// LockStatusInfo describes the page lock for a particular viewer.
type LockStatusInfo struct {
	Locked    bool
	OwnerID   string
	OwnerName string
	Reason    string
	ExpiresAt time.Time
	CanUnlock bool
}

// EditServicer is the concurrent-editing surface consumed by the handlers.
type EditServicer interface {
	BeginEdit(ctx context.Context, pageID int64, actor Actor) (*EditContext, error)
	RegisterEditing(ctx context.Context, pageID int64, actor Actor)
	UnregisterEditing(ctx context.Context, pageID int64, actor Actor)
	PageStatus(ctx context.Context, pageID int64, lastCheck *time.Time, actor Actor) (*PageStatusInfo, error)

	AcquirePageLock(ctx context.Context, pageID int64, actor Actor, reason string) (*coord.LockGrant, error)
	ReleasePageLock(ctx context.Context, pageID int64, actor Actor) (bool, error)
	PageLockStatus(ctx context.Context, pageID int64, actor Actor) (*LockStatusInfo, error)

	LockSection(ctx context.Context, pageID int64, sectionID, sectionTitle string, ttl time.Duration, actor Actor) (*coord.LockGrant, error)
	UnlockSection(ctx context.Context, pageID int64, sectionID string, actor Actor) (bool, error)
	SectionLocks(ctx context.Context, pageID int64) ([]*coord.SectionLock, error)

	SaveDraft(ctx context.Context, pageID int64, actor Actor, title, content, category, subcategory string) (*coord.Draft, error)
	Draft(ctx context.Context, pageID int64, actor Actor) (*coord.Draft, error)
	DiscardDraft(ctx context.Context, pageID int64, actor Actor) (bool, error)
	DraftsForUser(ctx context.Context, actor Actor) ([]*coord.Draft, error)

	Commit(ctx context.Context, pageID int64, actor Actor, params CommitParams) (*data.Version, error)
	Revert(ctx context.Context, pageID int64, targetVersion int64, actor Actor) (*data.Version, error)
	ResolveConflict(ctx context.Context, pageID int64, actor Actor, content, comment string) (*data.Version, error)

	PostDiscussion(ctx context.Context, pageID int64, actor Actor, body, sectionContext string) (*coord.Message, error)
	Discussion(ctx context.Context, pageID int64) ([]*coord.Message, error)
}

// EditService coordinates concurrent edits: the version ledger, advisory
// locks, drafts, presence, and the discussion channel.
type EditService struct {
	pages      PageRepository
	versions   VersionStore
	categories CategoryRepository
	coord      *coord.Store
	publisher  events.Publisher
	cfg        *config.Config
	log        logger.Logger
}

var _ EditServicer = (*EditService)(nil)

func NewEditService(pages PageRepository, versions VersionStore, categories CategoryRepository, store *coord.Store, publisher events.Publisher, cfg *config.Config, log logger.Logger) *EditService {
	return &EditService{
		pages:      pages,
		versions:   versions,
		categories: categories,
		coord:      store,
		publisher:  publisher,
		cfg:        cfg,
		log:        log,
	}
}

// BeginEdit opens an editing session: it tries to take the page lock,
// registers the actor as present, and loads any saved draft. A lost lock
// race is reported in the result, never as an error; the page remains
// editable because locks are advisory.
func (s *EditService) BeginEdit(ctx context.Context, pageID int64, actor Actor) (*EditContext, error) {
	ec := &EditContext{}

	grant, err := s.coord.AcquirePageLock(ctx, pageID, actor.ID, actor.Name, "editing", s.cfg.Locks.PageLockTTL())
	if err != nil {
		// Lock bookkeeping must never block editing.
		s.log.Error(err, "Failed to acquire page lock; continuing without one")
	} else {
		ec.Lock = grant
	}

	s.RegisterEditing(ctx, pageID, actor)
	ec.Editors = s.activeEditorNames(ctx, pageID, actor.ID)

	draft, err := s.coord.GetDraft(ctx, pageID, actor.ID)
	if err != nil {
		s.log.Error(err, "Failed to load draft; continuing without one")
	} else {
		ec.Draft = draft
	}
	return ec, nil
}

// RegisterEditing records a presence heartbeat and notifies viewers. The
// heartbeat also keeps the actor's advisory locks alive: any page or
// section lock they still own is extended by its full TTL, so an active
// editor never loses a lock mid-session. Presence is advisory; failures
// are logged, never surfaced.
func (s *EditService) RegisterEditing(ctx context.Context, pageID int64, actor Actor) {
	if err := s.coord.Heartbeat(ctx, pageID, actor.ID, actor.Name, s.cfg.Presence.Expiry()); err != nil {
		s.log.Error(err, "Failed to record editing heartbeat")
		return
	}
	s.refreshActorLocks(ctx, pageID, actor)
	s.publishEditors(ctx, pageID)
}

// refreshActorLocks extends the locks the actor still holds on a page. A
// false refresh result just means the actor is not the owner, which is the
// common case; only infrastructure errors are logged.
func (s *EditService) refreshActorLocks(ctx context.Context, pageID int64, actor Actor) {
	if _, err := s.coord.RefreshPageLock(ctx, pageID, actor.ID, s.cfg.Locks.PageLockTTL()); err != nil {
		s.log.Error(err, "Failed to refresh page lock on heartbeat")
	}
	locks, err := s.coord.ListSectionLocks(ctx, pageID)
	if err != nil {
		s.log.Error(err, "Failed to list section locks for refresh")
		return
	}
	for _, l := range locks {
		if l.OwnerID != actor.ID {
			continue
		}
		if _, err := s.coord.RefreshSectionLock(ctx, pageID, l.SectionID, actor.ID, s.cfg.Locks.SectionLockTTL()); err != nil {
			s.log.Error(err, "Failed to refresh section lock on heartbeat")
		}
	}
}

// UnregisterEditing removes the actor from the page's presence set.
func (s *EditService) UnregisterEditing(ctx context.Context, pageID int64, actor Actor) {
	if err := s.coord.RemovePresence(ctx, pageID, actor.ID); err != nil {
		s.log.Error(err, "Failed to remove editing presence")
		return
	}
	s.publishEditors(ctx, pageID)
}

// PageStatus answers the edit-screen poll: has the page moved past the
// client's last check, and who else is editing right now.
func (s *EditService) PageStatus(ctx context.Context, pageID int64, lastCheck *time.Time, actor Actor) (*PageStatusInfo, error) {
	info := &PageStatusInfo{
		Editors: s.activeEditorNames(ctx, pageID, actor.ID),
	}

	current, err := s.versions.GetCurrent(ctx, pageID)
	if err != nil {
		if errors.Is(err, data.ErrVersionNotFound) {
			return info, nil
		}
		return nil, err
	}
	info.CurrentVersion = current.VersionNumber
	modified := current.CreatedAt
	info.LastModified = &modified
	if lastCheck != nil {
		info.HasBeenModified = current.CreatedAt.After(*lastCheck)
	}
	return info, nil
}

// AcquirePageLock claims the page-wide edit lock for the actor.
func (s *EditService) AcquirePageLock(ctx context.Context, pageID int64, actor Actor, reason string) (*coord.LockGrant, error) {
	if reason == "" {
		reason = "editing"
	}
	return s.coord.AcquirePageLock(ctx, pageID, actor.ID, actor.Name, reason, s.cfg.Locks.PageLockTTL())
}

// ReleasePageLock releases the page lock. Privileged actors may break any
// lock; everyone else only releases their own.
func (s *EditService) ReleasePageLock(ctx context.Context, pageID int64, actor Actor) (bool, error) {
	released, err := s.coord.ReleasePageLock(ctx, pageID, actor.ID, actor.Privileged)
	if err != nil {
		return false, err
	}
	if released && actor.Privileged {
		s.log.With(map[string]interface{}{"page_id": pageID, "user": actor.ID}).
			Warn("Page lock force-released by moderator")
	}
	return released, nil
}

// PageLockStatus reports the page lock from the actor's point of view.
func (s *EditService) PageLockStatus(ctx context.Context, pageID int64, actor Actor) (*LockStatusInfo, error) {
	lock, err := s.coord.PageLockStatus(ctx, pageID)
	if err != nil {
		return nil, err
	}
	if lock == nil {
		return &LockStatusInfo{}, nil
	}
	return &LockStatusInfo{
		Locked:    true,
		OwnerID:   lock.OwnerID,
		OwnerName: lock.OwnerName,
		Reason:    lock.Reason,
		ExpiresAt: lock.ExpiresTime(),
		CanUnlock: lock.OwnerID == actor.ID || actor.Privileged,
	}, nil
}

// LockSection claims one section of a page. The requested TTL is clamped to
// the 5..120 minute range; zero means the configured default.
func (s *EditService) LockSection(ctx context.Context, pageID int64, sectionID, sectionTitle string, ttl time.Duration, actor Actor) (*coord.LockGrant, error) {
	if strings.TrimSpace(sectionID) == "" {
		return nil, ValidationError("section id must not be empty")
	}
	switch {
	case ttl == 0:
		ttl = s.cfg.Locks.SectionLockTTL()
	case ttl < minSectionLockTTL:
		ttl = minSectionLockTTL
	case ttl > maxSectionLockTTL:
		ttl = maxSectionLockTTL
	}
	return s.coord.AcquireSectionLock(ctx, pageID, sectionID, sectionTitle, actor.ID, actor.Name, ttl)
}

// UnlockSection releases one section lock.
func (s *EditService) UnlockSection(ctx context.Context, pageID int64, sectionID string, actor Actor) (bool, error) {
	if strings.TrimSpace(sectionID) == "" {
		return false, ValidationError("section id must not be empty")
	}
	return s.coord.ReleaseSectionLock(ctx, pageID, sectionID, actor.ID, actor.Privileged)
}

// SectionLocks lists the valid section locks of a page.
func (s *EditService) SectionLocks(ctx context.Context, pageID int64) ([]*coord.SectionLock, error) {
	return s.coord.ListSectionLocks(ctx, pageID)
}

// SaveDraft stores the actor's in-progress copy. The save is refused when
// another user holds a valid whole-page lock, so drafts cannot silently
// race a locked edit.
func (s *EditService) SaveDraft(ctx context.Context, pageID int64, actor Actor, title, content, category, subcategory string) (*coord.Draft, error) {
	if strings.TrimSpace(content) == "" {
		return nil, ValidationError("draft content must not be empty")
	}

	lock, err := s.coord.PageLockStatus(ctx, pageID)
	if err != nil {
		return nil, err
	}
	if lock != nil && lock.OwnerID != actor.ID {
		return nil, &LockHeldError{
			OwnerID:   lock.OwnerID,
			OwnerName: lock.OwnerName,
			ExpiresAt: lock.ExpiresTime(),
		}
	}

	draft := &coord.Draft{
		PageID:      pageID,
		UserID:      actor.ID,
		Title:       title,
		Content:     content,
		Category:    category,
		Subcategory: subcategory,
	}
	if err := s.coord.SaveDraft(ctx, draft); err != nil {
		return nil, err
	}
	return draft, nil
}

// Draft returns the actor's draft for a page, or nil when none exists.
func (s *EditService) Draft(ctx context.Context, pageID int64, actor Actor) (*coord.Draft, error) {
	return s.coord.GetDraft(ctx, pageID, actor.ID)
}

// DiscardDraft deletes the actor's draft for a page.
func (s *EditService) DiscardDraft(ctx context.Context, pageID int64, actor Actor) (bool, error) {
	return s.coord.DeleteDraft(ctx, pageID, actor.ID)
}

// DraftsForUser lists the actor's drafts across all pages, newest first.
func (s *EditService) DraftsForUser(ctx context.Context, actor Actor) ([]*coord.Draft, error) {
	return s.coord.ListDraftsForUser(ctx, actor.ID)
}

// Commit saves a new version of the page.
//
// When the client supplies a last-check timestamp and the page has moved
// past it, the commit runs the three-way conflict check against the version
// that was current at last-check time. A detected conflict flips the page
// to conflict status and returns an EditConflictError carrying the diff and
// the active editors; the caller's content is NOT saved.
//
// On success the commit also releases the actor's page and section locks
// and deletes their draft, so stale coordination state cannot outlive the
// edit it protected.
func (s *EditService) Commit(ctx context.Context, pageID int64, actor Actor, params CommitParams) (*data.Version, error) {
	if strings.TrimSpace(params.Content) == "" {
		return nil, ValidationError("content must not be empty")
	}

	page, err := s.pages.GetPageByID(ctx, pageID)
	if err != nil {
		return nil, err
	}

	if page.Status == data.PageStatusConflict && !actor.Privileged && !params.Force {
		return nil, ErrPageInConflict
	}

	if params.Force {
		s.log.With(map[string]interface{}{"page_id": pageID, "user": actor.ID}).
			Warn("Forced overwrite: conflict detection skipped")
	} else if conflictErr, err := s.detectConflict(ctx, pageID, actor, params); err != nil {
		return nil, err
	} else if conflictErr != nil {
		if serr := s.pages.SetStatus(ctx, pageID, data.PageStatusConflict); serr != nil {
			s.log.Error(serr, "Failed to mark page as conflicted")
		}
		return nil, conflictErr
	}

	version, err := s.commitWithRetry(ctx, pageID, params.Content, actor.ID, params.Comment)
	if err != nil {
		return nil, err
	}

	if err := s.updatePageMetadata(ctx, page, params); err != nil {
		s.log.Error(err, "Failed to update page metadata after commit")
	}
	s.cleanupAfterCommit(ctx, pageID, actor)
	s.publisher.Publish(pageID, events.TypeVersionUpdated, map[string]interface{}{
		"version":  version.VersionNumber,
		"author":   actor.Name,
		"comment":  version.Comment,
		"saved_at": version.CreatedAt,
	})
	return version, nil
}

// Revert commits the content of an older version as a brand-new version.
// History is never rewritten; a revert is just another append.
func (s *EditService) Revert(ctx context.Context, pageID int64, targetVersion int64, actor Actor) (*data.Version, error) {
	page, err := s.pages.GetPageByID(ctx, pageID)
	if err != nil {
		return nil, err
	}
	if page.Status == data.PageStatusConflict && !actor.Privileged {
		return nil, ErrPageInConflict
	}

	target, err := s.versions.GetByNumber(ctx, pageID, targetVersion)
	if err != nil {
		return nil, err
	}

	comment := fmt.Sprintf("reverted to version %d", target.VersionNumber)
	version, err := s.commitWithRetry(ctx, pageID, target.Content, actor.ID, comment)
	if err != nil {
		return nil, err
	}
	s.publisher.Publish(pageID, events.TypeVersionUpdated, map[string]interface{}{
		"version": version.VersionNumber,
		"author":  actor.Name,
		"comment": comment,
	})
	return version, nil
}

// ResolveConflict lets a privileged actor commit the merged content of a
// conflicted page, returning it to published status.
func (s *EditService) ResolveConflict(ctx context.Context, pageID int64, actor Actor, content, comment string) (*data.Version, error) {
	if !actor.Privileged {
		return nil, ErrForbidden
	}
	if strings.TrimSpace(content) == "" {
		return nil, ValidationError("content must not be empty")
	}
	if comment == "" {
		comment = "conflict resolved"
	}

	version, err := s.commitWithRetry(ctx, pageID, content, actor.ID, comment)
	if err != nil {
		return nil, err
	}

	// Clear every lock on the page so the resolved page starts clean.
	if _, err := s.coord.ReleasePageLock(ctx, pageID, actor.ID, true); err != nil {
		s.log.Error(err, "Failed to clear page lock after conflict resolution")
	}
	s.publisher.Publish(pageID, events.TypeVersionUpdated, map[string]interface{}{
		"version":  version.VersionNumber,
		"author":   actor.Name,
		"comment":  comment,
		"resolved": true,
	})
	return version, nil
}

// PostDiscussion appends a message to the page's ephemeral discussion
// channel and notifies connected viewers.
func (s *EditService) PostDiscussion(ctx context.Context, pageID int64, actor Actor, body, sectionContext string) (*coord.Message, error) {
	if strings.TrimSpace(body) == "" {
		return nil, ValidationError("message body must not be empty")
	}
	msg := &coord.Message{
		PageID:         pageID,
		AuthorID:       actor.ID,
		AuthorName:     actor.Name,
		Body:           body,
		SectionContext: sectionContext,
	}
	if err := s.coord.PostMessage(ctx, msg, s.cfg.Discussion.Retention()); err != nil {
		return nil, err
	}
	s.publisher.Publish(pageID, events.TypeDiscussionMessage, msg)
	return msg, nil
}

// Discussion lists the page's recent messages, newest first.
func (s *EditService) Discussion(ctx context.Context, pageID int64) ([]*coord.Message, error) {
	return s.coord.ListMessages(ctx, pageID, s.cfg.Discussion.ListCap)
}

// detectConflict runs the three-way check. It returns a non-nil
// *EditConflictError when the commit must be refused, and a plain error
// only for infrastructure failures.
func (s *EditService) detectConflict(ctx context.Context, pageID int64, actor Actor, params CommitParams) (*EditConflictError, error) {
	if params.LastCheck == nil {
		return nil, nil
	}

	current, err := s.versions.GetCurrent(ctx, pageID)
	if err != nil {
		if errors.Is(err, data.ErrVersionNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if !current.CreatedAt.After(*params.LastCheck) {
		return nil, nil
	}

	// The base is whatever was current when the client last confirmed
	// freshness. A page with no version at that time has an empty base.
	var baseContent string
	base, err := s.versions.CurrentAsOf(ctx, pageID, *params.LastCheck)
	if err != nil {
		if !errors.Is(err, data.ErrVersionNotFound) {
			return nil, err
		}
	} else {
		baseContent = base.Content
	}

	if !diff.HasConflict(baseContent, current.Content, params.Content) {
		return nil, nil
	}

	changes := diff.Lines(current.Content, params.Content)
	return &EditConflictError{
		Editors:               s.activeEditorNames(ctx, pageID, actor.ID),
		Diff:                  diff.HTML(current.Content, params.Content),
		HasSignificantChanges: significantChanges(changes),
	}, nil
}

// commitWithRetry appends a version, retrying exactly once when a
// concurrent writer wins the unique-constraint race. The retry recomputes
// the version number inside the repository transaction, so one attempt is
// all it takes unless the page is under sustained contention.
func (s *EditService) commitWithRetry(ctx context.Context, pageID int64, content, authorID, comment string) (*data.Version, error) {
	version, err := s.versions.Commit(ctx, pageID, content, authorID, comment)
	if errors.Is(err, data.ErrConcurrentWrite) {
		s.log.With(map[string]interface{}{"page_id": pageID}).
			Warn("Concurrent write detected; retrying commit once")
		version, err = s.versions.Commit(ctx, pageID, content, authorID, comment)
	}
	return version, err
}

// updatePageMetadata applies title and category changes that rode along
// with the commit. Content is already in the ledger; only page-row fields
// change here.
func (s *EditService) updatePageMetadata(ctx context.Context, page *data.Page, params CommitParams) error {
	changed := false
	if t := strings.TrimSpace(params.Title); t != "" && t != page.Title {
		page.Title = t
		page.Slug = Slugify(t)
		changed = true
	}
	if strings.TrimSpace(params.Category) != "" {
		categoryID, err := resolveCategory(ctx, s.categories, params.Category, params.Subcategory)
		if err != nil {
			return err
		}
		page.CategoryID = categoryID
		changed = true
	}
	if !changed {
		return nil
	}
	return s.pages.UpdatePage(ctx, page)
}

// cleanupAfterCommit drops the coordination state the edit session held.
// Failures are logged only; the committed version is already durable.
func (s *EditService) cleanupAfterCommit(ctx context.Context, pageID int64, actor Actor) {
	if _, err := s.coord.ReleasePageLock(ctx, pageID, actor.ID, false); err != nil {
		s.log.Error(err, "Failed to release page lock after commit")
	}
	if err := s.coord.ReleaseUserSectionLocks(ctx, pageID, actor.ID); err != nil {
		s.log.Error(err, "Failed to release section locks after commit")
	}
	if _, err := s.coord.DeleteDraft(ctx, pageID, actor.ID); err != nil {
		s.log.Error(err, "Failed to delete draft after commit")
	}
}

// activeEditorNames returns the display names of everyone else editing the
// page right now. Presence failures degrade to an empty list.
func (s *EditService) activeEditorNames(ctx context.Context, pageID int64, excludeUserID string) []string {
	editors, err := s.coord.ActiveEditors(ctx, pageID, s.cfg.Presence.Window(), excludeUserID)
	if err != nil {
		s.log.Error(err, "Failed to list active editors")
		return nil
	}
	names := make([]string, 0, len(editors))
	for _, e := range editors {
		names = append(names, e.DisplayName)
	}
	return names
}

// publishEditors broadcasts the page's full presence list (no exclusions)
// to connected viewers.
func (s *EditService) publishEditors(ctx context.Context, pageID int64) {
	editors, err := s.coord.ActiveEditors(ctx, pageID, s.cfg.Presence.Window(), "")
	if err != nil {
		s.log.Error(err, "Failed to list editors for broadcast")
		return
	}
	names := make([]string, 0, len(editors))
	for _, e := range editors {
		names = append(names, e.DisplayName)
	}
	s.publisher.Publish(pageID, events.TypeEditorsUpdated, map[string]interface{}{"editors": names})
}

// significantChanges reports whether a change set touches any non-blank
// line. Whitespace-only churn is not worth a conflict banner.
func significantChanges(d diff.LineDiff) bool {
	for _, line := range d.Added {
		if strings.TrimSpace(line) != "" {
			return true
		}
	}
	for _, line := range d.Removed {
		if strings.TrimSpace(line) != "" {
			return true
		}
	}
	return false
}
