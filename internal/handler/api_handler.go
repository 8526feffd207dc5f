package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go-wiki-collab/internal/coord"
	"go-wiki-collab/internal/data"
	"go-wiki-collab/internal/events"
	"go-wiki-collab/internal/logger"
	"go-wiki-collab/internal/middleware"
	"go-wiki-collab/internal/service"

	"github.com/go-chi/chi/v5"
)

// APIHandler serves the JSON coordination surface consumed by the editor
// client: presence, locks, drafts, commits, and discussion.
type APIHandler struct {
	edits service.EditServicer
	pages service.PageServicer
	hub   *events.Hub
	log   logger.Logger
}

func NewAPIHandler(edits service.EditServicer, pages service.PageServicer, hub *events.Hub, log logger.Logger) *APIHandler {
	return &APIHandler{edits: edits, pages: pages, hub: hub, log: log}
}

// actorFrom maps the authenticated request context onto a service actor.
func actorFrom(r *http.Request) service.Actor {
	u := middleware.GetUserInfo(r.Context())
	return service.Actor{ID: u.Subject, Name: u.Name(), Privileged: u.IsPrivileged()}
}

func pageIDParam(r *http.Request) (int64, *middleware.AppError) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		return 0, &middleware.AppError{Error: err, Message: "Invalid page id", Code: http.StatusBadRequest}
	}
	return id, nil
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func decodeJSON(r *http.Request, v interface{}) *middleware.AppError {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return &middleware.AppError{Error: err, Message: "Invalid request body", Code: http.StatusBadRequest}
	}
	return nil
}

// apiError maps service errors onto HTTP status codes.
func apiError(err error, fallback string) *middleware.AppError {
	var verr service.ValidationError
	var held *service.LockHeldError
	switch {
	case errors.As(err, &verr):
		return &middleware.AppError{Error: err, Message: verr.Error(), Code: http.StatusBadRequest}
	case errors.As(err, &held):
		return &middleware.AppError{Error: err, Message: held.Error(), Code: http.StatusConflict}
	case errors.Is(err, service.ErrForbidden):
		return &middleware.AppError{Error: err, Message: "Forbidden", Code: http.StatusForbidden}
	case errors.Is(err, service.ErrPageInConflict):
		return &middleware.AppError{Error: err, Message: "Page has an unresolved conflict", Code: http.StatusConflict}
	case errors.Is(err, data.ErrPageNotFound):
		return &middleware.AppError{Error: err, Message: "Page not found", Code: http.StatusNotFound}
	case errors.Is(err, data.ErrVersionNotFound):
		return &middleware.AppError{Error: err, Message: "Version not found", Code: http.StatusNotFound}
	default:
		return &middleware.AppError{Error: err, Message: fallback, Code: http.StatusInternalServerError}
	}
}

// parseLastCheck accepts the client's RFC3339 freshness timestamp. An
// absent or malformed value means "never checked" rather than an error;
// the commit then proceeds unguarded, which is the pre-polling behavior.
func parseLastCheck(raw string) *time.Time {
	if raw == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil
	}
	return &t
}

// --- presence ---

func (h *APIHandler) RegisterEditing(w http.ResponseWriter, r *http.Request) *middleware.AppError {
	pageID, appErr := pageIDParam(r)
	if appErr != nil {
		return appErr
	}
	h.edits.RegisterEditing(r.Context(), pageID, actorFrom(r))
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
	return nil
}

func (h *APIHandler) UnregisterEditing(w http.ResponseWriter, r *http.Request) *middleware.AppError {
	pageID, appErr := pageIDParam(r)
	if appErr != nil {
		return appErr
	}
	h.edits.UnregisterEditing(r.Context(), pageID, actorFrom(r))
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
	return nil
}

func (h *APIHandler) PageStatus(w http.ResponseWriter, r *http.Request) *middleware.AppError {
	pageID, appErr := pageIDParam(r)
	if appErr != nil {
		return appErr
	}
	lastCheck := parseLastCheck(r.URL.Query().Get("last_check"))

	info, err := h.edits.PageStatus(r.Context(), pageID, lastCheck, actorFrom(r))
	if err != nil {
		return apiError(err, "Failed to read page status")
	}
	resp := map[string]interface{}{
		"hasBeenModified": info.HasBeenModified,
		"currentEditors":  info.Editors,
	}
	if info.LastModified != nil {
		resp["lastModified"] = info.LastModified.UTC().Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, resp)
	return nil
}

// --- page locks ---

type pageLockRequest struct {
	PageID int64  `json:"page_id"`
	Reason string `json:"reason"`
}

func (h *APIHandler) AcquireLock(w http.ResponseWriter, r *http.Request) *middleware.AppError {
	var req pageLockRequest
	if appErr := decodeJSON(r, &req); appErr != nil {
		return appErr
	}

	grant, err := h.edits.AcquirePageLock(r.Context(), req.PageID, actorFrom(r), req.Reason)
	if err != nil {
		return apiError(err, "Failed to acquire lock")
	}
	if !grant.Granted {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"success": false,
			"message": fmt.Sprintf("Page is locked by %s until %s", grant.OwnerName, grant.ExpiresAt.Format(time.RFC3339)),
		})
		return nil
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Lock acquired",
	})
	return nil
}

func (h *APIHandler) ReleaseLock(w http.ResponseWriter, r *http.Request) *middleware.AppError {
	var req pageLockRequest
	if appErr := decodeJSON(r, &req); appErr != nil {
		return appErr
	}

	released, err := h.edits.ReleasePageLock(r.Context(), req.PageID, actorFrom(r))
	if err != nil {
		return apiError(err, "Failed to release lock")
	}
	if !released {
		writeJSON(w, http.StatusForbidden, map[string]interface{}{
			"success": false,
			"message": "You do not hold this lock",
		})
		return nil
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Lock released",
	})
	return nil
}

func (h *APIHandler) LockStatus(w http.ResponseWriter, r *http.Request) *middleware.AppError {
	pageID, appErr := pageIDParam(r)
	if appErr != nil {
		return appErr
	}

	status, err := h.edits.PageLockStatus(r.Context(), pageID, actorFrom(r))
	if err != nil {
		return apiError(err, "Failed to read lock status")
	}
	resp := map[string]interface{}{"locked": status.Locked, "can_unlock": status.CanUnlock}
	if status.Locked {
		resp["locked_by"] = status.OwnerName
		resp["reason"] = status.Reason
		resp["expires_at"] = status.ExpiresAt.UTC().Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, resp)
	return nil
}

// --- section locks ---

type sectionLockRequest struct {
	SectionID    string `json:"section_id"`
	SectionTitle string `json:"section_title"`
	// Duration is the requested lock lifetime in minutes; clamped
	// server-side, zero means the configured default.
	Duration int `json:"duration"`
}

func (h *APIHandler) LockSection(w http.ResponseWriter, r *http.Request) *middleware.AppError {
	pageID, appErr := pageIDParam(r)
	if appErr != nil {
		return appErr
	}
	var req sectionLockRequest
	if appErr := decodeJSON(r, &req); appErr != nil {
		return appErr
	}

	grant, err := h.edits.LockSection(r.Context(), pageID, req.SectionID, req.SectionTitle,
		time.Duration(req.Duration)*time.Minute, actorFrom(r))
	if err != nil {
		return apiError(err, "Failed to lock section")
	}
	if !grant.Granted {
		writeJSON(w, http.StatusConflict, map[string]interface{}{
			"success":    false,
			"locked_by":  grant.OwnerName,
			"expires_at": grant.ExpiresAt.UTC().Format(time.RFC3339),
		})
		return nil
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":    true,
		"expires_at": grant.ExpiresAt.UTC().Format(time.RFC3339),
	})
	return nil
}

func (h *APIHandler) UnlockSection(w http.ResponseWriter, r *http.Request) *middleware.AppError {
	pageID, appErr := pageIDParam(r)
	if appErr != nil {
		return appErr
	}
	var req sectionLockRequest
	if appErr := decodeJSON(r, &req); appErr != nil {
		return appErr
	}

	released, err := h.edits.UnlockSection(r.Context(), pageID, req.SectionID, actorFrom(r))
	if err != nil {
		return apiError(err, "Failed to unlock section")
	}
	if !released {
		writeJSON(w, http.StatusForbidden, map[string]interface{}{
			"success": false,
			"message": "You do not hold this section lock",
		})
		return nil
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
	return nil
}

func (h *APIHandler) SectionLocks(w http.ResponseWriter, r *http.Request) *middleware.AppError {
	pageID, appErr := pageIDParam(r)
	if appErr != nil {
		return appErr
	}

	locks, err := h.edits.SectionLocks(r.Context(), pageID)
	if err != nil {
		return apiError(err, "Failed to list section locks")
	}
	actor := actorFrom(r)
	out := make([]map[string]interface{}, 0, len(locks))
	for _, l := range locks {
		out = append(out, map[string]interface{}{
			"section_id":    l.SectionID,
			"section_title": l.SectionTitle,
			"locked_by":     l.OwnerName,
			"expires_at":    l.ExpiresTime().Format(time.RFC3339),
			"can_unlock":    l.OwnerID == actor.ID || actor.Privileged,
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"locks": out})
	return nil
}

// --- drafts ---

type draftRequest struct {
	PageID      int64  `json:"page_id"`
	Title       string `json:"title"`
	Content     string `json:"content"`
	Category    string `json:"category"`
	Subcategory string `json:"subcategory"`
}

func draftJSON(d *coord.Draft) map[string]interface{} {
	return map[string]interface{}{
		"draft_id":    d.ID,
		"page_id":     d.PageID,
		"title":       d.Title,
		"content":     d.Content,
		"category":    d.Category,
		"subcategory": d.Subcategory,
		"saved_at":    d.SavedTime().Format(time.RFC3339),
	}
}

func (h *APIHandler) SaveDraft(w http.ResponseWriter, r *http.Request) *middleware.AppError {
	var req draftRequest
	if appErr := decodeJSON(r, &req); appErr != nil {
		return appErr
	}

	draft, err := h.edits.SaveDraft(r.Context(), req.PageID, actorFrom(r),
		req.Title, req.Content, req.Category, req.Subcategory)
	if err != nil {
		return apiError(err, "Failed to save draft")
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":  true,
		"draft_id": draft.ID,
		"saved_at": draft.SavedTime().Format(time.RFC3339),
	})
	return nil
}

func (h *APIHandler) GetDraft(w http.ResponseWriter, r *http.Request) *middleware.AppError {
	pageID, appErr := pageIDParam(r)
	if appErr != nil {
		return appErr
	}

	draft, err := h.edits.Draft(r.Context(), pageID, actorFrom(r))
	if err != nil {
		return apiError(err, "Failed to load draft")
	}
	if draft == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"success": false})
		return nil
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "draft": draftJSON(draft)})
	return nil
}

func (h *APIHandler) DeleteDraft(w http.ResponseWriter, r *http.Request) *middleware.AppError {
	pageID, appErr := pageIDParam(r)
	if appErr != nil {
		return appErr
	}

	deleted, err := h.edits.DiscardDraft(r.Context(), pageID, actorFrom(r))
	if err != nil {
		return apiError(err, "Failed to delete draft")
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": deleted})
	return nil
}

func (h *APIHandler) ListDrafts(w http.ResponseWriter, r *http.Request) *middleware.AppError {
	drafts, err := h.edits.DraftsForUser(r.Context(), actorFrom(r))
	if err != nil {
		return apiError(err, "Failed to list drafts")
	}
	out := make([]map[string]interface{}, 0, len(drafts))
	for _, d := range drafts {
		out = append(out, draftJSON(d))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"drafts": out})
	return nil
}

// --- commit / revert / resolve ---

type commitRequest struct {
	Title       string `json:"title"`
	Content     string `json:"content"`
	Comment     string `json:"comment"`
	Category    string `json:"category"`
	Subcategory string `json:"subcategory"`
	LastCheck   string `json:"last_check"`
	ForceUpdate bool   `json:"force_update"`
}

// CommitPage handles PUT /pages/{id}. A detected conflict answers 409 with
// the diff payload the editor renders inline; every other failure goes
// through the standard error envelope.
func (h *APIHandler) CommitPage(w http.ResponseWriter, r *http.Request) *middleware.AppError {
	pageID, appErr := pageIDParam(r)
	if appErr != nil {
		return appErr
	}
	var req commitRequest
	if appErr := decodeJSON(r, &req); appErr != nil {
		return appErr
	}

	actor := actorFrom(r)
	_, err := h.edits.Commit(r.Context(), pageID, actor, service.CommitParams{
		Title:       req.Title,
		Content:     req.Content,
		Comment:     req.Comment,
		Category:    req.Category,
		Subcategory: req.Subcategory,
		LastCheck:   parseLastCheck(req.LastCheck),
		Force:       req.ForceUpdate,
	})
	var conflict *service.EditConflictError
	if errors.As(err, &conflict) {
		writeJSON(w, http.StatusConflict, map[string]interface{}{
			"conflict":              true,
			"editors":               conflict.Editors,
			"diff":                  string(conflict.Diff),
			"hasSignificantChanges": conflict.HasSignificantChanges,
		})
		return nil
	}
	if err != nil {
		return apiError(err, "Failed to save page")
	}
	return h.redirectToPage(w, r, pageID)
}

func (h *APIHandler) RevertPage(w http.ResponseWriter, r *http.Request) *middleware.AppError {
	pageID, appErr := pageIDParam(r)
	if appErr != nil {
		return appErr
	}
	target, err := strconv.ParseInt(chi.URLParam(r, "version"), 10, 64)
	if err != nil {
		return &middleware.AppError{Error: err, Message: "Invalid version number", Code: http.StatusBadRequest}
	}

	if _, err := h.edits.Revert(r.Context(), pageID, target, actorFrom(r)); err != nil {
		return apiError(err, "Failed to revert page")
	}
	return h.redirectToPage(w, r, pageID)
}

type resolveRequest struct {
	Content           string `json:"content"`
	ResolutionComment string `json:"resolution_comment"`
}

func (h *APIHandler) ResolveConflict(w http.ResponseWriter, r *http.Request) *middleware.AppError {
	pageID, appErr := pageIDParam(r)
	if appErr != nil {
		return appErr
	}
	var req resolveRequest
	if appErr := decodeJSON(r, &req); appErr != nil {
		return appErr
	}

	if _, err := h.edits.ResolveConflict(r.Context(), pageID, actorFrom(r), req.Content, req.ResolutionComment); err != nil {
		return apiError(err, "Failed to resolve conflict")
	}
	return h.redirectToPage(w, r, pageID)
}

// redirectToPage answers a successful mutation with the view URL of the
// page. The editor client follows it; basic-mode forms get a plain 303.
func (h *APIHandler) redirectToPage(w http.ResponseWriter, r *http.Request, pageID int64) *middleware.AppError {
	page, err := h.pages.GetPageByID(r.Context(), pageID)
	if err != nil {
		return apiError(err, "Failed to load page after save")
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":  true,
		"redirect": "/view/" + page.Title,
	})
	return nil
}

// --- discussion ---

type discussionRequest struct {
	Message        string `json:"message"`
	EditingSection string `json:"editing_section"`
}

func messageJSON(m *coord.Message) map[string]interface{} {
	return map[string]interface{}{
		"id":              m.ID,
		"author":          m.AuthorName,
		"message":         m.Body,
		"editing_section": m.SectionContext,
		"created_at":      m.CreatedTime().Format(time.RFC3339),
	}
}

func (h *APIHandler) PostDiscussion(w http.ResponseWriter, r *http.Request) *middleware.AppError {
	pageID, appErr := pageIDParam(r)
	if appErr != nil {
		return appErr
	}
	var req discussionRequest
	if appErr := decodeJSON(r, &req); appErr != nil {
		return appErr
	}

	msg, err := h.edits.PostDiscussion(r.Context(), pageID, actorFrom(r), req.Message, req.EditingSection)
	if err != nil {
		return apiError(err, "Failed to post message")
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"message": messageJSON(msg)})
	return nil
}

func (h *APIHandler) ListDiscussion(w http.ResponseWriter, r *http.Request) *middleware.AppError {
	pageID, appErr := pageIDParam(r)
	if appErr != nil {
		return appErr
	}

	msgs, err := h.edits.Discussion(r.Context(), pageID)
	if err != nil {
		return apiError(err, "Failed to list messages")
	}
	out := make([]map[string]interface{}, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, messageJSON(m))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"messages": out})
	return nil
}

// --- events ---

// Events upgrades to the per-page notification websocket. When the
// configured transport has no local hub there is nothing to subscribe to.
func (h *APIHandler) Events(w http.ResponseWriter, r *http.Request) *middleware.AppError {
	pageID, appErr := pageIDParam(r)
	if appErr != nil {
		return appErr
	}
	if h.hub == nil {
		return &middleware.AppError{
			Error:   errors.New("websocket transport disabled"),
			Message: "Event stream not available",
			Code:    http.StatusNotFound,
		}
	}
	h.hub.ServeWS(w, r, pageID)
	return nil
}
