package handler

import (
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go-wiki-collab/internal/data"
	"go-wiki-collab/internal/logger"
	"go-wiki-collab/internal/middleware"
	"go-wiki-collab/internal/service"
	"go-wiki-collab/internal/view"

	"github.com/go-chi/chi/v5"
)

const historyPageSize = 20

// PageHandler serves the HTML surface: viewing, editing, listing, and
// history. The JSON coordination endpoints live in APIHandler.
type PageHandler struct {
	pages service.PageServicer
	edits service.EditServicer
	view  *view.View
	log   logger.Logger
}

func NewPageHandler(pages service.PageServicer, edits service.EditServicer, v *view.View, log logger.Logger) *PageHandler {
	return &PageHandler{pages: pages, edits: edits, view: v, log: log}
}

// Welcome renders the landing page with the most recently updated pages.
func (h *PageHandler) Welcome(w http.ResponseWriter, r *http.Request) *middleware.AppError {
	pages, err := h.pages.GetAllPages(r.Context())
	if err != nil {
		return &middleware.AppError{Error: err, Message: "Failed to load pages", Code: http.StatusInternalServerError}
	}
	if len(pages) > 10 {
		pages = pages[:10]
	}
	if err := h.view.Render(w, r, "welcome.html", map[string]interface{}{
		"Pages": pages,
		"User":  middleware.GetUserInfo(r.Context()),
	}); err != nil {
		return &middleware.AppError{Error: err, Message: "Failed to render page", Code: http.StatusInternalServerError}
	}
	return nil
}

// ViewPage renders a page. A conflicted page shows its banner; a missing
// page offers to create it.
func (h *PageHandler) ViewPage(w http.ResponseWriter, r *http.Request) *middleware.AppError {
	title := chi.URLParam(r, "title")
	page, err := h.pages.ViewPage(r.Context(), title)
	if err != nil {
		if errors.Is(err, data.ErrPageNotFound) {
			http.Redirect(w, r, "/edit/"+url.PathEscape(title), http.StatusSeeOther)
			return nil
		}
		return &middleware.AppError{Error: err, Message: "Failed to load page", Code: http.StatusInternalServerError}
	}

	if err := h.view.Render(w, r, "view.html", map[string]interface{}{
		"Page":       page,
		"User":       middleware.GetUserInfo(r.Context()),
		"InConflict": page.Status == data.PageStatusConflict,
	}); err != nil {
		return &middleware.AppError{Error: err, Message: "Failed to render page", Code: http.StatusInternalServerError}
	}
	return nil
}

// EditPage opens the editor. For an existing page it starts an editing
// session: lock attempt, presence registration, draft recovery. For a new
// title it renders an empty editor.
func (h *PageHandler) EditPage(w http.ResponseWriter, r *http.Request) *middleware.AppError {
	title := chi.URLParam(r, "title")
	user := middleware.GetUserInfo(r.Context())
	actor := service.Actor{ID: user.Subject, Name: user.Name(), Privileged: user.IsPrivileged()}

	renderData := map[string]interface{}{
		"Title":     title,
		"User":      user,
		"IsNew":     true,
		"LastCheck": time.Now().UTC().Format(time.RFC3339),
	}

	page, err := h.pages.ViewPage(r.Context(), title)
	if err != nil && !errors.Is(err, data.ErrPageNotFound) {
		return &middleware.AppError{Error: err, Message: "Failed to load page", Code: http.StatusInternalServerError}
	}
	if page != nil {
		ec, err := h.edits.BeginEdit(r.Context(), page.ID, actor)
		if err != nil {
			return &middleware.AppError{Error: err, Message: "Failed to start editing session", Code: http.StatusInternalServerError}
		}
		renderData["IsNew"] = false
		renderData["Page"] = page
		renderData["Content"] = page.Content
		renderData["Lock"] = ec.Lock
		renderData["Editors"] = ec.Editors
		if ec.Draft != nil {
			renderData["Content"] = ec.Draft.Content
			renderData["DraftSavedAt"] = ec.Draft.SavedTime()
		}
	}

	if err := h.view.Render(w, r, "edit.html", renderData); err != nil {
		return &middleware.AppError{Error: err, Message: "Failed to render editor", Code: http.StatusInternalServerError}
	}
	return nil
}

// SavePage handles the basic-mode HTML form post. It creates the page on
// first save, otherwise commits through the same path as PUT /pages/{id};
// a detected conflict renders the conflict page instead of a 409 payload.
func (h *PageHandler) SavePage(w http.ResponseWriter, r *http.Request) *middleware.AppError {
	title := chi.URLParam(r, "title")
	if err := r.ParseForm(); err != nil {
		return &middleware.AppError{Error: err, Message: "Invalid form data", Code: http.StatusBadRequest}
	}
	user := middleware.GetUserInfo(r.Context())
	actor := service.Actor{ID: user.Subject, Name: user.Name(), Privileged: user.IsPrivileged()}

	content := r.PostFormValue("content")
	category := r.PostFormValue("category")
	subcategory := r.PostFormValue("subcategory")

	page, err := h.pages.ViewPage(r.Context(), title)
	if err != nil {
		if !errors.Is(err, data.ErrPageNotFound) {
			return &middleware.AppError{Error: err, Message: "Failed to load page", Code: http.StatusInternalServerError}
		}
		created, err := h.pages.CreatePage(r.Context(), title, content, actor.ID, category, subcategory)
		if err != nil {
			return h.formError(err)
		}
		http.Redirect(w, r, "/view/"+url.PathEscape(created.Title), http.StatusSeeOther)
		return nil
	}

	_, err = h.edits.Commit(r.Context(), page.ID, actor, service.CommitParams{
		Title:       title,
		Content:     content,
		Comment:     r.PostFormValue("comment"),
		Category:    category,
		Subcategory: subcategory,
		LastCheck:   parseLastCheck(r.PostFormValue("last_check")),
		Force:       r.PostFormValue("force_update") == "true",
	})
	var conflict *service.EditConflictError
	if errors.As(err, &conflict) {
		if renderErr := h.view.Render(w, r, "conflict.html", map[string]interface{}{
			"Page":                  page,
			"User":                  user,
			"Content":               content,
			"Diff":                  conflict.Diff,
			"Editors":               conflict.Editors,
			"HasSignificantChanges": conflict.HasSignificantChanges,
		}); renderErr != nil {
			return &middleware.AppError{Error: renderErr, Message: "Failed to render conflict page", Code: http.StatusInternalServerError}
		}
		return nil
	}
	if err != nil {
		return h.formError(err)
	}

	http.Redirect(w, r, "/view/"+url.PathEscape(title), http.StatusSeeOther)
	return nil
}

// ListPages renders every page grouped under the category tree.
func (h *PageHandler) ListPages(w http.ResponseWriter, r *http.Request) *middleware.AppError {
	pages, err := h.pages.GetAllPages(r.Context())
	if err != nil {
		return &middleware.AppError{Error: err, Message: "Failed to load pages", Code: http.StatusInternalServerError}
	}
	tree, err := h.pages.GetCategoryTree(r.Context())
	if err != nil {
		return &middleware.AppError{Error: err, Message: "Failed to load categories", Code: http.StatusInternalServerError}
	}
	if err := h.view.Render(w, r, "list.html", map[string]interface{}{
		"Pages":      pages,
		"Categories": tree,
		"User":       middleware.GetUserInfo(r.Context()),
	}); err != nil {
		return &middleware.AppError{Error: err, Message: "Failed to render page list", Code: http.StatusInternalServerError}
	}
	return nil
}

// History renders the version ledger of a page, newest first, paginated.
func (h *PageHandler) History(w http.ResponseWriter, r *http.Request) *middleware.AppError {
	title := chi.URLParam(r, "title")
	page, err := h.pages.ViewPage(r.Context(), title)
	if err != nil {
		if errors.Is(err, data.ErrPageNotFound) {
			return &middleware.AppError{Error: err, Message: "Page not found", Code: http.StatusNotFound}
		}
		return &middleware.AppError{Error: err, Message: "Failed to load page", Code: http.StatusInternalServerError}
	}

	pageNum, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if pageNum < 1 {
		pageNum = 1
	}
	versions, total, err := h.pages.History(r.Context(), page.ID, historyPageSize, (pageNum-1)*historyPageSize)
	if err != nil {
		return &middleware.AppError{Error: err, Message: "Failed to load history", Code: http.StatusInternalServerError}
	}

	totalPages := int((total + historyPageSize - 1) / historyPageSize)
	if err := h.view.Render(w, r, "history.html", map[string]interface{}{
		"Page":       page,
		"Versions":   versions,
		"User":       middleware.GetUserInfo(r.Context()),
		"PageNum":    pageNum,
		"TotalPages": totalPages,
		"HasPrev":    pageNum > 1,
		"HasNext":    pageNum < totalPages,
		"PrevPage":   pageNum - 1,
		"NextPage":   pageNum + 1,
	}); err != nil {
		return &middleware.AppError{Error: err, Message: "Failed to render history", Code: http.StatusInternalServerError}
	}
	return nil
}

func (h *PageHandler) formError(err error) *middleware.AppError {
	var verr service.ValidationError
	var held *service.LockHeldError
	switch {
	case errors.As(err, &verr):
		return &middleware.AppError{Error: err, Message: verr.Error(), Code: http.StatusBadRequest}
	case errors.As(err, &held):
		return &middleware.AppError{Error: err, Message: held.Error(), Code: http.StatusConflict}
	case errors.Is(err, service.ErrPageInConflict):
		return &middleware.AppError{Error: err, Message: "This page has an unresolved conflict", Code: http.StatusConflict}
	default:
		return &middleware.AppError{Error: err, Message: "Failed to save page", Code: http.StatusInternalServerError}
	}
}
