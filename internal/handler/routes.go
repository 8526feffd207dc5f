package handler

import (
	"io/fs"
	"net/http"

	"go-wiki-collab/internal/logger"
	"go-wiki-collab/internal/middleware"
	"go-wiki-collab/internal/view"

	"github.com/alexedwards/scs/v2"
	"github.com/casbin/casbin/v2"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

// NewRouter assembles the full route table: the HTML surface, the JSON
// coordination API, auth, and static assets. Authorization is enforced
// uniformly by the Casbin middleware; handlers never re-check route access.
func NewRouter(
	log logger.Logger,
	v *view.View,
	sm *scs.SessionManager,
	enforcer *casbin.Enforcer,
	pages *PageHandler,
	api *APIHandler,
	authH *AuthHandler,
	seo *SEOHandler,
	staticFS fs.FS,
) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(sm.LoadAndSave)
	r.Use(middleware.SettingsMiddleware)
	r.Use(middleware.Authorizer(enforcer, sm))

	handle := middleware.Error(log, v)

	// HTML surface
	r.Method(http.MethodGet, "/", handle(pages.Welcome))
	r.Method(http.MethodGet, "/view/{title}", handle(pages.ViewPage))
	r.Method(http.MethodGet, "/edit/{title}", handle(pages.EditPage))
	r.Method(http.MethodPost, "/save/{title}", handle(pages.SavePage))
	r.Method(http.MethodGet, "/list", handle(pages.ListPages))
	r.Method(http.MethodGet, "/history/{title}", handle(pages.History))

	// Auth
	r.Method(http.MethodGet, "/auth/login", handle(authH.Login))
	r.Method(http.MethodGet, "/auth/callback", handle(authH.Callback))
	r.Method(http.MethodGet, "/auth/logout", handle(authH.Logout))

	// Coordination API
	r.Route("/pages/{id}", func(r chi.Router) {
		r.Method(http.MethodPut, "/", handle(api.CommitPage))
		r.Method(http.MethodPost, "/editing", handle(api.RegisterEditing))
		r.Method(http.MethodPost, "/stopped-editing", handle(api.UnregisterEditing))
		r.Method(http.MethodGet, "/status", handle(api.PageStatus))
		r.Method(http.MethodGet, "/lock-status", handle(api.LockStatus))
		r.Method(http.MethodGet, "/section-locks", handle(api.SectionLocks))
		r.Method(http.MethodPost, "/section-locks", handle(api.LockSection))
		r.Method(http.MethodDelete, "/section-locks", handle(api.UnlockSection))
		r.Method(http.MethodGet, "/drafts", handle(api.GetDraft))
		r.Method(http.MethodDelete, "/drafts", handle(api.DeleteDraft))
		r.Method(http.MethodPost, "/revert/{version}", handle(api.RevertPage))
		r.Method(http.MethodPost, "/resolve-conflict", handle(api.ResolveConflict))
		r.Method(http.MethodGet, "/discussions", handle(api.ListDiscussion))
		r.Method(http.MethodPost, "/discussions", handle(api.PostDiscussion))
		r.Method(http.MethodGet, "/events", handle(api.Events))
	})
	r.Method(http.MethodPost, "/lock", handle(api.AcquireLock))
	r.Method(http.MethodPost, "/unlock", handle(api.ReleaseLock))
	r.Method(http.MethodPost, "/drafts", handle(api.SaveDraft))
	r.Method(http.MethodGet, "/drafts", handle(api.ListDrafts))

	// SEO and static assets
	r.Method(http.MethodGet, "/robots.txt", handle(seo.Robots))
	r.Method(http.MethodGet, "/sitemap.xml", handle(seo.Sitemap))
	r.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.FS(staticFS))))

	return r
}
