//go:build integration

package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io/fs"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"go-wiki-collab/internal/auth"
	"go-wiki-collab/internal/config"
	"go-wiki-collab/internal/coord"
	"go-wiki-collab/internal/data"
	"go-wiki-collab/internal/events"
	"go-wiki-collab/internal/logger"
	"go-wiki-collab/internal/service"
	"go-wiki-collab/internal/view"
	"go-wiki-collab/web"

	"github.com/alexedwards/scs/sqlite3store"
	"github.com/alexedwards/scs/v2"
	"github.com/casbin/casbin/v2"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"golang.org/x/oauth2"
)

type testApp struct {
	router   http.Handler
	pages    *data.SQLPageRepository
	sessions *scs.SessionManager
	enforcer *casbin.Enforcer
}

// setupIntegrationApp builds the full stack on an in-memory database.
// SQLite stands in for MySQL; the enforcer and the session store share
// the same database through the shared cache, like they do in production.
func setupIntegrationApp(t *testing.T) *testApp {
	t.Helper()

	dsn := "file:" + t.Name() + "?mode=memory&cache=shared&_loc=UTC"
	db, err := sqlx.Connect("sqlite3", dsn)
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	schema := `
	CREATE TABLE categories (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		parent_id INTEGER REFERENCES categories(id)
	);
	CREATE TABLE pages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		title TEXT NOT NULL,
		slug TEXT NOT NULL UNIQUE,
		author_id TEXT NOT NULL,
		status TEXT NOT NULL,
		current_version_id INTEGER,
		category_id INTEGER,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);
	CREATE TABLE page_versions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		page_id INTEGER NOT NULL,
		version_number INTEGER NOT NULL,
		content TEXT NOT NULL,
		author_id TEXT NOT NULL,
		comment TEXT NOT NULL DEFAULT '',
		is_current INTEGER NOT NULL DEFAULT 0,
		change_summary TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		UNIQUE (page_id, version_number)
	);
	CREATE TABLE sessions (
		token TEXT PRIMARY KEY,
		data BLOB NOT NULL,
		expiry REAL NOT NULL
	);
	CREATE TABLE casbin_rule (
		p_type TEXT NOT NULL DEFAULT '',
		v0 TEXT NOT NULL DEFAULT '',
		v1 TEXT NOT NULL DEFAULT '',
		v2 TEXT NOT NULL DEFAULT '',
		v3 TEXT NOT NULL DEFAULT '',
		v4 TEXT NOT NULL DEFAULT '',
		v5 TEXT NOT NULL DEFAULT ''
	);`
	db.MustExec(schema)

	log := logger.New(config.LogConfig{Level: "debug", Format: "console"})
	v, err := view.New(web.FS)
	if err != nil {
		t.Fatalf("failed to parse templates: %v", err)
	}

	store, err := coord.Open(config.CoordConfig{FilePath: ":memory:"})
	if err != nil {
		t.Fatalf("failed to open coordination store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	cfg := &config.Config{
		Locks:      config.LockConfig{PageTTL: 120, SectionTTL: 30},
		Presence:   config.PresenceConfig{ActiveWindow: 60, MaxAge: 1800},
		Discussion: config.DiscussionConfig{RetentionHours: 24, ListCap: 50},
	}

	pageRepo := data.NewSQLPageRepository(db)
	versionRepo := data.NewVersionRepository(db)
	categoryRepo := data.NewCategoryRepository(db)
	pageService := service.NewPageService(pageRepo, versionRepo, categoryRepo, log)
	editService := service.NewEditService(pageRepo, versionRepo, categoryRepo, store, events.NopPublisher{}, cfg, log)

	sessionManager := scs.New()
	sessionManager.Store = sqlite3store.New(db.DB)
	sessionManager.Lifetime = 3 * time.Minute

	enforcer, err := auth.NewEnforcer("sqlite3", dsn, "../../auth_model.conf")
	if err != nil {
		t.Fatalf("failed to create enforcer: %v", err)
	}
	auth.SeedDefaultPolicies(enforcer, log)

	// The login flow itself is not under test here; a static endpoint is
	// enough for AuthCodeURL to produce a redirect.
	authenticator := &auth.Authenticator{
		Config: &oauth2.Config{
			ClientID:    "wiki",
			RedirectURL: "http://localhost/auth/callback",
			Endpoint:    oauth2.Endpoint{AuthURL: "https://idp.test/auth", TokenURL: "https://idp.test/token"},
		},
	}

	pageHandler := NewPageHandler(pageService, editService, v, log)
	apiHandler := NewAPIHandler(editService, pageService, nil, log)
	authHandler := NewAuthHandler(authenticator, sessionManager, enforcer, log)
	seoHandler := NewSEOHandler(pageService, "http://localhost:8080")

	staticFS, err := fs.Sub(web.FS, "static")
	if err != nil {
		t.Fatalf("failed to mount static assets: %v", err)
	}

	router := NewRouter(log, v, sessionManager, enforcer, pageHandler, apiHandler, authHandler, seoHandler, staticFS)

	return &testApp{
		router:   router,
		pages:    pageRepo,
		sessions: sessionManager,
		enforcer: enforcer,
	}
}

// loginAs establishes a session the way the OIDC callback would and
// returns the cookie that carries it.
func (app *testApp) loginAs(t *testing.T, subject, name, role string) *http.Cookie {
	t.Helper()
	if role != "" {
		if _, err := app.enforcer.AddRoleForUser(subject, role); err != nil {
			t.Fatalf("failed to assign role: %v", err)
		}
	}

	h := app.sessions.LoadAndSave(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		app.sessions.Put(r.Context(), "user_subject", subject)
		app.sessions.Put(r.Context(), "user_name", name)
	}))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	for _, c := range rr.Result().Cookies() {
		if c.Name == app.sessions.Cookie.Name {
			return c
		}
	}
	t.Fatal("no session cookie issued")
	return nil
}

func (app *testApp) do(method, path string, body []byte, cookie *http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if cookie != nil {
		req.AddCookie(cookie)
	}
	rr := httptest.NewRecorder()
	app.router.ServeHTTP(rr, req)
	return rr
}

func TestAnonymousAccess(t *testing.T) {
	app := setupIntegrationApp(t)

	rr := app.do(http.MethodGet, "/", nil, nil)
	if rr.Code != http.StatusOK {
		t.Errorf("GET / as anonymous: want 200, got %d", rr.Code)
	}

	rr = app.do(http.MethodGet, "/view/NoSuchPage", nil, nil)
	if rr.Code != http.StatusSeeOther {
		t.Errorf("viewing a missing page: want 303, got %d", rr.Code)
	}
	if loc := rr.Header().Get("Location"); loc != "/edit/NoSuchPage" {
		t.Errorf("expected redirect to the editor, got %q", loc)
	}

	rr = app.do(http.MethodGet, "/edit/AnyPage", nil, nil)
	if rr.Code != http.StatusForbidden {
		t.Errorf("GET /edit as anonymous: want 403, got %d", rr.Code)
	}

	rr = app.do(http.MethodGet, "/robots.txt", nil, nil)
	if rr.Code != http.StatusOK {
		t.Errorf("GET /robots.txt: want 200, got %d", rr.Code)
	}
}

func TestEditorSaveAndViewFlow(t *testing.T) {
	app := setupIntegrationApp(t)
	alice := app.loginAs(t, "alice-sub", "Alice", "editor")

	form := url.Values{"content": {"# Guide\n\nFirst line."}, "category": {"Docs"}}
	req := httptest.NewRequest(http.MethodPost, "/save/Guide", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.AddCookie(alice)
	rr := httptest.NewRecorder()
	app.router.ServeHTTP(rr, req)
	if rr.Code != http.StatusSeeOther {
		t.Fatalf("saving a new page: want 303, got %d (%s)", rr.Code, rr.Body.String())
	}
	if loc := rr.Header().Get("Location"); loc != "/view/Guide" {
		t.Errorf("expected redirect to the new page, got %q", loc)
	}

	rr = app.do(http.MethodGet, "/view/Guide", nil, alice)
	if rr.Code != http.StatusOK {
		t.Fatalf("viewing the new page: want 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "Guide") {
		t.Error("rendered page does not mention its title")
	}

	rr = app.do(http.MethodGet, "/edit/Guide", nil, alice)
	if rr.Code != http.StatusOK {
		t.Fatalf("opening the editor: want 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "First line.") {
		t.Error("editor does not show the current content")
	}
}

func TestCommitConflictFlow(t *testing.T) {
	app := setupIntegrationApp(t)
	ctx := context.Background()
	alice := app.loginAs(t, "alice-sub", "Alice", "editor")
	bob := app.loginAs(t, "bob-sub", "Bob", "editor")
	mod := app.loginAs(t, "mod-sub", "Mod", "moderator")

	form := url.Values{"content": {"L1\nL2"}}
	req := httptest.NewRequest(http.MethodPost, "/save/Shared", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.AddCookie(alice)
	rr := httptest.NewRecorder()
	app.router.ServeHTTP(rr, req)
	if rr.Code != http.StatusSeeOther {
		t.Fatalf("creating the page: want 303, got %d", rr.Code)
	}

	page, err := app.pages.GetPageByTitle(ctx, "Shared")
	if err != nil {
		t.Fatalf("failed to load page: %v", err)
	}
	pagePath := "/pages/" + strconv.FormatInt(page.ID, 10)

	// Both editors loaded the page at version 1.
	time.Sleep(1100 * time.Millisecond)
	lastCheck := time.Now().UTC().Format(time.RFC3339)
	time.Sleep(1100 * time.Millisecond)

	body, _ := json.Marshal(map[string]interface{}{
		"title": "Shared", "content": "alice line\nL2",
		"comment": "alice edit", "last_check": lastCheck,
	})
	rr = app.do(http.MethodPut, pagePath, body, alice)
	if rr.Code != http.StatusOK {
		t.Fatalf("alice's commit: want 200, got %d (%s)", rr.Code, rr.Body.String())
	}

	time.Sleep(1100 * time.Millisecond)

	// Bob edits the same line against the same stale snapshot.
	body, _ = json.Marshal(map[string]interface{}{
		"title": "Shared", "content": "bob line\nL2",
		"comment": "bob edit", "last_check": lastCheck,
	})
	rr = app.do(http.MethodPut, pagePath, body, bob)
	if rr.Code != http.StatusConflict {
		t.Fatalf("bob's stale commit: want 409, got %d (%s)", rr.Code, rr.Body.String())
	}
	var conflictResp map[string]interface{}
	if err := json.Unmarshal(rr.Body.Bytes(), &conflictResp); err != nil {
		t.Fatalf("failed to decode conflict response: %v", err)
	}
	if conflictResp["conflict"] != true {
		t.Errorf("expected conflict:true, got %v", conflictResp)
	}

	page, err = app.pages.GetPageByID(ctx, page.ID)
	if err != nil {
		t.Fatalf("failed to reload page: %v", err)
	}
	if page.Status != data.PageStatusConflict {
		t.Errorf("expected page status %q, got %q", data.PageStatusConflict, page.Status)
	}

	// Unresolved conflict blocks further plain commits.
	body, _ = json.Marshal(map[string]interface{}{"title": "Shared", "content": "bob again\nL2"})
	rr = app.do(http.MethodPut, pagePath, body, bob)
	if rr.Code != http.StatusConflict {
		t.Errorf("commit against a conflicted page: want 409, got %d", rr.Code)
	}

	// An editor cannot resolve; the moderator can.
	body, _ = json.Marshal(map[string]interface{}{"content": "merged\nL2", "resolution_comment": "merged both"})
	rr = app.do(http.MethodPost, pagePath+"/resolve-conflict", body, bob)
	if rr.Code != http.StatusForbidden {
		t.Errorf("resolve as editor: want 403, got %d", rr.Code)
	}
	rr = app.do(http.MethodPost, pagePath+"/resolve-conflict", body, mod)
	if rr.Code != http.StatusOK {
		t.Fatalf("resolve as moderator: want 200, got %d (%s)", rr.Code, rr.Body.String())
	}

	page, err = app.pages.GetPageByID(ctx, page.ID)
	if err != nil {
		t.Fatalf("failed to reload page: %v", err)
	}
	if page.Status != data.PageStatusPublished {
		t.Errorf("expected page back to %q, got %q", data.PageStatusPublished, page.Status)
	}
}

func TestLockAPIAcrossUsers(t *testing.T) {
	app := setupIntegrationApp(t)
	ctx := context.Background()
	alice := app.loginAs(t, "alice-sub", "Alice", "editor")
	bob := app.loginAs(t, "bob-sub", "Bob", "editor")

	form := url.Values{"content": {"body"}}
	req := httptest.NewRequest(http.MethodPost, "/save/Locked", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.AddCookie(alice)
	rr := httptest.NewRecorder()
	app.router.ServeHTTP(rr, req)
	if rr.Code != http.StatusSeeOther {
		t.Fatalf("creating the page: want 303, got %d", rr.Code)
	}
	page, err := app.pages.GetPageByTitle(ctx, "Locked")
	if err != nil {
		t.Fatalf("failed to load page: %v", err)
	}

	body, _ := json.Marshal(map[string]interface{}{"page_id": page.ID, "reason": "editing"})
	rr = app.do(http.MethodPost, "/lock", body, alice)
	if rr.Code != http.StatusOK {
		t.Fatalf("alice acquiring lock: want 200, got %d", rr.Code)
	}
	var resp map[string]interface{}
	json.Unmarshal(rr.Body.Bytes(), &resp)
	if resp["success"] != true {
		t.Fatalf("alice should get the lock, got %v", resp)
	}

	rr = app.do(http.MethodPost, "/lock", body, bob)
	json.Unmarshal(rr.Body.Bytes(), &resp)
	if resp["success"] != false {
		t.Fatalf("bob should be denied, got %v", resp)
	}
	if msg, _ := resp["message"].(string); !strings.Contains(msg, "Alice") {
		t.Errorf("denial should name the holder, got %q", msg)
	}

	rr = app.do(http.MethodGet, "/pages/"+strconv.FormatInt(page.ID, 10)+"/lock-status", nil, bob)
	json.Unmarshal(rr.Body.Bytes(), &resp)
	if resp["locked"] != true || resp["can_unlock"] != false {
		t.Errorf("unexpected lock status for bob: %v", resp)
	}

	rr = app.do(http.MethodPost, "/unlock", body, bob)
	if rr.Code != http.StatusForbidden {
		t.Errorf("bob releasing alice's lock: want 403, got %d", rr.Code)
	}
	rr = app.do(http.MethodPost, "/unlock", body, alice)
	if rr.Code != http.StatusOK {
		t.Errorf("alice releasing her lock: want 200, got %d", rr.Code)
	}
}
