package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go-wiki-collab/internal/auth"
	"go-wiki-collab/internal/config"
	"go-wiki-collab/internal/coord"
	"go-wiki-collab/internal/data"
	"go-wiki-collab/internal/events"
	"go-wiki-collab/internal/handler"
	"go-wiki-collab/internal/logger"
	"go-wiki-collab/internal/service"
	"go-wiki-collab/internal/view"
	"go-wiki-collab/web"

	"github.com/alexedwards/scs/mysqlstore"
	"github.com/alexedwards/scs/v2"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Log)

	if len(cfg.Session.SecretKey) < 32 {
		log.Fatal(errors.New("session.secretkey must be at least 32 bytes"), "Refusing to start with a weak session key")
	}

	// Relational store: pages and the version ledger.
	if err := data.ApplyMigrations(cfg.DB.DSN, "migrations"); err != nil {
		log.Fatal(err, "Failed to apply database migrations")
	}
	db, err := data.NewDB(cfg.DB.DSN)
	if err != nil {
		log.Fatal(err, "Failed to connect to the database")
	}
	defer db.Close()

	// Coordination store: locks, drafts, presence, discussion.
	store, err := coord.Open(cfg.Coord)
	if err != nil {
		log.Fatal(err, "Failed to open the coordination store")
	}
	defer store.Close()

	// Sessions are persisted in MySQL so any worker can serve any request.
	sessionManager := scs.New()
	sessionManager.Store = mysqlstore.New(db.DB)
	sessionManager.Lifetime = time.Duration(cfg.Session.Lifetime) * time.Hour
	sessionManager.Cookie.HttpOnly = true
	sessionManager.Cookie.Secure = cfg.Server.TLS.Enabled

	authenticator, err := auth.NewAuthenticator(&cfg.OIDC)
	if err != nil {
		log.Fatal(err, "Failed to configure the OIDC provider")
	}

	enforcer, err := auth.NewEnforcer("mysql", cfg.DB.DSN, "auth_model.conf")
	if err != nil {
		log.Fatal(err, "Failed to create the authorization enforcer")
	}
	auth.SeedDefaultPolicies(enforcer, log)

	v, err := view.New(web.FS)
	if err != nil {
		log.Fatal(err, "Failed to parse templates")
	}
	staticFS, err := fs.Sub(web.FS, "static")
	if err != nil {
		log.Fatal(err, "Failed to mount static assets")
	}

	// Event transport: local websocket hub, optionally bridged over Redis
	// so every worker's viewers hear every worker's events.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var publisher events.Publisher = events.NopPublisher{}
	var hub *events.Hub
	switch cfg.Events.Transport {
	case "none":
	case "websocket":
		hub = events.NewHub(log)
		publisher = hub
	case "redis":
		hub = events.NewHub(log)
		rp, err := events.NewRedisPublisher(cfg.Events, log)
		if err != nil {
			log.Fatal(err, "Failed to connect to redis for events")
		}
		defer rp.Close()
		publisher = rp
		go rp.Bridge(ctx, hub)
	default:
		log.Fatal(fmt.Errorf("unknown events transport %q", cfg.Events.Transport), "Invalid configuration")
	}

	pageRepo := data.NewSQLPageRepository(db)
	versionRepo := data.NewVersionRepository(db)
	categoryRepo := data.NewCategoryRepository(db)

	pageService := service.NewPageService(pageRepo, versionRepo, categoryRepo, log)
	editService := service.NewEditService(pageRepo, versionRepo, categoryRepo, store, publisher, cfg, log)

	pageHandler := handler.NewPageHandler(pageService, editService, v, log)
	apiHandler := handler.NewAPIHandler(editService, pageService, hub, log)
	authHandler := handler.NewAuthHandler(authenticator, sessionManager, enforcer, log)

	scheme := "http"
	if cfg.Server.TLS.Enabled {
		scheme = "https"
	}
	seoHandler := handler.NewSEOHandler(pageService, fmt.Sprintf("%s://localhost:%s", scheme, cfg.Server.Port))

	router := handler.NewRouter(log, v, sessionManager, enforcer, pageHandler, apiHandler, authHandler, seoHandler, staticFS)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.With(map[string]interface{}{"port": cfg.Server.Port}).Info("Server starting")
		if cfg.Server.TLS.Enabled {
			errCh <- srv.ListenAndServeTLS(cfg.Server.TLS.CertFile, cfg.Server.TLS.KeyFile)
		} else {
			errCh <- srv.ListenAndServe()
		}
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal(err, "Server failed")
		}
	case <-ctx.Done():
		log.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error(err, "Graceful shutdown failed")
		}
	}
}
