package api

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/halaqah-id/halaqah-realtime/internal/config"
	"github.com/halaqah-id/halaqah-realtime/internal/database"
	"github.com/halaqah-id/halaqah-realtime/internal/presence"
	"github.com/halaqah-id/halaqah-realtime/internal/server"
)

const defaultRequestTimeout = 5 * time.Second

// App is the HTTP surface of the realtime service: the websocket upgrade
// plus read-only session and presence queries.
type App struct {
	log               *log.Logger
	db                database.Repository
	store             presence.Store
	cs                *server.ChatServer
	srv               *http.Server
	signingKey        []byte
	allowedOrigins    []string
	heartbeatInterval time.Duration
	presenceTTL       time.Duration
	requestTimeout    time.Duration
}

func NewApp(mux *http.ServeMux, logger *log.Logger, cs *server.ChatServer, db database.Repository,
	store presence.Store, cfg *config.Config) *App {
	a := &App{
		log:               logger,
		db:                db,
		store:             store,
		cs:                cs,
		signingKey:        cfg.SigningKey,
		allowedOrigins:    cfg.AllowedOrigins,
		heartbeatInterval: cfg.HeartbeatInterval,
		presenceTTL:       cfg.PresenceTTL,
		requestTimeout:    defaultRequestTimeout,
	}

	mux.HandleFunc("GET /healthz", a.healthCheck)
	mux.HandleFunc("GET /api/auth/session", a.authMiddleware(a.session))
	mux.HandleFunc("GET /api/presence", a.authMiddleware(a.listPresence))
	mux.HandleFunc("GET /api/presence/{userId}", a.authMiddleware(a.getPresence))
	mux.HandleFunc("GET /ws", a.authMiddleware(a.serveWs))

	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept", "Authorization"}),
		handlers.AllowCredentials(),
	)(mux)

	a.srv = &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: a.errorHandler(h),
	}

	return a
}

func (a *App) Handler() http.Handler {
	return a.srv.Handler
}

func (a *App) Start() error {
	a.log.Printf("starting server on %s", a.srv.Addr)
	return a.srv.ListenAndServe()
}

func (a *App) Shutdown(ctx context.Context) error {
	a.log.Println("shutting down HTTP server...")
	if err := a.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}
