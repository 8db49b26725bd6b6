package api

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/npezzotti/go-watchparty/internal/config"
	"github.com/npezzotti/go-watchparty/internal/database"
	"github.com/npezzotti/go-watchparty/internal/history"
	"github.com/npezzotti/go-watchparty/internal/server"
)

type WatchPartyApp struct {
	log            *log.Logger
	db             database.PartyRepository
	mux            *http.Server
	ps             *server.PartyServer
	history        history.Store
	signingKey     []byte
	allowedOrigins []string
}

func NewWatchPartyApp(mux *http.ServeMux, logger *log.Logger, ps *server.PartyServer,
	db database.PartyRepository, hist history.Store, cfg *config.Config) *WatchPartyApp {
	s := &WatchPartyApp{
		log:            logger,
		db:             db,
		ps:             ps,
		history:        hist,
		signingKey:     cfg.SigningKey,
		allowedOrigins: cfg.AllowedOrigins,
	}

	mux.HandleFunc("POST /api/auth/register", s.createAccount)
	mux.HandleFunc("POST /api/auth/login", s.login)
	mux.HandleFunc("GET /api/auth/session", s.authMiddleware(s.session))
	mux.Handle("GET /api/auth/logout", s.authMiddleware(s.logout))
	mux.Handle("/api/account", s.authMiddleware(s.account))
	mux.Handle("POST /api/parties", s.authMiddleware(s.createParty))
	mux.Handle("DELETE /api/parties", s.authMiddleware(s.endParty))
	mux.Handle("GET /api/parties", s.authMiddleware(s.getParty))
	mux.Handle("GET /api/history", s.authMiddleware(s.getHistory))
	mux.Handle("GET /ws", s.authMiddleware(s.serveWs))

	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept"}),
		handlers.AllowCredentials(),
	)(mux)

	h = s.errorHandler(h)

	srv := &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: h,
	}

	s.mux = srv
	return s
}

func (s *WatchPartyApp) Start() error {
	s.log.Printf("starting server on %s\n", s.mux.Addr)
	return s.mux.ListenAndServe()
}

func (s *WatchPartyApp) Shutdown(ctx context.Context) error {
	s.log.Println("shutting down HTTP server...")
	if err := s.mux.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}
