package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"rollcall/internal/api"
	"rollcall/internal/auth"
	"rollcall/internal/config"
	"rollcall/internal/join"
	"rollcall/internal/router"
	"rollcall/internal/session"
	"rollcall/internal/store"
	"rollcall/internal/websocket"
	"rollcall/pkg/database"
)

// Application wires the components together and owns their lifecycles.
// Initialization follows dependency order:
// Store → Registry → Join workflow → Session manager → Router → HTTP
type Application struct {
	config     *config.Config
	store      *store.Manager
	registry   *websocket.Registry
	joins      *join.Workflow
	sessions   *session.Manager
	router     *router.Router
	apiServer  *api.Server
	httpServer *http.Server
}

// NewApplication builds an application from configuration. All components
// are constructed here; nothing starts until Start is called.
func NewApplication(cfg *config.Config) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	dbConfig := &database.Config{
		DatabasePath:    cfg.Database.Path,
		MaxConnections:  10,
		ConnMaxLifetime: cfg.Database.Timeout,
		ConnMaxIdleTime: cfg.Database.Timeout / 3,
	}

	storeManager, err := store.NewManager(dbConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}

	registry := websocket.NewRegistry()

	// The registry delivers join notifications; the workflow's pending
	// queue is cleared by the session manager on finalize.
	joinWorkflow := join.NewWorkflow(storeManager, registry)
	sessionManager := session.NewManager(storeManager, joinWorkflow)
	joinWorkflow.BindSessions(sessionManager)

	messageRouter := router.NewRouter(registry, sessionManager, joinWorkflow, storeManager, cfg.Router.RateLimitPerMinute)

	verifier := auth.NewVerifier(cfg.Auth.JWTSecret)

	apiServer := api.NewServer(sessionManager, storeManager, registry, verifier)
	wsHandler := websocket.NewHandler(registry, verifier, sessionManager, messageRouter, cfg.WebSocket.PingInterval, cfg.WebSocket.ReadTimeout)

	mux := http.NewServeMux()
	mux.Handle("/api/", apiServer)
	mux.Handle("/health", apiServer)
	mux.HandleFunc("/ws", wsHandler.HandleWebSocket)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler:      mux,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	return &Application{
		config:     cfg,
		store:      storeManager,
		registry:   registry,
		joins:      joinWorkflow,
		sessions:   sessionManager,
		router:     messageRouter,
		apiServer:  apiServer,
		httpServer: httpServer,
	}, nil
}

// Start begins serving. It returns once the HTTP listener is up, or with
// the startup error if the listener failed immediately.
func (app *Application) Start(ctx context.Context) error {
	log.Printf("Starting rollcall application on %s", app.httpServer.Addr)

	serverErrCh := make(chan error, 1)
	go func() {
		if err := app.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	select {
	case err := <-serverErrCh:
		return err
	case <-time.After(100 * time.Millisecond):
		log.Printf("Rollcall application started successfully")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop shuts down in reverse dependency order: HTTP first so no new work
// arrives, then the store so queued writes drain.
func (app *Application) Stop(ctx context.Context) error {
	log.Printf("Shutting down rollcall application")

	if err := app.httpServer.Shutdown(ctx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	if err := app.store.Close(); err != nil {
		log.Printf("Store shutdown error: %v", err)
	}

	log.Printf("Rollcall application shutdown complete")
	return nil
}

// GetAddr returns the server address for external connections.
func (app *Application) GetAddr() string {
	return app.httpServer.Addr
}
