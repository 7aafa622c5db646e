// ABOUTME: Gateway orchestrator: HTTP upgrade endpoint, sweep loop, lifecycle
// ABOUTME: Wires registry, router, publisher, audit recorder, and NATS relay

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/2389/frame-gateway/internal/auth"
	"github.com/2389/frame-gateway/internal/bridge"
	"github.com/2389/frame-gateway/internal/config"
	"github.com/2389/frame-gateway/internal/publisher"
	"github.com/2389/frame-gateway/internal/registry"
	"github.com/2389/frame-gateway/internal/router"
	"github.com/2389/frame-gateway/internal/store"
)

// Gateway orchestrates the streaming server components. It owns the HTTP
// server for connection upgrades and health checks, the background sweep,
// and the optional cross-node relay.
type Gateway struct {
	config     *config.Config
	verifier   auth.Verifier
	registry   *registry.Registry
	router     *router.Router
	publisher  *publisher.Publisher
	recorder   store.Recorder
	relay      *bridge.Relay
	httpServer *http.Server
	upgrader   websocket.Upgrader
	logger     *slog.Logger

	// runCtx governs session lifetimes; canceled on shutdown.
	runCtx    context.Context
	cancelRun context.CancelFunc
}

// New creates a gateway from configuration. The relay and audit recorder
// are wired only when configured.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	if err != nil {
		return nil, fmt.Errorf("creating JWT verifier: %w", err)
	}

	reg := registry.New(registry.Options{
		MaxPerIdentity: cfg.Stream.MaxConnectionsPerUser,
		MaxLifetime:    cfg.Stream.MaxLifetime,
		IdleTimeout:    cfg.Stream.IdleTimeout,
	}, logger)

	rt := router.New(logger)

	var recorder store.Recorder = store.NopRecorder{}
	if cfg.Database.Path != "" {
		rec, err := store.NewSQLiteRecorder(cfg.Database.Path, logger)
		if err != nil {
			return nil, fmt.Errorf("opening audit store: %w", err)
		}
		recorder = rec
	}

	var relay *bridge.Relay
	var mirror publisher.Mirror
	if cfg.Relay.Enabled {
		relay, err = bridge.NewRelay(cfg.Relay.URL, cfg.Relay.SubjectPrefix, logger)
		if err != nil {
			return nil, fmt.Errorf("connecting relay: %w", err)
		}
		mirror = relay
	}

	g := &Gateway{
		config:    cfg,
		verifier:  verifier,
		registry:  reg,
		router:    rt,
		publisher: publisher.New(rt, mirror, logger),
		recorder:  recorder,
		relay:     relay,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Origin policy is part of session setup so a disallowed
			// origin gets a close code, not a bare HTTP 403.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: logger.With("component", "gateway"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /stream/{identity}", g.handleStream)
	mux.HandleFunc("GET /stream/{identity}/{$}", g.handleStream)
	mux.HandleFunc("GET /healthz", g.handleHealth)
	mux.HandleFunc("GET /readyz", g.handleReady)

	g.httpServer = &http.Server{
		Addr:    cfg.Server.HTTPAddr,
		Handler: mux,
	}

	return g, nil
}

// Publisher returns the boundary the task executor publishes through.
func (g *Gateway) Publisher() *publisher.Publisher {
	return g.publisher
}

// Registry exposes connection counts for diagnostics.
func (g *Gateway) Registry() *registry.Registry {
	return g.registry
}

// Run starts the HTTP server, the sweep loop, and the relay ingest, then
// blocks until ctx is canceled or a server error occurs.
func (g *Gateway) Run(ctx context.Context) error {
	g.runCtx, g.cancelRun = context.WithCancel(ctx)

	listener, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", g.config.Server.HTTPAddr, err)
	}

	g.logger.Info("gateway listening",
		"addr", listener.Addr().String(),
		"cap", g.config.Stream.MaxConnectionsPerUser,
		"max_lifetime", g.config.Stream.MaxLifetime)

	errCh := make(chan error, 1)
	go func() {
		if err := g.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	go g.sweepLoop(g.runCtx)

	if g.relay != nil {
		if err := g.relay.Ingest(g.runCtx, g.router); err != nil {
			g.cancelRun()
			return fmt.Errorf("starting relay ingest: %w", err)
		}
	}

	serverErr := g.waitForShutdownSignal(ctx, errCh)
	shutdownErr := g.gracefulShutdown()

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// waitForShutdownSignal waits for context cancellation or server error.
func (g *Gateway) waitForShutdownSignal(ctx context.Context, errCh chan error) error {
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
		return nil
	case err := <-errCh:
		g.logger.Error("server error", "error", err)
		return err
	}
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// Uses context.Background() intentionally since the original context is
// already canceled.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// Shutdown stops the server and releases resources. Open sessions see
// the run context cancel and close with going-away.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway", "open_connections", g.registry.Total())

	if g.cancelRun != nil {
		g.cancelRun()
	}

	var errs []error
	if err := g.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("HTTP shutdown: %w", err))
	}
	if g.relay != nil {
		g.relay.Close()
	}
	if err := g.recorder.Close(); err != nil {
		errs = append(errs, fmt.Errorf("audit close: %w", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}

// sweepLoop periodically evicts expired connections.
func (g *Gateway) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(g.config.Stream.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			for _, h := range g.registry.Sweep(now) {
				g.recorder.Record(ctx, &store.AuditEntry{
					Identity:       h.Identity(),
					ConversationID: h.Topic().ConversationID,
					Action:         store.AuditSweepEvicted,
					CloseCode:      CloseGoingAway,
					Detail:         map[string]any{"handle_id": h.ID, "age": now.Sub(h.CreatedAt()).String()},
				})
			}
		}
	}
}

// handleStream upgrades the request and hands the connection to a session.
// All failures after the upgrade are reported as close codes; the HTTP
// layer only sees upgrade-mechanics errors.
func (g *Gateway) handleStream(w http.ResponseWriter, r *http.Request) {
	params := sessionParams{
		ClaimedIdentity: r.PathValue("identity"),
		Credential:      extractCredential(r),
		ConversationID:  r.URL.Query().Get("chat_id"),
		Origin:          r.Header.Get("Origin"),
		RemoteAddr:      remoteAddr(r),
	}
	// One stream per user unless the client scopes to a conversation.
	if params.ConversationID == "" {
		params.ConversationID = params.ClaimedIdentity
	}

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Warn("upgrade failed", "remote", params.RemoteAddr, "error", err)
		return
	}

	sess := newSession(conn, params, g.verifier, g.registry, g.router, g.recorder, g.config.Stream.AllowedOrigins, g.logger)

	ctx := g.runCtx
	if ctx == nil {
		ctx = r.Context()
	}
	sess.run(ctx)
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady reports the number of open streams.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%d connections)", g.registry.Total())
}

// extractCredential pulls the bearer token from the query string or the
// Authorization header. Query wins; browsers cannot set headers on
// WebSocket upgrades.
func extractCredential(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}
	const prefix = "Bearer "
	authHeader := r.Header.Get("Authorization")
	if len(authHeader) > len(prefix) && authHeader[:len(prefix)] == prefix {
		return authHeader[len(prefix):]
	}
	return ""
}

// remoteAddr prefers forwarded headers when behind a proxy.
func remoteAddr(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		for i := range len(fwd) {
			if fwd[i] == ',' {
				return fwd[:i]
			}
		}
		return fwd
	}
	if real := r.Header.Get("X-Real-IP"); real != "" {
		return real
	}
	return r.RemoteAddr
}
