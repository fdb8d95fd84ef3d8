// ABOUTME: Gateway orchestrator that wires store, sessions, lifecycle, and the HTTP server
// ABOUTME: Manages listeners (TCP or tsnet), startup of stored accounts, and graceful shutdown

package gateway

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"tailscale.com/ipn/ipnstate"
	"tailscale.com/tsnet"

	"github.com/2389/coven-wbot/internal/auth"
	"github.com/2389/coven-wbot/internal/config"
	"github.com/2389/coven-wbot/internal/lifecycle"
	"github.com/2389/coven-wbot/internal/notify"
	"github.com/2389/coven-wbot/internal/session"
	"github.com/2389/coven-wbot/internal/store"
	"github.com/2389/coven-wbot/internal/transport"
	"github.com/2389/coven-wbot/internal/transport/simulator"
	"github.com/2389/coven-wbot/internal/wbot"
)

// Gateway orchestrates the wbot-gateway server components.
type Gateway struct {
	config      *config.Config
	store       store.Store
	dialer      transport.Dialer
	registry    *session.Registry
	manager     *lifecycle.Manager
	service     *wbot.Service
	broadcaster *notify.Broadcaster
	relay       *notify.MatrixRelay
	httpServer  *http.Server
	tsnetServer *tsnet.Server
	logger      *slog.Logger
}

// initStore creates and returns a store based on config and environment.
func initStore(cfg *config.Config) (store.Store, error) {
	dbPath := cfg.Database.Path
	if envPath := os.Getenv("WBOT_DB_PATH"); envPath != "" {
		dbPath = envPath
	}

	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// newDialer builds the configured protocol engine.
func newDialer(cfg *config.Config, logger *slog.Logger) (transport.Dialer, error) {
	switch cfg.Engine.Name {
	case config.EngineSimulator:
		logger.Warn("using the simulator engine; no real network connections are made")
		return simulator.New(cfg.Engine.QRInterval, logger), nil
	default:
		return nil, fmt.Errorf("unknown engine %q", cfg.Engine.Name)
	}
}

// newRelay creates the Matrix notice relay when enabled.
func newRelay(cfg *config.Config, logger *slog.Logger) (*notify.MatrixRelay, error) {
	if !cfg.Matrix.Enabled {
		return nil, nil
	}
	client, err := notify.NewMatrixClient(notify.MatrixConfig{
		Homeserver:  cfg.Matrix.Homeserver,
		UserID:      cfg.Matrix.UserID,
		AccessToken: cfg.Matrix.AccessToken,
		RoomID:      cfg.Matrix.RoomID,
	})
	if err != nil {
		return nil, fmt.Errorf("creating matrix client: %w", err)
	}
	logger.Info("matrix notice relay enabled", "homeserver", cfg.Matrix.Homeserver, "room_id", cfg.Matrix.RoomID)
	return notify.NewMatrixRelay(client, cfg.Matrix.RoomID, logger), nil
}

// New creates a new Gateway instance with the given configuration.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	s, err := initStore(cfg)
	if err != nil {
		return nil, err
	}
	dialer, err := newDialer(cfg, logger)
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	relay, err := newRelay(cfg, logger)
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	gw, err := newGateway(cfg, s, dialer, relay, logger)
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	return gw, nil
}

// newGateway wires the components around an existing store and engine.
func newGateway(cfg *config.Config, s store.Store, dialer transport.Dialer, relay *notify.MatrixRelay, logger *slog.Logger) (*Gateway, error) {
	broadcaster := notify.NewBroadcaster(logger)
	notifiers := notify.Multi{broadcaster}
	if relay != nil {
		notifiers = append(notifiers, relay)
	}

	registry := session.NewRegistry(logger)
	manager := lifecycle.NewManager(lifecycle.ManagerParams{
		Accounts:  s,
		Directory: s,
		Registry:  registry,
		Notifier:  notifiers,
		Config: lifecycle.Config{
			MaxQR:             cfg.Lifecycle.MaxQR,
			ReconnectSchedule: cfg.Lifecycle.ReconnectSchedule,
			RestartDelay:      cfg.Lifecycle.RestartDelay,
		},
		Logger: logger,
	})

	service := wbot.New(wbot.Options{
		Store:    s,
		Dialer:   dialer,
		Manager:  manager,
		Registry: registry,
		Notifier: notifiers,
		Engine:   engineOptions(cfg.Engine),
		Caches: wbot.CacheBounds{
			MessageTTL:  cfg.Caches.Messages.TTL,
			MessageSize: cfg.Caches.Messages.MaxSize,
			RetryTTL:    cfg.Caches.Retries.TTL,
			RetrySize:   cfg.Caches.Retries.MaxSize,
			GroupTTL:    cfg.Caches.Groups.TTL,
			GroupSize:   cfg.Caches.Groups.MaxSize,
			MappingTTL:  cfg.Caches.Mapping.TTL,
			MappingSize: cfg.Caches.Mapping.MaxSize,
		},
		Logger: logger,
	})

	gw := &Gateway{
		config:      cfg,
		store:       s,
		dialer:      dialer,
		registry:    registry,
		manager:     manager,
		service:     service,
		broadcaster: broadcaster,
		relay:       relay,
		logger:      logger.With("component", "gateway"),
	}

	apiMiddleware, err := apiAuth(cfg, logger)
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", gw.handleHealth)
	mux.HandleFunc("GET /health/ready", gw.handleReady)
	gw.registerAPIRoutes(mux, apiMiddleware)

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return gw, nil
}

func engineOptions(e config.EngineConfig) wbot.EngineOptions {
	opts := wbot.EngineOptions{
		Version:             e.Version,
		ConnectTimeout:      e.ConnectTimeout,
		RetryRequestDelay:   e.RetryRequestDelay,
		MarkOnlineOnConnect: e.MarkOnlineOnConnect,
	}
	copy(opts.Browser[:], e.Browser)
	return opts
}

// apiAuth returns the JWT middleware, or the header-scoped fallback when no
// secret is configured.
func apiAuth(cfg *config.Config, logger *slog.Logger) (func(http.Handler) http.Handler, error) {
	if cfg.Auth.JWTSecret == "" {
		logger.Warn("HTTP auth disabled - no jwt_secret configured; requests are scoped by " + auth.CompanyHeader)
		return auth.NoAuthMiddleware(), nil
	}
	verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	if err != nil {
		return nil, fmt.Errorf("creating HTTP JWT verifier: %w", err)
	}
	logger.Info("HTTP auth middleware enabled")
	return auth.HTTPAuthMiddleware(verifier, logger), nil
}

// Service exposes the session service, e.g. for CLI commands.
func (g *Gateway) Service() *wbot.Service { return g.service }

// Handler returns the HTTP handler.
func (g *Gateway) Handler() http.Handler { return g.httpServer.Handler }

// setupTCPListener creates the standard TCP listener for HTTP.
func (g *Gateway) setupTCPListener() (net.Listener, error) {
	g.logger.Info("starting gateway", "http_addr", g.config.Server.HTTPAddr)

	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return nil, fmt.Errorf("listening on HTTP address: %w", err)
	}
	return ln, nil
}

// setupListener creates the listener based on configuration (Tailscale or TCP).
func (g *Gateway) setupListener(ctx context.Context) (net.Listener, error) {
	if g.config.Tailscale.Enabled {
		if g.config.Server.HTTPAddr != "" {
			g.logger.Warn("server.http_addr is ignored when tailscale is enabled", "http_addr", g.config.Server.HTTPAddr)
		}
		return g.setupTailscaleListener(ctx)
	}
	return g.setupTCPListener()
}

// Run starts the HTTP server and every stored account, and blocks until the
// context is canceled. Returns nil on graceful shutdown, or an error if the
// server fails.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := g.setupListener(ctx)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	go func() {
		if err := g.service.StartAll(ctx); err != nil {
			g.logger.Error("starting stored accounts failed", "error", err)
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		g.logger.Error("server error", "error", serverErr)
	}

	shutdownErr := g.gracefulShutdown()
	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// resolveTailscaleStateDir returns the state directory, using default if not configured.
func resolveTailscaleStateDir(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory for tailscale state (set tailscale.state_dir explicitly): %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "wbot-gateway", "tailscale"), nil
}

// resolveTailscaleAuthKey returns the auth key from config or environment.
func resolveTailscaleAuthKey(configured string) (string, error) {
	authKey := configured
	if authKey == "" {
		authKey = os.Getenv("TS_AUTHKEY")
	}
	if authKey == "" {
		return "", errors.New("tailscale auth key required: set auth_key in config or TS_AUTHKEY environment variable")
	}
	return authKey, nil
}

// setupTailscaleListener starts a tsnet node and returns the HTTP listener.
func (g *Gateway) setupTailscaleListener(ctx context.Context) (net.Listener, error) {
	tsCfg := g.config.Tailscale

	stateDir, err := resolveTailscaleStateDir(tsCfg.StateDir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(stateDir, 0700); err != nil {
		return nil, fmt.Errorf("creating tailscale state dir: %w", err)
	}

	authKey, err := resolveTailscaleAuthKey(tsCfg.AuthKey)
	if err != nil {
		return nil, err
	}

	g.tsnetServer = &tsnet.Server{
		Hostname:  tsCfg.Hostname,
		Dir:       stateDir,
		Ephemeral: tsCfg.Ephemeral,
		AuthKey:   authKey,
	}

	g.logger.Info("starting tailscale node", "hostname", tsCfg.Hostname, "state_dir", stateDir, "ephemeral", tsCfg.Ephemeral)
	status, err := g.tsnetServer.Up(ctx)
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("starting tailscale: %w", err)
	}
	g.logTailscaleStatus(tsCfg.Hostname, status)

	return g.createTailscaleHTTPListener(tsCfg)
}

// logTailscaleStatus logs info about the tailscale node status.
func (g *Gateway) logTailscaleStatus(hostname string, status *ipnstate.Status) {
	var tsAddr, dnsName string
	if len(status.TailscaleIPs) > 0 {
		tsAddr = status.TailscaleIPs[0].String()
	} else {
		g.logger.Warn("tailscale node has no IP addresses assigned")
	}
	if status.Self != nil {
		dnsName = status.Self.DNSName
	}
	g.logger.Info("tailscale node ready", "hostname", hostname, "tailscale_ip", tsAddr, "dns_name", dnsName)
}

// createTailscaleHTTPListener creates the appropriate HTTP listener based on config.
func (g *Gateway) createTailscaleHTTPListener(tsCfg config.TailscaleConfig) (net.Listener, error) {
	switch {
	case tsCfg.Funnel:
		g.logger.Info("enabling tailscale funnel (public HTTPS) on :443")
		ln, err := g.tsnetServer.ListenFunnel("tcp", ":443")
		if err != nil {
			_ = g.tsnetServer.Close()
			return nil, fmt.Errorf("listening on tailscale funnel: %w", err)
		}
		return ln, nil
	case tsCfg.HTTPS:
		return g.createTailscaleTLSListener()
	default:
		ln, err := g.tsnetServer.Listen("tcp", ":80")
		if err != nil {
			_ = g.tsnetServer.Close()
			return nil, fmt.Errorf("listening on tailscale HTTP port: %w", err)
		}
		return ln, nil
	}
}

// createTailscaleTLSListener creates a TLS listener using Tailscale's auto-provisioned certs.
func (g *Gateway) createTailscaleTLSListener() (net.Listener, error) {
	g.logger.Info("enabling HTTPS with Tailscale certs on :443")
	ln, err := g.tsnetServer.Listen("tcp", ":443")
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("listening on tailscale HTTPS port: %w", err)
	}
	lc, err := g.tsnetServer.LocalClient()
	if err != nil {
		_ = ln.Close()
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("getting tailscale local client: %w", err)
	}
	return tls.NewListener(ln, &tls.Config{
		GetCertificate: lc.GetCertificate,
		MinVersion:     tls.VersionTLS12,
	}), nil
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown stops the HTTP server, closes every session without logging out,
// and releases resources.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))
	errs = appendCloseError(errs, "session shutdown", g.service.Shutdown(ctx))

	if g.relay != nil {
		g.relay.Close()
	}
	g.broadcaster.Close()

	if g.tsnetServer != nil {
		errs = appendCloseError(errs, "tailscale shutdown", g.tsnetServer.Close())
	}
	errs = appendCloseError(errs, "store close", g.store.Close())

	return errors.Join(errs...)
}
