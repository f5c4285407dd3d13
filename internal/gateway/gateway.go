// ABOUTME: Gateway orchestrator that wires the Almond entry to the HTTP surface
// ABOUTME: Manages store, agent registration, listeners and graceful shutdown

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

	"github.com/yuin/goldmark"
	"tailscale.com/ipn/ipnstate"
	"tailscale.com/tsnet"

	"github.com/2389/almond-gateway/internal/agent"
	"github.com/2389/almond-gateway/internal/almond"
	"github.com/2389/almond-gateway/internal/auth"
	"github.com/2389/almond-gateway/internal/config"
	"github.com/2389/almond-gateway/internal/conversation"
	"github.com/2389/almond-gateway/internal/dedupe"
	"github.com/2389/almond-gateway/internal/oauth"
	"github.com/2389/almond-gateway/internal/store"
)

// oauthStateTTL bounds how long a user may take to approve access.
const oauthStateTTL = 10 * time.Minute

// Gateway hosts the Almond conversation agent behind an HTTP API.
type Gateway struct {
	config       *config.Config
	store        store.Store
	registry     *conversation.Registry
	conversation *conversation.Service
	broadcaster  *conversation.EventBroadcaster
	httpClient   *http.Client
	httpServer   *http.Server
	tsnetServer  *tsnet.Server
	markdown     goldmark.Markdown
	logger       *slog.Logger

	// session is set for oauth2 entries only
	session *oauth.Session

	// requests remembers X-Request-ID values to reject replays
	requests *dedupe.Cache

	// states holds OAuth state values until the callback consumes them
	states *dedupe.Cache
}

// initStore creates and returns a store based on config and environment.
func initStore(cfg *config.Config) (*store.SQLiteStore, error) {
	dbPath := cfg.Database.Path
	if envPath := os.Getenv("ALMOND_DB_PATH"); envPath != "" {
		dbPath = envPath
	}

	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// setupEntry builds the transport for the configured entry type. The session
// is nil for local entries.
func setupEntry(cfg *config.Config, tokens store.TokenStore, httpClient *http.Client, logger *slog.Logger) (almond.Transport, *oauth.Session, error) {
	switch cfg.Almond.Type {
	case config.TypeLocal:
		return almond.NewLocalTransport(cfg.Almond.Host, httpClient), nil, nil
	case config.TypeOAuth2:
		oauthCfg := oauth.NewConfig(cfg.Almond.Host, cfg.Almond.ClientID, cfg.Almond.ClientSecret, cfg.Almond.RedirectURL)
		session := oauth.NewSession(oauthCfg, tokens, cfg.Almond.EntryID, httpClient, logger)
		return almond.NewOAuthTransport(cfg.Almond.Host, session), session, nil
	default:
		return nil, nil, fmt.Errorf("unsupported almond entry type %q", cfg.Almond.Type)
	}
}

// registerHTTPAPIRoutes registers API routes on the mux with or without auth middleware.
func (g *Gateway) registerHTTPAPIRoutes(mux *http.ServeMux, cfg *config.Config, principals auth.PrincipalStore, logger *slog.Logger) error {
	routes := map[string]http.HandlerFunc{
		"/api/conversation/process": g.handleProcess,
		"/api/conversation/history": g.handleHistory,
		"/api/conversation/ws":      g.handleWebSocket,
	}

	if cfg.Auth.JWTSecret == "" {
		for path, h := range routes {
			mux.HandleFunc(path, h)
		}
		logger.Warn("HTTP auth disabled - no jwt_secret configured")
		return nil
	}

	verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	if err != nil {
		return fmt.Errorf("creating HTTP JWT verifier: %w", err)
	}
	authMiddleware := auth.HTTPAuthMiddleware(principals, verifier, logger)
	for path, h := range routes {
		mux.Handle(path, authMiddleware(h))
	}
	logger.Info("HTTP auth middleware enabled")
	return nil
}

// New creates a Gateway, sets up the configured Almond entry and registers its agent.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	sqlStore, err := initStore(cfg)
	if err != nil {
		return nil, err
	}

	httpClient := &http.Client{Timeout: cfg.HTTPClient.Timeout}
	transport, session, err := setupEntry(cfg, sqlStore, httpClient, logger)
	if err != nil {
		_ = sqlStore.Close()
		return nil, err
	}

	registry := conversation.NewRegistry()
	registry.SetAgent(agent.NewAlmondAgent(almond.NewClient(transport), logger))

	broadcaster := conversation.NewEventBroadcaster(logger)
	gw := &Gateway{
		config:       cfg,
		store:        sqlStore,
		registry:     registry,
		conversation: conversation.New(sqlStore, registry, broadcaster, logger),
		broadcaster:  broadcaster,
		httpClient:   httpClient,
		markdown:     goldmark.New(),
		session:      session,
		requests:     dedupe.New(cfg.Dedupe.TTL, cfg.Dedupe.MaxSize),
		states:       dedupe.New(oauthStateTTL, 1000),
		logger:       logger.With("component", "gateway"),
	}

	mux := http.NewServeMux()

	// Health endpoints - no auth required
	mux.HandleFunc("/health", gw.handleHealth)
	mux.HandleFunc("/health/ready", gw.handleReady)

	// API endpoints - auth required if JWT secret is configured
	if err := gw.registerHTTPAPIRoutes(mux, cfg, sqlStore, logger); err != nil {
		gw.closeComponents()
		return nil, err
	}

	if session != nil {
		mux.HandleFunc(config.AuthorizePath, gw.handleAuthorize)
		mux.HandleFunc(config.CallbackPath, gw.handleCallback)
	}

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	gw.logger.Info("almond entry set up",
		"type", cfg.Almond.Type,
		"host", transport.Host(),
		"entry_id", cfg.Almond.EntryID)

	return gw, nil
}

// Handler returns the gateway's HTTP handler.
func (g *Gateway) Handler() http.Handler {
	return g.httpServer.Handler
}

// Registry returns the registration point of the conversation agent.
func (g *Gateway) Registry() *conversation.Registry {
	return g.registry
}

// setupTCPListener creates a standard TCP listener for HTTP.
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
			g.logger.Warn("server.http_addr is ignored when tailscale is enabled",
				"http_addr", g.config.Server.HTTPAddr)
		}
		return g.setupTailscaleListener(ctx)
	}
	return g.setupTCPListener()
}

// Run starts the HTTP server and blocks until the context is canceled.
// Returns nil on graceful shutdown, or an error if the server fails.
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
// The run context is already canceled at this point.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
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
	return filepath.Join(homeDir, ".local", "share", "almond-gateway", "tailscale"), nil
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

// setupTailscaleListener joins the tailnet and returns the HTTP listener.
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

	ln, err := g.createTailscaleHTTPListener(tsCfg)
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, err
	}
	return ln, nil
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

// createTailscaleHTTPListener picks a plain, TLS or Funnel listener.
func (g *Gateway) createTailscaleHTTPListener(tsCfg config.TailscaleConfig) (net.Listener, error) {
	switch {
	case tsCfg.Funnel:
		g.logger.Info("enabling tailscale funnel (public HTTPS) on :443")
		ln, err := g.tsnetServer.ListenFunnel("tcp", ":443")
		if err != nil {
			return nil, fmt.Errorf("listening on tailscale funnel: %w", err)
		}
		return ln, nil
	case tsCfg.HTTPS:
		g.logger.Info("enabling HTTPS with Tailscale certs on :443")
		ln, err := g.tsnetServer.Listen("tcp", ":443")
		if err != nil {
			return nil, fmt.Errorf("listening on tailscale HTTPS port: %w", err)
		}
		lc, err := g.tsnetServer.LocalClient()
		if err != nil {
			_ = ln.Close()
			return nil, fmt.Errorf("getting tailscale local client: %w", err)
		}
		return tls.NewListener(ln, &tls.Config{
			GetCertificate: lc.GetCertificate,
			MinVersion:     tls.VersionTLS12,
		}), nil
	default:
		ln, err := g.tsnetServer.Listen("tcp", ":80")
		if err != nil {
			return nil, fmt.Errorf("listening on tailscale HTTP port: %w", err)
		}
		return ln, nil
	}
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// closeComponents releases the in-memory helpers.
func (g *Gateway) closeComponents() {
	g.requests.Close()
	g.states.Close()
	g.broadcaster.Close()
	_ = g.store.Close()
}

// Shutdown unloads the agent and stops all gateway servers.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	// Unload first so late requests fail with ErrNoAgent
	g.registry.SetAgent(nil)

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))

	if g.tsnetServer != nil {
		errs = appendCloseError(errs, "tailscale shutdown", g.tsnetServer.Close())
	}

	g.requests.Close()
	g.states.Close()
	g.broadcaster.Close()
	errs = appendCloseError(errs, "store close", g.store.Close())

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK while a conversation agent is registered.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	if g.registry.Agent() == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("no conversation agent registered"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%s)", g.config.Almond.Type)
}
