// ABOUTME: Contract tests for the gateway HTTP surface to detect breaking API changes.
// ABOUTME: Validates that every public route is mounted for each Almond entry type.

package contract

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/almond-gateway/internal/config"
	"github.com/2389/almond-gateway/internal/gateway"
)

type route struct {
	method string
	path   string
}

// expectedRoutes defines the contract for the HTTP API surface.
// Frontends (CLI, websocket clients, the Matrix bridge) depend on these paths.
var expectedRoutes = []route{
	{http.MethodGet, "/health"},
	{http.MethodGet, "/health/ready"},
	{http.MethodPost, "/api/conversation/process"},
	{http.MethodGet, "/api/conversation/history?conversation_id=c1"},
	{http.MethodGet, "/api/conversation/ws"},
}

// oauthRoutes exist only for oauth2 entries.
var oauthRoutes = []route{
	{http.MethodGet, config.AuthorizePath},
	{http.MethodGet, config.CallbackPath},
}

func newGateway(t *testing.T, cfg *config.Config) http.Handler {
	t.Helper()
	gw, err := gateway.New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = gw.Shutdown(context.Background()) })
	return gw.Handler()
}

func baseConfig() *config.Config {
	return &config.Config{
		Server:   config.ServerConfig{HTTPAddr: "127.0.0.1:0", BaseURL: "http://gateway.test"},
		Database: config.DatabaseConfig{Path: ":memory:"},
		Dedupe:   config.DedupeConfig{TTL: time.Minute, MaxSize: 100},
	}
}

func status(h http.Handler, r route) int {
	var body io.Reader
	if r.method == http.MethodPost {
		body = strings.NewReader(`{}`)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(r.method, r.path, body))
	return rec.Code
}

// TestRouteSurface verifies each route answers with something other than 404.
func TestRouteSurface(t *testing.T) {
	t.Run("local", func(t *testing.T) {
		cfg := baseConfig()
		cfg.Almond = config.AlmondConfig{Type: config.TypeLocal, Host: "http://127.0.0.1:1", EntryID: config.DefaultEntryID}
		h := newGateway(t, cfg)

		for _, r := range expectedRoutes {
			assert.NotEqual(t, http.StatusNotFound, status(h, r), "%s %s should be mounted", r.method, r.path)
		}
		for _, r := range oauthRoutes {
			assert.Equal(t, http.StatusNotFound, status(h, r), "%s should not exist for local entries", r.path)
		}
	})

	t.Run("oauth2", func(t *testing.T) {
		cfg := baseConfig()
		cfg.Almond = config.AlmondConfig{
			Type:         config.TypeOAuth2,
			Host:         "http://127.0.0.1:1",
			ClientID:     "id",
			ClientSecret: "secret",
			RedirectURL:  "http://gateway.test" + config.CallbackPath,
			EntryID:      config.DefaultEntryID,
		}
		h := newGateway(t, cfg)

		for _, r := range append(append([]route{}, expectedRoutes...), oauthRoutes...) {
			assert.NotEqual(t, http.StatusNotFound, status(h, r), "%s %s should be mounted", r.method, r.path)
		}
	})
}
