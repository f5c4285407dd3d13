// ABOUTME: Tests for the OAuth2 session against an httptest Almond server
// ABOUTME: Covers code exchange, bearer injection, transparent refresh and persistence

package oauth

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/2389/almond-gateway/internal/almond"
	"github.com/2389/almond-gateway/internal/store"
)

const testEntry = "almond-entry"

// fakeAlmond serves the token endpoint and an API endpoint that echoes the bearer.
type fakeAlmond struct {
	server       *httptest.Server
	tokenCalls   atomic.Int32
	failRefresh  bool
	issuedAccess string
}

func newFakeAlmond(t *testing.T) *fakeAlmond {
	f := &fakeAlmond{issuedAccess: "access-new"}
	mux := http.NewServeMux()
	mux.HandleFunc(TokenPath, func(w http.ResponseWriter, r *http.Request) {
		f.tokenCalls.Add(1)
		assert.NoError(t, r.ParseForm())
		if f.failRefresh && r.PostForm.Get("grant_type") == "refresh_token" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"` + f.issuedAccess + `","token_type":"Bearer","refresh_token":"refresh-new","expires_in":3600}`))
	})
	mux.HandleFunc("/api/echo", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("X-Auth", r.Header.Get("Authorization"))
		w.Header().Set("X-Custom", r.Header.Get("X-Custom"))
		_, _ = w.Write(body)
	})
	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}

func newTestSession(t *testing.T, f *fakeAlmond) (*Session, *store.SQLiteStore) {
	s, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	cfg := NewConfig(f.server.URL, "client", "secret", "http://gateway/auth/almond/callback")
	return NewSession(cfg, s, testEntry, f.server.Client(), nil), s
}

func TestNewConfig_Endpoints(t *testing.T) {
	cfg := NewConfig("https://almond.stanford.edu/", "id", "secret", "http://cb")

	assert.Equal(t, "https://almond.stanford.edu/me/api/oauth2/authorize", cfg.Endpoint.AuthURL)
	assert.Equal(t, "https://almond.stanford.edu/me/api/oauth2/token", cfg.Endpoint.TokenURL)
	assert.Equal(t, "id", cfg.ClientID)
	assert.Equal(t, "http://cb", cfg.RedirectURL)
}

func TestSession_AuthCodeURL(t *testing.T) {
	f := newFakeAlmond(t)
	sess, _ := newTestSession(t, f)

	raw := sess.AuthCodeURL("state-123")
	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, AuthorizePath, u.Path)
	assert.Equal(t, "state-123", u.Query().Get("state"))
	assert.Equal(t, "client", u.Query().Get("client_id"))
	assert.Equal(t, "code", u.Query().Get("response_type"))
}

func TestSession_Request_NotAuthorized(t *testing.T) {
	f := newFakeAlmond(t)
	sess, _ := newTestSession(t, f)

	_, err := sess.Request(context.Background(), http.MethodPost, f.server.URL+"/api/echo", nil, nil)
	assert.ErrorIs(t, err, ErrNotAuthorized)
	assert.ErrorIs(t, err, almond.ErrAuth)

	ok, err := sess.Authorized(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSession_ExchangeThenRequest(t *testing.T) {
	f := newFakeAlmond(t)
	sess, s := newTestSession(t, f)
	ctx := context.Background()

	require.NoError(t, sess.Exchange(ctx, "the-code"))

	stored, err := s.GetToken(ctx, testEntry)
	require.NoError(t, err)
	assert.Equal(t, "access-new", stored.AccessToken)
	assert.Equal(t, "refresh-new", stored.RefreshToken)

	header := http.Header{}
	header.Set("X-Custom", "kept")
	resp, err := sess.Request(ctx, http.MethodPost, f.server.URL+"/api/echo", strings.NewReader("hello"), header)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "hello", string(body))
	assert.Equal(t, "Bearer access-new", resp.Header.Get("X-Auth"))
	assert.Equal(t, "kept", resp.Header.Get("X-Custom"))
	assert.Equal(t, int32(1), f.tokenCalls.Load(), "valid token should not be refreshed")
}

func TestSession_RefreshesExpiredTokenAndPersists(t *testing.T) {
	f := newFakeAlmond(t)
	f.issuedAccess = "access-refreshed"
	sess, s := newTestSession(t, f)
	ctx := context.Background()

	require.NoError(t, s.SaveToken(ctx, &store.OAuthToken{
		EntryID:      testEntry,
		AccessToken:  "access-old",
		RefreshToken: "refresh-old",
		TokenType:    "Bearer",
		Expiry:       time.Now().Add(-time.Hour),
	}))

	resp, err := sess.Request(ctx, http.MethodPost, f.server.URL+"/api/echo", nil, nil)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, "Bearer access-refreshed", resp.Header.Get("X-Auth"))
	assert.Equal(t, int32(1), f.tokenCalls.Load())

	stored, err := s.GetToken(ctx, testEntry)
	require.NoError(t, err)
	assert.Equal(t, "access-refreshed", stored.AccessToken)
	assert.Equal(t, "refresh-new", stored.RefreshToken)
}

func TestSession_RefreshFailureIsAuthErrorThroughTransport(t *testing.T) {
	f := newFakeAlmond(t)
	f.failRefresh = true
	sess, s := newTestSession(t, f)
	ctx := context.Background()

	require.NoError(t, s.SaveToken(ctx, &store.OAuthToken{
		EntryID:      testEntry,
		AccessToken:  "access-old",
		RefreshToken: "refresh-old",
		Expiry:       time.Now().Add(-time.Hour),
	}))

	_, err := sess.Request(ctx, http.MethodPost, f.server.URL+"/api/echo", nil, nil)
	require.Error(t, err)
	var retrieveErr *oauth2.RetrieveError
	assert.True(t, errors.As(err, &retrieveErr))

	transport := almond.NewOAuthTransport(f.server.URL, sess)
	_, err = transport.Post(ctx, "/api/echo", nil, nil)
	assert.ErrorIs(t, err, almond.ErrAuth)
}

func TestSession_Revoke(t *testing.T) {
	f := newFakeAlmond(t)
	sess, _ := newTestSession(t, f)
	ctx := context.Background()

	require.NoError(t, sess.Exchange(ctx, "code"))
	ok, err := sess.Authorized(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, sess.Revoke(ctx))
	_, err = sess.Request(ctx, http.MethodGet, f.server.URL+"/api/echo", nil, nil)
	assert.ErrorIs(t, err, ErrNotAuthorized)

	// Revoking twice is fine
	require.NoError(t, sess.Revoke(ctx))
}
