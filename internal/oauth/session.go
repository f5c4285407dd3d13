// ABOUTME: OAuth2 session for Almond entries, backed by golang.org/x/oauth2
// ABOUTME: Refreshes tokens transparently and persists them through the token store

package oauth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/2389/almond-gateway/internal/almond"
	"github.com/2389/almond-gateway/internal/store"
)

// ErrNotAuthorized is returned when the entry has no stored token yet.
// It matches almond.ErrAuth.
var ErrNotAuthorized = fmt.Errorf("%w: entry not authorized", almond.ErrAuth)

// Paths of the Almond OAuth2 endpoints, relative to the host.
const (
	AuthorizePath = "/me/api/oauth2/authorize"
	TokenPath     = "/me/api/oauth2/token"
)

// NewConfig builds the oauth2 configuration for an Almond host.
func NewConfig(host, clientID, clientSecret, redirectURL string) *oauth2.Config {
	host = strings.TrimSuffix(host, "/")
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		Endpoint: oauth2.Endpoint{
			AuthURL:  host + AuthorizePath,
			TokenURL: host + TokenPath,
		},
	}
}

// Session issues authenticated requests on behalf of one integration entry.
type Session struct {
	config  *oauth2.Config
	tokens  store.TokenStore
	entryID string
	base    *http.Client
	logger  *slog.Logger

	mu     sync.Mutex
	source oauth2.TokenSource
}

var _ almond.OAuthSession = (*Session)(nil)

// NewSession creates a session. base is shared and not owned; nil means
// http.DefaultClient. Pass nil logger for default.
func NewSession(config *oauth2.Config, tokens store.TokenStore, entryID string, base *http.Client, logger *slog.Logger) *Session {
	if base == nil {
		base = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		config:  config,
		tokens:  tokens,
		entryID: entryID,
		base:    base,
		logger:  logger.With("component", "oauth", "entry_id", entryID),
	}
}

// Request sends an authenticated request to url.
func (s *Session) Request(ctx context.Context, method, url string, body io.Reader, header http.Header) (*http.Response, error) {
	src, err := s.tokenSource(ctx)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	for k, v := range header {
		req.Header[k] = append([]string(nil), v...)
	}

	client := &http.Client{
		Transport: &oauth2.Transport{Source: src, Base: s.base.Transport},
		Timeout:   s.base.Timeout,
	}
	return client.Do(req)
}

// AuthCodeURL returns the URL the user visits to grant access.
func (s *Session) AuthCodeURL(state string) string {
	return s.config.AuthCodeURL(state)
}

// Exchange trades an authorization code for a token and stores it.
func (s *Session) Exchange(ctx context.Context, code string) error {
	tok, err := s.config.Exchange(s.clientContext(ctx), code)
	if err != nil {
		return fmt.Errorf("exchanging code: %w", err)
	}
	if err := s.save(ctx, tok); err != nil {
		return err
	}

	s.mu.Lock()
	s.source = nil
	s.mu.Unlock()

	s.logger.Info("entry authorized")
	return nil
}

// Authorized reports whether a token is stored for the entry.
func (s *Session) Authorized(ctx context.Context) (bool, error) {
	_, err := s.tokens.GetToken(ctx, s.entryID)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("loading token: %w", err)
	}
	return true, nil
}

// Revoke forgets the stored token. The next request fails with ErrNotAuthorized.
func (s *Session) Revoke(ctx context.Context) error {
	s.mu.Lock()
	s.source = nil
	s.mu.Unlock()

	err := s.tokens.DeleteToken(ctx, s.entryID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("deleting token: %w", err)
	}
	return nil
}

func (s *Session) tokenSource(ctx context.Context) (oauth2.TokenSource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.source != nil {
		return s.source, nil
	}

	stored, err := s.tokens.GetToken(ctx, s.entryID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotAuthorized
	}
	if err != nil {
		return nil, fmt.Errorf("loading token: %w", err)
	}

	tok := &oauth2.Token{
		AccessToken:  stored.AccessToken,
		RefreshToken: stored.RefreshToken,
		TokenType:    stored.TokenType,
		Expiry:       stored.Expiry,
	}
	// Refreshes outlive the request that triggered them.
	refresher := s.config.TokenSource(s.clientContext(context.Background()), tok)
	s.source = &persistingSource{
		session: s,
		src:     oauth2.ReuseTokenSource(tok, refresher),
		last:    tok.AccessToken,
	}
	return s.source, nil
}

// clientContext makes x/oauth2 use the shared base client for token calls.
func (s *Session) clientContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, s.base)
}

func (s *Session) save(ctx context.Context, tok *oauth2.Token) error {
	err := s.tokens.SaveToken(ctx, &store.OAuthToken{
		EntryID:      s.entryID,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
		Expiry:       tok.Expiry,
		UpdatedAt:    time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("saving token: %w", err)
	}
	return nil
}

// persistingSource writes every newly minted token back to the store.
type persistingSource struct {
	session *Session
	src     oauth2.TokenSource

	mu   sync.Mutex
	last string
}

func (p *persistingSource) Token() (*oauth2.Token, error) {
	tok, err := p.src.Token()
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	fresh := tok.AccessToken != p.last
	p.last = tok.AccessToken
	p.mu.Unlock()

	if fresh {
		if err := p.session.save(context.Background(), tok); err != nil {
			p.session.logger.Error("failed to persist refreshed token", "error", err)
		} else {
			p.session.logger.Debug("token refreshed")
		}
	}
	return tok, nil
}
