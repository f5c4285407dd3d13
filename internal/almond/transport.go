// ABOUTME: Transports that deliver POST requests to an Almond host
// ABOUTME: LocalTransport talks to an unauthenticated local server, OAuthTransport goes through an OAuth2 session

package almond

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"golang.org/x/oauth2"
)

// LocalOrigin is the origin header a local Almond server expects from trusted callers.
const LocalOrigin = "http://127.0.0.1:3000"

// Transport sends a POST to a path relative to the Almond host.
// Implementations return *Error with KindNetwork or KindAuth on failure.
type Transport interface {
	Host() string
	Post(ctx context.Context, path string, body io.Reader, header http.Header) (*http.Response, error)
}

// OAuthSession is an externally owned session that attaches bearer credentials
// and refreshes them when needed.
type OAuthSession interface {
	Request(ctx context.Context, method, url string, body io.Reader, header http.Header) (*http.Response, error)
}

// LocalTransport posts to a local Almond server without credentials.
type LocalTransport struct {
	host   string
	client *http.Client
}

// NewLocalTransport creates a transport for host. The client is shared, not owned;
// nil means http.DefaultClient.
func NewLocalTransport(host string, client *http.Client) *LocalTransport {
	if client == nil {
		client = http.DefaultClient
	}
	return &LocalTransport{
		host:   strings.TrimSuffix(host, "/"),
		client: client,
	}
}

// Host returns the base URL of the Almond server.
func (t *LocalTransport) Host() string { return t.host }

// Post sends the request with the local origin header. An Origin header supplied
// by the caller is left untouched.
func (t *LocalTransport) Post(ctx context.Context, path string, body io.Reader, header http.Header) (*http.Response, error) {
	op := "post " + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.host+path, body)
	if err != nil {
		return nil, networkError(op, err)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if req.Header.Get("Origin") == "" {
		req.Header.Set("Origin", LocalOrigin)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, networkError(op, err)
	}
	return resp, nil
}

// OAuthTransport posts through an OAuth2 session. It holds no token state.
type OAuthTransport struct {
	host    string
	session OAuthSession
}

// NewOAuthTransport creates a transport that sends requests for host through session.
func NewOAuthTransport(host string, session OAuthSession) *OAuthTransport {
	return &OAuthTransport{
		host:    strings.TrimSuffix(host, "/"),
		session: session,
	}
}

// Host returns the base URL of the Almond server.
func (t *OAuthTransport) Host() string { return t.host }

// Post delegates to the session. Token retrieval failures surface as KindAuth.
func (t *OAuthTransport) Post(ctx context.Context, path string, body io.Reader, header http.Header) (*http.Response, error) {
	op := "post " + path
	resp, err := t.session.Request(ctx, http.MethodPost, t.host+path, body, header)
	if err == nil {
		return resp, nil
	}

	var retrieveErr *oauth2.RetrieveError
	switch {
	case errors.As(err, &retrieveErr):
		status := 0
		if retrieveErr.Response != nil {
			status = retrieveErr.Response.StatusCode
		}
		return nil, authError(op, status, err)
	case errors.Is(err, ErrAuth):
		return nil, authError(op, 0, err)
	default:
		return nil, networkError(op, err)
	}
}
