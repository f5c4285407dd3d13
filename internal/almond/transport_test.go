// ABOUTME: Tests for the local and OAuth transports
// ABOUTME: Verifies origin header injection, URL building and error classification

package almond

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func TestLocalTransport_InjectsOrigin(t *testing.T) {
	var gotOrigin, gotPath, gotMethod string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotOrigin = r.Header.Get("Origin")
		gotPath = r.URL.Path
		gotMethod = r.Method
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	tr := NewLocalTransport(srv.URL+"/", srv.Client())
	resp, err := tr.Post(context.Background(), "/me/api/converse", strings.NewReader("{}"), nil)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, LocalOrigin, gotOrigin)
	assert.Equal(t, "/me/api/converse", gotPath)
	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, srv.URL, tr.Host())
}

func TestLocalTransport_CallerOriginWins(t *testing.T) {
	var gotOrigin, gotType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotOrigin = r.Header.Get("Origin")
		gotType = r.Header.Get("Content-Type")
	}))
	defer srv.Close()

	header := http.Header{}
	header.Set("origin", "http://example.test")
	header.Set("Content-Type", "application/json")

	tr := NewLocalTransport(srv.URL, srv.Client())
	resp, err := tr.Post(context.Background(), "/x", nil, header)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, "http://example.test", gotOrigin)
	assert.Equal(t, "application/json", gotType)
}

func TestLocalTransport_NetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	tr := NewLocalTransport(url, nil)
	_, err := tr.Post(context.Background(), "/x", nil, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNetwork)
	assert.NotErrorIs(t, err, ErrAuth)
}

// fakeSession records the request it was asked to make.
type fakeSession struct {
	method string
	url    string
	header http.Header
	resp   *http.Response
	err    error
}

func (f *fakeSession) Request(ctx context.Context, method, url string, body io.Reader, header http.Header) (*http.Response, error) {
	f.method = method
	f.url = url
	f.header = header
	return f.resp, f.err
}

func TestOAuthTransport_DelegatesToSession(t *testing.T) {
	resp := &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(strings.NewReader(""))}
	session := &fakeSession{resp: resp}

	header := http.Header{}
	header.Set("Content-Type", "application/json")

	tr := NewOAuthTransport("https://almond.example/", session)
	got, err := tr.Post(context.Background(), "/me/api/converse", nil, header)
	require.NoError(t, err)

	assert.Same(t, resp, got)
	assert.Equal(t, http.MethodPost, session.method)
	assert.Equal(t, "https://almond.example/me/api/converse", session.url)
	assert.Equal(t, "application/json", session.header.Get("Content-Type"))
	assert.Empty(t, session.header.Get("Origin"), "oauth transport must not add the local origin")
}

func TestOAuthTransport_RetrieveErrorIsAuth(t *testing.T) {
	session := &fakeSession{err: &oauth2.RetrieveError{
		Response: &http.Response{StatusCode: http.StatusBadRequest},
		Body:     []byte(`{"error":"invalid_grant"}`),
	}}

	tr := NewOAuthTransport("https://almond.example", session)
	_, err := tr.Post(context.Background(), "/me/api/converse", nil, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAuth)

	var aerr *Error
	require.True(t, errors.As(err, &aerr))
	assert.Equal(t, http.StatusBadRequest, aerr.Status)
}

func TestOAuthTransport_SessionAuthSentinel(t *testing.T) {
	session := &fakeSession{err: errors.Join(errors.New("no token stored"), ErrAuth)}

	tr := NewOAuthTransport("https://almond.example", session)
	_, err := tr.Post(context.Background(), "/x", nil, nil)
	assert.ErrorIs(t, err, ErrAuth)
}

func TestOAuthTransport_OtherErrorsAreNetwork(t *testing.T) {
	session := &fakeSession{err: errors.New("connection reset")}

	tr := NewOAuthTransport("https://almond.example", session)
	_, err := tr.Post(context.Background(), "/x", nil, nil)
	assert.ErrorIs(t, err, ErrNetwork)
}
