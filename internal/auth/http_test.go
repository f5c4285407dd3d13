// ABOUTME: Tests for HTTP authentication middleware
// ABOUTME: Covers token extraction, validation, principal lookup and status checks

package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/2389/almond-gateway/internal/store"
)

type mockPrincipalStore struct {
	principal *store.Principal
}

func (m *mockPrincipalStore) GetPrincipal(ctx context.Context, id string) (*store.Principal, error) {
	if m.principal == nil || m.principal.ID != id {
		return nil, store.ErrNotFound
	}
	return m.principal, nil
}

func serve(t *testing.T, mw func(http.Handler) http.Handler, authHeader string) (*httptest.ResponseRecorder, *AuthContext) {
	t.Helper()
	var got *AuthContext
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = FromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodPost, "/api/conversation/process", nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	rec := httptest.NewRecorder()
	mw(handler).ServeHTTP(rec, req)
	return rec, got
}

func TestHTTPAuthMiddleware_ValidToken(t *testing.T) {
	verifier := newTestVerifier(t)
	token, _ := verifier.Generate("user-123", time.Hour)
	principals := &mockPrincipalStore{principal: &store.Principal{
		ID:          "user-123",
		DisplayName: "Kitchen Speaker",
		Status:      store.PrincipalStatusApproved,
	}}

	rec, authCtx := serve(t, HTTPAuthMiddleware(principals, verifier, nil), "Bearer "+token)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if authCtx == nil {
		t.Fatal("expected AuthContext in context")
	}
	if authCtx.PrincipalID != "user-123" || authCtx.DisplayName != "Kitchen Speaker" {
		t.Errorf("unexpected AuthContext %+v", authCtx)
	}
}

func TestHTTPAuthMiddleware_Rejections(t *testing.T) {
	verifier := newTestVerifier(t)
	valid, _ := verifier.Generate("user-123", time.Hour)
	unknown, _ := verifier.Generate("ghost", time.Hour)

	approved := &store.Principal{ID: "user-123", Status: store.PrincipalStatusApproved}
	revoked := &store.Principal{ID: "user-123", Status: store.PrincipalStatusRevoked}
	weird := &store.Principal{ID: "user-123", Status: "paused"}

	tests := []struct {
		name       string
		header     string
		principal  *store.Principal
		wantStatus int
		wantError  string
	}{
		{"missing header", "", approved, http.StatusUnauthorized, "missing authorization header"},
		{"basic auth", "Basic dXNlcjpwYXNz", approved, http.StatusUnauthorized, "invalid authorization header format"},
		{"empty bearer", "Bearer ", approved, http.StatusUnauthorized, "empty token"},
		{"bad token", "Bearer nope", approved, http.StatusUnauthorized, "invalid token"},
		{"unknown principal", "Bearer " + unknown, approved, http.StatusUnauthorized, "principal not found"},
		{"revoked principal", "Bearer " + valid, revoked, http.StatusForbidden, "principal has been revoked"},
		{"unknown status", "Bearer " + valid, weird, http.StatusInternalServerError, "unknown principal status"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			principals := &mockPrincipalStore{principal: tt.principal}
			rec, authCtx := serve(t, HTTPAuthMiddleware(principals, verifier, nil), tt.header)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if authCtx != nil {
				t.Error("handler should not have run")
			}
			var body map[string]string
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("error body is not JSON: %v", err)
			}
			if body["error"] != tt.wantError {
				t.Errorf("error = %q, want %q", body["error"], tt.wantError)
			}
			if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("Content-Type = %q", ct)
			}
		})
	}
}

func TestOptionalAuthMiddleware(t *testing.T) {
	verifier := newTestVerifier(t)
	token, _ := verifier.Generate("user-123", time.Hour)
	principals := &mockPrincipalStore{principal: &store.Principal{
		ID:     "user-123",
		Status: store.PrincipalStatusApproved,
	}}
	mw := OptionalAuthMiddleware(principals, verifier)

	rec, authCtx := serve(t, mw, "")
	if rec.Code != http.StatusOK || authCtx != nil {
		t.Errorf("anonymous request: status %d, auth %+v", rec.Code, authCtx)
	}

	rec, authCtx = serve(t, mw, "Bearer garbage")
	if rec.Code != http.StatusOK || authCtx != nil {
		t.Errorf("bad token request: status %d, auth %+v", rec.Code, authCtx)
	}

	rec, authCtx = serve(t, mw, "Bearer "+token)
	if rec.Code != http.StatusOK || authCtx == nil || authCtx.PrincipalID != "user-123" {
		t.Errorf("valid token request: status %d, auth %+v", rec.Code, authCtx)
	}
}

func TestExtractBearerToken(t *testing.T) {
	tests := []struct {
		header    string
		wantToken string
		wantMsg   string
	}{
		{"", "", "missing authorization header"},
		{"Token abc", "", "invalid authorization header format"},
		{"Bearer ", "", "empty token"},
		{"Bearer abc", "abc", ""},
		{"Bearer  abc ", "abc", ""},
	}

	for _, tt := range tests {
		token, msg := extractBearerToken(tt.header)
		if token != tt.wantToken || msg != tt.wantMsg {
			t.Errorf("extractBearerToken(%q) = (%q, %q), want (%q, %q)", tt.header, token, msg, tt.wantToken, tt.wantMsg)
		}
	}
}
