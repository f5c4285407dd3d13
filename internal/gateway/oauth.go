// ABOUTME: OAuth2 authorization-code endpoints for oauth2 Almond entries
// ABOUTME: Issues single-use state values and stores the exchanged token

package gateway

import (
	"net/http"

	"github.com/google/uuid"
)

// handleAuthorize redirects the user to Almond's consent page.
func (g *Gateway) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		g.sendJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	state := uuid.New().String()
	g.states.Mark(state)

	g.logger.Info("starting almond authorization")
	http.Redirect(w, r, g.session.AuthCodeURL(state), http.StatusFound)
}

// handleCallback completes the flow started by handleAuthorize.
func (g *Gateway) handleCallback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		g.sendJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	q := r.URL.Query()
	if errCode := q.Get("error"); errCode != "" {
		g.logger.Warn("almond authorization denied", "error", errCode, "description", q.Get("error_description"))
		g.sendJSONError(w, http.StatusBadRequest, "authorization denied: "+errCode)
		return
	}

	if !g.states.Take(q.Get("state")) {
		g.sendJSONError(w, http.StatusBadRequest, "invalid or expired state")
		return
	}

	code := q.Get("code")
	if code == "" {
		g.sendJSONError(w, http.StatusBadRequest, "code is required")
		return
	}

	if err := g.session.Exchange(r.Context(), code); err != nil {
		g.logger.Error("almond token exchange failed", "error", err)
		g.sendJSONError(w, http.StatusBadGateway, "token exchange failed")
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("Almond is connected. You can close this window.\n"))
}
