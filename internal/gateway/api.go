// ABOUTME: HTTP API handlers for sending utterances to the conversation agent
// ABOUTME: Provides process and history endpoints and maps agent errors to statuses

package gateway

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/2389/almond-gateway/internal/almond"
	"github.com/2389/almond-gateway/internal/auth"
	"github.com/2389/almond-gateway/internal/conversation"
	"github.com/2389/almond-gateway/internal/store"
)

// maxRequestBody caps the size of a process request body.
const maxRequestBody = 64 << 10

// ProcessRequest is the JSON request body for POST /api/conversation/process.
type ProcessRequest struct {
	Text           string `json:"text"`
	ConversationID string `json:"conversation_id,omitempty"`
	Language       string `json:"language,omitempty"`
	Frontend       string `json:"frontend,omitempty"`
}

// ProcessResponse is the JSON response for POST /api/conversation/process.
type ProcessResponse struct {
	Speech         string `json:"speech"`
	SpeechHTML     string `json:"speech_html,omitempty"`
	ConversationID string `json:"conversation_id"`
}

// HistoryEvent is one entry of GET /api/conversation/history.
type HistoryEvent struct {
	ID        string `json:"id"`
	Direction string `json:"direction"`
	Author    string `json:"author"`
	Type      string `json:"type"`
	Text      string `json:"text"`
	Frontend  string `json:"frontend,omitempty"`
	Timestamp string `json:"timestamp"`
}

// HistoryResponse is the JSON response for GET /api/conversation/history.
type HistoryResponse struct {
	ConversationID string         `json:"conversation_id"`
	Events         []HistoryEvent `json:"events"`
}

// handleProcess handles POST /api/conversation/process.
func (g *Gateway) handleProcess(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		g.sendJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	// The id is held while the request runs so concurrent retries see 409,
	// and released again if it fails so a later retry can go through.
	reqID := r.Header.Get("X-Request-ID")
	if reqID != "" && g.requests.CheckAndMark(reqID) {
		g.sendJSONError(w, http.StatusConflict, "duplicate request")
		return
	}

	var req ProcessRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
		g.releaseRequestID(reqID)
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	frontend := req.Frontend
	if frontend == "" {
		frontend = "http"
	}

	resp, err := g.conversation.Process(r.Context(), &conversation.ProcessRequest{
		Text:           req.Text,
		ConversationID: req.ConversationID,
		Language:       req.Language,
		Sender:         senderFromRequest(r),
		Frontend:       frontend,
	})
	if err != nil {
		g.releaseRequestID(reqID)
		status, msg := g.statusForError(err)
		g.sendJSONError(w, status, msg)
		return
	}

	out := ProcessResponse{
		Speech:         resp.Speech,
		ConversationID: resp.ConversationID,
	}
	if r.URL.Query().Get("format") == "html" {
		out.SpeechHTML = g.renderHTML(resp.Speech)
	}

	g.sendJSON(w, http.StatusOK, out)
}

// releaseRequestID forgets a request id whose request did not complete.
func (g *Gateway) releaseRequestID(reqID string) {
	if reqID != "" {
		g.requests.Take(reqID)
	}
}

// handleHistory handles GET /api/conversation/history?conversation_id=X&limit=N.
func (g *Gateway) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		g.sendJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	convID := r.URL.Query().Get("conversation_id")
	if convID == "" {
		g.sendJSONError(w, http.StatusBadRequest, "conversation_id is required")
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			g.sendJSONError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	events, err := g.conversation.History(r.Context(), convID, limit)
	if err != nil {
		g.logger.Error("failed to load history", "conversation_id", convID, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "failed to load history")
		return
	}

	out := HistoryResponse{
		ConversationID: convID,
		Events:         make([]HistoryEvent, 0, len(events)),
	}
	for _, e := range events {
		out.Events = append(out.Events, toHistoryEvent(e))
	}
	g.sendJSON(w, http.StatusOK, out)
}

func toHistoryEvent(e *store.LedgerEvent) HistoryEvent {
	return HistoryEvent{
		ID:        e.ID,
		Direction: string(e.Direction),
		Author:    e.Author,
		Type:      string(e.Type),
		Text:      e.Text,
		Frontend:  e.Frontend,
		Timestamp: e.Timestamp.UTC().Format(time.RFC3339),
	}
}

// statusForError maps a processing failure to an HTTP status and message.
func (g *Gateway) statusForError(err error) (int, string) {
	switch {
	case errors.Is(err, conversation.ErrEmptyText):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, conversation.ErrNoAgent):
		return http.StatusServiceUnavailable, err.Error()
	case errors.Is(err, almond.ErrAuth):
		return http.StatusUnauthorized, err.Error()
	case errors.Is(err, almond.ErrProtocol):
		return http.StatusBadGateway, err.Error()
	case errors.Is(err, almond.ErrNetwork):
		return http.StatusGatewayTimeout, err.Error()
	default:
		g.logger.Error("conversation failed", "error", err)
		return http.StatusInternalServerError, "internal error"
	}
}

// renderHTML renders speech as Markdown. Lines are kept as hard breaks.
func (g *Gateway) renderHTML(speech string) string {
	md := strings.ReplaceAll(speech, "\n", "  \n")
	var buf bytes.Buffer
	if err := g.markdown.Convert([]byte(md), &buf); err != nil {
		g.logger.Warn("markdown render failed", "error", err)
		return ""
	}
	return buf.String()
}

// senderFromRequest names the author of an utterance.
func senderFromRequest(r *http.Request) string {
	if a := auth.FromContext(r.Context()); a != nil {
		return a.PrincipalID
	}
	return "anonymous"
}

// sendJSON writes v as a JSON response.
func (g *Gateway) sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.logger.Debug("failed to write response", "error", err)
	}
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	g.sendJSON(w, status, map[string]string{"error": message})
}
