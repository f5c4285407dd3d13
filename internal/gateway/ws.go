// ABOUTME: WebSocket endpoint for conversational clients that keep a connection open
// ABOUTME: Each text frame is one utterance; replies and followed events are pushed back

package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/2389/almond-gateway/internal/conversation"
	"github.com/2389/almond-gateway/internal/store"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsMaxFrame     = 64 << 10
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Clients authenticate with a bearer token, not cookies.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsRequest is a frame sent by the client.
type wsRequest struct {
	Text           string `json:"text"`
	ConversationID string `json:"conversation_id,omitempty"`
	Language       string `json:"language,omitempty"`
}

// wsFrame is a frame sent by the gateway. Type is "speech", "error" or "event".
type wsFrame struct {
	Type           string        `json:"type"`
	Speech         string        `json:"speech,omitempty"`
	ConversationID string        `json:"conversation_id,omitempty"`
	Error          string        `json:"error,omitempty"`
	Status         int           `json:"status,omitempty"`
	Event          *HistoryEvent `json:"event,omitempty"`
}

// wsConn serializes writes; gorilla connections allow one concurrent writer.
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *wsConn) write(frame wsFrame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return c.conn.WriteJSON(frame)
}

// handleWebSocket handles GET /api/conversation/ws. With ?conversation_id=X
// the client also receives every event recorded in that conversation,
// including those driven from other frontends.
func (g *Gateway) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer func() { _ = conn.Close() }()
	conn.SetReadLimit(wsMaxFrame)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	out := &wsConn{conn: conn}
	sender := senderFromRequest(r)

	if follow := r.URL.Query().Get("conversation_id"); follow != "" {
		if events := g.conversation.Subscribe(ctx, follow); events != nil {
			go g.forwardEvents(events, out)
		}
	}

	g.logger.Debug("websocket connected", "sender", sender)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				g.logger.Debug("websocket read ended", "error", err)
			}
			return
		}

		var req wsRequest
		if err := json.Unmarshal(data, &req); err != nil {
			if werr := out.write(wsFrame{Type: "error", Error: "invalid JSON frame", Status: http.StatusBadRequest}); werr != nil {
				return
			}
			continue
		}

		resp, err := g.conversation.Process(ctx, &conversation.ProcessRequest{
			Text:           req.Text,
			ConversationID: req.ConversationID,
			Language:       req.Language,
			Sender:         sender,
			Frontend:       "websocket",
		})

		frame := wsFrame{Type: "speech"}
		if err != nil {
			status, msg := g.statusForError(err)
			frame = wsFrame{Type: "error", Error: msg, Status: status, ConversationID: req.ConversationID}
		} else {
			frame.Speech = resp.Speech
			frame.ConversationID = resp.ConversationID
		}
		if err := out.write(frame); err != nil {
			g.logger.Debug("websocket write failed", "error", err)
			return
		}
	}
}

// forwardEvents pushes followed events until the subscription closes.
func (g *Gateway) forwardEvents(events <-chan *store.LedgerEvent, out *wsConn) {
	for e := range events {
		he := toHistoryEvent(e)
		if err := out.write(wsFrame{Type: "event", ConversationID: e.ConversationID, Event: &he}); err != nil {
			return
		}
	}
}
