// ABOUTME: Tests for the websocket conversation endpoint
// ABOUTME: Covers utterance round trips, error frames and following a conversation

package gateway

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dialWS(t *testing.T, gw *Gateway, query string) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(gw.Handler())
	t.Cleanup(srv.Close)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/conversation/ws" + query
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) wsFrame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var frame wsFrame
	require.NoError(t, conn.ReadJSON(&frame))
	return frame
}

func TestWebSocket_RoundTrip(t *testing.T) {
	f := newFakeAlmond(t)
	gw := newTestGateway(t, testConfig(f.server.URL))
	conn := dialWS(t, gw, "")

	require.NoError(t, conn.WriteJSON(wsRequest{Text: "play music", ConversationID: "den"}))
	frame := readFrame(t, conn)
	assert.Equal(t, "speech", frame.Type)
	assert.Equal(t, "You said: play music", frame.Speech)
	assert.Equal(t, "den", frame.ConversationID)

	require.NoError(t, conn.WriteJSON(wsRequest{Text: "  "}))
	frame = readFrame(t, conn)
	assert.Equal(t, "error", frame.Type)
	assert.Equal(t, http.StatusBadRequest, frame.Status)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{oops")))
	frame = readFrame(t, conn)
	assert.Equal(t, "error", frame.Type)
	assert.Equal(t, "invalid JSON frame", frame.Error)

	// Connection is still usable after errors
	require.NoError(t, conn.WriteJSON(wsRequest{Text: "again", ConversationID: "den"}))
	frame = readFrame(t, conn)
	assert.Equal(t, "You said: again", frame.Speech)
}

func TestWebSocket_FollowConversation(t *testing.T) {
	f := newFakeAlmond(t)
	gw := newTestGateway(t, testConfig(f.server.URL))
	conn := dialWS(t, gw, "?conversation_id=living-room")

	// A round trip on another conversation proves the subscription is in place.
	require.NoError(t, conn.WriteJSON(wsRequest{Text: "ping", ConversationID: "elsewhere"}))
	frame := readFrame(t, conn)
	require.Equal(t, "speech", frame.Type)

	rec := doRequest(t, gw, http.MethodPost, "/api/conversation/process",
		`{"text":"dim the lights","conversation_id":"living-room"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var texts []string
	for i := 0; i < 2; i++ {
		frame := readFrame(t, conn)
		require.Equal(t, "event", frame.Type)
		require.NotNil(t, frame.Event)
		assert.Equal(t, "living-room", frame.ConversationID)
		texts = append(texts, frame.Event.Text)
	}
	assert.Equal(t, []string{"dim the lights", "You said: dim the lights"}, texts)
}
