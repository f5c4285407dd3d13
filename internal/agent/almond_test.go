// ABOUTME: Tests for AlmondAgent against fake and httptest-backed Almond services
// ABOUTME: Covers speech rendering, conversation ids and unmodified error propagation

package agent

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/almond-gateway/internal/almond"
	"github.com/2389/almond-gateway/internal/conversation"
)

type fakeConverser struct {
	reply    *almond.ConverseResponse
	err      error
	gotText  string
	gotConvo string
}

func (f *fakeConverser) ConverseText(ctx context.Context, text, conversationID string) (*almond.ConverseResponse, error) {
	f.gotText = text
	f.gotConvo = conversationID
	if f.err != nil {
		return nil, f.err
	}
	return f.reply, nil
}

func TestAlmondAgent_Process_RendersSpeech(t *testing.T) {
	fake := &fakeConverser{reply: &almond.ConverseResponse{
		Messages: []almond.Message{
			{Type: almond.MessageText, Text: "Here is a cat"},
			{Type: almond.MessagePicture, URL: "http://x/cat.jpg"},
		},
	}}
	a := NewAlmondAgent(fake, nil)

	resp, err := a.Process(context.Background(), conversation.Request{Text: "show me a cat", ConversationID: "c1"})
	require.NoError(t, err)
	assert.Equal(t, "Here is a cat\n Picture: http://x/cat.jpg", resp.Speech)
	assert.Equal(t, "c1", resp.ConversationID)
	assert.Equal(t, "show me a cat", fake.gotText)
	assert.Equal(t, "c1", fake.gotConvo)
}

func TestAlmondAgent_Process_UsesAlmondConversationID(t *testing.T) {
	fake := &fakeConverser{reply: &almond.ConverseResponse{ConversationID: "almond-side"}}
	a := NewAlmondAgent(fake, nil)

	resp, err := a.Process(context.Background(), conversation.Request{Text: "hi", ConversationID: "mine"})
	require.NoError(t, err)
	assert.Equal(t, "almond-side", resp.ConversationID)
	assert.Empty(t, resp.Speech)
}

func TestAlmondAgent_Process_ErrorUnmodified(t *testing.T) {
	clientErr := errors.New("boom")
	a := NewAlmondAgent(&fakeConverser{err: clientErr}, nil)

	resp, err := a.Process(context.Background(), conversation.Request{Text: "hi"})
	assert.Nil(t, resp)
	assert.Same(t, clientErr, err)
}

func TestAlmondAgent_EndToEnd(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, almond.ConversePath, r.URL.Path)
		assert.Equal(t, almond.LocalOrigin, r.Header.Get("Origin"))
		_, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"messages":[
			{"type":"text","text":"Pick one"},
			{"type":"choice","title":"Yes"},
			{"type":"choice","title":"No"}
		]}`))
	}))
	defer server.Close()

	client := almond.NewClient(almond.NewLocalTransport(server.URL, server.Client()))
	reg := conversation.NewRegistry()
	reg.SetAgent(NewAlmondAgent(client, nil))

	resp, err := reg.Process(context.Background(), conversation.Request{Text: "choose"})
	require.NoError(t, err)
	assert.Equal(t, "Pick one\n Choice: Yes\n Choice: No", resp.Speech)
}

func TestAlmondAgent_EndToEnd_AuthError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	client := almond.NewClient(almond.NewLocalTransport(server.URL, server.Client()))
	a := NewAlmondAgent(client, nil)

	_, err := a.Process(context.Background(), conversation.Request{Text: "hi"})
	require.Error(t, err)
	assert.ErrorIs(t, err, almond.ErrAuth)

	var almondErr *almond.Error
	require.ErrorAs(t, err, &almondErr)
	assert.Equal(t, http.StatusUnauthorized, almondErr.Status)
}
