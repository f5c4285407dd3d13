// ABOUTME: Almond web API client that sends utterances to the converse endpoint
// ABOUTME: Decodes the structured message list and classifies failures by kind

package almond

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/tidwall/gjson"
)

// ConversePath is the converse endpoint relative to the Almond host.
const ConversePath = "/me/api/converse"

// maxResponseBytes caps how much of a reply is read.
const maxResponseBytes = 4 << 20

// Client is a thin wrapper over a Transport.
type Client struct {
	transport Transport
}

// NewClient creates a client that sends requests through transport.
func NewClient(transport Transport) *Client {
	return &Client{transport: transport}
}

// Host returns the Almond host the client talks to.
func (c *Client) Host() string {
	return c.transport.Host()
}

// ConverseText sends a natural-language utterance. An empty conversationID lets
// Almond pick one; the reply carries it back.
func (c *Client) ConverseText(ctx context.Context, text, conversationID string) (*ConverseResponse, error) {
	return c.converse(ctx, converseRequest{
		Command:        command{Type: "command", Text: text},
		ConversationID: conversationID,
	})
}

// ConverseThingTalk sends a ThingTalk program instead of natural language.
func (c *Client) ConverseThingTalk(ctx context.Context, code, conversationID string) (*ConverseResponse, error) {
	return c.converse(ctx, converseRequest{
		Command:        command{Type: "tt", Code: code},
		ConversationID: conversationID,
	})
}

func (c *Client) converse(ctx context.Context, payload converseRequest) (*ConverseResponse, error) {
	op := "post " + ConversePath

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshaling converse request: %w", err)
	}

	header := http.Header{}
	header.Set("Content-Type", "application/json")
	header.Set("Accept", "application/json")

	resp, err := c.transport.Post(ctx, ConversePath, bytes.NewReader(body), header)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, networkError(op, fmt.Errorf("reading response: %w", err))
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, authError(op, resp.StatusCode, errors.New(truncate(string(data), 200)))
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, protocolError(op, resp.StatusCode, errors.New(truncate(string(data), 200)))
	}

	return decodeConverse(op, resp.StatusCode, data)
}

// decodeConverse validates the reply shape before decoding it.
func decodeConverse(op string, status int, data []byte) (*ConverseResponse, error) {
	if !gjson.ValidBytes(data) {
		return nil, protocolError(op, status, errors.New("response is not valid JSON"))
	}
	root := gjson.ParseBytes(data)
	if !root.IsObject() {
		return nil, protocolError(op, status, errors.New("response is not a JSON object"))
	}
	messages := root.Get("messages")
	if !messages.Exists() {
		return nil, protocolError(op, status, errors.New("response has no messages field"))
	}
	if !messages.IsArray() {
		return nil, protocolError(op, status, errors.New("messages field is not an array"))
	}

	var out ConverseResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, protocolError(op, status, fmt.Errorf("decoding response: %w", err))
	}
	if out.Messages == nil {
		out.Messages = []Message{}
	}
	return &out, nil
}

// truncate shortens s to at most n runes.
func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
