// ABOUTME: Gateway API client for the almond-matrix bridge
// ABOUTME: Posts room messages to the conversation process endpoint

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// ProcessRequest is the request body for POST /api/conversation/process.
type ProcessRequest struct {
	Text           string `json:"text"`
	ConversationID string `json:"conversation_id,omitempty"`
	Frontend       string `json:"frontend"`
}

// ProcessResponse is the reply to a ProcessRequest.
type ProcessResponse struct {
	Speech         string `json:"speech"`
	ConversationID string `json:"conversation_id"`
}

// ErrDuplicate is returned when the gateway already handled the request ID.
var ErrDuplicate = errors.New("duplicate request")

// GatewayError is a non-200 reply from the gateway.
type GatewayError struct {
	Status  int
	Message string
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("gateway error (%d): %s", e.Status, e.Message)
}

// GatewayClient communicates with the almond-gateway HTTP API.
type GatewayClient struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewGatewayClient creates a new gateway client.
func NewGatewayClient(baseURL, token string, timeout time.Duration) *GatewayClient {
	return &GatewayClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: timeout},
	}
}

// Process sends one utterance. requestID, when set, lets the gateway
// drop redeliveries of the same Matrix event.
func (g *GatewayClient) Process(ctx context.Context, requestID string, req ProcessRequest) (*ProcessResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		g.baseURL+"/api/conversation/process", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	if requestID != "" {
		httpReq.Header.Set("X-Request-ID", requestID)
	}
	if g.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+g.token)
	}

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusConflict:
		return nil, ErrDuplicate
	default:
		return nil, g.errorFromBody(resp.StatusCode, data)
	}

	var out ProcessResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	return &out, nil
}

// errorFromBody extracts the error message from a JSON error reply.
func (g *GatewayClient) errorFromBody(status int, body []byte) error {
	if msg := gjson.GetBytes(body, "error"); msg.Type == gjson.String && msg.Str != "" {
		return &GatewayError{Status: status, Message: msg.Str}
	}
	return &GatewayError{Status: status, Message: strings.TrimSpace(truncate(string(body), 200))}
}
