// ABOUTME: Conversation agent backed by an Almond assistant service
// ABOUTME: Sends the utterance to Almond and renders its messages as speech

package agent

import (
	"context"
	"log/slog"

	"github.com/2389/almond-gateway/internal/almond"
	"github.com/2389/almond-gateway/internal/conversation"
)

// Converser is the part of almond.Client the agent uses.
type Converser interface {
	ConverseText(ctx context.Context, text, conversationID string) (*almond.ConverseResponse, error)
}

// AlmondAgent implements conversation.Agent on top of an Almond client.
type AlmondAgent struct {
	client Converser
	logger *slog.Logger
}

var _ conversation.Agent = (*AlmondAgent)(nil)

// NewAlmondAgent creates an agent. Pass nil logger for default.
func NewAlmondAgent(client Converser, logger *slog.Logger) *AlmondAgent {
	if logger == nil {
		logger = slog.Default()
	}
	return &AlmondAgent{
		client: client,
		logger: logger.With("component", "almond_agent"),
	}
}

// Process sends the utterance to Almond and returns the rendered speech.
// Client errors are returned unmodified.
func (a *AlmondAgent) Process(ctx context.Context, req conversation.Request) (*conversation.Response, error) {
	reply, err := a.client.ConverseText(ctx, req.Text, req.ConversationID)
	if err != nil {
		return nil, err
	}

	resp := &conversation.Response{ConversationID: req.ConversationID}
	if reply.ConversationID != "" {
		resp.ConversationID = reply.ConversationID
	}
	resp.SetSpeech(almond.RenderSpeech(reply.Messages))

	a.logger.Debug("almond replied",
		"conversation_id", resp.ConversationID,
		"messages", len(reply.Messages),
		"ask_special", reply.AskSpecial)

	return resp, nil
}
