// ABOUTME: Conversation service that routes utterances to the registered agent
// ABOUTME: Records the utterance before acting, then the reply or the failure

package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/2389/almond-gateway/internal/store"
)

// Processor is what the service needs from the agent layer. *Registry satisfies it.
type Processor interface {
	Process(ctx context.Context, req Request) (*Response, error)
}

// Service records every exchange and hands utterances to the active agent.
type Service struct {
	events      store.EventStore
	agents      Processor
	broadcaster *EventBroadcaster
	logger      *slog.Logger
}

// New creates a conversation service. broadcaster may be nil.
func New(events store.EventStore, agents Processor, broadcaster *EventBroadcaster, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		events:      events,
		agents:      agents,
		broadcaster: broadcaster,
		logger:      logger.With("component", "conversation"),
	}
}

// ProcessRequest is an utterance plus where it came from.
type ProcessRequest struct {
	Text           string
	ConversationID string // generated when empty
	Language       string
	Sender         string
	Frontend       string
}

// Process records the utterance, sends it to the agent and records the outcome.
// Agent errors are returned unchanged so callers can classify them.
func (s *Service) Process(ctx context.Context, req *ProcessRequest) (*Response, error) {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return nil, ErrEmptyText
	}

	convID := req.ConversationID
	if convID == "" {
		convID = uuid.New().String()
	}
	sender := req.Sender
	if sender == "" {
		sender = "user"
	}

	// Record first, then act
	inbound := &store.LedgerEvent{
		ID:             uuid.New().String(),
		ConversationID: convID,
		Direction:      store.EventDirectionInbound,
		Author:         sender,
		Type:           store.EventTypeMessage,
		Text:           text,
		Frontend:       req.Frontend,
		Timestamp:      time.Now().UTC(),
	}
	if err := s.record(ctx, inbound); err != nil {
		return nil, fmt.Errorf("failed to record utterance: %w", err)
	}

	resp, err := s.agents.Process(ctx, Request{
		Text:           text,
		ConversationID: convID,
		Language:       req.Language,
	})
	if err != nil {
		s.logger.Warn("agent failed",
			"conversation_id", convID,
			"frontend", req.Frontend,
			"error", err)
		failure := &store.LedgerEvent{
			ID:             uuid.New().String(),
			ConversationID: convID,
			Direction:      store.EventDirectionOutbound,
			Author:         "agent",
			Type:           store.EventTypeError,
			Text:           err.Error(),
			Frontend:       req.Frontend,
			Timestamp:      time.Now().UTC(),
		}
		if recErr := s.record(ctx, failure); recErr != nil {
			s.logger.Error("failed to record agent error", "conversation_id", convID, "error", recErr)
		}
		return nil, err
	}

	// The agent may continue under its own id; the reply is recorded where the
	// conversation goes on.
	if resp.ConversationID == "" {
		resp.ConversationID = convID
	} else if resp.ConversationID != convID {
		s.logger.Debug("agent moved conversation",
			"conversation_id", convID,
			"agent_conversation_id", resp.ConversationID)
	}

	outbound := &store.LedgerEvent{
		ID:             uuid.New().String(),
		ConversationID: resp.ConversationID,
		Direction:      store.EventDirectionOutbound,
		Author:         "agent",
		Type:           store.EventTypeMessage,
		Text:           resp.Speech,
		Frontend:       req.Frontend,
		Timestamp:      time.Now().UTC(),
	}
	if err := s.record(ctx, outbound); err != nil {
		// The reply exists; losing its record should not lose the reply
		s.logger.Error("failed to record reply", "conversation_id", resp.ConversationID, "error", err)
	}

	s.logger.Debug("utterance processed",
		"conversation_id", resp.ConversationID,
		"frontend", req.Frontend,
		"speech_len", len(resp.Speech))

	return resp, nil
}

// History returns the recorded events of a conversation, oldest first.
func (s *Service) History(ctx context.Context, conversationID string, limit int) ([]*store.LedgerEvent, error) {
	return s.events.ListEvents(ctx, conversationID, limit)
}

// Subscribe follows new events of a conversation until ctx is cancelled.
// Returns nil when the service has no broadcaster.
func (s *Service) Subscribe(ctx context.Context, conversationID string) <-chan *store.LedgerEvent {
	if s.broadcaster == nil {
		return nil
	}
	events, _ := s.broadcaster.Subscribe(ctx, conversationID)
	return events
}

// record saves the event and publishes it to live subscribers.
func (s *Service) record(ctx context.Context, event *store.LedgerEvent) error {
	if err := s.events.SaveEvent(ctx, event); err != nil {
		return err
	}
	if s.broadcaster != nil {
		s.broadcaster.Publish(event.ConversationID, event)
	}
	return nil
}
