// ABOUTME: Conversation agent capability and the registration point the gateway exposes
// ABOUTME: One agent is active at a time; setting nil unloads it

package conversation

import (
	"context"
	"errors"
	"strings"
	"sync"
)

// ErrNoAgent is returned when an utterance arrives while no agent is registered.
var ErrNoAgent = errors.New("no conversation agent registered")

// ErrEmptyText is returned for utterances that are empty after trimming.
var ErrEmptyText = errors.New("text is required")

// Request is one utterance handed to an agent.
type Request struct {
	Text           string
	ConversationID string
	Language       string
}

// Response is the envelope an agent answers with.
type Response struct {
	Speech         string
	ConversationID string
}

// SetSpeech stores the speech text, trimmed.
func (r *Response) SetSpeech(speech string) {
	r.Speech = strings.TrimSpace(speech)
}

// Agent turns an utterance into a spoken response.
type Agent interface {
	Process(ctx context.Context, req Request) (*Response, error)
}

// Registry holds the active conversation agent.
type Registry struct {
	mu    sync.RWMutex
	agent Agent
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// SetAgent registers a as the active agent. Passing nil unloads the current one.
func (r *Registry) SetAgent(a Agent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agent = a
}

// Agent returns the active agent, or nil.
func (r *Registry) Agent() Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.agent
}

// Process sends req to the active agent. Agent errors are returned unchanged.
func (r *Registry) Process(ctx context.Context, req Request) (*Response, error) {
	a := r.Agent()
	if a == nil {
		return nil, ErrNoAgent
	}
	return a.Process(ctx, req)
}
