// ABOUTME: Store interfaces and data types for almond-gateway persistence
// ABOUTME: Defines OAuth tokens, conversation ledger events and API principals

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned when inserting an entity whose key already exists
var ErrDuplicate = errors.New("already exists")

// OAuthToken is the persisted credential of an OAuth2 integration entry.
type OAuthToken struct {
	EntryID      string
	AccessToken  string
	RefreshToken string
	TokenType    string
	Expiry       time.Time // zero means the token does not expire
	UpdatedAt    time.Time
}

// EventDirection indicates whether an event went to the assistant or came from it
type EventDirection string

const (
	EventDirectionInbound  EventDirection = "inbound_to_agent"
	EventDirectionOutbound EventDirection = "outbound_from_agent"
)

// EventType categorizes a ledger event
type EventType string

const (
	EventTypeMessage EventType = "message"
	EventTypeError   EventType = "error"
)

// LedgerEvent is one recorded step of a conversation.
type LedgerEvent struct {
	ID             string
	ConversationID string
	Direction      EventDirection
	Author         string
	Type           EventType
	Text           string
	Frontend       string // "http", "websocket", "matrix", ...
	Timestamp      time.Time
}

// PrincipalStatus is the lifecycle state of an API principal
type PrincipalStatus string

const (
	PrincipalStatusApproved PrincipalStatus = "approved"
	PrincipalStatusRevoked  PrincipalStatus = "revoked"
)

// Principal is an identity allowed to call the gateway API.
type Principal struct {
	ID          string
	DisplayName string
	Status      PrincipalStatus
	CreatedAt   time.Time
}

// TokenStore persists OAuth credentials per integration entry.
type TokenStore interface {
	SaveToken(ctx context.Context, token *OAuthToken) error
	GetToken(ctx context.Context, entryID string) (*OAuthToken, error)
	DeleteToken(ctx context.Context, entryID string) error
}

// EventStore records conversation exchanges.
type EventStore interface {
	SaveEvent(ctx context.Context, event *LedgerEvent) error
	ListEvents(ctx context.Context, conversationID string, limit int) ([]*LedgerEvent, error)
}

// PrincipalStore manages API principals.
type PrincipalStore interface {
	CreatePrincipal(ctx context.Context, p *Principal) error
	GetPrincipal(ctx context.Context, id string) (*Principal, error)
	UpdatePrincipalStatus(ctx context.Context, id string, status PrincipalStatus) error
	CountPrincipals(ctx context.Context) (int, error)
}

// Store is everything the gateway persists.
type Store interface {
	TokenStore
	EventStore
	PrincipalStore

	// Close releases any resources held by the store
	Close() error
}
