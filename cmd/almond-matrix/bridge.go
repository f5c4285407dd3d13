// ABOUTME: Matrix bridge core for almond-matrix
// ABOUTME: Handles Matrix client connection and routes room messages to the gateway

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/format"
	"maunium.net/go/mautrix/id"

	"github.com/2389/almond-gateway/internal/dedupe"
)

// typingTimeout is the duration the typing indicator shows (30 seconds).
const typingTimeout = 30 * time.Second

// networkTimeout is the timeout for Matrix API calls.
const networkTimeout = 10 * time.Second

// deviceName is shown in the user's session list after login.
const deviceName = "almond-matrix"

// Bridge connects Matrix rooms to almond-gateway.
type Bridge struct {
	config  *Config
	matrix  *mautrix.Client
	gateway *GatewayClient
	seen    *dedupe.Cache
	logger  *slog.Logger

	// Rooms with a message in flight
	processing sync.Map

	// Matrix calls, replaced in tests
	send   func(ctx context.Context, roomID id.RoomID, text string) error
	typing func(ctx context.Context, roomID id.RoomID, typing bool) error

	// ctx is the parent context for message processing goroutines
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewBridge creates a new Matrix bridge. Call Login before Run.
func NewBridge(cfg *Config, logger *slog.Logger) (*Bridge, error) {
	client, err := mautrix.NewClient(cfg.Matrix.Homeserver, "", "")
	if err != nil {
		return nil, fmt.Errorf("creating matrix client: %w", err)
	}

	b := &Bridge{
		config:  cfg,
		matrix:  client,
		gateway: NewGatewayClient(cfg.Gateway.URL, cfg.Gateway.Token, cfg.Gateway.Timeout),
		seen:    dedupe.New(defaultDedupeTTL, defaultDedupeSize),
		logger:  logger.With("component", "matrix-bridge"),
	}
	b.send = b.sendMatrix
	b.typing = b.typingMatrix
	return b, nil
}

// Login authenticates with the homeserver using the configured password.
func (b *Bridge) Login(ctx context.Context) error {
	resp, err := b.matrix.Login(ctx, &mautrix.ReqLogin{
		Type: mautrix.AuthTypePassword,
		Identifier: mautrix.UserIdentifier{
			Type: mautrix.IdentifierTypeUser,
			User: b.config.Matrix.Username,
		},
		Password:                 b.config.Matrix.Password,
		InitialDeviceDisplayName: deviceName,
		StoreCredentials:         true,
	})
	if err != nil {
		return err
	}
	b.logger.Info("logged in to matrix", "user_id", resp.UserID.String(), "device_id", resp.DeviceID.String())
	return nil
}

// UserID returns the logged-in user ID.
func (b *Bridge) UserID() string {
	return b.matrix.UserID.String()
}

// Run starts the bridge and blocks until context is cancelled.
func (b *Bridge) Run(ctx context.Context) error {
	b.logger.Info("starting matrix bridge",
		"homeserver", b.config.Matrix.Homeserver,
		"user_id", b.UserID(),
		"gateway", b.config.Gateway.URL,
	)

	b.ctx, b.cancel = context.WithCancel(ctx)
	defer func() {
		b.cancel()
		b.wg.Wait()
		b.seen.Close()
	}()

	syncer, ok := b.matrix.Syncer.(*mautrix.DefaultSyncer)
	if !ok {
		return fmt.Errorf("unexpected syncer type: %T", b.matrix.Syncer)
	}
	syncer.OnEventType(event.EventMessage, b.handleMessageEvent)

	syncErr := make(chan error, 1)
	go func() {
		syncErr <- b.matrix.SyncWithContext(b.ctx)
	}()

	b.logger.Info("matrix bridge running")

	select {
	case <-ctx.Done():
		b.logger.Info("shutting down matrix bridge")
		return nil
	case err := <-syncErr:
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return fmt.Errorf("matrix sync failed: %w", err)
	}
}

// handleMessageEvent processes incoming Matrix messages.
func (b *Bridge) handleMessageEvent(_ context.Context, evt *event.Event) {
	text, ok := b.accept(evt)
	if !ok {
		return
	}

	b.logger.Info("received message",
		"room", evt.RoomID.String(),
		"sender", evt.Sender.String(),
		"content", truncate(text, 50),
	)

	if b.ctx.Err() != nil {
		return
	}

	// Don't block the sync loop
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.processMessage(b.ctx, evt.RoomID, evt.ID, text)
	}()
}

// accept filters an event down to the utterance the bridge should forward.
// Each event ID is accepted at most once.
func (b *Bridge) accept(evt *event.Event) (string, bool) {
	if evt.Sender == b.matrix.UserID {
		return "", false
	}

	content, ok := evt.Content.Parsed.(*event.MessageEventContent)
	if !ok || content.MsgType != event.MsgText {
		return "", false
	}

	if !b.isRoomAllowed(evt.RoomID.String()) {
		b.logger.Debug("ignoring message from non-allowed room", "room", evt.RoomID.String())
		return "", false
	}

	text, ok := stripPrefix(content.Body, b.config.Bridge.CommandPrefix)
	if !ok {
		return "", false
	}

	if evt.ID != "" && b.seen.CheckAndMark(evt.ID.String()) {
		b.logger.Debug("ignoring redelivered event", "event_id", evt.ID.String())
		return "", false
	}
	return text, true
}

// processMessage sends the message to the gateway and posts the speech back.
func (b *Bridge) processMessage(ctx context.Context, roomID id.RoomID, eventID id.EventID, text string) {
	roomStr := roomID.String()

	if _, loaded := b.processing.LoadOrStore(roomStr, true); loaded {
		b.logger.Debug("already processing message in room, dropping", "room", roomStr)
		return
	}
	defer b.processing.Delete(roomStr)

	if b.config.Bridge.TypingIndicator {
		b.setTyping(roomID, true)
		defer b.setTyping(roomID, false)
	}

	resp, err := b.gateway.Process(ctx, eventID.String(), ProcessRequest{
		Text:           text,
		ConversationID: roomStr,
		Frontend:       "matrix",
	})
	if errors.Is(err, ErrDuplicate) {
		b.logger.Debug("gateway already handled event", "room", roomStr, "event_id", eventID.String())
		return
	}
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		b.logger.Error("gateway request failed", "room", roomStr, "error", err)
		b.sendMessage(roomID, fmt.Sprintf("Error: %s", userMessage(err)))
		return
	}

	if resp.Speech == "" {
		b.logger.Warn("empty speech from assistant", "room", roomStr)
		return
	}

	b.logger.Info("sending response", "room", roomStr, "length", len(resp.Speech))
	b.sendMessage(roomID, resp.Speech)
}

// userMessage is the part of a failure shown in the room.
func userMessage(err error) string {
	var gwErr *GatewayError
	if errors.As(err, &gwErr) {
		return gwErr.Message
	}
	return err.Error()
}

// isRoomAllowed checks if the room is in the allowed list.
func (b *Bridge) isRoomAllowed(roomID string) bool {
	if len(b.config.Bridge.AllowedRooms) == 0 {
		return true // Allow all if no filter
	}
	return slices.Contains(b.config.Bridge.AllowedRooms, roomID)
}

// stripPrefix removes the command prefix and reports whether anything is left to send.
func stripPrefix(body, prefix string) (string, bool) {
	if prefix != "" {
		if !strings.HasPrefix(body, prefix) {
			return "", false
		}
		body = strings.TrimPrefix(body, prefix)
	}
	body = strings.TrimSpace(body)
	return body, body != ""
}

func (b *Bridge) setTyping(roomID id.RoomID, typing bool) {
	// Own timeout so typing can be cleared after shutdown starts
	ctx, cancel := context.WithTimeout(context.Background(), networkTimeout)
	defer cancel()
	if err := b.typing(ctx, roomID, typing); err != nil {
		b.logger.Debug("failed to set typing indicator", "room", roomID.String(), "error", err)
	}
}

func (b *Bridge) sendMessage(roomID id.RoomID, text string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := b.send(ctx, roomID, text); err != nil {
		b.logger.Error("failed to send message", "room", roomID.String(), "error", err)
	}
}

func (b *Bridge) sendMatrix(ctx context.Context, roomID id.RoomID, text string) error {
	content := format.RenderMarkdown(text, !b.config.Bridge.PlainText, false)
	_, err := b.matrix.SendMessageEvent(ctx, roomID, event.EventMessage, &content)
	return err
}

func (b *Bridge) typingMatrix(ctx context.Context, roomID id.RoomID, typing bool) error {
	var timeout time.Duration
	if typing {
		timeout = typingTimeout
	}
	_, err := b.matrix.UserTyping(ctx, roomID, typing, timeout)
	return err
}

// truncate shortens a string to the given max rune count, adding "..." if truncated.
func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}
