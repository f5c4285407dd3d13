// ABOUTME: Ledger event store for conversation history
// ABOUTME: Events are returned in insertion order per conversation

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SaveEvent persists a ledger event to the database
func (s *SQLiteStore) SaveEvent(ctx context.Context, event *LedgerEvent) error {
	if event.ID == "" || event.ConversationID == "" {
		return errors.New("event id and conversation id are required")
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	query := `
		INSERT INTO ledger_events (
			event_id, conversation_id, direction, author, type, text, frontend, timestamp
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		event.ID,
		event.ConversationID,
		string(event.Direction),
		event.Author,
		string(event.Type),
		event.Text,
		nullString(event.Frontend),
		event.Timestamp.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return fmt.Errorf("inserting event %s: %w", event.ID, ErrDuplicate)
		}
		return fmt.Errorf("inserting event: %w", err)
	}

	s.logger.Debug("saved ledger event",
		"event_id", event.ID,
		"conversation_id", event.ConversationID,
		"direction", event.Direction,
		"type", event.Type,
	)
	return nil
}

// ListEvents returns the most recent events of a conversation, oldest first.
// limit defaults to 100 and is capped at 500.
func (s *SQLiteStore) ListEvents(ctx context.Context, conversationID string, limit int) ([]*LedgerEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	if limit > 500 {
		limit = 500
	}

	query := `
		SELECT event_id, conversation_id, direction, author, type, text, frontend, timestamp
		FROM (
			SELECT seq, event_id, conversation_id, direction, author, type, text, frontend, timestamp
			FROM ledger_events
			WHERE conversation_id = ?
			ORDER BY seq DESC
			LIMIT ?
		)
		ORDER BY seq ASC
	`

	rows, err := s.db.QueryContext(ctx, query, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	defer rows.Close()

	var events []*LedgerEvent
	for rows.Next() {
		var (
			event     LedgerEvent
			direction string
			eventType string
			frontend  sql.NullString
			timestamp string
		)
		if err := rows.Scan(
			&event.ID,
			&event.ConversationID,
			&direction,
			&event.Author,
			&eventType,
			&event.Text,
			&frontend,
			&timestamp,
		); err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}

		event.Direction = EventDirection(direction)
		event.Type = EventType(eventType)
		event.Frontend = frontend.String
		event.Timestamp, err = time.Parse(time.RFC3339Nano, timestamp)
		if err != nil {
			return nil, fmt.Errorf("parsing timestamp: %w", err)
		}
		events = append(events, &event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating events: %w", err)
	}

	return events, nil
}

// nullString converts empty strings to NULL for optional columns
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
