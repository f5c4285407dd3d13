// ABOUTME: OAuth token persistence for integration entries
// ABOUTME: Upserts one token row per entry so refreshed tokens replace old ones

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SaveToken inserts or replaces the token for token.EntryID.
func (s *SQLiteStore) SaveToken(ctx context.Context, token *OAuthToken) error {
	if token.EntryID == "" {
		return errors.New("entry id is required")
	}
	if token.UpdatedAt.IsZero() {
		token.UpdatedAt = time.Now().UTC()
	}

	var expiry *string
	if !token.Expiry.IsZero() {
		e := token.Expiry.UTC().Format(time.RFC3339Nano)
		expiry = &e
	}

	query := `
		INSERT INTO oauth_tokens (entry_id, access_token, refresh_token, token_type, expiry, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(entry_id) DO UPDATE SET
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			token_type = excluded.token_type,
			expiry = excluded.expiry,
			updated_at = excluded.updated_at
	`
	_, err := s.db.ExecContext(ctx, query,
		token.EntryID,
		token.AccessToken,
		token.RefreshToken,
		token.TokenType,
		expiry,
		token.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("saving token: %w", err)
	}

	s.logger.Debug("saved oauth token", "entry_id", token.EntryID)
	return nil
}

// GetToken returns the token for an entry, or ErrNotFound.
func (s *SQLiteStore) GetToken(ctx context.Context, entryID string) (*OAuthToken, error) {
	query := `
		SELECT entry_id, access_token, refresh_token, token_type, expiry, updated_at
		FROM oauth_tokens
		WHERE entry_id = ?
	`

	var (
		token        OAuthToken
		refreshToken sql.NullString
		tokenType    sql.NullString
		expiry       sql.NullString
		updatedAt    string
	)
	err := s.db.QueryRowContext(ctx, query, entryID).Scan(
		&token.EntryID,
		&token.AccessToken,
		&refreshToken,
		&tokenType,
		&expiry,
		&updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying token: %w", err)
	}

	token.RefreshToken = refreshToken.String
	token.TokenType = tokenType.String
	if expiry.Valid && expiry.String != "" {
		token.Expiry, err = time.Parse(time.RFC3339Nano, expiry.String)
		if err != nil {
			return nil, fmt.Errorf("parsing expiry: %w", err)
		}
	}
	token.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt)
	if err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}

	return &token, nil
}

// DeleteToken removes the token for an entry. Deleting a missing token returns ErrNotFound.
func (s *SQLiteStore) DeleteToken(ctx context.Context, entryID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM oauth_tokens WHERE entry_id = ?`, entryID)
	if err != nil {
		return fmt.Errorf("deleting token: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
