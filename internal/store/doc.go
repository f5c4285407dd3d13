// Package store provides SQLite persistence for almond-gateway.
//
// # Overview
//
// A single database file holds:
//
//   - oauth_tokens: the OAuth2 credential of each integration entry
//   - ledger_events: every utterance and reply passing through the gateway
//   - principals: identities allowed to call the HTTP API
//
// The driver is modernc.org/sqlite (pure Go, no cgo). WAL mode and foreign
// keys are enabled on open and the schema is created if missing.
//
// # Usage
//
//	s, err := store.NewSQLiteStore("/var/lib/almond/gateway.db")
//	if err != nil {
//	    return err
//	}
//	defer s.Close()
//
// # Errors
//
// Lookups of missing rows return ErrNotFound. Inserting an existing key
// returns an error wrapping ErrDuplicate.
//
// # Ordering
//
// Ledger events are ordered by insertion sequence rather than timestamp, so
// events written within the same clock tick keep their order.
package store
