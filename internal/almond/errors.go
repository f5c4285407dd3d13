// ABOUTME: Error taxonomy for Almond API calls: network, auth and protocol failures
// ABOUTME: Errors carry a kind so callers can branch with errors.Is on the sentinels

package almond

import (
	"errors"
	"fmt"
)

// Kind classifies a failure talking to the Almond service.
type Kind int

const (
	// KindNetwork means the service could not be reached.
	KindNetwork Kind = iota + 1
	// KindAuth means credentials were rejected or could not be refreshed.
	KindAuth
	// KindProtocol means the service answered with something we cannot use.
	KindProtocol
)

func (k Kind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindAuth:
		return "auth"
	case KindProtocol:
		return "protocol"
	default:
		return "unknown"
	}
}

// Sentinels for errors.Is matching against *Error.
var (
	ErrNetwork  = errors.New("almond: network error")
	ErrAuth     = errors.New("almond: authentication error")
	ErrProtocol = errors.New("almond: protocol error")
)

// Error is returned by transports and the client.
type Error struct {
	Kind   Kind
	Op     string // e.g. "post /me/api/converse"
	Status int    // HTTP status when known
	Err    error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("almond %s error: %s", e.Kind, e.Op)
	if e.Status != 0 {
		msg += fmt.Sprintf(" (status %d)", e.Status)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is the sentinel for this error's kind.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrNetwork:
		return e.Kind == KindNetwork
	case ErrAuth:
		return e.Kind == KindAuth
	case ErrProtocol:
		return e.Kind == KindProtocol
	}
	return false
}

func networkError(op string, err error) error {
	return &Error{Kind: KindNetwork, Op: op, Err: err}
}

func authError(op string, status int, err error) error {
	return &Error{Kind: KindAuth, Op: op, Status: status, Err: err}
}

func protocolError(op string, status int, err error) error {
	return &Error{Kind: KindProtocol, Op: op, Status: status, Err: err}
}
