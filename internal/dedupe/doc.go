// Package dedupe provides a TTL-bounded set of recently seen keys.
//
// The gateway uses it to reject replayed X-Request-ID values and to hold
// issued OAuth state values until the callback consumes them with Take. The
// Matrix bridge uses it to skip events the homeserver delivers twice.
package dedupe
