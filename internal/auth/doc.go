// Package auth authenticates callers of the gateway's HTTP API.
//
// # Tokens
//
// Callers present HS256 JWTs issued by the gateway (see the bootstrap
// command). The "sub" claim names a principal in the store:
//
//	verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
//	token, err := verifier.Generate(principal.ID, 365*24*time.Hour)
//
// Secrets shorter than MinSecretLength are rejected.
//
// # Middleware
//
// HTTPAuthMiddleware verifies the bearer token, loads the principal and
// rejects revoked principals with 403. Handlers read the identity back with
// FromContext:
//
//	mux.Handle("/api/", auth.HTTPAuthMiddleware(store, verifier, logger)(api))
//
//	if a := auth.FromContext(r.Context()); a != nil {
//	    sender = a.PrincipalID
//	}
//
// OptionalAuthMiddleware does the same but lets anonymous requests through.
package auth
