// Package gateway orchestrates the almond-gateway server components.
//
// # Overview
//
// The gateway owns the store, the conversation registry and service, and
// the HTTP server. New sets up the configured Almond entry (a local
// transport, or an OAuth2 transport over an oauth.Session) and registers an
// AlmondAgent with the registry. Shutdown unloads it again.
//
// # HTTP API
//
//   - GET /health - Liveness check
//   - GET /health/ready - 200 while an agent is registered
//   - POST /api/conversation/process - Send one utterance
//   - GET /api/conversation/history - Recorded events of a conversation
//   - GET /api/conversation/ws - WebSocket conversation
//   - GET /auth/almond/authorize - Start OAuth2 authorization (oauth2 entries)
//   - GET /auth/almond/callback - OAuth2 redirect target (oauth2 entries)
//
// The /api routes require a bearer JWT when auth.jwt_secret is set.
//
// # Processing
//
//	POST /api/conversation/process?format=html
//	X-Request-ID: 5f1c...
//
//	{"text": "what's the weather", "conversation_id": "kitchen"}
//
// returns
//
//	{"speech": "...", "speech_html": "<p>...</p>", "conversation_id": "kitchen"}
//
// A repeated X-Request-ID is rejected with 409. Failures map to statuses:
//
//	empty text            400
//	Almond auth failure   401
//	Almond protocol error 502
//	no agent registered   503
//	Almond unreachable    504
//
// # Listeners
//
// The server listens on server.http_addr, or joins a tailnet with tsnet when
// tailscale.enabled is set (plain :80, TLS :443 with tailnet certificates,
// or a public Funnel).
package gateway
