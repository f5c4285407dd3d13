// Package almond is a client for the Almond virtual assistant web API.
//
// # Overview
//
// Almond exposes a converse endpoint that takes an utterance and answers with
// a list of structured messages. This package provides:
//
//   - Transport: how requests reach the Almond host (local or OAuth2)
//   - Client: the converse calls over a Transport
//   - RenderSpeech: turns a message list into one speech string
//
// # Transports
//
// A local Almond server accepts unauthenticated requests from trusted origins:
//
//	t := almond.NewLocalTransport("http://localhost:3000", httpClient)
//
// The hosted service needs OAuth2. The session owns tokens and refresh:
//
//	t := almond.NewOAuthTransport("https://almond.stanford.edu", session)
//
// # Conversing
//
//	c := almond.NewClient(t)
//	resp, err := c.ConverseText(ctx, "what's the weather", "")
//	speech := almond.RenderSpeech(resp.Messages)
//
// # Errors
//
// Failures come back as *Error and match one of the sentinels:
//
//   - ErrNetwork: the host could not be reached
//   - ErrAuth: credentials rejected (401/403) or token refresh failed
//   - ErrProtocol: non-2xx reply or a body without a messages array
//
// Nothing is retried.
package almond
