// Package oauth implements the OAuth2 session used by Almond entries of type
// oauth2.
//
// A Session holds the oauth2.Config of one integration entry and loads that
// entry's token from the store. Requests go out through an oauth2.Transport,
// so expired access tokens are refreshed on the fly and the refreshed token
// is written back to the store.
//
// The authorization-code flow is split between AuthCodeURL, which the gateway
// redirects the user to, and Exchange, which the callback handler calls with
// the returned code.
package oauth
