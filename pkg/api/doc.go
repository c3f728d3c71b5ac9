// Package api exposes the OAuth2 HTTP surface: the authorize consent flow,
// the token endpoint, and session logout.
package api
