// Package auth implements the OAuth2 authorization core: token and code
// entities, the grant-type state machine, client/user credential validation,
// and the storage contracts the persistence backends implement.
package auth
