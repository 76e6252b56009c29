// Package auth locates the bearer token used for REST and push requests and
// reads the user identity it carries.
//
// # Token sources
//
// LoadToken checks, in order:
//
//   - the token set in configuration
//   - the ROOMSYNC_TOKEN environment variable
//   - the configured token file
//   - $XDG_CONFIG_HOME/roomsync/token (or ~/.config/roomsync/token)
//
// A missing token is not an error; requests are then sent unauthenticated.
//
// # Identity
//
// The server signs tokens; the client cannot verify them and does not try.
// Inspect decodes the claims without verification so the client can learn
// its own user ID (the "sub" claim, or "id"/"userId"/"_id" as issued by some
// backends) and warn about expired tokens before the server rejects them.
package auth
