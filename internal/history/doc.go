// Package history retrieves the conversation directory and message history
// over the REST API.
//
// # Endpoints
//
//	GET /user/conversations                          directory entries
//	GET /fetch-messages/{conversationId}/{topicId}   summary record of a known conversation
//	GET /fetch-messages-for-user/{participantId}     direct history with a participant
//
// Directory records carry participant profile fields. A record without a
// conversationId describes a counterpart; its conversation is keyed by the
// counterpart's ID and its history is fetched by participant.
//
// # Errors
//
// Every call is read-only. Failures map onto the model taxonomy:
//
//   - transport failure, 5xx, 429: model.ErrNetwork
//   - 401, 403: model.ErrUnauthorized
//   - 404: model.ErrNotFound
//
// Callers decide whether a result is still wanted when it arrives; the
// client never cancels on its own.
//
// # Testing
//
// MockFetcher is an in-memory Fetcher whose calls can be held open with
// Block to reproduce slow responses.
package history
