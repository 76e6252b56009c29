// Package model defines the data shared by every roomsync component.
//
// # Entities
//
//   - Participant: a user as listed in the conversation directory
//   - Conversation: a directory entry, either a pair of participants or a
//     single counterpart when derived from a direct-message fetch
//   - Message: one chat line, with its Origin (fetch, push or local)
//
// Entities are values. Components never mutate a Message or Conversation
// they received; they build new slices instead.
//
// # Wire Shape
//
// Messages travel as:
//
//	{"_id": "m1", "conversationId": "c1", "sender": "u1", "text": "hi", "timestamp": 1000}
//
// A missing _id marks a message the server has not acknowledged yet.
// The timestamp is accepted as milliseconds since the epoch or as an
// RFC 3339 string.
//
// # Errors
//
// The error taxonomy is shared across packages so the conversation store can
// convert any failure into display state:
//
//   - ErrNetwork: transient, retry-eligible
//   - ErrUnauthorized: access denied, not retryable
//   - ErrNotFound: treated as an empty result
//   - ErrChannelDisconnected: push channel is down, room operations buffered
package model
