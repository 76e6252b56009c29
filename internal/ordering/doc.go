// Package ordering merges messages from the three sources of a conversation
// view into one deduplicated, time-ordered sequence.
//
// # Sources
//
//   - fetch: a REST history snapshot, authoritative
//   - push: a live channel event, authoritative
//   - local: a message the user just composed, optimistic until echoed
//
// # Echo Reconciliation
//
// The server echoes every sent message to all room members, including the
// sender. A pushed message that matches an optimistic local entry promotes
// that entry instead of adding a second copy. Matching uses the client ID
// when both sides carry one, otherwise sender + text + a timestamp within
// the configured tolerance. The heuristic cannot tell apart two identical
// messages sent by the same user within the tolerance window; the earliest
// optimistic entry is promoted first.
//
// # Guarantees
//
// Merge never mutates its inputs and always returns a fresh slice sorted by
// timestamp. Entries with equal timestamps keep their relative order.
package ordering
