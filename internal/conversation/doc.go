// Package conversation holds the client's view of the conversation directory
// and the selected conversation's messages.
//
// # Overview
//
// Store is the single owner of sync state. It combines three inputs into one
// ordered message sequence for the selected conversation:
//
//   - history fetched over REST when a conversation is selected
//   - messages pushed by the channel for the joined room
//   - messages the user sends, shown optimistically before the server echo
//
// All three pass through ordering.Orderer, so the sequence is always sorted
// by timestamp and an echo replaces its optimistic copy instead of adding a
// duplicate.
//
// # State machines
//
// The directory moves Idle, Loading, Ready. The selection moves Unselected,
// Loading, Synced:
//
//	store.Select(ctx, "c1")   // clears messages, joins room, fetches, applies
//	store.Select(ctx, "")     // clears messages, leaves room
//
// Every Select bumps a generation counter. A fetch applies only if its
// generation is still current, so a slow response for a conversation the
// user already left never reaches the view. Fetch and send failures are
// recorded as state, never returned.
//
// # Pushes and sends
//
// ReceivePush applies a message when it belongs to the selected conversation.
// Anything else goes to the UnreadCounter. SendLocal appends an optimistic
// message and hands it to the channel; if the channel refuses it the message
// stays visible with Failed set and can be sent again with Resend.
//
// # Subscribing
//
// Subscribe streams an Update after every change. The Broadcaster never
// blocks the store; slow subscribers lose updates and should re-read
// Snapshot.
package conversation
