// Package channel maintains the push connection that delivers new messages
// for the joined room.
//
// # Overview
//
// A Channel carries three outbound operations (join a room, leave a room,
// send a message) and produces a stream of Events: inbound messages and
// connection state changes. WebSocket is the production implementation;
// MockChannel records operations for tests.
//
// # Frames
//
// Every frame is a JSON text message:
//
//	{"event": "joinRoom",    "data": "<conversationId>"}
//	{"event": "leaveRoom",   "data": "<conversationId>"}
//	{"event": "sendMessage", "data": {<message>}}
//	{"event": "message",     "data": {<message>}}
//
// Only "message" is consumed inbound. Other events are logged at debug level
// and ignored. Inbound messages that fail validation are dropped, as are
// frames already delivered once (see package dedupe).
//
// # Reconnection
//
// WebSocket reconnects with exponential backoff. The delay resets after a
// connection stays up for a minute. Room joins issued while disconnected
// return model.ErrChannelDisconnected and are replayed when the next
// connection opens; sends issued while disconnected fail with the same error
// and are not replayed.
//
// The first successful connection emits EventConnected, each later one
// EventReconnected, always after buffered joins have been written.
package channel
