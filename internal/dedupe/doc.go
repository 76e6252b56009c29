// Package dedupe suppresses push frames the channel has already delivered.
//
// Room joins are replayed at least once after a reconnect, and a server may
// resend recent room traffic to a rejoining member. The channel records the
// server-assigned ID of every delivered message and drops a frame whose ID
// it has seen within the TTL. Frames without an ID (unacknowledged local
// echoes) are never suppressed here; the ordering package reconciles those.
package dedupe
