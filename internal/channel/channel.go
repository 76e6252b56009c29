// ABOUTME: Channel interface and the events it produces
// ABOUTME: Shared by the websocket implementation and the test mock

package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/2389/roomsync/internal/model"
)

// Frame event names.
const (
	EventJoinRoom    = "joinRoom"
	EventLeaveRoom   = "leaveRoom"
	EventSendMessage = "sendMessage"
	EventNewMessage  = "message"
)

// EventKind identifies what an Event carries.
type EventKind int

const (
	EventMessage EventKind = iota
	EventConnected
	EventReconnected
	EventDisconnected
)

func (k EventKind) String() string {
	switch k {
	case EventMessage:
		return "message"
	case EventConnected:
		return "connected"
	case EventReconnected:
		return "reconnected"
	case EventDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Event is an inbound message or a connection state change.
type Event struct {
	Kind    EventKind
	Message model.Message
	// Err is set on EventDisconnected.
	Err error
}

// Channel is a push connection scoped to one joined room at a time.
type Channel interface {
	// Join subscribes to a room. Returns model.ErrChannelDisconnected when
	// the join was buffered for replay on reconnect.
	Join(ctx context.Context, conversationID string) error
	// Leave unsubscribes from a room.
	Leave(ctx context.Context, conversationID string) error
	// Send transmits a message. Returns model.ErrChannelDisconnected when
	// there is no connection.
	Send(ctx context.Context, msg model.Message) error
	// Events returns the inbound event stream. It is closed by Close.
	Events() <-chan Event
	Close() error
}

var errSendBufferFull = errors.New("send buffer full")

type frame struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

func encodeFrame(event string, data any) ([]byte, error) {
	b, err := json.Marshal(frame{Event: event, Data: data})
	if err != nil {
		return nil, fmt.Errorf("encoding %s frame: %w", event, err)
	}
	return b, nil
}
