// ABOUTME: In-memory Channel that records operations for tests
// ABOUTME: Simulates disconnects, buffered joins and inbound pushes

package channel

import (
	"context"
	"slices"
	"sync"

	"github.com/2389/roomsync/internal/model"
)

// OpKind identifies a recorded operation.
type OpKind string

const (
	OpJoin  OpKind = EventJoinRoom
	OpLeave OpKind = EventLeaveRoom
	OpSend  OpKind = EventSendMessage
)

// Op is an operation that reached the (simulated) server.
type Op struct {
	Kind           OpKind
	ConversationID string
	Message        model.Message
	// Replayed marks a join written from the reconnect buffer.
	Replayed bool
}

// MockChannel is an in-memory Channel. It starts connected.
type MockChannel struct {
	mu        sync.Mutex
	ops       []Op
	pending   []string
	connected bool
	sendErr   error
	closed    bool
	events    chan Event
}

// NewMockChannel creates a connected mock.
func NewMockChannel() *MockChannel {
	return &MockChannel{
		connected: true,
		events:    make(chan Event, eventBufferLen),
	}
}

// Join implements Channel.
func (m *MockChannel) Join(ctx context.Context, conversationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		if !slices.Contains(m.pending, conversationID) {
			m.pending = append(m.pending, conversationID)
		}
		return model.ErrChannelDisconnected
	}
	m.ops = append(m.ops, Op{Kind: OpJoin, ConversationID: conversationID})
	return nil
}

// Leave implements Channel.
func (m *MockChannel) Leave(ctx context.Context, conversationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		m.pending = slices.DeleteFunc(m.pending, func(id string) bool { return id == conversationID })
		return model.ErrChannelDisconnected
	}
	m.ops = append(m.ops, Op{Kind: OpLeave, ConversationID: conversationID})
	return nil
}

// Send implements Channel.
func (m *MockChannel) Send(ctx context.Context, msg model.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return m.sendErr
	}
	if !m.connected {
		return model.ErrChannelDisconnected
	}
	m.ops = append(m.ops, Op{Kind: OpSend, ConversationID: msg.ConversationID, Message: msg})
	return nil
}

// Events implements Channel.
func (m *MockChannel) Events() <-chan Event {
	return m.events
}

// Close implements Channel.
func (m *MockChannel) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		close(m.events)
	}
	return nil
}

// SetSendError makes Send fail with err until cleared with nil.
func (m *MockChannel) SetSendError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sendErr = err
}

// Disconnect drops the simulated connection and emits EventDisconnected.
func (m *MockChannel) Disconnect() {
	m.mu.Lock()
	m.connected = false
	m.mu.Unlock()
	m.emit(Event{Kind: EventDisconnected, Err: model.ErrChannelDisconnected})
}

// Reconnect restores the connection, replays buffered joins and emits
// EventReconnected.
func (m *MockChannel) Reconnect() {
	m.mu.Lock()
	m.connected = true
	for _, id := range m.pending {
		m.ops = append(m.ops, Op{Kind: OpJoin, ConversationID: id, Replayed: true})
	}
	m.pending = nil
	m.mu.Unlock()
	m.emit(Event{Kind: EventReconnected})
}

// Push delivers an inbound message.
func (m *MockChannel) Push(msg model.Message) {
	msg.Origin = model.OriginPush
	m.emit(Event{Kind: EventMessage, Message: msg})
}

// Ops returns the recorded operations in order.
func (m *MockChannel) Ops() []Op {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.ops)
}

// Sent returns the messages that reached the server.
func (m *MockChannel) Sent() []model.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Message
	for _, op := range m.ops {
		if op.Kind == OpSend {
			out = append(out, op.Message)
		}
	}
	return out
}

// Reset clears the recorded operations.
func (m *MockChannel) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ops = nil
}

func (m *MockChannel) emit(ev Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.events <- ev
}

var _ Channel = (*MockChannel)(nil)
