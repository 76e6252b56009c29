// ABOUTME: Single active room subscription with leave-before-join ordering
// ABOUTME: Re-joins the current room after the push channel reconnects

package rooms

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/2389/roomsync/internal/metrics"
	"github.com/2389/roomsync/internal/model"
)

// Joiner is the part of channel.Channel the manager drives.
type Joiner interface {
	Join(ctx context.Context, conversationID string) error
	Leave(ctx context.Context, conversationID string) error
}

// ChangeFunc observes a room transition. An empty ID means no room.
type ChangeFunc func(previous, next string)

// Manager holds the single active room subscription.
type Manager struct {
	mu        sync.Mutex
	ch        Joiner
	current   string
	pending   bool
	listeners []ChangeFunc
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// New creates a manager over ch. m may be nil.
func New(ch Joiner, logger *slog.Logger, m *metrics.Metrics) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		ch:      ch,
		metrics: m,
		logger:  logger.With("component", "rooms"),
	}
}

// OnChange registers fn for room transitions. Listeners run with the
// manager locked and must not call back into it.
func (m *Manager) OnChange(fn ChangeFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// Current returns the joined room, or "" when none.
func (m *Manager) Current() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Select makes conversationID the sole active room. An empty ID leaves the
// current room and joins nothing.
func (m *Manager) Select(ctx context.Context, conversationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if conversationID == m.current {
		return nil
	}

	previous := m.current
	if previous != "" {
		if err := m.ch.Leave(ctx, previous); err != nil && !errors.Is(err, model.ErrChannelDisconnected) {
			return fmt.Errorf("leaving room %s: %w", previous, err)
		}
		m.logger.Debug("left room", "conversation_id", previous)
	}
	m.current = ""
	m.pending = false

	if conversationID != "" {
		if err := m.join(ctx, conversationID); err != nil {
			m.notify(previous, "")
			return err
		}
	}

	m.current = conversationID
	m.notify(previous, conversationID)
	return nil
}

// Reconnected re-issues the join for the current room after the channel
// opens a new connection. A join still buffered for replay is not repeated.
func (m *Manager) Reconnected(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == "" {
		return nil
	}
	if m.pending {
		m.pending = false
		m.logger.Debug("join replayed by channel", "conversation_id", m.current)
		return nil
	}
	return m.join(ctx, m.current)
}

// join must be called with m.mu held.
func (m *Manager) join(ctx context.Context, conversationID string) error {
	err := m.ch.Join(ctx, conversationID)
	switch {
	case err == nil:
		m.logger.Debug("joined room", "conversation_id", conversationID)
	case errors.Is(err, model.ErrChannelDisconnected):
		m.pending = true
		m.logger.Debug("join pending reconnect", "conversation_id", conversationID)
	default:
		return fmt.Errorf("joining room %s: %w", conversationID, err)
	}
	m.metrics.RoomJoin()
	return nil
}

func (m *Manager) notify(previous, next string) {
	if previous == next {
		return
	}
	for _, fn := range m.listeners {
		fn(previous, next)
	}
}
