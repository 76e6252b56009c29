// ABOUTME: Websocket push channel with reconnect, ping and buffered room joins
// ABOUTME: Decodes inbound message frames and drops invalid or redelivered ones

package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"

	"github.com/2389/roomsync/internal/dedupe"
	"github.com/2389/roomsync/internal/metrics"
	"github.com/2389/roomsync/internal/model"
)

// Defaults for Config fields left zero.
const (
	DefaultReconnectInitial = 2 * time.Second
	DefaultReconnectMax     = 30 * time.Second
	DefaultPingInterval     = 30 * time.Second
	DefaultSendBuffer       = 64

	writeWait      = 10 * time.Second
	stableAfter    = 60 * time.Second
	maxFrameSize   = 1 << 20
	eventBufferLen = 256
)

// Config configures a WebSocket.
type Config struct {
	URL   string
	Token string

	ReconnectInitial time.Duration
	ReconnectMax     time.Duration
	PingInterval     time.Duration
	SendBuffer       int

	// Dedupe drops frames already delivered. Optional.
	Dedupe  *dedupe.Cache
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// WebSocket is the websocket implementation of Channel.
type WebSocket struct {
	cfg     Config
	dialer  *websocket.Dialer
	logger  *slog.Logger
	events  chan Event
	cancel  context.CancelFunc
	stopped chan struct{}

	mu      sync.Mutex
	conn    *wsConn
	pending []string
	started bool

	closeOnce sync.Once
}

// New creates a WebSocket. No connection is attempted until Start.
func New(cfg Config) *WebSocket {
	if cfg.ReconnectInitial <= 0 {
		cfg.ReconnectInitial = DefaultReconnectInitial
	}
	if cfg.ReconnectMax <= 0 {
		cfg.ReconnectMax = DefaultReconnectMax
	}
	if cfg.ReconnectMax < cfg.ReconnectInitial {
		cfg.ReconnectMax = cfg.ReconnectInitial
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = DefaultPingInterval
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = DefaultSendBuffer
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &WebSocket{
		cfg: cfg,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: writeWait,
		},
		logger:  logger.With("component", "channel"),
		events:  make(chan Event, eventBufferLen),
		stopped: make(chan struct{}),
	}
}

// Start launches the connect loop. It returns immediately; connection state
// is reported through Events. Calling Start more than once has no effect.
func (w *WebSocket) Start(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return
	}
	w.started = true

	ctx, w.cancel = context.WithCancel(ctx)
	go w.run(ctx)
}

// Events implements Channel.
func (w *WebSocket) Events() <-chan Event {
	return w.events
}

// Connected reports whether a connection is currently open.
func (w *WebSocket) Connected() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn != nil
}

// Join implements Channel.
func (w *WebSocket) Join(ctx context.Context, conversationID string) error {
	payload, err := encodeFrame(EventJoinRoom, conversationID)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.conn != nil {
		err := w.conn.enqueue(ctx, payload)
		if !errors.Is(err, model.ErrChannelDisconnected) {
			return err
		}
	}

	if !slices.Contains(w.pending, conversationID) {
		w.pending = append(w.pending, conversationID)
	}
	w.logger.Debug("join buffered", "conversation_id", conversationID)
	return model.ErrChannelDisconnected
}

// Leave implements Channel. A buffered join for the room is discarded.
func (w *WebSocket) Leave(ctx context.Context, conversationID string) error {
	payload, err := encodeFrame(EventLeaveRoom, conversationID)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.conn != nil {
		err := w.conn.enqueue(ctx, payload)
		if !errors.Is(err, model.ErrChannelDisconnected) {
			return err
		}
	}

	// A new connection starts with no rooms joined.
	w.pending = slices.DeleteFunc(w.pending, func(id string) bool { return id == conversationID })
	return model.ErrChannelDisconnected
}

// Send implements Channel.
func (w *WebSocket) Send(ctx context.Context, msg model.Message) error {
	payload, err := encodeFrame(EventSendMessage, msg)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.conn == nil {
		return model.ErrChannelDisconnected
	}
	return w.conn.enqueue(ctx, payload)
}

// Close stops the connect loop, closes any open connection and closes the
// event stream.
func (w *WebSocket) Close() error {
	w.closeOnce.Do(func() {
		w.mu.Lock()
		started := w.started
		w.started = true
		w.mu.Unlock()

		if !started {
			close(w.events)
			return
		}
		w.cancel()
		<-w.stopped
	})
	return nil
}

func (w *WebSocket) run(ctx context.Context) {
	defer close(w.stopped)
	defer close(w.events)

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = w.cfg.ReconnectInitial
	b.MaxInterval = w.cfg.ReconnectMax
	b.Reset()

	everConnected := false
	for {
		conn, err := w.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			delay := b.NextBackOff()
			w.logger.Warn("connect failed", "error", err, "retry_in", delay)
			if !sleep(ctx, delay) {
				return
			}
			continue
		}

		kind := EventConnected
		if everConnected {
			kind = EventReconnected
			w.cfg.Metrics.Reconnect()
		}
		everConnected = true

		start := time.Now()
		w.attach(conn)
		w.logger.Info("connected", "url", w.cfg.URL, "event", kind.String())
		if !w.emit(ctx, Event{Kind: kind}) {
			w.detach(conn)
			return
		}

		err = w.serve(ctx, conn)
		w.detach(conn)
		if ctx.Err() != nil {
			return
		}

		if time.Since(start) >= stableAfter {
			b.Reset()
		}
		delay := b.NextBackOff()
		w.logger.Warn("connection lost", "error", err, "retry_in", delay)
		if !w.emit(ctx, Event{Kind: EventDisconnected, Err: err}) {
			return
		}
		if !sleep(ctx, delay) {
			return
		}
	}
}

func (w *WebSocket) dial(ctx context.Context) (*wsConn, error) {
	header := http.Header{}
	if w.cfg.Token != "" {
		header.Set("Authorization", "Bearer "+w.cfg.Token)
	}

	ws, resp, err := w.dialer.DialContext(ctx, w.cfg.URL, header)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, fmt.Errorf("dialing %s: %w", w.cfg.URL, model.ErrUnauthorized)
		}
		return nil, fmt.Errorf("%w: dialing %s: %v", model.ErrNetwork, w.cfg.URL, err)
	}
	ws.SetReadLimit(maxFrameSize)
	return newWSConn(ws, w.cfg.SendBuffer), nil
}

// attach makes conn current and writes buffered joins to it.
func (w *WebSocket) attach(conn *wsConn) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.conn = conn
	for _, id := range w.pending {
		payload, err := encodeFrame(EventJoinRoom, id)
		if err != nil {
			continue
		}
		if err := conn.offer(payload); err != nil {
			w.logger.Warn("replaying join", "conversation_id", id, "error", err)
			continue
		}
		w.logger.Debug("join replayed", "conversation_id", id)
	}
	w.pending = nil
}

func (w *WebSocket) detach(conn *wsConn) {
	conn.close(websocket.CloseNormalClosure, "")

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.conn == conn {
		w.conn = nil
	}
}

// serve runs the write loop and read loop until either fails or ctx ends.
func (w *WebSocket) serve(ctx context.Context, conn *wsConn) error {
	stop := context.AfterFunc(ctx, func() {
		conn.close(websocket.CloseGoingAway, "client closing")
	})
	defer stop()

	writeDone := make(chan struct{})
	go func() {
		defer close(writeDone)
		if err := conn.writeLoop(w.cfg.PingInterval); err != nil {
			w.logger.Debug("write loop ended", "error", err)
		}
		conn.close(websocket.CloseAbnormalClosure, "write failed")
	}()

	err := w.readLoop(ctx, conn)
	conn.close(websocket.CloseNormalClosure, "")
	<-writeDone
	return err
}

func (w *WebSocket) readLoop(ctx context.Context, conn *wsConn) error {
	pongWait := 2 * w.cfg.PingInterval
	_ = conn.ws.SetReadDeadline(time.Now().Add(pongWait))
	conn.ws.SetPongHandler(func(string) error {
		return conn.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := conn.ws.ReadMessage()
		if err != nil {
			return fmt.Errorf("%w: %v", model.ErrChannelDisconnected, err)
		}
		_ = conn.ws.SetReadDeadline(time.Now().Add(pongWait))

		ev, ok := w.decode(data)
		if !ok {
			continue
		}
		if !w.emit(ctx, ev) {
			return ctx.Err()
		}
	}
}

// decode turns an inbound frame into a message event. ok is false for
// frames that are ignored or dropped.
func (w *WebSocket) decode(data []byte) (ev Event, ok bool) {
	if !gjson.ValidBytes(data) {
		w.logger.Debug("ignoring non-json frame", "size", len(data))
		return Event{}, false
	}

	name := gjson.GetBytes(data, "event").String()
	if name != EventNewMessage {
		w.logger.Debug("ignoring frame", "event", name)
		return Event{}, false
	}

	payload := gjson.GetBytes(data, "data")
	raw := []byte(payload.Raw)
	if payload.Type == gjson.String {
		raw = []byte(payload.Str)
	}

	var msg model.Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		w.logger.Warn("dropping undecodable message", "error", err)
		w.cfg.Metrics.PushDropped(metrics.DropInvalid)
		return Event{}, false
	}
	if err := msg.Validate(); err != nil {
		w.logger.Warn("dropping invalid message", "error", err)
		w.cfg.Metrics.PushDropped(metrics.DropInvalid)
		return Event{}, false
	}

	if msg.ID != "" && w.cfg.Dedupe != nil {
		if w.cfg.Dedupe.Observe(dedupe.FrameKey(msg.ConversationID, msg.ID)) {
			w.logger.Debug("dropping redelivered message",
				"conversation_id", msg.ConversationID,
				"message_id", msg.ID,
			)
			w.cfg.Metrics.PushDropped(metrics.DropDuplicate)
			return Event{}, false
		}
	}

	msg.Origin = model.OriginPush
	return Event{Kind: EventMessage, Message: msg}, true
}

func (w *WebSocket) emit(ctx context.Context, ev Event) bool {
	select {
	case w.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

var _ Channel = (*WebSocket)(nil)
