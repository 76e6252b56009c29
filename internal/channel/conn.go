// ABOUTME: Single websocket connection with a buffered outbound queue
// ABOUTME: One write loop owns all data frames and keepalive pings

package channel

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/2389/roomsync/internal/model"
)

type wsConn struct {
	ws   *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

func newWSConn(ws *websocket.Conn, buffer int) *wsConn {
	return &wsConn{
		ws:   ws,
		send: make(chan []byte, buffer),
		done: make(chan struct{}),
	}
}

// enqueue queues payload for the write loop, waiting for buffer space.
func (c *wsConn) enqueue(ctx context.Context, payload []byte) error {
	select {
	case <-c.done:
		return model.ErrChannelDisconnected
	default:
	}

	select {
	case c.send <- payload:
		return nil
	case <-c.done:
		return model.ErrChannelDisconnected
	case <-ctx.Done():
		return ctx.Err()
	}
}

// offer queues payload without waiting.
func (c *wsConn) offer(payload []byte) error {
	select {
	case c.send <- payload:
		return nil
	case <-c.done:
		return model.ErrChannelDisconnected
	default:
		return errSendBufferFull
	}
}

func (c *wsConn) close(code int, reason string) {
	c.once.Do(func() {
		close(c.done)
		_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
		_ = c.ws.Close()
	})
}

func (c *wsConn) writeLoop(pingPeriod time.Duration) error {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return nil
		case payload := <-c.send:
			if err := c.write(websocket.TextMessage, payload); err != nil {
				return err
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				return err
			}
		}
	}
}

func (c *wsConn) write(messageType int, payload []byte) error {
	if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.ws.WriteMessage(messageType, payload)
}
