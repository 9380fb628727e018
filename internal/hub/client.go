package hub

import (
	"sync"
	"time"

	"paywallet-core/internal/core/domain"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const maxInboundMessageSize = 512

// Client is one authenticated live connection.
type Client struct {
	hub    *Hub
	userID uuid.UUID
	conn   *websocket.Conn
	send   chan domain.Event
	done   chan struct{}
	log    zerolog.Logger

	closeOnce sync.Once
}

// trySend queues an event without blocking. A closed client refuses the
// event; a full buffer means the peer is not draining and the event is
// dropped. The send channel itself is never closed, so a publish racing a
// teardown cannot panic.
func (c *Client) trySend(event domain.Event) bool {
	select {
	case <-c.done:
		return false
	case c.send <- event:
		return true
	default:
		c.log.Debug().Str("type", event.Type).Msg("event dropped, send buffer full")
		return false
	}
}

// closeSend signals the write pump to finish and close the connection.
func (c *Client) closeSend() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

// readPump consumes inbound frames. Clients send nothing after the auth
// frame; the pump exists to process pongs and detect the peer going away.
func (c *Client) readPump() {
	defer func() {
		c.hub.deregister(c)
		c.closeSend()
	}()

	c.conn.SetReadLimit(maxInboundMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(c.hub.cfg.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.hub.cfg.PongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Debug().Err(err).Msg("websocket read error")
			}
			return
		}
	}
}

// writePump serializes queued events onto the wire and keeps the
// connection alive with periodic pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(c.hub.cfg.PingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.hub.cfg.WriteWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case event := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.hub.cfg.WriteWait))
			payload, err := marshalEvent(event)
			if err != nil {
				c.log.Error().Err(err).Msg("event marshal failed")
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.hub.cfg.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
