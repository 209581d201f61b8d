package ws

import (
	"time"

	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 8192
	sendBuffer     = 256
)

// Client represents one live websocket connection. It carries the optional
// bearer credential captured at handshake time; the credential is not
// verified before use (lenient-auth policy), application events carry their
// own user id.
type Client struct {
	id    string
	conn  *websocket.Conn
	send  chan []byte
	token string

	// closed is guarded by the registry mutex; it prevents a double close
	// of send between eviction and disconnect.
	closed bool
}

// newClient wraps an upgraded connection. The id is an opaque ULID used only
// for logging.
func newClient(conn *websocket.Conn, token string) *Client {
	return &Client{
		id:    ulid.Make().String(),
		conn:  conn,
		send:  make(chan []byte, sendBuffer),
		token: token,
	}
}

// ID returns the client's opaque connection id.
func (c *Client) ID() string {
	return c.id
}

// readPump reads inbound events from the connection and hands them to the
// gateway, in arrival order, until the transport closes or errors.
func (c *Client) readPump(g *Gateway) {
	defer g.disconnect(c)

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				g.logger.Debug().Str("conn", c.id).Err(err).Msg("websocket read error")
			}
			return
		}
		g.dispatch(c, raw)
	}
}

// writePump drains the send channel onto the connection and keeps the
// connection alive with pings. It exits when the send channel is closed or a
// write fails.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
