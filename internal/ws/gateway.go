package ws

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/parley-chat/parley/internal/metrics"
)

// Gateway owns the room registry and handles the connection lifecycle and
// event dispatch for realtime clients. Registry state is initialized once at
// process start and never reset.
type Gateway struct {
	registry *Registry
	logger   zerolog.Logger
	upgrader websocket.Upgrader
}

// NewGateway creates the gateway. allowedOrigin is the browser origin
// admitted by the upgrade handshake; "*" admits any.
func NewGateway(logger zerolog.Logger, allowedOrigin string) *Gateway {
	return &Gateway{
		registry: NewRegistry(),
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				if allowedOrigin == "*" {
					return true
				}
				origin := r.Header.Get("Origin")
				return origin == "" || origin == allowedOrigin
			},
		},
	}
}

// Registry exposes the room registry for diagnostics.
func (g *Gateway) Registry() *Registry {
	return g.registry
}

// HandleWS upgrades the HTTP request to a websocket connection and starts the
// client's pumps. An optional bearer credential is captured from the "token"
// query parameter or the Authorization header; its absence does not reject
// the connection. The credential is not verified before use, every
// application-level event carries its own user id.
func (g *Gateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}

	token := r.URL.Query().Get("token")
	if token == "" {
		if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
			token = strings.TrimPrefix(h, "Bearer ")
		}
	}

	client := newClient(conn, token)
	metrics.WSConnections.Inc()
	g.logger.Info().
		Str("conn", client.id).
		Str("remote_addr", r.RemoteAddr).
		Bool("token_present", token != "").
		Msg("websocket connected")

	go client.writePump()
	go client.readPump(g)
}

// dispatch routes one inbound event. Malformed events are dropped rather
// than propagated; realtime handlers never raise errors to the client.
func (g *Gateway) dispatch(c *Client, raw []byte) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil || env.Event == "" {
		g.dropEvent(c, "unparseable event")
		return
	}

	metrics.WSEvents.WithLabelValues(env.Event).Inc()

	switch env.Event {
	case EventJoinChat:
		g.handleJoin(c, env.Data)
	case EventSendMessage:
		g.handleSend(c, env.Data)
	case EventLeaveChat:
		g.handleLeave(c, env.Data)
	default:
		g.dropEvent(c, "unknown event "+env.Event)
	}
}

// handleJoin subscribes the connection to the chat's room and notifies the
// other members. The join is recorded before the broadcast so a member
// snapshot taken by a concurrent send reflects joins that preceded it.
func (g *Gateway) handleJoin(c *Client, data json.RawMessage) {
	var p joinLeavePayload
	if err := json.Unmarshal(data, &p); err != nil || p.ChatID == "" || p.UserID == "" {
		g.dropEvent(c, "join_chat missing chatId or userId")
		return
	}

	room := RoomKey(p.ChatID)
	g.registry.Join(c, room)
	g.logger.Info().
		Str("conn", c.id).
		Str("user", p.UserID).
		Str("room", room).
		Msg("joined chat room")

	payload := encodeEvent(EventUserOnline, presenceEvent{
		UserID:    p.UserID,
		Timestamp: eventTimestamp(),
	})
	sent := g.registry.Broadcast(room, payload, c)
	metrics.WSBroadcasts.WithLabelValues(EventUserOnline).Add(float64(sent))
}

// handleSend broadcasts a message to every connection in the room, including
// the sender's own so their other devices receive the echo. Transport-only;
// the REST path already persisted the message.
func (g *Gateway) handleSend(c *Client, data json.RawMessage) {
	var p sendMessagePayload
	if err := json.Unmarshal(data, &p); err != nil || p.ChatID == "" || len(p.Message) == 0 {
		g.dropEvent(c, "send_message missing chatId or message")
		return
	}

	room := RoomKey(p.ChatID)
	payload := encodeEvent(EventReceiveMessage, messageEvent{
		Message:   p.Message,
		Timestamp: eventTimestamp(),
	})
	sent := g.registry.Broadcast(room, payload, nil)
	metrics.WSBroadcasts.WithLabelValues(EventReceiveMessage).Add(float64(sent))
	g.logger.Debug().
		Str("conn", c.id).
		Str("room", room).
		Int("delivered", sent).
		Msg("message broadcast")
}

// handleLeave unsubscribes the connection from the chat's room and notifies
// the remaining members.
func (g *Gateway) handleLeave(c *Client, data json.RawMessage) {
	var p joinLeavePayload
	if err := json.Unmarshal(data, &p); err != nil || p.ChatID == "" || p.UserID == "" {
		g.dropEvent(c, "leave_chat missing chatId or userId")
		return
	}

	room := RoomKey(p.ChatID)
	g.registry.Leave(c, room)
	g.logger.Info().
		Str("conn", c.id).
		Str("user", p.UserID).
		Str("room", room).
		Msg("left chat room")

	payload := encodeEvent(EventUserOffline, presenceEvent{
		UserID:    p.UserID,
		Timestamp: eventTimestamp(),
	})
	sent := g.registry.Broadcast(room, payload, c)
	metrics.WSBroadcasts.WithLabelValues(EventUserOffline).Add(float64(sent))
}

// disconnect cleans up after a transport close or error. Unlike an explicit
// leave, no user_offline is emitted to other members; the gateway has no
// verified user identity for the connection to announce.
func (g *Gateway) disconnect(c *Client) {
	g.registry.release(c)
	c.conn.Close()
	metrics.WSConnections.Dec()
	g.logger.Info().Str("conn", c.id).Msg("websocket disconnected")
}

func (g *Gateway) dropEvent(c *Client, reason string) {
	metrics.WSEventsDropped.Inc()
	g.logger.Debug().Str("conn", c.id).Str("reason", reason).Msg("dropped inbound event")
}

// eventTimestamp formats the broadcast-time timestamp, assigned when the
// event is emitted rather than when the message was created.
func eventTimestamp() string {
	return time.Now().UTC().Format("2006-01-02T15:04:05.000Z")
}
