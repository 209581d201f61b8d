package ws

import "encoding/json"

// Inbound event names (client to server).
const (
	EventJoinChat    = "join_chat"
	EventSendMessage = "send_message"
	EventLeaveChat   = "leave_chat"
)

// Outbound event names (server to client).
const (
	EventUserOnline     = "user_online"
	EventUserOffline    = "user_offline"
	EventReceiveMessage = "receive_message"
)

// envelope is the wire format for events in both directions.
type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// joinLeavePayload is the inbound payload for join_chat and leave_chat.
type joinLeavePayload struct {
	ChatID string `json:"chatId"`
	UserID string `json:"userId"`
}

// sendMessagePayload is the inbound payload for send_message. The message is
// passed through opaquely; durable storage happened on the REST path before
// the client asked for this broadcast.
type sendMessagePayload struct {
	ChatID  string          `json:"chatId"`
	Message json.RawMessage `json:"message"`
}

// presenceEvent is the outbound payload for user_online and user_offline.
type presenceEvent struct {
	UserID    string `json:"userId"`
	Timestamp string `json:"timestamp"`
}

// messageEvent is the outbound payload for receive_message. The timestamp is
// assigned at broadcast time and may differ from the persisted message's
// creation timestamp.
type messageEvent struct {
	Message   json.RawMessage `json:"message"`
	Timestamp string          `json:"timestamp"`
}

// encodeEvent marshals an outbound event envelope. Payload types above
// cannot fail to marshal, so errors are swallowed into a nil return.
func encodeEvent(event string, data any) []byte {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil
	}
	out, err := json.Marshal(envelope{Event: event, Data: raw})
	if err != nil {
		return nil
	}
	return out
}
