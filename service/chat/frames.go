package chat

import (
	"encoding/json"
	"fmt"
	"time"

	"ChatWave/tools/decode"
)

// Event names, kept byte-identical to what the browser client emits.
const (
	EvtSetup           = "setup"
	EvtJoinChat        = "join chat"
	EvtTyping          = "typing"
	EvtStopTyping      = "stop typing"
	EvtNewMessage      = "new message"
	EvtReadMessage     = "read message"
	EvtMessageDeleted  = "message deleted"
	EvtReactionUpdated = "reaction updated"

	EvtConnected       = "connected"
	EvtOnlineUsers     = "online users list"
	EvtUserPresence    = "user presence"
	EvtMessageReceived = "message received"
	EvtMessageRead     = "message read"
)

// Frame is the wire envelope: {"event": "...", "data": ...}.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func ParseFrameJSON(raw []byte) (*Frame, error) {
	f := &Frame{}
	if err := json.Unmarshal(raw, f); err != nil {
		return nil, fmt.Errorf("unmarshal frame failed: %w", err)
	}
	if f.Event == "" {
		return nil, fmt.Errorf("frame missing event")
	}
	return f, nil
}

// EncodeFrame builds an outbound frame. Marshal errors only happen for
// non-encodable payloads, which would be a programming bug.
func EncodeFrame(event string, data any) ([]byte, error) {
	var raw json.RawMessage
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("marshal %q payload: %w", event, err)
		}
		raw = b
	}
	return json.Marshal(Frame{Event: event, Data: raw})
}

// DecodePayload maps a frame's data object onto a typed payload struct.
func DecodePayload[T any](f *Frame) (*T, error) {
	var m map[string]any
	if err := json.Unmarshal(f.Data, &m); err != nil {
		return nil, fmt.Errorf("payload of %q is not an object: %w", f.Event, err)
	}
	return decode.DecodeMap[T](m)
}

// ExtractChatID accepts both encodings the client historically used for
// room-scoped events: a bare string chat id, or {"chatId": "..."}.
func ExtractChatID(f *Frame) string {
	var s string
	if err := json.Unmarshal(f.Data, &s); err == nil {
		return s
	}
	var obj struct {
		ChatID string `json:"chatId"`
	}
	if err := json.Unmarshal(f.Data, &obj); err == nil {
		return obj.ChatID
	}
	return ""
}

// ---- inbound payloads ----

type SetupPayload struct {
	UserID string `json:"userId"`
}

type ReadPayload struct {
	ChatID string `json:"chatId"`
	UserID string `json:"userId"`
}

// UserRef is the populated user identity inside a message payload.
type UserRef struct {
	ID string `json:"_id"`
}

// ChatRef carries the recipient identities for fan-out.
type ChatRef struct {
	ID    string    `json:"_id"`
	Users []UserRef `json:"users"`
}

// MessagePayload is a populated message document; the router only reads the
// sender and the chat participant list, the rest passes through verbatim.
type MessagePayload struct {
	ID      string  `json:"_id"`
	Sender  UserRef `json:"sender"`
	Content string  `json:"content,omitempty"`
	Chat    ChatRef `json:"chat"`
}

// ---- outbound payloads ----

type PresencePayload struct {
	UserID   string `json:"userId"`
	IsOnline bool   `json:"isOnline"`
	LastSeen int64  `json:"lastSeen,omitempty"`
}

func BuildPresenceOnline(userID string) ([]byte, error) {
	return EncodeFrame(EvtUserPresence, PresencePayload{UserID: userID, IsOnline: true})
}

func BuildPresenceOffline(userID string, lastSeen time.Time) ([]byte, error) {
	return EncodeFrame(EvtUserPresence, PresencePayload{
		UserID:   userID,
		IsOnline: false,
		LastSeen: lastSeen.UnixMilli(),
	})
}

func BuildOnlineUsers(ids []string) ([]byte, error) {
	if ids == nil {
		ids = []string{}
	}
	return EncodeFrame(EvtOnlineUsers, ids)
}

func BuildConnectedAck(sessionID, gatewayID string) ([]byte, error) {
	return EncodeFrame(EvtConnected, map[string]string{
		"sessionId": sessionID,
		"gatewayId": gatewayID,
	})
}
