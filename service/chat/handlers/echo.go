package handlers

import (
	"ChatWave/service/chat"
)

// EchoHandler re-emits a room-scoped event verbatim to the other sessions
// in the chat room. Typing indicators and message mutations share the same
// mechanical fan-out; none of them are persisted here.
type EchoHandler struct {
	event string
}

func NewEchoHandler(event string) chat.Handler { return &EchoHandler{event: event} }

func (h *EchoHandler) Event() string { return h.event }

func (h *EchoHandler) Handle(ctx *chat.Context, f *chat.Frame, sess *chat.Session) error {
	ctx.S.RouteChatEcho(sess, f)
	return nil
}
