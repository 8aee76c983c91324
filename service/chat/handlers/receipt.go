package handlers

import (
	"ChatWave/service/chat"
)

// ReadMessageHandler persists read markers and broadcasts the receipt to
// the whole room, reader's other sessions included.
type ReadMessageHandler struct{}

func NewReadMessageHandler() chat.Handler { return &ReadMessageHandler{} }

func (h *ReadMessageHandler) Event() string { return chat.EvtReadMessage }

func (h *ReadMessageHandler) Handle(ctx *chat.Context, f *chat.Frame, sess *chat.Session) error {
	ctx.S.RouteReadMessage(sess, f)
	return nil
}
