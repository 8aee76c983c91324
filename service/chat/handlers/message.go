package handlers

import (
	"ChatWave/service/chat"
)

// NewMessageHandler fans a populated message out to every recipient channel
// except the sender's.
type NewMessageHandler struct{}

func NewNewMessageHandler() chat.Handler { return &NewMessageHandler{} }

func (h *NewMessageHandler) Event() string { return chat.EvtNewMessage }

func (h *NewMessageHandler) Handle(ctx *chat.Context, f *chat.Frame, sess *chat.Session) error {
	ctx.S.RouteNewMessage(sess, f)
	return nil
}
