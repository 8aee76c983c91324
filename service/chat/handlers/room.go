package handlers

import (
	"ChatWave/logger"
	"ChatWave/service/chat"
)

// JoinChatHandler subscribes the session to a chat-scoped channel.
type JoinChatHandler struct{}

func NewJoinChatHandler() chat.Handler { return &JoinChatHandler{} }

func (h *JoinChatHandler) Event() string { return chat.EvtJoinChat }

func (h *JoinChatHandler) Handle(ctx *chat.Context, f *chat.Frame, sess *chat.Session) error {
	chatID := chat.ExtractChatID(f)
	if chatID == "" {
		logger.Debugf("[join chat] missing chatId session=%s", sess.ID)
		return nil
	}
	ctx.S.JoinChat(sess, chatID)
	return nil
}
