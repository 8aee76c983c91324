package handlers

import (
	"ChatWave/logger"
	"ChatWave/service/chat"
)

// SetupHandler binds the user identity to the session. A setup frame
// without a userId is ignored on purpose: the session stays Connected and
// closes later without side effects.
type SetupHandler struct{}

func NewSetupHandler() chat.Handler { return &SetupHandler{} }

func (h *SetupHandler) Event() string { return chat.EvtSetup }

func (h *SetupHandler) Handle(ctx *chat.Context, f *chat.Frame, sess *chat.Session) error {
	p, err := chat.DecodePayload[chat.SetupPayload](f)
	if err != nil {
		logger.Debugf("[setup] bad payload session=%s err=%v", sess.ID, err)
		return nil
	}
	ctx.S.Establish(sess, p.UserID)
	return nil
}
