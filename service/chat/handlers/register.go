package handlers

import (
	"ChatWave/service/chat"
)

// RegisterAll wires every inbound event the gateway understands.
func RegisterAll(s *chat.Server) {
	d := s.Disp()
	d.Register(NewSetupHandler())
	d.Register(NewJoinChatHandler())
	d.Register(NewNewMessageHandler())
	d.Register(NewReadMessageHandler())
	d.Register(NewEchoHandler(chat.EvtTyping))
	d.Register(NewEchoHandler(chat.EvtStopTyping))
	d.Register(NewEchoHandler(chat.EvtMessageDeleted))
	d.Register(NewEchoHandler(chat.EvtReactionUpdated))
}
