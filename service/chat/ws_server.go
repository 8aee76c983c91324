package chat

import (
	"net"
	"net/http"
	"time"

	"ChatWave/logger"
	"ChatWave/tools/ids"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// HandleWS upgrades the request and runs the session's read loop. One
// goroutine reads, one (writePump) writes; the read loop never touches the
// socket for writing.
func (s *Server) HandleWS(c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Infof("[ws] upgrade error: %v", err)
		return
	}

	sess := NewSession(ids.GenerateString(), ws, s.cfg.SendQueueSize)
	go sess.writePump()

	// liveness: the pong handler extends the read deadline; a peer that
	// stops answering pings times out and takes the disconnect path
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	if ack, err := BuildConnectedAck(sess.ID, s.cfg.GatewayID); err == nil {
		sess.enqueue(ack)
	}

	for {
		mt, data, rerr := ws.ReadMessage()
		if rerr != nil {
			if websocket.IsCloseError(rerr,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived,
			) {
				logger.Debugf("[ws] peer closed session=%s err=%v", sess.ID, rerr)
			} else if ne, ok := rerr.(net.Error); ok && ne.Timeout() {
				logger.Infof("[ws] read timeout session=%s user=%s", sess.ID, sess.UserID())
			} else {
				logger.Debugf("[ws] read err session=%s err=%v", sess.ID, rerr)
			}
			break
		}
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}

		f, perr := ParseFrameJSON(data)
		if perr != nil {
			sample := data
			if len(sample) > 256 {
				sample = sample[:256]
			}
			logger.Infof("[ws] bad frame session=%s err=%v sample=%q", sess.ID, perr, sample)
			continue
		}

		if err := s.DispatchFrame(f, sess); err != nil {
			logger.Debugf("[ws] dispatch event=%q session=%s err=%v", f.Event, sess.ID, err)
		}
	}

	s.Disconnect(sess)
}
