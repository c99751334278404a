package chat

import (
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"famly/middleware"
	midsec "famly/middleware/security"
)

func newUpgrader(allowed []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			return middleware.OriginAllowed(allowed, r.Header.Get("Origin"))
		},
	}
}

// HandleWS upgrades an authenticated request and runs the connection until
// either side closes it.
func (s *Server) HandleWS(c *gin.Context) {
	userID, ok := midsec.UserID(c)
	if !ok {
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}
	ws, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// the upgrader already answered with an HTTP error
		s.log.Info("upgrade websocket", zap.String("userId", userID), zap.Error(err))
		return
	}
	conn := s.hub.Connect(userID, c.ClientIP())
	s.serveConn(ws, conn)
}

func (s *Server) serveConn(ws *websocket.Conn, conn *Conn) {
	s.conns.Add(1)
	defer s.conns.Done()

	writerDone := make(chan struct{})
	go s.writePump(ws, conn, writerDone)

	s.readPump(ws, conn)
	s.hub.Disconnect(conn)
	<-writerDone
}

// readPump is the only reader of ws. Frames are dispatched one at a time in
// arrival order; acks go out through the connection's own queue.
func (s *Server) readPump(ws *websocket.Conn, conn *Conn) {
	ws.SetReadLimit(s.opts.ReadLimit)
	_ = ws.SetReadDeadline(time.Now().Add(s.opts.PongWait))
	ws.SetPongHandler(func(string) error {
		conn.Touch(time.Now())
		return ws.SetReadDeadline(time.Now().Add(s.opts.PongWait))
	})

	for {
		mt, data, err := ws.ReadMessage()
		if err != nil {
			s.logReadErr(conn, err)
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(s.opts.PongWait))
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}
		ack := s.hub.Dispatch(s.baseCtx, conn, data)
		if ack == nil {
			continue
		}
		if !conn.Reply(ack) {
			return
		}
	}
}

func (s *Server) logReadErr(conn *Conn, err error) {
	fields := []zap.Field{zap.String("connId", conn.ID), zap.String("userId", conn.UserID), zap.Error(err)}
	var ne net.Error
	switch {
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived):
		s.log.Debug("peer closed", fields...)
	case errors.As(err, &ne) && ne.Timeout():
		s.log.Info("read timeout", fields...)
	case errors.Is(err, websocket.ErrReadLimit):
		s.log.Warn("frame over read limit", fields...)
	case conn.Closed():
		s.log.Debug("connection closed locally", fields...)
	default:
		s.log.Info("read error", fields...)
	}
}

// writePump owns every write to ws: queued frames, keepalive pings and the
// final close frame. It closes ws on exit, which unblocks the reader.
func (s *Server) writePump(ws *websocket.Conn, conn *Conn, done chan<- struct{}) {
	ticker := time.NewTicker(s.opts.PingInterval)
	defer func() {
		ticker.Stop()
		_ = ws.Close()
		close(done)
	}()

	for {
		select {
		case frame := <-conn.Outbound():
			_ = ws.SetWriteDeadline(time.Now().Add(s.opts.WriteWait))
			if err := ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				s.log.Info("write frame", zap.String("connId", conn.ID), zap.Error(err))
				conn.Close()
				return
			}
		case <-ticker.C:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.opts.WriteWait)); err != nil {
				s.log.Info("write ping", zap.String("connId", conn.ID), zap.Error(err))
				conn.Close()
				return
			}
		case <-conn.Done():
			_ = ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(s.opts.WriteWait))
			return
		}
	}
}
