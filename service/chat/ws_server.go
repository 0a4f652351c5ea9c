package chat

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"medishare/logger"
	"medishare/service/storage"
	"medishare/tools/ids"
	"medishare/tools/safe"
	"medishare/tools/security"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{ReadBufferSize: 4096, WriteBufferSize: 4096, CheckOrigin: func(r *http.Request) bool { return true }}

const pingEvery = 25 * time.Second

// HandleWS authenticates the handshake, registers the session and runs the
// read loop until the transport drops. Every inbound event is a discrete
// callback; errors stay contained to this connection.
func (s *Server) HandleWS(c *gin.Context) {
	token := handshakeToken(c)
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
		return
	}
	// The HTTP layer checked a credential already, but this connection is
	// long-lived and independent of any single request, so verify again.
	id, err := security.Verify(s.conf.JWT, token)
	if err != nil {
		logger.Infof("[WS] handshake rejected: %v", err)
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Infof("[WS] upgrade error: %v", err)
		return
	}

	sid := ids.GenerateString()
	sess, err := s.connMgr.Add(sid, id.UserID, id.Name, ws)
	if err != nil {
		logger.Errorf("[WS] register session error: %v", err)
		_ = ws.Close()
		return
	}
	s.connMgr.AttachPongHandler(ws, sid)
	logger.Infof("[WS] connected user=%s sid=%s remote=%v", id.UserID, sid, sess.Remote)

	if s.conf.PresenceTTL > 0 {
		if perr := storage.Online(c.Request.Context(), id.UserID, s.conf.NodeID, s.conf.PresenceTTL); perr != nil {
			logger.Warnf("[WS] presence online user=%s err=%v", id.UserID, perr)
		}
	}

	stopPing := make(chan struct{})
	safe.Go(func() { s.pingLoop(sess, stopPing) })

	s.readLoop(sess)

	// ---- exit: drop room subscription, notify peers (best effort),
	// clear presence, deregister ----
	close(stopPing)
	if room := s.rooms.DropSession(sid); room != "" {
		s.BroadcastRoom(room, BuildPresence(EvtUserLeft, room, sess.UserID, sess.UserName), sid)
	}
	if s.conf.PresenceTTL > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if perr := storage.Offline(ctx, sess.UserID); perr != nil {
			logger.Warnf("[WS] presence offline user=%s err=%v", sess.UserID, perr)
		}
		cancel()
	}
	s.connMgr.Remove(sid)
	logger.Infof("[WS] disconnected user=%s sid=%s", sess.UserID, sid)
}

func (s *Server) readLoop(sess *Session) {
	for {
		mt, data, rerr := sess.Conn.ReadMessage()
		if rerr != nil {
			if websocket.IsCloseError(rerr,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived,
			) {
				logger.Infof("[WS] peer closed sid=%s err=%v", sess.SID, rerr)
			} else if ne, ok := rerr.(net.Error); ok && ne.Timeout() {
				logger.Infof("[WS] read timeout sid=%s err=%v", sess.SID, rerr)
			} else {
				logger.Infof("[WS] read err sid=%s err=%v", sess.SID, rerr)
			}
			return
		}
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}
		_ = s.connMgr.RefreshHeartbeat(sess.SID)

		frame, perr := ParseFrameJSON(data)
		if perr != nil {
			sample := data
			if len(sample) > 256 {
				sample = sample[:256]
			}
			logger.Infof("[WS] ParseFrameJSON err sid=%s err=%v sample=%q", sess.SID, perr, sample)
			continue
		}

		h := s.disp.GetHandler(frame.Type)
		if h == nil {
			continue
		}
		if herr := h.Handle(&Context{S: s}, frame, sess); herr != nil {
			// Contained: surface to this connection only.
			logger.Infof("[WS] handler type=%s sid=%s err=%v", frame.Type, sess.SID, herr)
			s.Emit(sess, BuildErrorFrame(herr))
		}
	}
}

func (s *Server) pingLoop(sess *Session, stop <-chan struct{}) {
	t := time.NewTicker(pingEvery)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			deadline := time.Now().Add(5 * time.Second)
			if err := sess.Conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		}
	}
}

func handshakeToken(c *gin.Context) string {
	if t := strings.TrimSpace(c.Query("token")); t != "" {
		return t
	}
	authz := strings.TrimSpace(c.GetHeader("Authorization"))
	if strings.HasPrefix(strings.ToLower(authz), "bearer ") {
		return strings.TrimSpace(authz[len("bearer "):])
	}
	return ""
}
