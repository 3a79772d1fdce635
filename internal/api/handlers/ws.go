package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/router-for-me/chatrelay/internal/api/middleware"
	apperrors "github.com/router-for-me/chatrelay/internal/errors"
	"github.com/router-for-me/chatrelay/internal/events"
	"github.com/router-for-me/chatrelay/internal/history"
	log "github.com/sirupsen/logrus"
)

const (
	wsMaxMessageBytes = 64 << 20
	wsWriteTimeout    = 30 * time.Second
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  32 << 10,
	WriteBufferSize: 32 << 10,
	// Origin policy is enforced by the CORS middleware.
	CheckOrigin: func(*http.Request) bool { return true },
}

// wsSink writes each event as one JSON text frame.
type wsSink struct {
	conn *websocket.Conn
}

func (s wsSink) Emit(ev events.Event) error {
	payload, err := events.Marshal(ev)
	if err != nil {
		return err
	}
	_ = s.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	if err = s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return err
	}
	middleware.RecordEvent(ev.Type())
	return nil
}

// ChatWebSocket handles GET /api/chat/ws. Each text frame carries one chat request
// with the same JSON shape as POST /api/chat; events of the turn come back as JSON
// text frames. Turns on one connection run sequentially. A request without a
// sessionId uses the connection's session, reported in the upgrade response.
func (h *ChatHandler) ChatWebSocket(c *gin.Context) {
	sessionID := c.Query("sessionId")
	if sessionID == "" {
		sessionID = history.NewSessionID(h.now())
	}
	header := http.Header{}
	header.Set(SessionHeader, sessionID)

	conn, err := wsUpgrader.Upgrade(c.Writer, c.Request, header)
	if err != nil {
		log.Debugf("websocket upgrade failed: %v", err)
		return
	}
	defer func() {
		if errClose := conn.Close(); errClose != nil {
			log.Debugf("websocket close error: %v", errClose)
		}
	}()
	conn.SetReadLimit(wsMaxMessageBytes)

	ctx := c.Request.Context()
	sink := wsSink{conn: conn}
	for {
		msgType, raw, errRead := conn.ReadMessage()
		if errRead != nil {
			if !websocket.IsCloseError(errRead, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debugf("websocket read ended: %v", errRead)
			}
			return
		}
		if msgType != websocket.TextMessage {
			if sink.Emit(events.Error{Content: "Expected a JSON text frame"}) != nil {
				return
			}
			continue
		}

		req, errParse := ParseChatRequest(raw)
		if errParse == nil {
			if req.SessionID == "" {
				req.SessionID = sessionID
			}
			var turn *preparedTurn
			if turn, errParse = h.prepare(ctx, req); errParse == nil {
				// A failed write surfaces on the next read.
				_ = h.execute(ctx, turn, sink)
				continue
			}
		}
		if sink.Emit(events.Error{Content: clientMessage(errParse)}) != nil {
			return
		}
	}
}

func clientMessage(err error) string {
	if appErr, ok := apperrors.As(err); ok {
		return appErr.Message
	}
	return "Internal server error"
}
