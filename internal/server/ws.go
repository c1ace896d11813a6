// ABOUTME: WebSocket endpoint - upgrades connections and pumps frames into the relay
// ABOUTME: One read loop per connection; the relay owns all frame semantics

package server

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// writeTimeout bounds a single frame write so one dead peer cannot
	// wedge a delivery loop.
	writeTimeout = 10 * time.Second

	maxFrameSize = 64 * 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The widget is embedded on customer sites; origin enforcement belongs
	// to the deployment edge, not this process.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsTransport adapts a gorilla connection to the relay's Transport. The
// relay serializes Send calls per connection, so no extra locking is needed
// here.
type wsTransport struct {
	conn *websocket.Conn
}

func (t *wsTransport) Send(v any) error {
	if err := t.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return t.conn.WriteJSON(v)
}

// handleWebSocket upgrades the HTTP request and runs the connection's read
// loop until the peer goes away.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	wsConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	wsConn.SetReadLimit(maxFrameSize)

	conn := s.relay.Connect(&wsTransport{conn: wsConn})
	logger := s.logger.With("conn_id", conn.ID, "remote", r.RemoteAddr)
	logger.Debug("websocket connected")

	defer func() {
		s.relay.Disconnect(conn.ID)
		_ = wsConn.Close()
		logger.Debug("websocket disconnected")
	}()

	for {
		msgType, data, err := wsConn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Warn("websocket read failed", "error", err)
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		s.relay.HandleFrame(r.Context(), conn, data)
	}
}
