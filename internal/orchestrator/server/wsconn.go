package server

import (
	"net/http"
	"time"

	"github.com/R3E-Network/robot-orchestrator/internal/orchestrator/protocol"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsConn adapts a gorilla/websocket connection to the Conn interface a
// Session drives.
type wsConn struct {
	ws *websocket.Conn
}

// Upgrade promotes an HTTP request to a websocket-backed Conn.
func Upgrade(w http.ResponseWriter, r *http.Request) (Conn, error) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	ws.SetReadLimit(1 << 20)
	return &wsConn{ws: ws}, nil
}

func (c *wsConn) Send(msg protocol.Message) error {
	raw, err := protocol.Marshal(msg)
	if err != nil {
		return err
	}
	_ = c.ws.SetWriteDeadline(time.Now().Add(DistributionTimeout))
	return c.ws.WriteMessage(websocket.TextMessage, raw)
}

func (c *wsConn) Receive() (protocol.Message, error) {
	_, raw, err := c.ws.ReadMessage()
	if err != nil {
		return protocol.Message{}, err
	}
	return protocol.Unmarshal(raw)
}

func (c *wsConn) Close() error {
	return c.ws.Close()
}
