package websocket

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/stemsi/mocktest-backend/internal/session"
)

const (
	writeWait = 10 * time.Second
	// PongWait is how long a silent connection is kept open.
	PongWait = 60 * time.Second
	// PingPeriod must be shorter than PongWait.
	PingPeriod = PongWait * 9 / 10
	// MaxMessageSize bounds one client frame.
	MaxMessageSize = 64 << 10
)

// Conn serializes writes to a gorilla connection, which allows only one
// concurrent writer. It implements session.Emitter.
type Conn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

// NewConn wraps conn and installs the read limit and pong handler.
func NewConn(conn *websocket.Conn) *Conn {
	conn.SetReadLimit(MaxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(PongWait))
	})
	return &Conn{conn: conn}
}

// Emit sends a session event as JSON.
func (c *Conn) Emit(ev session.Event) error {
	return c.WriteTyped(ev)
}

// WriteTyped sends a strongly-typed payload over the WebSocket.
func (c *Conn) WriteTyped(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(v)
}

// WriteError sends an error event.
func (c *Conn) WriteError(code, message string, fields map[string]string) error {
	return c.Emit(session.Event{
		Type: session.EventError,
		Data: ErrorResponse{Code: code, Message: message, Fields: fields},
	})
}

// Ping sends a control ping.
func (c *Conn) Ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

// Read returns the next text frame. Any frame extends the read deadline.
func (c *Conn) Read() ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	_ = c.conn.SetReadDeadline(time.Now().Add(PongWait))
	return data, nil
}

// Close sends a close frame with code and reason, then closes the socket.
func (c *Conn) Close(code int, reason string) error {
	c.mu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
	c.mu.Unlock()
	return c.conn.Close()
}
