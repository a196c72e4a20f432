package channel

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeTimeout = 10 * time.Second
	readTimeout  = 90 * time.Second
	maxFrameSize = 1 << 20
)

type conn struct {
	ws *websocket.Conn

	sendMu sync.Mutex
	closed atomic.Bool
}

func newConn(ws *websocket.Conn) *conn {
	ws.SetReadLimit(maxFrameSize)
	return &conn{ws: ws}
}

func (c *conn) close() {
	if c.closed.Swap(true) {
		return
	}
	_ = c.ws.Close()
}

func (c *conn) writeText(msg []byte) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if err := c.ws.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.TextMessage, msg)
}

// readFrame returns the next text frame. Binary and control frames are
// consumed by gorilla or skipped here.
func (c *conn) readFrame() ([]byte, error) {
	for {
		if err := c.ws.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
			return nil, err
		}
		typ, data, err := c.ws.ReadMessage()
		if err != nil {
			return nil, err
		}
		if typ == websocket.TextMessage {
			return data, nil
		}
	}
}
