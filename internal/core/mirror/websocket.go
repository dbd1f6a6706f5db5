package mirror

import (
	"fmt"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/remixsync/remixsync/internal/core/observability/log"
)

// WebSocket is a mirror client speaking the frame protocol over a WebSocket
// connection to a remix hub.
type WebSocket struct {
	*streamClient
}

var _ Client = (*WebSocket)(nil)

// DialWebSocket connects to a hub's sync endpoint, e.g.
// "ws://localhost:8090/sync".
func DialWebSocket(url string, logger log.Log) (*WebSocket, error) {
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial hub %s: %w", url, err)
	}
	if logger == nil {
		logger = log.Provide()
	}
	wc := &wsFrameConn{conn: conn}
	return &WebSocket{
		streamClient: newStreamClient(wc, logger.With(log.String("transport", "websocket"))),
	}, nil
}

type wsFrameConn struct {
	writeMu sync.Mutex
	conn    *websocket.Conn
}

func (c *wsFrameConn) WriteFrame(f Frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(f)
}

func (c *wsFrameConn) ReadFrame() (Frame, error) {
	var f Frame
	if err := c.conn.ReadJSON(&f); err != nil {
		return Frame{}, err
	}
	return f, nil
}

func (c *wsFrameConn) Close() error {
	return c.conn.Close()
}
