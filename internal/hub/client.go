package hub

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	once sync.Once
	done chan struct{}
}

func newClient(id string, conn *websocket.Conn) *client {
	return &client{
		id:   id,
		conn: conn,
		send: make(chan []byte, clientBuffer),
		done: make(chan struct{}),
	}
}

// close stops the write pump and the connection. Safe to call repeatedly.
func (c *client) close() {
	c.once.Do(func() {
		close(c.done)
		if c.conn != nil {
			_ = c.conn.Close()
		}
	})
}

func (c *client) trySend(data []byte) {
	select {
	case c.send <- data:
	default:
	}
}

func (c *client) writePump(logger zerolog.Logger) {
	for {
		select {
		case <-c.done:
			return
		case data := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				logger.Debug().Err(err).Msg("websocket write failed")
				c.close()
				return
			}
		}
	}
}
