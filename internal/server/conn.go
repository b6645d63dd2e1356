package server

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// conn is one websocket client. A reader goroutine feeds raw frames into
// the server's command queue; a writer goroutine drains the buffered out
// channel. The session goroutine never blocks on a socket: a full out
// channel drops the connection instead.
type conn struct {
	ws  *websocket.Conn
	out chan []byte
	log *zap.Logger

	closeOnce sync.Once
	done      chan struct{}
}

func newConn(ws *websocket.Conn, queueSize int, log *zap.Logger) *conn {
	return &conn{
		ws:   ws,
		out:  make(chan []byte, queueSize),
		log:  log,
		done: make(chan struct{}),
	}
}

// send enqueues a frame without blocking. A consumer that cannot keep up
// with the out queue gets disconnected rather than stalling the session
// goroutine.
func (c *conn) send(frame []byte) bool {
	select {
	case <-c.done:
		return false
	case c.out <- frame:
		return true
	default:
		c.log.Warn("out queue full, dropping connection",
			zap.String("remote", c.remote()))
		c.close()
		return false
	}
}

func (c *conn) remote() string {
	if c.ws == nil {
		return ""
	}
	return c.ws.RemoteAddr().String()
}

func (c *conn) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		if c.ws != nil {
			c.ws.Close()
		}
	})
}

// readPump reads frames until the socket dies, enforcing the per-second
// frame budget, and hands each frame to the session goroutine. The final
// command it emits is the close notification.
func (c *conn) readPump(s *GameServer) {
	defer func() {
		c.close()
		s.enqueue(command{c: c, closed: true})
	}()

	c.ws.SetReadLimit(s.cfg.Network.MaxFrameBytes)

	limit := s.cfg.Network.FramesPerSecond
	windowStart := time.Now()
	frames := 0

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}

		if limit > 0 {
			if now := time.Now(); now.Sub(windowStart) >= time.Second {
				windowStart = now
				frames = 0
			}
			frames++
			if frames > limit {
				c.log.Warn("frame rate exceeded, dropping connection",
					zap.String("remote", c.remote()),
					zap.Int("limit", limit))
				return
			}
		}

		s.enqueue(command{c: c, data: data})
	}
}

// writePump drains the out channel onto the socket.
func (c *conn) writePump(writeTimeout time.Duration) {
	defer c.close()
	for {
		select {
		case <-c.done:
			return
		case frame := <-c.out:
			c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		}
	}
}
