package httpapi

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"kiwoomd/internal/logger"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 45 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Local gateway; browsers on other origins are the expected clients.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsTransport adapts one websocket connection to stream.Transport.
// gorilla connections allow one concurrent writer, hence the mutex.
type wsTransport struct {
	conn *websocket.Conn

	mu     sync.Mutex
	closed bool
}

func (t *wsTransport) Send(payload []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return t.conn.WriteMessage(websocket.TextMessage, payload)
}

func (t *wsTransport) IsOpen() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.closed
}

func (t *wsTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	return t.conn.Close()
}

func (t *wsTransport) ping() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return t.conn.WriteMessage(websocket.PingMessage, nil)
}

// serveStream upgrades the request and subscribes the connection to the
// given hub streams until the peer goes away.
func (r *Router) serveStream(c *gin.Context, streams ...string) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warnf("ws: upgrade failed: %v", err)
		return
	}
	id := uuid.NewString()
	tr := &wsTransport{conn: conn}
	for _, s := range streams {
		r.hub.Subscribe(s, id, tr)
	}
	logger.Infof("ws: %s connected (%v)", id, streams)

	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.SetReadLimit(1 << 16)
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsPongWait))
		})
		// Inbound frames are ignored; the read pump only notices the
		// peer leaving.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			r.hub.UnsubscribeAll(id)
			tr.Close()
			logger.Infof("ws: %s disconnected", id)
			return
		case <-ticker.C:
			if err := tr.ping(); err != nil {
				r.hub.UnsubscribeAll(id)
				tr.Close()
				logger.Infof("ws: %s ping failed, dropped", id)
				return
			}
		}
	}
}
