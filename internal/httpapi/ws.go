package httpapi

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"taskhive.org/internal/auth"
	"taskhive.org/internal/obs"
)

const (
	wsWriteWait    = 10 * time.Second
	wsPongWait     = 60 * time.Second
	wsPingInterval = 30 * time.Second
	wsSendBacklog  = 32
	wsMaxFrameSize = 512
)

var (
	errChannelClosed = errors.New("push channel closed")
	errChannelFull   = errors.New("push channel backlog full")
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || isLocalOrigin(origin)
	},
}

// wsChannel adapts a websocket connection to the push registry. Sends
// are queued and drained by a single writer goroutine; a full queue
// fails the send, which evicts the channel from the registry.
type wsChannel struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

func newWSChannel(conn *websocket.Conn) *wsChannel {
	return &wsChannel{
		conn: conn,
		send: make(chan []byte, wsSendBacklog),
		done: make(chan struct{}),
	}
}

func (c *wsChannel) Send(payload []byte) error {
	select {
	case <-c.done:
		return errChannelClosed
	default:
	}
	select {
	case c.send <- payload:
		return nil
	case <-c.done:
		return errChannelClosed
	default:
		return errChannelFull
	}
}

func (c *wsChannel) Close() error {
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
	return nil
}

func (c *wsChannel) writePump() {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()
	for {
		select {
		case payload := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				_ = c.Close()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = c.Close()
				return
			}
		case <-c.done:
			return
		}
	}
}

// handleWS upgrades the request and registers the connection for
// change pushes. The server never consumes client frames beyond
// keeping the read side alive for close and pong handling.
func (a *API) handleWS(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusForbidden, "authentication required")
		return
	}
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the failure response.
		return
	}

	ch := newWSChannel(conn)
	a.registry.Register(userID, ch)
	obs.WSConnOpened()
	defer func() {
		a.registry.Unregister(userID, ch)
		_ = ch.Close()
		obs.WSConnClosed()
	}()

	go ch.writePump()

	conn.SetReadLimit(wsMaxFrameSize)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	// Inbound frames carry no meaning; read and discard until the
	// peer goes away.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	}
}
