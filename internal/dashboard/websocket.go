package dashboard

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"Mail2Ledger/internal/logger"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

const (
	wsSendBuffer   = 16
	wsWriteTimeout = 10 * time.Second
)

// WebSocketServer pushes the same feed as SSEServer over websockets. Inbound messages are ignored.
// Each connection has its own writer goroutine; Publish never waits on a socket.
type WebSocketServer struct {
	mu           sync.Mutex
	clients      map[*websocket.Conn]*wsClient
	writeTimeout time.Duration
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

func (c *wsClient) close() {
	c.once.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

func NewWebSocketServer() *WebSocketServer {
	return &WebSocketServer{
		clients:      make(map[*websocket.Conn]*wsClient),
		writeTimeout: wsWriteTimeout,
	}
}

func (s *WebSocketServer) HandleConnections(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log := logger.FromContext(r.Context())
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	c := &wsClient{conn: conn, send: make(chan []byte, wsSendBuffer), done: make(chan struct{})}
	s.mu.Lock()
	s.clients[conn] = c
	s.mu.Unlock()

	go s.writeLoop(c)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			s.drop(c)
			return
		}
	}
}

func (s *WebSocketServer) writeLoop(c *wsClient) {
	for {
		select {
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				s.drop(c)
				return
			}
		case <-c.done:
			return
		}
	}
}

func (s *WebSocketServer) drop(c *wsClient) {
	s.mu.Lock()
	if s.clients[c.conn] == c {
		delete(s.clients, c.conn)
	}
	s.mu.Unlock()
	c.close()
}

// Publish queues ev for every connection. A client whose queue is full misses the event.
func (s *WebSocketServer) Publish(ev Event) {
	message, err := json.Marshal(ev)
	if err != nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.clients {
		select {
		case c.send <- message:
		default:
		}
	}
}

func (s *WebSocketServer) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// Feed fans one event out to several transports.
type Feed []interface{ Publish(Event) }

func (f Feed) Publish(ev Event) {
	for _, p := range f {
		if p != nil {
			p.Publish(ev)
		}
	}
}
