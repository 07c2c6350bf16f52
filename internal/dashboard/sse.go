package dashboard

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"Mail2Ledger/internal/logger"
)

// Event is one item of the ingest activity feed.
type Event struct {
	Type string    `json:"type"`
	Time time.Time `json:"time"`
	Data any       `json:"data,omitempty"`
}

func NewEvent(kind string, data any) Event {
	return Event{Type: kind, Time: time.Now().UTC(), Data: data}
}

type SSEClient struct {
	id   string
	send chan []byte
	done chan struct{}
}

// SSEServer streams feed events to every connected client.
type SSEServer struct {
	mu           sync.RWMutex
	clients      map[string]*SSEClient
	pingInterval time.Duration
	stopCh       chan struct{}
	stopOnce     sync.Once
}

func NewSSEServer(pingInterval time.Duration) *SSEServer {
	if pingInterval <= 0 {
		pingInterval = 30 * time.Second
	}
	s := &SSEServer{
		clients:      make(map[string]*SSEClient),
		stopCh:       make(chan struct{}),
		pingInterval: pingInterval,
	}
	go s.pingClients()
	return s
}

// HandleSSE keeps the connection open and writes every event it is sent.
func (s *SSEServer) HandleSSE(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	id := r.URL.Query().Get("subscriber")
	if id == "" {
		id = uuid.NewString()
	}
	client := &SSEClient{id: id, send: make(chan []byte, 16), done: make(chan struct{})}

	s.mu.Lock()
	if existing, ok := s.clients[id]; ok {
		close(existing.done)
	}
	s.clients[id] = client
	s.mu.Unlock()

	log := logger.FromContext(r.Context()).With().Str("subscriber", id).Logger()
	log.Info().Str("remote", r.RemoteAddr).Msg("feed subscriber connected")
	defer func() {
		s.remove(client)
		log.Info().Msg("feed subscriber disconnected")
	}()

	if err := write(w, flusher, NewEvent("connected", map[string]string{"subscriber": id})); err != nil {
		return
	}
	for {
		select {
		case msg := <-client.send:
			if _, err := fmt.Fprintf(w, "data: %s\n\n", msg); err != nil {
				return
			}
			flusher.Flush()
		case <-client.done:
			return
		case <-r.Context().Done():
			return
		case <-s.stopCh:
			return
		}
	}
}

func write(w http.ResponseWriter, f http.Flusher, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err
	}
	f.Flush()
	return nil
}

func (s *SSEServer) remove(c *SSEClient) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.clients[c.id] == c {
		delete(s.clients, c.id)
	}
}

// Publish queues ev for every client. Slow clients drop events rather than block the publisher.
func (s *SSEServer) Publish(ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.clients {
		select {
		case c.send <- data:
		default:
		}
	}
}

func (s *SSEServer) pingClients() {
	ticker := time.NewTicker(s.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.Publish(NewEvent("ping", nil))
		case <-s.stopCh:
			return
		}
	}
}

func (s *SSEServer) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

// GetClients returns the connected subscriber ids.
func (s *SSEServer) GetClients() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.clients))
	for id := range s.clients {
		ids = append(ids, id)
	}
	return ids
}

func (s *SSEServer) GetClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}
