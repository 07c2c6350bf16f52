package dashboard

import (
	"bufio"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readEvent(t *testing.T, r *bufio.Reader) Event {
	t.Helper()
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		if strings.HasPrefix(line, "data: ") {
			var ev Event
			require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(strings.TrimSpace(line), "data: ")), &ev))
			return ev
		}
	}
}

func TestSSEServer_Publish(t *testing.T) {
	s := NewSSEServer(time.Hour)
	defer s.Stop()
	srv := httptest.NewServer(http.HandlerFunc(s.HandleSSE))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "?subscriber=ops")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	r := bufio.NewReader(resp.Body)
	assert.Equal(t, "connected", readEvent(t, r).Type)
	assert.Equal(t, []string{"ops"}, s.GetClients())

	s.Publish(NewEvent("poll_run", map[string]int{"processed": 2}))
	ev := readEvent(t, r)
	assert.Equal(t, "poll_run", ev.Type)
	assert.Equal(t, map[string]any{"processed": float64(2)}, ev.Data)
}

func TestWebSocketServer_Publish(t *testing.T) {
	s := NewWebSocketServer()
	srv := httptest.NewServer(http.HandlerFunc(s.HandleConnections))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return s.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	Feed{s}.Publish(NewEvent("upload", "a.xlsx"))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ev Event
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, "upload", ev.Type)
	assert.Equal(t, "a.xlsx", ev.Data)
}

func TestWebSocketServer_StalledClientDoesNotBlockPublish(t *testing.T) {
	s := NewWebSocketServer()
	s.writeTimeout = 100 * time.Millisecond
	srv := httptest.NewServer(http.HandlerFunc(s.HandleConnections))
	defer srv.Close()

	// connected but never reads
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return s.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	big := strings.Repeat("x", 1<<20)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 64; i++ {
			s.Publish(NewEvent("poll_run", big))
		}
	}()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Publish blocked on a client that stopped reading")
	}
	assert.Eventually(t, func() bool {
		s.Publish(NewEvent("poll_run", big))
		return s.ClientCount() == 0
	}, 5*time.Second, 20*time.Millisecond, "stalled client was never dropped")
}
