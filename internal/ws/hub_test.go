package ws

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func dialTestHub(t *testing.T, hub *Hub) (*websocket.Conn, func()) {
	t.Helper()
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		hub.AddClient(conn)
	}))

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		srv.Close()
		t.Fatalf("dial: %v", err)
	}
	return conn, func() {
		conn.Close()
		srv.Close()
	}
}

func waitForCount(t *testing.T, hub *Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if hub.ClientCount() == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("expected %d clients, got %d", want, hub.ClientCount())
}

func TestBroadcastFanOut(t *testing.T) {
	hub := NewHub()

	c1, close1 := dialTestHub(t, hub)
	defer close1()
	c2, close2 := dialTestHub(t, hub)
	defer close2()
	waitForCount(t, hub, 2)

	payload := map[string]string{"status": "good"}
	hub.Broadcast(payload)

	for i, conn := range []*websocket.Conn{c1, c2} {
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var got map[string]string
		if err := conn.ReadJSON(&got); err != nil {
			t.Fatalf("client %d read: %v", i+1, err)
		}
		if got["status"] != "good" {
			t.Fatalf("client %d got %v", i+1, got)
		}
	}
}

func TestDisconnectRemovesClient(t *testing.T) {
	hub := NewHub()

	_, close1 := dialTestHub(t, hub)
	defer close1()
	c2, close2 := dialTestHub(t, hub)
	waitForCount(t, hub, 2)

	c2.Close()
	close2()
	waitForCount(t, hub, 1)

	// Broadcasting after a disconnect must not drop the surviving client.
	hub.Broadcast(map[string]string{"status": "ok"})
	waitForCount(t, hub, 1)
}
