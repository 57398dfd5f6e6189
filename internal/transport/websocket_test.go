package transport

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/gateway-fm/watchdog/internal/metrics"
	"github.com/gateway-fm/watchdog/internal/watchdog"
)

func dial(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return msg
}

func TestWebSocketSnapshotOnConnect(t *testing.T) {
	board := metrics.NewBoard()
	board.Observe(metrics.FlowRun{Flow: "transfer", Status: watchdog.StatusOK})

	ws := NewWebSocketServer(board, nil)
	ws.Start()
	defer ws.Stop()

	server := httptest.NewServer(ws.Handler())
	defer server.Close()

	conn := dial(t, server)
	msg := readMessage(t, conn)
	if msg.Type != "snapshot" {
		t.Fatalf("first message type = %q, want snapshot", msg.Type)
	}
	if len(msg.Runs) != 1 || msg.Runs[0].Flow != "transfer" {
		t.Fatalf("snapshot runs = %+v", msg.Runs)
	}
}

func TestWebSocketBroadcastsSealedRuns(t *testing.T) {
	board := metrics.NewBoard()
	ws := NewWebSocketServer(board, nil)
	ws.Start()
	defer ws.Stop()

	server := httptest.NewServer(ws.Handler())
	defer server.Close()

	conn := dial(t, server)
	readMessage(t, conn) // initial snapshot

	ws.Notify(metrics.FlowRun{Flow: "deposit", Status: watchdog.StatusSkip})

	msg := readMessage(t, conn)
	if msg.Type != "run" {
		t.Fatalf("message type = %q, want run", msg.Type)
	}
	if msg.Run == nil || msg.Run.Flow != "deposit" || msg.Run.Status != watchdog.StatusSkip {
		t.Fatalf("run = %+v", msg.Run)
	}
}

func TestWebSocketClientCount(t *testing.T) {
	ws := NewWebSocketServer(metrics.NewBoard(), nil)
	ws.Start()
	defer ws.Stop()

	server := httptest.NewServer(ws.Handler())
	defer server.Close()

	conn := dial(t, server)
	readMessage(t, conn)

	deadline := time.Now().Add(time.Second)
	for ws.ClientCount() != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("client count = %d, want 1", ws.ClientCount())
		}
		time.Sleep(5 * time.Millisecond)
	}
}
