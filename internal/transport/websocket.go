// Package transport streams live flow outcomes to WebSocket subscribers.
package transport

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/gateway-fm/watchdog/internal/metrics"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true // same-origin or direct connection
		}

		originURL, err := url.Parse(origin)
		if err != nil {
			return false
		}
		if originURL.Host == r.Host {
			return true
		}
		// Local dashboards during development.
		if originURL.Hostname() == "localhost" || originURL.Hostname() == "127.0.0.1" {
			return true
		}
		return false
	},
}

// Message is the wire envelope sent to subscribers.
type Message struct {
	Type string            `json:"type"` // "snapshot" or "run"
	Runs []metrics.FlowRun `json:"runs,omitempty"`
	Run  *metrics.FlowRun  `json:"run,omitempty"`
}

// WebSocketServer pushes sealed flow runs to connected clients. New clients
// receive a snapshot of every flow's latest run on connect, then individual
// runs as they seal.
type WebSocketServer struct {
	board  *metrics.Board
	logger *slog.Logger

	clients   map[*websocket.Conn]*sync.Mutex
	clientsMu sync.RWMutex

	runs chan metrics.FlowRun
	done chan struct{}
	once sync.Once
}

// NewWebSocketServer creates a WebSocket server over the given board.
func NewWebSocketServer(board *metrics.Board, logger *slog.Logger) *WebSocketServer {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebSocketServer{
		board:   board,
		logger:  logger,
		clients: make(map[*websocket.Conn]*sync.Mutex),
		runs:    make(chan metrics.FlowRun, 64),
		done:    make(chan struct{}),
	}
}

// Notify queues a sealed run for broadcast. It implements metrics.SealFunc
// and never blocks; when the queue is full the run is dropped, subscribers
// still converge through the next snapshot.
func (ws *WebSocketServer) Notify(run metrics.FlowRun) {
	select {
	case ws.runs <- run:
	default:
	}
}

// Handler returns the WebSocket HTTP handler.
func (ws *WebSocketServer) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			ws.logger.Error("websocket upgrade failed", slog.String("error", err.Error()))
			return
		}

		writeMu := &sync.Mutex{}
		ws.clientsMu.Lock()
		ws.clients[conn] = writeMu
		total := len(ws.clients)
		ws.clientsMu.Unlock()

		ws.logger.Debug("websocket client connected", slog.Int("total_clients", total))

		if err := ws.send(conn, writeMu, Message{Type: "snapshot", Runs: ws.board.Snapshot()}); err != nil {
			ws.logger.Debug("failed to send snapshot", slog.String("error", err.Error()))
		}

		defer func() {
			ws.clientsMu.Lock()
			delete(ws.clients, conn)
			total := len(ws.clients)
			ws.clientsMu.Unlock()
			conn.Close()

			ws.logger.Debug("websocket client disconnected", slog.Int("total_clients", total))
		}()

		// Drain client messages; subscribers only listen.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					ws.logger.Debug("websocket read error", slog.String("error", err.Error()))
				}
				return
			}
		}
	}
}

// Start begins the broadcast goroutine.
func (ws *WebSocketServer) Start() {
	go ws.broadcastLoop()
}

// Stop closes every client connection and stops broadcasting.
func (ws *WebSocketServer) Stop() {
	ws.once.Do(func() { close(ws.done) })

	ws.clientsMu.Lock()
	for conn := range ws.clients {
		conn.Close()
	}
	ws.clients = make(map[*websocket.Conn]*sync.Mutex)
	ws.clientsMu.Unlock()
}

func (ws *WebSocketServer) broadcastLoop() {
	// Periodic snapshots reconcile clients that missed a dropped run.
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ws.done:
			return
		case run := <-ws.runs:
			ws.broadcast(Message{Type: "run", Run: &run})
		case <-ticker.C:
			if ws.ClientCount() > 0 {
				ws.broadcast(Message{Type: "snapshot", Runs: ws.board.Snapshot()})
			}
		}
	}
}

func (ws *WebSocketServer) broadcast(msg Message) {
	ws.clientsMu.RLock()
	defer ws.clientsMu.RUnlock()

	for conn, mu := range ws.clients {
		if err := ws.send(conn, mu, msg); err != nil {
			// Cleaned up by the connection's read loop.
			ws.logger.Debug("failed to write to websocket", slog.String("error", err.Error()))
		}
	}
}

func (ws *WebSocketServer) send(conn *websocket.Conn, mu *sync.Mutex, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	mu.Lock()
	defer mu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, data)
}

// ClientCount returns the number of connected clients.
func (ws *WebSocketServer) ClientCount() int {
	ws.clientsMu.RLock()
	defer ws.clientsMu.RUnlock()
	return len(ws.clients)
}
