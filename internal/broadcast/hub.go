package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// Hub is the localhost websocket relay behind the broadcast channel.
//
// One hub runs per machine (the first inklet process starts it, or it
// runs as its own `inklet hub` process); every editor process connects
// as a Peer. A message received from one connection is relayed to all
// other connections, never echoed to the sender, matching
// BroadcastChannel semantics.
type Hub struct {
	addr     string
	listener net.Listener
	server   *http.Server

	clients   map[*websocket.Conn]bool
	clientsMu sync.RWMutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger *log.Logger
}

// HubConfig holds hub configuration.
type HubConfig struct {
	// Addr to listen on (default: 127.0.0.1:7411).
	Addr string

	// Logger for hub activity (default: stderr logger).
	Logger *log.Logger
}

// DefaultHubConfig returns sensible defaults.
func DefaultHubConfig() *HubConfig {
	return &HubConfig{
		Addr:   "127.0.0.1:7411",
		Logger: log.Default(),
	}
}

// NewHub creates a hub relay server.
func NewHub(config *HubConfig) *Hub {
	if config == nil {
		config = DefaultHubConfig()
	}
	if config.Logger == nil {
		config.Logger = log.Default()
	}
	if config.Addr == "" {
		config.Addr = "127.0.0.1:7411"
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Hub{
		addr:    config.Addr,
		clients: make(map[*websocket.Conn]bool),
		ctx:     ctx,
		cancel:  cancel,
		logger:  config.Logger,
	}
}

// Start begins listening and accepting peer connections.
func (h *Hub) Start() error {
	ln, err := net.Listen("tcp", h.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", h.addr, err)
	}
	h.listener = ln

	mux := http.NewServeMux()
	mux.HandleFunc("/channel/"+ChannelName, h.handleChannel)
	mux.HandleFunc("/health", h.handleHealth)

	h.server = &http.Server{
		Handler:      mux,
		ReadTimeout:  0, // relay connections are long-lived
		WriteTimeout: 0,
	}

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		h.logger.Printf("Broadcast hub listening on %s", ln.Addr())
		if err := h.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			h.logger.Printf("Hub server error: %v", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the hub.
func (h *Hub) Stop() error {
	h.logger.Println("Stopping broadcast hub")

	h.cancel()

	h.clientsMu.Lock()
	for conn := range h.clients {
		_ = conn.Close(websocket.StatusGoingAway, "hub shutting down")
		delete(h.clients, conn)
	}
	h.clientsMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := h.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("hub shutdown error: %w", err)
	}

	h.wg.Wait()
	return nil
}

// Addr returns the hub's listening address.
func (h *Hub) Addr() string {
	if h.listener != nil {
		return h.listener.Addr().String()
	}
	return h.addr
}

// ClientCount returns the number of connected peers.
func (h *Hub) ClientCount() int {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	return len(h.clients)
}

// handleChannel upgrades a peer connection and relays its messages.
func (h *Hub) handleChannel(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// Loopback-only service, peers are local processes.
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Printf("Peer upgrade failed: %v", err)
		return
	}

	h.clientsMu.Lock()
	h.clients[conn] = true
	count := len(h.clients)
	h.clientsMu.Unlock()

	h.logger.Printf("Peer connected (total: %d)", count)

	h.wg.Add(1)
	go h.relayLoop(conn)
}

// relayLoop reads messages from one peer and fans them out to all
// other peers. Malformed payloads are dropped.
func (h *Hub) relayLoop(sender *websocket.Conn) {
	defer h.wg.Done()
	defer h.removeClient(sender)

	for {
		_, data, err := sender.Read(h.ctx)
		if err != nil {
			return
		}

		// Validate before relaying so one bad peer can't poison siblings.
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			h.logger.Printf("Dropping malformed broadcast: %v", err)
			continue
		}

		h.clientsMu.RLock()
		peers := make([]*websocket.Conn, 0, len(h.clients))
		for conn := range h.clients {
			if conn != sender {
				peers = append(peers, conn)
			}
		}
		h.clientsMu.RUnlock()

		for _, conn := range peers {
			ctx, cancel := context.WithTimeout(h.ctx, 5*time.Second)
			err := conn.Write(ctx, websocket.MessageText, data)
			cancel()

			if err != nil {
				h.logger.Printf("Failed to relay to peer: %v", err)
				h.removeClient(conn)
			}
		}
	}
}

// removeClient safely removes a peer connection.
func (h *Hub) removeClient(conn *websocket.Conn) {
	h.clientsMu.Lock()
	if _, exists := h.clients[conn]; exists {
		delete(h.clients, conn)
		count := len(h.clients)
		h.clientsMu.Unlock()

		_ = conn.Close(websocket.StatusNormalClosure, "")
		h.logger.Printf("Peer disconnected (total: %d)", count)
	} else {
		h.clientsMu.Unlock()
	}
}

// handleHealth returns hub health status.
func (h *Hub) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.clientsMu.RLock()
	count := len(h.clients)
	h.clientsMu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status": "ok",
		"peers":  count,
	})
}
