package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// Peer is a Broadcaster backed by a websocket connection to the local
// hub. Messages published by this peer reach sibling processes through
// the hub; messages relayed by the hub invoke this peer's handlers.
type Peer struct {
	conn   *websocket.Conn
	logger *log.Logger

	mu       sync.Mutex
	handlers map[int]Handler
	nextID   int
	closed   bool

	cancel context.CancelFunc
	done   chan struct{}
}

var _ Broadcaster = (*Peer)(nil)

// ConnectPeer dials the hub at addr (host:port). Callers that should
// keep working without a hub use ConnectPeerOrNoop instead.
func ConnectPeer(ctx context.Context, addr string, logger *log.Logger) (*Peer, error) {
	if logger == nil {
		logger = log.New(os.Stderr, "[broadcast] ", log.LstdFlags)
	}

	url := fmt.Sprintf("ws://%s/channel/%s", addr, ChannelName)
	dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(dialCtx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial broadcast hub at %s: %w", addr, err)
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	p := &Peer{
		conn:     conn,
		logger:   logger,
		handlers: make(map[int]Handler),
		cancel:   runCancel,
		done:     make(chan struct{}),
	}

	go p.readLoop(runCtx)
	return p, nil
}

// ConnectPeerOrNoop dials the hub and degrades to the Noop broadcaster
// if it is unreachable, so sync still works network-only.
func ConnectPeerOrNoop(ctx context.Context, addr string, logger *log.Logger) Broadcaster {
	p, err := ConnectPeer(ctx, addr, logger)
	if err != nil {
		if logger != nil {
			logger.Printf("Broadcast hub unavailable, continuing without cross-process sync: %v", err)
		}
		return Noop{}
	}
	return p
}

// Publish implements Broadcaster.
func (p *Peer) Publish(msg Message) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return fmt.Errorf("broadcast peer is closed")
	}
	p.mu.Unlock()

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal broadcast message: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := p.conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("failed to publish broadcast message: %w", err)
	}
	return nil
}

// Subscribe implements Broadcaster.
func (p *Peer) Subscribe(h Handler) func() {
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.handlers[id] = h
	p.mu.Unlock()

	return func() {
		p.mu.Lock()
		delete(p.handlers, id)
		p.mu.Unlock()
	}
}

// Close implements Broadcaster.
func (p *Peer) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.handlers = make(map[int]Handler)
	p.mu.Unlock()

	p.cancel()
	err := p.conn.Close(websocket.StatusNormalClosure, "")
	<-p.done
	if err != nil {
		return fmt.Errorf("failed to close broadcast peer: %w", err)
	}
	return nil
}

// readLoop dispatches relayed messages to subscribers until the
// connection drops or the peer is closed.
func (p *Peer) readLoop(ctx context.Context) {
	defer close(p.done)

	for {
		_, data, err := p.conn.Read(ctx)
		if err != nil {
			p.mu.Lock()
			closed := p.closed
			p.mu.Unlock()
			if !closed {
				p.logger.Printf("Broadcast peer read error, cross-process sync stopped: %v", err)
			}
			return
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			p.logger.Printf("Dropping malformed broadcast: %v", err)
			continue
		}

		p.mu.Lock()
		handlers := make([]Handler, 0, len(p.handlers))
		for _, h := range p.handlers {
			handlers = append(handlers, h)
		}
		p.mu.Unlock()

		for _, h := range handlers {
			h(msg)
		}
	}
}
