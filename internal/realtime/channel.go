// Package realtime maintains a push channel to the sync server so
// changes made on other devices arrive without polling. The channel
// reconnects automatically with exponential backoff and goes dormant
// while the process is offline.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"os"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/inklet/inklet/internal/backoff"
)

// ConnState is the channel's connection state.
type ConnState int

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
)

func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// Conn is the transport under the channel. The production
// implementation wraps a websocket connection; tests substitute an
// in-memory pipe.
type Conn interface {
	Read(ctx context.Context) ([]byte, error)
	Close() error
}

// DialFunc establishes a transport connection to the given URL.
type DialFunc func(ctx context.Context, u string) (Conn, error)

// Config holds channel construction parameters.
type Config struct {
	// URL of the server's realtime endpoint, e.g.
	// wss://sync.example.com/realtime.
	URL string

	// Token is sent as a query parameter for authentication.
	Token string

	// DeviceID identifies this device to the server so it can skip
	// echoing this device's own changes back. Generated if empty.
	DeviceID string

	// Dial overrides the websocket dialer. Nil uses the default.
	Dial DialFunc

	// Backoff policy between reconnect attempts.
	Backoff backoff.Policy

	// Logger for channel activity. If nil, a default logger writing
	// to stderr is used.
	Logger *log.Logger
}

// Channel is an auto-reconnecting push channel.
//
// After Connect, a single goroutine owns the connection lifecycle:
// dial, read until failure, back off, dial again. A successful dial
// resets the backoff attempt counter. Destroy stops the goroutine
// permanently; SetOnline(false) parks it until connectivity returns.
type Channel struct {
	url      string
	deviceID string
	dial     DialFunc
	backoff  backoff.Policy
	logger   *log.Logger

	mu            sync.Mutex
	state         ConnState
	connectionID  string
	lastHeartbeat *time.Time
	online        bool
	destroyed     bool
	started       bool
	conn          Conn
	eventHandlers map[string]map[int]func(Event)
	stateHandlers map[int]func(ConnState)
	nextHandler   int

	cancel context.CancelFunc
	wake   chan struct{}
	done   chan struct{}
}

// New creates a channel. It does not connect; call Connect.
func New(cfg Config) *Channel {
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "[realtime] ", log.LstdFlags)
	}
	if cfg.DeviceID == "" {
		cfg.DeviceID = uuid.NewString()
	}
	if cfg.Backoff == (backoff.Policy{}) {
		cfg.Backoff = backoff.Default()
	}

	dial := cfg.Dial
	if dial == nil {
		dial = dialWebsocket
	}

	u := cfg.URL
	if cfg.Token != "" || cfg.DeviceID != "" {
		q := url.Values{}
		if cfg.Token != "" {
			q.Set("token", cfg.Token)
		}
		q.Set("device", cfg.DeviceID)
		sep := "?"
		for i := range u {
			if u[i] == '?' {
				sep = "&"
				break
			}
		}
		u += sep + q.Encode()
	}

	return &Channel{
		url:           u,
		deviceID:      cfg.DeviceID,
		dial:          dial,
		backoff:       cfg.Backoff,
		logger:        cfg.Logger,
		state:         StateDisconnected,
		online:        true,
		eventHandlers: make(map[string]map[int]func(Event)),
		stateHandlers: make(map[int]func(ConnState)),
		wake:          make(chan struct{}, 1),
		done:          make(chan struct{}),
	}
}

// wsConn adapts a coder/websocket connection to Conn.
type wsConn struct {
	c *websocket.Conn
}

func (w *wsConn) Read(ctx context.Context) ([]byte, error) {
	_, data, err := w.c.Read(ctx)
	return data, err
}

func (w *wsConn) Close() error {
	return w.c.Close(websocket.StatusNormalClosure, "")
}

func dialWebsocket(ctx context.Context, u string) (Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	c, _, err := websocket.Dial(dialCtx, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", u, err)
	}
	c.SetReadLimit(1 << 20)
	return &wsConn{c: c}, nil
}

// Connect starts the connection loop. Calling Connect twice or after
// Destroy is a no-op.
func (ch *Channel) Connect(ctx context.Context) {
	ch.mu.Lock()
	if ch.started || ch.destroyed {
		ch.mu.Unlock()
		return
	}
	ch.started = true
	runCtx, cancel := context.WithCancel(ctx)
	ch.cancel = cancel
	ch.mu.Unlock()

	go ch.run(runCtx)
}

func (ch *Channel) run(ctx context.Context) {
	defer close(ch.done)
	defer ch.setState(StateDisconnected)

	attempt := 0
	for {
		if ctx.Err() != nil {
			return
		}

		if !ch.isOnline() {
			// Parked: reconnecting while offline just burns attempts.
			select {
			case <-ctx.Done():
				return
			case <-ch.wake:
			}
			attempt = 0
			continue
		}

		ch.setState(StateConnecting)
		conn, err := ch.dial(ctx, ch.url)
		if err != nil {
			ch.setState(StateDisconnected)
			delay := ch.backoff.Delay(attempt)
			attempt++
			ch.logger.Printf("Connection attempt %d failed, retrying in %s: %v", attempt, delay.Round(time.Millisecond), err)
			select {
			case <-ctx.Done():
				return
			case <-ch.wake:
				attempt = 0
			case <-time.After(delay):
			}
			continue
		}

		attempt = 0
		ch.mu.Lock()
		ch.conn = conn
		ch.mu.Unlock()
		ch.setState(StateConnected)

		err = ch.readAll(ctx, conn)
		conn.Close()
		ch.mu.Lock()
		ch.conn = nil
		ch.mu.Unlock()
		ch.setState(StateDisconnected)

		if ctx.Err() != nil {
			return
		}
		if err != nil {
			ch.logger.Printf("Connection lost: %v", err)
		}
	}
}

// readAll consumes frames until the connection fails or ctx ends.
func (ch *Channel) readAll(ctx context.Context, conn Conn) error {
	for {
		data, err := conn.Read(ctx)
		if err != nil {
			return err
		}

		var ev Event
		if err := json.Unmarshal(data, &ev); err != nil {
			ch.logger.Printf("Warning: dropping malformed push frame: %v", err)
			continue
		}

		ch.handleEvent(ev)
	}
}

func (ch *Channel) handleEvent(ev Event) {
	now := time.Now().UTC()

	ch.mu.Lock()
	switch ev.Type {
	case EventConnected:
		ch.connectionID = ev.ConnectionID
		ch.lastHeartbeat = &now
	case EventHeartbeat:
		ch.lastHeartbeat = &now
	}
	handlers := make([]func(Event), 0, len(ch.eventHandlers[ev.Type]))
	for _, fn := range ch.eventHandlers[ev.Type] {
		handlers = append(handlers, fn)
	}
	ch.mu.Unlock()

	for _, fn := range handlers {
		fn(ev)
	}
}

// SetOnline reports a connectivity change. Going offline drops the
// current connection; going online wakes the loop for an immediate
// dial with a fresh attempt counter.
func (ch *Channel) SetOnline(online bool) {
	ch.mu.Lock()
	was := ch.online
	ch.online = online
	conn := ch.conn
	ch.mu.Unlock()

	if online == was {
		return
	}

	if online {
		select {
		case ch.wake <- struct{}{}:
		default:
		}
		return
	}

	if conn != nil {
		conn.Close()
	}
}

// OnEvent registers a handler for one push event type. A handler only
// sees events of its own type. Returns an unsubscribe function.
func (ch *Channel) OnEvent(eventType string, fn func(Event)) func() {
	ch.mu.Lock()
	id := ch.nextHandler
	ch.nextHandler++
	m := ch.eventHandlers[eventType]
	if m == nil {
		m = make(map[int]func(Event))
		ch.eventHandlers[eventType] = m
	}
	m[id] = fn
	ch.mu.Unlock()

	return func() {
		ch.mu.Lock()
		delete(ch.eventHandlers[eventType], id)
		ch.mu.Unlock()
	}
}

// OnStateChange registers a connection state handler. Returns an
// unsubscribe function.
func (ch *Channel) OnStateChange(fn func(ConnState)) func() {
	ch.mu.Lock()
	id := ch.nextHandler
	ch.nextHandler++
	ch.stateHandlers[id] = fn
	ch.mu.Unlock()

	return func() {
		ch.mu.Lock()
		delete(ch.stateHandlers, id)
		ch.mu.Unlock()
	}
}

// State returns the current connection state.
func (ch *Channel) State() ConnState {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.state
}

// DeviceID returns the stable device identifier used on dial.
func (ch *Channel) DeviceID() string {
	return ch.deviceID
}

// ConnectionID returns the id the server assigned to the current
// connection, or "" when disconnected.
func (ch *Channel) ConnectionID() string {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.connectionID
}

// LastHeartbeat returns when the server was last heard from, or nil.
func (ch *Channel) LastHeartbeat() *time.Time {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.lastHeartbeat == nil {
		return nil
	}
	t := *ch.lastHeartbeat
	return &t
}

// Destroy permanently stops the channel and waits for its loop to
// exit. The channel cannot be reused.
func (ch *Channel) Destroy() {
	ch.mu.Lock()
	if ch.destroyed {
		ch.mu.Unlock()
		return
	}
	ch.destroyed = true
	started := ch.started
	cancel := ch.cancel
	conn := ch.conn
	ch.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	if cancel != nil {
		cancel()
	}
	if started {
		<-ch.done
	}
}

func (ch *Channel) isOnline() bool {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.online && !ch.destroyed
}

func (ch *Channel) setState(s ConnState) {
	ch.mu.Lock()
	if ch.state == s {
		ch.mu.Unlock()
		return
	}
	ch.state = s
	if s != StateConnected {
		ch.connectionID = ""
	}
	handlers := make([]func(ConnState), 0, len(ch.stateHandlers))
	for _, fn := range ch.stateHandlers {
		handlers = append(handlers, fn)
	}
	ch.mu.Unlock()

	for _, fn := range handlers {
		fn(s)
	}
}
