package broadcast

import "sync"

// Bus is an in-process broadcast channel. Each participant takes a
// Peer; publishing on one peer delivers synchronously to every other
// peer's handlers, never back to the publisher. Tests use a Bus with
// two peers to model two tabs of the same browser.
type Bus struct {
	mu    sync.Mutex
	peers map[*BusPeer]struct{}
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{peers: make(map[*BusPeer]struct{})}
}

// Peer creates a new participant on the bus.
func (b *Bus) Peer() *BusPeer {
	p := &BusPeer{bus: b, handlers: make(map[int]Handler)}
	b.mu.Lock()
	b.peers[p] = struct{}{}
	b.mu.Unlock()
	return p
}

func (b *Bus) publish(from *BusPeer, msg Message) {
	b.mu.Lock()
	var handlers []Handler
	for p := range b.peers {
		if p == from {
			continue
		}
		p.mu.Lock()
		for _, h := range p.handlers {
			handlers = append(handlers, h)
		}
		p.mu.Unlock()
	}
	b.mu.Unlock()

	for _, h := range handlers {
		h(msg)
	}
}

// BusPeer is one participant on an in-process Bus.
type BusPeer struct {
	bus      *Bus
	mu       sync.Mutex
	handlers map[int]Handler
	nextID   int
}

var _ Broadcaster = (*BusPeer)(nil)

// Publish implements Broadcaster.
func (p *BusPeer) Publish(msg Message) error {
	p.bus.publish(p, msg)
	return nil
}

// Subscribe implements Broadcaster.
func (p *BusPeer) Subscribe(h Handler) func() {
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

// Close implements Broadcaster. The peer stops receiving messages.
func (p *BusPeer) Close() error {
	p.bus.mu.Lock()
	delete(p.bus.peers, p)
	p.bus.mu.Unlock()

	p.mu.Lock()
	p.handlers = make(map[int]Handler)
	p.mu.Unlock()
	return nil
}
