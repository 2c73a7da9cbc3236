package transport

import (
	"context"
	"sync"
)

// Broker is an in-process message bus. Every MemoryBus connected to it
// receives the events published on the channels it has attached,
// including its own.
type Broker struct {
	mu    sync.Mutex
	buses map[*MemoryBus]struct{}
}

func NewBroker() *Broker {
	return &Broker{buses: make(map[*MemoryBus]struct{})}
}

// Connect returns a new bus on the broker.
func (b *Broker) Connect() *MemoryBus {
	return &MemoryBus{broker: b, attached: make(map[string]struct{})}
}

func (b *Broker) add(m *MemoryBus) {
	b.mu.Lock()
	b.buses[m] = struct{}{}
	b.mu.Unlock()
}

func (b *Broker) remove(m *MemoryBus) {
	b.mu.Lock()
	delete(b.buses, m)
	b.mu.Unlock()
}

// fanout delivers synchronously, in the caller's goroutine.
func (b *Broker) fanout(ev WireEvent) {
	b.mu.Lock()
	targets := make([]*MemoryBus, 0, len(b.buses))
	for m := range b.buses {
		targets = append(targets, m)
	}
	b.mu.Unlock()

	for _, m := range targets {
		m.receive(ev)
	}
}

// MemoryBus is a Bus backed by a Broker. Drop and Restore simulate a lost
// connection.
type MemoryBus struct {
	broker *Broker

	mu        sync.Mutex
	sink      Sink
	attached  map[string]struct{}
	connected bool
	closed    bool
	published []WireEvent
}

func (m *MemoryBus) Start(_ context.Context, sink Sink) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.sink = sink
	m.connected = true
	m.broker.add(m)
	return nil
}

func (m *MemoryBus) Attach(_ context.Context, channel string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.attached[channel] = struct{}{}
	return nil
}

func (m *MemoryBus) Detach(_ context.Context, channel string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.attached, channel)
	return nil
}

// Attached reports whether channel is currently attached.
func (m *MemoryBus) Attached(channel string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.attached[channel]
	return ok
}

func (m *MemoryBus) Publish(ctx context.Context, ev WireEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	switch {
	case m.closed:
		m.mu.Unlock()
		return ErrClosed
	case !m.connected:
		m.mu.Unlock()
		return ErrNotConnected
	}
	m.published = append(m.published, ev)
	m.mu.Unlock()

	m.broker.fanout(ev)
	return nil
}

// Published returns the events this bus has sent.
func (m *MemoryBus) Published() []WireEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]WireEvent, len(m.published))
	copy(out, m.published)
	return out
}

func (m *MemoryBus) receive(ev WireEvent) {
	m.mu.Lock()
	_, ok := m.attached[ev.Channel]
	deliver := ok && m.connected && !m.closed
	sink := m.sink
	m.mu.Unlock()

	if deliver {
		sink.Deliver(ev)
	}
}

// Drop disconnects the bus; events published meanwhile are lost for it.
func (m *MemoryBus) Drop() {
	m.mu.Lock()
	m.connected = false
	m.mu.Unlock()
}

// Restore reconnects after Drop and notifies the sink.
func (m *MemoryBus) Restore() {
	m.mu.Lock()
	if m.closed || m.connected {
		m.mu.Unlock()
		return
	}
	m.connected = true
	sink := m.sink
	m.mu.Unlock()

	sink.Reconnected()
}

func (m *MemoryBus) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	m.broker.remove(m)
	return nil
}
