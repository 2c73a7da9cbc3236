package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/gophchat/internal/logging"
	"github.com/google/uuid"
)

// Handler consumes decoded events of one channel.
type Handler func(Event)

// Subscription is a handle returned by Hub.Subscribe.
type Subscription struct {
	hub     *Hub
	id      uint64
	channel string
	handler Handler

	// mu serialises handler calls with Release so that no call starts
	// after Release returns. A handler must not release its own
	// subscription.
	mu     sync.Mutex
	active bool
}

func (s *Subscription) Channel() string { return s.channel }

// Release detaches the subscription. Calling it more than once is safe.
func (s *Subscription) Release(ctx context.Context) error {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return nil
	}
	s.active = false
	s.mu.Unlock()

	return s.hub.release(ctx, s)
}

func (s *Subscription) deliver(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active {
		s.handler(ev)
	}
}

type channelSubs struct {
	subs map[uint64]*Subscription
}

// Hub multiplexes channel subscriptions over a single Bus.
type Hub struct {
	bus      Bus
	clientID string
	logger   logging.Logger
	now      func() time.Time

	// opMu serialises attach/detach so a channel is never attached twice.
	opMu sync.Mutex

	mu          sync.Mutex
	channels    map[string]*channelSubs
	onReconnect map[uint64]func()
	nextID      uint64
	closed      bool
}

// NewHub starts bus and returns a hub publishing as clientID.
func NewHub(ctx context.Context, bus Bus, clientID string, logger logging.Logger) (*Hub, error) {
	h := &Hub{
		bus:         bus,
		clientID:    clientID,
		logger:      logger.With("component", "transport"),
		now:         time.Now,
		channels:    make(map[string]*channelSubs),
		onReconnect: make(map[uint64]func()),
	}

	if err := bus.Start(ctx, h); err != nil {
		return nil, fmt.Errorf("start bus: %w", err)
	}
	return h, nil
}

// ClientID is the identity this hub publishes under.
func (h *Hub) ClientID() string { return h.clientID }

// Subscribe registers handler for channel, attaching the channel on the bus
// if this is its first subscriber.
func (h *Hub) Subscribe(ctx context.Context, channel string, handler Handler) (*Subscription, error) {
	h.opMu.Lock()
	defer h.opMu.Unlock()

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, ErrClosed
	}
	h.nextID++
	sub := &Subscription{hub: h, id: h.nextID, channel: channel, handler: handler, active: true}
	cs, attached := h.channels[channel]
	h.mu.Unlock()

	if !attached {
		if err := h.bus.Attach(ctx, channel); err != nil {
			return nil, fmt.Errorf("attach %s: %w", channel, err)
		}
		cs = &channelSubs{subs: make(map[uint64]*Subscription)}
		h.logger.Debug(ctx, "channel attached", "channel", channel)
	}

	h.mu.Lock()
	cs.subs[sub.id] = sub
	h.channels[channel] = cs
	h.mu.Unlock()

	return sub, nil
}

func (h *Hub) release(ctx context.Context, sub *Subscription) error {
	h.opMu.Lock()
	defer h.opMu.Unlock()

	h.mu.Lock()
	cs, ok := h.channels[sub.channel]
	if !ok {
		h.mu.Unlock()
		return nil
	}
	delete(cs.subs, sub.id)
	last := len(cs.subs) == 0
	if last {
		delete(h.channels, sub.channel)
	}
	closed := h.closed
	h.mu.Unlock()

	if !last || closed {
		return nil
	}
	if err := h.bus.Detach(ctx, sub.channel); err != nil {
		return fmt.Errorf("detach %s: %w", sub.channel, err)
	}
	h.logger.Debug(ctx, "channel detached", "channel", sub.channel)
	return nil
}

// Refs reports how many live subscriptions channel has.
func (h *Hub) Refs(channel string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if cs, ok := h.channels[channel]; ok {
		return len(cs.subs)
	}
	return 0
}

// OnReconnect registers fn to run after the bus reconnects. The returned
// function unregisters it.
func (h *Hub) OnReconnect(fn func()) (cancel func()) {
	h.mu.Lock()
	h.nextID++
	id := h.nextID
	h.onReconnect[id] = fn
	h.mu.Unlock()

	return func() {
		h.mu.Lock()
		delete(h.onReconnect, id)
		h.mu.Unlock()
	}
}

// PublishText sends a new-message event.
func (h *Hub) PublishText(ctx context.Context, channel, text string) error {
	ev, err := textEvent(channel, h.clientID, uuid.NewString(), text, h.now())
	if err != nil {
		return err
	}
	return h.publish(ctx, ev)
}

// PublishFile sends data as a sequence of new-file chunk events of at most
// maxChunk raw bytes each and returns the transfer id.
func (h *Hub) PublishFile(ctx context.Context, channel, name, mime string, data []byte, maxChunk int) (string, error) {
	transferID := uuid.NewString()
	events, err := chunkEvents(channel, h.clientID, transferID, name, mime, data, maxChunk, h.now())
	if err != nil {
		return "", err
	}

	for _, ev := range events {
		if err := h.publish(ctx, ev); err != nil {
			return "", err
		}
	}
	h.logger.Debug(ctx, "file published", "channel", channel, "transfer", transferID, "chunks", len(events))
	return transferID, nil
}

func (h *Hub) publish(ctx context.Context, ev WireEvent) error {
	h.mu.Lock()
	closed := h.closed
	h.mu.Unlock()
	if closed {
		return ErrClosed
	}

	if err := h.bus.Publish(ctx, ev); err != nil {
		return fmt.Errorf("publish to %s: %w", ev.Channel, err)
	}
	return nil
}

// Deliver implements Sink.
func (h *Hub) Deliver(w WireEvent) {
	ev, err := Decode(w, h.now())
	if err != nil {
		h.logger.Warn(context.Background(), "dropping event", "channel", w.Channel, "name", w.Name, "error", err)
		return
	}

	h.mu.Lock()
	cs, ok := h.channels[ev.Channel]
	var subs []*Subscription
	if ok {
		subs = make([]*Subscription, 0, len(cs.subs))
		for _, s := range cs.subs {
			subs = append(subs, s)
		}
	}
	h.mu.Unlock()

	for _, s := range subs {
		s.deliver(ev)
	}
}

// Reconnected implements Sink.
func (h *Hub) Reconnected() {
	h.mu.Lock()
	fns := make([]func(), 0, len(h.onReconnect))
	for _, fn := range h.onReconnect {
		fns = append(fns, fn)
	}
	h.mu.Unlock()

	h.logger.Info(context.Background(), "transport reconnected", "listeners", len(fns))
	for _, fn := range fns {
		fn()
	}
}

// Close stops the bus. Outstanding subscriptions stop receiving events.
func (h *Hub) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	h.channels = make(map[string]*channelSubs)
	h.mu.Unlock()

	if err := h.bus.Close(); err != nil && !errors.Is(err, ErrClosed) {
		return err
	}
	return nil
}
