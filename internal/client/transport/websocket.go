package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/dmitrijs2005/gophchat/internal/logging"
	"github.com/gorilla/websocket"
	"github.com/sethvargo/go-retry"
)

type frameType string

const (
	frameAttach  frameType = "attach"
	frameDetach  frameType = "detach"
	framePublish frameType = "publish"
	frameEvent   frameType = "event"
	frameError   frameType = "error"
)

// frame is the gateway envelope. Data holds a WireEvent for publish and
// event frames and a gatewayError for error frames.
type frame struct {
	Type    frameType       `json:"type"`
	Channel string          `json:"channel,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

type gatewayError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

const (
	defaultWriteWait    = 10 * time.Second
	defaultPongWait     = 60 * time.Second
	defaultPingInterval = 30 * time.Second
	maxFrameSize        = 256 << 10
	sendBuffer          = 256
)

type WebsocketOptions struct {
	URL   string
	Token string

	Dialer       *websocket.Dialer
	WriteWait    time.Duration
	PongWait     time.Duration
	PingInterval time.Duration

	// ReconnectBase is the first backoff delay; it doubles up to
	// ReconnectMax. Zero ReconnectAttempts retries forever.
	ReconnectBase     time.Duration
	ReconnectMax      time.Duration
	ReconnectAttempts uint64
}

func (o *WebsocketOptions) setDefaults() {
	if o.Dialer == nil {
		o.Dialer = websocket.DefaultDialer
	}
	if o.WriteWait == 0 {
		o.WriteWait = defaultWriteWait
	}
	if o.PongWait == 0 {
		o.PongWait = defaultPongWait
	}
	if o.PingInterval == 0 {
		o.PingInterval = defaultPingInterval
	}
	if o.ReconnectBase == 0 {
		o.ReconnectBase = 500 * time.Millisecond
	}
	if o.ReconnectMax == 0 {
		o.ReconnectMax = 30 * time.Second
	}
}

type wsConn struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
}

// WebsocketBus talks to a realtime gateway over one websocket. When the
// connection drops it redials with exponential backoff, re-attaches every
// attached channel and calls Sink.Reconnected.
type WebsocketBus struct {
	opts   WebsocketOptions
	logger logging.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	sink     Sink
	cur      *wsConn
	attached map[string]struct{}
}

func NewWebsocketBus(opts WebsocketOptions, logger logging.Logger) *WebsocketBus {
	opts.setDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &WebsocketBus{
		opts:     opts,
		logger:   logger.With("bus", "websocket"),
		ctx:      ctx,
		cancel:   cancel,
		attached: make(map[string]struct{}),
	}
}

// Start dials the gateway. The first dial is not retried.
func (b *WebsocketBus) Start(ctx context.Context, sink Sink) error {
	conn, err := b.dial(ctx)
	if err != nil {
		return err
	}

	b.mu.Lock()
	b.sink = sink
	b.mu.Unlock()

	b.wg.Add(1)
	go b.run(conn)
	return nil
}

func (b *WebsocketBus) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	if b.opts.Token != "" {
		header.Set("Authorization", "Bearer "+b.opts.Token)
	}

	conn, resp, err := b.opts.Dialer.DialContext(ctx, b.opts.URL, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %s: %w", b.opts.URL, resp.Status, err)
		}
		return nil, fmt.Errorf("dial %s: %w", b.opts.URL, err)
	}
	conn.SetReadLimit(maxFrameSize)
	return conn, nil
}

// run serves connections until Close, redialing after each drop.
func (b *WebsocketBus) run(conn *websocket.Conn) {
	defer b.wg.Done()

	for {
		b.serve(conn)

		if b.ctx.Err() != nil {
			return
		}
		b.logger.Warn(b.ctx, "gateway connection lost, reconnecting")

		var err error
		conn, err = b.redial()
		if err != nil {
			if b.ctx.Err() == nil {
				b.logger.Error(b.ctx, "gateway reconnect failed", "error", err)
			}
			return
		}
		if err := b.reattach(conn); err != nil {
			b.logger.Warn(b.ctx, "re-attach failed", "error", err)
		}

		b.mu.Lock()
		sink := b.sink
		b.mu.Unlock()
		sink.Reconnected()
	}
}

func (b *WebsocketBus) redial() (*websocket.Conn, error) {
	backoff := retry.WithCappedDuration(b.opts.ReconnectMax, retry.NewExponential(b.opts.ReconnectBase))
	if b.opts.ReconnectAttempts > 0 {
		backoff = retry.WithMaxRetries(b.opts.ReconnectAttempts, backoff)
	}

	var conn *websocket.Conn
	err := retry.Do(b.ctx, backoff, func(ctx context.Context) error {
		c, err := b.dial(ctx)
		if err != nil {
			b.logger.Debug(ctx, "redial failed", "error", err)
			return retry.RetryableError(err)
		}
		conn = c
		return nil
	})
	return conn, err
}

// reattach queues attach frames for conn before it starts serving, so they
// precede anything published after the reconnect.
func (b *WebsocketBus) reattach(conn *websocket.Conn) error {
	b.mu.Lock()
	channels := make([]string, 0, len(b.attached))
	for ch := range b.attached {
		channels = append(channels, ch)
	}
	b.mu.Unlock()

	_ = conn.SetWriteDeadline(time.Now().Add(b.opts.WriteWait))
	for _, ch := range channels {
		if err := conn.WriteJSON(frame{Type: frameAttach, Channel: ch}); err != nil {
			return err
		}
	}
	return nil
}

func (b *WebsocketBus) serve(conn *websocket.Conn) {
	c := &wsConn{conn: conn, send: make(chan []byte, sendBuffer), done: make(chan struct{})}

	b.mu.Lock()
	b.cur = c
	b.mu.Unlock()

	stop := context.AfterFunc(b.ctx, func() { _ = conn.Close() })
	defer stop()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		b.writePump(c)
	}()

	b.readPump(c)

	b.mu.Lock()
	if b.cur == c {
		b.cur = nil
	}
	b.mu.Unlock()

	close(c.done)
	wg.Wait()
	_ = conn.Close()
}

func (b *WebsocketBus) readPump(c *wsConn) {
	_ = c.conn.SetReadDeadline(time.Now().Add(b.opts.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(b.opts.PongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) && b.ctx.Err() == nil {
				b.logger.Warn(b.ctx, "gateway read failed", "error", err)
			}
			return
		}
		b.handleFrame(data)
	}
}

func (b *WebsocketBus) writePump(c *wsConn) {
	ticker := time.NewTicker(b.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(b.opts.WriteWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				_ = c.conn.Close()
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(b.opts.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = c.conn.Close()
				return
			}

		case <-c.done:
			return
		}
	}
}

func (b *WebsocketBus) handleFrame(data []byte) {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		b.logger.Warn(b.ctx, "unparseable gateway frame", "error", err)
		return
	}

	switch f.Type {
	case frameEvent:
		var ev WireEvent
		if err := json.Unmarshal(f.Data, &ev); err != nil {
			b.logger.Warn(b.ctx, "unparseable event frame", "error", err)
			return
		}
		if ev.Channel == "" {
			ev.Channel = f.Channel
		}
		b.mu.Lock()
		sink := b.sink
		b.mu.Unlock()
		sink.Deliver(ev)

	case frameError:
		var ge gatewayError
		_ = json.Unmarshal(f.Data, &ge)
		b.logger.Warn(b.ctx, "gateway error", "channel", f.Channel, "code", ge.Code, "message", ge.Message)

	default:
		b.logger.Debug(b.ctx, "ignoring gateway frame", "type", f.Type)
	}
}

func (b *WebsocketBus) enqueue(ctx context.Context, f frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}

	b.mu.Lock()
	c := b.cur
	b.mu.Unlock()
	if c == nil {
		if b.ctx.Err() != nil {
			return ErrClosed
		}
		return ErrNotConnected
	}

	select {
	case c.send <- data:
		return nil
	case <-c.done:
		return ErrNotConnected
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Attach records channel and asks the gateway for its events. A channel
// attached while disconnected is sent on the next reconnect.
func (b *WebsocketBus) Attach(ctx context.Context, channel string) error {
	if b.ctx.Err() != nil {
		return ErrClosed
	}
	b.mu.Lock()
	b.attached[channel] = struct{}{}
	b.mu.Unlock()

	if err := b.enqueue(ctx, frame{Type: frameAttach, Channel: channel}); err != nil && !errors.Is(err, ErrNotConnected) {
		return err
	}
	return nil
}

func (b *WebsocketBus) Detach(ctx context.Context, channel string) error {
	b.mu.Lock()
	delete(b.attached, channel)
	b.mu.Unlock()

	err := b.enqueue(ctx, frame{Type: frameDetach, Channel: channel})
	if errors.Is(err, ErrNotConnected) || errors.Is(err, ErrClosed) {
		return nil
	}
	return err
}

func (b *WebsocketBus) Publish(ctx context.Context, ev WireEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return b.enqueue(ctx, frame{Type: framePublish, Channel: ev.Channel, Data: data})
}

// Close stops reconnecting and closes the current connection.
func (b *WebsocketBus) Close() error {
	b.mu.Lock()
	c := b.cur
	b.mu.Unlock()

	if c != nil {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(b.opts.WriteWait))
	}
	b.cancel()
	b.wg.Wait()
	return nil
}
