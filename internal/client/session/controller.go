// Package session drives the open channel: its history window, its live
// subscription and sending.
//
// A Controller has at most one open channel. Open moves it from Idle to
// Loading, subscribes, fetches the channel detail and the newest history
// page and then goes Live, even when the history fetch failed. Every
// network call runs without the controller's lock held; its result is
// applied only if the channel it was issued for is still the open one, so
// responses that arrive after a switch are dropped.
package session

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/dmitrijs2005/gophchat/internal/client/api"
	"github.com/dmitrijs2005/gophchat/internal/client/grouping"
	"github.com/dmitrijs2005/gophchat/internal/client/models"
	"github.com/dmitrijs2005/gophchat/internal/client/objects"
	"github.com/dmitrijs2005/gophchat/internal/client/reassembly"
	"github.com/dmitrijs2005/gophchat/internal/client/stream"
	"github.com/dmitrijs2005/gophchat/internal/client/transport"
	"github.com/dmitrijs2005/gophchat/internal/logging"
)

const (
	DefaultMaxChunkBytes = 45000
	DefaultSweepInterval = 30 * time.Second

	jumpPollInterval = 50 * time.Millisecond
)

var ErrNoChannel = errors.New("no channel open")

// API is the part of the REST client the controller uses.
type API interface {
	GetChannel(ctx context.Context, name string) (models.Channel, error)
	ListMessages(ctx context.Context, channel string, opts api.ListMessagesOptions) (models.MessagePage, error)
}

// Transport is the part of *transport.Hub the controller uses.
type Transport interface {
	Subscribe(ctx context.Context, channel string, handler transport.Handler) (*transport.Subscription, error)
	PublishText(ctx context.Context, channel, text string) error
	PublishFile(ctx context.Context, channel, name, mime string, data []byte, maxChunk int) (string, error)
	OnReconnect(fn func()) (cancel func())
}

// UnreadResetter is told when a channel is opened.
type UnreadResetter interface {
	Select(channel string)
}

type Options struct {
	MaxChunkBytes  int
	GroupThreshold time.Duration
	TransferTTL    time.Duration
	SweepInterval  time.Duration
	Unread         UnreadResetter
	Logger         logging.Logger
}

// openChannel is the state of one Open. Pointer identity tells a current
// response from a stale one.
type openChannel struct {
	name   string
	merger *stream.Merger
	cursor *stream.Cursor
	sub    *transport.Subscription
}

type Controller struct {
	api       API
	transport Transport
	reasm     *reassembly.Reassembler
	unread    UnreadResetter
	logger    logging.Logger

	maxChunk  int
	threshold time.Duration
	sweep     time.Duration

	stopReconnect func()

	mu        sync.Mutex
	state     State
	cur       *openChannel
	info      models.Channel
	err       error
	listeners []func()
}

func NewController(client API, tr Transport, store objects.Store, opts Options) *Controller {
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	if opts.MaxChunkBytes <= 0 {
		opts.MaxChunkBytes = DefaultMaxChunkBytes
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = DefaultSweepInterval
	}
	logger := opts.Logger.With("component", "session")

	c := &Controller{
		api:       client,
		transport: tr,
		reasm:     reassembly.New(store, opts.TransferTTL, logger),
		unread:    opts.Unread,
		logger:    logger,
		maxChunk:  opts.MaxChunkBytes,
		threshold: opts.GroupThreshold,
		sweep:     opts.SweepInterval,
	}
	c.stopReconnect = tr.OnReconnect(func() {
		go c.backfill(context.Background())
	})
	return c
}

// OnChange registers fn to be called whenever a view may have changed.
func (c *Controller) OnChange(fn func()) {
	c.mu.Lock()
	c.listeners = append(c.listeners, fn)
	c.mu.Unlock()
}

func (c *Controller) notify() {
	c.mu.Lock()
	fns := slices.Clone(c.listeners)
	c.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func (c *Controller) active() *openChannel {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cur
}

func (c *Controller) isCurrent(o *openChannel) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cur == o
}

func (c *Controller) setErr(o *openChannel, err error) {
	c.mu.Lock()
	if c.cur == o {
		c.err = err
	}
	c.mu.Unlock()
	c.notify()
}

// Open closes the current channel, if any, and opens channel.
func (c *Controller) Open(ctx context.Context, channel string) error {
	if err := c.Close(ctx); err != nil {
		c.logger.Warn(ctx, "close previous channel", "error", err)
	}

	o := &openChannel{
		name:   channel,
		merger: stream.NewMerger(channel, c.reasm, c.logger),
		cursor: stream.NewCursor(),
	}

	c.mu.Lock()
	c.cur = o
	c.state = Loading
	c.info = models.Channel{Name: channel}
	c.err = nil
	c.mu.Unlock()

	if c.unread != nil {
		c.unread.Select(channel)
	}
	c.notify()

	// Subscribing before the first page is fetched leaves no gap between
	// history and live delivery; overlaps are dropped by the merger.
	sub, err := c.transport.Subscribe(ctx, channel, c.handler(o))
	if err != nil {
		c.mu.Lock()
		if c.cur == o {
			c.cur = nil
			c.state = Idle
			c.err = err
		}
		c.mu.Unlock()
		c.notify()
		return fmt.Errorf("subscribe %s: %w", channel, err)
	}

	c.mu.Lock()
	if c.cur != o {
		c.mu.Unlock()
		return sub.Release(ctx)
	}
	o.sub = sub
	c.mu.Unlock()

	info, err := c.api.GetChannel(ctx, channel)
	if err != nil {
		c.logger.Warn(ctx, "channel detail failed", "channel", channel, "error", err)
	} else {
		c.mu.Lock()
		if c.cur == o {
			c.info = info
		}
		c.mu.Unlock()
	}

	if page, ok := o.cursor.Begin(); ok {
		if err := c.fetchPage(ctx, o, page); err != nil {
			c.logger.Warn(ctx, "history fetch failed", "channel", channel, "error", err)
		}
	}

	c.mu.Lock()
	live := c.cur == o
	if live {
		c.state = Live
	}
	c.mu.Unlock()

	if live {
		c.logger.Info(ctx, "channel open", "channel", channel, "messages", o.merger.Len())
		c.notify()
	}
	return nil
}

func (c *Controller) handler(o *openChannel) transport.Handler {
	return func(ev transport.Event) {
		if !c.isCurrent(o) {
			return
		}
		ctx := context.Background()
		added, err := o.merger.AppendLive(ctx, ev)
		if err != nil {
			c.logger.Warn(ctx, "live event dropped", "channel", o.name, "event", ev.Name, "error", err)
			return
		}
		if added {
			c.notify()
		}
	}
}

// fetchPage fetches one history page reserved on o.cursor and prepends it.
// A malformed page ends pagination without an error.
func (c *Controller) fetchPage(ctx context.Context, o *openChannel, page int) error {
	resp, err := c.api.ListMessages(ctx, o.name, api.ListMessagesOptions{Page: page})
	if !c.isCurrent(o) {
		o.cursor.Fail()
		return nil
	}

	switch {
	case errors.Is(err, api.ErrMalformedPayload):
		c.logger.Warn(ctx, "malformed history page", "channel", o.name, "page", page, "error", err)
		o.cursor.Stop()
		c.notify()
		return nil
	case err != nil:
		o.cursor.Fail()
		c.setErr(o, err)
		return err
	}

	added := o.merger.PrependHistoryPage(resp.Results)
	o.cursor.Complete(page, resp.HasMore())
	c.logger.Debug(ctx, "history page loaded", "channel", o.name, "page", page, "added", added)
	c.setErr(o, nil)
	return nil
}

// LoadOlder fetches the next older history page. It reports false without
// fetching when a fetch is already in flight or history is exhausted.
func (c *Controller) LoadOlder(ctx context.Context) (bool, error) {
	o := c.active()
	if o == nil {
		return false, ErrNoChannel
	}

	page, ok := o.cursor.Begin()
	if !ok {
		return false, nil
	}
	c.notify()
	return true, c.fetchPage(ctx, o, page)
}

// backfill refetches the newest page after a reconnect to patch the gap.
func (c *Controller) backfill(ctx context.Context) {
	o := c.active()
	if o == nil {
		return
	}

	resp, err := c.api.ListMessages(ctx, o.name, api.ListMessagesOptions{Page: 1})
	if !c.isCurrent(o) {
		return
	}
	if err != nil {
		c.logger.Warn(ctx, "reconnect backfill failed", "channel", o.name, "error", err)
		c.setErr(o, err)
		return
	}

	if n := o.merger.BackfillLatest(resp.Results); n > 0 {
		c.logger.Info(ctx, "reconnect backfill", "channel", o.name, "added", n)
		c.notify()
	}
}

// Close releases the open channel's subscription, drops incomplete file
// transfers and revokes the URLs of reassembled files.
func (c *Controller) Close(ctx context.Context) error {
	c.mu.Lock()
	o := c.cur
	c.cur = nil
	c.state = Idle
	c.info = models.Channel{}
	c.err = nil
	var sub *transport.Subscription
	if o != nil {
		sub = o.sub
	}
	c.mu.Unlock()

	if o == nil {
		return nil
	}

	var err error
	if sub != nil {
		err = sub.Release(ctx)
	}
	c.reasm.Discard()
	o.merger.Reset(ctx)

	c.logger.Debug(ctx, "channel closed", "channel", o.name)
	c.notify()
	return err
}

// Shutdown closes the open channel and stops listening for reconnects.
func (c *Controller) Shutdown(ctx context.Context) error {
	c.stopReconnect()
	return c.Close(ctx)
}

// SendText publishes text to the open channel. Blank text is ignored. The
// message appears in the stream when the transport echoes it back.
func (c *Controller) SendText(ctx context.Context, text string) error {
	o := c.active()
	if o == nil {
		return ErrNoChannel
	}
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if err := c.transport.PublishText(ctx, o.name, text); err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}

// SendFile publishes data inline as chunk events and returns the transfer
// id.
func (c *Controller) SendFile(ctx context.Context, name, mime string, data []byte) (string, error) {
	o := c.active()
	if o == nil {
		return "", ErrNoChannel
	}
	id, err := c.transport.PublishFile(ctx, o.name, name, mime, data, c.maxChunk)
	if err != nil {
		return "", fmt.Errorf("send file %s: %w", name, err)
	}
	c.logger.Info(ctx, "file sent", "channel", o.name, "file", name, "bytes", len(data), "transfer", id)
	return id, nil
}

// Search asks the backend for messages of the open channel containing
// term. Results are oldest first and do not touch the loaded window. A
// malformed response yields no results.
func (c *Controller) Search(ctx context.Context, term string) ([]models.Message, error) {
	o := c.active()
	if o == nil {
		return nil, ErrNoChannel
	}

	page, err := c.api.ListMessages(ctx, o.name, api.ListMessagesOptions{Body: term})
	if errors.Is(err, api.ErrMalformedPayload) {
		c.logger.Warn(ctx, "malformed search response", "channel", o.name, "error", err)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", o.name, err)
	}

	out := make([]models.Message, 0, len(page.Results))
	for i := len(page.Results) - 1; i >= 0; i-- {
		out = append(out, page.Results[i].ToMessage(o.name))
	}
	return out, nil
}

func sameMessage(a, b models.Message) bool {
	if a.ID != "" && b.ID != "" {
		return a.ID == b.ID
	}
	return a.Sender == b.Sender &&
		a.Timestamp.UnixMilli() == b.Timestamp.UnixMilli() &&
		a.Kind == b.Kind &&
		a.Content() == b.Content()
}

// JumpTo makes sure target is in the loaded window, fetching older pages
// until it shows up. It reports false when history ran out first.
func (c *Controller) JumpTo(ctx context.Context, target models.Message) (bool, error) {
	o := c.active()
	if o == nil {
		return false, ErrNoChannel
	}

	for {
		if _, ok := o.merger.Find(func(m models.Message) bool { return sameMessage(m, target) }); ok {
			return true, nil
		}
		if msgs := o.merger.Messages(); len(msgs) > 0 && msgs[0].Timestamp.Before(target.Timestamp) {
			// Already loaded past the target's time.
			return false, nil
		}

		page, ok := o.cursor.Begin()
		switch {
		case ok:
			if err := c.fetchPage(ctx, o, page); err != nil {
				return false, err
			}
		case o.cursor.InFlight() || o.cursor.HasMore():
			select {
			case <-ctx.Done():
				return false, ctx.Err()
			case <-time.After(jumpPollInterval):
			}
		default:
			return false, nil
		}

		if !c.isCurrent(o) {
			return false, nil
		}
		c.notify()
	}
}

// Run evicts incomplete file transfers until ctx is done.
func (c *Controller) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.sweep)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			if n := c.reasm.Evict(now); n > 0 {
				c.logger.Debug(ctx, "evicted stale transfers", "count", n)
			}
		}
	}
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Channel is the detail of the open channel. Only Name is set when the
// detail could not be fetched.
func (c *Controller) Channel() models.Channel {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.info
}

// Err is the last error of a history fetch for the open channel.
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Controller) Messages() []models.Message {
	if o := c.active(); o != nil {
		return o.merger.Messages()
	}
	return nil
}

func (c *Controller) Groups() []models.MessageGroup {
	return grouping.Group(c.Messages(), c.threshold)
}

// HasMore reports whether older history may exist.
func (c *Controller) HasMore() bool {
	if o := c.active(); o != nil {
		return o.cursor.HasMore()
	}
	return false
}
