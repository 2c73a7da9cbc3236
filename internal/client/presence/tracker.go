// Package presence tracks every channel of the user's channel list: one
// transport subscription per listed channel, the last message preview and
// an unread counter.
//
// Events whose sender is the local identity update the preview but never
// the counter. A chunked file counts once, on the first chunk seen for its
// transfer id. Selecting a channel resets its counter to zero.
package presence

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/dmitrijs2005/gophchat/internal/client/models"
	"github.com/dmitrijs2005/gophchat/internal/client/transport"
	"github.com/dmitrijs2005/gophchat/internal/logging"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultDebounce = 300 * time.Millisecond

	subscribeLimit = 8
	transferMemory = 5 * time.Minute
)

// Lister fetches the channel list, optionally filtered by name.
type Lister interface {
	ListChannels(ctx context.Context, query string) ([]models.Channel, error)
}

// Subscriber opens channel subscriptions. *transport.Hub implements it.
type Subscriber interface {
	Subscribe(ctx context.Context, channel string, handler transport.Handler) (*transport.Subscription, error)
}

type Options struct {
	Self     string
	Debounce time.Duration
	Logger   logging.Logger
}

type Tracker struct {
	lister   Lister
	subs     Subscriber
	self     string
	debounce time.Duration
	logger   logging.Logger
	now      func() time.Time

	mu        sync.Mutex
	channels  []models.Channel
	presence  map[string]models.Presence
	handles   map[string]*transport.Subscription
	transfers map[string]time.Time // channel + "/" + transfer id
	loadGen   uint64
	timer     *time.Timer
	searchGen uint64
	err       error
	onChange  []func()
	onSearch  []func(query string)
	closed    bool
}

func NewTracker(lister Lister, subs Subscriber, opts Options) *Tracker {
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	return &Tracker{
		lister:    lister,
		subs:      subs,
		self:      opts.Self,
		debounce:  opts.Debounce,
		logger:    opts.Logger.With("component", "presence"),
		now:       time.Now,
		presence:  make(map[string]models.Presence),
		handles:   make(map[string]*transport.Subscription),
		transfers: make(map[string]time.Time),
	}
}

// OnChange registers fn to be called after the list or any presence entry
// changes. fn runs without the tracker's lock held.
func (t *Tracker) OnChange(fn func()) {
	t.mu.Lock()
	t.onChange = append(t.onChange, fn)
	t.mu.Unlock()
}

// OnSearch registers fn to be called when a debounced Search has finished
// loading. Err tells whether it failed.
func (t *Tracker) OnSearch(fn func(query string)) {
	t.mu.Lock()
	t.onSearch = append(t.onSearch, fn)
	t.mu.Unlock()
}

func (t *Tracker) notify() {
	t.mu.Lock()
	fns := slices.Clone(t.onChange)
	t.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// Load fetches the channel list for query, subscribes to channels not yet
// tracked and releases the ones that are no longer listed. A Load that
// finishes after a newer one started is discarded.
func (t *Tracker) Load(ctx context.Context, query string) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return transport.ErrClosed
	}
	t.loadGen++
	gen := t.loadGen
	t.mu.Unlock()

	list, err := t.lister.ListChannels(ctx, query)
	if err != nil {
		t.setErr(err)
		return err
	}

	t.mu.Lock()
	var missing []string
	for _, ch := range list {
		if _, ok := t.handles[ch.Name]; !ok {
			missing = append(missing, ch.Name)
		}
	}
	t.mu.Unlock()

	acquired, err := t.subscribeAll(ctx, missing)
	if err != nil {
		t.releaseAll(ctx, acquired)
		t.setErr(err)
		return err
	}

	t.mu.Lock()
	if gen != t.loadGen || t.closed {
		t.mu.Unlock()
		t.releaseAll(ctx, acquired)
		return nil
	}

	listed := make(map[string]struct{}, len(list))
	for _, ch := range list {
		listed[ch.Name] = struct{}{}
		if _, ok := t.presence[ch.Name]; !ok {
			t.presence[ch.Name] = models.Presence{Preview: ch.LastMessage}
		}
	}
	for name, sub := range acquired {
		if _, dup := t.handles[name]; dup {
			continue
		}
		t.handles[name] = sub
		delete(acquired, name)
	}

	var stale []*transport.Subscription
	for name, sub := range t.handles {
		if _, ok := listed[name]; ok {
			continue
		}
		stale = append(stale, sub)
		delete(t.handles, name)
		delete(t.presence, name)
	}
	t.channels = list
	t.err = nil
	t.mu.Unlock()

	// Left in acquired are duplicates of handles a concurrent Load added.
	t.releaseAll(ctx, acquired)
	for _, sub := range stale {
		if err := sub.Release(ctx); err != nil {
			t.logger.Warn(ctx, "release channel", "channel", sub.Channel(), "error", err)
		}
	}

	t.logger.Debug(ctx, "channel list loaded", "query", query, "channels", len(list), "released", len(stale))
	t.notify()
	return nil
}

func (t *Tracker) subscribeAll(ctx context.Context, names []string) (map[string]*transport.Subscription, error) {
	var mu sync.Mutex
	acquired := make(map[string]*transport.Subscription, len(names))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(subscribeLimit)
	for _, name := range names {
		g.Go(func() error {
			sub, err := t.subs.Subscribe(gctx, name, t.handler(name))
			if err != nil {
				return err
			}
			mu.Lock()
			acquired[name] = sub
			mu.Unlock()
			return nil
		})
	}
	err := g.Wait()
	return acquired, err
}

func (t *Tracker) releaseAll(ctx context.Context, subs map[string]*transport.Subscription) {
	for name, sub := range subs {
		if err := sub.Release(ctx); err != nil {
			t.logger.Warn(ctx, "release channel", "channel", name, "error", err)
		}
	}
}

func (t *Tracker) handler(channel string) transport.Handler {
	return func(ev transport.Event) {
		if t.apply(channel, ev) {
			t.notify()
		}
	}
}

// apply updates the presence of channel for ev and reports whether
// anything changed.
func (t *Tracker) apply(channel string, ev transport.Event) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	p, ok := t.presence[channel]
	if !ok || t.closed {
		return false
	}

	count := true
	switch pl := ev.Payload.(type) {
	case transport.TextPayload:
		p.Preview = pl.Text
	case transport.FileLinkPayload:
		p.Preview = pl.FileName
	case transport.FileChunkPayload:
		p.Preview = pl.FileName
		count = t.firstChunk(channel, pl.TransferID)
	default:
		return false
	}

	if count && ev.Sender != t.self {
		p.Unread++
	}
	t.presence[channel] = p
	return true
}

// firstChunk must be called with mu held.
func (t *Tracker) firstChunk(channel, transferID string) bool {
	now := t.now()
	for k, at := range t.transfers {
		if now.Sub(at) > transferMemory {
			delete(t.transfers, k)
		}
	}

	key := channel + "/" + transferID
	if _, ok := t.transfers[key]; ok {
		return false
	}
	t.transfers[key] = now
	return true
}

// Search schedules a Load for query after the debounce window. A later
// call within the window replaces the earlier query.
func (t *Tracker) Search(ctx context.Context, query string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}

	t.searchGen++
	gen := t.searchGen
	if t.timer != nil {
		t.timer.Stop()
	}
	t.timer = time.AfterFunc(t.debounce, func() {
		t.mu.Lock()
		current := gen == t.searchGen && !t.closed
		t.mu.Unlock()
		if !current {
			return
		}
		if err := t.Load(ctx, query); err != nil {
			t.logger.Warn(ctx, "channel search failed", "query", query, "error", err)
		}

		t.mu.Lock()
		fns := slices.Clone(t.onSearch)
		t.mu.Unlock()
		for _, fn := range fns {
			fn(query)
		}
	})
}

// Select marks channel as read.
func (t *Tracker) Select(channel string) {
	t.mu.Lock()
	p, ok := t.presence[channel]
	if ok {
		p.Unread = 0
		t.presence[channel] = p
	}
	t.mu.Unlock()

	if ok {
		t.notify()
	}
}

// Channels returns the current list in backend order.
func (t *Tracker) Channels() []models.Channel {
	t.mu.Lock()
	defer t.mu.Unlock()
	return slices.Clone(t.channels)
}

func (t *Tracker) Presence(channel string) (models.Presence, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.presence[channel]
	return p, ok
}

// Err is the error of the last failed Load, nil after a successful one.
func (t *Tracker) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

func (t *Tracker) setErr(err error) {
	t.mu.Lock()
	t.err = err
	t.mu.Unlock()
	t.notify()
}

// Close stops pending searches and releases every subscription.
func (t *Tracker) Close(ctx context.Context) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	if t.timer != nil {
		t.timer.Stop()
	}
	handles := t.handles
	t.handles = make(map[string]*transport.Subscription)
	t.mu.Unlock()

	var errs []error
	for _, sub := range handles {
		if err := sub.Release(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
