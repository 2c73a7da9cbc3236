package stream

import "sync"

// Cursor tracks history pagination for one channel. Page is the next page
// to fetch; at most one fetch may be in flight.
type Cursor struct {
	mu       sync.Mutex
	page     int
	hasMore  bool
	inflight bool
}

func NewCursor() *Cursor {
	return &Cursor{page: 1, hasMore: true}
}

// Begin reserves the next page. It refuses while a fetch is in flight or
// when history is exhausted.
func (c *Cursor) Begin() (page int, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inflight || !c.hasMore {
		return 0, false
	}
	c.inflight = true
	return c.page, true
}

// Complete records that page was fetched.
func (c *Cursor) Complete(page int, hasMore bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inflight = false
	if page != c.page {
		return
	}
	c.page++
	c.hasMore = hasMore
}

// Fail releases the reservation; the same page will be fetched next time.
func (c *Cursor) Fail() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inflight = false
}

// Stop ends pagination, used when the backend returns something unusable.
func (c *Cursor) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inflight = false
	c.hasMore = false
}

func (c *Cursor) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.page = 1
	c.hasMore = true
	c.inflight = false
}

func (c *Cursor) Page() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.page
}

func (c *Cursor) HasMore() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hasMore
}

func (c *Cursor) InFlight() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inflight
}
