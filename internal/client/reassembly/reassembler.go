// Package reassembly rebuilds files that were published inline as a
// sequence of base64 chunk events.
//
// Chunks may arrive in any order and may be redelivered. A transfer
// completes when every index in [0, total) has been seen; the pieces are
// then decoded in index order, stored through an objects.Store and the
// transfer is forgotten. Transfers that never complete are dropped by
// Evict once they are older than the TTL, or all at once by Discard when
// the channel closes.
package reassembly

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/gophchat/internal/client/models"
	"github.com/dmitrijs2005/gophchat/internal/client/objects"
	"github.com/dmitrijs2005/gophchat/internal/logging"
)

const DefaultTTL = 2 * time.Minute

var (
	ErrInvalidChunk    = errors.New("invalid chunk")
	ErrCorruptTransfer = errors.New("corrupt transfer")
)

// Chunk is one piece of a transfer. Data is base64 of the piece's bytes.
type Chunk struct {
	TransferID string
	Index      int
	Total      int
	Data       string
	Sender     string
	Timestamp  time.Time
	FileName   string
	MimeType   string
}

type pendingTransfer struct {
	fileName  string
	mimeType  string
	total     int
	chunks    map[int]string
	sender    string
	timestamp time.Time
	lastSeen  time.Time
}

type Reassembler struct {
	store  objects.Store
	ttl    time.Duration
	logger logging.Logger
	now    func() time.Time

	mu      sync.Mutex
	pending map[string]*pendingTransfer
	// done remembers completed transfers until the TTL passes so that a
	// late duplicate chunk does not start a transfer that can never finish.
	done map[string]time.Time
}

// New returns a Reassembler storing completed files in store. A zero ttl
// means DefaultTTL.
func New(store objects.Store, ttl time.Duration, logger logging.Logger) *Reassembler {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Reassembler{
		store:   store,
		ttl:     ttl,
		logger:  logger,
		now:     time.Now,
		pending: make(map[string]*pendingTransfer),
		done:    make(map[string]time.Time),
	}
}

// Ingest records c. It returns the completed file when c was the last
// missing chunk and nil while the transfer is still incomplete.
func (r *Reassembler) Ingest(ctx context.Context, c Chunk) (*models.CompletedFile, error) {
	if c.TransferID == "" || c.Total <= 0 || c.Index < 0 || c.Index >= c.Total {
		return nil, fmt.Errorf("%w: transfer %q index %d of %d", ErrInvalidChunk, c.TransferID, c.Index, c.Total)
	}

	r.mu.Lock()
	if _, ok := r.done[c.TransferID]; ok {
		r.mu.Unlock()
		return nil, nil
	}

	p, ok := r.pending[c.TransferID]
	if !ok {
		p = &pendingTransfer{
			fileName:  c.FileName,
			mimeType:  c.MimeType,
			total:     c.Total,
			chunks:    make(map[int]string, c.Total),
			sender:    c.Sender,
			timestamp: c.Timestamp,
		}
		r.pending[c.TransferID] = p
	} else if p.total != c.Total {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: transfer %q declared %d chunks, got %d", ErrInvalidChunk, c.TransferID, p.total, c.Total)
	}

	p.chunks[c.Index] = c.Data
	p.lastSeen = r.now()
	if len(p.chunks) < p.total {
		r.mu.Unlock()
		return nil, nil
	}

	delete(r.pending, c.TransferID)
	r.done[c.TransferID] = r.now()
	r.mu.Unlock()

	data, err := assemble(p)
	if err != nil {
		r.logger.Warn(ctx, "dropping transfer", "transfer", c.TransferID, "error", err)
		return nil, err
	}

	url, err := r.store.Put(ctx, p.fileName, p.mimeType, data)
	if err != nil {
		return nil, fmt.Errorf("store transfer %s: %w", c.TransferID, err)
	}

	return &models.CompletedFile{
		TransferID: c.TransferID,
		Name:       p.fileName,
		MimeType:   p.mimeType,
		URL:        url,
		Sender:     p.sender,
		Timestamp:  p.timestamp,
	}, nil
}

// assemble decodes the pieces in index order. Each piece is decoded on its
// own so senders need not align chunk boundaries to base64 quanta.
func assemble(p *pendingTransfer) ([]byte, error) {
	var out []byte
	for i := 0; i < p.total; i++ {
		piece, ok := p.chunks[i]
		if !ok {
			return nil, fmt.Errorf("%w: missing chunk %d", ErrCorruptTransfer, i)
		}
		b, err := base64.StdEncoding.DecodeString(piece)
		if err != nil {
			return nil, fmt.Errorf("%w: chunk %d: %v", ErrCorruptTransfer, i, err)
		}
		out = append(out, b...)
	}
	return out, nil
}

// Evict drops transfers that received no chunk for longer than the TTL
// before now and returns how many were dropped.
func (r *Reassembler) Evict(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for id, p := range r.pending {
		if now.Sub(p.lastSeen) > r.ttl {
			delete(r.pending, id)
			n++
		}
	}
	for id, at := range r.done {
		if now.Sub(at) > r.ttl {
			delete(r.done, id)
		}
	}
	return n
}

// Discard drops every pending transfer.
func (r *Reassembler) Discard() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending = make(map[string]*pendingTransfer)
	r.done = make(map[string]time.Time)
}

// Pending reports the number of incomplete transfers.
func (r *Reassembler) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// Revoke releases a URL issued for a completed file.
func (r *Reassembler) Revoke(ctx context.Context, url string) error {
	return r.store.Revoke(ctx, url)
}
