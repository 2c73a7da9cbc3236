package reassembly

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/gophchat/internal/client/objects"
	"github.com/dmitrijs2005/gophchat/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	objects.Store

	mu     sync.Mutex
	data   map[string][]byte
	n      int
	putErr error
}

func newMemStore() *memStore { return &memStore{data: map[string][]byte{}} }

func (m *memStore) Put(_ context.Context, name, _ string, data []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.putErr != nil {
		return "", m.putErr
	}
	m.n++
	u := fmt.Sprintf("mem://%d/%s", m.n, name)
	m.data[u] = append([]byte(nil), data...)
	return u, nil
}

func (m *memStore) Revoke(_ context.Context, u string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[u]; !ok {
		return objects.ErrUnknownObject
	}
	delete(m.data, u)
	return nil
}

// split encodes payload as n chunks the way a publishing client does.
func split(transferID string, payload []byte, size int) []Chunk {
	total := (len(payload) + size - 1) / size
	ts := time.UnixMilli(1_700_000_000_000)
	chunks := make([]Chunk, 0, total)
	for i := 0; i < total; i++ {
		end := min((i+1)*size, len(payload))
		chunks = append(chunks, Chunk{
			TransferID: transferID,
			Index:      i,
			Total:      total,
			Data:       base64.StdEncoding.EncodeToString(payload[i*size : end]),
			Sender:     "ann",
			Timestamp:  ts,
			FileName:   "photo.png",
			MimeType:   "image/png",
		})
	}
	return chunks
}

func ingestAll(t *testing.T, r *Reassembler, chunks []Chunk) []string {
	t.Helper()
	var urls []string
	for _, c := range chunks {
		f, err := r.Ingest(context.Background(), c)
		require.NoError(t, err)
		if f != nil {
			urls = append(urls, f.URL)
		}
	}
	return urls
}

func testPayload() []byte {
	p := make([]byte, 1000)
	for i := range p {
		p[i] = byte(i * 7)
	}
	return p
}

func TestIngest_InOrder(t *testing.T) {
	store := newMemStore()
	r := New(store, 0, logging.Nop())

	chunks := split("t1", testPayload(), 128)
	for _, c := range chunks[:len(chunks)-1] {
		f, err := r.Ingest(context.Background(), c)
		require.NoError(t, err)
		require.Nil(t, f)
	}
	assert.Equal(t, 1, r.Pending())

	f, err := r.Ingest(context.Background(), chunks[len(chunks)-1])
	require.NoError(t, err)
	require.NotNil(t, f)

	assert.Equal(t, "t1", f.TransferID)
	assert.Equal(t, "photo.png", f.Name)
	assert.Equal(t, "image/png", f.MimeType)
	assert.Equal(t, "ann", f.Sender)
	assert.Equal(t, testPayload(), store.data[f.URL])
	assert.Equal(t, 0, r.Pending())
}

func TestIngest_AnyOrderIsByteIdentical(t *testing.T) {
	payload := testPayload()
	rng := rand.New(rand.NewSource(7))

	for i := 0; i < 20; i++ {
		store := newMemStore()
		r := New(store, 0, logging.Nop())

		chunks := split("t", payload, 90)
		rng.Shuffle(len(chunks), func(a, b int) { chunks[a], chunks[b] = chunks[b], chunks[a] })

		urls := ingestAll(t, r, chunks)
		require.Len(t, urls, 1)
		require.Equal(t, payload, store.data[urls[0]])
	}
}

func TestIngest_DuplicateChunksAreHarmless(t *testing.T) {
	payload := testPayload()
	store := newMemStore()
	r := New(store, 0, logging.Nop())

	chunks := split("t", payload, 200)
	withDupes := []Chunk{chunks[0], chunks[0], chunks[2], chunks[1], chunks[2], chunks[3], chunks[4]}

	urls := ingestAll(t, r, withDupes)
	require.Len(t, urls, 1)
	assert.Equal(t, payload, store.data[urls[0]])

	// A straggler after completion must not open a new transfer.
	f, err := r.Ingest(context.Background(), chunks[1])
	require.NoError(t, err)
	assert.Nil(t, f)
	assert.Equal(t, 0, r.Pending())
}

func TestIngest_MissingChunkNeverCompletes(t *testing.T) {
	store := newMemStore()
	r := New(store, time.Minute, logging.Nop())
	start := time.Now()
	r.now = func() time.Time { return start }

	chunks := split("t", testPayload(), 100)
	missing := append([]Chunk{}, chunks[:4]...)
	missing = append(missing, chunks[5:]...)

	urls := ingestAll(t, r, missing)
	assert.Empty(t, urls)
	assert.Equal(t, 1, r.Pending())
	assert.Empty(t, store.data)

	assert.Equal(t, 0, r.Evict(start.Add(30*time.Second)))
	assert.Equal(t, 1, r.Evict(start.Add(61*time.Second)))
	assert.Equal(t, 0, r.Pending())
}

func TestEvict_KeepsTransfersThatAreStillArriving(t *testing.T) {
	store := newMemStore()
	r := New(store, time.Minute, logging.Nop())
	start := time.Now()
	clock := start
	r.now = func() time.Time { return clock }

	chunks := split("slow", testPayload(), 400)
	require.Len(t, chunks, 3)

	f, err := r.Ingest(context.Background(), chunks[0])
	require.NoError(t, err)
	require.Nil(t, f)

	clock = start.Add(55 * time.Second)
	f, err = r.Ingest(context.Background(), chunks[1])
	require.NoError(t, err)
	require.Nil(t, f)

	assert.Equal(t, 0, r.Evict(start.Add(61*time.Second)))

	clock = start.Add(62 * time.Second)
	f, err = r.Ingest(context.Background(), chunks[2])
	require.NoError(t, err)
	require.NotNil(t, f)
	assert.Equal(t, testPayload(), store.data[f.URL])
	assert.Equal(t, 0, r.Pending())
}

func TestIngest_InvalidChunks(t *testing.T) {
	r := New(newMemStore(), 0, logging.Nop())
	ctx := context.Background()

	for _, c := range []Chunk{
		{TransferID: "t", Index: 3, Total: 3},
		{TransferID: "t", Index: -1, Total: 3},
		{TransferID: "t", Index: 0, Total: 0},
		{TransferID: "", Index: 0, Total: 1},
	} {
		_, err := r.Ingest(ctx, c)
		require.ErrorIs(t, err, ErrInvalidChunk)
	}
	assert.Equal(t, 0, r.Pending())

	_, err := r.Ingest(ctx, Chunk{TransferID: "t", Index: 0, Total: 3, Data: "AA=="})
	require.NoError(t, err)
	_, err = r.Ingest(ctx, Chunk{TransferID: "t", Index: 1, Total: 4, Data: "AA=="})
	require.ErrorIs(t, err, ErrInvalidChunk)
	assert.Equal(t, 1, r.Pending())
}

func TestIngest_CorruptDataDropsTransfer(t *testing.T) {
	store := newMemStore()
	r := New(store, 0, logging.Nop())
	ctx := context.Background()

	_, err := r.Ingest(ctx, Chunk{TransferID: "t", Index: 1, Total: 2, Data: "AAAA"})
	require.NoError(t, err)
	f, err := r.Ingest(ctx, Chunk{TransferID: "t", Index: 0, Total: 2, Data: "not base64!"})
	require.ErrorIs(t, err, ErrCorruptTransfer)
	assert.Nil(t, f)
	assert.Equal(t, 0, r.Pending())
	assert.Empty(t, store.data)
}

func TestIngest_StoreFailure(t *testing.T) {
	store := newMemStore()
	store.putErr = errors.New("disk full")
	r := New(store, 0, logging.Nop())

	_, err := r.Ingest(context.Background(), Chunk{TransferID: "t", Index: 0, Total: 1, Data: "AA=="})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
}

func TestDiscard(t *testing.T) {
	r := New(newMemStore(), 0, logging.Nop())
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		_, err := r.Ingest(ctx, Chunk{TransferID: id, Index: 0, Total: 2, Data: "AA=="})
		require.NoError(t, err)
	}
	assert.Equal(t, 3, r.Pending())

	r.Discard()
	assert.Equal(t, 0, r.Pending())
}

func TestRevoke(t *testing.T) {
	store := newMemStore()
	r := New(store, 0, logging.Nop())

	f, err := r.Ingest(context.Background(), Chunk{TransferID: "t", Index: 0, Total: 1, Data: "aGk=", FileName: "hi.txt"})
	require.NoError(t, err)
	require.NotNil(t, f)

	require.NoError(t, r.Revoke(context.Background(), f.URL))
	assert.Empty(t, store.data)
}
