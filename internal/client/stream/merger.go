// Package stream keeps the ordered message sequence of the open channel.
//
// History pages are prepended as a whole and live events are appended as
// a whole; neither path re-sorts. Reconnect backfill is the only path that
// inserts in the middle, at the (timestamp, seq) position of each missing
// message.
//
// A message is recognised as already present when it shares a key with a
// message in the sequence. Every message has a fingerprint key built from
// sender, millisecond timestamp, kind and a BLAKE2b of its content (the
// text, or the file name for files). Messages that carry a delivery id also
// have an "id:" key, so a history record and a live event with the same
// delivery id match even when their timestamps differ.
package stream

import (
	"context"
	"slices"
	"strconv"
	"sync"

	"github.com/dmitrijs2005/gophchat/internal/client/models"
	"github.com/dmitrijs2005/gophchat/internal/client/reassembly"
	"github.com/dmitrijs2005/gophchat/internal/client/transport"
	"github.com/dmitrijs2005/gophchat/internal/cryptox"
	"github.com/dmitrijs2005/gophchat/internal/logging"
)

type Merger struct {
	channel string
	reasm   *reassembly.Reassembler
	logger  logging.Logger

	mu    sync.Mutex
	msgs  []models.Message
	keys  map[string]struct{}
	seq   uint64
	owned []string // URLs issued by the reassembler for this sequence
}

func NewMerger(channel string, reasm *reassembly.Reassembler, logger logging.Logger) *Merger {
	return &Merger{
		channel: channel,
		reasm:   reasm,
		logger:  logger,
		keys:    make(map[string]struct{}),
	}
}

func (m *Merger) Channel() string { return m.channel }

func dedupKeys(msg models.Message) []string {
	content := msg.Text
	if msg.Kind == models.KindFile && msg.File != nil {
		content = msg.File.Name
	}
	keys := []string{"fp:" + cryptox.Fingerprint(
		msg.Sender,
		strconv.FormatInt(msg.Timestamp.UnixMilli(), 10),
		string(msg.Kind),
		cryptox.Digest([]byte(content)),
	)}
	if msg.ID != "" {
		keys = append(keys, "id:"+msg.ID)
	}
	return keys
}

// seen must be called with mu held.
func (m *Merger) seen(msg models.Message) bool {
	for _, k := range dedupKeys(msg) {
		if _, ok := m.keys[k]; ok {
			return true
		}
	}
	return false
}

// remember must be called with mu held.
func (m *Merger) remember(msg models.Message) {
	for _, k := range dedupKeys(msg) {
		m.keys[k] = struct{}{}
	}
}

// chronological converts a newest-first page to messages, oldest first,
// dropping the ones already present. Must be called with mu held.
func (m *Merger) chronological(records []models.MessageRecord) []models.Message {
	out := make([]models.Message, 0, len(records))
	for i := len(records) - 1; i >= 0; i-- {
		msg := records[i].ToMessage(m.channel)
		if m.seen(msg) {
			continue
		}
		m.seq++
		msg.Seq = m.seq
		m.remember(msg)
		out = append(out, msg)
	}
	return out
}

// PrependHistoryPage puts one page of history (newest first, as the
// backend returns it) in front of the sequence and returns how many
// messages were added.
func (m *Merger) PrependHistoryPage(records []models.MessageRecord) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	page := m.chronological(records)
	if len(page) > 0 {
		m.msgs = append(page, m.msgs...)
	}
	return len(page)
}

// BackfillLatest merges the newest history page after a reconnect. Missing
// messages are inserted at their position instead of being appended.
func (m *Merger) BackfillLatest(records []models.MessageRecord) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	added := m.chronological(records)
	for _, msg := range added {
		i, _ := slices.BinarySearchFunc(m.msgs, msg, func(e, target models.Message) int {
			if target.Before(e) {
				return 1
			}
			return -1
		})
		m.msgs = slices.Insert(m.msgs, i, msg)
	}
	return len(added)
}

// AppendLive applies a live event and reports whether a message was
// appended. File chunks go through the reassembler and only the chunk that
// completes a transfer appends. Unknown events are ignored.
func (m *Merger) AppendLive(ctx context.Context, ev transport.Event) (bool, error) {
	msg := models.Message{
		ID:        ev.ID,
		Channel:   m.channel,
		Sender:    ev.Sender,
		Timestamp: ev.Timestamp,
	}

	switch p := ev.Payload.(type) {
	case transport.TextPayload:
		msg.Kind = models.KindText
		msg.Text = p.Text

	case transport.FileLinkPayload:
		msg.Kind = models.KindFile
		msg.File = &models.FileDescriptor{Name: p.FileName, MimeType: p.MimeType, URL: p.URL}

	case transport.FileChunkPayload:
		file, err := m.reasm.Ingest(ctx, reassembly.Chunk{
			TransferID: p.TransferID,
			Index:      p.Index,
			Total:      p.Total,
			Data:       p.Data,
			Sender:     ev.Sender,
			Timestamp:  ev.Timestamp,
			FileName:   p.FileName,
			MimeType:   p.MimeType,
		})
		if err != nil || file == nil {
			return false, err
		}
		msg.ID = file.TransferID
		msg.Sender = file.Sender
		msg.Timestamp = file.Timestamp
		msg.Kind = models.KindFile
		msg.File = &models.FileDescriptor{Name: file.Name, MimeType: file.MimeType, URL: file.URL}
		return m.appendOwned(ctx, msg), nil

	default:
		return false, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendLocked(msg), nil
}

// appendOwned appends a message whose URL this merger must revoke later.
func (m *Merger) appendOwned(ctx context.Context, msg models.Message) bool {
	m.mu.Lock()
	ok := m.appendLocked(msg)
	if ok {
		m.owned = append(m.owned, msg.File.URL)
	}
	m.mu.Unlock()

	if !ok {
		m.revoke(ctx, msg.File.URL)
	}
	return ok
}

func (m *Merger) appendLocked(msg models.Message) bool {
	if m.seen(msg) {
		return false
	}
	m.seq++
	msg.Seq = m.seq
	m.remember(msg)
	m.msgs = append(m.msgs, msg)
	return true
}

func (m *Merger) revoke(ctx context.Context, url string) {
	if err := m.reasm.Revoke(ctx, url); err != nil {
		m.logger.Warn(ctx, "revoke file url", "url", url, "error", err)
	}
}

// Reset revokes the URLs owned by the sequence and empties it.
func (m *Merger) Reset(ctx context.Context) {
	m.mu.Lock()
	owned := m.owned
	m.owned = nil
	m.msgs = nil
	m.keys = make(map[string]struct{})
	m.mu.Unlock()

	for _, u := range owned {
		m.revoke(ctx, u)
	}
}

// Messages returns a copy of the sequence.
func (m *Merger) Messages() []models.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.msgs)
}

func (m *Merger) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.msgs)
}

// Find returns the first message matching pred.
func (m *Merger) Find(pred func(models.Message) bool) (models.Message, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, msg := range m.msgs {
		if pred(msg) {
			return msg, true
		}
	}
	return models.Message{}, false
}
