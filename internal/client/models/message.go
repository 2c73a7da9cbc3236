package models

import "time"

type MessageKind string

const (
	KindText MessageKind = "text"
	KindFile MessageKind = "file"
)

// FileDescriptor points at downloadable content.
type FileDescriptor struct {
	Name     string
	MimeType string
	URL      string
}

// Message is one entry of a channel's stream. Values are never mutated
// after construction; the stream hands out copies.
type Message struct {
	ID        string // delivery identifier, empty when unknown
	Channel   string
	Sender    string
	Kind      MessageKind
	Text      string
	File      *FileDescriptor
	Timestamp time.Time
	Seq       uint64 // local arrival order, tie-break for equal timestamps
}

// Content is the text body or, for files, the file URL.
func (m Message) Content() string {
	if m.Kind == KindFile && m.File != nil {
		return m.File.URL
	}
	return m.Text
}

// Before reports whether m sorts before o by (Timestamp, Seq).
func (m Message) Before(o Message) bool {
	if m.Timestamp.Equal(o.Timestamp) {
		return m.Seq < o.Seq
	}
	return m.Timestamp.Before(o.Timestamp)
}

// CompletedFile is the result of reassembling a chunked transfer.
type CompletedFile struct {
	TransferID string
	Name       string
	MimeType   string
	URL        string
	Sender     string
	Timestamp  time.Time
}

// MessageGroup is a run of consecutive messages by one sender. Time is the
// timestamp of the first message of the run.
type MessageGroup struct {
	Sender   string
	Time     time.Time
	Messages []Message
}

// Presence is the per-channel summary shown in the channel list.
type Presence struct {
	Preview string
	Unread  int
}
