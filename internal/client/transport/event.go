package transport

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"
)

const (
	EventNewMessage = "new-message"
	EventNewFile    = "new-file"
	// EventFileTransfer is the older name of EventNewFile, still sent by
	// some clients.
	EventFileTransfer = "file-transfer"
)

// WireEvent is an event as carried by the bus.
type WireEvent struct {
	ID           string          `json:"id,omitempty"`
	Channel      string          `json:"channel"`
	Name         string          `json:"name"`
	Data         json.RawMessage `json:"data"`
	ClientID     string          `json:"clientId"`
	ConnectionID string          `json:"connectionId,omitempty"`
	Timestamp    int64           `json:"timestamp"`
}

// Payload is the decoded event data. The concrete type is one of
// TextPayload, FileChunkPayload, FileLinkPayload or OtherPayload.
type Payload interface {
	isPayload()
}

type TextPayload struct {
	Text string
}

// FileChunkPayload is one piece of an inline file transfer. Data is the
// base64 encoding of the piece.
type FileChunkPayload struct {
	FileName   string
	MimeType   string
	Data       string
	Index      int
	Total      int
	TransferID string
}

// FileLinkPayload announces a file that was uploaded out of band.
type FileLinkPayload struct {
	FileName string
	MimeType string
	URL      string
}

type OtherPayload struct {
	Raw json.RawMessage
}

func (TextPayload) isPayload()      {}
func (FileChunkPayload) isPayload() {}
func (FileLinkPayload) isPayload()  {}
func (OtherPayload) isPayload()     {}

// Event is a decoded WireEvent.
type Event struct {
	ID           string
	Channel      string
	Name         string
	Sender       string
	ConnectionID string
	Timestamp    time.Time
	Payload      Payload
}

// Decode validates w and converts its data into the payload variant that
// matches w.Name. Unrecognised names decode to OtherPayload without error.
// An event without a client id is attributed to its connection id; one
// without a timestamp is stamped with received.
func Decode(w WireEvent, received time.Time) (Event, error) {
	ev := Event{
		ID:           w.ID,
		Channel:      w.Channel,
		Name:         w.Name,
		Sender:       w.ClientID,
		ConnectionID: w.ConnectionID,
		Timestamp:    time.UnixMilli(w.Timestamp),
	}
	if ev.Sender == "" {
		ev.Sender = w.ConnectionID
	}
	if w.Timestamp == 0 {
		ev.Timestamp = received
	}

	switch w.Name {
	case EventNewMessage:
		var text string
		if err := json.Unmarshal(w.Data, &text); err != nil {
			return Event{}, fmt.Errorf("%w: %s data is not a string", ErrMalformedEvent, w.Name)
		}
		ev.Payload = TextPayload{Text: text}

	case EventNewFile, EventFileTransfer:
		p, err := decodeFileData(w.Data)
		if err != nil {
			return Event{}, fmt.Errorf("%w: %s: %v", ErrMalformedEvent, w.Name, err)
		}
		ev.Payload = p

	default:
		ev.Payload = OtherPayload{Raw: w.Data}
	}

	return ev, nil
}

// decodeFileData reads the positional file array. Three elements announce
// an uploaded file, six carry a chunk.
func decodeFileData(data json.RawMessage) (Payload, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("data is not an array")
	}

	var name, mime, body string
	if len(items) != 3 && len(items) != 6 {
		return nil, fmt.Errorf("expected 3 or 6 elements, got %d", len(items))
	}
	for i, dst := range []*string{&name, &mime, &body} {
		if err := json.Unmarshal(items[i], dst); err != nil {
			return nil, fmt.Errorf("element %d is not a string", i)
		}
	}

	if len(items) == 3 {
		return FileLinkPayload{FileName: name, MimeType: mime, URL: body}, nil
	}

	p := FileChunkPayload{FileName: name, MimeType: mime, Data: body}
	if err := json.Unmarshal(items[3], &p.Index); err != nil {
		return nil, fmt.Errorf("chunk index: %w", err)
	}
	if err := json.Unmarshal(items[4], &p.Total); err != nil {
		return nil, fmt.Errorf("chunk total: %w", err)
	}
	if err := unmarshalID(items[5], &p.TransferID); err != nil {
		return nil, fmt.Errorf("transfer id: %w", err)
	}
	return p, nil
}

// unmarshalID accepts a transfer id sent either as a string or a number.
func unmarshalID(raw json.RawMessage, dst *string) error {
	if err := json.Unmarshal(raw, dst); err == nil {
		return nil
	}
	var n json.Number
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&n); err != nil {
		return err
	}
	*dst = n.String()
	return nil
}

func textEvent(channel, clientID, id, text string, now time.Time) (WireEvent, error) {
	data, err := json.Marshal(text)
	if err != nil {
		return WireEvent{}, err
	}
	return WireEvent{
		ID:        id,
		Channel:   channel,
		Name:      EventNewMessage,
		Data:      data,
		ClientID:  clientID,
		Timestamp: now.UnixMilli(),
	}, nil
}

// chunkEvents splits data into pieces of at most maxChunk bytes and encodes
// each piece separately. maxChunk is rounded down to a multiple of 3 so the
// concatenated base64 text is also valid.
func chunkEvents(channel, clientID, transferID, name, mime string, data []byte, maxChunk int, now time.Time) ([]WireEvent, error) {
	maxChunk -= maxChunk % 3
	if maxChunk <= 0 {
		return nil, fmt.Errorf("chunk size too small")
	}

	total := (len(data) + maxChunk - 1) / maxChunk
	if total == 0 {
		total = 1
	}

	events := make([]WireEvent, 0, total)
	for i := 0; i < total; i++ {
		start := i * maxChunk
		end := min(start+maxChunk, len(data))

		piece := base64.StdEncoding.EncodeToString(data[start:end])
		raw, err := json.Marshal([]any{name, mime, piece, i, total, transferID})
		if err != nil {
			return nil, err
		}
		events = append(events, WireEvent{
			ID:        fmt.Sprintf("%s:%d", transferID, i),
			Channel:   channel,
			Name:      EventNewFile,
			Data:      raw,
			ClientID:  clientID,
			Timestamp: now.UnixMilli(),
		})
	}
	return events, nil
}
