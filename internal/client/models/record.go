package models

import (
	"encoding/json"
	"time"
)

// MessageRecord is a message as returned by the history endpoint.
type MessageRecord struct {
	ID         json.Number `json:"id"`
	DeliveryID string      `json:"delivery_id,omitempty"`
	Author     string      `json:"author" validate:"required"`
	Body       string      `json:"body"`
	FileURL    string      `json:"file_url,omitempty"`
	FileName   string      `json:"file_name,omitempty"`
	FileType   string      `json:"file_type,omitempty"`
	Created    time.Time   `json:"created" validate:"required"`
}

// MessagePage is one page of history, newest first. Next is the URL of the
// following (older) page, nil when there is none.
type MessagePage struct {
	Results []MessageRecord `json:"results" validate:"dive"`
	Next    *string         `json:"next"`
}

// HasMore reports whether an older page exists.
func (p MessagePage) HasMore() bool {
	return p.Next != nil && *p.Next != ""
}

// ToMessage converts a record into a Message of channel. A record with a
// file URL is a file message.
func (r MessageRecord) ToMessage(channel string) Message {
	m := Message{
		ID:        r.DeliveryID,
		Channel:   channel,
		Sender:    r.Author,
		Kind:      KindText,
		Text:      r.Body,
		Timestamp: r.Created,
	}
	if r.FileURL != "" {
		m.Kind = KindFile
		m.File = &FileDescriptor{Name: r.FileName, MimeType: r.FileType, URL: r.FileURL}
	}
	return m
}

// Notification is an entry of the user's notification feed.
type Notification struct {
	ID        int64     `json:"id"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	Read      bool      `json:"is_read"`
	AvatarURL string    `json:"sender_avtar_url"`
}

// TransportAuth is returned by the transport auth endpoint.
type TransportAuth struct {
	Token    string `json:"token"`
	ClientID string `json:"clientId" validate:"required"`
}
