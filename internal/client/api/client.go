package api

import (
	"context"
	"time"

	"github.com/dmitrijs2005/gophchat/internal/client/models"
)

// ListMessagesOptions filters the message history endpoint. Zero values
// are omitted from the query.
type ListMessagesOptions struct {
	Page         int
	Body         string
	CreatedAfter time.Time
}

type Client interface {
	ListChannels(ctx context.Context, query string) ([]models.Channel, error)
	GetChannel(ctx context.Context, name string) (models.Channel, error)
	CreateChannel(ctx context.Context, in models.NewChannel) (models.Channel, error)
	ListMessages(ctx context.Context, channel string, opts ListMessagesOptions) (models.MessagePage, error)
	UpdateNickname(ctx context.Context, channel, memberEmail, nickname string) error
	TransportAuth(ctx context.Context) (models.TransportAuth, error)
	ListNotifications(ctx context.Context) ([]models.Notification, error)
	MarkNotificationRead(ctx context.Context, id int64) error
	MarkAllNotificationsSeen(ctx context.Context) error
	RespondInvitation(ctx context.Context, id int64, attending bool) error
}
