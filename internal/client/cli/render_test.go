package cli

import (
	"bytes"
	"testing"
	"time"

	"github.com/dmitrijs2005/gophchat/internal/client/models"
	"github.com/stretchr/testify/assert"
)

func TestTruncate(t *testing.T) {
	tests := []struct {
		name string
		in   string
		n    int
		want string
	}{
		{"short", "hi", 5, "hi"},
		{"exact", "hello", 5, "hello"},
		{"long", "hello world", 5, "hell…"},
		{"collapses whitespace", "a\n\n  b", 10, "a b"},
		{"runes", "привет мир", 4, "при…"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, truncate(tt.in, tt.n))
		})
	}
}

func TestRenderEmpty(t *testing.T) {
	var buf bytes.Buffer
	now := time.Now()

	renderChannels(&buf, "me", nil, func(string) (models.Presence, bool) { return models.Presence{}, false })
	renderGroups(&buf, nil, now)
	renderResults(&buf, nil, now)
	renderNotifications(&buf, nil, now)

	assert.Equal(t, "No channels.\nNo messages yet.\nNothing found.\nNo notifications.\n", buf.String())
}

func TestRenderChannels_NoPresence(t *testing.T) {
	var buf bytes.Buffer
	renderChannels(&buf, "me", []models.Channel{{Name: "general"}}, func(string) (models.Presence, bool) {
		return models.Presence{}, false
	})
	assert.Equal(t, "  general              Unknown Channel  \n", buf.String())
}
