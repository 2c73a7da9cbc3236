// Package grouping clusters consecutive messages for display.
package grouping

import (
	"time"

	"github.com/dmitrijs2005/gophchat/internal/client/models"
)

const DefaultThreshold = 5 * time.Minute

// Group splits messages into runs by the same sender. A run also breaks
// when the gap to the previous message is strictly greater than threshold.
// A group's Time is the timestamp of its first message. The input is not
// modified.
func Group(messages []models.Message, threshold time.Duration) []models.MessageGroup {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}

	var groups []models.MessageGroup
	for i, m := range messages {
		if i == 0 || m.Sender != messages[i-1].Sender || m.Timestamp.Sub(messages[i-1].Timestamp) > threshold {
			groups = append(groups, models.MessageGroup{Sender: m.Sender, Time: m.Timestamp})
		}
		g := &groups[len(groups)-1]
		g.Messages = append(g.Messages, m)
	}
	return groups
}
