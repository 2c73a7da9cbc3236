package cli

import (
	"fmt"

	"github.com/dmitrijs2005/gophchat/internal/client/models"
	"github.com/dmitrijs2005/gophchat/internal/client/session"
	"github.com/dmitrijs2005/gophchat/internal/timex"
)

// markShown records the newest message of channel as rendered so that
// sessionChanged prints only what arrives after it.
func (a *App) markShown(channel string) {
	var seq uint64
	if msgs := a.session.Messages(); len(msgs) > 0 {
		seq = msgs[len(msgs)-1].Seq
	}

	a.mu.Lock()
	a.shownIn = channel
	a.shownSeq = seq
	a.mu.Unlock()
}

func (a *App) forgetShown() {
	a.mu.Lock()
	a.shownIn = ""
	a.shownSeq = 0
	a.mu.Unlock()
}

// unseenTail returns the messages after the one with Seq seq. Older pages
// are prepended, so they never show up here. It returns nil when seq is no
// longer in msgs.
func unseenTail(msgs []models.Message, seq uint64) []models.Message {
	if seq == 0 {
		return msgs
	}
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Seq == seq {
			return msgs[i+1:]
		}
	}
	return nil
}

// sessionChanged prints messages appended to the open channel since it was
// last rendered.
func (a *App) sessionChanged() {
	ch := a.session.Channel()
	if ch.Name == "" || a.session.State() != session.Live {
		return
	}
	msgs := a.session.Messages()

	a.mu.Lock()
	defer a.mu.Unlock()
	if ch.Name != a.shownIn {
		return
	}
	fresh := unseenTail(msgs, a.shownSeq)
	if len(fresh) == 0 {
		return
	}
	for _, m := range fresh {
		fmt.Fprintf(a.out, "[#%s] %s · %s: %s\n", ch.Title(a.self), m.Sender, timex.FormatAge(m.Timestamp, a.now()), truncate(m.Content(), 80))
	}
	a.shownSeq = fresh[len(fresh)-1].Seq
}

// presenceChanged announces unread messages in channels other than the
// open one.
func (a *App) presenceChanged() {
	open := a.session.Channel().Name
	channels := a.channels.Channels()

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.unreadSeen == nil {
		a.unreadSeen = make(map[string]int)
	}
	for _, ch := range channels {
		p, ok := a.channels.Presence(ch.Name)
		if !ok {
			continue
		}
		prev := a.unreadSeen[ch.Name]
		a.unreadSeen[ch.Name] = p.Unread
		if p.Unread > prev && ch.Name != open {
			fmt.Fprintf(a.out, "[#%s] %d unread: %s\n", ch.Title(a.self), p.Unread, truncate(p.Preview, previewWidth))
		}
	}
}

// searchDone shows the outcome of a debounced channel search.
func (a *App) searchDone(query string) {
	err := a.channels.Err()
	channels := a.channels.Channels()

	a.mu.Lock()
	defer a.mu.Unlock()
	if err != nil {
		fmt.Fprintf(a.out, "Channel search %q failed: %v\n", query, err)
		return
	}
	fmt.Fprintf(a.out, "Channels matching %q:\n", query)
	renderChannels(a.out, a.self, channels, a.channels.Presence)
}
