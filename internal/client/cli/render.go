package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dmitrijs2005/gophchat/internal/client/models"
	"github.com/dmitrijs2005/gophchat/internal/timex"
)

const previewWidth = 40

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func renderChannels(w io.Writer, self string, channels []models.Channel, presence func(string) (models.Presence, bool)) {
	if len(channels) == 0 {
		fmt.Fprintln(w, "No channels.")
		return
	}
	for _, ch := range channels {
		p, _ := presence(ch.Name)
		unread := ""
		if p.Unread > 0 {
			unread = fmt.Sprintf(" (%d)", p.Unread)
		}
		fmt.Fprintf(w, "  %-20s %s%s  %s\n", ch.Name, ch.Title(self), unread, truncate(p.Preview, previewWidth))
	}
}

func renderMessage(w io.Writer, m models.Message) {
	if m.Kind == models.KindFile && m.File != nil {
		fmt.Fprintf(w, "    [file] %s (%s) %s\n", m.File.Name, m.File.MimeType, m.File.URL)
		return
	}
	fmt.Fprintf(w, "    %s\n", m.Text)
}

func renderGroups(w io.Writer, groups []models.MessageGroup, now time.Time) {
	if len(groups) == 0 {
		fmt.Fprintln(w, "No messages yet.")
		return
	}
	for _, g := range groups {
		fmt.Fprintf(w, "%s · %s\n", g.Sender, timex.FormatAge(g.Time, now))
		for _, m := range g.Messages {
			renderMessage(w, m)
		}
	}
}

func renderResults(w io.Writer, results []models.Message, now time.Time) {
	if len(results) == 0 {
		fmt.Fprintln(w, "Nothing found.")
		return
	}
	for i, m := range results {
		fmt.Fprintf(w, "%3d. %s · %s: %s\n", i+1, m.Sender, timex.FormatAge(m.Timestamp, now), truncate(m.Content(), 60))
	}
}

func renderNotifications(w io.Writer, notes []models.Notification, now time.Time) {
	if len(notes) == 0 {
		fmt.Fprintln(w, "No notifications.")
		return
	}
	for _, n := range notes {
		mark := " "
		if !n.Read {
			mark = "*"
		}
		fmt.Fprintf(w, "%s %4d  %s  %s\n", mark, n.ID, timex.FormatAge(n.Timestamp, now), n.Message)
	}
}
