package cli

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/dmitrijs2005/gophchat/internal/client/models"
	"github.com/dmitrijs2005/gophchat/internal/client/session"
)

var errNoChannel = errors.New("no channel open, use 'open <channel>' first")

func (a *App) ListChannels(ctx context.Context, query string) error {
	if err := a.channels.Load(ctx, query); err != nil {
		return err
	}
	renderChannels(a.out, a.self, a.channels.Channels(), a.channels.Presence)
	return nil
}

// FindChannels schedules a debounced reload of the list for query.
func (a *App) FindChannels(ctx context.Context, query string) error {
	a.channels.Search(ctx, query)
	return nil
}

func (a *App) Open(ctx context.Context, name string) error {
	a.results = nil
	a.forgetShown()
	if err := a.session.Open(ctx, name); err != nil {
		return err
	}
	if err := a.session.Err(); err != nil {
		fmt.Fprintln(a.out, "History unavailable:", err)
	}
	return a.ShowMessages(ctx)
}

func (a *App) CloseChannel(ctx context.Context) error {
	a.results = nil
	a.forgetShown()
	return a.session.Close(ctx)
}

func (a *App) requireChannel() (models.Channel, error) {
	ch := a.session.Channel()
	if ch.Name == "" || a.session.State() == session.Idle {
		return models.Channel{}, errNoChannel
	}
	return ch, nil
}

func (a *App) ShowMessages(context.Context) error {
	ch, err := a.requireChannel()
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "== %s ==\n", ch.Title(a.self))
	if a.session.HasMore() {
		fmt.Fprintln(a.out, "  (type 'older' for earlier messages)")
	}
	renderGroups(a.out, a.session.Groups(), a.now())
	a.markShown(ch.Name)
	return nil
}

func (a *App) Older(ctx context.Context) error {
	if _, err := a.requireChannel(); err != nil {
		return err
	}
	fetched, err := a.session.LoadOlder(ctx)
	if err != nil {
		return err
	}
	if !fetched {
		fmt.Fprintln(a.out, "No older messages.")
		return nil
	}
	return a.ShowMessages(ctx)
}

func (a *App) Say(ctx context.Context, text string) error {
	return a.session.SendText(ctx, text)
}

func (a *App) Upload(ctx context.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	name := filepath.Base(path)
	mimeType := mime.TypeByExtension(filepath.Ext(name))
	if mimeType == "" {
		mimeType = http.DetectContentType(data)
	}

	if _, err := a.session.SendFile(ctx, name, mimeType, data); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Sent %s (%d bytes)\n", name, len(data))
	return nil
}

func (a *App) Search(ctx context.Context, term string) error {
	ch, err := a.requireChannel()
	if err != nil {
		return err
	}
	results, err := a.session.Search(ctx, term)
	if err != nil {
		return err
	}
	if err := a.history.Remember(ctx, ch.Name, term); err != nil {
		a.logger.Warn(ctx, "remember search", "error", err)
	}
	a.results = results
	renderResults(a.out, results, a.now())
	return nil
}

func (a *App) SearchHistory(ctx context.Context) error {
	ch, err := a.requireChannel()
	if err != nil {
		return err
	}
	terms, err := a.history.Terms(ctx, ch.Name)
	if err != nil {
		return err
	}
	if len(terms) == 0 {
		fmt.Fprintln(a.out, "No recent searches.")
		return nil
	}
	for _, t := range terms {
		fmt.Fprintln(a.out, " ", t)
	}
	return nil
}

func (a *App) Jump(ctx context.Context, n string) error {
	i, err := strconv.Atoi(n)
	if err != nil || i < 1 || i > len(a.results) {
		return fmt.Errorf("no search result %q", n)
	}

	found, err := a.session.JumpTo(ctx, a.results[i-1])
	if err != nil {
		return err
	}
	if !found {
		fmt.Fprintln(a.out, "Message is no longer in the history.")
		return nil
	}
	return a.ShowMessages(ctx)
}

func (a *App) Nick(ctx context.Context, email, nickname string) error {
	ch, err := a.requireChannel()
	if err != nil {
		return err
	}
	if err := a.api.UpdateNickname(ctx, ch.Name, email, nickname); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "%s is now %q in %s\n", email, nickname, ch.Title(a.self))
	return nil
}

// Direct creates a private channel with email and opens it.
func (a *App) Direct(ctx context.Context, email string) error {
	ch, err := a.api.CreateChannel(ctx, models.NewChannel{Private: true, MemberEmails: []string{email}})
	if err != nil {
		return err
	}
	if err := a.channels.Load(ctx, ""); err != nil {
		a.logger.Warn(ctx, "reload channels", "error", err)
	}
	return a.Open(ctx, ch.Name)
}

func (a *App) Notifications(ctx context.Context) error {
	notes, err := a.api.ListNotifications(ctx)
	if err != nil {
		return err
	}
	renderNotifications(a.out, notes, a.now())
	return nil
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return id, nil
}

func (a *App) MarkRead(ctx context.Context, id string) error {
	n, err := parseID(id)
	if err != nil {
		return err
	}
	return a.api.MarkNotificationRead(ctx, n)
}

func (a *App) MarkAllSeen(ctx context.Context) error {
	return a.api.MarkAllNotificationsSeen(ctx)
}

func (a *App) RSVP(ctx context.Context, id, answer string) error {
	n, err := parseID(id)
	if err != nil {
		return err
	}
	var attending bool
	switch strings.ToLower(answer) {
	case "yes", "y":
		attending = true
	case "no", "n":
	default:
		return fmt.Errorf("answer yes or no, got %q", answer)
	}
	return a.api.RespondInvitation(ctx, n, attending)
}
