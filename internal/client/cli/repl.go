package cli

import (
	"bufio"
	"context"
	"fmt"
	"strings"
)

// printlnFn is a test seam for user-facing output.
var printlnFn = fmt.Println

// execIface is the command surface the REPL dispatches to. *App satisfies
// it; tests provide a recording stub.
type execIface interface {
	ListChannels(ctx context.Context, query string) error
	FindChannels(ctx context.Context, query string) error
	Open(ctx context.Context, name string) error
	CloseChannel(ctx context.Context) error
	ShowMessages(ctx context.Context) error
	Older(ctx context.Context) error
	Say(ctx context.Context, text string) error
	Upload(ctx context.Context, path string) error
	Search(ctx context.Context, term string) error
	SearchHistory(ctx context.Context) error
	Jump(ctx context.Context, n string) error
	Nick(ctx context.Context, email, nickname string) error
	Direct(ctx context.Context, email string) error
	Notifications(ctx context.Context) error
	MarkRead(ctx context.Context, id string) error
	MarkAllSeen(ctx context.Context) error
	RSVP(ctx context.Context, id, answer string) error
}

const helpText = `Available commands:
  channels [filter]     list channels with unread counters
  find <filter>         filter the channel list as you type (debounced)
  open <channel>        open a channel
  close                 close the open channel
  (m)essages            show the loaded messages
  older                 load an older page of history
  say <text>            send a message
  upload <path>         send a file
  search <term>         search the open channel
  history               recent searches in the open channel
  jump <n>              load history up to search result n
  nick <email> <name>   set a member's nickname in the open channel
  dm <email>            start a direct chat
  notifications         list notifications
  read <id> | seen      mark one or all notifications as read
  rsvp <id> yes|no      answer an invitation
  exit | quit           leave the program`

// runREPL reads commands from scanner and dispatches them to a until EOF,
// "exit" or "quit". Command errors are printed and the loop goes on.
func runREPL(ctx context.Context, a execIface, statusFn func() string, scanner *bufio.Scanner) {
	for {
		printlnFn(fmt.Sprintf("gophchat %s > ", statusFn()))
		if !scanner.Scan() {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		parts := strings.Fields(line)
		if len(parts) == 0 {
			continue
		}
		cmd, args := parts[0], parts[1:]
		rest := strings.TrimSpace(strings.TrimPrefix(line, cmd))

		var err error
		switch cmd {
		case "help":
			printlnFn(helpText)

		case "channels", "ls":
			err = a.ListChannels(ctx, rest)

		case "find":
			err = a.FindChannels(ctx, rest)

		case "open":
			if len(args) != 1 {
				printlnFn("Usage: open <channel>")
				continue
			}
			err = a.Open(ctx, args[0])

		case "close":
			err = a.CloseChannel(ctx)

		case "m", "messages":
			err = a.ShowMessages(ctx)

		case "older":
			err = a.Older(ctx)

		case "say":
			if rest == "" {
				printlnFn("Usage: say <text>")
				continue
			}
			err = a.Say(ctx, rest)

		case "upload":
			if rest == "" {
				printlnFn("Usage: upload <path>")
				continue
			}
			err = a.Upload(ctx, rest)

		case "search":
			if rest == "" {
				printlnFn("Usage: search <term>")
				continue
			}
			err = a.Search(ctx, rest)

		case "history":
			err = a.SearchHistory(ctx)

		case "jump":
			if len(args) != 1 {
				printlnFn("Usage: jump <n>")
				continue
			}
			err = a.Jump(ctx, args[0])

		case "nick":
			if len(args) < 2 {
				printlnFn("Usage: nick <email> <nickname>")
				continue
			}
			err = a.Nick(ctx, args[0], strings.Join(args[1:], " "))

		case "dm":
			if len(args) != 1 {
				printlnFn("Usage: dm <email>")
				continue
			}
			err = a.Direct(ctx, args[0])

		case "notifications":
			err = a.Notifications(ctx)

		case "read":
			if len(args) != 1 {
				printlnFn("Usage: read <id>")
				continue
			}
			err = a.MarkRead(ctx, args[0])

		case "seen":
			err = a.MarkAllSeen(ctx)

		case "rsvp":
			if len(args) != 2 {
				printlnFn("Usage: rsvp <id> yes|no")
				continue
			}
			err = a.RSVP(ctx, args[0], args[1])

		case "exit", "quit":
			printlnFn("Bye!")
			return

		default:
			printlnFn("Unknown command:", cmd)
		}

		if err != nil {
			printlnFn("Error:", err)
		}
	}
}
