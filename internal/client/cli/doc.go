// Package cli provides the interactive gophchat terminal client.
//
// NewApp wires configuration, the REST client, the realtime transport, file
// storage and the session cache; App.Run loads the channel list and starts
// a read-eval-print loop that blocks until the user exits.
//
// Key features:
//   - List and filter channels with unread counters and previews
//   - Open a channel, page back through history, send text and files
//   - Search a channel and jump to a result
//   - Direct chats, nicknames, notifications and invitation replies
package cli
