// Package models defines the data shared by the chat session components:
// channels and their members, messages materialised from history or live
// events, completed file transfers, display groups and per-channel presence.
//
// Wire shapes (MessageRecord, MessagePage, ChannelRecord) mirror the REST
// backend's JSON and are converted to the immutable in-memory types at the
// api boundary.
package models
