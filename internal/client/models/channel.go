package models

// Member is one participant of a channel.
type Member struct {
	Identity string `json:"user" validate:"required"`
	Name     string `json:"name"`
	Nickname string `json:"nickname"`
}

// Channel is a conversation. Name is the transport channel name and the
// REST identifier; DisplayName is only meaningful for group channels.
type Channel struct {
	Name        string   `json:"group_name" validate:"required"`
	DisplayName string   `json:"groupchat_name"`
	Private     bool     `json:"is_private"`
	Members     []Member `json:"members" validate:"dive"`
	Avatar      string   `json:"avatar"`
	LastMessage string   `json:"last_message_content"`
}

const (
	unknownChannelTitle = "Unknown Channel"
	privateChatTitle    = "Private Chat"
)

// Title is the name shown for the channel to the user identified by self.
// Private channels are named after the first other member.
func (c Channel) Title(self string) string {
	if !c.Private {
		if c.DisplayName == "" {
			return unknownChannelTitle
		}
		return c.DisplayName
	}

	for _, m := range c.Members {
		if m.Identity == self {
			continue
		}
		switch {
		case m.Nickname != "":
			return m.Nickname
		case m.Name != "":
			return m.Name
		default:
			return m.Identity
		}
	}
	return privateChatTitle
}

// NewChannel is the body for creating a channel.
type NewChannel struct {
	Private      bool     `json:"is_private"`
	MemberEmails []string `json:"member_emails"`
	DisplayName  string   `json:"groupchat_name,omitempty"`
}
