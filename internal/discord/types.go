package discord

import "strconv"

// User is a Discord user
type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Bot      bool   `json:"bot,omitempty"`
}

// Role is a guild role
type Role struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Position    int    `json:"position"`
	Managed     bool   `json:"managed"`
	Mentionable bool   `json:"mentionable"`
}

// Member is a guild member
type Member struct {
	User  *User    `json:"user,omitempty"`
	Nick  string   `json:"nick,omitempty"`
	Roles []string `json:"roles"`
}

// HasRole reports whether the member holds roleID
func (m *Member) HasRole(roleID string) bool {
	for _, id := range m.Roles {
		if id == roleID {
			return true
		}
	}
	return false
}

// Message is a channel message as delivered by MESSAGE_CREATE or returned by the API
type Message struct {
	ID        string `json:"id"`
	ChannelID string `json:"channel_id"`
	GuildID   string `json:"guild_id,omitempty"`
	Author    User   `json:"author"`
	Content   string `json:"content"`
	Mentions  []User `json:"mentions,omitempty"`
}

// IsDirect reports whether the message was sent outside a guild
func (m *Message) IsDirect() bool {
	return m.GuildID == ""
}

// MessageReference points a reply at another message
type MessageReference struct {
	MessageID       string `json:"message_id"`
	ChannelID       string `json:"channel_id,omitempty"`
	FailIfNotExists bool   `json:"fail_if_not_exists"`
}

// MessageCreate is the body of POST /channels/{id}/messages
type MessageCreate struct {
	Content          string            `json:"content"`
	MessageReference *MessageReference `json:"message_reference,omitempty"`
}

// GatewayBot is the response of GET /gateway/bot
type GatewayBot struct {
	URL               string `json:"url"`
	Shards            int    `json:"shards"`
	SessionStartLimit struct {
		Total          int `json:"total"`
		Remaining      int `json:"remaining"`
		ResetAfter     int `json:"reset_after"`
		MaxConcurrency int `json:"max_concurrency"`
	} `json:"session_start_limit"`
}

// ParseSnowflake parses a Discord id
func ParseSnowflake(id string) (uint64, error) {
	return strconv.ParseUint(id, 10, 64)
}

// FormatSnowflake formats a Discord id
func FormatSnowflake(id uint64) string {
	return strconv.FormatUint(id, 10)
}
