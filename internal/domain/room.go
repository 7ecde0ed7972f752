package domain

type (
	ChannelName string
	ChannelID   string
)

// Channel is a text channel; every channel owns exactly one voice room.
type Channel struct {
	ID          ChannelID   `json:"id"`
	Name        ChannelName `json:"name"`
	Description string      `json:"description"`
}

// ChannelInfo is the public view of a channel and its voice room members.
type ChannelInfo struct {
	Name        ChannelName `json:"name"`
	Description string      `json:"description,omitempty"`
	VoiceRoom   []UserID    `json:"voiceroom"`
}

// VoiceEvent is broadcast whenever a voice room membership changes.
type VoiceEvent struct {
	User    UserID      `json:"user"`
	Channel ChannelName `json:"channel"`
}

// ChatMessage is relayed to every control connection.
type ChatMessage struct {
	Channel   ChannelName `json:"channel"`
	Content   string      `json:"content"`
	User      string      `json:"user"`
	Timestamp int64       `json:"timestamp"`
}
