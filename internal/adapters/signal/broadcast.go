package signal

import (
	"github.com/piJoe/zwietracht-vc/internal/app"
	"github.com/piJoe/zwietracht-vc/internal/core"
	"github.com/piJoe/zwietracht-vc/internal/domain"
	"github.com/rs/zerolog/log"
)

// Broadcaster pushes to every authenticated control connection.
type Broadcaster struct {
	Registry *app.Registry
}

type speakingEvent struct {
	UserID     domain.UserID `json:"userId"`
	IsSpeaking bool          `json:"isSpeaking"`
}

func (b *Broadcaster) VoiceJoined(user domain.UserID, channel domain.ChannelName) {
	b.push("joinvoice", domain.VoiceEvent{User: user, Channel: channel})
}

func (b *Broadcaster) VoiceLeft(user domain.UserID, channel domain.ChannelName) {
	b.push("leavevoice", domain.VoiceEvent{User: user, Channel: channel})
}

func (b *Broadcaster) Chat(msg domain.ChatMessage) {
	b.push("chatmsg", msg)
}

func (b *Broadcaster) Speaking(user domain.UserID, speaking bool) {
	b.push("speaking", speakingEvent{UserID: user, IsSpeaking: speaking})
}

func (b *Broadcaster) push(typ string, data any) {
	res := b.Registry.Broadcast(pushFrame(typ, data))
	if len(res.Dropped) > 0 {
		log.Warn().Str("module", "signal.broadcast").Str("type", typ).Int("dropped", len(res.Dropped)).Msg("broadcast not delivered everywhere")
	}
}

var _ core.VoiceNotifier = (*Broadcaster)(nil)
