package events

import (
	"github.com/piJoe/zwietracht-vc/internal/core"
	"github.com/piJoe/zwietracht-vc/internal/domain"
)

// Fanout forwards every membership change to each notifier in order.
type Fanout []core.VoiceNotifier

func (f Fanout) VoiceJoined(user domain.UserID, channel domain.ChannelName) {
	for _, n := range f {
		n.VoiceJoined(user, channel)
	}
}

func (f Fanout) VoiceLeft(user domain.UserID, channel domain.ChannelName) {
	for _, n := range f {
		n.VoiceLeft(user, channel)
	}
}
