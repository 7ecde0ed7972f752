package core

import "github.com/piJoe/zwietracht-vc/internal/domain"

//go:generate mockgen -destination=mocks/notifier_mock.go -package=mocks . VoiceNotifier

// VoiceNotifier is told about every voice room membership change.
type VoiceNotifier interface {
	VoiceJoined(user domain.UserID, channel domain.ChannelName)
	VoiceLeft(user domain.UserID, channel domain.ChannelName)
}
