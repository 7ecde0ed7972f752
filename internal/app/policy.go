package app

import (
	"github.com/piJoe/zwietracht-vc/internal/core"
	"github.com/piJoe/zwietracht-vc/internal/domain"
)

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	MarkSlow
	KickMember
	DropFrame
)

// Policy decides what happens to a control connection whose send buffer
// was full during a broadcast.
type Policy interface {
	OnBackPressure(sid core.SessionID, user domain.User) BackpressureAction
}

type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(core.SessionID, domain.User) BackpressureAction {
	return KickMember
}
