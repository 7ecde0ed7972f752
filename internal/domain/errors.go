package domain

import "errors"

var (
	ErrAuthenticationFailure    = errors.New("authentication failure")
	ErrInvalidChannel           = errors.New("invalid channel")
	ErrAlreadyInRoom            = errors.New("already in room")
	ErrAlreadyPending           = errors.New("voice handshake already pending")
	ErrNotAuthorizedToConsume   = errors.New("not authorized to consume")
	ErrNoSuchProducer           = errors.New("no such producer")
	ErrUnknownTransport         = errors.New("unknown transport")
	ErrAlreadyHasTransports     = errors.New("transports already created")
	ErrIncompatibleCapabilities = errors.New("incompatible rtp capabilities")
	ErrMediaEngineFailure       = errors.New("media engine failure")
	ErrSessionClosed            = errors.New("session closed")
	ErrRateLimited              = errors.New("rate limited")
	ErrBadPayload               = errors.New("bad payload")
)

var codes = []struct {
	err  error
	code string
}{
	{ErrAuthenticationFailure, "authentication_failure"},
	{ErrInvalidChannel, "invalid_channel"},
	{ErrAlreadyInRoom, "already_in_room"},
	{ErrAlreadyPending, "already_pending"},
	{ErrNotAuthorizedToConsume, "not_authorized_to_consume"},
	{ErrNoSuchProducer, "no_such_producer"},
	{ErrUnknownTransport, "unknown_transport"},
	{ErrAlreadyHasTransports, "already_has_transports"},
	{ErrIncompatibleCapabilities, "incompatible_capabilities"},
	{ErrMediaEngineFailure, "media_engine_failure"},
	{ErrSessionClosed, "session_closed"},
	{ErrRateLimited, "rate_limited"},
	{ErrBadPayload, "bad_payload"},
}

// Code maps err to the stable code sent to clients.
func Code(err error) string {
	if err == nil {
		return ""
	}
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return "internal"
}

// Terminates reports whether err must close the connection that caused it.
func Terminates(err error) bool {
	return errors.Is(err, ErrAuthenticationFailure) || errors.Is(err, ErrNotAuthorizedToConsume)
}
