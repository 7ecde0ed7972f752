package core

// Frame is a raw encoded message.
type Frame []byte

// SignalConnection abstracts for a system messaging transport
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}

// SignalingPeer is the client end of a signaling connection as seen by
// the voice core: it can receive pushes and be disconnected.
type SignalingPeer interface {
	PushClosedConsumer(consumerID string)
	Disconnect()
}
