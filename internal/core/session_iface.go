package core

// SessionID identifies a single websocket connection.
type SessionID string
