package core

// Frame is a raw outbound payload.
type Frame []byte

// ConnID identifies one live connection within a room.
type ConnID string

// Sender abstracts a connection's outbound side.
// Owned by the adapter; the adapter must Close() it.
type Sender interface {
	TrySend(Frame) error
	Close(code int, reason string)
}
