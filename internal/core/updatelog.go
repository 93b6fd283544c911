package core

import "sync"

// UpdateLog is a bounded FIFO of opaque edit blobs, replayed to newly
// joined connections so they can converge without a full document resend.
// Best-effort catch-up aid, not a durable event log.
type UpdateLog struct {
	mu  sync.Mutex
	cap int
	buf []Frame
}

func NewUpdateLog(capacity int) *UpdateLog {
	if capacity <= 0 {
		capacity = 200
	}
	return &UpdateLog{cap: capacity}
}

// Append adds a blob, dropping the oldest entries once over capacity.
func (l *UpdateLog) Append(blob Frame) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.buf = append(l.buf, blob)
	if over := len(l.buf) - l.cap; over > 0 {
		l.buf = append(l.buf[:0], l.buf[over:]...)
	}
}

// Snapshot returns the current buffer in insertion order.
func (l *UpdateLog) Snapshot() []Frame {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Frame, len(l.buf))
	copy(out, l.buf)
	return out
}

func (l *UpdateLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buf)
}
