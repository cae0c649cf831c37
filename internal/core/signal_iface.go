package core

// Frame is one encoded server-to-client message (a JSON envelope).
type Frame []byte

// SignalConnection is the outbound half of one signaling socket.
// TrySend never blocks: a full queue is reported so the caller can apply a
// backpressure policy. Close is idempotent.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}
