package chat

import (
	"errors"
	"fmt"
)

var (
	// ErrDialPending is returned by Transport.Dial when a dial to the peer is
	// already in flight or the peer is already connected
	ErrDialPending = errors.New("dial already pending")

	// ErrAlreadyStarted is returned when Start is called on an actor that left the Constructed state
	ErrAlreadyStarted = errors.New("actor already started")

	// ErrNotRunning is returned by Publish when the actor is not listening
	ErrNotRunning = errors.New("actor not running")

	// ErrStopped is delivered to publishers whose command was dropped during draining
	ErrStopped = errors.New("actor stopped")

	// ErrOutboxClosed is returned by Outbox.Send after the actor drained
	ErrOutboxClosed = errors.New("outbox closed")

	// ErrShortFrame means a timestamp-framed payload was shorter than its prefix
	ErrShortFrame = errors.New("frame shorter than timestamp prefix")
)

// ConstructionError is a fatal error raised while building a node, before any run
type ConstructionError struct {
	Stage string
	Err   error
}

func (e *ConstructionError) Error() string {
	return fmt.Sprintf("failed to construct %s: %v", e.Stage, e.Err)
}

func (e *ConstructionError) Unwrap() error { return e.Err }

// SubscriptionError aborts Start when the chat topic cannot be subscribed
type SubscriptionError struct {
	Topic string
	Err   error
}

func (e *SubscriptionError) Error() string {
	return fmt.Sprintf("failed to subscribe to %s: %v", e.Topic, e.Err)
}

func (e *SubscriptionError) Unwrap() error { return e.Err }

// ListenError aborts Start when the listening address cannot be bound
type ListenError struct {
	Addr string
	Err  error
}

func (e *ListenError) Error() string {
	return fmt.Sprintf("failed to listen on %s: %v", e.Addr, e.Err)
}

func (e *ListenError) Unwrap() error { return e.Err }

// PublishError is reported to a publisher whose payload the mesh refused
type PublishError struct {
	Topic string
	Err   error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("failed to publish to %s: %v", e.Topic, e.Err)
}

func (e *PublishError) Unwrap() error { return e.Err }
