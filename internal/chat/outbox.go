package chat

import (
	"sync"

	"github.com/gammazero/deque"
)

// Command asks the actor to broadcast one payload.
// reply, when set, receives the outcome exactly once.
type Command struct {
	Payload []byte
	reply   chan error
}

func (c Command) resolve(err error) {
	if c.reply != nil {
		c.reply <- err
	}
}

// Outbox is the unbounded many-producer, single-consumer channel into the actor.
// Per-producer send order is preserved.
type Outbox struct {
	mu     sync.Mutex
	items  deque.Deque[Command]
	closed bool
	ready  chan struct{}
}

// NewOutbox returns an open outbox
func NewOutbox() *Outbox {
	return &Outbox{ready: make(chan struct{}, 1)}
}

// Send queues a payload for broadcast without waiting
func (o *Outbox) Send(payload []byte) error {
	return o.push(Command{Payload: payload})
}

func (o *Outbox) push(cmd Command) error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return ErrOutboxClosed
	}
	o.items.PushBack(cmd)
	o.mu.Unlock()
	o.signal()
	return nil
}

func (o *Outbox) signal() {
	select {
	case o.ready <- struct{}{}:
	default:
	}
}

// Ready is signalled while commands are waiting
func (o *Outbox) Ready() <-chan struct{} {
	return o.ready
}

// Next pops one command. When more remain it re-arms Ready so the consumer
// takes them one per iteration instead of starving other sources.
func (o *Outbox) Next() (Command, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.items.Len() == 0 {
		return Command{}, false
	}
	cmd := o.items.PopFront()
	if o.items.Len() > 0 {
		o.signal()
	}
	return cmd, true
}

// Len returns the number of waiting commands
func (o *Outbox) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.items.Len()
}

// Close rejects further sends and returns the commands that were still queued
func (o *Outbox) Close() []Command {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return nil
	}
	o.closed = true
	dropped := make([]Command, 0, o.items.Len())
	for o.items.Len() > 0 {
		dropped = append(dropped, o.items.PopFront())
	}
	return dropped
}
