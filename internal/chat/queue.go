package chat

import (
	"sync"

	"github.com/gammazero/deque"
	"github.com/libp2p/go-libp2p/core/peer"
)

// Message is one broadcast accepted from the mesh
type Message struct {
	From    peer.ID
	Payload []byte
	Seq     uint64 // arrival ordinal, starting at 1
}

// Queue holds received messages in arrival order until the host pops them.
// It is unbounded; every operation takes the queue lock.
type Queue struct {
	mu     sync.Mutex
	items  deque.Deque[Message]
	seq    uint64
	notify chan struct{}
}

// NewQueue returns an empty queue
func NewQueue() *Queue {
	return &Queue{notify: make(chan struct{}, 1)}
}

// Push appends a message and stamps its arrival ordinal
func (q *Queue) Push(from peer.ID, payload []byte) Message {
	q.mu.Lock()
	q.seq++
	msg := Message{From: from, Payload: payload, Seq: q.seq}
	q.items.PushBack(msg)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return msg
}

// Pop removes and returns the oldest message
func (q *Queue) Pop() (Message, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.items.Len() == 0 {
		return Message{}, false
	}
	return q.items.PopFront(), true
}

// Len returns the number of queued messages
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}

// Notify is signalled after pushes; a single signal may cover several messages
func (q *Queue) Notify() <-chan struct{} {
	return q.notify
}
