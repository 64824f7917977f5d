// Package chattest provides an in-memory chat.Transport and mesh for tests.
package chattest

import (
	"context"
	"crypto/rand"
	"sync"

	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"

	"github.com/zot/p2p-chat/internal/chat"
)

var _ chat.Transport = (*Transport)(nil)

// NewPeerID returns a fresh Ed25519-derived peer ID
func NewPeerID() peer.ID {
	priv, _, err := crypto.GenerateEd25519Key(rand.Reader)
	if err != nil {
		panic(err)
	}
	id, err := peer.IDFromPrivateKey(priv)
	if err != nil {
		panic(err)
	}
	return id
}

// Transport records every call the actor makes and lets a test inject events.
// Error fields are read at call time and may be set before the actor starts.
type Transport struct {
	id     peer.ID
	events chan chat.Event
	mesh   *Mesh

	mu           sync.Mutex
	subscribed   map[string]bool
	listened     []multiaddr.Multiaddr
	published    [][]byte
	dialed       []peer.ID
	disconnected []peer.ID
	explicit     map[peer.ID]bool
	closed       bool

	SubscribeErr error
	ListenErr    error
	PublishErr   error
	DialErr      error
}

// NewTransport returns a detached fake transport
func NewTransport() *Transport {
	return &Transport{
		id:         NewPeerID(),
		events:     make(chan chat.Event, 1024),
		subscribed: make(map[string]bool),
		explicit:   make(map[peer.ID]bool),
	}
}

// Emit injects a transport event
func (t *Transport) Emit(ev chat.Event) {
	t.events <- ev
}

// TryEmit injects an event unless the event buffer is full
func (t *Transport) TryEmit(ev chat.Event) bool {
	select {
	case t.events <- ev:
		return true
	default:
		return false
	}
}

func (t *Transport) ID() peer.ID { return t.id }

func (t *Transport) Listen(addr multiaddr.Multiaddr) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ListenErr != nil {
		return t.ListenErr
	}
	t.listened = append(t.listened, addr)
	return nil
}

func (t *Transport) Subscribe(topic string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.SubscribeErr != nil {
		return t.SubscribeErr
	}
	t.subscribed[topic] = true
	return nil
}

func (t *Transport) Unsubscribe(topic string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.subscribed, topic)
	return nil
}

func (t *Transport) Publish(ctx context.Context, topic string, data []byte) error {
	t.mu.Lock()
	if t.PublishErr != nil {
		err := t.PublishErr
		t.mu.Unlock()
		return err
	}
	t.published = append(t.published, append([]byte(nil), data...))
	mesh := t.mesh
	t.mu.Unlock()

	if mesh != nil {
		mesh.broadcast(t, data)
	}
	return nil
}

// FailPublish makes later publishes return err; nil restores success
func (t *Transport) FailPublish(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.PublishErr = err
}

func (t *Transport) Dial(pi peer.AddrInfo) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.dialed = append(t.dialed, pi.ID)
	return t.DialErr
}

func (t *Transport) Disconnect(p peer.ID) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.disconnected = append(t.disconnected, p)
	return nil
}

func (t *Transport) AddExplicitPeer(p peer.ID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.explicit[p] = true
}

func (t *Transport) RemoveExplicitPeer(p peer.ID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.explicit, p)
}

func (t *Transport) Events() <-chan chat.Event { return t.events }

func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

// Subscribed reports whether the topic is currently subscribed
func (t *Transport) Subscribed(topic string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.subscribed[topic]
}

// Listened returns the addresses passed to Listen
func (t *Transport) Listened() []multiaddr.Multiaddr {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]multiaddr.Multiaddr(nil), t.listened...)
}

// Published returns the framed bytes handed to Publish
func (t *Transport) Published() [][]byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([][]byte(nil), t.published...)
}

// Dialed returns the peers passed to Dial
func (t *Transport) Dialed() []peer.ID {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]peer.ID(nil), t.dialed...)
}

// Disconnected returns the peers passed to Disconnect
func (t *Transport) Disconnected() []peer.ID {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]peer.ID(nil), t.disconnected...)
}

// IsExplicit reports whether the peer is currently marked explicit
func (t *Transport) IsExplicit(p peer.ID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.explicit[p]
}

// Closed reports whether Close was called
func (t *Transport) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}
