package chat

import (
	"context"
	"fmt"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"
)

// Transport is the network capability the actor drives: encrypted multiplexed
// connections, local-link discovery and topic broadcast.
// Every method except Events is called only from the actor goroutine.
type Transport interface {
	ID() peer.ID
	Listen(addr multiaddr.Multiaddr) error
	Subscribe(topic string) error
	Unsubscribe(topic string) error
	Publish(ctx context.Context, topic string, data []byte) error

	// Dial starts connecting to a peer without blocking.
	// Returns ErrDialPending when a dial is in flight or the peer is connected.
	// Failures after Dial returns arrive as DialFailed events.
	Dial(pi peer.AddrInfo) error
	Disconnect(p peer.ID) error

	// AddExplicitPeer marks a peer as always forwarded to, outside organic mesh membership
	AddExplicitPeer(p peer.ID)
	RemoveExplicitPeer(p peer.ID)

	Events() <-chan Event
	Close() error
}

// Event is the tagged union of everything a transport reports to the actor
type Event interface {
	isEvent()
}

// PeerDiscovered reports a local-link advertisement (or a configured static peer)
type PeerDiscovered struct {
	Peer  peer.ID
	Addrs []multiaddr.Multiaddr
}

// PeerExpired reports a discovery record that was not refreshed in time
type PeerExpired struct {
	Peer peer.ID
}

// HandshakeReceived carries the protocol version a peer announced during identify
type HandshakeReceived struct {
	Peer            peer.ID
	ProtocolVersion string
}

// MessageReceived is a broadcast delivered on the chat topic.
// Peer is the author of the message.
type MessageReceived struct {
	Peer peer.ID
	Data []byte
	ID   string
}

// ListenAddrBound reports a new local listening address
type ListenAddrBound struct {
	Addr multiaddr.Multiaddr
}

// ConnectionClosed reports that the last connection to a peer went away
type ConnectionClosed struct {
	Peer peer.ID
}

// DialFailed reports an asynchronous dial that did not complete
type DialFailed struct {
	Peer peer.ID
	Err  error
}

// Other is any transport notification the actor only logs
type Other struct {
	Detail string
}

func (PeerDiscovered) isEvent()    {}
func (PeerExpired) isEvent()       {}
func (HandshakeReceived) isEvent() {}
func (MessageReceived) isEvent()   {}
func (ListenAddrBound) isEvent()   {}
func (ConnectionClosed) isEvent()  {}
func (DialFailed) isEvent()        {}
func (Other) isEvent()             {}

func (e PeerDiscovered) String() string {
	return fmt.Sprintf("peer discovered: %s %v", e.Peer, e.Addrs)
}

func (e HandshakeReceived) String() string {
	return fmt.Sprintf("identified %s as %q", e.Peer, e.ProtocolVersion)
}
