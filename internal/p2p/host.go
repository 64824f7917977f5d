// Package p2p implements the chat transport on go-libp2p: TCP with Noise and
// Yamux, mDNS discovery, identify and GossipSub.
package p2p

import (
	"context"
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/event"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/p2p/discovery/mdns"
	"github.com/libp2p/go-libp2p/p2p/muxer/yamux"
	"github.com/libp2p/go-libp2p/p2p/net/connmgr"
	"github.com/libp2p/go-libp2p/p2p/security/noise"
	"github.com/libp2p/go-libp2p/p2p/transport/tcp"
	"github.com/multiformats/go-multiaddr"
	"go.uber.org/zap"

	"github.com/zot/p2p-chat/internal/chat"
)

const (
	// explicitTag protects admitted peers in the connection manager
	explicitTag = "chat-explicit"

	dialTimeout = 15 * time.Second
	eventBuffer = 256
)

var _ chat.Transport = (*Host)(nil)

// Options configure a Host
type Options struct {
	// PrivKey is the node identity; nil generates an ephemeral Ed25519 key
	PrivKey crypto.PrivKey
	// ProtocolVersion is announced through identify
	ProtocolVersion string

	MDNS         bool
	ServiceName  string
	DiscoveryTTL time.Duration
	StaticPeers  []peer.AddrInfo

	Heartbeat time.Duration
	SeenTTL   time.Duration
	// MessageID computes the GossipSub message id from message data
	MessageID func(data []byte) string
	// Validate rejects malformed data before it is delivered or relayed
	Validate func(data []byte) error

	ConnLow  int
	ConnHigh int

	Logger *zap.Logger
}

// Host is a libp2p node exposing the chat.Transport contract.
// Its goroutines only emit events; all decisions are left to the actor.
type Host struct {
	ctx    context.Context
	cancel context.CancelFunc

	host   host.Host
	pubsub *pubsub.PubSub
	busSub event.Subscription
	opts   Options
	log    *zap.Logger
	events chan chat.Event

	mu          sync.Mutex
	mdnsService mdns.Service
	topics      map[string]*topicHandler
	dialing     map[peer.ID]struct{}
	discovered  map[peer.ID]time.Time

	wg        sync.WaitGroup
	closeOnce sync.Once
	closeErr  error
}

// New creates the libp2p host and GossipSub router. Nothing listens until Listen.
func New(ctx context.Context, opts Options) (*Host, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.ServiceName == "" {
		opts.ServiceName = "p2p-chat"
	}
	if opts.DiscoveryTTL <= 0 {
		opts.DiscoveryTTL = 2 * time.Minute
	}
	if opts.ConnLow <= 0 {
		opts.ConnLow = 32
	}
	if opts.ConnHigh <= opts.ConnLow {
		opts.ConnHigh = opts.ConnLow * 2
	}

	priv := opts.PrivKey
	if priv == nil {
		var err error
		priv, _, err = crypto.GenerateKeyPairWithReader(crypto.Ed25519, 2048, rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("failed to generate key pair: %w", err)
		}
	}

	cm, err := connmgr.NewConnManager(opts.ConnLow, opts.ConnHigh)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection manager: %w", err)
	}

	hostOpts := []libp2p.Option{
		libp2p.Identity(priv),
		libp2p.NoListenAddrs,
		libp2p.Transport(tcp.NewTCPTransport),
		libp2p.Security(noise.ID, noise.New),
		libp2p.Muxer(yamux.ID, yamux.DefaultTransport),
		libp2p.ConnectionManager(cm),
	}
	if opts.ProtocolVersion != "" {
		hostOpts = append(hostOpts, libp2p.ProtocolVersion(opts.ProtocolVersion))
	}
	h, err := libp2p.New(hostOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create host: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	n := &Host{
		ctx:        ctx,
		cancel:     cancel,
		host:       h,
		opts:       opts,
		log:        opts.Logger.Named("p2p"),
		events:     make(chan chat.Event, eventBuffer),
		topics:     make(map[string]*topicHandler),
		dialing:    make(map[peer.ID]struct{}),
		discovered: make(map[peer.ID]time.Time),
	}

	n.pubsub, err = newGossipSub(ctx, h, opts)
	if err != nil {
		cancel()
		h.Close()
		return nil, fmt.Errorf("failed to create pubsub: %w", err)
	}

	n.busSub, err = h.EventBus().Subscribe([]interface{}{
		new(event.EvtPeerIdentificationCompleted),
		new(event.EvtPeerConnectednessChanged),
		new(event.EvtLocalAddressesUpdated),
	})
	if err != nil {
		cancel()
		h.Close()
		return nil, fmt.Errorf("failed to subscribe to host events: %w", err)
	}

	n.wg.Add(2)
	go n.pumpBus()
	go n.sweepDiscovered()

	n.log.Debug("created host", zap.Stringer("id", h.ID()), zap.String("protocolVersion", opts.ProtocolVersion))
	return n, nil
}

// ID returns the local peer ID
func (n *Host) ID() peer.ID { return n.host.ID() }

// Libp2p exposes the underlying host
func (n *Host) Libp2p() host.Host { return n.host }

// Addrs returns the full /p2p addresses other nodes can dial
func (n *Host) Addrs() []multiaddr.Multiaddr {
	bound := n.host.Addrs()
	if len(bound) == 0 {
		bound = n.host.Network().ListenAddresses()
	}
	addrs, err := peer.AddrInfoToP2pAddrs(&peer.AddrInfo{ID: n.host.ID(), Addrs: bound})
	if err != nil {
		return nil
	}
	return addrs
}

// Events returns the transport event stream
func (n *Host) Events() <-chan chat.Event { return n.events }

func (n *Host) emit(ev chat.Event) {
	select {
	case n.events <- ev:
	case <-n.ctx.Done():
	}
}

// Listen binds the address, then starts local discovery and announces static peers
func (n *Host) Listen(addr multiaddr.Multiaddr) error {
	if err := n.host.Network().Listen(addr); err != nil {
		return err
	}
	if n.opts.MDNS {
		if err := n.startMDNS(); err != nil {
			return err
		}
	}
	if len(n.opts.StaticPeers) > 0 {
		n.wg.Add(1)
		go func() {
			defer n.wg.Done()
			for _, pi := range n.opts.StaticPeers {
				n.found(pi)
			}
		}()
	}
	return nil
}

// Dial connects to a peer in the background
func (n *Host) Dial(pi peer.AddrInfo) error {
	if pi.ID == n.host.ID() {
		return fmt.Errorf("cannot dial self")
	}
	if n.host.Network().Connectedness(pi.ID) == network.Connected {
		return chat.ErrDialPending
	}

	n.mu.Lock()
	if _, ok := n.dialing[pi.ID]; ok {
		n.mu.Unlock()
		return chat.ErrDialPending
	}
	n.dialing[pi.ID] = struct{}{}
	n.mu.Unlock()

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		ctx, cancel := context.WithTimeout(n.ctx, dialTimeout)
		err := n.host.Connect(ctx, pi)
		cancel()

		n.mu.Lock()
		delete(n.dialing, pi.ID)
		n.mu.Unlock()

		if err != nil && n.ctx.Err() == nil {
			n.emit(chat.DialFailed{Peer: pi.ID, Err: err})
		}
	}()
	return nil
}

// Disconnect closes every connection to a peer
func (n *Host) Disconnect(p peer.ID) error {
	return n.host.Network().ClosePeer(p)
}

// AddExplicitPeer keeps the peer's connection out of connection-manager trimming
func (n *Host) AddExplicitPeer(p peer.ID) {
	n.host.ConnManager().TagPeer(p, explicitTag, 100)
	n.host.ConnManager().Protect(p, explicitTag)
}

// RemoveExplicitPeer reverses AddExplicitPeer
func (n *Host) RemoveExplicitPeer(p peer.ID) {
	n.host.ConnManager().UntagPeer(p, explicitTag)
	n.host.ConnManager().Unprotect(p, explicitTag)
}

// Close stops discovery, subscriptions and the host
func (n *Host) Close() error {
	n.closeOnce.Do(func() {
		n.cancel()

		n.mu.Lock()
		for name, th := range n.topics {
			th.close()
			delete(n.topics, name)
		}
		svc := n.mdnsService
		n.mu.Unlock()

		if svc != nil {
			_ = svc.Close()
		}
		_ = n.busSub.Close()
		n.closeErr = n.host.Close()
		n.wg.Wait()
	})
	return n.closeErr
}

// pumpBus turns host event-bus notifications into chat events
func (n *Host) pumpBus() {
	defer n.wg.Done()
	for {
		select {
		case <-n.ctx.Done():
			return
		case e, ok := <-n.busSub.Out():
			if !ok {
				return
			}
			switch ev := e.(type) {
			case event.EvtPeerIdentificationCompleted:
				n.emit(chat.HandshakeReceived{Peer: ev.Peer, ProtocolVersion: n.protocolVersionOf(ev.Peer)})
			case event.EvtPeerConnectednessChanged:
				if ev.Connectedness == network.NotConnected {
					n.emit(chat.ConnectionClosed{Peer: ev.Peer})
				} else {
					n.emit(chat.Other{Detail: fmt.Sprintf("peer %s is %s", ev.Peer, ev.Connectedness)})
				}
			case event.EvtLocalAddressesUpdated:
				for _, ua := range ev.Current {
					if ua.Action == event.Added {
						n.emit(chat.ListenAddrBound{Addr: ua.Address})
					}
				}
			}
		}
	}
}

// protocolVersionOf reads what identify stored for the peer
func (n *Host) protocolVersionOf(p peer.ID) string {
	v, err := n.host.Peerstore().Get(p, "ProtocolVersion")
	if err != nil {
		return ""
	}
	s, _ := v.(string)
	return s
}
