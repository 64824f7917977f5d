package p2p

import (
	"context"
	"testing"
	"time"

	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"

	"github.com/zot/p2p-chat/internal/chat"
)

// startNode creates a host on loopback with mDNS off and runs an actor on it
func startNode(t *testing.T, version string, f chat.Framer, static ...peer.AddrInfo) (*Host, *chat.Actor) {
	t.Helper()

	h, err := New(context.Background(), Options{
		ProtocolVersion: version,
		StaticPeers:     static,
		Heartbeat:       100 * time.Millisecond,
		MessageID:       f.MessageID,
		Validate: func(data []byte) error {
			_, err := f.Unframe(data)
			return err
		},
	})
	if err != nil {
		t.Fatalf("Failed to create host: %v", err)
	}

	a := chat.NewActor(context.Background(), h, f, chat.Options{ListenHost: "127.0.0.1", Version: version})
	if err := a.Start(0); err != nil {
		h.Close()
		t.Fatalf("Failed to start actor: %v", err)
	}
	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		a.Loop()
	}()

	t.Cleanup(func() {
		a.Cancel()
		<-loopDone
		a.Close()
	})
	return h, a
}

func addrInfo(t *testing.T, h *Host) peer.AddrInfo {
	t.Helper()
	waitUntil(t, "listen address", func() bool { return len(h.Addrs()) > 0 })
	infos, err := peer.AddrInfosFromP2pAddrs(h.Addrs()...)
	if err != nil || len(infos) != 1 {
		t.Fatalf("Bad listen addresses %v: %v", h.Addrs(), err)
	}
	return infos[0]
}

func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", what)
}

func TestTwoNodesExchangeMessage(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping network test in short mode")
	}
	f := chat.NewTimestampFramer(nil)
	version := chat.ProtocolVersion()

	hostA, actorA := startNode(t, version, f)
	hostB, actorB := startNode(t, version, f, addrInfo(t, hostA))

	waitUntil(t, "topic mesh", func() bool {
		return len(hostA.TopicPeers(chat.DefaultTopic)) > 0 && len(hostB.TopicPeers(chat.DefaultTopic)) > 0
	})

	if err := actorA.Publish(context.Background(), []byte("hello")); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	waitUntil(t, "message at B", func() bool { return actorB.Received().Len() == 1 })
	msg, _ := actorB.Received().Pop()
	if msg.From != hostA.ID() {
		t.Errorf("Expected message from %s, got %s", hostA.ID(), msg.From)
	}
	if string(msg.Payload) != "hello" {
		t.Errorf("Expected payload %q, got %q", "hello", msg.Payload)
	}

	// the sender never hears its own message
	time.Sleep(200 * time.Millisecond)
	if actorA.Received().Len() != 0 {
		t.Errorf("Sender queued %d of its own messages", actorA.Received().Len())
	}

	if !hostA.Libp2p().ConnManager().IsProtected(hostB.ID(), explicitTag) {
		t.Errorf("Expected admitted peer to be protected")
	}
}

func TestVersionMismatchDisconnects(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping network test in short mode")
	}
	f := chat.ContentHashFramer{}

	hostA, _ := startNode(t, chat.ProtocolVersion(), f)
	hostB, _ := startNode(t, "chat/9.9", f, addrInfo(t, hostA))

	// B dials A from its static peer list; identify then fails the gate on both ends
	waitUntil(t, "disconnect", func() bool {
		return hostA.protocolVersionOf(hostB.ID()) == "chat/9.9" &&
			hostA.Libp2p().Network().Connectedness(hostB.ID()) != network.Connected
	})
	if hostA.Libp2p().ConnManager().IsProtected(hostB.ID(), explicitTag) {
		t.Errorf("Rejected peer must not be protected")
	}
}

func TestDialSelf(t *testing.T) {
	h, err := New(context.Background(), Options{})
	if err != nil {
		t.Fatalf("Failed to create host: %v", err)
	}
	defer h.Close()

	if err := h.Dial(peer.AddrInfo{ID: h.ID()}); err == nil {
		t.Errorf("Expected an error dialling self")
	}
}

func TestExplicitPeerProtection(t *testing.T) {
	h, err := New(context.Background(), Options{})
	if err != nil {
		t.Fatalf("Failed to create host: %v", err)
	}
	defer h.Close()

	other, err := New(context.Background(), Options{})
	if err != nil {
		t.Fatalf("Failed to create host: %v", err)
	}
	defer other.Close()

	h.AddExplicitPeer(other.ID())
	if !h.Libp2p().ConnManager().IsProtected(other.ID(), explicitTag) {
		t.Errorf("Expected peer to be protected")
	}
	h.RemoveExplicitPeer(other.ID())
	if h.Libp2p().ConnManager().IsProtected(other.ID(), explicitTag) {
		t.Errorf("Expected protection to be removed")
	}
}

func TestPublishRequiresSubscription(t *testing.T) {
	h, err := New(context.Background(), Options{})
	if err != nil {
		t.Fatalf("Failed to create host: %v", err)
	}
	defer h.Close()

	if err := h.Publish(context.Background(), "nowhere", []byte("x")); err == nil {
		t.Errorf("Expected publish on an unknown topic to fail")
	}
	if err := h.Subscribe("room"); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	if err := h.Subscribe("room"); err != nil {
		t.Fatalf("Second subscribe should be a no-op: %v", err)
	}
	if err := h.Publish(context.Background(), "room", []byte("x")); err != nil {
		t.Errorf("Publish with no peers should succeed: %v", err)
	}
	if err := h.Unsubscribe("room"); err != nil {
		t.Errorf("Unsubscribe failed: %v", err)
	}
	if err := h.Unsubscribe("room"); err != nil {
		t.Errorf("Second unsubscribe should be a no-op: %v", err)
	}
}

func TestDiscoveryExpiry(t *testing.T) {
	h, err := New(context.Background(), Options{DiscoveryTTL: 100 * time.Millisecond})
	if err != nil {
		t.Fatalf("Failed to create host: %v", err)
	}
	defer h.Close()

	other, err := New(context.Background(), Options{})
	if err != nil {
		t.Fatalf("Failed to create host: %v", err)
	}
	defer other.Close()

	h.found(peer.AddrInfo{ID: other.ID()})
	h.found(peer.AddrInfo{ID: h.ID()})

	var sawDiscovered, sawExpired bool
	timeout := time.After(5 * time.Second)
	for !sawExpired {
		select {
		case ev := <-h.Events():
			switch e := ev.(type) {
			case chat.PeerDiscovered:
				if e.Peer != other.ID() {
					t.Fatalf("Unexpected discovery of %s", e.Peer)
				}
				sawDiscovered = true
			case chat.PeerExpired:
				if e.Peer != other.ID() {
					t.Fatalf("Unexpected expiry of %s", e.Peer)
				}
				sawExpired = true
			}
		case <-timeout:
			t.Fatalf("Timed out waiting for expiry")
		}
	}
	if !sawDiscovered {
		t.Errorf("Expected discovery before expiry")
	}
}

func TestTinyDiscoveryTTL(t *testing.T) {
	if got := sweepInterval(time.Nanosecond); got != minSweepInterval {
		t.Errorf("Expected sweep interval %v, got %v", minSweepInterval, got)
	}
	if got := sweepInterval(time.Minute); got != 30*time.Second {
		t.Errorf("Expected sweep interval 30s, got %v", got)
	}

	h, err := New(context.Background(), Options{DiscoveryTTL: time.Nanosecond})
	if err != nil {
		t.Fatalf("Failed to create host: %v", err)
	}
	// let the sweeper tick a few times
	time.Sleep(5 * minSweepInterval)
	if err := h.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
}

func TestConnectedPeerDoesNotExpire(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping network test in short mode")
	}
	h, err := New(context.Background(), Options{DiscoveryTTL: 100 * time.Millisecond})
	if err != nil {
		t.Fatalf("Failed to create host: %v", err)
	}
	defer h.Close()

	other, err := New(context.Background(), Options{})
	if err != nil {
		t.Fatalf("Failed to create host: %v", err)
	}
	defer other.Close()
	if err := other.Listen(multiaddr.StringCast("/ip4/127.0.0.1/tcp/0")); err != nil {
		t.Fatalf("Listen failed: %v", err)
	}

	pi := peer.AddrInfo{ID: other.ID(), Addrs: other.Libp2p().Network().ListenAddresses()}
	if err := h.Libp2p().Connect(context.Background(), pi); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	h.found(pi)

	// several TTLs pass while the connection stays up
	timeout := time.After(500 * time.Millisecond)
	for {
		select {
		case ev := <-h.Events():
			if e, ok := ev.(chat.PeerExpired); ok {
				t.Fatalf("Connected peer %s expired", e.Peer)
			}
		case <-timeout:
			return
		}
	}
}
