package p2p

import (
	"fmt"
	"time"

	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/p2p/discovery/mdns"
	"go.uber.org/zap"

	"github.com/zot/p2p-chat/internal/chat"
)

// minSweepInterval bounds how often discovery records are checked for expiry
const minSweepInterval = 10 * time.Millisecond

// discoveryNotifee gets notified when we find a new peer via mDNS discovery
type discoveryNotifee struct {
	n *Host
}

// HandlePeerFound records the advertisement; dialling is the actor's call
func (d *discoveryNotifee) HandlePeerFound(pi peer.AddrInfo) {
	d.n.found(pi)
}

func (n *Host) startMDNS() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.mdnsService != nil {
		return nil
	}
	svc := mdns.NewMdnsService(n.host, n.opts.ServiceName, &discoveryNotifee{n: n})
	if err := svc.Start(); err != nil {
		return fmt.Errorf("failed to start mDNS: %w", err)
	}
	n.mdnsService = svc
	n.log.Debug("mDNS discovery started", zap.String("service", n.opts.ServiceName))
	return nil
}

// found refreshes a discovery record. New records, and records of peers we
// are not connected to, are reported as PeerDiscovered.
func (n *Host) found(pi peer.AddrInfo) {
	if pi.ID == n.host.ID() || pi.ID == "" {
		return
	}

	n.mu.Lock()
	_, known := n.discovered[pi.ID]
	n.discovered[pi.ID] = time.Now()
	n.mu.Unlock()

	if known && n.host.Network().Connectedness(pi.ID) == network.Connected {
		return
	}
	n.emit(chat.PeerDiscovered{Peer: pi.ID, Addrs: pi.Addrs})
}

// sweepDiscovered expires discovery records that were not refreshed within
// the TTL. A live connection counts as a refresh.
func (n *Host) sweepDiscovered() {
	defer n.wg.Done()

	ticker := time.NewTicker(sweepInterval(n.opts.DiscoveryTTL))
	defer ticker.Stop()

	for {
		select {
		case <-n.ctx.Done():
			return
		case now := <-ticker.C:
			for _, p := range n.expire(now) {
				n.emit(chat.PeerExpired{Peer: p})
			}
		}
	}
}

func sweepInterval(ttl time.Duration) time.Duration {
	return max(ttl/2, minSweepInterval)
}

func (n *Host) expire(now time.Time) []peer.ID {
	n.mu.Lock()
	defer n.mu.Unlock()

	var expired []peer.ID
	for p, seen := range n.discovered {
		if now.Sub(seen) < n.opts.DiscoveryTTL {
			continue
		}
		if n.host.Network().Connectedness(p) == network.Connected {
			n.discovered[p] = now
			continue
		}
		delete(n.discovered, p)
		expired = append(expired, p)
	}
	return expired
}
