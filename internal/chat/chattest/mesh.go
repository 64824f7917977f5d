package chattest

import (
	"sync"

	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/zot/p2p-chat/internal/chat"
)

// Mesh floods publishes between joined transports with at-most-once delivery
// per message id, the way a gossip overlay's seen cache does
type Mesh struct {
	mu    sync.Mutex
	idFn  func([]byte) string
	nodes []*Transport
	seen  map[peer.ID]map[string]bool
}

// NewMesh returns a mesh that identifies messages with idFn
func NewMesh(idFn func([]byte) string) *Mesh {
	return &Mesh{idFn: idFn, seen: make(map[peer.ID]map[string]bool)}
}

// Join attaches transports to the mesh
func (m *Mesh) Join(ts ...*Transport) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range ts {
		t.mu.Lock()
		t.mesh = m
		t.mu.Unlock()
		m.nodes = append(m.nodes, t)
		m.seen[t.id] = make(map[string]bool)
	}
}

func (m *Mesh) broadcast(from *Transport, data []byte) {
	id := m.idFn(data)

	m.mu.Lock()
	if m.seen[from.id][id] {
		m.mu.Unlock()
		return
	}
	m.seen[from.id][id] = true
	var targets []*Transport
	for _, t := range m.nodes {
		if t == from || m.seen[t.id][id] {
			continue
		}
		m.seen[t.id][id] = true
		targets = append(targets, t)
	}
	m.mu.Unlock()

	for _, t := range targets {
		t.Emit(chat.MessageReceived{Peer: from.id, Data: append([]byte(nil), data...), ID: id})
	}
}
