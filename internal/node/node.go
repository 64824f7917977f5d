// Package node assembles a chat actor and its libp2p transport from configuration.
package node

import (
	"context"
	"fmt"

	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"
	"go.uber.org/zap"

	"github.com/zot/p2p-chat/internal/chat"
	"github.com/zot/p2p-chat/internal/config"
	"github.com/zot/p2p-chat/internal/p2p"
)

// New builds a chat actor in the Constructed state. Cancelling ctx drains it.
// Failures are reported as *chat.ConstructionError naming the failing stage.
func New(ctx context.Context, cfg *config.Config, log *zap.Logger) (*chat.Actor, error) {
	if log == nil {
		log = zap.NewNop()
	}

	priv, err := identity(cfg.Node.IdentityKey)
	if err != nil {
		return nil, &chat.ConstructionError{Stage: "identity", Err: err}
	}

	framer, err := chat.NewFramer(cfg.P2P.Dedup)
	if err != nil {
		return nil, &chat.ConstructionError{Stage: "dedup", Err: err}
	}

	static, err := staticPeers(cfg.P2P.StaticPeers)
	if err != nil {
		return nil, &chat.ConstructionError{Stage: "static peers", Err: err}
	}

	version := chat.ProtocolVersion()
	host, err := p2p.New(ctx, p2p.Options{
		PrivKey:         priv,
		ProtocolVersion: version,
		MDNS:            cfg.P2P.MDNS,
		ServiceName:     cfg.P2P.ServiceName,
		DiscoveryTTL:    cfg.P2P.DiscoveryTTL.Duration,
		StaticPeers:     static,
		Heartbeat:       cfg.P2P.Heartbeat.Duration,
		SeenTTL:         cfg.P2P.SeenTTL.Duration,
		MessageID:       framer.MessageID,
		Validate: func(data []byte) error {
			_, err := framer.Unframe(data)
			return err
		},
		ConnLow:  cfg.P2P.ConnLow,
		ConnHigh: cfg.P2P.ConnHigh,
		Logger:   log,
	})
	if err != nil {
		return nil, &chat.ConstructionError{Stage: "transport", Err: err}
	}

	log.Info("local peer id", zap.Stringer("peer", host.ID()), zap.String("protocolVersion", version))
	return chat.NewActor(ctx, host, framer, chat.Options{
		Topic:      cfg.P2P.Topic,
		ListenHost: cfg.P2P.ListenHost,
		Version:    version,
		Logger:     log,
	}), nil
}

// identity decodes a configured key; an empty key yields nil so the
// transport generates an ephemeral one
func identity(encoded string) (crypto.PrivKey, error) {
	if encoded == "" {
		return nil, nil
	}
	raw, err := crypto.ConfigDecodeKey(encoded)
	if err != nil {
		return nil, fmt.Errorf("failed to decode identity key: %w", err)
	}
	priv, err := crypto.UnmarshalPrivateKey(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal identity key: %w", err)
	}
	return priv, nil
}

func staticPeers(addrs []string) ([]peer.AddrInfo, error) {
	var infos []peer.AddrInfo
	for _, s := range addrs {
		info, err := peer.AddrInfoFromString(s)
		if err != nil {
			return nil, fmt.Errorf("invalid static peer %q: %w", s, err)
		}
		infos = append(infos, *info)
	}
	return infos, nil
}
