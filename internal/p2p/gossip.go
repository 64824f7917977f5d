package p2p

import (
	"context"
	"errors"
	"fmt"

	pubsub "github.com/libp2p/go-libp2p-pubsub"
	pb "github.com/libp2p/go-libp2p-pubsub/pb"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"go.uber.org/zap"

	"github.com/zot/p2p-chat/internal/chat"
)

// topicHandler holds one joined GossipSub topic
type topicHandler struct {
	name         string
	topic        *pubsub.Topic
	subscription *pubsub.Subscription
	cancel       context.CancelFunc
}

func (th *topicHandler) close() {
	th.cancel()
	th.subscription.Cancel()
	_ = th.topic.Close()
}

func newGossipSub(ctx context.Context, h host.Host, opts Options) (*pubsub.PubSub, error) {
	params := pubsub.DefaultGossipSubParams()
	if opts.Heartbeat > 0 {
		params.HeartbeatInterval = opts.Heartbeat
	}

	psOpts := []pubsub.Option{
		pubsub.WithGossipSubParams(params),
		pubsub.WithMessageSignaturePolicy(pubsub.StrictSign),
		pubsub.WithFloodPublish(true),
	}
	if opts.MessageID != nil {
		idFn := opts.MessageID
		psOpts = append(psOpts, pubsub.WithMessageIdFn(func(m *pb.Message) string {
			return idFn(m.GetData())
		}))
	}
	if opts.SeenTTL > 0 {
		psOpts = append(psOpts, pubsub.WithSeenMessagesTTL(opts.SeenTTL))
	}
	return pubsub.NewGossipSub(ctx, h, psOpts...)
}

// Subscribe joins a topic and starts delivering its messages as events.
// Subscribing twice is a no-op.
func (n *Host) Subscribe(name string) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if _, exists := n.topics[name]; exists {
		return nil
	}

	if n.opts.Validate != nil {
		validate := n.opts.Validate
		err := n.pubsub.RegisterTopicValidator(name, func(_ context.Context, _ peer.ID, msg *pubsub.Message) bool {
			return validate(msg.GetData()) == nil
		})
		if err != nil {
			return fmt.Errorf("failed to register validator: %w", err)
		}
	}

	t, err := n.pubsub.Join(name)
	if err != nil {
		n.unregisterValidator(name)
		return fmt.Errorf("failed to join topic: %w", err)
	}
	sub, err := t.Subscribe()
	if err != nil {
		t.Close()
		n.unregisterValidator(name)
		return fmt.Errorf("failed to subscribe to topic: %w", err)
	}

	ctx, cancel := context.WithCancel(n.ctx)
	th := &topicHandler{name: name, topic: t, subscription: sub, cancel: cancel}
	n.topics[name] = th

	n.wg.Add(1)
	go n.readFromTopic(ctx, th)
	return nil
}

func (n *Host) unregisterValidator(name string) {
	if n.opts.Validate != nil {
		_ = n.pubsub.UnregisterTopicValidator(name)
	}
}

// Unsubscribe leaves a topic; leaving an unknown topic is a no-op
func (n *Host) Unsubscribe(name string) error {
	n.mu.Lock()
	th, exists := n.topics[name]
	if !exists {
		n.mu.Unlock()
		return nil
	}
	delete(n.topics, name)
	n.mu.Unlock()

	th.close()
	n.unregisterValidator(name)
	return nil
}

// Publish broadcasts data on a subscribed topic
func (n *Host) Publish(ctx context.Context, name string, data []byte) error {
	n.mu.Lock()
	th, exists := n.topics[name]
	n.mu.Unlock()

	if !exists {
		return fmt.Errorf("not subscribed to topic: %s", name)
	}
	return th.topic.Publish(ctx, data)
}

// TopicPeers lists the peers GossipSub knows to be subscribed to a topic
func (n *Host) TopicPeers(name string) []peer.ID {
	return n.pubsub.ListPeers(name)
}

func (n *Host) readFromTopic(ctx context.Context, th *topicHandler) {
	defer n.wg.Done()
	for {
		msg, err := th.subscription.Next(ctx)
		if err != nil {
			if !errors.Is(err, context.Canceled) && !errors.Is(err, pubsub.ErrSubscriptionCancelled) {
				n.log.Warn("error reading from topic", zap.String("topic", th.name), zap.Error(err))
			}
			return
		}
		if msg.ReceivedFrom == n.host.ID() {
			continue
		}
		n.emit(chat.MessageReceived{Peer: msg.GetFrom(), Data: msg.GetData(), ID: msg.ID})
	}
}
