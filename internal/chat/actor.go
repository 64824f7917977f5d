package chat

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"
	"go.uber.org/zap"
)

// State is the lifecycle position of an actor
type State int32

const (
	Constructed State = iota
	Listening
	Draining
	Stopped
)

func (s State) String() string {
	switch s {
	case Constructed:
		return "constructed"
	case Listening:
		return "listening"
	case Draining:
		return "draining"
	case Stopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Options tune an actor; zero values pick the defaults
type Options struct {
	Topic      string
	ListenHost string
	// Version is the protocol version peers must announce
	Version string
	Logger  *zap.Logger
}

// Actor is the chat node's event loop. It alone mutates transport and mesh
// state; the host talks to it only through the Outbox and the received Queue.
type Actor struct {
	ctx    context.Context
	cancel context.CancelFunc

	transport  Transport
	framer     Framer
	gate       *Gate
	topic      string
	listenHost string
	log        *zap.Logger

	outbox   *Outbox
	received *Queue

	// loop-owned
	explicit map[peer.ID]struct{}

	state atomic.Int32
	done  chan struct{}
}

// NewActor builds an actor in the Constructed state.
// Cancelling ctx, or calling Cancel, moves a running actor to Draining.
func NewActor(ctx context.Context, t Transport, f Framer, opts Options) *Actor {
	if opts.Topic == "" {
		opts.Topic = DefaultTopic
	}
	if opts.ListenHost == "" {
		opts.ListenHost = "0.0.0.0"
	}
	if opts.Version == "" {
		opts.Version = ProtocolVersion()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(ctx)
	return &Actor{
		ctx:        ctx,
		cancel:     cancel,
		transport:  t,
		framer:     f,
		gate:       NewGate(opts.Version),
		topic:      opts.Topic,
		listenHost: opts.ListenHost,
		log:        opts.Logger.Named("actor"),
		outbox:     NewOutbox(),
		received:   NewQueue(),
		explicit:   make(map[peer.ID]struct{}),
		done:       make(chan struct{}),
	}
}

// ID returns the local peer identifier
func (a *Actor) ID() peer.ID { return a.transport.ID() }

// State returns the current lifecycle state
func (a *Actor) State() State { return State(a.state.Load()) }

// Received returns the queue of accepted messages
func (a *Actor) Received() *Queue { return a.received }

// Outbox returns the outbound channel sender
func (a *Actor) Outbox() *Outbox { return a.outbox }

// Framer returns the deduplication policy in use
func (a *Actor) Framer() Framer { return a.framer }

// Done is closed once the actor reaches Stopped
func (a *Actor) Done() <-chan struct{} { return a.done }

// Cancel signals the loop to drain. Safe to call more than once.
func (a *Actor) Cancel() { a.cancel() }

// Close cancels the actor and releases its transport.
// It must not be called while Loop is still running.
func (a *Actor) Close() error {
	a.cancel()
	return a.transport.Close()
}

// Run starts the actor on a port and runs its loop until cancelled
func (a *Actor) Run(port uint16) error {
	if err := a.Start(port); err != nil {
		return err
	}
	return a.Loop()
}

// Start subscribes to the chat topic and binds the listening address.
// Port 0 lets the OS choose.
func (a *Actor) Start(port uint16) error {
	if !a.state.CompareAndSwap(int32(Constructed), int32(Listening)) {
		return ErrAlreadyStarted
	}
	a.log.Info("starting", zap.Uint16("port", port), zap.String("topic", a.topic), zap.String("framing", a.framer.Name()))

	if err := a.transport.Subscribe(a.topic); err != nil {
		a.abort()
		return &SubscriptionError{Topic: a.topic, Err: err}
	}

	addrStr := fmt.Sprintf("/ip4/%s/tcp/%d", a.listenHost, port)
	addr, err := multiaddr.NewMultiaddr(addrStr)
	if err == nil {
		err = a.transport.Listen(addr)
	}
	if err != nil {
		if uerr := a.transport.Unsubscribe(a.topic); uerr != nil {
			a.log.Warn("unsubscribe after failed listen", zap.Error(uerr))
		}
		a.abort()
		return &ListenError{Addr: addrStr, Err: err}
	}
	return nil
}

// abort moves a failed start straight to Stopped
func (a *Actor) abort() {
	for _, cmd := range a.outbox.Close() {
		cmd.resolve(ErrStopped)
	}
	a.state.Store(int32(Stopped))
	close(a.done)
}

// Loop multiplexes cancellation, outbound commands and transport events
// until cancelled. Transport errors are logged and never end the loop.
func (a *Actor) Loop() error {
	if a.State() != Listening {
		return ErrNotRunning
	}
	events := a.transport.Events()

	for {
		// cancellation is polled once per iteration so a busy source cannot hide it
		select {
		case <-a.ctx.Done():
			a.drain()
			return nil
		default:
		}

		select {
		case <-a.ctx.Done():
			a.drain()
			return nil

		case <-a.outbox.Ready():
			if cmd, ok := a.outbox.Next(); ok {
				a.handleCommand(cmd)
			}

		case ev, ok := <-events:
			if !ok {
				a.log.Warn("transport event stream closed")
				events = nil
				continue
			}
			a.handleEvent(ev)
		}
	}
}

func (a *Actor) drain() {
	a.state.Store(int32(Draining))
	if err := a.transport.Unsubscribe(a.topic); err != nil {
		a.log.Warn("failed to unsubscribe", zap.Error(err))
	}
	dropped := a.outbox.Close()
	for _, cmd := range dropped {
		cmd.resolve(ErrStopped)
	}
	if len(dropped) > 0 {
		a.log.Info("dropped queued messages", zap.Int("count", len(dropped)))
	}
	a.state.Store(int32(Stopped))
	close(a.done)
	a.log.Info("stopped")
}

// Publish queues a payload and waits for the actor to hand it to the mesh.
// Having no peers is not an error.
func (a *Actor) Publish(ctx context.Context, payload []byte) error {
	if a.State() != Listening {
		return ErrNotRunning
	}
	reply := make(chan error, 1)
	if err := a.outbox.push(Command{Payload: payload, reply: reply}); err != nil {
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *Actor) handleCommand(cmd Command) {
	if len(cmd.Payload) == 0 {
		cmd.resolve(nil)
		return
	}
	data := a.framer.Frame(cmd.Payload)
	if err := a.transport.Publish(a.ctx, a.topic, data); err != nil {
		a.log.Error("error while publishing", zap.Error(err))
		cmd.resolve(&PublishError{Topic: a.topic, Err: err})
		return
	}
	a.log.Debug("published", zap.Int("bytes", len(cmd.Payload)))
	cmd.resolve(nil)
}

func (a *Actor) handleEvent(ev Event) {
	switch e := ev.(type) {
	case PeerDiscovered:
		a.log.Info("discovered a new peer", zap.Stringer("peer", e.Peer))
		err := a.transport.Dial(peer.AddrInfo{ID: e.Peer, Addrs: e.Addrs})
		if err != nil && !errors.Is(err, ErrDialPending) {
			a.log.Error("could not dial peer", zap.Stringer("peer", e.Peer), zap.Error(err))
		}

	case PeerExpired:
		a.log.Info("discovered peer has expired", zap.Stringer("peer", e.Peer))
		if err := a.transport.Disconnect(e.Peer); err != nil {
			a.log.Error("could not disconnect peer", zap.Stringer("peer", e.Peer), zap.Error(err))
		}

	case HandshakeReceived:
		a.admit(e.Peer, e.ProtocolVersion)

	case MessageReceived:
		a.deliver(e)

	case DialFailed:
		a.log.Error("could not dial peer", zap.Stringer("peer", e.Peer), zap.Error(e.Err))

	case ListenAddrBound:
		a.log.Info("local node is listening", zap.Stringer("addr", e.Addr))

	case ConnectionClosed:
		a.log.Info("connection closed", zap.Stringer("peer", e.Peer))

	default:
		a.log.Debug("unhandled event", zap.Any("event", ev))
	}
}

// admit runs the trust gate for one identify exchange
func (a *Actor) admit(p peer.ID, version string) {
	if !a.gate.Admit(version) {
		a.log.Warn("peer is using a different protocol version, disconnecting",
			zap.Stringer("peer", p), zap.String("version", version), zap.String("want", a.gate.Version()))
		if _, ok := a.explicit[p]; ok {
			delete(a.explicit, p)
			a.transport.RemoveExplicitPeer(p)
		}
		if err := a.transport.Disconnect(p); err != nil {
			a.log.Error("could not disconnect peer", zap.Stringer("peer", p), zap.Error(err))
		}
		return
	}
	a.log.Debug("adding explicit peer", zap.Stringer("peer", p))
	a.explicit[p] = struct{}{}
	a.transport.AddExplicitPeer(p)
}

func (a *Actor) deliver(e MessageReceived) {
	if e.Peer == a.transport.ID() {
		return
	}
	payload, err := a.framer.Unframe(e.Data)
	if err != nil {
		a.log.Warn("dropping malformed message", zap.Stringer("peer", e.Peer), zap.Error(err))
		return
	}
	msg := a.received.Push(e.Peer, payload)
	fields := []zap.Field{zap.Stringer("peer", e.Peer), zap.Uint64("seq", msg.Seq), zap.Int("bytes", len(payload))}
	if _, stamped := a.framer.(*TimestampFramer); stamped {
		if sent, err := Stamp(e.Data); err == nil {
			fields = append(fields, zap.Duration("age", time.Since(sent)))
		}
	}
	a.log.Info("message received", fields...)
}
