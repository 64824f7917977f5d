// Package bridge exposes chat nodes to foreign callers through integer handles.
//
// Handles are keys into a table, so a null, stale or twice-freed handle is an
// ordinary lookup failure reported as StatusInvalidHandle. The table enforces
// single ownership and stop-before-free; concurrent calls on one handle must
// still be serialized by the caller.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/zot/p2p-chat/internal/chat"
	"github.com/zot/p2p-chat/internal/config"
	"github.com/zot/p2p-chat/internal/logging"
	"github.com/zot/p2p-chat/internal/node"
)

// Handle owns one chat node. Zero is the null handle.
type Handle uint64

// RunHandle identifies the running loop of a started node. Zero is the null handle.
type RunHandle uint64

// Status codes returned across the boundary
const (
	StatusOK             = 0
	StatusInvalidHandle  = -1
	StatusBufferTooSmall = -2
	StatusNotRunning     = -3
	StatusPublishFailed  = -4
	StatusRunActive      = -5
	StatusTimeout        = -6
	StatusClosed         = -7
	StatusTooLarge       = -8
)

// MaxTransfer is the largest payload or byte count that fits a 32-bit status return
const MaxTransfer = math.MaxInt32

var (
	// ErrUnknownHandle is returned for null, freed or never issued handles
	ErrUnknownHandle = errors.New("unknown handle")

	// ErrRunActive is returned when a node still has an unjoined run
	ErrRunActive = errors.New("run still active")
)

// Factory builds a Constructed actor bound to ctx
type Factory func(ctx context.Context, log *zap.Logger) (*chat.Actor, error)

// ConfigFactory loads the process configuration and assembles a libp2p node
func ConfigFactory(ctx context.Context, log *zap.Logger) (*chat.Actor, error) {
	cfg, err := config.Load("")
	if err != nil {
		return nil, &chat.ConstructionError{Stage: "config", Err: err}
	}
	if err := cfg.Validate(); err != nil {
		return nil, &chat.ConstructionError{Stage: "config", Err: err}
	}
	return node.New(ctx, cfg, log)
}

type entry struct {
	log    *zap.Logger
	actor  *chat.Actor
	cancel context.CancelFunc
	run    RunHandle
	group  *errgroup.Group
}

// Bridge is a handle table of chat nodes
type Bridge struct {
	factory        Factory
	publishTimeout time.Duration

	mu   sync.Mutex
	log  *zap.Logger
	next uint64
	// nodes and runs share one key space so a Handle is never mistaken for a RunHandle
	nodes map[Handle]*entry
	runs  map[RunHandle]Handle
}

// Default backs the C entry points
var Default = New(ConfigFactory, config.DefaultConfig().P2P.PublishTimeout.Duration)

// New creates an empty handle table
func New(factory Factory, publishTimeout time.Duration) *Bridge {
	return &Bridge{
		factory:        factory,
		publishTimeout: publishTimeout,
		log:            zap.NewNop(),
		nodes:          make(map[Handle]*entry),
		runs:           make(map[RunHandle]Handle),
	}
}

// EnableLogs sets up logging from the log section of the process
// configuration, honouring P2PCHAT_LOG_LEVEL and friends. The configured
// publish timeout is adopted at the same time.
func (b *Bridge) EnableLogs() error {
	cfg, err := config.Load("")
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	log, err := logging.Setup(cfg.Log)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.log = log
	b.publishTimeout = cfg.P2P.PublishTimeout.Duration
	return nil
}

func (b *Bridge) key() uint64 {
	b.next++
	return b.next
}

func (b *Bridge) lookup(h Handle) (*entry, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.nodes[h]
	if !ok {
		return nil, ErrUnknownHandle
	}
	return e, nil
}

// Construct builds a node and returns its owning handle
func (b *Bridge) Construct() (Handle, error) {
	b.mu.Lock()
	log := b.log
	b.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	actor, err := b.factory(ctx, log)
	if err != nil {
		cancel()
		return 0, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	h := Handle(b.key())
	b.nodes[h] = &entry{log: log, actor: actor, cancel: cancel}
	log.Debug("constructed node", zap.Uint64("handle", uint64(h)), zap.Stringer("peer", actor.ID()))
	return h, nil
}

// Start binds the node to port and runs its loop in the background.
// Subscribe and listen failures are returned before anything runs.
func (b *Bridge) Start(h Handle, port uint16) (RunHandle, error) {
	e, err := b.lookup(h)
	if err != nil {
		return 0, err
	}
	b.mu.Lock()
	running := e.run != 0
	b.mu.Unlock()
	if running {
		return 0, ErrRunActive
	}
	if err := e.actor.Start(port); err != nil {
		return 0, err
	}

	g := new(errgroup.Group)
	g.Go(e.actor.Loop)

	b.mu.Lock()
	defer b.mu.Unlock()
	r := RunHandle(b.key())
	e.run = r
	e.group = g
	b.runs[r] = h
	return r, nil
}

// Publish queues data for broadcast and waits for the node's verdict
func (b *Bridge) Publish(h Handle, data []byte) int {
	e, err := b.lookup(h)
	if err != nil {
		return StatusInvalidHandle
	}
	b.mu.Lock()
	timeout := b.publishTimeout
	b.mu.Unlock()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return Status(e.actor.Publish(ctx, data))
}

// Receive pops the oldest message into buf and returns the bytes copied.
// An empty queue returns 0 without touching buf. A message longer than buf
// is discarded and StatusBufferTooSmall returned.
func (b *Bridge) Receive(h Handle, buf []byte) int {
	e, err := b.lookup(h)
	if err != nil {
		return StatusInvalidHandle
	}
	msg, ok := e.actor.Received().Pop()
	if !ok {
		return 0
	}
	if len(buf) < len(msg.Payload) {
		e.log.Warn("receive buffer too small, message dropped",
			zap.Int("size", len(buf)), zap.Int("needed", len(msg.Payload)))
		return StatusBufferTooSmall
	}
	return copy(buf, msg.Payload)
}

// Stop cancels the node and, when r is not null, waits for its run to end.
// Stopping a node that never started only cancels it.
func (b *Bridge) Stop(h Handle, r RunHandle) int {
	e, err := b.lookup(h)
	if err != nil {
		return StatusInvalidHandle
	}
	if r == 0 {
		e.cancel()
		return StatusOK
	}

	// a run handle owned by another node is rejected before anything is cancelled
	b.mu.Lock()
	owner, ok := b.runs[r]
	if !ok || owner != h {
		b.mu.Unlock()
		return StatusInvalidHandle
	}
	delete(b.runs, r)
	g := e.group
	b.mu.Unlock()

	e.cancel()

	if err := g.Wait(); err != nil {
		e.log.Error("run ended with error", zap.Uint64("handle", uint64(h)), zap.Error(err))
	}

	b.mu.Lock()
	e.run = 0
	e.group = nil
	b.mu.Unlock()
	return StatusOK
}

// Free releases the node and its transport. A node with an unjoined run
// must be stopped first.
func (b *Bridge) Free(h Handle) int {
	b.mu.Lock()
	e, ok := b.nodes[h]
	if !ok {
		b.mu.Unlock()
		return StatusInvalidHandle
	}
	if e.run != 0 {
		b.mu.Unlock()
		return StatusRunActive
	}
	delete(b.nodes, h)
	b.mu.Unlock()

	e.cancel()
	if err := e.actor.Close(); err != nil {
		e.log.Warn("error closing node", zap.Uint64("handle", uint64(h)), zap.Error(err))
	}
	return StatusOK
}

// Status maps an error to a boundary status code
func Status(err error) int {
	switch {
	case err == nil:
		return StatusOK
	case errors.Is(err, ErrUnknownHandle):
		return StatusInvalidHandle
	case errors.Is(err, ErrRunActive):
		return StatusRunActive
	case errors.Is(err, chat.ErrNotRunning):
		return StatusNotRunning
	case errors.Is(err, chat.ErrOutboxClosed), errors.Is(err, chat.ErrStopped):
		return StatusClosed
	case errors.Is(err, context.DeadlineExceeded):
		return StatusTimeout
	default:
		return StatusPublishFailed
	}
}

// CheckPublishSize rejects foreign payloads whose length cannot be carried
func CheckPublishSize(n uint64) int {
	if n > MaxTransfer {
		return StatusTooLarge
	}
	return StatusOK
}

// ReceiveWindow caps a foreign buffer length so the copied count always fits
// the status return
func ReceiveWindow(n uint64) int {
	return int(min(n, MaxTransfer))
}

// StatusText describes a status code
func StatusText(code int) string {
	switch code {
	case StatusOK:
		return "ok"
	case StatusInvalidHandle:
		return "invalid handle"
	case StatusBufferTooSmall:
		return "buffer too small"
	case StatusNotRunning:
		return "not running"
	case StatusPublishFailed:
		return "publish failed"
	case StatusRunActive:
		return "run active"
	case StatusTimeout:
		return "timeout"
	case StatusClosed:
		return "closed"
	case StatusTooLarge:
		return "payload too large"
	default:
		if code > 0 {
			return fmt.Sprintf("%d bytes", code)
		}
		return fmt.Sprintf("status(%d)", code)
	}
}
