package bridge

import (
	"bytes"
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/zot/p2p-chat/internal/chat"
	"github.com/zot/p2p-chat/internal/chat/chattest"
)

type fakeNodes struct {
	transports []*chattest.Transport
	listenErr  error
}

func (f *fakeNodes) factory(ctx context.Context, log *zap.Logger) (*chat.Actor, error) {
	tr := chattest.NewTransport()
	tr.ListenErr = f.listenErr
	f.transports = append(f.transports, tr)
	return chat.NewActor(ctx, tr, chat.ContentHashFramer{}, chat.Options{Logger: log}), nil
}

func newBridge(t *testing.T) (*Bridge, *fakeNodes) {
	t.Helper()
	f := &fakeNodes{}
	return New(f.factory, time.Second), f
}

func construct(t *testing.T, b *Bridge) Handle {
	t.Helper()
	h, err := b.Construct()
	require.NoError(t, err)
	require.NotZero(t, h)
	return h
}

func queue(t *testing.T, b *Bridge, h Handle) *chat.Queue {
	t.Helper()
	e, err := b.lookup(h)
	require.NoError(t, err)
	return e.actor.Received()
}

func TestReceiveEmptyQueueDoesNotWrite(t *testing.T) {
	b, _ := newBridge(t)
	h := construct(t, b)
	defer b.Free(h)

	buf := bytes.Repeat([]byte{0xAA}, 8)
	require.Equal(t, 0, b.Receive(h, buf))
	require.Equal(t, bytes.Repeat([]byte{0xAA}, 8), buf)
}

func TestReceiveBufferSizes(t *testing.T) {
	b, _ := newBridge(t)
	h := construct(t, b)
	defer b.Free(h)
	q := queue(t, b, h)
	from := chattest.NewPeerID()

	q.Push(from, []byte("hello"))
	buf := make([]byte, 5)
	require.Equal(t, 5, b.Receive(h, buf))
	require.Equal(t, "hello", string(buf))

	// one byte short: the message is consumed and lost
	q.Push(from, []byte("hello"))
	q.Push(from, []byte("next"))
	small := bytes.Repeat([]byte{0xAA}, 4)
	require.Equal(t, StatusBufferTooSmall, b.Receive(h, small))
	require.Equal(t, bytes.Repeat([]byte{0xAA}, 4), small)
	require.Equal(t, 1, q.Len())
	require.Equal(t, 4, b.Receive(h, small))
	require.Equal(t, "next", string(small))

	// zero length messages are consumed and report 0
	q.Push(from, nil)
	require.Equal(t, 0, b.Receive(h, buf))
	require.Zero(t, q.Len())
}

func TestStopBeforeStartThenFree(t *testing.T) {
	b, f := newBridge(t)
	h := construct(t, b)

	require.Equal(t, StatusOK, b.Stop(h, 0))
	require.Equal(t, StatusOK, b.Free(h))
	require.True(t, f.transports[0].Closed())

	require.Equal(t, StatusInvalidHandle, b.Free(h))
	require.Equal(t, StatusInvalidHandle, b.Stop(h, 0))
}

func TestFreeRefusedWhileRunning(t *testing.T) {
	b, f := newBridge(t)
	h := construct(t, b)

	r, err := b.Start(h, 0)
	require.NoError(t, err)
	require.NotZero(t, r)
	require.NotEqual(t, uint64(h), uint64(r))

	require.Equal(t, StatusRunActive, b.Free(h))
	require.False(t, f.transports[0].Closed())

	_, err = b.Start(h, 0)
	require.ErrorIs(t, err, ErrRunActive)

	require.Equal(t, StatusOK, b.Stop(h, r))
	require.False(t, f.transports[0].Subscribed(chat.DefaultTopic))
	require.Equal(t, StatusInvalidHandle, b.Stop(h, r), "a run joins once")
	require.Equal(t, StatusOK, b.Free(h))
}

func TestStopRejectsForeignRun(t *testing.T) {
	b, _ := newBridge(t)
	h1 := construct(t, b)
	h2 := construct(t, b)

	r1, err := b.Start(h1, 0)
	require.NoError(t, err)
	r2, err := b.Start(h2, 0)
	require.NoError(t, err)

	require.Equal(t, StatusInvalidHandle, b.Stop(h2, r1))
	require.Equal(t, StatusInvalidHandle, b.Stop(h2, RunHandle(12345)))

	// the rejected calls left h2 running
	require.Equal(t, chat.Listening, b.nodes[h2].actor.State())
	require.Equal(t, StatusOK, b.Publish(h2, []byte("still here")))

	require.Equal(t, StatusOK, b.Stop(h1, r1))
	require.Equal(t, StatusOK, b.Stop(h2, r2))
	require.Equal(t, StatusOK, b.Free(h1))
	require.Equal(t, StatusOK, b.Free(h2))
}

func TestPublish(t *testing.T) {
	b, f := newBridge(t)
	h := construct(t, b)

	require.Equal(t, StatusNotRunning, b.Publish(h, []byte("early")))

	r, err := b.Start(h, 0)
	require.NoError(t, err)

	// no peers is not an error
	require.Equal(t, StatusOK, b.Publish(h, []byte("hi")))
	require.Equal(t, StatusOK, b.Publish(h, nil))
	require.Len(t, f.transports[0].Published(), 1)

	f.transports[0].FailPublish(errors.New("no route"))
	require.Equal(t, StatusPublishFailed, b.Publish(h, []byte("hi")))

	require.Equal(t, StatusOK, b.Stop(h, r))
	require.Equal(t, StatusNotRunning, b.Publish(h, []byte("late")))
	require.Equal(t, StatusOK, b.Free(h))
}

func TestNullAndUnknownHandles(t *testing.T) {
	b, _ := newBridge(t)

	require.Equal(t, StatusInvalidHandle, b.Publish(0, []byte("x")))
	require.Equal(t, StatusInvalidHandle, b.Receive(0, make([]byte, 4)))
	require.Equal(t, StatusInvalidHandle, b.Stop(0, 0))
	require.Equal(t, StatusInvalidHandle, b.Free(42))

	_, err := b.Start(0, 0)
	require.ErrorIs(t, err, ErrUnknownHandle)
}

func TestStartFailureLeavesNodeFreeable(t *testing.T) {
	b, f := newBridge(t)
	f.listenErr = errors.New("address in use")
	h := construct(t, b)

	_, err := b.Start(h, 4001)
	var listenErr *chat.ListenError
	require.ErrorAs(t, err, &listenErr)

	require.Equal(t, StatusOK, b.Free(h))
}

func TestConstructError(t *testing.T) {
	boom := &chat.ConstructionError{Stage: "transport", Err: errors.New("boom")}
	b := New(func(context.Context, *zap.Logger) (*chat.Actor, error) { return nil, boom }, time.Second)

	h, err := b.Construct()
	require.Zero(t, h)
	require.ErrorIs(t, err, boom)
}

func TestStatus(t *testing.T) {
	require.Equal(t, StatusOK, Status(nil))
	require.Equal(t, StatusInvalidHandle, Status(ErrUnknownHandle))
	require.Equal(t, StatusRunActive, Status(ErrRunActive))
	require.Equal(t, StatusNotRunning, Status(chat.ErrNotRunning))
	require.Equal(t, StatusClosed, Status(chat.ErrStopped))
	require.Equal(t, StatusClosed, Status(chat.ErrOutboxClosed))
	require.Equal(t, StatusTimeout, Status(context.DeadlineExceeded))
	require.Equal(t, StatusPublishFailed, Status(&chat.PublishError{Topic: "t", Err: errors.New("x")}))

	require.Equal(t, "buffer too small", StatusText(StatusBufferTooSmall))
	require.Equal(t, "5 bytes", StatusText(5))
}

func TestEnableLogsAdoptsConfig(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("HOME", t.TempDir())
	t.Setenv("P2PCHAT_P2P_PUBLISHTIMEOUT", "250ms")
	t.Setenv("P2PCHAT_LOG_LEVEL", "error")

	b, _ := newBridge(t)
	require.NoError(t, b.EnableLogs())
	require.Equal(t, 250*time.Millisecond, b.publishTimeout)
	require.NotNil(t, b.log)

	t.Setenv("P2PCHAT_P2P_PUBLISHTIMEOUT", "-1s")
	require.Error(t, b.EnableLogs())
	require.Equal(t, 250*time.Millisecond, b.publishTimeout)
}

func TestForeignSizeLimits(t *testing.T) {
	require.Equal(t, StatusOK, CheckPublishSize(0))
	require.Equal(t, StatusOK, CheckPublishSize(MaxTransfer))
	require.Equal(t, StatusTooLarge, CheckPublishSize(MaxTransfer+1))
	require.Equal(t, StatusTooLarge, CheckPublishSize(math.MaxUint64))
	require.Equal(t, "payload too large", StatusText(StatusTooLarge))

	require.Equal(t, 64, ReceiveWindow(64))
	require.Equal(t, MaxTransfer, ReceiveWindow(MaxTransfer))
	require.Equal(t, MaxTransfer, ReceiveWindow(math.MaxUint64))
}
