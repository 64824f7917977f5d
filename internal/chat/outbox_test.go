package chat

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOutboxOrderAndRearm(t *testing.T) {
	o := NewOutbox()
	require.NoError(t, o.Send([]byte("1")))
	require.NoError(t, o.Send([]byte("2")))

	<-o.Ready()
	cmd, ok := o.Next()
	require.True(t, ok)
	require.Equal(t, "1", string(cmd.Payload))

	// one left, so Ready must fire again
	<-o.Ready()
	cmd, ok = o.Next()
	require.True(t, ok)
	require.Equal(t, "2", string(cmd.Payload))

	_, ok = o.Next()
	require.False(t, ok)
}

func TestOutboxCloseDropsQueued(t *testing.T) {
	o := NewOutbox()
	require.NoError(t, o.Send([]byte("a")))
	reply := make(chan error, 1)
	require.NoError(t, o.push(Command{Payload: []byte("b"), reply: reply}))

	dropped := o.Close()
	require.Len(t, dropped, 2)
	require.Zero(t, o.Len())

	require.ErrorIs(t, o.Send([]byte("c")), ErrOutboxClosed)
	require.Nil(t, o.Close())
}
