package client_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arcrun/mcprt/client"
	"github.com/arcrun/mcprt/jsonrpc"
)

func TestNotificationQueueBuffersUntilAttach(t *testing.T) {
	q := client.NewNotificationQueue(4)
	q.Push(jsonrpc.Message{Kind: jsonrpc.KindNotification, Method: "a"})
	q.Push(jsonrpc.Message{Kind: jsonrpc.KindNotification, Method: "b"})

	ch := make(chan jsonrpc.Message, 4)
	q.Attach(ch)

	require.Len(t, ch, 2)
	first := <-ch
	second := <-ch
	require.Equal(t, "a", first.Method)
	require.Equal(t, "b", second.Method)
}

func TestNotificationQueueForwardsLiveAfterAttach(t *testing.T) {
	q := client.NewNotificationQueue(4)
	ch := make(chan jsonrpc.Message, 4)
	q.Attach(ch)

	q.Push(jsonrpc.Message{Kind: jsonrpc.KindNotification, Method: "live"})

	select {
	case msg := <-ch:
		require.Equal(t, "live", msg.Method)
	case <-time.After(time.Second):
		t.Fatal("expected notification to be forwarded to the attached listener")
	}
}

func TestNotificationQueueDropsOldestBeyondCapacity(t *testing.T) {
	q := client.NewNotificationQueue(2)
	q.Push(jsonrpc.Message{Kind: jsonrpc.KindNotification, Method: "1"})
	q.Push(jsonrpc.Message{Kind: jsonrpc.KindNotification, Method: "2"})
	q.Push(jsonrpc.Message{Kind: jsonrpc.KindNotification, Method: "3"})

	ch := make(chan jsonrpc.Message, 4)
	q.Attach(ch)
	require.Len(t, ch, 2)
	first := <-ch
	second := <-ch
	require.Equal(t, "2", first.Method)
	require.Equal(t, "3", second.Method)
}

func TestNotificationQueueDetachRevertsToBuffering(t *testing.T) {
	q := client.NewNotificationQueue(4)
	ch := make(chan jsonrpc.Message, 4)
	q.Attach(ch)
	q.Detach(ch)

	q.Push(jsonrpc.Message{Kind: jsonrpc.KindNotification, Method: "buffered"})
	require.Empty(t, ch)

	ch2 := make(chan jsonrpc.Message, 4)
	q.Attach(ch2)
	require.Len(t, ch2, 1)
}
