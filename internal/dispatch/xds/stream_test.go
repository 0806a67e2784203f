package xds

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/anypb"
	"google.golang.org/protobuf/types/known/durationpb"
)

func anyPayload(t *testing.T) *anypb.Any {
	t.Helper()
	a, err := anypb.New(durationpb.New(time.Second))
	require.NoError(t, err)
	return a
}

func TestStreamApplyAddThenAckCommitsCurrentState(t *testing.T) {
	s := newStream()
	nonce, ok := s.applyAdd("l1", anyPayload(t))
	require.True(t, ok)
	require.NotEmpty(t, nonce)

	_, exists := s.currentState["l1"]
	require.False(t, exists, "currentState must not be updated before ack")

	require.True(t, s.ack(nonce, false))
	_, exists = s.currentState["l1"]
	require.True(t, exists, "expected currentState to contain l1 after ack")
}

func TestStreamApplyAddNackDiscardsPending(t *testing.T) {
	s := newStream()
	nonce, _ := s.applyAdd("l1", anyPayload(t))
	require.False(t, s.ack(nonce, true))

	_, exists := s.currentState["l1"]
	require.False(t, exists, "currentState must not gain the entry on nack")
}

func TestStreamApplyAddAlreadyCurrentIsNoOp(t *testing.T) {
	s := newStream()
	nonce, _ := s.applyAdd("l1", anyPayload(t))
	s.ack(nonce, false)

	_, ok := s.applyAdd("l1", anyPayload(t))
	require.False(t, ok, "expected applyAdd to be a no-op for an already-current name")
}

func TestStreamApplyDeleteAbsentIsNoOp(t *testing.T) {
	s := newStream()
	_, ok := s.applyDelete("never-added")
	require.False(t, ok, "expected applyDelete to be a no-op for an absent name")
}

func TestStreamApplyDeletePresent(t *testing.T) {
	s := newStream()
	nonce, _ := s.applyAdd("l1", anyPayload(t))
	s.ack(nonce, false)

	delNonce, ok := s.applyDelete("l1")
	require.True(t, ok)
	require.NotEqual(t, nonce, delNonce, "expected a fresh nonce for the delete")

	_, exists := s.currentState["l1"]
	require.False(t, exists, "expected l1 removed from currentState immediately")
}

func TestStreamAckUnknownNonceIsIgnored(t *testing.T) {
	s := newStream()
	require.False(t, s.ack("bogus", false))
}

func TestStreamEnqueueDequeueFIFOOrder(t *testing.T) {
	s := newStream()
	s.enqueue(op{kind: opAdd, name: "a"})
	s.enqueue(op{kind: opAdd, name: "b"})

	ctx := context.Background()
	first, ok := s.dequeue(ctx)
	require.True(t, ok)
	require.Equal(t, "a", first.name)

	second, ok := s.dequeue(ctx)
	require.True(t, ok)
	require.Equal(t, "b", second.name)
}

func TestStreamDequeueBlocksUntilEnqueueOrCancel(t *testing.T) {
	s := newStream()
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	done := make(chan bool, 1)
	go func() {
		_, ok := s.dequeue(ctx)
		done <- ok
	}()

	select {
	case ok := <-done:
		require.False(t, ok, "expected dequeue to report false once ctx is cancelled with nothing enqueued")
	case <-time.After(time.Second):
		t.Fatal("dequeue did not return after ctx cancellation")
	}
}

func TestRegistryGetCreatesImplicitly(t *testing.T) {
	r := newRegistry()
	a := r.get("uid1")
	b := r.get("uid1")
	require.Same(t, a, b, "expected repeated get() for the same uid to return the same stream")
}

func TestRegistryDeleteDropsStream(t *testing.T) {
	r := newRegistry()
	a := r.get("uid1")
	r.delete("uid1")
	b := r.get("uid1")
	require.NotSame(t, a, b, "expected delete() followed by get() to create a fresh stream")
}
