package network

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxmesh/fluxmesh/pkg/types"
)

func newTestTransport(t *testing.T) *Transport {
	t.Helper()
	tr := NewTransport(Config{BindAddr: "127.0.0.1:0", HandlerThreads: 2, QueueSize: 8})
	require.NoError(t, tr.Start(context.Background()))
	t.Cleanup(func() { tr.Shutdown() })
	return tr
}

func TestSenderAnnounceReadyHandshake(t *testing.T) {
	tr := newTestTransport(t)
	partition := types.Partition{SubPlanID: 1, OperatorID: 2, Index: 0}
	deliveries := tr.RegisterPartition(partition)

	sender, err := Dial(context.Background(), SenderConfig{Addr: tr.Addr().String(), Partition: partition})
	require.NoError(t, err)
	defer sender.Close()

	header := types.BufferHeader{OriginID: 9, SequenceNumber: 1, TupleCount: 2}
	require.NoError(t, sender.SendData(header, []byte("rows"), nil))

	select {
	case d := <-deliveries:
		require.Equal(t, types.MsgData, d.Kind)
		assert.Equal(t, []byte("rows"), d.Buffer.Payload)
		assert.Equal(t, header.OriginID, d.Buffer.Header.OriginID)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivery")
	}
}

func TestSenderAnnounceRejectedForUnregisteredPartition(t *testing.T) {
	tr := newTestTransport(t)
	partition := types.Partition{SubPlanID: 1, OperatorID: 2, Index: 0}

	_, err := Dial(context.Background(), SenderConfig{
		Addr: tr.Addr().String(), Partition: partition, MaxRetries: 1, BackoffBase: time.Millisecond,
	})
	assert.Error(t, err)
}

func TestSenderSendEventAndEOS(t *testing.T) {
	tr := newTestTransport(t)
	partition := types.Partition{SubPlanID: 3, OperatorID: 4, Index: 1}
	deliveries := tr.RegisterPartition(partition)

	sender, err := Dial(context.Background(), SenderConfig{Addr: tr.Addr().String(), Partition: partition})
	require.NoError(t, err)
	defer sender.Close()

	require.NoError(t, sender.SendEvent("source-start", nil))
	require.NoError(t, sender.SendEOS(types.TerminationGraceful))

	d1 := <-deliveries
	assert.Equal(t, types.MsgEvent, d1.Kind)
	assert.Equal(t, "source-start", d1.Event.Name)

	d2 := <-deliveries
	assert.Equal(t, types.MsgEndOfStream, d2.Kind)
	assert.Equal(t, types.TerminationGraceful, d2.EOS.Termination)
}

func TestUnregisterPartitionClosesChannel(t *testing.T) {
	tr := newTestTransport(t)
	partition := types.Partition{SubPlanID: 5, OperatorID: 6, Index: 0}
	deliveries := tr.RegisterPartition(partition)
	tr.UnregisterPartition(partition)

	_, ok := <-deliveries
	assert.False(t, ok)
}
