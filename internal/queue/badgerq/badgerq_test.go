package badgerq

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artello/eventflow/internal/domain"
	"github.com/artello/eventflow/internal/queue"
)

func testEvent(id string) *domain.Event {
	return &domain.Event{
		EventID:   id,
		SessionID: "sess-1",
		AppID:     "app-1",
		EventType: "page_view",
		Payload:   domain.Payload{"path": "/home"},
		Timestamp: time.Now().UTC(),
	}
}

func receiveOne(t *testing.T, ch <-chan queue.Delivery) queue.Delivery {
	t.Helper()
	select {
	case d := <-ch:
		return d
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivery")
		return queue.Delivery{}
	}
}

func TestEnqueueConsumeAck(t *testing.T) {
	q, err := Open(InMemoryConfig())
	require.NoError(t, err)
	defer q.Close()

	receipt, err := q.Enqueue(context.Background(), testEvent("evt-1"))
	require.NoError(t, err)
	assert.NotEmpty(t, receipt.MessageID)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	deliveries, err := q.Consume(ctx)
	require.NoError(t, err)

	d := receiveOne(t, deliveries)
	require.NotNil(t, d.Event)
	assert.Equal(t, "evt-1", d.Event.EventID)
	require.NoError(t, d.Ack())

	depth, err := q.Depth()
	require.NoError(t, err)
	assert.Equal(t, 0, depth)
}

func TestFIFOOrder(t *testing.T) {
	q, err := Open(InMemoryConfig())
	require.NoError(t, err)
	defer q.Close()

	ids := []string{"evt-1", "evt-2", "evt-3"}
	for _, id := range ids {
		_, err := q.Enqueue(context.Background(), testEvent(id))
		require.NoError(t, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	deliveries, err := q.Consume(ctx)
	require.NoError(t, err)

	for _, want := range ids {
		d := receiveOne(t, deliveries)
		require.NotNil(t, d.Event)
		assert.Equal(t, want, d.Event.EventID)
		require.NoError(t, d.Ack())
	}
}

func TestNackRedelivers(t *testing.T) {
	q, err := Open(InMemoryConfig())
	require.NoError(t, err)
	defer q.Close()

	_, err = q.Enqueue(context.Background(), testEvent("evt-1"))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	deliveries, err := q.Consume(ctx)
	require.NoError(t, err)

	first := receiveOne(t, deliveries)
	require.NoError(t, first.Nack())

	second := receiveOne(t, deliveries)
	require.NotNil(t, second.Event)
	assert.Equal(t, "evt-1", second.Event.EventID)
	assert.Equal(t, first.Body, second.Body, "redelivery must preserve the original body")
	require.NoError(t, second.Ack())
}

func TestUnackedSurvivesReopen(t *testing.T) {
	dir := t.TempDir()

	q, err := Open(DefaultConfig(dir))
	require.NoError(t, err)
	_, err = q.Enqueue(context.Background(), testEvent("evt-1"))
	require.NoError(t, err)

	// Deliver but never ack, then simulate a crash by closing.
	ctx, cancel := context.WithCancel(context.Background())
	deliveries, err := q.Consume(ctx)
	require.NoError(t, err)
	receiveOne(t, deliveries)
	cancel()
	require.NoError(t, q.Close())

	reopened, err := Open(DefaultConfig(dir))
	require.NoError(t, err)
	defer reopened.Close()

	ctx2, cancel2 := context.WithCancel(context.Background())
	defer cancel2()
	deliveries2, err := reopened.Consume(ctx2)
	require.NoError(t, err)

	d := receiveOne(t, deliveries2)
	require.NotNil(t, d.Event)
	assert.Equal(t, "evt-1", d.Event.EventID)
	require.NoError(t, d.Ack())
}

func TestEnqueueAfterClose(t *testing.T) {
	q, err := Open(InMemoryConfig())
	require.NoError(t, err)
	require.NoError(t, q.Close())

	_, err = q.Enqueue(context.Background(), testEvent("evt-1"))
	assert.Error(t, err)
}

func TestConsumeChannelClosesOnCancel(t *testing.T) {
	q, err := Open(InMemoryConfig())
	require.NoError(t, err)
	defer q.Close()

	ctx, cancel := context.WithCancel(context.Background())
	deliveries, err := q.Consume(ctx)
	require.NoError(t, err)

	cancel()
	select {
	case _, open := <-deliveries:
		assert.False(t, open, "channel should be closed after cancel")
	case <-time.After(2 * time.Second):
		t.Fatal("channel did not close after context cancellation")
	}
}
