package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPublisherStoresMessages(t *testing.T) {
	t.Parallel()

	pub := New()
	id1, err := pub.Publish(context.Background(), "document.acquired", map[string]string{"k": "v"})
	require.NoError(t, err)
	require.Equal(t, "memory-1", id1)
	id2, err := pub.Publish(context.Background(), "document.failed", "payload")
	require.NoError(t, err)
	require.Equal(t, "memory-2", id2)

	msgs := pub.Messages()
	require.Len(t, msgs, 2)
	require.Equal(t, "document.acquired", msgs[0].Topic)
	require.Equal(t, []any{"payload"}, pub.Topic("document.failed"))

	msgs[0].Topic = "modified"
	require.Equal(t, "document.acquired", pub.Messages()[0].Topic)
}

func TestPublisherRespectsCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New().Publish(ctx, "document.failed", nil)
	require.ErrorIs(t, err, context.Canceled)
	require.Empty(t, New().Messages())
}

func TestBoundedPublisherDropsOldest(t *testing.T) {
	t.Parallel()

	pub := NewBounded(2)
	for _, topic := range []string{"a", "b", "c"} {
		_, err := pub.Publish(context.Background(), topic, topic)
		require.NoError(t, err)
	}
	id, err := pub.Publish(context.Background(), "d", "d")
	require.NoError(t, err)
	require.Equal(t, "memory-4", id)

	msgs := pub.Messages()
	require.Len(t, msgs, 2)
	require.Equal(t, "c", msgs[0].Topic)
	require.Equal(t, "d", msgs[1].Topic)
	require.Equal(t, 4, pub.Total())
}
