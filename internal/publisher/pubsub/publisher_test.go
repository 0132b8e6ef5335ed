package pubsub

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
)

func newFakePublisher(t *testing.T) (*Publisher, *pubsub.Client) {
	t.Helper()
	ctx := context.Background()

	srv := pstest.NewServer()
	t.Cleanup(func() { srv.Close() })

	conn, err := grpc.Dial(srv.Addr, grpc.WithInsecure())
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	client, err := pubsub.NewClient(ctx, "project-id", option.WithGRPCConn(conn))
	require.NoError(t, err)

	return NewWithClient(client), client
}

func TestPublishDeliversJSON(t *testing.T) {
	ctx := context.Background()
	pub, client := newFakePublisher(t)

	topic, err := client.CreateTopic(ctx, "search-events")
	require.NoError(t, err)
	sub, err := client.CreateSubscription(ctx, "sub-id", pubsub.SubscriptionConfig{Topic: topic})
	require.NoError(t, err)

	payload := map[string]any{"cache_key": "abc", "unique_results": 3}
	id, err := pub.Publish(ctx, "search-events", payload)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	recvCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	received := make(chan *pubsub.Message, 1)
	go func() {
		_ = sub.Receive(recvCtx, func(_ context.Context, msg *pubsub.Message) {
			received <- msg
			msg.Ack()
			cancel()
		})
	}()

	select {
	case msg := <-received:
		var got map[string]any
		require.NoError(t, json.Unmarshal(msg.Data, &got))
		assert.Equal(t, "abc", got["cache_key"])
		assert.Equal(t, float64(3), got["unique_results"])
	case <-recvCtx.Done():
		t.Fatal("message was not delivered")
	}

	// A second publish to the same topic reuses the cached handle.
	_, err = pub.Publish(ctx, "search-events", payload)
	require.NoError(t, err)
	require.Len(t, pub.topics, 1)

	require.NoError(t, pub.Close())
}

func TestPublishMissingTopic(t *testing.T) {
	ctx := context.Background()
	pub, _ := newFakePublisher(t)

	_, err := pub.Publish(ctx, "ghost-topic", "payload")
	require.Error(t, err)
}

func TestPublishMarshalError(t *testing.T) {
	t.Parallel()

	pub := NewWithClient(nil)
	_, err := pub.Publish(context.Background(), "events", make(chan int))
	require.Error(t, err)
}

func TestCarrierRoundTrip(t *testing.T) {
	t.Parallel()

	c := &pubsubCarrier{attrs: map[string]string{}}
	c.Set("traceparent", "00-abc-def-01")
	require.Equal(t, "00-abc-def-01", c.Get("traceparent"))
	require.Equal(t, []string{"traceparent"}, c.Keys())
}
