package bus

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/V4T54L/geofence-relay/internal/domain"
)

func newStreamBus(t *testing.T) (*RedisStreamBus, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisStream(client, "geofencingSample/event", "consumers", JSON, discardLogger), mr
}

func TestRedisStreamBus_Publish(t *testing.T) {
	b, mr := newStreamBus(t)

	require.NoError(t, b.Publish(context.Background(), sampleMessage("d1", "A")))
	require.NoError(t, b.Publish(context.Background(), sampleMessage("d2", "B")))

	entries, err := mr.Stream("geofencingSample/event")
	require.NoError(t, err)
	require.Len(t, entries, 2)

	values := map[string]string{}
	for i := 0; i+1 < len(entries[0].Values); i += 2 {
		values[entries[0].Values[i]] = entries[0].Values[i+1]
	}
	assert.Equal(t, "application/json", values[contentTypeField])

	var got domain.EnrichedMessage
	require.NoError(t, JSON.Unmarshal([]byte(values[payloadField]), &got))
	assert.Equal(t, "d1", got.DeviceDescriptor)
}

func TestRedisStreamBus_Subscribe(t *testing.T) {
	b, mr := newStreamBus(t)

	received := make(chan domain.EnrichedMessage, 8)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- b.Subscribe(ctx, func(_ context.Context, msg domain.EnrichedMessage) error {
			received <- msg
			return nil
		})
	}()

	// The consumer group is created at the stream tail; wait for it before publishing.
	require.Eventually(t, func() bool { return mr.Exists("geofencingSample/event") }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, b.Publish(context.Background(), sampleMessage("d1", "A")))
	require.NoError(t, b.Publish(context.Background(), sampleMessage("d2", "B")))

	var got []string
	for len(got) < 2 {
		select {
		case msg := <-received:
			got = append(got, msg.DeviceDescriptor)
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for messages, got %v", got)
		}
	}
	assert.Equal(t, []string{"d1", "d2"}, got)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Subscribe did not return after cancellation")
	}
}

func TestIsBusyGroupError(t *testing.T) {
	b, _ := newStreamBus(t)
	ctx := context.Background()

	require.NoError(t, b.setupConsumerGroup(ctx))
	// Creating the same group twice is not an error.
	assert.NoError(t, b.setupConsumerGroup(ctx))
}
