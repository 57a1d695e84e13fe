package gateway

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyluth/chanrelay/internal/testutil"
	"github.com/dyluth/chanrelay/pkg/relay"
)

func TestRedisGateway(t *testing.T) {
	_, client := testutil.NewRelay(t, "test")
	g := NewRedis(client, 10, nil)
	ctx := context.Background()
	instr := &relay.ForwardInstruction{SourceNumericID: 1, Destination: "@d", MessageRef: "5", IssuedAtMs: 1000}

	assert.Equal(t, "redis", g.Name())

	t.Run("fails when no transport listens", func(t *testing.T) {
		assert.ErrorIs(t, g.Forward(ctx, instr), relay.ErrNoConsumer)
		history, err := client.ForwardsSince(ctx, 0)
		require.NoError(t, err)
		assert.Empty(t, history)
	})

	t.Run("a watcher alone is not a transport", func(t *testing.T) {
		watcher, err := client.SubscribeForwardEvents(ctx)
		require.NoError(t, err)
		defer watcher.Close()

		assert.ErrorIs(t, g.Forward(ctx, instr), relay.ErrNoConsumer)
		select {
		case got := <-watcher.Events():
			t.Fatalf("unexpected forward event for %s", got.Destination)
		case <-time.After(50 * time.Millisecond):
		}
	})

	t.Run("delivers records and announces", func(t *testing.T) {
		sub, err := client.SubscribeForwards(ctx)
		require.NoError(t, err)
		defer sub.Close()
		watcher, err := client.SubscribeForwardEvents(ctx)
		require.NoError(t, err)
		defer watcher.Close()

		require.NoError(t, g.Forward(ctx, instr))

		for _, ch := range []<-chan *relay.ForwardInstruction{sub.Events(), watcher.Events()} {
			select {
			case got := <-ch:
				assert.Equal(t, "@d", got.Destination)
			case <-time.After(time.Second):
				t.Fatal("timeout waiting for instruction")
			}
		}

		history, err := client.ForwardsSince(ctx, 0)
		require.NoError(t, err)
		require.Len(t, history, 1)
		assert.Equal(t, "5", history[0].MessageRef)
	})
}
