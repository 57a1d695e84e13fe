package relay

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestClient creates a test client connected to a miniredis instance
func setupTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	mr := miniredis.NewMiniRedis()
	err := mr.Start()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client, err := NewClient(&redis.Options{Addr: mr.Addr()}, "test-instance")
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	return client, mr
}

func TestNewClient(t *testing.T) {
	t.Run("creates client successfully", func(t *testing.T) {
		client, _ := setupTestClient(t)
		assert.NotNil(t, client)
		assert.Equal(t, "test-instance", client.InstanceName())
	})

	t.Run("rejects empty instance name", func(t *testing.T) {
		_, err := NewClient(&redis.Options{Addr: "localhost:6379"}, "")
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "instance name cannot be empty")
	})
}

func TestPing(t *testing.T) {
	client, _ := setupTestClient(t)
	assert.NoError(t, client.Ping(context.Background()))
}

func TestSubscribePosts(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()

	t.Run("receives published posts", func(t *testing.T) {
		sub, err := client.SubscribePosts(ctx)
		require.NoError(t, err)
		defer sub.Close()

		err = client.PublishPost(ctx, &PostEvent{SourceNumericID: -100123, SourceHandle: "@news", MessageRef: "7"})
		require.NoError(t, err)

		select {
		case received := <-sub.Events():
			assert.Equal(t, int64(-100123), received.SourceNumericID)
			assert.Equal(t, "@news", received.SourceHandle)
			assert.Equal(t, "7", received.MessageRef)
		case <-time.After(1 * time.Second):
			t.Fatal("timeout waiting for event")
		}
	})

	t.Run("rejects invalid post before publishing", func(t *testing.T) {
		err := client.PublishPost(ctx, &PostEvent{MessageRef: "7"})
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "source_numeric_id or source_handle")
	})

	t.Run("handles multiple subscribers", func(t *testing.T) {
		sub1, err := client.SubscribePosts(ctx)
		require.NoError(t, err)
		defer sub1.Close()

		sub2, err := client.SubscribePosts(ctx)
		require.NoError(t, err)
		defer sub2.Close()

		require.NoError(t, client.PublishPost(ctx, &PostEvent{SourceHandle: "feed", MessageRef: "1"}))

		for i, sub := range []*Subscription[PostEvent]{sub1, sub2} {
			select {
			case received := <-sub.Events():
				assert.Equal(t, "1", received.MessageRef)
			case <-time.After(1 * time.Second):
				t.Fatalf("timeout on sub%d", i+1)
			}
		}
	})

	t.Run("cleanup on Close", func(t *testing.T) {
		sub, err := client.SubscribePosts(ctx)
		require.NoError(t, err)

		assert.NoError(t, sub.Close())
		// Calling Close again should be safe
		assert.NoError(t, sub.Close())
	})

	t.Run("cleanup on context cancellation", func(t *testing.T) {
		cancelCtx, cancel := context.WithCancel(ctx)

		sub, err := client.SubscribePosts(cancelCtx)
		require.NoError(t, err)

		cancel()

		select {
		case _, ok := <-sub.Events():
			assert.False(t, ok, "channel should be closed")
		case <-time.After(1 * time.Second):
			t.Fatal("timeout waiting for channel close")
		}
	})
}

func TestSubscriptionReportsMalformedPayloads(t *testing.T) {
	client, mr := setupTestClient(t)
	ctx := context.Background()

	sub, err := client.SubscribeCommands(ctx)
	require.NoError(t, err)
	defer sub.Close()

	mr.Publish(OperatorCommandsChannel("test-instance"), "{not json")
	mr.Publish(OperatorCommandsChannel("test-instance"), `{"operator_id":"","intent":"start"}`)

	for i := 0; i < 2; i++ {
		select {
		case err := <-sub.Errors():
			assert.Error(t, err)
		case <-time.After(1 * time.Second):
			t.Fatal("timeout waiting for decode error")
		}
	}

	// The subscription keeps running after errors.
	require.NoError(t, client.PublishCommand(ctx, &OperatorCommand{OperatorID: "42", Intent: IntentStart}))
	select {
	case cmd := <-sub.Events():
		assert.Equal(t, "42", cmd.OperatorID)
		assert.Equal(t, IntentStart, cmd.Intent)
	case <-time.After(1 * time.Second):
		t.Fatal("timeout waiting for command")
	}
}

func TestPublishForward(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()
	instr := &ForwardInstruction{SourceNumericID: 1, Destination: "@dst", MessageRef: "9", IssuedAtMs: 1000}

	t.Run("fails without a consumer", func(t *testing.T) {
		err := client.PublishForward(ctx, instr)
		assert.ErrorIs(t, err, ErrNoConsumer)
	})

	t.Run("delivers to a consumer", func(t *testing.T) {
		sub, err := client.SubscribeForwards(ctx)
		require.NoError(t, err)
		defer sub.Close()

		require.NoError(t, client.PublishForward(ctx, instr))

		select {
		case got := <-sub.Events():
			assert.Equal(t, instr, got)
		case <-time.After(1 * time.Second):
			t.Fatal("timeout waiting for instruction")
		}
	})
}

func TestForwardEventsDoNotCountAsConsumer(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()
	instr := &ForwardInstruction{SourceNumericID: 1, Destination: "@dst", MessageRef: "9", IssuedAtMs: 1000}

	events, err := client.SubscribeForwardEvents(ctx)
	require.NoError(t, err)
	defer events.Close()

	assert.ErrorIs(t, client.PublishForward(ctx, instr), ErrNoConsumer, "an observer is not a transport")

	require.NoError(t, client.PublishForwardEvent(ctx, instr))
	select {
	case got := <-events.Events():
		assert.Equal(t, instr, got)
	case <-time.After(1 * time.Second):
		t.Fatal("timeout waiting for forward event")
	}
}

func TestRepliesAndRoutingChanges(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()

	replies, err := client.SubscribeReplies(ctx)
	require.NoError(t, err)
	defer replies.Close()

	changes, err := client.SubscribeRoutingChanges(ctx)
	require.NoError(t, err)
	defer changes.Close()

	require.NoError(t, client.PublishReply(ctx, &CommandReply{
		OperatorID: "7", State: "IDLE", Outcome: OutcomeOK, Message: "done", Items: []string{"a", "b"},
	}))
	require.NoError(t, client.PublishRoutingChange(ctx, &RoutingChange{
		Origin: "proc-1", Kind: ChangeMemberAdded, CollectionID: "c1",
	}))

	select {
	case r := <-replies.Events():
		assert.Equal(t, OutcomeOK, r.Outcome)
		assert.Equal(t, []string{"a", "b"}, r.Items)
	case <-time.After(1 * time.Second):
		t.Fatal("timeout waiting for reply")
	}

	select {
	case c := <-changes.Events():
		assert.Equal(t, "proc-1", c.Origin)
		assert.Equal(t, ChangeMemberAdded, c.Kind)
	case <-time.After(1 * time.Second):
		t.Fatal("timeout waiting for routing change")
	}
}

func TestInstanceNamespacing(t *testing.T) {
	mr := miniredis.NewMiniRedis()
	require.NoError(t, mr.Start())
	defer mr.Close()

	ctx := context.Background()

	client1, err := NewClient(&redis.Options{Addr: mr.Addr()}, "instance-1")
	require.NoError(t, err)
	defer client1.Close()

	client2, err := NewClient(&redis.Options{Addr: mr.Addr()}, "instance-2")
	require.NoError(t, err)
	defer client2.Close()

	sub, err := client2.SubscribePosts(ctx)
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, client1.PublishPost(ctx, &PostEvent{SourceNumericID: 5, MessageRef: "x"}))

	select {
	case <-sub.Events():
		t.Fatal("instance-2 should not see instance-1 posts")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestIsNotFound(t *testing.T) {
	assert.True(t, IsNotFound(redis.Nil))
	assert.False(t, IsNotFound(assert.AnError))
	assert.False(t, IsNotFound(nil))
}
