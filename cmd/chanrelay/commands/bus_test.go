package commands

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyluth/chanrelay/internal/testutil"
	"github.com/dyluth/chanrelay/pkg/relay"
)

// busConfig starts miniredis and writes a relay.yml pointing at it.
func busConfig(t *testing.T) (*miniredis.Miniredis, *relay.Client, string) {
	t.Helper()
	mr, client := testutil.NewRelay(t, "test")
	dir := t.TempDir()
	cfgPath := testutil.WriteConfig(t, dir, "test", mr.Addr(), filepath.Join(dir, "relay.db"))
	return mr, client, cfgPath
}

func TestPostCommand(t *testing.T) {
	mr, client, cfgPath := busConfig(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub, err := client.SubscribePosts(ctx)
	require.NoError(t, err)
	defer sub.Close()
	testutil.WaitForSubscribers(t, mr, relay.PostEventsChannel("test"))

	_, err = execute(t, "-c", cfgPath, "post", "--source-id", "-1001", "--handle", "feed", "--ref", "42")
	require.NoError(t, err)

	select {
	case ev := <-sub.Events():
		assert.Equal(t, int64(-1001), ev.SourceNumericID)
		assert.Equal(t, "feed", ev.SourceHandle)
		assert.Equal(t, "42", ev.MessageRef)
		assert.NotZero(t, ev.ReceivedAtMs)
	case <-time.After(2 * time.Second):
		t.Fatal("post was not published")
	}
}

func TestPostCommand_RequiresSource(t *testing.T) {
	_, _, cfgPath := busConfig(t)

	_, err := execute(t, "-c", cfgPath, "post", "--ref", "42")
	require.Error(t, err)
	assert.Equal(t, "invalid post", err.Error())
}

func TestPostCommand_RedisDown(t *testing.T) {
	dir := t.TempDir()
	cfgPath := testutil.WriteConfig(t, dir, "test", "127.0.0.1:1", filepath.Join(dir, "relay.db"))

	_, err := execute(t, "-c", cfgPath, "post", "--source-id", "-1", "--ref", "1")
	require.Error(t, err)
	assert.Equal(t, "Redis connection failed", err.Error())
}

// respond answers every operator command like a running relayd would.
func respond(t *testing.T, ctx context.Context, mr *miniredis.Miniredis, client *relay.Client) {
	t.Helper()
	sub, err := client.SubscribeCommands(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sub.Close() })
	testutil.WaitForSubscribers(t, mr, relay.OperatorCommandsChannel("test"))

	go func() {
		for cmd := range sub.Events() {
			_ = client.PublishReply(ctx, &relay.CommandReply{
				OperatorID: cmd.OperatorID,
				RequestID:  cmd.RequestID,
				State:      "AWAITING_NEW_COLLECTION_NAME",
				Outcome:    relay.OutcomeOK,
				Message:    "Send the name of the new collection.",
			})
		}
	}()
}

func TestCommandCommand(t *testing.T) {
	mr, client, cfgPath := busConfig(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	respond(t, ctx, mr, client)

	out, err := execute(t, "-c", cfgPath, "command", "--operator", "42", "--intent", "select_add_collection")
	require.NoError(t, err)

	assert.Contains(t, out, "Send the name of the new collection.")
	assert.Contains(t, out, "AWAITING_NEW_COLLECTION_NAME")
}

func TestCommandCommand_InvalidIntent(t *testing.T) {
	_, _, cfgPath := busConfig(t)

	_, err := execute(t, "-c", cfgPath, "command", "--operator", "42", "--intent", "dance")
	require.Error(t, err)
	assert.Equal(t, "invalid command", err.Error())
}

func TestCommandCommand_TimesOutWithoutDaemon(t *testing.T) {
	_, _, cfgPath := busConfig(t)

	_, err := execute(t, "-c", cfgPath, "command", "--operator", "42", "--intent", "start", "--timeout", "100ms")
	require.Error(t, err)
	assert.Equal(t, "no reply", err.Error())
}

func TestReindexCommand(t *testing.T) {
	mr, client, cfgPath := busConfig(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub, err := client.SubscribeRoutingChanges(ctx)
	require.NoError(t, err)
	defer sub.Close()
	testutil.WaitForSubscribers(t, mr, relay.RoutingChangesChannel("test"))

	_, err = execute(t, "-c", cfgPath, "reindex")
	require.NoError(t, err)

	select {
	case change := <-sub.Events():
		assert.Equal(t, relay.ChangeFull, change.Kind)
		assert.True(t, strings.HasPrefix(change.Origin, "cli-"), change.Origin)
	case <-time.After(2 * time.Second):
		t.Fatal("routing change was not published")
	}
}

func TestWatchCommand_InvalidFormat(t *testing.T) {
	_, _, cfgPath := busConfig(t)

	_, err := execute(t, "-c", cfgPath, "watch", "-o", "xml")
	require.Error(t, err)
	assert.Equal(t, "invalid output format", err.Error())
}

func TestWatchCommand_InvalidSince(t *testing.T) {
	_, _, cfgPath := busConfig(t)

	_, err := execute(t, "-c", cfgPath, "watch", "--since", "yesterday-ish")
	require.Error(t, err)
	assert.Equal(t, "invalid time filter", err.Error())
}
