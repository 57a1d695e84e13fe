// Package testutil holds shared test fixtures: an in-process Redis with a
// relay client on top, and a relay.yml pointing at it.
package testutil

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/dyluth/chanrelay/pkg/relay"
)

// NewRelay starts miniredis and returns a client for instanceName. Both are
// closed when the test ends.
func NewRelay(t *testing.T, instanceName string) (*miniredis.Miniredis, *relay.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client, err := relay.NewClient(&redis.Options{Addr: mr.Addr()}, instanceName)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

// WaitForSubscribers blocks until every channel has at least one subscriber.
func WaitForSubscribers(t *testing.T, mr *miniredis.Miniredis, channels ...string) {
	t.Helper()
	require.Eventually(t, func() bool {
		for _, n := range mr.PubSubNumSub(channels...) {
			if n == 0 {
				return false
			}
		}
		return true
	}, 2*time.Second, 10*time.Millisecond, "subscribers on %v", channels)
}

// WriteConfig writes a relay.yml into dir using the given Redis address and
// SQLite file, and returns its path.
func WriteConfig(t *testing.T, dir, instanceName, redisAddr, sqlitePath string) string {
	t.Helper()
	content := fmt.Sprintf(`version: "1.0"
instance: %s
redis:
  url: redis://%s/0
store:
  driver: sqlite
  dsn: %s
logging:
  level: error
`, instanceName, redisAddr, sqlitePath)

	path := filepath.Join(dir, "relay.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}
