package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// Forward history
//
// Issued forward instructions are kept in a ZSET so operators can inspect
// recent routing activity after the fact (Pub/Sub itself keeps nothing):
// - Key: chanrelay:{instance_name}:forward_log
// - Members: ForwardInstruction JSON
// - Score: IssuedAtMs
//
// The set is capped at HistoryLimit entries, oldest dropped first.

// DefaultHistoryLimit is the number of forward instructions retained.
const DefaultHistoryLimit = 1000

// HistoryScore converts an issue timestamp to a ZSET score.
func HistoryScore(issuedAtMs int64) float64 {
	return float64(issuedAtMs)
}

// RecordForward appends instr to the forward history and trims it to limit entries.
// A limit <= 0 uses DefaultHistoryLimit.
func (c *Client) RecordForward(ctx context.Context, instr *ForwardInstruction, limit int) error {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	data, err := json.Marshal(instr)
	if err != nil {
		return fmt.Errorf("failed to marshal forward instruction: %w", err)
	}

	key := ForwardLogKey(c.instanceName)
	pipe := c.rdb.TxPipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: HistoryScore(instr.IssuedAtMs), Member: string(data)})
	// Keep the newest `limit` members: drop ranks 0..-(limit+1).
	pipe.ZRemRangeByRank(ctx, key, 0, int64(-limit-1))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to record forward: %w", err)
	}
	return nil
}

// ForwardsSince returns recorded forward instructions issued at or after sinceMs, oldest first.
// Returns an empty slice if nothing was recorded.
func (c *Client) ForwardsSince(ctx context.Context, sinceMs int64) ([]*ForwardInstruction, error) {
	key := ForwardLogKey(c.instanceName)
	members, err := c.rdb.ZRangeByScore(ctx, key, &redis.ZRangeBy{
		Min: strconv.FormatInt(sinceMs, 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read forward history: %w", err)
	}

	out := make([]*ForwardInstruction, 0, len(members))
	for _, m := range members {
		instr, err := DecodeForwardInstruction([]byte(m))
		if err != nil {
			// Entries are only written by RecordForward; skip anything foreign.
			continue
		}
		out = append(out, instr)
	}
	return out, nil
}
