// Package gateway performs forwards decided by the router.
//
// Redis hands each instruction to an external transport process over Pub/Sub.
// Telegram calls the Bot API directly.
package gateway

import (
	"context"

	"go.uber.org/zap"

	"github.com/dyluth/chanrelay/internal/logging"
	"github.com/dyluth/chanrelay/pkg/relay"
)

// Redis publishes forward instructions on chanrelay:{instance}:forward_instructions.
// A publish nobody receives is a failure: the forward did not happen.
type Redis struct {
	client       *relay.Client
	historyLimit int
	logger       *zap.Logger
}

// NewRedis creates a Redis gateway. historyLimit caps the forward log (0 uses the default).
func NewRedis(client *relay.Client, historyLimit int, logger *zap.Logger) *Redis {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Redis{client: client, historyLimit: historyLimit, logger: logger}
}

func (g *Redis) Name() string { return "redis" }

// Forward publishes instr. Once a transport received it the forward is
// recorded in the forward log and announced on forward_events for watchers.
func (g *Redis) Forward(ctx context.Context, instr *relay.ForwardInstruction) error {
	if err := g.client.PublishForward(ctx, instr); err != nil {
		return err
	}
	if err := g.client.RecordForward(ctx, instr, g.historyLimit); err != nil {
		logging.Warn(g.logger, "gateway", "history_write_failed",
			zap.String("destination", instr.Destination), zap.Error(err))
	}
	if err := g.client.PublishForwardEvent(ctx, instr); err != nil {
		logging.Warn(g.logger, "gateway", "forward_event_failed",
			zap.String("destination", instr.Destination), zap.Error(err))
	}
	return nil
}
