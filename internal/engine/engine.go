// Package engine is the relay daemon's event loop. It consumes posts,
// operator commands and routing changes from the bus and hands each to the
// component that owns it.
package engine

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dyluth/chanrelay/internal/logging"
	"github.com/dyluth/chanrelay/internal/router"
	"github.com/dyluth/chanrelay/internal/session"
	"github.com/dyluth/chanrelay/pkg/relay"
)

// PostRouter routes one post to its destinations.
type PostRouter interface {
	Route(ctx context.Context, event *relay.PostEvent) router.Result
}

// CommandHandler runs one operator command.
type CommandHandler interface {
	Handle(ctx context.Context, cmd *relay.OperatorCommand) (*relay.CommandReply, error)
	Sweep() int
}

// ChangeHandler applies routing changes announced by other processes.
type ChangeHandler interface {
	HandleChange(ctx context.Context, change *relay.RoutingChange) (bool, error)
}

// Options sizes the engine.
type Options struct {
	Workers       int           // post workers and command shards
	SweepInterval time.Duration // 0 disables the idle session sweep
	Health        *HealthServer // optional
	Lease         *Lease        // optional; without one this engine always consumes posts and commands
	Logger        *zap.Logger
}

// Engine wires the bus to the router, the session manager and the routing service.
type Engine struct {
	client   *relay.Client
	router   PostRouter
	sessions CommandHandler
	changes  ChangeHandler
	opts     Options
	logger   *zap.Logger

	leading bool // last observed lease state, for transition logs
}

// NewEngine creates a new engine.
func NewEngine(client *relay.Client, rt PostRouter, sessions CommandHandler, changes ChangeHandler, opts Options) *Engine {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		client:   client,
		router:   rt,
		sessions: sessions,
		changes:  changes,
		opts:     opts,
		logger:   logger,
	}
}

// Run subscribes to the bus and blocks until ctx is cancelled. Queued posts
// and commands are drained before it returns.
func (e *Engine) Run(ctx context.Context) error {
	if e.opts.Health != nil {
		if err := e.opts.Health.Start(); err != nil {
			return fmt.Errorf("failed to start health server: %w", err)
		}
		defer e.opts.Health.Shutdown(context.Background())
	}

	posts, err := e.client.SubscribePosts(ctx)
	if err != nil {
		return fmt.Errorf("failed to subscribe to post events: %w", err)
	}
	defer posts.Close()

	commands, err := e.client.SubscribeCommands(ctx)
	if err != nil {
		return fmt.Errorf("failed to subscribe to operator commands: %w", err)
	}
	defer commands.Close()

	changes, err := e.client.SubscribeRoutingChanges(ctx)
	if err != nil {
		return fmt.Errorf("failed to subscribe to routing changes: %w", err)
	}
	defer changes.Close()

	logging.Event(e.logger, "engine", "started", zap.Int("workers", e.opts.Workers))

	// Workers run on a context that outlives ctx so queued work can finish.
	workCtx, stopWork := context.WithCancel(context.WithoutCancel(ctx))
	defer stopWork()

	pool := newPool(workCtx, e.opts.Workers, e.routePost, e.handleCommand)

	var sweep <-chan time.Time
	if e.opts.SweepInterval > 0 {
		ticker := time.NewTicker(e.opts.SweepInterval)
		defer ticker.Stop()
		sweep = ticker.C
	}

	var renew <-chan time.Time
	if e.opts.Lease != nil {
		e.campaign(ctx)
		ticker := time.NewTicker(e.opts.Lease.RenewInterval())
		defer ticker.Stop()
		renew = ticker.C
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil

			case event, ok := <-posts.Events():
				if !ok {
					return closed(gctx, "post_events")
				}
				if e.Leading() {
					pool.submitPost(event)
				}

			case cmd, ok := <-commands.Events():
				if !ok {
					return closed(gctx, "operator_commands")
				}
				if e.Leading() {
					pool.submitCommand(cmd)
				}

			case change, ok := <-changes.Events():
				if !ok {
					return closed(gctx, "routing_changes")
				}
				e.applyChange(gctx, change)

			case err, ok := <-posts.Errors():
				if !ok {
					return closed(gctx, "post_events")
				}
				e.subscriptionError("post_events", err)
			case err, ok := <-commands.Errors():
				if !ok {
					return closed(gctx, "operator_commands")
				}
				e.subscriptionError("operator_commands", err)
			case err, ok := <-changes.Errors():
				if !ok {
					return closed(gctx, "routing_changes")
				}
				e.subscriptionError("routing_changes", err)

			case <-sweep:
				if e.Leading() {
					e.sessions.Sweep()
				}

			case <-renew:
				e.campaign(gctx)
			}
		}
	})

	err = g.Wait()
	pool.close()
	if e.opts.Lease != nil {
		if rerr := e.opts.Lease.Release(context.WithoutCancel(ctx)); rerr != nil {
			logging.Warn(e.logger, "engine", "leader_release_failed", zap.Error(rerr))
		}
	}
	logging.Event(e.logger, "engine", "stopped")
	return err
}

// Leading reports whether this engine consumes posts and commands.
func (e *Engine) Leading() bool {
	return e.opts.Lease == nil || e.opts.Lease.Held()
}

// campaign takes or renews the leader lease and logs any change of role.
// Not safe for concurrent use; Run calls it before and from its dispatch loop.
func (e *Engine) campaign(ctx context.Context) {
	held, err := e.opts.Lease.Acquire(ctx)
	if err != nil && ctx.Err() == nil {
		logging.Warn(e.logger, "engine", "leader_lease_error", zap.Error(err))
	}
	if held == e.leading {
		return
	}
	e.leading = held
	if held {
		logging.Event(e.logger, "engine", "leader_acquired", zap.String("owner", e.opts.Lease.Owner()))
	} else {
		logging.Event(e.logger, "engine", "leader_lost", zap.String("owner", e.opts.Lease.Owner()))
	}
}

// closed reports a subscription ending. It is only an error if we did not ask for it.
func closed(ctx context.Context, channel string) error {
	if ctx.Err() != nil {
		return nil
	}
	return fmt.Errorf("%s subscription closed", channel)
}

func (e *Engine) subscriptionError(channel string, err error) {
	logging.Warn(e.logger, "engine", "subscription_error", zap.String("channel", channel), zap.Error(err))
}

func (e *Engine) routePost(ctx context.Context, event *relay.PostEvent) {
	start := time.Now()
	res := e.router.Route(ctx, event)
	fields := []zap.Field{
		zap.Int64("source_numeric_id", event.SourceNumericID),
		zap.String("message_ref", event.MessageRef),
		zap.Int("destinations", len(res.Destinations)),
		zap.Int("forwarded", res.Forwarded()),
		zap.Int64("latency_ms", time.Since(start).Milliseconds()),
	}
	if err := res.Err(); err != nil {
		logging.Error(e.logger, "engine", "post_partially_routed", err, fields...)
		return
	}
	if len(res.Destinations) > 0 {
		logging.Event(e.logger, "engine", "post_routed", fields...)
	}
}

func (e *Engine) handleCommand(ctx context.Context, cmd *relay.OperatorCommand) {
	reply, err := e.sessions.Handle(ctx, cmd)
	if reply == nil {
		// Malformed command: there is no session to answer for.
		logging.Warn(e.logger, "engine", "command_rejected",
			zap.String("operator_id", cmd.OperatorID), zap.Error(err))
		return
	}
	if err := e.client.PublishReply(ctx, reply); err != nil {
		logging.Error(e.logger, "engine", "reply_publish_failed", err,
			zap.String("operator_id", cmd.OperatorID), zap.String("request_id", cmd.RequestID))
	}
}

func (e *Engine) applyChange(ctx context.Context, change *relay.RoutingChange) {
	applied, err := e.changes.HandleChange(ctx, change)
	switch {
	case err != nil:
		// The index keeps its previous snapshot; the next change or reindex retries.
		logging.Error(e.logger, "engine", "routing_change_failed", err,
			zap.String("origin", change.Origin), zap.String("kind", string(change.Kind)))
	case applied:
		logging.Event(e.logger, "engine", "routing_change_applied",
			zap.String("origin", change.Origin), zap.String("kind", string(change.Kind)))
	}
}

var _ CommandHandler = (*session.Manager)(nil)
