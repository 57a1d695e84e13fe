package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

// ErrNoConsumer is returned when a message was published but no process is
// subscribed to receive it.
var ErrNoConsumer = errors.New("no subscriber received the message")

// Client provides instance-scoped Redis Pub/Sub operations for chanrelay.
// All keys and channels are automatically namespaced with the instance name.
// The client is thread-safe and can be used concurrently from multiple goroutines.
type Client struct {
	rdb          *redis.Client
	instanceName string
}

// NewClient creates a new relay client for the specified instance.
// Returns an error if instanceName is empty.
func NewClient(redisOpts *redis.Options, instanceName string) (*Client, error) {
	if instanceName == "" {
		return nil, fmt.Errorf("instance name cannot be empty")
	}

	return &Client{
		rdb:          redis.NewClient(redisOpts),
		instanceName: instanceName,
	}, nil
}

// InstanceName returns the namespace this client publishes under.
func (c *Client) InstanceName() string {
	return c.instanceName
}

// Redis exposes the underlying connection for components that share it.
func (c *Client) Redis() *redis.Client {
	return c.rdb
}

// Close closes the Redis connection. Implements io.Closer.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping verifies Redis connectivity. Useful for health checks.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// publish encodes msg and publishes it, returning the number of receivers.
func (c *Client) publish(ctx context.Context, channel string, msg validator) (int64, error) {
	data, err := EncodeMessage(msg)
	if err != nil {
		return 0, err
	}
	receivers, err := c.rdb.Publish(ctx, channel, data).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to publish to %s: %w", channel, err)
	}
	return receivers, nil
}

// PublishPost publishes an inbound post to chanrelay:{instance}:post_events.
func (c *Client) PublishPost(ctx context.Context, event *PostEvent) error {
	_, err := c.publish(ctx, PostEventsChannel(c.instanceName), event)
	return err
}

// PublishCommand publishes an operator command to chanrelay:{instance}:operator_commands.
func (c *Client) PublishCommand(ctx context.Context, cmd *OperatorCommand) error {
	_, err := c.publish(ctx, OperatorCommandsChannel(c.instanceName), cmd)
	return err
}

// PublishReply publishes a session reply to chanrelay:{instance}:command_replies.
func (c *Client) PublishReply(ctx context.Context, reply *CommandReply) error {
	_, err := c.publish(ctx, CommandRepliesChannel(c.instanceName), reply)
	return err
}

// PublishForward publishes a forward instruction and returns ErrNoConsumer when
// no transport process is listening.
func (c *Client) PublishForward(ctx context.Context, instr *ForwardInstruction) error {
	receivers, err := c.publish(ctx, ForwardInstructionsChannel(c.instanceName), instr)
	if err != nil {
		return err
	}
	if receivers == 0 {
		return ErrNoConsumer
	}
	return nil
}

// PublishForwardEvent tells observers (chanrelay watch) about a forward a
// transport accepted. Having no observer is not an error.
func (c *Client) PublishForwardEvent(ctx context.Context, instr *ForwardInstruction) error {
	_, err := c.publish(ctx, ForwardEventsChannel(c.instanceName), instr)
	return err
}

// PublishRoutingChange announces a store mutation to sibling relayd processes.
func (c *Client) PublishRoutingChange(ctx context.Context, change *RoutingChange) error {
	_, err := c.publish(ctx, RoutingChangesChannel(c.instanceName), change)
	return err
}

// Subscription represents an active Pub/Sub subscription delivering decoded messages.
// Caller must call Close() when done to clean up resources.
type Subscription[T any] struct {
	events <-chan *T
	errors <-chan error
	cancel func()
	once   sync.Once
}

// Events returns the channel of decoded messages.
// The channel will be closed when the subscription is closed or the context is cancelled.
func (s *Subscription[T]) Events() <-chan *T {
	return s.events
}

// Errors returns the channel of subscription errors.
// Malformed payloads are reported here and skipped; the subscription continues.
func (s *Subscription[T]) Errors() <-chan error {
	return s.errors
}

// Close stops the subscription and cleans up resources. Implements io.Closer.
// Safe to call multiple times.
func (s *Subscription[T]) Close() error {
	s.once.Do(s.cancel)
	return nil
}

// subscribe opens a Pub/Sub subscription on channel and decodes each payload.
// The subscription is confirmed with Redis before returning so messages
// published after the call are not missed.
//
// Events are delivered on a buffered channel (size 10). Redis Pub/Sub is
// at-most-once: a slow subscriber may lose messages.
func subscribe[T any](ctx context.Context, rdb *redis.Client, channel string, decode func([]byte) (*T, error)) (*Subscription[T], error) {
	pubsub := rdb.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", channel, err)
	}

	eventsChan := make(chan *T, 10)
	errorsChan := make(chan error, 10)

	subCtx, cancelFunc := context.WithCancel(ctx)

	go func() {
		defer close(eventsChan)
		defer close(errorsChan)
		defer pubsub.Close()

		ch := pubsub.Channel()

		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}

				event, err := decode([]byte(msg.Payload))
				if err != nil {
					select {
					case errorsChan <- fmt.Errorf("failed to decode message on %s: %w", channel, err):
					case <-subCtx.Done():
						return
					}
					continue
				}

				select {
				case eventsChan <- event:
				case <-subCtx.Done():
					return
				}
			}
		}
	}()

	return &Subscription[T]{
		events: eventsChan,
		errors: errorsChan,
		cancel: cancelFunc,
	}, nil
}

// SubscribePosts subscribes to inbound posts for this instance.
func (c *Client) SubscribePosts(ctx context.Context) (*Subscription[PostEvent], error) {
	return subscribe(ctx, c.rdb, PostEventsChannel(c.instanceName), DecodePostEvent)
}

// SubscribeCommands subscribes to operator commands for this instance.
func (c *Client) SubscribeCommands(ctx context.Context) (*Subscription[OperatorCommand], error) {
	return subscribe(ctx, c.rdb, OperatorCommandsChannel(c.instanceName), DecodeOperatorCommand)
}

// SubscribeReplies subscribes to session replies for this instance.
func (c *Client) SubscribeReplies(ctx context.Context) (*Subscription[CommandReply], error) {
	return subscribe(ctx, c.rdb, CommandRepliesChannel(c.instanceName), DecodeCommandReply)
}

// SubscribeForwards subscribes to forward instructions for this instance.
// This is the transport side of the Redis gateway.
func (c *Client) SubscribeForwards(ctx context.Context) (*Subscription[ForwardInstruction], error) {
	return subscribe(ctx, c.rdb, ForwardInstructionsChannel(c.instanceName), DecodeForwardInstruction)
}

// SubscribeForwardEvents subscribes to accepted forwards without acting as a transport.
func (c *Client) SubscribeForwardEvents(ctx context.Context) (*Subscription[ForwardInstruction], error) {
	return subscribe(ctx, c.rdb, ForwardEventsChannel(c.instanceName), DecodeForwardInstruction)
}

// SubscribeRoutingChanges subscribes to routing change announcements for this instance.
func (c *Client) SubscribeRoutingChanges(ctx context.Context) (*Subscription[RoutingChange], error) {
	return subscribe(ctx, c.rdb, RoutingChangesChannel(c.instanceName), DecodeRoutingChange)
}

// IsNotFound returns true if the error is a Redis "key not found" error (redis.Nil).
func IsNotFound(err error) bool {
	return errors.Is(err, redis.Nil)
}
