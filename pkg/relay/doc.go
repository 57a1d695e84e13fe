// Package relay defines the wire types and the Redis bus shared by every
// chanrelay component.
//
// # Overview
//
// chanrelay forwards posts published in source channels to the destination
// configured for each collection the source belongs to. The daemon (relayd)
// never talks to the chat transport directly: the transport publishes
// normalized events on Redis Pub/Sub channels and consumes the instructions
// relayd publishes back.
//
// # Messages
//
// PostEvent is one inbound post: the source chat's numeric id, its @handle when
// the chat has one, and an opaque message reference the gateway understands.
//
// OperatorCommand is one normalized operator gesture (menu tap or typed text)
// addressed to the operator's configuration session. Every command produces a
// CommandReply.
//
// ForwardInstruction asks the transport to forward one message to one
// destination.
//
// RoutingChange tells sibling relayd processes that the routing store changed
// and their in-memory index must be rebuilt.
//
// # Multi-Instance Support
//
// All channels and keys are namespaced by instance name so several deployments
// can share one Redis server:
//
//	chanrelay:{instance}:post_events
//	chanrelay:{instance}:operator_commands
//	chanrelay:{instance}:command_replies
//	chanrelay:{instance}:forward_instructions
//	chanrelay:{instance}:routing_changes
//	chanrelay:{instance}:forward_log            (ZSET, recent forward history)
//
// # Usage Example
//
//	client, err := relay.NewClient(&redis.Options{Addr: "localhost:6379"}, "default")
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer client.Close()
//
//	err = client.PublishPost(ctx, &relay.PostEvent{
//		SourceNumericID: -1001234567890,
//		SourceHandle:    "@news",
//		MessageRef:      "42",
//	})
package relay
