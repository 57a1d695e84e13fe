package relay

import "fmt"

// Redis key pattern helpers
//
// All Pub/Sub channels and keys are namespaced by instance name so several
// deployments can share one Redis server.
//
// Pattern: chanrelay:{instance_name}:{name}

// PostEventsChannel returns the channel carrying inbound posts.
// Pattern: chanrelay:{instance_name}:post_events
func PostEventsChannel(instanceName string) string {
	return fmt.Sprintf("chanrelay:%s:post_events", instanceName)
}

// OperatorCommandsChannel returns the channel carrying operator commands.
// Pattern: chanrelay:{instance_name}:operator_commands
func OperatorCommandsChannel(instanceName string) string {
	return fmt.Sprintf("chanrelay:%s:operator_commands", instanceName)
}

// CommandRepliesChannel returns the channel carrying session replies.
// Pattern: chanrelay:{instance_name}:command_replies
func CommandRepliesChannel(instanceName string) string {
	return fmt.Sprintf("chanrelay:%s:command_replies", instanceName)
}

// ForwardInstructionsChannel returns the channel the transport consumes forward instructions from.
// Pattern: chanrelay:{instance_name}:forward_instructions
func ForwardInstructionsChannel(instanceName string) string {
	return fmt.Sprintf("chanrelay:%s:forward_instructions", instanceName)
}

// ForwardEventsChannel returns the channel observers watch for forwards a transport accepted.
// Kept apart from forward_instructions so observers never count as a transport.
// Pattern: chanrelay:{instance_name}:forward_events
func ForwardEventsChannel(instanceName string) string {
	return fmt.Sprintf("chanrelay:%s:forward_events", instanceName)
}

// LeaderKey returns the key holding the lease of the relayd that consumes posts and commands.
// Pattern: chanrelay:{instance_name}:leader
func LeaderKey(instanceName string) string {
	return fmt.Sprintf("chanrelay:%s:leader", instanceName)
}

// RoutingChangesChannel returns the channel relayd processes use to invalidate each other's index.
// Pattern: chanrelay:{instance_name}:routing_changes
func RoutingChangesChannel(instanceName string) string {
	return fmt.Sprintf("chanrelay:%s:routing_changes", instanceName)
}

// ForwardLogKey returns the ZSET holding recently issued forward instructions.
// Pattern: chanrelay:{instance_name}:forward_log
func ForwardLogKey(instanceName string) string {
	return fmt.Sprintf("chanrelay:%s:forward_log", instanceName)
}
