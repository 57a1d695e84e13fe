package relay

import (
	"encoding/json"
	"fmt"
)

// Serialization helpers for Pub/Sub payloads.
//
// Every message is a single JSON object. Decoding validates the message so
// subscribers never hand malformed events to the engine.

type validator interface {
	Validate() error
}

// EncodeMessage validates and marshals a message for publishing.
func EncodeMessage(msg validator) ([]byte, error) {
	if err := msg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid message: %w", err)
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal message: %w", err)
	}
	return data, nil
}

// decodeMessage unmarshals and validates a payload into a fresh T.
func decodeMessage[T any, PT interface {
	*T
	validator
}](payload []byte) (PT, error) {
	msg := PT(new(T))
	if err := json.Unmarshal(payload, msg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal message: %w", err)
	}
	if err := msg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid message: %w", err)
	}
	return msg, nil
}

// DecodePostEvent decodes and validates a PostEvent payload.
func DecodePostEvent(payload []byte) (*PostEvent, error) {
	return decodeMessage[PostEvent](payload)
}

// DecodeOperatorCommand decodes and validates an OperatorCommand payload.
func DecodeOperatorCommand(payload []byte) (*OperatorCommand, error) {
	return decodeMessage[OperatorCommand](payload)
}

// DecodeCommandReply decodes and validates a CommandReply payload.
func DecodeCommandReply(payload []byte) (*CommandReply, error) {
	return decodeMessage[CommandReply](payload)
}

// DecodeForwardInstruction decodes and validates a ForwardInstruction payload.
func DecodeForwardInstruction(payload []byte) (*ForwardInstruction, error) {
	return decodeMessage[ForwardInstruction](payload)
}

// DecodeRoutingChange decodes and validates a RoutingChange payload.
func DecodeRoutingChange(payload []byte) (*RoutingChange, error) {
	return decodeMessage[RoutingChange](payload)
}
