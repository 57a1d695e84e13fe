package relay

import (
	"fmt"
	"strconv"
	"strings"
)

// PostEvent is a post published in a source channel.
// The transport supplies the numeric chat id and, for public chats, the handle.
type PostEvent struct {
	SourceNumericID int64  `json:"source_numeric_id"`       // Chat id of the source channel, 0 when unknown
	SourceHandle    string `json:"source_handle,omitempty"` // "@name" (or "name") of the source channel
	MessageRef      string `json:"message_ref"`             // Opaque reference understood by the gateway
	ReceivedAtMs    int64  `json:"received_at_ms,omitempty"`
}

// Identifiers returns the routing keys for this post: the numeric id in its
// decimal string form and the normalized handle. Both forms are independent
// keys; no alias resolution between them is attempted.
func (e *PostEvent) Identifiers() []string {
	ids := make([]string, 0, 2)
	if e.SourceNumericID != 0 {
		ids = append(ids, strconv.FormatInt(e.SourceNumericID, 10))
	}
	if h := NormalizeHandle(e.SourceHandle); h != "" {
		ids = append(ids, h)
	}
	return ids
}

// Validate checks that the post carries a message reference and at least one source identifier.
func (e *PostEvent) Validate() error {
	if e.MessageRef == "" {
		return fmt.Errorf("message_ref cannot be empty")
	}
	if e.SourceNumericID == 0 && NormalizeHandle(e.SourceHandle) == "" {
		return fmt.Errorf("post must carry source_numeric_id or source_handle")
	}
	return nil
}

// NormalizeHandle trims whitespace and ensures a non-empty handle starts with "@".
func NormalizeHandle(handle string) string {
	h := strings.TrimSpace(handle)
	if h == "" || h == "@" {
		return ""
	}
	if !strings.HasPrefix(h, "@") {
		h = "@" + h
	}
	return h
}

// Intent is the normalized operator gesture carried by an OperatorCommand.
type Intent string

const (
	IntentStart                  Intent = "start"
	IntentSelectAddCollection    Intent = "select_add_collection"
	IntentSelectRemoveCollection Intent = "select_remove_collection"
	IntentSelectCollection       Intent = "select_collection"
	IntentAddMember              Intent = "add_member"
	IntentRemoveMember           Intent = "remove_member"
	IntentSetDestination         Intent = "set_destination"
	IntentBack                   Intent = "back"
	IntentCancel                 Intent = "cancel"

	// IntentInput is free text typed by the operator in answer to a prompt.
	IntentInput Intent = "input"

	// Read-only queries. They never change session state.
	IntentListCollections Intent = "list_collections"
	IntentListMembers     Intent = "list_members"
	IntentShowDestination Intent = "show_destination"
)

// Validate checks if the Intent is a known value.
func (i Intent) Validate() error {
	switch i {
	case IntentStart, IntentSelectAddCollection, IntentSelectRemoveCollection,
		IntentSelectCollection, IntentAddMember, IntentRemoveMember,
		IntentSetDestination, IntentBack, IntentCancel, IntentInput,
		IntentListCollections, IntentListMembers, IntentShowDestination:
		return nil
	default:
		return fmt.Errorf("unknown intent: %q", i)
	}
}

// OperatorCommand is one normalized operator action addressed to a configuration session.
type OperatorCommand struct {
	OperatorID  string `json:"operator_id"`
	Intent      Intent `json:"intent"`
	TextPayload string `json:"text_payload,omitempty"`
	RequestID   string `json:"request_id,omitempty"` // Echoed in the reply so callers can correlate
}

// HasPayload reports whether the command carries typed text.
func (c *OperatorCommand) HasPayload() bool {
	return c.TextPayload != ""
}

// Validate checks the operator id and intent.
func (c *OperatorCommand) Validate() error {
	if c.OperatorID == "" {
		return fmt.Errorf("operator_id cannot be empty")
	}
	if err := c.Intent.Validate(); err != nil {
		return fmt.Errorf("invalid intent: %w", err)
	}
	return nil
}

// Outcome classifies how a command was handled.
type Outcome string

const (
	OutcomeOK              Outcome = "ok"
	OutcomeAlreadyExists   Outcome = "already_exists"
	OutcomeNotFound        Outcome = "not_found"
	OutcomeUnexpectedInput Outcome = "unexpected_input"
	OutcomeInvalidInput    Outcome = "invalid_input"
	OutcomeError           Outcome = "error"
)

// CommandReply is the result of one OperatorCommand.
type CommandReply struct {
	OperatorID string   `json:"operator_id"`
	RequestID  string   `json:"request_id,omitempty"`
	State      string   `json:"state"` // Session state after the command
	Outcome    Outcome  `json:"outcome"`
	Message    string   `json:"message"`
	Items      []string `json:"items,omitempty"` // Listing results (collections, members)
	AtMs       int64    `json:"at_ms,omitempty"`
}

// Validate checks the reply carries an operator and an outcome.
func (r *CommandReply) Validate() error {
	if r.OperatorID == "" {
		return fmt.Errorf("operator_id cannot be empty")
	}
	if r.Outcome == "" {
		return fmt.Errorf("outcome cannot be empty")
	}
	return nil
}

// ForwardInstruction asks the transport to forward one message to one destination.
type ForwardInstruction struct {
	SourceNumericID int64  `json:"source_numeric_id"`
	SourceHandle    string `json:"source_handle,omitempty"` // Normalized "@name", used when the numeric id is unknown
	Destination     string `json:"destination"` // Numeric chat id or @handle, resolved by the gateway
	MessageRef      string `json:"message_ref"`
	IssuedAtMs      int64  `json:"issued_at_ms,omitempty"`
}

// Validate checks the destination and message reference.
func (f *ForwardInstruction) Validate() error {
	if f.Destination == "" {
		return fmt.Errorf("destination cannot be empty")
	}
	if f.MessageRef == "" {
		return fmt.Errorf("message_ref cannot be empty")
	}
	return nil
}

// ChangeKind names the store mutation announced by a RoutingChange.
type ChangeKind string

const (
	ChangeCollectionCreated ChangeKind = "collection_created"
	ChangeCollectionRemoved ChangeKind = "collection_removed"
	ChangeMemberAdded       ChangeKind = "member_added"
	ChangeMemberRemoved     ChangeKind = "member_removed"
	ChangeDestinationSet    ChangeKind = "destination_set"

	// ChangeFull asks every process to rebuild its index from the store.
	ChangeFull ChangeKind = "full"
)

// Validate checks if the ChangeKind is a known value.
func (k ChangeKind) Validate() error {
	switch k {
	case ChangeCollectionCreated, ChangeCollectionRemoved, ChangeMemberAdded,
		ChangeMemberRemoved, ChangeDestinationSet, ChangeFull:
		return nil
	default:
		return fmt.Errorf("unknown change kind: %q", k)
	}
}

// RoutingChange announces a routing store mutation to sibling processes.
type RoutingChange struct {
	Origin       string     `json:"origin"` // Process id of the publisher; publishers ignore their own changes
	Kind         ChangeKind `json:"kind"`
	CollectionID string     `json:"collection_id,omitempty"`
	AtMs         int64      `json:"at_ms,omitempty"`
}

// Validate checks the origin and kind.
func (c *RoutingChange) Validate() error {
	if c.Origin == "" {
		return fmt.Errorf("origin cannot be empty")
	}
	if err := c.Kind.Validate(); err != nil {
		return fmt.Errorf("invalid kind: %w", err)
	}
	return nil
}
