package session

import (
	"github.com/dyluth/chanrelay/pkg/relay"
)

// State is the configuration session's position in the edit flow.
type State string

const (
	StateIdle                      State = "IDLE"
	StateAwaitingNewCollectionName State = "AWAITING_NEW_COLLECTION_NAME"
	StateAwaitingCollectionRemoval State = "AWAITING_COLLECTION_TO_REMOVE"
	StateCollectionSelected        State = "COLLECTION_SELECTED"
	StateAwaitingNewMember         State = "AWAITING_NEW_MEMBER"
	StateAwaitingMemberRemoval     State = "AWAITING_MEMBER_TO_REMOVE"
	StateAwaitingDestination       State = "AWAITING_DESTINATION"
)

// IsAwaiting reports whether the state consumes exactly one input event.
func (s State) IsAwaiting() bool {
	_, ok := afterInput[s]
	return ok
}

// menuTransitions lists every legal menu intent per state. Anything missing is
// rejected as unexpected input. start and cancel are handled before the table.
var menuTransitions = map[State]map[relay.Intent]State{
	StateIdle: {
		relay.IntentSelectAddCollection:    StateAwaitingNewCollectionName,
		relay.IntentSelectRemoveCollection: StateAwaitingCollectionRemoval,
		relay.IntentSelectCollection:       StateCollectionSelected,
	},
	StateCollectionSelected: {
		relay.IntentAddMember:      StateAwaitingNewMember,
		relay.IntentRemoveMember:   StateAwaitingMemberRemoval,
		relay.IntentSetDestination: StateAwaitingDestination,
		relay.IntentBack:           StateIdle,
	},
}

// afterInput is where each awaiting state goes once its input is consumed,
// whatever the outcome.
var afterInput = map[State]State{
	StateAwaitingNewCollectionName: StateIdle,
	StateAwaitingCollectionRemoval: StateIdle,
	StateAwaitingNewMember:         StateCollectionSelected,
	StateAwaitingMemberRemoval:     StateCollectionSelected,
	StateAwaitingDestination:       StateCollectionSelected,
}

// openedBy maps an awaiting state to the menu intent that opened it. The same
// intent repeated with a text payload counts as the input for that state.
var openedBy = map[State]relay.Intent{
	StateAwaitingNewCollectionName: relay.IntentSelectAddCollection,
	StateAwaitingCollectionRemoval: relay.IntentSelectRemoveCollection,
	StateAwaitingNewMember:         relay.IntentAddMember,
	StateAwaitingMemberRemoval:     relay.IntentRemoveMember,
	StateAwaitingDestination:       relay.IntentSetDestination,
}

// opensAwaiting reports whether intent is a menu entry leading to an awaiting state.
func opensAwaiting(intent relay.Intent) bool {
	for _, i := range openedBy {
		if i == intent {
			return true
		}
	}
	return false
}

// isInputEvent reports whether cmd carries typed text for an awaiting state.
func isInputEvent(cmd *relay.OperatorCommand) bool {
	if cmd.Intent == relay.IntentInput {
		return true
	}
	return cmd.HasPayload() && opensAwaiting(cmd.Intent)
}

func isReadOnly(intent relay.Intent) bool {
	switch intent {
	case relay.IntentListCollections, relay.IntentListMembers, relay.IntentShowDestination:
		return true
	}
	return false
}
