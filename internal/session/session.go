// Package session drives each operator's multi-step configuration flow.
//
// A Session is an explicit state machine (see state.go). Every command
// produces a reply and leaves the session in a well-defined state; input the
// session is not waiting for is rejected without touching the store.
package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dyluth/chanrelay/internal/store"
	"github.com/dyluth/chanrelay/pkg/relay"
)

// ErrUnexpectedInput is returned when a command does not fit the session's state.
// The session is left unchanged.
var ErrUnexpectedInput = errors.New("unexpected input")

// Routing is the subset of the edit path a session needs.
type Routing interface {
	CreateCollection(ctx context.Context, owner, name string) (string, error)
	DeleteCollection(ctx context.Context, owner, name string) (bool, error)
	AddMember(ctx context.Context, collectionID, identifier string) (bool, error)
	RemoveMember(ctx context.Context, collectionID, identifier string) (bool, error)
	SetDestination(ctx context.Context, collectionID, destination string) error
	ListCollections(ctx context.Context, owner string) ([]store.Collection, error)
	ListMembers(ctx context.Context, collectionID string) ([]string, error)
	ResolveCollectionID(ctx context.Context, owner, name string) (string, bool, error)
	GetCollection(ctx context.Context, id string) (*store.Collection, error)
}

const mainMenu = "Choose: add collection, remove collection, select a collection, list collections."

// Session is one operator's configuration state. Access is serialized by mu;
// the Manager holds it for the duration of a command.
type Session struct {
	mu sync.Mutex

	operatorID string
	owner      string

	state        State
	selectedID   string
	selectedName string

	lastActive time.Time
	evicted    bool
}

func newSession(operatorID, owner string, now time.Time) *Session {
	return &Session{operatorID: operatorID, owner: owner, state: StateIdle, lastActive: now}
}

// result is what one command produced, before the manager stamps ids on it.
type result struct {
	outcome relay.Outcome
	message string
	items   []string
}

func ok(format string, args ...any) result {
	return result{outcome: relay.OutcomeOK, message: fmt.Sprintf(format, args...)}
}

func outcome(o relay.Outcome, format string, args ...any) result {
	return result{outcome: o, message: fmt.Sprintf(format, args...)}
}

// handle applies one command. A non-nil error is either ErrUnexpectedInput
// (nothing changed) or a store failure wrapped for logging; in both cases the
// result describes it for the operator.
func (s *Session) handle(ctx context.Context, r Routing, cmd *relay.OperatorCommand) (result, error) {
	switch {
	case cmd.Intent == relay.IntentStart:
		s.reset()
		return s.menu(ctx, r)

	case cmd.Intent == relay.IntentCancel:
		s.reset()
		return ok("Cancelled. %s", mainMenu), nil

	case isReadOnly(cmd.Intent):
		return s.query(ctx, r, cmd)

	case isInputEvent(cmd):
		return s.input(ctx, r, cmd)
	}

	next, legal := menuTransitions[s.state][cmd.Intent]
	if !legal {
		return s.unexpected(cmd)
	}

	switch cmd.Intent {
	case relay.IntentSelectCollection:
		return s.selectCollection(ctx, r, strings.TrimSpace(cmd.TextPayload))
	case relay.IntentBack:
		s.reset()
		return ok(mainMenu), nil
	}

	s.state = next
	return ok("%s", prompt(next)), nil
}

func (s *Session) unexpected(cmd *relay.OperatorCommand) (result, error) {
	return outcome(relay.OutcomeUnexpectedInput, "%q is not expected now (state %s).", cmd.Intent, s.state),
		ErrUnexpectedInput
}

func (s *Session) reset() {
	s.state = StateIdle
	s.selectedID = ""
	s.selectedName = ""
}

// lost handles the selected collection disappearing under the session.
func (s *Session) lost() (result, error) {
	name := s.selectedName
	s.reset()
	return outcome(relay.OutcomeNotFound, "Collection %q no longer exists. %s", name, mainMenu), nil
}

func (s *Session) failed(err error) (result, error) {
	return outcome(relay.OutcomeError, "Something went wrong, please try again."), err
}

func (s *Session) menu(ctx context.Context, r Routing) (result, error) {
	cs, err := r.ListCollections(ctx, s.owner)
	if err != nil {
		return s.failed(fmt.Errorf("list collections: %w", err))
	}
	res := ok(mainMenu)
	res.items = collectionNames(cs)
	return res, nil
}

func (s *Session) selectCollection(ctx context.Context, r Routing, name string) (result, error) {
	if name == "" {
		return outcome(relay.OutcomeInvalidInput, "A collection name is required."), nil
	}
	id, found, err := r.ResolveCollectionID(ctx, s.owner, name)
	if err != nil {
		s.reset()
		return s.failed(fmt.Errorf("resolve collection: %w", err))
	}
	if !found {
		s.reset()
		return outcome(relay.OutcomeNotFound, "Collection %q not found. %s", name, mainMenu), nil
	}
	s.state = StateCollectionSelected
	s.selectedID = id
	s.selectedName = name
	return ok("Collection %q selected. Choose: add member, remove member, set destination, back.", name), nil
}

// input consumes the text an awaiting state asked for.
func (s *Session) input(ctx context.Context, r Routing, cmd *relay.OperatorCommand) (result, error) {
	if !s.state.IsAwaiting() {
		return s.unexpected(cmd)
	}
	if cmd.Intent != relay.IntentInput && cmd.Intent != openedBy[s.state] {
		return s.unexpected(cmd)
	}

	current := s.state
	s.state = afterInput[current]

	text := strings.TrimSpace(cmd.TextPayload)
	if text == "" {
		return outcome(relay.OutcomeInvalidInput, "Empty input ignored. %s", s.promptAfter()), nil
	}

	switch current {
	case StateAwaitingNewCollectionName:
		_, err := r.CreateCollection(ctx, s.owner, text)
		switch {
		case errors.Is(err, store.ErrAlreadyExists):
			return outcome(relay.OutcomeAlreadyExists, "Collection %q already exists. %s", text, mainMenu), nil
		case err != nil:
			return s.failed(fmt.Errorf("create collection: %w", err))
		}
		return ok("Collection %q created. %s", text, mainMenu), nil

	case StateAwaitingCollectionRemoval:
		deleted, err := r.DeleteCollection(ctx, s.owner, text)
		if err != nil {
			return s.failed(fmt.Errorf("delete collection: %w", err))
		}
		if !deleted {
			return outcome(relay.OutcomeNotFound, "Collection %q not found. %s", text, mainMenu), nil
		}
		return ok("Collection %q removed. %s", text, mainMenu), nil

	case StateAwaitingNewMember:
		ident := NormalizeIdentifier(text)
		if ident == "" {
			return outcome(relay.OutcomeInvalidInput, "%q is not a channel id or @handle.", text), nil
		}
		added, err := r.AddMember(ctx, s.selectedID, ident)
		switch {
		case errors.Is(err, store.ErrNotFound):
			return s.lost()
		case err != nil:
			return s.failed(fmt.Errorf("add member: %w", err))
		case !added:
			return outcome(relay.OutcomeAlreadyExists, "%s is already in %q.", ident, s.selectedName), nil
		}
		return ok("%s added to %q.", ident, s.selectedName), nil

	case StateAwaitingMemberRemoval:
		ident := NormalizeIdentifier(text)
		removed, err := r.RemoveMember(ctx, s.selectedID, ident)
		if err != nil {
			return s.failed(fmt.Errorf("remove member: %w", err))
		}
		if !removed {
			if _, err := r.GetCollection(ctx, s.selectedID); errors.Is(err, store.ErrNotFound) {
				return s.lost()
			}
			return outcome(relay.OutcomeNotFound, "%s is not in %q.", ident, s.selectedName), nil
		}
		return ok("%s removed from %q.", ident, s.selectedName), nil

	case StateAwaitingDestination:
		dest := NormalizeIdentifier(text)
		err := r.SetDestination(ctx, s.selectedID, dest)
		switch {
		case errors.Is(err, store.ErrNotFound):
			return s.lost()
		case errors.Is(err, store.ErrInvalidDestination):
			return outcome(relay.OutcomeInvalidInput, "Destination cannot be empty."), nil
		case err != nil:
			return s.failed(fmt.Errorf("set destination: %w", err))
		}
		return ok("Destination of %q set to %s.", s.selectedName, dest), nil
	}

	// Unreachable while afterInput and this switch agree.
	return s.failed(fmt.Errorf("no input handler for state %s", current))
}

// query answers the read-only intents without changing state, unless the
// selected collection turns out to be gone.
func (s *Session) query(ctx context.Context, r Routing, cmd *relay.OperatorCommand) (result, error) {
	if cmd.Intent == relay.IntentListCollections {
		cs, err := r.ListCollections(ctx, s.owner)
		if err != nil {
			return s.failed(fmt.Errorf("list collections: %w", err))
		}
		res := ok("%d collection(s).", len(cs))
		for _, c := range cs {
			dest := c.Destination
			if dest == "" {
				dest = "(no destination)"
			}
			res.items = append(res.items, fmt.Sprintf("%s -> %s", c.Name, dest))
		}
		return res, nil
	}

	// list_members and show_destination target a named collection, or the selected one.
	var (
		c   *store.Collection
		err error
	)
	if name := strings.TrimSpace(cmd.TextPayload); name != "" {
		id, found, rerr := r.ResolveCollectionID(ctx, s.owner, name)
		if rerr != nil {
			return s.failed(fmt.Errorf("resolve collection: %w", rerr))
		}
		if !found {
			return outcome(relay.OutcomeNotFound, "Collection %q not found.", name), nil
		}
		c, err = r.GetCollection(ctx, id)
	} else if s.selectedID != "" {
		c, err = r.GetCollection(ctx, s.selectedID)
		if errors.Is(err, store.ErrNotFound) {
			return s.lost()
		}
	} else {
		return s.unexpected(cmd)
	}
	if errors.Is(err, store.ErrNotFound) {
		return outcome(relay.OutcomeNotFound, "Collection no longer exists."), nil
	}
	if err != nil {
		return s.failed(fmt.Errorf("get collection: %w", err))
	}

	if cmd.Intent == relay.IntentShowDestination {
		if !c.HasDestination() {
			return ok("%q has no destination.", c.Name), nil
		}
		res := ok("Destination of %q is %s.", c.Name, c.Destination)
		res.items = []string{c.Destination}
		return res, nil
	}

	members, err := r.ListMembers(ctx, c.ID)
	if err != nil {
		return s.failed(fmt.Errorf("list members: %w", err))
	}
	res := ok("%q has %d member(s).", c.Name, len(members))
	res.items = members
	return res, nil
}

// promptAfter describes what the operator can do in the current state.
func (s *Session) promptAfter() string {
	if s.state == StateCollectionSelected {
		return fmt.Sprintf("Collection %q: add member, remove member, set destination, back.", s.selectedName)
	}
	return mainMenu
}

func prompt(st State) string {
	switch st {
	case StateAwaitingNewCollectionName:
		return "Send the name of the new collection."
	case StateAwaitingCollectionRemoval:
		return "Send the name of the collection to remove."
	case StateAwaitingNewMember:
		return "Send the channel id or @handle to add."
	case StateAwaitingMemberRemoval:
		return "Send the channel id or @handle to remove."
	case StateAwaitingDestination:
		return "Send the destination channel id or @handle."
	}
	return mainMenu
}

// NormalizeIdentifier writes numeric chat ids in canonical decimal form and
// makes anything else an @handle, so members match the keys the router looks up.
func NormalizeIdentifier(text string) string {
	text = strings.TrimSpace(text)
	if n, err := strconv.ParseInt(text, 10, 64); err == nil {
		return strconv.FormatInt(n, 10)
	}
	return relay.NormalizeHandle(text)
}

func collectionNames(cs []store.Collection) []string {
	names := make([]string, 0, len(cs))
	for _, c := range cs {
		names = append(names, c.Name)
	}
	return names
}
