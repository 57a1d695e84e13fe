// Package store persists collections and their member source identifiers.
//
// The store is the single source of truth for routing. Every method is
// individually atomic; no multi-call transaction is exposed. Callers compose
// calls and must tolerate partial completion across them (a collection created
// but never given a destination is a valid state).
package store

import (
	"context"
	"errors"
)

var (
	// ErrAlreadyExists is returned when (owner, name) is already taken.
	ErrAlreadyExists = errors.New("collection already exists")
	// ErrNotFound is returned when a collection id or name does not resolve.
	ErrNotFound = errors.New("collection not found")
	// ErrInvalidDestination is returned when a destination is empty.
	ErrInvalidDestination = errors.New("destination cannot be empty")
)

// Collection is a named group of source identifiers sharing one destination.
// Owner is empty in single-tenant deployments. Destination is empty until set.
type Collection struct {
	ID          string `json:"id"`
	Owner       string `json:"owner,omitempty"`
	Name        string `json:"name"`
	Destination string `json:"destination,omitempty"`
	MemberCount int    `json:"member_count"`
}

// HasDestination reports whether a destination was set.
func (c *Collection) HasDestination() bool {
	return c.Destination != ""
}

// Route is one collection's routing data: its destination and every member.
// Routes are the input for a full index rebuild.
type Route struct {
	CollectionID string
	Destination  string
	Members      []string
}

// Store is the routing store contract shared by every backend.
type Store interface {
	// CreateCollection allocates a fresh id with destination unset.
	// Returns ErrAlreadyExists if (owner, name) is present.
	CreateCollection(ctx context.Context, owner, name string) (string, error)

	// DeleteCollection removes the collection and all its members in one
	// transaction. Returns false if nothing matched.
	DeleteCollection(ctx context.Context, owner, name string) (bool, error)

	// AddMember is an idempotent insert: false if the pair already exists.
	// Returns ErrNotFound if the collection does not exist.
	AddMember(ctx context.Context, collectionID, identifier string) (bool, error)

	// RemoveMember returns false if the pair was not present.
	RemoveMember(ctx context.Context, collectionID, identifier string) (bool, error)

	// SetDestination overwrites the destination; last write wins.
	SetDestination(ctx context.Context, collectionID, destination string) error

	// ListCollections returns the owner's collections in creation order.
	ListCollections(ctx context.Context, owner string) ([]Collection, error)

	// ListAllCollections returns every collection of every owner in creation order.
	ListAllCollections(ctx context.Context) ([]Collection, error)

	// ListMembers returns the collection's members sorted; empty for an unknown id.
	ListMembers(ctx context.Context, collectionID string) ([]string, error)

	// ResolveCollectionID maps (owner, name) to an id.
	ResolveCollectionID(ctx context.Context, owner, name string) (string, bool, error)

	// GetCollection returns one collection or ErrNotFound.
	GetCollection(ctx context.Context, id string) (*Collection, error)

	// Routes dumps every collection with its destination and members.
	Routes(ctx context.Context) ([]Route, error)

	Ping(ctx context.Context) error
	Close() error
}
