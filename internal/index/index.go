// Package index keeps the in-memory routing table derived from the store.
//
// The table maps a source identifier to the (collection, destination) pairs it
// belongs to. Readers load an immutable snapshot through an atomic pointer and
// never block; writers build a new snapshot and swap it in, so a lookup sees
// either the whole of a change or none of it.
package index

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/dyluth/chanrelay/internal/store"
)

// Entry is one routing match: a collection and its destination.
type Entry struct {
	CollectionID string
	Destination  string
}

// DeltaKind names the single mutation a Delta carries.
type DeltaKind int

const (
	MemberAdded DeltaKind = iota + 1
	MemberRemoved
	DestinationSet
	CollectionRemoved
)

func (k DeltaKind) String() string {
	switch k {
	case MemberAdded:
		return "member_added"
	case MemberRemoved:
		return "member_removed"
	case DestinationSet:
		return "destination_set"
	case CollectionRemoved:
		return "collection_removed"
	default:
		return fmt.Sprintf("delta(%d)", int(k))
	}
}

// Delta describes one completed store mutation.
// Identifier is used by member deltas, Destination by DestinationSet.
type Delta struct {
	Kind         DeltaKind
	CollectionID string
	Identifier   string
	Destination  string
}

// RouteSource supplies the full routing dump for a rebuild.
type RouteSource interface {
	Routes(ctx context.Context) ([]store.Route, error)
}

type collectionState struct {
	destination string
	members     map[string]struct{}
}

// snapshot is immutable once published.
type snapshot struct {
	bySource     map[string]map[string]struct{} // identifier -> collection ids
	byCollection map[string]*collectionState
}

func emptySnapshot() *snapshot {
	return &snapshot{
		bySource:     map[string]map[string]struct{}{},
		byCollection: map[string]*collectionState{},
	}
}

// Index is safe for concurrent use. Lookups are lock-free.
type Index struct {
	current atomic.Pointer[snapshot]
	writeMu sync.Mutex
}

// New returns an empty index.
func New() *Index {
	idx := &Index{}
	idx.current.Store(emptySnapshot())
	return idx
}

// Lookup returns the entries for identifier that have a destination, sorted by
// collection id. The result is a fresh slice owned by the caller.
func (i *Index) Lookup(identifier string) []Entry {
	snap := i.current.Load()
	ids := snap.bySource[identifier]
	if len(ids) == 0 {
		return nil
	}
	out := make([]Entry, 0, len(ids))
	for id := range ids {
		c := snap.byCollection[id]
		if c == nil || c.destination == "" {
			continue
		}
		out = append(out, Entry{CollectionID: id, Destination: c.destination})
	}
	sort.Slice(out, func(a, b int) bool { return out[a].CollectionID < out[b].CollectionID })
	return out
}

// Len returns the number of distinct source identifiers in the current snapshot.
func (i *Index) Len() int {
	return len(i.current.Load().bySource)
}

// Rebuild recomputes the index from src. Readers keep using the previous
// snapshot until the new one is swapped in. On error the index is unchanged.
func (i *Index) Rebuild(ctx context.Context, src RouteSource) error {
	i.writeMu.Lock()
	defer i.writeMu.Unlock()

	routes, err := src.Routes(ctx)
	if err != nil {
		return fmt.Errorf("failed to load routes: %w", err)
	}

	next := emptySnapshot()
	for _, r := range routes {
		cs := &collectionState{destination: r.Destination, members: make(map[string]struct{}, len(r.Members))}
		next.byCollection[r.CollectionID] = cs
		for _, m := range r.Members {
			cs.members[m] = struct{}{}
			set := next.bySource[m]
			if set == nil {
				set = map[string]struct{}{}
				next.bySource[m] = set
			}
			set[r.CollectionID] = struct{}{}
		}
	}
	i.current.Store(next)
	return nil
}

// Apply patches the index with one delta. Only the maps the delta touches are
// copied; everything else is shared with the previous snapshot.
func (i *Index) Apply(d Delta) {
	i.writeMu.Lock()
	defer i.writeMu.Unlock()

	prev := i.current.Load()
	next := &snapshot{
		bySource:     shallowCopy(prev.bySource),
		byCollection: shallowCopy(prev.byCollection),
	}

	switch d.Kind {
	case MemberAdded:
		cs := next.cloneCollection(d.CollectionID)
		cs.members[d.Identifier] = struct{}{}
		set := cloneSet(next.bySource[d.Identifier])
		set[d.CollectionID] = struct{}{}
		next.bySource[d.Identifier] = set

	case MemberRemoved:
		if _, known := prev.byCollection[d.CollectionID]; known {
			cs := next.cloneCollection(d.CollectionID)
			delete(cs.members, d.Identifier)
		}
		next.removeSource(d.Identifier, d.CollectionID)

	case DestinationSet:
		cs := next.cloneCollection(d.CollectionID)
		cs.destination = d.Destination

	case CollectionRemoved:
		cs := prev.byCollection[d.CollectionID]
		if cs == nil {
			return
		}
		for m := range cs.members {
			next.removeSource(m, d.CollectionID)
		}
		delete(next.byCollection, d.CollectionID)

	default:
		return
	}

	i.current.Store(next)
}

// cloneCollection replaces the collection entry with a private copy (creating
// it if missing) so it can be mutated before publication.
func (s *snapshot) cloneCollection(id string) *collectionState {
	old := s.byCollection[id]
	cs := &collectionState{members: map[string]struct{}{}}
	if old != nil {
		cs.destination = old.destination
		cs.members = cloneSet(old.members)
	}
	s.byCollection[id] = cs
	return cs
}

func (s *snapshot) removeSource(identifier, collectionID string) {
	set, ok := s.bySource[identifier]
	if !ok {
		return
	}
	if _, member := set[collectionID]; !member {
		return
	}
	set = cloneSet(set)
	delete(set, collectionID)
	if len(set) == 0 {
		delete(s.bySource, identifier)
		return
	}
	s.bySource[identifier] = set
}

func shallowCopy[V any](m map[string]V) map[string]V {
	out := make(map[string]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneSet(set map[string]struct{}) map[string]struct{} {
	out := make(map[string]struct{}, len(set)+1)
	for k := range set {
		out[k] = struct{}{}
	}
	return out
}
