package store

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// memoryStore is a non-durable Store used for tests and throwaway runs.
type memoryStore struct {
	mu          sync.RWMutex
	seq         int64
	collections map[string]*memCollection
}

type memCollection struct {
	seq     int64
	c       Collection
	members map[string]struct{}
}

var _ Store = (*memoryStore)(nil)

// NewMemory returns an empty in-memory Store.
func NewMemory() Store {
	return &memoryStore{collections: make(map[string]*memCollection)}
}

func (m *memoryStore) findByName(owner, name string) *memCollection {
	for _, mc := range m.collections {
		if mc.c.Owner == owner && mc.c.Name == name {
			return mc
		}
	}
	return nil
}

func (m *memoryStore) CreateCollection(_ context.Context, owner, name string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.findByName(owner, name) != nil {
		return "", ErrAlreadyExists
	}
	m.seq++
	id := uuid.New().String()
	m.collections[id] = &memCollection{
		seq:     m.seq,
		c:       Collection{ID: id, Owner: owner, Name: name},
		members: make(map[string]struct{}),
	}
	return id, nil
}

func (m *memoryStore) DeleteCollection(_ context.Context, owner, name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mc := m.findByName(owner, name)
	if mc == nil {
		return false, nil
	}
	delete(m.collections, mc.c.ID)
	return true, nil
}

func (m *memoryStore) AddMember(_ context.Context, collectionID, identifier string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mc, ok := m.collections[collectionID]
	if !ok {
		return false, ErrNotFound
	}
	if _, exists := mc.members[identifier]; exists {
		return false, nil
	}
	mc.members[identifier] = struct{}{}
	return true, nil
}

func (m *memoryStore) RemoveMember(_ context.Context, collectionID, identifier string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mc, ok := m.collections[collectionID]
	if !ok {
		return false, nil
	}
	if _, exists := mc.members[identifier]; !exists {
		return false, nil
	}
	delete(mc.members, identifier)
	return true, nil
}

func (m *memoryStore) SetDestination(_ context.Context, collectionID, destination string) error {
	if destination == "" {
		return ErrInvalidDestination
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	mc, ok := m.collections[collectionID]
	if !ok {
		return ErrNotFound
	}
	mc.c.Destination = destination
	return nil
}

func (m *memoryStore) sorted(keep func(*memCollection) bool) []Collection {
	list := make([]*memCollection, 0, len(m.collections))
	for _, mc := range m.collections {
		if keep(mc) {
			list = append(list, mc)
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].seq < list[j].seq })

	out := make([]Collection, 0, len(list))
	for _, mc := range list {
		c := mc.c
		c.MemberCount = len(mc.members)
		out = append(out, c)
	}
	return out
}

func (m *memoryStore) ListCollections(_ context.Context, owner string) ([]Collection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sorted(func(mc *memCollection) bool { return mc.c.Owner == owner }), nil
}

func (m *memoryStore) ListAllCollections(_ context.Context) ([]Collection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sorted(func(*memCollection) bool { return true }), nil
}

func (m *memoryStore) ListMembers(_ context.Context, collectionID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mc, ok := m.collections[collectionID]
	if !ok {
		return []string{}, nil
	}
	return sortedKeys(mc.members), nil
}

func (m *memoryStore) ResolveCollectionID(_ context.Context, owner, name string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mc := m.findByName(owner, name)
	if mc == nil {
		return "", false, nil
	}
	return mc.c.ID, true, nil
}

func (m *memoryStore) GetCollection(_ context.Context, id string) (*Collection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mc, ok := m.collections[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := mc.c
	c.MemberCount = len(mc.members)
	return &c, nil
}

func (m *memoryStore) Routes(_ context.Context) ([]Route, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var routes []Route
	for _, c := range m.sorted(func(*memCollection) bool { return true }) {
		members := sortedKeys(m.collections[c.ID].members)
		if len(members) == 0 {
			members = nil
		}
		routes = append(routes, Route{CollectionID: c.ID, Destination: c.Destination, Members: members})
	}
	return routes, nil
}

func (m *memoryStore) Ping(context.Context) error { return nil }

func (m *memoryStore) Close() error { return nil }

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
