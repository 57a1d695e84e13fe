// Package routing owns the edit path: every store mutation and the index delta
// it implies are applied together, and sibling processes are told about it.
package routing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dyluth/chanrelay/internal/index"
	"github.com/dyluth/chanrelay/internal/logging"
	"github.com/dyluth/chanrelay/internal/metrics"
	"github.com/dyluth/chanrelay/internal/store"
	"github.com/dyluth/chanrelay/pkg/relay"
)

// ChangePublisher announces routing changes to other processes.
type ChangePublisher interface {
	PublishRoutingChange(ctx context.Context, change *relay.RoutingChange) error
}

// Service serializes store mutations with their index deltas. Lookups on the
// index never take its lock.
type Service struct {
	store  store.Store
	index  *index.Index
	pub    ChangePublisher
	origin string
	logger *zap.Logger

	editMu sync.Mutex
}

// NewService wires a store and index. pub may be nil for single-process use.
func NewService(st store.Store, idx *index.Index, pub ChangePublisher, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:  st,
		index:  idx,
		pub:    pub,
		origin: uuid.New().String(),
		logger: logger,
	}
}

// Origin identifies this process on the routing_changes channel.
func (s *Service) Origin() string { return s.origin }

// Index returns the index this service keeps in step with the store.
func (s *Service) Index() *index.Index { return s.index }

// Rebuild recomputes the index from the store. Edits wait; lookups don't.
func (s *Service) Rebuild(ctx context.Context) error {
	s.editMu.Lock()
	defer s.editMu.Unlock()

	err := s.index.Rebuild(ctx, s.store)
	metrics.IndexRebuilds.WithLabelValues(metrics.Result(err)).Inc()
	if err != nil {
		return fmt.Errorf("rebuild index: %w", err)
	}
	metrics.IndexSources.Set(float64(s.index.Len()))
	logging.Event(s.logger, "routing", "index_rebuilt", zap.Int("sources", s.index.Len()))
	return nil
}

// HandleChange rebuilds the index for a change announced by another process.
// Returns false when the change was our own and was ignored.
func (s *Service) HandleChange(ctx context.Context, change *relay.RoutingChange) (bool, error) {
	if change.Origin == s.origin {
		return false, nil
	}
	return true, s.Rebuild(ctx)
}

// RequestFullRebuild asks every process (this one included) to rebuild.
func (s *Service) RequestFullRebuild(ctx context.Context) error {
	if err := s.Rebuild(ctx); err != nil {
		return err
	}
	s.announce(ctx, relay.ChangeFull, "")
	return nil
}

func (s *Service) CreateCollection(ctx context.Context, owner, name string) (string, error) {
	s.editMu.Lock()
	id, err := s.store.CreateCollection(ctx, owner, name)
	s.editMu.Unlock()
	if err != nil {
		return "", err
	}
	s.announce(ctx, relay.ChangeCollectionCreated, id)
	return id, nil
}

// DeleteCollection removes the collection by name and drops it from the index.
func (s *Service) DeleteCollection(ctx context.Context, owner, name string) (bool, error) {
	s.editMu.Lock()
	id, ok, err := s.store.ResolveCollectionID(ctx, owner, name)
	if err != nil || !ok {
		s.editMu.Unlock()
		return false, err
	}
	deleted, err := s.store.DeleteCollection(ctx, owner, name)
	if err == nil && deleted {
		s.index.Apply(index.Delta{Kind: index.CollectionRemoved, CollectionID: id})
	}
	s.editMu.Unlock()
	if err != nil || !deleted {
		return deleted, err
	}
	s.announce(ctx, relay.ChangeCollectionRemoved, id)
	return true, nil
}

func (s *Service) AddMember(ctx context.Context, collectionID, identifier string) (bool, error) {
	s.editMu.Lock()
	added, err := s.store.AddMember(ctx, collectionID, identifier)
	if err == nil && added {
		s.index.Apply(index.Delta{Kind: index.MemberAdded, CollectionID: collectionID, Identifier: identifier})
	}
	s.editMu.Unlock()
	if err != nil || !added {
		return added, err
	}
	s.announce(ctx, relay.ChangeMemberAdded, collectionID)
	return true, nil
}

func (s *Service) RemoveMember(ctx context.Context, collectionID, identifier string) (bool, error) {
	s.editMu.Lock()
	removed, err := s.store.RemoveMember(ctx, collectionID, identifier)
	if err == nil && removed {
		s.index.Apply(index.Delta{Kind: index.MemberRemoved, CollectionID: collectionID, Identifier: identifier})
	}
	s.editMu.Unlock()
	if err != nil || !removed {
		return removed, err
	}
	s.announce(ctx, relay.ChangeMemberRemoved, collectionID)
	return true, nil
}

func (s *Service) SetDestination(ctx context.Context, collectionID, destination string) error {
	s.editMu.Lock()
	err := s.store.SetDestination(ctx, collectionID, destination)
	if err == nil {
		s.index.Apply(index.Delta{Kind: index.DestinationSet, CollectionID: collectionID, Destination: destination})
	}
	s.editMu.Unlock()
	if err != nil {
		return err
	}
	s.announce(ctx, relay.ChangeDestinationSet, collectionID)
	return nil
}

// Reads go straight to the store.

func (s *Service) ListCollections(ctx context.Context, owner string) ([]store.Collection, error) {
	return s.store.ListCollections(ctx, owner)
}

func (s *Service) ListMembers(ctx context.Context, collectionID string) ([]string, error) {
	return s.store.ListMembers(ctx, collectionID)
}

func (s *Service) ResolveCollectionID(ctx context.Context, owner, name string) (string, bool, error) {
	return s.store.ResolveCollectionID(ctx, owner, name)
}

func (s *Service) GetCollection(ctx context.Context, id string) (*store.Collection, error) {
	return s.store.GetCollection(ctx, id)
}

func (s *Service) announce(ctx context.Context, kind relay.ChangeKind, collectionID string) {
	metrics.IndexSources.Set(float64(s.index.Len()))
	if s.pub == nil {
		return
	}
	err := s.pub.PublishRoutingChange(ctx, &relay.RoutingChange{
		Origin:       s.origin,
		Kind:         kind,
		CollectionID: collectionID,
		AtMs:         time.Now().UnixMilli(),
	})
	if err != nil {
		// Peers stay stale until their next rebuild; the local edit already succeeded.
		logging.Warn(s.logger, "routing", "change_publish_failed",
			zap.String("kind", string(kind)), zap.Error(err))
	}
}
