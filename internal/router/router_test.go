package router

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/dyluth/chanrelay/internal/index"
	"github.com/dyluth/chanrelay/internal/routing"
	"github.com/dyluth/chanrelay/internal/store"
	"github.com/dyluth/chanrelay/pkg/relay"
)

type fakeGateway struct {
	mu     sync.Mutex
	sent   []*relay.ForwardInstruction
	fail   map[string]error
	delay  time.Duration
	active atomic.Int32
	peak   atomic.Int32
}

func (g *fakeGateway) Name() string { return "fake" }

func (g *fakeGateway) Forward(_ context.Context, instr *relay.ForwardInstruction) error {
	n := g.active.Add(1)
	defer g.active.Add(-1)
	for {
		p := g.peak.Load()
		if n <= p || g.peak.CompareAndSwap(p, n) {
			break
		}
	}
	if g.delay > 0 {
		time.Sleep(g.delay)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.sent = append(g.sent, instr)
	return g.fail[instr.Destination]
}

func (g *fakeGateway) destinations() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]string, 0, len(g.sent))
	for _, s := range g.sent {
		out = append(out, s.Destination)
	}
	return out
}

// setup builds a routing service over a memory store plus a router on its index.
func setup(t *testing.T) (*routing.Service, *fakeGateway, *Router) {
	t.Helper()
	svc := routing.NewService(store.NewMemory(), index.New(), nil, nil)
	gw := &fakeGateway{}
	return svc, gw, New(svc.Index(), gw, 4, zap.NewNop())
}

func collection(t *testing.T, svc *routing.Service, name, dest string, members ...string) string {
	t.Helper()
	ctx := context.Background()
	id, err := svc.CreateCollection(ctx, "", name)
	require.NoError(t, err)
	for _, m := range members {
		_, err := svc.AddMember(ctx, id, m)
		require.NoError(t, err)
	}
	if dest != "" {
		require.NoError(t, svc.SetDestination(ctx, id, dest))
	}
	return id
}

func TestNoDestinationNoForward(t *testing.T) {
	svc, gw, r := setup(t)
	collection(t, svc, "A", "", "@x")

	res := r.Route(context.Background(), &relay.PostEvent{SourceHandle: "@x", MessageRef: "1"})
	assert.Empty(t, res.Destinations)
	assert.NoError(t, res.Err())
	assert.Empty(t, gw.destinations())
}

func TestUnknownSourceNoForward(t *testing.T) {
	svc, gw, r := setup(t)
	collection(t, svc, "A", "T1", "@x")

	res := r.Route(context.Background(), &relay.PostEvent{SourceNumericID: 42, MessageRef: "1"})
	assert.Empty(t, res.Destinations)
	assert.Empty(t, gw.destinations())
}

func TestDeletedCollectionStopsForwarding(t *testing.T) {
	svc, gw, r := setup(t)
	collection(t, svc, "A", "T1", "@x", "@y")

	deleted, err := svc.DeleteCollection(context.Background(), "", "A")
	require.NoError(t, err)
	require.True(t, deleted)

	r.Route(context.Background(), &relay.PostEvent{SourceHandle: "@x", MessageRef: "1"})
	assert.Empty(t, gw.destinations())
}

func TestFanOutDedupByDestination(t *testing.T) {
	svc, gw, r := setup(t)
	collection(t, svc, "A", "T1", "@x")
	collection(t, svc, "B", "T1", "@x")

	res := r.Route(context.Background(), &relay.PostEvent{SourceHandle: "@x", MessageRef: "1"})
	assert.Equal(t, []string{"T1"}, res.Destinations)
	assert.Equal(t, []string{"T1"}, gw.destinations())
}

func TestInstructionCarriesSourceHandle(t *testing.T) {
	svc, gw, r := setup(t)
	collection(t, svc, "A", "T1", "@x")

	r.Route(context.Background(), &relay.PostEvent{SourceHandle: "x", MessageRef: "1"})

	gw.mu.Lock()
	defer gw.mu.Unlock()
	require.Len(t, gw.sent, 1)
	assert.Equal(t, int64(0), gw.sent[0].SourceNumericID)
	assert.Equal(t, "@x", gw.sent[0].SourceHandle)
}

func TestFanOutDistinctDestinations(t *testing.T) {
	svc, gw, r := setup(t)
	collection(t, svc, "A", "T1", "@x")
	collection(t, svc, "B", "T2", "@x")

	res := r.Route(context.Background(), &relay.PostEvent{SourceHandle: "@x", MessageRef: "1"})
	assert.Equal(t, []string{"T1", "T2"}, res.Destinations)
	assert.Equal(t, 2, res.Forwarded())
	assert.ElementsMatch(t, []string{"T1", "T2"}, gw.destinations())
}

func TestNumericAndHandleAreNotAliased(t *testing.T) {
	svc, gw, r := setup(t)
	collection(t, svc, "A", "T1", "@y")

	res := r.Route(context.Background(), &relay.PostEvent{SourceNumericID: -100123, SourceHandle: "@y", MessageRef: "1"})
	assert.Equal(t, []string{"T1"}, res.Destinations, "matched through the handle alone")

	res = r.Route(context.Background(), &relay.PostEvent{SourceNumericID: -100123, MessageRef: "2"})
	assert.Empty(t, res.Destinations, "numeric id is a separate key")
	assert.Len(t, gw.destinations(), 1)
}

func TestHandleWithoutAtIsNormalized(t *testing.T) {
	svc, gw, r := setup(t)
	collection(t, svc, "A", "T1", "@y")

	r.Route(context.Background(), &relay.PostEvent{SourceHandle: "y", MessageRef: "1"})
	assert.Equal(t, []string{"T1"}, gw.destinations())
}

func TestUnionOfBothIdentifierForms(t *testing.T) {
	svc, gw, r := setup(t)
	collection(t, svc, "byID", "T1", "-100123")
	collection(t, svc, "byHandle", "T2", "@y")

	res := r.Route(context.Background(), &relay.PostEvent{SourceNumericID: -100123, SourceHandle: "@y", MessageRef: "7"})
	assert.Equal(t, []string{"T1", "T2"}, res.Destinations)
	for _, instr := range gw.sent {
		assert.Equal(t, int64(-100123), instr.SourceNumericID)
		assert.Equal(t, "7", instr.MessageRef)
	}
}

func TestFailureDoesNotStopOtherForwards(t *testing.T) {
	svc, gw, r := setup(t)
	collection(t, svc, "A", "T1", "@x")
	collection(t, svc, "B", "T2", "@x")
	collection(t, svc, "C", "T3", "@x")
	boom := errors.New("chat not found")
	gw.fail = map[string]error{"T2": boom}

	res := r.Route(context.Background(), &relay.PostEvent{SourceNumericID: 5, SourceHandle: "@x", MessageRef: "9"})
	assert.ElementsMatch(t, []string{"T1", "T2", "T3"}, gw.destinations())
	assert.Equal(t, 2, res.Forwarded())
	require.Len(t, res.Failures, 1)

	f := res.Failures[0]
	assert.Equal(t, "T2", f.Destination)
	assert.Equal(t, int64(5), f.Source)
	assert.Equal(t, "9", f.MessageRef)
	assert.ErrorIs(t, res.Err(), boom)

	var fe *ForwardError
	assert.True(t, errors.As(res.Err(), &fe))
}

func TestBoundedParallelism(t *testing.T) {
	svc := routing.NewService(store.NewMemory(), index.New(), nil, nil)
	gw := &fakeGateway{delay: 20 * time.Millisecond}
	r := New(svc.Index(), gw, 2, nil)

	for _, d := range []string{"T1", "T2", "T3", "T4", "T5"} {
		collection(t, svc, "c-"+d, d, "@x")
	}

	res := r.Route(context.Background(), &relay.PostEvent{SourceHandle: "@x", MessageRef: "1"})
	assert.Equal(t, 5, res.Forwarded())
	assert.LessOrEqual(t, gw.peak.Load(), int32(2))
	assert.GreaterOrEqual(t, gw.peak.Load(), int32(1))
}

func TestRouteLogsEvents(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	svc := routing.NewService(store.NewMemory(), index.New(), nil, nil)
	gw := &fakeGateway{fail: map[string]error{"T2": errors.New("nope")}}
	r := New(svc.Index(), gw, 4, zap.New(core))

	collection(t, svc, "A", "T1", "@x")
	collection(t, svc, "B", "T2", "@x")

	r.Route(context.Background(), &relay.PostEvent{SourceHandle: "@x", MessageRef: "1"})
	assert.Equal(t, 1, logs.FilterMessage("forward_issued").Len())
	assert.Equal(t, 1, logs.FilterMessage("forward_failed").Len())

	r.Route(context.Background(), &relay.PostEvent{SourceHandle: "@nobody", MessageRef: "1"})
	assert.Equal(t, 1, logs.FilterMessage("post_unmatched").Len())
}

func TestEditsDuringRoutingAreSafe(t *testing.T) {
	svc, _, r := setup(t)
	id := collection(t, svc, "A", "T1", "@x")
	ctx := context.Background()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			r.Route(ctx, &relay.PostEvent{SourceHandle: "@x", MessageRef: "1"})
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			_, _ = svc.RemoveMember(ctx, id, "@x")
			_, _ = svc.AddMember(ctx, id, "@x")
		}
	}()
	wg.Wait()

	assert.Equal(t, []string{"T1"}, r.Destinations(&relay.PostEvent{SourceHandle: "@x", MessageRef: "1"}))
}
