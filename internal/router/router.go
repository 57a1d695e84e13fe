// Package router turns inbound posts into forward instructions.
package router

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dyluth/chanrelay/internal/index"
	"github.com/dyluth/chanrelay/internal/logging"
	"github.com/dyluth/chanrelay/internal/metrics"
	"github.com/dyluth/chanrelay/pkg/relay"
)

// Gateway performs one forward. Implementations own retries and timeouts.
type Gateway interface {
	Name() string
	Forward(ctx context.Context, instr *relay.ForwardInstruction) error
}

// Lookuper is the read side of the routing index.
type Lookuper interface {
	Lookup(identifier string) []index.Entry
}

// ForwardError reports one failed forward.
type ForwardError struct {
	Source      int64
	Destination string
	MessageRef  string
	Err         error
}

func (e *ForwardError) Error() string {
	return fmt.Sprintf("forward of message %s from %d to %s failed: %v", e.MessageRef, e.Source, e.Destination, e.Err)
}

func (e *ForwardError) Unwrap() error { return e.Err }

// Result summarizes routing of one post.
type Result struct {
	Destinations []string        // Distinct destinations attempted, sorted
	Failures     []*ForwardError // One per failed destination
}

// Forwarded returns how many forwards succeeded.
func (r Result) Forwarded() int {
	return len(r.Destinations) - len(r.Failures)
}

// Err joins all failures, or nil.
func (r Result) Err() error {
	if len(r.Failures) == 0 {
		return nil
	}
	errs := make([]error, len(r.Failures))
	for i, f := range r.Failures {
		errs[i] = f
	}
	return errors.Join(errs...)
}

// Router looks up each post's source identifiers and forwards to every
// distinct destination concurrently.
type Router struct {
	index       Lookuper
	gateway     Gateway
	maxParallel int
	logger      *zap.Logger
	now         func() time.Time
}

// New creates a router. maxParallel <= 0 means one forward at a time.
func New(idx Lookuper, gw Gateway, maxParallel int, logger *zap.Logger) *Router {
	if maxParallel <= 0 {
		maxParallel = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{index: idx, gateway: gw, maxParallel: maxParallel, logger: logger, now: time.Now}
}

// Destinations returns the distinct destinations matching the post, sorted.
// Numeric id and handle are looked up as separate keys and the results unioned.
func (r *Router) Destinations(event *relay.PostEvent) []string {
	seen := map[string]struct{}{}
	for _, id := range event.Identifiers() {
		for _, e := range r.index.Lookup(id) {
			seen[e.Destination] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for d := range seen {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

// Route forwards event to every matching destination. A post that matches
// nothing is not an error. One failed forward never stops the others.
func (r *Router) Route(ctx context.Context, event *relay.PostEvent) Result {
	dests := r.Destinations(event)
	res := Result{Destinations: dests}

	metrics.PostsRouted.WithLabelValues(strconv.FormatBool(len(dests) > 0)).Inc()
	if len(dests) == 0 {
		logging.Event(r.logger, "router", "post_unmatched",
			zap.Int64("source_numeric_id", event.SourceNumericID),
			zap.String("source_handle", event.SourceHandle))
		return res
	}

	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		sem = make(chan struct{}, r.maxParallel)
	)
	issued := r.now().UnixMilli()

	for _, dest := range dests {
		instr := &relay.ForwardInstruction{
			SourceNumericID: event.SourceNumericID,
			SourceHandle:    relay.NormalizeHandle(event.SourceHandle),
			Destination:     dest,
			MessageRef:      event.MessageRef,
			IssuedAtMs:      issued,
		}

		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			if err := r.forward(ctx, instr); err != nil {
				mu.Lock()
				res.Failures = append(res.Failures, &ForwardError{
					Source:      instr.SourceNumericID,
					Destination: instr.Destination,
					MessageRef:  instr.MessageRef,
					Err:         err,
				})
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	sort.Slice(res.Failures, func(i, j int) bool { return res.Failures[i].Destination < res.Failures[j].Destination })
	return res
}

func (r *Router) forward(ctx context.Context, instr *relay.ForwardInstruction) error {
	start := r.now()
	err := r.gateway.Forward(ctx, instr)

	gw := r.gateway.Name()
	metrics.ForwardDuration.WithLabelValues(gw).Observe(time.Since(start).Seconds())
	metrics.ForwardsTotal.WithLabelValues(gw, metrics.Result(err)).Inc()

	fields := []zap.Field{
		zap.Int64("source_numeric_id", instr.SourceNumericID),
		zap.String("destination", instr.Destination),
		zap.String("message_ref", instr.MessageRef),
		zap.String("gateway", gw),
	}
	if err != nil {
		logging.Error(r.logger, "router", "forward_failed", err, fields...)
		return err
	}
	logging.Event(r.logger, "router", "forward_issued", fields...)
	return nil
}
