// Package filter selects which relay activity the CLI shows.
package filter

import (
	"path/filepath"

	"github.com/dyluth/chanrelay/pkg/relay"
)

// Criteria are ANDed together; zero values match everything.
type Criteria struct {
	SinceTimestampMs int64
	UntilTimestampMs int64
	DestinationGlob  string // applies to forwards
	OperatorID       string // applies to replies; exact match
}

func (c *Criteria) inWindow(atMs int64) bool {
	if c.SinceTimestampMs > 0 && atMs < c.SinceTimestampMs {
		return false
	}
	if c.UntilTimestampMs > 0 && atMs > c.UntilTimestampMs {
		return false
	}
	return true
}

// MatchesForward reports whether the forward passes the time window and destination glob.
// An OperatorID filter hides every forward.
func (c *Criteria) MatchesForward(instr *relay.ForwardInstruction) bool {
	if c.OperatorID != "" || !c.inWindow(instr.IssuedAtMs) {
		return false
	}
	if c.DestinationGlob != "" {
		matched, err := filepath.Match(c.DestinationGlob, instr.Destination)
		if err != nil || !matched {
			return false
		}
	}
	return true
}

// MatchesReply reports whether the reply passes the time window and operator filter.
// A DestinationGlob filter hides every reply.
func (c *Criteria) MatchesReply(reply *relay.CommandReply) bool {
	if c.DestinationGlob != "" || !c.inWindow(reply.AtMs) {
		return false
	}
	return c.OperatorID == "" || reply.OperatorID == c.OperatorID
}

// HasFilters returns true if any filter is active.
func (c *Criteria) HasFilters() bool {
	return c.SinceTimestampMs > 0 ||
		c.UntilTimestampMs > 0 ||
		c.DestinationGlob != "" ||
		c.OperatorID != ""
}
