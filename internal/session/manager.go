package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dyluth/chanrelay/internal/logging"
	"github.com/dyluth/chanrelay/internal/metrics"
	"github.com/dyluth/chanrelay/pkg/relay"
)

// Tenancy decides whose collections a session edits.
type Tenancy string

const (
	// TenancySingle shares one global namespace between all operators.
	TenancySingle Tenancy = "single"
	// TenancyPerOperator gives every operator a private namespace.
	TenancyPerOperator Tenancy = "per_operator"
)

// Validate checks if the Tenancy is a known value.
func (t Tenancy) Validate() error {
	switch t {
	case TenancySingle, TenancyPerOperator:
		return nil
	default:
		return fmt.Errorf("unknown tenancy %q (expected single or per_operator)", t)
	}
}

// Options configures a Manager.
type Options struct {
	Tenancy     Tenancy
	IdleTimeout time.Duration // 0 disables idle expiry
	Logger      *zap.Logger
	Now         func() time.Time // for tests
}

// Manager owns the operator -> session map. Sessions are created on first
// command and evicted on idle expiry or explicit Evict.
type Manager struct {
	routing     Routing
	tenancy     Tenancy
	idleTimeout time.Duration
	logger      *zap.Logger
	now         func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager creates a manager editing through r.
func NewManager(r Routing, opts Options) *Manager {
	if opts.Tenancy == "" {
		opts.Tenancy = TenancySingle
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Manager{
		routing:     r,
		tenancy:     opts.Tenancy,
		idleTimeout: opts.IdleTimeout,
		logger:      opts.Logger,
		now:         opts.Now,
		sessions:    make(map[string]*Session),
	}
}

func (m *Manager) ownerFor(operatorID string) string {
	if m.tenancy == TenancyPerOperator {
		return operatorID
	}
	return ""
}

// acquire returns the operator's session locked, creating it if needed.
func (m *Manager) acquire(operatorID string) *Session {
	for {
		m.mu.Lock()
		s, found := m.sessions[operatorID]
		if !found {
			s = newSession(operatorID, m.ownerFor(operatorID), m.now())
			m.sessions[operatorID] = s
			metrics.SessionsActive.Set(float64(len(m.sessions)))
		}
		m.mu.Unlock()

		s.mu.Lock()
		if !s.evicted {
			return s
		}
		// Evicted between lookup and lock; take a fresh one.
		s.mu.Unlock()
	}
}

// Handle runs one command on the operator's session and returns the reply.
// Commands from the same operator are serialized; different operators run in
// parallel. The returned error is ErrUnexpectedInput or a store failure; the
// reply is always populated.
func (m *Manager) Handle(ctx context.Context, cmd *relay.OperatorCommand) (*relay.CommandReply, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("invalid command: %w", err)
	}

	s := m.acquire(cmd.OperatorID)
	res, err := s.handle(ctx, m.routing, cmd)
	s.lastActive = m.now()
	state := s.state
	s.mu.Unlock()

	metrics.CommandsTotal.WithLabelValues(string(cmd.Intent), string(res.outcome)).Inc()

	switch {
	case errors.Is(err, ErrUnexpectedInput):
		logging.Event(m.logger, "session", "unexpected_input",
			zap.String("operator_id", cmd.OperatorID),
			zap.String("intent", string(cmd.Intent)),
			zap.String("state", string(state)))
	case err != nil:
		logging.Error(m.logger, "session", "command_failed", err,
			zap.String("operator_id", cmd.OperatorID),
			zap.String("intent", string(cmd.Intent)))
	default:
		logging.Event(m.logger, "session", "command_handled",
			zap.String("operator_id", cmd.OperatorID),
			zap.String("intent", string(cmd.Intent)),
			zap.String("outcome", string(res.outcome)),
			zap.String("state", string(state)))
	}

	return &relay.CommandReply{
		OperatorID: cmd.OperatorID,
		RequestID:  cmd.RequestID,
		State:      string(state),
		Outcome:    res.outcome,
		Message:    res.message,
		Items:      res.items,
		AtMs:       m.now().UnixMilli(),
	}, err
}

// State reports the operator's current state and selected collection id.
// Returns false if the operator has no session.
func (m *Manager) State(operatorID string) (State, string, bool) {
	m.mu.Lock()
	s, found := m.sessions[operatorID]
	m.mu.Unlock()
	if !found {
		return "", "", false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.evicted {
		return "", "", false
	}
	return s.state, s.selectedID, true
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Evict removes the operator's session, discarding any pending input.
// Blocks until an in-flight command for that operator finishes.
func (m *Manager) Evict(operatorID string) bool {
	m.mu.Lock()
	s, found := m.sessions[operatorID]
	if found {
		delete(m.sessions, operatorID)
		metrics.SessionsActive.Set(float64(len(m.sessions)))
	}
	m.mu.Unlock()
	if !found {
		return false
	}
	s.mu.Lock()
	s.evicted = true
	s.mu.Unlock()
	return true
}

// Sweep evicts sessions idle for at least the idle timeout and returns how
// many were removed. Sessions busy with a command are skipped this round.
func (m *Manager) Sweep() int {
	if m.idleTimeout <= 0 {
		return 0
	}
	cutoff := m.now().Add(-m.idleTimeout)

	m.mu.Lock()
	defer m.mu.Unlock()

	evicted := 0
	for id, s := range m.sessions {
		if !s.mu.TryLock() {
			continue
		}
		if !s.lastActive.After(cutoff) {
			if s.state.IsAwaiting() {
				logging.Event(m.logger, "session", "pending_input_discarded",
					zap.String("operator_id", id), zap.String("state", string(s.state)))
			}
			s.evicted = true
			delete(m.sessions, id)
			evicted++
		}
		s.mu.Unlock()
	}

	if evicted > 0 {
		metrics.SessionsEvicted.Add(float64(evicted))
		metrics.SessionsActive.Set(float64(len(m.sessions)))
		logging.Event(m.logger, "session", "sessions_evicted", zap.Int("count", evicted))
	}
	return evicted
}
