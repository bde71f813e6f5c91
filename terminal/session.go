package terminal

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/isdmx/runbox/executor"
)

// State is the lifecycle state of a session.
type State int

// Session states
const (
	Idle State = iota
	Compiling
	Running
	Terminated
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Compiling:
		return "compiling"
	case Running:
		return "running"
	case Terminated:
		return "terminated"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Conn is the client side of a session. Send must be safe for concurrent use.
type Conn interface {
	Send(text string) error
}

// Session is one client connection and the program attached to it, if any.
type Session struct {
	ID string

	conn   Conn
	logger *zap.Logger
	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.Mutex
	state State
	run   *executor.Run
	input chan string
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) send(text string) {
	if err := s.conn.Send(text); err != nil {
		s.logger.Debug("failed to send to client", zap.Error(err))
	}
}

// Registry tracks open sessions by id.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

func (r *Registry) add(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.ID] = s
}

func (r *Registry) remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.sessions[id]
	delete(r.sessions, id)
	return ok
}

// Get returns the session with the given id.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Len returns the number of open sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

func (r *Registry) all() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}
