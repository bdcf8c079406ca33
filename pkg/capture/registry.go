package capture

import (
	"sync"

	"github.com/downfa11-org/go-archiver/util"
)

// Registry holds the live capture sessions keyed by stream instance id and
// steps them once per driver tick, a reactor over steppable tasks rather
// than a goroutine per session.
type Registry struct {
	mu       sync.Mutex
	sessions map[int32]*Session
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[int32]*Session),
	}
}

func (r *Registry) Add(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.InstanceID()] = s
}

func (r *Registry) Remove(instanceID int32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, instanceID)
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// DoWorkAll steps every session once and deregisters the finished ones.
// Faults are logged and the session keeps draining through its closing path;
// the accumulated work count drives the caller's idle backoff.
func (r *Registry) DoWorkAll() int {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()

	workCount := 0
	for _, s := range sessions {
		n, err := s.DoWork()
		workCount += n
		if err != nil {
			util.Error("capture session for instance %d: %v", s.InstanceID(), err)
		}
		if s.IsDone() {
			s.Remove(r)
		}
	}
	return workCount
}

// AbortAll requests every live session to close; used on shutdown. Sessions
// still need driver ticks to drain to DONE.
func (r *Registry) AbortAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.sessions {
		s.Abort()
	}
}
