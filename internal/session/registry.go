package session

import (
	"sort"
	"sync"
	"time"
)

// Session is the mutable state of one live stream. Fields behind mu are
// touched only in short critical sections. The feed slot is held for the
// whole of a feed, recognizer call included, so feeds on one stream are
// serialized while polls stay non-blocking.
type Session struct {
	id        string
	startedAt time.Time

	feed chan struct{}

	mu         sync.Mutex
	buffered   [][]byte
	partial    string
	language   string
	lastUpdate time.Time
	ready      bool
	inFlight   bool

	// stalled is set while a recognizer call that overran its deadline
	// still holds the feed slot.
	stalled bool
}

// Snapshot is a value copy of a session safe to hand to transports.
type Snapshot struct {
	ID           string    `json:"stream_id"`
	Text         string    `json:"text"`
	Language     string    `json:"language,omitempty"`
	Ready        bool      `json:"ready"`
	InFlight     bool      `json:"recognition_in_flight"`
	StartedAt    time.Time `json:"started_at"`
	LastActivity time.Time `json:"last_activity"`
}

func newSession(id string, now time.Time) *Session {
	return &Session{
		id:         id,
		startedAt:  now,
		lastUpdate: now,
		feed:       make(chan struct{}, 1),
	}
}

func (s *Session) snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() Snapshot {
	return Snapshot{
		ID:           s.id,
		Text:         s.partial,
		Language:     s.language,
		Ready:        s.ready,
		InFlight:     s.inFlight,
		StartedAt:    s.startedAt,
		LastActivity: s.lastUpdate,
	}
}

// touchLocked advances lastUpdate, never moving it backwards.
func (s *Session) touchLocked(now time.Time) {
	if now.After(s.lastUpdate) {
		s.lastUpdate = now
	}
}

func (s *Session) lastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastUpdate
}

// Registry owns the set of live sessions keyed by stream id.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	now      func() time.Time
}

func NewRegistry(now func() time.Time) *Registry {
	if now == nil {
		now = time.Now
	}
	return &Registry{
		sessions: make(map[string]*Session),
		now:      now,
	}
}

// Start creates the session for id, replacing any existing one with fresh
// zero state.
func (r *Registry) Start(id string) Snapshot {
	s, _ := r.start(id)
	return s.snapshot()
}

func (r *Registry) start(id string) (current, replaced *Session) {
	s := newSession(id, r.now())
	r.mu.Lock()
	replaced = r.sessions[id]
	r.sessions[id] = s
	r.mu.Unlock()
	return s, replaced
}

func (r *Registry) lookup(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

func (r *Registry) Get(id string) (Snapshot, error) {
	s, ok := r.lookup(id)
	if !ok {
		return Snapshot{}, newError(KindNotFound, "get stream", ErrNotFound)
	}
	return s.snapshot(), nil
}

// GetOrDefault never creates state: unknown ids yield a zero view.
func (r *Registry) GetOrDefault(id string) Snapshot {
	if s, ok := r.lookup(id); ok {
		return s.snapshot()
	}
	return Snapshot{ID: id}
}

// End removes the session and returns its last partial result, or an empty
// string when id is not live.
func (r *Registry) End(id string) string {
	s, ok := r.remove(id)
	if !ok {
		return ""
	}
	return s.snapshot().Text
}

func (r *Registry) remove(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	return s, ok
}

// Sweep removes sessions idle for longer than idle and returns their final
// views. A session replaced between scan and removal is left alone.
func (r *Registry) Sweep(now time.Time, idle time.Duration) []Snapshot {
	if idle <= 0 {
		return nil
	}
	r.mu.RLock()
	expired := make([]*Session, 0)
	for _, s := range r.sessions {
		if now.Sub(s.lastActivity()) > idle {
			expired = append(expired, s)
		}
	}
	r.mu.RUnlock()

	removed := make([]Snapshot, 0, len(expired))
	r.mu.Lock()
	for _, s := range expired {
		if r.sessions[s.id] != s {
			continue
		}
		delete(r.sessions, s.id)
		removed = append(removed, s.snapshot())
	}
	r.mu.Unlock()
	return removed
}

// Shutdown removes every session and returns their final views.
func (r *Registry) Shutdown() []Snapshot {
	r.mu.Lock()
	all := r.sessions
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	out := make([]Snapshot, 0, len(all))
	for _, s := range all {
		out = append(out, s.snapshot())
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// List returns snapshots of all live sessions ordered by id.
func (r *Registry) List() []Snapshot {
	r.mu.RLock()
	list := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		list = append(list, s)
	}
	r.mu.RUnlock()

	out := make([]Snapshot, 0, len(list))
	for _, s := range list {
		out = append(out, s.snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
