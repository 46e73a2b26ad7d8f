package discovery

import (
	"context"
	"sync"
	"time"

	domain "github.com/roamly/discovery/internal/app/domain/discovery"
	"github.com/roamly/discovery/internal/app/domain/itinerary"
)

// Session is one user's pass through a generated queue. Actions on a session
// are serialized by actionMu; mu guards the lifecycle fields.
type Session struct {
	ID        string
	TripID    string
	Kind      domain.Kind
	City      string
	Region    string
	Bounds    itinerary.Bounds
	Window    int
	CreatedAt time.Time

	ctx    context.Context
	cancel context.CancelFunc

	actionMu sync.Mutex

	mu          sync.RWMutex
	state       domain.SessionState
	err         error
	queue       *Queue
	negotiation *Negotiation
	lastActive  time.Time
}

// View is a point-in-time snapshot of a session.
type View struct {
	ID          string              `json:"id"`
	TripID      string              `json:"trip_id"`
	Kind        domain.Kind         `json:"kind"`
	City        string              `json:"city"`
	State       domain.SessionState `json:"state"`
	Position    int                 `json:"position"`
	Total       int                 `json:"total"`
	Current     *domain.Item        `json:"current,omitempty"`
	Negotiating bool                `json:"negotiating"`
	Error       string              `json:"error,omitempty"`
	CreatedAt   time.Time           `json:"created_at"`
	LastActive  time.Time           `json:"last_active"`
}

func newSession(id string, req StartRequest, window int, now time.Time) *Session {
	// Validation work belongs to the session, not to the request that started it.
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		ID:         id,
		TripID:     req.TripID,
		Kind:       req.Kind,
		City:       req.City,
		Region:     req.Region,
		Bounds:     itinerary.Bounds{Start: req.TripStart, End: req.TripEnd},
		Window:     window,
		CreatedAt:  now,
		ctx:        ctx,
		cancel:     cancel,
		state:      domain.SessionGenerating,
		lastActive: now,
	}
}

// State returns the lifecycle state. An active session whose cursor has
// passed the last item reports finished.
func (s *Session) State() domain.SessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stateLocked()
}

func (s *Session) stateLocked() domain.SessionState {
	if s.state == domain.SessionActive && s.queue != nil && s.queue.Finished() {
		return domain.SessionFinished
	}
	return s.state
}

// Err returns the generation error of a failed session.
func (s *Session) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}

// Queue returns the session queue, nil until generation succeeds.
func (s *Session) Queue() *Queue {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queue
}

// Negotiation returns the open schedule negotiation, if any.
func (s *Session) Negotiation() *Negotiation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.negotiation
}

// LastActive returns the time of the last user action.
func (s *Session) LastActive() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastActive
}

// View returns a snapshot suitable for presentation.
func (s *Session) View() View {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v := View{
		ID:          s.ID,
		TripID:      s.TripID,
		Kind:        s.Kind,
		City:        s.City,
		State:       s.stateLocked(),
		Negotiating: s.negotiation != nil,
		CreatedAt:   s.CreatedAt,
		LastActive:  s.lastActive,
	}
	if s.err != nil {
		v.Error = s.err.Error()
	}
	if s.queue != nil {
		v.Position = s.queue.Position()
		v.Total = s.queue.Total()
		if item, err := s.queue.Current(); err == nil {
			v.Current = &item
		}
	}
	return v
}

// ready returns the queue when the session accepts actions.
func (s *Session) ready() (*Queue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	switch s.state {
	case domain.SessionGenerating:
		return nil, ErrSessionBusy
	case domain.SessionFailed:
		return nil, ErrSessionNotActive
	case domain.SessionClosed:
		return nil, ErrSessionClosed
	}
	if s.queue == nil {
		return nil, ErrSessionNotActive
	}
	if s.queue.Finished() {
		return nil, ErrQueueExhausted
	}
	return s.queue, nil
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	if now.After(s.lastActive) {
		s.lastActive = now
	}
	s.mu.Unlock()
}

func (s *Session) setNegotiation(n *Negotiation) {
	s.mu.Lock()
	s.negotiation = n
	s.mu.Unlock()
}

// beginGeneration moves a new or failed session into generating.
func (s *Session) beginGeneration() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case domain.SessionClosed:
		return ErrSessionClosed
	case domain.SessionActive, domain.SessionFinished:
		return ErrSessionNotActive
	}
	s.state = domain.SessionGenerating
	s.err = nil
	return nil
}

func (s *Session) activate(q *Queue) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == domain.SessionClosed {
		return false
	}
	s.queue = q
	s.state = domain.SessionActive
	return true
}

func (s *Session) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == domain.SessionClosed {
		return
	}
	s.state = domain.SessionFailed
	s.err = err
}

// close tears the session down and cancels in-flight validation.
func (s *Session) close() {
	s.mu.Lock()
	if s.state == domain.SessionClosed {
		s.mu.Unlock()
		return
	}
	s.state = domain.SessionClosed
	q := s.queue
	s.negotiation = nil
	s.mu.Unlock()

	if q != nil {
		q.Close()
	}
	s.cancel()
}
