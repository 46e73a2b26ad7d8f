package discovery

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	domain "github.com/roamly/discovery/internal/app/domain/discovery"
)

// DefaultPrefetchWindow is the number of items beyond the cursor kept validated.
const DefaultPrefetchWindow = 2

// EventType classifies a queue event.
type EventType string

const (
	EventStatus EventType = "status"
	EventCursor EventType = "cursor"
	EventClosed EventType = "closed"
)

// Event is published for every item status change and cursor move. Status
// events for one item are published in transition order.
type Event struct {
	SessionID string        `json:"session_id"`
	Type      EventType     `json:"type"`
	Index     int           `json:"index"`
	From      domain.Status `json:"from,omitempty"`
	To        domain.Status `json:"to,omitempty"`
	Item      *domain.Item  `json:"item,omitempty"`
	Cursor    int           `json:"cursor"`
	Finished  bool          `json:"finished"`
	At        time.Time     `json:"at"`
}

// QueueConfig configures a queue at construction.
type QueueConfig struct {
	SessionID string
	Kind      domain.Kind
	City      string
	Window    int
	// Observer, if set, is called synchronously for every event.
	Observer func(Event)
}

// Queue holds the ordered items of one session and the forward-only cursor.
// Item state is only mutated under mu, so readers always get whole snapshots.
type Queue struct {
	mu       sync.RWMutex
	cfg      QueueConfig
	items    []domain.Item
	cursor   int
	closed   bool
	prefetch *Prefetcher

	ctx    context.Context
	cancel context.CancelFunc

	subMu   sync.Mutex
	subs    map[int]chan Event
	nextSub int

	now func() time.Time
}

type claim struct {
	index int
	name  string
	event Event
}

// NewQueue creates the queue with every candidate pending and runs the first
// prefetch evaluation around cursor 0. ctx bounds all validation work; it
// should outlive the request that created the session.
func NewQueue(ctx context.Context, cfg QueueConfig, candidates []domain.RawCandidate, prefetch *Prefetcher) *Queue {
	if cfg.Window < 0 {
		cfg.Window = 0
	}
	qctx, cancel := context.WithCancel(ctx)
	q := &Queue{
		cfg:      cfg,
		items:    make([]domain.Item, len(candidates)),
		prefetch: prefetch,
		ctx:      qctx,
		cancel:   cancel,
		subs:     make(map[int]chan Event),
		now:      func() time.Time { return time.Now().UTC() },
	}
	created := q.now()
	for i, c := range candidates {
		q.items[i] = domain.Item{
			ID:        uuid.NewString(),
			Index:     i,
			Kind:      cfg.Kind,
			Name:      c.Name,
			Category:  c.Category,
			Rationale: c.Rationale,
			Status:    domain.StatusPending,
			UpdatedAt: created,
		}
	}
	if prefetch != nil {
		prefetch.Evaluate(q)
	}
	return q
}

// SessionID returns the owning session id.
func (q *Queue) SessionID() string { return q.cfg.SessionID }

// Kind returns the item kind.
func (q *Queue) Kind() domain.Kind { return q.cfg.Kind }

// City returns the city context passed to validation.
func (q *Queue) City() string { return q.cfg.City }

// Window returns the prefetch window.
func (q *Queue) Window() int { return q.cfg.Window }

// Total returns the number of items.
func (q *Queue) Total() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.items)
}

// Position returns the cursor.
func (q *Queue) Position() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.cursor
}

// Finished reports whether the cursor has passed the last item.
func (q *Queue) Finished() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.cursor >= len(q.items)
}

// Closed reports whether the queue was torn down.
func (q *Queue) Closed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}

// Current returns a snapshot of the item at the cursor.
func (q *Queue) Current() (domain.Item, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return domain.Item{}, ErrSessionClosed
	}
	if q.cursor >= len(q.items) {
		return domain.Item{}, ErrQueueExhausted
	}
	return q.items[q.cursor].Clone(), nil
}

// Item returns a snapshot of the item at index.
func (q *Queue) Item(index int) (domain.Item, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if index < 0 || index >= len(q.items) {
		return domain.Item{}, fmt.Errorf("index %d out of range [0,%d)", index, len(q.items))
	}
	return q.items[index].Clone(), nil
}

// Items returns snapshots of every item in queue order.
func (q *Queue) Items() []domain.Item {
	q.mu.RLock()
	defer q.mu.RUnlock()

	out := make([]domain.Item, len(q.items))
	for i := range q.items {
		out[i] = q.items[i].Clone()
	}
	return out
}

// Advance moves the cursor forward by one and re-evaluates the prefetch
// window. Moving past the last item finishes the queue.
func (q *Queue) Advance() (int, error) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return q.cursor, ErrSessionClosed
	}
	if q.cursor >= len(q.items) {
		q.mu.Unlock()
		return q.cursor, ErrQueueExhausted
	}
	q.cursor++
	cursor := q.cursor
	finished := cursor >= len(q.items)
	q.mu.Unlock()

	q.publish(Event{Type: EventCursor, Index: cursor, Cursor: cursor, Finished: finished, At: q.now()})

	if !finished && q.prefetch != nil {
		q.prefetch.Evaluate(q)
	}
	return cursor, nil
}

// Close tears the queue down. In-flight validations complete but their
// results are discarded.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	cursor := q.cursor
	q.mu.Unlock()

	q.cancel()
	q.publish(Event{Type: EventClosed, Cursor: cursor, At: q.now()})

	q.subMu.Lock()
	for id, ch := range q.subs {
		close(ch)
		delete(q.subs, id)
	}
	q.subMu.Unlock()
}

// Subscribe returns a channel of events and a function to stop receiving.
// Slow subscribers miss events rather than block the queue.
func (q *Queue) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)

	q.subMu.Lock()
	if q.Closed() {
		q.subMu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := q.nextSub
	q.nextSub++
	q.subs[id] = ch
	q.subMu.Unlock()

	return ch, func() {
		q.subMu.Lock()
		defer q.subMu.Unlock()
		if existing, ok := q.subs[id]; ok {
			close(existing)
			delete(q.subs, id)
		}
	}
}

func (q *Queue) publish(ev Event) {
	ev.SessionID = q.cfg.SessionID
	if q.cfg.Observer != nil {
		q.cfg.Observer(ev)
	}

	q.subMu.Lock()
	defer q.subMu.Unlock()
	for _, ch := range q.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// claimWindow flips every pending item in [cursor, cursor+window] to
// validating and returns them. The flip happens under the write lock, so two
// concurrent evaluations can never claim the same index.
func (q *Queue) claimWindow() []claim {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed || q.ctx.Err() != nil {
		return nil
	}
	lo := q.cursor
	hi := q.cursor + q.cfg.Window
	if hi > len(q.items)-1 {
		hi = len(q.items) - 1
	}

	var claims []claim
	now := q.now()
	for i := lo; i <= hi; i++ {
		item := &q.items[i]
		if item.Status != domain.StatusPending {
			continue
		}
		item.Status = domain.StatusValidating
		item.UpdatedAt = now
		snap := item.Clone()
		claims = append(claims, claim{
			index: i,
			name:  item.Name,
			event: Event{
				Type:   EventStatus,
				Index:  i,
				From:   domain.StatusPending,
				To:     domain.StatusValidating,
				Item:   &snap,
				Cursor: q.cursor,
				At:     now,
			},
		})
	}
	return claims
}

// settle records the result of a validation. It returns false, and writes
// nothing, once the queue has been closed.
func (q *Queue) settle(index int, enr *domain.Enrichment, errMsg string) (Event, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed || q.ctx.Err() != nil {
		return Event{}, false, nil
	}
	if index < 0 || index >= len(q.items) {
		return Event{}, false, fmt.Errorf("index %d out of range", index)
	}

	item := &q.items[index]
	next := domain.StatusValidated
	if enr == nil {
		next = domain.StatusError
	}
	if !item.Status.CanTransition(next) {
		return Event{}, false, fmt.Errorf("item %d %s -> %s: %w", index, item.Status, next, domain.ErrInvalidTransition)
	}

	from := item.Status
	item.Status = next
	item.UpdatedAt = q.now()
	if enr != nil {
		bundle := enr.Clone()
		// The rationale always comes from the suggestion source.
		bundle.Rationale = item.Rationale
		item.Enriched = &bundle
	} else {
		if errMsg == "" {
			errMsg = "validation failed"
		}
		item.ErrorMessage = errMsg
	}

	snap := item.Clone()
	return Event{
		Type:   EventStatus,
		Index:  index,
		From:   from,
		To:     next,
		Item:   &snap,
		Cursor: q.cursor,
		At:     item.UpdatedAt,
	}, true, nil
}
