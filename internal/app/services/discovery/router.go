package discovery

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	domain "github.com/roamly/discovery/internal/app/domain/discovery"
	"github.com/roamly/discovery/internal/app/metrics"
	"github.com/roamly/discovery/pkg/logger"
)

// ActionResult describes the queue after a skip or save.
type ActionResult struct {
	Action    string                 `json:"action"`
	Item      domain.Item            `json:"item"`
	Position  int                    `json:"position"`
	Finished  bool                   `json:"finished"`
	Duplicate bool                   `json:"duplicate,omitempty"`
	Saved     *domain.NormalizedItem `json:"saved,omitempty"`
}

// Router applies user actions to the item at the cursor.
type Router struct {
	repo       Repository
	negotiator *Negotiator
	log        *logger.Logger
	now        func() time.Time
}

// NewRouter creates an action router.
func NewRouter(repo Repository, negotiator *Negotiator, log *logger.Logger) *Router {
	if log == nil {
		log = logger.NewDefault("discovery-router")
	}
	return &Router{
		repo:       repo,
		negotiator: negotiator,
		log:        log,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Skip advances past the current item without side effects.
func (r *Router) Skip(ctx context.Context, s *Session) (ActionResult, error) {
	s.actionMu.Lock()
	defer s.actionMu.Unlock()

	q, item, err := r.current(s)
	if err != nil {
		metrics.RecordAction("skip", outcomeOf(err))
		return ActionResult{}, err
	}
	return r.advance(s, q, ActionResult{Action: "skip", Item: item})
}

// Save appends the current item to the repository and advances. A name that
// already exists in the repository is not appended but still advances.
func (r *Router) Save(ctx context.Context, s *Session) (ActionResult, error) {
	s.actionMu.Lock()
	defer s.actionMu.Unlock()

	q, item, err := r.current(s)
	if err != nil {
		metrics.RecordAction("save", outcomeOf(err))
		return ActionResult{}, err
	}
	if !item.Status.IsTerminal() {
		metrics.RecordAction("save", "not_ready")
		return ActionResult{}, ErrItemNotReady
	}
	if r.repo == nil {
		metrics.RecordAction("save", "error")
		return ActionResult{}, fmt.Errorf("save %q: no repository configured", item.Name)
	}

	existing, err := r.repo.ListPlaceNames(ctx, s.TripID, s.Kind)
	if err != nil {
		metrics.RecordAction("save", "error")
		return ActionResult{}, fmt.Errorf("read saved %ss: %w", s.Kind, err)
	}

	result := ActionResult{Action: "save", Item: item}
	if IsDuplicate(item.Name, existing) {
		metrics.RecordAction("save", "duplicate")
		result.Duplicate = true
		r.log.WithFields(logrus.Fields{
			"session_id": s.ID,
			"item_id":    item.ID,
		}).Debugf("%s already saved; skipping append", item.Name)
		return r.advance(s, q, result)
	}

	saved, err := r.repo.AppendPlace(ctx, Normalize(s.TripID, item, r.now()))
	if err != nil {
		metrics.RecordAction("save", "error")
		return ActionResult{}, fmt.Errorf("save %q: %w", item.Name, err)
	}
	metrics.RecordAction("save", "ok")
	result.Saved = &saved
	return r.advance(s, q, result)
}

// Schedule opens a negotiation for the current item. The queue does not move
// until the negotiation closes.
func (r *Router) Schedule(ctx context.Context, s *Session) (*Negotiation, error) {
	s.actionMu.Lock()
	defer s.actionMu.Unlock()

	_, item, err := r.current(s)
	if err != nil {
		metrics.RecordAction("schedule", outcomeOf(err))
		return nil, err
	}
	if r.negotiator == nil {
		metrics.RecordAction("schedule", "unavailable")
		return nil, ErrScheduleUnavailable
	}
	n, err := r.negotiator.Prepare(s, item)
	if err != nil {
		metrics.RecordAction("schedule", "unavailable")
		return nil, err
	}
	s.setNegotiation(n)
	s.touch(r.now())
	metrics.RecordAction("schedule", "ok")
	return n, nil
}

func (r *Router) current(s *Session) (*Queue, domain.Item, error) {
	q, err := s.ready()
	if err != nil {
		return nil, domain.Item{}, err
	}
	if s.Negotiation() != nil {
		return nil, domain.Item{}, ErrNegotiationOpen
	}
	item, err := q.Current()
	if err != nil {
		return nil, domain.Item{}, err
	}
	return q, item, nil
}

func (r *Router) advance(s *Session, q *Queue, result ActionResult) (ActionResult, error) {
	pos, err := q.Advance()
	if err != nil {
		return ActionResult{}, err
	}
	if result.Action == "skip" {
		metrics.RecordAction("skip", "ok")
	}
	s.touch(r.now())
	result.Position = pos
	result.Finished = pos >= q.Total()
	return result, nil
}

// Normalize maps an item to its repository record. Items that failed
// validation are saved by name and category only.
func Normalize(tripID string, item domain.Item, now time.Time) domain.NormalizedItem {
	rec := domain.NormalizedItem{
		ID:        uuid.NewString(),
		TripID:    tripID,
		Kind:      item.Kind,
		Name:      strings.TrimSpace(item.Name),
		Category:  item.Category,
		CreatedAt: now,
	}
	if !item.Schedulable() {
		rec.Degraded = true
		return rec
	}
	enr := item.Enriched.Clone()
	rec.Description = item.Rationale
	rec.Rating = enr.Rating
	rec.Price = enr.PriceTier
	rec.Image = enr.PrimaryPhoto()
	rec.Address = enr.Address
	return rec
}

func outcomeOf(err error) string {
	switch err {
	case ErrNegotiationOpen:
		return "negotiation_open"
	case ErrQueueExhausted:
		return "exhausted"
	case ErrSessionClosed:
		return "closed"
	case ErrSessionBusy, ErrSessionNotActive:
		return "not_active"
	}
	return "error"
}
