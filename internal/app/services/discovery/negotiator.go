package discovery

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	domain "github.com/roamly/discovery/internal/app/domain/discovery"
	"github.com/roamly/discovery/internal/app/domain/itinerary"
	"github.com/roamly/discovery/internal/app/metrics"
	"github.com/roamly/discovery/pkg/logger"
)

var clockPattern = regexp.MustCompile(`^([01][0-9]|2[0-3]):[0-5][0-9]$`)

// ScheduleInput is what the user supplies to confirm a schedule.
type ScheduleInput struct {
	Date  string `json:"date"`
	Time  string `json:"time"`
	Notes string `json:"notes,omitempty"`
}

// Negotiator opens schedule negotiations for validated items.
type Negotiator struct {
	scheduler ItineraryScheduler
	log       *logger.Logger
}

// NewNegotiator creates a negotiator committing to scheduler.
func NewNegotiator(scheduler ItineraryScheduler, log *logger.Logger) *Negotiator {
	if log == nil {
		log = logger.NewDefault("discovery-schedule")
	}
	return &Negotiator{scheduler: scheduler, log: log}
}

// Prepare opens a negotiation for item. The item must carry validated data.
func (n *Negotiator) Prepare(s *Session, item domain.Item) (*Negotiation, error) {
	if !item.Schedulable() {
		return nil, ErrScheduleUnavailable
	}
	if n.scheduler == nil {
		return nil, fmt.Errorf("%w: no itinerary configured", ErrScheduleUnavailable)
	}
	return &Negotiation{
		ID:        uuid.NewString(),
		Item:      item.Clone(),
		Bounds:    s.Bounds,
		session:   s,
		scheduler: n.scheduler,
		log:       n.log,
	}, nil
}

// Negotiation collects date and time for one item. It closes exactly once,
// by a successful Confirm or by Cancel, and closing advances the queue.
type Negotiation struct {
	ID     string           `json:"id"`
	Item   domain.Item      `json:"item"`
	Bounds itinerary.Bounds `json:"-"`

	session   *Session
	scheduler ItineraryScheduler
	log       *logger.Logger

	mu     sync.Mutex
	closed bool
}

// Closed reports whether the negotiation has been confirmed or cancelled.
func (n *Negotiation) Closed() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.closed
}

// Confirm validates input and commits the item to the itinerary. Invalid
// input returns FieldErrors; a rejected commit returns ErrScheduleRejected.
// In both cases the negotiation stays open and the queue does not move.
// Once the commit succeeds Confirm reports success, even if the session
// closed while the itinerary call was running.
func (n *Negotiation) Confirm(ctx context.Context, in ScheduleInput) error {
	s := n.session
	s.actionMu.Lock()
	defer s.actionMu.Unlock()

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return ErrNegotiationClosed
	}
	if s.State() == domain.SessionClosed {
		return ErrSessionClosed
	}

	if fields := ValidateSchedule(in, n.Bounds); len(fields) > 0 {
		metrics.RecordAction("schedule_confirm", "invalid")
		return fields
	}

	req := BuildScheduleRequest(n.Item, in)
	if err := n.scheduler.ScheduleItem(ctx, s.TripID, req); err != nil {
		metrics.RecordAction("schedule_confirm", "rejected")
		n.log.WithError(err).WithFields(logrus.Fields{
			"session_id": s.ID,
			"item_id":    n.Item.ID,
		}).Warn("itinerary rejected scheduled item")
		return fmt.Errorf("%w: %v", ErrScheduleRejected, err)
	}

	metrics.RecordAction("schedule_confirm", "ok")
	// The itinerary write is committed; a session closed meanwhile only
	// means there is no queue left to advance.
	if err := n.closeLocked(); err != nil && !errors.Is(err, ErrSessionClosed) {
		return err
	} else if err != nil {
		n.log.WithFields(logrus.Fields{
			"session_id": s.ID,
			"item_id":    n.Item.ID,
		}).Info("item scheduled after session closed")
	}
	return nil
}

// Cancel closes the negotiation without scheduling and advances the queue.
func (n *Negotiation) Cancel() error {
	s := n.session
	s.actionMu.Lock()
	defer s.actionMu.Unlock()

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return ErrNegotiationClosed
	}
	metrics.RecordAction("schedule_cancel", "ok")
	return n.closeLocked()
}

func (n *Negotiation) closeLocked() error {
	n.closed = true
	s := n.session
	s.mu.Lock()
	if s.negotiation == n {
		s.negotiation = nil
	}
	q := s.queue
	s.mu.Unlock()

	if q == nil {
		return ErrSessionNotActive
	}
	if _, err := q.Advance(); err != nil {
		return err
	}
	s.touch(time.Now().UTC())
	return nil
}

// ValidateSchedule checks date and time. Trip bounds are inclusive and only
// enforced when both are present.
func ValidateSchedule(in ScheduleInput, bounds itinerary.Bounds) FieldErrors {
	fields := FieldErrors{}

	date := strings.TrimSpace(in.Date)
	if date == "" {
		fields["date"] = "date is required"
	} else if day, err := time.Parse(itinerary.DateLayout, date); err != nil {
		fields["date"] = "date must be formatted YYYY-MM-DD"
	} else if bounds.Bounded() {
		start := truncateDay(*bounds.Start)
		end := truncateDay(*bounds.End)
		switch {
		case day.Before(start):
			fields["date"] = fmt.Sprintf("date must be on or after trip start %s", start.Format(itinerary.DateLayout))
		case day.After(end):
			fields["date"] = fmt.Sprintf("date must be on or before trip end %s", end.Format(itinerary.DateLayout))
		}
	}

	clock := strings.TrimSpace(in.Time)
	if clock == "" {
		fields["time"] = "time is required"
	} else if !clockPattern.MatchString(clock) {
		fields["time"] = "time must be 24-hour HH:MM"
	}

	if len(fields) == 0 {
		return nil
	}
	return fields
}

// BuildScheduleRequest normalizes a validated item and user input into the
// itinerary payload.
func BuildScheduleRequest(item domain.Item, in ScheduleInput) itinerary.ScheduleRequest {
	req := itinerary.ScheduleRequest{
		ItemName: item.Name,
		ItemType: itemType(item.Kind),
		Date:     strings.TrimSpace(in.Date),
		Time:     strings.TrimSpace(in.Time),
		Notes:    itinerary.StringPtr(strings.TrimSpace(in.Notes)),
		Category: itinerary.StringPtr(item.Category),
	}
	if item.Enriched != nil {
		req.Address = itinerary.StringPtr(item.Enriched.Address)
		req.Image = itinerary.StringPtr(item.Enriched.PrimaryPhoto())
	}
	return req
}

func itemType(kind domain.Kind) itinerary.ItemType {
	switch kind {
	case domain.KindAttraction:
		return itinerary.ItemAttraction
	case domain.KindRestaurant:
		return itinerary.ItemRestaurant
	}
	return itinerary.ItemCustom
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
