package discovery

import (
	"errors"
	"fmt"
	"time"
)

// Kind selects the collection a discovery session works against.
type Kind string

const (
	KindAttraction Kind = "attraction"
	KindRestaurant Kind = "restaurant"
)

func (k Kind) IsValid() bool {
	switch k {
	case KindAttraction, KindRestaurant:
		return true
	}
	return false
}

// ParseKind accepts singular or plural spellings.
func ParseKind(raw string) (Kind, error) {
	switch raw {
	case "attraction", "attractions":
		return KindAttraction, nil
	case "restaurant", "restaurants":
		return KindRestaurant, nil
	}
	return "", fmt.Errorf("unknown discovery kind %q", raw)
}

// Status is the validation state of a single item.
type Status string

const (
	StatusPending    Status = "pending"
	StatusValidating Status = "validating"
	StatusValidated  Status = "validated"
	StatusError      Status = "error"
)

// ErrInvalidTransition is returned for any status change outside
// pending -> validating -> {validated, error}.
var ErrInvalidTransition = errors.New("invalid status transition")

func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusValidating, StatusValidated, StatusError:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition is possible.
func (s Status) IsTerminal() bool {
	return s == StatusValidated || s == StatusError
}

// CanTransition reports whether s may move to next.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusValidating
	case StatusValidating:
		return next == StatusValidated || next == StatusError
	}
	return false
}

// Enrichment is the factual metadata attached by the validation provider.
type Enrichment struct {
	Address   string   `json:"address"`
	PhotoURLs []string `json:"photo_urls,omitempty"`
	Rating    *float64 `json:"rating,omitempty"`
	PriceTier *int     `json:"price_tier,omitempty"`
	OpenNow   *bool    `json:"open_now,omitempty"`
	Rationale string   `json:"rationale,omitempty"`
	Summary   string   `json:"summary,omitempty"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
	PlaceID   string   `json:"place_id,omitempty"`
	Website   string   `json:"website,omitempty"`
}

// Clone returns a deep copy.
func (e Enrichment) Clone() Enrichment {
	out := e
	if e.PhotoURLs != nil {
		out.PhotoURLs = append([]string(nil), e.PhotoURLs...)
	}
	out.Rating = cloneFloat(e.Rating)
	out.Latitude = cloneFloat(e.Latitude)
	out.Longitude = cloneFloat(e.Longitude)
	if e.PriceTier != nil {
		v := *e.PriceTier
		out.PriceTier = &v
	}
	if e.OpenNow != nil {
		v := *e.OpenNow
		out.OpenNow = &v
	}
	return out
}

// PrimaryPhoto returns the first photo URL, if any.
func (e Enrichment) PrimaryPhoto() string {
	if len(e.PhotoURLs) == 0 {
		return ""
	}
	return e.PhotoURLs[0]
}

func cloneFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

// RawCandidate is an unvalidated suggestion from the generation step.
type RawCandidate struct {
	Name      string `json:"name"`
	Category  string `json:"category,omitempty"`
	Rationale string `json:"rationale,omitempty"`
}

// Item is one queue position. Values returned to callers are snapshots.
type Item struct {
	ID           string      `json:"id"`
	Index        int         `json:"index"`
	Kind         Kind        `json:"kind"`
	Name         string      `json:"name"`
	Category     string      `json:"category,omitempty"`
	Rationale    string      `json:"rationale,omitempty"`
	Status       Status      `json:"status"`
	Enriched     *Enrichment `json:"enriched,omitempty"`
	ErrorMessage string      `json:"error_message,omitempty"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

// Check verifies that enrichment and error fields agree with the status.
func (i Item) Check() error {
	if !i.Status.IsValid() {
		return fmt.Errorf("item %s: unknown status %q", i.ID, i.Status)
	}
	if (i.Enriched != nil) != (i.Status == StatusValidated) {
		return fmt.Errorf("item %s: enrichment present=%t with status %s", i.ID, i.Enriched != nil, i.Status)
	}
	if (i.ErrorMessage != "") != (i.Status == StatusError) {
		return fmt.Errorf("item %s: error message present=%t with status %s", i.ID, i.ErrorMessage != "", i.Status)
	}
	return nil
}

// Clone returns a deep copy of the item.
func (i Item) Clone() Item {
	out := i
	if i.Enriched != nil {
		enr := i.Enriched.Clone()
		out.Enriched = &enr
	}
	return out
}

// Schedulable reports whether enriched data exists to commit to an itinerary.
func (i Item) Schedulable() bool {
	return i.Status == StatusValidated && i.Enriched != nil
}

// NormalizedItem is the record appended to the destination repository.
type NormalizedItem struct {
	ID          string    `json:"id" db:"id"`
	TripID      string    `json:"trip_id" db:"trip_id"`
	Kind        Kind      `json:"kind" db:"kind"`
	Name        string    `json:"name" db:"name"`
	Description string    `json:"description,omitempty" db:"description"`
	Category    string    `json:"category,omitempty" db:"category"`
	Rating      *float64  `json:"rating,omitempty" db:"rating"`
	Price       *int      `json:"price,omitempty" db:"price"`
	Image       string    `json:"image,omitempty" db:"image"`
	Address     string    `json:"address,omitempty" db:"address"`
	Degraded    bool      `json:"degraded" db:"degraded"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// SessionState is the lifecycle state of one discovery session.
type SessionState string

const (
	SessionGenerating SessionState = "generating"
	SessionActive     SessionState = "active"
	SessionFinished   SessionState = "finished"
	SessionFailed     SessionState = "failed"
	SessionClosed     SessionState = "closed"
)

// IsTerminal reports whether the session accepts no further actions.
func (s SessionState) IsTerminal() bool {
	return s == SessionFinished || s == SessionClosed
}
