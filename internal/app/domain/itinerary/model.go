// Package itinerary holds the payloads exchanged with the itinerary collaborator.
package itinerary

import "time"

// ItemType distinguishes what is being committed to the itinerary.
type ItemType string

const (
	ItemAttraction ItemType = "attraction"
	ItemRestaurant ItemType = "restaurant"
	ItemCustom     ItemType = "custom"
)

// DateLayout is the wire layout for itinerary dates.
const DateLayout = "2006-01-02"

// ScheduleRequest is the normalized payload for ScheduleItem. Optional
// fields are nil when empty.
type ScheduleRequest struct {
	ItemName string   `json:"item_name"`
	ItemType ItemType `json:"item_type"`
	Date     string   `json:"date"`
	Time     string   `json:"time"`
	Notes    *string  `json:"notes,omitempty"`
	Address  *string  `json:"address,omitempty"`
	Image    *string  `json:"image,omitempty"`
	Category *string  `json:"category,omitempty"`
}

// Entry is a scheduled itinerary row as persisted.
type Entry struct {
	ID        string    `json:"id" db:"id"`
	TripID    string    `json:"trip_id" db:"trip_id"`
	ItemName  string    `json:"item_name" db:"item_name"`
	ItemType  ItemType  `json:"item_type" db:"item_type"`
	Date      string    `json:"date" db:"date"`
	Time      string    `json:"time" db:"time"`
	Notes     *string   `json:"notes,omitempty" db:"notes"`
	Address   *string   `json:"address,omitempty" db:"address"`
	Image     *string   `json:"image,omitempty" db:"image"`
	Category  *string   `json:"category,omitempty" db:"category"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Bounds are the optional trip start/end dates. A nil side is unbounded.
type Bounds struct {
	Start *time.Time
	End   *time.Time
}

// Bounded reports whether both sides are set.
func (b Bounds) Bounded() bool {
	return b.Start != nil && b.End != nil
}

// StringPtr returns nil for empty strings.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
