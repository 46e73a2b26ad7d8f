package discovery

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrGenerationFailed is session-fatal: the suggestion source errored or
	// produced no usable candidates.
	ErrGenerationFailed = errors.New("suggestion generation failed")

	ErrQueueExhausted      = errors.New("queue exhausted")
	ErrSessionClosed       = errors.New("session closed")
	ErrSessionNotFound     = errors.New("session not found")
	ErrSessionNotActive    = errors.New("session not active")
	ErrSessionBusy         = errors.New("session is generating")
	ErrItemNotReady        = errors.New("item validation has not finished")
	ErrScheduleUnavailable = errors.New("item has no validated data to schedule")
	ErrNegotiationOpen     = errors.New("a schedule negotiation is open")
	ErrNegotiationClosed   = errors.New("schedule negotiation already closed")
	ErrNoNegotiation       = errors.New("no schedule negotiation is open")
	ErrScheduleRejected    = errors.New("itinerary rejected the scheduled item")
	ErrInvalidSchedule     = errors.New("invalid schedule input")
	ErrInvalidRequest      = errors.New("invalid discovery request")
)

// FieldErrors maps an input field to the reason it was rejected.
type FieldErrors map[string]string

func (e FieldErrors) Error() string {
	keys := make([]string, 0, len(e))
	for k := range e {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, e[k]))
	}
	return "invalid schedule input: " + strings.Join(parts, "; ")
}

func (e FieldErrors) Unwrap() error { return ErrInvalidSchedule }
