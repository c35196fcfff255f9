package subscriptions

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pratico/magsub/internal/refs"
)

type Status string

const (
	StatusSubscribed Status = "Subscribed"
	StatusCancelled  Status = "Cancelled"
)

type Subscription struct {
	ID           refs.Subscription
	Code         string // human-readable identifier, SUB-<timestamp>-<random>
	Status       Status
	Product      refs.Product
	CurrentOrder refs.Order
	Orders       []refs.Order // founding order first, renewals appended in order
	StartDate    time.Time
	Renewals     int // renewal events processed; the founding purchase is not one
	Entitlements []refs.Entitlement
	Version      int64 // compare-and-swap token, bumped on every update
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// NewCode mints the staff-facing subscription identifier.
func NewCode(now time.Time) string {
	return fmt.Sprintf("SUB-%d-%s", now.Unix(), uuid.NewString()[:8])
}

// HasOrder reports whether the order is already recorded on the subscription.
func (s *Subscription) HasOrder(o refs.Order) bool {
	for _, existing := range s.Orders {
		if existing == o {
			return true
		}
	}
	return false
}
