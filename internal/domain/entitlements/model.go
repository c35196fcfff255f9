package entitlements

import (
	"time"

	"github.com/pratico/magsub/internal/refs"
)

type Status string

const (
	StatusActive  Status = "Active"
	StatusUsed    Status = "Used"
	StatusExpired Status = "Expired"
)

// Entitlement is a customer's right to receive one issue, sourced from one order.
// SourceOrder is set at creation and never changes; only Status and the
// Subscription back-link are mutable afterwards.
type Entitlement struct {
	ID           refs.Entitlement
	Customer     refs.Customer
	Issue        refs.Issue
	SourceOrder  refs.Order
	Status       Status
	Subscription refs.Subscription // empty until back-linked
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
