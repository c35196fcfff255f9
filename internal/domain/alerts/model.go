package alerts

import (
	"time"

	"github.com/pratico/magsub/internal/refs"
)

type Kind string

const (
	KindNoIssuesAvailable  Kind = "NoIssuesAvailable"
	KindInsufficientIssues Kind = "InsufficientIssues"
)

type OrderType string

const (
	OrderTypeNew     OrderType = "NewOrder"
	OrderTypeRenewal OrderType = "Renewal"
)

type Status string

const (
	StatusUnresolved Status = "Unresolved"
	StatusResolved   Status = "Resolved"
	StatusIgnored    Status = "Ignored"
)

// Alert records a shortage: fewer eligible issues existed than an order required.
// Status moves off Unresolved only through explicit staff action.
type Alert struct {
	ID           refs.Alert
	Kind         Kind
	OrderType    OrderType
	Order        refs.Order
	Customer     refs.Customer
	Product      refs.Product
	Subscription refs.Subscription // empty on new-purchase alerts
	Required     int
	Available    int
	AlertDate    time.Time
	Status       Status
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
