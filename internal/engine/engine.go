// Package engine implements the entitlement allocation and subscription
// lifecycle logic triggered by order-paid events, together with the
// issue↔product association synchronizer.
package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/pratico/magsub/internal/domain/alerts"
	"github.com/pratico/magsub/internal/domain/entitlements"
	"github.com/pratico/magsub/internal/domain/issues"
	"github.com/pratico/magsub/internal/domain/subscriptions"
	"github.com/pratico/magsub/internal/refs"
)

// IssueStore is the slice of the issue repo the engine needs.
type IssueStore interface {
	List(ctx context.Context, afterID refs.Issue, limit int) ([]issues.Issue, error)
	GetByID(ctx context.Context, id refs.Issue) (*issues.Issue, error)
	ListByProduct(ctx context.Context, product refs.Product) ([]issues.Issue, error)
	AddAssociatedProduct(ctx context.Context, id refs.Issue, product refs.Product) error
	RemoveAssociatedProduct(ctx context.Context, id refs.Issue, product refs.Product) error
}

type EntitlementStore interface {
	Create(ctx context.Context, in entitlements.Entitlement) (*entitlements.Entitlement, error)
	AttachSubscription(ctx context.Context, id refs.Entitlement, sub refs.Subscription) error
	IssueRefs(ctx context.Context, ids []refs.Entitlement) ([]refs.Issue, error)
}

type SubscriptionStore interface {
	Create(ctx context.Context, in subscriptions.Subscription) (*subscriptions.Subscription, error)
	GetByID(ctx context.Context, id refs.Subscription) (*subscriptions.Subscription, error)
	Update(ctx context.Context, s *subscriptions.Subscription) error
}

type AlertStore interface {
	Create(ctx context.Context, in alerts.Alert) (*alerts.Alert, error)
}

// Catalog reaches the Shopify-owned side of the data: product tags, variant
// issue-count configuration, order subscription metafields, and the product
// side of the issue↔product association.
type Catalog interface {
	ProductTags(ctx context.Context, product refs.Product) ([]string, error)
	VariantIssueCount(ctx context.Context, variant refs.Variant) (int, error)
	OrderSubscriptions(ctx context.Context, order refs.Order) ([]refs.Subscription, error)
	SetOrderSubscriptions(ctx context.Context, order refs.Order, subs []refs.Subscription) error
	ProductIssueList(ctx context.Context, product refs.Product) ([]refs.Issue, error)
	SetProductIssueList(ctx context.Context, product refs.Product, list []refs.Issue) error
	ProductsReferencingIssue(ctx context.Context, issue refs.Issue) ([]refs.Product, error)
}

type Engine struct {
	log          *slog.Logger
	issues       IssueStore
	entitlements EntitlementStore
	subs         SubscriptionStore
	alerts       AlertStore
	catalog      Catalog

	now     func() time.Time
	newCode func(time.Time) string
}

func New(log *slog.Logger, is IssueStore, es EntitlementStore, ss SubscriptionStore, as AlertStore, cat Catalog) *Engine {
	return &Engine{
		log:          log,
		issues:       is,
		entitlements: es,
		subs:         ss,
		alerts:       as,
		catalog:      cat,
		now:          time.Now,
		newCode:      subscriptions.NewCode,
	}
}

// LineItem is one line of an order-paid event, ids already in GID form.
type LineItem struct {
	Product  refs.Product
	Variant  refs.Variant
	Quantity int
}

type OrderPaid struct {
	Order     refs.Order
	Customer  refs.Customer
	LineItems []LineItem
}
