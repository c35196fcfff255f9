package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/pratico/magsub/internal/domain/alerts"
	"github.com/pratico/magsub/internal/domain/subscriptions"
	"github.com/pratico/magsub/internal/metrics"
	"github.com/pratico/magsub/internal/refs"
)

// magazineTag marks products sold as magazine subscriptions.
const magazineTag = "magazine"

// subUpdateAttempts bounds the re-read loop on version conflicts.
const subUpdateAttempts = 3

// intake is the single decision made at event entry: a renewal carries the
// subscription refs the order was tagged with, a new purchase carries none.
type intake struct {
	renewal       bool
	subscriptions []refs.Subscription
}

// HandleOrderPaid runs the subscription lifecycle for one order-paid event.
// An error return means nothing line-item-specific has happened yet and the
// delivery should be retried; per-line failures are logged and absorbed.
func (e *Engine) HandleOrderPaid(ctx context.Context, ev OrderPaid) error {
	subRefs, err := e.catalog.OrderSubscriptions(ctx, ev.Order)
	if err != nil {
		return fmt.Errorf("read order subscriptions: %w", err)
	}
	in := intake{renewal: len(subRefs) > 0, subscriptions: subRefs}

	if in.renewal {
		metrics.OrdersProcessed.WithLabelValues("renewal").Inc()
		e.log.Info("processing renewal order", "order", ev.Order, "subscriptions", len(in.subscriptions))
		for _, subRef := range in.subscriptions {
			if err := e.processRenewal(ctx, ev, subRef); err != nil {
				e.log.Error("renewal processing failed",
					"order", ev.Order,
					"subscription", subRef,
					"err", err,
				)
			}
		}
		return nil
	}

	metrics.OrdersProcessed.WithLabelValues("new").Inc()
	e.log.Info("processing new order", "order", ev.Order, "line_items", len(ev.LineItems))

	var created []refs.Subscription
	for _, li := range ev.LineItems {
		subRef, err := e.processNewPurchase(ctx, ev, li)
		if err != nil {
			e.log.Error("line item processing failed",
				"order", ev.Order,
				"product", li.Product,
				"variant", li.Variant,
				"err", err,
			)
			continue
		}
		if subRef != "" {
			created = append(created, subRef)
		}
	}

	// Tag the order so a later renewal order referencing these subscriptions
	// is recognized at intake.
	if len(created) > 0 {
		if err := e.catalog.SetOrderSubscriptions(ctx, ev.Order, created); err != nil {
			e.log.Error("order subscription tagging failed", "order", ev.Order, "err", err)
		}
	}
	return nil
}

func (e *Engine) processRenewal(ctx context.Context, ev OrderPaid, subRef refs.Subscription) error {
	sub, err := e.subs.GetByID(ctx, subRef)
	if err != nil {
		return err
	}
	if sub == nil {
		return fmt.Errorf("%w: subscription %s", ErrNotFound, subRef)
	}

	li, ok := lineItemForProduct(ev.LineItems, sub.Product)
	if !ok {
		return fmt.Errorf("%w: no line item for product %s", ErrNotFound, sub.Product)
	}

	required, err := e.catalog.VariantIssueCount(ctx, li.Variant)
	if err != nil {
		return err
	}

	granted, err := e.entitlements.IssueRefs(ctx, sub.Entitlements)
	if err != nil {
		return fmt.Errorf("resolve granted issues: %w", err)
	}

	eligible, err := e.selectEligibleIssues(ctx, sub.Product, refs.NewIssueSet(granted), required)
	if err != nil {
		return fmt.Errorf("select eligible issues: %w", err)
	}

	switch {
	case len(eligible) == 0:
		e.emitShortage(ctx, alerts.KindNoIssuesAvailable, alerts.OrderTypeRenewal,
			ev.Order, ev.Customer, sub.Product, sub.ID, required, 0)
	case len(eligible) < required:
		e.emitShortage(ctx, alerts.KindInsufficientIssues, alerts.OrderTypeRenewal,
			ev.Order, ev.Customer, sub.Product, sub.ID, required, len(eligible))
	}

	allocated := e.allocate(ctx, ev.Customer, eligible, ev.Order, sub.ID)

	// The renewal is recorded even when nothing could be allocated: the
	// counter tracks renewal events, not fulfillment.
	return e.applyRenewal(ctx, sub, ev.Order, allocated)
}

// applyRenewal is a read-modify-write with a bounded retry on the version
// token; a conflict means a concurrent delivery touched the same record.
func (e *Engine) applyRenewal(ctx context.Context, sub *subscriptions.Subscription, order refs.Order, allocated []refs.Entitlement) error {
	var err error
	for attempt := 0; attempt < subUpdateAttempts; attempt++ {
		if !sub.HasOrder(order) {
			sub.Orders = append(sub.Orders, order)
		}
		sub.CurrentOrder = order
		sub.Renewals++
		sub.Entitlements = append(sub.Entitlements, allocated...)

		err = e.subs.Update(ctx, sub)
		if err == nil {
			e.log.Info("subscription renewed",
				"subscription", sub.ID,
				"code", sub.Code,
				"renewals", sub.Renewals,
				"new_entitlements", len(allocated),
			)
			return nil
		}
		if !errors.Is(err, subscriptions.ErrVersionConflict) {
			return err
		}
		sub, err = e.subs.GetByID(ctx, sub.ID)
		if err != nil {
			return err
		}
		if sub == nil {
			return fmt.Errorf("%w: subscription vanished during update", ErrNotFound)
		}
	}
	return fmt.Errorf("subscription update: %w", err)
}

func (e *Engine) processNewPurchase(ctx context.Context, ev OrderPaid, li LineItem) (refs.Subscription, error) {
	tags, err := e.catalog.ProductTags(ctx, li.Product)
	if err != nil {
		return "", fmt.Errorf("read product tags: %w", err)
	}
	if !hasMagazineTag(tags) {
		return "", nil
	}

	required, err := e.catalog.VariantIssueCount(ctx, li.Variant)
	if err != nil {
		return "", err
	}

	eligible, err := e.selectEligibleIssues(ctx, li.Product, nil, required)
	if err != nil {
		return "", fmt.Errorf("select eligible issues: %w", err)
	}

	switch {
	case len(eligible) == 0:
		e.emitShortage(ctx, alerts.KindNoIssuesAvailable, alerts.OrderTypeNew,
			ev.Order, ev.Customer, li.Product, "", required, 0)
	case len(eligible) < required:
		e.emitShortage(ctx, alerts.KindInsufficientIssues, alerts.OrderTypeNew,
			ev.Order, ev.Customer, li.Product, "", required, len(eligible))
	}

	allocated := e.allocate(ctx, ev.Customer, eligible, ev.Order, "")

	// A subscription with zero entitlements is still valid; it picks up
	// issues on the next renewal.
	now := e.now()
	sub, err := e.subs.Create(ctx, subscriptions.Subscription{
		Code:         e.newCode(now),
		Status:       subscriptions.StatusSubscribed,
		Product:      li.Product,
		CurrentOrder: ev.Order,
		Orders:       []refs.Order{ev.Order},
		StartDate:    now,
		Renewals:     0,
		Entitlements: allocated,
	})
	if err != nil {
		return "", fmt.Errorf("create subscription: %w", err)
	}

	for _, entRef := range allocated {
		if err := e.entitlements.AttachSubscription(ctx, entRef, sub.ID); err != nil {
			e.log.Error("entitlement back-link failed",
				"entitlement", entRef,
				"subscription", sub.ID,
				"err", err,
			)
		}
	}

	e.log.Info("subscription created",
		"subscription", sub.ID,
		"code", sub.Code,
		"product", li.Product,
		"entitlements", len(allocated),
	)
	return sub.ID, nil
}

func lineItemForProduct(items []LineItem, product refs.Product) (LineItem, bool) {
	for _, li := range items {
		if li.Product == product {
			return li, true
		}
	}
	return LineItem{}, false
}

func hasMagazineTag(tags []string) bool {
	for _, t := range tags {
		if strings.EqualFold(strings.TrimSpace(t), magazineTag) {
			return true
		}
	}
	return false
}
