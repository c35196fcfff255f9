package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"time"

	"github.com/pratico/magsub/internal/domain/alerts"
	"github.com/pratico/magsub/internal/domain/entitlements"
	"github.com/pratico/magsub/internal/domain/issues"
	"github.com/pratico/magsub/internal/domain/subscriptions"
	"github.com/pratico/magsub/internal/refs"
)

// In-memory stand-ins for the pgx repos and the Admin API client. They count
// writes so idempotency tests can assert "second run changed nothing".

type fakeIssueStore struct {
	items  map[refs.Issue]*issues.Issue
	writes int
}

func newFakeIssueStore() *fakeIssueStore {
	return &fakeIssueStore{items: map[refs.Issue]*issues.Issue{}}
}

func (f *fakeIssueStore) add(iss issues.Issue) {
	cp := iss
	f.items[iss.ID] = &cp
}

func (f *fakeIssueStore) sortedIDs() []refs.Issue {
	ids := make([]refs.Issue, 0, len(f.items))
	for id := range f.items {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (f *fakeIssueStore) List(_ context.Context, afterID refs.Issue, limit int) ([]issues.Issue, error) {
	var out []issues.Issue
	for _, id := range f.sortedIDs() {
		if id <= afterID {
			continue
		}
		out = append(out, *f.items[id])
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeIssueStore) GetByID(_ context.Context, id refs.Issue) (*issues.Issue, error) {
	iss, ok := f.items[id]
	if !ok {
		return nil, nil
	}
	cp := *iss
	return &cp, nil
}

func (f *fakeIssueStore) ListByProduct(_ context.Context, product refs.Product) ([]issues.Issue, error) {
	var out []issues.Issue
	for _, id := range f.sortedIDs() {
		iss := f.items[id]
		for _, p := range iss.AssociatedProducts {
			if p == product {
				out = append(out, *iss)
				break
			}
		}
	}
	return out, nil
}

func (f *fakeIssueStore) AddAssociatedProduct(_ context.Context, id refs.Issue, product refs.Product) error {
	iss, ok := f.items[id]
	if !ok {
		return nil
	}
	for _, p := range iss.AssociatedProducts {
		if p == product {
			return nil
		}
	}
	iss.AssociatedProducts = append(iss.AssociatedProducts, product)
	f.writes++
	return nil
}

func (f *fakeIssueStore) RemoveAssociatedProduct(_ context.Context, id refs.Issue, product refs.Product) error {
	iss, ok := f.items[id]
	if !ok {
		return nil
	}
	for i, p := range iss.AssociatedProducts {
		if p == product {
			iss.AssociatedProducts = append(iss.AssociatedProducts[:i], iss.AssociatedProducts[i+1:]...)
			f.writes++
			return nil
		}
	}
	return nil
}

type fakeEntitlementStore struct {
	items   map[refs.Entitlement]*entitlements.Entitlement
	order   []refs.Entitlement
	seq     int
	failFor map[refs.Issue]bool // issues whose entitlement create is rejected
}

func newFakeEntitlementStore() *fakeEntitlementStore {
	return &fakeEntitlementStore{
		items:   map[refs.Entitlement]*entitlements.Entitlement{},
		failFor: map[refs.Issue]bool{},
	}
}

func (f *fakeEntitlementStore) Create(_ context.Context, in entitlements.Entitlement) (*entitlements.Entitlement, error) {
	if f.failFor[in.Issue] {
		return nil, errors.New("store rejected entitlement")
	}
	f.seq++
	in.ID = refs.Entitlement(fmt.Sprintf("ent-%03d", f.seq))
	cp := in
	f.items[in.ID] = &cp
	f.order = append(f.order, in.ID)
	return &in, nil
}

func (f *fakeEntitlementStore) AttachSubscription(_ context.Context, id refs.Entitlement, sub refs.Subscription) error {
	ent, ok := f.items[id]
	if !ok {
		return errors.New("entitlement not found")
	}
	ent.Subscription = sub
	return nil
}

func (f *fakeEntitlementStore) IssueRefs(_ context.Context, ids []refs.Entitlement) ([]refs.Issue, error) {
	var out []refs.Issue
	for _, id := range ids {
		if ent, ok := f.items[id]; ok {
			out = append(out, ent.Issue)
		}
	}
	return out, nil
}

type fakeSubscriptionStore struct {
	items     map[refs.Subscription]*subscriptions.Subscription
	seq       int
	conflicts int // pending injected version conflicts on Update
}

func newFakeSubscriptionStore() *fakeSubscriptionStore {
	return &fakeSubscriptionStore{items: map[refs.Subscription]*subscriptions.Subscription{}}
}

func (f *fakeSubscriptionStore) Create(_ context.Context, in subscriptions.Subscription) (*subscriptions.Subscription, error) {
	f.seq++
	in.ID = refs.Subscription(fmt.Sprintf("sub-%03d", f.seq))
	in.Version = 1
	cp := in
	f.items[in.ID] = &cp
	return &in, nil
}

func (f *fakeSubscriptionStore) GetByID(_ context.Context, id refs.Subscription) (*subscriptions.Subscription, error) {
	sub, ok := f.items[id]
	if !ok {
		return nil, nil
	}
	cp := *sub
	cp.Orders = append([]refs.Order(nil), sub.Orders...)
	cp.Entitlements = append([]refs.Entitlement(nil), sub.Entitlements...)
	return &cp, nil
}

func (f *fakeSubscriptionStore) Update(_ context.Context, s *subscriptions.Subscription) error {
	stored, ok := f.items[s.ID]
	if !ok {
		return errors.New("subscription not found")
	}
	if f.conflicts > 0 {
		f.conflicts--
		// Simulate a concurrent writer having bumped the row.
		stored.Version++
		return subscriptions.ErrVersionConflict
	}
	if stored.Version != s.Version {
		return subscriptions.ErrVersionConflict
	}
	cp := *s
	cp.Version = s.Version + 1
	cp.Orders = append([]refs.Order(nil), s.Orders...)
	cp.Entitlements = append([]refs.Entitlement(nil), s.Entitlements...)
	f.items[s.ID] = &cp
	s.Version++
	return nil
}

type fakeAlertStore struct {
	created    []alerts.Alert
	failCreate bool
}

func (f *fakeAlertStore) Create(_ context.Context, in alerts.Alert) (*alerts.Alert, error) {
	if f.failCreate {
		return nil, errors.New("alert store unavailable")
	}
	in.ID = refs.Alert(fmt.Sprintf("alert-%03d", len(f.created)+1))
	in.Status = alerts.StatusUnresolved
	f.created = append(f.created, in)
	return &in, nil
}

type fakeCatalog struct {
	tags        map[refs.Product][]string
	issueCounts map[refs.Variant]int
	orderSubs   map[refs.Order][]refs.Subscription
	issueLists  map[refs.Product][]refs.Issue

	orderSubsErr  error
	setOrderCalls int
	listWrites    int
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{
		tags:        map[refs.Product][]string{},
		issueCounts: map[refs.Variant]int{},
		orderSubs:   map[refs.Order][]refs.Subscription{},
		issueLists:  map[refs.Product][]refs.Issue{},
	}
}

func (f *fakeCatalog) ProductTags(_ context.Context, product refs.Product) ([]string, error) {
	tags, ok := f.tags[product]
	if !ok {
		return nil, fmt.Errorf("%w: product %s", ErrNotFound, product)
	}
	return tags, nil
}

func (f *fakeCatalog) VariantIssueCount(_ context.Context, variant refs.Variant) (int, error) {
	n, ok := f.issueCounts[variant]
	if !ok {
		return 0, fmt.Errorf("%w: variant %s has no issue_count", ErrConfiguration, variant)
	}
	return n, nil
}

func (f *fakeCatalog) OrderSubscriptions(_ context.Context, order refs.Order) ([]refs.Subscription, error) {
	if f.orderSubsErr != nil {
		return nil, f.orderSubsErr
	}
	return f.orderSubs[order], nil
}

func (f *fakeCatalog) SetOrderSubscriptions(_ context.Context, order refs.Order, subs []refs.Subscription) error {
	f.orderSubs[order] = append([]refs.Subscription(nil), subs...)
	f.setOrderCalls++
	return nil
}

func (f *fakeCatalog) ProductIssueList(_ context.Context, product refs.Product) ([]refs.Issue, error) {
	return append([]refs.Issue(nil), f.issueLists[product]...), nil
}

func (f *fakeCatalog) SetProductIssueList(_ context.Context, product refs.Product, list []refs.Issue) error {
	f.issueLists[product] = append([]refs.Issue(nil), list...)
	f.listWrites++
	return nil
}

func (f *fakeCatalog) ProductsReferencingIssue(_ context.Context, issue refs.Issue) ([]refs.Product, error) {
	var out []refs.Product
	for product, list := range f.issueLists {
		for _, i := range list {
			if i == issue {
				out = append(out, product)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testEnv wires an engine over fresh fakes with a pinned clock.
type testEnv struct {
	eng          *Engine
	issues       *fakeIssueStore
	entitlements *fakeEntitlementStore
	subs         *fakeSubscriptionStore
	alerts       *fakeAlertStore
	catalog      *fakeCatalog
	now          time.Time
}

func newTestEnv() *testEnv {
	env := &testEnv{
		issues:       newFakeIssueStore(),
		entitlements: newFakeEntitlementStore(),
		subs:         newFakeSubscriptionStore(),
		alerts:       &fakeAlertStore{},
		catalog:      newFakeCatalog(),
		now:          time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC),
	}
	env.eng = New(discardLogger(), env.issues, env.entitlements, env.subs, env.alerts, env.catalog)
	env.eng.now = func() time.Time { return env.now }
	env.eng.newCode = func(t time.Time) string { return fmt.Sprintf("SUB-%d-test", t.Unix()) }
	return env
}

func (env *testEnv) addIssue(id string, daysAhead int, status issues.Status, products ...refs.Product) {
	env.issues.add(issues.Issue{
		ID:                 refs.Issue(id),
		Title:              "Issue " + id,
		ExportDate:         env.now.AddDate(0, 0, daysAhead),
		Status:             status,
		AssociatedProducts: products,
	})
}
