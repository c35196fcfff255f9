package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/pratico/magsub/internal/domain/alerts"
	"github.com/pratico/magsub/internal/domain/entitlements"
	"github.com/pratico/magsub/internal/domain/issues"
	"github.com/pratico/magsub/internal/domain/subscriptions"
	"github.com/pratico/magsub/internal/engine"
	"github.com/pratico/magsub/internal/infra/shopify"
	"github.com/pratico/magsub/internal/refs"
)

type fakeIssueStore struct {
	byID map[refs.Issue]*issues.Issue
	seq  int
}

func (f *fakeIssueStore) Create(_ context.Context, in issues.Issue) (*issues.Issue, error) {
	f.seq++
	in.ID = refs.Issue(fmt.Sprintf("iss-%03d", f.seq))
	f.byID[in.ID] = &in
	return &in, nil
}

func (f *fakeIssueStore) GetByID(_ context.Context, id refs.Issue) (*issues.Issue, error) {
	return f.byID[id], nil
}

func (f *fakeIssueStore) List(_ context.Context, afterID refs.Issue, limit int) ([]issues.Issue, error) {
	var out []issues.Issue
	for _, iss := range f.byID {
		if afterID == "" || iss.ID > afterID {
			out = append(out, *iss)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeIssueStore) Update(_ context.Context, id refs.Issue, title, code string, exportDate time.Time, status issues.Status) error {
	iss, ok := f.byID[id]
	if !ok {
		return errors.New("missing issue")
	}
	iss.Title, iss.PublicationCode, iss.ExportDate, iss.Status = title, code, exportDate, status
	return nil
}

func (f *fakeIssueStore) SetAssociatedProducts(_ context.Context, id refs.Issue, products []refs.Product) error {
	iss, ok := f.byID[id]
	if !ok {
		return errors.New("missing issue")
	}
	iss.AssociatedProducts = products
	return nil
}

type fakeSubStore struct {
	byID map[refs.Subscription]*subscriptions.Subscription
}

func (f *fakeSubStore) List(_ context.Context, status subscriptions.Status) ([]subscriptions.Subscription, error) {
	var out []subscriptions.Subscription
	for _, s := range f.byID {
		if s.Status == status {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (f *fakeSubStore) GetByID(_ context.Context, id refs.Subscription) (*subscriptions.Subscription, error) {
	return f.byID[id], nil
}

type fakeEntStore struct {
	byID map[refs.Entitlement]*entitlements.Entitlement
}

func (f *fakeEntStore) GetByID(_ context.Context, id refs.Entitlement) (*entitlements.Entitlement, error) {
	return f.byID[id], nil
}

type fakeAlertStore struct {
	byID map[refs.Alert]*alerts.Alert
}

func (f *fakeAlertStore) List(_ context.Context) ([]alerts.Alert, error) {
	var out []alerts.Alert
	for _, a := range f.byID {
		out = append(out, *a)
	}
	return out, nil
}

func (f *fakeAlertStore) SetStatus(_ context.Context, id refs.Alert, status alerts.Status) error {
	a, ok := f.byID[id]
	if !ok || a.Status != alerts.StatusUnresolved {
		return alerts.ErrNotUnresolved
	}
	a.Status = status
	return nil
}

type fakeSync struct {
	calls []refs.Issue
}

func (f *fakeSync) SyncIssueProducts(_ context.Context, issue refs.Issue, _ []refs.Product) error {
	f.calls = append(f.calls, issue)
	return nil
}

type fakeCatalog struct {
	variantProducts map[refs.Variant]refs.Product
	createdOrders   []refs.Subscription
	createErr       error
}

func (f *fakeCatalog) ProductVariants(_ context.Context, product refs.Product) ([]shopify.VariantInfo, error) {
	return []shopify.VariantInfo{{ID: "var-1", Title: "1 year", Price: "49.00", Product: product, IssueCount: "6"}}, nil
}

func (f *fakeCatalog) VariantProduct(_ context.Context, variant refs.Variant) (refs.Product, error) {
	p, ok := f.variantProducts[variant]
	if !ok {
		return "", fmt.Errorf("%w: variant %s", engine.ErrNotFound, variant)
	}
	return p, nil
}

func (f *fakeCatalog) CreateRenewalOrder(_ context.Context, _ refs.Customer, _ refs.Variant, sub refs.Subscription) (refs.Order, string, error) {
	if f.createErr != nil {
		return "", "", f.createErr
	}
	f.createdOrders = append(f.createdOrders, sub)
	return "gid://shopify/Order/77", "#1077", nil
}

type fakeExporter struct{}

func (fakeExporter) ShippingList(_ context.Context, issue refs.Issue) (*excelize.File, error) {
	if issue == "iss-missing" {
		return nil, fmt.Errorf("%w: issue %s", engine.ErrNotFound, issue)
	}
	return excelize.NewFile(), nil
}

type adminFixture struct {
	handler *Handler
	issues  *fakeIssueStore
	subs    *fakeSubStore
	ents    *fakeEntStore
	alerts  *fakeAlertStore
	sync    *fakeSync
	catalog *fakeCatalog
	mux     *http.ServeMux
}

func newFixture() *adminFixture {
	f := &adminFixture{
		issues:  &fakeIssueStore{byID: map[refs.Issue]*issues.Issue{}},
		subs:    &fakeSubStore{byID: map[refs.Subscription]*subscriptions.Subscription{}},
		ents:    &fakeEntStore{byID: map[refs.Entitlement]*entitlements.Entitlement{}},
		alerts:  &fakeAlertStore{byID: map[refs.Alert]*alerts.Alert{}},
		sync:    &fakeSync{},
		catalog: &fakeCatalog{variantProducts: map[refs.Variant]refs.Product{}},
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	f.handler = NewHandler(log, f.issues, f.subs, f.ents, f.alerts, f.sync, f.catalog, fakeExporter{})

	f.mux = http.NewServeMux()
	f.mux.HandleFunc("POST /api/issues", f.handler.CreateIssue)
	f.mux.HandleFunc("PUT /api/issues/{id}", f.handler.UpdateIssue)
	f.mux.HandleFunc("GET /api/alerts", f.handler.ListAlerts)
	f.mux.HandleFunc("POST /api/alerts/{id}/resolve", f.handler.ResolveAlert)
	f.mux.HandleFunc("POST /api/alerts/{id}/ignore", f.handler.IgnoreAlert)
	f.mux.HandleFunc("POST /api/renewal-orders", f.handler.CreateRenewalOrder)
	f.mux.HandleFunc("GET /api/shipping-list/{issue}", f.handler.ShippingList)
	return f
}

func (f *adminFixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)
	return rec
}

func TestCreateIssue(t *testing.T) {
	f := newFixture()

	rec := f.do(t, http.MethodPost, "/api/issues", `{
		"title": "Spring 2026",
		"publication_code": "SPR-26",
		"export_date": "2026-10-01T00:00:00Z",
		"associated_products": ["gid://shopify/Product/1"]
	}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp issueResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "iss-001", resp.ID)
	assert.Equal(t, string(issues.StatusPlanned), resp.Status)
	assert.Equal(t, []string{"gid://shopify/Product/1"}, resp.AssociatedProducts)
	// Product-side metafields reconciled right after create.
	assert.Equal(t, []refs.Issue{"iss-001"}, f.sync.calls)
}

func TestCreateIssue_Validation(t *testing.T) {
	f := newFixture()

	for name, body := range map[string]string{
		"missing title":   `{"export_date": "2026-10-01T00:00:00Z"}`,
		"bad export date": `{"title": "x", "export_date": "tomorrow"}`,
		"unknown status":  `{"title": "x", "export_date": "2026-10-01T00:00:00Z", "status": "Draft"}`,
	} {
		rec := f.do(t, http.MethodPost, "/api/issues", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, name)
	}
	assert.Empty(t, f.sync.calls)
}

func TestUpdateIssue(t *testing.T) {
	f := newFixture()
	f.issues.byID["iss-old"] = &issues.Issue{
		ID: "iss-old", Title: "Old", Status: issues.StatusPlanned,
		AssociatedProducts: []refs.Product{"gid://shopify/Product/1"},
	}

	rec := f.do(t, http.MethodPut, "/api/issues/iss-old", `{
		"title": "New Title",
		"export_date": "2026-11-01T00:00:00Z",
		"status": "Sent",
		"associated_products": ["gid://shopify/Product/2"]
	}`)
	require.Equal(t, http.StatusOK, rec.Code)

	iss := f.issues.byID["iss-old"]
	assert.Equal(t, "New Title", iss.Title)
	assert.Equal(t, issues.StatusSent, iss.Status)
	assert.Equal(t, []refs.Product{"gid://shopify/Product/2"}, iss.AssociatedProducts)
	assert.Equal(t, []refs.Issue{"iss-old"}, f.sync.calls)
}

func TestUpdateIssue_NotFound(t *testing.T) {
	f := newFixture()
	rec := f.do(t, http.MethodPut, "/api/issues/iss-missing", `{"title": "x", "export_date": "2026-10-01T00:00:00Z"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAlertLifecycle(t *testing.T) {
	f := newFixture()
	f.alerts.byID["al-1"] = &alerts.Alert{ID: "al-1", Kind: alerts.KindInsufficientIssues, Status: alerts.StatusUnresolved}

	rec := f.do(t, http.MethodPost, "/api/alerts/al-1/resolve", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, alerts.StatusResolved, f.alerts.byID["al-1"].Status)

	// A second transition is rejected, resolved alerts stay resolved.
	rec = f.do(t, http.MethodPost, "/api/alerts/al-1/ignore", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, alerts.StatusResolved, f.alerts.byID["al-1"].Status)
}

func renewalFixture() *adminFixture {
	f := newFixture()
	f.subs.byID["sub-1"] = &subscriptions.Subscription{
		ID: "sub-1", Code: "SUB-1-test", Status: subscriptions.StatusSubscribed,
		Product:      "gid://shopify/Product/1",
		Entitlements: []refs.Entitlement{"ent-001"},
	}
	f.ents.byID["ent-001"] = &entitlements.Entitlement{
		ID: "ent-001", Customer: "gid://shopify/Customer/3", Issue: "iss-a",
	}
	f.catalog.variantProducts["gid://shopify/ProductVariant/2"] = "gid://shopify/Product/1"
	f.catalog.variantProducts["gid://shopify/ProductVariant/9"] = "gid://shopify/Product/9"
	return f
}

func TestCreateRenewalOrder(t *testing.T) {
	f := renewalFixture()

	rec := f.do(t, http.MethodPost, "/api/renewal-orders",
		`{"subscription_id": "sub-1", "variant_id": "gid://shopify/ProductVariant/2"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "gid://shopify/Order/77", resp["order"])
	assert.Equal(t, "#1077", resp["order_name"])
	assert.Equal(t, []refs.Subscription{"sub-1"}, f.catalog.createdOrders)
}

func TestCreateRenewalOrder_WrongProductVariant(t *testing.T) {
	f := renewalFixture()

	rec := f.do(t, http.MethodPost, "/api/renewal-orders",
		`{"subscription_id": "sub-1", "variant_id": "gid://shopify/ProductVariant/9"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, f.catalog.createdOrders)
}

func TestCreateRenewalOrder_UnknownSubscription(t *testing.T) {
	f := renewalFixture()

	rec := f.do(t, http.MethodPost, "/api/renewal-orders",
		`{"subscription_id": "sub-missing", "variant_id": "gid://shopify/ProductVariant/2"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateRenewalOrder_CancelledSubscription(t *testing.T) {
	f := renewalFixture()
	f.subs.byID["sub-1"].Status = subscriptions.StatusCancelled

	rec := f.do(t, http.MethodPost, "/api/renewal-orders",
		`{"subscription_id": "sub-1", "variant_id": "gid://shopify/ProductVariant/2"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestCreateRenewalOrder_NoEntitlements(t *testing.T) {
	f := renewalFixture()
	f.subs.byID["sub-1"].Entitlements = nil

	rec := f.do(t, http.MethodPost, "/api/renewal-orders",
		`{"subscription_id": "sub-1", "variant_id": "gid://shopify/ProductVariant/2"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestShippingListDownload(t *testing.T) {
	f := newFixture()

	rec := f.do(t, http.MethodGet, "/api/shipping-list/iss-a", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "shipping-list-iss-a.xlsx")
	assert.NotZero(t, rec.Body.Len())

	rec = f.do(t, http.MethodGet, "/api/shipping-list/iss-missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
