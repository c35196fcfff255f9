// Package admin serves the staff JSON API: issue management, the alert list,
// renewal order creation, and the shipping-list download.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/pratico/magsub/internal/domain/alerts"
	"github.com/pratico/magsub/internal/domain/entitlements"
	"github.com/pratico/magsub/internal/domain/issues"
	"github.com/pratico/magsub/internal/domain/subscriptions"
	"github.com/pratico/magsub/internal/engine"
	"github.com/pratico/magsub/internal/infra/shopify"
	"github.com/pratico/magsub/internal/refs"
)

const issuePageSize = 250

type IssueStore interface {
	Create(ctx context.Context, in issues.Issue) (*issues.Issue, error)
	GetByID(ctx context.Context, id refs.Issue) (*issues.Issue, error)
	List(ctx context.Context, afterID refs.Issue, limit int) ([]issues.Issue, error)
	Update(ctx context.Context, id refs.Issue, title, code string, exportDate time.Time, status issues.Status) error
	SetAssociatedProducts(ctx context.Context, id refs.Issue, products []refs.Product) error
}

type SubscriptionStore interface {
	List(ctx context.Context, status subscriptions.Status) ([]subscriptions.Subscription, error)
	GetByID(ctx context.Context, id refs.Subscription) (*subscriptions.Subscription, error)
}

type EntitlementStore interface {
	GetByID(ctx context.Context, id refs.Entitlement) (*entitlements.Entitlement, error)
}

type AlertStore interface {
	List(ctx context.Context) ([]alerts.Alert, error)
	SetStatus(ctx context.Context, id refs.Alert, status alerts.Status) error
}

// Synchronizer is the issue-side association reconciliation entry point.
type Synchronizer interface {
	SyncIssueProducts(ctx context.Context, issue refs.Issue, newProducts []refs.Product) error
}

// Catalog is the Shopify surface the staff screens need.
type Catalog interface {
	ProductVariants(ctx context.Context, product refs.Product) ([]shopify.VariantInfo, error)
	VariantProduct(ctx context.Context, variant refs.Variant) (refs.Product, error)
	CreateRenewalOrder(ctx context.Context, customer refs.Customer, variant refs.Variant, sub refs.Subscription) (refs.Order, string, error)
}

// Exporter builds the shipping-list workbook for one issue.
type Exporter interface {
	ShippingList(ctx context.Context, issue refs.Issue) (*excelize.File, error)
}

type Handler struct {
	log          *slog.Logger
	issues       IssueStore
	subs         SubscriptionStore
	entitlements EntitlementStore
	alerts       AlertStore
	sync         Synchronizer
	catalog      Catalog
	export       Exporter
}

func NewHandler(log *slog.Logger, is IssueStore, ss SubscriptionStore, es EntitlementStore,
	as AlertStore, sync Synchronizer, cat Catalog, export Exporter) *Handler {
	return &Handler{
		log:          log,
		issues:       is,
		subs:         ss,
		entitlements: es,
		alerts:       as,
		sync:         sync,
		catalog:      cat,
		export:       export,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

type issuePayload struct {
	Title              string   `json:"title"`
	PublicationCode    string   `json:"publication_code"`
	ExportDate         string   `json:"export_date"` // RFC 3339
	Status             string   `json:"status"`
	AssociatedProducts []string `json:"associated_products"`
}

type issueResponse struct {
	ID                 string   `json:"id"`
	Title              string   `json:"title"`
	PublicationCode    string   `json:"publication_code"`
	ExportDate         string   `json:"export_date"`
	Status             string   `json:"status"`
	AssociatedProducts []string `json:"associated_products"`
}

func toIssueResponse(iss issues.Issue) issueResponse {
	products := make([]string, len(iss.AssociatedProducts))
	for i, p := range iss.AssociatedProducts {
		products[i] = string(p)
	}
	return issueResponse{
		ID:                 string(iss.ID),
		Title:              iss.Title,
		PublicationCode:    iss.PublicationCode,
		ExportDate:         iss.ExportDate.Format(time.RFC3339),
		Status:             string(iss.Status),
		AssociatedProducts: products,
	}
}

func parseIssuePayload(r *http.Request) (issuePayload, time.Time, issues.Status, []refs.Product, error) {
	var p issuePayload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		return p, time.Time{}, "", nil, fmt.Errorf("bad payload: %w", err)
	}
	if p.Title == "" {
		return p, time.Time{}, "", nil, errors.New("title is required")
	}
	exportDate, err := time.Parse(time.RFC3339, p.ExportDate)
	if err != nil {
		return p, time.Time{}, "", nil, fmt.Errorf("export_date: %w", err)
	}
	status := issues.Status(p.Status)
	if status == "" {
		status = issues.StatusPlanned
	}
	if status != issues.StatusPlanned && status != issues.StatusSent {
		return p, time.Time{}, "", nil, fmt.Errorf("unknown status %q", p.Status)
	}
	products := make([]refs.Product, len(p.AssociatedProducts))
	for i, id := range p.AssociatedProducts {
		products[i] = refs.Product(id)
	}
	return p, exportDate, status, products, nil
}

func (h *Handler) ListIssues(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var out []issueResponse
	var after refs.Issue
	for {
		page, err := h.issues.List(ctx, after, issuePageSize)
		if err != nil {
			h.log.Error("issue list failed", "err", err)
			writeError(w, http.StatusInternalServerError, "list failed")
			return
		}
		for _, iss := range page {
			out = append(out, toIssueResponse(iss))
		}
		if len(page) < issuePageSize {
			break
		}
		after = page[len(page)-1].ID
	}
	writeJSON(w, http.StatusOK, map[string]any{"issues": out})
}

func (h *Handler) CreateIssue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	p, exportDate, status, products, err := parseIssuePayload(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	iss, err := h.issues.Create(ctx, issues.Issue{
		Title:              p.Title,
		PublicationCode:    p.PublicationCode,
		ExportDate:         exportDate,
		Status:             status,
		AssociatedProducts: products,
	})
	if err != nil {
		h.log.Error("issue create failed", "err", err)
		writeError(w, http.StatusInternalServerError, "create failed")
		return
	}
	if err := h.sync.SyncIssueProducts(ctx, iss.ID, products); err != nil {
		h.log.Error("issue association sync failed", "issue", iss.ID, "err", err)
	}
	writeJSON(w, http.StatusCreated, toIssueResponse(*iss))
}

func (h *Handler) UpdateIssue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := refs.Issue(r.PathValue("id"))
	existing, err := h.issues.GetByID(ctx, id)
	if err != nil {
		h.log.Error("issue read failed", "issue", id, "err", err)
		writeError(w, http.StatusInternalServerError, "read failed")
		return
	}
	if existing == nil {
		writeError(w, http.StatusNotFound, "issue not found")
		return
	}

	p, exportDate, status, products, err := parseIssuePayload(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.issues.Update(ctx, id, p.Title, p.PublicationCode, exportDate, status); err != nil {
		h.log.Error("issue update failed", "issue", id, "err", err)
		writeError(w, http.StatusInternalServerError, "update failed")
		return
	}
	if err := h.issues.SetAssociatedProducts(ctx, id, products); err != nil {
		h.log.Error("issue association update failed", "issue", id, "err", err)
		writeError(w, http.StatusInternalServerError, "update failed")
		return
	}
	// Reconcile the product-side metafields with the new association set.
	if err := h.sync.SyncIssueProducts(ctx, id, products); err != nil {
		h.log.Error("issue association sync failed", "issue", id, "err", err)
	}

	updated, err := h.issues.GetByID(ctx, id)
	if err != nil || updated == nil {
		writeJSON(w, http.StatusOK, map[string]string{"id": string(id)})
		return
	}
	writeJSON(w, http.StatusOK, toIssueResponse(*updated))
}

type subscriptionResponse struct {
	ID           string `json:"id"`
	Code         string `json:"code"`
	Status       string `json:"status"`
	Product      string `json:"product"`
	CurrentOrder string `json:"current_order"`
	StartDate    string `json:"start_date"`
	Renewals     int    `json:"renewals"`
	Orders       int    `json:"orders"`
	Entitlements int    `json:"entitlements"`
}

func (h *Handler) ListSubscriptions(w http.ResponseWriter, r *http.Request) {
	subs, err := h.subs.List(r.Context(), subscriptions.StatusSubscribed)
	if err != nil {
		h.log.Error("subscription list failed", "err", err)
		writeError(w, http.StatusInternalServerError, "list failed")
		return
	}
	out := make([]subscriptionResponse, 0, len(subs))
	for _, s := range subs {
		out = append(out, subscriptionResponse{
			ID:           string(s.ID),
			Code:         s.Code,
			Status:       string(s.Status),
			Product:      string(s.Product),
			CurrentOrder: string(s.CurrentOrder),
			StartDate:    s.StartDate.Format(time.RFC3339),
			Renewals:     s.Renewals,
			Orders:       len(s.Orders),
			Entitlements: len(s.Entitlements),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"subscriptions": out})
}

func (h *Handler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	list, err := h.alerts.List(r.Context())
	if err != nil {
		h.log.Error("alert list failed", "err", err)
		writeError(w, http.StatusInternalServerError, "list failed")
		return
	}
	type alertResponse struct {
		ID           string `json:"id"`
		Type         string `json:"type"`
		OrderType    string `json:"order_type"`
		Order        string `json:"order"`
		Customer     string `json:"customer"`
		Product      string `json:"product"`
		Subscription string `json:"subscription,omitempty"`
		Required     int    `json:"required"`
		Available    int    `json:"available"`
		AlertDate    string `json:"alert_date"`
		Status       string `json:"status"`
	}
	out := make([]alertResponse, 0, len(list))
	for _, a := range list {
		out = append(out, alertResponse{
			ID:           string(a.ID),
			Type:         string(a.Kind),
			OrderType:    string(a.OrderType),
			Order:        string(a.Order),
			Customer:     string(a.Customer),
			Product:      string(a.Product),
			Subscription: string(a.Subscription),
			Required:     a.Required,
			Available:    a.Available,
			AlertDate:    a.AlertDate.Format(time.RFC3339),
			Status:       string(a.Status),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"alerts": out})
}

func (h *Handler) ResolveAlert(w http.ResponseWriter, r *http.Request) {
	h.setAlertStatus(w, r, alerts.StatusResolved)
}

func (h *Handler) IgnoreAlert(w http.ResponseWriter, r *http.Request) {
	h.setAlertStatus(w, r, alerts.StatusIgnored)
}

func (h *Handler) setAlertStatus(w http.ResponseWriter, r *http.Request, status alerts.Status) {
	id := refs.Alert(r.PathValue("id"))
	err := h.alerts.SetStatus(r.Context(), id, status)
	if errors.Is(err, alerts.ErrNotUnresolved) {
		writeError(w, http.StatusConflict, "alert is not unresolved")
		return
	}
	if err != nil {
		h.log.Error("alert status update failed", "alert", id, "err", err)
		writeError(w, http.StatusInternalServerError, "update failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": string(id), "status": string(status)})
}

func (h *Handler) ProductVariants(w http.ResponseWriter, r *http.Request) {
	product := refs.Product(r.URL.Query().Get("product"))
	if product == "" {
		writeError(w, http.StatusBadRequest, "product is required")
		return
	}
	variants, err := h.catalog.ProductVariants(r.Context(), product)
	if err != nil {
		if errors.Is(err, engine.ErrNotFound) {
			writeError(w, http.StatusNotFound, "product not found")
			return
		}
		h.log.Error("variant list failed", "product", product, "err", err)
		writeError(w, http.StatusInternalServerError, "list failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"variants": variants})
}

type renewalOrderPayload struct {
	SubscriptionID string `json:"subscription_id"`
	VariantID      string `json:"variant_id"`
}

// CreateRenewalOrder builds a renewal order for an active subscription: the
// variant must belong to the subscription's product, the customer comes from
// the subscription's first entitlement, and the completed order is tagged so
// the orders/paid webhook takes the renewal path.
func (h *Handler) CreateRenewalOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var p renewalOrderPayload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, "bad payload")
		return
	}
	if p.SubscriptionID == "" || p.VariantID == "" {
		writeError(w, http.StatusBadRequest, "subscription_id and variant_id are required")
		return
	}

	sub, err := h.subs.GetByID(ctx, refs.Subscription(p.SubscriptionID))
	if err != nil {
		h.log.Error("subscription read failed", "subscription", p.SubscriptionID, "err", err)
		writeError(w, http.StatusInternalServerError, "read failed")
		return
	}
	if sub == nil {
		writeError(w, http.StatusNotFound, "subscription not found")
		return
	}
	if sub.Status != subscriptions.StatusSubscribed {
		writeError(w, http.StatusConflict, "subscription is not active")
		return
	}

	variant := refs.Variant(p.VariantID)
	product, err := h.catalog.VariantProduct(ctx, variant)
	if err != nil {
		if errors.Is(err, engine.ErrNotFound) {
			writeError(w, http.StatusNotFound, "variant not found")
			return
		}
		h.log.Error("variant read failed", "variant", variant, "err", err)
		writeError(w, http.StatusInternalServerError, "read failed")
		return
	}
	if product != sub.Product {
		writeError(w, http.StatusBadRequest, "variant does not belong to the subscription's product")
		return
	}

	customer, err := h.subscriptionCustomer(ctx, sub)
	if err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}

	order, name, err := h.catalog.CreateRenewalOrder(ctx, customer, variant, sub.ID)
	if err != nil {
		h.log.Error("renewal order creation failed", "subscription", sub.ID, "err", err)
		writeError(w, http.StatusBadGateway, "order creation failed")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{
		"order":      string(order),
		"order_name": name,
	})
}

// The subscription record carries no customer of its own; like the original
// data model, the customer is read off the first entitlement.
func (h *Handler) subscriptionCustomer(ctx context.Context, sub *subscriptions.Subscription) (refs.Customer, error) {
	if len(sub.Entitlements) == 0 {
		return "", errors.New("subscription has no entitlements to derive a customer from")
	}
	ent, err := h.entitlements.GetByID(ctx, sub.Entitlements[0])
	if err != nil {
		return "", fmt.Errorf("entitlement read failed: %w", err)
	}
	if ent == nil {
		return "", errors.New("subscription's first entitlement is missing")
	}
	return ent.Customer, nil
}

func (h *Handler) ShippingList(w http.ResponseWriter, r *http.Request) {
	issue := refs.Issue(r.PathValue("issue"))
	f, err := h.export.ShippingList(r.Context(), issue)
	if err != nil {
		if errors.Is(err, engine.ErrNotFound) {
			writeError(w, http.StatusNotFound, "issue not found")
			return
		}
		h.log.Error("shipping list build failed", "issue", issue, "err", err)
		writeError(w, http.StatusInternalServerError, "export failed")
		return
	}
	defer func() { _ = f.Close() }()

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=shipping-list-%s.xlsx", issue))
	if err := f.Write(w); err != nil {
		h.log.Error("shipping list write failed", "issue", issue, "err", err)
	}
}
