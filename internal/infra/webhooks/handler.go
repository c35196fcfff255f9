// Package webhooks ingests Shopify webhook deliveries and hands them to the
// engine. Deliveries are at-least-once: a non-2xx response makes Shopify
// redeliver, so handlers return 500 only for failures worth retrying.
package webhooks

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/pratico/magsub/internal/engine"
	"github.com/pratico/magsub/internal/infra/shopify"
	"github.com/pratico/magsub/internal/refs"
)

const maxBodySize = 1 << 20

const hmacHeader = "X-Shopify-Hmac-Sha256"

// Processor is the engine surface the handlers dispatch to.
type Processor interface {
	HandleOrderPaid(ctx context.Context, ev engine.OrderPaid) error
	SyncProductIssues(ctx context.Context, product refs.Product, newIssues []refs.Issue) error
}

// ProductIssueReader reads a product's issue-list metafield.
type ProductIssueReader interface {
	ProductIssueList(ctx context.Context, product refs.Product) ([]refs.Issue, error)
}

type Handler struct {
	log     *slog.Logger
	secret  string
	proc    Processor
	catalog ProductIssueReader
}

func NewHandler(log *slog.Logger, secret string, proc Processor, catalog ProductIssueReader) *Handler {
	return &Handler{log: log, secret: secret, proc: proc, catalog: catalog}
}

func (h *Handler) readVerified(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return nil, false
	}
	if !shopify.VerifyWebhookHMAC(h.secret, body, r.Header.Get(hmacHeader)) {
		h.log.Warn("webhook hmac mismatch", "path", r.URL.Path)
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return nil, false
	}
	return body, true
}

type orderPaidPayload struct {
	ID       int64 `json:"id"`
	Customer *struct {
		ID int64 `json:"id"`
	} `json:"customer"`
	LineItems []struct {
		ProductID int64 `json:"product_id"`
		VariantID int64 `json:"variant_id"`
		Quantity  int   `json:"quantity"`
	} `json:"line_items"`
}

func (h *Handler) OrdersPaid(w http.ResponseWriter, r *http.Request) {
	body, ok := h.readVerified(w, r)
	if !ok {
		return
	}

	var payload orderPaidPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		h.log.Error("orders/paid payload unparseable", "err", err)
		http.Error(w, "bad payload", http.StatusBadRequest)
		return
	}
	if payload.Customer == nil {
		// Nothing to entitle without a customer.
		h.log.Info("order without customer, skipped", "order", payload.ID)
		w.WriteHeader(http.StatusOK)
		return
	}

	ev := engine.OrderPaid{
		Order:    refs.OrderGID(payload.ID),
		Customer: refs.CustomerGID(payload.Customer.ID),
	}
	for _, li := range payload.LineItems {
		ev.LineItems = append(ev.LineItems, engine.LineItem{
			Product:  refs.ProductGID(li.ProductID),
			Variant:  refs.VariantGID(li.VariantID),
			Quantity: li.Quantity,
		})
	}

	if err := h.proc.HandleOrderPaid(r.Context(), ev); err != nil {
		h.log.Error("orders/paid processing failed", "order", payload.ID, "err", err)
		http.Error(w, "processing failed", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

type productUpdatePayload struct {
	ID     int64  `json:"id"`
	AdminG string `json:"admin_graphql_api_id"`
}

func (h *Handler) ProductsUpdate(w http.ResponseWriter, r *http.Request) {
	body, ok := h.readVerified(w, r)
	if !ok {
		return
	}

	var payload productUpdatePayload
	if err := json.Unmarshal(body, &payload); err != nil {
		h.log.Error("products/update payload unparseable", "err", err)
		http.Error(w, "bad payload", http.StatusBadRequest)
		return
	}
	product := refs.Product(payload.AdminG)
	if product == "" {
		product = refs.ProductGID(payload.ID)
	}

	list, err := h.catalog.ProductIssueList(r.Context(), product)
	if err != nil {
		h.log.Error("product issue list read failed", "product", product, "err", err)
		http.Error(w, "catalog unavailable", http.StatusInternalServerError)
		return
	}

	if err := h.proc.SyncProductIssues(r.Context(), product, list); err != nil {
		h.log.Error("product association sync failed", "product", product, "err", err)
		http.Error(w, "sync failed", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}
