package http

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pratico/magsub/internal/infra/admin"
	"github.com/pratico/magsub/internal/infra/webhooks"
)

type Server struct {
	srv *http.Server
}

func New(addr string, exposeMetrics bool, wh *webhooks.Handler, api *admin.Handler) *Server {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	if exposeMetrics {
		mux.Handle("/metrics", promhttp.Handler())
	}

	mux.HandleFunc("POST /webhooks/orders-paid", wh.OrdersPaid)
	mux.HandleFunc("POST /webhooks/products-update", wh.ProductsUpdate)

	mux.HandleFunc("GET /api/issues", api.ListIssues)
	mux.HandleFunc("POST /api/issues", api.CreateIssue)
	mux.HandleFunc("PUT /api/issues/{id}", api.UpdateIssue)
	mux.HandleFunc("GET /api/subscriptions", api.ListSubscriptions)
	mux.HandleFunc("GET /api/alerts", api.ListAlerts)
	mux.HandleFunc("POST /api/alerts/{id}/resolve", api.ResolveAlert)
	mux.HandleFunc("POST /api/alerts/{id}/ignore", api.IgnoreAlert)
	mux.HandleFunc("GET /api/product-variants", api.ProductVariants)
	mux.HandleFunc("POST /api/renewal-orders", api.CreateRenewalOrder)
	mux.HandleFunc("GET /api/shipping-list/{issue}", api.ShippingList)

	return &Server{srv: &http.Server{Addr: addr, Handler: mux}}
}

func (s *Server) Start() error {
	return s.srv.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
