package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OrdersProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "magsub_orders_processed_total",
		Help: "Order-paid events processed, by order kind.",
	}, []string{"kind"})

	EntitlementsAllocated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "magsub_entitlements_allocated_total",
		Help: "Issue entitlements successfully created.",
	})

	AllocationFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "magsub_allocation_failures_total",
		Help: "Entitlement creations rejected by the store.",
	})

	ShortageAlerts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "magsub_shortage_alerts_total",
		Help: "Shortage alerts emitted, by alert type.",
	}, []string{"type"})
)
