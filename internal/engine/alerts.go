package engine

import (
	"context"

	"github.com/pratico/magsub/internal/domain/alerts"
	"github.com/pratico/magsub/internal/metrics"
	"github.com/pratico/magsub/internal/refs"
)

// emitShortage records a shortage alert. Alerts are best-effort telemetry:
// a failed create is logged and never blocks the allocation that raised it.
func (e *Engine) emitShortage(ctx context.Context, kind alerts.Kind, orderType alerts.OrderType,
	order refs.Order, customer refs.Customer, product refs.Product, sub refs.Subscription,
	required, available int) {

	_, err := e.alerts.Create(ctx, alerts.Alert{
		Kind:         kind,
		OrderType:    orderType,
		Order:        order,
		Customer:     customer,
		Product:      product,
		Subscription: sub,
		Required:     required,
		Available:    available,
		AlertDate:    e.now(),
	})
	if err != nil {
		e.log.Error("shortage alert create failed",
			"type", kind,
			"order", order,
			"err", err,
		)
		return
	}
	metrics.ShortageAlerts.WithLabelValues(string(kind)).Inc()
	e.log.Warn("shortage alert emitted",
		"type", kind,
		"order_type", orderType,
		"order", order,
		"product", product,
		"required", required,
		"available", available,
	)
}
