package engine

import (
	"context"

	"github.com/pratico/magsub/internal/domain/entitlements"
	"github.com/pratico/magsub/internal/metrics"
	"github.com/pratico/magsub/internal/refs"
)

// allocate creates one Active entitlement per issue, best effort: a rejected
// create is logged and the remaining issues are still attempted. The returned
// refs are the successful ones, in input order — callers must size follow-up
// subscription updates on this result, not on the requested count.
func (e *Engine) allocate(ctx context.Context, customer refs.Customer, issueRefs []refs.Issue, order refs.Order, sub refs.Subscription) []refs.Entitlement {
	var created []refs.Entitlement
	for _, issue := range issueRefs {
		ent, err := e.entitlements.Create(ctx, entitlements.Entitlement{
			Customer:     customer,
			Issue:        issue,
			SourceOrder:  order,
			Status:       entitlements.StatusActive,
			Subscription: sub,
		})
		if err != nil {
			metrics.AllocationFailures.Inc()
			e.log.Error("entitlement create failed",
				"issue", issue,
				"order", order,
				"err", err,
			)
			continue
		}
		metrics.EntitlementsAllocated.Inc()
		created = append(created, ent.ID)
	}
	if len(created) < len(issueRefs) {
		e.log.Warn("allocation incomplete",
			"order", order,
			"requested", len(issueRefs),
			"created", len(created),
		)
	}
	return created
}
