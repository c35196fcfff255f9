package engine

import (
	"context"
	"sort"
	"time"

	"github.com/pratico/magsub/internal/domain/issues"
	"github.com/pratico/magsub/internal/refs"
)

// issuePageSize mirrors the Admin API page cap the original store imposed.
const issuePageSize = 250

// selectEligibleIssues returns the next n unsent future issues of a product,
// earliest export date first, excluding issues the subscription already holds.
// The result may be shorter than n; the caller decides whether that is a
// shortage. Ties on export date fall back to id order so repeated runs pick
// the same issues.
func (e *Engine) selectEligibleIssues(ctx context.Context, product refs.Product, excluded refs.IssueSet, n int) ([]refs.Issue, error) {
	now := e.now()

	var eligible []issues.Issue
	var after refs.Issue
	for {
		page, err := e.issues.List(ctx, after, issuePageSize)
		if err != nil {
			return nil, err
		}
		for _, iss := range page {
			if eligibleIssue(iss, product, excluded, now) {
				eligible = append(eligible, iss)
			}
		}
		if len(page) < issuePageSize {
			break
		}
		after = page[len(page)-1].ID
	}

	sort.Slice(eligible, func(i, j int) bool {
		if !eligible[i].ExportDate.Equal(eligible[j].ExportDate) {
			return eligible[i].ExportDate.Before(eligible[j].ExportDate)
		}
		return eligible[i].ID < eligible[j].ID
	})

	if len(eligible) > n {
		eligible = eligible[:n]
	}
	out := make([]refs.Issue, len(eligible))
	for i, iss := range eligible {
		out[i] = iss.ID
	}
	return out, nil
}

// Both exclusions are applied on their own: a Sent issue stays ineligible even
// with a future export date, and a Planned issue past its date stays
// ineligible too.
func eligibleIssue(iss issues.Issue, product refs.Product, excluded refs.IssueSet, now time.Time) bool {
	if iss.Status == issues.StatusSent {
		return false
	}
	if !iss.ExportDate.After(now) {
		return false
	}
	if excluded.Has(iss.ID) {
		return false
	}
	for _, p := range iss.AssociatedProducts {
		if p == product {
			return true
		}
	}
	return false
}
