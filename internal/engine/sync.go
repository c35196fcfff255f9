package engine

import (
	"context"
	"fmt"

	"github.com/pratico/magsub/internal/refs"
)

// SyncIssueProducts reconciles the product side of the association after an
// issue's associated-products list changed. It is a full pass over both the
// new list and the products currently pointing back at the issue, so webhook
// redeliveries converge to the same state: membership is checked before every
// mutation and a second run with no change makes no writes.
func (e *Engine) SyncIssueProducts(ctx context.Context, issue refs.Issue, newProducts []refs.Product) error {
	iss, err := e.issues.GetByID(ctx, issue)
	if err != nil {
		return err
	}
	if iss == nil {
		return fmt.Errorf("%w: issue %s", ErrNotFound, issue)
	}

	keep := refs.NewProductSet(newProducts)

	for _, product := range newProducts {
		list, err := e.catalog.ProductIssueList(ctx, product)
		if err != nil {
			e.log.Error("product issue list read failed", "product", product, "err", err)
			continue
		}
		if containsIssue(list, issue) {
			continue
		}
		if err := e.catalog.SetProductIssueList(ctx, product, append(list, issue)); err != nil {
			e.log.Error("product issue list update failed", "product", product, "err", err)
			continue
		}
		e.log.Info("issue added to product", "issue", issue, "product", product)
	}

	// Products that still point at this issue but left the new list.
	referencing, err := e.catalog.ProductsReferencingIssue(ctx, issue)
	if err != nil {
		return fmt.Errorf("reverse product lookup: %w", err)
	}
	for _, product := range referencing {
		if keep.Has(product) {
			continue
		}
		list, err := e.catalog.ProductIssueList(ctx, product)
		if err != nil {
			e.log.Error("product issue list read failed", "product", product, "err", err)
			continue
		}
		trimmed := removeIssue(list, issue)
		if len(trimmed) == len(list) {
			continue
		}
		if err := e.catalog.SetProductIssueList(ctx, product, trimmed); err != nil {
			e.log.Error("product issue list update failed", "product", product, "err", err)
			continue
		}
		e.log.Info("issue removed from product", "issue", issue, "product", product)
	}
	return nil
}

// SyncProductIssues is the symmetric pass after a product's magazine-issues
// list changed: issues newly listed gain the product in their associated set,
// issues no longer listed lose it.
func (e *Engine) SyncProductIssues(ctx context.Context, product refs.Product, newIssues []refs.Issue) error {
	keep := refs.NewIssueSet(newIssues)

	for _, issue := range newIssues {
		iss, err := e.issues.GetByID(ctx, issue)
		if err != nil {
			e.log.Error("issue read failed", "issue", issue, "err", err)
			continue
		}
		if iss == nil {
			e.log.Warn("product references unknown issue", "product", product, "issue", issue)
			continue
		}
		if err := e.issues.AddAssociatedProduct(ctx, issue, product); err != nil {
			e.log.Error("issue association add failed", "issue", issue, "product", product, "err", err)
		}
	}

	linked, err := e.issues.ListByProduct(ctx, product)
	if err != nil {
		return fmt.Errorf("reverse issue lookup: %w", err)
	}
	for _, iss := range linked {
		if keep.Has(iss.ID) {
			continue
		}
		if err := e.issues.RemoveAssociatedProduct(ctx, iss.ID, product); err != nil {
			e.log.Error("issue association remove failed", "issue", iss.ID, "product", product, "err", err)
			continue
		}
		e.log.Info("product removed from issue", "issue", iss.ID, "product", product)
	}
	return nil
}

func containsIssue(list []refs.Issue, issue refs.Issue) bool {
	for _, i := range list {
		if i == issue {
			return true
		}
	}
	return false
}

func removeIssue(list []refs.Issue, issue refs.Issue) []refs.Issue {
	out := list[:0:0]
	for _, i := range list {
		if i != issue {
			out = append(out, i)
		}
	}
	return out
}
