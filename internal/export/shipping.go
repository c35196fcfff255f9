// Package export builds the staff-facing shipping list for one magazine issue.
package export

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/xuri/excelize/v2"

	"github.com/pratico/magsub/internal/domain/entitlements"
	"github.com/pratico/magsub/internal/domain/issues"
	"github.com/pratico/magsub/internal/engine"
	"github.com/pratico/magsub/internal/infra/shopify"
	"github.com/pratico/magsub/internal/refs"
)

const entitlementPageSize = 250

type IssueGetter interface {
	GetByID(ctx context.Context, id refs.Issue) (*issues.Issue, error)
}

type EntitlementLister interface {
	ListByIssue(ctx context.Context, issue refs.Issue, status entitlements.Status, afterID refs.Entitlement, limit int) ([]entitlements.Entitlement, error)
}

type CustomerDirectory interface {
	Customer(ctx context.Context, customer refs.Customer) (*shopify.CustomerInfo, error)
}

type Builder struct {
	log          *slog.Logger
	issues       IssueGetter
	entitlements EntitlementLister
	customers    CustomerDirectory
}

func NewBuilder(log *slog.Logger, ig IssueGetter, el EntitlementLister, cd CustomerDirectory) *Builder {
	return &Builder{log: log, issues: ig, entitlements: el, customers: cd}
}

// ShippingList collects every Active entitlement of the issue and writes one
// row per customer. Customers the directory cannot resolve get a placeholder
// row instead of dropping the entitlement from the list.
func (b *Builder) ShippingList(ctx context.Context, issue refs.Issue) (*excelize.File, error) {
	iss, err := b.issues.GetByID(ctx, issue)
	if err != nil {
		return nil, err
	}
	if iss == nil {
		return nil, fmt.Errorf("%w: issue %s", engine.ErrNotFound, issue)
	}

	f := excelize.NewFile()
	sheet := f.GetSheetName(f.GetActiveSheetIndex())

	header := []interface{}{
		"customer",
		"email",
		"address",
		"city",
		"zip",
		"country",
		"source_order",
		"entitlement_id",
	}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		_ = f.Close()
		return nil, err
	}

	row := 2
	var after refs.Entitlement
	for {
		page, err := b.entitlements.ListByIssue(ctx, issue, entitlements.StatusActive, after, entitlementPageSize)
		if err != nil {
			_ = f.Close()
			return nil, err
		}
		for _, ent := range page {
			name, email, addr, city, zip, country := "", "", "", "", "", ""
			info, err := b.customers.Customer(ctx, ent.Customer)
			if err != nil {
				b.log.Warn("customer lookup failed", "customer", ent.Customer, "err", err)
				name = string(ent.Customer)
			} else {
				name, email = info.DisplayName, info.Email
				addr, city, zip, country = info.Address1, info.City, info.Zip, info.Country
			}
			cell, err := excelize.CoordinatesToCellName(1, row)
			if err != nil {
				_ = f.Close()
				return nil, err
			}
			values := []interface{}{name, email, addr, city, zip, country, string(ent.SourceOrder), string(ent.ID)}
			if err := f.SetSheetRow(sheet, cell, &values); err != nil {
				_ = f.Close()
				return nil, err
			}
			row++
		}
		if len(page) < entitlementPageSize {
			break
		}
		after = page[len(page)-1].ID
	}

	b.log.Info("shipping list built", "issue", issue, "title", iss.Title, "rows", row-2)
	return f, nil
}
