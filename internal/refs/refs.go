// Package refs holds the typed reference kinds used across the engine and stores.
// Shopify-owned entities carry admin GIDs ("gid://shopify/Product/123");
// app-owned records carry the ids minted by their repos. A ref is opaque:
// the engine only ever compares and round-trips them.
package refs

import "fmt"

type (
	Product      string
	Variant      string
	Customer     string
	Order        string
	Issue        string
	Entitlement  string
	Subscription string
	Alert        string
)

func (r Product) String() string      { return string(r) }
func (r Variant) String() string      { return string(r) }
func (r Customer) String() string     { return string(r) }
func (r Order) String() string        { return string(r) }
func (r Issue) String() string        { return string(r) }
func (r Entitlement) String() string  { return string(r) }
func (r Subscription) String() string { return string(r) }
func (r Alert) String() string        { return string(r) }

// Shopify webhook payloads carry bare numeric ids; the Admin API wants GIDs.

func ProductGID(id int64) Product   { return Product(fmt.Sprintf("gid://shopify/Product/%d", id)) }
func VariantGID(id int64) Variant   { return Variant(fmt.Sprintf("gid://shopify/ProductVariant/%d", id)) }
func CustomerGID(id int64) Customer { return Customer(fmt.Sprintf("gid://shopify/Customer/%d", id)) }
func OrderGID(id int64) Order       { return Order(fmt.Sprintf("gid://shopify/Order/%d", id)) }

// ProductSet is the membership view the synchronizer works with.
type ProductSet map[Product]struct{}

func NewProductSet(in []Product) ProductSet {
	s := make(ProductSet, len(in))
	for _, p := range in {
		s[p] = struct{}{}
	}
	return s
}

func (s ProductSet) Has(p Product) bool { _, ok := s[p]; return ok }

type IssueSet map[Issue]struct{}

func NewIssueSet(in []Issue) IssueSet {
	s := make(IssueSet, len(in))
	for _, i := range in {
		s[i] = struct{}{}
	}
	return s
}

func (s IssueSet) Has(i Issue) bool { _, ok := s[i]; return ok }
