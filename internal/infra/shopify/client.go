// Package shopify is the Admin GraphQL client for the catalog side of the
// data: product tags, variant issue-count configuration, order and product
// metafields, customers, and renewal draft orders.
package shopify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/codeGROOVE-dev/retry"

	"github.com/pratico/magsub/internal/engine"
	"github.com/pratico/magsub/internal/refs"
)

// Metafield namespace and keys owned by this app.
const (
	Namespace            = "magsub"
	KeyOrderSubs         = "subscriptions"
	KeyProductIssueList  = "magazine_issues"
	KeyVariantIssueCount = "issue_count"
)

type Client struct {
	log      *slog.Logger
	httpc    *http.Client
	endpoint string
	token    string
}

func NewClient(log *slog.Logger, shop, token, apiVersion string) *Client {
	return &Client{
		log:      log,
		httpc:    &http.Client{Timeout: 15 * time.Second},
		endpoint: fmt.Sprintf("https://%s/admin/api/%s/graphql.json", shop, apiVersion),
		token:    token,
	}
}

type gqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type gqlEnvelope struct {
	Data   json.RawMessage `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

type userError struct {
	Field   []string `json:"field"`
	Message string   `json:"message"`
}

// graphql posts one query and decodes data into out. Network and 5xx/429
// failures are retried with backoff; GraphQL errors are not, they are final.
func (c *Client) graphql(ctx context.Context, query string, vars map[string]any, out any) error {
	body, err := json.Marshal(gqlRequest{Query: query, Variables: vars})
	if err != nil {
		return err
	}

	var envelope gqlEnvelope
	err = retry.Do(
		func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
			if err != nil {
				return retry.Unrecoverable(err)
			}
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set("X-Shopify-Access-Token", c.token)

			resp, err := c.httpc.Do(req)
			if err != nil {
				return err
			}
			defer func() { _ = resp.Body.Close() }()

			raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
			if err != nil {
				return err
			}
			if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
				return fmt.Errorf("admin api status %d", resp.StatusCode)
			}
			if resp.StatusCode != http.StatusOK {
				return retry.Unrecoverable(fmt.Errorf("admin api status %d: %s", resp.StatusCode, raw))
			}
			if err := json.Unmarshal(raw, &envelope); err != nil {
				return retry.Unrecoverable(err)
			}
			return nil
		},
		retry.Attempts(4),
		retry.Delay(200*time.Millisecond),
		retry.MaxDelay(5*time.Second),
		retry.MaxJitter(time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			c.log.Warn("admin api retry", "attempt", n+1, "err", err)
		}),
	)
	if err != nil {
		return err
	}
	if len(envelope.Errors) > 0 {
		return fmt.Errorf("admin api: %s", envelope.Errors[0].Message)
	}
	if out != nil {
		return json.Unmarshal(envelope.Data, out)
	}
	return nil
}

func (c *Client) ProductTags(ctx context.Context, product refs.Product) ([]string, error) {
	var data struct {
		Product *struct {
			Tags []string `json:"tags"`
		} `json:"product"`
	}
	err := c.graphql(ctx, `
		query getProduct($id: ID!) {
			product(id: $id) { id tags }
		}`, map[string]any{"id": string(product)}, &data)
	if err != nil {
		return nil, err
	}
	if data.Product == nil {
		return nil, fmt.Errorf("%w: product %s", engine.ErrNotFound, product)
	}
	return data.Product.Tags, nil
}

// VariantIssueCount reads the variant's configured issue entitlement count.
// A missing or non-positive value is a configuration error, not a transport one.
func (c *Client) VariantIssueCount(ctx context.Context, variant refs.Variant) (int, error) {
	var data struct {
		ProductVariant *struct {
			IssueCount *struct {
				Value string `json:"value"`
			} `json:"issueCount"`
		} `json:"productVariant"`
	}
	err := c.graphql(ctx, fmt.Sprintf(`
		query getVariant($id: ID!) {
			productVariant(id: $id) {
				id
				issueCount: metafield(namespace: %q, key: %q) { value }
			}
		}`, Namespace, KeyVariantIssueCount), map[string]any{"id": string(variant)}, &data)
	if err != nil {
		return 0, err
	}
	if data.ProductVariant == nil {
		return 0, fmt.Errorf("%w: variant %s", engine.ErrNotFound, variant)
	}
	if data.ProductVariant.IssueCount == nil || data.ProductVariant.IssueCount.Value == "" {
		return 0, fmt.Errorf("%w: variant %s has no %s.%s", engine.ErrConfiguration, variant, Namespace, KeyVariantIssueCount)
	}
	var n int
	if _, err := fmt.Sscanf(data.ProductVariant.IssueCount.Value, "%d", &n); err != nil || n <= 0 {
		return 0, fmt.Errorf("%w: variant %s issue_count %q", engine.ErrConfiguration, variant, data.ProductVariant.IssueCount.Value)
	}
	return n, nil
}

func (c *Client) OrderSubscriptions(ctx context.Context, order refs.Order) ([]refs.Subscription, error) {
	var data struct {
		Order *struct {
			Metafield *struct {
				Value string `json:"value"`
			} `json:"metafield"`
		} `json:"order"`
	}
	err := c.graphql(ctx, fmt.Sprintf(`
		query getOrder($id: ID!) {
			order(id: $id) {
				id
				metafield(namespace: %q, key: %q) { value }
			}
		}`, Namespace, KeyOrderSubs), map[string]any{"id": string(order)}, &data)
	if err != nil {
		return nil, err
	}
	if data.Order == nil || data.Order.Metafield == nil || data.Order.Metafield.Value == "" {
		return nil, nil
	}
	var ids []string
	if err := json.Unmarshal([]byte(data.Order.Metafield.Value), &ids); err != nil {
		c.log.Warn("unparseable order subscriptions metafield", "order", order, "err", err)
		return nil, nil
	}
	out := make([]refs.Subscription, len(ids))
	for i, id := range ids {
		out[i] = refs.Subscription(id)
	}
	return out, nil
}

func (c *Client) SetOrderSubscriptions(ctx context.Context, order refs.Order, subs []refs.Subscription) error {
	ids := make([]string, len(subs))
	for i, s := range subs {
		ids[i] = string(s)
	}
	value, err := json.Marshal(ids)
	if err != nil {
		return err
	}
	return c.metafieldsSet(ctx, string(order), KeyOrderSubs, string(value))
}

func (c *Client) ProductIssueList(ctx context.Context, product refs.Product) ([]refs.Issue, error) {
	var data struct {
		Product *struct {
			Metafield *struct {
				Value string `json:"value"`
			} `json:"metafield"`
		} `json:"product"`
	}
	err := c.graphql(ctx, fmt.Sprintf(`
		query getProductIssues($id: ID!) {
			product(id: $id) {
				id
				metafield(namespace: %q, key: %q) { value }
			}
		}`, Namespace, KeyProductIssueList), map[string]any{"id": string(product)}, &data)
	if err != nil {
		return nil, err
	}
	if data.Product == nil {
		return nil, fmt.Errorf("%w: product %s", engine.ErrNotFound, product)
	}
	if data.Product.Metafield == nil || data.Product.Metafield.Value == "" {
		return nil, nil
	}
	var ids []string
	if err := json.Unmarshal([]byte(data.Product.Metafield.Value), &ids); err != nil {
		c.log.Warn("unparseable product issue list", "product", product, "err", err)
		return nil, nil
	}
	out := make([]refs.Issue, len(ids))
	for i, id := range ids {
		out[i] = refs.Issue(id)
	}
	return out, nil
}

func (c *Client) SetProductIssueList(ctx context.Context, product refs.Product, list []refs.Issue) error {
	ids := make([]string, len(list))
	for i, iss := range list {
		ids[i] = string(iss)
	}
	value, err := json.Marshal(ids)
	if err != nil {
		return err
	}
	return c.metafieldsSet(ctx, string(product), KeyProductIssueList, string(value))
}

func (c *Client) metafieldsSet(ctx context.Context, ownerID, key, value string) error {
	var data struct {
		MetafieldsSet struct {
			UserErrors []userError `json:"userErrors"`
		} `json:"metafieldsSet"`
	}
	err := c.graphql(ctx, `
		mutation setMetafield($metafields: [MetafieldsSetInput!]!) {
			metafieldsSet(metafields: $metafields) {
				metafields { id }
				userErrors { field message }
			}
		}`, map[string]any{
		"metafields": []map[string]any{{
			"ownerId":   ownerID,
			"namespace": Namespace,
			"key":       key,
			"type":      "json",
			"value":     value,
		}},
	}, &data)
	if err != nil {
		return err
	}
	if len(data.MetafieldsSet.UserErrors) > 0 {
		return fmt.Errorf("metafieldsSet: %s", data.MetafieldsSet.UserErrors[0].Message)
	}
	return nil
}

// ProductsReferencingIssue finds every product whose issue-list metafield
// currently contains the issue. Paged through in full; the caller never sees
// cursors.
func (c *Client) ProductsReferencingIssue(ctx context.Context, issue refs.Issue) ([]refs.Product, error) {
	var out []refs.Product
	var cursor *string
	for {
		var data struct {
			Products struct {
				Edges []struct {
					Node struct {
						ID string `json:"id"`
					} `json:"node"`
				} `json:"edges"`
				PageInfo struct {
					HasNextPage bool   `json:"hasNextPage"`
					EndCursor   string `json:"endCursor"`
				} `json:"pageInfo"`
			} `json:"products"`
		}
		err := c.graphql(ctx, `
			query searchProducts($query: String!, $cursor: String) {
				products(first: 250, query: $query, after: $cursor) {
					edges { node { id } }
					pageInfo { hasNextPage endCursor }
				}
			}`, map[string]any{
			"query":  fmt.Sprintf("metafields.%s.%s:%s", Namespace, KeyProductIssueList, issue),
			"cursor": cursor,
		}, &data)
		if err != nil {
			return nil, err
		}
		for _, edge := range data.Products.Edges {
			out = append(out, refs.Product(edge.Node.ID))
		}
		if !data.Products.PageInfo.HasNextPage {
			return out, nil
		}
		end := data.Products.PageInfo.EndCursor
		cursor = &end
	}
}

// CustomerInfo is the slice of customer data the shipping list needs.
type CustomerInfo struct {
	ID          refs.Customer
	DisplayName string
	Email       string
	Address1    string
	City        string
	Zip         string
	Country     string
}

func (c *Client) Customer(ctx context.Context, customer refs.Customer) (*CustomerInfo, error) {
	var data struct {
		Customer *struct {
			ID             string `json:"id"`
			DisplayName    string `json:"displayName"`
			Email          string `json:"email"`
			DefaultAddress *struct {
				Address1 string `json:"address1"`
				City     string `json:"city"`
				Zip      string `json:"zip"`
				Country  string `json:"country"`
			} `json:"defaultAddress"`
		} `json:"customer"`
	}
	err := c.graphql(ctx, `
		query getCustomer($id: ID!) {
			customer(id: $id) {
				id displayName email
				defaultAddress { address1 city zip country }
			}
		}`, map[string]any{"id": string(customer)}, &data)
	if err != nil {
		return nil, err
	}
	if data.Customer == nil {
		return nil, fmt.Errorf("%w: customer %s", engine.ErrNotFound, customer)
	}
	info := &CustomerInfo{
		ID:          refs.Customer(data.Customer.ID),
		DisplayName: data.Customer.DisplayName,
		Email:       data.Customer.Email,
	}
	if a := data.Customer.DefaultAddress; a != nil {
		info.Address1, info.City, info.Zip, info.Country = a.Address1, a.City, a.Zip, a.Country
	}
	return info, nil
}

// VariantInfo backs the renewal-order staff screen.
type VariantInfo struct {
	ID         refs.Variant `json:"id"`
	Title      string       `json:"title"`
	Price      string       `json:"price"`
	Product    refs.Product `json:"product"`
	IssueCount string       `json:"issueCount"`
}

func (c *Client) ProductVariants(ctx context.Context, product refs.Product) ([]VariantInfo, error) {
	var data struct {
		Product *struct {
			Variants struct {
				Edges []struct {
					Node struct {
						ID         string `json:"id"`
						Title      string `json:"title"`
						Price      string `json:"price"`
						IssueCount *struct {
							Value string `json:"value"`
						} `json:"issueCount"`
					} `json:"node"`
				} `json:"edges"`
			} `json:"variants"`
		} `json:"product"`
	}
	err := c.graphql(ctx, fmt.Sprintf(`
		query getVariants($id: ID!) {
			product(id: $id) {
				id
				variants(first: 50) {
					edges {
						node {
							id title price
							issueCount: metafield(namespace: %q, key: %q) { value }
						}
					}
				}
			}
		}`, Namespace, KeyVariantIssueCount), map[string]any{"id": string(product)}, &data)
	if err != nil {
		return nil, err
	}
	if data.Product == nil {
		return nil, fmt.Errorf("%w: product %s", engine.ErrNotFound, product)
	}
	var out []VariantInfo
	for _, edge := range data.Product.Variants.Edges {
		v := VariantInfo{
			ID:      refs.Variant(edge.Node.ID),
			Title:   edge.Node.Title,
			Price:   edge.Node.Price,
			Product: product,
		}
		if edge.Node.IssueCount != nil {
			v.IssueCount = edge.Node.IssueCount.Value
		}
		out = append(out, v)
	}
	return out, nil
}

// VariantProduct returns the product a variant belongs to; the renewal flow
// uses it to reject variants from another product.
func (c *Client) VariantProduct(ctx context.Context, variant refs.Variant) (refs.Product, error) {
	var data struct {
		ProductVariant *struct {
			Product struct {
				ID string `json:"id"`
			} `json:"product"`
		} `json:"productVariant"`
	}
	err := c.graphql(ctx, `
		query getVariantProduct($id: ID!) {
			productVariant(id: $id) { id product { id } }
		}`, map[string]any{"id": string(variant)}, &data)
	if err != nil {
		return "", err
	}
	if data.ProductVariant == nil {
		return "", fmt.Errorf("%w: variant %s", engine.ErrNotFound, variant)
	}
	return refs.Product(data.ProductVariant.Product.ID), nil
}

// CreateRenewalOrder creates and completes a draft order for one variant, then
// tags the resulting order with the subscription so the orders/paid webhook
// recognizes it as a renewal. Returns the new order ref and its display name.
func (c *Client) CreateRenewalOrder(ctx context.Context, customer refs.Customer, variant refs.Variant, sub refs.Subscription) (refs.Order, string, error) {
	var created struct {
		DraftOrderCreate struct {
			DraftOrder *struct {
				ID string `json:"id"`
			} `json:"draftOrder"`
			UserErrors []userError `json:"userErrors"`
		} `json:"draftOrderCreate"`
	}
	err := c.graphql(ctx, `
		mutation draftOrderCreate($input: DraftOrderInput!) {
			draftOrderCreate(input: $input) {
				draftOrder { id }
				userErrors { field message }
			}
		}`, map[string]any{
		"input": map[string]any{
			"customerId": string(customer),
			"lineItems":  []map[string]any{{"variantId": string(variant), "quantity": 1}},
		},
	}, &created)
	if err != nil {
		return "", "", err
	}
	if len(created.DraftOrderCreate.UserErrors) > 0 {
		return "", "", fmt.Errorf("draftOrderCreate: %s", created.DraftOrderCreate.UserErrors[0].Message)
	}
	if created.DraftOrderCreate.DraftOrder == nil {
		return "", "", fmt.Errorf("draftOrderCreate: no draft order returned")
	}

	var completed struct {
		DraftOrderComplete struct {
			DraftOrder *struct {
				Order *struct {
					ID   string `json:"id"`
					Name string `json:"name"`
				} `json:"order"`
			} `json:"draftOrder"`
			UserErrors []userError `json:"userErrors"`
		} `json:"draftOrderComplete"`
	}
	err = c.graphql(ctx, `
		mutation draftOrderComplete($id: ID!) {
			draftOrderComplete(id: $id) {
				draftOrder { id order { id name } }
				userErrors { field message }
			}
		}`, map[string]any{"id": created.DraftOrderCreate.DraftOrder.ID}, &completed)
	if err != nil {
		return "", "", err
	}
	if len(completed.DraftOrderComplete.UserErrors) > 0 {
		return "", "", fmt.Errorf("draftOrderComplete: %s", completed.DraftOrderComplete.UserErrors[0].Message)
	}
	draft := completed.DraftOrderComplete.DraftOrder
	if draft == nil || draft.Order == nil {
		return "", "", fmt.Errorf("draftOrderComplete: completed order missing")
	}

	order := refs.Order(draft.Order.ID)
	// Draft order metafields do not carry over; the tag goes on the order itself.
	if err := c.SetOrderSubscriptions(ctx, order, []refs.Subscription{sub}); err != nil {
		return order, draft.Order.Name, fmt.Errorf("tag renewal order: %w", err)
	}
	return order, draft.Order.Name, nil
}
