package issues

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pratico/magsub/internal/refs"
)

type Repo struct{ pool *pgxpool.Pool }

func NewRepo(pool *pgxpool.Pool) *Repo { return &Repo{pool: pool} }

func (r *Repo) Create(ctx context.Context, in Issue) (*Issue, error) {
	id := refs.Issue(uuid.NewString())
	row := r.pool.QueryRow(ctx, `
		INSERT INTO magazine_issues (id, title, publication_code, export_date, status, associated_products)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING id, title, publication_code, export_date, status, associated_products, created_at, updated_at
	`, string(id), in.Title, in.PublicationCode, in.ExportDate, string(in.Status), productStrings(in.AssociatedProducts))
	return scanIssue(row)
}

func (r *Repo) GetByID(ctx context.Context, id refs.Issue) (*Issue, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, title, publication_code, export_date, status, associated_products, created_at, updated_at
		FROM magazine_issues WHERE id = $1
	`, string(id))
	iss, err := scanIssue(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return iss, err
}

// List pages issues by id so callers can walk the full set without
// holding it in one query. afterID = "" starts from the beginning.
func (r *Repo) List(ctx context.Context, afterID refs.Issue, limit int) ([]Issue, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, title, publication_code, export_date, status, associated_products, created_at, updated_at
		FROM magazine_issues
		WHERE id > $1
		ORDER BY id
		LIMIT $2
	`, string(afterID), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectIssues(rows)
}

// ListByProduct returns every issue whose associated_products contains the product.
func (r *Repo) ListByProduct(ctx context.Context, product refs.Product) ([]Issue, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, title, publication_code, export_date, status, associated_products, created_at, updated_at
		FROM magazine_issues
		WHERE $1 = ANY(associated_products)
		ORDER BY id
	`, string(product))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectIssues(rows)
}

func (r *Repo) Update(ctx context.Context, id refs.Issue, title, code string, exportDate time.Time, status Status) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE magazine_issues
		SET title=$2, publication_code=$3, export_date=$4, status=$5, updated_at=NOW()
		WHERE id=$1
	`, string(id), title, code, exportDate, string(status))
	return err
}

func (r *Repo) SetAssociatedProducts(ctx context.Context, id refs.Issue, products []refs.Product) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE magazine_issues SET associated_products=$2, updated_at=NOW() WHERE id=$1
	`, string(id), productStrings(products))
	return err
}

// AddAssociatedProduct is a no-op when the product is already present.
func (r *Repo) AddAssociatedProduct(ctx context.Context, id refs.Issue, product refs.Product) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE magazine_issues
		SET associated_products = array_append(associated_products, $2), updated_at=NOW()
		WHERE id=$1 AND NOT ($2 = ANY(associated_products))
	`, string(id), string(product))
	return err
}

func (r *Repo) RemoveAssociatedProduct(ctx context.Context, id refs.Issue, product refs.Product) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE magazine_issues
		SET associated_products = array_remove(associated_products, $2), updated_at=NOW()
		WHERE id=$1 AND $2 = ANY(associated_products)
	`, string(id), string(product))
	return err
}

func scanIssue(row pgx.Row) (*Issue, error) {
	var iss Issue
	var status string
	var products []string
	if err := row.Scan(
		&iss.ID,
		&iss.Title,
		&iss.PublicationCode,
		&iss.ExportDate,
		&status,
		&products,
		&iss.CreatedAt,
		&iss.UpdatedAt,
	); err != nil {
		return nil, err
	}
	iss.Status = Status(status)
	iss.AssociatedProducts = productRefs(products)
	return &iss, nil
}

func collectIssues(rows pgx.Rows) ([]Issue, error) {
	var out []Issue
	for rows.Next() {
		iss, err := scanIssue(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *iss)
	}
	return out, rows.Err()
}

func productStrings(in []refs.Product) []string {
	out := make([]string, len(in))
	for i, p := range in {
		out[i] = string(p)
	}
	return out
}

func productRefs(in []string) []refs.Product {
	out := make([]refs.Product, len(in))
	for i, p := range in {
		out[i] = refs.Product(p)
	}
	return out
}
