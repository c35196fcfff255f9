package entitlements

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pratico/magsub/internal/refs"
)

type Repo struct{ pool *pgxpool.Pool }

func NewRepo(pool *pgxpool.Pool) *Repo { return &Repo{pool: pool} }

func (r *Repo) Create(ctx context.Context, in Entitlement) (*Entitlement, error) {
	id := refs.Entitlement(uuid.NewString())
	var sub *string
	if in.Subscription != "" {
		s := string(in.Subscription)
		sub = &s
	}
	row := r.pool.QueryRow(ctx, `
		INSERT INTO issue_entitlements (id, customer, magazine_issue, source_order, status, subscription)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING id, customer, magazine_issue, source_order, status, subscription, created_at, updated_at
	`, string(id), string(in.Customer), string(in.Issue), string(in.SourceOrder), string(in.Status), sub)
	return scanEntitlement(row)
}

func (r *Repo) GetByID(ctx context.Context, id refs.Entitlement) (*Entitlement, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, customer, magazine_issue, source_order, status, subscription, created_at, updated_at
		FROM issue_entitlements WHERE id = $1
	`, string(id))
	ent, err := scanEntitlement(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return ent, err
}

// AttachSubscription back-links an entitlement to the subscription it was
// allocated for. source_order is deliberately untouched.
func (r *Repo) AttachSubscription(ctx context.Context, id refs.Entitlement, sub refs.Subscription) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE issue_entitlements SET subscription=$2, updated_at=NOW() WHERE id=$1
	`, string(id), string(sub))
	return err
}

// IssueRefs resolves the issue each listed entitlement points at. Used by the
// renewal path to exclude already-granted issues from selection.
func (r *Repo) IssueRefs(ctx context.Context, ids []refs.Entitlement) ([]refs.Issue, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	in := make([]string, len(ids))
	for i, id := range ids {
		in[i] = string(id)
	}
	rows, err := r.pool.Query(ctx, `
		SELECT magazine_issue FROM issue_entitlements WHERE id = ANY($1)
	`, in)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []refs.Issue
	for rows.Next() {
		var iss string
		if err := rows.Scan(&iss); err != nil {
			return nil, err
		}
		out = append(out, refs.Issue(iss))
	}
	return out, rows.Err()
}

// ListByIssue pages through entitlements of one issue, filtered by status.
func (r *Repo) ListByIssue(ctx context.Context, issue refs.Issue, status Status, afterID refs.Entitlement, limit int) ([]Entitlement, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, customer, magazine_issue, source_order, status, subscription, created_at, updated_at
		FROM issue_entitlements
		WHERE magazine_issue=$1 AND status=$2 AND id > $3
		ORDER BY id
		LIMIT $4
	`, string(issue), string(status), string(afterID), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Entitlement
	for rows.Next() {
		ent, err := scanEntitlement(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *ent)
	}
	return out, rows.Err()
}

func scanEntitlement(row pgx.Row) (*Entitlement, error) {
	var e Entitlement
	var status string
	var sub *string
	if err := row.Scan(
		&e.ID,
		&e.Customer,
		&e.Issue,
		&e.SourceOrder,
		&status,
		&sub,
		&e.CreatedAt,
		&e.UpdatedAt,
	); err != nil {
		return nil, err
	}
	e.Status = Status(status)
	if sub != nil {
		e.Subscription = refs.Subscription(*sub)
	}
	return &e, nil
}
