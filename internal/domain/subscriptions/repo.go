package subscriptions

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pratico/magsub/internal/refs"
)

// ErrVersionConflict means the row changed between read and write; re-read
// the subscription and retry the update.
var ErrVersionConflict = errors.New("subscriptions: version conflict")

type Repo struct{ pool *pgxpool.Pool }

func NewRepo(pool *pgxpool.Pool) *Repo { return &Repo{pool: pool} }

func (r *Repo) Create(ctx context.Context, in Subscription) (*Subscription, error) {
	id := refs.Subscription(uuid.NewString())
	row := r.pool.QueryRow(ctx, `
		INSERT INTO subscriptions
		(id, code, status, product, current_order, orders, start_date, renewals_amount, entitlements, version)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,1)
		RETURNING id, code, status, product, current_order, orders, start_date, renewals_amount, entitlements, version, created_at, updated_at
	`, string(id), in.Code, string(in.Status), string(in.Product), string(in.CurrentOrder),
		orderStrings(in.Orders), in.StartDate, in.Renewals, entitlementStrings(in.Entitlements))
	return scanSubscription(row)
}

func (r *Repo) GetByID(ctx context.Context, id refs.Subscription) (*Subscription, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, code, status, product, current_order, orders, start_date, renewals_amount, entitlements, version, created_at, updated_at
		FROM subscriptions WHERE id = $1
	`, string(id))
	sub, err := scanSubscription(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return sub, err
}

func (r *Repo) List(ctx context.Context, status Status) ([]Subscription, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, code, status, product, current_order, orders, start_date, renewals_amount, entitlements, version, created_at, updated_at
		FROM subscriptions
		WHERE status = $1
		ORDER BY code
	`, string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *sub)
	}
	return out, rows.Err()
}

// Update writes the mutable fields guarded by the version the caller read.
// On success the in-memory Version is advanced to match the row.
func (r *Repo) Update(ctx context.Context, s *Subscription) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE subscriptions
		SET status=$2, current_order=$3, orders=$4, renewals_amount=$5, entitlements=$6,
		    version=version+1, updated_at=NOW()
		WHERE id=$1 AND version=$7
	`, string(s.ID), string(s.Status), string(s.CurrentOrder), orderStrings(s.Orders),
		s.Renewals, entitlementStrings(s.Entitlements), s.Version)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrVersionConflict
	}
	s.Version++
	return nil
}

func scanSubscription(row pgx.Row) (*Subscription, error) {
	var s Subscription
	var status string
	var orders, ents []string
	if err := row.Scan(
		&s.ID,
		&s.Code,
		&status,
		&s.Product,
		&s.CurrentOrder,
		&orders,
		&s.StartDate,
		&s.Renewals,
		&ents,
		&s.Version,
		&s.CreatedAt,
		&s.UpdatedAt,
	); err != nil {
		return nil, err
	}
	s.Status = Status(status)
	s.Orders = make([]refs.Order, len(orders))
	for i, o := range orders {
		s.Orders[i] = refs.Order(o)
	}
	s.Entitlements = make([]refs.Entitlement, len(ents))
	for i, e := range ents {
		s.Entitlements[i] = refs.Entitlement(e)
	}
	return &s, nil
}

func orderStrings(in []refs.Order) []string {
	out := make([]string, len(in))
	for i, o := range in {
		out[i] = string(o)
	}
	return out
}

func entitlementStrings(in []refs.Entitlement) []string {
	out := make([]string, len(in))
	for i, e := range in {
		out[i] = string(e)
	}
	return out
}
