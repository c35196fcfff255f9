package alerts

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pratico/magsub/internal/refs"
)

// ErrNotUnresolved means the alert was already resolved or ignored.
var ErrNotUnresolved = errors.New("alerts: alert is not unresolved")

type Repo struct{ pool *pgxpool.Pool }

func NewRepo(pool *pgxpool.Pool) *Repo { return &Repo{pool: pool} }

func (r *Repo) Create(ctx context.Context, in Alert) (*Alert, error) {
	id := refs.Alert(uuid.NewString())
	var sub *string
	if in.Subscription != "" {
		s := string(in.Subscription)
		sub = &s
	}
	row := r.pool.QueryRow(ctx, `
		INSERT INTO issue_alerts
		(id, alert_type, order_type, order_ref, customer, product, subscription, required_issues, available_issues, alert_date, status)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		RETURNING id, alert_type, order_type, order_ref, customer, product, subscription, required_issues, available_issues, alert_date, status, created_at, updated_at
	`, string(id), string(in.Kind), string(in.OrderType), string(in.Order), string(in.Customer),
		string(in.Product), sub, in.Required, in.Available, in.AlertDate, string(StatusUnresolved))
	return scanAlert(row)
}

func (r *Repo) List(ctx context.Context) ([]Alert, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, alert_type, order_type, order_ref, customer, product, subscription, required_issues, available_issues, alert_date, status, created_at, updated_at
		FROM issue_alerts
		ORDER BY alert_date DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// SetStatus moves an unresolved alert to Resolved or Ignored. Any other
// transition is rejected.
func (r *Repo) SetStatus(ctx context.Context, id refs.Alert, status Status) error {
	if status != StatusResolved && status != StatusIgnored {
		return ErrNotUnresolved
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE issue_alerts SET status=$2, updated_at=NOW()
		WHERE id=$1 AND status=$3
	`, string(id), string(status), string(StatusUnresolved))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotUnresolved
	}
	return nil
}

func scanAlert(row pgx.Row) (*Alert, error) {
	var a Alert
	var kind, orderType, status string
	var sub *string
	if err := row.Scan(
		&a.ID,
		&kind,
		&orderType,
		&a.Order,
		&a.Customer,
		&a.Product,
		&sub,
		&a.Required,
		&a.Available,
		&a.AlertDate,
		&status,
		&a.CreatedAt,
		&a.UpdatedAt,
	); err != nil {
		return nil, err
	}
	a.Kind = Kind(kind)
	a.OrderType = OrderType(orderType)
	a.Status = Status(status)
	if sub != nil {
		a.Subscription = refs.Subscription(*sub)
	}
	return &a, nil
}
