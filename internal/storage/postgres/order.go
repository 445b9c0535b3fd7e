package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/kart-marketplace/internal/domain/apperr"
	"github.com/xenking/kart-marketplace/internal/domain/order"
)

// Orders implements order.Repository.
type Orders struct {
	s *Store
}

var _ order.Repository = (*Orders)(nil)

// Orders returns the order view of the store.
func (s *Store) Orders() *Orders {
	return &Orders{s: s}
}

const orderColumns = `id, number, user_id, address_id,
	ship_full_name, ship_line1, ship_line2, ship_city, ship_state, ship_postal_code, ship_country, ship_phone,
	coupon_id, coupon_code, subtotal, discount, tax, total, payment_status, status,
	tracking_number, shipped_at, delivered_at, created_at, updated_at, deleted_at`

func scanOrder(row pgx.Row) (order.Order, error) {
	var (
		o        order.Order
		couponID *string
		payment  string
		status   string
	)
	a := &o.ShippingAddress
	err := row.Scan(&o.ID, &o.Number, &o.UserID, &o.AddressID,
		&a.FullName, &a.Line1, &a.Line2, &a.City, &a.State, &a.PostalCode, &a.Country, &a.Phone,
		&couponID, &o.CouponCode, &o.Subtotal, &o.Discount, &o.Tax, &o.Total, &payment, &status,
		&o.TrackingNumber, &o.ShippedAt, &o.DeliveredAt, &o.CreatedAt, &o.UpdatedAt, &o.DeletedAt)
	if couponID != nil {
		o.CouponID = *couponID
	}
	o.PaymentStatus = order.PaymentStatus(payment)
	o.Status = order.Status(status)
	return o, err
}

// Create inserts the order and its lines in one transaction. A duplicate
// number yields order.ErrNumberTaken.
func (r *Orders) Create(ctx context.Context, o *order.Order) error {
	if len(o.Lines) == 0 {
		return errors.New("order has no lines")
	}
	return r.s.RunInTx(ctx, func(ctx context.Context) error {
		q := r.s.conn(ctx)
		a := o.ShippingAddress
		var couponID *string
		if o.CouponID != "" {
			couponID = &o.CouponID
		}
		_, err := q.Exec(ctx, `
			INSERT INTO orders (`+orderColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
				$15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25, NULL)`,
			o.ID, o.Number, o.UserID, o.AddressID,
			a.FullName, a.Line1, a.Line2, a.City, a.State, a.PostalCode, a.Country, a.Phone,
			couponID, o.CouponCode, o.Subtotal, o.Discount, o.Tax, o.Total,
			string(o.PaymentStatus), string(o.Status),
			o.TrackingNumber, o.ShippedAt, o.DeliveredAt, o.CreatedAt, o.UpdatedAt)
		if err != nil {
			if uniqueViolation(err, "orders_number_key") {
				return order.ErrNumberTaken
			}
			return fmt.Errorf("inserting order %q: %w", o.ID, err)
		}

		batch := &pgx.Batch{}
		for i, l := range o.Lines {
			batch.Queue(`
				INSERT INTO order_lines (id, order_id, position, product_id, product_name, seller_id,
					quantity, unit_price, discount, total)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
				l.ID, o.ID, i, l.ProductID, l.ProductName, l.SellerID,
				l.Quantity, l.UnitPrice, l.Discount, l.Total)
		}
		if err := q.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("inserting lines of order %q: %w", o.ID, err)
		}
		return nil
	})
}

func (r *Orders) Get(ctx context.Context, id string) (*order.Order, error) {
	return r.get(ctx, id, "")
}

func (r *Orders) GetForUpdate(ctx context.Context, id string) (*order.Order, error) {
	return r.get(ctx, id, " FOR UPDATE")
}

func (r *Orders) get(ctx context.Context, id, lock string) (*order.Order, error) {
	o, err := scanOrder(r.s.conn(ctx).QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1 AND deleted_at IS NULL`+lock, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("order %s not found", id)
		}
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}
	lines, err := r.lines(ctx, []string{o.ID})
	if err != nil {
		return nil, err
	}
	o.Lines = lines[o.ID]
	return &o, nil
}

// UpdateFulfillment writes the mutable envelope. The financial snapshot is
// never touched.
func (r *Orders) UpdateFulfillment(ctx context.Context, id string, f order.Fulfillment) error {
	tag, err := r.s.conn(ctx).Exec(ctx, `
		UPDATE orders
		SET status = $2, tracking_number = $3, shipped_at = $4, delivered_at = $5, updated_at = $6
		WHERE id = $1 AND deleted_at IS NULL`,
		id, string(f.Status), f.TrackingNumber, f.ShippedAt, f.DeliveredAt, f.UpdatedAt)
	if err != nil {
		return fmt.Errorf("updating order %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("order %s not found", id)
	}
	return nil
}

// ListBetween returns orders created in [from, to), oldest first.
func (r *Orders) ListBetween(ctx context.Context, from, to time.Time) ([]order.Order, error) {
	rows, err := r.s.conn(ctx).Query(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE created_at >= $1 AND created_at < $2 AND deleted_at IS NULL
		ORDER BY created_at, id`, from, to)
	if err != nil {
		return nil, fmt.Errorf("listing orders: %w", err)
	}
	orders, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (order.Order, error) {
		return scanOrder(row)
	})
	if err != nil {
		return nil, fmt.Errorf("scanning orders: %w", err)
	}
	if len(orders) == 0 {
		return nil, nil
	}

	ids := make([]string, len(orders))
	for i, o := range orders {
		ids[i] = o.ID
	}
	lines, err := r.lines(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range orders {
		orders[i].Lines = lines[orders[i].ID]
	}
	return orders, nil
}

func (r *Orders) lines(ctx context.Context, orderIDs []string) (map[string][]order.Line, error) {
	rows, err := r.s.conn(ctx).Query(ctx, `
		SELECT order_id, id, product_id, product_name, seller_id, quantity, unit_price, discount, total
		FROM order_lines
		WHERE order_id = ANY($1)
		ORDER BY order_id, position`, orderIDs)
	if err != nil {
		return nil, fmt.Errorf("listing order lines: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]order.Line, len(orderIDs))
	for rows.Next() {
		var (
			orderID string
			l       order.Line
		)
		if err := rows.Scan(&orderID, &l.ID, &l.ProductID, &l.ProductName, &l.SellerID,
			&l.Quantity, &l.UnitPrice, &l.Discount, &l.Total); err != nil {
			return nil, fmt.Errorf("scanning order line: %w", err)
		}
		out[orderID] = append(out[orderID], l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating order lines: %w", err)
	}
	return out, nil
}
