package orders

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Refunder issues refunds against the payment provider. The store calls it
// inside the cancellation transaction so a failed refund aborts the whole
// cancellation.
type Refunder interface {
	CreateRefund(ctx context.Context, paymentID string, metadata map[string]string) (string, error)
}

type Conf struct {
	db       *sql.DB
	refunder Refunder
}

func NewConf(db *sql.DB, refunder Refunder) (*Conf, error) {
	if db == nil {
		return nil, fmt.Errorf("db is nil")
	}
	if refunder == nil {
		return nil, fmt.Errorf("refunder is nil")
	}
	return &Conf{db: db, refunder: refunder}, nil
}

func (c *Conf) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}

	if err := fn(tx); err != nil {
		er := tx.Rollback()
		if er != nil && !errors.Is(er, sql.ErrTxDone) {
			return fmt.Errorf("failed to rollback withTx: %w", err)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit withTx: %w", err)
	}
	return nil
}

// CreateOrder inserts the order and all its lines in one transaction and
// returns the new order id. Any line failure rolls back the whole order.
// Display and brand names are snapshotted onto each line so the receipt
// stays stable under later catalog edits.
func (c *Conf) CreateOrder(ctx context.Context, o NewOrder) (int64, error) {
	var orderID int64
	err := c.withTx(ctx, func(tx *sql.Tx) error {
		queryOrder := `
			INSERT INTO orders (
				user_id, original_total, final_total, discount_value,
				delivery_option, status, free_mug, free_magnet
			)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			RETURNING order_id
		`
		err := tx.QueryRowContext(ctx, queryOrder,
			o.UserID, o.OriginalTotal, o.FinalTotal, o.DiscountValue,
			o.DeliveryOption, StatusPending, o.FreeMug, o.FreeMagnet,
		).Scan(&orderID)
		if err != nil {
			return fmt.Errorf("failed to insert order: %w", err)
		}

		queryLine := `
			INSERT INTO order_items (
				order_id, item_id, option_id, quantity, price,
				currency, display_name, brand_name, image_url
			)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`
		for _, l := range o.Lines {
			optionID := sql.NullInt64{Int64: l.OptionID, Valid: l.IsOption}
			_, err := tx.ExecContext(ctx, queryLine,
				orderID, l.ItemID, optionID, l.Quantity, l.Price,
				"GBP", l.DisplayName, l.BrandName, l.Image,
			)
			if err != nil {
				return fmt.Errorf("failed to insert order line for item %d: %w", l.ItemID, err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return orderID, nil
}

// UpdateOrderStatus moves an order to a new status after validating the
// transition against the state machine. Used by the admin fulfilment flow.
// Paid and cancelled are rejected here: those transitions carry stock and
// refund side effects and are only reachable through Settle and CancelOrder.
func (c *Conf) UpdateOrderStatus(ctx context.Context, orderID int64, status string, deliveryDate *time.Time) error {
	if !ValidStatus(status) {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, status)
	}
	if status == StatusPaid || status == StatusCancelled {
		return fmt.Errorf("%w: status %q cannot be set directly", ErrInvalidTransition, status)
	}
	return c.withTx(ctx, func(tx *sql.Tx) error {
		var current string
		err := tx.QueryRowContext(ctx,
			`SELECT status FROM orders WHERE order_id = $1 FOR UPDATE`, orderID,
		).Scan(&current)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrOrderNotFound
			}
			return fmt.Errorf("failed to query order status: %w", err)
		}
		if !CanTransition(current, status) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, status)
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE orders
			SET status = $1, delivery_date = COALESCE($2, delivery_date)
			WHERE order_id = $3
		`, status, deliveryDate, orderID)
		if err != nil {
			return fmt.Errorf("failed to update order status: %w", err)
		}
		return nil
	})
}

// CancelOrder cancels an order owned by userID: refund first when a payment
// exists, then mark cancelled and restore every line's stock onto the item
// or option it came from. A refund failure aborts everything; no status
// change and no stock restoration happen without a successful refund.
// Returns the refund id when a refund was issued.
func (c *Conf) CancelOrder(ctx context.Context, userID, orderID int64) (string, error) {
	var refundID string
	err := c.withTx(ctx, func(tx *sql.Tx) error {
		var status string
		var paymentID sql.NullString
		err := tx.QueryRowContext(ctx, `
			SELECT status, stripe_payment_id
			FROM orders
			WHERE order_id = $1 AND user_id = $2
			FOR UPDATE
		`, orderID, userID).Scan(&status, &paymentID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrOrderNotFound
			}
			return fmt.Errorf("failed to query order: %w", err)
		}

		switch status {
		case StatusProcessed:
			return ErrAlreadyProcessed
		case StatusCancelled:
			return ErrAlreadyCancelled
		}

		if paymentID.Valid && paymentID.String != "" {
			refundID, err = c.refunder.CreateRefund(ctx, paymentID.String, map[string]string{
				"order_id": fmt.Sprintf("%d", orderID),
			})
			if err != nil {
				return fmt.Errorf("%w: %s", ErrRefundFailed, err)
			}
			_, err = tx.ExecContext(ctx,
				`UPDATE orders SET stripe_refund_id = $1 WHERE order_id = $2`,
				refundID, orderID)
			if err != nil {
				return fmt.Errorf("failed to record refund id: %w", err)
			}
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE orders SET status = $1 WHERE order_id = $2`,
			StatusCancelled, orderID)
		if err != nil {
			return fmt.Errorf("failed to mark order cancelled: %w", err)
		}

		return c.adjustStockForOrder(ctx, tx, orderID, +1)
	})
	if err != nil {
		return "", err
	}
	return refundID, nil
}

// adjustStockForOrder applies sign*quantity to the stock of every line of
// an order: the option element of the item's JSONB options list when the
// line references an option, the item's own quantity otherwise.
func (c *Conf) adjustStockForOrder(ctx context.Context, tx *sql.Tx, orderID int64, sign int) error {
	rows, err := tx.QueryContext(ctx,
		`SELECT item_id, option_id, quantity FROM order_items WHERE order_id = $1`, orderID)
	if err != nil {
		return fmt.Errorf("failed to query order lines: %w", err)
	}
	defer rows.Close()

	type line struct {
		itemID   int64
		optionID sql.NullInt64
		quantity int
	}
	var lines []line
	for rows.Next() {
		var l line
		if err := rows.Scan(&l.itemID, &l.optionID, &l.quantity); err != nil {
			return fmt.Errorf("failed to scan order line: %w", err)
		}
		lines = append(lines, l)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating order lines: %w", err)
	}

	for _, l := range lines {
		delta := sign * l.quantity
		if l.optionID.Valid {
			if err := adjustOptionStock(ctx, tx, l.itemID, l.optionID.Int64, delta); err != nil {
				return err
			}
			continue
		}
		res, err := tx.ExecContext(ctx,
			`UPDATE items SET quantity = quantity + $1 WHERE id = $2`,
			delta, l.itemID)
		if err != nil {
			return fmt.Errorf("failed to adjust stock for item %d: %w", l.itemID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to read rows affected: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("%w: item %d", ErrItemNotFound, l.itemID)
		}
	}
	return nil
}

// adjustOptionStock rewrites exactly one element of the item's options
// list, doing the arithmetic inside the statement so concurrent edits to
// other options are never lost.
func adjustOptionStock(ctx context.Context, tx *sql.Tx, itemID, optionID int64, delta int) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE items
		SET options = (
			SELECT jsonb_agg(
				CASE
					WHEN (opt->>'id')::bigint = $2
					THEN jsonb_set(opt, '{quantity}', to_jsonb((opt->>'quantity')::int + $3))
					ELSE opt
				END
			)
			FROM jsonb_array_elements(options) opt
		)
		WHERE id = $1
		  AND EXISTS (
			SELECT 1 FROM jsonb_array_elements(options) o
			WHERE (o->>'id')::bigint = $2
		  )
	`, itemID, optionID, delta)
	if err != nil {
		return fmt.Errorf("failed to adjust option stock for item %d option %d: %w", itemID, optionID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: item %d option %d", ErrOptionNotFound, itemID, optionID)
	}
	return nil
}
