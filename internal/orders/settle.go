package orders

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Settle transitions an order to paid and decrements stock for every line,
// all inside one transaction. The conditional update on status is the
// idempotency gate: a redelivered webhook finds the order already paid,
// matches zero rows and returns (false, nil) without touching stock. Any
// line failure rolls the whole settlement back, including the status
// change, so a retry can settle cleanly.
func (c *Conf) Settle(ctx context.Context, orderID int64, paymentID string) (bool, error) {
	settled := false
	err := c.withTx(ctx, func(tx *sql.Tx) error {
		var id int64
		err := tx.QueryRowContext(ctx, `
			UPDATE orders
			SET status = $1, stripe_payment_id = $2
			WHERE order_id = $3 AND status = $4
			RETURNING order_id
		`, StatusPaid, paymentID, orderID, StatusPending).Scan(&id)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				// Not pending: either already settled (or terminal), which
				// is a no-op, or the order does not exist at all.
				var exists bool
				err := tx.QueryRowContext(ctx,
					`SELECT EXISTS (SELECT 1 FROM orders WHERE order_id = $1)`, orderID,
				).Scan(&exists)
				if err != nil {
					return fmt.Errorf("failed to check order existence: %w", err)
				}
				if !exists {
					return ErrOrderNotFound
				}
				return nil
			}
			return fmt.Errorf("failed to mark order paid: %w", err)
		}

		if err := c.adjustStockForOrder(ctx, tx, orderID, -1); err != nil {
			return err
		}
		settled = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return settled, nil
}
