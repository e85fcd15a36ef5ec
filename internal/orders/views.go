package orders

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/shopspring/decimal"
)

const orderViewColumns = `
	o.order_id, o.user_id, o.status, o.order_date, o.delivery_option, o.delivery_date,
	o.original_total, o.final_total, o.discount_value, o.free_mug, o.free_magnet,
	o.stripe_payment_id, o.stripe_refund_id,
	oi.order_item_id, oi.item_id, oi.option_id, oi.quantity, oi.price, oi.currency,
	oi.display_name, oi.brand_name, oi.image_url,
	COALESCE(u.firstname, ''), COALESCE(u.lastname, ''), COALESCE(u.email, ''),
	COALESCE(u.address_line1, ''), COALESCE(u.address_line2, ''), COALESCE(u.city, ''),
	COALESCE(u.county, ''), COALESCE(u.postcode, ''), COALESCE(u.phone_number, '')
`

// GetAll returns the user's orders, newest first, each grouped with its
// lines. Line display names come from the creation-time snapshot on
// order_items, not the current catalog.
func (c *Conf) GetAll(ctx context.Context, userID int64) ([]OrderView, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM orders o
		LEFT JOIN order_items oi ON o.order_id = oi.order_id
		LEFT JOIN users u ON o.user_id = u.id
		WHERE o.user_id = $1
		ORDER BY o.order_date DESC, o.order_id, oi.order_item_id
	`, orderViewColumns)

	rows, err := c.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}
	defer rows.Close()
	return scanOrderViews(rows)
}

// GetAllAdmin returns every order in the system, newest first.
func (c *Conf) GetAllAdmin(ctx context.Context) ([]OrderView, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM orders o
		LEFT JOIN order_items oi ON o.order_id = oi.order_id
		LEFT JOIN users u ON o.user_id = u.id
		ORDER BY o.order_date DESC, o.order_id, oi.order_item_id
	`, orderViewColumns)

	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}
	defer rows.Close()
	return scanOrderViews(rows)
}

// GetOrderByID returns one order. Non-admin callers only see their own
// orders; anything else is ErrOrderNotFound.
func (c *Conf) GetOrderByID(ctx context.Context, userID, orderID int64, isAdmin bool) (*OrderView, error) {
	ownerFilter := "AND o.user_id = $2"
	args := []any{orderID}
	if isAdmin {
		ownerFilter = ""
	} else {
		args = append(args, userID)
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM orders o
		LEFT JOIN order_items oi ON o.order_id = oi.order_id
		LEFT JOIN users u ON o.user_id = u.id
		WHERE o.order_id = $1 %s
		ORDER BY oi.order_item_id
	`, orderViewColumns, ownerFilter)

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query order: %w", err)
	}
	defer rows.Close()

	views, err := scanOrderViews(rows)
	if err != nil {
		return nil, err
	}
	if len(views) == 0 {
		return nil, ErrOrderNotFound
	}
	return &views[0], nil
}

// scanOrderViews groups the joined order/line rows by order id, preserving
// row order.
func scanOrderViews(rows *sql.Rows) ([]OrderView, error) {
	var views []OrderView
	index := make(map[int64]int)

	for rows.Next() {
		var (
			v            OrderView
			deliveryDate sql.NullTime
			paymentID    sql.NullString
			refundID     sql.NullString

			lineID    sql.NullInt64
			itemID    sql.NullInt64
			optionID  sql.NullInt64
			quantity  sql.NullInt64
			price     decimal.NullDecimal
			currency  sql.NullString
			display   sql.NullString
			brandName sql.NullString
			imageURL  sql.NullString
		)
		err := rows.Scan(
			&v.OrderID, &v.UserID, &v.Status, &v.OrderDate, &v.DeliveryOption, &deliveryDate,
			&v.OriginalTotal, &v.FinalTotal, &v.DiscountValue, &v.FreeMug, &v.FreeMagnet,
			&paymentID, &refundID,
			&lineID, &itemID, &optionID, &quantity, &price, &currency,
			&display, &brandName, &imageURL,
			&v.Firstname, &v.Lastname, &v.Email,
			&v.AddressLine1, &v.AddressLine2, &v.City,
			&v.County, &v.Postcode, &v.PhoneNumber,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order row: %w", err)
		}

		pos, ok := index[v.OrderID]
		if !ok {
			if deliveryDate.Valid {
				d := deliveryDate.Time
				v.DeliveryDate = &d
			}
			v.StripePaymentID = paymentID.String
			v.StripeRefundID = refundID.String
			v.Lines = []OrderLineView{}
			views = append(views, v)
			pos = len(views) - 1
			index[v.OrderID] = pos
		}

		if lineID.Valid {
			line := OrderLineView{
				OrderItemID: lineID.Int64,
				ItemID:      itemID.Int64,
				DisplayName: display.String,
				BrandName:   brandName.String,
				Quantity:    int(quantity.Int64),
				Price:       price.Decimal,
				Currency:    currency.String,
				ImageURL:    imageURL.String,
			}
			if optionID.Valid {
				id := optionID.Int64
				line.OptionID = &id
			}
			views[pos].Lines = append(views[pos].Lines, line)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating order rows: %w", err)
	}
	return views, nil
}
