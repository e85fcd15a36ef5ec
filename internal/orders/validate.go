package orders

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// catalogItem is the slice of the items table the validator needs: the
// server-side price and stock, plus options when the item sells variants.
type catalogItem struct {
	ID        int64
	Name      string
	Price     decimal.Decimal
	Stock     int
	BrandName string
	Options   []Option
}

// ValidateCart re-prices and stock-checks a cart against the catalog and
// returns the quote used for order creation and the checkout session.
// Stock is only checked here; it is decremented at settlement, so two
// concurrent checkouts can both pass against the same unit until one of
// them pays.
//
// All requested items are fetched with one batched query rather than one
// lookup per line.
func (c *Conf) ValidateCart(ctx context.Context, lines []CartLine) (*CartQuote, error) {
	if len(lines) == 0 {
		return nil, ErrEmptyCart
	}

	ids := make([]int64, 0, len(lines))
	seen := make(map[int64]bool, len(lines))
	for _, l := range lines {
		if l.Quantity <= 0 {
			return nil, fmt.Errorf("%w: %d for item %d", ErrInvalidQuantity, l.Quantity, l.ItemID)
		}
		if !seen[l.ItemID] {
			seen[l.ItemID] = true
			ids = append(ids, l.ItemID)
		}
	}

	catalog, err := c.fetchCatalogItems(ctx, ids)
	if err != nil {
		return nil, err
	}
	return buildQuote(lines, catalog)
}

func (c *Conf) fetchCatalogItems(ctx context.Context, ids []int64) (map[int64]catalogItem, error) {
	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = id
	}

	query := fmt.Sprintf(`
		SELECT i.id, i.name, i.price, i.quantity AS stock, i.options, COALESCE(b.name, '') AS brand_name
		FROM items i
		LEFT JOIN brands b ON i.brandid = b.id
		WHERE i.id IN (%s)
	`, strings.Join(placeholders, ", "))

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query items: %w", err)
	}
	defer rows.Close()

	catalog := make(map[int64]catalogItem, len(ids))
	for rows.Next() {
		var it catalogItem
		var optionsRaw []byte
		if err := rows.Scan(&it.ID, &it.Name, &it.Price, &it.Stock, &optionsRaw, &it.BrandName); err != nil {
			return nil, fmt.Errorf("failed to scan item: %w", err)
		}
		if len(optionsRaw) > 0 {
			if err := json.Unmarshal(optionsRaw, &it.Options); err != nil {
				return nil, fmt.Errorf("failed to parse options for item %d: %w", it.ID, err)
			}
		}
		catalog[it.ID] = it
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating items: %w", err)
	}
	return catalog, nil
}

// buildQuote applies the stock checks and server-side pricing to the
// requested lines against the fetched catalog. Pure function over its
// inputs; the database work happens in the caller.
func buildQuote(lines []CartLine, catalog map[int64]catalogItem) (*CartQuote, error) {
	quote := &CartQuote{OriginalTotal: decimal.Zero}

	for _, l := range lines {
		item, ok := catalog[l.ItemID]
		if !ok {
			return nil, fmt.Errorf("%w: %d", ErrItemNotFound, l.ItemID)
		}

		if !l.IsOption {
			if item.Stock < l.Quantity {
				return nil, fmt.Errorf("%w for %s: requested %d, available %d",
					ErrInsufficientStock, item.Name, l.Quantity, item.Stock)
			}
			quote.OriginalTotal = quote.OriginalTotal.Add(item.Price.Mul(decimal.NewFromInt(int64(l.Quantity))))
			quote.Lines = append(quote.Lines, ValidatedLine{
				ItemID:      item.ID,
				Name:        item.Name,
				DisplayName: item.Name,
				BrandName:   item.BrandName,
				Price:       item.Price,
				Quantity:    l.Quantity,
				Image:       l.Image,
			})
			continue
		}

		var option *Option
		for i := range item.Options {
			if item.Options[i].ID == l.OptionID {
				option = &item.Options[i]
				break
			}
		}
		if option == nil {
			return nil, fmt.Errorf("%w: option %d of item %s", ErrOptionNotFound, l.OptionID, item.Name)
		}
		if option.Quantity < l.Quantity {
			return nil, fmt.Errorf("%w for %s of %s: requested %d, available %d",
				ErrInsufficientStock, option.Name, item.Name, l.Quantity, option.Quantity)
		}

		quote.OriginalTotal = quote.OriginalTotal.Add(option.Price.Mul(decimal.NewFromInt(int64(l.Quantity))))
		quote.Lines = append(quote.Lines, ValidatedLine{
			ItemID:      item.ID,
			IsOption:    true,
			OptionID:    option.ID,
			Name:        option.Name,
			DisplayName: fmt.Sprintf("%s - %s", item.Name, option.Name),
			BrandName:   item.BrandName,
			Price:       option.Price,
			Quantity:    l.Quantity,
			Image:       l.Image,
		})
	}

	quote.Promotions = EvaluatePromotions(quote.OriginalTotal)
	return quote, nil
}
