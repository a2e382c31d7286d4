// Package stock is the ledger of sellable menu item quantities.
//
// Reserve and Release are the only code paths that write
// MenuItem.StockQuantity. Both must run inside the caller's transaction;
// the item row is read with GetMenuItemForUpdate so concurrent reservations
// of the same item are serialized.
package stock

import (
	"context"
	"errors"

	"github.com/dshills/orderflow-mcp/internal/metrics"
	"github.com/dshills/orderflow-mcp/internal/storage"
	"github.com/dshills/orderflow-mcp/pkg/types"
)

// Rejection reasons reported to metrics
const (
	ReasonOutOfStock  = "out_of_stock"
	ReasonUnavailable = "unavailable"
	ReasonClosed      = "restaurant_closed"
)

// Ledger reserves and releases menu item stock
type Ledger struct {
	metrics *metrics.Metrics
}

// NewLedger creates a ledger. m may be nil.
func NewLedger(m *metrics.Metrics) *Ledger {
	return &Ledger{metrics: m}
}

// Reserve decrements the item's stock by qty. It fails with ErrOutOfStock
// when fewer than qty units remain and with ErrInvalidState when the item is
// unavailable or its restaurant is closed. Nothing is written on failure.
func (l *Ledger) Reserve(ctx context.Context, tx storage.Tx, menuItemID int64, qty int) (*storage.MenuItem, error) {
	const op = "stock.Reserve"
	if qty <= 0 {
		return nil, types.Errorf(op, types.ErrValidation, "quantity must be positive, got %d", qty)
	}

	item, err := lockItem(ctx, tx, op, menuItemID)
	if err != nil {
		return nil, err
	}

	if !item.Available {
		l.metrics.StockRejected(ReasonUnavailable)
		return nil, types.Errorf(op, types.ErrInvalidState, "menu item %d is unavailable", menuItemID)
	}

	restaurant, err := tx.GetRestaurant(ctx, item.RestaurantID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, types.Errorf(op, types.ErrNotFound, "restaurant %d", item.RestaurantID)
		}
		return nil, err
	}
	if !restaurant.Open {
		l.metrics.StockRejected(ReasonClosed)
		return nil, types.Errorf(op, types.ErrInvalidState, "restaurant %d is closed", restaurant.ID)
	}

	if item.StockQuantity < qty {
		l.metrics.StockRejected(ReasonOutOfStock)
		return nil, types.Errorf(op, types.ErrOutOfStock,
			"menu item %d has %d left, %d requested", menuItemID, item.StockQuantity, qty)
	}

	item.StockQuantity -= qty
	if err := tx.UpdateMenuItemStock(ctx, menuItemID, item.StockQuantity); err != nil {
		return nil, err
	}
	return item, nil
}

// Release returns qty units to the item's stock. Availability is not checked:
// a release must always succeed so every reservation stays restorable.
func (l *Ledger) Release(ctx context.Context, tx storage.Tx, menuItemID int64, qty int) error {
	const op = "stock.Release"
	if qty <= 0 {
		return types.Errorf(op, types.ErrValidation, "quantity must be positive, got %d", qty)
	}

	item, err := lockItem(ctx, tx, op, menuItemID)
	if err != nil {
		return err
	}
	return tx.UpdateMenuItemStock(ctx, menuItemID, item.StockQuantity+qty)
}

func lockItem(ctx context.Context, tx storage.Tx, op string, menuItemID int64) (*storage.MenuItem, error) {
	item, err := tx.GetMenuItemForUpdate(ctx, menuItemID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, types.Errorf(op, types.ErrNotFound, "menu item %d", menuItemID)
	}
	return item, err
}
