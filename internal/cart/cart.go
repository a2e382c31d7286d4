package cart

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dshills/orderflow-mcp/internal/eta"
	"github.com/dshills/orderflow-mcp/internal/stock"
	"github.com/dshills/orderflow-mcp/internal/storage"
	"github.com/dshills/orderflow-mcp/pkg/types"
)

// View is the read model of a customer's cart
type View struct {
	ID            int64               `json:"id"`
	CustomerID    int64               `json:"customer_id"`
	Items         []*storage.CartItem `json:"items"`
	TotalQuantity int                 `json:"total_quantity"`
	TotalPrice    decimal.Decimal     `json:"total_price"`
	DeliveryTime  *time.Time          `json:"delivery_time,omitempty"`
}

// RestaurantID is the restaurant of the cart's lines, or 0 when empty
func (v *View) RestaurantID() int64 {
	if len(v.Items) == 0 {
		return 0
	}
	return v.Items[0].RestaurantID
}

// Service manages carts. Every mutation runs in one transaction together
// with its stock reservation.
type Service struct {
	store     storage.Storage
	ledger    *stock.Ledger
	estimator *eta.Estimator
	logger    *slog.Logger
	now       func() time.Time
}

// NewService creates a cart service
func NewService(store storage.Storage, ledger *stock.Ledger, estimator *eta.Estimator, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:     store,
		ledger:    ledger,
		estimator: estimator,
		logger:    logger,
		now:       time.Now,
	}
}

// GetOrCreate returns the customer's cart, creating an empty one on first use
func (s *Service) GetOrCreate(ctx context.Context, customerID int64) (*View, error) {
	var view *View
	err := storage.RunInTx(ctx, s.store, func(tx storage.Tx) error {
		c, err := s.cartFor(ctx, tx, customerID)
		if err != nil {
			return err
		}
		view, err = s.load(ctx, tx, c)
		return err
	})
	return view, err
}

// AddItem reserves qty units and adds them to the cart. A line for the same
// menu item accumulates instead of being replaced.
func (s *Service) AddItem(ctx context.Context, customerID, menuItemID int64, qty int) (*View, error) {
	const op = "cart.AddItem"
	if qty <= 0 {
		return nil, types.Errorf(op, types.ErrValidation, "quantity must be positive, got %d", qty)
	}

	var view *View
	err := storage.RunInTx(ctx, s.store, func(tx storage.Tx) error {
		c, err := s.cartFor(ctx, tx, customerID)
		if err != nil {
			return err
		}
		lines, err := tx.ListCartItems(ctx, c.ID)
		if err != nil {
			return err
		}

		item, err := s.ledger.Reserve(ctx, tx, menuItemID, qty)
		if err != nil {
			return err
		}
		if len(lines) > 0 && lines[0].RestaurantID != item.RestaurantID {
			return types.Errorf(op, types.ErrInvalidState,
				"cart holds items of restaurant %d, menu item %d belongs to restaurant %d",
				lines[0].RestaurantID, menuItemID, item.RestaurantID)
		}

		merged := false
		for _, line := range lines {
			if line.MenuItemID == menuItemID {
				if err := tx.UpdateCartItemQuantity(ctx, line.ID, line.Quantity+qty); err != nil {
					return err
				}
				merged = true
				break
			}
		}
		if !merged {
			if err := tx.InsertCartItem(ctx, &storage.CartItem{CartID: c.ID, MenuItemID: menuItemID, Quantity: qty}); err != nil {
				return err
			}
		}

		view, err = s.refresh(ctx, tx, c)
		return err
	})
	return view, err
}

// UpdateItem sets a line's quantity, reserving or releasing only the difference
func (s *Service) UpdateItem(ctx context.Context, customerID, cartItemID int64, qty int) (*View, error) {
	const op = "cart.UpdateItem"
	if qty <= 0 {
		return nil, types.Errorf(op, types.ErrValidation, "quantity must be positive, got %d", qty)
	}

	var view *View
	err := storage.RunInTx(ctx, s.store, func(tx storage.Tx) error {
		c, line, err := s.ownedLine(ctx, tx, op, customerID, cartItemID)
		if err != nil {
			return err
		}

		switch delta := qty - line.Quantity; {
		case delta > 0:
			if _, err := s.ledger.Reserve(ctx, tx, line.MenuItemID, delta); err != nil {
				return err
			}
		case delta < 0:
			if err := s.ledger.Release(ctx, tx, line.MenuItemID, -delta); err != nil {
				return err
			}
		default:
			view, err = s.load(ctx, tx, c)
			return err
		}

		if err := tx.UpdateCartItemQuantity(ctx, line.ID, qty); err != nil {
			return err
		}
		view, err = s.refresh(ctx, tx, c)
		return err
	})
	return view, err
}

// RemoveItem releases a line's full quantity and deletes it
func (s *Service) RemoveItem(ctx context.Context, customerID, cartItemID int64) (*View, error) {
	const op = "cart.RemoveItem"

	var view *View
	err := storage.RunInTx(ctx, s.store, func(tx storage.Tx) error {
		c, line, err := s.ownedLine(ctx, tx, op, customerID, cartItemID)
		if err != nil {
			return err
		}
		if err := s.ledger.Release(ctx, tx, line.MenuItemID, line.Quantity); err != nil {
			return err
		}
		if err := tx.DeleteCartItem(ctx, line.ID); err != nil {
			return err
		}
		view, err = s.refresh(ctx, tx, c)
		return err
	})
	return view, err
}

// Clear releases every reserved unit and empties the cart
func (s *Service) Clear(ctx context.Context, customerID int64) (*View, error) {
	var view *View
	err := storage.RunInTx(ctx, s.store, func(tx storage.Tx) error {
		c, err := s.cartFor(ctx, tx, customerID)
		if err != nil {
			return err
		}
		lines, err := tx.ListCartItems(ctx, c.ID)
		if err != nil {
			return err
		}
		for _, line := range lines {
			if err := s.ledger.Release(ctx, tx, line.MenuItemID, line.Quantity); err != nil {
				return err
			}
		}
		if err := tx.DeleteCartItems(ctx, c.ID); err != nil {
			return err
		}
		if err := tx.UpdateCartDeliveryTime(ctx, c.ID, nil); err != nil {
			return err
		}
		c.DeliveryTime = nil
		view = newView(c, nil)
		return nil
	})
	if err == nil {
		s.logger.Debug("cart cleared", "customer_id", customerID)
	}
	return view, err
}

// Load reads a cart and its lines inside an existing transaction. The order
// service uses it when carving an order out of the cart.
func Load(ctx context.Context, tx storage.Tx, customerID int64) (*View, error) {
	c, err := tx.GetCartByCustomer(ctx, customerID)
	if errors.Is(err, storage.ErrNotFound) {
		return &View{CustomerID: customerID, TotalPrice: decimal.Zero}, nil
	}
	if err != nil {
		return nil, err
	}
	lines, err := tx.ListCartItems(ctx, c.ID)
	if err != nil {
		return nil, err
	}
	return newView(c, lines), nil
}

func (s *Service) cartFor(ctx context.Context, tx storage.Tx, customerID int64) (*storage.Cart, error) {
	c, err := tx.GetCartByCustomer(ctx, customerID)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}

	c = &storage.Cart{CustomerID: customerID}
	if err := tx.CreateCart(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// ownedLine resolves a cart item and checks it belongs to the caller's cart
func (s *Service) ownedLine(ctx context.Context, tx storage.Tx, op string, customerID, cartItemID int64) (*storage.Cart, *storage.CartItem, error) {
	line, err := tx.GetCartItem(ctx, cartItemID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil, types.Errorf(op, types.ErrNotFound, "cart item %d", cartItemID)
	}
	if err != nil {
		return nil, nil, err
	}

	c, err := tx.GetCartByCustomer(ctx, customerID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, nil, err
	}
	if c == nil || c.ID != line.CartID {
		return nil, nil, types.Errorf(op, types.ErrAccessDenied, "cart item %d is not in the caller's cart", cartItemID)
	}
	return c, line, nil
}

// refresh recomputes the delivery estimate from the current lines
func (s *Service) refresh(ctx context.Context, tx storage.Tx, c *storage.Cart) (*View, error) {
	lines, err := tx.ListCartItems(ctx, c.ID)
	if err != nil {
		return nil, err
	}

	var deliveryTime *time.Time
	if len(lines) > 0 {
		est, err := s.estimator.Estimate(ctx, tx, lines[0].RestaurantID)
		if err != nil {
			return nil, err
		}
		at := s.now().UTC().Add(est.Duration())
		deliveryTime = &at
	}

	if err := tx.UpdateCartDeliveryTime(ctx, c.ID, deliveryTime); err != nil {
		return nil, err
	}
	c.DeliveryTime = deliveryTime
	return newView(c, lines), nil
}

func (s *Service) load(ctx context.Context, tx storage.Tx, c *storage.Cart) (*View, error) {
	lines, err := tx.ListCartItems(ctx, c.ID)
	if err != nil {
		return nil, err
	}
	return newView(c, lines), nil
}

func newView(c *storage.Cart, lines []*storage.CartItem) *View {
	v := &View{
		ID:           c.ID,
		CustomerID:   c.CustomerID,
		Items:        lines,
		TotalPrice:   decimal.Zero,
		DeliveryTime: c.DeliveryTime,
	}
	if v.Items == nil {
		v.Items = []*storage.CartItem{}
	}
	for _, line := range lines {
		v.TotalQuantity += line.Quantity
		v.TotalPrice = v.TotalPrice.Add(line.LineTotal())
	}
	return v
}
