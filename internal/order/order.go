package order

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dshills/orderflow-mcp/internal/cart"
	"github.com/dshills/orderflow-mcp/internal/courier"
	"github.com/dshills/orderflow-mcp/internal/eta"
	"github.com/dshills/orderflow-mcp/internal/metrics"
	"github.com/dshills/orderflow-mcp/internal/notify"
	"github.com/dshills/orderflow-mcp/internal/payment"
	"github.com/dshills/orderflow-mcp/internal/stock"
	"github.com/dshills/orderflow-mcp/internal/storage"
	"github.com/dshills/orderflow-mcp/pkg/types"
)

// DefaultReviewDelay is how long after delivery the review reminder fires
const DefaultReviewDelay = 30 * time.Minute

// Service owns the order lifecycle
type Service struct {
	store       storage.Storage
	ledger      *stock.Ledger
	estimator   *eta.Estimator
	scheduler   notify.Notifier
	logger      *slog.Logger
	metrics     *metrics.Metrics
	reviewDelay time.Duration
	now         func() time.Time
}

// NewService creates an order service. scheduler and m may be nil.
func NewService(store storage.Storage, ledger *stock.Ledger, estimator *eta.Estimator, scheduler notify.Notifier, logger *slog.Logger, m *metrics.Metrics) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:       store,
		ledger:      ledger,
		estimator:   estimator,
		scheduler:   scheduler,
		logger:      logger,
		metrics:     m,
		reviewDelay: DefaultReviewDelay,
		now:         time.Now,
	}
}

// SetReviewDelay overrides DefaultReviewDelay
func (s *Service) SetReviewDelay(d time.Duration) {
	if d > 0 {
		s.reviewDelay = d
	}
}

// CreateFromCart turns the customer's cart into a CREATED order. Prices are
// snapshotted and the reserved stock moves with the lines: the cart is
// emptied without releasing anything.
func (s *Service) CreateFromCart(ctx context.Context, customerID, restaurantID int64, method types.PaymentMethod) (*storage.Order, error) {
	const op = "order.CreateFromCart"

	var batch notify.Batch
	var o *storage.Order
	err := storage.RunInTx(ctx, s.store, func(tx storage.Tx) error {
		restaurant, err := tx.GetRestaurant(ctx, restaurantID)
		if errors.Is(err, storage.ErrNotFound) {
			return types.Errorf(op, types.ErrNotFound, "restaurant %d", restaurantID)
		}
		if err != nil {
			return err
		}
		if !restaurant.Open {
			return types.Errorf(op, types.ErrInvalidState, "restaurant %d is closed", restaurantID)
		}

		c, err := cart.Load(ctx, tx, customerID)
		if err != nil {
			return err
		}
		if len(c.Items) == 0 {
			return types.Errorf(op, types.ErrInvalidState, "cart is empty")
		}

		o = &storage.Order{
			CustomerID:    customerID,
			RestaurantID:  restaurantID,
			PaymentMethod: method,
			Status:        types.OrderCreated,
			TotalPrice:    decimal.Zero,
			CreatedAt:     s.now(),
		}
		for _, line := range c.Items {
			if line.RestaurantID != restaurantID {
				return types.Errorf(op, types.ErrInvalidState,
					"item not on this restaurant's menu: %s (menu item %d)", line.Name, line.MenuItemID)
			}
			item := &storage.OrderItem{MenuItemID: line.MenuItemID, Quantity: line.Quantity, Price: line.Price}
			o.Items = append(o.Items, item)
			o.TotalPrice = o.TotalPrice.Add(item.LineTotal())
		}

		if err := tx.CreateOrder(ctx, o); err != nil {
			return err
		}
		if err := tx.AppendStatusHistory(ctx, &storage.StatusChange{
			OrderID: o.ID, To: types.OrderCreated, ActorID: customerID, CreatedAt: o.CreatedAt,
		}); err != nil {
			return err
		}
		if err := tx.DeleteCartItems(ctx, c.ID); err != nil {
			return err
		}
		if err := tx.UpdateCartDeliveryTime(ctx, c.ID, nil); err != nil {
			return err
		}

		batch.Add(notify.KindStatusChanged, restaurant.OwnerID,
			fmt.Sprintf("New order %d for %s", o.ID, o.TotalPrice.StringFixed(2)), time.Time{})
		return nil
	})
	if err != nil {
		return nil, err
	}

	batch.Flush(ctx, s.scheduler, s.logger)
	s.logger.Info("order created", "order_id", o.ID, "customer_id", customerID,
		"restaurant_id", restaurantID, "total", o.TotalPrice.String(), "method", string(method))
	return o, nil
}

// UpdateStatus moves an order to a new status if the actor's role allows it
// for the order's current status. The table has no rows for terminal orders,
// so any update of a DELIVERED or CANCELLED order is denied.
func (s *Service) UpdateStatus(ctx context.Context, actor types.Actor, orderID int64, to types.OrderStatus) (*storage.Order, error) {
	const op = "order.UpdateStatus"

	var batch notify.Batch
	var o *storage.Order
	err := storage.RunInTx(ctx, s.store, func(tx storage.Tx) error {
		var err error
		o, err = s.lockOrder(ctx, tx, op, orderID)
		if err != nil {
			return err
		}
		rel, err := s.relate(ctx, tx, actor, o)
		if err != nil {
			return err
		}
		if !permits(actor, rel, o.Status, to, o.PaymentMethod) {
			return types.Errorf(op, types.ErrAccessDenied,
				"user %d may not move order %d from %s to %s", actor.ID, orderID, o.Status, to)
		}

		return s.apply(ctx, tx, actor.ID, o, to, &batch)
	})
	if err != nil {
		return nil, err
	}

	batch.Flush(ctx, s.scheduler, s.logger)
	s.logger.Info("order status changed", "order_id", orderID, "status", string(o.Status), "actor_id", actor.ID)
	return o, nil
}

// Cancel cancels a non-terminal order on behalf of its customer, the
// restaurant owner or an administrator
func (s *Service) Cancel(ctx context.Context, actor types.Actor, orderID int64) (*storage.Order, error) {
	const op = "order.Cancel"

	var batch notify.Batch
	var o *storage.Order
	err := storage.RunInTx(ctx, s.store, func(tx storage.Tx) error {
		var err error
		o, err = s.lockOrder(ctx, tx, op, orderID)
		if err != nil {
			return err
		}
		rel, err := s.relate(ctx, tx, actor, o)
		if err != nil {
			return err
		}
		if o.CustomerID != actor.ID && !rel.owner && !actor.IsAdmin() {
			return types.Errorf(op, types.ErrAccessDenied, "user %d may not cancel order %d", actor.ID, orderID)
		}
		if o.Status.Terminal() {
			return types.Errorf(op, types.ErrInvalidState, "order %d is already %s", orderID, o.Status)
		}
		return s.apply(ctx, tx, actor.ID, o, types.OrderCancelled, &batch)
	})
	if err != nil {
		return nil, err
	}

	batch.Flush(ctx, s.scheduler, s.logger)
	s.logger.Info("order cancelled", "order_id", orderID, "actor_id", actor.ID)
	return o, nil
}

// ConfirmPaid confirms a CREATED order whose payment went through. Orders
// already past CREATED are left alone; a cancelled order cannot be paid.
func (s *Service) ConfirmPaid(ctx context.Context, tx storage.Tx, actor types.Actor, orderID int64, batch *notify.Batch) error {
	const op = "order.ConfirmPaid"
	o, err := s.lockOrder(ctx, tx, op, orderID)
	if err != nil {
		return err
	}
	switch o.Status {
	case types.OrderCreated:
		return s.apply(ctx, tx, actor.ID, o, types.OrderConfirmed, batch)
	case types.OrderCancelled:
		return types.Errorf(op, types.ErrInvalidState, "order %d is cancelled", orderID)
	}
	return nil
}

// Advance applies a status change decided by another component, such as a
// courier picking up a cooked order
func (s *Service) Advance(ctx context.Context, tx storage.Tx, actorID int64, o *storage.Order, to types.OrderStatus, batch *notify.Batch) error {
	return s.apply(ctx, tx, actorID, o, to, batch)
}

// apply writes a transition with its history row and side effects. Metrics,
// cache invalidation and notifications are deferred to the batch flush.
func (s *Service) apply(ctx context.Context, tx storage.Tx, actorID int64, o *storage.Order, to types.OrderStatus, batch *notify.Batch) error {
	from := o.Status
	now := s.now()

	var cookTime *int
	if to == types.OrderDelivered {
		minutes := int(now.Sub(o.CreatedAt) / time.Minute)
		if minutes < 0 {
			minutes = 0
		}
		cookTime = &minutes
	}

	if err := tx.UpdateOrderStatus(ctx, o.ID, to, cookTime); err != nil {
		return err
	}
	if err := tx.AppendStatusHistory(ctx, &storage.StatusChange{
		OrderID: o.ID, From: from, To: to, ActorID: actorID, CreatedAt: now,
	}); err != nil {
		return err
	}
	o.Status = to
	if cookTime != nil {
		o.CookTimeMinutes = cookTime
	}

	switch to {
	case types.OrderDelivered:
		if err := s.delivered(ctx, tx, o, now, batch); err != nil {
			return err
		}
	case types.OrderCancelled:
		for _, item := range o.Items {
			if err := s.ledger.Release(ctx, tx, item.MenuItemID, item.Quantity); err != nil {
				return err
			}
		}
		if o.CourierID != nil {
			if err := courier.ReleaseIfIdle(ctx, tx, *o.CourierID); err != nil {
				return err
			}
		}
	}

	batch.Add(notify.KindStatusChanged, o.CustomerID, fmt.Sprintf("Order %d is now %s", o.ID, to), time.Time{})
	batch.OnFlush(func() { s.metrics.ObserveTransition(string(from), string(to)) })
	return nil
}

func (s *Service) delivered(ctx context.Context, tx storage.Tx, o *storage.Order, now time.Time, batch *notify.Batch) error {
	orderID := o.ID
	if err := tx.AddPrepTimeSample(ctx, &storage.PrepTimeSample{
		RestaurantID: o.RestaurantID,
		OrderID:      &orderID,
		Minutes:      *o.CookTimeMinutes,
		RecordedAt:   now,
	}); err != nil {
		return err
	}
	restaurantID := o.RestaurantID
	batch.OnFlush(func() { s.estimator.Invalidate(restaurantID) })

	if err := payment.SettleCash(ctx, tx, o); err != nil {
		return fmt.Errorf("failed to settle cash payment: %w", err)
	}
	if o.CourierID != nil {
		if err := courier.ReleaseIfIdle(ctx, tx, *o.CourierID); err != nil {
			return err
		}
	}

	batch.Add(notify.KindReviewReminder, o.CustomerID,
		fmt.Sprintf("How was order %d? Please leave a review", o.ID), now.Add(s.reviewDelay))
	return nil
}

// Get returns an order visible to the actor: its customer, the restaurant
// owner, the assigned courier or an administrator
func (s *Service) Get(ctx context.Context, actor types.Actor, orderID int64) (*storage.Order, error) {
	const op = "order.Get"
	o, err := s.store.GetOrder(ctx, orderID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, types.Errorf(op, types.ErrNotFound, "order %d", orderID)
	}
	if err != nil {
		return nil, err
	}
	if err := s.visible(ctx, s.store, op, actor, o); err != nil {
		return nil, err
	}
	return o, nil
}

// ListForCustomer returns the customer's orders, newest first
func (s *Service) ListForCustomer(ctx context.Context, customerID int64) ([]*storage.Order, error) {
	orders, err := s.store.ListOrdersByCustomer(ctx, customerID)
	if err != nil {
		return nil, err
	}
	if orders == nil {
		orders = []*storage.Order{}
	}
	return orders, nil
}

// History returns the status changes of an order, oldest first
func (s *Service) History(ctx context.Context, actor types.Actor, orderID int64) ([]*storage.StatusChange, error) {
	if _, err := s.Get(ctx, actor, orderID); err != nil {
		return nil, err
	}
	return s.store.ListStatusHistory(ctx, orderID)
}

func (s *Service) lockOrder(ctx context.Context, tx storage.Tx, op string, orderID int64) (*storage.Order, error) {
	o, err := tx.GetOrderForUpdate(ctx, orderID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, types.Errorf(op, types.ErrNotFound, "order %d", orderID)
	}
	return o, err
}

// relate resolves how the actor is tied to the order through its owner and
// courier roles
func (s *Service) relate(ctx context.Context, r storage.Storage, actor types.Actor, o *storage.Order) (relation, error) {
	var rel relation
	if actor.Has(types.RoleOwner) {
		restaurant, err := r.GetRestaurant(ctx, o.RestaurantID)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return rel, err
		}
		rel.owner = restaurant != nil && restaurant.OwnerID == actor.ID
	}
	if actor.Has(types.RoleCourier) && o.CourierID != nil {
		c, err := r.GetCourierByUser(ctx, actor.ID)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return rel, err
		}
		rel.courier = c != nil && c.ID == *o.CourierID
	}
	return rel, nil
}

func (s *Service) visible(ctx context.Context, r storage.Storage, op string, actor types.Actor, o *storage.Order) error {
	if actor.IsAdmin() || o.CustomerID == actor.ID {
		return nil
	}
	rel, err := s.relate(ctx, r, actor, o)
	if err != nil {
		return err
	}
	if rel.owner || rel.courier {
		return nil
	}
	return types.Errorf(op, types.ErrAccessDenied, "order %d", o.ID)
}
