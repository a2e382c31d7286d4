package courier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dshills/orderflow-mcp/internal/metrics"
	"github.com/dshills/orderflow-mcp/internal/notify"
	"github.com/dshills/orderflow-mcp/internal/storage"
	"github.com/dshills/orderflow-mcp/pkg/types"
)

// ActiveStatuses are the statuses listed as a courier's active orders
var ActiveStatuses = []types.OrderStatus{
	types.OrderConfirmed,
	types.OrderCooked,
	types.OrderInDelivery,
}

// OrderAdvancer applies an order status change with its history row and
// notifications. The order service implements it.
type OrderAdvancer interface {
	Advance(ctx context.Context, tx storage.Tx, actorID int64, o *storage.Order, to types.OrderStatus, batch *notify.Batch) error
}

// SweepResult summarizes one matching pass
type SweepResult struct {
	Orders    int `json:"orders"`    // Unassigned CONFIRMED orders seen
	Couriers  int `json:"couriers"`  // AVAILABLE couriers seen
	Assigned  int `json:"assigned"`  // Pairings committed
	Skipped   int `json:"skipped"`   // Pairings rolled back to their savepoint
	Unmatched int `json:"unmatched"` // Orders left without a courier
}

// Engine pairs orders with couriers
type Engine struct {
	store     storage.Storage
	advancer  OrderAdvancer
	scheduler notify.Notifier
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

// NewEngine creates a matching engine. scheduler and m may be nil.
func NewEngine(store storage.Storage, advancer OrderAdvancer, scheduler notify.Notifier, logger *slog.Logger, m *metrics.Metrics) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:     store,
		advancer:  advancer,
		scheduler: scheduler,
		logger:    logger,
		metrics:   m,
	}
}

// Assign gives an order to an AVAILABLE courier. A COOKED order leaves for
// delivery at once; earlier orders keep their status until the kitchen is done,
// the same as a sweep pre-assignment, rather than jumping to IN_DELIVERY.
// An order the owner already dispatched without a courier can still be
// assigned so that someone is able to deliver it.
func (e *Engine) Assign(ctx context.Context, actor types.Actor, courierID, orderID int64) (*storage.Order, error) {
	const op = "courier.Assign"
	if !actor.IsAdmin() {
		return nil, types.Errorf(op, types.ErrAccessDenied, "only an administrator can assign couriers")
	}

	var batch notify.Batch
	var assigned *storage.Order
	err := storage.RunInTx(ctx, e.store, func(tx storage.Tx) error {
		c, err := tx.GetCourierForUpdate(ctx, courierID)
		if errors.Is(err, storage.ErrNotFound) {
			return types.Errorf(op, types.ErrNotFound, "courier %d", courierID)
		}
		if err != nil {
			return err
		}
		o, err := tx.GetOrderForUpdate(ctx, orderID)
		if errors.Is(err, storage.ErrNotFound) {
			return types.Errorf(op, types.ErrNotFound, "order %d", orderID)
		}
		if err != nil {
			return err
		}

		if err := assignable(op, c, o); err != nil {
			return err
		}
		if err := e.attach(ctx, tx, actor.ID, c, o, &batch); err != nil {
			return err
		}
		assigned = o
		return nil
	})
	if err != nil {
		return nil, err
	}

	batch.Flush(ctx, e.scheduler, e.logger)
	e.logger.Info("courier assigned", "courier_id", courierID, "order_id", orderID, "status", string(assigned.Status))
	return assigned, nil
}

func assignable(op string, c *storage.Courier, o *storage.Order) error {
	if !c.Available() {
		return types.Errorf(op, types.ErrInvalidState, "courier %d is %s", c.ID, c.Status)
	}
	if o.CourierID != nil {
		return types.Errorf(op, types.ErrInvalidState, "order %d already has courier %d", o.ID, *o.CourierID)
	}
	if o.Status.Terminal() {
		return types.Errorf(op, types.ErrInvalidState, "order %d is %s", o.ID, o.Status)
	}
	return nil
}

// attach is the single assignment mutation shared by Assign and the sweep
func (e *Engine) attach(ctx context.Context, tx storage.Tx, actorID int64, c *storage.Courier, o *storage.Order, batch *notify.Batch) error {
	if err := tx.SetOrderCourier(ctx, o.ID, &c.ID); err != nil {
		return err
	}
	if err := tx.UpdateCourierStatus(ctx, c.ID, types.CourierWorking); err != nil {
		return err
	}
	o.CourierID = &c.ID
	c.Status = types.CourierWorking

	if o.Status == types.OrderCooked {
		if err := e.advancer.Advance(ctx, tx, actorID, o, types.OrderInDelivery, batch); err != nil {
			return err
		}
	}
	batch.Add(notify.KindGeneric, c.UserID, fmt.Sprintf("Order %d has been assigned to you", o.ID), time.Time{})
	return nil
}

// ActiveOrders lists the orders a courier is working on. Visible to the
// courier itself and administrators.
func (e *Engine) ActiveOrders(ctx context.Context, actor types.Actor, courierID int64) ([]*storage.Order, error) {
	const op = "courier.ActiveOrders"
	c, err := e.store.GetCourier(ctx, courierID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, types.Errorf(op, types.ErrNotFound, "courier %d", courierID)
	}
	if err != nil {
		return nil, err
	}
	if !actor.IsAdmin() && c.UserID != actor.ID {
		return nil, types.Errorf(op, types.ErrAccessDenied, "courier %d", courierID)
	}

	orders, err := e.store.ListCourierOrders(ctx, courierID, ActiveStatuses)
	if err != nil {
		return nil, err
	}
	if orders == nil {
		orders = []*storage.Order{}
	}
	return orders, nil
}

// SetStatus changes a courier's own availability. WORKING is reserved for
// assignment and a courier holding active orders cannot change status.
func (e *Engine) SetStatus(ctx context.Context, actor types.Actor, courierID int64, status types.CourierStatus) (*storage.Courier, error) {
	const op = "courier.SetStatus"
	if status == types.CourierWorking {
		return nil, types.Errorf(op, types.ErrValidation, "status %s is set by assignment only", status)
	}

	var c *storage.Courier
	err := storage.RunInTx(ctx, e.store, func(tx storage.Tx) error {
		var err error
		c, err = tx.GetCourierForUpdate(ctx, courierID)
		if errors.Is(err, storage.ErrNotFound) {
			return types.Errorf(op, types.ErrNotFound, "courier %d", courierID)
		}
		if err != nil {
			return err
		}
		if !actor.IsAdmin() && c.UserID != actor.ID {
			return types.Errorf(op, types.ErrAccessDenied, "courier %d", courierID)
		}
		if c.Status == status {
			return nil
		}

		active, err := tx.CountActiveOrdersByCourier(ctx, courierID)
		if err != nil {
			return err
		}
		if active > 0 {
			return types.Errorf(op, types.ErrInvalidState, "courier %d holds %d active orders", courierID, active)
		}

		if err := tx.UpdateCourierStatus(ctx, courierID, status); err != nil {
			return err
		}
		c.Status = status
		return nil
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// SweepOnce pairs unassigned CONFIRMED orders with AVAILABLE couriers in list
// order. Each pairing runs in its own savepoint so one failure is skipped
// without undoing the others.
func (e *Engine) SweepOnce(ctx context.Context) (SweepResult, error) {
	var res SweepResult
	var batch notify.Batch

	err := storage.RunInTx(ctx, e.store, func(tx storage.Tx) error {
		res = SweepResult{}
		orders, err := tx.ListUnassignedOrders(ctx, types.OrderConfirmed)
		if err != nil {
			return err
		}
		couriers, err := tx.ListCouriersByStatus(ctx, types.CourierAvailable)
		if err != nil {
			return err
		}
		res.Orders = len(orders)
		res.Couriers = len(couriers)

		pairs := len(orders)
		if len(couriers) < pairs {
			pairs = len(couriers)
		}
		res.Unmatched = len(orders) - pairs

		for i := 0; i < pairs; i++ {
			o, c := orders[i], couriers[i]
			var pairing notify.Batch
			err := storage.WithSavepoint(ctx, tx, fmt.Sprintf("sweep_%d", i), func() error {
				return e.pair(ctx, tx, c.ID, o.ID, &pairing)
			})
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				res.Skipped++
				res.Unmatched++
				e.logger.Warn("sweep pairing skipped", "order_id", o.ID, "courier_id", c.ID, "error", err)
				continue
			}
			batch.Merge(&pairing)
			res.Assigned++
		}
		return nil
	})
	if err != nil {
		return SweepResult{}, fmt.Errorf("sweep failed: %w", err)
	}

	e.metrics.SweepCompleted(res.Assigned, res.Skipped, res.Unmatched)
	batch.Flush(ctx, e.scheduler, e.logger)
	if res.Assigned > 0 || res.Skipped > 0 {
		e.logger.Info("sweep completed", "assigned", res.Assigned, "skipped", res.Skipped, "unmatched", res.Unmatched)
	}
	return res, nil
}

// pair re-reads both rows under lock so a pairing never acts on stale state
func (e *Engine) pair(ctx context.Context, tx storage.Tx, courierID, orderID int64, batch *notify.Batch) error {
	const op = "courier.Sweep"
	c, err := tx.GetCourierForUpdate(ctx, courierID)
	if err != nil {
		return err
	}
	o, err := tx.GetOrderForUpdate(ctx, orderID)
	if err != nil {
		return err
	}
	if o.Status != types.OrderConfirmed {
		return types.Errorf(op, types.ErrInvalidState, "order %d is %s", o.ID, o.Status)
	}
	if err := assignable(op, c, o); err != nil {
		return err
	}
	return e.attach(ctx, tx, 0, c, o, batch)
}

// ReleaseIfIdle returns a WORKING courier to AVAILABLE once it holds no
// active order. Runs inside the caller's transaction.
func ReleaseIfIdle(ctx context.Context, tx storage.Tx, courierID int64) error {
	c, err := tx.GetCourierForUpdate(ctx, courierID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if c.Status != types.CourierWorking {
		return nil
	}

	active, err := tx.CountActiveOrdersByCourier(ctx, courierID)
	if err != nil {
		return err
	}
	if active > 0 {
		return nil
	}
	return tx.UpdateCourierStatus(ctx, courierID, types.CourierAvailable)
}
