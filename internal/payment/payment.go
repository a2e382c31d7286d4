package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dshills/orderflow-mcp/internal/notify"
	"github.com/dshills/orderflow-mcp/internal/storage"
	"github.com/dshills/orderflow-mcp/pkg/types"
)

// OrderConfirmer moves a CREATED order to CONFIRMED once its payment is PAID.
// It runs inside the caller's transaction and records its notifications in
// batch.
type OrderConfirmer interface {
	ConfirmPaid(ctx context.Context, tx storage.Tx, actor types.Actor, orderID int64, batch *notify.Batch) error
}

// Service reconciles payments with their orders
type Service struct {
	store     storage.Storage
	confirmer OrderConfirmer
	scheduler notify.Notifier
	logger    *slog.Logger
}

// NewService creates a payment service. scheduler may be nil, in which case
// notifications are dropped.
func NewService(store storage.Storage, confirmer OrderConfirmer, scheduler notify.Notifier, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, confirmer: confirmer, scheduler: scheduler, logger: logger}
}

// Create opens a PENDING payment for the full order total. Only the order's
// customer can pay and an order has at most one payment.
func (s *Service) Create(ctx context.Context, actor types.Actor, orderID int64) (*storage.Payment, error) {
	const op = "payment.Create"

	var p *storage.Payment
	err := storage.RunInTx(ctx, s.store, func(tx storage.Tx) error {
		o, err := tx.GetOrderForUpdate(ctx, orderID)
		if errors.Is(err, storage.ErrNotFound) {
			return types.Errorf(op, types.ErrNotFound, "order %d", orderID)
		}
		if err != nil {
			return err
		}
		if o.CustomerID != actor.ID {
			return types.Errorf(op, types.ErrAccessDenied, "user %d cannot pay order %d", actor.ID, orderID)
		}
		if o.Status.Terminal() {
			return types.Errorf(op, types.ErrInvalidState, "order %d is %s", orderID, o.Status)
		}

		if _, err := tx.GetPaymentByOrder(ctx, orderID); err == nil {
			return types.Errorf(op, types.ErrInvalidState, "order %d already has a payment", orderID)
		} else if !errors.Is(err, storage.ErrNotFound) {
			return err
		}

		p = &storage.Payment{
			OrderID: orderID,
			PayerID: actor.ID,
			Amount:  o.TotalPrice,
			Status:  types.PaymentPending,
		}
		if err := tx.CreatePayment(ctx, p); err != nil {
			if errors.Is(err, storage.ErrAlreadyExists) {
				return types.Errorf(op, types.ErrInvalidState, "order %d already has a payment", orderID)
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("payment created", "payment_id", p.ID, "order_id", orderID, "amount", p.Amount.String())
	return p, nil
}

// UpdateStatus records the outcome of a card payment. Only PENDING payments
// move, and only to PAID or FAILED. PAID confirms a CREATED order.
func (s *Service) UpdateStatus(ctx context.Context, actor types.Actor, paymentID int64, status types.PaymentStatus) (*storage.Payment, error) {
	const op = "payment.UpdateStatus"
	if !actor.IsAdmin() {
		return nil, types.Errorf(op, types.ErrAccessDenied, "only an administrator can settle payments")
	}

	var batch notify.Batch
	var p *storage.Payment
	err := storage.RunInTx(ctx, s.store, func(tx storage.Tx) error {
		var err error
		p, err = tx.GetPayment(ctx, paymentID)
		if errors.Is(err, storage.ErrNotFound) {
			return types.Errorf(op, types.ErrNotFound, "payment %d", paymentID)
		}
		if err != nil {
			return err
		}

		o, err := tx.GetOrderForUpdate(ctx, p.OrderID)
		if err != nil {
			return fmt.Errorf("failed to load order %d: %w", p.OrderID, err)
		}
		if o.PaymentMethod == types.PaymentCash {
			return types.Errorf(op, types.ErrInvalidState, "order %d is paid in cash on delivery", o.ID)
		}
		if p.Status != types.PaymentPending || (status != types.PaymentPaid && status != types.PaymentFailed) {
			return types.Errorf(op, types.ErrInvalidState, "payment %d cannot move from %s to %s", paymentID, p.Status, status)
		}

		switch status {
		case types.PaymentPaid:
			if err := s.confirmer.ConfirmPaid(ctx, tx, actor, o.ID, &batch); err != nil {
				return err
			}
		case types.PaymentFailed:
			batch.Add(notify.KindGeneric, o.CustomerID,
				fmt.Sprintf("Payment for order %d failed", o.ID), time.Time{})
		}

		if err := tx.UpdatePaymentStatus(ctx, paymentID, status); err != nil {
			return err
		}
		p.Status = status
		return nil
	})
	if err != nil {
		return nil, err
	}

	batch.Flush(ctx, s.scheduler, s.logger)
	s.logger.Info("payment settled", "payment_id", paymentID, "status", string(status))
	return p, nil
}

// Get returns a payment visible to its payer or an administrator
func (s *Service) Get(ctx context.Context, actor types.Actor, paymentID int64) (*storage.Payment, error) {
	p, err := s.store.GetPayment(ctx, paymentID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, types.Errorf("payment.Get", types.ErrNotFound, "payment %d", paymentID)
	}
	if err != nil {
		return nil, err
	}
	if err := visible(actor, p, "payment.Get"); err != nil {
		return nil, err
	}
	return p, nil
}

// GetByOrder returns the payment of an order
func (s *Service) GetByOrder(ctx context.Context, actor types.Actor, orderID int64) (*storage.Payment, error) {
	p, err := s.store.GetPaymentByOrder(ctx, orderID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, types.Errorf("payment.GetByOrder", types.ErrNotFound, "payment for order %d", orderID)
	}
	if err != nil {
		return nil, err
	}
	if err := visible(actor, p, "payment.GetByOrder"); err != nil {
		return nil, err
	}
	return p, nil
}

func visible(actor types.Actor, p *storage.Payment, op string) error {
	if actor.IsAdmin() || p.PayerID == actor.ID {
		return nil
	}
	return types.Errorf(op, types.ErrAccessDenied, "payment %d", p.ID)
}

// SettleCash marks the payment of a delivered CASH order PAID, creating it
// when the customer never opened one. Card orders are left untouched.
func SettleCash(ctx context.Context, tx storage.Tx, o *storage.Order) error {
	if o.PaymentMethod != types.PaymentCash {
		return nil
	}

	p, err := tx.GetPaymentByOrder(ctx, o.ID)
	if errors.Is(err, storage.ErrNotFound) {
		return tx.CreatePayment(ctx, &storage.Payment{
			OrderID: o.ID,
			PayerID: o.CustomerID,
			Amount:  o.TotalPrice,
			Status:  types.PaymentPaid,
		})
	}
	if err != nil {
		return err
	}
	if p.Status == types.PaymentPaid {
		return nil
	}
	return tx.UpdatePaymentStatus(ctx, p.ID, types.PaymentPaid)
}
