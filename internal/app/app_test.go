package app

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/dshills/orderflow-mcp/internal/config"
	"github.com/dshills/orderflow-mcp/internal/logging"
	"github.com/dshills/orderflow-mcp/internal/storage"
	"github.com/dshills/orderflow-mcp/internal/storage/storagetest"
	"github.com/dshills/orderflow-mcp/pkg/types"
)

const (
	ownerID       = 1
	customerID    = 7
	courierUserID = 50
	adminID       = 99
)

type ScenarioSuite struct {
	suite.Suite
	app *App
	ctx context.Context

	restaurant *storage.Restaurant
	item       *storage.MenuItem

	customer types.Actor
	owner    types.Actor
	admin    types.Actor
}

func TestScenarioSuite(t *testing.T) {
	suite.Run(t, new(ScenarioSuite))
}

func (s *ScenarioSuite) SetupTest() {
	cfg := config.Default()
	cfg.Database.DSN = filepath.Join(s.T().TempDir(), "orderflow.db")

	a, err := New(context.Background(), cfg, logging.Discard())
	s.Require().NoError(err)
	s.app = a
	s.ctx = context.Background()

	s.restaurant = storagetest.Restaurant(s.T(), a.Store, ownerID, 25)
	s.item = storagetest.MenuItem(s.T(), a.Store, s.restaurant.ID, "Burger", "10.00", 10)
	s.customer = storagetest.Actor(s.T(), customerID, "customer")
	s.owner = storagetest.Actor(s.T(), ownerID, "owner")
	s.admin = storagetest.Actor(s.T(), adminID, "admin")
}

func (s *ScenarioSuite) TearDownTest() {
	s.NoError(s.app.Close())
}

func (s *ScenarioSuite) pending() int {
	n, err := s.app.Notifications.Scheduler.Queue().Len(s.ctx)
	s.Require().NoError(err)
	return n
}

func (s *ScenarioSuite) TestHappyPath() {
	a := s.app
	c := storagetest.Courier(s.T(), a.Store, courierUserID, types.CourierAvailable)
	courierActor := storagetest.Actor(s.T(), courierUserID, "courier")

	view, err := a.Carts.AddItem(s.ctx, customerID, s.item.ID, 2)
	s.Require().NoError(err)
	s.Equal(2, view.TotalQuantity)
	s.Equal(8, storagetest.Stock(s.T(), a.Store, s.item.ID))

	o, err := a.Orders.CreateFromCart(s.ctx, customerID, s.restaurant.ID, types.PaymentCash)
	s.Require().NoError(err)
	s.Equal(types.OrderCreated, o.Status)
	s.True(decimal.RequireFromString("20.00").Equal(o.TotalPrice))
	s.Equal(8, storagetest.Stock(s.T(), a.Store, s.item.ID), "no re-reservation on order creation")

	_, err = a.Orders.UpdateStatus(s.ctx, s.owner, o.ID, types.OrderConfirmed)
	s.Require().NoError(err)
	_, err = a.Orders.UpdateStatus(s.ctx, s.owner, o.ID, types.OrderCooked)
	s.Require().NoError(err)

	assigned, err := a.Couriers.Assign(s.ctx, s.admin, c.ID, o.ID)
	s.Require().NoError(err)
	s.Equal(types.OrderInDelivery, assigned.Status)
	working, err := a.Store.GetCourier(s.ctx, c.ID)
	s.Require().NoError(err)
	s.Equal(types.CourierWorking, working.Status)

	before := s.pending()
	delivered, err := a.Orders.UpdateStatus(s.ctx, courierActor, o.ID, types.OrderDelivered)
	s.Require().NoError(err)
	s.Equal(types.OrderDelivered, delivered.Status)
	s.NotNil(delivered.CookTimeMinutes)
	s.Equal(before+2, s.pending(), "status change and review reminder")

	p, err := a.Payments.GetByOrder(s.ctx, s.customer, o.ID)
	s.Require().NoError(err)
	s.Equal(types.PaymentPaid, p.Status)
	s.True(o.TotalPrice.Equal(p.Amount))

	released, err := a.Store.GetCourier(s.ctx, c.ID)
	s.Require().NoError(err)
	s.Equal(types.CourierAvailable, released.Status)
}

func (s *ScenarioSuite) TestOwnerDispatchThenAssign() {
	a := s.app
	c := storagetest.Courier(s.T(), a.Store, courierUserID, types.CourierAvailable)
	courierActor := storagetest.Actor(s.T(), courierUserID, "courier")

	_, err := a.Carts.AddItem(s.ctx, customerID, s.item.ID, 1)
	s.Require().NoError(err)
	o, err := a.Orders.CreateFromCart(s.ctx, customerID, s.restaurant.ID, types.PaymentCash)
	s.Require().NoError(err)

	for _, to := range []types.OrderStatus{types.OrderConfirmed, types.OrderCooked, types.OrderInDelivery} {
		_, err = a.Orders.UpdateStatus(s.ctx, s.owner, o.ID, to)
		s.Require().NoError(err, to)
	}

	_, err = a.Orders.UpdateStatus(s.ctx, courierActor, o.ID, types.OrderDelivered)
	s.ErrorIs(err, types.ErrAccessDenied, "not assigned yet")

	assigned, err := a.Couriers.Assign(s.ctx, s.admin, c.ID, o.ID)
	s.Require().NoError(err)
	s.Equal(types.OrderInDelivery, assigned.Status)

	delivered, err := a.Orders.UpdateStatus(s.ctx, courierActor, o.ID, types.OrderDelivered)
	s.Require().NoError(err)
	s.Equal(types.OrderDelivered, delivered.Status)

	p, err := a.Payments.GetByOrder(s.ctx, s.customer, o.ID)
	s.Require().NoError(err)
	s.Equal(types.PaymentPaid, p.Status)

	_, err = a.Orders.UpdateStatus(s.ctx, s.admin, o.ID, types.OrderCancelled)
	s.ErrorIs(err, types.ErrAccessDenied, "terminal orders have no transitions")
}

func (s *ScenarioSuite) TestCancellationRestoresStock() {
	a := s.app

	_, err := a.Carts.AddItem(s.ctx, customerID, s.item.ID, 3)
	s.Require().NoError(err)
	s.Equal(7, storagetest.Stock(s.T(), a.Store, s.item.ID))

	o, err := a.Orders.CreateFromCart(s.ctx, customerID, s.restaurant.ID, types.PaymentCard)
	s.Require().NoError(err)

	cancelled, err := a.Orders.Cancel(s.ctx, s.customer, o.ID)
	s.Require().NoError(err)
	s.Equal(types.OrderCancelled, cancelled.Status)
	s.Equal(10, storagetest.Stock(s.T(), a.Store, s.item.ID))

	_, err = a.Orders.Cancel(s.ctx, s.customer, o.ID)
	s.ErrorIs(err, types.ErrInvalidState)
	s.Equal(10, storagetest.Stock(s.T(), a.Store, s.item.ID))
}

func (s *ScenarioSuite) TestNoCourierETA() {
	a := s.app
	storagetest.Courier(s.T(), a.Store, courierUserID, types.CourierOffline)

	est, err := a.Estimator.Estimate(s.ctx, a.Store, s.restaurant.ID)
	s.Require().NoError(err)

	cfg := a.Config.ETA
	s.Equal(25, est.PrepMinutes)
	s.Equal(cfg.BaseTimeMinutes*cfg.NoCourierMultiplier, est.WaitMinutes)
	s.Equal(25+cfg.BaseTimeMinutes*cfg.NoCourierMultiplier, est.Minutes())
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Database.Driver = "oracle"
	_, err := New(context.Background(), cfg, logging.Discard())
	assert.ErrorIs(t, err, config.ErrInvalid)
}

func TestRunWorkers_SweepsAndDispatches(t *testing.T) {
	cfg := config.Default()
	cfg.Database.DSN = filepath.Join(t.TempDir(), "orderflow.db")
	cfg.Sweep.Interval = 20 * time.Millisecond
	cfg.Notifications.PollInterval = 20 * time.Millisecond

	a, err := New(context.Background(), cfg, logging.Discard())
	require.NoError(t, err)
	defer func() { _ = a.Close() }()

	r := storagetest.Restaurant(t, a.Store, ownerID, 20)
	item := storagetest.MenuItem(t, a.Store, r.ID, "Soup", "4.00", 5)
	c := storagetest.Courier(t, a.Store, courierUserID, types.CourierAvailable)
	o := storagetest.Order(t, a.Store, customerID, item, 1, types.PaymentCash)
	storagetest.SetOrderStatus(t, a.Store, o.ID, types.OrderConfirmed)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.RunWorkers(ctx) }()

	assert.Eventually(t, func() bool {
		got, err := a.Store.GetOrder(context.Background(), o.ID)
		return err == nil && got.CourierID != nil && *got.CourierID == c.ID
	}, 2*time.Second, 20*time.Millisecond)

	// The assignment notification is delivered by the dispatcher
	assert.Eventually(t, func() bool {
		n, err := a.Notifications.Scheduler.Queue().Len(context.Background())
		return err == nil && n == 0
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("workers did not stop")
	}
}
