package order

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/orderflow-mcp/internal/cart"
	"github.com/dshills/orderflow-mcp/internal/eta"
	"github.com/dshills/orderflow-mcp/internal/logging"
	"github.com/dshills/orderflow-mcp/internal/metrics"
	"github.com/dshills/orderflow-mcp/internal/notify"
	"github.com/dshills/orderflow-mcp/internal/payment"
	"github.com/dshills/orderflow-mcp/internal/stock"
	"github.com/dshills/orderflow-mcp/internal/storage"
	"github.com/dshills/orderflow-mcp/internal/storage/storagetest"
	"github.com/dshills/orderflow-mcp/pkg/types"
)

var t0 = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

type recordingScheduler struct {
	mu        sync.Mutex
	fail      bool
	scheduled []notify.Notification
}

func (r *recordingScheduler) Schedule(ctx context.Context, n notify.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return errors.New("queue down")
	}
	r.scheduled = append(r.scheduled, n)
	return nil
}

func (r *recordingScheduler) Trigger(ctx context.Context, userID int64, message string, deliverAt time.Time) error {
	return r.Schedule(ctx, notify.Notification{UserID: userID, Kind: notify.KindGeneric, Message: message, DeliverAt: deliverAt})
}

func (r *recordingScheduler) kinds() []notify.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []notify.Kind
	for _, n := range r.scheduled {
		out = append(out, n.Kind)
	}
	return out
}

type fixture struct {
	svc        *Service
	carts      *cart.Service
	store      *storage.SQLStorage
	estimator  *eta.Estimator
	sched      *recordingScheduler
	m          *metrics.Metrics
	clock      time.Time
	restaurant *storage.Restaurant
	burger     *storage.MenuItem
	fries      *storage.MenuItem

	customer types.Actor
	owner    types.Actor
	admin    types.Actor
}

const (
	customerID = 7
	ownerID    = 1
	adminID    = 99
)

func setup(t *testing.T) *fixture {
	t.Helper()
	s := storagetest.New(t)
	m := metrics.New()
	estimator, err := eta.New(eta.Config{BaseTimeMinutes: 10, NoCourierMultiplier: 3}, m)
	require.NoError(t, err)
	ledger := stock.NewLedger(m)

	f := &fixture{
		store:     s,
		estimator: estimator,
		sched:     &recordingScheduler{},
		m:         m,
		clock:     t0,
		customer:  storagetest.Actor(t, customerID, "customer"),
		owner:     storagetest.Actor(t, ownerID, "owner"),
		admin:     storagetest.Actor(t, adminID, "admin"),
	}
	f.svc = NewService(s, ledger, estimator, f.sched, logging.Discard(), m)
	f.svc.now = func() time.Time { return f.clock }
	f.carts = cart.NewService(s, ledger, estimator, logging.Discard())

	f.restaurant = storagetest.Restaurant(t, s, ownerID, 25)
	f.burger = storagetest.MenuItem(t, s, f.restaurant.ID, "Burger", "10.00", 10)
	f.fries = storagetest.MenuItem(t, s, f.restaurant.ID, "Fries", "3.50", 10)
	return f
}

// placeOrder fills the customer's cart and creates an order from it
func (f *fixture) placeOrder(t *testing.T, method types.PaymentMethod) *storage.Order {
	t.Helper()
	ctx := context.Background()
	_, err := f.carts.AddItem(ctx, customerID, f.burger.ID, 2)
	require.NoError(t, err)
	_, err = f.carts.AddItem(ctx, customerID, f.fries.ID, 1)
	require.NoError(t, err)

	o, err := f.svc.CreateFromCart(ctx, customerID, f.restaurant.ID, method)
	require.NoError(t, err)
	return o
}

func (f *fixture) assignCourier(t *testing.T, orderID int64, userID int64) *storage.Courier {
	t.Helper()
	ctx := context.Background()
	c := storagetest.Courier(t, f.store, userID, types.CourierWorking)
	require.NoError(t, f.store.SetOrderCourier(ctx, orderID, &c.ID))
	return c
}

func TestCreateFromCart(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	o := f.placeOrder(t, types.PaymentCash)
	assert.Equal(t, types.OrderCreated, o.Status)
	assert.True(t, decimal.RequireFromString("23.50").Equal(o.TotalPrice))
	require.Len(t, o.Items, 2)

	// Stock stays reserved, the cart is empty
	assert.Equal(t, 8, storagetest.Stock(t, f.store, f.burger.ID))
	assert.Equal(t, 9, storagetest.Stock(t, f.store, f.fries.ID))
	view, err := f.carts.GetOrCreate(ctx, customerID)
	require.NoError(t, err)
	assert.Empty(t, view.Items)
	assert.Nil(t, view.DeliveryTime)

	history, err := f.svc.History(ctx, f.customer, o.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, types.OrderCreated, history[0].To)
	assert.Equal(t, []notify.Kind{notify.KindStatusChanged}, f.sched.kinds())
}

func TestCreateFromCart_Immutability(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	o := f.placeOrder(t, types.PaymentCash)
	require.NoError(t, f.store.UpdateMenuItemPrice(ctx, f.burger.ID, decimal.RequireFromString("99.00")))

	got, err := f.svc.Get(ctx, f.customer, o.ID)
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("23.50").Equal(got.TotalPrice))
	for _, item := range got.Items {
		if item.MenuItemID == f.burger.ID {
			assert.True(t, decimal.RequireFromString("10").Equal(item.Price))
		}
	}
}

func TestCreateFromCart_Rejections(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.svc.CreateFromCart(ctx, customerID, f.restaurant.ID, types.PaymentCash)
	assert.ErrorIs(t, err, types.ErrInvalidState, "empty cart")

	_, err = f.svc.CreateFromCart(ctx, customerID, 999, types.PaymentCash)
	assert.ErrorIs(t, err, types.ErrNotFound)

	_, err = f.carts.AddItem(ctx, customerID, f.burger.ID, 1)
	require.NoError(t, err)

	other := storagetest.Restaurant(t, f.store, 2, 10)
	_, err = f.svc.CreateFromCart(ctx, customerID, other.ID, types.PaymentCash)
	assert.ErrorIs(t, err, types.ErrInvalidState, "item not on the menu")

	require.NoError(t, f.store.SetRestaurantOpen(ctx, f.restaurant.ID, false))
	_, err = f.svc.CreateFromCart(ctx, customerID, f.restaurant.ID, types.PaymentCash)
	assert.ErrorIs(t, err, types.ErrInvalidState, "closed")

	view, err := f.carts.GetOrCreate(ctx, customerID)
	require.NoError(t, err)
	assert.Len(t, view.Items, 1, "cart untouched by failed creation")
}

func TestUpdateStatus_Grid(t *testing.T) {
	const (
		courierUser = 50
		otherUser   = 51
	)
	tests := []struct {
		name   string
		actor  func(t *testing.T) types.Actor
		method types.PaymentMethod
		from   types.OrderStatus
		to     types.OrderStatus
		want   error
	}{
		{"owner confirms cash", owner, types.PaymentCash, types.OrderCreated, types.OrderConfirmed, nil},
		{"owner cannot confirm card", owner, types.PaymentCard, types.OrderCreated, types.OrderConfirmed, types.ErrAccessDenied},
		{"owner cooks", owner, types.PaymentCard, types.OrderConfirmed, types.OrderCooked, nil},
		{"owner dispatches", owner, types.PaymentCash, types.OrderCooked, types.OrderInDelivery, nil},
		{"owner cancels in delivery", owner, types.PaymentCash, types.OrderInDelivery, types.OrderCancelled, nil},
		{"owner cannot skip", owner, types.PaymentCash, types.OrderCreated, types.OrderCooked, types.ErrAccessDenied},
		{"owner cannot deliver", owner, types.PaymentCash, types.OrderInDelivery, types.OrderDelivered, types.ErrAccessDenied},
		{"owner cannot go back", owner, types.PaymentCash, types.OrderCooked, types.OrderConfirmed, types.ErrAccessDenied},
		{"other owner denied", actorWith(2, "owner"), types.PaymentCash, types.OrderCreated, types.OrderConfirmed, types.ErrAccessDenied},
		{"courier delivers", actorWith(courierUser, "courier"), types.PaymentCash, types.OrderInDelivery, types.OrderDelivered, nil},
		{"unassigned courier denied", actorWith(otherUser, "courier"), types.PaymentCash, types.OrderInDelivery, types.OrderDelivered, types.ErrAccessDenied},
		{"courier cannot cook", actorWith(courierUser, "courier"), types.PaymentCash, types.OrderConfirmed, types.OrderCooked, types.ErrAccessDenied},
		{"customer denied", actorWith(customerID, "customer"), types.PaymentCash, types.OrderCreated, types.OrderConfirmed, types.ErrAccessDenied},
		{"admin skips ahead", actorWith(adminID, "admin"), types.PaymentCard, types.OrderCreated, types.OrderCooked, nil},
		{"admin cancels", actorWith(adminID, "admin"), types.PaymentCard, types.OrderCooked, types.OrderCancelled, nil},
		{"admin cannot go back", actorWith(adminID, "admin"), types.PaymentCash, types.OrderInDelivery, types.OrderCreated, types.ErrAccessDenied},
		{"admin on delivered", actorWith(adminID, "admin"), types.PaymentCash, types.OrderDelivered, types.OrderCancelled, types.ErrAccessDenied},
		{"owner reopens delivered", owner, types.PaymentCash, types.OrderDelivered, types.OrderConfirmed, types.ErrAccessDenied},
		{"owner on cancelled", owner, types.PaymentCash, types.OrderCancelled, types.OrderConfirmed, types.ErrAccessDenied},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setup(t)
			ctx := context.Background()

			o := storagetest.Order(t, f.store, customerID, f.burger, 1, tt.method)
			storagetest.SetOrderStatus(t, f.store, o.ID, tt.from)
			f.assignCourier(t, o.ID, courierUser)
			storagetest.Courier(t, f.store, otherUser, types.CourierAvailable)

			got, err := f.svc.UpdateStatus(ctx, tt.actor(t), o.ID, tt.to)
			stored, getErr := f.store.GetOrder(ctx, o.ID)
			require.NoError(t, getErr)

			if tt.want != nil {
				assert.ErrorIs(t, err, tt.want)
				assert.Equal(t, tt.from, stored.Status, "no mutation on rejection")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.to, got.Status)
			assert.Equal(t, tt.to, stored.Status)
		})
	}
}

func owner(t *testing.T) types.Actor {
	return storagetest.Actor(t, ownerID, "owner")
}

func actorWith(id int64, roles ...string) func(t *testing.T) types.Actor {
	return func(t *testing.T) types.Actor {
		return storagetest.Actor(t, id, roles...)
	}
}

func TestUpdateStatus_Delivered(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	o := f.placeOrder(t, types.PaymentCash)
	c := f.assignCourier(t, o.ID, 50)
	storagetest.SetOrderStatus(t, f.store, o.ID, types.OrderInDelivery)

	// Warm the cache with the static average
	prep, err := f.estimator.PrepMinutes(ctx, f.store, f.restaurant.ID)
	require.NoError(t, err)
	assert.Equal(t, 25, prep)

	f.clock = t0.Add(42*time.Minute + 30*time.Second)
	got, err := f.svc.UpdateStatus(ctx, storagetest.Actor(t, 50, "courier"), o.ID, types.OrderDelivered)
	require.NoError(t, err)
	require.NotNil(t, got.CookTimeMinutes)
	assert.Equal(t, 42, *got.CookTimeMinutes)

	stored, err := f.store.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.CookTimeMinutes)
	assert.Equal(t, 42, *stored.CookTimeMinutes)

	samples, err := f.store.RecentPrepTimes(ctx, f.restaurant.ID, 10)
	require.NoError(t, err)
	assert.Equal(t, []int{42}, samples)
	prep, err = f.estimator.PrepMinutes(ctx, f.store, f.restaurant.ID)
	require.NoError(t, err)
	assert.Equal(t, 42, prep, "cache invalidated after commit")

	p, err := f.store.GetPaymentByOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, types.PaymentPaid, p.Status)
	assert.True(t, o.TotalPrice.Equal(p.Amount))

	courierNow, err := f.store.GetCourier(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, types.CourierAvailable, courierNow.Status)

	var reminder *notify.Notification
	for i, n := range f.sched.scheduled {
		if n.Kind == notify.KindReviewReminder {
			reminder = &f.sched.scheduled[i]
		}
	}
	require.NotNil(t, reminder)
	assert.Equal(t, int64(customerID), reminder.UserID)
	assert.True(t, f.clock.Add(30*time.Minute).Equal(reminder.DeliverAt))

	assert.Equal(t, 1.0, testutil.ToFloat64(f.m.OrderTransitions.WithLabelValues("IN_DELIVERY", "DELIVERED")))
}

func TestCancel(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	o := f.placeOrder(t, types.PaymentCash)
	c := f.assignCourier(t, o.ID, 50)
	storagetest.SetOrderStatus(t, f.store, o.ID, types.OrderConfirmed)

	_, err := f.svc.Cancel(ctx, storagetest.Actor(t, 8, "customer"), o.ID)
	assert.ErrorIs(t, err, types.ErrAccessDenied)

	got, err := f.svc.Cancel(ctx, f.customer, o.ID)
	require.NoError(t, err)
	assert.Equal(t, types.OrderCancelled, got.Status)

	assert.Equal(t, 10, storagetest.Stock(t, f.store, f.burger.ID))
	assert.Equal(t, 10, storagetest.Stock(t, f.store, f.fries.ID))

	courierNow, err := f.store.GetCourier(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, types.CourierAvailable, courierNow.Status)

	_, err = f.svc.Cancel(ctx, f.admin, o.ID)
	assert.ErrorIs(t, err, types.ErrInvalidState)
	assert.Equal(t, 10, storagetest.Stock(t, f.store, f.burger.ID), "released once")

	history, err := f.svc.History(ctx, f.owner, o.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, types.OrderConfirmed, history[1].From)
	assert.Equal(t, types.OrderCancelled, history[1].To)
	assert.Equal(t, int64(customerID), history[1].ActorID)
}

func TestCancel_ByOwner(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	o := f.placeOrder(t, types.PaymentCard)
	_, err := f.svc.Cancel(ctx, storagetest.Actor(t, 2, "owner"), o.ID)
	assert.ErrorIs(t, err, types.ErrAccessDenied)

	_, err = f.svc.Cancel(ctx, f.owner, o.ID)
	require.NoError(t, err)
}

func TestConfirmPaid_ThroughPayment(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	payments := payment.NewService(f.store, f.svc, f.sched, logging.Discard())

	o := f.placeOrder(t, types.PaymentCard)
	p, err := payments.Create(ctx, f.customer, o.ID)
	require.NoError(t, err)

	_, err = payments.UpdateStatus(ctx, f.admin, p.ID, types.PaymentPaid)
	require.NoError(t, err)

	got, err := f.svc.Get(ctx, f.customer, o.ID)
	require.NoError(t, err)
	assert.Equal(t, types.OrderConfirmed, got.Status)

	cancelled := f.placeOrder(t, types.PaymentCard)
	p, err = payments.Create(ctx, f.customer, cancelled.ID)
	require.NoError(t, err)
	_, err = f.svc.Cancel(ctx, f.customer, cancelled.ID)
	require.NoError(t, err)

	_, err = payments.UpdateStatus(ctx, f.admin, p.ID, types.PaymentPaid)
	assert.ErrorIs(t, err, types.ErrInvalidState)
}

func TestGet_Visibility(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	o := f.placeOrder(t, types.PaymentCash)
	f.assignCourier(t, o.ID, 50)

	for _, a := range []types.Actor{
		f.customer, f.owner, f.admin, storagetest.Actor(t, 50, "courier"),
	} {
		_, err := f.svc.Get(ctx, a, o.ID)
		assert.NoError(t, err, "actor %d", a.ID)
	}

	for _, a := range []types.Actor{
		storagetest.Actor(t, 8, "customer"),
		storagetest.Actor(t, 2, "owner"),
		storagetest.Actor(t, 51, "courier"),
	} {
		_, err := f.svc.Get(ctx, a, o.ID)
		assert.ErrorIs(t, err, types.ErrAccessDenied, "actor %d", a.ID)
	}

	_, err := f.svc.Get(ctx, f.admin, 999)
	assert.ErrorIs(t, err, types.ErrNotFound)

	orders, err := f.svc.ListForCustomer(ctx, customerID)
	require.NoError(t, err)
	assert.Len(t, orders, 1)
}

func TestNotificationFailureDoesNotRollBack(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	o := f.placeOrder(t, types.PaymentCash)
	f.sched.fail = true

	got, err := f.svc.UpdateStatus(ctx, f.owner, o.ID, types.OrderConfirmed)
	require.NoError(t, err)
	assert.Equal(t, types.OrderConfirmed, got.Status)
}

func TestTargets(t *testing.T) {
	assert.ElementsMatch(t,
		[]types.OrderStatus{types.OrderInDelivery, types.OrderDelivered, types.OrderCancelled},
		Targets(types.RoleAdmin, types.OrderCooked))
	assert.Empty(t, Targets(types.RoleAdmin, types.OrderDelivered))
	assert.Empty(t, Targets(types.RoleCustomer, types.OrderCreated))
	assert.False(t, Allowed(types.RoleOwner, types.OrderCreated, types.OrderConfirmed, types.PaymentCard))
	assert.True(t, Allowed(types.RoleOwner, types.OrderCreated, types.OrderConfirmed, types.PaymentCash))
}
