package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/shopspring/decimal"

	"github.com/dshills/orderflow-mcp/internal/app"
	"github.com/dshills/orderflow-mcp/internal/config"
	"github.com/dshills/orderflow-mcp/internal/logging"
	"github.com/dshills/orderflow-mcp/internal/storage"
	"github.com/dshills/orderflow-mcp/pkg/types"
)

const (
	ownerUserID    = 1
	customerUserID = 7
	courierUserID  = 50
	adminUserID    = 99
)

func main() {
	fmt.Println("Seeding demo data and running the happy path...")

	cfg, err := config.Load("")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	cfg.Sweep.Enabled = false

	logger, closer, err := logging.New(cfg.Logging)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() { _ = closer.Close() }()

	ctx := context.Background()
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("Failed to initialize engine: %v", err)
	}
	defer func() { _ = a.Close() }()

	customer := mustActor(customerUserID, "customer")
	owner := mustActor(ownerUserID, "owner")
	courierActor := mustActor(courierUserID, "courier")
	admin := mustActor(adminUserID, "admin")

	// Directory data
	restaurant := &storage.Restaurant{OwnerID: ownerUserID, Name: "Demo Diner", Open: true, AverageCookMinutes: 25}
	if err := a.Store.CreateRestaurant(ctx, restaurant); err != nil {
		log.Fatalf("Failed to create restaurant: %v", err)
	}
	burger := &storage.MenuItem{
		RestaurantID:  restaurant.ID,
		Name:          "Burger",
		Price:         decimal.RequireFromString("10.00"),
		Available:     true,
		StockQuantity: 10,
		Cuisine:       "american",
	}
	if err := a.Store.CreateMenuItem(ctx, burger); err != nil {
		log.Fatalf("Failed to create menu item: %v", err)
	}
	courier, err := ensureCourier(ctx, a, admin)
	if err != nil {
		log.Fatalf("Failed to prepare courier: %v", err)
	}
	fmt.Printf("\nSeeded:\n")
	fmt.Printf("  Restaurant: %d (%s)\n", restaurant.ID, restaurant.Name)
	fmt.Printf("  Menu Item: %d (%s, %s, stock %d)\n", burger.ID, burger.Name, burger.Price.StringFixed(2), burger.StockQuantity)
	fmt.Printf("  Courier: %d (%s)\n", courier.ID, courier.Status)

	est, err := a.Estimator.Estimate(ctx, a.Store, restaurant.ID)
	if err != nil {
		log.Fatalf("Failed to estimate: %v", err)
	}
	fmt.Printf("  ETA: %d prep + %.1f wait = %.1f minutes\n", est.PrepMinutes, est.WaitMinutes, est.Minutes())

	// Cart
	if _, err := a.Carts.Clear(ctx, customerUserID); err != nil {
		log.Fatalf("Failed to clear cart: %v", err)
	}
	view, err := a.Carts.AddItem(ctx, customerUserID, burger.ID, 2)
	if err != nil {
		log.Fatalf("Failed to add item: %v", err)
	}
	fmt.Printf("\nStep 1: cart holds %d items, total %s\n", view.TotalQuantity, view.TotalPrice.StringFixed(2))

	o, err := a.Orders.CreateFromCart(ctx, customerUserID, restaurant.ID, types.PaymentCash)
	if err != nil {
		log.Fatalf("Failed to create order: %v", err)
	}
	fmt.Printf("Step 2: order %d %s, total %s\n", o.ID, o.Status, o.TotalPrice.StringFixed(2))

	steps := []struct {
		actor types.Actor
		to    types.OrderStatus
	}{
		{owner, types.OrderConfirmed},
		{owner, types.OrderCooked},
	}
	for i, step := range steps {
		if o, err = a.Orders.UpdateStatus(ctx, step.actor, o.ID, step.to); err != nil {
			log.Fatalf("Failed to move order to %s: %v", step.to, err)
		}
		fmt.Printf("Step %d: order %d %s\n", i+3, o.ID, o.Status)
	}

	if o, err = a.Couriers.Assign(ctx, admin, courier.ID, o.ID); err != nil {
		log.Fatalf("Failed to assign courier: %v", err)
	}
	fmt.Printf("Step 5: courier %d assigned, order %s\n", courier.ID, o.Status)

	if o, err = a.Orders.UpdateStatus(ctx, courierActor, o.ID, types.OrderDelivered); err != nil {
		log.Fatalf("Failed to deliver: %v", err)
	}
	fmt.Printf("Step 6: order %d %s after %d minutes\n", o.ID, o.Status, *o.CookTimeMinutes)

	p, err := a.Payments.GetByOrder(ctx, customer, o.ID)
	if err != nil {
		log.Fatalf("Failed to read payment: %v", err)
	}
	fmt.Printf("Step 7: payment %d %s for %s\n", p.ID, p.Status, p.Amount.StringFixed(2))

	delivered, err := a.Notifications.Dispatcher.DispatchDue(ctx)
	if err != nil {
		log.Fatalf("Failed to dispatch notifications: %v", err)
	}
	pending, err := a.Notifications.Scheduler.Queue().Len(ctx)
	if err != nil {
		log.Fatalf("Failed to read notification queue: %v", err)
	}

	fmt.Printf("\nNotifications:\n")
	fmt.Printf("  Delivered: %d (%s sink)\n", delivered, a.Notifications.SinkKind)
	fmt.Printf("  Scheduled for later: %d (%s queue)\n", pending, a.Notifications.QueueKind)

	if o.Status != types.OrderDelivered || p.Status != types.PaymentPaid {
		fmt.Println("\n✗ FAILURE: order did not complete")
		os.Exit(1)
	}
	fmt.Println("\n✓ SUCCESS: order delivered and paid")
}

func mustActor(id int64, roles ...string) types.Actor {
	a, err := types.NewActor(id, roles...)
	if err != nil {
		log.Fatalf("Invalid actor: %v", err)
	}
	return a
}

// ensureCourier reuses the demo courier from an earlier run when present
func ensureCourier(ctx context.Context, a *app.App, admin types.Actor) (*storage.Courier, error) {
	c, err := a.Store.GetCourierByUser(ctx, courierUserID)
	if errors.Is(err, storage.ErrNotFound) {
		c = &storage.Courier{UserID: courierUserID, VehicleType: "bike", Status: types.CourierAvailable}
		return c, a.Store.CreateCourier(ctx, c)
	}
	if err != nil {
		return nil, err
	}
	if c.Available() {
		return c, nil
	}
	return a.Couriers.SetStatus(ctx, admin, c.ID, types.CourierAvailable)
}
