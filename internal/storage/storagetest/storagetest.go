// Package storagetest provides in-memory stores and fixtures for tests.
package storagetest

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/dshills/orderflow-mcp/internal/storage"
	"github.com/dshills/orderflow-mcp/pkg/types"
)

// PostgresDSNEnv names the variable that enables PostgreSQL backed tests
const PostgresDSNEnv = "ORDERFLOW_TEST_POSTGRES_DSN"

var memCounter int64

// New returns a migrated SQLite store private to the test
func New(t testing.TB) *storage.SQLStorage {
	t.Helper()
	// A named shared-cache memory database keeps every pooled connection on
	// the same data; the name keeps tests isolated from each other.
	n := atomic.AddInt64(&memCounter, 1)
	dsn := fmt.Sprintf("file:orderflow_test_%d?mode=memory&cache=shared", n)
	s, err := storage.Open(context.Background(), storage.DialectSQLite, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// NewPostgres returns a PostgreSQL store or skips the test when no DSN is set
func NewPostgres(t testing.TB) *storage.SQLStorage {
	t.Helper()
	dsn := os.Getenv(PostgresDSNEnv)
	if dsn == "" {
		t.Skipf("%s not set", PostgresDSNEnv)
	}
	s, err := storage.Open(context.Background(), storage.DialectPostgres, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// Restaurant inserts an open restaurant owned by ownerID
func Restaurant(t testing.TB, s storage.Storage, ownerID int64, avgCookMinutes int) *storage.Restaurant {
	t.Helper()
	r := &storage.Restaurant{
		OwnerID:            ownerID,
		Name:               fmt.Sprintf("Restaurant of %d", ownerID),
		Open:               true,
		AverageCookMinutes: avgCookMinutes,
	}
	require.NoError(t, s.CreateRestaurant(context.Background(), r))
	return r
}

// MenuItem inserts an available item with the given price and stock
func MenuItem(t testing.TB, s storage.Storage, restaurantID int64, name, price string, stock int) *storage.MenuItem {
	t.Helper()
	item := &storage.MenuItem{
		RestaurantID:  restaurantID,
		Name:          name,
		Price:         decimal.RequireFromString(price),
		Available:     true,
		StockQuantity: stock,
		Cuisine:       "house",
	}
	require.NoError(t, s.CreateMenuItem(context.Background(), item))
	return item
}

// Courier inserts a courier profile for userID with the given status
func Courier(t testing.TB, s storage.Storage, userID int64, status types.CourierStatus) *storage.Courier {
	t.Helper()
	c := &storage.Courier{UserID: userID, VehicleType: "bike", Status: status}
	require.NoError(t, s.CreateCourier(context.Background(), c))
	return c
}

// Stock reads the current stock of a menu item
func Stock(t testing.TB, s storage.Storage, menuItemID int64) int {
	t.Helper()
	item, err := s.GetMenuItem(context.Background(), menuItemID)
	require.NoError(t, err)
	return item.StockQuantity
}

// Actor builds an actor or fails the test
func Actor(t testing.TB, id int64, roles ...string) types.Actor {
	t.Helper()
	a, err := types.NewActor(id, roles...)
	require.NoError(t, err)
	return a
}

// Order inserts a CREATED order of qty units of item. The item's stock is
// not touched.
func Order(t testing.TB, s storage.Storage, customerID int64, item *storage.MenuItem, qty int, method types.PaymentMethod) *storage.Order {
	t.Helper()
	o := &storage.Order{
		CustomerID:    customerID,
		RestaurantID:  item.RestaurantID,
		Items:         []*storage.OrderItem{{MenuItemID: item.ID, Quantity: qty, Price: item.Price}},
		TotalPrice:    item.Price.Mul(decimal.NewFromInt(int64(qty))),
		PaymentMethod: method,
		Status:        types.OrderCreated,
	}
	require.NoError(t, s.CreateOrder(context.Background(), o))
	return o
}

// SetOrderStatus forces an order into status without any transition rule
func SetOrderStatus(t testing.TB, s storage.Storage, orderID int64, status types.OrderStatus) {
	t.Helper()
	require.NoError(t, s.UpdateOrderStatus(context.Background(), orderID, status, nil))
}
