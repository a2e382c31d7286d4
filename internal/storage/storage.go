package storage

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dshills/orderflow-mcp/pkg/types"
)

// Storage defines the interface for persisting marketplace aggregates
type Storage interface {
	// Restaurant operations
	CreateRestaurant(ctx context.Context, restaurant *Restaurant) error
	GetRestaurant(ctx context.Context, restaurantID int64) (*Restaurant, error)
	SetRestaurantOpen(ctx context.Context, restaurantID int64, open bool) error

	// Menu item operations
	CreateMenuItem(ctx context.Context, item *MenuItem) error
	GetMenuItem(ctx context.Context, menuItemID int64) (*MenuItem, error)
	GetMenuItemForUpdate(ctx context.Context, menuItemID int64) (*MenuItem, error)
	ListMenuItems(ctx context.Context, restaurantID int64) ([]*MenuItem, error)
	UpdateMenuItemStock(ctx context.Context, menuItemID int64, stockQuantity int) error
	UpdateMenuItemPrice(ctx context.Context, menuItemID int64, price decimal.Decimal) error

	// Cart operations
	GetCartByCustomer(ctx context.Context, customerID int64) (*Cart, error)
	CreateCart(ctx context.Context, cart *Cart) error
	UpdateCartDeliveryTime(ctx context.Context, cartID int64, deliveryTime *time.Time) error
	ListCartItems(ctx context.Context, cartID int64) ([]*CartItem, error)
	GetCartItem(ctx context.Context, cartItemID int64) (*CartItem, error)
	InsertCartItem(ctx context.Context, item *CartItem) error
	UpdateCartItemQuantity(ctx context.Context, cartItemID int64, quantity int) error
	DeleteCartItem(ctx context.Context, cartItemID int64) error
	DeleteCartItems(ctx context.Context, cartID int64) error

	// Order operations
	CreateOrder(ctx context.Context, order *Order) error
	GetOrder(ctx context.Context, orderID int64) (*Order, error)
	GetOrderForUpdate(ctx context.Context, orderID int64) (*Order, error)
	UpdateOrderStatus(ctx context.Context, orderID int64, status types.OrderStatus, cookTimeMinutes *int) error
	SetOrderCourier(ctx context.Context, orderID int64, courierID *int64) error
	ListOrdersByCustomer(ctx context.Context, customerID int64) ([]*Order, error)
	ListUnassignedOrders(ctx context.Context, status types.OrderStatus) ([]*Order, error)
	ListCourierOrders(ctx context.Context, courierID int64, statuses []types.OrderStatus) ([]*Order, error)
	CountActiveOrdersByCourier(ctx context.Context, courierID int64) (int, error)
	AppendStatusHistory(ctx context.Context, change *StatusChange) error
	ListStatusHistory(ctx context.Context, orderID int64) ([]*StatusChange, error)

	// Courier operations
	CreateCourier(ctx context.Context, courier *Courier) error
	GetCourier(ctx context.Context, courierID int64) (*Courier, error)
	GetCourierByUser(ctx context.Context, userID int64) (*Courier, error)
	GetCourierForUpdate(ctx context.Context, courierID int64) (*Courier, error)
	ListCouriersByStatus(ctx context.Context, status types.CourierStatus) ([]*Courier, error)
	UpdateCourierStatus(ctx context.Context, courierID int64, status types.CourierStatus) error
	CourierLoads(ctx context.Context) ([]CourierLoad, error)

	// Payment operations
	CreatePayment(ctx context.Context, payment *Payment) error
	GetPayment(ctx context.Context, paymentID int64) (*Payment, error)
	GetPaymentByOrder(ctx context.Context, orderID int64) (*Payment, error)
	UpdatePaymentStatus(ctx context.Context, paymentID int64, status types.PaymentStatus) error

	// Prep time history
	AddPrepTimeSample(ctx context.Context, sample *PrepTimeSample) error
	RecentPrepTimes(ctx context.Context, restaurantID int64, limit int) ([]int, error)

	// Database operations
	Close() error
	BeginTx(ctx context.Context) (Tx, error)
}

// Tx represents a database transaction
type Tx interface {
	Commit() error
	Rollback() error

	// Savepoints scope a partial rollback inside the transaction
	Savepoint(ctx context.Context, name string) error
	RollbackTo(ctx context.Context, name string) error
	Release(ctx context.Context, name string) error

	Storage // Embed Storage interface for transaction operations
}

// Restaurant is the directory view of a restaurant
type Restaurant struct {
	ID                 int64     `json:"id"`
	OwnerID            int64     `json:"owner_id"`
	Name               string    `json:"name"`
	Open               bool      `json:"open"`
	AverageCookMinutes int       `json:"average_cook_minutes"`
	CreatedAt          time.Time `json:"created_at"`
}

// MenuItem is a purchasable item with its stock counter
type MenuItem struct {
	ID            int64           `json:"id"`
	RestaurantID  int64           `json:"restaurant_id"`
	Name          string          `json:"name"`
	Price         decimal.Decimal `json:"price"`
	Available     bool            `json:"available"`
	StockQuantity int             `json:"stock_quantity"`
	Cuisine       string          `json:"cuisine"`
	FoodTypes     []string        `json:"food_types,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Cart is the per-customer basket. Items is only populated by callers that
// load it explicitly.
type Cart struct {
	ID           int64       `json:"id"`
	CustomerID   int64       `json:"customer_id"`
	DeliveryTime *time.Time  `json:"delivery_time,omitempty"` // Nullable
	Items        []*CartItem `json:"items,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

// CartItem is one line of a cart. Name, Price and RestaurantID are read from
// the menu item and reflect its current values.
type CartItem struct {
	ID           int64           `json:"id"`
	CartID       int64           `json:"cart_id"`
	MenuItemID   int64           `json:"menu_item_id"`
	Quantity     int             `json:"quantity"`
	Name         string          `json:"name"`
	Price        decimal.Decimal `json:"price"`
	RestaurantID int64           `json:"restaurant_id"`
}

// LineTotal is current price times quantity
func (ci *CartItem) LineTotal() decimal.Decimal {
	return ci.Price.Mul(decimal.NewFromInt(int64(ci.Quantity)))
}

// Order is a placed order. Items are immutable after creation.
type Order struct {
	ID              int64               `json:"id"`
	CustomerID      int64               `json:"customer_id"`
	RestaurantID    int64               `json:"restaurant_id"`
	CourierID       *int64              `json:"courier_id,omitempty"`        // Nullable
	Items           []*OrderItem        `json:"items,omitempty"`
	TotalPrice      decimal.Decimal     `json:"total_price"`
	PaymentMethod   types.PaymentMethod `json:"payment_method"`
	Status          types.OrderStatus   `json:"status"`
	CookTimeMinutes *int                `json:"cook_time_minutes,omitempty"` // Set on delivery
	CreatedAt       time.Time           `json:"created_at"`
	UpdatedAt       time.Time           `json:"updated_at"`
}

// OrderItem carries the price snapshot taken when the order was placed
type OrderItem struct {
	ID         int64           `json:"id"`
	OrderID    int64           `json:"order_id"`
	MenuItemID int64           `json:"menu_item_id"`
	Quantity   int             `json:"quantity"`
	Price      decimal.Decimal `json:"price"`
}

// LineTotal is snapshot price times quantity
func (oi *OrderItem) LineTotal() decimal.Decimal {
	return oi.Price.Mul(decimal.NewFromInt(int64(oi.Quantity)))
}

// StatusChange is an audit row for a committed order status change
type StatusChange struct {
	ID        int64             `json:"id"`
	OrderID   int64             `json:"order_id"`
	From      types.OrderStatus `json:"from"`
	To        types.OrderStatus `json:"to"`
	ActorID   int64             `json:"actor_id"`
	CreatedAt time.Time         `json:"created_at"`
}

// Courier is a delivery worker profile
type Courier struct {
	ID          int64               `json:"id"`
	UserID      int64               `json:"user_id"`
	VehicleType string              `json:"vehicle_type"`
	Status      types.CourierStatus `json:"status"`
	CreatedAt   time.Time           `json:"created_at"`
	UpdatedAt   time.Time           `json:"updated_at"`
}

// Available is derived from Status
func (c *Courier) Available() bool {
	return c.Status.Available()
}

// CourierLoad is the number of active orders held by an AVAILABLE courier
type CourierLoad struct {
	CourierID    int64 `json:"courier_id"`
	ActiveOrders int   `json:"active_orders"`
}

// Payment is the single payment record of an order
type Payment struct {
	ID        int64               `json:"id"`
	OrderID   int64               `json:"order_id"`
	PayerID   int64               `json:"payer_id"`
	Amount    decimal.Decimal     `json:"amount"`
	Status    types.PaymentStatus `json:"status"`
	CreatedAt time.Time           `json:"created_at"`
	UpdatedAt time.Time           `json:"updated_at"`
}

// PrepTimeSample is one observed preparation time
type PrepTimeSample struct {
	ID           int64     `json:"id"`
	RestaurantID int64     `json:"restaurant_id"`
	OrderID      *int64    `json:"order_id,omitempty"` // Nil for imported history
	Minutes      int       `json:"minutes"`
	RecordedAt   time.Time `json:"recorded_at"`
}
