package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dshills/orderflow-mcp/pkg/types"
)

var (
	// ErrNotFound is returned when a requested entity doesn't exist
	ErrNotFound = fmt.Errorf("storage: %w", types.ErrNotFound)
	// ErrAlreadyExists is returned when trying to create a duplicate entity
	ErrAlreadyExists = fmt.Errorf("storage: already exists: %w", types.ErrInvalidState)
)

// SQLStorage implements the Storage interface on database/sql
type SQLStorage struct {
	queries
	db *sql.DB
}

// querier is an interface that both *sql.DB and *sql.Tx implement
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// queries holds every entity operation. It is embedded by both SQLStorage
// and sqlTx so the same code runs against the pool or a transaction.
type queries struct {
	q querier
	d Dialect
}

func (x queries) exec(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return x.q.ExecContext(ctx, x.d.rebind(query), args...)
}

func (x queries) query(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return x.q.QueryContext(ctx, x.d.rebind(query), args...)
}

func (x queries) queryRow(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return x.q.QueryRowContext(ctx, x.d.rebind(query), args...)
}

// insert runs an INSERT and returns the generated id
func (x queries) insert(ctx context.Context, query string, args ...interface{}) (int64, error) {
	var id int64
	if err := x.queryRow(ctx, query+" RETURNING id", args...).Scan(&id); err != nil {
		if isUniqueViolation(err) {
			return 0, ErrAlreadyExists
		}
		return 0, err
	}
	return id, nil
}

// update runs an UPDATE/DELETE that must hit exactly one row
func (x queries) update(ctx context.Context, query string, args ...interface{}) error {
	result, err := x.exec(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// openDatabase opens a database with appropriate settings for the dialect
func openDatabase(d Dialect, dsn string) (*sql.DB, error) {
	db, err := sql.Open(d.driverName(), dsn)
	if err != nil {
		return nil, err
	}

	if d == DialectPostgres {
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(30 * time.Minute)
		return db, nil
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// A single connection serializes every transaction, which is what keeps
	// stock reservations and courier assignment race free on SQLite.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return db, nil
}

// Open connects to the database, applies pending migrations and returns the store
func Open(ctx context.Context, d Dialect, dsn string) (*SQLStorage, error) {
	db, err := openDatabase(d, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := ApplyMigrations(ctx, db, d); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	return &SQLStorage{queries: queries{q: db, d: d}, db: db}, nil
}

// NewSQLiteStorage creates a new SQLite storage instance
func NewSQLiteStorage(dbPath string) (*SQLStorage, error) {
	return Open(context.Background(), DialectSQLite, dbPath)
}

// Dialect reports the SQL flavour of the store
func (s *SQLStorage) Dialect() Dialect {
	return s.d
}

// Ping checks database connectivity
func (s *SQLStorage) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection
func (s *SQLStorage) Close() error {
	return s.db.Close()
}

// BeginTx starts a new transaction
func (s *SQLStorage) BeginTx(ctx context.Context) (Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &sqlTx{queries: queries{q: tx, d: s.d}, tx: tx}, nil
}

// sqlTx wraps a SQL transaction
type sqlTx struct {
	queries
	tx *sql.Tx
}

func (t *sqlTx) Commit() error {
	return t.tx.Commit()
}

func (t *sqlTx) Rollback() error {
	return t.tx.Rollback()
}

func (t *sqlTx) Savepoint(ctx context.Context, name string) error {
	return t.savepointStmt(ctx, "SAVEPOINT ", name)
}

func (t *sqlTx) RollbackTo(ctx context.Context, name string) error {
	return t.savepointStmt(ctx, "ROLLBACK TO SAVEPOINT ", name)
}

func (t *sqlTx) Release(ctx context.Context, name string) error {
	return t.savepointStmt(ctx, "RELEASE SAVEPOINT ", name)
}

func (t *sqlTx) savepointStmt(ctx context.Context, verb, name string) error {
	if !validSavepoint(name) {
		return fmt.Errorf("invalid savepoint name %q", name)
	}
	_, err := t.tx.ExecContext(ctx, verb+name)
	return err
}

func (t *sqlTx) Close() error {
	// Transactions don't close the underlying connection
	return nil
}

func (t *sqlTx) BeginTx(ctx context.Context) (Tx, error) {
	// Use Savepoint for partial rollback inside a transaction
	return nil, errors.New("nested transactions not supported")
}

// scanner is satisfied by *sql.Row and *sql.Rows
type scanner interface {
	Scan(dest ...interface{}) error
}

// stamp normalizes a caller supplied timestamp, defaulting to now
func stamp(t time.Time) time.Time {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC()
}

func nullableInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func int64Ptr(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	id := v.Int64
	return &id
}

// Restaurant operations

const restaurantColumns = `id, owner_id, name, open, average_cook_minutes, created_at`

func scanRestaurant(row scanner) (*Restaurant, error) {
	var r Restaurant
	err := row.Scan(&r.ID, &r.OwnerID, &r.Name, &r.Open, &r.AverageCookMinutes, &r.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (x queries) CreateRestaurant(ctx context.Context, restaurant *Restaurant) error {
	restaurant.CreatedAt = stamp(restaurant.CreatedAt)
	id, err := x.insert(ctx, `
		INSERT INTO restaurants (owner_id, name, open, average_cook_minutes, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		restaurant.OwnerID, restaurant.Name, restaurant.Open,
		restaurant.AverageCookMinutes, restaurant.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create restaurant: %w", err)
	}
	restaurant.ID = id
	return nil
}

func (x queries) GetRestaurant(ctx context.Context, restaurantID int64) (*Restaurant, error) {
	return scanRestaurant(x.queryRow(ctx,
		`SELECT `+restaurantColumns+` FROM restaurants WHERE id = ?`, restaurantID))
}

func (x queries) SetRestaurantOpen(ctx context.Context, restaurantID int64, open bool) error {
	return x.update(ctx, `UPDATE restaurants SET open = ? WHERE id = ?`, open, restaurantID)
}

// Menu item operations

const menuItemColumns = `id, restaurant_id, name, price, available, stock_quantity, cuisine, food_types, created_at`

func scanMenuItem(row scanner) (*MenuItem, error) {
	var item MenuItem
	var foodTypes string
	err := row.Scan(&item.ID, &item.RestaurantID, &item.Name, &item.Price, &item.Available,
		&item.StockQuantity, &item.Cuisine, &foodTypes, &item.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if foodTypes != "" {
		item.FoodTypes = strings.Split(foodTypes, ",")
	}
	return &item, nil
}

func (x queries) CreateMenuItem(ctx context.Context, item *MenuItem) error {
	if item.StockQuantity < 0 {
		return fmt.Errorf("failed to create menu item: negative stock %d", item.StockQuantity)
	}
	item.CreatedAt = stamp(item.CreatedAt)
	id, err := x.insert(ctx, `
		INSERT INTO menu_items (restaurant_id, name, price, available, stock_quantity, cuisine, food_types, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		item.RestaurantID, item.Name, item.Price, item.Available, item.StockQuantity,
		item.Cuisine, strings.Join(item.FoodTypes, ","), item.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create menu item: %w", err)
	}
	item.ID = id
	return nil
}

func (x queries) GetMenuItem(ctx context.Context, menuItemID int64) (*MenuItem, error) {
	return scanMenuItem(x.queryRow(ctx,
		`SELECT `+menuItemColumns+` FROM menu_items WHERE id = ?`, menuItemID))
}

func (x queries) GetMenuItemForUpdate(ctx context.Context, menuItemID int64) (*MenuItem, error) {
	return scanMenuItem(x.queryRow(ctx,
		x.d.forUpdate(`SELECT `+menuItemColumns+` FROM menu_items WHERE id = ?`), menuItemID))
}

func (x queries) ListMenuItems(ctx context.Context, restaurantID int64) ([]*MenuItem, error) {
	rows, err := x.query(ctx,
		`SELECT `+menuItemColumns+` FROM menu_items WHERE restaurant_id = ? ORDER BY id`, restaurantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list menu items: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var items []*MenuItem
	for rows.Next() {
		item, err := scanMenuItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (x queries) UpdateMenuItemStock(ctx context.Context, menuItemID int64, stockQuantity int) error {
	if stockQuantity < 0 {
		return fmt.Errorf("failed to update stock of menu item %d: negative quantity %d", menuItemID, stockQuantity)
	}
	return x.update(ctx, `UPDATE menu_items SET stock_quantity = ? WHERE id = ?`, stockQuantity, menuItemID)
}

func (x queries) UpdateMenuItemPrice(ctx context.Context, menuItemID int64, price decimal.Decimal) error {
	return x.update(ctx, `UPDATE menu_items SET price = ? WHERE id = ?`, price, menuItemID)
}

// Cart operations

func (x queries) GetCartByCustomer(ctx context.Context, customerID int64) (*Cart, error) {
	var cart Cart
	var deliveryTime sql.NullTime
	err := x.queryRow(ctx, `
		SELECT id, customer_id, delivery_time, created_at, updated_at
		FROM carts WHERE customer_id = ?`, customerID).Scan(
		&cart.ID, &cart.CustomerID, &deliveryTime, &cart.CreatedAt, &cart.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if deliveryTime.Valid {
		t := deliveryTime.Time
		cart.DeliveryTime = &t
	}
	return &cart, nil
}

func (x queries) CreateCart(ctx context.Context, cart *Cart) error {
	cart.CreatedAt = stamp(cart.CreatedAt)
	cart.UpdatedAt = cart.CreatedAt
	id, err := x.insert(ctx, `
		INSERT INTO carts (customer_id, created_at, updated_at) VALUES (?, ?, ?)`,
		cart.CustomerID, cart.CreatedAt, cart.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create cart: %w", err)
	}
	cart.ID = id
	return nil
}

func (x queries) UpdateCartDeliveryTime(ctx context.Context, cartID int64, deliveryTime *time.Time) error {
	var value sql.NullTime
	if deliveryTime != nil {
		value = sql.NullTime{Time: deliveryTime.UTC(), Valid: true}
	}
	return x.update(ctx, `UPDATE carts SET delivery_time = ?, updated_at = ? WHERE id = ?`,
		value, time.Now().UTC(), cartID)
}

const cartItemSelect = `
	SELECT ci.id, ci.cart_id, ci.menu_item_id, ci.quantity, m.name, m.price, m.restaurant_id
	FROM cart_items ci
	JOIN menu_items m ON m.id = ci.menu_item_id`

func scanCartItem(row scanner) (*CartItem, error) {
	var item CartItem
	err := row.Scan(&item.ID, &item.CartID, &item.MenuItemID, &item.Quantity,
		&item.Name, &item.Price, &item.RestaurantID)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (x queries) ListCartItems(ctx context.Context, cartID int64) ([]*CartItem, error) {
	rows, err := x.query(ctx, cartItemSelect+` WHERE ci.cart_id = ? ORDER BY ci.id`, cartID)
	if err != nil {
		return nil, fmt.Errorf("failed to list cart items: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var items []*CartItem
	for rows.Next() {
		item, err := scanCartItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (x queries) GetCartItem(ctx context.Context, cartItemID int64) (*CartItem, error) {
	return scanCartItem(x.queryRow(ctx, cartItemSelect+` WHERE ci.id = ?`, cartItemID))
}

func (x queries) InsertCartItem(ctx context.Context, item *CartItem) error {
	id, err := x.insert(ctx, `
		INSERT INTO cart_items (cart_id, menu_item_id, quantity) VALUES (?, ?, ?)`,
		item.CartID, item.MenuItemID, item.Quantity)
	if err != nil {
		return fmt.Errorf("failed to insert cart item: %w", err)
	}
	item.ID = id
	return nil
}

func (x queries) UpdateCartItemQuantity(ctx context.Context, cartItemID int64, quantity int) error {
	return x.update(ctx, `UPDATE cart_items SET quantity = ? WHERE id = ?`, quantity, cartItemID)
}

func (x queries) DeleteCartItem(ctx context.Context, cartItemID int64) error {
	return x.update(ctx, `DELETE FROM cart_items WHERE id = ?`, cartItemID)
}

func (x queries) DeleteCartItems(ctx context.Context, cartID int64) error {
	if _, err := x.exec(ctx, `DELETE FROM cart_items WHERE cart_id = ?`, cartID); err != nil {
		return fmt.Errorf("failed to clear cart %d: %w", cartID, err)
	}
	return nil
}

// Order operations

const orderColumns = `id, customer_id, restaurant_id, courier_id, total_price, payment_method, status, cook_time_minutes, created_at, updated_at`

func scanOrder(row scanner) (*Order, error) {
	var o Order
	var courierID, cookTime sql.NullInt64
	err := row.Scan(&o.ID, &o.CustomerID, &o.RestaurantID, &courierID, &o.TotalPrice,
		&o.PaymentMethod, &o.Status, &cookTime, &o.CreatedAt, &o.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	o.CourierID = int64Ptr(courierID)
	if cookTime.Valid {
		minutes := int(cookTime.Int64)
		o.CookTimeMinutes = &minutes
	}
	return &o, nil
}

func (x queries) CreateOrder(ctx context.Context, order *Order) error {
	order.CreatedAt = stamp(order.CreatedAt)
	order.UpdatedAt = order.CreatedAt
	id, err := x.insert(ctx, `
		INSERT INTO orders (customer_id, restaurant_id, courier_id, total_price, payment_method, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		order.CustomerID, order.RestaurantID, nullableInt64(order.CourierID), order.TotalPrice,
		string(order.PaymentMethod), string(order.Status), order.CreatedAt, order.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create order: %w", err)
	}
	order.ID = id

	for _, item := range order.Items {
		item.OrderID = id
		itemID, err := x.insert(ctx, `
			INSERT INTO order_items (order_id, menu_item_id, quantity, price) VALUES (?, ?, ?, ?)`,
			item.OrderID, item.MenuItemID, item.Quantity, item.Price)
		if err != nil {
			return fmt.Errorf("failed to create order item: %w", err)
		}
		item.ID = itemID
	}
	return nil
}

func (x queries) loadOrderItems(ctx context.Context, order *Order) error {
	rows, err := x.query(ctx, `
		SELECT id, order_id, menu_item_id, quantity, price
		FROM order_items WHERE order_id = ? ORDER BY id`, order.ID)
	if err != nil {
		return fmt.Errorf("failed to load order items: %w", err)
	}
	defer func() { _ = rows.Close() }()

	order.Items = order.Items[:0]
	for rows.Next() {
		var item OrderItem
		if err := rows.Scan(&item.ID, &item.OrderID, &item.MenuItemID, &item.Quantity, &item.Price); err != nil {
			return err
		}
		order.Items = append(order.Items, &item)
	}
	return rows.Err()
}

// listOrders reads orders then their lines; rows are fully drained before
// the item queries run because SQLite has a single connection.
func (x queries) listOrders(ctx context.Context, query string, args ...interface{}) ([]*Order, error) {
	rows, err := x.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	var orders []*Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			_ = rows.Close()
			return nil, err
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	for _, o := range orders {
		if err := x.loadOrderItems(ctx, o); err != nil {
			return nil, err
		}
	}
	return orders, nil
}

func (x queries) getOrder(ctx context.Context, query string, orderID int64) (*Order, error) {
	o, err := scanOrder(x.queryRow(ctx, query, orderID))
	if err != nil {
		return nil, err
	}
	if err := x.loadOrderItems(ctx, o); err != nil {
		return nil, err
	}
	return o, nil
}

func (x queries) GetOrder(ctx context.Context, orderID int64) (*Order, error) {
	return x.getOrder(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = ?`, orderID)
}

func (x queries) GetOrderForUpdate(ctx context.Context, orderID int64) (*Order, error) {
	return x.getOrder(ctx, x.d.forUpdate(`SELECT `+orderColumns+` FROM orders WHERE id = ?`), orderID)
}

func (x queries) UpdateOrderStatus(ctx context.Context, orderID int64, status types.OrderStatus, cookTimeMinutes *int) error {
	now := time.Now().UTC()
	if cookTimeMinutes != nil {
		return x.update(ctx, `UPDATE orders SET status = ?, cook_time_minutes = ?, updated_at = ? WHERE id = ?`,
			string(status), *cookTimeMinutes, now, orderID)
	}
	return x.update(ctx, `UPDATE orders SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), now, orderID)
}

func (x queries) SetOrderCourier(ctx context.Context, orderID int64, courierID *int64) error {
	return x.update(ctx, `UPDATE orders SET courier_id = ?, updated_at = ? WHERE id = ?`,
		nullableInt64(courierID), time.Now().UTC(), orderID)
}

func (x queries) ListOrdersByCustomer(ctx context.Context, customerID int64) ([]*Order, error) {
	return x.listOrders(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE customer_id = ? ORDER BY created_at DESC, id DESC`, customerID)
}

func (x queries) ListUnassignedOrders(ctx context.Context, status types.OrderStatus) ([]*Order, error) {
	return x.listOrders(ctx, x.d.forUpdate(
		`SELECT `+orderColumns+` FROM orders WHERE courier_id IS NULL AND status = ? ORDER BY created_at, id`),
		string(status))
}

func statusArgs(statuses []types.OrderStatus) []interface{} {
	args := make([]interface{}, 0, len(statuses))
	for _, s := range statuses {
		args = append(args, string(s))
	}
	return args
}

func (x queries) ListCourierOrders(ctx context.Context, courierID int64, statuses []types.OrderStatus) ([]*Order, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	args := append([]interface{}{courierID}, statusArgs(statuses)...)
	return x.listOrders(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE courier_id = ? AND status IN (`+placeholders(len(statuses))+`) ORDER BY created_at, id`,
		args...)
}

func (x queries) CountActiveOrdersByCourier(ctx context.Context, courierID int64) (int, error) {
	args := append([]interface{}{courierID}, statusArgs(types.ActiveForCourier)...)
	var n int
	err := x.queryRow(ctx,
		`SELECT COUNT(*) FROM orders WHERE courier_id = ? AND status IN (`+placeholders(len(types.ActiveForCourier))+`)`,
		args...).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count courier orders: %w", err)
	}
	return n, nil
}

func (x queries) AppendStatusHistory(ctx context.Context, change *StatusChange) error {
	change.CreatedAt = stamp(change.CreatedAt)
	id, err := x.insert(ctx, `
		INSERT INTO order_status_history (order_id, from_status, to_status, actor_id, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		change.OrderID, string(change.From), string(change.To), change.ActorID, change.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to append status history: %w", err)
	}
	change.ID = id
	return nil
}

func (x queries) ListStatusHistory(ctx context.Context, orderID int64) ([]*StatusChange, error) {
	rows, err := x.query(ctx, `
		SELECT id, order_id, from_status, to_status, actor_id, created_at
		FROM order_status_history WHERE order_id = ? ORDER BY id`, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to list status history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var changes []*StatusChange
	for rows.Next() {
		var c StatusChange
		if err := rows.Scan(&c.ID, &c.OrderID, &c.From, &c.To, &c.ActorID, &c.CreatedAt); err != nil {
			return nil, err
		}
		changes = append(changes, &c)
	}
	return changes, rows.Err()
}

// Courier operations

const courierColumns = `id, user_id, vehicle_type, status, created_at, updated_at`

func scanCourier(row scanner) (*Courier, error) {
	var c Courier
	err := row.Scan(&c.ID, &c.UserID, &c.VehicleType, &c.Status, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (x queries) CreateCourier(ctx context.Context, courier *Courier) error {
	courier.CreatedAt = stamp(courier.CreatedAt)
	courier.UpdatedAt = courier.CreatedAt
	if courier.Status == "" {
		courier.Status = types.CourierOffline
	}
	id, err := x.insert(ctx, `
		INSERT INTO couriers (user_id, vehicle_type, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)`,
		courier.UserID, courier.VehicleType, string(courier.Status), courier.CreatedAt, courier.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create courier: %w", err)
	}
	courier.ID = id
	return nil
}

func (x queries) GetCourier(ctx context.Context, courierID int64) (*Courier, error) {
	return scanCourier(x.queryRow(ctx, `SELECT `+courierColumns+` FROM couriers WHERE id = ?`, courierID))
}

func (x queries) GetCourierByUser(ctx context.Context, userID int64) (*Courier, error) {
	return scanCourier(x.queryRow(ctx, `SELECT `+courierColumns+` FROM couriers WHERE user_id = ?`, userID))
}

func (x queries) GetCourierForUpdate(ctx context.Context, courierID int64) (*Courier, error) {
	return scanCourier(x.queryRow(ctx,
		x.d.forUpdate(`SELECT `+courierColumns+` FROM couriers WHERE id = ?`), courierID))
}

func (x queries) ListCouriersByStatus(ctx context.Context, status types.CourierStatus) ([]*Courier, error) {
	rows, err := x.query(ctx,
		`SELECT `+courierColumns+` FROM couriers WHERE status = ? ORDER BY id`, string(status))
	if err != nil {
		return nil, fmt.Errorf("failed to list couriers: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var couriers []*Courier
	for rows.Next() {
		c, err := scanCourier(rows)
		if err != nil {
			return nil, err
		}
		couriers = append(couriers, c)
	}
	return couriers, rows.Err()
}

func (x queries) UpdateCourierStatus(ctx context.Context, courierID int64, status types.CourierStatus) error {
	return x.update(ctx, `UPDATE couriers SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UTC(), courierID)
}

func (x queries) CourierLoads(ctx context.Context) ([]CourierLoad, error) {
	args := append(statusArgs(types.ActiveForCourier), string(types.CourierAvailable))
	rows, err := x.query(ctx, `
		SELECT c.id, COUNT(o.id)
		FROM couriers c
		LEFT JOIN orders o ON o.courier_id = c.id AND o.status IN (`+placeholders(len(types.ActiveForCourier))+`)
		WHERE c.status = ?
		GROUP BY c.id
		ORDER BY c.id`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to compute courier loads: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var loads []CourierLoad
	for rows.Next() {
		var l CourierLoad
		if err := rows.Scan(&l.CourierID, &l.ActiveOrders); err != nil {
			return nil, err
		}
		loads = append(loads, l)
	}
	return loads, rows.Err()
}

// Payment operations

const paymentColumns = `id, order_id, payer_id, amount, status, created_at, updated_at`

func scanPayment(row scanner) (*Payment, error) {
	var p Payment
	err := row.Scan(&p.ID, &p.OrderID, &p.PayerID, &p.Amount, &p.Status, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (x queries) CreatePayment(ctx context.Context, payment *Payment) error {
	payment.CreatedAt = stamp(payment.CreatedAt)
	payment.UpdatedAt = payment.CreatedAt
	id, err := x.insert(ctx, `
		INSERT INTO payments (order_id, payer_id, amount, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		payment.OrderID, payment.PayerID, payment.Amount, string(payment.Status),
		payment.CreatedAt, payment.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create payment: %w", err)
	}
	payment.ID = id
	return nil
}

func (x queries) GetPayment(ctx context.Context, paymentID int64) (*Payment, error) {
	return scanPayment(x.queryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = ?`, paymentID))
}

func (x queries) GetPaymentByOrder(ctx context.Context, orderID int64) (*Payment, error) {
	return scanPayment(x.queryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE order_id = ?`, orderID))
}

func (x queries) UpdatePaymentStatus(ctx context.Context, paymentID int64, status types.PaymentStatus) error {
	return x.update(ctx, `UPDATE payments SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UTC(), paymentID)
}

// Prep time history

func (x queries) AddPrepTimeSample(ctx context.Context, sample *PrepTimeSample) error {
	sample.RecordedAt = stamp(sample.RecordedAt)
	id, err := x.insert(ctx, `
		INSERT INTO prep_time_samples (restaurant_id, order_id, minutes, recorded_at)
		VALUES (?, ?, ?, ?)`,
		sample.RestaurantID, nullableInt64(sample.OrderID), sample.Minutes, sample.RecordedAt)
	if err != nil {
		return fmt.Errorf("failed to add prep time sample: %w", err)
	}
	sample.ID = id
	return nil
}

func (x queries) RecentPrepTimes(ctx context.Context, restaurantID int64, limit int) ([]int, error) {
	rows, err := x.query(ctx, `
		SELECT minutes FROM prep_time_samples
		WHERE restaurant_id = ?
		ORDER BY recorded_at DESC, id DESC
		LIMIT ?`, restaurantID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to read prep times: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var minutes []int
	for rows.Next() {
		var m int
		if err := rows.Scan(&m); err != nil {
			return nil, err
		}
		minutes = append(minutes, m)
	}
	return minutes, rows.Err()
}
