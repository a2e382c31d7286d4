package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Masterminds/semver/v3"
)

const (
	// CurrentSchemaVersion tracks the database schema version
	CurrentSchemaVersion = "1.1.0"
)

// Migration represents a database schema migration. Up and Down are
// templates expanded per dialect (see Dialect.ddl).
type Migration struct {
	Version string
	Up      string
	Down    string
}

// AllMigrations contains all database migrations in order
var AllMigrations = []Migration{
	{
		Version: "1.0.0",
		Up:      migrationV1Up,
		Down:    migrationV1Down,
	},
	{
		Version: "1.1.0",
		Up:      migrationV11Up,
		Down:    migrationV11Down,
	},
}

const schemaVersionDDL = `
CREATE TABLE IF NOT EXISTS schema_version (
    version TEXT PRIMARY KEY,
    applied_at {{ts}} DEFAULT CURRENT_TIMESTAMP
)`

const migrationV1Up = `
-- Restaurants (directory, read-mostly)
CREATE TABLE IF NOT EXISTS restaurants (
    id {{id}},
    owner_id {{ref}} NOT NULL,
    name TEXT NOT NULL,
    open BOOLEAN NOT NULL DEFAULT TRUE,
    average_cook_minutes INTEGER NOT NULL DEFAULT 20,
    created_at {{ts}} NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_restaurants_owner ON restaurants(owner_id);

-- Menu items with their stock counters
CREATE TABLE IF NOT EXISTS menu_items (
    id {{id}},
    restaurant_id {{ref}} NOT NULL REFERENCES restaurants(id) ON DELETE CASCADE,
    name TEXT NOT NULL,
    price {{money}} NOT NULL,
    available BOOLEAN NOT NULL DEFAULT TRUE,
    stock_quantity INTEGER NOT NULL DEFAULT 0 CHECK (stock_quantity >= 0),
    cuisine TEXT NOT NULL DEFAULT '',
    food_types TEXT NOT NULL DEFAULT '',
    created_at {{ts}} NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_menu_items_restaurant ON menu_items(restaurant_id);

-- One cart per customer
CREATE TABLE IF NOT EXISTS carts (
    id {{id}},
    customer_id {{ref}} NOT NULL UNIQUE,
    delivery_time {{ts}},
    created_at {{ts}} NOT NULL,
    updated_at {{ts}} NOT NULL
);

CREATE TABLE IF NOT EXISTS cart_items (
    id {{id}},
    cart_id {{ref}} NOT NULL REFERENCES carts(id) ON DELETE CASCADE,
    menu_item_id {{ref}} NOT NULL REFERENCES menu_items(id),
    quantity INTEGER NOT NULL CHECK (quantity >= 1),
    UNIQUE(cart_id, menu_item_id)
);

CREATE INDEX IF NOT EXISTS idx_cart_items_cart ON cart_items(cart_id);

-- Courier profiles
CREATE TABLE IF NOT EXISTS couriers (
    id {{id}},
    user_id {{ref}} NOT NULL UNIQUE,
    vehicle_type TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL DEFAULT 'OFFLINE',
    created_at {{ts}} NOT NULL,
    updated_at {{ts}} NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_couriers_status ON couriers(status);

-- Orders and their immutable lines
CREATE TABLE IF NOT EXISTS orders (
    id {{id}},
    customer_id {{ref}} NOT NULL,
    restaurant_id {{ref}} NOT NULL REFERENCES restaurants(id),
    courier_id {{ref}} REFERENCES couriers(id),
    total_price {{money}} NOT NULL,
    payment_method TEXT NOT NULL,
    status TEXT NOT NULL,
    cook_time_minutes INTEGER,
    created_at {{ts}} NOT NULL,
    updated_at {{ts}} NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_orders_customer ON orders(customer_id);
CREATE INDEX IF NOT EXISTS idx_orders_courier ON orders(courier_id, status);
CREATE INDEX IF NOT EXISTS idx_orders_status ON orders(status, courier_id);

CREATE TABLE IF NOT EXISTS order_items (
    id {{id}},
    order_id {{ref}} NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
    menu_item_id {{ref}} NOT NULL REFERENCES menu_items(id),
    quantity INTEGER NOT NULL CHECK (quantity >= 1),
    price {{money}} NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_order_items_order ON order_items(order_id);

-- At most one payment per order
CREATE TABLE IF NOT EXISTS payments (
    id {{id}},
    order_id {{ref}} NOT NULL UNIQUE REFERENCES orders(id),
    payer_id {{ref}} NOT NULL,
    amount {{money}} NOT NULL,
    status TEXT NOT NULL,
    created_at {{ts}} NOT NULL,
    updated_at {{ts}} NOT NULL
);
`

const migrationV1Down = `
DROP TABLE IF EXISTS payments;
DROP TABLE IF EXISTS order_items;
DROP TABLE IF EXISTS orders;
DROP TABLE IF EXISTS couriers;
DROP TABLE IF EXISTS cart_items;
DROP TABLE IF EXISTS carts;
DROP TABLE IF EXISTS menu_items;
DROP TABLE IF EXISTS restaurants;
`

const migrationV11Up = `
-- Observed preparation times feeding the ETA percentile
CREATE TABLE IF NOT EXISTS prep_time_samples (
    id {{id}},
    restaurant_id {{ref}} NOT NULL REFERENCES restaurants(id) ON DELETE CASCADE,
    order_id {{ref}},
    minutes INTEGER NOT NULL CHECK (minutes >= 0),
    recorded_at {{ts}} NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_prep_samples_recent ON prep_time_samples(restaurant_id, recorded_at);

-- Audit trail of order status changes
CREATE TABLE IF NOT EXISTS order_status_history (
    id {{id}},
    order_id {{ref}} NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
    from_status TEXT NOT NULL,
    to_status TEXT NOT NULL,
    actor_id {{ref}} NOT NULL,
    created_at {{ts}} NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_status_history_order ON order_status_history(order_id);
`

const migrationV11Down = `
DROP TABLE IF EXISTS order_status_history;
DROP TABLE IF EXISTS prep_time_samples;
`

// appliedVersion returns the highest recorded schema version, 0.0.0 when none
func appliedVersion(ctx context.Context, db *sql.DB) (*semver.Version, error) {
	rows, err := db.QueryContext(ctx, "SELECT version FROM schema_version")
	if err != nil {
		return nil, fmt.Errorf("failed to read schema_version: %w", err)
	}
	defer func() { _ = rows.Close() }()

	current := semver.MustParse("0.0.0")
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		parsed, err := semver.NewVersion(v)
		if err != nil {
			return nil, fmt.Errorf("invalid schema version %s: %w", v, err)
		}
		if parsed.GreaterThan(current) {
			current = parsed
		}
	}
	return current, rows.Err()
}

// ApplyMigrations runs all pending migrations
func ApplyMigrations(ctx context.Context, db *sql.DB, d Dialect) error {
	if _, err := db.ExecContext(ctx, d.ddl(schemaVersionDDL)); err != nil {
		return fmt.Errorf("failed to create schema_version table: %w", err)
	}

	currentVersion, err := appliedVersion(ctx, db)
	if err != nil {
		return err
	}

	for _, migration := range AllMigrations {
		migrationVersion, err := semver.NewVersion(migration.Version)
		if err != nil {
			return fmt.Errorf("invalid migration version %s: %w", migration.Version, err)
		}

		// Skip if already applied
		if !currentVersion.LessThan(migrationVersion) {
			continue
		}

		if _, err := db.ExecContext(ctx, d.ddl(migration.Up)); err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", migration.Version, err)
		}

		if _, err := db.ExecContext(ctx, d.rebind("INSERT INTO schema_version (version) VALUES (?)"), migration.Version); err != nil {
			return fmt.Errorf("failed to record migration %s: %w", migration.Version, err)
		}

		currentVersion = migrationVersion
	}

	return nil
}

// RollbackMigration rolls back the most recent migration
func RollbackMigration(ctx context.Context, db *sql.DB, d Dialect) error {
	current, err := appliedVersion(ctx, db)
	if err != nil {
		return err
	}
	if current.Equal(semver.MustParse("0.0.0")) {
		return fmt.Errorf("no migrations to rollback")
	}

	var migration *Migration
	for i := range AllMigrations {
		v, err := semver.NewVersion(AllMigrations[i].Version)
		if err == nil && v.Equal(current) {
			migration = &AllMigrations[i]
			break
		}
	}
	if migration == nil {
		return fmt.Errorf("migration %s not found", current)
	}

	if _, err := db.ExecContext(ctx, d.ddl(migration.Down)); err != nil {
		return fmt.Errorf("failed to rollback migration %s: %w", migration.Version, err)
	}

	if _, err := db.ExecContext(ctx, d.rebind("DELETE FROM schema_version WHERE version = ?"), migration.Version); err != nil {
		return fmt.Errorf("failed to remove migration record %s: %w", migration.Version, err)
	}

	return nil
}
