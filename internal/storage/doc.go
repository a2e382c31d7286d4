// Package storage provides SQL persistence for the marketplace aggregates.
//
// The storage layer manages:
//   - Restaurants and menu items (with stock counters)
//   - Carts and cart lines
//   - Orders, their immutable lines and status history
//   - Couriers
//   - Payments
//   - Preparation time samples
//
// # Backends
//
// SQLite is the default. The driver is chosen at build time:
//
//	go build ./...                      # modernc.org/sqlite (pure Go)
//	CGO_ENABLED=1 go build -tags sqlite_cgo ./...  # mattn/go-sqlite3
//
// PostgreSQL is available through the pgx stdlib driver:
//
//	db, err := storage.Open(ctx, storage.DialectPostgres, "postgres://...")
//
// Queries are written once with ? placeholders and rebound to $n for
// PostgreSQL. Reads ending in ForUpdate take a row lock on PostgreSQL; on
// SQLite the store holds a single connection so transactions run one at a
// time.
//
// # Transactions
//
// Every mutation of an aggregate runs in one transaction:
//
//	err := storage.RunInTx(ctx, db, func(tx storage.Tx) error {
//	    item, err := tx.GetMenuItemForUpdate(ctx, id)
//	    if err != nil {
//	        return err
//	    }
//	    return tx.UpdateMenuItemStock(ctx, id, item.StockQuantity-1)
//	})
//
// Inside the callback only tx may be used. On SQLite a call through the
// outer store would wait for the connection the transaction already holds.
//
// Savepoints scope partial failure inside a transaction:
//
//	err := storage.WithSavepoint(ctx, tx, "pair_1", func() error {
//	    return attach(ctx, tx, order, courier)
//	})
//
// # Migrations
//
// Migrations are versioned with semantic versions and applied on Open.
// Column types are expanded per dialect (decimals are TEXT on SQLite and
// NUMERIC on PostgreSQL).
package storage
