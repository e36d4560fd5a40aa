// Package dbtest opens in-memory SQLite databases carrying the storefront
// schema for repository and service tests.
package dbtest

import (
	"fmt"
	"strings"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	dbpkg "github.com/mohacollection/storefront-backend/pkg/db"
)

// SQLite mirrors the goose migrations with portable column types. Decimals are
// stored as TEXT so shopspring values round-trip without float drift.
var schema = []string{
	`CREATE TABLE users (
		id TEXT PRIMARY KEY,
		email TEXT NOT NULL,
		password_hash TEXT NOT NULL,
		first_name TEXT NOT NULL,
		last_name TEXT NOT NULL,
		phone TEXT,
		role TEXT NOT NULL DEFAULT 'customer',
		is_active BOOLEAN NOT NULL DEFAULT 1,
		last_login_at DATETIME,
		created_at DATETIME,
		updated_at DATETIME
	)`,
	`CREATE UNIQUE INDEX ux_users_email ON users (lower(email))`,
	`CREATE TABLE categories (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		slug TEXT NOT NULL,
		created_at DATETIME
	)`,
	`CREATE UNIQUE INDEX ux_categories_slug ON categories (slug)`,
	`CREATE TABLE products (
		id TEXT PRIMARY KEY,
		category_id TEXT,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		price TEXT NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT 1,
		created_at DATETIME,
		updated_at DATETIME
	)`,
	`CREATE TABLE carts (
		id TEXT PRIMARY KEY,
		user_id TEXT,
		session_key TEXT,
		active BOOLEAN NOT NULL DEFAULT 1,
		created_at DATETIME,
		updated_at DATETIME
	)`,
	`CREATE UNIQUE INDEX ux_carts_active_user ON carts (user_id) WHERE active AND user_id IS NOT NULL`,
	`CREATE UNIQUE INDEX ux_carts_active_session ON carts (session_key) WHERE active AND session_key IS NOT NULL`,
	`CREATE TABLE cart_items (
		id TEXT PRIMARY KEY,
		cart_id TEXT NOT NULL REFERENCES carts (id) ON DELETE CASCADE,
		product_id TEXT NOT NULL,
		quantity INTEGER NOT NULL CHECK (quantity >= 1),
		size TEXT NOT NULL DEFAULT 'M',
		created_at DATETIME,
		updated_at DATETIME
	)`,
	`CREATE UNIQUE INDEX ux_cart_items_cart_product_size ON cart_items (cart_id, product_id, size)`,
	`CREATE TABLE orders (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		cart_id TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		payment_status TEXT NOT NULL DEFAULT 'unpaid',
		total_amount TEXT NOT NULL,
		created_at DATETIME,
		updated_at DATETIME
	)`,
	`CREATE UNIQUE INDEX ux_orders_cart ON orders (cart_id)`,
	`CREATE TABLE order_items (
		id TEXT PRIMARY KEY,
		order_id TEXT NOT NULL REFERENCES orders (id) ON DELETE CASCADE,
		product_id TEXT NOT NULL,
		quantity INTEGER NOT NULL,
		price TEXT NOT NULL,
		size TEXT NOT NULL,
		created_at DATETIME
	)`,
	`CREATE TABLE shipping_addresses (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		full_name TEXT NOT NULL,
		address_line1 TEXT NOT NULL,
		address_line2 TEXT,
		city TEXT NOT NULL,
		state TEXT,
		postal_code TEXT,
		country TEXT NOT NULL DEFAULT 'Kenya',
		phone TEXT NOT NULL,
		is_default BOOLEAN NOT NULL DEFAULT 0,
		created_at DATETIME,
		updated_at DATETIME
	)`,
	`CREATE TABLE payment_methods (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		method_type TEXT NOT NULL DEFAULT 'mpesa',
		phone_number TEXT,
		last_four TEXT,
		is_default BOOLEAN NOT NULL DEFAULT 0,
		created_at DATETIME,
		updated_at DATETIME
	)`,
	`CREATE TABLE payment_transactions (
		id TEXT PRIMARY KEY,
		order_id TEXT NOT NULL,
		checkout_request_id TEXT NOT NULL,
		merchant_request_id TEXT NOT NULL,
		phone_number TEXT NOT NULL,
		amount TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		result_code TEXT,
		result_desc TEXT,
		mpesa_receipt_number TEXT,
		completed_at DATETIME,
		created_at DATETIME,
		updated_at DATETIME
	)`,
	`CREATE UNIQUE INDEX ux_payment_transactions_checkout_request ON payment_transactions (checkout_request_id)`,
	`CREATE UNIQUE INDEX ux_payment_transactions_inflight ON payment_transactions (order_id) WHERE status = 'pending'`,
	`CREATE TABLE payment_callback_failures (
		id TEXT PRIMARY KEY,
		checkout_request_id TEXT NOT NULL,
		reason TEXT NOT NULL,
		payload BLOB NOT NULL,
		created_at DATETIME
	)`,
	`CREATE TABLE outbox_events (
		id TEXT PRIMARY KEY,
		event_type TEXT NOT NULL,
		aggregate_type TEXT NOT NULL,
		aggregate_id TEXT NOT NULL,
		payload BLOB NOT NULL,
		created_at DATETIME,
		published_at DATETIME,
		attempt_count INTEGER NOT NULL DEFAULT 0,
		last_error TEXT
	)`,
	`CREATE TABLE outbox_dlq (
		id TEXT PRIMARY KEY,
		event_id TEXT NOT NULL,
		event_type TEXT NOT NULL,
		aggregate_type TEXT NOT NULL,
		aggregate_id TEXT NOT NULL,
		payload_json BLOB NOT NULL,
		error_reason TEXT NOT NULL,
		error_message TEXT,
		attempt_count INTEGER NOT NULL DEFAULT 0,
		failed_at DATETIME,
		created_at DATETIME
	)`,
}

// Open returns a fresh shared-cache in-memory database named after the test.
func Open(t testing.TB) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_foreign_keys=1", name)
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("sqlite handle: %v", err)
	}
	// One connection keeps shared-cache writers from tripping over table locks.
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	for _, stmt := range schema {
		if err := conn.Exec(stmt).Error; err != nil {
			t.Fatalf("apply schema: %v", err)
		}
	}
	return conn
}

// Client wraps Open in the pkg/db client used by services.
func Client(t testing.TB) *dbpkg.Client {
	t.Helper()
	return dbpkg.NewFromConn(Open(t))
}
