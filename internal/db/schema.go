package db

import (
	"database/sql"
	"fmt"
)

// schema is the full database schema.
const schema = `
CREATE TABLE IF NOT EXISTS users (
    id            INTEGER PRIMARY KEY,
    username      TEXT NOT NULL,
    password_hash TEXT NOT NULL,
    role          TEXT NOT NULL DEFAULT 'user' CHECK (role IN ('admin', 'user')),
    admin_id      INTEGER REFERENCES users(id),
    created_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    deleted_at    DATETIME
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_users_username_active
    ON users(username) WHERE deleted_at IS NULL;

CREATE TABLE IF NOT EXISTS stock_items (
    id         INTEGER PRIMARY KEY,
    ledger     TEXT NOT NULL CHECK (ledger IN ('master', 'personal')),
    owner_id   INTEGER NOT NULL REFERENCES users(id),
    product_id TEXT NOT NULL,
    name       TEXT NOT NULL,
    price      TEXT NOT NULL DEFAULT '0',
    stock      INTEGER NOT NULL DEFAULT 0 CHECK (stock >= 0),
    image      BLOB,
    image_mime TEXT,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    UNIQUE (ledger, owner_id, product_id)
);

CREATE INDEX IF NOT EXISTS idx_stock_items_owner
    ON stock_items(ledger, owner_id);

CREATE TABLE IF NOT EXISTS orders (
    id           INTEGER PRIMARY KEY,
    order_number TEXT NOT NULL UNIQUE,
    product_ref  INTEGER NOT NULL,
    product_name TEXT NOT NULL,
    quantity     INTEGER NOT NULL CHECK (quantity > 0),
    status       TEXT NOT NULL DEFAULT 'pending' CHECK (status IN ('pending', 'accepted', 'rejected')),
    accept_token TEXT NOT NULL,
    reject_token TEXT NOT NULL,
    order_from   INTEGER NOT NULL REFERENCES users(id),
    order_to     INTEGER NOT NULL REFERENCES users(id),
    created_at   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    settled_at   DATETIME
);

CREATE INDEX IF NOT EXISTS idx_orders_from ON orders(order_from);
CREATE INDEX IF NOT EXISTS idx_orders_to ON orders(order_to, status);

CREATE TABLE IF NOT EXISTS warehouses (
    owner_id     INTEGER PRIMARY KEY REFERENCES users(id),
    storage      INTEGER NOT NULL DEFAULT 0 CHECK (storage >= 0),
    min_quantity INTEGER NOT NULL DEFAULT 0 CHECK (min_quantity >= 0),
    updated_at   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS notifications (
    id             INTEGER PRIMARY KEY,
    type           TEXT NOT NULL CHECK (type IN ('order_placed', 'order_accepted', 'order_rejected', 'low_stock', 'new_user')),
    title          TEXT NOT NULL,
    message        TEXT NOT NULL,
    recipient      INTEGER NOT NULL,
    recipient_kind TEXT NOT NULL CHECK (recipient_kind IN ('user', 'admin')),
    related_order  INTEGER,
    read           INTEGER NOT NULL DEFAULT 0,
    created_at     DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_notifications_recipient
    ON notifications(recipient_kind, recipient, read);

CREATE TABLE IF NOT EXISTS settings (
    key   TEXT PRIMARY KEY,
    value TEXT NOT NULL
);
`

// EnsureSchema creates all tables and indexes if they don't already exist.
func EnsureSchema(db *sql.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}
	return nil
}
