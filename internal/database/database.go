package database

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"rentledger/internal/models"

	_ "github.com/mattn/go-sqlite3" // sqlite3 driver
)

type DB struct {
	*sql.DB

	mu          sync.RWMutex
	itemsCache  map[int64]models.RentalItem
	sortedItems []models.RentalItem
}

func NewDB(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	sqlDB, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := createTables(sqlDB); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return &DB{
		DB:         sqlDB,
		itemsCache: make(map[int64]models.RentalItem),
	}, nil
}

func createTables(db *sql.DB) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS bookings (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            item_id INTEGER NOT NULL,
            item_name TEXT NOT NULL,
            renter_id INTEGER NOT NULL,
            owner_id INTEGER NOT NULL,
            requirements_data TEXT NOT NULL DEFAULT '{}',
            contract_accepted BOOLEAN NOT NULL DEFAULT 0,
            payment_amount_cents INTEGER NOT NULL DEFAULT 0,
            status TEXT NOT NULL DEFAULT 'Pending',
            rejection_reason TEXT NOT NULL DEFAULT '',
            created_at DATETIME NOT NULL,
            updated_at DATETIME NOT NULL,
            version INTEGER NOT NULL DEFAULT 1
        )`,

		`CREATE TABLE IF NOT EXISTS payments (
            booking_id INTEGER PRIMARY KEY,
            method TEXT NOT NULL,
            account TEXT NOT NULL,
            amount_cents INTEGER NOT NULL,
            service_fee_cents INTEGER NOT NULL,
            status TEXT NOT NULL DEFAULT 'HELD',
            created_at DATETIME NOT NULL,
            released_at DATETIME,
            FOREIGN KEY (booking_id) REFERENCES bookings(id)
        )`,

		`CREATE TABLE IF NOT EXISTS delivery_confirmations (
            booking_id INTEGER PRIMARY KEY,
            confirmation_code TEXT NOT NULL,
            code_expiry DATETIME NOT NULL,
            accepted_at DATETIME NOT NULL,
            renter_confirmed BOOLEAN NOT NULL DEFAULT 0,
            owner_confirmed BOOLEAN NOT NULL DEFAULT 0,
            renter_confirmed_at DATETIME,
            owner_confirmed_at DATETIME,
            FOREIGN KEY (booking_id) REFERENCES bookings(id)
        )`,

		`CREATE TABLE IF NOT EXISTS booking_status_events (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            booking_id INTEGER NOT NULL,
            from_status TEXT NOT NULL,
            to_status TEXT NOT NULL,
            actor TEXT NOT NULL,
            actor_id INTEGER NOT NULL DEFAULT 0,
            created_at DATETIME NOT NULL,
            FOREIGN KEY (booking_id) REFERENCES bookings(id)
        )`,

		`CREATE TABLE IF NOT EXISTS notifications (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            user_id INTEGER NOT NULL,
            message TEXT NOT NULL,
            type TEXT NOT NULL DEFAULT 'info',
            is_read BOOLEAN NOT NULL DEFAULT 0,
            created_at DATETIME NOT NULL
        )`,

		`CREATE TABLE IF NOT EXISTS audit_log (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            booking_id INTEGER NOT NULL,
            actor_id INTEGER NOT NULL,
            from_status TEXT NOT NULL,
            to_status TEXT NOT NULL,
            reason TEXT NOT NULL,
            created_at DATETIME NOT NULL
        )`,

		`CREATE TABLE IF NOT EXISTS sync_queue (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            task_type TEXT NOT NULL,
            booking_id INTEGER NOT NULL,
            payload TEXT NOT NULL,
            status TEXT NOT NULL DEFAULT 'pending',
            retry_count INTEGER NOT NULL DEFAULT 0,
            last_error TEXT,
            created_at DATETIME NOT NULL,
            processed_at DATETIME,
            next_retry_at DATETIME
        )`,

		`CREATE INDEX IF NOT EXISTS idx_bookings_status ON bookings(status)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_renter_id ON bookings(renter_id)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_owner_id ON bookings(owner_id)`,
		`CREATE INDEX IF NOT EXISTS idx_status_events_booking_id ON booking_status_events(booking_id)`,
		`CREATE INDEX IF NOT EXISTS idx_notifications_user_id ON notifications(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_sync_queue_status ON sync_queue(status)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("error executing query %s: %w", query, err)
		}
	}
	return nil
}

// SetItems replaces the in-memory rental item catalog. Items live in a YAML
// file, not in SQLite, so bookings only store a denormalized item_name.
func (db *DB) SetItems(items []models.RentalItem) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.itemsCache = make(map[int64]models.RentalItem, len(items))
	for _, item := range items {
		db.itemsCache[item.ID] = item
	}
	db.sortedItems = items
}

func (db *DB) GetItem(id int64) (models.RentalItem, bool) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	item, ok := db.itemsCache[id]
	return item, ok
}

func (db *DB) Items() []models.RentalItem {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.sortedItems
}
