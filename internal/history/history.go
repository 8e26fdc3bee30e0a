package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	"hooky/internal/security"

	_ "modernc.org/sqlite"
)

// History is the delivery log, stored in SQLite.
type History struct {
	db *sql.DB
}

// NewHistory opens (or creates) the delivery log at dbPath.
func NewHistory(dbPath string) (*History, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite has a single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	h := &History{db: db}

	if err := h.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	if dbPath != ":memory:" {
		if err := os.Chmod(dbPath, security.PermDBFile); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set database permissions: %w", err)
		}
	}

	return h, nil
}

// OpenReadOnly opens an existing delivery log for reading. It does not
// create the file, touch the schema or change permissions.
func OpenReadOnly(dbPath string) (*History, error) {
	db, err := sql.Open("sqlite", "file:"+dbPath+"?mode=ro")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open database read-only: %w", err)
	}

	return &History{db: db}, nil
}

// Close closes the database connection
func (h *History) Close() error {
	return h.db.Close()
}

func (h *History) initSchema() error {
	_, err := h.db.Exec(`
		CREATE TABLE IF NOT EXISTS deliveries (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			endpoint TEXT NOT NULL,
			delivery_id TEXT,
			event TEXT,
			status INTEGER NOT NULL,
			outcome TEXT NOT NULL,
			message TEXT NOT NULL,
			received_at TEXT NOT NULL,
			duration_seconds REAL NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}

	_, err = h.db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_endpoint_received
		ON deliveries(endpoint, received_at DESC)
	`)
	if err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}

	return nil
}

// RecordDelivery inserts a delivery outcome and returns its id.
func (h *History) RecordDelivery(ctx context.Context, record *DeliveryRecord) (int64, error) {
	receivedAt := record.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = time.Now()
	}

	result, err := h.db.ExecContext(ctx, `
		INSERT INTO deliveries
		(endpoint, delivery_id, event, status, outcome, message, received_at, duration_seconds)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		record.Endpoint,
		record.DeliveryID,
		record.Event,
		record.Status,
		record.Outcome,
		record.Message,
		receivedAt.UTC().Format(time.RFC3339Nano),
		record.DurationSeconds,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert delivery record: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID: %w", err)
	}

	return id, nil
}

// GetRecentDeliveries returns the newest deliveries first. An empty endpoint
// matches all endpoints.
func (h *History) GetRecentDeliveries(ctx context.Context, endpoint string, limit int) ([]DeliveryRecord, error) {
	rows, err := h.db.QueryContext(ctx, `
		SELECT id, endpoint, delivery_id, event, status, outcome, message,
		       received_at, duration_seconds
		FROM deliveries
		WHERE (? = '' OR endpoint = ?)
		ORDER BY id DESC
		LIMIT ?
	`, endpoint, endpoint, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query deliveries: %w", err)
	}
	defer rows.Close()

	var records []DeliveryRecord
	for rows.Next() {
		record, err := scanDeliveryRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan delivery record: %w", err)
		}
		records = append(records, *record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return records, nil
}

// GetDelivery returns a delivery by GitHub delivery id, or nil if unknown.
func (h *History) GetDelivery(ctx context.Context, deliveryID string) (*DeliveryRecord, error) {
	row := h.db.QueryRowContext(ctx, `
		SELECT id, endpoint, delivery_id, event, status, outcome, message,
		       received_at, duration_seconds
		FROM deliveries
		WHERE delivery_id = ?
		ORDER BY id DESC
		LIMIT 1
	`, deliveryID)

	record, err := scanDeliveryRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query delivery: %w", err)
	}

	return record, nil
}

// CountByStatus groups deliveries by endpoint and HTTP status.
func (h *History) CountByStatus(ctx context.Context) ([]StatusCount, error) {
	rows, err := h.db.QueryContext(ctx, `
		SELECT endpoint, status, COUNT(*)
		FROM deliveries
		GROUP BY endpoint, status
		ORDER BY endpoint, status
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to count deliveries: %w", err)
	}
	defer rows.Close()

	var counts []StatusCount
	for rows.Next() {
		var c StatusCount
		if err := rows.Scan(&c.Endpoint, &c.Status, &c.Count); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		counts = append(counts, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return counts, nil
}

// scanner is an interface that both *sql.Row and *sql.Rows implement
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanDeliveryRecord(s scanner) (*DeliveryRecord, error) {
	var record DeliveryRecord
	var receivedAtStr string

	err := s.Scan(
		&record.ID,
		&record.Endpoint,
		&record.DeliveryID,
		&record.Event,
		&record.Status,
		&record.Outcome,
		&record.Message,
		&receivedAtStr,
		&record.DurationSeconds,
	)
	if err != nil {
		return nil, err
	}

	receivedAt, err := time.Parse(time.RFC3339Nano, receivedAtStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse received_at timestamp: %w", err)
	}
	record.ReceivedAt = receivedAt

	return &record, nil
}
