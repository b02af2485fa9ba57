package storage

import (
	"database/sql"
	"fmt"
	"time"

	"trading-gateway/src/logger"
	"trading-gateway/src/models"

	_ "modernc.org/sqlite"
)

// -----------------------------------------------------------------------------
// SQLiteOrderLog is the append-only durable order sink. Every state change is
// one immutable row; queries reduce to the latest row per order id.
// -----------------------------------------------------------------------------

type SQLiteOrderLog struct {
	Config *models.MConfig
	DB     *sql.DB
	Logger *logger.Logger
}

// -----------------------------------------------------------------------------

func NewSQLiteOrderLog(cfg *models.MConfig, log *logger.Logger) (*SQLiteOrderLog, error) {
	if cfg.Storage.OrderLogPath == "" {
		return nil, fmt.Errorf("order log path cannot be empty")
	}
	return &SQLiteOrderLog{
		Config: cfg,
		Logger: log,
	}, nil
}

// -----------------------------------------------------------------------------

func (d *SQLiteOrderLog) Initialize() error {
	dsn := d.Config.Storage.OrderLogPath

	// Open DB
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return err
	}

	if err := db.Ping(); err != nil {
		return err
	}

	d.DB = db

	// PRAGMA optimizations
	if _, err := db.Exec("PRAGMA journal_mode = WAL;"); err != nil {
		d.Logger.Warning("Failed to set WAL mode: %v", err)
	}
	if _, err := db.Exec("PRAGMA synchronous = NORMAL;"); err != nil {
		d.Logger.Warning("Failed to set synchronous mode: %v", err)
	}

	return d.createTables()
}

// -----------------------------------------------------------------------------

func (d *SQLiteOrderLog) createTables() error {
	// SQLite types: INTEGER for int64, TEXT for string
	query := `
		CREATE TABLE IF NOT EXISTS order_log (
			idempotency_key TEXT,
			status TEXT,
			order_id TEXT,
			result_json TEXT,
			created_at INTEGER
		);
	`
	if _, err := d.DB.Exec(query); err != nil {
		return fmt.Errorf("failed to create order_log: %w", err)
	}

	if _, err := d.DB.Exec(`CREATE INDEX IF NOT EXISTS idx_order_log_order_id ON order_log (order_id, created_at);`); err != nil {
		return fmt.Errorf("failed to create order_log index: %w", err)
	}
	if _, err := d.DB.Exec(`CREATE INDEX IF NOT EXISTS idx_order_log_created_at ON order_log (created_at);`); err != nil {
		return fmt.Errorf("failed to create order_log time index: %w", err)
	}

	return nil
}

// -----------------------------------------------------------------------------

// Append writes one immutable record.
func (d *SQLiteOrderLog) Append(idempotencyKey, status, orderID, resultJSON string) error {
	if d.DB == nil {
		return fmt.Errorf("order log not initialized")
	}

	_, err := d.DB.Exec(
		`INSERT INTO order_log (idempotency_key, status, order_id, result_json, created_at) VALUES (?, ?, ?, ?, ?)`,
		idempotencyKey, status, orderID, resultJSON, time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to append order record: %w", err)
	}
	return nil
}

// -----------------------------------------------------------------------------

// QueryLatestPerOrder returns the newest record per order id within the
// requested window, newest first. Zero bounds mean an open interval.
func (d *SQLiteOrderLog) QueryLatestPerOrder(fromTime, toTime int64, limit int) ([]models.MOrderRecord, error) {
	if d.DB == nil {
		return nil, fmt.Errorf("order log not initialized")
	}
	if limit <= 0 {
		limit = 100
	}
	if toTime <= 0 {
		toTime = time.Now().UnixMilli()
	}

	query := `
		SELECT l.idempotency_key, l.status, l.order_id, l.result_json, l.created_at
		FROM order_log l
		JOIN (
			SELECT order_id, MAX(created_at) AS latest
			FROM order_log
			WHERE created_at >= ? AND created_at <= ?
			GROUP BY order_id
		) m ON l.order_id = m.order_id AND l.created_at = m.latest
		ORDER BY l.created_at DESC
		LIMIT ?
	`
	rows, err := d.DB.Query(query, fromTime, toTime, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query order history: %w", err)
	}
	defer rows.Close()

	var records []models.MOrderRecord
	for rows.Next() {
		var rec models.MOrderRecord
		if err := rows.Scan(&rec.IdempotencyKey, &rec.Status, &rec.OrderID, &rec.ResultJSON, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan order record: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// -----------------------------------------------------------------------------

// GetByOrderID returns the most recent record for one order, nil when unknown.
func (d *SQLiteOrderLog) GetByOrderID(orderID string) (*models.MOrderRecord, error) {
	if d.DB == nil {
		return nil, fmt.Errorf("order log not initialized")
	}

	row := d.DB.QueryRow(
		`SELECT idempotency_key, status, order_id, result_json, created_at
		 FROM order_log WHERE order_id = ? ORDER BY created_at DESC LIMIT 1`,
		orderID,
	)

	var rec models.MOrderRecord
	if err := row.Scan(&rec.IdempotencyKey, &rec.Status, &rec.OrderID, &rec.ResultJSON, &rec.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read order record: %w", err)
	}
	return &rec, nil
}

// -----------------------------------------------------------------------------

// Reconnect re-opens the database after a write failure.
func (d *SQLiteOrderLog) Reconnect() error {
	if d.DB != nil {
		if err := d.DB.Ping(); err == nil {
			return nil
		}
		d.DB.Close()
		d.DB = nil
	}
	return d.Initialize()
}

// -----------------------------------------------------------------------------

func (d *SQLiteOrderLog) Close() error {
	if d.DB == nil {
		return nil
	}
	err := d.DB.Close()
	d.DB = nil
	return err
}
