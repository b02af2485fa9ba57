package storage

import (
	"database/sql"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"trading-gateway/src/logger"
	"trading-gateway/src/models"

	_ "github.com/lib/pq"
)

// -----------------------------------------------------------------------------
// PostgresHistory is the time-series candle store. The connection string is a
// construction parameter; nothing is hardcoded.
// -----------------------------------------------------------------------------

type PostgresHistory struct {
	Config *models.MConfig
	DB     *sql.DB
	Logger *logger.Logger
}

// -----------------------------------------------------------------------------

func NewPostgresHistory(cfg *models.MConfig, log *logger.Logger) (*PostgresHistory, error) {
	if cfg.Storage.DBConnectionString == "" {
		return nil, fmt.Errorf("history db connection string cannot be empty")
	}
	return &PostgresHistory{
		Config: cfg,
		Logger: log,
	}, nil
}

// -----------------------------------------------------------------------------

func (d *PostgresHistory) Initialize() error {
	dsn := d.Config.Storage.DBConnectionString
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return err
	}

	if err := db.Ping(); err != nil {
		return err
	}

	d.DB = db

	if err := d.createTables(); err != nil {
		return err
	}

	d.Logger.Info("PostgresHistory initialized successfully")
	return nil
}

// -----------------------------------------------------------------------------

func (d *PostgresHistory) createTables() error {
	query := `
		CREATE TABLE IF NOT EXISTS candles (
			symbol TEXT,
			open_time BIGINT,
			open DOUBLE PRECISION,
			high DOUBLE PRECISION,
			low DOUBLE PRECISION,
			close DOUBLE PRECISION,
			volume BIGINT,
			interval TEXT,
			PRIMARY KEY (symbol, interval, open_time)
		);
	`
	if _, err := d.DB.Exec(query); err != nil {
		return fmt.Errorf("failed to create candles: %w", err)
	}
	return nil
}

// -----------------------------------------------------------------------------

// Fetch returns candles for a symbol within [FromTs, ToTs], oldest first.
func (d *PostgresHistory) Fetch(symbol string, query models.MHistoryQuery) ([]models.MCandle, error) {
	if d.DB == nil {
		return nil, fmt.Errorf("history repository not initialized")
	}

	limit := query.Limit
	if limit <= 0 || limit > 1000 {
		limit = 1000
	}

	rows, err := d.DB.Query(
		`SELECT symbol, open_time, open, high, low, close, volume, interval
		 FROM candles
		 WHERE symbol = $1 AND interval = $2 AND open_time >= $3 AND open_time <= $4
		 ORDER BY open_time ASC
		 LIMIT $5`,
		symbol, query.Interval, query.FromTs, query.ToTs, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch candles: %w", err)
	}
	defer rows.Close()

	return scanCandles(rows)
}

// -----------------------------------------------------------------------------

// Latest returns the most recent candle per requested symbol.
func (d *PostgresHistory) Latest(symbols []string, limit int) ([]models.MCandle, error) {
	if d.DB == nil {
		return nil, fmt.Errorf("history repository not initialized")
	}
	if len(symbols) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = len(symbols)
	}

	placeholders := make([]string, len(symbols))
	args := make([]interface{}, 0, len(symbols)+1)
	for i, s := range symbols {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args = append(args, s)
	}
	args = append(args, limit)

	query := fmt.Sprintf(`
		SELECT c.symbol, c.open_time, c.open, c.high, c.low, c.close, c.volume, c.interval
		FROM candles c
		JOIN (
			SELECT symbol, MAX(open_time) AS latest
			FROM candles
			WHERE symbol IN (%s)
			GROUP BY symbol
		) m ON c.symbol = m.symbol AND c.open_time = m.latest
		ORDER BY c.symbol
		LIMIT $%d
	`, strings.Join(placeholders, ", "), len(symbols)+1)

	rows, err := d.DB.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch latest candles: %w", err)
	}
	defer rows.Close()

	return scanCandles(rows)
}

// -----------------------------------------------------------------------------

func scanCandles(rows *sql.Rows) ([]models.MCandle, error) {
	var candles []models.MCandle
	for rows.Next() {
		var c models.MCandle
		if err := rows.Scan(&c.Symbol, &c.OpenTime, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume, &c.Interval); err != nil {
			return nil, fmt.Errorf("failed to scan candle: %w", err)
		}
		candles = append(candles, c)
	}
	return candles, rows.Err()
}

// -----------------------------------------------------------------------------

// SeedMockData populates one day of minute candles per symbol so a fresh
// install has something to query. Existing rows are left untouched.
func (d *PostgresHistory) SeedMockData(symbols []models.MSymbolConfig) error {
	if d.DB == nil {
		return fmt.Errorf("history repository not initialized")
	}

	var count int
	if err := d.DB.QueryRow(`SELECT COUNT(*) FROM candles`).Scan(&count); err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	now := time.Now().Truncate(time.Minute)
	tx, err := d.DB.Begin()
	if err != nil {
		return err
	}

	stmt, err := tx.Prepare(
		`INSERT INTO candles (symbol, open_time, open, high, low, close, volume, interval)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT DO NOTHING`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, sym := range symbols {
		price := sym.BasePrice
		for i := 24 * 60; i > 0; i-- {
			openTime := now.Add(-time.Duration(i) * time.Minute).UnixMilli()
			drift := price * sym.Volatility * (rand.Float64()*2 - 1)
			open := price
			close := price + drift
			high := open
			if close > high {
				high = close
			}
			low := open
			if close < low {
				low = close
			}
			volume := uint64(sym.BaseVolume + rand.Intn(sym.VolumeVar+1))

			if _, err := stmt.Exec(sym.Code, openTime, open, high, low, close, volume, models.IntervalM1); err != nil {
				tx.Rollback()
				return fmt.Errorf("failed to seed candles for %s: %w", sym.Code, err)
			}
			price = close
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	d.Logger.Info("Seeded mock candle history for %d symbols", len(symbols))
	return nil
}

// -----------------------------------------------------------------------------

func (d *PostgresHistory) Close() error {
	if d.DB == nil {
		return nil
	}
	err := d.DB.Close()
	d.DB = nil
	return err
}
