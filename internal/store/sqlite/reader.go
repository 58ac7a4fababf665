package sqlite

import (
	"database/sql"
	"log"
	"time"

	"github.com/pkg/errors"

	"trendengine/internal/indicator"
	"trendengine/internal/model"
)

// Reader provides read-only access to SQLite for backfill and snapshot restore.
type Reader struct {
	db *sql.DB
}

// NewReader opens a SQLite connection for reading.
func NewReader(dbPath string) (*Reader, error) {
	db, err := sql.Open("sqlite3", dsn(dbPath))
	if err != nil {
		return nil, errors.Wrap(err, "sqlite open reader")
	}
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(2)

	log.Printf("[sqlite-reader] opened %s", dbPath)
	return NewReaderWithDB(db), nil
}

// NewReaderWithDB wraps an open database.
func NewReaderWithDB(db *sql.DB) *Reader {
	return &Reader{db: db}
}

const selectTFCandles = `
	SELECT token, exchange, tf, ts, open, high, low, close, volume, count
	FROM candles_tf
`

// ReadTFCandles reads TF candles for a given exchange:token and TF.
// Results are ordered by timestamp ascending for correct replay order.
func (r *Reader) ReadTFCandles(exchange, token string, tf int, afterTS int64) ([]model.TFCandle, error) {
	rows, err := r.db.Query(selectTFCandles+`
		WHERE exchange = ? AND token = ? AND tf = ? AND ts > ?
		ORDER BY ts ASC
	`, exchange, token, tf, afterTS)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite query candles_tf")
	}
	return scanTFCandles(rows)
}

// ReadAllTFCandles reads all TF candles of one TF for backfill, ordered by timestamp.
func (r *Reader) ReadAllTFCandles(tf int, afterTS int64) ([]model.TFCandle, error) {
	rows, err := r.db.Query(selectTFCandles+`
		WHERE tf = ? AND ts > ?
		ORDER BY ts ASC
	`, tf, afterTS)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite query all candles_tf")
	}
	return scanTFCandles(rows)
}

func scanTFCandles(rows *sql.Rows) ([]model.TFCandle, error) {
	defer rows.Close()

	var candles []model.TFCandle
	for rows.Next() {
		var c model.TFCandle
		var tsUnix int64
		if err := rows.Scan(&c.Token, &c.Exchange, &c.TF, &tsUnix, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume, &c.Count); err != nil {
			return nil, errors.Wrap(err, "sqlite scan candles_tf")
		}
		c.TS = time.Unix(tsUnix, 0).UTC()
		candles = append(candles, c)
	}
	return candles, rows.Err()
}

// ReadResults reads stored Supertrend values for one series, oldest first.
func (r *Reader) ReadResults(name, exchange, token string, tf int, afterTS int64) ([]model.TrendResult, error) {
	rows, err := r.db.Query(`
		SELECT name, exchange, token, tf, ts, up, down, trend, stop, close, flipped, step, ready
		FROM supertrend_values
		WHERE name = ? AND exchange = ? AND token = ? AND tf = ? AND ts > ?
		ORDER BY ts ASC
	`, name, exchange, token, tf, afterTS)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite query supertrend_values")
	}
	defer rows.Close()

	var results []model.TrendResult
	for rows.Next() {
		var res model.TrendResult
		var tsUnix int64
		if err := rows.Scan(&res.Name, &res.Exchange, &res.Token, &res.TF, &tsUnix,
			&res.Up, &res.Down, &res.Trend, &res.Stop, &res.Close, &res.Flipped, &res.Step, &res.Ready); err != nil {
			return nil, errors.Wrap(err, "sqlite scan supertrend_values")
		}
		res.TS = time.Unix(tsUnix, 0).UTC()
		results = append(results, res)
	}
	return results, rows.Err()
}

// ReadLatestSnapshot loads the most recent engine snapshot.
// Returns nil, nil if there is none.
func (r *Reader) ReadLatestSnapshot() (*indicator.EngineSnapshot, error) {
	var data string
	err := r.db.QueryRow(`
		SELECT data FROM trend_snapshots
		ORDER BY id DESC
		LIMIT 1
	`).Scan(&data)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // no snapshot
		}
		return nil, errors.Wrap(err, "sqlite read snapshot")
	}
	return indicator.UnmarshalSnapshot([]byte(data))
}

// Close closes the reader.
func (r *Reader) Close() error {
	return r.db.Close()
}
