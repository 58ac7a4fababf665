package sqlite

import (
	"context"
	"database/sql"
	"log"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"trendengine/internal/indicator"
	"trendengine/internal/model"
)

const (
	defaultBatchSize  = 100
	defaultFlushDelay = 200 * time.Millisecond
	keepSnapshots     = 10
)

// WriterConfig configures the SQLite writer.
type WriterConfig struct {
	DBPath string // path to SQLite database file, e.g. "data/candles.db"
}

// Writer is a single-goroutine SQLite writer with transaction batching.
type Writer struct {
	db *sql.DB

	// OnCommit, if set, observes each batch commit.
	OnCommit func(rows int, d time.Duration, err error)
}

// DB returns the underlying sql.DB for health checks.
func (w *Writer) DB() *sql.DB { return w.db }

func dsn(path string) string {
	return path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
}

// New creates a new SQLite Writer, initializes the database with WAL mode and schema.
func New(cfg WriterConfig) (*Writer, error) {
	db, err := sql.Open("sqlite3", dsn(cfg.DBPath))
	if err != nil {
		return nil, errors.Wrap(err, "sqlite open")
	}

	// Set connection pool for single-writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "sqlite schema")
	}

	log.Printf("[sqlite] opened database at %s", cfg.DBPath)
	return NewWithDB(db), nil
}

// NewWithDB wraps an open database whose schema already exists.
func NewWithDB(db *sql.DB) *Writer {
	return &Writer{db: db}
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS candles_tf (
			token      TEXT    NOT NULL,
			exchange   TEXT    NOT NULL,
			tf         INTEGER NOT NULL,
			ts         INTEGER NOT NULL,
			open       INTEGER NOT NULL,
			high       INTEGER NOT NULL,
			low        INTEGER NOT NULL,
			close      INTEGER NOT NULL,
			volume     INTEGER,
			count      INTEGER,
			PRIMARY KEY (exchange, token, tf, ts)
		);

		CREATE TABLE IF NOT EXISTS supertrend_values (
			name       TEXT    NOT NULL,
			exchange   TEXT    NOT NULL,
			token      TEXT    NOT NULL,
			tf         INTEGER NOT NULL,
			ts         INTEGER NOT NULL,
			up         REAL    NOT NULL,
			down       REAL    NOT NULL,
			trend      INTEGER NOT NULL,
			stop       REAL    NOT NULL,
			close      REAL    NOT NULL,
			flipped    INTEGER NOT NULL,
			step       INTEGER NOT NULL,
			ready      INTEGER NOT NULL,
			PRIMARY KEY (name, exchange, token, tf, ts)
		);

		CREATE TABLE IF NOT EXISTS trend_snapshots (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			stream_id  TEXT    NOT NULL,
			data       TEXT    NOT NULL,
			created_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
		);
	`)
	return err
}

// runBatched collects items from ch and flushes every defaultBatchSize items
// OR every defaultFlushDelay, whichever first. Flushes what is left on exit.
func runBatched[T any](ctx context.Context, ch <-chan T, label string, insert func([]T) error) {
	batch := make([]T, 0, defaultBatchSize)
	timer := time.NewTimer(defaultFlushDelay)
	defer timer.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := insert(batch); err != nil {
			log.Printf("[sqlite] %s batch insert error (%d rows): %v", label, len(batch), err)
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return
		case item, ok := <-ch:
			if !ok {
				flush()
				return
			}
			batch = append(batch, item)
			if len(batch) >= defaultBatchSize {
				flush()
				timer.Reset(defaultFlushDelay)
			}
		case <-timer.C:
			flush()
			timer.Reset(defaultFlushDelay)
		}
	}
}

// RunTFCandles reads TF candles from a channel and inserts them in batched transactions.
// Blocks until ctx is cancelled or the channel is closed.
func (w *Writer) RunTFCandles(ctx context.Context, tfCandleCh <-chan model.TFCandle) {
	runBatched(ctx, tfCandleCh, "TF candle", w.InsertTFCandles)
}

// RunResults reads Supertrend results and inserts confirmed ones in batched transactions.
func (w *Writer) RunResults(ctx context.Context, resultCh <-chan model.TrendResult) {
	runBatched(ctx, resultCh, "supertrend", w.InsertResults)
}

// InsertTFCandles upserts TF candles in a single transaction.
func (w *Writer) InsertTFCandles(candles []model.TFCandle) error {
	return w.inTx(len(candles), `
		INSERT OR REPLACE INTO candles_tf (token, exchange, tf, ts, open, high, low, close, volume, count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, func(stmt *sql.Stmt) error {
		for _, c := range candles {
			if c.Forming {
				continue
			}
			if _, err := stmt.Exec(c.Token, c.Exchange, c.TF, c.TS.Unix(), c.Open, c.High, c.Low, c.Close, c.Volume, c.Count); err != nil {
				return err
			}
		}
		return nil
	})
}

// InsertResults upserts Supertrend results in a single transaction.
// Live (forming candle) results are skipped.
func (w *Writer) InsertResults(results []model.TrendResult) error {
	return w.inTx(len(results), `
		INSERT OR REPLACE INTO supertrend_values (name, exchange, token, tf, ts, up, down, trend, stop, close, flipped, step, ready)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, func(stmt *sql.Stmt) error {
		for _, r := range results {
			if r.Live {
				continue
			}
			if _, err := stmt.Exec(r.Name, r.Exchange, r.Token, r.TF, r.TS.Unix(),
				r.Up, r.Down, r.Trend, r.Stop, r.Close, r.Flipped, r.Step, r.Ready); err != nil {
				return err
			}
		}
		return nil
	})
}

// inTx prepares query in a transaction, runs exec and commits, rolling back on error.
func (w *Writer) inTx(rows int, query string, exec func(*sql.Stmt) error) (err error) {
	if rows == 0 {
		return nil
	}
	start := time.Now()
	defer func() {
		if w.OnCommit != nil {
			w.OnCommit(rows, time.Since(start), err)
		}
	}()

	tx, err := w.db.Begin()
	if err != nil {
		return errors.Wrap(err, "begin")
	}
	stmt, err := tx.Prepare(query)
	if err != nil {
		tx.Rollback()
		return errors.Wrap(err, "prepare")
	}
	defer stmt.Close()

	if err := exec(stmt); err != nil {
		tx.Rollback()
		return errors.Wrap(err, "exec")
	}
	return errors.Wrap(tx.Commit(), "commit")
}

// SaveSnapshot saves an engine snapshot to SQLite and prunes all but the last 10.
func (w *Writer) SaveSnapshot(snap *indicator.EngineSnapshot) error {
	data, err := snap.Marshal()
	if err != nil {
		return errors.Wrap(err, "marshal snapshot")
	}

	_, err = w.db.Exec(`INSERT INTO trend_snapshots (stream_id, data) VALUES (?, ?)`, snap.StreamID, string(data))
	if err != nil {
		return errors.Wrap(err, "sqlite insert snapshot")
	}

	_, err = w.db.Exec(`DELETE FROM trend_snapshots WHERE id NOT IN (SELECT id FROM trend_snapshots ORDER BY id DESC LIMIT ?)`, keepSnapshots)
	if err != nil {
		log.Printf("[sqlite] prune snapshots warning: %v", err)
	}

	return nil
}

// Close closes the database.
func (w *Writer) Close() error {
	return w.db.Close()
}
