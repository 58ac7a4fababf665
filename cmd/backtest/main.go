// cmd/backtest replays historical candle data from SQLite through the
// Supertrend engine and prints a per-series summary.
//
// Usage:
//
//	go run ./cmd/backtest --db=data/candles.db --tf=60,300 --specs=10:3,7:2.5:EMA
package main

import (
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"trendengine/internal/indicator"
	"trendengine/internal/marketdata/replay"
	"trendengine/internal/model"
	sqlitestore "trendengine/internal/store/sqlite"
)

const persistBatch = 500

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	app := &cli.App{
		Name:  "backtest",
		Usage: "replay stored TF candles through the Supertrend engine",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "db", Value: "data/candles.db", Usage: "path to the SQLite database"},
			&cli.StringFlag{Name: "tf", Value: "60,300", Usage: "comma-separated TFs in seconds"},
			&cli.StringFlag{Name: "specs", Value: indicator.DefaultSpecs, Usage: "supertrend specs, period:multiplier[:smoother],..."},
			&cli.Int64Flag{Name: "from", Usage: "replay candles after this unix timestamp (0 = all)"},
			&cli.Float64Flag{Name: "speed", Usage: "playback speed multiplier (0 = max, 1 = realtime)"},
			&cli.BoolFlag{Name: "persist", Usage: "write confirmed results to supertrend_values"},
			&cli.BoolFlag{Name: "flips", Usage: "print every trend flip"},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatalf("[backtest] %v", err)
	}
}

func run(c *cli.Context) error {
	tfs := parseTFs(c.String("tf"))
	if len(tfs) == 0 {
		return errors.Errorf("no valid TFs in %q", c.String("tf"))
	}
	specs, err := indicator.ParseSpecs(c.String("specs"))
	if err != nil {
		return err
	}
	engine, err := indicator.NewEngine(indicator.ForTimeframes(tfs, specs))
	if err != nil {
		return err
	}

	reader, err := sqlitestore.NewReader(c.String("db"))
	if err != nil {
		return errors.Wrap(err, "sqlite open")
	}
	defer reader.Close()

	var writer *sqlitestore.Writer
	if c.Bool("persist") {
		writer, err = sqlitestore.New(sqlitestore.WriterConfig{DBPath: c.String("db")})
		if err != nil {
			return errors.Wrap(err, "sqlite writer")
		}
		defer writer.Close()
	}

	ctx, cancel := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	candleCh := make(chan model.TFCandle, 10000)
	go func() {
		defer close(candleCh)
		if _, err := replay.New(reader).Run(ctx, tfs, c.Int64("from"), c.Float64("speed"), candleCh); err != nil && ctx.Err() == nil {
			log.Printf("[backtest] replay error: %v", err)
		}
	}()

	summary := newSummary()
	if c.Bool("flips") {
		summary.onFlip = printFlip
	}
	pending := make([]model.TrendResult, 0, persistBatch)
	flush := func() {
		if writer == nil || len(pending) == 0 {
			return
		}
		if err := writer.InsertResults(pending); err != nil {
			log.Printf("[backtest] persist error: %v", err)
		}
		pending = pending[:0]
	}

	engine.OnReject = func(tfc model.TFCandle) { summary.reject(tfc) }
	for tfc := range candleCh {
		results := engine.Process(tfc)
		summary.add(results)
		if writer != nil {
			pending = append(pending, results...)
			if len(pending) >= persistBatch {
				flush()
			}
		}
	}
	flush()

	summary.render(os.Stdout)
	return nil
}

func parseTFs(s string) []int {
	var tfs []int
	for _, p := range strings.Split(s, ",") {
		if n, err := strconv.Atoi(strings.TrimSpace(p)); err == nil && n > 0 {
			tfs = append(tfs, n)
		}
	}
	return tfs
}
