package main

import (
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/olekukonko/tablewriter"

	"trendengine/internal/model"
)

// seriesStats accumulates one indicator series.
type seriesStats struct {
	name   string
	symbol string
	tf     int

	bars      int
	flips     int
	upBars    int
	lastTrend string
	lastStop  float64
	lastClose float64
	ready     bool
}

type summary struct {
	series   map[string]*seriesStats
	rejected int

	onFlip func(r *model.TrendResult)
}

func newSummary() *summary {
	return &summary{series: make(map[string]*seriesStats)}
}

func (s *summary) add(results []model.TrendResult) {
	for i := range results {
		r := &results[i]
		key := r.StreamKey()
		st, ok := s.series[key]
		if !ok {
			st = &seriesStats{name: r.Name, symbol: r.Key(), tf: r.TF}
			s.series[key] = st
		}
		st.bars++
		if r.Trend > 0 {
			st.upBars++
		}
		if r.Flipped {
			st.flips++
			if s.onFlip != nil {
				s.onFlip(r)
			}
		}
		st.lastTrend = r.Direction()
		st.lastStop = r.Stop
		st.lastClose = r.Close
		st.ready = r.Ready
	}
}

func (s *summary) reject(model.TFCandle) { s.rejected++ }

// rows returns the series ordered by symbol, TF, then indicator name.
func (s *summary) rows() []*seriesStats {
	out := make([]*seriesStats, 0, len(s.series))
	for _, st := range s.series {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.symbol != b.symbol {
			return a.symbol < b.symbol
		}
		if a.tf != b.tf {
			return a.tf < b.tf
		}
		return a.name < b.name
	})
	return out
}

func (s *summary) render(w io.Writer) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Symbol", "TF", "Indicator", "Bars", "Flips", "% Up", "Trend", "Stop", "Close", "Ready"})
	table.SetFooterAlignment(tablewriter.ALIGN_RIGHT)

	bars, flips := 0, 0
	for _, st := range s.rows() {
		table.Append([]string{
			st.symbol,
			strconv.Itoa(st.tf) + "s",
			st.name,
			strconv.Itoa(st.bars),
			strconv.Itoa(st.flips),
			fmt.Sprintf("%.1f %%", float64(st.upBars)/float64(st.bars)*100),
			st.lastTrend,
			fmt.Sprintf("%.2f", st.lastStop),
			fmt.Sprintf("%.2f", st.lastClose),
			strconv.FormatBool(st.ready),
		})
		bars += st.bars
		flips += st.flips
	}
	table.SetFooter([]string{"", "", "TOTAL", strconv.Itoa(bars), strconv.Itoa(flips), "", "", "", "rejected", strconv.Itoa(s.rejected)})
	table.Render()
}

func printFlip(r *model.TrendResult) {
	fmt.Printf("  [%s] %s %s@%ds flipped %s close=%.2f stop=%.2f\n",
		r.TS.Format("2006-01-02 15:04:05"), r.Name, r.Key(), r.TF, r.Direction(), r.Close, r.Stop)
}
