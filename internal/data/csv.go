package data

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"backtest-core/internal/market"
)

// CSVSource reads <Dir>/<SYMBOL>.csv files with a header row naming
// date, open, high, low, close and volume columns. Only date and close are
// required.
type CSVSource struct {
	Dir string
}

var dateLayouts = []string{time.DateOnly, time.RFC3339, "2006-01-02 15:04:05", "2006/01/02"}

// History returns the bars of symbol in [start, end).
func (s CSVSource) History(ctx context.Context, symbol string, start, end time.Time) ([]market.Bar, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(filepath.Join(s.Dir, symbol+".csv"))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	bars, err := ReadCSV(f)
	if err != nil {
		return nil, fmt.Errorf("%s.csv: %w", symbol, err)
	}
	return market.InRange(market.Normalize(bars), start, end), nil
}

// ReadCSV parses bars from r.
func ReadCSV(r io.Reader) ([]market.Bar, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	cols := map[string]int{}
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	dateCol, ok := firstColumn(cols, "date", "time", "timestamp")
	if !ok {
		return nil, errors.New("missing date column")
	}
	closeCol, ok := firstColumn(cols, "close", "adj close", "adj_close")
	if !ok {
		return nil, errors.New("missing close column")
	}

	var bars []market.Bar
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		ts, err := parseDate(rec[dateCol])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		c, err := parseValue(rec[closeCol])
		if err != nil {
			return nil, fmt.Errorf("line %d close: %w", line, err)
		}
		b := market.Bar{Time: ts, Open: c, High: c, Low: c, Close: c}
		for name, dst := range map[string]*float64{"open": &b.Open, "high": &b.High, "low": &b.Low, "volume": &b.Volume} {
			if i, ok := cols[name]; ok && i < len(rec) && strings.TrimSpace(rec[i]) != "" {
				if *dst, err = parseValue(rec[i]); err != nil {
					return nil, fmt.Errorf("line %d %s: %w", line, name, err)
				}
			}
		}
		bars = append(bars, b)
	}
	return bars, nil
}

func firstColumn(cols map[string]int, names ...string) (int, bool) {
	for _, n := range names {
		if i, ok := cols[n]; ok {
			return i, true
		}
	}
	return 0, false
}

// parseValue reads a price cell. Empty and null markers become NaN so the
// bar is dropped later instead of failing the file.
func parseValue(s string) (float64, error) {
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "", "null", "nan", "na", "n/a", "none":
		return math.NaN(), nil
	}
	return strconv.ParseFloat(s, 64)
}

func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised date %q", s)
}

// WriteCSV writes bars in the format ReadCSV accepts.
func WriteCSV(w io.Writer, bars []market.Bar) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"date", "open", "high", "low", "close", "volume"}); err != nil {
		return err
	}
	for _, b := range bars {
		rec := []string{
			b.Time.Format(time.DateOnly),
			strconv.FormatFloat(b.Open, 'f', -1, 64),
			strconv.FormatFloat(b.High, 'f', -1, 64),
			strconv.FormatFloat(b.Low, 'f', -1, 64),
			strconv.FormatFloat(b.Close, 'f', -1, 64),
			strconv.FormatFloat(b.Volume, 'f', -1, 64),
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
