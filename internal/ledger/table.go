// Package ledger persists the strategy's state across runs: a tracker table
// of dollar values, a positions table of share counts, and a trade log. The
// two value tables share an explicit ticker registry so their columns always
// line up, and rows are dense slices aligned with that registry.
package ledger

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"strconv"
)

// DateFormat is the row date layout used across all tables.
const DateFormat = "2006/01/02"

var (
	// ErrDataIntegrity is returned when an appended row does not match the
	// table's registered columns. The table is left untouched.
	ErrDataIntegrity = errors.New("ledger: row does not match table columns")

	// ErrPriceUnavailable is returned when a held position cannot be marked
	// to market.
	ErrPriceUnavailable = errors.New("ledger: price unavailable")
)

// Row is one period entry: cash, per-ticker values aligned with the table's
// registry, the total strategy value, and the benchmark column.
type Row struct {
	Date      string
	Cash      float64
	Assets    []float64
	Value     float64
	Benchmark float64
}

// RowData is the append payload. Assets is keyed by ticker; tickers already
// registered but absent from the map are zero-filled, unknown tickers fail
// the append.
type RowData struct {
	Date      string
	Cash      float64
	Assets    map[string]float64
	Value     float64
	Benchmark float64
}

// Table is an append-only period table with an ordered ticker registry.
type Table struct {
	Tickers []string
	Rows    []Row
}

// NewTable returns an empty table with no registered tickers.
func NewTable() *Table {
	return &Table{}
}

// AddTickers registers unseen tickers in first-seen order and zero-backfills
// the new columns on every existing row.
func (t *Table) AddTickers(tickers []string) {
	for _, tk := range tickers {
		if t.columnIndex(tk) >= 0 {
			continue
		}
		t.Tickers = append(t.Tickers, tk)
		for i := range t.Rows {
			t.Rows[i].Assets = append(t.Rows[i].Assets, 0)
		}
	}
}

// Append validates the payload against the registry and appends a dense row.
// On ErrDataIntegrity the table is unchanged.
func (t *Table) Append(r RowData) error {
	row, err := t.buildRow(r)
	if err != nil {
		return err
	}
	t.Rows = append(t.Rows, row)
	return nil
}

// buildRow converts a payload into a dense row without mutating the table.
func (t *Table) buildRow(r RowData) (Row, error) {
	assets := make([]float64, len(t.Tickers))
	matched := 0
	for i, tk := range t.Tickers {
		v, ok := r.Assets[tk]
		if !ok {
			continue
		}
		assets[i] = v
		matched++
	}
	if matched != len(r.Assets) {
		return Row{}, fmt.Errorf("%w: payload has %d unregistered tickers", ErrDataIntegrity, len(r.Assets)-matched)
	}
	return Row{
		Date:      r.Date,
		Cash:      r.Cash,
		Assets:    assets,
		Value:     r.Value,
		Benchmark: r.Benchmark,
	}, nil
}

// LastRow returns the most recent row. ok is false for an empty table.
func (t *Table) LastRow() (Row, bool) {
	if len(t.Rows) == 0 {
		return Row{}, false
	}
	return t.Rows[len(t.Rows)-1], true
}

// ValueOf reads a ticker's value from the last row, zero when the ticker is
// unregistered or the table is empty.
func (t *Table) ValueOf(ticker string) float64 {
	last, ok := t.LastRow()
	if !ok {
		return 0
	}
	i := t.columnIndex(ticker)
	if i < 0 {
		return 0
	}
	return last.Assets[i]
}

func (t *Table) columnIndex(ticker string) int {
	for i, tk := range t.Tickers {
		if tk == ticker {
			return i
		}
	}
	return -1
}

// MarshalCSV serializes the table with a header row of
// Date, Cash, <tickers...>, Value, Benchmark.
func (t *Table) MarshalCSV() ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	header := append([]string{"Date", "Cash"}, t.Tickers...)
	header = append(header, "Value", "Benchmark")
	if err := w.Write(header); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}

	record := make([]string, 0, len(header))
	for _, row := range t.Rows {
		record = record[:0]
		record = append(record, row.Date, formatFloat(row.Cash))
		for _, v := range row.Assets {
			record = append(record, formatFloat(v))
		}
		record = append(record, formatFloat(row.Value), formatFloat(row.Benchmark))
		if err := w.Write(record); err != nil {
			return nil, fmt.Errorf("write row: %w", err)
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

// UnmarshalTableCSV parses a table serialized by MarshalCSV.
func UnmarshalTableCSV(data []byte) (*Table, error) {
	records, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: missing header row", ErrDataIntegrity)
	}

	header := records[0]
	if len(header) < 4 || header[0] != "Date" || header[1] != "Cash" ||
		header[len(header)-2] != "Value" || header[len(header)-1] != "Benchmark" {
		return nil, fmt.Errorf("%w: unexpected header %v", ErrDataIntegrity, header)
	}

	t := &Table{Tickers: append([]string{}, header[2:len(header)-2]...)}
	for _, rec := range records[1:] {
		if len(rec) != len(header) {
			return nil, fmt.Errorf("%w: row width %d, header width %d", ErrDataIntegrity, len(rec), len(header))
		}
		row := Row{Date: rec[0], Assets: make([]float64, len(t.Tickers))}
		if row.Cash, err = strconv.ParseFloat(rec[1], 64); err != nil {
			return nil, fmt.Errorf("parse cash %q: %w", rec[1], err)
		}
		for i := range t.Tickers {
			if row.Assets[i], err = strconv.ParseFloat(rec[2+i], 64); err != nil {
				return nil, fmt.Errorf("parse %s %q: %w", t.Tickers[i], rec[2+i], err)
			}
		}
		if row.Value, err = strconv.ParseFloat(rec[len(rec)-2], 64); err != nil {
			return nil, fmt.Errorf("parse value %q: %w", rec[len(rec)-2], err)
		}
		if row.Benchmark, err = strconv.ParseFloat(rec[len(rec)-1], 64); err != nil {
			return nil, fmt.Errorf("parse benchmark %q: %w", rec[len(rec)-1], err)
		}
		t.Rows = append(t.Rows, row)
	}
	return t, nil
}

// TradeRecord is one executed trade.
type TradeRecord struct {
	Date     string
	Symbol   string
	Quantity int
	Value    float64
}

// TradesTable is the append-only trade log.
type TradesTable struct {
	Records []TradeRecord
}

// Append validates and appends a trade. Zero-quantity and unnamed trades are
// integrity violations; zero deltas must never reach the log.
func (t *TradesTable) Append(rec TradeRecord) error {
	if rec.Symbol == "" || rec.Quantity == 0 {
		return fmt.Errorf("%w: trade %+v", ErrDataIntegrity, rec)
	}
	t.Records = append(t.Records, rec)
	return nil
}

// MarshalCSV serializes the trade log.
func (t *TradesTable) MarshalCSV() ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write([]string{"Date", "Symbol", "Quantity", "Value"}); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}
	for _, rec := range t.Records {
		row := []string{rec.Date, rec.Symbol, strconv.Itoa(rec.Quantity), formatFloat(rec.Value)}
		if err := w.Write(row); err != nil {
			return nil, fmt.Errorf("write row: %w", err)
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

// UnmarshalTradesCSV parses a trade log serialized by MarshalCSV.
func UnmarshalTradesCSV(data []byte) (*TradesTable, error) {
	records, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: missing header row", ErrDataIntegrity)
	}

	t := &TradesTable{}
	for _, rec := range records[1:] {
		if len(rec) != 4 {
			return nil, fmt.Errorf("%w: trade row width %d", ErrDataIntegrity, len(rec))
		}
		qty, err := strconv.Atoi(rec[2])
		if err != nil {
			return nil, fmt.Errorf("parse quantity %q: %w", rec[2], err)
		}
		value, err := strconv.ParseFloat(rec[3], 64)
		if err != nil {
			return nil, fmt.Errorf("parse value %q: %w", rec[3], err)
		}
		t.Records = append(t.Records, TradeRecord{Date: rec[0], Symbol: rec[1], Quantity: qty, Value: value})
	}
	return t, nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
