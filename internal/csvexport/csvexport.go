// Package csvexport writes the trade CSV distinct from the persisted
// grid snapshot (spec §6): one row per filled order.
package csvexport

import (
	"encoding/csv"
	"fmt"
	"io"

	"gridmm/internal/money"
)

var header = []string{"unix", "price", "amount", "side", "fee_asset", "fee_amount", "order_id"}

// Trade is one row of the export.
type Trade struct {
	UnixSeconds int64
	Price       string
	Amount      money.Amount
	Side        string
	FeeAsset    string
	FeeAmount   money.Amount
	OrderID     string
}

// Writer appends trade rows to an underlying CSV stream.
type Writer struct {
	w           *csv.Writer
	wroteHeader bool
}

// NewWriter wraps dst. Call WriteHeader once before the first Write,
// or let the first Write call it implicitly.
func NewWriter(dst io.Writer) *Writer {
	return &Writer{w: csv.NewWriter(dst)}
}

// WriteHeader emits the column header row.
func (w *Writer) WriteHeader() error {
	if w.wroteHeader {
		return nil
	}
	w.wroteHeader = true
	return w.w.Write(header)
}

// Write appends one trade row, writing the header first if not
// already written.
func (w *Writer) Write(t Trade) error {
	if !w.wroteHeader {
		if err := w.WriteHeader(); err != nil {
			return err
		}
	}
	row := []string{
		fmt.Sprintf("%d", t.UnixSeconds),
		t.Price,
		fmt.Sprintf("%d", int64(t.Amount)),
		t.Side,
		t.FeeAsset,
		fmt.Sprintf("%d", int64(t.FeeAmount)),
		t.OrderID,
	}
	return w.w.Write(row)
}

// Flush flushes buffered writes to the underlying stream.
func (w *Writer) Flush() error {
	w.w.Flush()
	return w.w.Error()
}
