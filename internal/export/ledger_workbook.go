// Package export writes ledger records and their source vouchers to XLSX.
package export

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/garyjia/evoucher/internal/domain/entity"
)

const (
	ledgerSheet = "Ledger"
	linesSheet  = "Voucher Lines"
)

var ledgerHeader = []interface{}{"Ledger Ref", "Kind", "Voucher", "Amount", "Currency", "Description", "Posted By", "Posted At"}

var linesHeader = []interface{}{"Voucher", "No", "Description", "Quantity", "Unit Price", "Tax Type", "Amount", "Original Currency", "Original Amount", "Exchange Rate"}

// Entry pairs a ledger record with the document it was posted from.
// Document may be nil when the voucher can no longer be read.
type Entry struct {
	Record   *entity.LedgerRecord
	Document *entity.FinancialDocument
}

// LedgerWorkbook builds the ledger export
type LedgerWorkbook struct {
	logger *zap.Logger
}

// NewLedgerWorkbook creates a new ledger workbook writer
func NewLedgerWorkbook(logger *zap.Logger) *LedgerWorkbook {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LedgerWorkbook{logger: logger}
}

// Write renders entries as a two-sheet workbook to w. Amounts are written
// from the frozen values on the records and lines.
func (lw *LedgerWorkbook) Write(w io.Writer, entries []Entry) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", ledgerSheet); err != nil {
		return fmt.Errorf("failed to name ledger sheet: %w", err)
	}
	if _, err := f.NewSheet(linesSheet); err != nil {
		return fmt.Errorf("failed to create lines sheet: %w", err)
	}

	if err := lw.setRow(f, ledgerSheet, 1, ledgerHeader); err != nil {
		return err
	}
	if err := lw.setRow(f, linesSheet, 1, linesHeader); err != nil {
		return err
	}

	ledgerRow, lineRow := 2, 2
	for _, e := range entries {
		if e.Record == nil {
			continue
		}
		rec := e.Record
		if err := lw.setRow(f, ledgerSheet, ledgerRow, []interface{}{
			rec.ID,
			string(rec.Kind),
			rec.SourceDocumentID,
			rec.Amount.StringFixed(2),
			rec.Currency,
			rec.Description,
			rec.CreatedBy.Name,
			rec.CreatedAt.Format("2006-01-02 15:04:05"),
		}); err != nil {
			return err
		}
		ledgerRow++

		if e.Document == nil {
			lw.logger.Warn("Ledger record exported without its voucher",
				zap.String("ledger_ref", rec.ID),
				zap.String("document_id", rec.SourceDocumentID))
			continue
		}
		for i, item := range e.Document.LineItems {
			row := []interface{}{
				e.Document.ID,
				i + 1,
				item.Description,
				item.Quantity.String(),
				item.UnitPrice.StringFixed(2),
				item.TaxType,
				item.Amount.StringFixed(2),
				item.OriginalCurrency,
				"",
				"",
			}
			if orig := item.OriginalAmount; orig != nil {
				row[8] = orig.StringFixed(2)
				if !orig.Equal(orig.Round(2)) {
					row[8] = orig.String()
				}
			}
			if item.ExchangeRate != nil {
				row[9] = item.ExchangeRate.String()
			}
			if err := lw.setRow(f, linesSheet, lineRow, row); err != nil {
				return err
			}
			lineRow++
		}
	}

	lw.logger.Info("Ledger workbook generated",
		zap.Int("records", ledgerRow-2),
		zap.Int("lines", lineRow-2))

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}

func (lw *LedgerWorkbook) setRow(f *excelize.File, sheet string, row int, values []interface{}) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return fmt.Errorf("invalid row %d: %w", row, err)
	}
	if err := f.SetSheetRow(sheet, cell, &values); err != nil {
		return fmt.Errorf("failed to write %s row %d: %w", sheet, row, err)
	}
	return nil
}
