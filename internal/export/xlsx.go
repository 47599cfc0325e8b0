package export

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"rentledger/internal/database"

	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"
)

const (
	ledgerSheet = "Ledger"
	auditSheet  = "Audit"
)

// Exporter writes the full booking ledger and the admin audit trail to an
// xlsx workbook under the configured export directory.
type Exporter struct {
	db     *database.DB
	path   string
	logger *zerolog.Logger
}

func NewExporter(db *database.DB, path string, logger *zerolog.Logger) *Exporter {
	return &Exporter{db: db, path: path, logger: logger}
}

// LedgerToExcel exports one row per booking, joined with its payment, plus a
// second sheet of admin overrides. Returns the path of the written file.
func (e *Exporter) LedgerToExcel(ctx context.Context) (string, error) {
	if err := os.MkdirAll(e.path, 0o755); err != nil {
		return "", fmt.Errorf("error creating export directory: %v", err)
	}

	snapshots, err := e.db.GetBookingSnapshots(ctx)
	if err != nil {
		return "", fmt.Errorf("error getting booking snapshots: %v", err)
	}
	audit, err := e.db.GetAllAuditRecords(ctx)
	if err != nil {
		return "", fmt.Errorf("error getting audit records: %v", err)
	}

	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(ledgerSheet)
	if err != nil {
		return "", fmt.Errorf("error creating sheet: %v", err)
	}
	f.SetActiveSheet(index)

	headerStyle, _ := f.NewStyle(&excelize.Style{
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
		Font:      &excelize.Font{Bold: true},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})

	headers := []string{
		"Booking ID", "Item", "Renter ID", "Owner ID", "Status",
		"Payment", "Amount", "Service Fee", "Owner Payout", "Updated At",
	}
	writeHeaderRow(f, ledgerSheet, headers, headerStyle)

	for i, s := range snapshots {
		row := i + 2
		values := []any{
			s.BookingID,
			s.ItemName,
			s.RenterID,
			s.OwnerID,
			s.Status,
			s.PaymentStatus,
			centsToDollars(s.AmountCents),
			centsToDollars(s.ServiceFeeCents),
			centsToDollars(s.AmountCents - s.ServiceFeeCents),
			s.UpdatedAt.Format("2006-01-02 15:04:05"),
		}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row)
			_ = f.SetCellValue(ledgerSheet, cell, v)
		}
	}

	_ = f.SetColWidth(ledgerSheet, "A", "A", 12)
	_ = f.SetColWidth(ledgerSheet, "B", "B", 30)
	_ = f.SetColWidth(ledgerSheet, "C", "F", 14)
	_ = f.SetColWidth(ledgerSheet, "G", "I", 14)
	_ = f.SetColWidth(ledgerSheet, "J", "J", 20)

	if _, err := f.NewSheet(auditSheet); err != nil {
		return "", fmt.Errorf("error creating sheet: %v", err)
	}
	writeHeaderRow(f, auditSheet, []string{"ID", "Booking ID", "Admin ID", "From", "To", "Reason", "At"}, headerStyle)
	for i, r := range audit {
		row := i + 2
		values := []any{
			r.ID, r.BookingID, r.ActorID, r.FromStatus, r.ToStatus, r.Reason,
			r.CreatedAt.Format("2006-01-02 15:04:05"),
		}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row)
			_ = f.SetCellValue(auditSheet, cell, v)
		}
	}
	_ = f.SetColWidth(auditSheet, "D", "F", 22)
	_ = f.SetColWidth(auditSheet, "G", "G", 20)

	_ = f.DeleteSheet("Sheet1")

	fileName := fmt.Sprintf("ledger_export_%s.xlsx", time.Now().Format("2006-01-02_15-04-05"))
	filePath := filepath.Join(e.path, fileName)
	if err := f.SaveAs(filePath); err != nil {
		return "", fmt.Errorf("error saving file: %v", err)
	}

	e.logger.Info().Str("file_path", filePath).Int("bookings", len(snapshots)).Msg("Excel file created")
	return filePath, nil
}

func writeHeaderRow(f *excelize.File, sheet string, headers []string, style int) {
	for i, header := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, header)
		_ = f.SetCellStyle(sheet, cell, cell, style)
	}
}

// centsToDollars renders an integer cent amount as a spreadsheet-friendly
// decimal. Money stays in cents everywhere else.
func centsToDollars(cents int64) float64 {
	return float64(cents) / 100
}
