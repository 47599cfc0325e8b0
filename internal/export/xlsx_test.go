package export

import (
	"context"
	"path/filepath"
	"testing"

	"rentledger/internal/database"
	"rentledger/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func newTestExporter(t *testing.T) (*Exporter, *database.DB) {
	t.Helper()
	dir := t.TempDir()
	db, err := database.NewDB(filepath.Join(dir, "export.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	logger := zerolog.Nop()
	return NewExporter(db, filepath.Join(dir, "exports"), &logger), db
}

func TestLedgerToExcel(t *testing.T) {
	exporter, db := newTestExporter(t)
	ctx := context.Background()

	booking := &models.Booking{
		RentalItemID:     1,
		ItemName:         "Canon EOS R5",
		RenterID:         100,
		OwnerID:          200,
		RequirementsData: map[string]any{"full_name": "Ayaan Warsame"},
		ContractAccepted: true,
		Status:           models.StatusPending,
	}
	require.NoError(t, db.CreateBooking(ctx, booking))
	require.NoError(t, db.HoldPayment(ctx, booking.ID, booking.Version, &models.Payment{
		BookingID:       booking.ID,
		Method:          models.MethodEVCPlus,
		Account:         "612345678",
		AmountCents:     10000,
		ServiceFeeCents: 500,
		Status:          models.PaymentHeld,
	}))
	require.NoError(t, db.OverrideBookingStatus(ctx, booking.ID, 2, models.StatusPaymentHeld, models.StatusCancelled, 1, "fraud report"))

	path, err := exporter.LedgerToExcel(ctx)
	require.NoError(t, err)

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()

	item, err := f.GetCellValue(ledgerSheet, "B2")
	require.NoError(t, err)
	assert.Equal(t, "Canon EOS R5", item)

	amount, err := f.GetCellValue(ledgerSheet, "G2")
	require.NoError(t, err)
	assert.Equal(t, "100", amount)

	status, err := f.GetCellValue(ledgerSheet, "E2")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, status)

	reason, err := f.GetCellValue(auditSheet, "F2")
	require.NoError(t, err)
	assert.Equal(t, "fraud report", reason)
}

func TestLedgerToExcelEmptyDatabase(t *testing.T) {
	exporter, _ := newTestExporter(t)

	path, err := exporter.LedgerToExcel(context.Background())
	require.NoError(t, err)

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()

	header, err := f.GetCellValue(ledgerSheet, "A1")
	require.NoError(t, err)
	assert.Equal(t, "Booking ID", header)
}
