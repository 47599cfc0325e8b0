package google

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"rentledger/internal/models"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

const (
	ledgerSheet = "Ledger"
	ledgerRange = ledgerSheet + "!A:I"
	idColumn    = ledgerSheet + "!A:A"
)

// ErrRowNotFound is returned when a booking has no row in the spreadsheet yet.
var ErrRowNotFound = errors.New("ledger row not found")

// SheetsService mirrors booking snapshots into a Google spreadsheet that the
// operations team watches. One row per booking, keyed by booking ID in
// column A. Row positions are cached so upserts cost one API call.
type SheetsService struct {
	service       *sheets.Service
	spreadsheetID string
	rowCache      map[int64]int
	cacheMu       sync.RWMutex
}

func NewSheetsService(credentialsFile, spreadsheetID string) (*SheetsService, error) {
	ctx := context.Background()

	credentialsJSON, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("unable to read credentials file: %v", err)
	}

	config, err := google.JWTConfigFromJSON(credentialsJSON, sheets.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("unable to parse credentials: %v", err)
	}

	srv, err := sheets.NewService(ctx, option.WithHTTPClient(config.Client(ctx)))
	if err != nil {
		return nil, fmt.Errorf("unable to create Sheets service: %v", err)
	}

	service := &SheetsService{
		service:       srv,
		spreadsheetID: spreadsheetID,
		rowCache:      make(map[int64]int),
	}

	// Warm up cache in background
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		service.WarmUpCache(ctx)
	}()

	return service, nil
}

// TestConnection reads the header cell to verify credentials and sharing.
func (s *SheetsService) TestConnection(ctx context.Context) error {
	_, err := s.service.Spreadsheets.Values.Get(s.spreadsheetID, ledgerSheet+"!A1").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("connection test failed: %v", err)
	}
	return nil
}

// GetServiceAccountEmail extracts the client email from a credentials file so
// operators know which account the spreadsheet must be shared with.
func GetServiceAccountEmail(credentialsFile string) (string, error) {
	file, err := os.ReadFile(credentialsFile)
	if err != nil {
		return "", err
	}

	var creds struct {
		ClientEmail string `json:"client_email"`
	}
	if err := json.Unmarshal(file, &creds); err != nil {
		return "", err
	}
	return creds.ClientEmail, nil
}

// UpsertSnapshot updates the booking's row or appends a new one.
func (s *SheetsService) UpsertSnapshot(ctx context.Context, snapshot models.BookingSnapshot) error {
	rowIdx, err := s.findRow(ctx, snapshot.BookingID)
	if err != nil {
		if errors.Is(err, ErrRowNotFound) {
			return s.appendSnapshot(ctx, snapshot)
		}
		return err
	}

	rangeData := fmt.Sprintf("%s!A%d:I%d", ledgerSheet, rowIdx, rowIdx)
	valueRange := &sheets.ValueRange{
		Values: [][]interface{}{snapshotRowValues(snapshot)},
	}

	_, err = s.service.Spreadsheets.Values.Update(s.spreadsheetID, rangeData, valueRange).
		ValueInputOption("RAW").
		Context(ctx).
		Do()
	return err
}

func (s *SheetsService) appendSnapshot(ctx context.Context, snapshot models.BookingSnapshot) error {
	valueRange := &sheets.ValueRange{
		Values: [][]interface{}{snapshotRowValues(snapshot)},
	}

	_, err := s.service.Spreadsheets.Values.Append(s.spreadsheetID, idColumn, valueRange).
		ValueInputOption("RAW").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	return err
}

// ReplaceLedgerSheet rewrites the whole sheet from scratch, headers included.
// Used by the admin resync path when the incremental mirror has drifted.
func (s *SheetsService) ReplaceLedgerSheet(ctx context.Context, snapshots []models.BookingSnapshot) error {
	_, err := s.service.Spreadsheets.Values.Clear(s.spreadsheetID, ledgerRange, &sheets.ClearValuesRequest{}).
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("failed to clear ledger sheet: %v", err)
	}

	values := [][]interface{}{
		{"Booking ID", "Item", "Renter ID", "Owner ID", "Status", "Payment", "Amount (cents)", "Service Fee (cents)", "Updated At"},
	}
	for _, snapshot := range snapshots {
		values = append(values, snapshotRowValues(snapshot))
	}

	_, err = s.service.Spreadsheets.Values.Update(s.spreadsheetID, ledgerSheet+"!A1", &sheets.ValueRange{Values: values}).
		ValueInputOption("RAW").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("failed to update ledger sheet: %v", err)
	}

	s.cacheMu.Lock()
	s.rowCache = make(map[int64]int)
	for i, snapshot := range snapshots {
		s.rowCache[snapshot.BookingID] = i + 2 // +2 because data starts below the header row
	}
	s.cacheMu.Unlock()

	return nil
}

// WarmUpCache populates the row index cache by reading the entire ID column.
func (s *SheetsService) WarmUpCache(ctx context.Context) error {
	resp, err := s.service.Spreadsheets.Values.Get(s.spreadsheetID, idColumn).Context(ctx).Do()
	if err != nil {
		return err
	}

	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	s.rowCache = make(map[int64]int)

	for i, row := range resp.Values {
		if len(row) == 0 {
			continue
		}
		if id := cellID(row[0]); id > 0 {
			s.rowCache[id] = i + 1
		}
	}
	return nil
}

// findRow locates the 1-based row index for a booking ID in column A.
func (s *SheetsService) findRow(ctx context.Context, bookingID int64) (int, error) {
	if bookingID == 0 {
		return 0, fmt.Errorf("booking id is required")
	}

	s.cacheMu.RLock()
	row, ok := s.rowCache[bookingID]
	s.cacheMu.RUnlock()
	if ok {
		return row, nil
	}

	resp, err := s.service.Spreadsheets.Values.Get(s.spreadsheetID, idColumn).Context(ctx).Do()
	if err != nil {
		return 0, err
	}

	for i, cells := range resp.Values {
		if len(cells) == 0 {
			continue
		}
		if cellID(cells[0]) == bookingID {
			rowIdx := i + 1 // Values are zero-based; sheet rows are 1-based
			s.cacheMu.Lock()
			s.rowCache[bookingID] = rowIdx
			s.cacheMu.Unlock()
			return rowIdx, nil
		}
	}

	return 0, ErrRowNotFound
}

func cellID(cell interface{}) int64 {
	switch v := cell.(type) {
	case float64:
		return int64(v)
	case string:
		var id int64
		fmt.Sscanf(v, "%d", &id)
		return id
	}
	return 0
}

func snapshotRowValues(s models.BookingSnapshot) []interface{} {
	return []interface{}{
		s.BookingID,
		s.ItemName,
		s.RenterID,
		s.OwnerID,
		s.Status,
		s.PaymentStatus,
		s.AmountCents,
		s.ServiceFeeCents,
		s.UpdatedAt.Format("2006-01-02 15:04:05"),
	}
}
