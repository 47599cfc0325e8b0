package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateValueString(t *testing.T) {
	f := RequirementField{Name: "full_name", Kind: FieldString, Required: true}

	assert.NoError(t, f.ValidateValue("Ayaan Warsame"))
	assert.Error(t, f.ValidateValue(""))
	assert.Error(t, f.ValidateValue(42))
}

func TestValidateValueNumber(t *testing.T) {
	f := RequirementField{Name: "total_price", Kind: FieldNumber, Required: true}

	assert.NoError(t, f.ValidateValue(float64(100)))
	assert.NoError(t, f.ValidateValue(7))
	assert.Error(t, f.ValidateValue("100"))
	assert.Error(t, f.ValidateValue(true))
}

func TestValidateValueDate(t *testing.T) {
	f := RequirementField{Name: "pickup_date", Kind: FieldDate}

	assert.NoError(t, f.ValidateValue("2026-03-01"))
	assert.Error(t, f.ValidateValue("01/03/2026"))
	assert.Error(t, f.ValidateValue(20260301))
}

func TestValidateValueSelection(t *testing.T) {
	f := RequirementField{
		Name:    "duration",
		Kind:    FieldSelection,
		Options: []string{"1 day", "1 week", "1 month"},
	}

	assert.NoError(t, f.ValidateValue("1 week"))
	assert.Error(t, f.ValidateValue("2 weeks"))
	assert.Error(t, f.ValidateValue(7))
}

func TestValidateValueContract(t *testing.T) {
	f := RequirementField{Name: "terms", Kind: FieldContract, Required: true}

	assert.NoError(t, f.ValidateValue(true))
	assert.Error(t, f.ValidateValue(false))
	assert.Error(t, f.ValidateValue("yes"))
}

func TestValidateValueUnknownKind(t *testing.T) {
	f := RequirementField{Name: "weird", Kind: FieldKind("blob")}
	assert.Error(t, f.ValidateValue("anything"))
}

func TestValidateRequirements(t *testing.T) {
	fields := []RequirementField{
		{Name: "full_name", Kind: FieldString, Required: true},
		{Name: "total_price", Kind: FieldNumber, Required: true},
		{Name: "notes", Kind: FieldTextarea, Required: false},
	}

	err := ValidateRequirements(fields, map[string]any{
		"full_name":   "Ayaan Warsame",
		"total_price": float64(250),
	})
	assert.NoError(t, err)

	// Missing required field
	err = ValidateRequirements(fields, map[string]any{
		"full_name": "Ayaan Warsame",
	})
	assert.Error(t, err)

	// Empty string counts as missing
	err = ValidateRequirements(fields, map[string]any{
		"full_name":   "",
		"total_price": float64(250),
	})
	assert.Error(t, err)

	// Optional field validated when present
	err = ValidateRequirements(fields, map[string]any{
		"full_name":   "Ayaan Warsame",
		"total_price": float64(250),
		"notes":       123,
	})
	assert.Error(t, err)
}

func TestPaymentTotals(t *testing.T) {
	p := &Payment{AmountCents: 10000, ServiceFeeCents: 500}

	assert.Equal(t, int64(10500), p.TotalCents())
	assert.Equal(t, int64(9500), p.OwnerPayoutCents())
	assert.Equal(t, 105.0, Dollars(p.TotalCents()))
	assert.Equal(t, int64(10000), Cents(100.00))
}

func TestBookingIsTerminal(t *testing.T) {
	for _, status := range []string{StatusCompleted, StatusOwnerRejected, StatusCancelled} {
		b := &Booking{Status: status}
		assert.True(t, b.IsTerminal(), status)
	}
	for _, status := range []string{StatusPending, StatusPaymentHeld, StatusOwnerAccepted, StatusDelivered} {
		b := &Booking{Status: status}
		assert.False(t, b.IsTerminal(), status)
	}
}
