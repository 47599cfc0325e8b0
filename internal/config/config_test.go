package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"rentledger/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
app:
  name: rentledger
database:
  path: /tmp/rentledger.db
api:
  enabled: true
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.API.HTTP.Port)
	assert.True(t, cfg.API.HTTP.Enabled)
	assert.Equal(t, models.DefaultServiceFeeBps, cfg.Escrow.ServiceFeeBps)
	assert.Equal(t, 24*time.Hour, cfg.Escrow.CodeTTL)
	assert.Equal(t, 24*time.Hour, cfg.Escrow.OwnerGrace)
	assert.Equal(t, 7*24*time.Hour, cfg.Escrow.HoldTTL)
}

func TestLoadExpandsEnv(t *testing.T) {
	t.Setenv("RL_DB_PATH", "/var/lib/rentledger/data.db")
	path := writeConfig(t, `
database:
  path: ${RL_DB_PATH}
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/rentledger/data.db", cfg.Database.Path)
}

func TestValidateRejectsBadFee(t *testing.T) {
	path := writeConfig(t, `
database:
  path: /tmp/rentledger.db
escrow:
  service_fee_bps: 10000
`)

	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidateRejectsMissingDatabase(t *testing.T) {
	path := writeConfig(t, `
app:
  name: rentledger
`)

	_, err := Load(path)
	assert.Error(t, err)
}

func TestAuthToggleRoundTrips(t *testing.T) {
	// Absent means enabled
	path := writeConfig(t, `
database:
  path: /tmp/rentledger.db
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.True(t, cfg.API.Auth.IsEnabled())

	// An explicit false must survive loading; it is the dev-mode opt-out
	path = writeConfig(t, `
database:
  path: /tmp/rentledger.db
api:
  auth:
    enabled: false
`)
	cfg, err = Load(path)
	require.NoError(t, err)
	assert.False(t, cfg.API.Auth.IsEnabled())
}

func TestValidateTokens(t *testing.T) {
	path := writeConfig(t, `
database:
  path: /tmp/rentledger.db
api:
  auth:
    tokens:
      - token: abc
        user_id: 1
        role: renter
      - token: abc
        user_id: 2
        role: owner
`)

	_, err := Load(path)
	assert.Error(t, err)

	path = writeConfig(t, `
database:
  path: /tmp/rentledger.db
api:
  auth:
    tokens:
      - token: abc
        user_id: 1
        role: superuser
`)

	_, err = Load(path)
	assert.Error(t, err)
}

func TestValidateItems(t *testing.T) {
	good := []models.RentalItem{
		{ID: 1, OwnerID: 10, Name: "Canon EOS R5", Fields: []models.RequirementField{
			{Name: "duration", Kind: models.FieldSelection, Options: []string{"1 day", "1 week"}},
		}},
	}
	assert.NoError(t, ValidateItems(good))

	dup := []models.RentalItem{
		{ID: 1, OwnerID: 10, Name: "a"},
		{ID: 1, OwnerID: 11, Name: "b"},
	}
	assert.Error(t, ValidateItems(dup))

	noOptions := []models.RentalItem{
		{ID: 2, OwnerID: 10, Name: "c", Fields: []models.RequirementField{
			{Name: "size", Kind: models.FieldSelection},
		}},
	}
	assert.Error(t, ValidateItems(noOptions))
}
