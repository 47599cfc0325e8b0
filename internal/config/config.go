package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"rentledger/internal/models"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App        AppConfig        `yaml:"app"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Escrow     EscrowConfig     `yaml:"escrow"`
	API        APIConfig        `yaml:"api"`
	Logging    LoggingConfig    `yaml:"logging"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Telegram   TelegramConfig   `yaml:"telegram"`
	Google     GoogleConfig     `yaml:"google"`
	Backup     BackupConfig     `yaml:"backup"`
	Exports    ExportConfig     `yaml:"exports"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

// EscrowConfig is the policy layer of the state machine. The 24h windows and
// code expiry are deliberately configuration, not constants.
type EscrowConfig struct {
	ServiceFeeBps int           `yaml:"service_fee_bps"`
	CodeTTL       time.Duration `yaml:"code_ttl"`
	OwnerGrace    time.Duration `yaml:"owner_grace"`
	HoldTTL       time.Duration `yaml:"hold_ttl"`
}

type APIConfig struct {
	Enabled   bool               `yaml:"enabled"`
	HTTP      APIHTTPConfig      `yaml:"http"`
	Auth      APIAuthConfig      `yaml:"auth"`
	RateLimit APIRateLimitConfig `yaml:"rate_limit"`
}

type APIHTTPConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

type APIAuthConfig struct {
	// Enabled is a pointer so an absent key and an explicit false are
	// distinguishable: auth defaults on and is opted out of deliberately.
	Enabled *bool      `yaml:"enabled"`
	Tokens  []APIToken `yaml:"tokens"`
}

// IsEnabled treats an unset value as enabled.
func (a APIAuthConfig) IsEnabled() bool {
	return a.Enabled == nil || *a.Enabled
}

// APIToken maps a bearer token to an authenticated principal. Token
// issuance itself lives in the external auth service; the coordinator only
// resolves tokens it has been handed.
type APIToken struct {
	Token  string `yaml:"token"`
	UserID int64  `yaml:"user_id"`
	Role   string `yaml:"role"`
	Name   string `yaml:"name"`
}

type APIRateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
	PrometheusPort    int  `yaml:"prometheus_port"`
}

type TelegramConfig struct {
	BotToken       string  `yaml:"bot_token"`
	ManagerChatIDs []int64 `yaml:"manager_chat_ids"`
	Debug          bool    `yaml:"debug"`
}

type GoogleConfig struct {
	GoogleCredentialsFile string `yaml:"credentials_file"`
	LedgerSpreadSheetID   string `yaml:"ledger_spreadsheet_id"`
}

type BackupConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Schedule      string `yaml:"schedule"`
	RetentionDays int    `yaml:"retention_days"`
	StoragePath   string `yaml:"storage_path"`
}

type ExportConfig struct {
	Path string `yaml:"path"`
}

func Load(configPath string) (*Config, error) {
	// .env is optional; env vars may come from the environment directly.
	_ = godotenv.Load(".env")

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	// Expand ${VAR} references before parsing so secrets stay out of YAML.
	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return errors.New("database path is required")
	}

	if c.Escrow.ServiceFeeBps < 0 || c.Escrow.ServiceFeeBps >= 10000 {
		return fmt.Errorf("service_fee_bps %d out of range [0, 10000)", c.Escrow.ServiceFeeBps)
	}

	seen := make(map[string]bool, len(c.API.Auth.Tokens))
	for _, t := range c.API.Auth.Tokens {
		if t.Token == "" {
			return errors.New("api token with empty value")
		}
		if seen[t.Token] {
			return fmt.Errorf("duplicate api token for %q", t.Name)
		}
		seen[t.Token] = true
		switch t.Role {
		case models.RoleRenter, models.RoleOwner, models.RoleAdmin:
		default:
			return fmt.Errorf("api token %q has unknown role %q", t.Name, t.Role)
		}
	}

	return nil
}

func (c *Config) applyDefaults() {
	if c.API.HTTP.Port == 0 {
		c.API.HTTP.Port = 8080
	}
	if c.API.Enabled && !c.API.HTTP.Enabled {
		c.API.HTTP.Enabled = true
	}
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}

	if c.Escrow.ServiceFeeBps == 0 {
		c.Escrow.ServiceFeeBps = models.DefaultServiceFeeBps
	}
	if c.Escrow.CodeTTL == 0 {
		c.Escrow.CodeTTL = models.DefaultCodeTTLHours * time.Hour
	}
	if c.Escrow.OwnerGrace == 0 {
		c.Escrow.OwnerGrace = models.DefaultOwnerGraceHours * time.Hour
	}
	if c.Escrow.HoldTTL == 0 {
		c.Escrow.HoldTTL = 7 * 24 * time.Hour
	}
}

// ValidateItems checks the rental item catalog loaded from items.yaml.
func ValidateItems(items []models.RentalItem) error {
	itemIDs := make(map[int64]bool)
	for _, item := range items {
		if item.ID == 0 {
			return fmt.Errorf("item '%s' has invalid ID 0", item.Name)
		}
		if item.OwnerID == 0 {
			return fmt.Errorf("item '%s' has no owner", item.Name)
		}
		if itemIDs[item.ID] {
			return fmt.Errorf("duplicate item ID found: %d", item.ID)
		}
		itemIDs[item.ID] = true

		names := make(map[string]bool, len(item.Fields))
		for _, f := range item.Fields {
			if f.Name == "" {
				return fmt.Errorf("item '%s' has a requirement field without a name", item.Name)
			}
			if names[f.Name] {
				return fmt.Errorf("item '%s' has duplicate field %q", item.Name, f.Name)
			}
			names[f.Name] = true
			if f.Kind == models.FieldSelection && len(f.Options) == 0 {
				return fmt.Errorf("item '%s' field %q is a selection without options", item.Name, f.Name)
			}
		}
	}
	return nil
}
