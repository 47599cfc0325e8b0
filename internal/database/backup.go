package database

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"rentledger/internal/config"

	_ "github.com/mattn/go-sqlite3" // sqlite3 driver
	"github.com/rs/zerolog"
)

// BackupService snapshots the ledger database on a fixed interval. Escrow
// rows are money records, so backups run even in small deployments.
type BackupService struct {
	dbPath string
	cfg    config.BackupConfig
	logger *zerolog.Logger
}

func NewBackupService(dbPath string, cfg config.BackupConfig, logger *zerolog.Logger) *BackupService {
	return &BackupService{dbPath: dbPath, cfg: cfg, logger: logger}
}

func (s *BackupService) Start(ctx context.Context) {
	if !s.cfg.Enabled {
		s.logger.Info().Msg("Ledger backup disabled")
		return
	}

	interval := 24 * time.Hour
	if s.cfg.Schedule != "" {
		d, err := time.ParseDuration(s.cfg.Schedule)
		if err != nil {
			s.logger.Warn().Err(err).Str("schedule", s.cfg.Schedule).Msg("Bad backup schedule, using 24h")
		} else {
			interval = d
		}
	}
	s.logger.Info().Dur("interval", interval).Msg("Ledger backup started")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// First snapshot right away so a fresh deployment is covered.
	if err := s.Snapshot(); err != nil {
		s.logger.Error().Err(err).Msg("Initial ledger backup failed")
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Snapshot(); err != nil {
				s.logger.Error().Err(err).Msg("Scheduled ledger backup failed")
			}
			s.pruneOld()
		}
	}
}

// Snapshot writes a consistent copy of the database using VACUUM INTO, which
// is safe against concurrent writers. Plain file copy is the fallback.
func (s *BackupService) Snapshot() error {
	if err := os.MkdirAll(s.cfg.StoragePath, 0o755); err != nil {
		return fmt.Errorf("failed to create backup directory: %w", err)
	}

	name := fmt.Sprintf("ledger_%s.db", time.Now().Format("20060102_150405"))
	backupPath := filepath.Join(s.cfg.StoragePath, name)

	db, err := sql.Open("sqlite3", s.dbPath)
	if err != nil {
		return fmt.Errorf("failed to open source database: %w", err)
	}
	defer db.Close()

	if _, err := db.Exec(fmt.Sprintf("VACUUM INTO '%s'", backupPath)); err != nil {
		s.logger.Warn().Err(err).Msg("VACUUM INTO failed, falling back to file copy")
		return s.copyFallback(backupPath)
	}

	s.logger.Info().Str("path", backupPath).Msg("Ledger backup written")
	return nil
}

func (s *BackupService) copyFallback(backupPath string) error {
	source, err := os.Open(s.dbPath)
	if err != nil {
		return err
	}
	defer source.Close()

	destination, err := os.Create(backupPath)
	if err != nil {
		return err
	}
	defer destination.Close()

	// io.Copy is not atomic for SQLite; the copy may be inconsistent if a
	// write lands mid-copy.
	if _, err := io.Copy(destination, source); err != nil {
		return err
	}
	return nil
}

func (s *BackupService) pruneOld() {
	if s.cfg.RetentionDays <= 0 {
		return
	}

	files, err := os.ReadDir(s.cfg.StoragePath)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to read backup directory for cleanup")
		return
	}

	cutoff := time.Now().AddDate(0, 0, -s.cfg.RetentionDays)
	for _, file := range files {
		if file.IsDir() {
			continue
		}
		info, err := file.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			s.logger.Info().Str("file", file.Name()).Msg("Deleting expired backup")
			os.Remove(filepath.Join(s.cfg.StoragePath, file.Name()))
		}
	}
}
