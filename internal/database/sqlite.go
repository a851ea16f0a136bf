package database

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// sqlitePragmas travel in the DSN so every pooled connection gets them,
// not just the first one opened.
const sqlitePragmas = "_foreign_keys=1&_busy_timeout=5000"

func openSQLite(cfg Config) (*gorm.DB, error) {
	dsn := cfg.DSN
	if dsn == "" {
		built, err := buildSQLiteDSN(cfg.Path)
		if err != nil {
			return nil, err
		}
		dsn = built
	}

	return gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
}

func buildSQLiteDSN(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" || strings.EqualFold(path, ":memory:") {
		return "file::memory:?cache=shared&" + sqlitePragmas, nil
	}

	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("create sqlite directory: %w", err)
		}
	}

	// WAL keeps status polls from blocking the pipeline's progress writes.
	return fmt.Sprintf("file:%s?_journal_mode=WAL&_synchronous=NORMAL&%s",
		filepath.ToSlash(path), sqlitePragmas), nil
}
