// Package db persists the admin roster and the session and kill history in
// SQLite.
package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/veltro-project/blazingbarrels/internal/util"
)

// pragmas applied to every new history file. A failure is logged, not fatal:
// the store still works without WAL, only slower.
var pragmas = []string{
	"journal_mode=WAL",
	"busy_timeout=5000",
	"synchronous=NORMAL",
}

// historyDB is the single SQLite handle behind a Store. The dispatcher's
// event handlers write concurrently with API reads, so writes take writeMu.
type historyDB struct {
	sql     *sql.DB
	writeMu sync.Mutex
	logger  zerolog.Logger
}

func openHistoryDB(path string) (*historyDB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("history directory %s: %w", dir, err)
		}
	}

	handle, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open history %s: %w", path, err)
	}
	handle.SetMaxOpenConns(1)

	h := &historyDB{sql: handle, logger: util.ComponentLogger("sqlite")}
	for _, p := range pragmas {
		if _, err := handle.Exec("PRAGMA " + p); err != nil {
			h.logger.Warn().Err(err).Str("pragma", p).Msg("pragma not applied")
		}
	}
	if err := handle.Ping(); err != nil {
		handle.Close()
		return nil, fmt.Errorf("history %s unreachable: %w", path, err)
	}

	h.logger.Info().Str("path", path).Msg("history database ready")
	return h, nil
}

func (h *historyDB) Close() error {
	return h.sql.Close()
}

// Exec runs a write statement.
func (h *historyDB) Exec(query string, args ...any) (sql.Result, error) {
	h.writeMu.Lock()
	defer h.writeMu.Unlock()
	return h.sql.Exec(query, args...)
}

func (h *historyDB) Query(query string, args ...any) (*sql.Rows, error) {
	return h.sql.Query(query, args...)
}

// Transaction commits fn's writes together or not at all.
func (h *historyDB) Transaction(fn func(tx *sql.Tx) error) error {
	h.writeMu.Lock()
	defer h.writeMu.Unlock()

	tx, err := h.sql.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			h.logger.Warn().Err(rbErr).Msg("rollback failed")
		}
		return err
	}
	return tx.Commit()
}
