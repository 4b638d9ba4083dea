package state

import (
	"database/sql"
	"sync"

	"github.com/surge-downloader/surge/internal/config"
	"github.com/surge-downloader/surge/internal/store"
)

var (
	dbMu sync.RWMutex
	db   *sql.DB
)

// Configure opens (and migrates) the SQLite database at path and makes it
// the package-wide connection used by every State function below. It is
// safe to call more than once; later calls replace the active connection,
// which the bench harness relies on to point at a scratch database per run.
func Configure(path string) error {
	conn, err := store.Shared(path)
	if err != nil {
		return err
	}
	dbMu.Lock()
	db = conn
	dbMu.Unlock()
	return nil
}

// GetDB returns the package-wide connection, opening the default
// (config.GetDBPath) database on first use if Configure was never called
// explicitly.
func GetDB() (*sql.DB, error) {
	if conn := getDBHelper(); conn != nil {
		return conn, nil
	}
	if err := config.EnsureDirs(); err != nil {
		return nil, err
	}
	if err := Configure(config.GetDBPath()); err != nil {
		return nil, err
	}
	return getDBHelper(), nil
}

// CloseDB closes and forgets the package-wide connection. Tests call this
// between runs that point XDG_CONFIG_HOME at a fresh temp directory.
func CloseDB() {
	dbMu.Lock()
	defer dbMu.Unlock()
	if db == nil {
		return
	}
	store.ForgetPath(config.GetDBPath())
	db = nil
}

func getDBHelper() *sql.DB {
	dbMu.RLock()
	defer dbMu.RUnlock()
	return db
}

// withTx runs fn inside a transaction, committing on success and rolling
// back on any returned error (including a panic recovered mid-transaction).
func withTx(fn func(tx *sql.Tx) error) error {
	conn := getDBHelper()
	if conn == nil {
		return sql.ErrConnDone
	}

	tx, err := conn.Begin()
	if err != nil {
		return err
	}

	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}
