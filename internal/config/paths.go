package config

import (
	"os"
	"path/filepath"
)

// GetSurgeDir returns the application's config/state directory, honoring
// XDG_CONFIG_HOME so tests can redirect it to a scratch directory.
func GetSurgeDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "surge")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "surge")
	}
	return filepath.Join(home, ".config", "surge")
}

// GetDBPath returns the path to the SQLite database file.
func GetDBPath() string {
	return filepath.Join(GetSurgeDir(), "surge.db")
}

// GetLockPath returns the path to the single-instance lock file.
func GetLockPath() string {
	return filepath.Join(GetSurgeDir(), "surge.lock")
}

// GetPortFilePath returns the path to the file recording the active
// control server's port, so a second CLI invocation can find it.
func GetPortFilePath() string {
	return filepath.Join(GetSurgeDir(), "port")
}

// GetLogsDir returns the directory debug logs are written to.
func GetLogsDir() string {
	return filepath.Join(GetSurgeDir(), "logs")
}

// EnsureDirs creates the config/state directory (and its parents) if
// missing.
func EnsureDirs() error {
	if err := os.MkdirAll(GetSurgeDir(), 0o755); err != nil {
		return err
	}
	return os.MkdirAll(GetLogsDir(), 0o755)
}
