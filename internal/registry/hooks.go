package registry

import (
	"database/sql"
	"os/exec"
	"runtime"
	"time"

	"github.com/surge-downloader/surge/internal/store"
	"github.com/surge-downloader/surge/internal/utils"
)

// ShowInFolder opens the OS file manager with path selected, per platform.
func ShowInFolder(path string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "windows":
		cmd = exec.Command("explorer.exe", "/select,"+path)
	case "darwin":
		cmd = exec.Command("open", "-R", path)
	default:
		cmd = exec.Command("xdg-open", parentDir(path))
	}
	return cmd.Start()
}

func parentDir(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[:i]
		}
	}
	return path
}

// scheduleShutdown issues a platform shutdown with at least 60s grace.
func scheduleShutdown() error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "windows":
		cmd = exec.Command("shutdown", "/s", "/t", "60", "/c", "Surge: all downloads finished")
	case "darwin":
		cmd = exec.Command("shutdown", "-h", "+1")
	default:
		cmd = exec.Command("shutdown", "+1")
	}
	return cmd.Start()
}

// onCompletion runs the post-completion hooks described for a transition
// to Completed: folder-open, conditional shutdown, and scheduler promotion.
// It is called with the row already persisted as Completed.
func (r *Registry) onCompletion(db *sql.DB, d *store.Download) {
	if readBoolSetting(db, "open_folder_on_finish") {
		if err := ShowInFolder(d.FilePath); err != nil {
			utils.Debug("registry: show in folder failed for %s: %v", d.ID, err)
		}
	}

	if readBoolSetting(db, "shutdown_on_finish") {
		active, err := store.CountActive(db)
		if err == nil && active == 0 {
			utils.Debug("registry: scheduling shutdown, all downloads finished")
			if err := scheduleShutdown(); err != nil {
				utils.Debug("registry: shutdown command failed: %v", err)
			}
		}
	}

	r.PromoteQueued(db)
}

func readBoolSetting(db *sql.DB, key string) bool {
	value, ok, err := store.GetSetting(db, key)
	if err != nil || !ok {
		return false
	}
	return value == "true"
}

// nowUnix returns the current time as a unix-seconds timestamp. Time
// values reach Registry methods through this single seam so callers stay
// independent of wall-clock sourcing.
func nowUnix() int64 {
	return time.Now().Unix()
}
