package clipboard

import (
	"context"
	"database/sql"
	"time"

	"github.com/atotto/clipboard"

	"github.com/surge-downloader/surge/internal/engine/events"
	"github.com/surge-downloader/surge/internal/store"
	"github.com/surge-downloader/surge/internal/utils"
)

const (
	pollInterval   = 1 * time.Second
	settingRecheck = 5 * time.Second
)

// Monitor polls the clipboard at 1 Hz and emits events.AutocatchURLMsg onto
// out whenever new text matches the URL heuristic, but only while the
// autocatch_enabled setting is true. The setting is re-read every 5s rather
// than on every poll, since it rarely changes and a DB round-trip per
// second is wasted work.
func Monitor(ctx context.Context, db *sql.DB, out chan<- any) {
	validator := NewValidator()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	var lastSeen string
	var enabled bool
	var lastSettingCheck time.Time

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if time.Since(lastSettingCheck) >= settingRecheck {
				enabled = readAutocatchEnabled(db)
				lastSettingCheck = time.Now()
			}
			if !enabled {
				continue
			}

			text, err := clipboard.ReadAll()
			if err != nil || text == lastSeen {
				continue
			}
			lastSeen = text

			if url := validator.ExtractURL(text); url != "" && out != nil {
				utils.Debug("clipboard: auto-caught %s", url)
				out <- events.AutocatchURLMsg{URL: url}
			}
		}
	}
}

func readAutocatchEnabled(db *sql.DB) bool {
	if db == nil {
		return false
	}
	value, ok, err := store.GetSetting(db, "autocatch_enabled")
	if err != nil || !ok {
		return false
	}
	return value == "true"
}
