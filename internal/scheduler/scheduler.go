// Package scheduler runs the daily resume/pause schedule: at
// scheduler_start_time it resumes every paused or queued download, and at
// scheduler_pause_time it pauses every currently downloading one.
package scheduler

import (
	"context"
	"database/sql"
	"time"

	"github.com/surge-downloader/surge/internal/store"
	"github.com/surge-downloader/surge/internal/utils"
)

const tickInterval = 30 * time.Second

// postTriggerSleep is how long the daemon waits after firing a trigger
// before resuming its normal tick cadence, so a scan a few seconds after
// HH:MM:00 doesn't fire the same trigger twice within one minute.
const postTriggerSleep = 61 * time.Second

// Resumer is the subset of *registry.Registry the scheduler drives,
// narrowed to an interface so this package doesn't import registry.
type Resumer interface {
	Resume(db *sql.DB, id string) error
	Pause(db *sql.DB, id string) error
}

// Run ticks every 30s, comparing the local clock against the
// scheduler_start_time/scheduler_pause_time settings, until ctx is
// cancelled. It is a no-op whenever scheduler_enabled is false.
func Run(ctx context.Context, db *sql.DB, r Resumer) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fired := tick(db, r, time.Now())
			if fired {
				select {
				case <-ctx.Done():
					return
				case <-time.After(postTriggerSleep):
				}
			}
		}
	}
}

// tick checks now against the configured schedule and fires at most one
// transition, returning whether it did.
func tick(db *sql.DB, r Resumer, now time.Time) bool {
	if !readBoolSetting(db, "scheduler_enabled") {
		return false
	}

	nowHHMM := now.Format("15:04")

	startTime, hasStart, _ := store.GetSetting(db, "scheduler_start_time")
	if hasStart && startTime == nowHHMM {
		bulkResume(db, r)
		return true
	}

	pauseTime, hasPause, _ := store.GetSetting(db, "scheduler_pause_time")
	if hasPause && pauseTime == nowHHMM {
		bulkPause(db, r)
		return true
	}

	return false
}

func bulkResume(db *sql.DB, r Resumer) {
	downloads, err := store.ListDownloads(db)
	if err != nil {
		utils.Debug("scheduler: list downloads for resume: %v", err)
		return
	}
	for _, d := range downloads {
		if d.Status != "paused" && d.Status != "queued" {
			continue
		}
		if err := r.Resume(db, d.ID); err != nil {
			utils.Debug("scheduler: resume %s: %v", d.ID, err)
		}
	}
}

func bulkPause(db *sql.DB, r Resumer) {
	downloads, err := store.ListDownloads(db)
	if err != nil {
		utils.Debug("scheduler: list downloads for pause: %v", err)
		return
	}
	for _, d := range downloads {
		if d.Status != "downloading" {
			continue
		}
		if err := r.Pause(db, d.ID); err != nil {
			utils.Debug("scheduler: pause %s: %v", d.ID, err)
		}
	}
}

func readBoolSetting(db *sql.DB, key string) bool {
	value, ok, err := store.GetSetting(db, key)
	if err != nil || !ok {
		return false
	}
	return value == "true"
}
