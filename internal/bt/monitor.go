package bt

import (
	"database/sql"
	"strconv"
	"time"

	"github.com/surge-downloader/surge/internal/store"
	"github.com/surge-downloader/surge/internal/utils"
)

// Smoothing constants for the monitor's speed estimate: a faster-reacting
// average for the first few seconds after a resume (so a paused-then-
// resumed torrent's speed display isn't stuck near zero), settling to a
// steadier average afterward.
const (
	speedAlphaFast = 0.7
	speedAlphaSlow = 0.3
	fastWindow     = 5 * time.Second

	// spikeSuppressThreshold and spikeSuppressWindow guard against qBittorrent
	// briefly reporting an implausible dlspeed right after a resume, before
	// it has reconnected to any peers.
	spikeSuppressThreshold = 5 * 1024 * 1024
	spikeSuppressWindow    = 10 * time.Second
)

// monitor polls one torrent's status at 1Hz, updating the download row and
// running completion hooks when it finishes. It exits when stop is closed
// (the mapping was removed, e.g. via Delete) or the torrent completes.
func (m *Manager) monitor(db *sql.DB, id, hash string, stop <-chan struct{}) {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	var smoothedSpeed float64
	resumedAt := time.Now()
	sizeKnown := false

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		torrents, err := m.client.GetTorrents(hash)
		if err != nil || len(torrents) == 0 {
			utils.Debug("bt: monitor poll for %s (%s): %v", id, hash, err)
			continue
		}
		t := torrents[0]

		if !sizeKnown && t.Size > 0 {
			if err := store.UpdateSize(db, id, t.Size); err != nil {
				utils.Debug("bt: persist size for %s: %v", id, err)
			}
			sizeKnown = true
		}

		speed := float64(t.DlSpeed)
		elapsedSinceResume := time.Since(resumedAt)
		if speed > spikeSuppressThreshold && t.NumSeeds+t.NumLeechers == 0 && elapsedSinceResume < spikeSuppressWindow {
			speed = 0
		}

		alpha := speedAlphaSlow
		if elapsedSinceResume < fastWindow {
			alpha = speedAlphaFast
		}
		smoothedSpeed = alpha*speed + (1-alpha)*smoothedSpeed

		if err := store.UpdateProgress(db, id, t.Downloaded, int64(smoothedSpeed)); err != nil {
			utils.Debug("bt: persist progress for %s: %v", id, err)
		}

		if isFinished(t) {
			if err := m.registry.Complete(db, id); err != nil {
				utils.Debug("bt: complete %s: %v", id, err)
			}
			m.mu.Lock()
			delete(m.byID, id)
			delete(m.stopByID, id)
			m.mu.Unlock()
			return
		}
	}
}

func isFinished(t TorrentInfo) bool {
	return t.Progress >= 1 && t.CompletionOn > 0
}

// StatusText renders the human-facing status tag for a torrent's current
// state, matching the registry's terminology for the HTTP/media engines.
func StatusText(t TorrentInfo) string {
	switch {
	case t.Name == "" || (t.Size == 0 && t.Progress == 0):
		return "Fetching Metadata…"
	case t.State == "pausedDL" || t.State == "pausedUP":
		return "Paused"
	case t.NumSeeds+t.NumLeechers == 0:
		return "Connecting…"
	case t.DlSpeed == 0 && t.Progress < 1:
		return "Resuming…"
	default:
		return "Downloading (" + strconv.Itoa(t.NumSeeds+t.NumLeechers) + " peers)"
	}
}
