package bt

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/surge-downloader/surge/internal/store"
	"github.com/surge-downloader/surge/internal/utils"
)

// analyzeTimeout bounds how long Analyze waits for qBittorrent to resolve a
// magnet's metadata before giving up.
const analyzeTimeout = 30 * time.Second

// Completer is the subset of *registry.Registry the manager needs, kept as
// an interface so this package never imports registry (avoiding an import
// cycle: registry dispatches into bt, bt reports back into registry).
type Completer interface {
	Complete(db *sql.DB, id string) error
	Fail(db *sql.DB, id, message string) error
}

// Manager owns the {our download id -> qBittorrent hash} mapping and is
// the registry's dispatcher for the "torrent" protocol.
type Manager struct {
	client   *Client
	registry Completer
	mu       sync.Mutex
	byID     map[string]string // download id -> info hash
	stopByID map[string]chan struct{}
}

// NewManager builds a Manager. Login is attempted lazily on first use so a
// qBittorrent instance that isn't up yet doesn't block startup.
func NewManager(client *Client, registry Completer) *Manager {
	return &Manager{
		client:   client,
		registry: registry,
		byID:     make(map[string]string),
		stopByID: make(map[string]chan struct{}),
	}
}

// AnalyzeResult is what a magnet resolves to before a full download starts.
type AnalyzeResult struct {
	Name      string
	TotalSize int64
	Files     []TorrentFile
}

// Analyze adds magnet paused to a throwaway directory under the system temp
// dir, polls until qBittorrent resolves its metadata or analyzeTimeout
// elapses, then removes the session entry (without touching disk) and
// returns what was learned. The file selection is left at qBittorrent's
// default (all files); the paused add is what keeps it from downloading.
func (m *Manager) Analyze(magnet string) (*AnalyzeResult, error) {
	hash := InfoHash(magnet)
	if hash == "" {
		return nil, fmt.Errorf("bt: could not parse info hash from magnet")
	}

	m.ghostCleanup(hash)

	if err := m.client.AddMagnet(magnet, AddOptions{SavePath: filepath.Join(os.TempDir(), "surge-analyze"), Paused: true, OnlyFiles: ""}); err != nil {
		return nil, fmt.Errorf("bt: analyze add: %w", err)
	}
	defer m.client.Delete(hash, false)

	deadline := time.Now().Add(analyzeTimeout)
	for time.Now().Before(deadline) {
		torrents, err := m.client.GetTorrents(hash)
		if err == nil && len(torrents) > 0 && torrents[0].Name != "" && torrents[0].Size > 0 {
			t := torrents[0]
			files, ferr := m.client.GetFiles(hash)
			if ferr != nil {
				utils.Debug("bt: analyze get files for %s: %v", hash, ferr)
			}
			return &AnalyzeResult{Name: t.Name, TotalSize: t.Size, Files: files}, nil
		}
		time.Sleep(500 * time.Millisecond)
	}
	return nil, fmt.Errorf("bt: metadata for %s did not resolve within %s", hash, analyzeTimeout)
}

// Add submits magnet for real download under d.ID, recording the id->hash
// mapping and starting its monitor loop. Called by the registry dispatcher
// once the row is already persisted as Downloading.
func (m *Manager) Add(db *sql.DB, d *store.Download, magnet, savePath string, startPaused bool) error {
	hash := InfoHash(magnet)
	if hash == "" {
		return fmt.Errorf("bt: could not parse info hash from magnet")
	}

	m.ghostCleanup(hash)

	if err := m.client.AddMagnet(magnet, AddOptions{SavePath: savePath, Paused: startPaused}); err != nil {
		return err
	}
	if err := store.SetInfoHash(db, d.ID, hash); err != nil {
		utils.Debug("bt: persist info hash for %s: %v", d.ID, err)
	}

	stop := make(chan struct{})
	m.mu.Lock()
	m.byID[d.ID] = hash
	m.stopByID[d.ID] = stop
	m.mu.Unlock()

	go m.monitor(db, d.ID, hash, stop)
	return nil
}

// AddSelective is Add restricted to a subset of the torrent's files, passed
// as zero-based indices in the order qBittorrent's torrents/files endpoint
// returns them. Used once a caller has analyzed a magnet and chosen which
// files it actually wants.
func (m *Manager) AddSelective(db *sql.DB, d *store.Download, magnet, savePath string, fileIDs []int) error {
	hash := InfoHash(magnet)
	if hash == "" {
		return fmt.Errorf("bt: could not parse info hash from magnet")
	}

	m.ghostCleanup(hash)

	ids := make([]string, len(fileIDs))
	for i, id := range fileIDs {
		ids[i] = fmt.Sprintf("%d", id)
	}
	opts := AddOptions{SavePath: savePath}
	if len(ids) > 0 {
		opts.OnlyFiles = strings.Join(ids, ",")
	}
	if err := m.client.AddMagnet(magnet, opts); err != nil {
		return err
	}
	if err := store.SetInfoHash(db, d.ID, hash); err != nil {
		utils.Debug("bt: persist info hash for %s: %v", d.ID, err)
	}

	stop := make(chan struct{})
	m.mu.Lock()
	m.byID[d.ID] = hash
	m.stopByID[d.ID] = stop
	m.mu.Unlock()

	go m.monitor(db, d.ID, hash, stop)
	return nil
}

// Pause pauses the torrent mapped to id.
func (m *Manager) Pause(id string) error {
	hash, ok := m.hashFor(id)
	if !ok {
		return fmt.Errorf("bt: no torrent mapped for download %s", id)
	}
	return m.client.Pause(hash)
}

// Resume resumes the torrent mapped to id.
func (m *Manager) Resume(id string) error {
	hash, ok := m.hashFor(id)
	if !ok {
		return fmt.Errorf("bt: no torrent mapped for download %s", id)
	}
	return m.client.Resume(hash)
}

// Delete removes the torrent mapped to id from the session, optionally
// deleting its downloaded data, and stops its monitor loop.
func (m *Manager) Delete(id string, deleteFiles bool) error {
	hash, ok := m.hashFor(id)
	if !ok {
		return fmt.Errorf("bt: no torrent mapped for download %s", id)
	}
	if err := m.client.Delete(hash, deleteFiles); err != nil {
		return err
	}

	m.mu.Lock()
	if stop, ok := m.stopByID[id]; ok {
		close(stop)
		delete(m.stopByID, id)
	}
	delete(m.byID, id)
	m.mu.Unlock()
	return nil
}

func (m *Manager) hashFor(id string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	hash, ok := m.byID[id]
	return hash, ok
}

// ghostCleanup removes any torrent already known to the qBittorrent session
// matching hash before a fresh add, so a stale entry from a prior crashed
// run (session state the manager's own mapping has forgotten) doesn't
// collide with the new one.
func (m *Manager) ghostCleanup(hash string) {
	existing, err := m.client.GetTorrents(hash)
	if err != nil || len(existing) == 0 {
		return
	}
	utils.Debug("bt: ghost-cleaning existing session entry for %s", hash)
	if err := m.client.Delete(hash, false); err != nil {
		utils.Debug("bt: ghost cleanup delete failed for %s: %v", hash, err)
	}
}
