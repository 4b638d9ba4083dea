// Package registry is the admission and lifecycle authority for every
// download row, independent of which engine (HTTP, BitTorrent, media)
// actually moves bytes for it. It owns path/category resolution,
// concurrency-cap admission, the Queued/Downloading/Paused/Error/Completed
// state machine, and the post-completion hooks.
package registry

import (
	"database/sql"
	"fmt"
	"strconv"

	"github.com/google/uuid"

	"github.com/surge-downloader/surge/internal/store"
	"github.com/surge-downloader/surge/internal/utils"
)

// DispatchFunc starts the engine task for an admitted row. It is called
// with the row already persisted as Downloading; it must not block past
// kicking the task off (the engine reports back through Complete/Fail).
type DispatchFunc func(d *store.Download)

// Registry coordinates admission and state transitions against one
// database. Dispatchers are registered per protocol so the registry
// itself never imports the HTTP/BT/media engines directly.
type Registry struct {
	dispatchers map[string]DispatchFunc
}

// New returns an empty Registry. Register dispatchers with OnDispatch
// before calling Admit.
func New() *Registry {
	return &Registry{dispatchers: make(map[string]DispatchFunc)}
}

// OnDispatch registers the function used to start an admitted row of the
// given protocol ("http", "torrent", "media").
func (r *Registry) OnDispatch(protocol string, fn DispatchFunc) {
	r.dispatchers[protocol] = fn
}

// AdmitRequest carries everything add_download/add_torrent/add_video_download
// supply at admission time.
type AdmitRequest struct {
	URL           string
	Filename      string
	OutputFolder  string
	UserAgent     string
	Cookies       string
	Protocol      string // "http", "torrent", "media"
	StartPaused   bool
	Size          int64
	InfoHash      string
	Metadata      string
	ConfiguredDir string // settings.download_path, already resolved by caller
}

// Admit resolves a unique destination path, assigns an id, inserts the row
// with the correct initial status, and dispatches the engine task if the
// row starts in Downloading.
func (r *Registry) Admit(db *sql.DB, req AdmitRequest) (*store.Download, error) {
	url := NormalizeURL(req.URL)
	category := CategoryForFilename(req.Filename)

	dir := req.OutputFolder
	if dir == "" {
		dir = ResolveTargetDir(req.ConfiguredDir, category)
	}

	destPath, err := UniquePath(db, joinPath(dir, req.Filename))
	if err != nil {
		return nil, fmt.Errorf("resolve unique path: %w", err)
	}

	status, err := r.initialStatus(db, req.StartPaused)
	if err != nil {
		return nil, err
	}

	d := &store.Download{
		ID:         uuid.New().String(),
		URL:        url,
		Filename:   req.Filename,
		FilePath:   destPath,
		Size:       req.Size,
		Status:     status,
		Protocol:   req.Protocol,
		CreatedAt:  nowUnix(),
		Category:   category,
		UserAgent:  req.UserAgent,
		Cookies:    req.Cookies,
		InfoHash:   req.InfoHash,
		Metadata:   req.Metadata,
	}

	if err := store.InsertDownload(db, d); err != nil {
		return nil, err
	}
	if err := store.AppendHistory(db, d.ID, "created", "", d.CreatedAt); err != nil {
		utils.Debug("registry: append history failed for %s: %v", d.ID, err)
	}

	if status == "downloading" {
		r.dispatch(d)
	}
	return d, nil
}

func joinPath(dir, filename string) string {
	if dir == "" {
		return filename
	}
	if dir[len(dir)-1] == '/' {
		return dir + filename
	}
	return dir + "/" + filename
}

// initialStatus decides the row's starting status: Paused if the caller
// asked for it, Queued if the active count already meets max_concurrent,
// else Downloading.
func (r *Registry) initialStatus(db *sql.DB, startPaused bool) (string, error) {
	if startPaused {
		return "paused", nil
	}
	active, err := store.CountActive(db)
	if err != nil {
		return "", err
	}
	max := readIntSetting(db, "max_concurrent", 3)
	if active >= max {
		return "queued", nil
	}
	return "downloading", nil
}

func (r *Registry) dispatch(d *store.Download) {
	fn, ok := r.dispatchers[d.Protocol]
	if !ok || fn == nil {
		utils.Debug("registry: no dispatcher registered for protocol %q (download %s)", d.Protocol, d.ID)
		return
	}
	fn(d)
}

// Pause transitions a row to Paused. Pausing a Queued row is a pure store
// write; pausing a Downloading row additionally relies on the engine task
// observing the status change (or being cancelled by the caller) to stop.
func (r *Registry) Pause(db *sql.DB, id string) error {
	d, err := store.GetDownload(db, id)
	if err != nil {
		return err
	}
	if d == nil {
		return fmt.Errorf("download %s not found", id)
	}
	if d.Status != "downloading" && d.Status != "queued" {
		return fmt.Errorf("cannot pause download %s in state %s", id, d.Status)
	}
	return store.UpdateStatus(db, id, "paused")
}

// Resume transitions a Paused or Error row back to Downloading, subject to
// the concurrency cap (falling back to Queued if no slot is free), and
// dispatches the engine task. Resuming a row already Downloading is a
// no-op, matching idempotent resume semantics. Resuming a Completed row
// always fails.
func (r *Registry) Resume(db *sql.DB, id string) error {
	d, err := store.GetDownload(db, id)
	if err != nil {
		return err
	}
	if d == nil {
		return fmt.Errorf("download %s not found", id)
	}
	switch d.Status {
	case "downloading":
		return nil
	case "completed":
		return fmt.Errorf("download %s already completed", id)
	case "paused", "error", "queued":
		// fall through
	default:
		return fmt.Errorf("cannot resume download %s in state %s", id, d.Status)
	}

	active, err := store.CountActive(db)
	if err != nil {
		return err
	}
	max := readIntSetting(db, "max_concurrent", 3)
	status := "downloading"
	if active >= max {
		status = "queued"
	}
	if err := store.UpdateStatus(db, id, status); err != nil {
		return err
	}
	if status == "downloading" {
		d.Status = status
		r.dispatch(d)
	}
	return nil
}

// Complete transitions a row to Completed and runs the post-completion
// hooks (folder-open, conditional shutdown, queue promotion).
func (r *Registry) Complete(db *sql.DB, id string) error {
	if err := store.CompleteDownload(db, id, nowUnix()); err != nil {
		return err
	}
	if err := store.AppendHistory(db, id, "completed", "", nowUnix()); err != nil {
		utils.Debug("registry: append history failed for %s: %v", id, err)
	}
	d, err := store.GetDownload(db, id)
	if err != nil || d == nil {
		return err
	}
	r.onCompletion(db, d)
	return nil
}

// Fail transitions a row to Error with message, and promotes a queued row
// into the slot it freed.
func (r *Registry) Fail(db *sql.DB, id, message string) error {
	if err := store.FailDownload(db, id, message); err != nil {
		return err
	}
	if err := store.AppendHistory(db, id, "error", message, nowUnix()); err != nil {
		utils.Debug("registry: append history failed for %s: %v", id, err)
	}
	r.PromoteQueued(db)
	return nil
}

// Delete removes a row outright. deleteFiles is the caller's
// responsibility to honor (removing the destination file); the registry
// only owns the database row.
func (r *Registry) Delete(db *sql.DB, id string) error {
	return store.DeleteDownload(db, id)
}

// PromoteQueued promotes the oldest Queued row to Downloading if the
// concurrency cap allows it, and dispatches its engine task. Called
// whenever a running download frees a slot through completion or failure.
func (r *Registry) PromoteQueued(db *sql.DB) {
	active, err := store.CountActive(db)
	if err != nil {
		utils.Debug("registry: count active failed: %v", err)
		return
	}
	max := readIntSetting(db, "max_concurrent", 3)
	if active >= max {
		return
	}
	next, err := store.GetNextQueued(db)
	if err != nil {
		utils.Debug("registry: get next queued failed: %v", err)
		return
	}
	if next == nil {
		return
	}
	if err := store.UpdateStatus(db, next.ID, "downloading"); err != nil {
		utils.Debug("registry: promote %s failed: %v", next.ID, err)
		return
	}
	next.Status = "downloading"
	r.dispatch(next)
}

func readIntSetting(db *sql.DB, key string, fallback int) int {
	value, ok, err := store.GetSetting(db, key)
	if err != nil || !ok {
		return fallback
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return n
}
