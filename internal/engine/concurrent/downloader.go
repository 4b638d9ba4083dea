package concurrent

import (
	"context"
	"crypto/tls"
	"database/sql"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/surge-downloader/surge/internal/engine/state"
	"github.com/surge-downloader/surge/internal/engine/types"
	"github.com/surge-downloader/surge/internal/ratelimit"
	"github.com/surge-downloader/surge/internal/store"
	"github.com/surge-downloader/surge/internal/utils"
)

// minWorkerBudget is the throughput each worker is assumed to need before
// speed_limit starts trimming the active worker count (512 KiB/s).
const minWorkerBudget = 512 * types.KB

// ConcurrentDownloader handles multi-connection downloads
type ConcurrentDownloader struct {
	ProgressChan chan<- any           // Channel for events (start/complete/error)
	ID           string               // Download ID
	State        *types.ProgressState // Shared state for TUI polling
	activeTasks  map[int]*ActiveTask
	activeMu     sync.Mutex
	URL          string // For pause/resume
	DestPath     string // For pause/resume
	Runtime      *types.RuntimeConfig
	bufPool      sync.Pool
	bucket       *ratelimit.Bucket // shared throughput cap across all workers, nil if unlimited

	// DB, if non-nil, persists the chunk plan and per-chunk progress so a
	// resume can be inspected (surge ls, the registry) without going through
	// state.LoadState. It is optional: a nil DB just skips those writes.
	DB *sql.DB
}

// NewConcurrentDownloader creates a new concurrent downloader with all required parameters
func NewConcurrentDownloader(id string, progressCh chan<- any, progState *types.ProgressState, runtime *types.RuntimeConfig) *ConcurrentDownloader {
	return &ConcurrentDownloader{
		ID:           id,
		ProgressChan: progressCh,
		State:        progState,
		activeTasks:  make(map[int]*ActiveTask),
		Runtime:      runtime,
		bucket:       ratelimit.NewBucket(runtime.GetSpeedLimitBps()),
		bufPool: sync.Pool{
			New: func() any {
				// Use configured buffer size
				size := runtime.GetWorkerBufferSize()
				buf := make([]byte, size)
				return &buf
			},
		},
	}
}

// getConnections returns the download's planned connection count, capped by
// the per-host connection ceiling.
func (d *ConcurrentDownloader) getConnections() int {
	maxConns := d.Runtime.GetMaxConnectionsPerHost()
	conns := d.Runtime.GetConnections()
	if conns > maxConns {
		return maxConns
	}
	return conns
}

// planChunks splits [0, fileSize) into types.ChunksPerConnection*numConns
// equal ranges, then further splits any range longer than
// types.MaxChunkLength so no single chunk exceeds the cap.
func planChunks(fileSize int64, numConns int) []types.Task {
	if fileSize <= 0 || numConns <= 0 {
		return nil
	}

	numChunks := types.ChunksPerConnection * numConns
	base := fileSize / int64(numChunks)
	remainder := fileSize % int64(numChunks)

	var tasks []types.Task
	offset := int64(0)
	for i := 0; i < numChunks && offset < fileSize; i++ {
		length := base
		if int64(i) < remainder {
			length++
		}
		if length <= 0 {
			continue
		}
		tasks = append(tasks, splitRange(offset, length)...)
		offset += length
	}
	return tasks
}

// splitRange breaks one [offset, offset+length) range into pieces no
// longer than types.MaxChunkLength.
func splitRange(offset, length int64) []types.Task {
	if length <= types.MaxChunkLength {
		return []types.Task{{Offset: offset, Length: length}}
	}
	var out []types.Task
	for remaining := length; remaining > 0; {
		piece := remaining
		if piece > types.MaxChunkLength {
			piece = types.MaxChunkLength
		}
		out = append(out, types.Task{Offset: offset, Length: piece})
		offset += piece
		remaining -= piece
	}
	return out
}

func sumTaskLength(tasks []types.Task) int64 {
	var total int64
	for _, t := range tasks {
		total += t.Length
	}
	return total
}

// persistChunkPlan writes a freshly planned task set to the chunks table,
// if a store DB is attached. Failures are logged, not fatal: the state
// saved by state.SaveState remains the authoritative resume source.
func (d *ConcurrentDownloader) persistChunkPlan(tasks []types.Task) {
	if d.DB == nil {
		return
	}
	chunks := make([]store.Chunk, 0, len(tasks))
	for _, t := range tasks {
		chunks = append(chunks, store.Chunk{Offset: t.Offset, Length: t.Length})
	}
	if err := store.InsertChunks(d.DB, d.ID, chunks); err != nil {
		utils.Debug("persist chunk plan for %s: %v", d.ID, err)
	}
}

// persistChunkProgress records how far each remaining task has gotten, for
// every chunk still outstanding at pause time. Failures are logged, not
// fatal, same as persistChunkPlan.
func (d *ConcurrentDownloader) persistChunkProgress(original []types.Task, remaining []types.Task) {
	if d.DB == nil {
		return
	}
	remainingByOffset := make(map[int64]int64, len(remaining))
	for _, t := range remaining {
		remainingByOffset[t.Offset] = t.Length
	}
	for _, t := range original {
		stillLeft, ok := remainingByOffset[t.Offset]
		if !ok {
			// Fully consumed: entire chunk downloaded.
			if err := store.UpdateChunkProgress(d.DB, d.ID, t.Offset, t.Length); err != nil {
				utils.Debug("persist chunk progress for %s: %v", d.ID, err)
			}
			continue
		}
		downloaded := t.Length - stillLeft
		if downloaded <= 0 {
			continue
		}
		if err := store.UpdateChunkProgress(d.DB, d.ID, t.Offset, downloaded); err != nil {
			utils.Debug("persist chunk progress for %s: %v", d.ID, err)
		}
	}
}

// newConcurrentClient creates an http.Client tuned for concurrent downloads
func (d *ConcurrentDownloader) newConcurrentClient(numConns int) *http.Client {
	// Ensure we have enough connections per host
	maxConns := d.Runtime.GetMaxConnectionsPerHost()
	if numConns > maxConns {
		maxConns = numConns
	}

	transport := &http.Transport{
		// Connection pooling
		MaxIdleConns:        types.DefaultMaxIdleConns,
		MaxIdleConnsPerHost: maxConns + 2, // Slightly more than max to handle bursts
		MaxConnsPerHost:     maxConns,

		// Timeouts to prevent hung connections
		IdleConnTimeout:       types.DefaultIdleConnTimeout,
		TLSHandshakeTimeout:   types.DefaultTLSHandshakeTimeout,
		ResponseHeaderTimeout: types.DefaultResponseHeaderTimeout,
		ExpectContinueTimeout: types.DefaultExpectContinueTimeout,

		// Performance tuning
		DisableCompression: true,  // Files are usually already compressed
		ForceAttemptHTTP2:  false, // FORCE HTTP/1.1 for multiple TCP connections
		TLSNextProto:       make(map[string]func(authority string, c *tls.Conn) http.RoundTripper),

		// Dial settings for TCP reliability
		DialContext: (&net.Dialer{
			Timeout:   types.DialTimeout,
			KeepAlive: types.KeepAliveDuration,
		}).DialContext,
	}

	return &http.Client{
		Transport: transport,
	}
}

// Download downloads a file using multiple concurrent connections
// Uses pre-probed metadata (file size already known)
func (d *ConcurrentDownloader) Download(ctx context.Context, rawurl, destPath string, fileSize int64, verbose bool) error {
	utils.Debug("ConcurrentDownloader.Download: %s -> %s (size: %d)", rawurl, destPath, fileSize)

	// Store URL and path for pause/resume (final path without .surge)
	d.URL = rawurl
	d.DestPath = destPath

	// Working file has .surge suffix until download completes
	workingPath := destPath + types.IncompleteSuffix

	// Create cancellable context for pause support
	downloadCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if d.State != nil {
		d.State.CancelFunc = cancel
	}

	// Determine connections
	numConns := d.getConnections()
	if limit := d.Runtime.GetSpeedLimitBps(); limit > 0 {
		// Each worker needs a minimum throughput budget under a tight cap,
		// or slow per-worker rates start tripping server-side RSTs.
		budget := int(limit / minWorkerBudget)
		if budget < 1 {
			budget = 1
		}
		if budget < numConns {
			numConns = budget
		}
	}

	// Create tuned HTTP client for concurrent downloads
	client := d.newConcurrentClient(numConns)

	if verbose {
		fmt.Printf("File size: %s, connections: %d\n",
			utils.ConvertBytesToHumanReadable(fileSize),
			numConns)
	}

	// Create and preallocate output file with .surge suffix
	outFile, err := os.OpenFile(workingPath, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer outFile.Close()

	// Check for saved state BEFORE truncating (resume case)
	var tasks []types.Task
	var plannedTasks []types.Task
	savedState, err := state.LoadState(rawurl, destPath)
	isResume := err == nil && savedState != nil && len(savedState.Tasks) > 0

	if !isResume && d.DB != nil {
		if persisted, perr := store.GetChunks(d.DB, d.ID); perr == nil && len(persisted) > 0 {
			// A chunk plan survived without saved state (e.g. crash before the
			// first pause checkpoint); rebuild the resume task list from it.
			for _, c := range persisted {
				left := c.Length - c.Downloaded
				if left > 0 {
					tasks = append(tasks, types.Task{Offset: c.Offset + c.Downloaded, Length: left})
				}
			}
			if len(tasks) > 0 {
				isResume = true
				savedState = &types.DownloadState{Downloaded: fileSize - sumTaskLength(tasks), Tasks: tasks}
			}
		}
	}

	if isResume {
		// Resume: use saved tasks and restore downloaded counter
		tasks = savedState.Tasks
		plannedTasks = tasks
		if d.State != nil {
			d.State.Downloaded.Store(savedState.Downloaded)
			// Restore elapsed time from previous sessions
			d.State.SetSavedElapsed(time.Duration(savedState.Elapsed))
			// Fix speed spike: sync session start so we don't count previous bytes as new speed
			d.State.SyncSessionStart()
		}
		utils.Debug("Resuming from saved state: %d tasks, %d bytes downloaded", len(tasks), savedState.Downloaded)
	} else {
		// Fresh download: preallocate file and create new tasks
		if err := outFile.Truncate(fileSize); err != nil {
			return fmt.Errorf("failed to preallocate file: %w", err)
		}
		tasks = planChunks(fileSize, numConns)
		plannedTasks = tasks
		d.persistChunkPlan(tasks)
		// Robustness: ensure state counter starts at 0 for fresh download
		if d.State != nil {
			d.State.Downloaded.Store(0)
			d.State.SyncSessionStart()
		}
	}
	queue := NewTaskQueue()
	queue.PushMultiple(tasks)

	// Start time for stats
	startTime := time.Now()

	// Start balancer goroutine for dynamic chunk splitting
	balancerCtx, cancelBalancer := context.WithCancel(downloadCtx)
	defer cancelBalancer()

	go func() {
		ticker := time.NewTicker(500 * time.Millisecond)
		defer ticker.Stop()

		maxSplits := 50
		splitCount := 0

		for {
			select {
			case <-balancerCtx.Done():
				return
			case <-ticker.C:
				if queue.IdleWorkers() > 0 && splitCount < maxSplits {
					if queue.SplitLargestIfNeeded() {
						splitCount++
						utils.Debug("Balancer: split largest task (total splits: %d)", splitCount)
					} else if queue.Len() == 0 {
						// Try to steal from an active worker
						if d.StealWork(queue) {
							splitCount++
						}
					}
				}
			}
		}
	}()

	// Monitor for completion
	go func() {
		ticker := time.NewTicker(500 * time.Millisecond)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				queue.Close()
				return
			case <-balancerCtx.Done():
				queue.Close()
				return
			case <-ticker.C:
				// Ensure queue is empty (no pending retries) before considering byte count.
				// This protects against cutting off active retries even if byte count seems high (due to overlaps etc).
				if queue.Len() == 0 && (int(queue.IdleWorkers()) == numConns || d.State.Downloaded.Load() >= fileSize) {
					queue.Close()
					return
				}
			}
		}
	}()

	// Health monitor: detect slow workers
	go func() {
		ticker := time.NewTicker(types.HealthCheckInterval) // Fixed: using types constant
		defer ticker.Stop()

		for {
			select {
			case <-balancerCtx.Done():
				return
			case <-ticker.C:
				d.checkWorkerHealth()
			}
		}
	}()

	// Start workers
	var wg sync.WaitGroup
	workerErrors := make(chan error, numConns)

	for i := 0; i < numConns; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			err := d.worker(downloadCtx, workerID, rawurl, outFile, queue, fileSize, startTime, verbose, client)
			if err != nil && err != context.Canceled {
				workerErrors <- err
			}
		}(i)
	}

	// Wait for all workers to complete
	go func() {
		wg.Wait()
		close(workerErrors)
		queue.Close()
	}()

	// Check for errors or pause
	var downloadErr error
	for err := range workerErrors {
		if err != nil {
			downloadErr = err
		}
	}

	// Handle pause: state saved
	if d.State != nil && d.State.IsPaused() {
		// 1. Collect active tasks as remaining work FIRST
		var activeRemaining []types.Task
		d.activeMu.Lock()
		for _, active := range d.activeTasks {
			if remaining := active.RemainingTask(); remaining != nil {
				activeRemaining = append(activeRemaining, *remaining)
			}
		}
		d.activeMu.Unlock()

		// 2. Collect remaining tasks from queue
		remainingTasks := queue.DrainRemaining()
		remainingTasks = append(remainingTasks, activeRemaining...)

		// Calculate Downloaded from remaining tasks (ensures consistency)
		var remainingBytes int64
		for _, task := range remainingTasks {
			remainingBytes += task.Length
		}
		computedDownloaded := fileSize - remainingBytes

		// Calculate total elapsed time
		var totalElapsed time.Duration
		if d.State != nil {
			totalElapsed = d.State.SavedElapsed + time.Since(startTime)
		} else {
			totalElapsed = time.Since(startTime)
		}

		// Save state for resume (use computed value for consistency)
		s := &types.DownloadState{
			URL:        d.URL,
			ID:         d.ID,
			DestPath:   destPath,
			TotalSize:  fileSize,
			Downloaded: computedDownloaded,
			Tasks:      remainingTasks,
			Filename:   filepath.Base(destPath),
			Elapsed:    totalElapsed.Nanoseconds(),
		}
		if err := state.SaveState(d.URL, destPath, s); err != nil {
			utils.Debug("Failed to save pause state: %v", err)
		}
		d.persistChunkProgress(plannedTasks, remainingTasks)

		utils.Debug("Download paused, state saved (Downloaded=%d, RemainingTasks=%d, RemainingBytes=%d)",
			computedDownloaded, len(remainingTasks), remainingBytes)
		return types.ErrPaused // Signal valid pause to caller
	}

	// Handle cancel: context was cancelled but not via Pause() - just exit cleanly
	// The .surge file remains for cleanup by the TUI (which will delete it)
	if downloadCtx.Err() == context.Canceled {
		return nil
	}

	if downloadErr != nil {
		return downloadErr
	}

	// Final sync
	if err := outFile.Sync(); err != nil {
		return fmt.Errorf("failed to sync file: %w", err)
	}

	// Close file before renaming
	outFile.Close()

	// Rename from .surge to final destination
	if err := os.Rename(workingPath, destPath); err != nil {
		// Check for race condition: did someone else already rename it?
		if os.IsNotExist(err) {
			if info, statErr := os.Stat(destPath); statErr == nil && info.Size() == fileSize {
				utils.Debug("Race condition detected: File already exists and has correct size. Treating as success.")
				// Clean up state just in case, though usually done by caller
				_ = state.DeleteState(d.ID, d.URL, destPath)
				return nil
			}
		}
		return fmt.Errorf("failed to rename completed file: %w", err)
	}

	// Delete state file on successful completion
	_ = state.DeleteState(d.ID, d.URL, destPath)

	// Note: Download completion notifications are handled by the TUI via DownloadCompleteMsg

	return nil
}
