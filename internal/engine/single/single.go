// Package single implements the fallback path for servers that don't
// support byte-range requests (or didn't report a size): one connection,
// streamed straight to disk, with the same pause/resume and progress
// reporting contract as the concurrent engine.
package single

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/surge-downloader/surge/internal/engine/events"
	"github.com/surge-downloader/surge/internal/engine/state"
	"github.com/surge-downloader/surge/internal/engine/types"
	"github.com/surge-downloader/surge/internal/ratelimit"
	"github.com/surge-downloader/surge/internal/utils"
)

type SingleDownloader struct {
	ID           string
	ProgressChan chan<- any
	State        *types.ProgressState
	Runtime      *types.RuntimeConfig
	bucket       *ratelimit.Bucket
}

func NewSingleDownloader(id string, progressCh chan<- any, progState *types.ProgressState, runtime *types.RuntimeConfig) *SingleDownloader {
	return &SingleDownloader{
		ID:           id,
		ProgressChan: progressCh,
		State:        progState,
		Runtime:      runtime,
		bucket:       ratelimit.NewBucket(runtime.GetSpeedLimitBps()),
	}
}

// Download streams rawurl to destPath one connection at a time. fileSize may
// be 0 if the server never reported Content-Length; progress reporting then
// only tracks bytes downloaded, not percentage.
func (d *SingleDownloader) Download(ctx context.Context, rawurl, destPath string, fileSize int64, filename string, verbose bool) error {
	workingPath := destPath + types.IncompleteSuffix

	downloadCtx, cancel := context.WithCancel(ctx)
	if d.State != nil {
		d.State.CancelFunc = cancel
	}
	defer cancel()

	var resumeFrom int64
	flags := os.O_CREATE | os.O_WRONLY
	if info, err := os.Stat(workingPath); err == nil {
		resumeFrom = info.Size()
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}

	req, err := http.NewRequestWithContext(downloadCtx, http.MethodGet, rawurl, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("User-Agent", d.Runtime.GetUserAgent())
	if resumeFrom > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", resumeFrom))
	}

	var host string
	if parsed, perr := url.Parse(rawurl); perr == nil {
		host = parsed.Host
	}
	hostLimiter := ratelimit.ForHost(host)
	hostLimiter.WaitIfBlocked()

	client := &http.Client{Timeout: 0} // single-stream downloads can run arbitrarily long
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable {
		wait := hostLimiter.Handle429(resp)
		return fmt.Errorf("rate limited (%d), host backing off %v", resp.StatusCode, wait)
	}
	hostLimiter.ReportSuccess()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		return fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}
	if resp.StatusCode == http.StatusOK {
		resumeFrom = 0
		flags = os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	}

	out, err := os.OpenFile(workingPath, flags, 0644)
	if err != nil {
		return fmt.Errorf("failed to open output file: %w", err)
	}

	if d.State != nil {
		d.State.Downloaded.Store(resumeFrom)
		d.State.ActiveWorkers.Store(1)
		d.State.SyncSessionStart()
	}

	startTime := time.Now()
	buf := make([]byte, d.Runtime.GetWorkerBufferSize())
	var copyErr error

	for {
		n, rErr := resp.Body.Read(buf)
		if n > 0 {
			if err := d.bucket.Acquire(downloadCtx, n); err != nil {
				copyErr = err
				break
			}
			if _, wErr := out.Write(buf[:n]); wErr != nil {
				copyErr = fmt.Errorf("write failed: %w", wErr)
				break
			}
			if d.State != nil {
				d.State.Downloaded.Add(int64(n))
			}
		}
		if rErr != nil {
			if rErr != io.EOF {
				copyErr = fmt.Errorf("read failed: %w", rErr)
			}
			break
		}
		if downloadCtx.Err() != nil {
			break
		}
	}

	if d.State != nil {
		d.State.ActiveWorkers.Store(0)
	}

	if d.State != nil && d.State.IsPaused() {
		out.Sync()
		out.Close()

		s := &types.DownloadState{
			URL:        rawurl,
			ID:         d.ID,
			DestPath:   destPath,
			TotalSize:  fileSize,
			Downloaded: d.State.Downloaded.Load(),
			Filename:   filename,
			Elapsed:    (d.State.SavedElapsed + time.Since(startTime)).Nanoseconds(),
		}
		if err := state.SaveState(rawurl, destPath, s); err != nil {
			utils.Debug("single: failed to save pause state: %v", err)
		}
		return types.ErrPaused
	}

	if downloadCtx.Err() == context.Canceled {
		out.Close()
		return nil
	}

	if copyErr != nil {
		out.Close()
		return copyErr
	}

	if err := out.Sync(); err != nil {
		out.Close()
		return fmt.Errorf("failed to sync file: %w", err)
	}
	out.Close()

	if err := os.Rename(workingPath, destPath); err != nil {
		return fmt.Errorf("failed to rename completed file: %w", err)
	}

	_ = state.DeleteState(d.ID, rawurl, destPath)

	if d.ProgressChan != nil {
		var downloaded int64
		if d.State != nil {
			downloaded = d.State.Downloaded.Load()
		} else {
			downloaded = fileSize
		}
		d.ProgressChan <- events.ProgressMsg{
			DownloadID: d.ID,
			Downloaded: downloaded,
			Total:      fileSize,
		}
	}

	return nil
}
