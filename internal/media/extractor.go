// Package media spawns an external yt-dlp (or youtube-dl) process to
// analyze and fetch media-platform URLs, mapping its line-oriented stdout
// onto the same progress events the HTTP engine emits. The extractor
// binary is treated as an opaque external collaborator: this package only
// owns the process lifecycle and the output-parsing contract.
package media

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/surge-downloader/surge/internal/engine/events"
	"github.com/surge-downloader/surge/internal/utils"
)

// VideoMetadata is the result of analyzing a media URL without downloading
// it: title, thumbnail, duration, and the list of selectable formats.
type VideoMetadata struct {
	Title     string        `json:"title"`
	Thumbnail string        `json:"thumbnail"`
	Duration  float64       `json:"duration"`
	Formats   []VideoFormat `json:"formats"`
	URL       string        `json:"url"`
}

// VideoFormat is one selectable stream yt-dlp reports for a URL.
type VideoFormat struct {
	FormatID   string `json:"format_id"`
	Extension  string `json:"extension"`
	Resolution string `json:"resolution"`
	FileSize   int64  `json:"filesize"`
	Protocol   string `json:"protocol"`
	Note       string `json:"note"`
}

// Config is one media download's inputs.
type Config struct {
	ID         string
	URL        string
	FormatID   string // video format, or a single combined format id
	AudioID    string // optional separate audio format, combined as "<video>+<audio>"
	OutputPath string // destination file path
	Concurrent int    // --concurrent-fragments
	ProgressCh chan<- any
}

// BinaryName is the extractor executable this package spawns. Resolution
// is sidecar-first (next to our own executable), then $PATH.
const BinaryName = "yt-dlp"

func resolveBinary() string {
	if exe, err := os.Executable(); err == nil {
		sidecar := filepath.Join(filepath.Dir(exe), BinaryName)
		if info, statErr := os.Stat(sidecar); statErr == nil && !info.IsDir() {
			return sidecar
		}
	}
	return BinaryName
}

// AnalyzeVideoURL spawns the extractor in metadata-only mode and parses its
// single JSON object, filtering out mhtml/webm formats the frontend never
// presents for direct download.
func AnalyzeVideoURL(ctx context.Context, url string) (*VideoMetadata, error) {
	cmd := exec.CommandContext(ctx, resolveBinary(),
		"--dump-json",
		"--no-playlist",
		"--flat-playlist",
		"--no-warnings",
		"--no-check-certificates",
		"--quiet",
		url,
	)

	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("yt-dlp analyze failed: %w", err)
	}

	var raw struct {
		Title     string  `json:"title"`
		Thumbnail string  `json:"thumbnail"`
		Duration  float64 `json:"duration"`
		Formats   []struct {
			FormatID      string `json:"format_id"`
			Ext           string `json:"ext"`
			Resolution    string `json:"resolution"`
			FileSize      int64  `json:"filesize"`
			FileSizeApprox int64 `json:"filesize_approx"`
			Protocol      string `json:"protocol"`
			FormatNote    string `json:"format_note"`
		} `json:"formats"`
	}
	if err := json.Unmarshal(out, &raw); err != nil {
		return nil, fmt.Errorf("parsing yt-dlp output: %w", err)
	}

	meta := &VideoMetadata{
		Title:     orDefault(raw.Title, "Unknown Title"),
		Thumbnail: raw.Thumbnail,
		Duration:  raw.Duration,
		URL:       url,
	}

	for _, f := range raw.Formats {
		if f.Ext == "webm" || strings.Contains(f.FormatID, "mhtml") || f.Ext == "mhtml" {
			continue
		}
		size := f.FileSize
		if size == 0 {
			size = f.FileSizeApprox
		}
		resolution := f.Resolution
		if resolution == "" {
			resolution = "audio only"
		}
		meta.Formats = append(meta.Formats, VideoFormat{
			FormatID:   f.FormatID,
			Extension:  f.Ext,
			Resolution: resolution,
			FileSize:   size,
			Protocol:   f.Protocol,
			Note:       f.FormatNote,
		})
	}

	return meta, nil
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// Download spawns the extractor to fetch cfg.URL to cfg.OutputPath,
// forwarding parsed progress onto cfg.ProgressCh using the same event
// shapes the HTTP engine emits, and kills the child on context
// cancellation.
func Download(ctx context.Context, cfg *Config) error {
	formatSelector := cfg.FormatID
	if cfg.AudioID != "" {
		formatSelector = cfg.FormatID + "+" + cfg.AudioID
	}
	concurrent := cfg.Concurrent
	if concurrent <= 0 {
		concurrent = 4
	}

	cmd := exec.CommandContext(ctx, resolveBinary(),
		"-f", formatSelector,
		"--merge-output-format", "mp4",
		"--concurrent-fragments", strconv.Itoa(concurrent),
		"--no-check-certificates",
		"--no-warnings",
		"--no-playlist",
		"--newline",
		"--progress",
		"-o", cfg.OutputPath,
		cfg.URL,
	)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	cmd.Stderr = cmd.Stdout

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting extractor: %w", err)
	}

	if cfg.ProgressCh != nil {
		cfg.ProgressCh <- events.DownloadStartedMsg{
			DownloadID: cfg.ID,
			URL:        cfg.URL,
			Filename:   filepath.Base(cfg.OutputPath),
			DestPath:   cfg.OutputPath,
		}
	}

	var maxTotalSize int64
	var cumulativeCompleted int64
	statusText := "Initializing…"

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()

		if _, ok := destinationLine(line); ok {
			cumulativeCompleted += maxTotalSize
			maxTotalSize = 0
			continue
		}

		if tag, ok := phaseLine(line); ok {
			statusText = tag
			continue
		}

		parsed := parseDownloadLine(line)
		if !parsed.ok {
			continue
		}
		if parsed.total > maxTotalSize {
			maxTotalSize = parsed.total
		}
		downloaded := cumulativeCompleted + int64(parsed.percent/100*float64(maxTotalSize))

		if cfg.ProgressCh != nil {
			cfg.ProgressCh <- events.ProgressMsg{
				DownloadID: cfg.ID,
				Downloaded: downloaded,
				Total:      cumulativeCompleted + maxTotalSize,
				Speed:      float64(parsed.speed),
			}
		}
		utils.Debug("media %s: %s (%.1f%%)", cfg.ID, statusText, parsed.percent)
	}

	waitErr := cmd.Wait()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if waitErr != nil {
		if cfg.ProgressCh != nil {
			cfg.ProgressCh <- events.DownloadErrorMsg{DownloadID: cfg.ID, Err: waitErr}
		}
		return fmt.Errorf("extractor exited: %w", waitErr)
	}

	finalSize := maxTotalSize + cumulativeCompleted
	if info, statErr := os.Stat(cfg.OutputPath); statErr == nil {
		finalSize = info.Size()
	}

	if cfg.ProgressCh != nil {
		cfg.ProgressCh <- events.DownloadCompleteMsg{
			DownloadID: cfg.ID,
			Filename:   filepath.Base(cfg.OutputPath),
			Elapsed:    time.Since(start),
			Total:      finalSize,
		}
	}

	return nil
}
