package types

import "errors"

// ErrPaused is returned by a download loop when it exits because the
// caller paused it, as opposed to any transport or disk failure.
var ErrPaused = errors.New("download paused")

// Task is a single byte-range unit of work: [Offset, Offset+Length).
type Task struct {
	Offset int64
	Length int64
}

// DownloadState is the resumable snapshot of an in-flight download:
// everything needed to pick a paused transfer back up without re-probing
// the server or losing partial progress.
type DownloadState struct {
	ID         string
	URL        string
	DestPath   string
	Filename   string
	TotalSize  int64
	Downloaded int64
	URLHash    string
	CreatedAt  int64
	PausedAt   int64
	Elapsed    int64 // nanoseconds
	Tasks      []Task
}

// DownloadEntry is a row of the master download list: the union of
// active, paused, and completed downloads surfaced to `ls` and the
// control server.
type DownloadEntry struct {
	ID          string
	URL         string
	DestPath    string
	Filename    string
	Status      string
	TotalSize   int64
	Downloaded  int64
	CompletedAt int64
	TimeTaken   int64 // milliseconds
	URLHash     string
}

// MasterList is every known download, regardless of status.
type MasterList struct {
	Downloads []DownloadEntry
}
