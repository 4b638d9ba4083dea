package store

import (
	"database/sql"
	"fmt"
)

// Download is one row of the downloads table, covering every protocol
// (direct HTTP, BitTorrent, media) the registry admits.
type Download struct {
	ID           string
	URL          string
	Filename     string
	FilePath     string
	Size         int64
	Downloaded   int64
	Status       string
	Protocol     string
	Speed        int64
	Connections  int
	CreatedAt    int64
	CompletedAt  sql.NullInt64
	ErrorMessage string
	InfoHash     string
	Metadata     string
	UserAgent    string
	Cookies      string
	Category     string
}

// InsertDownload creates a new row. Structural writes like this one are
// fatal-to-operation on failure, unlike progress updates.
func InsertDownload(db *sql.DB, d *Download) error {
	_, err := db.Exec(`
		INSERT INTO downloads (
			id, url, dest_path, filename, status, total_size, downloaded,
			protocol, speed, connections, created_at, category,
			user_agent, cookies, info_hash, metadata
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, d.ID, d.URL, d.FilePath, d.Filename, d.Status, d.Size, d.Downloaded,
		d.Protocol, d.Speed, d.Connections, d.CreatedAt, d.Category,
		nullableString(d.UserAgent), nullableString(d.Cookies), nullableString(d.InfoHash), nullableString(d.Metadata))
	if err != nil {
		return fmt.Errorf("insert download %s: %w", d.ID, err)
	}
	return nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// UpdateStatus sets status, the sole column the registry (as opposed to the
// engine task owning a row) is allowed to write.
func UpdateStatus(db *sql.DB, id, status string) error {
	_, err := db.Exec(`UPDATE downloads SET status = ? WHERE id = ?`, status, id)
	return err
}

// UpdateProgress writes downloaded/speed. Callers log-and-continue on
// failure: a dropped progress tick must never interrupt a transfer.
func UpdateProgress(db *sql.DB, id string, downloaded int64, speed int64) error {
	_, err := db.Exec(`UPDATE downloads SET downloaded = ?, speed = ? WHERE id = ?`, downloaded, speed, id)
	return err
}

// UpdateSize sets total_size once it becomes known (after a probe, or BT
// metadata resolution).
func UpdateSize(db *sql.DB, id string, size int64) error {
	_, err := db.Exec(`UPDATE downloads SET total_size = ? WHERE id = ?`, size, id)
	return err
}

// CompleteDownload marks a row Completed with completedAt, downloaded=size.
func CompleteDownload(db *sql.DB, id string, completedAt int64) error {
	_, err := db.Exec(`
		UPDATE downloads
		SET status = 'completed', completed_at = ?, downloaded = total_size
		WHERE id = ?
	`, completedAt, id)
	return err
}

// FailDownload marks a row Error with a message.
func FailDownload(db *sql.DB, id, message string) error {
	_, err := db.Exec(`UPDATE downloads SET status = 'error', error_message = ? WHERE id = ?`, message, id)
	return err
}

// SetInfoHash persists a BitTorrent info hash once known.
func SetInfoHash(db *sql.DB, id, hash string) error {
	_, err := db.Exec(`UPDATE downloads SET info_hash = ? WHERE id = ?`, hash, id)
	return err
}

// CheckFilepathExists reports whether any non-deleted row already claims
// path, used by unique-path resolution during admission.
func CheckFilepathExists(db *sql.DB, path string) (bool, error) {
	var count int
	err := db.QueryRow(`SELECT COUNT(1) FROM downloads WHERE dest_path = ?`, path).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

const downloadColumns = `id, url, dest_path, filename, status, total_size, downloaded,
		       protocol, speed, connections, created_at, completed_at, category,
		       COALESCE(user_agent, ''), COALESCE(cookies, ''), COALESCE(info_hash, ''), COALESCE(metadata, ''),
		       COALESCE(error_message, '')`

// GetNextQueued returns the oldest Queued row by created_at, or nil if none.
func GetNextQueued(db *sql.DB) (*Download, error) {
	row := db.QueryRow(`SELECT `+downloadColumns+` FROM downloads WHERE status = 'queued' ORDER BY created_at ASC LIMIT 1`)
	d, err := scanDownload(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return d, err
}

// GetDownload fetches one row by id, or nil if it doesn't exist.
func GetDownload(db *sql.DB, id string) (*Download, error) {
	row := db.QueryRow(`SELECT `+downloadColumns+` FROM downloads WHERE id = ?`, id)
	d, err := scanDownload(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return d, err
}

// ListDownloads returns every non-terminal-filtered row, newest first.
func ListDownloads(db *sql.DB) ([]*Download, error) {
	rows, err := db.Query(`SELECT ` + downloadColumns + ` FROM downloads ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Download
	for rows.Next() {
		d, err := scanDownloadRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// CountActive returns how many rows are currently Downloading, across both
// HTTP and BitTorrent protocols, for concurrency admission.
func CountActive(db *sql.DB) (int, error) {
	var n int
	err := db.QueryRow(`SELECT COUNT(1) FROM downloads WHERE status = 'downloading'`).Scan(&n)
	return n, err
}

// DeleteDownload removes one row; chunks/tasks/history cascade via FK.
func DeleteDownload(db *sql.DB, id string) error {
	_, err := db.Exec(`DELETE FROM downloads WHERE id = ?`, id)
	return err
}

// DeleteFinished removes every Completed row, returning the count removed.
func DeleteFinished(db *sql.DB) (int64, error) {
	res, err := db.Exec(`DELETE FROM downloads WHERE status = 'completed'`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Chunk is one byte range of a planned HTTP download, persisted so a
// resume can reload exactly what plan it was mid-way through instead of
// replanning from scratch.
type Chunk struct {
	ID         int64
	DownloadID string
	Offset     int64
	Length     int64
	Downloaded int64
	Status     string
}

// InsertChunks replaces any existing plan for downloadID with chunks, in
// one transaction. Called once, when a fresh (non-resume) download is
// planned.
func InsertChunks(db *sql.DB, downloadID string, chunks []Chunk) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM chunks WHERE download_id = ?`, downloadID); err != nil {
		return fmt.Errorf("clear existing chunks for %s: %w", downloadID, err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO chunks (download_id, offset, length, downloaded, status)
		VALUES (?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, c := range chunks {
		status := c.Status
		if status == "" {
			status = "pending"
		}
		if _, err := stmt.Exec(downloadID, c.Offset, c.Length, c.Downloaded, status); err != nil {
			return fmt.Errorf("insert chunk [%d,%d) for %s: %w", c.Offset, c.Offset+c.Length, downloadID, err)
		}
	}
	return tx.Commit()
}

// UpdateChunkProgress records how many bytes of the chunk starting at
// offset have been written so far. Callers log-and-continue on failure,
// same as UpdateProgress: a missed tick must never interrupt a transfer.
func UpdateChunkProgress(db *sql.DB, downloadID string, offset, downloaded int64) error {
	status := "in_progress"
	_, err := db.Exec(`
		UPDATE chunks SET downloaded = ?, status = ?
		WHERE download_id = ? AND offset = ?
	`, downloaded, status, downloadID, offset)
	return err
}

// GetChunks returns the persisted plan for downloadID, ordered by offset,
// or an empty slice if none was ever planned (single-stream download, or
// a download older than chunk persistence).
func GetChunks(db *sql.DB, downloadID string) ([]Chunk, error) {
	rows, err := db.Query(`
		SELECT id, download_id, offset, length, downloaded, status
		FROM chunks WHERE download_id = ? ORDER BY offset ASC
	`, downloadID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Chunk
	for rows.Next() {
		var c Chunk
		if err := rows.Scan(&c.ID, &c.DownloadID, &c.Offset, &c.Length, &c.Downloaded, &c.Status); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDownload(row *sql.Row) (*Download, error) {
	return scanDownloadCommon(row)
}

func scanDownloadRows(rows *sql.Rows) (*Download, error) {
	return scanDownloadCommon(rows)
}

func scanDownloadCommon(s rowScanner) (*Download, error) {
	var d Download
	err := s.Scan(
		&d.ID, &d.URL, &d.FilePath, &d.Filename, &d.Status, &d.Size, &d.Downloaded,
		&d.Protocol, &d.Speed, &d.Connections, &d.CreatedAt, &d.CompletedAt, &d.Category,
		&d.UserAgent, &d.Cookies, &d.InfoHash, &d.Metadata, &d.ErrorMessage,
	)
	if err != nil {
		return nil, err
	}
	return &d, nil
}
