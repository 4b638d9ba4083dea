package registry

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/surge-downloader/surge/internal/engine/types"
	"github.com/surge-downloader/surge/internal/store"
)

var driveViewerRe = regexp.MustCompile(`drive\.google\.com/file/d/([a-zA-Z0-9_-]+)`)

// NormalizeURL rewrites recognizable viewer URLs to their direct-download
// form. A Google Drive "view" link has no byte stream behind it; the
// uc?export=download form does.
func NormalizeURL(rawURL string) string {
	if m := driveViewerRe.FindStringSubmatch(rawURL); m != nil {
		return fmt.Sprintf("https://drive.google.com/uc?export=download&id=%s&confirm=t", m[1])
	}
	return rawURL
}

// ResolveTargetDir picks the base directory a download should land in:
// the user-configured download_path if set, else "Ciel Downloads" inside
// the user's Downloads folder, or a relative "Ciel Downloads" when the home
// directory is unknown. category, if non-empty,
// is appended as a sub-folder.
func ResolveTargetDir(configuredPath, category string) string {
	base := configuredPath
	if base == "" {
		if home, err := os.UserHomeDir(); err == nil {
			base = filepath.Join(home, "Downloads", "Ciel Downloads")
		} else {
			base = "Ciel Downloads"
		}
	}
	if category != "" {
		base = filepath.Join(base, category)
	}
	return base
}

// UniquePath appends " (n)" before the extension, with the smallest n >= 1
// that makes path collide with neither the filesystem (including an
// in-progress .surge sibling) nor an existing registry row.
func UniquePath(db *sql.DB, path string) (string, error) {
	candidate := path
	for n := 1; ; n++ {
		onDisk := false
		if _, err := os.Stat(candidate); err == nil {
			onDisk = true
		} else if _, err := os.Stat(candidate + types.IncompleteSuffix); err == nil {
			onDisk = true
		}

		inRegistry := false
		if db != nil {
			exists, err := store.CheckFilepathExists(db, candidate)
			if err != nil {
				return "", err
			}
			inRegistry = exists
		}

		if !onDisk && !inRegistry {
			return candidate, nil
		}
		candidate = withCounter(path, n)
	}
}

func withCounter(path string, n int) string {
	dir := filepath.Dir(path)
	ext := filepath.Ext(path)
	base := strings.TrimSuffix(filepath.Base(path), ext)
	return filepath.Join(dir, fmt.Sprintf("%s (%d)%s", base, n, ext))
}
