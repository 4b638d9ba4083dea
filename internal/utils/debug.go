package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/surge-downloader/surge/internal/config"
)

var (
	debugMu   sync.Mutex
	debugDir  string
	debugFile *os.File
)

func init() {
	debugDir = config.GetLogsDir()
}

// ConfigureDebug redirects future Debug output to a new log file under dir.
// Tests use this to point logging at a scratch directory.
func ConfigureDebug(dir string) {
	debugMu.Lock()
	defer debugMu.Unlock()
	if debugFile != nil {
		debugFile.Close()
		debugFile = nil
	}
	debugDir = dir
}

// Debug appends a timestamped, printf-formatted line to the current debug
// log file, opening it lazily on first use. Failures to write are swallowed;
// logging must never take down a download.
func Debug(format string, args ...interface{}) {
	debugMu.Lock()
	defer debugMu.Unlock()

	if debugFile == nil {
		if err := os.MkdirAll(debugDir, 0o755); err != nil {
			return
		}
		name := fmt.Sprintf("debug-%s.log", time.Now().Format("20060102-150405"))
		f, err := os.OpenFile(filepath.Join(debugDir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return
		}
		debugFile = f
	}

	line := fmt.Sprintf(format, args...)
	fmt.Fprintf(debugFile, "[%s] %s\n", time.Now().Format(time.RFC3339), line)
}

// CleanupLogs removes the oldest debug log files in the configured log
// directory, keeping only the most recent keep files.
func CleanupLogs(keep int) {
	debugMu.Lock()
	dir := debugDir
	debugMu.Unlock()

	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}

	var names []string
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "debug-") && strings.HasSuffix(e.Name(), ".log") {
			names = append(names, e.Name())
		}
	}
	if len(names) <= keep {
		return
	}

	sort.Strings(names)
	toRemove := names[:len(names)-keep]
	for _, name := range toRemove {
		os.Remove(filepath.Join(dir, name))
	}
}
