package bt

import (
	"database/sql"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"sync"
	"testing"

	"github.com/surge-downloader/surge/internal/store"
)

func openTempDB(t *testing.T) (*sql.DB, func()) {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "bt.db"))
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	return db, func() { db.Close() }
}

func testDownload(id string) *store.Download {
	return &store.Download{ID: id, Protocol: "torrent", Status: "downloading"}
}

type fakeCompleter struct {
	mu        sync.Mutex
	completed []string
	failed    []string
}

func (f *fakeCompleter) Complete(db *sql.DB, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed = append(f.completed, id)
	return nil
}

func (f *fakeCompleter) Fail(db *sql.DB, id, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed = append(f.failed, id)
	return nil
}

func newTestManager(t *testing.T, handler http.HandlerFunc) (*Manager, *fakeCompleter) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatalf("parse test server url: %v", err)
	}
	client := NewClient(Config{Host: u.Host})
	fc := &fakeCompleter{}
	return NewManager(client, fc), fc
}

func TestGhostCleanupDeletesExistingEntryBeforeAdd(t *testing.T) {
	var addCalls, deleteCalls int
	m, _ := newTestManager(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v2/torrents/info":
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`[{"hash":"c12fe1c06bba254a9dc9f519b335aa7c1367a88a","name":"old"}]`))
		case "/api/v2/torrents/delete":
			deleteCalls++
			w.WriteHeader(http.StatusOK)
		case "/api/v2/torrents/add":
			addCalls++
			w.Write([]byte("Ok."))
		}
	})

	magnet := "magnet:?xt=urn:btih:c12fe1c06bba254a9dc9f519b335aa7c1367a88a&dn=x"
	db, closeDB := openTempDB(t)
	defer closeDB()

	err := m.Add(db, testDownload("d1"), magnet, "/tmp", false)
	if err != nil {
		t.Fatalf("Add() = %v", err)
	}
	if deleteCalls != 1 {
		t.Errorf("expected 1 ghost-cleanup delete, got %d", deleteCalls)
	}
	if addCalls != 1 {
		t.Errorf("expected 1 add call, got %d", addCalls)
	}
}

func TestPauseResumeDeleteRequireMapping(t *testing.T) {
	m, _ := newTestManager(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	if err := m.Pause("unknown"); err == nil {
		t.Error("expected error pausing an unmapped download")
	}
	if err := m.Resume("unknown"); err == nil {
		t.Error("expected error resuming an unmapped download")
	}
	if err := m.Delete("unknown", false); err == nil {
		t.Error("expected error deleting an unmapped download")
	}
}
