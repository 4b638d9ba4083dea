package bt

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatalf("parse test server url: %v", err)
	}
	return NewClient(Config{Host: u.Host})
}

func TestLoginSuccess(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v2/auth/login" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Write([]byte("Ok."))
	})
	if err := c.Login(); err != nil {
		t.Fatalf("Login() = %v, want nil", err)
	}
}

func TestLoginFailsWithFailsBody(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("Fails."))
	})
	if err := c.Login(); err != ErrAuthFailed {
		t.Errorf("Login() = %v, want ErrAuthFailed", err)
	}
}

func TestLoginFailsWithForbidden(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})
	if err := c.Login(); err != ErrAuthFailed {
		t.Errorf("Login() = %v, want ErrAuthFailed", err)
	}
}

func TestAddMagnetSendsMultipartWithOptions(t *testing.T) {
	var gotSavePath, gotPaused, gotCategory string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v2/torrents/add" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("parse multipart form: %v", err)
		}
		gotSavePath = r.FormValue("savepath")
		gotPaused = r.FormValue("paused")
		gotCategory = r.FormValue("category")
		w.Write([]byte("Ok."))
	})

	err := c.AddMagnet("magnet:?xt=urn:btih:deadbeef", AddOptions{
		SavePath: "/downloads/movies",
		Paused:   true,
		Category: "Video",
	})
	if err != nil {
		t.Fatalf("AddMagnet() = %v, want nil", err)
	}
	if gotSavePath != "/downloads/movies" {
		t.Errorf("savepath = %q", gotSavePath)
	}
	if gotPaused != "true" {
		t.Errorf("paused = %q", gotPaused)
	}
	if gotCategory != "Video" {
		t.Errorf("category = %q", gotCategory)
	}
}

func TestAddMagnetRejectedResponse(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("Fails."))
	})
	if err := c.AddMagnet("magnet:?xt=urn:btih:deadbeef", AddOptions{}); err == nil {
		t.Error("expected error for rejected add")
	}
}

func TestGetTorrentsFiltersByHash(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.RawQuery, "hashes=abc123") {
			t.Errorf("expected hashes query param, got %q", r.URL.RawQuery)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[{"hash":"abc123","name":"file.iso","size":1000,"downloaded":500,"dlspeed":200,"progress":0.5}]`))
	})

	torrents, err := c.GetTorrents("abc123")
	if err != nil {
		t.Fatalf("GetTorrents() = %v", err)
	}
	if len(torrents) != 1 || torrents[0].Name != "file.iso" {
		t.Fatalf("unexpected torrents: %+v", torrents)
	}
}

func TestPauseResumeDelete(t *testing.T) {
	var gotPaths []string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPaths = append(gotPaths, r.URL.Path)
		w.WriteHeader(http.StatusOK)
	})

	if err := c.Pause("abc123"); err != nil {
		t.Errorf("Pause() = %v", err)
	}
	if err := c.Resume("abc123"); err != nil {
		t.Errorf("Resume() = %v", err)
	}
	if err := c.Delete("abc123", true); err != nil {
		t.Errorf("Delete() = %v", err)
	}

	want := []string{"/api/v2/torrents/pause", "/api/v2/torrents/resume", "/api/v2/torrents/delete"}
	if len(gotPaths) != len(want) {
		t.Fatalf("got paths %v, want %v", gotPaths, want)
	}
	for i := range want {
		if gotPaths[i] != want[i] {
			t.Errorf("path[%d] = %q, want %q", i, gotPaths[i], want[i])
		}
	}
}
