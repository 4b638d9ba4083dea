// Package bt adapts a qBittorrent Web API v2 instance to the registry's
// BitTorrent protocol slot: add/pause/resume/delete plus a metadata-only
// analyze operation, backed by plain net/http rather than a torrent engine
// library.
package bt

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"
)

var (
	ErrAuthFailed = errors.New("bt: qbittorrent authentication failed")
)

// Config holds connection details for a qBittorrent Web UI instance.
type Config struct {
	Host     string // host:port, no scheme
	UseHTTPS bool
	Username string
	Password string
}

// Client is a thin net/http wrapper over qBittorrent's Web API v2.
type Client struct {
	cfg     Config
	http    *http.Client
	baseURL string
}

// NewClient builds a Client with its own cookie jar for session auth.
func NewClient(cfg Config) *Client {
	scheme := "http"
	if cfg.UseHTTPS {
		scheme = "https"
	}
	jar, _ := cookiejar.New(nil)
	return &Client{
		cfg:     cfg,
		baseURL: fmt.Sprintf("%s://%s", scheme, cfg.Host),
		http: &http.Client{
			Timeout: 30 * time.Second,
			Jar:     jar,
		},
	}
}

// Login authenticates against /api/v2/auth/login, populating the client's
// cookie jar for subsequent requests.
func (c *Client) Login() error {
	data := url.Values{}
	data.Set("username", c.cfg.Username)
	data.Set("password", c.cfg.Password)

	resp, err := c.http.PostForm(c.baseURL+"/api/v2/auth/login", data)
	if err != nil {
		return fmt.Errorf("bt: login request: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode == http.StatusForbidden {
		return ErrAuthFailed
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("bt: login failed with status %d: %s", resp.StatusCode, body)
	}
	if strings.TrimSpace(string(body)) == "Fails." {
		return ErrAuthFailed
	}
	return nil
}

// AddOptions controls how a magnet is added.
type AddOptions struct {
	SavePath  string
	Paused    bool
	Category  string
	OnlyFiles string // comma-separated file indices, "" for all
}

// AddMagnet submits a magnet link via multipart POST to /api/v2/torrents/add.
func (c *Client) AddMagnet(magnet string, opts AddOptions) error {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	if err := writer.WriteField("urls", magnet); err != nil {
		return err
	}
	if opts.SavePath != "" {
		writer.WriteField("savepath", opts.SavePath)
	}
	if opts.Paused {
		writer.WriteField("paused", "true")
	}
	if opts.Category != "" {
		writer.WriteField("category", opts.Category)
	}
	if opts.OnlyFiles != "" {
		writer.WriteField("only_files", opts.OnlyFiles)
	}
	writer.Close()

	req, err := http.NewRequest(http.MethodPost, c.baseURL+"/api/v2/torrents/add", &body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("bt: add torrent failed: %s", respBody)
	}
	if strings.TrimSpace(string(respBody)) != "Ok." {
		return fmt.Errorf("bt: add torrent rejected: %s", respBody)
	}
	return nil
}

// TorrentInfo mirrors the subset of qBittorrent's torrents/info response
// the monitor loop and analyze operation need.
type TorrentInfo struct {
	Hash         string  `json:"hash"`
	Name         string  `json:"name"`
	State        string  `json:"state"`
	Progress     float64 `json:"progress"`
	Size         int64   `json:"size"`
	Downloaded   int64   `json:"downloaded"`
	DlSpeed      int64   `json:"dlspeed"`
	NumSeeds     int     `json:"num_seeds"`
	NumLeechers  int     `json:"num_leechs"`
	SavePath     string  `json:"save_path"`
	CompletionOn int64   `json:"completion_on"`
}

// TorrentFile is one entry of /api/v2/torrents/files.
type TorrentFile struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
}

// GetTorrents returns every torrent known to the session, or only the one
// matching hash when hash is non-empty.
func (c *Client) GetTorrents(hash string) ([]TorrentInfo, error) {
	u := c.baseURL + "/api/v2/torrents/info"
	if hash != "" {
		u += "?hashes=" + url.QueryEscape(hash)
	}
	resp, err := c.http.Get(u)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("bt: get torrents: status %d", resp.StatusCode)
	}
	var out []TorrentInfo
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetFiles returns the file listing for a torrent once its metadata has
// resolved.
func (c *Client) GetFiles(hash string) ([]TorrentFile, error) {
	resp, err := c.http.Get(c.baseURL + "/api/v2/torrents/files?hash=" + url.QueryEscape(hash))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("bt: get files: status %d", resp.StatusCode)
	}
	var out []TorrentFile
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

// Pause pauses one torrent by hash.
func (c *Client) Pause(hash string) error {
	return c.postHashes("/api/v2/torrents/pause", hash)
}

// Resume resumes one torrent by hash.
func (c *Client) Resume(hash string) error {
	return c.postHashes("/api/v2/torrents/resume", hash)
}

// Delete removes one torrent by hash, optionally deleting its downloaded
// data too.
func (c *Client) Delete(hash string, deleteFiles bool) error {
	data := url.Values{}
	data.Set("hashes", hash)
	data.Set("deleteFiles", fmt.Sprintf("%t", deleteFiles))

	resp, err := c.http.PostForm(c.baseURL+"/api/v2/torrents/delete", data)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("bt: delete torrent: status %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) postHashes(path, hash string) error {
	data := url.Values{}
	data.Set("hashes", hash)

	resp, err := c.http.PostForm(c.baseURL+path, data)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("bt: %s: status %d", path, resp.StatusCode)
	}
	return nil
}
