// Package tui implements the single-screen live-progress dashboard shown
// when Surge runs in the foreground. It is deliberately small: one input
// line to queue a URL, one table of in-flight downloads, driven by polling
// the worker pool on a tick plus forwarding whatever lands on its progress
// channel.
package tui

import (
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"

	"github.com/surge-downloader/surge/internal/config"
	"github.com/surge-downloader/surge/internal/download"
	"github.com/surge-downloader/surge/internal/engine/types"
)

const (
	tickInterval         = 250 * time.Millisecond
	progressChannelDepth = types.ProgressChannelBuffer
	maxConcurrent        = 3
	inputWidth           = 48
)

// StartDownloadMsg is sent from the HTTP control server to queue a new
// download in the running TUI instance.
type StartDownloadMsg struct {
	URL      string
	Path     string
	Filename string
}

type tickMsg time.Time

// row is the display snapshot for one download, refreshed from the pool's
// DownloadStatus on every tick.
type row struct {
	id       string
	url      string
	filename string
	status   string
	total    int64
	done     int64
	progress float64
	speed    float64
	errMsg   string
}

// RootModel is the top-level bubbletea model for foreground mode.
type RootModel struct {
	port    int
	version string

	pool       *download.WorkerPool
	progressCh chan any

	input textinput.Model
	ids   []string
	rows  map[string]*row

	statusLine string
	width      int
	height     int
	quitting   bool
}

// InitialRootModel builds the dashboard model for a foreground run listening
// on port, with version used only for the header.
func InitialRootModel(port int, version string) tea.Model {
	ti := textinput.New()
	ti.Placeholder = "paste a URL and press enter"
	ti.Focus()
	ti.CharLimit = 2048
	ti.Width = inputWidth

	progressCh := make(chan any, progressChannelDepth)
	pool := download.NewWorkerPool(progressCh, maxConcurrent)

	return &RootModel{
		port:       port,
		version:    version,
		pool:       pool,
		progressCh: progressCh,
		input:      ti,
		rows:       make(map[string]*row),
	}
}

func (m *RootModel) Init() tea.Cmd {
	return tea.Batch(tickCmd(), listenCmd(m.progressCh), textinput.Blink)
}

func tickCmd() tea.Cmd {
	return tea.Tick(tickInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// listenCmd blocks on the pool's progress channel and surfaces the next
// message as a tea.Msg; Update re-issues it after each delivery.
func listenCmd(ch chan any) tea.Cmd {
	return func() tea.Msg {
		msg, ok := <-ch
		if !ok {
			return nil
		}
		return msg
	}
}

// queue builds a fresh DownloadConfig for url/path/filename and hands it to
// the worker pool, tracking its ID for the next status poll.
func (m *RootModel) queue(url, path, filename string) {
	if url == "" {
		return
	}
	if m.pool.HasDownload(url) {
		m.statusLine = "already queued or downloaded: " + url
		return
	}

	settings, err := config.LoadSettings()
	var runtime *types.RuntimeConfig
	if err == nil {
		runtime = settings.ToRuntimeConfig()
	} else {
		runtime = &types.RuntimeConfig{}
	}

	if path == "" && err == nil {
		path = settings.General.DefaultDownloadDir
	}
	if path == "" {
		path = "."
	}

	id := uuid.New().String()
	state := types.NewProgressState(id, 0)

	cfg := types.DownloadConfig{
		URL:        url,
		OutputPath: path,
		Filename:   filename,
		ID:         id,
		ProgressCh: m.progressCh,
		State:      state,
		Runtime:    runtime,
	}

	m.pool.Add(cfg)
	m.ids = append(m.ids, id)
	m.rows[id] = &row{id: id, url: url, filename: filename, status: "queued"}
	m.statusLine = "queued: " + url
}
