package tui

import (
	tea "github.com/charmbracelet/bubbletea"

	"github.com/surge-downloader/surge/internal/engine/events"
)

func (m *RootModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.input.Width = min(inputWidth, m.width-4)
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case StartDownloadMsg:
		m.queue(msg.URL, msg.Path, msg.Filename)
		return m, nil

	case tickMsg:
		m.refresh()
		return m, tickCmd()

	case events.DownloadStartedMsg:
		if r, ok := m.rows[msg.DownloadID]; ok {
			r.total = msg.Total
			r.filename = msg.Filename
			r.status = "downloading"
		}
		return m, listenCmd(m.progressCh)

	case events.DownloadCompleteMsg:
		if r, ok := m.rows[msg.DownloadID]; ok {
			r.status = "completed"
			r.done = r.total
			r.progress = 100
		}
		return m, listenCmd(m.progressCh)

	case events.DownloadErrorMsg:
		if r, ok := m.rows[msg.DownloadID]; ok {
			r.status = "error"
			r.errMsg = msg.Err.Error()
		}
		return m, listenCmd(m.progressCh)

	case events.DownloadPausedMsg:
		if r, ok := m.rows[msg.DownloadID]; ok {
			r.status = "paused"
			r.done = msg.Downloaded
		}
		return m, listenCmd(m.progressCh)

	case events.DownloadResumedMsg:
		if r, ok := m.rows[msg.DownloadID]; ok {
			r.status = "downloading"
		}
		return m, listenCmd(m.progressCh)

	case nil:
		return m, nil
	}

	return m, nil
}

func (m *RootModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		m.quitting = true
		m.pool.GracefulShutdown()
		return m, tea.Quit

	case "enter":
		url := m.input.Value()
		m.input.SetValue("")
		m.queue(url, "", "")
		return m, nil

	case "ctrl+p":
		m.pool.PauseAll()
		return m, nil

	case "p":
		if id, ok := m.selectedID(); ok {
			m.pool.Pause(id)
		}
		return m, nil

	case "r":
		if id, ok := m.selectedID(); ok {
			m.pool.Resume(id)
		}
		return m, nil

	case "x":
		if id, ok := m.selectedID(); ok {
			m.pool.Cancel(id)
			delete(m.rows, id)
			m.ids = removeID(m.ids, id)
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// selectedID returns the most recently queued download still tracked, used
// as the target for single-key pause/resume/cancel shortcuts since this
// dashboard has no row cursor.
func (m *RootModel) selectedID() (string, bool) {
	for i := len(m.ids) - 1; i >= 0; i-- {
		if _, ok := m.rows[m.ids[i]]; ok {
			return m.ids[i], true
		}
	}
	return "", false
}

// refresh pulls the latest DownloadStatus for every tracked ID from the pool
// and updates the corresponding row.
func (m *RootModel) refresh() {
	for _, id := range m.ids {
		r, ok := m.rows[id]
		if !ok {
			continue
		}
		status := m.pool.GetStatus(id)
		if status == nil {
			continue
		}
		r.status = status.Status
		r.total = status.TotalSize
		r.done = status.Downloaded
		r.progress = status.Progress
		r.speed = status.Speed
		r.errMsg = status.Error
		if status.Filename != "" {
			r.filename = status.Filename
		}
	}
}

func removeID(ids []string, id string) []string {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
