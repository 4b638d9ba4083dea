package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/surge-downloader/surge/internal/utils"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(neonPurple)
	hintStyle   = lipgloss.NewStyle().Foreground(gray)
	barFillChar = "━"
	barEmptyCh  = "─"
	barWidth    = 24
)

func (m *RootModel) View() string {
	if m.quitting {
		return "shutting down, saving state...\n"
	}

	var b strings.Builder

	fmt.Fprintf(&b, "%s  %s\n", headerStyle.Render("Surge"), hintStyle.Render(fmt.Sprintf("v%s · port %d", m.version, m.port)))
	b.WriteString(m.input.View())
	b.WriteString("\n\n")

	if len(m.ids) == 0 {
		b.WriteString(hintStyle.Render("no downloads yet — paste a URL above and press enter"))
		b.WriteString("\n")
	}

	for _, id := range m.ids {
		r, ok := m.rows[id]
		if !ok {
			continue
		}
		b.WriteString(renderRow(r))
		b.WriteString("\n")
	}

	if m.statusLine != "" {
		b.WriteString("\n")
		b.WriteString(hintStyle.Render(m.statusLine))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(hintStyle.Render("enter: queue · p: pause · r: resume · x: cancel · ctrl+p: pause all · ctrl+c: quit"))

	return b.String()
}

func renderRow(r *row) string {
	name := r.filename
	if name == "" {
		name = r.url
	}
	if len(name) > 40 {
		name = name[:37] + "..."
	}

	statusStyle := lipgloss.NewStyle().Foreground(statusColor(r.status)).Bold(true)
	status := statusStyle.Render(fmt.Sprintf("%-11s", r.status))

	bar := renderBar(r.progress)

	size := "-"
	if r.total > 0 {
		size = utils.ConvertBytesToHumanReadable(r.total)
	}

	speed := ""
	if r.speed > 0 {
		speed = fmt.Sprintf("%6.2f MB/s", r.speed)
	}

	line := fmt.Sprintf("%s  %-40s  %s  %5.1f%%  %8s  %s", status, name, bar, r.progress, size, speed)
	if r.status == "error" && r.errMsg != "" {
		line += "  " + lipgloss.NewStyle().Foreground(stateError).Render(r.errMsg)
	}
	return line
}

func renderBar(progress float64) string {
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}
	filled := int(progress / 100 * float64(barWidth))
	style := lipgloss.NewStyle().Foreground(neonCyan)
	return style.Render(strings.Repeat(barFillChar, filled)) +
		lipgloss.NewStyle().Foreground(gray).Render(strings.Repeat(barEmptyCh, barWidth-filled))
}
