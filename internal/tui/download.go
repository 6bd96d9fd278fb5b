// Package tui renders an interactive region download in the terminal.
package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/dustin/go-humanize"

	"github.com/mmcdole/offgrid/internal/domain"
	"github.com/mmcdole/offgrid/internal/tui/styles"
)

const maxBarWidth = 60

// DownloadControl is the part of a download run the view drives
type DownloadControl interface {
	RegionID() string
	Pause()
	Resume()
	Cancel()
	Progress() <-chan domain.OfflineDownloadProgress
	Snapshot() domain.OfflineDownloadProgress
}

// progressMsg carries one snapshot from the run
type progressMsg struct {
	Progress domain.OfflineDownloadProgress
}

// streamClosedMsg signals the run has delivered its final snapshot
type streamClosedMsg struct{}

// DownloadModel is a bubbletea model following one region download
type DownloadModel struct {
	ctl      DownloadControl
	name     string
	estimate int64
	keys     KeyMap

	spinner spinner.Model
	bar     progress.Model

	last      domain.OfflineDownloadProgress
	canceling bool
	finished  bool
}

// NewDownloadModel builds the view. estimate is the expected byte total,
// 0 when unknown.
func NewDownloadModel(ctl DownloadControl, name string, estimate int64) DownloadModel {
	if name == "" {
		name = ctl.RegionID()
	}
	return DownloadModel{
		ctl:      ctl,
		name:     name,
		estimate: estimate,
		keys:     DefaultKeyMap(),
		spinner: spinner.New(
			spinner.WithSpinner(spinner.Dot),
			spinner.WithStyle(styles.SpinnerStyle),
		),
		bar: progress.New(
			progress.WithGradient(styles.ProgressStart, styles.ProgressEnd),
			progress.WithWidth(40),
		),
		last: ctl.Snapshot(),
	}
}

// Init starts the spinner and the progress listener
func (m DownloadModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, listenCmd(m.ctl.Progress()))
}

// listenCmd reads the next snapshot; the model re-issues it after each one
func listenCmd(ch <-chan domain.OfflineDownloadProgress) tea.Cmd {
	return func() tea.Msg {
		p, ok := <-ch
		if !ok {
			return streamClosedMsg{}
		}
		return progressMsg{Progress: p}
	}
}

// Update handles key presses, progress snapshots and spinner ticks
func (m DownloadModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.bar.Width = min(maxBarWidth, max(10, msg.Width-8))
		return m, nil

	case progressMsg:
		m.last = msg.Progress
		return m, listenCmd(m.ctl.Progress())

	case streamClosedMsg:
		m.finished = true
		return m, tea.Quit

	case spinner.TickMsg:
		if m.finished {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m DownloadModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.finished {
		return m, tea.Quit
	}
	switch {
	case key.Matches(msg, m.keys.Pause):
		switch m.last.State {
		case domain.DownloadPaused:
			m.ctl.Resume()
		case domain.DownloadDownloading:
			m.ctl.Pause()
		}
	case key.Matches(msg, m.keys.Cancel):
		if !m.canceling {
			m.canceling = true
			m.ctl.Cancel()
		}
	}
	return m, nil
}

// Final returns the most recent snapshot seen by the view
func (m DownloadModel) Final() domain.OfflineDownloadProgress {
	return m.last
}

// View renders the panel
func (m DownloadModel) View() string {
	p := m.last
	var b strings.Builder

	b.WriteString(m.header())
	b.WriteString("\n\n")
	b.WriteString(m.bar.ViewAs(p.Fraction()))
	b.WriteString("\n\n")

	counts := fmt.Sprintf("%s / %s tiles",
		humanize.Comma(int64(p.DownloadedTiles)), humanize.Comma(int64(p.TotalTiles)))
	if p.SkippedTiles > 0 {
		counts += styles.DimStyle.Render(fmt.Sprintf("  (%s already stored)", humanize.Comma(int64(p.SkippedTiles))))
	}
	b.WriteString(counts)
	b.WriteString("\n")

	size := humanize.IBytes(uint64(p.TotalBytes))
	if m.estimate > 0 {
		size += styles.DimStyle.Render(" of ~" + humanize.IBytes(uint64(m.estimate)))
	}
	b.WriteString(size)

	if p.FailedTiles > 0 {
		b.WriteString("\n")
		b.WriteString(styles.ErrorStyle.Render(fmt.Sprintf("%d tiles failed", p.FailedTiles)))
	}
	if p.Error != "" {
		b.WriteString("\n")
		b.WriteString(styles.ErrorStyle.Render(styles.Truncate(p.Error, 72)))
	}

	if !m.finished {
		b.WriteString("\n\n")
		b.WriteString(m.help())
	}

	return styles.PanelStyle.Render(b.String()) + "\n"
}

func (m DownloadModel) header() string {
	title := styles.TitleStyle.Render(m.name)
	switch state := m.last.State; {
	case m.canceling && !state.Terminal():
		return m.spinner.View() + " " + title + "  " + styles.DimStyle.Render("canceling")
	case state == domain.DownloadCompleted:
		return styles.SuccessStyle.Render("✓") + " " + title + "  " + styles.SuccessStyle.Render("completed")
	case state == domain.DownloadFailed:
		return styles.ErrorStyle.Render("✗") + " " + title + "  " + styles.ErrorStyle.Render("failed")
	case state == domain.DownloadCanceled:
		return styles.DimStyle.Render("■") + " " + title + "  " + styles.DimStyle.Render("canceled")
	case state == domain.DownloadPaused:
		return styles.AccentStyle.Render("‖") + " " + title + "  " + styles.BadgeStyle.Render("paused")
	default:
		return m.spinner.View() + " " + title + "  " + styles.SubtitleStyle.Render(string(state))
	}
}

func (m DownloadModel) help() string {
	parts := make([]string, 0, 2)
	for _, k := range m.keys.ShortHelp() {
		h := k.Help()
		parts = append(parts, styles.HelpKeyStyle.Render(h.Key)+" "+styles.HelpDescStyle.Render(h.Desc))
	}
	return strings.Join(parts, styles.DimStyle.Render(" • "))
}
