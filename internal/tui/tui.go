// Package tui is a read-only terminal view of the fleet state document:
// it connects to the daemon as a `tui` client and renders each broadcast
// snapshot. Rendering stays deliberately thin - the interesting contract
// is the FMDM subscription it exercises end to end.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/folder-mcp/daemon/internal/daemon"
	"github.com/folder-mcp/daemon/internal/fmdm"
)

// Color palette - single lime accent over grays.
const (
	colorLime     = "154"
	colorWhite    = "255"
	colorGray     = "245"
	colorDarkGray = "238"
	colorRed      = "196"
	colorYellow   = "220"
)

type styles struct {
	header lipgloss.Style
	active lipgloss.Style
	busy   lipgloss.Style
	errSt  lipgloss.Style
	dim    lipgloss.Style
	panel  lipgloss.Style
}

func defaultStyles() styles {
	return styles{
		header: lipgloss.NewStyle().Foreground(lipgloss.Color(colorWhite)).Bold(true),
		active: lipgloss.NewStyle().Foreground(lipgloss.Color(colorLime)),
		busy:   lipgloss.NewStyle().Foreground(lipgloss.Color(colorYellow)),
		errSt:  lipgloss.NewStyle().Foreground(lipgloss.Color(colorRed)),
		dim:    lipgloss.NewStyle().Foreground(lipgloss.Color(colorGray)),
		panel: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color(colorDarkGray)).
			Padding(0, 1),
	}
}

// fmdmMsg delivers a new snapshot into the bubbletea loop.
type fmdmMsg fmdm.Document

// connectionLostMsg signals the daemon went away.
type connectionLostMsg struct{ err error }

// Model is the bubbletea model for the fleet view.
type Model struct {
	doc     fmdm.Document
	spin    spinner.Model
	styles  styles
	lostErr error
}

// NewModel creates the fleet view model.
func NewModel() Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color(colorLime))
	return Model{spin: sp, styles: defaultStyles()}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return m.spin.Tick
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		}
	case fmdmMsg:
		m.doc = fmdm.Document(msg)
		return m, nil
	case connectionLostMsg:
		m.lostErr = msg.err
		return m, tea.Quit
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd
	}
	return m, nil
}

// View implements tea.Model.
func (m Model) View() string {
	var b strings.Builder

	b.WriteString(m.styles.header.Render("folder-mcp"))
	b.WriteString(m.styles.dim.Render(fmt.Sprintf("  v%d · pid %d · up %s · %d client(s)",
		m.doc.Version, m.doc.Daemon.PID,
		(time.Duration(m.doc.Daemon.UptimeSeconds) * time.Second).String(),
		m.doc.Connections.Count)))
	b.WriteString("\n\n")

	if len(m.doc.Folders) == 0 {
		b.WriteString(m.styles.dim.Render("no folders configured"))
		b.WriteString("\n")
	}

	for _, f := range m.doc.Folders {
		b.WriteString(m.renderFolder(f))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(m.styles.dim.Render("q to quit"))
	return m.styles.panel.Render(b.String())
}

func (m Model) renderFolder(f fmdm.Folder) string {
	var status string
	switch f.Status {
	case fmdm.StatusActive:
		status = m.styles.active.Render(string(f.Status))
	case fmdm.StatusError:
		status = m.styles.errSt.Render(string(f.Status))
	case fmdm.StatusScanning, fmdm.StatusIndexing, fmdm.StatusDownloadingModel:
		status = m.spin.View() + m.styles.busy.Render(string(f.Status))
	default:
		status = m.styles.dim.Render(string(f.Status))
	}

	line := fmt.Sprintf("%s  %s  %s  %s",
		m.styles.header.Render(f.Name),
		m.styles.dim.Render(f.Path),
		m.styles.dim.Render(f.Model),
		status)

	if f.Progress != nil && f.Status == fmdm.StatusIndexing {
		line += m.styles.busy.Render(fmt.Sprintf("  %d%% (%d/%d, %d failed)",
			f.Progress.Percentage, f.Progress.Completed, f.Progress.Total, f.Progress.Failed))
	}
	if f.ScanningProgress != nil && f.Status == fmdm.StatusScanning {
		line += m.styles.busy.Render(fmt.Sprintf("  %s %d/%d",
			f.ScanningProgress.Phase, f.ScanningProgress.Processed, f.ScanningProgress.Total))
	}
	if f.Notification != nil {
		style := m.styles.dim
		switch f.Notification.Severity {
		case fmdm.SeverityError:
			style = m.styles.errSt
		case fmdm.SeverityWarning:
			style = m.styles.busy
		}
		line += "\n    " + style.Render(f.Notification.Message)
	}
	return line
}

// Run connects to the daemon and drives the view until quit or
// disconnect.
func Run(ctx context.Context, socketPath string) error {
	client, err := daemon.Dial(socketPath, 10*time.Second)
	if err != nil {
		return err
	}
	defer client.Close()

	if _, err := client.Init(ctx, "tui"); err != nil {
		return err
	}

	program := tea.NewProgram(NewModel(), tea.WithAltScreen(), tea.WithContext(ctx))

	go func() {
		for {
			select {
			case <-ctx.Done():
				program.Send(connectionLostMsg{err: ctx.Err()})
				return
			case doc, ok := <-client.Updates():
				if !ok {
					program.Send(connectionLostMsg{err: fmt.Errorf("daemon connection closed")})
					return
				}
				program.Send(fmdmMsg(doc))
			}
		}
	}()

	_, err = program.Run()
	return err
}
