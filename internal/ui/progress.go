package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"quire/internal/buildpipeline"
)

// maxRows is how many module rows the model shows; older finished modules
// scroll away.
const maxRows = 12

type progressModel struct {
	title      string
	events     <-chan buildpipeline.Event
	spinner    spinner.Model
	prog       progress.Model
	items      []moduleItem
	index      map[string]int
	finished   int
	stage      buildpipeline.Stage
	stageLabel string
	errors     []string
	width      int
	done       bool
}

type moduleItem struct {
	path   string
	status buildpipeline.Status
}

type eventMsg buildpipeline.Event
type doneMsg struct{}

// NewProgressModel returns a Bubble Tea model that renders build progress.
// Modules appear as the graph stage discovers them. The model quits when
// events is closed.
func NewProgressModel(title string, events <-chan buildpipeline.Event) tea.Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))

	prog := progress.New(progress.WithDefaultGradient())
	prog.Width = 76

	return &progressModel{
		title:   title,
		events:  events,
		spinner: sp,
		prog:    prog,
		index:   make(map[string]int),
		width:   80,
	}
}

func (m *progressModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.listenForEvent())
}

func (m *progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case eventMsg:
		cmd := m.applyEvent(buildpipeline.Event(msg))
		return m, tea.Batch(cmd, m.listenForEvent())
	case doneMsg:
		m.done = true
		return m, tea.Quit
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC {
			return m, tea.Quit
		}
		return m, nil
	case spinner.TickMsg:
		if m.done {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case tea.WindowSizeMsg:
		if msg.Width > 0 {
			m.width = msg.Width
			m.prog.Width = msg.Width - 4
		}
		return m, nil
	case progress.FrameMsg:
		progressModel, cmd := m.prog.Update(msg)
		m.prog = progressModel.(progress.Model)
		return m, cmd
	}
	return m, nil
}

func (m *progressModel) View() string {
	titleStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("7"))
	header := m.title
	if m.stageLabel != "" {
		header = fmt.Sprintf("%s (%s)", header, m.stageLabel)
	}
	if m.done {
		header = fmt.Sprintf("done: %s", header)
	} else {
		header = fmt.Sprintf("%s %s", m.spinner.View(), header)
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render(header))
	b.WriteString("\n")
	fmt.Fprintf(&b, "  %d/%d modules\n\n", m.finished, len(m.items))

	statusWidth := 12
	nameWidth := max(m.width-statusWidth-4, 20)
	first := max(len(m.items)-maxRows, 0)
	for _, item := range m.items[first:] {
		name := truncate(item.path, nameWidth)
		status := styleStatus(item.status).Render(fmt.Sprintf("%12s", item.status))
		fmt.Fprintf(&b, "  %s %s\n", status, name)
	}
	for _, msg := range m.errors {
		b.WriteString(styleStatus(buildpipeline.StatusError).Render("  " + truncate(msg, m.width-2)))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	if m.done {
		b.WriteString(m.prog.ViewAs(1.0))
	} else {
		b.WriteString(m.prog.View())
	}
	b.WriteString("\n")
	return b.String()
}

func (m *progressModel) listenForEvent() tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-m.events
		if !ok {
			return doneMsg{}
		}
		return eventMsg(ev)
	}
}

func (m *progressModel) applyEvent(ev buildpipeline.Event) tea.Cmd {
	if ev.Module == "" {
		m.stage = ev.Stage
		m.stageLabel = stageLabel(ev.Stage, ev.Status)
		if ev.Status == buildpipeline.StatusError && ev.Err != nil {
			m.errors = append(m.errors, ev.Err.Error())
		}
		return m.prog.SetPercent(m.percent())
	}
	idx, ok := m.index[ev.Module]
	if !ok {
		idx = len(m.items)
		m.index[ev.Module] = idx
		m.items = append(m.items, moduleItem{path: ev.Module, status: buildpipeline.StatusQueued})
	}
	if !finished(m.items[idx].status) && finished(ev.Status) {
		m.finished++
	}
	m.items[idx].status = ev.Status
	return m.prog.SetPercent(m.percent())
}

// percent weights the graph stage at 80%; its share grows with the ratio of
// finished to discovered modules.
func (m *progressModel) percent() float64 {
	switch m.stage {
	case buildpipeline.StageSplit:
		return 0.85
	case buildpipeline.StageEmit:
		return 0.9
	}
	if len(m.items) == 0 {
		return 0
	}
	return 0.8 * float64(m.finished) / float64(len(m.items))
}

func finished(s buildpipeline.Status) bool {
	return s == buildpipeline.StatusDone || s == buildpipeline.StatusCached || s == buildpipeline.StatusError
}

func stageLabel(stage buildpipeline.Stage, status buildpipeline.Status) string {
	var verb string
	switch stage {
	case buildpipeline.StageGraph:
		verb = "loading modules"
	case buildpipeline.StageSplit:
		verb = "splitting chunks"
	case buildpipeline.StageEmit:
		verb = "emitting"
	default:
		return ""
	}
	switch status {
	case buildpipeline.StatusError:
		return verb + " failed"
	case buildpipeline.StatusDone:
		return verb + " done"
	}
	return verb
}

func styleStatus(status buildpipeline.Status) lipgloss.Style {
	switch status {
	case buildpipeline.StatusDone:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	case buildpipeline.StatusCached:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("4"))
	case buildpipeline.StatusError:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	case buildpipeline.StatusWorking:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
	default:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("7"))
	}
}

func truncate(value string, width int) string {
	if width <= 0 {
		return value
	}
	if runewidth.StringWidth(value) <= width {
		return value
	}
	if width <= 3 {
		return runewidth.Truncate(value, width, "")
	}
	return runewidth.Truncate(value, width-3, "...")
}
