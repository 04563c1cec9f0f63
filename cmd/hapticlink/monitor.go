package main

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/NimbleMarkets/ntcharts/canvas/runes"
	"github.com/NimbleMarkets/ntcharts/linechart/streamlinechart"

	"github.com/gwillem/hapticlink/pkg/control"
	"github.com/gwillem/hapticlink/pkg/teleop"
)

const (
	// chrome is the rows around the chart: title and status with a blank line,
	// the legend, the log box and the chart border.
	chrome   = 3 + 2 + 7 + 2
	logLines = 5

	// forceRange bounds the chart, N. The Falcon saturates at 8.9 N.
	forceRange = 10.0
)

type series struct {
	name  string
	color string
	value func(teleop.Snapshot) float64
}

// The chart plots force per axis plus the vertical velocity, scaled to share the axis.
var chartSeries = []series{
	{"fx", "196", func(s teleop.Snapshot) float64 { return s.Force.X() }},
	{"fy", "46", func(s teleop.Snapshot) float64 { return s.Force.Y() }},
	{"fz", "51", func(s teleop.Snapshot) float64 { return s.Force.Z() }},
	{"vz x10", "226", func(s teleop.Snapshot) float64 { return 10 * s.Velocity.Z() }},
}

var modeKeys = map[string]control.Mode{
	"n": control.ModeNone,
	"t": control.ModeTDPA,
	"i": control.ModeISS,
}

var (
	boxStyle    = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("240"))
	statusStyle = dimStyle
	modeStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("11"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

// envToggler is implemented by the slave, which can switch its rendered
// environment off locally.
type envToggler interface {
	ToggleEnvironment() bool
}

type monitorModel struct {
	role     string
	ctrl     controller
	states   <-chan teleop.Snapshot
	lines    <-chan string
	chart    *streamlinechart.Model
	width    int
	height   int
	logs     []string
	last     teleop.Snapshot
	seen     bool
	quitting bool
}

type (
	stateMsg teleop.Snapshot
	logMsg   string
)

// nextState blocks for the next snapshot. A closed channel ends the stream.
func nextState(states <-chan teleop.Snapshot) tea.Cmd {
	return func() tea.Msg {
		if s, ok := <-states; ok {
			return stateMsg(s)
		}
		return nil
	}
}

func nextLog(lines <-chan string) tea.Cmd {
	return func() tea.Msg { return logMsg(<-lines) }
}

func newMonitor(role string, ctrl controller, states <-chan teleop.Snapshot, lines <-chan string) monitorModel {
	w, h := chartSize(0, 0)
	chart := streamlinechart.New(w, h, streamlinechart.WithYRange(-forceRange, forceRange))
	for _, cs := range chartSeries {
		chart.SetDataSetStyles(cs.name, runes.ThinLineStyle, lipgloss.NewStyle().Foreground(lipgloss.Color(cs.color)))
	}

	return monitorModel{
		role:   role,
		ctrl:   ctrl,
		states: states,
		lines:  lines,
		chart:  &chart,
	}
}

// log keeps the newest lines that fit the log box.
func (m *monitorModel) log(line string) {
	if len(m.logs) == logLines {
		m.logs = append(m.logs[:0], m.logs[1:]...)
	}
	m.logs = append(m.logs, line)
}

// moved reports whether the snapshot differs from the last one drawn, so the
// chart freezes while nothing happens.
func (m *monitorModel) moved(s teleop.Snapshot) bool {
	if !m.seen {
		return true
	}
	return s.Position != m.last.Position || s.Force != m.last.Force
}

// chartSize fits the chart to a terminal of w by h cells, 80x20 until the
// first resize.
func chartSize(w, h int) (int, int) {
	if w == 0 || h == 0 {
		return 80, 20
	}
	return max(w-4, 40), max(h-chrome, 10)
}

func (m monitorModel) Init() tea.Cmd {
	return tea.Batch(nextState(m.states), nextLog(m.lines))
}

func (m monitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.chart.Resize(chartSize(m.width, m.height))
		return m, nil

	case tea.KeyMsg:
		if k := msg.String(); k == "q" || k == "ctrl+c" {
			m.quitting = true
			return m, tea.Quit
		}
		mode, ok := modeKeys[msg.String()]
		if ok && m.role == "master" && !m.ctrl.SetMode(mode) {
			m.log("mode command dropped, queue full")
		}
		if env, ok := m.ctrl.(envToggler); ok && msg.String() == "f" && !env.ToggleEnvironment() {
			m.log("environment toggle dropped, queue full")
		}
		return m, nil

	case stateMsg:
		s := teleop.Snapshot(msg)
		if m.moved(s) {
			for _, cs := range chartSeries {
				m.chart.PushDataSet(cs.name, cs.value(s))
			}
			m.chart.DrawAll()
		}
		m.last = s
		m.seen = true
		return m, nextState(m.states)

	case logMsg:
		m.log(string(msg))
		return m, nextLog(m.lines)
	}

	return m, nil
}

func (m monitorModel) View() string {
	if m.quitting {
		return "Session stopped.\n"
	}

	title := headerStyle.Render("hapticlink "+m.role) + fmt.Sprintf(" - %d Hz", m.ctrl.Hz())
	if m.width > 0 {
		title += statusStyle.Render(fmt.Sprintf("  [%dx%d]", m.width, m.height))
	}

	body := statusStyle.Render(m.help())
	if len(m.logs) > 0 {
		body = strings.Join(m.logs, "\n")
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		title,
		m.renderStatus(),
		"",
		boxStyle.Render(m.chart.View()),
		renderLegend(),
		boxStyle.Width(max(m.width-4, 20)).Render(body),
	) + "\n"
}

func (m monitorModel) renderStatus() string {
	if !m.seen {
		return statusStyle.Render("waiting for the control loop...")
	}
	s := m.last
	status := modeStyle.Render(s.Mode.String()) + statusStyle.Render(fmt.Sprintf(
		"  sent %d  recv %d  rtt %s  |F| %.2f N  E_in %.4f J  E_out %.4f J",
		s.Sent, s.Received, s.RoundTrip.Round(10*time.Microsecond), s.Force.Len(), sum(s.EIn), sum(s.EOut),
	))
	if s.EnvOff {
		status += "  " + errorStyle.Render("environment off")
	}
	if s.Err != "" {
		status += "  " + errorStyle.Render(s.Err)
	}
	return status
}

func (m monitorModel) help() string {
	if m.role == "master" {
		return "Press 't' TDPA, 'i' ISS, 'n' none, 'q' to quit"
	}
	if _, ok := m.ctrl.(envToggler); ok {
		return "Press 'f' to toggle the environment, 'q' to quit"
	}
	return "Press 'q' to quit"
}

func renderLegend() string {
	items := make([]string, len(chartSeries))
	for i, cs := range chartSeries {
		swatch := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(cs.color)).Render("━━")
		items[i] = swatch + " " + cs.name
	}
	return strings.Join(items, "  ")
}

func sum(v [3]float64) float64 {
	return v[0] + v[1] + v[2]
}
