package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/gwillem/hapticlink/pkg/robot"
)

// minSpan is the travel in raw steps below which a joint is shown as not yet
// explored.
const minSpan = 500

const sampleEvery = 100 * time.Millisecond

var (
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	headStyle   = cellStyle.Bold(true).Foreground(lipgloss.Color("12"))
	jointStyle  = cellStyle.Foreground(lipgloss.Color("14"))
	nowStyle    = cellStyle.Foreground(lipgloss.Color("11"))
	spanOKStyle = cellStyle.Foreground(lipgloss.Color("10"))
	spanLoStyle = cellStyle.Foreground(lipgloss.Color("9"))
)

// rawReader reads the uncalibrated step count of one servo.
type rawReader interface {
	Position(ctx context.Context) (int, error)
}

type sampleMsg time.Time

func sampleTick() tea.Cmd {
	return tea.Tick(sampleEvery, func(t time.Time) tea.Msg { return sampleMsg(t) })
}

// rangeModel records the travel of each joint while the operator moves the
// arm by hand.
type rangeModel struct {
	joints  []robot.MotorName
	servos  map[robot.MotorName]rawReader
	now     map[robot.MotorName]int
	cal     robot.Calibration
	stopped bool
}

// newRangeModel seeds every range at the joint's current position. Joints
// whose servo cannot be read are left out.
func newRangeModel(ctx context.Context, servos map[robot.MotorName]rawReader) rangeModel {
	m := rangeModel{
		servos: servos,
		now:    make(map[robot.MotorName]int, len(servos)),
		cal:    make(robot.Calibration, len(servos)),
	}
	for _, name := range robot.AllMotors() {
		s, ok := servos[name]
		if !ok {
			continue
		}
		raw, err := s.Position(ctx)
		if err != nil {
			continue
		}
		m.joints = append(m.joints, name)
		m.now[name] = raw
		m.cal[name] = robot.NewRange(robot.ServoID(name), raw)
	}
	return m
}

func (m rangeModel) sample(ctx context.Context) {
	for _, name := range m.joints {
		raw, err := m.servos[name].Position(ctx)
		if err != nil {
			continue
		}
		mc := m.cal[name]
		mc.Track(raw)
		m.cal[name] = mc
		m.now[name] = raw
	}
}

func (m rangeModel) Init() tea.Cmd { return sampleTick() }

func (m rangeModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "enter", "q", "ctrl+c":
			m.stopped = true
			return m, tea.Quit
		}
	case sampleMsg:
		m.sample(context.Background())
		return m, sampleTick()
	}
	return m, nil
}

func (m rangeModel) View() string {
	if m.stopped {
		return ""
	}
	rows := make([][]string, len(m.joints))
	for i, name := range m.joints {
		mc := m.cal[name]
		rows[i] = []string{
			string(name),
			strconv.Itoa(m.now[name]),
			strconv.Itoa(mc.RangeMin),
			strconv.Itoa(mc.RangeMax),
			strconv.Itoa(mc.Span()),
		}
	}
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(dimStyle).
		Headers("Joint", "Now", "Min", "Max", "Span").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return headStyle
			case col == 0:
				return jointStyle
			case col == 1:
				return nowStyle
			case col == 4 && row >= 0 && row < len(m.joints):
				if m.cal[m.joints[row]].Span() > minSpan {
					return spanOKStyle
				}
				return spanLoStyle
			}
			return cellStyle
		})
	return t.Render() + "\n\n" + dimStyle.Render("Press Enter when done")
}

// recordRanges frees the arm on port and records each joint's travel until the
// operator confirms.
func recordRanges(port string) (robot.Calibration, error) {
	arm, err := probePort(port)
	if err != nil {
		return nil, err
	}
	defer arm.bus.Close()

	ctx := context.Background()
	servos := make(map[robot.MotorName]rawReader, len(arm.servos))
	for _, name := range robot.AllMotors() {
		s := arm.servo(name)
		if s == nil {
			continue
		}
		if err := s.Disable(ctx); err != nil {
			return nil, fmt.Errorf("release %s: %w", name, err)
		}
		servos[name] = s
	}

	fmt.Println(subHeaderStyle.Render("Record range of motion"))
	fmt.Println("Move every joint to both ends of its travel, then press Enter.")
	fmt.Println()

	final, err := tea.NewProgram(newRangeModel(ctx, servos)).Run()
	if err != nil {
		return nil, fmt.Errorf("calibration ui: %w", err)
	}
	return final.(rangeModel).cal, nil
}
