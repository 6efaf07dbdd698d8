// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Thermoquad/jkstat/internal/session"
	"github.com/Thermoquad/jkstat/internal/store"
	"github.com/Thermoquad/jkstat/pkg/jkbms"
)

//////////////////////////////////////////////////////////////
// Constants
//////////////////////////////////////////////////////////////

const (
	cellTableHeight = 8
	socBarWidth     = 40
)

//////////////////////////////////////////////////////////////
// Types
//////////////////////////////////////////////////////////////

// dashboardModel is the Bubble Tea model for the dashboard TUI
type dashboardModel struct {
	// Link
	lm         *linkManager
	pollNow    chan<- struct{}
	connInfo   string
	connected  bool
	retryAt    time.Time
	lastLinkEr error

	// Latest readings
	deviceInfo *jkbms.DeviceInfo
	cellData   *jkbms.CellData
	lastUpdate time.Time
	stats      jkbms.Statistics
	failures   int

	// Widgets
	cellTable table.Model
	soc       progress.Model
	spinner   spinner.Model

	// Event log
	errorLog      []errorLogEntry
	maxLogEntries int

	// UI state
	width    int
	height   int
	quitting bool
}

//////////////////////////////////////////////////////////////
// Messages
//////////////////////////////////////////////////////////////

type dashboardTickMsg time.Time

type readingMsg struct {
	reading *session.Reading
	err     error
	stats   jkbms.Statistics
}

type linkEventMsg linkEvent

//////////////////////////////////////////////////////////////
// Model Initialization
//////////////////////////////////////////////////////////////

func initialDashboardModel(lm *linkManager, pollNow chan<- struct{}) dashboardModel {
	columns := []table.Column{
		{Title: "Cell", Width: 4},
		{Title: "Voltage", Width: 9},
		{Title: "Resistance", Width: 11},
		{Title: "", Width: 4},
	}
	t := table.New(
		table.WithColumns(columns),
		table.WithFocused(true),
		table.WithHeight(cellTableHeight),
	)
	ts := table.DefaultStyles()
	ts.Header = ts.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(true)
	ts.Selected = ts.Selected.
		Foreground(lipgloss.Color("0")).
		Background(lipgloss.Color("12"))
	t.SetStyles(ts)

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = warningStyle

	return dashboardModel{
		lm:            lm,
		pollNow:       pollNow,
		cellTable:     t,
		soc:           progress.New(progress.WithDefaultGradient(), progress.WithWidth(socBarWidth)),
		spinner:       s,
		errorLog:      make([]errorLogEntry, 0),
		maxLogEntries: 100,
		width:         80,
		height:        24,
	}
}

//////////////////////////////////////////////////////////////
// Bubble Tea Interface
//////////////////////////////////////////////////////////////

func (m dashboardModel) Init() tea.Cmd {
	return tea.Batch(dashboardTickCmd(), m.spinner.Tick)
}

func dashboardTickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return dashboardTickMsg(t)
	})
}

func (m dashboardModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "p":
			if m.connected {
				select {
				case m.pollNow <- struct{}{}:
					m.addLogEntry("Poll requested", false)
				default:
				}
			}
			return m, nil
		}
		var cmd tea.Cmd
		m.cellTable, cmd = m.cellTable.Update(msg)
		return m, cmd

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.soc.Width = min(socBarWidth, max(10, msg.Width-30))

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case dashboardTickMsg:
		// Keeps the "last update" age current
		return m, dashboardTickCmd()

	case linkEventMsg:
		m.handleLinkEvent(linkEvent(msg))

	case readingMsg:
		m.stats = msg.stats
		m.stats.CalculateRates()
		if msg.err != nil {
			m.failures++
			m.addLogEntry(fmt.Sprintf("Poll failed: %v", msg.err), true)
			return m, nil
		}
		m.applyReading(msg.reading)
	}

	return m, nil
}

func (m *dashboardModel) handleLinkEvent(ev linkEvent) {
	switch ev.kind {
	case linkConnected:
		m.connected = true
		m.connInfo = ev.connInfo
		m.lastLinkEr = nil
		m.addLogEntry("Connected: "+ev.connInfo, false)

	case linkLost:
		m.connected = false
		m.lastLinkEr = ev.err
		m.retryAt = time.Now().Add(ev.retryIn)
		if ev.err != nil {
			m.addLogEntry(fmt.Sprintf("Connection lost (%v) - reconnecting...", ev.err), true)
		} else {
			m.addLogEntry("Connection lost - reconnecting...", true)
		}

	case linkDialFailed:
		m.connected = false
		m.lastLinkEr = ev.err
		m.retryAt = time.Now().Add(ev.retryIn)
		m.addLogEntry(fmt.Sprintf("Connect failed: %v", ev.err), true)
	}
}

func (m *dashboardModel) applyReading(r *session.Reading) {
	if r.DeviceInfo != nil && m.deviceInfo == nil {
		m.addLogEntry(fmt.Sprintf("Device: %s %s", r.DeviceInfo.DeviceModel, r.DeviceInfo.SerialNumber), false)
	}
	if r.DeviceInfo != nil {
		m.deviceInfo = r.DeviceInfo
	}
	m.cellData = r.CellData
	m.lastUpdate = r.Time
	if r.Attempts > 1 {
		m.addLogEntry(fmt.Sprintf("Cell data after %d attempts", r.Attempts), false)
	}

	m.cellTable.SetRows(cellRows(r.CellData))
}

// cellRows builds one table row per cell, marking the max and min cells
func cellRows(c *jkbms.CellData) []table.Row {
	rows := make([]table.Row, 0, len(c.CellVoltage))
	for i, v := range c.CellVoltage {
		marker := ""
		switch i {
		case int(c.MaxVoltageCell):
			marker = "max"
		case int(c.MinVoltageCell):
			marker = "min"
		}
		resistance := ""
		if i < len(c.CellResistance) {
			resistance = fmt.Sprintf("%.3f Ω", c.CellResistance[i])
		}
		rows = append(rows, table.Row{
			fmt.Sprintf("%d", i+1),
			fmt.Sprintf("%.3f V", v),
			resistance,
			marker,
		})
	}
	return rows
}

func (m *dashboardModel) addLogEntry(message string, isError bool) {
	m.errorLog = append(m.errorLog, errorLogEntry{
		timestamp: time.Now(),
		message:   message,
		isError:   isError,
	})
	if len(m.errorLog) > m.maxLogEntries {
		m.errorLog = m.errorLog[len(m.errorLog)-m.maxLogEntries:]
	}
}

//////////////////////////////////////////////////////////////
// View
//////////////////////////////////////////////////////////////

func (m dashboardModel) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	var s strings.Builder
	s.WriteString(titleStyle.Render("JKSTAT - DASHBOARD"))
	s.WriteString("\n")
	s.WriteString(headerStyle.Render(fmt.Sprintf("%s | Poll every %v | 'p' polls now | 'q' quits",
		m.linkLabel(), cfg.Poll.Interval)))
	s.WriteString("\n\n")

	s.WriteString(m.renderLinkState())
	s.WriteString("\n\n")

	if m.cellData == nil {
		s.WriteString(headerStyle.Render("  (no cell data yet)"))
		s.WriteString("\n\n")
	} else {
		pack := boxStyle.Render(m.renderPack())
		cells := boxStyle.Render(m.cellTable.View())
		s.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, pack, " ", cells))
		s.WriteString("\n\n")
	}

	s.WriteString(statsLabelStyle.Render("Recent Events:"))
	s.WriteString("\n")
	s.WriteString(boxStyle.Width(m.width - 4).Render(m.renderEvents()))

	return s.String()
}

func (m dashboardModel) linkLabel() string {
	if _, info := m.lm.current(); info != "" {
		return info
	}
	if m.connInfo != "" {
		return m.connInfo
	}
	return connectionTarget(cfg.Connection)
}

func (m dashboardModel) renderLinkState() string {
	if m.connected {
		line := statsValueStyle.Render("✓ Connected")
		line += headerStyle.Render(fmt.Sprintf("  %d fragments, %d messages, %d CRC errors, %d failed polls",
			m.stats.Fragments, m.stats.TotalMessages, m.stats.CRCErrors, m.failures))
		return line
	}

	line := m.spinner.View() + warningStyle.Render(" Connecting...")
	if !m.retryAt.IsZero() {
		if wait := time.Until(m.retryAt); wait > 0 {
			line += headerStyle.Render(fmt.Sprintf(" retry in %ds", int(wait.Seconds()+0.5)))
		}
	}
	if m.lastLinkEr != nil {
		line += "\n" + errorStyle.Render(m.lastLinkEr.Error())
	}
	return line
}

func (m dashboardModel) renderPack() string {
	c := m.cellData
	var b strings.Builder

	if d := m.deviceInfo; d != nil {
		fmt.Fprintf(&b, "%s %s\n", statsLabelStyle.Render("Device:"),
			statsValueStyle.Render(fmt.Sprintf("%s (HW %s, SW %s)", d.DeviceModel, d.HardwareVersion, d.SoftwareVersion)))
		fmt.Fprintf(&b, "%s %s\n", statsLabelStyle.Render("Serial:"), statsValueStyle.Render(d.SerialNumber))
	}

	fmt.Fprintf(&b, "%s %s\n", statsLabelStyle.Render("SOC:"), m.soc.ViewAs(float64(c.RemainPercent)/100))
	fmt.Fprintf(&b, "%s %s\n", statsLabelStyle.Render("Capacity:"),
		statsValueStyle.Render(fmt.Sprintf("%.1f / %.1f Ah, SOH %d%%", c.RemainCapacity, c.NominalCapacity, c.StateOfHealth)))

	currentStyle := statsValueStyle
	if c.BatteryCurrent < 0 {
		currentStyle = warningStyle
	}
	fmt.Fprintf(&b, "%s %s  %s  %s\n", statsLabelStyle.Render("Pack:"),
		statsValueStyle.Render(fmt.Sprintf("%.3f V", c.BatteryVoltage)),
		currentStyle.Render(fmt.Sprintf("%.3f A", c.BatteryCurrent)),
		statsValueStyle.Render(fmt.Sprintf("%.1f W", c.BatteryPower)))

	fmt.Fprintf(&b, "%s %s\n", statsLabelStyle.Render("Cells:"),
		statsValueStyle.Render(fmt.Sprintf("avg %.3f V, delta %.3f V", c.AverageCellVoltage, c.DeltaCellVoltage)))

	balancer := jkbms.FormatBalancingAction(c.BalancingAction)
	if c.BalancingAction != jkbms.BalancingOff {
		balancer += fmt.Sprintf(" %.3f A", c.BalanceCurrent)
	}
	fmt.Fprintf(&b, "%s %s\n", statsLabelStyle.Render("Balancer:"), statsValueStyle.Render(balancer))

	temps := make([]string, 0, len(c.BatteryTemperature))
	for _, t := range c.BatteryTemperature {
		temps = append(temps, fmt.Sprintf("%.1f°C", t))
	}
	fmt.Fprintf(&b, "%s %s  %s %s\n",
		statsLabelStyle.Render("Temps:"), statsValueStyle.Render(strings.Join(temps, " ")),
		statsLabelStyle.Render("MOSFET:"), statsValueStyle.Render(fmt.Sprintf("%.1f°C", c.MosfetTemperature)))

	fmt.Fprintf(&b, "%s %s\n", statsLabelStyle.Render("Cycles:"),
		statsValueStyle.Render(fmt.Sprintf("%d (%.1f Ah)", c.CycleCount, c.CycleCapacity)))
	fmt.Fprintf(&b, "%s %s\n", statsLabelStyle.Render("Uptime:"),
		statsValueStyle.Render(jkbms.FormatDuration(uint64(c.UpTime))))
	fmt.Fprintf(&b, "%s %s", statsLabelStyle.Render("Updated:"),
		statsValueStyle.Render(store.FormatLastUpdate(m.lastUpdate, time.Now())))

	return b.String()
}

func (m dashboardModel) renderEvents() string {
	logHeight := m.height - 24
	if logHeight < 3 {
		logHeight = 3
	}
	if len(m.errorLog) == 0 {
		return headerStyle.Render("  (no events yet)")
	}

	startIdx := max(0, len(m.errorLog)-logHeight)
	var b strings.Builder
	for _, entry := range m.errorLog[startIdx:] {
		timestamp := entry.timestamp.Format("15:04:05")
		if entry.isError {
			fmt.Fprintf(&b, "%s %s\n", headerStyle.Render(timestamp), errorStyle.Render("✗ "+entry.message))
		} else {
			fmt.Fprintf(&b, "%s %s\n", headerStyle.Render(timestamp), warningStyle.Render("ℹ "+entry.message))
		}
	}
	return b.String()
}
