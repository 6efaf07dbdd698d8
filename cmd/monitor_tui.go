// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Thermoquad/jkstat/internal/session"
	"github.com/Thermoquad/jkstat/pkg/jkbms"
)

// Error log entry
type errorLogEntry struct {
	timestamp time.Time
	message   string
	isError   bool // true for errors, false for warnings
}

// TUI model
type model struct {
	connInfo      string
	statsInterval int
	showAll       bool
	statsFn       func() jkbms.Statistics
	stats         jkbms.Statistics
	errorLog      []errorLogEntry
	maxLogEntries int
	synchronized  bool
	skippedBytes  uint64
	width         int
	height        int
	quitting      bool
	linkClosed    bool
	spinner       spinner.Model
	deviceInfo    *jkbms.DeviceInfo
	cellData      *jkbms.CellData
	cellDataTime  time.Time
}

// Messages
type tickMsg time.Time
type messageMsg struct {
	msg *session.Message
}
type pollMsg struct {
	reading *session.Reading
	err     error
}
type linkClosedMsg struct {
	err error
}

func initialModel(connInfo string, statsInterval int, showAll bool, statsFn func() jkbms.Statistics) model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))

	return model{
		connInfo:      connInfo,
		statsInterval: statsInterval,
		showAll:       showAll,
		statsFn:       statsFn,
		stats:         statsFn(),
		errorLog:      make([]errorLogEntry, 0),
		maxLogEntries: 100,
		width:         80,
		height:        24,
		spinner:       s,
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(
		tickCmd(),
		m.spinner.Tick,
		tea.EnterAltScreen,
	)
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "r":
			m.errorLog = m.errorLog[:0]
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case spinner.TickMsg:
		if m.synchronized {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tickMsg:
		m.stats = m.statsFn()
		m.stats.CalculateRates()
		return m, tickCmd()

	case messageMsg:
		m.handleMessage(msg.msg)

	case pollMsg:
		if msg.err != nil {
			m.addLogEntry(fmt.Sprintf("POLL FAILED: %v", msg.err), true)
		} else if msg.reading.Attempts > 1 {
			m.addLogEntry(fmt.Sprintf("Cell data after %d attempts", msg.reading.Attempts), false)
		}

	case linkClosedMsg:
		m.linkClosed = true
		if msg.err != nil {
			m.addLogEntry(fmt.Sprintf("Link closed: %v", msg.err), true)
		} else {
			m.addLogEntry("Link closed", true)
		}
	}

	return m, nil
}

func (m *model) handleMessage(sm *session.Message) {
	if sm.Err != nil && !errors.Is(sm.Err, jkbms.ErrUnsupportedRecord) {
		if m.synchronized {
			label := "DECODE ERROR"
			if errors.Is(sm.Err, jkbms.ErrBadCRC) {
				label = "CRC ERROR"
			}
			m.addLogEntry(fmt.Sprintf("%s: %v", label, sm.Err), true)
		}
		return
	}

	if !m.synchronized {
		m.synchronized = true
		m.skippedBytes = m.statsFn().DiscardedBytes
		if m.skippedBytes > 0 {
			m.addLogEntry(fmt.Sprintf("Synchronized after skipping %d bytes", m.skippedBytes), false)
		} else {
			m.addLogEntry("Synchronized", false)
		}
	}

	switch r := sm.Record.(type) {
	case *jkbms.DeviceInfo:
		m.deviceInfo = r
	case *jkbms.CellData:
		m.cellData = r
		m.cellDataTime = sm.Time
	}

	recordType := jkbms.FormatRecordType(jkbms.NewMessageAt(sm.Raw, sm.Time).RecordType())
	if len(sm.Anomalies) > 0 {
		for _, a := range sm.Anomalies {
			m.addLogEntry(fmt.Sprintf("%s: %s", recordType, a.Message), true)
		}
	} else if m.showAll {
		m.addLogEntry(fmt.Sprintf("%s (valid)", recordType), false)
	}
}

func (m *model) addLogEntry(message string, isError bool) {
	entry := errorLogEntry{
		timestamp: time.Now(),
		message:   message,
		isError:   isError,
	}
	m.errorLog = append(m.errorLog, entry)

	// Keep only last N entries
	if len(m.errorLog) > m.maxLogEntries {
		m.errorLog = m.errorLog[len(m.errorLog)-m.maxLogEntries:]
	}
}

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("12")).
			Background(lipgloss.Color("235")).
			Padding(0, 1)

	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	statsLabelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("12")).
			Bold(true)

	statsValueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("10"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9")).
			Bold(true)

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("11"))

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)
)

func (m model) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	var s strings.Builder
	s.WriteString(titleStyle.Render("JKSTAT - LINK MONITOR"))
	s.WriteString("\n")
	mode := "Errors only"
	if m.showAll {
		mode = "All messages"
	}
	s.WriteString(headerStyle.Render(fmt.Sprintf("%s | Mode: %s | 'r' clears log | 'q' quits", m.connInfo, mode)))
	s.WriteString("\n\n")

	switch {
	case m.linkClosed:
		s.WriteString(errorStyle.Render("✗ Link closed"))
	case !m.synchronized:
		s.WriteString(m.spinner.View())
		s.WriteString(warningStyle.Render(" Waiting for first message..."))
	default:
		s.WriteString(statsValueStyle.Render("✓ Synchronized"))
		if m.skippedBytes > 0 {
			s.WriteString(headerStyle.Render(fmt.Sprintf(" (skipped %d bytes)", m.skippedBytes)))
		}
	}
	s.WriteString("\n\n")

	s.WriteString(boxStyle.Render(m.renderStats()))
	s.WriteString("\n\n")

	if m.cellData != nil {
		s.WriteString(statsLabelStyle.Render("Latest Cell Data:"))
		s.WriteString(headerStyle.Render(" " + m.cellDataTime.Format("15:04:05")))
		s.WriteString("\n")
		s.WriteString(boxStyle.Render(m.renderCellData()))
		s.WriteString("\n\n")
	}

	s.WriteString(statsLabelStyle.Render("Recent Events:"))
	s.WriteString("\n")
	s.WriteString(boxStyle.Width(m.width - 4).Render(m.renderLog()))

	return s.String()
}

func (m model) renderStats() string {
	st := m.stats
	totalErrors := st.CRCErrors + st.DecodeErrors + st.Anomalies
	var validPercent, errorPercent float64
	if st.TotalMessages > 0 {
		validPercent = float64(st.ValidMessages) * 100.0 / float64(st.TotalMessages)
		errorPercent = float64(totalErrors) * 100.0 / float64(st.TotalMessages)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s   %s %s   %s %s\n",
		statsLabelStyle.Render("Total:"), statsValueStyle.Render(fmt.Sprintf("%d", st.TotalMessages)),
		statsLabelStyle.Render("Valid:"), statsValueStyle.Render(fmt.Sprintf("%d (%.1f%%)", st.ValidMessages, validPercent)),
		statsLabelStyle.Render("Errors:"), errorStyle.Render(fmt.Sprintf("%d (%.1f%%)", totalErrors, errorPercent)),
	)

	if st.CRCErrors > 0 || st.DecodeErrors > 0 {
		fmt.Fprintf(&b, "%s %s   %s %s\n",
			statsLabelStyle.Render("CRC Errors:"), errorStyle.Render(fmt.Sprintf("%d", st.CRCErrors)),
			statsLabelStyle.Render("Decode Errors:"), errorStyle.Render(fmt.Sprintf("%d", st.DecodeErrors)),
		)
	}

	if st.Anomalies > 0 {
		fmt.Fprintf(&b, "%s %s\n",
			statsLabelStyle.Render("Anomalous:"), warningStyle.Render(fmt.Sprintf("%d", st.Anomalies)))
	}

	if st.DiscardedBytes > 0 || st.BufferResets > 0 {
		fmt.Fprintf(&b, "%s %s\n",
			statsLabelStyle.Render("Resync:"),
			warningStyle.Render(fmt.Sprintf("%d bytes dropped, %d resets", st.DiscardedBytes, st.BufferResets)))
	}

	fmt.Fprintf(&b, "%s %s   %s %s",
		statsLabelStyle.Render("Fragments:"), statsValueStyle.Render(fmt.Sprintf("%d (%d bytes)", st.Fragments, st.Bytes)),
		statsLabelStyle.Render("Rate:"), statsValueStyle.Render(fmt.Sprintf("%.2f msg/s", st.MessageRate)),
	)
	if st.ErrorRate > 0 {
		fmt.Fprintf(&b, "   %s", errorStyle.Render(fmt.Sprintf("%.2f err/s", st.ErrorRate)))
	}
	return b.String()
}

func (m model) renderCellData() string {
	c := m.cellData
	var b strings.Builder

	if m.deviceInfo != nil {
		fmt.Fprintf(&b, "%s %s   %s %s\n",
			statsLabelStyle.Render("Device:"), statsValueStyle.Render(m.deviceInfo.DeviceModel),
			statsLabelStyle.Render("Serial:"), statsValueStyle.Render(m.deviceInfo.SerialNumber))
	}

	fmt.Fprintf(&b, "%s %s   %s %s\n",
		statsLabelStyle.Render("Battery:"),
		statsValueStyle.Render(fmt.Sprintf("%.3f V  %.3f A  %.1f W", c.BatteryVoltage, c.BatteryCurrent, c.BatteryPower)),
		statsLabelStyle.Render("SOC:"),
		statsValueStyle.Render(fmt.Sprintf("%d%% (%.1f/%.1f Ah)", c.RemainPercent, c.RemainCapacity, c.NominalCapacity)))

	fmt.Fprintf(&b, "%s %s   %s %s\n",
		statsLabelStyle.Render("Delta:"), statsValueStyle.Render(fmt.Sprintf("%.3f V", c.DeltaCellVoltage)),
		statsLabelStyle.Render("Balancer:"), statsValueStyle.Render(jkbms.FormatBalancingAction(c.BalancingAction)))

	for i, v := range c.CellVoltage {
		style := statsValueStyle
		switch i {
		case int(c.MaxVoltageCell):
			style = errorStyle
		case int(c.MinVoltageCell):
			style = warningStyle
		}
		fmt.Fprintf(&b, "%s %s", headerStyle.Render(fmt.Sprintf("%2d", i+1)), style.Render(fmt.Sprintf("%.3f", v)))
		if (i+1)%8 == 0 || i == len(c.CellVoltage)-1 {
			b.WriteString("\n")
		} else {
			b.WriteString("  ")
		}
	}

	temps := make([]string, 0, len(c.BatteryTemperature)+1)
	for _, t := range c.BatteryTemperature {
		temps = append(temps, fmt.Sprintf("%.1f°C", t))
	}
	fmt.Fprintf(&b, "%s %s   %s %s\n",
		statsLabelStyle.Render("Temps:"), statsValueStyle.Render(strings.Join(temps, " ")),
		statsLabelStyle.Render("MOSFET:"), statsValueStyle.Render(fmt.Sprintf("%.1f°C", c.MosfetTemperature)))

	fmt.Fprintf(&b, "%s %s",
		statsLabelStyle.Render("Uptime:"), statsValueStyle.Render(jkbms.FormatDuration(uint64(c.UpTime))))
	return b.String()
}

func (m model) renderLog() string {
	// Reserve space for header, stats and cell data
	reserved := 15
	if m.cellData != nil {
		reserved += 8 + len(m.cellData.CellVoltage)/8
	}
	logHeight := m.height - reserved
	if logHeight < 5 {
		logHeight = 5
	}

	if len(m.errorLog) == 0 {
		return headerStyle.Render("  (no events yet)")
	}

	startIdx := len(m.errorLog) - logHeight
	if startIdx < 0 {
		startIdx = 0
	}

	var b strings.Builder
	for _, entry := range m.errorLog[startIdx:] {
		timestamp := entry.timestamp.Format("01/02/06 15:04:05.000")
		if entry.isError {
			fmt.Fprintf(&b, "%s %s\n", headerStyle.Render(timestamp), errorStyle.Render("✗ "+entry.message))
		} else {
			fmt.Fprintf(&b, "%s %s\n", headerStyle.Render(timestamp), warningStyle.Render("ℹ "+entry.message))
		}
	}
	return b.String()
}
