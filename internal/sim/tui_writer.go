package sim

import (
	"context"
	"fmt"
	"math"
	"os"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/wordwrap"

	"meshsim/internal/config"
	"meshsim/internal/mesh"
	"meshsim/internal/telemetry"
)

// teaProgram abstracts bubbletea.Program for testing.
type teaProgram interface {
	Send(tea.Msg)
}

// logMsg carries a routing event line for the viewport.
type logMsg struct{ line string }

// nodeMsg carries the latest per-node rows.
type nodeMsg struct{ rows []telemetry.NodeRow }

// stateMsg carries a network state update.
type stateMsg struct{ telemetry.NetworkStateRow }

// adminMsg reports admin endpoint status.
type adminMsg struct{ active bool }

type setInjectorMsg struct{ inj Injector }

// injectResultMsg reports the outcome of an interactive injection.
type injectResultMsg struct{ line string }

const (
	maxLogLines         = 1000
	maxSectionHeightPct = 0.3
	injectTimeout       = 5 * time.Second
	fallbackInjectInput = "Node-0,SOS: Medical emergency"
)

// TUIWriter renders the mesh using a bubbletea TUI.
type TUIWriter struct {
	program    teaProgram
	nodeColors map[string]string
	colorIdx   int
	done       chan struct{}
	sendSignal atomic.Bool
}

// NewTUIWriter starts a bubbletea program and returns a TUIWriter. Quitting
// the TUI interrupts the process so the simulation shuts down.
func NewTUIWriter(cfg *config.SimulationConfig) *TUIWriter {
	w := &TUIWriter{nodeColors: make(map[string]string), done: make(chan struct{})}
	w.sendSignal.Store(true)
	p := tea.NewProgram(newTUIModel(cfg), tea.WithAltScreen())
	w.program = p
	go func() {
		_, _ = p.Run()
		close(w.done)
		if w.sendSignal.Load() {
			if proc, err := os.FindProcess(os.Getpid()); err == nil {
				_ = proc.Signal(os.Interrupt)
			}
		}
	}()
	return w
}

func (w *TUIWriter) nodeColor(id string) string {
	if c, ok := w.nodeColors[id]; ok {
		return c
	}
	c := nodePalette[w.colorIdx%len(nodePalette)]
	w.nodeColors[id] = c
	w.colorIdx++
	return c
}

// Write implements TelemetryWriter.
func (w *TUIWriter) Write(row telemetry.NodeRow) error {
	w.program.Send(nodeMsg{rows: []telemetry.NodeRow{row}})
	return nil
}

// WriteBatch sends one tick of node rows.
func (w *TUIWriter) WriteBatch(rows []telemetry.NodeRow) error {
	w.program.Send(nodeMsg{rows: rows})
	return nil
}

// WriteEvent implements EventWriter.
func (w *TUIWriter) WriteEvent(e telemetry.EventRow) error {
	line := fmt.Sprintf("%s[%s]%s %s%s%s %s%-8s%s %s%-6s%s %s",
		colorGray, e.Timestamp.Format("15:04:05.000"), colorReset,
		w.nodeColor(e.NodeID), e.NodeID, colorReset,
		actionColor(e.Action), e.Action, colorReset,
		congestionColor(e.Congestion), e.Congestion, colorReset,
		e.Payload)
	w.program.Send(logMsg{line: line})
	return nil
}

// WriteEvents outputs multiple routing events.
func (w *TUIWriter) WriteEvents(rows []telemetry.EventRow) error {
	for _, e := range rows {
		_ = w.WriteEvent(e)
	}
	return nil
}

// WriteState implements StateWriter.
func (w *TUIWriter) WriteState(row telemetry.NetworkStateRow) error {
	w.program.Send(stateMsg{NetworkStateRow: row})
	return nil
}

// SetAdminStatus updates the admin endpoint indicator.
func (w *TUIWriter) SetAdminStatus(active bool) {
	w.program.Send(adminMsg{active: active})
}

// SetInjector enables the injection key bindings.
func (w *TUIWriter) SetInjector(inj Injector) {
	w.program.Send(setInjectorMsg{inj: inj})
}

// Close shuts down the TUI program and waits for cleanup.
func (w *TUIWriter) Close() error {
	w.sendSignal.Store(false)
	if w.program != nil {
		w.program.Send(tea.Quit())
	}
	if w.done != nil {
		<-w.done
	}
	return nil
}

type tuiModel struct {
	cfg          *config.SimulationConfig
	table        table.Model
	nodeTable    table.Model
	vp           viewport.Model
	logs         []string
	nodes        map[string]telemetry.NodeRow
	state        telemetry.NetworkStateRow
	admin        bool
	wrap         bool
	autoscroll   bool
	showNodes    bool
	showMap      bool
	help         bool
	header       string
	headerHeight int
	width        int
	height       int
	inject       Injector
	injectInput  textinput.Model
	injectDialog bool
	lastInject   string
}

func newTUIModel(cfg *config.SimulationConfig) tuiModel {
	if cfg == nil {
		cfg = config.Default()
	}
	cols := []table.Column{
		{Title: "Config", Width: 16},
		{Title: "Value", Width: 10},
		{Title: "Config", Width: 16},
		{Title: "Value", Width: 10},
	}
	rows := []table.Row{
		{"Policy", cfg.Policy, "Nodes", fmt.Sprintf("%d", cfg.Nodes)},
		{"Area (m)", fmt.Sprintf("%.0f", cfg.AreaM), "Max Range (m)", fmt.Sprintf("%.0f", cfg.Radio.MaxRangeM)},
		{"TX Power (dBm)", fmt.Sprintf("%.1f", cfg.Radio.TxPowerDBm), "TTL", fmt.Sprintf("%d", cfg.Traffic.TTL)},
		{"Interval", cfg.Traffic.Interval.String(), "Critical Ratio", fmt.Sprintf("%.2f", cfg.Traffic.CriticalRatio)},
	}
	t := table.New(table.WithColumns(cols), table.WithRows(rows), table.WithHeight(len(rows)+1))
	nt := table.New(table.WithColumns([]table.Column{
		{Title: "Node", Width: 9},
		{Title: "Pos", Width: 11},
		{Title: "Inbox", Width: 6},
		{Title: "Rx", Width: 6},
		{Title: "Tx", Width: 6},
		{Title: "Drop", Width: 6},
		{Title: "App", Width: 6},
	}), table.WithHeight(1))
	return tuiModel{
		cfg:        cfg,
		table:      t,
		nodeTable:  nt,
		vp:         viewport.New(0, 0),
		nodes:      make(map[string]telemetry.NodeRow),
		autoscroll: true,
		showNodes:  true,
	}
}

func (m tuiModel) Init() tea.Cmd { return nil }

func (m tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.table.SetWidth(msg.Width)
		m.vp.Width = msg.Width
		m.header = m.renderHeader()
		m.headerHeight = lipgloss.Height(m.header)
		m.updateViewportHeight()
		m.refreshViewport()
	case tea.KeyMsg:
		if m.injectDialog {
			switch msg.Type {
			case tea.KeyEnter:
				node, payload, ok := parseInjectInput(m.injectInput.Value())
				m.injectDialog = false
				m.updateViewportHeight()
				if ok && m.inject != nil {
					return m, injectCmd(m.inject, node, payload)
				}
				m.lastInject = "expected node,payload"
			case tea.KeyEsc:
				m.injectDialog = false
				m.updateViewportHeight()
			default:
				var cmd tea.Cmd
				m.injectInput, cmd = m.injectInput.Update(msg)
				return m, cmd
			}
			return m, nil
		}
		if m.help {
			switch msg.String() {
			case "?", "h", "esc":
				m.help = false
				m.updateViewportHeight()
			}
			return m, nil
		}
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "w":
			m.wrap = !m.wrap
			m.refreshViewport()
			return m, nil
		case "s":
			m.autoscroll = !m.autoscroll
			if m.autoscroll {
				m.vp.GotoBottom()
			}
			return m, nil
		case "n":
			m.showNodes = !m.showNodes
			m.updateViewportHeight()
			return m, nil
		case "m":
			m.showMap = !m.showMap
			return m, nil
		case "c", "r":
			if m.inject == nil {
				return m, nil
			}
			return m, injectRandomCmd(m.inject, msg.String() == "c")
		case "i":
			if m.inject == nil {
				return m, nil
			}
			m.injectInput = textinput.New()
			m.injectInput.Placeholder = "node,payload"
			m.injectInput.SetValue(fallbackInjectInput)
			m.injectInput.CursorEnd()
			m.injectInput.Focus()
			m.injectDialog = true
			m.updateViewportHeight()
			return m, nil
		case "h", "?":
			m.help = true
			return m, nil
		}
		if !m.autoscroll {
			switch msg.String() {
			case "j", "down":
				m.vp.LineDown(1)
			case "k", "up":
				m.vp.LineUp(1)
			case "pgdown", "ctrl+n":
				m.vp.LineDown(10)
			case "pgup", "ctrl+p":
				m.vp.LineUp(10)
			default:
				var cmd tea.Cmd
				m.vp, cmd = m.vp.Update(msg)
				return m, cmd
			}
		}
		return m, nil
	case logMsg:
		m.logs = append(m.logs, msg.line)
		if len(m.logs) > maxLogLines {
			m.logs = m.logs[len(m.logs)-maxLogLines:]
		}
		m.refreshViewport()
	case nodeMsg:
		for _, r := range msg.rows {
			m.nodes[r.NodeID] = r
		}
		m.refreshNodes()
		m.updateViewportHeight()
	case stateMsg:
		m.state = msg.NetworkStateRow
	case adminMsg:
		m.admin = msg.active
	case setInjectorMsg:
		m.inject = msg.inj
	case injectResultMsg:
		m.lastInject = msg.line
	}
	return m, nil
}

func injectRandomCmd(inj Injector, critical bool) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), injectTimeout)
		defer cancel()
		p, err := inj.InjectRandom(ctx, critical)
		if err != nil {
			return injectResultMsg{line: "inject failed: " + err.Error()}
		}
		return injectResultMsg{line: fmt.Sprintf("%s <- %q", p.SenderID, p.Payload)}
	}
}

func injectCmd(inj Injector, node, payload string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), injectTimeout)
		defer cancel()
		p, err := inj.Inject(ctx, node, payload, "", 0)
		if err != nil {
			return injectResultMsg{line: "inject failed: " + err.Error()}
		}
		return injectResultMsg{line: fmt.Sprintf("%s <- %q", p.SenderID, p.Payload)}
	}
}

// parseInjectInput splits "node,payload"; the payload may itself contain commas.
func parseInjectInput(val string) (string, string, bool) {
	node, payload, ok := strings.Cut(val, ",")
	node = strings.TrimSpace(node)
	payload = strings.TrimSpace(payload)
	if !ok || node == "" || payload == "" {
		return "", "", false
	}
	return node, payload, true
}

func (m *tuiModel) sortedNodes() []telemetry.NodeRow {
	rows := make([]telemetry.NodeRow, 0, len(m.nodes))
	for _, r := range m.nodes {
		rows = append(rows, r)
	}
	sort.Slice(rows, func(i, j int) bool { return nodeLess(rows[i].NodeID, rows[j].NodeID) })
	return rows
}

// nodeLess orders "Node-2" before "Node-10".
func nodeLess(a, b string) bool {
	if len(a) != len(b) {
		return len(a) < len(b)
	}
	return a < b
}

func (m *tuiModel) refreshNodes() {
	var rows []table.Row
	for _, r := range m.sortedNodes() {
		rows = append(rows, table.Row{
			r.NodeID,
			fmt.Sprintf("%.0f,%.0f", r.X, r.Y),
			fmt.Sprintf("%d", r.InboxSize),
			fmt.Sprintf("%d", r.Received),
			fmt.Sprintf("%d", r.Sent),
			fmt.Sprintf("%d", r.Dropped),
			fmt.Sprintf("%d", r.DeliveredToApp),
		})
	}
	m.nodeTable.SetRows(rows)
	h := len(rows) + 1
	if limit := m.maxSectionLines(); h > limit {
		h = limit
	}
	m.nodeTable.SetHeight(h)
}

func (m *tuiModel) updateViewportHeight() {
	bottomHeight := lipgloss.Height(m.renderBottom())
	nodesHeight := 0
	if m.showNodes {
		nodesHeight = lipgloss.Height(m.nodeTable.View()) + 1
	}
	dialogHeight := 0
	if m.injectDialog {
		dialogHeight = 2
	}
	h := m.height - m.headerHeight - bottomHeight - nodesHeight - dialogHeight - 3
	if h < 0 {
		h = 0
	}
	m.vp.Height = h
	if m.autoscroll {
		m.vp.GotoBottom()
	}
}

func (m *tuiModel) refreshViewport() {
	var lines []string
	for _, l := range m.logs {
		if m.wrap {
			lines = append(lines, wordwrap.String(l, m.vp.Width))
		} else {
			lines = append(lines, l)
		}
	}
	m.vp.SetContent(strings.Join(lines, "\n"))
	if m.autoscroll {
		m.vp.GotoBottom()
	}
}

func (m tuiModel) maxSectionLines() int {
	h := int(float64(m.height) * maxSectionHeightPct)
	if h < 2 {
		h = 2
	}
	return h
}

func (m tuiModel) View() string {
	if m.help {
		return m.renderHelp()
	}
	divider := strings.Repeat("─", m.vp.Width)
	sections := []string{m.header, divider}
	if m.showMap {
		sections = append(sections, m.renderMap())
	} else {
		sections = append(sections, m.vp.View())
	}
	if m.showNodes {
		sections = append(sections, divider, m.nodeTable.View())
	}
	if m.injectDialog {
		sections = append(sections, divider, "Inject: "+m.injectInput.View())
	}
	sections = append(sections, divider, m.renderBottom())
	return strings.Join(sections, "\n")
}

func (m tuiModel) renderHeader() string {
	title := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")).Render("Mesh Network")
	sc := m.cfg.Traffic.Scenario
	if m.cfg.Traffic.ScenarioFile != "" {
		sc = m.cfg.Traffic.ScenarioFile
	}
	info := fmt.Sprintf("%s\nscenario: %s\nduration: %s\nsettle: %s", title, sc, m.cfg.Duration, m.cfg.Settle)
	sep := lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Render("│")
	return lipgloss.JoinHorizontal(lipgloss.Top, m.table.View(), sep, info)
}

func indicator(on bool) string {
	c := lipgloss.Color("9")
	if on {
		c = lipgloss.Color("10")
	}
	return lipgloss.NewStyle().Foreground(c).Render("●")
}

func (m tuiModel) renderBottom() string {
	state := fmt.Sprintf("%sSTATE%s %spolicy=%s%s %stx=%d%s %scollisions=%d%s %sout_of_range=%d%s",
		colorBlue, colorReset,
		colorCyan, m.state.Policy, colorReset,
		colorGreen, m.state.Transmissions, colorReset,
		colorRed, m.state.Collisions, colorReset,
		colorYellow, m.state.DroppedOutOfRange, colorReset)
	line := fmt.Sprintf("%s | Admin %s | Wrap %s | Scroll %s | Nodes %s | Map %s | Inject %s",
		state, indicator(m.admin), indicator(m.wrap), indicator(m.autoscroll),
		indicator(m.showNodes), indicator(m.showMap), indicator(m.inject != nil))
	if m.lastInject != "" {
		line = fmt.Sprintf("%s\n%slast inject: %s%s", line, colorGray, m.lastInject, colorReset)
	}
	return line
}

func (m tuiModel) renderHelp() string {
	lines := []string{
		"Key Bindings:",
		" q  quit",
		" w  toggle wrap for the event log",
		" s  toggle auto-scroll",
		" n  toggle node table",
		" m  toggle map view",
		" c  inject a critical message at a random node",
		" r  inject a routine message at a random node",
		" i  inject a custom payload (node,payload)",
		" j/k or arrows  scroll when auto-scroll is off",
		" h/?  close help",
	}
	return strings.Join(lines, "\n")
}

// renderMap plots node positions on a character grid scaled to the
// simulation area. Nodes are colored by their inbox congestion.
func (m tuiModel) renderMap() string {
	w, h := m.vp.Width, m.vp.Height
	if w < 2 || h < 2 {
		return ""
	}
	grid := make([][]string, h)
	for y := range grid {
		grid[y] = make([]string, w)
		for x := range grid[y] {
			grid[y][x] = " "
		}
	}
	area := m.cfg.AreaM
	if area <= 0 {
		area = 1
	}
	for _, r := range m.sortedNodes() {
		x := int(math.Round(r.X / area * float64(w-1)))
		y := int(math.Round(r.Y / area * float64(h-1)))
		if x < 0 || x >= w || y < 0 || y >= h {
			continue
		}
		c := congestionColor(string(mesh.ClassifyCongestion(r.InboxSize)))
		grid[y][x] = c + "●" + colorReset
	}
	lines := make([]string, h)
	for y := range grid {
		lines[y] = strings.Join(grid[y], "")
	}
	return strings.Join(lines, "\n")
}
