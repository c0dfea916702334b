// Package tui is a terminal file picker over a workspace.
//
// The model only moves a cursor and renders; selection, validation and
// builds go through the workspace's engine and pipeline.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/dustin/go-humanize"

	"github.com/fyrsmithlabs/ctxpack/internal/assembly"
	"github.com/fyrsmithlabs/ctxpack/internal/backend"
	"github.com/fyrsmithlabs/ctxpack/internal/filetree"
	"github.com/fyrsmithlabs/ctxpack/internal/selection"
	"github.com/fyrsmithlabs/ctxpack/internal/workspace"
)

const (
	historySize     = 30
	maxPreviewLines = 5000
	headerLines     = 2
	footerLines     = 7
)

// Model is the bubbletea model of the picker.
type Model struct {
	ctx      context.Context
	ws       *workspace.Workspace
	opts     backend.BuildOptions
	sampler  assembly.HeapSampler
	interval time.Duration

	keys     keyMap
	help     help.Model
	tokenBar progress.Model
	preview  viewport.Model

	rows       []filetree.Row
	cursor     int
	offset     int
	width      int
	height     int
	validation assembly.ValidationResult

	status     string
	statusErr  bool
	building   bool
	previewing bool
	quitting   bool

	heapHistory []float64
}

// Option configures a Model.
type Option func(*Model)

// WithBuildOptions sets the options used by the build key.
func WithBuildOptions(opts backend.BuildOptions) Option {
	return func(m *Model) { m.opts = opts }
}

// WithHeapSampler samples heap usage into the footer sparkline.
func WithHeapSampler(p assembly.HeapSampler) Option {
	return func(m *Model) { m.sampler = p }
}

// WithInterval sets the refresh tick. Defaults to one second.
func WithInterval(d time.Duration) Option {
	return func(m *Model) {
		if d > 0 {
			m.interval = d
		}
	}
}

// WithContext bounds builds and content reads.
func WithContext(ctx context.Context) Option {
	return func(m *Model) {
		if ctx != nil {
			m.ctx = ctx
		}
	}
}

// NewModel creates a picker for ws.
func NewModel(ws *workspace.Workspace, opts ...Option) Model {
	m := Model{
		ctx:      context.Background(),
		ws:       ws,
		opts:     backend.DefaultBuildOptions(),
		interval: time.Second,
		keys:     defaultKeyMap(),
		help:     help.New(),
		tokenBar: progress.New(
			progress.WithGradient("#00ff00", "#ff0000"),
			progress.WithWidth(30),
		),
		preview:     viewport.New(80, 20),
		heapHistory: make([]float64, 0, historySize),
	}
	for _, opt := range opts {
		opt(&m)
	}
	m.reload()
	m.validate()
	return m
}

type (
	tickMsg      time.Time
	buildDoneMsg struct {
		summary *backend.ContextSummary
		err     error
	}
	contentMsg struct {
		text  string
		lines int
		err   error
	}
	refreshDoneMsg struct {
		dropped []string
		err     error
	}
)

// Init starts the refresh tick.
func (m Model) Init() tea.Cmd {
	return tick(m.interval)
}

func tick(interval time.Duration) tea.Cmd {
	return tea.Tick(interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// appendToHistory appends a value, keeping the last historySize values.
func appendToHistory(history []float64, value float64) []float64 {
	history = append(history, value)
	if len(history) > historySize {
		history = history[1:]
	}
	return history
}

// reload rebuilds the visible rows and keeps the cursor on the same path
// when it is still visible.
func (m *Model) reload() {
	var keep string
	if n := m.current(); n != nil {
		keep = n.Path
	}
	eng := m.ws.Engine()
	m.rows = filetree.FlattenForDisplay(m.ws.Index().Roots(), eng.IsExpanded)
	for i, r := range m.rows {
		if r.Node.Path == keep {
			m.cursor = i
			break
		}
	}
	m.clamp()
}

func (m *Model) validate() {
	m.validation = m.ws.Validate(m.ctx)
}

func (m *Model) current() *filetree.FileNode {
	if m.cursor < 0 || m.cursor >= len(m.rows) {
		return nil
	}
	return m.rows[m.cursor].Node
}

func (m *Model) listHeight() int {
	if m.height <= 0 {
		return 20
	}
	if h := m.height - headerLines - footerLines; h > 3 {
		return h
	}
	return 3
}

func (m *Model) clamp() {
	if m.cursor >= len(m.rows) {
		m.cursor = len(m.rows) - 1
	}
	if m.cursor < 0 {
		m.cursor = 0
	}
	h := m.listHeight()
	if m.cursor < m.offset {
		m.offset = m.cursor
	}
	if m.cursor >= m.offset+h {
		m.offset = m.cursor - h + 1
	}
	if m.offset < 0 {
		m.offset = 0
	}
}

func (m *Model) setStatus(msg string, isErr bool) {
	m.status = msg
	m.statusErr = isErr
}

// apply reports the outcome of an engine call and refreshes derived state.
func (m *Model) apply(res selection.Result) {
	switch {
	case res.Err != nil:
		m.setStatus(res.Err.Error(), true)
	case res.Warning != nil:
		m.setStatus(res.Warning.Error(), true)
	default:
		m.setStatus(fmt.Sprintf("%d changed", res.AffectedCount), false)
	}
	m.reload()
	m.validate()
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.preview.Width = msg.Width
		m.preview.Height = m.listHeight()
		if w := msg.Width - 50; w > 10 {
			m.tokenBar.Width = min(w, 40)
		}
		m.help.Width = msg.Width
		m.clamp()
		return m, nil

	case tea.KeyMsg:
		if m.previewing {
			return m.updatePreview(msg)
		}
		return m.updateTree(msg)

	case tickMsg:
		if m.sampler != nil {
			if heap, err := m.sampler.HeapBytes(); err == nil {
				m.heapHistory = appendToHistory(m.heapHistory, float64(heap)/(1<<20))
			}
		}
		return m, tick(m.interval)

	case buildDoneMsg:
		m.building = false
		if msg.err != nil {
			var ve *assembly.ValidationError
			if errors.As(msg.err, &ve) {
				m.setStatus("cannot build: "+strings.Join(ve.Result.Errors, "; "), true)
			} else {
				m.setStatus("build failed: "+msg.err.Error(), true)
			}
			return m, nil
		}
		s := msg.summary
		m.setStatus(fmt.Sprintf("built %s: %d files, %s lines, ~%s tokens",
			s.ID, s.FileCount, humanize.Comma(int64(s.LineCount)), humanize.Comma(int64(s.TokenCount))), false)
		return m, nil

	case contentMsg:
		if msg.err != nil {
			m.setStatus(msg.err.Error(), true)
			return m, nil
		}
		m.preview.SetContent(msg.text)
		m.preview.GotoTop()
		m.previewing = true
		return m, nil

	case refreshDoneMsg:
		if msg.err != nil {
			m.setStatus("rescan failed: "+msg.err.Error(), true)
			return m, nil
		}
		m.reload()
		m.validate()
		m.setStatus(fmt.Sprintf("rescanned, %d selected file(s) dropped", len(msg.dropped)), len(msg.dropped) > 0)
		return m, nil
	}
	return m, nil
}

func (m Model) updatePreview(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Back), key.Matches(msg, m.keys.Preview), msg.String() == "q":
		m.previewing = false
		return m, nil
	case msg.String() == "ctrl+c":
		m.quitting = true
		return m, tea.Quit
	}
	var cmd tea.Cmd
	m.preview, cmd = m.preview.Update(msg)
	return m, cmd
}

func (m Model) updateTree(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	eng := m.ws.Engine()
	n := m.current()

	switch {
	case key.Matches(msg, m.keys.Quit):
		m.quitting = true
		return m, tea.Quit
	case key.Matches(msg, m.keys.Help):
		m.help.ShowAll = !m.help.ShowAll
	case key.Matches(msg, m.keys.Up):
		m.cursor--
	case key.Matches(msg, m.keys.Down):
		m.cursor++
	case key.Matches(msg, m.keys.PageUp):
		m.cursor -= m.listHeight()
	case key.Matches(msg, m.keys.PageDown):
		m.cursor += m.listHeight()
	case key.Matches(msg, m.keys.Top):
		m.cursor = 0
	case key.Matches(msg, m.keys.Bottom):
		m.cursor = len(m.rows) - 1

	case key.Matches(msg, m.keys.Toggle):
		if n == nil {
			break
		}
		if n.IsDir {
			m.apply(eng.ToggleDirectory(n.Path))
		} else {
			m.apply(eng.ToggleLeaf(n.Path))
		}
	case key.Matches(msg, m.keys.Expand):
		if n != nil && n.IsDir && !eng.IsExpanded(n.Path) {
			m.apply(eng.Expand(n.Path))
		}
	case key.Matches(msg, m.keys.Collapse):
		if n == nil {
			break
		}
		if n.IsDir && eng.IsExpanded(n.Path) {
			m.apply(eng.Collapse(n.Path))
			break
		}
		if parent, ok := m.ws.Index().Parent(n.Path); ok {
			for i, r := range m.rows {
				if r.Node.Path == parent {
					m.cursor = i
					break
				}
			}
		}
	case key.Matches(msg, m.keys.SelectAll):
		if n != nil {
			m.apply(eng.SelectRecursive(n.Path))
		}
	case key.Matches(msg, m.keys.DeselectAll):
		if n != nil {
			m.apply(eng.DeselectRecursive(n.Path))
		}
	case key.Matches(msg, m.keys.Clear):
		m.apply(eng.Clear())

	case key.Matches(msg, m.keys.Build):
		if m.building {
			m.setStatus("a build is already running", true)
			break
		}
		m.building = true
		m.setStatus("building...", false)
		return m, m.buildCmd()
	case key.Matches(msg, m.keys.Preview):
		return m, m.contentCmd()
	case key.Matches(msg, m.keys.Refresh):
		return m, m.refreshCmd()
	}

	m.clamp()
	return m, nil
}

func (m Model) buildCmd() tea.Cmd {
	ctx, ws, opts := m.ctx, m.ws, m.opts
	return func() tea.Msg {
		sum, err := ws.Build(ctx, opts)
		return buildDoneMsg{summary: sum, err: err}
	}
}

// contentCmd reads the current context page by page, up to maxPreviewLines.
func (m Model) contentCmd() tea.Cmd {
	ctx, p := m.ctx, m.ws.Pipeline()
	return func() tea.Msg {
		var b strings.Builder
		start := 0
		for start < maxPreviewLines {
			chunk, err := p.GetContent(ctx, start, 0)
			if err != nil {
				return contentMsg{err: err}
			}
			for _, l := range chunk.Lines {
				b.WriteString(l)
				b.WriteByte('\n')
			}
			start += len(chunk.Lines)
			if !chunk.HasMore || len(chunk.Lines) == 0 {
				break
			}
		}
		return contentMsg{text: b.String(), lines: start}
	}
}

func (m Model) refreshCmd() tea.Cmd {
	ctx, ws := m.ctx, m.ws
	return func() tea.Msg {
		dropped, err := ws.Refresh(ctx)
		return refreshDoneMsg{dropped: dropped, err: err}
	}
}
