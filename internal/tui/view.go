package tui

import (
	"fmt"
	"strings"

	"github.com/NimbleMarkets/ntcharts/sparkline"
	"github.com/dustin/go-humanize"

	"github.com/fyrsmithlabs/ctxpack/internal/assembly"
	"github.com/fyrsmithlabs/ctxpack/internal/filetree"
	"github.com/fyrsmithlabs/ctxpack/internal/selection"
)

const (
	sparklineWidth  = 30
	sparklineHeight = 1
)

// View renders the picker.
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	var b strings.Builder
	b.WriteString(m.renderHeader())
	b.WriteString("\n\n")
	if m.previewing {
		b.WriteString(m.preview.View())
		b.WriteString("\n")
		b.WriteString(footerStyle.Render(fmt.Sprintf("preview %3.f%%  esc back", m.preview.ScrollPercent()*100)))
		return b.String()
	}
	b.WriteString(m.renderRows())
	b.WriteString(m.renderFooter())
	return b.String()
}

func (m Model) renderHeader() string {
	p := m.ws.Pipeline()
	return headerStyle.Render(" ctxpack ") + " " +
		dimStyle.Render(m.ws.Root()) + "   " +
		statusBadge(p.Status())
}

func statusBadge(s assembly.Status) string {
	switch {
	case s == assembly.StatusReady:
		return healthyStyle.Render("✓ " + string(s))
	case s == assembly.StatusError:
		return errorStyle.Render("✗ " + string(s))
	case s.IsActive():
		return warningStyle.Render("⚠ " + string(s))
	}
	return dimStyle.Render(string(s))
}

func marker(st selection.State) string {
	switch st {
	case selection.Full:
		return healthyStyle.Render("[x]")
	case selection.Partial:
		return warningStyle.Render("[~]")
	}
	return dimStyle.Render("[ ]")
}

// guides draws the tree connectors in front of a row.
func guides(r filetree.Row) string {
	var b strings.Builder
	for i := 0; i < r.Depth && i < len(r.AncestorHasMoreSiblings); i++ {
		if r.AncestorHasMoreSiblings[i] {
			b.WriteString("│  ")
		} else {
			b.WriteString("   ")
		}
	}
	if r.IsLast {
		b.WriteString("└─ ")
	} else {
		b.WriteString("├─ ")
	}
	return b.String()
}

func (m Model) renderRow(i int) string {
	r := m.rows[i]
	n := r.Node
	eng := m.ws.Engine()

	box := marker(eng.State(n.Path))
	name := n.Name
	switch {
	case n.IsIgnored():
		box = dimStyle.Render("[-]")
		name = ignoredStyle.Render(name)
	case n.IsDir:
		arrow := "▸ "
		if eng.IsExpanded(n.Path) {
			arrow = "▾ "
		}
		name = dirStyle.Render(arrow+name+"/") + dimStyle.Render(fmt.Sprintf(" %d", m.ws.Index().LeafCount(n.Path)))
	case n.IsBinary:
		name = ignoredStyle.Render(name + " (binary)")
	default:
		name += dimStyle.Render(" " + humanize.IBytes(uint64(n.Size)))
	}

	line := dimStyle.Render(guides(r)) + box + " " + name
	if i == m.cursor {
		return cursorStyle.Render(">") + line
	}
	return " " + line
}

func (m Model) renderRows() string {
	var b strings.Builder
	h := m.listHeight()
	end := min(m.offset+h, len(m.rows))
	for i := m.offset; i < end; i++ {
		b.WriteString(m.renderRow(i))
		b.WriteString("\n")
	}
	for i := end - m.offset; i < h; i++ {
		b.WriteString("\n")
	}
	return b.String()
}

func (m Model) tokenRatio() float64 {
	limit := m.ws.Pipeline().Config().TokenLimit
	if limit <= 0 {
		return 0
	}
	return min(float64(m.validation.EstimatedTokens)/float64(limit), 1)
}

func (m Model) renderFooter() string {
	eng := m.ws.Engine()
	v := m.validation

	var b strings.Builder
	b.WriteString(labelStyle.Render("Selected: ") +
		valueStyle.Render(fmt.Sprintf("%d", eng.SelectedCount())) +
		dimStyle.Render(" files  ") +
		valueStyle.Render(humanize.IBytes(uint64(eng.SelectedSize()))) +
		dimStyle.Render("  ~") +
		valueStyle.Render(humanize.Comma(int64(v.EstimatedTokens))) +
		dimStyle.Render(" tokens"))
	b.WriteString("\n")

	ratio := m.tokenRatio()
	b.WriteString(labelStyle.Render("Budget:   ") + m.tokenBar.ViewAs(ratio) + " " +
		dimStyle.Render(fmt.Sprintf("%.0f%%", ratio*100)))
	if len(m.heapHistory) > 0 {
		b.WriteString("   " + labelStyle.Render("Heap: ") + renderSparkline(m.heapHistory) +
			dimStyle.Render(fmt.Sprintf(" %.0f MiB", m.heapHistory[len(m.heapHistory)-1])))
	}
	b.WriteString("\n")

	switch {
	case len(v.Errors) > 0:
		b.WriteString(errorStyle.Render("✗ " + v.Errors[0]))
	case len(v.Warnings) > 0:
		b.WriteString(warningStyle.Render("⚠ " + v.Warnings[0]))
	case v.IsValid:
		b.WriteString(healthyStyle.Render("✓ ready to build"))
	}
	b.WriteString("\n")

	if m.status != "" {
		if m.statusErr {
			b.WriteString(errorStyle.Render(m.status))
		} else {
			b.WriteString(valueStyle.Render(m.status))
		}
	}
	b.WriteString("\n")
	b.WriteString(footerStyle.Render(m.help.View(m.keys)))
	return b.String()
}

func renderSparkline(data []float64) string {
	spark := sparkline.New(sparklineWidth, sparklineHeight)
	for _, v := range data {
		spark.Push(v)
	}
	spark.Draw()
	return sparklineStyle.Render(spark.View())
}
