// Package termview draws a session's screen model into a terminal with
// lipgloss styles. It is the frontend CLI's stand-in for a native window.
package termview

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"pkt.systems/vimgrid/internal/drawcmd"
	"pkt.systems/vimgrid/internal/screen"
)

// cellStyle is the part of a cell that decides how it is painted.
type cellStyle struct {
	fg, bg, sp uint32
	flags      drawcmd.DrawFlags
	reverse    bool
}

func styleOf(cell screen.Cell, cursor bool) cellStyle {
	return cellStyle{
		fg:      cell.FG,
		bg:      cell.BG,
		sp:      cell.SP,
		flags:   cell.Flags &^ (drawcmd.FlagWide | drawcmd.FlagComposing | drawcmd.FlagCursor),
		reverse: cell.Inverted != cursor,
	}
}

func hexColor(rgb uint32) lipgloss.Color {
	return lipgloss.Color(fmt.Sprintf("#%06x", rgb&0xffffff))
}

func (c cellStyle) style(r *lipgloss.Renderer) lipgloss.Style {
	st := r.NewStyle().
		Foreground(hexColor(c.fg)).
		Background(hexColor(c.bg))
	if c.flags.Has(drawcmd.FlagTransparent) {
		st = st.UnsetBackground()
	}
	if c.flags.Has(drawcmd.FlagBold) {
		st = st.Bold(true)
	}
	if c.flags.Has(drawcmd.FlagItalic) {
		st = st.Italic(true)
	}
	if c.flags.Has(drawcmd.FlagUnderline) || c.flags.Has(drawcmd.FlagUndercurl) {
		st = st.Underline(true)
	}
	if c.flags.Has(drawcmd.FlagStrikethrough) {
		st = st.Strikethrough(true)
	}
	if c.reverse {
		st = st.Reverse(true)
	}
	return st
}

// RenderRow paints one grid row. Adjacent cells sharing a style are emitted
// as one run. A visible cursor on the row is drawn reversed.
func RenderRow(r *lipgloss.Renderer, scr *screen.Screen, row int) string {
	_, cols := scr.Size()
	cur := scr.Cursor()
	var (
		out  strings.Builder
		run  strings.Builder
		prev cellStyle
		open bool
	)
	emit := func() {
		if open {
			out.WriteString(prev.style(r).Render(run.String()))
			run.Reset()
		}
	}
	for col := 0; col < cols; col++ {
		cell, _ := scr.Cell(row, col)
		if cell.Continuation {
			continue
		}
		st := styleOf(cell, cur.Visible && cur.Row == row && cur.Col == col)
		if !open || st != prev {
			emit()
			prev, open = st, true
		}
		if cell.Text == "" {
			run.WriteByte(' ')
		} else {
			run.WriteString(cell.Text)
		}
	}
	emit()
	return out.String()
}

// RenderGrid paints every row of the grid.
func RenderGrid(r *lipgloss.Renderer, scr *screen.Screen) string {
	rows, _ := scr.Size()
	lines := make([]string, rows)
	for row := range lines {
		lines[row] = RenderRow(r, scr, row)
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

// RenderTabs paints the tab bar truncated to width cells.
func RenderTabs(r *lipgloss.Renderer, tabs []screen.Tab, selected, width int) string {
	if len(tabs) == 0 || width <= 0 {
		return ""
	}
	normal := r.NewStyle().Foreground(lipgloss.Color("245")).Padding(0, 1)
	active := r.NewStyle().Bold(true).Reverse(true).Padding(0, 1)
	parts := make([]string, 0, len(tabs))
	used := 0
	for i, tab := range tabs {
		label := tab.Label
		if tab.Modified {
			label += " +"
		}
		st := normal
		if i == selected {
			st = active
		}
		part := st.Render(label)
		w := lipgloss.Width(part)
		if used+w > width {
			if left := width - used - 2; left > 0 {
				parts = append(parts, st.Render(runewidth.Truncate(label, left, "…")))
			}
			break
		}
		parts = append(parts, part)
		used += w
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, parts...)
}

// RenderTitle paints the title line truncated to width cells.
func RenderTitle(r *lipgloss.Renderer, title string, width int) string {
	if width <= 0 {
		return ""
	}
	return r.NewStyle().Bold(true).Render(runewidth.Truncate(title, width, "…"))
}
