package display

import (
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/mattn/go-isatty"
	"golang.org/x/term"
)

// Alignment represents column alignment options
type Alignment int

const (
	AlignLeft Alignment = iota
	AlignRight
)

const cellPadding = 1

// Table renders rows of text in an ASCII grid
type Table struct {
	headers     []string
	rows        [][]string
	alignments  map[int]Alignment
	maxWidth    int
	colorSystem ColorSystem
}

// NewTable creates a table; maxWidth <= 0 disables width fitting
func NewTable(headers []string, colorSystem ColorSystem, maxWidth int) *Table {
	return &Table{
		headers:     headers,
		alignments:  make(map[int]Alignment),
		maxWidth:    maxWidth,
		colorSystem: colorSystem,
	}
}

// AddRow adds a row to the table
func (t *Table) AddRow(cells ...string) {
	t.rows = append(t.rows, cells)
}

// SetAlignment sets the alignment for a column
func (t *Table) SetAlignment(column int, alignment Alignment) {
	t.alignments[column] = alignment
}

// Render returns the formatted table as a string
func (t *Table) Render() string {
	if len(t.headers) == 0 && len(t.rows) == 0 {
		return ""
	}

	widths := t.fitWidths(t.columnWidths())
	border := t.border(widths)

	var b strings.Builder
	b.WriteString(border)
	if len(t.headers) > 0 {
		b.WriteString(t.renderRow(t.headers, widths, true))
		b.WriteString(border)
	}
	for _, row := range t.rows {
		b.WriteString(t.renderRow(row, widths, false))
	}
	b.WriteString(border)
	return b.String()
}

// RenderTo renders the table to the specified writer
func (t *Table) RenderTo(w io.Writer) {
	fmt.Fprint(w, t.Render())
}

func (t *Table) columnCount() int {
	n := len(t.headers)
	for _, row := range t.rows {
		if len(row) > n {
			n = len(row)
		}
	}
	return n
}

// columnWidths returns content widths, without padding
func (t *Table) columnWidths() []int {
	widths := make([]int, t.columnCount())
	measure := func(row []string) {
		for i, cell := range row {
			if w := utf8.RuneCountInString(cell); w > widths[i] {
				widths[i] = w
			}
		}
	}
	measure(t.headers)
	for _, row := range t.rows {
		measure(row)
	}
	return widths
}

// fitWidths shrinks the widest column first until the table fits maxWidth
func (t *Table) fitWidths(widths []int) []int {
	if t.maxWidth <= 0 || len(widths) == 0 {
		return widths
	}
	const minWidth = 4
	for t.totalWidth(widths) > t.maxWidth {
		widest := 0
		for i, w := range widths {
			if w > widths[widest] {
				widest = i
			}
		}
		if widths[widest] <= minWidth {
			break
		}
		widths[widest]--
	}
	return widths
}

func (t *Table) totalWidth(widths []int) int {
	total := len(widths) + 1
	for _, w := range widths {
		total += w + cellPadding*2
	}
	return total
}

func (t *Table) border(widths []int) string {
	var b strings.Builder
	b.WriteString("+")
	for _, w := range widths {
		b.WriteString(strings.Repeat("-", w+cellPadding*2))
		b.WriteString("+")
	}
	b.WriteString("\n")
	return b.String()
}

func (t *Table) renderRow(row []string, widths []int, header bool) string {
	var b strings.Builder
	b.WriteString("|")
	for i, width := range widths {
		var cell string
		if i < len(row) {
			cell = row[i]
		}
		cell = truncate(cell, width)

		pad := strings.Repeat(" ", width-utf8.RuneCountInString(cell))
		if header && t.colorSystem != nil {
			cell = t.colorSystem.Colorize(cell, t.colorSystem.Theme().Primary)
		}

		b.WriteString(strings.Repeat(" ", cellPadding))
		if t.alignments[i] == AlignRight {
			b.WriteString(pad + cell)
		} else {
			b.WriteString(cell + pad)
		}
		b.WriteString(strings.Repeat(" ", cellPadding))
		b.WriteString("|")
	}
	b.WriteString("\n")
	return b.String()
}

func truncate(s string, width int) string {
	if utf8.RuneCountInString(s) <= width {
		return s
	}
	runes := []rune(s)
	if width > 3 {
		return string(runes[:width-3]) + "..."
	}
	return string(runes[:width])
}

// tableWidth caps configured width at the terminal width when stdout is a terminal
func tableWidth(configured int) int {
	fd := os.Stdout.Fd()
	if !isatty.IsTerminal(fd) {
		return configured
	}
	width, _, err := term.GetSize(int(fd))
	if err != nil || width <= 0 {
		return configured
	}
	if configured <= 0 || width < configured {
		return width
	}
	return configured
}
