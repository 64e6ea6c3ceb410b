package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
)

// table prints aligned columns with a highlighted header. Colors follow
// color.NoColor, which --no-ansi sets.
type table struct {
	writer  io.Writer
	headers []string
	rows    [][]string
}

func newTable(w io.Writer, headers ...string) *table {
	return &table{writer: w, headers: headers}
}

func (t *table) addRow(cells ...string) {
	t.rows = append(t.rows, cells)
}

func (t *table) render() {
	if len(t.rows) == 0 {
		return
	}
	widths := make([]int, len(t.headers))
	for i, header := range t.headers {
		widths[i] = len(header)
	}
	for _, row := range t.rows {
		for i, cell := range row {
			if i < len(widths) && len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}

	bold := color.New(color.Bold, color.FgCyan)
	for i, header := range t.headers {
		bold.Fprint(t.writer, padRight(header, widths[i]))
		if i < len(t.headers)-1 {
			fmt.Fprint(t.writer, "  ")
		}
	}
	fmt.Fprintln(t.writer)
	gray := color.New(color.FgHiBlack)
	for i, width := range widths {
		gray.Fprint(t.writer, strings.Repeat("-", width))
		if i < len(widths)-1 {
			fmt.Fprint(t.writer, "  ")
		}
	}
	fmt.Fprintln(t.writer)
	for _, row := range t.rows {
		for i, cell := range row {
			if i >= len(widths) {
				break
			}
			if i == len(row)-1 {
				fmt.Fprint(t.writer, cell)
				continue
			}
			fmt.Fprint(t.writer, padRight(cell, widths[i]), "  ")
		}
		fmt.Fprintln(t.writer)
	}
}

func padRight(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return s + strings.Repeat(" ", width-len(s))
}
