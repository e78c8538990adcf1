// Package format renders control-loop state as terminal, Markdown or CSV
// tables for the CLI.
package format

import (
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// Mode selects how a Table renders.
type Mode int

const (
	ASCII    Mode = iota // box-drawn terminal table
	Markdown             // GitHub-flavoured Markdown
	CSV                  // comma separated, for spreadsheets
)

// ParseMode maps a --format value to a Mode.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "table", "ascii":
		return ASCII, nil
	case "markdown", "md":
		return Markdown, nil
	case "csv":
		return CSV, nil
	default:
		return ASCII, fmt.Errorf("unknown table format %q (want table, markdown or csv)", s)
	}
}

// Table accumulates rows and renders them in one Mode.
type Table struct {
	w       table.Writer
	mode    Mode
	columns map[int]table.ColumnConfig
}

// NewTable returns an empty table for m.
func NewTable(m Mode) *Table {
	w := table.NewWriter()
	if m == ASCII {
		w.SetStyle(table.StyleLight)
	}
	return &Table{w: w, mode: m, columns: make(map[int]table.ColumnConfig)}
}

// Header sets the column titles.
func (t *Table) Header(cols ...string) {
	row := make(table.Row, len(cols))
	for i, c := range cols {
		row[i] = c
	}
	t.w.AppendHeader(row)
}

// Row appends one row; values are printed with fmt.
func (t *Table) Row(vals ...any) { t.w.AppendRow(table.Row(vals)) }

// Footer appends a summary row.
func (t *Table) Footer(vals ...any) { t.w.AppendFooter(table.Row(vals)) }

// AlignRight right-aligns the given 1-based columns, for numbers.
func (t *Table) AlignRight(cols ...int) {
	for _, n := range cols {
		c := t.column(n)
		c.Align = text.AlignRight
		t.columns[n] = c
	}
}

// Wrap caps column n at width characters, wrapping longer cells.
func (t *Table) Wrap(n, width int) {
	c := t.column(n)
	c.WidthMax = width
	t.columns[n] = c
}

func (t *Table) column(n int) table.ColumnConfig {
	if c, ok := t.columns[n]; ok {
		return c
	}
	return table.ColumnConfig{Number: n}
}

// String renders the table.
func (t *Table) String() string {
	if len(t.columns) > 0 {
		cfgs := make([]table.ColumnConfig, 0, len(t.columns))
		for _, c := range t.columns {
			cfgs = append(cfgs, c)
		}
		t.w.SetColumnConfigs(cfgs)
	}
	switch t.mode {
	case Markdown:
		return t.w.RenderMarkdown()
	case CSV:
		return t.w.RenderCSV()
	default:
		return t.w.Render()
	}
}
