// Package table renders query results as fixed-width text tables.
package table

import (
	"strings"
	"unicode"

	"golang.org/x/text/width"
)

// Table is a set of rows under named columns.
type Table struct {
	Columns []string
	Rows    [][]string
}

// Render formats the table with box borders:
//
//	+---------+-------+
//	| Command | Count |
//	+---------+-------+
//	| help    | 10    |
//	+---------+-------+
//
// Rows shorter than the header are padded with empty cells; longer rows are
// truncated to the header.
func (t *Table) Render() string {
	if len(t.Columns) == 0 {
		return ""
	}
	w := make([]int, len(t.Columns))
	for i, c := range t.Columns {
		w[i] = Width(c)
	}
	for _, r := range t.Rows {
		for i := range min(len(r), len(w)) {
			w[i] = max(w[i], Width(r[i]))
		}
	}
	var b strings.Builder
	rule(&b, w)
	line(&b, w, t.Columns)
	rule(&b, w)
	for _, r := range t.Rows {
		line(&b, w, r)
	}
	if len(t.Rows) > 0 {
		rule(&b, w)
	}
	return b.String()
}

func rule(b *strings.Builder, w []int) {
	b.WriteByte('+')
	for _, n := range w {
		b.WriteString(strings.Repeat("-", n+2))
		b.WriteByte('+')
	}
	b.WriteByte('\n')
}

func line(b *strings.Builder, w []int, cells []string) {
	b.WriteByte('|')
	for i, n := range w {
		var s string
		if i < len(cells) {
			s = cells[i]
		}
		b.WriteByte(' ')
		b.WriteString(s)
		b.WriteString(strings.Repeat(" ", n-Width(s)+1))
		b.WriteByte('|')
	}
	b.WriteByte('\n')
}

// Width returns the number of monospace cells s occupies.
// East Asian wide and fullwidth runes take two cells; combining marks and
// other zero-width runes take none.
func Width(s string) int {
	n := 0
	for _, r := range s {
		switch {
		case unicode.Is(unicode.Mn, r), unicode.Is(unicode.Me, r), unicode.Is(unicode.Cf, r):
			// zero width
		default:
			switch width.LookupRune(r).Kind() {
			case width.EastAsianWide, width.EastAsianFullwidth:
				n += 2
			default:
				n++
			}
		}
	}
	return n
}
