package formatter

import (
	"strconv"
	"strings"

	"github.com/mattn/go-runewidth"

	"github.com/tjfontaine/console-bridge/internal/core/domain"
)

// tableRows extracts rows for console.table. It accepts an array whose
// first item is an object or array; rows of other types contribute no
// columns and render empty cells.
func tableRows(args []domain.Value) ([]string, [][]string, bool) {
	if len(args) == 0 || args[0].Type != domain.TypeArray || len(args[0].Items) == 0 {
		return nil, nil, false
	}
	items := args[0].Items
	if t := items[0].Type; t != domain.TypeObject && t != domain.TypeArray {
		return nil, nil, false
	}

	var columns []string
	seen := make(map[string]bool)
	rows := make([]map[string]string, len(items))
	for i, item := range items {
		cells := make(map[string]string)
		switch item.Type {
		case domain.TypeObject:
			for _, f := range item.Fields {
				cells[f.Key] = cellText(f.Value)
				if !seen[f.Key] {
					seen[f.Key] = true
					columns = append(columns, f.Key)
				}
			}
		case domain.TypeArray:
			for j, v := range item.Items {
				key := strconv.Itoa(j)
				cells[key] = cellText(v)
				if !seen[key] {
					seen[key] = true
					columns = append(columns, key)
				}
			}
		}
		rows[i] = cells
	}

	out := make([][]string, len(rows))
	for i, cells := range rows {
		out[i] = make([]string, len(columns))
		for j, col := range columns {
			out[i][j] = cells[col]
		}
	}
	return columns, out, true
}

func cellText(v domain.Value) string {
	return strings.ReplaceAll(plain(v), "\n", " ")
}

// renderTable draws a box-drawing table. Column widths are measured in
// terminal cells so wide characters stay aligned.
func renderTable(columns []string, rows [][]string) []string {
	widths := make([]int, len(columns))
	for i, col := range columns {
		widths[i] = runewidth.StringWidth(col)
	}
	for _, row := range rows {
		for i, cell := range row {
			widths[i] = max(widths[i], runewidth.StringWidth(cell))
		}
	}

	border := func(left, mid, right string) string {
		segs := make([]string, len(widths))
		for i, w := range widths {
			segs[i] = strings.Repeat("─", w+2)
		}
		return left + strings.Join(segs, mid) + right
	}
	line := func(cells []string) string {
		segs := make([]string, len(cells))
		for i, cell := range cells {
			segs[i] = " " + runewidth.FillRight(cell, widths[i]) + " "
		}
		return "│" + strings.Join(segs, "│") + "│"
	}

	lines := make([]string, 0, len(rows)+4)
	lines = append(lines, border("┌", "┬", "┐"), line(columns), border("├", "┼", "┤"))
	for _, row := range rows {
		lines = append(lines, line(row))
	}
	lines = append(lines, border("└", "┴", "┘"))
	return lines
}
