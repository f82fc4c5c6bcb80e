// Package xlsx streams the first (or a named) worksheet of an Excel workbook
// into pooled rows, with the same header handling as the CSV parser.
package xlsx

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"

	"feedbacketl/internal/config"
	"feedbacketl/internal/parser"
	"feedbacketl/internal/transformer"
)

// StreamXLSXRows reads the workbook in src and sends one pooled row per sheet
// row, aligned to columns. It closes src.
//
// Options: sheet (default the first sheet), has_header (default true),
// columns (names in sheet order when has_header is false),
// trim_space (default true), header_map, required_columns. Cells are read as
// formatted text. Fully blank rows are skipped. Row.Line is the 1-based sheet
// row number.
func StreamXLSXRows(
	ctx context.Context,
	src io.ReadCloser,
	columns []string,
	opt config.Options,
	out chan<- *transformer.Row,
	onErr func(line int, err error),
) error {
	defer src.Close()

	f, err := excelize.OpenReader(src)
	if err != nil {
		return fmt.Errorf("xlsx: open workbook: %w", err)
	}
	defer f.Close()

	sheet := opt.String("sheet", "")
	if sheet == "" {
		sheet = f.GetSheetName(0)
	}
	if sheet == "" {
		return fmt.Errorf("xlsx: no sheets found in workbook")
	}

	rows, err := f.Rows(sheet)
	if err != nil {
		return fmt.Errorf("xlsx: sheet %q: %w", sheet, err)
	}
	defer rows.Close()

	trim := opt.Bool("trim_space", true)
	line := 0

	colIx := make([]int, len(columns))
	for i := range colIx {
		colIx[i] = i
	}
	if opt.Bool("has_header", true) {
		if !rows.Next() {
			if err := rows.Error(); err != nil {
				return fmt.Errorf("xlsx: read header: %w", err)
			}
			return fmt.Errorf("xlsx: read header: empty sheet %q", sheet)
		}
		line++
		hdr, err := rows.Columns()
		if err != nil {
			if onErr != nil {
				onErr(line, err)
			}
			return fmt.Errorf("xlsx: read header: %w", err)
		}
		colIx, err = parser.MapHeader(hdr, columns, opt.StringMap("header_map"), opt.Strings("required_columns"))
		if err != nil {
			return err
		}
	} else if names := opt.Strings("columns"); len(names) > 0 {
		colIx, err = parser.MapHeader(names, columns, opt.StringMap("header_map"), opt.Strings("required_columns"))
		if err != nil {
			return err
		}
	}

	for rows.Next() {
		line++
		if err := ctx.Err(); err != nil {
			return err
		}

		cells, err := rows.Columns()
		if err != nil {
			if onErr != nil {
				onErr(line, fmt.Errorf("xlsx read: %w", err))
			}
			continue
		}

		row := transformer.GetRow(len(columns))
		row.Line = line
		empty := true
		for t := range columns {
			si := colIx[t]
			if si < 0 || si >= len(cells) {
				continue
			}
			v := cells[si]
			if trim {
				v = strings.TrimSpace(v)
			}
			if v != "" {
				row.V[t] = v
				empty = false
			}
		}
		if empty {
			row.Free()
			continue
		}

		select {
		case out <- row:
		case <-ctx.Done():
			row.Drop()
			return ctx.Err()
		}
	}
	return rows.Error()
}
