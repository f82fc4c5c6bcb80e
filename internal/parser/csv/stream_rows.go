// Package csv streams delimited text files into pooled transformer rows.
package csv

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"

	"feedbacketl/internal/config"
	"feedbacketl/internal/parser"
	"feedbacketl/internal/transformer"
	"feedbacketl/internal/transformer/builtin"
)

// StreamCSVRows streams src into pooled *transformer.Row values aligned to
// columns and sends them on out. It closes src.
//
// Options:
//   - comma (default ','), lazy_quotes, fields_per_record
//   - has_header (default true); without a header, columns (the file's
//     column names in order) is matched like a header, else columns map by
//     position
//   - trim_space (default true); blank cells become nil
//   - encoding: utf-8 (default), windows-1252, iso-8859-1
//   - header_map: source header -> column name
//   - required_columns: columns that must be present in the header
//
// Headers are matched after BOM removal, trimming and Unicode NFC
// normalization, case-insensitively. A malformed record is reported through
// onErr and skipped; whether that aborts the run is the caller's decision.
//
// On ctx cancellation the in-flight row is dropped, not re-pooled.
func StreamCSVRows(
	ctx context.Context,
	src io.ReadCloser,
	columns []string,
	opt config.Options,
	out chan<- *transformer.Row,
	onErr func(line int, err error),
) error {
	defer src.Close()

	cr, err := NewReader(src, opt)
	if err != nil {
		return err
	}
	cr.ReuseRecord = true

	trim := opt.Bool("trim_space", true)
	line := 0
	readRec := func() ([]string, error) {
		line++
		return cr.Read()
	}

	colIx := make([]int, len(columns))
	if opt.Bool("has_header", true) {
		hdr, err := readRec()
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = fmt.Errorf("empty file: no header row")
			}
			if onErr != nil {
				onErr(line, fmt.Errorf("read header: %w", err))
			}
			return fmt.Errorf("read header: %w", err)
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
	} else {
		for i := range colIx {
			colIx[i] = i
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		rec, err := readRec()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			if onErr != nil {
				onErr(line, fmt.Errorf("csv read: %w", err))
			}
			continue
		}

		row := transformer.GetRow(len(columns))
		row.Line = line

		for t := range columns {
			si := colIx[t]
			if si < 0 || si >= len(rec) {
				continue
			}
			v := rec[si]
			if trim && builtin.HasEdgeSpace(v) {
				v = strings.TrimSpace(v)
			}
			if v != "" {
				row.V[t] = v
			}
		}

		select {
		case out <- row:
		case <-ctx.Done():
			row.Drop()
			return ctx.Err()
		}
	}
}

// NewReader returns an encoding/csv reader over src configured from opt:
// comma, lazy_quotes, fields_per_record (default -1, variable) and encoding.
func NewReader(src io.Reader, opt config.Options) (*csv.Reader, error) {
	dec, err := decoderFor(opt.String("encoding", ""))
	if err != nil {
		return nil, err
	}
	if dec != nil {
		src = transform.NewReader(src, dec)
	}

	cr := csv.NewReader(src)
	cr.Comma = opt.Rune("comma", ',')
	cr.LazyQuotes = opt.Bool("lazy_quotes", false)
	cr.FieldsPerRecord = -1
	if n := opt.Int("fields_per_record", 0); n != 0 {
		cr.FieldsPerRecord = n
	}
	return cr, nil
}

// decoderFor returns nil for UTF-8 input.
func decoderFor(name string) (*encoding.Decoder, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "utf-8", "utf8":
		return nil, nil
	case "windows-1252", "cp1252":
		return charmap.Windows1252.NewDecoder(), nil
	case "iso-8859-1", "latin1":
		return charmap.ISO8859_1.NewDecoder(), nil
	default:
		return nil, fmt.Errorf("unsupported encoding %q", name)
	}
}
