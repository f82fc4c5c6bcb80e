package multitable

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"

	"feedbacketl/internal/config"
	"feedbacketl/internal/metrics"
	"feedbacketl/internal/parser"
	"feedbacketl/internal/parser/csv"
	"feedbacketl/internal/parser/json"
	"feedbacketl/internal/parser/xlsx"
	"feedbacketl/internal/transformer"
	"feedbacketl/internal/transformer/builtin"
)

// opinion is one consolidated fact row plus where it came from, for error
// messages raised after consolidation.
type opinion struct {
	V    []any // aligned to OpinionColumns
	File string
	Line int
}

// streamFunc is the common shape of the format parsers.
type streamFunc func(ctx context.Context, src io.ReadCloser, columns []string, opt config.Options, out chan<- *transformer.Row, onErr func(int, error)) error

func parserFor(format string) (streamFunc, error) {
	switch format {
	case parser.FormatCSV:
		return csv.StreamCSVRows, nil
	case parser.FormatXLSX:
		return xlsx.StreamXLSXRows, nil
	case parser.FormatJSON:
		return json.StreamJSONRows, nil
	default:
		return nil, fmt.Errorf("unsupported stream format %q", format)
	}
}

// requiredStreamColumns must resolve in every stream header. Score is
// optional and becomes NULL when absent.
var requiredStreamColumns = []string{config.ColProductID, config.ColCustomerID, config.ColComment, config.ColDate}

// streamOptions are the parser options for s. Values are kept as written
// unless the stream sets trim_space, so comments that differ only in
// spacing stay distinct rows.
func streamOptions(s config.Stream) config.Options {
	opt := s.Options.With("header_map", s.HeaderMap).With("required_columns", requiredStreamColumns)
	if _, set := s.Options["trim_space"]; !set {
		opt = opt.With("trim_space", false)
	}
	return opt
}

// consolidate reads every stream in order and stacks the rows, stamping each
// with its stream's source id. The first read error of any stream aborts
// the whole consolidation.
func consolidate(ctx context.Context, open OpenFunc, p config.Pipeline, logf func(string, ...any)) ([]opinion, error) {
	var all []opinion
	for _, s := range p.Opinions.Streams {
		rows, err := readStream(ctx, open, p.Resolve(s.Path), s)
		if err != nil {
			return nil, err
		}
		metrics.RecordSourceRecords("read", s.SourceID, len(rows))
		logf("stage=consolidate stream=%s source=%s rows=%d", s.Name, s.SourceID, len(rows))
		all = append(all, rows...)
	}
	return all, nil
}

// readStream parses one stream file into opinion rows. Parsing runs in its
// own goroutine handing pooled rows over a channel; the first parse error
// cancels it.
func readStream(ctx context.Context, open OpenFunc, path string, s config.Stream) ([]opinion, error) {
	file := filepath.Base(path)
	stream, err := parserFor(parser.DetectFormat(path, s.Options.String("format", "")))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", file, err)
	}

	src, err := open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", file, err)
	}

	opt := streamOptions(s)
	stripHTML := s.Options.Bool("strip_html", false)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		errOnce sync.Once
		rowErr  error
	)
	onErr := func(line int, err error) {
		errOnce.Do(func() {
			rowErr = fmt.Errorf("%s line %d: %w", file, line, err)
			cancel()
		})
	}

	out := make(chan *transformer.Row, 256)
	done := make(chan error, 1)
	go func() {
		defer close(out)
		done <- stream(ctx, src, streamColumns, opt, out, onErr)
	}()

	var rows []opinion
	for r := range out {
		v := make([]any, len(OpinionColumns))
		copy(v, r.V)
		v[opSource] = s.SourceID
		line := r.Line
		r.Free()

		for _, k := range [...]int{opProduct, opCustomer} {
			if id, ok := v[k].(string); ok {
				v[k] = strings.TrimSpace(id)
			}
		}
		if stripHTML {
			if c, ok := v[opComment].(string); ok && strings.ContainsAny(c, "<&") {
				if c = builtin.StripHTML(c); c == "" {
					v[opComment] = nil
				} else {
					v[opComment] = c
				}
			}
		}
		rows = append(rows, opinion{V: v, File: file, Line: line})
	}

	err = <-done
	if rowErr != nil {
		return nil, rowErr
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", file, err)
	}
	return rows, nil
}
