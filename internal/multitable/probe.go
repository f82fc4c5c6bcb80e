package multitable

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"feedbacketl/internal/config"
	"feedbacketl/internal/parser"
	"feedbacketl/internal/transformer"
)

// maxProbeProblems caps the malformed-record messages kept per file.
const maxProbeProblems = 5

// FileProbe describes one input file as the loader would read it.
type FileProbe struct {
	Name   string // dimension or stream name
	File   string
	Format string
	Rows   int

	// Filled counts non-NULL values per column. Streams only.
	Filled map[string]int

	// Truncated is set when sampling stopped at the row limit.
	Truncated bool

	// Problems holds the first malformed-record messages.
	Problems []string

	Err error
}

// Probe reads every input file of p without touching storage. Dimension
// files are decoded in full; streams are sampled up to limit rows (0 means
// no limit). Malformed stream records are collected instead of aborting.
func Probe(ctx context.Context, open OpenFunc, p config.Pipeline, limit int) []FileProbe {
	var out []FileProbe
	for _, d := range dimensionsFor(p) {
		d.file.Path = p.Resolve(d.file.Path)
		out = append(out, probeDimension(open, d))
	}
	for _, s := range p.Opinions.Streams {
		out = append(out, probeStream(ctx, open, p.Resolve(s.Path), s, limit))
	}
	return out
}

func probeDimension(open OpenFunc, d dimension) FileProbe {
	fp := FileProbe{Name: d.name, File: filepath.Base(d.file.Path), Format: parser.FormatCSV}

	src, err := open(d.file.Path)
	if err != nil {
		fp.Err = err
		return fp
	}
	defer src.Close()

	rows, err := readDimension(src, d)
	fp.Rows = len(rows)
	fp.Err = err
	return fp
}

func probeStream(ctx context.Context, open OpenFunc, path string, s config.Stream, limit int) FileProbe {
	format := parser.DetectFormat(path, s.Options.String("format", ""))
	fp := FileProbe{Name: s.Name, File: filepath.Base(path), Format: format, Filled: map[string]int{}}

	stream, err := parserFor(format)
	if err != nil {
		fp.Err = err
		return fp
	}
	src, err := open(path)
	if err != nil {
		fp.Err = err
		return fp
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var mu sync.Mutex
	onErr := func(line int, err error) {
		mu.Lock()
		defer mu.Unlock()
		if len(fp.Problems) < maxProbeProblems {
			fp.Problems = append(fp.Problems, fmt.Sprintf("line %d: %v", line, err))
		}
	}

	opt := streamOptions(s)
	rows := make(chan *transformer.Row, 64)
	done := make(chan error, 1)
	go func() {
		defer close(rows)
		done <- stream(ctx, src, streamColumns, opt, rows, onErr)
	}()

	for r := range rows {
		if limit > 0 && fp.Rows >= limit {
			fp.Truncated = true
			r.Free()
			cancel()
			continue
		}
		fp.Rows++
		for i, v := range r.V {
			if v != nil {
				fp.Filled[streamColumns[i]]++
			}
		}
		r.Free()
	}

	err = <-done
	if err != nil && !(fp.Truncated && errors.Is(err, context.Canceled)) {
		fp.Err = err
	}
	return fp
}
