// Package multitable runs the feedback load: reset the four tables, load the
// master data, then consolidate, filter, clean and load the opinions.
package multitable

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"maps"
	"os"
	"slices"
	"strings"
	"time"

	"feedbacketl/internal/config"
	"feedbacketl/internal/metrics"
	"feedbacketl/internal/storage"
)

// Phase errors. Run wraps the underlying cause with one of these so callers
// can tell which step failed with errors.Is.
var (
	ErrConfig         = errors.New("invalid configuration")
	ErrConnect        = errors.New("connect failed")
	ErrReset          = errors.New("table reset failed")
	ErrDimensionPhase = errors.New("dimension load failed")
	ErrOpinionPhase   = errors.New("opinion load failed")
)

// Logger is the minimal logging interface used by the runner.
// *log.Logger satisfies this interface.
type Logger interface {
	Printf(format string, v ...any)
}

// OpenFunc opens an input file.
type OpenFunc func(path string) (io.ReadCloser, error)

// Runner executes one load. The function fields are seams; NewDefaultRunner
// fills them for production.
type Runner struct {
	NewRepository func(ctx context.Context, cfg storage.Config) (storage.Repository, error)
	Open          OpenFunc
	Logger        Logger

	// Verbose adds per-stream and per-table detail lines.
	Verbose bool
}

// NewDefaultRunner returns a Runner that opens backends through the storage
// registry and reads files from disk. A nil logger writes to stderr.
func NewDefaultRunner(logger Logger) *Runner {
	if logger == nil {
		logger = log.New(os.Stderr, "", log.LstdFlags)
	}
	return &Runner{
		NewRepository: storage.NewRepository,
		Open: func(path string) (io.ReadCloser, error) {
			return os.Open(path)
		},
		Logger: logger,
	}
}

// Run executes the pipeline. The returned report is never nil and holds
// whatever was counted before a failure.
//
// Order: connect, ensure tables (if storage.auto_create_tables), reset,
// dimensions, opinions. A failed reset only warns unless
// runtime.strict_reset is set. Dimension rows already committed stay when
// the opinion phase fails.
func (r *Runner) Run(ctx context.Context, p config.Pipeline) (*Report, error) {
	start := time.Now()
	rep := newReport()
	defer func() { rep.Duration = time.Since(start) }()

	logf := r.logf
	debugf := func(format string, v ...any) {
		if r.Verbose {
			logf(format, v...)
		}
	}

	if issues := config.ValidatePipeline(p); config.HasErrors(issues) {
		var msgs []string
		for _, iss := range issues {
			if iss.Severity == config.SeverityError {
				msgs = append(msgs, iss.String())
			}
		}
		return rep, fmt.Errorf("%w: %s", ErrConfig, strings.Join(msgs, "; "))
	}
	logf("run_id=%s job=%s storage=%s", rep.RunID, p.Job, p.Storage.Kind)

	var repo storage.Repository
	err := r.step("connect", func() error {
		var err error
		repo, err = r.NewRepository(ctx, storage.Config{
			Kind:      p.Storage.Kind,
			DSN:       p.Storage.ResolveDSN(),
			BatchSize: p.Runtime.BatchSize,
		})
		return err
	})
	if err != nil {
		return rep, fmt.Errorf("%w: %w", ErrConnect, err)
	}
	defer repo.Close()

	if p.Storage.AutoCreateTables {
		if err := r.step("ensure_tables", func() error {
			return repo.EnsureTables(ctx, TableSpecs(p.Storage.Tables, true))
		}); err != nil {
			return rep, fmt.Errorf("%w: ensure tables: %w", ErrConnect, err)
		}
	}

	if err := r.step("reset", func() error {
		return repo.ResetTables(ctx, resetOrder(p.Storage.Tables))
	}); err != nil {
		if p.Runtime.StrictReset {
			return rep, fmt.Errorf("%w: %w", ErrReset, err)
		}
		rep.ResetFailed = true
		logf("WARN stage=reset tables could not be emptied, continuing: %v", err)
	}

	if err := r.step("dimensions", func() error {
		return r.loadDimensions(ctx, repo, p, rep, debugf)
	}); err != nil {
		return rep, fmt.Errorf("%w: %w", ErrDimensionPhase, err)
	}

	if err := r.step("opinions", func() error {
		return r.loadOpinions(ctx, repo, p, rep, debugf)
	}); err != nil {
		return rep, fmt.Errorf("%w: %w", ErrOpinionPhase, err)
	}

	rep.publish()
	rep.Duration = time.Since(start)
	logf("stage=done %s", rep.String())
	return rep, nil
}

// loadDimensions reads and inserts sources, products and customers, in that
// order. Each table is one InsertRows call.
func (r *Runner) loadDimensions(ctx context.Context, repo storage.Repository, p config.Pipeline, rep *Report, debugf func(string, ...any)) error {
	for _, d := range dimensionsFor(p) {
		path := p.Resolve(d.file.Path)
		src, err := r.Open(path)
		if err != nil {
			return fmt.Errorf("open %s: %w", d.name, err)
		}
		rows, err := readDimension(src, d)
		_ = src.Close()
		if err != nil {
			return err
		}

		n, err := repo.InsertRows(ctx, d.table, d.columns, rows)
		if err != nil {
			return fmt.Errorf("insert %s: %w", d.table, err)
		}
		rep.Dimensions[d.table] = n
		metrics.RecordSourceRecords("inserted", d.table, int(n))
		debugf("stage=dimensions table=%s rows=%d", d.table, n)
	}
	return nil
}

// loadOpinions consolidates the streams, filters against the stored keys,
// cleans, and appends to the fact table.
func (r *Runner) loadOpinions(ctx context.Context, repo storage.Repository, p config.Pipeline, rep *Report, debugf func(string, ...any)) error {
	rows, err := consolidate(ctx, r.Open, p, debugf)
	if err != nil {
		return err
	}
	rep.Consolidated = len(rows)
	for _, o := range rows {
		rep.PerSource[o.V[opSource].(string)]++
	}
	r.logf("stage=consolidate rows=%d", rep.Consolidated)

	keys, err := readKeySets(ctx, repo, p.Storage.Tables.Products, p.Storage.Tables.Customers)
	if err != nil {
		return err
	}
	rows, rep.DroppedIntegrity = filterIntegrity(rows, keys)
	rep.Valid = len(rows)
	r.logf("stage=integrity valid=%d dropped=%d", rep.Valid, rep.DroppedIntegrity)

	c := cleaner{placeholder: p.Opinions.CommentPlaceholder, layouts: p.Opinions.DateLayouts}
	clean, dups, err := c.clean(rows)
	if err != nil {
		return err
	}
	rep.Duplicates = dups
	r.logf("stage=clean rows=%d duplicates=%d", len(clean), dups)

	n, err := repo.InsertRows(ctx, p.Storage.Tables.Opinions, OpinionColumns, clean)
	if err != nil {
		return fmt.Errorf("insert %s: %w", p.Storage.Tables.Opinions, err)
	}
	rep.Inserted = n
	return nil
}

// step runs fn, logs "stage=<name> ok duration=..." on success and records
// the step metric either way.
func (r *Runner) step(name string, fn func() error) error {
	start := time.Now()
	err := fn()
	d := time.Since(start)

	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.RecordStep(name, status, d)
	if err == nil {
		r.logf("stage=%s ok duration=%s", name, durMS(d))
	}
	return err
}

func (r *Runner) logf(format string, v ...any) {
	if r.Logger == nil {
		return
	}
	r.Logger.Printf(format, v...)
}

func durMS(d time.Duration) time.Duration { return d.Truncate(time.Millisecond) }

func sortedKeys[V any](m map[string]V) []string {
	return slices.Sorted(maps.Keys(m))
}
