// Command etl loads the customer-feedback star schema: it empties the four
// tables, loads sources, products and customers from CSV, then consolidates
// surveys, web reviews and social comments into the opinion fact table.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"feedbacketl/internal/config"
	"feedbacketl/internal/metrics"
	"feedbacketl/internal/metrics/datadog"
	"feedbacketl/internal/multitable"

	// register all backends with the storage factory.
	_ "feedbacketl/internal/storage/all"
)

// runner is the part of *multitable.Runner the CLI uses.
type runner interface {
	Run(ctx context.Context, p config.Pipeline) (*multitable.Report, error)
}

// metricsBackend is what initMetrics installs and later closes.
type metricsBackend interface {
	metrics.Backend
	Close() error
}

// Seams for tests.
var (
	newDatadogBackend = func(ctx context.Context, opts datadog.Options) (metricsBackend, error) {
		return datadog.NewBackend(ctx, opts)
	}
	setMetricsBackend = metrics.SetBackend
	logPrintf         = log.Printf
)

// appDeps are the side-effecting dependencies of runMain.
type appDeps struct {
	loadEnv     func(path string) error
	loadConfig  func(path string) (config.Pipeline, error)
	newRunner   func(logger multitable.Logger, verbose bool) runner
	initMetrics func(ctx context.Context, job, backend, tags string) (func(), error)
}

func defaultDeps() appDeps {
	return appDeps{
		loadEnv: loadEnvFile,
		loadConfig: func(path string) (config.Pipeline, error) {
			if path == "" {
				return config.Default(), nil
			}
			return config.Load(path)
		},
		newRunner: func(logger multitable.Logger, verbose bool) runner {
			r := multitable.NewDefaultRunner(logger)
			r.Verbose = verbose
			return r
		},
		initMetrics: initMetrics,
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := runMain(ctx, os.Args[1:], os.Stdout, os.Stderr, defaultDeps())
	stop()
	os.Exit(code)
}

// runMain parses args, loads config and runs the pipeline. It returns the
// process exit code: 0 success, 1 failure, 2 usage error.
func runMain(ctx context.Context, args []string, stdout, stderr io.Writer, deps appDeps) int {
	fset := flag.NewFlagSet("etl", flag.ContinueOnError)
	fset.SetOutput(stderr)

	var (
		cfgPath     string
		envFile     string
		dataDir     string
		metricsFlag string
		tagsFlag    string
		validate    bool
		verbose     bool
	)
	fset.StringVar(&cfgPath, "config", "", "pipeline config (.json, .yaml); empty uses the built-in defaults")
	fset.StringVar(&envFile, "env-file", ".env", "dotenv file to load before reading config (missing file is ignored)")
	fset.StringVar(&dataDir, "data-dir", "", "directory holding the input files (overrides data_dir)")
	fset.StringVar(&metricsFlag, "metrics-backend", "", "metrics backend: none|datadog (default env METRICS_BACKEND, else none)")
	fset.StringVar(&tagsFlag, "datadog-tags", "", "extra Datadog tags, comma separated (default env METRICS_TAGS)")
	fset.BoolVar(&validate, "validate", false, "validate the configuration and exit")
	fset.BoolVar(&verbose, "v", false, "enable verbose logs")

	if err := fset.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if fset.NArg() > 0 {
		fmt.Fprintf(stderr, "usage: etl [-config path] [-validate] [-v]\nunexpected argument %q\n", fset.Arg(0))
		return 2
	}

	if err := deps.loadEnv(envFile); err != nil {
		fmt.Fprintf(stderr, "load env: %v\n", err)
		return 1
	}

	p, err := deps.loadConfig(strings.TrimSpace(cfgPath))
	if err != nil {
		fmt.Fprintf(stderr, "%v\n", err)
		return 1
	}
	if dsn := os.Getenv("OPINIONS_DSN"); dsn != "" {
		p.Storage.DSN = dsn
	}
	if dataDir != "" {
		p.DataDir = dataDir
	}

	issues := config.ValidatePipeline(p)
	for _, iss := range issues {
		if iss.Severity == config.SeverityError || verbose || validate {
			fmt.Fprintln(stderr, iss.String())
		}
	}
	if config.HasErrors(issues) {
		fmt.Fprintf(stderr, "configuration is invalid: %s\n", describeConfig(cfgPath))
		return 1
	}
	if validate {
		fmt.Fprintf(stdout, "configuration is valid: %s\n", describeConfig(cfgPath))
		return 0
	}

	backend := firstNonEmpty(metricsFlag, os.Getenv("METRICS_BACKEND"))
	tags := firstNonEmpty(tagsFlag, os.Getenv("METRICS_TAGS"))
	cleanup, err := deps.initMetrics(ctx, p.Job, backend, tags)
	if err != nil {
		fmt.Fprintf(stderr, "metrics: %v\n", err)
		return 1
	}
	defer cleanup()

	logger := log.New(stdout, "", log.LstdFlags)
	start := time.Now()
	rep, err := deps.newRunner(logger, verbose).Run(ctx, p)
	if err != nil {
		logger.Printf("ERROR %v", err)
		if rep != nil && rep.ResetFailed {
			logger.Printf("WARN tables were not emptied before this run; rerun after fixing the reset error")
		}
		return 1
	}
	logger.Printf("completed in %s", time.Since(start).Truncate(time.Millisecond))
	return 0
}

// initMetrics installs the selected metrics backend. The returned cleanup is
// never nil and flushes the backend.
func initMetrics(ctx context.Context, job, backend, tags string) (func(), error) {
	nop := func() {}

	switch strings.ToLower(strings.TrimSpace(backend)) {
	case "", "none", "noop":
		return nop, nil

	case "datadog", "dd":
		b, err := newDatadogBackend(ctx, datadog.Options{
			JobName: job,
			Tags:    datadog.ParseTagsCSV(tags),
		})
		if err != nil {
			return nop, err
		}
		setMetricsBackend(b)
		return func() {
			if err := b.Close(); err != nil {
				logPrintf("metrics: datadog close error: %v", err)
			}
			setMetricsBackend(nil)
		}, nil

	default:
		return nop, fmt.Errorf("unknown metrics backend %q (want none|datadog)", backend)
	}
}

// loadEnvFile loads path into the environment without overriding variables
// that are already set. A missing file is not an error.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	return nil
}

func describeConfig(path string) string {
	if path == "" {
		return "(built-in defaults)"
	}
	return path
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
