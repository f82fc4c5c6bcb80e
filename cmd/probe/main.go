// Command probe reads the pipeline's input files without connecting to a
// database and prints what the loader would see: format, row counts, filled
// opinion columns and the first malformed records of each file.
//
// Run it before a load to check new exports:
//
//	probe -config configs/pipeline.yaml -rows 5000
//	probe -data-dir ./data -json
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"text/tabwriter"

	"feedbacketl/internal/config"
	"feedbacketl/internal/multitable"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr, func(path string) (io.ReadCloser, error) {
		return os.Open(path)
	})
	stop()
	os.Exit(code)
}

// fileReport is the JSON form of a multitable.FileProbe.
type fileReport struct {
	Name      string         `json:"name"`
	File      string         `json:"file"`
	Format    string         `json:"format"`
	Rows      int            `json:"rows"`
	Truncated bool           `json:"truncated,omitempty"`
	Filled    map[string]int `json:"filled,omitempty"`
	Problems  []string       `json:"problems,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// run returns 0 when every file reads cleanly, 1 when any file has an error
// and 2 on usage errors.
func run(ctx context.Context, args []string, stdout, stderr io.Writer, open multitable.OpenFunc) int {
	fset := flag.NewFlagSet("probe", flag.ContinueOnError)
	fset.SetOutput(stderr)

	var (
		cfgPath string
		dataDir string
		rows    int
		asJSON  bool
	)
	fset.StringVar(&cfgPath, "config", "", "pipeline config (.json, .yaml); empty uses the built-in defaults")
	fset.StringVar(&dataDir, "data-dir", "", "directory holding the input files (overrides data_dir)")
	fset.IntVar(&rows, "rows", 1000, "max rows sampled per opinion stream (0 reads everything)")
	fset.BoolVar(&asJSON, "json", false, "print the report as JSON")

	if err := fset.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if fset.NArg() > 0 || rows < 0 {
		fmt.Fprintln(stderr, "usage: probe [-config path] [-data-dir dir] [-rows n] [-json]")
		return 2
	}

	p := config.Default()
	if cfgPath != "" {
		var err error
		if p, err = config.Load(cfgPath); err != nil {
			fmt.Fprintf(stderr, "%v\n", err)
			return 1
		}
	}
	if dataDir != "" {
		p.DataDir = dataDir
	}

	probes := multitable.Probe(ctx, open, p, rows)

	failed := false
	reports := make([]fileReport, 0, len(probes))
	for _, fp := range probes {
		r := fileReport{
			Name: fp.Name, File: fp.File, Format: fp.Format, Rows: fp.Rows,
			Truncated: fp.Truncated, Filled: fp.Filled, Problems: fp.Problems,
		}
		if fp.Err != nil {
			r.Error = fp.Err.Error()
			failed = true
		}
		reports = append(reports, r)
	}

	if asJSON {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(reports); err != nil {
			fmt.Fprintf(stderr, "encode report: %v\n", err)
			return 1
		}
	} else {
		printTable(stdout, reports)
	}

	if failed {
		return 1
	}
	return 0
}

func printTable(w io.Writer, reports []fileReport) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tFILE\tFORMAT\tROWS\tFILLED\tSTATUS")
	for _, r := range reports {
		n := fmt.Sprint(r.Rows)
		if r.Truncated {
			n += "+"
		}
		status := "ok"
		switch {
		case r.Error != "":
			status = "error: " + r.Error
		case len(r.Problems) > 0:
			status = fmt.Sprintf("%d malformed, first %s", len(r.Problems), r.Problems[0])
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", r.Name, r.File, r.Format, n, filled(r.Filled), status)
	}
	tw.Flush()
}

// filled renders opinion column fill counts in table order.
func filled(m map[string]int) string {
	if m == nil {
		return "-"
	}
	parts := make([]string, 0, len(multitable.OpinionColumns))
	for _, c := range multitable.OpinionColumns {
		if c == config.ColSourceID {
			continue
		}
		parts = append(parts, fmt.Sprintf("%s=%d", c, m[c]))
	}
	return strings.Join(parts, " ")
}
