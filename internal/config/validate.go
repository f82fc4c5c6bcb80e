package config

import (
	"fmt"
	"sort"
	"strings"
)

// Severity classifies a validation issue.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Issue is one finding from ValidatePipeline.
type Issue struct {
	Severity Severity
	Path     string
	Message  string
}

func (i Issue) String() string {
	return fmt.Sprintf("%s: %s: %s", i.Severity, i.Path, i.Message)
}

// HasErrors reports whether any issue is an error.
func HasErrors(issues []Issue) bool {
	for _, iss := range issues {
		if iss.Severity == SeverityError {
			return true
		}
	}
	return false
}

var knownKinds = map[string]bool{"mssql": true, "sqlite": true, "postgres": true}

var canonicalColumns = map[string]bool{
	ColProductID:  true,
	ColCustomerID: true,
	ColComment:    true,
	ColScore:      true,
	ColDate:       true,
}

// requiredColumns must be mapped by every stream. Score is optional: a
// stream without it contributes NULL scores.
var requiredColumns = []string{ColProductID, ColCustomerID, ColComment, ColDate}

// ValidatePipeline checks p for configuration mistakes. It never touches the
// filesystem or the database.
func ValidatePipeline(p Pipeline) []Issue {
	var out []Issue
	add := func(sev Severity, path, format string, a ...any) {
		out = append(out, Issue{Severity: sev, Path: path, Message: fmt.Sprintf(format, a...)})
	}

	switch {
	case p.Storage.Kind == "":
		add(SeverityError, "storage.kind", "must be set")
	case !knownKinds[p.Storage.Kind]:
		add(SeverityError, "storage.kind", "unsupported kind %q (want mssql, sqlite or postgres)", p.Storage.Kind)
	}
	if p.Storage.ResolveDSN() == "" {
		add(SeverityError, "storage.dsn", "no connection string (set dsn, or server/database for mssql)")
	}

	tables := map[string]string{
		"storage.tables.sources":   p.Storage.Tables.Sources,
		"storage.tables.products":  p.Storage.Tables.Products,
		"storage.tables.customers": p.Storage.Tables.Customers,
		"storage.tables.opinions":  p.Storage.Tables.Opinions,
	}
	seenTable := map[string]string{}
	for path, name := range tables {
		if strings.TrimSpace(name) == "" {
			add(SeverityError, path, "table name is empty")
			continue
		}
		key := strings.ToLower(name)
		if other, dup := seenTable[key]; dup {
			add(SeverityError, path, "table %q also used by %s", name, other)
		}
		seenTable[key] = path
	}

	for path, f := range map[string]File{
		"dimensions.sources":   p.Dimensions.Sources,
		"dimensions.products":  p.Dimensions.Products,
		"dimensions.customers": p.Dimensions.Customers,
	} {
		if f.Path == "" {
			add(SeverityError, path+".path", "must be set")
		}
		if !f.Options.Bool("has_header", true) {
			add(SeverityError, path+".options.has_header", "master-data files must have a header row")
		}
	}

	if len(p.Opinions.Streams) == 0 {
		add(SeverityError, "opinions.streams", "at least one stream is required")
	}
	seenSource := map[string]string{}
	for i, s := range p.Opinions.Streams {
		base := fmt.Sprintf("opinions.streams[%d]", i)
		if s.Name == "" {
			add(SeverityWarning, base+".name", "stream has no name")
		}
		if s.Path == "" {
			add(SeverityError, base+".path", "must be set")
		}
		if s.SourceID == "" {
			add(SeverityError, base+".source_id", "must be set")
		} else if other, dup := seenSource[s.SourceID]; dup {
			add(SeverityError, base+".source_id", "source id %q already used by %s", s.SourceID, other)
		} else {
			seenSource[s.SourceID] = base
		}

		mapped := map[string]bool{}
		for from, to := range s.HeaderMap {
			if !canonicalColumns[to] {
				add(SeverityError, base+".header_map."+from, "unknown target column %q", to)
				continue
			}
			if mapped[to] {
				add(SeverityError, base+".header_map."+from, "target column %q mapped twice", to)
			}
			mapped[to] = true
		}
		for _, c := range requiredColumns {
			if !mapped[c] {
				add(SeverityError, base+".header_map", "no header maps to %s", c)
			}
		}
		if enc := s.Options.String("encoding", ""); enc != "" && !KnownEncoding(enc) {
			add(SeverityError, base+".options.encoding", "unsupported encoding %q", enc)
		}
		if !s.Options.Bool("has_header", true) && len(s.Options.Strings("columns")) == 0 {
			add(SeverityError, base+".options.columns", "has_header is false: list the file's column names in order")
		}
		switch f := strings.ToLower(s.Options.String("format", "")); f {
		case "", "csv", "xlsx", "json":
		default:
			add(SeverityError, base+".options.format", "unsupported format %q (want csv, xlsx or json)", f)
		}
	}

	if strings.TrimSpace(p.Opinions.CommentPlaceholder) == "" {
		add(SeverityError, "opinions.comment_placeholder", "must not be empty")
	}
	if len(p.Opinions.DateLayouts) == 0 {
		add(SeverityError, "opinions.date_layouts", "at least one layout is required")
	}

	if p.Runtime.BatchSize < 0 {
		add(SeverityError, "runtime.batch_size", "must not be negative")
	}
	if !p.Runtime.StrictReset {
		add(SeverityWarning, "runtime.strict_reset",
			"a failed table reset only warns; reloading into non-empty tables can duplicate rows or hit key conflicts")
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// KnownEncoding reports whether name is an input encoding the parsers accept.
func KnownEncoding(name string) bool {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "utf-8", "utf8", "windows-1252", "cp1252", "iso-8859-1", "latin1":
		return true
	}
	return false
}
