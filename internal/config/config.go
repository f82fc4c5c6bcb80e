// Package config defines the pipeline configuration for the feedback loader:
// where the input files live, how each opinion stream maps onto the target
// columns, and which storage backend receives the tables.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Pipeline is the top-level configuration for one run.
type Pipeline struct {
	Job     string `json:"job" yaml:"job"`
	DataDir string `json:"data_dir" yaml:"data_dir"`

	Storage    Storage    `json:"storage" yaml:"storage"`
	Dimensions Dimensions `json:"dimensions" yaml:"dimensions"`
	Opinions   Opinions   `json:"opinions" yaml:"opinions"`
	Runtime    Runtime    `json:"runtime" yaml:"runtime"`
}

// Storage selects the backend and its tables.
type Storage struct {
	// Kind: "mssql" | "sqlite" | "postgres"
	Kind string `json:"kind" yaml:"kind"`

	// DSN wins over the SQL Server fields below. Environment references
	// ($VAR / ${VAR}) are expanded.
	DSN string `json:"dsn,omitempty" yaml:"dsn,omitempty"`

	Server            string `json:"server,omitempty" yaml:"server,omitempty"`
	Database          string `json:"database,omitempty" yaml:"database,omitempty"`
	TrustedConnection bool   `json:"trusted_connection,omitempty" yaml:"trusted_connection,omitempty"`

	AutoCreateTables bool   `json:"auto_create_tables" yaml:"auto_create_tables"`
	Tables           Tables `json:"tables" yaml:"tables"`
}

// Tables names the four target tables.
type Tables struct {
	Sources   string `json:"sources" yaml:"sources"`
	Products  string `json:"products" yaml:"products"`
	Customers string `json:"customers" yaml:"customers"`
	Opinions  string `json:"opinions" yaml:"opinions"`
}

// Dimensions points at the master-data files.
type Dimensions struct {
	Sources   File `json:"sources" yaml:"sources"`
	Products  File `json:"products" yaml:"products"`
	Customers File `json:"customers" yaml:"customers"`
}

// File is a single input file plus parser options.
type File struct {
	Path    string  `json:"path" yaml:"path"`
	Options Options `json:"options,omitempty" yaml:"options,omitempty"`
}

// Opinions configures the consolidated fact load.
type Opinions struct {
	Streams            []Stream `json:"streams" yaml:"streams"`
	CommentPlaceholder string   `json:"comment_placeholder" yaml:"comment_placeholder"`
	DateLayouts        []string `json:"date_layouts,omitempty" yaml:"date_layouts,omitempty"`
}

// Stream is one opinion input. HeaderMap renames file headers onto the
// canonical opinion columns (ProductoID, ClienteID, Comentario, Puntuacion, Fecha).
type Stream struct {
	Name      string            `json:"name" yaml:"name"`
	Path      string            `json:"path" yaml:"path"`
	SourceID  string            `json:"source_id" yaml:"source_id"`
	HeaderMap map[string]string `json:"header_map" yaml:"header_map"`
	Options   Options           `json:"options,omitempty" yaml:"options,omitempty"`
}

// Runtime controls execution behavior.
type Runtime struct {
	// BatchSize caps rows per INSERT statement. Backends may lower it further
	// to respect parameter limits.
	BatchSize int `json:"batch_size" yaml:"batch_size"`

	// StrictReset turns a failed table reset into a fatal error. When false a
	// failed reset is logged as a warning and the run continues.
	StrictReset bool `json:"strict_reset" yaml:"strict_reset"`
}

// Resolve returns path joined onto DataDir unless it is already absolute.
func (p Pipeline) Resolve(path string) string {
	if path == "" || filepath.IsAbs(path) || p.DataDir == "" {
		return path
	}
	return filepath.Join(p.DataDir, path)
}

// ResolveDSN returns the connection string for the configured backend.
//
// For SQL Server without an explicit DSN, an ODBC-style string is built from
// Server and Database. Leaving out "user id" makes go-mssqldb use integrated
// authentication, which is what TrustedConnection asks for. Credentials come
// from MSSQL_USER and MSSQL_PASSWORD.
func (s Storage) ResolveDSN() string {
	if s.DSN != "" {
		return os.ExpandEnv(s.DSN)
	}
	if s.Kind != "mssql" || s.Server == "" {
		return ""
	}
	parts := []string{"server=" + odbcValue(os.ExpandEnv(s.Server))}
	if s.Database != "" {
		parts = append(parts, "database="+odbcValue(os.ExpandEnv(s.Database)))
	}
	if !s.TrustedConnection {
		if u := os.Getenv("MSSQL_USER"); u != "" {
			parts = append(parts, "user id="+odbcValue(u), "password="+odbcValue(os.Getenv("MSSQL_PASSWORD")))
		}
	}
	return "odbc:" + strings.Join(parts, ";")
}

// odbcValue wraps v in braces when it holds a separator, a brace or edge
// spaces. Closing braces inside are doubled.
func odbcValue(v string) string {
	if !strings.ContainsAny(v, ";{}=") && strings.TrimSpace(v) == v {
		return v
	}
	return "{" + strings.ReplaceAll(v, "}", "}}") + "}"
}

// Load reads a pipeline config from path. Files ending in .yaml or .yml are
// decoded as YAML, everything else as JSON. Unset fields are filled from
// Default.
func Load(path string) (Pipeline, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Pipeline{}, fmt.Errorf("read config: %w", err)
	}

	var p Pipeline
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(raw, &p); err != nil {
			return Pipeline{}, fmt.Errorf("decode yaml config: %w", err)
		}
	default:
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&p); err != nil {
			return Pipeline{}, fmt.Errorf("decode config: %w", err)
		}
	}
	return WithDefaults(p), nil
}
