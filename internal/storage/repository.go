package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Config is what NewRepository needs to open a backend.
//
// Kind must match a registered backend ("mssql", "sqlite", "postgres"). DSN is
// passed through unchanged. BatchSize caps rows per INSERT statement; backends
// may go lower to respect their parameter limits. Zero means backend default.
type Config struct {
	Kind      string
	DSN       string
	BatchSize int
}

// Repository is the backend-agnostic surface the loader writes through.
//
// Every method that changes data runs in a single transaction per call, so a
// failed call leaves the tables as they were before it.
type Repository interface {
	// Close releases connections. Call once.
	Close()

	// EnsureTables creates missing tables. Specs with AutoCreateTable=false
	// are skipped. Existing tables are never altered.
	EnsureTables(ctx context.Context, tables []TableSpec) error

	// ResetTables deletes every row from tables, in the given order, inside
	// one transaction. Children must come before parents.
	ResetTables(ctx context.Context, tables []string) error

	// InsertRows appends rows to table. Each row must align with columns.
	// A nil value is written as NULL. Returns the number of rows written.
	InsertRows(ctx context.Context, table string, columns []string, rows [][]any) (int64, error)

	// SelectKeys returns the set of NormalizeKey'd non-NULL values of
	// keyColumn currently stored in table.
	SelectKeys(ctx context.Context, table, keyColumn string) (map[string]struct{}, error)
}

// Factory opens a Repository for one backend kind.
type Factory func(ctx context.Context, cfg Config) (Repository, error)

var (
	factoriesMu sync.RWMutex
	factories   = map[string]Factory{}
)

// Register makes a backend available to NewRepository under kind. Backend
// packages call it from init().
//
// It panics if kind is empty, f is nil, or kind is already registered.
func Register(kind string, f Factory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()

	if kind == "" {
		panic("storage: Register called with empty kind")
	}
	if f == nil {
		panic("storage: Register called with nil factory")
	}
	if _, exists := factories[kind]; exists {
		panic(fmt.Sprintf("storage: factory already registered for kind=%q", kind))
	}
	factories[kind] = f
}

// NewRepository opens the backend registered for cfg.Kind.
func NewRepository(ctx context.Context, cfg Config) (Repository, error) {
	if cfg.Kind == "" {
		return nil, fmt.Errorf("storage: missing kind")
	}

	factoriesMu.RLock()
	f := factories[cfg.Kind]
	factoriesMu.RUnlock()

	if f == nil {
		return nil, fmt.Errorf("storage: unsupported kind=%s (registered: %v)", cfg.Kind, Kinds())
	}
	return f(ctx, cfg)
}

// Kinds lists registered backend kinds, sorted.
func Kinds() []string {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()

	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
