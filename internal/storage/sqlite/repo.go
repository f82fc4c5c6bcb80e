// Package sqlite is the SQLite backend for storage.Repository, built on the
// pure-Go modernc.org/sqlite driver. It backs local runs and the end-to-end
// tests.
//
// SQLite has no native timestamp type, so time.Time values are written as
// RFC3339Nano text in UTC.
package sqlite

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"feedbacketl/internal/metrics"
	"feedbacketl/internal/storage"
)

// paramLimit is the classic SQLITE_MAX_VARIABLE_NUMBER.
const paramLimit = 999

var nativeTypes = map[string]string{
	storage.TypeKey:       "TEXT",
	storage.TypeText:      "TEXT",
	storage.TypeFloat:     "REAL",
	storage.TypeTimestamp: "TIMESTAMP",
}

// Repo implements storage.Repository for SQLite.
type Repo struct {
	db        *sqlx.DB
	batchSize int
}

func init() {
	storage.Register("sqlite", New)
}

// New opens dsn (a file path or "file:" URI). The pool is limited to one
// connection: SQLite serializes writers anyway, and a single connection keeps
// "file::memory:" DSNs on one database.
func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	db, err := sqlx.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: ping: %w", err)
	}
	return &Repo{db: db, batchSize: cfg.BatchSize}, nil
}

func (r *Repo) Close() { _ = r.db.Close() }

// EnsureTables runs CREATE TABLE IF NOT EXISTS per spec.
func (r *Repo) EnsureTables(ctx context.Context, tables []storage.TableSpec) error {
	for _, t := range tables {
		if !t.AutoCreateTable {
			continue
		}
		q, err := buildCreateSQL(t)
		if err != nil {
			return err
		}
		if _, err := r.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("sqlite: create table %s: %w", t.Name, err)
		}
	}
	return nil
}

// ResetTables deletes all rows from each table in order, in one transaction.
func (r *Repo) ResetTables(ctx context.Context, tables []string) error {
	if len(tables) == 0 {
		return nil
	}
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: reset: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, t := range tables {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+sqlIdent(t)); err != nil {
			return fmt.Errorf("sqlite: reset %s: %w", t, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: reset: commit: %w", err)
	}
	return nil
}

// InsertRows writes rows in multi-row INSERT statements inside one
// transaction.
func (r *Repo) InsertRows(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if err := storage.CheckRows(table, columns, rows); err != nil {
		return 0, err
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("sqlite: insert %s: begin tx: %w", table, err)
	}
	defer func() { _ = tx.Rollback() }()

	per := storage.RowsPerStatement(r.batchSize, len(columns), paramLimit)
	var total int64
	for start := 0; start < len(rows); start += per {
		end := min(start+per, len(rows))

		q, args := buildInsertSQL(table, columns, rows[start:end])
		res, err := tx.ExecContext(ctx, q, args...)
		if err != nil {
			return 0, fmt.Errorf("sqlite: insert %s rows %d-%d: %w", table, start, end-1, err)
		}
		metrics.RecordBatch(table)
		n, err := res.RowsAffected()
		if err != nil {
			n = int64(end - start)
		}
		total += n
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("sqlite: insert %s: commit: %w", table, err)
	}
	return total, nil
}

// SelectKeys reads every non-NULL keyColumn value as text.
func (r *Repo) SelectKeys(ctx context.Context, table, keyColumn string) (map[string]struct{}, error) {
	if table == "" || keyColumn == "" {
		return nil, fmt.Errorf("sqlite: SelectKeys: table and keyColumn are required")
	}
	col := sqlIdent(keyColumn)
	q := fmt.Sprintf("SELECT CAST(%s AS TEXT) FROM %s WHERE %s IS NOT NULL", col, sqlIdent(table), col)

	var keys []string
	if err := r.db.SelectContext(ctx, &keys, q); err != nil {
		return nil, fmt.Errorf("sqlite: select keys %s.%s: %w", table, keyColumn, err)
	}

	out := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		if nk := storage.NormalizeKey(k); nk != "" {
			out[nk] = struct{}{}
		}
	}
	return out, nil
}

func sqlIdent(id string) string {
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}

func buildCreateSQL(t storage.TableSpec) (string, error) {
	if strings.TrimSpace(t.Name) == "" {
		return "", fmt.Errorf("sqlite: table name is empty")
	}
	if len(t.Columns) == 0 {
		return "", fmt.Errorf("sqlite: table %s has no columns", t.Name)
	}

	var parts []string
	if t.PrimaryKey != nil {
		// INTEGER PRIMARY KEY aliases the rowid and auto-generates values.
		switch strings.ToLower(strings.TrimSpace(t.PrimaryKey.Type)) {
		case "serial", "bigserial", "int identity", "integer identity", "identity", "":
			parts = append(parts, fmt.Sprintf("%s INTEGER PRIMARY KEY AUTOINCREMENT", sqlIdent(t.PrimaryKey.Name)))
		default:
			parts = append(parts, fmt.Sprintf("%s %s PRIMARY KEY", sqlIdent(t.PrimaryKey.Name), t.PrimaryKey.Type))
		}
	}

	for _, c := range t.Columns {
		if strings.TrimSpace(c.Name) == "" || strings.TrimSpace(c.Type) == "" {
			return "", fmt.Errorf("sqlite: table %s: column name/type must be set", t.Name)
		}
		col := sqlIdent(c.Name) + " " + storage.NativeType(c.Type, nativeTypes)
		if !c.IsNullable() {
			col += " NOT NULL"
		}
		// Enforced only with PRAGMA foreign_keys=ON.
		if c.References != "" {
			tbl, ref, ok := storage.SplitReference(c.References)
			if !ok {
				return "", fmt.Errorf("sqlite: column %s: bad reference %q (want Table(Column))", c.Name, c.References)
			}
			col += fmt.Sprintf(" REFERENCES %s(%s)", sqlIdent(tbl), sqlIdent(ref))
		}
		parts = append(parts, col)
	}

	if keys := t.KeyColumns(); t.PrimaryKey == nil && len(keys) > 0 {
		parts = append(parts, "PRIMARY KEY ("+joinIdents(keys)+")")
	}

	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n  %s\n);", sqlIdent(t.Name), strings.Join(parts, ",\n  ")), nil
}

func buildInsertSQL(table string, columns []string, rows [][]any) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(sqlIdent(table))
	b.WriteString(" (")
	b.WriteString(joinIdents(columns))
	b.WriteString(") VALUES ")

	tuple := "(" + strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", ") + ")"
	args := make([]any, 0, len(rows)*len(columns))
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(tuple)
		for _, v := range row {
			args = append(args, sqliteArg(v))
		}
	}
	return b.String(), args
}

// sqliteArg converts values the driver would store in an awkward form.
func sqliteArg(v any) any {
	switch t := v.(type) {
	case time.Time:
		return formatSQLiteTime(t)
	case *time.Time:
		if t == nil {
			return nil
		}
		return formatSQLiteTime(*t)
	default:
		return v
	}
}

func joinIdents(names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = sqlIdent(n)
	}
	return strings.Join(quoted, ", ")
}

// formatSQLiteTime formats a time as RFC3339Nano in UTC.
func formatSQLiteTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// parseSQLiteTime parses timestamps read back from SQLite: RFC3339Nano (what
// this package writes), RFC3339, and the space-separated forms other tools
// write. A value without zone is taken as UTC.
func parseSQLiteTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty time string")
	}

	layouts := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02 15:04:05Z07:00",
		"2006-01-02 15:04:05.999999999Z07:00",
		"2006-01-02 15:04:05",
	}
	for _, layout := range layouts {
		if ts, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unsupported time format: %q", s)
}

var _ storage.Repository = (*Repo)(nil)
