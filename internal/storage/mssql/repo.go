// Package mssql is the SQL Server backend for storage.Repository.
//
// It talks to the server through database/sql and the "sqlserver" driver
// from github.com/microsoft/go-mssqldb, wrapped by sqlx for key scans. The
// driver is blank-imported by internal/storage/all, not here.
package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"feedbacketl/internal/metrics"
	"feedbacketl/internal/storage"
)

// paramLimit stays under SQL Server's hard limit of 2100 bind parameters.
const paramLimit = 2000

// nativeTypes maps portable column kinds to SQL Server types. Key columns use
// a bounded NVARCHAR so they can carry PRIMARY KEY and REFERENCES.
var nativeTypes = map[string]string{
	storage.TypeKey:       "NVARCHAR(64)",
	storage.TypeText:      "NVARCHAR(MAX)",
	storage.TypeFloat:     "FLOAT",
	storage.TypeTimestamp: "DATETIME2",
}

// Repo implements storage.Repository for Microsoft SQL Server.
type Repo struct {
	db        dbConn
	batchSize int
}

func init() {
	storage.Register("mssql", New)
}

// New opens a connection pool and verifies it with a ping. The "sqlserver"
// driver must already be registered with database/sql.
func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	raw, err := sqlx.Open("sqlserver", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("mssql: open: %w", err)
	}
	raw.SetMaxOpenConns(8)
	raw.SetMaxIdleConns(8)

	if err := raw.PingContext(ctx); err != nil {
		_ = raw.Close()
		return nil, fmt.Errorf("mssql: ping: %w", err)
	}
	return &Repo{db: &sqlxDB{db: raw}, batchSize: cfg.BatchSize}, nil
}

// Close releases the pool.
func (r *Repo) Close() {
	if r == nil || r.db == nil {
		return
	}
	_ = r.db.Close()
}

// EnsureTables runs one guarded CREATE TABLE per spec. Safe to run on every
// invocation.
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
			return fmt.Errorf("mssql: create table %s: %w", t.Name, err)
		}
	}
	return nil
}

// ResetTables issues DELETE FROM for each table in order, in one transaction.
// DELETE is used rather than TRUNCATE because TRUNCATE is refused on tables
// referenced by a foreign key.
func (r *Repo) ResetTables(ctx context.Context, tables []string) error {
	if len(tables) == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("mssql: reset: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, t := range tables {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+mssqlTableIdent(t)+";"); err != nil {
			return fmt.Errorf("mssql: reset %s: %w", t, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("mssql: reset: commit: %w", err)
	}
	return nil
}

// InsertRows writes rows in multi-row INSERT statements sized to stay under
// the parameter limit, all inside one transaction.
func (r *Repo) InsertRows(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if err := storage.CheckRows(table, columns, rows); err != nil {
		return 0, err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("mssql: insert %s: begin tx: %w", table, err)
	}
	defer func() { _ = tx.Rollback() }()

	per := storage.RowsPerStatement(r.batchSize, len(columns), paramLimit)
	var total int64
	for start := 0; start < len(rows); start += per {
		end := min(start+per, len(rows))

		q, args := buildBulkInsertSQL(table, columns, rows[start:end])
		res, err := tx.ExecContext(ctx, q, args...)
		if err != nil {
			return 0, fmt.Errorf("mssql: insert %s rows %d-%d: %w", table, start, end-1, err)
		}
		metrics.RecordBatch(table)
		if n, err := res.RowsAffected(); err == nil {
			total += n
		} else {
			total += int64(end - start)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("mssql: insert %s: commit: %w", table, err)
	}
	return total, nil
}

// SelectKeys reads every non-NULL keyColumn value as text.
func (r *Repo) SelectKeys(ctx context.Context, table, keyColumn string) (map[string]struct{}, error) {
	if table == "" || keyColumn == "" {
		return nil, fmt.Errorf("mssql: SelectKeys: table and keyColumn are required")
	}

	var keys []string
	if err := r.db.SelectContext(ctx, &keys, buildSelectKeysSQL(table, keyColumn)); err != nil {
		return nil, fmt.Errorf("mssql: select keys %s.%s: %w", table, keyColumn, err)
	}

	out := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		if nk := storage.NormalizeKey(k); nk != "" {
			out[nk] = struct{}{}
		}
	}
	return out, nil
}

func buildSelectKeysSQL(table, keyColumn string) string {
	col := mssqlIdent(keyColumn)
	return fmt.Sprintf("SELECT CAST(%s AS NVARCHAR(4000)) AS k FROM %s WHERE %s IS NOT NULL",
		col, mssqlTableIdent(table), col)
}

// buildCreateSQL renders CREATE TABLE wrapped in an OBJECT_ID guard, since
// SQL Server has no CREATE TABLE IF NOT EXISTS.
func buildCreateSQL(t storage.TableSpec) (string, error) {
	if strings.TrimSpace(t.Name) == "" {
		return "", fmt.Errorf("mssql: table name is empty")
	}
	if len(t.Columns) == 0 {
		return "", fmt.Errorf("mssql: table %s has no columns", t.Name)
	}

	var parts []string
	if t.PrimaryKey != nil {
		def, err := mssqlPrimaryKeyDef(*t.PrimaryKey)
		if err != nil {
			return "", err
		}
		parts = append(parts, def)
	}

	for _, c := range t.Columns {
		def, err := mssqlColumnDef(c)
		if err != nil {
			return "", fmt.Errorf("mssql: table %s: %w", t.Name, err)
		}
		parts = append(parts, def)
	}

	if keys := t.KeyColumns(); t.PrimaryKey == nil && len(keys) > 0 {
		parts = append(parts, "PRIMARY KEY ("+joinIdents(keys)+")")
	}

	return fmt.Sprintf(
		"IF OBJECT_ID(N'%s', N'U') IS NULL BEGIN CREATE TABLE %s (%s); END;",
		strings.ReplaceAll(t.Name, "'", "''"),
		mssqlTableIdent(t.Name),
		strings.Join(parts, ", "),
	), nil
}

// mssqlPrimaryKeyDef renders a surrogate key column. "identity" and "serial"
// become INT IDENTITY(1,1); "bigserial" becomes BIGINT IDENTITY(1,1).
func mssqlPrimaryKeyDef(pk storage.PrimaryKeySpec) (string, error) {
	if strings.TrimSpace(pk.Name) == "" {
		return "", fmt.Errorf("mssql: primary key name is empty")
	}
	switch strings.ToLower(strings.TrimSpace(pk.Type)) {
	case "serial", "int identity", "integer identity", "identity", "":
		return fmt.Sprintf("%s INT IDENTITY(1,1) PRIMARY KEY", mssqlIdent(pk.Name)), nil
	case "bigserial":
		return fmt.Sprintf("%s BIGINT IDENTITY(1,1) PRIMARY KEY", mssqlIdent(pk.Name)), nil
	default:
		return fmt.Sprintf("%s %s PRIMARY KEY", mssqlIdent(pk.Name), pk.Type), nil
	}
}

func mssqlColumnDef(c storage.ColumnSpec) (string, error) {
	if strings.TrimSpace(c.Name) == "" {
		return "", fmt.Errorf("column name is empty")
	}
	if strings.TrimSpace(c.Type) == "" {
		return "", fmt.Errorf("column %s type is empty", c.Name)
	}

	var b strings.Builder
	b.WriteString(mssqlIdent(c.Name))
	b.WriteString(" ")
	b.WriteString(storage.NativeType(c.Type, nativeTypes))
	if c.IsNullable() {
		b.WriteString(" NULL")
	} else {
		b.WriteString(" NOT NULL")
	}
	if c.References != "" {
		tbl, col, ok := storage.SplitReference(c.References)
		if !ok {
			return "", fmt.Errorf("column %s: bad reference %q (want Table(Column))", c.Name, c.References)
		}
		b.WriteString(" REFERENCES ")
		b.WriteString(mssqlTableIdent(tbl))
		b.WriteString("(")
		b.WriteString(mssqlIdent(col))
		b.WriteString(")")
	}
	return b.String(), nil
}

// buildBulkInsertSQL builds one INSERT ... VALUES statement with @pN
// placeholders numbered from 1.
func buildBulkInsertSQL(table string, columns []string, rows [][]any) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(mssqlTableIdent(table))
	b.WriteString(" (")
	b.WriteString(joinIdents(columns))
	b.WriteString(") VALUES ")

	args := make([]any, 0, len(rows)*len(columns))
	p := 1
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		for j := range columns {
			if j > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "@p%d", p)
			args = append(args, row[j])
			p++
		}
		b.WriteString(")")
	}
	return b.String(), args
}

func joinIdents(names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = mssqlIdent(n)
	}
	return strings.Join(quoted, ", ")
}

// mssqlIdent returns a bracket-quoted identifier, escaping ']' as ']]'.
func mssqlIdent(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}

// mssqlTableIdent quotes each part of a schema-qualified name:
// "dbo.Opiniones" -> [dbo].[Opiniones].
func mssqlTableIdent(name string) string {
	parts := strings.Split(name, ".")
	for i := range parts {
		parts[i] = mssqlIdent(strings.TrimSpace(parts[i]))
	}
	return strings.Join(parts, ".")
}

// ---- database seam types ----

// dbConn is the subset of *sqlx.DB this package uses.
type dbConn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
	BeginTx(ctx context.Context, opts *sql.TxOptions) (txConn, error)
	Close() error
}

// txConn is the subset of *sqlx.Tx this package uses.
type txConn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	Commit() error
	Rollback() error
}

type sqlxDB struct {
	db *sqlx.DB
}

func (s *sqlxDB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, query, args...)
}

func (s *sqlxDB) SelectContext(ctx context.Context, dest any, query string, args ...any) error {
	return s.db.SelectContext(ctx, dest, query, args...)
}

func (s *sqlxDB) BeginTx(ctx context.Context, opts *sql.TxOptions) (txConn, error) {
	tx, err := s.db.BeginTxx(ctx, opts)
	if err != nil {
		return nil, err
	}
	return tx, nil
}

func (s *sqlxDB) Close() error { return s.db.Close() }

var (
	_ dbConn             = (*sqlxDB)(nil)
	_ txConn             = (*sqlx.Tx)(nil)
	_ storage.Repository = (*Repo)(nil)
)
