// Package postgres is the PostgreSQL backend for storage.Repository, built on
// a pgx connection pool.
package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"feedbacketl/internal/metrics"
	"feedbacketl/internal/storage"
)

// paramLimit is the extended-protocol limit of 65535 bind parameters.
const paramLimit = 65535

var nativeTypes = map[string]string{
	storage.TypeKey:       "TEXT",
	storage.TypeText:      "TEXT",
	storage.TypeFloat:     "DOUBLE PRECISION",
	storage.TypeTimestamp: "TIMESTAMP",
}

// Repo implements storage.Repository for Postgres.
type Repo struct {
	pool      *pgxpool.Pool
	batchSize int
}

func init() {
	storage.Register("postgres", New)
}

// New creates the pool and pings it so a bad DSN fails at connect time.
func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return &Repo{pool: pool, batchSize: cfg.BatchSize}, nil
}

// Close closes the connection pool.
func (r *Repo) Close() {
	r.pool.Close()
}

// EnsureTables creates missing schemas and tables.
func (r *Repo) EnsureTables(ctx context.Context, tables []storage.TableSpec) error {
	for _, t := range tables {
		if !t.AutoCreateTable {
			continue
		}
		schemaSQL, tableSQL, err := buildCreateSQL(t)
		if err != nil {
			return err
		}
		if schemaSQL != "" {
			if _, err := r.pool.Exec(ctx, schemaSQL); err != nil {
				return fmt.Errorf("postgres: create schema for %s: %w", t.Name, err)
			}
		}
		if _, err := r.pool.Exec(ctx, tableSQL); err != nil {
			return fmt.Errorf("postgres: create table %s: %w", t.Name, err)
		}
	}
	return nil
}

// ResetTables deletes all rows from each table in order, in one transaction.
func (r *Repo) ResetTables(ctx context.Context, tables []string) error {
	if len(tables) == 0 {
		return nil
	}
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		for _, t := range tables {
			if _, err := tx.Exec(ctx, "DELETE FROM "+pgTableIdent(t)); err != nil {
				return fmt.Errorf("postgres: reset %s: %w", t, err)
			}
		}
		return nil
	})
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

	per := storage.RowsPerStatement(r.batchSize, len(columns), paramLimit)
	var total int64
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		for start := 0; start < len(rows); start += per {
			end := min(start+per, len(rows))

			q, args := buildInsertSQL(table, columns, rows[start:end])
			tag, err := tx.Exec(ctx, q, args...)
			if err != nil {
				return fmt.Errorf("postgres: insert %s rows %d-%d: %w", table, start, end-1, err)
			}
			metrics.RecordBatch(table)
			total += tag.RowsAffected()
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return total, nil
}

// SelectKeys reads every non-NULL keyColumn value as text.
func (r *Repo) SelectKeys(ctx context.Context, table, keyColumn string) (map[string]struct{}, error) {
	if table == "" || keyColumn == "" {
		return nil, fmt.Errorf("postgres: SelectKeys: table and keyColumn are required")
	}

	rows, err := r.pool.Query(ctx, buildSelectKeysSQL(table, keyColumn))
	if err != nil {
		return nil, fmt.Errorf("postgres: select keys %s.%s: %w", table, keyColumn, err)
	}
	keys, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("postgres: scan keys %s.%s: %w", table, keyColumn, err)
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
	col := pgIdent(keyColumn)
	return fmt.Sprintf("SELECT %s::text FROM %s WHERE %s IS NOT NULL", col, pgTableIdent(table), col)
}

// buildInsertSQL constructs a single INSERT with $N placeholders numbered
// from 1.
func buildInsertSQL(table string, columns []string, rows [][]any) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(pgTableIdent(table))
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
			fmt.Fprintf(&b, "$%d", p)
			args = append(args, row[j])
			p++
		}
		b.WriteString(")")
	}
	return b.String(), args
}

// buildCreateSQL returns an optional CREATE SCHEMA (for "schema.table" names)
// and the CREATE TABLE IF NOT EXISTS statement.
func buildCreateSQL(t storage.TableSpec) (schemaSQL, tableSQL string, err error) {
	if strings.TrimSpace(t.Name) == "" {
		return "", "", fmt.Errorf("postgres: table name is empty")
	}
	if schema, _ := splitQualifiedName(t.Name); schema != "" {
		schemaSQL = fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s;", pgIdent(schema))
	}

	defs := make([]string, 0, len(t.Columns)+2)
	if t.PrimaryKey != nil {
		pk := strings.TrimSpace(t.PrimaryKey.Name)
		if pk == "" {
			return "", "", fmt.Errorf("postgres: table %s: primary_key.name is required", t.Name)
		}
		typ := t.PrimaryKey.Type
		switch strings.ToLower(strings.TrimSpace(typ)) {
		case "identity", "int identity", "integer identity", "":
			typ = "INTEGER GENERATED ALWAYS AS IDENTITY"
		}
		defs = append(defs, fmt.Sprintf("%s %s PRIMARY KEY", pgIdent(pk), typ))
	}

	for _, c := range t.Columns {
		def, err := buildColumnDef(c)
		if err != nil {
			return "", "", fmt.Errorf("postgres: table %s: %w", t.Name, err)
		}
		defs = append(defs, def)
	}
	if len(t.Columns) == 0 {
		return "", "", fmt.Errorf("postgres: table %s has no columns", t.Name)
	}

	if keys := t.KeyColumns(); t.PrimaryKey == nil && len(keys) > 0 {
		defs = append(defs, "PRIMARY KEY ("+joinIdents(keys)+")")
	}

	tableSQL = fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s);", pgTableIdent(t.Name), strings.Join(defs, ", "))
	return schemaSQL, tableSQL, nil
}

func buildColumnDef(c storage.ColumnSpec) (string, error) {
	name := strings.TrimSpace(c.Name)
	typ := strings.TrimSpace(c.Type)
	if name == "" || typ == "" {
		return "", fmt.Errorf("column name/type must be set")
	}

	var b strings.Builder
	b.WriteString(pgIdent(name))
	b.WriteString(" ")
	b.WriteString(storage.NativeType(typ, nativeTypes))
	if !c.IsNullable() {
		b.WriteString(" NOT NULL")
	}
	if c.References != "" {
		tbl, col, ok := storage.SplitReference(c.References)
		if !ok {
			return "", fmt.Errorf("column %s: bad reference %q (want Table(Column))", name, c.References)
		}
		b.WriteString(" REFERENCES ")
		b.WriteString(pgTableIdent(tbl))
		b.WriteString("(")
		b.WriteString(pgIdent(col))
		b.WriteString(")")
	}
	return b.String(), nil
}

// splitQualifiedName splits "schema.table". Anything else is unqualified.
func splitQualifiedName(name string) (schema string, table string) {
	name = strings.TrimSpace(name)
	parts := strings.Split(name, ".")
	if len(parts) != 2 {
		return "", name
	}
	return strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
}

func pgIdent(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

func pgTableIdent(name string) string {
	if schema, table := splitQualifiedName(name); schema != "" {
		return pgx.Identifier{schema, table}.Sanitize()
	}
	return pgIdent(strings.TrimSpace(name))
}

func joinIdents(names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = pgIdent(n)
	}
	return strings.Join(quoted, ", ")
}

var _ storage.Repository = (*Repo)(nil)
