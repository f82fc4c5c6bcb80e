package storage

import "strings"

// Portable column kinds. Backends translate them into native types; any other
// Type string is passed to the database verbatim.
const (
	TypeKey       = "key"       // short identifier text
	TypeText      = "text"      // unbounded text
	TypeFloat     = "float"     // double precision
	TypeTimestamp = "timestamp" // date and time without zone
)

// TableSpec describes a table for EnsureTables.
type TableSpec struct {
	Name            string          `json:"name"`
	AutoCreateTable bool            `json:"auto_create_table"`
	PrimaryKey      *PrimaryKeySpec `json:"primary_key,omitempty"`
	Columns         []ColumnSpec    `json:"columns"`
}

// PrimaryKeySpec is a surrogate identity column created ahead of Columns.
type PrimaryKeySpec struct {
	Name string `json:"name"`
	Type string `json:"type"` // "identity", "serial", "bigserial" or a native type
}

// ColumnSpec is one column. A column with Key=true is the table's natural
// primary key; it is ignored when PrimaryKey is set.
type ColumnSpec struct {
	Name       string `json:"name"`
	Type       string `json:"type"`
	Key        bool   `json:"key,omitempty"`
	References string `json:"references,omitempty"` // "Table(Column)"
	Nullable   *bool  `json:"nullable,omitempty"`
}

// IsNullable reports the column's nullability. Key columns are never null;
// other columns default to nullable.
func (c ColumnSpec) IsNullable() bool {
	if c.Key {
		return false
	}
	if c.Nullable != nil {
		return *c.Nullable
	}
	return true
}

// KeyColumns returns the names of the natural key columns, in order.
func (t TableSpec) KeyColumns() []string {
	var out []string
	for _, c := range t.Columns {
		if c.Key {
			out = append(out, c.Name)
		}
	}
	return out
}

// NativeType maps a portable kind through native. Unknown kinds are
// returned unchanged.
func NativeType(typ string, native map[string]string) string {
	if v, ok := native[strings.ToLower(strings.TrimSpace(typ))]; ok {
		return v
	}
	return typ
}

// SplitReference splits "Table(Column)" into its parts. ok is false when ref
// does not have that shape.
func SplitReference(ref string) (table, column string, ok bool) {
	ref = strings.TrimSpace(ref)
	open := strings.IndexByte(ref, '(')
	if open <= 0 || !strings.HasSuffix(ref, ")") {
		return "", "", false
	}
	table = strings.TrimSpace(ref[:open])
	column = strings.TrimSpace(ref[open+1 : len(ref)-1])
	if table == "" || column == "" {
		return "", "", false
	}
	return table, column, true
}

// BoolPtr is a convenience for ColumnSpec.Nullable.
func BoolPtr(b bool) *bool { return &b }
