package storage

import "fmt"

// RowsPerStatement returns how many rows of width columns fit in one INSERT.
//
// batchSize is the configured cap (<=0 means no cap). paramLimit is the
// backend's bind-parameter limit (<=0 means none). The result is at least 1.
func RowsPerStatement(batchSize, columns, paramLimit int) int {
	n := batchSize
	if paramLimit > 0 && columns > 0 {
		byParams := paramLimit / columns
		if n <= 0 || byParams < n {
			n = byParams
		}
	}
	if n < 1 {
		n = 1
	}
	return n
}

// CheckRows verifies that every row has exactly len(columns) values.
func CheckRows(table string, columns []string, rows [][]any) error {
	if table == "" {
		return fmt.Errorf("insert: table is empty")
	}
	if len(columns) == 0 {
		return fmt.Errorf("insert %s: columns is empty", table)
	}
	for i, r := range rows {
		if len(r) != len(columns) {
			return fmt.Errorf("insert %s: row %d has %d values, want %d", table, i, len(r), len(columns))
		}
	}
	return nil
}
