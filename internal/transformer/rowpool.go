// Package transformer holds the row plumbing shared by the parsers and the
// opinion pipeline: a pooled positional Row and canonical row hashing for
// duplicate detection.
package transformer

import "sync"

// Row is a pooled positional record produced by a parser. V is aligned to the
// column list the parser was given.
//
// Ownership contract:
//   - Exactly one goroutine owns a Row at a time.
//   - Sending a Row on a channel transfers ownership.
//   - The final consumer calls Free once nothing references r or r.V.
//
// On cancellation paths use Drop instead of Free: a downstream stage may still
// be reading the row while the parser unwinds, and re-pooling it would let the
// parser overwrite it concurrently.
type Row struct {
	V    []any
	Line int // 1-based physical record number in the source, header included
}

var rowPool sync.Pool

// GetRow returns a Row with len(V) == colCount and every element nil.
func GetRow(colCount int) *Row {
	if v := rowPool.Get(); v != nil {
		r := v.(*Row)
		if cap(r.V) < colCount {
			r.V = make([]any, colCount)
		}
		r.V = r.V[:colCount]
		for i := range r.V {
			r.V[i] = nil
		}
		r.Line = 0
		return r
	}
	return &Row{V: make([]any, colCount)}
}

// Free returns the Row to the pool.
func (r *Row) Free() {
	rowPool.Put(r)
}

// Drop discards the Row without re-pooling it.
func (r *Row) Drop() {
	r.V = nil
	r.Line = 0
}
