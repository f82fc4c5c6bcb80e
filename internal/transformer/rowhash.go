package transformer

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// fieldSep separates values in the canonical form. ASCII unit separator
// cannot appear in CSV text that survived trimming.
const fieldSep = "\x1f"

// RowHash returns the lowercase hex SHA-256 of the canonical form of values.
// Two rows hash equal exactly when every position holds the same canonical
// value: nil, "" and "null" are distinct, numbers use the shortest exact
// representation, and times are compared as UTC instants.
func RowHash(values []any) string {
	var b strings.Builder
	var scratch [64]byte
	for i, v := range values {
		if i > 0 {
			b.WriteString(fieldSep)
		}
		appendCanonicalValue(&b, v, &scratch)
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// Deduper remembers row hashes and reports first occurrences. The zero value
// is not usable; call NewDeduper.
type Deduper struct {
	seen map[string]struct{}
}

// NewDeduper returns an empty Deduper sized for about n rows.
func NewDeduper(n int) *Deduper {
	return &Deduper{seen: make(map[string]struct{}, n)}
}

// Add records values and reports whether this is the first time an equal row
// has been added.
func (d *Deduper) Add(values []any) bool {
	h := RowHash(values)
	if _, dup := d.seen[h]; dup {
		return false
	}
	d.seen[h] = struct{}{}
	return true
}

// Len is the number of distinct rows added so far.
func (d *Deduper) Len() int { return len(d.seen) }

func appendCanonicalValue(b *strings.Builder, v any, scratch *[64]byte) {
	switch t := v.(type) {
	case nil:
		// NUL keeps a missing value distinct from the string "null".
		b.WriteByte(0)

	case string:
		b.WriteByte('s')
		b.WriteString(t)

	case []byte:
		b.WriteByte('s')
		b.Write(t)

	case bool:
		if t {
			b.WriteString("btrue")
		} else {
			b.WriteString("bfalse")
		}

	case int:
		b.WriteByte('n')
		b.Write(strconv.AppendInt(scratch[:0], int64(t), 10))
	case int32:
		b.WriteByte('n')
		b.Write(strconv.AppendInt(scratch[:0], int64(t), 10))
	case int64:
		b.WriteByte('n')
		b.Write(strconv.AppendInt(scratch[:0], t, 10))

	case float32:
		b.WriteByte('n')
		b.Write(strconv.AppendFloat(scratch[:0], float64(t), 'g', -1, 32))
	case float64:
		b.WriteByte('n')
		b.Write(strconv.AppendFloat(scratch[:0], t, 'g', -1, 64))

	case time.Time:
		tt := t
		if !tt.IsZero() {
			tt = tt.UTC()
		}
		b.WriteByte('t')
		b.WriteString(tt.Format(time.RFC3339Nano))

	default:
		b.WriteByte('?')
		b.WriteString(fmt.Sprintf("%v", t))
	}
}
