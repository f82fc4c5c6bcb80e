package storage

import (
	"fmt"
	"strconv"
	"strings"
)

// NormalizeKey converts a key value to a canonical string form so keys read
// from CSV (always text) compare equal to keys read back from any backend
// (text, integer or float columns). "P001", " P001 " and []byte("P001") all
// normalize to "P001"; int64(7) and float64(7) both normalize to "7".
func NormalizeKey(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case []byte:
		return strings.TrimSpace(string(t))
	case int:
		return strconv.Itoa(t)
	case int32:
		return strconv.FormatInt(int64(t), 10)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}
