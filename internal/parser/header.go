// Package parser holds what the format-specific parsers share: header
// matching and the source-format switch.
package parser

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// ErrMissingColumn is wrapped when a required column has no matching header.
var ErrMissingColumn = errors.New("required column not found in header")

// Source formats.
const (
	FormatCSV  = "csv"
	FormatXLSX = "xlsx"
	FormatJSON = "json"
)

// DetectFormat returns explicit when set, otherwise infers the format from
// the file extension, defaulting to CSV.
func DetectFormat(path, explicit string) string {
	if f := strings.ToLower(strings.TrimSpace(explicit)); f != "" {
		return f
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm":
		return FormatXLSX
	case ".json", ".jsonl", ".ndjson":
		return FormatJSON
	default:
		return FormatCSV
	}
}

// HeaderKey is the comparison form of a header or column name: BOM removed,
// trimmed, NFC-normalized and lower-cased. NFC matters for exports that write
// "Satisfacción" with a combining accent.
func HeaderKey(s string) string {
	s = strings.TrimPrefix(s, "\uFEFF")
	return strings.ToLower(norm.NFC.String(strings.TrimSpace(s)))
}

// Renames turns a header_map into HeaderKey(from) -> HeaderKey(to).
func Renames(headerMap map[string]string) map[string]string {
	out := make(map[string]string, len(headerMap))
	for from, to := range headerMap {
		out[HeaderKey(from)] = HeaderKey(to)
	}
	return out
}

// MapHeader returns, for each of columns, the index of the header cell that
// feeds it, or -1. headerMap renames source headers; unmapped headers feed a
// column with the same name. When two headers resolve to one column the first
// wins. Every name in required must resolve.
func MapHeader(hdr []string, columns []string, headerMap map[string]string, required []string) ([]int, error) {
	renames := Renames(headerMap)

	srcToIdx := make(map[string]int, len(hdr))
	for i, h := range hdr {
		k := HeaderKey(h)
		if mapped, ok := renames[k]; ok {
			k = mapped
		}
		if _, dup := srcToIdx[k]; !dup {
			srcToIdx[k] = i
		}
	}

	colIx := make([]int, len(columns))
	for t, target := range columns {
		colIx[t] = -1
		if si, ok := srcToIdx[HeaderKey(target)]; ok {
			colIx[t] = si
		}
	}

	if err := CheckRequired(srcToIdx, required, hdr); err != nil {
		return nil, err
	}
	return colIx, nil
}

// CheckRequired reports the first name in required missing from present
// (keyed by HeaderKey). seen is only used in the error text.
func CheckRequired[V any](present map[string]V, required []string, seen []string) error {
	for _, req := range required {
		if _, ok := present[HeaderKey(req)]; !ok {
			return fmt.Errorf("%w: %s (header: %s)", ErrMissingColumn, req, strings.Join(seen, ", "))
		}
	}
	return nil
}
