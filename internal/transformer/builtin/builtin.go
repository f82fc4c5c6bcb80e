// Package builtin contains small value transforms used by the parsers and the
// opinion cleaner.
package builtin

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// HasEdgeSpace reports whether s starts or ends with a space or tab. It lets
// callers skip strings.TrimSpace on the common clean path.
func HasEdgeSpace(s string) bool {
	if s == "" {
		return false
	}
	return s[0] == ' ' || s[len(s)-1] == ' ' || s[0] == '\t' || s[len(s)-1] == '\t'
}

// ErrBadDate is wrapped by ParseTime when no layout matches.
var ErrBadDate = errors.New("unparseable date")

// ParseTime parses s with the first matching layout. Values without a zone
// are taken as UTC. An empty or blank s returns ok=false and no error.
func ParseTime(s string, layouts []string) (t time.Time, ok bool, err error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false, nil
	}
	for _, layout := range layouts {
		if ts, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return ts, true, nil
		}
	}
	return time.Time{}, false, fmt.Errorf("%w: %q", ErrBadDate, s)
}

// ErrBadScore is wrapped by ParseScore for non-numeric input.
var ErrBadScore = errors.New("non-numeric score")

// ParseScore parses a rating such as "4", "4.5" or "4,5". A blank value
// returns ok=false and no error.
func ParseScore(s string) (v float64, ok bool, err error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false, nil
	}
	if strings.Count(s, ",") == 1 && !strings.Contains(s, ".") {
		s = strings.Replace(s, ",", ".", 1)
	}
	f, perr := strconv.ParseFloat(s, 64)
	if perr != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false, fmt.Errorf("%w: %q", ErrBadScore, s)
	}
	return f, true, nil
}

// StripHTML returns the visible text of an HTML fragment with whitespace
// runs collapsed to single spaces. Plain text without markup is returned
// trimmed and otherwise unchanged.
func StripHTML(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return strings.TrimSpace(s)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return strings.TrimSpace(s)
	}
	doc.Find("script, style").Remove()
	return strings.Join(strings.Fields(doc.Text()), " ")
}
