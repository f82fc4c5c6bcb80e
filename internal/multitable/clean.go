package multitable

import (
	"fmt"

	"feedbacketl/internal/transformer"
	"feedbacketl/internal/transformer/builtin"
)

// cleaner applies the fact-row cleaning rules.
type cleaner struct {
	placeholder string
	layouts     []string
}

// clean fills absent comments, parses scores and dates, then drops exact
// duplicates keeping the first. A comment of only spaces is not absent. Any unparseable score or date fails the
// whole batch. Returns the rows to load and the number of duplicates.
func (c cleaner) clean(rows []opinion) ([][]any, int, error) {
	for _, r := range rows {
		if err := c.cleanRow(r.V); err != nil {
			return nil, 0, fmt.Errorf("%s line %d: %w", r.File, r.Line, err)
		}
	}

	seen := transformer.NewDeduper(len(rows))
	out := make([][]any, 0, len(rows))
	for _, r := range rows {
		if seen.Add(r.V) {
			out = append(out, r.V)
		}
	}
	return out, len(rows) - seen.Len(), nil
}

func (c cleaner) cleanRow(v []any) error {
	if s, ok := v[opComment].(string); !ok || s == "" {
		v[opComment] = c.placeholder
	}

	if s, ok := v[opScore].(string); ok {
		f, ok, err := builtin.ParseScore(s)
		if err != nil {
			return fmt.Errorf("%s: %w", OpinionColumns[opScore], err)
		}
		v[opScore] = nil
		if ok {
			v[opScore] = f
		}
	}

	if s, ok := v[opDate].(string); ok {
		t, ok, err := builtin.ParseTime(s, c.layouts)
		if err != nil {
			return fmt.Errorf("%s: %w", OpinionColumns[opDate], err)
		}
		v[opDate] = nil
		if ok {
			v[opDate] = t
		}
	}
	return nil
}
