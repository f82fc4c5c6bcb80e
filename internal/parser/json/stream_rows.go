// Package json streams JSON exports (a root array, an envelope object holding
// an array of records, a single object, or JSON Lines) into pooled rows.
package json

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"
	"strconv"
	"strings"

	"feedbacketl/internal/config"
	"feedbacketl/internal/parser"
	"feedbacketl/internal/transformer"
)

// StreamJSONRows decodes src and sends one pooled *transformer.Row per record
// object, aligned to columns. It closes src.
//
// Shapes:
//   - root array: each element is a record
//   - root object whose first array field holds the records (envelope); the
//     other fields are skipped
//   - root object with no array field: one record
//   - any of the above followed by further objects (JSON Lines)
//
// Options: header_map, required_columns (checked against the first record),
// array_join_separator (default ","), trim_space (default true). Keys match
// columns the way CSV headers do. Numbers keep their literal text. Empty
// strings and nested objects become nil. Row.Line is the 1-based record
// ordinal.
func StreamJSONRows(
	ctx context.Context,
	src io.ReadCloser,
	columns []string,
	opt config.Options,
	out chan<- *transformer.Row,
	onErr func(line int, err error),
) error {
	defer src.Close()

	s := &streamer{
		ctx:      ctx,
		dec:      json.NewDecoder(src),
		columns:  columns,
		renames:  parser.Renames(opt.StringMap("header_map")),
		required: opt.Strings("required_columns"),
		sep:      opt.String("array_join_separator", ","),
		trim:     opt.Bool("trim_space", true),
		out:      out,
		onErr:    onErr,
	}
	s.dec.UseNumber()
	s.colKeys = make([]string, len(columns))
	for i, c := range columns {
		s.colKeys[i] = parser.HeaderKey(c)
	}

	tok, err := s.dec.Token()
	if errors.Is(err, io.EOF) {
		return nil
	}
	if err != nil {
		return s.fail(fmt.Errorf("json: read first token: %w", err))
	}

	switch tok {
	case json.Delim('['):
		if err := s.streamArray(); err != nil {
			return err
		}
	case json.Delim('{'):
		if err := s.streamRootObject(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("json: unsupported root token %v (want object or array)", tok)
	}
	return s.streamTrailing()
}

type streamer struct {
	ctx      context.Context
	dec      *json.Decoder
	columns  []string
	colKeys  []string
	renames  map[string]string
	required []string
	sep      string
	trim     bool
	out      chan<- *transformer.Row
	onErr    func(int, error)
	n        int
}

func (s *streamer) fail(err error) error {
	if s.onErr != nil {
		s.onErr(s.n+1, err)
	}
	return err
}

// streamArray consumes array elements up to and including the closing ']'.
func (s *streamer) streamArray() error {
	for s.dec.More() {
		var raw any
		if err := s.dec.Decode(&raw); err != nil {
			return s.fail(fmt.Errorf("json: decode array element: %w", err))
		}
		if raw == nil {
			continue
		}
		obj, ok := raw.(map[string]any)
		if !ok {
			return s.fail(fmt.Errorf("json: array element not an object (got %T)", raw))
		}
		if err := s.emit(obj); err != nil {
			return err
		}
	}
	_, err := s.dec.Token()
	return err
}

// streamRootObject runs after the root '{'. It consumes the closing '}'.
func (s *streamer) streamRootObject() error {
	single := make(map[string]any)
	streamed := false

	for s.dec.More() {
		keyTok, err := s.dec.Token()
		if err != nil {
			return s.fail(fmt.Errorf("json: read object key: %w", err))
		}
		key, _ := keyTok.(string)

		if streamed {
			var skip json.RawMessage
			if err := s.dec.Decode(&skip); err != nil {
				return s.fail(fmt.Errorf("json: skip field %q: %w", key, err))
			}
			continue
		}

		var raw json.RawMessage
		if err := s.dec.Decode(&raw); err != nil {
			return s.fail(fmt.Errorf("json: decode field %q: %w", key, err))
		}
		trimmed := strings.TrimSpace(string(raw))
		if strings.HasPrefix(trimmed, "[") {
			if err := s.emitArray(raw); err != nil {
				return err
			}
			streamed = true
			continue
		}
		var v any
		if err := unmarshalNumber(raw, &v); err != nil {
			return s.fail(fmt.Errorf("json: decode field %q: %w", key, err))
		}
		single[key] = v
	}
	if _, err := s.dec.Token(); err != nil {
		return s.fail(fmt.Errorf("json: read object end: %w", err))
	}

	if !streamed {
		return s.emit(single)
	}
	return nil
}

// emitArray handles an envelope array that was read as one raw value.
func (s *streamer) emitArray(raw json.RawMessage) error {
	var elems []any
	if err := unmarshalNumber(raw, &elems); err != nil {
		return s.fail(fmt.Errorf("json: decode envelope array: %w", err))
	}
	for _, e := range elems {
		if e == nil {
			continue
		}
		obj, ok := e.(map[string]any)
		if !ok {
			return s.fail(fmt.Errorf("json: envelope element not an object (got %T)", e))
		}
		if err := s.emit(obj); err != nil {
			return err
		}
	}
	return nil
}

func (s *streamer) streamTrailing() error {
	for {
		var obj map[string]any
		err := s.dec.Decode(&obj)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return s.fail(fmt.Errorf("json: decode trailing object: %w", err))
		}
		if obj == nil {
			continue
		}
		if err := s.emit(obj); err != nil {
			return err
		}
	}
}

func (s *streamer) emit(obj map[string]any) error {
	if err := s.ctx.Err(); err != nil {
		return err
	}
	keyed := make(map[string]any, len(obj))
	for k, v := range obj {
		hk := parser.HeaderKey(k)
		if mapped, ok := s.renames[hk]; ok {
			hk = mapped
		}
		if _, dup := keyed[hk]; !dup {
			keyed[hk] = v
		}
	}

	if s.n == 0 && len(s.required) > 0 {
		if err := parser.CheckRequired(keyed, s.required, slices.Sorted(maps.Keys(obj))); err != nil {
			return err
		}
	}
	s.n++

	row := transformer.GetRow(len(s.columns))
	row.Line = s.n
	for i, k := range s.colKeys {
		row.V[i] = scalar(keyed[k], s.sep, s.trim)
	}

	select {
	case s.out <- row:
		return nil
	case <-s.ctx.Done():
		row.Drop()
		return s.ctx.Err()
	}
}

// scalar flattens a decoded JSON value into the string form the CSV parser
// produces. Empty strings become nil.
func scalar(v any, sep string, trim bool) any {
	switch t := v.(type) {
	case nil:
		return nil
	case string:
		if trim {
			t = strings.TrimSpace(t)
		}
		if t == "" {
			return nil
		}
		return t
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	case []any:
		parts := make([]string, 0, len(t))
		for _, it := range t {
			if sv, ok := scalar(it, sep, trim).(string); ok {
				parts = append(parts, sv)
			}
		}
		if len(parts) == 0 {
			return nil
		}
		return strings.Join(parts, sep)
	default:
		return nil
	}
}

func unmarshalNumber(raw json.RawMessage, v any) error {
	d := json.NewDecoder(strings.NewReader(string(raw)))
	d.UseNumber()
	return d.Decode(v)
}
