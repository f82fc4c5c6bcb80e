package csv

import (
	"bytes"
	"context"
	"errors"
	"io"
	"reflect"
	"strings"
	"testing"

	"golang.org/x/text/encoding/charmap"

	"feedbacketl/internal/config"
	"feedbacketl/internal/parser"
	"feedbacketl/internal/transformer"
)

var surveyColumns = []string{"ProductoID", "ClienteID", "Comentario", "Puntuacion", "Fecha"}

var surveyHeaderMap = map[string]string{
	"IdProducto":          "ProductoID",
	"IdCliente":           "ClienteID",
	"PuntajeSatisfacción": "Puntuacion",
}

type lineErr struct {
	line int
	err  error
}

func collect(t *testing.T, ctx context.Context, r io.Reader, columns []string, opt config.Options) ([][]any, []int, []lineErr, error) {
	t.Helper()

	out := make(chan *transformer.Row, 16)
	var errs []lineErr
	done := make(chan error, 1)
	go func() {
		done <- StreamCSVRows(ctx, io.NopCloser(r), columns, opt, out, func(line int, err error) {
			errs = append(errs, lineErr{line, err})
		})
		close(out)
	}()

	var rows [][]any
	var lines []int
	for row := range out {
		rows = append(rows, append([]any(nil), row.V...))
		lines = append(lines, row.Line)
		row.Free()
	}
	return rows, lines, errs, <-done
}

func TestStreamCSVRows_HeaderMapAndBlanks(t *testing.T) {
	input := "\uFEFFIdProducto,IdCliente,Comentario,PuntajeSatisfacción,Fecha,Canal\n" +
		"P001, C17 ,Excelente producto,5,2024-05-01,web\n" +
		"P002,C18,,,2024-05-02,tienda\n"

	opt := config.Options{"header_map": surveyHeaderMap, "required_columns": []string{"ProductoID", "Fecha"}}
	rows, lines, errs, err := collect(t, context.Background(), strings.NewReader(input), surveyColumns, opt)
	if err != nil {
		t.Fatalf("StreamCSVRows: %v", err)
	}
	if len(errs) != 0 {
		t.Fatalf("onErr calls: %v", errs)
	}

	want := [][]any{
		{"P001", "C17", "Excelente producto", "5", "2024-05-01"},
		{"P002", "C18", nil, nil, "2024-05-02"},
	}
	if !reflect.DeepEqual(rows, want) {
		t.Fatalf("rows=%#v\nwant %#v", rows, want)
	}
	if !reflect.DeepEqual(lines, []int{2, 3}) {
		t.Fatalf("lines=%v, want [2 3]", lines)
	}
}

func TestStreamCSVRows_Windows1252AndSemicolon(t *testing.T) {
	utf8Text := "ProductoID;ClienteID;Comentario;Fecha\nP003;C1;Buena atención, llegó rápido;01/06/2024\n"
	encoded, err := charmap.Windows1252.NewEncoder().String(utf8Text)
	if err != nil {
		t.Fatal(err)
	}

	opt := config.Options{"comma": ";", "encoding": "windows-1252"}
	rows, _, _, err := collect(t, context.Background(), bytes.NewBufferString(encoded), []string{"ProductoID", "ClienteID", "Comentario", "Fecha"}, opt)
	if err != nil {
		t.Fatalf("StreamCSVRows: %v", err)
	}
	if len(rows) != 1 || rows[0][2] != "Buena atención, llegó rápido" {
		t.Fatalf("rows=%#v", rows)
	}
}

func TestStreamCSVRows_MissingRequiredColumn(t *testing.T) {
	input := "IdProducto,Comentario\nP001,hola\n"
	opt := config.Options{"header_map": surveyHeaderMap, "required_columns": "ProductoID,ClienteID"}

	rows, _, _, err := collect(t, context.Background(), strings.NewReader(input), surveyColumns, opt)
	if !errors.Is(err, parser.ErrMissingColumn) {
		t.Fatalf("err=%v, want ErrMissingColumn", err)
	}
	if len(rows) != 0 {
		t.Fatalf("rows=%v, want none", rows)
	}
}

func TestStreamCSVRows_MalformedRecordReportedAndSkipped(t *testing.T) {
	input := "ProductoID,Comentario\nP001,\"sin cerrar\nP002,ok\n"

	rows, _, errs, err := collect(t, context.Background(), strings.NewReader(input), []string{"ProductoID", "Comentario"}, nil)
	if err != nil {
		t.Fatalf("StreamCSVRows: %v", err)
	}
	if len(errs) != 1 || errs[0].line != 2 {
		t.Fatalf("onErr calls=%v, want one at line 2", errs)
	}
	if len(rows) != 0 {
		// The unterminated quote swallows the rest of the input.
		t.Fatalf("rows=%v, want none", rows)
	}
}

func TestStreamCSVRows_NoHeaderMapsByPosition(t *testing.T) {
	input := "P001,C1,texto\n"
	rows, lines, _, err := collect(t, context.Background(), strings.NewReader(input), []string{"ProductoID", "ClienteID", "Comentario"}, config.Options{"has_header": false})
	if err != nil {
		t.Fatalf("StreamCSVRows: %v", err)
	}
	if !reflect.DeepEqual(rows, [][]any{{"P001", "C1", "texto"}}) || lines[0] != 1 {
		t.Fatalf("rows=%v lines=%v", rows, lines)
	}
}

func TestStreamCSVRows_EmptyFile(t *testing.T) {
	_, _, errs, err := collect(t, context.Background(), strings.NewReader(""), surveyColumns, nil)
	if err == nil || !strings.Contains(err.Error(), "no header row") {
		t.Fatalf("err=%v, want empty-file error", err)
	}
	if len(errs) != 1 {
		t.Fatalf("onErr calls=%v, want 1", errs)
	}
}

func TestStreamCSVRows_UnsupportedEncoding(t *testing.T) {
	_, _, _, err := collect(t, context.Background(), strings.NewReader("a\n1\n"), []string{"a"}, config.Options{"encoding": "ebcdic"})
	if err == nil || !strings.Contains(err.Error(), "unsupported encoding") {
		t.Fatalf("err=%v", err)
	}
}

func TestStreamCSVRows_ContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out := make(chan *transformer.Row)
	err := StreamCSVRows(ctx, io.NopCloser(strings.NewReader("a\n1\n2\n")), []string{"a"}, nil, out, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err=%v, want context.Canceled", err)
	}
}
