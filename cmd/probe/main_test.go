package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"feedbacketl/internal/multitable"
)

func inputs() map[string]string {
	return map[string]string{
		"fuente_datos.csv":    "IdFuente,TipoFuente,FechaCarga\nF001,Web,2024-01-10\nF002,Encuesta,2024-01-10\n",
		"products.csv":        "IdProducto,Nombre,Categoria\nP001,Laptop,Electronica\n",
		"clients.csv":         "IdCliente,NombreCompleto,CorreoElectronico\nC001,Ana,ana@example.com\n",
		"surveys_part1.csv":   "IdCliente,IdProducto,PuntajeSatisfacción,Comentario,Fecha\nC001,P001,5,,2024-05-01\nC001,P001,4,Bien,2024-05-02\n",
		"web_reviews.csv":     "IdCliente,IdProducto,Rating,Comentario,Fecha\nC001,P001,4,Ok,2024-05-04\n",
		"social_comments.csv": "IdCliente,IdProducto,Comentario,Fecha\nC001,P001,Hola,2024-05-07\n",
	}
}

func memOpen(files map[string]string) multitable.OpenFunc {
	return func(path string) (io.ReadCloser, error) {
		body, ok := files[filepath.Base(path)]
		if !ok {
			return nil, fmt.Errorf("open %s: %w", path, os.ErrNotExist)
		}
		return io.NopCloser(strings.NewReader(body)), nil
	}
}

func TestRun_TableOutput(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{"-data-dir", "in"}, &stdout, &stderr, memOpen(inputs()))
	if code != 0 {
		t.Fatalf("exit code=%d; stdout=%q stderr=%q", code, stdout.String(), stderr.String())
	}
	out := stdout.String()
	for _, want := range []string{"NAME", "surveys_part1.csv", "Comentario=1", "Puntuacion=2"} {
		if !strings.Contains(out, want) {
			t.Fatalf("stdout missing %q:\n%s", want, out)
		}
	}
}

func TestRun_JSONOutputAndFailure(t *testing.T) {
	files := inputs()
	delete(files, "web_reviews.csv")

	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{"-json", "-rows", "1"}, &stdout, &stderr, memOpen(files))
	if code != 1 {
		t.Fatalf("exit code=%d, want 1", code)
	}

	var reports []fileReport
	if err := json.Unmarshal(stdout.Bytes(), &reports); err != nil {
		t.Fatalf("decode report: %v\n%s", err, stdout.String())
	}
	if len(reports) != 6 {
		t.Fatalf("got %d reports, want 6", len(reports))
	}
	byName := map[string]fileReport{}
	for _, r := range reports {
		byName[r.Name] = r
	}
	if r := byName["surveys"]; r.Rows != 1 || !r.Truncated {
		t.Fatalf("surveys report=%+v, want 1 truncated row", r)
	}
	if r := byName["web_reviews"]; !strings.Contains(r.Error, "web_reviews.csv") {
		t.Fatalf("web_reviews error=%q", r.Error)
	}
}

func TestRun_UsageErrors(t *testing.T) {
	for _, args := range [][]string{{"-nope"}, {"extra"}, {"-rows", "-1"}} {
		var stdout, stderr bytes.Buffer
		if code := run(context.Background(), args, &stdout, &stderr, memOpen(inputs())); code != 2 {
			t.Fatalf("args %v: exit code=%d, want 2", args, code)
		}
	}
}
