package multitable

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"feedbacketl/internal/config"
	"feedbacketl/internal/storage"
)

// fixtureFiles is a small but complete input set:
//   - 8 consolidated opinions
//   - one survey row with an unknown customer (C999)
//   - one social row with an unknown product (P999)
//   - one exact duplicate survey row
//   - one survey row without a comment
func fixtureFiles() map[string]string {
	return map[string]string{
		"fuente_datos.csv": "IdFuente,TipoFuente,FechaCarga\n" +
			"F001,Web,2024-01-10\n" +
			"F002,Encuesta,2024-01-10\n" +
			"F005,Redes sociales,2024-01-10 08:30:00\n",
		"products.csv": "IdProducto,Nombre,Categoría\n" +
			"P001,Laptop,Electrónica\n" +
			"P002,Café molido,Alimentos\n",
		"clients.csv": "IdCliente,NombreCompleto,CorreoElectronico\n" +
			"C001,Ana Pérez,ana@example.com\n" +
			"C002,Luis Gómez,luis@example.com\n",
		"surveys_part1.csv": "IdCliente,IdProducto,PuntajeSatisfacción,Comentario,Fecha\n" +
			"C001,P001,5,Excelente,2024-05-01\n" +
			"C002,P002,3,,2024-05-02\n" +
			"C001,P001,5,Excelente,2024-05-01\n" +
			"C999,P001,4,Cliente desconocido,2024-05-03\n",
		"web_reviews.csv": "IdCliente,IdProducto,Rating,Comentario,Fecha\n" +
			"C002,P001,4,<p>Muy <b>buena</b> compra</p>,2024-05-04\n" +
			"C001,P002,\"4,5\",Rico,05/06/2024\n",
		"social_comments.csv": "IdCliente,IdProducto,Comentario,Fecha\n" +
			"C001,P999,Producto inexistente,2024-05-07\n" +
			"C002,P002,Me encanta,2024-05-08T10:15:00\n",
	}
}

// memOpen serves files by base name.
func memOpen(files map[string]string) OpenFunc {
	return func(path string) (io.ReadCloser, error) {
		body, ok := files[filepath.Base(path)]
		if !ok {
			return nil, fmt.Errorf("open %s: %w", path, os.ErrNotExist)
		}
		return io.NopCloser(strings.NewReader(body)), nil
	}
}

// testPipeline is the default pipeline pointed at a data dir, with an
// explicit DSN so validation passes without SQL Server settings.
func testPipeline() config.Pipeline {
	p := config.Default()
	p.DataDir = "data"
	p.Storage.Kind = "sqlite"
	p.Storage.DSN = "unused"
	p.Runtime.StrictReset = false
	return p
}

type fakeTable struct {
	columns []string
	rows    [][]any
}

// fakeRepo is an in-memory storage.Repository that records the call order.
type fakeRepo struct {
	mu     sync.Mutex
	tables map[string]*fakeTable
	calls  []string

	ensured  []storage.TableSpec
	resetErr error
	// insertErr fails InsertRows for the named table.
	insertErr map[string]error
	closed    int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{tables: map[string]*fakeTable{}, insertErr: map[string]error{}}
}

func (r *fakeRepo) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed++
}

func (r *fakeRepo) EnsureTables(_ context.Context, tables []storage.TableSpec) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, "ensure")
	r.ensured = append(r.ensured, tables...)
	return nil
}

func (r *fakeRepo) ResetTables(_ context.Context, tables []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, "reset:"+strings.Join(tables, ","))
	if r.resetErr != nil {
		return r.resetErr
	}
	for _, t := range tables {
		if ft, ok := r.tables[t]; ok {
			ft.rows = nil
		}
	}
	return nil
}

func (r *fakeRepo) InsertRows(_ context.Context, table string, columns []string, rows [][]any) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, "insert:"+table)
	if err := r.insertErr[table]; err != nil {
		return 0, err
	}
	if err := storage.CheckRows(table, columns, rows); err != nil {
		return 0, err
	}
	ft, ok := r.tables[table]
	if !ok {
		ft = &fakeTable{columns: append([]string(nil), columns...)}
		r.tables[table] = ft
	}
	for _, row := range rows {
		ft.rows = append(ft.rows, append([]any(nil), row...))
	}
	return int64(len(rows)), nil
}

func (r *fakeRepo) SelectKeys(_ context.Context, table, keyColumn string) (map[string]struct{}, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, "keys:"+table)
	out := map[string]struct{}{}
	ft, ok := r.tables[table]
	if !ok {
		return out, nil
	}
	ix := -1
	for i, c := range ft.columns {
		if c == keyColumn {
			ix = i
		}
	}
	if ix < 0 {
		return nil, fmt.Errorf("no column %s in %s", keyColumn, table)
	}
	for _, row := range ft.rows {
		if k := storage.NormalizeKey(row[ix]); k != "" {
			out[k] = struct{}{}
		}
	}
	return out, nil
}

func (r *fakeRepo) rows(table string) [][]any {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ft, ok := r.tables[table]; ok {
		return ft.rows
	}
	return nil
}

type fakeLogger struct {
	mu   sync.Mutex
	msgs []string
}

func (l *fakeLogger) Printf(format string, v ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.msgs = append(l.msgs, fmt.Sprintf(format, v...))
}

func (l *fakeLogger) contains(sub string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, m := range l.msgs {
		if strings.Contains(m, sub) {
			return true
		}
	}
	return false
}

func newTestRunner(files map[string]string, repo storage.Repository, logger Logger) *Runner {
	return &Runner{
		NewRepository: func(context.Context, storage.Config) (storage.Repository, error) {
			return repo, nil
		},
		Open:   memOpen(files),
		Logger: logger,
	}
}
