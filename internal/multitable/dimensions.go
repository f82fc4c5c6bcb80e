package multitable

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/jszwec/csvutil"

	"feedbacketl/internal/config"
	"feedbacketl/internal/parser"
	"feedbacketl/internal/parser/csv"
	"feedbacketl/internal/transformer/builtin"
)

// Master-data records, tagged with target column names. Source headers are
// renamed onto these tags before decoding.
type sourceRecord struct {
	ID       string      `csv:"FuenteID"`
	Name     string      `csv:"Nombre"`
	LoadedAt loadedAtCol `csv:"FechaCarga"`
}

type productRecord struct {
	ID       string `csv:"ProductoID"`
	Name     string `csv:"Nombre"`
	Category string `csv:"Categoria"`
}

type customerRecord struct {
	ID    string `csv:"ClienteID"`
	Name  string `csv:"Nombre"`
	Email string `csv:"Email"`
}

// loadedAtCol decodes FechaCarga with the default date layouts. Blank is
// NULL.
type loadedAtCol struct {
	t     time.Time
	valid bool
}

func (c *loadedAtCol) UnmarshalText(b []byte) error {
	t, ok, err := builtin.ParseTime(string(b), config.DefaultDateLayouts)
	if err != nil {
		return err
	}
	c.t, c.valid = t, ok
	return nil
}

func (c loadedAtCol) value() any {
	if !c.valid {
		return nil
	}
	return c.t
}

// Default source header -> target column renames for the master files.
var (
	sourceHeaderMap   = map[string]string{"IdFuente": "FuenteID", "TipoFuente": "Nombre"}
	productHeaderMap  = map[string]string{"IdProducto": "ProductoID", "Categoría": "Categoria"}
	customerHeaderMap = map[string]string{"IdCliente": "ClienteID", "NombreCompleto": "Nombre", "CorreoElectronico": "Email"}
)

// dimension binds one master file to its table.
type dimension struct {
	name    string
	table   string
	file    config.File
	columns []string
	renames map[string]string

	// decode reads every record and returns insert-ready rows.
	decode func(dec *csvutil.Decoder, file string) ([][]any, error)
}

func dimensionsFor(p config.Pipeline) []dimension {
	return []dimension{
		{name: "sources", table: p.Storage.Tables.Sources, file: p.Dimensions.Sources, columns: SourceColumns, renames: sourceHeaderMap, decode: decodeSources},
		{name: "products", table: p.Storage.Tables.Products, file: p.Dimensions.Products, columns: ProductColumns, renames: productHeaderMap, decode: decodeProducts},
		{name: "customers", table: p.Storage.Tables.Customers, file: p.Dimensions.Customers, columns: CustomerColumns, renames: customerHeaderMap, decode: decodeCustomers},
	}
}

// readDimension decodes a master file into rows aligned to d.columns. The
// header is renamed (defaults overlaid by options.header_map) and every
// target column must be present.
func readDimension(src io.Reader, d dimension) ([][]any, error) {
	file := filepath.Base(d.file.Path)

	cr, err := csv.NewReader(src, d.file.Options)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", file, err)
	}
	hdr, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%s: empty file: no header row", file)
		}
		return nil, fmt.Errorf("%s: read header: %w", file, err)
	}

	renames := make(map[string]string, len(d.renames))
	for k, v := range d.renames {
		renames[k] = v
	}
	for k, v := range d.file.Options.StringMap("header_map") {
		renames[k] = v
	}
	header := renameHeader(hdr, d.columns, renames)

	dec, err := csvutil.NewDecoder(cr, header...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", file, err)
	}
	dec.DisallowMissingColumns = true

	return d.decode(dec, file)
}

// renameHeader maps each source header onto the exact spelling of a target
// column when it matches one (after renames). Other headers, including
// repeats of a matched column, get a unique placeholder the decoder ignores.
func renameHeader(hdr, columns []string, renames map[string]string) []string {
	targets := make(map[string]string, len(columns))
	for _, c := range columns {
		targets[parser.HeaderKey(c)] = c
	}
	keyed := parser.Renames(renames)

	out := make([]string, len(hdr))
	used := make(map[string]bool, len(columns))
	for i, h := range hdr {
		k := parser.HeaderKey(h)
		if mapped, ok := keyed[k]; ok {
			k = mapped
		}
		if target, ok := targets[k]; ok && !used[target] {
			out[i] = target
			used[target] = true
			continue
		}
		out[i] = "-" + strconv.Itoa(i)
	}
	return out
}

func decodeErr(file string, record int, err error) error {
	return fmt.Errorf("%s record %d: %w", file, record, err)
}

func decodeSources(dec *csvutil.Decoder, file string) ([][]any, error) {
	var rows [][]any
	for {
		var r sourceRecord
		if err := dec.Decode(&r); err == io.EOF {
			return rows, nil
		} else if err != nil {
			return nil, decodeErr(file, len(rows)+1, err)
		}
		id, err := requireKey(file, len(rows)+1, "FuenteID", r.ID)
		if err != nil {
			return nil, err
		}
		rows = append(rows, []any{id, nullable(r.Name), r.LoadedAt.value()})
	}
}

func decodeProducts(dec *csvutil.Decoder, file string) ([][]any, error) {
	var rows [][]any
	for {
		var r productRecord
		if err := dec.Decode(&r); err == io.EOF {
			return rows, nil
		} else if err != nil {
			return nil, decodeErr(file, len(rows)+1, err)
		}
		id, err := requireKey(file, len(rows)+1, "ProductoID", r.ID)
		if err != nil {
			return nil, err
		}
		rows = append(rows, []any{id, nullable(r.Name), nullable(r.Category)})
	}
}

func decodeCustomers(dec *csvutil.Decoder, file string) ([][]any, error) {
	var rows [][]any
	for {
		var r customerRecord
		if err := dec.Decode(&r); err == io.EOF {
			return rows, nil
		} else if err != nil {
			return nil, decodeErr(file, len(rows)+1, err)
		}
		id, err := requireKey(file, len(rows)+1, "ClienteID", r.ID)
		if err != nil {
			return nil, err
		}
		rows = append(rows, []any{id, nullable(r.Name), nullable(r.Email)})
	}
}

func requireKey(file string, record int, column, v string) (string, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return "", fmt.Errorf("%s record %d: empty %s", file, record, column)
	}
	return v, nil
}

// nullable trims s and maps blank to NULL.
func nullable(s string) any {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return s
}
