package multitable

import (
	"feedbacketl/internal/config"
	"feedbacketl/internal/storage"
)

// Target columns per table, in insert order.
var (
	SourceColumns   = []string{"FuenteID", "Nombre", "FechaCarga"}
	ProductColumns  = []string{"ProductoID", "Nombre", "Categoria"}
	CustomerColumns = []string{"ClienteID", "Nombre", "Email"}

	// OpinionColumns is the fixed fact row layout.
	OpinionColumns = []string{
		config.ColProductID,
		config.ColCustomerID,
		config.ColComment,
		config.ColScore,
		config.ColDate,
		config.ColSourceID,
	}
)

// Positions in an opinion row.
const (
	opProduct = iota
	opCustomer
	opComment
	opScore
	opDate
	opSource
)

// streamColumns are the columns a stream parser is asked for. FuenteID is
// not read from files; it is stamped per stream.
var streamColumns = OpinionColumns[:opSource]

// TableSpecs describes the four target tables for EnsureTables. The
// opinion table has a surrogate identity key and foreign keys to the
// dimensions; the dimensions use their natural identifiers.
func TableSpecs(t config.Tables, autoCreate bool) []storage.TableSpec {
	notNull := storage.BoolPtr(false)
	return []storage.TableSpec{
		{
			Name:            t.Sources,
			AutoCreateTable: autoCreate,
			Columns: []storage.ColumnSpec{
				{Name: "FuenteID", Type: storage.TypeKey, Key: true},
				{Name: "Nombre", Type: storage.TypeText},
				{Name: "FechaCarga", Type: storage.TypeTimestamp},
			},
		},
		{
			Name:            t.Products,
			AutoCreateTable: autoCreate,
			Columns: []storage.ColumnSpec{
				{Name: "ProductoID", Type: storage.TypeKey, Key: true},
				{Name: "Nombre", Type: storage.TypeText},
				{Name: "Categoria", Type: storage.TypeText},
			},
		},
		{
			Name:            t.Customers,
			AutoCreateTable: autoCreate,
			Columns: []storage.ColumnSpec{
				{Name: "ClienteID", Type: storage.TypeKey, Key: true},
				{Name: "Nombre", Type: storage.TypeText},
				{Name: "Email", Type: storage.TypeText},
			},
		},
		{
			Name:            t.Opinions,
			AutoCreateTable: autoCreate,
			PrimaryKey:      &storage.PrimaryKeySpec{Name: "OpinionID", Type: "identity"},
			Columns: []storage.ColumnSpec{
				{Name: config.ColProductID, Type: storage.TypeKey, Nullable: notNull, References: t.Products + "(ProductoID)"},
				{Name: config.ColCustomerID, Type: storage.TypeKey, Nullable: notNull, References: t.Customers + "(ClienteID)"},
				{Name: config.ColComment, Type: storage.TypeText, Nullable: notNull},
				{Name: config.ColScore, Type: storage.TypeFloat},
				{Name: config.ColDate, Type: storage.TypeTimestamp},
				{Name: config.ColSourceID, Type: storage.TypeKey},
			},
		},
	}
}

// resetOrder lists tables children first: facts, then sources, products and
// customers.
func resetOrder(t config.Tables) []string {
	return []string{t.Opinions, t.Sources, t.Products, t.Customers}
}
