package config

// Canonical opinion columns, in the order they are written to the fact table.
const (
	ColProductID  = "ProductoID"
	ColCustomerID = "ClienteID"
	ColComment    = "Comentario"
	ColScore      = "Puntuacion"
	ColDate       = "Fecha"
	ColSourceID   = "FuenteID"
)

// Source identifiers assigned to the three stock opinion streams.
const (
	SourceWebReviews     = "F001"
	SourceSurveys        = "F002"
	SourceSocialComments = "F005"
)

// DefaultCommentPlaceholder replaces missing comment text.
const DefaultCommentPlaceholder = "Sin comentario"

// DefaultBatchSize is the row cap per INSERT when runtime.batch_size is unset.
const DefaultBatchSize = 500

// DefaultDateLayouts are tried in order when parsing opinion dates. Slash
// dates are month-first.
var DefaultDateLayouts = []string{
	"2006-01-02",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02T15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"01/02/2006",
	"01/02/2006 15:04",
	"01/02/2006 15:04:05",
	"2006/01/02",
}

// Default returns the stock configuration: six CSV files in the working
// directory loaded into a local SQL Server database with integrated auth.
func Default() Pipeline {
	return Pipeline{
		Job: "opiniones_etl",
		Storage: Storage{
			Kind:              "mssql",
			Server:            "localhost",
			Database:          "OpinionesETL",
			TrustedConnection: true,
			Tables:            defaultTables(),
		},
		Dimensions: Dimensions{
			Sources:   File{Path: "fuente_datos.csv"},
			Products:  File{Path: "products.csv"},
			Customers: File{Path: "clients.csv"},
		},
		Opinions: Opinions{
			Streams:            DefaultStreams(),
			CommentPlaceholder: DefaultCommentPlaceholder,
			DateLayouts:        append([]string(nil), DefaultDateLayouts...),
		},
		Runtime: Runtime{BatchSize: DefaultBatchSize},
	}
}

// DefaultStreams returns surveys, web reviews and social comments, in that
// order. Consolidation stacks rows in stream order.
func DefaultStreams() []Stream {
	return []Stream{
		{
			Name:     "surveys",
			Path:     "surveys_part1.csv",
			SourceID: SourceSurveys,
			HeaderMap: map[string]string{
				"IdCliente":           ColCustomerID,
				"IdProducto":          ColProductID,
				"PuntajeSatisfacción": ColScore,
				"Comentario":          ColComment,
				"Fecha":               ColDate,
			},
		},
		{
			Name:     "web_reviews",
			Path:     "web_reviews.csv",
			SourceID: SourceWebReviews,
			HeaderMap: map[string]string{
				"IdCliente":  ColCustomerID,
				"IdProducto": ColProductID,
				"Rating":     ColScore,
				"Comentario": ColComment,
				"Fecha":      ColDate,
			},
			Options: Options{"strip_html": true},
		},
		{
			Name:     "social_comments",
			Path:     "social_comments.csv",
			SourceID: SourceSocialComments,
			HeaderMap: map[string]string{
				"IdCliente":  ColCustomerID,
				"IdProducto": ColProductID,
				"Comentario": ColComment,
				"Fecha":      ColDate,
			},
		},
	}
}

func defaultTables() Tables {
	return Tables{
		Sources:   "Fuentes",
		Products:  "Productos",
		Customers: "Clientes",
		Opinions:  "Opiniones",
	}
}

// WithDefaults fills unset fields of p from Default. A stream list given as
// an explicit empty array is kept, and ValidatePipeline rejects it.
func WithDefaults(p Pipeline) Pipeline {
	d := Default()

	if p.Job == "" {
		p.Job = d.Job
	}
	if p.Storage.Kind == "" {
		p.Storage.Kind = d.Storage.Kind
		if p.Storage.DSN == "" && p.Storage.Server == "" {
			p.Storage.Server = d.Storage.Server
			p.Storage.Database = d.Storage.Database
			p.Storage.TrustedConnection = d.Storage.TrustedConnection
		}
	}

	t := &p.Storage.Tables
	if t.Sources == "" {
		t.Sources = d.Storage.Tables.Sources
	}
	if t.Products == "" {
		t.Products = d.Storage.Tables.Products
	}
	if t.Customers == "" {
		t.Customers = d.Storage.Tables.Customers
	}
	if t.Opinions == "" {
		t.Opinions = d.Storage.Tables.Opinions
	}

	if p.Dimensions.Sources.Path == "" {
		p.Dimensions.Sources.Path = d.Dimensions.Sources.Path
	}
	if p.Dimensions.Products.Path == "" {
		p.Dimensions.Products.Path = d.Dimensions.Products.Path
	}
	if p.Dimensions.Customers.Path == "" {
		p.Dimensions.Customers.Path = d.Dimensions.Customers.Path
	}

	if p.Opinions.Streams == nil {
		p.Opinions.Streams = d.Opinions.Streams
	}
	if p.Opinions.CommentPlaceholder == "" {
		p.Opinions.CommentPlaceholder = d.Opinions.CommentPlaceholder
	}
	if len(p.Opinions.DateLayouts) == 0 {
		p.Opinions.DateLayouts = d.Opinions.DateLayouts
	}

	if p.Runtime.BatchSize <= 0 {
		p.Runtime.BatchSize = d.Runtime.BatchSize
	}
	return p
}
