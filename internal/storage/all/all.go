// Package all registers every storage backend. Import it for side effects
// from binaries that select the backend at runtime.
package all

import (
	_ "github.com/microsoft/go-mssqldb"

	_ "feedbacketl/internal/storage/mssql"
	_ "feedbacketl/internal/storage/postgres"
	_ "feedbacketl/internal/storage/sqlite"
)
