// Package all registers every storage backend and the SQL Server driver.
// Binaries import it for side effects.
package all

import (
	_ "github.com/microsoft/go-mssqldb"

	_ "generalize/internal/storage/mssql"
	_ "generalize/internal/storage/postgres"
	_ "generalize/internal/storage/sqlite"
)
