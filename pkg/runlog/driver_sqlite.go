//go:build !cgo

package runlog

import (
	"database/sql"

	sqlite "modernc.org/sqlite"
)

// Non-cgo builds use the pure-Go SQLite driver, registered under the same
// name the cgo build uses so Open is identical in both.
const driverName = "libsql"

func init() {
	sql.Register(driverName, &sqlite.Driver{})
}
