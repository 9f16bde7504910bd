//go:build cgo

package runlog

import (
	// Registers the "libsql" driver.
	_ "github.com/tursodatabase/go-libsql"
)

const driverName = "libsql"
