//go:build !cgo_sqlite

package store

import (
	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)
)

// sqliteDriverName selects the pure-Go driver by default; build with
// -tags cgo_sqlite for the CGO-accelerated one.
const sqliteDriverName = "sqlite"
