//go:build cgo_sqlite

package store

import (
	_ "github.com/mattn/go-sqlite3" // CGO SQLite driver
)

// sqliteDriverName selects the CGO-accelerated driver under -tags
// cgo_sqlite.
const sqliteDriverName = "sqlite3"
