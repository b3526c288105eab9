//go:build sqlite_vec && cgo

package store

import (
	vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
)

// driverName selects the cgo driver when built with -tags sqlite_vec; the
// sqlite-vec extension then provides vec_distance_cosine natively.
const driverName = "sqlite3"

func init() {
	// Register sqlite-vec as an auto-loadable extension on mattn/go-sqlite3.
	vec.Auto()
}
