//go:build sqlite_vec && cgo

package db

import (
	vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
)

func init() {
	// Register sqlite-vec as an auto-loadable extension. Builds without
	// the tag skip this and SearchEmbeddings ranks vectors in Go.
	vec.Auto()
}
