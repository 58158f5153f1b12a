// Package db defines the ability to create a new database for the
// VerSafe node.
package db

import (
	"context"

	"github.com/versafe/versafe/db/kv"
)

// NewDB initializes a new metadata store at the directory path specified.
func NewDB(ctx context.Context, dirPath string) (Database, error) {
	return kv.NewKVStore(ctx, dirPath)
}
