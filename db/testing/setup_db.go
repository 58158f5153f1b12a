// Package testing allows for spinning up a real bolt-db
// instance for unit tests throughout the VerSafe repo.
package testing

import (
	"context"
	"testing"

	"github.com/versafe/versafe/db"
	"github.com/versafe/versafe/db/kv"
)

// SetupDB instantiates and returns a metadata store backed by a
// temporary directory that is removed at the end of the test.
func SetupDB(t testing.TB) db.Database {
	s, err := kv.NewKVStore(context.Background(), t.TempDir())
	if err != nil {
		t.Fatalf("Failed to instantiate DB: %v", err)
	}
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Fatalf("Failed to close database: %v", err)
		}
	})
	return s
}
