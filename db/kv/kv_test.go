package kv

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/versafe/versafe/testing/require"
	"github.com/versafe/versafe/types"
)

// setupDB instantiates and returns a Store instance.
func setupDB(t testing.TB) *Store {
	s, err := NewKVStore(context.Background(), t.TempDir())
	require.NoError(t, err, "Failed to instantiate DB")
	t.Cleanup(func() {
		require.NoError(t, s.Close(), "Failed to close database")
	})
	return s
}

func testUser(t testing.TB, s *Store) *types.User {
	user := &types.User{
		ID:          uuid.New(),
		Email:       uuid.New().String() + "@versafe.io",
		DisplayName: "Test User",
		CreatedAt:   time.Now().UTC(),
	}
	require.NoError(t, s.SaveUser(context.Background(), user))
	return user
}

func testDocument(t testing.TB, s *Store, owner *types.User) *types.Document {
	doc := &types.Document{
		ID:                 uuid.New(),
		OwnerID:            owner.ID,
		Title:              "contract",
		FileName:           "contract.pdf",
		MediaType:          "application/pdf",
		SizeBytes:          1024,
		DigestAlgo:         types.SHA256,
		Digest:             []byte("0123456789abcdef0123456789abcdef"),
		SecurityLevel:      types.SecurityLow,
		SignaturesRequired: 1,
		State:              types.StateUploaded,
		CreatedAt:          time.Now().UTC(),
	}
	require.NoError(t, s.SaveDocument(context.Background(), doc))
	return doc
}

func TestStore_DatabasePath(t *testing.T) {
	s := setupDB(t)
	require.NotEqual(t, "", s.DatabasePath())
}
