package storage

import (
	"io"
	"strings"
	"testing"

	"github.com/versafe/versafe/testing/assert"
	"github.com/versafe/versafe/testing/require"
)

func TestStore_SaveOpenDelete(t *testing.T) {
	s, err := NewStore(t.TempDir())
	require.NoError(t, err)

	ref, size, err := s.Save(strings.NewReader("Hello, VerSafe\n"))
	require.NoError(t, err)
	assert.Equal(t, int64(15), size)

	r, err := s.Open(ref)
	require.NoError(t, err)
	got, err := io.ReadAll(r)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	assert.Equal(t, "Hello, VerSafe\n", string(got))

	require.NoError(t, s.Delete(ref))
	_, err = s.Open(ref)
	require.NotNil(t, err)

	// Idempotent delete.
	require.NoError(t, s.Delete(ref))
}

func TestStore_RejectsTraversal(t *testing.T) {
	s, err := NewStore(t.TempDir())
	require.NoError(t, err)

	_, err = s.Open("../etc/passwd")
	require.NotNil(t, err)
	require.NotNil(t, s.Delete("../../x"))
	_, err = s.Open(".hidden")
	require.NotNil(t, err)
}
