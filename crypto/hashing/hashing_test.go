package hashing

import (
	"bytes"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/versafe/versafe/testing/assert"
	"github.com/versafe/versafe/testing/require"
	"github.com/versafe/versafe/types"
)

// Golden digests for the canonical 15 byte test document.
const (
	helloContent      = "Hello, VerSafe\n"
	helloSHA256       = "cfc96dbec9596742785be0b61cd7541cf6e4c84cce4db6c512a31899e933b95b"
	helloBLAKE2b256   = "6358203db8e549357bb9cdc323bd29863542d3cb38048389fa45ece9f665c3b3"
	helloSHA3256      = "2eef3b4cd482c78e84359d5c4d7d4d2ee19d4c6d687f818af6aa679880e7e921"
	helloContentBytes = 15
)

func TestHash_GoldenVectors(t *testing.T) {
	tests := []struct {
		algo types.DigestAlgorithm
		want string
	}{
		{types.SHA256, helloSHA256},
		{types.BLAKE2b256, helloBLAKE2b256},
		{types.SHA3256, helloSHA3256},
	}
	for _, tt := range tests {
		t.Run(string(tt.algo), func(t *testing.T) {
			res, err := Hash(strings.NewReader(helloContent), tt.algo)
			require.NoError(t, err)
			assert.Equal(t, tt.want, hex.EncodeToString(res.Digest))
			assert.Equal(t, int64(helloContentBytes), res.Size)
		})
	}
}

func TestHash_Deterministic(t *testing.T) {
	input := bytes.Repeat([]byte("versafe"), 1<<12)
	first, err := Hash(bytes.NewReader(input), types.SHA256)
	require.NoError(t, err)
	second, err := Hash(bytes.NewReader(input), types.SHA256)
	require.NoError(t, err)
	assert.DeepEqual(t, first.Digest, second.Digest)
}

func TestHash_UnsupportedAlgorithm(t *testing.T) {
	_, err := Hash(strings.NewReader("x"), types.DigestAlgorithm("MD5"))
	require.ErrorIs(t, err, ErrUnsupportedAlgorithm)
}

func TestDualHash(t *testing.T) {
	res, err := DualHash(strings.NewReader(helloContent), types.SHA256, types.BLAKE2b256)
	require.NoError(t, err)
	assert.Equal(t, helloSHA256, hex.EncodeToString(res.Primary.Digest))
	assert.Equal(t, helloBLAKE2b256, hex.EncodeToString(res.Secondary.Digest))
	assert.Equal(t, res.Primary.Size, res.Secondary.Size)
}

func TestDualHash_SameAlgorithmRejected(t *testing.T) {
	_, err := DualHash(strings.NewReader("x"), types.SHA256, types.SHA256)
	require.ErrorIs(t, err, ErrDigestDivergence)
}
