package bytesutil_test

import (
	"testing"

	"github.com/versafe/versafe/encoding/bytesutil"
	"github.com/versafe/versafe/testing/assert"
)

func TestBytes8RoundTrip(t *testing.T) {
	tests := []uint64{0, 1, 255, 256, 1 << 32, 1<<64 - 1}
	for _, tt := range tests {
		assert.Equal(t, tt, bytesutil.FromBytes8(bytesutil.Bytes8(tt)))
	}
	assert.DeepEqual(t, []byte{0, 0, 0, 0, 0, 0, 1, 0}, bytesutil.Bytes8(256))
}

func TestFromBytes8ShortInput(t *testing.T) {
	assert.Equal(t, uint64(0), bytesutil.FromBytes8([]byte{1, 2, 3}))
}

func TestSafeCopyBytes(t *testing.T) {
	original := []byte{1, 2, 3}
	copied := bytesutil.SafeCopyBytes(original)
	assert.DeepEqual(t, original, copied)
	copied[0] = 9
	assert.Equal(t, byte(1), original[0])

	assert.Equal(t, true, bytesutil.SafeCopyBytes(nil) == nil)
}

func TestToBytes32Truncates(t *testing.T) {
	long := make([]byte, 40)
	long[0] = 7
	long[39] = 9
	got := bytesutil.ToBytes32(long)
	assert.Equal(t, byte(7), got[0])
	assert.Equal(t, byte(0), got[31])
}
