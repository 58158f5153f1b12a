package keys

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/versafe/versafe/testing/assert"
	"github.com/versafe/versafe/testing/require"
)

func TestSignVerify_AllAlgorithms(t *testing.T) {
	store := NewStore()
	data := []byte("digest|signer|timestamp")

	for _, algo := range []Algorithm{RSAPSSSHA256, ECDSAP256, Ed25519} {
		t.Run(string(algo), func(t *testing.T) {
			signerID := uuid.New()
			e, err := store.Enroll(signerID, algo, time.Hour)
			require.NoError(t, err)

			sig, err := Sign(e, data)
			require.NoError(t, err)
			require.NoError(t, Verify(e, data, sig, time.Now()))

			tampered := append([]byte{}, data...)
			tampered[0] ^= 0xff
			require.ErrorIs(t, Verify(e, tampered, sig, time.Now()), ErrVerificationFailed)
		})
	}
}

func TestVerify_ExpiredCertificate(t *testing.T) {
	store := NewStore()
	e, err := store.Enroll(uuid.New(), Ed25519, time.Minute)
	require.NoError(t, err)

	sig, err := Sign(e, []byte("data"))
	require.NoError(t, err)

	// Inside the window the signature verifies; past NotAfter it must not.
	require.NoError(t, Verify(e, []byte("data"), sig, time.Now()))
	err = Verify(e, []byte("data"), sig, time.Now().Add(2*time.Minute))
	require.ErrorIs(t, err, ErrCertificateExpired)
}

func TestVerify_RevokedCertificate(t *testing.T) {
	store := NewStore()
	signerID := uuid.New()
	e, err := store.Enroll(signerID, ECDSAP256, time.Hour)
	require.NoError(t, err)

	sig, err := Sign(e, []byte("data"))
	require.NoError(t, err)
	require.NoError(t, store.Revoke(signerID))
	require.ErrorIs(t, Verify(e, []byte("data"), sig, time.Now()), ErrCertificateRevoked)
}

func TestLookup_Unenrolled(t *testing.T) {
	store := NewStore()
	_, err := store.Lookup(uuid.New())
	assert.ErrorIs(t, err, ErrNoKeyMaterial)
}
