package signatures

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/versafe/versafe/crypto/keys"
	"github.com/versafe/versafe/db"
	dbtest "github.com/versafe/versafe/db/testing"
	"github.com/versafe/versafe/ledger"
	"github.com/versafe/versafe/testing/assert"
	"github.com/versafe/versafe/testing/require"
	"github.com/versafe/versafe/types"
)

type testEnv struct {
	svc   *Service
	store db.Database
	keys  *keys.Store
	owner uuid.UUID
}

func setupEnv(t *testing.T) *testEnv {
	t.Helper()
	store := dbtest.SetupDB(t)
	lg, err := ledger.NewService(context.Background(), &ledger.Config{Database: store})
	require.NoError(t, err)
	ks := keys.NewStore()
	svc := NewService(context.Background(), &Config{
		Database: store,
		Ledger:   lg,
		Keys:     ks,
	})
	t.Cleanup(func() {
		require.NoError(t, svc.Stop())
	})

	owner := &types.User{ID: uuid.New(), Email: uuid.New().String() + "@versafe.io", CreatedAt: time.Now()}
	require.NoError(t, store.SaveUser(context.Background(), owner))
	return &testEnv{svc: svc, store: store, keys: ks, owner: owner.ID}
}

func (env *testEnv) newDocument(t *testing.T, required int, state types.DocumentState) *types.Document {
	t.Helper()
	doc := &types.Document{
		ID:                 uuid.New(),
		OwnerID:            env.owner,
		FileName:           "contract.pdf",
		MediaType:          "application/pdf",
		DigestAlgo:         types.SHA256,
		Digest:             []byte("0123456789abcdef0123456789abcdef"),
		SecurityLevel:      types.SecurityLow,
		SignaturesRequired: required,
		State:              state,
		CreatedAt:          time.Now().UTC(),
	}
	require.NoError(t, env.store.SaveDocument(context.Background(), doc))
	return doc
}

func TestSign_ElectronicAdvancesToSigned(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()
	doc := env.newDocument(t, 1, types.StateUploaded)

	sig, err := env.svc.Sign(ctx, uuid.New(), doc.ID, types.SignatureElectronic, []byte("text:Approved"))
	require.NoError(t, err)
	assert.Equal(t, true, sig.Verified)
	require.Equal(t, 32, len(sig.SignerHash))

	got, err := env.store.Document(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StateSigned, got.State)
}

func TestSign_MultiSignerProgression(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()
	doc := env.newDocument(t, 2, types.StateUploaded)

	_, err := env.svc.Sign(ctx, uuid.New(), doc.ID, types.SignatureElectronic, []byte("text:First"))
	require.NoError(t, err)
	got, err := env.store.Document(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatePartiallySigned, got.State)

	_, err = env.svc.Sign(ctx, uuid.New(), doc.ID, types.SignatureElectronic, []byte("text:Second"))
	require.NoError(t, err)
	got, err = env.store.Document(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StateSigned, got.State)
}

func TestSign_Preconditions(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()

	pending := env.newDocument(t, 1, types.StateRegistrationPending)
	_, err := env.svc.Sign(ctx, uuid.New(), pending.ID, types.SignatureElectronic, []byte("text:X"))
	require.ErrorIs(t, err, ErrRegistrationPending)

	doc := env.newDocument(t, 2, types.StateUploaded)
	signer := uuid.New()
	_, err = env.svc.Sign(ctx, signer, doc.ID, types.SignatureElectronic, []byte("text:X"))
	require.NoError(t, err)
	_, err = env.svc.Sign(ctx, signer, doc.ID, types.SignatureElectronic, []byte("text:X"))
	require.ErrorIs(t, err, ErrAlreadySigned)

	signed := env.newDocument(t, 1, types.StateUploaded)
	_, err = env.svc.Sign(ctx, uuid.New(), signed.ID, types.SignatureElectronic, []byte("text:X"))
	require.NoError(t, err)
	_, err = env.svc.Sign(ctx, uuid.New(), signed.ID, types.SignatureElectronic, []byte("text:X"))
	require.ErrorIs(t, err, ErrInvalidState)

	revoked := env.newDocument(t, 1, types.StateUploaded)
	loaded, err := env.store.Document(ctx, revoked.ID)
	require.NoError(t, err)
	loaded.State = types.StateRevoked
	loaded.RevokedReason = "test"
	require.NoError(t, env.store.UpdateDocument(ctx, loaded))
	_, err = env.svc.Sign(ctx, uuid.New(), revoked.ID, types.SignatureElectronic, []byte("text:X"))
	require.ErrorIs(t, err, ErrTerminalState)
}

func TestSign_MalformedElectronic(t *testing.T) {
	env := setupEnv(t)
	doc := env.newDocument(t, 1, types.StateUploaded)
	_, err := env.svc.Sign(context.Background(), uuid.New(), doc.ID, types.SignatureElectronic, []byte("just bytes"))
	require.ErrorIs(t, err, ErrMalformedPayload)
}

func TestSign_DigitalRequiresEnrollment(t *testing.T) {
	env := setupEnv(t)
	doc := env.newDocument(t, 1, types.StateUploaded)
	_, err := env.svc.Sign(context.Background(), uuid.New(), doc.ID, types.SignatureDigital, nil)
	require.ErrorIs(t, err, keys.ErrNoKeyMaterial)
}

func TestSign_DigitalRoundTrip(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()

	for _, algo := range []keys.Algorithm{keys.RSAPSSSHA256, keys.ECDSAP256, keys.Ed25519} {
		doc := env.newDocument(t, 1, types.StateUploaded)
		signer := uuid.New()
		_, err := env.keys.Enroll(signer, algo, time.Hour)
		require.NoError(t, err)

		sig, err := env.svc.Sign(ctx, signer, doc.ID, types.SignatureDigital, nil)
		require.NoError(t, err, "algo %s", algo)
		assert.Equal(t, true, sig.Verified)
		assert.Equal(t, string(algo), sig.VerificationMethod)

		ok, err := env.svc.Verify(ctx, sig.ID)
		require.NoError(t, err)
		assert.Equal(t, true, ok, "algo %s", algo)
	}
}

func TestSign_DigitalExpiredCertificate(t *testing.T) {
	env := setupEnv(t)
	doc := env.newDocument(t, 1, types.StateUploaded)
	signer := uuid.New()
	_, err := env.keys.Enroll(signer, keys.Ed25519, -time.Hour)
	require.NoError(t, err)

	_, err = env.svc.Sign(context.Background(), signer, doc.ID, types.SignatureDigital, nil)
	require.ErrorIs(t, err, keys.ErrCertificateExpired)
}

func TestSign_DigitalRevokedKeyFailsVerify(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()
	doc := env.newDocument(t, 1, types.StateUploaded)
	signer := uuid.New()
	_, err := env.keys.Enroll(signer, keys.ECDSAP256, time.Hour)
	require.NoError(t, err)

	sig, err := env.svc.Sign(ctx, signer, doc.ID, types.SignatureDigital, nil)
	require.NoError(t, err)
	require.NoError(t, env.keys.Revoke(signer))

	ok, err := env.svc.Verify(ctx, sig.ID)
	require.NoError(t, err)
	assert.Equal(t, false, ok)
}

func TestSign_BiometricThreshold(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()
	doc := env.newDocument(t, 1, types.StateUploaded)

	low, err := json.Marshal(&biometricPayload{Features: []float64{0.1, 0.2}, Confidence: 0.5})
	require.NoError(t, err)
	sig, err := env.svc.Sign(ctx, uuid.New(), doc.ID, types.SignatureBiometric, low)
	require.NoError(t, err)
	assert.Equal(t, false, sig.Verified)

	// An unverified signature does not advance the document.
	got, err := env.store.Document(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StateUploaded, got.State)

	high, err := json.Marshal(&biometricPayload{Features: []float64{0.9}, Confidence: 0.95})
	require.NoError(t, err)
	sig, err = env.svc.Sign(ctx, uuid.New(), doc.ID, types.SignatureBiometric, high)
	require.NoError(t, err)
	assert.Equal(t, true, sig.Verified)

	got, err = env.store.Document(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StateSigned, got.State)
}

func TestUploadSignatureImage(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()
	doc := env.newDocument(t, 1, types.StateUploaded)

	_, err := env.svc.UploadSignatureImage(ctx, uuid.New(), doc.ID, []byte("not an image"))
	require.ErrorIs(t, err, ErrMalformedPayload)

	png := append([]byte{0x89, 'P', 'N', 'G'}, []byte("...")...)
	sig, err := env.svc.UploadSignatureImage(ctx, uuid.New(), doc.ID, png)
	require.NoError(t, err)
	assert.Equal(t, types.SignatureElectronic, sig.Type)
	assert.Equal(t, true, sig.Verified)
}

func TestSign_BlockedWhileOutboxQueued(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()
	doc := env.newDocument(t, 1, types.StateUploaded)

	require.NoError(t, env.store.EnqueueOutbox(ctx, &types.OutboxEntry{
		DocumentID: doc.ID,
		Kind:       types.TxRegister,
		DedupKey:   ledger.DedupKey(doc.ID, types.TxRegister, 0),
		Payload:    []byte(`{}`),
		EnqueuedAt: time.Now().UTC(),
	}))

	_, err := env.svc.Sign(ctx, uuid.New(), doc.ID, types.SignatureElectronic, []byte("text:Blocked"))
	require.ErrorIs(t, err, ledger.ErrLedgerUnavailable)

	got, err := env.store.Document(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StateUploaded, got.State)
}

// With reachable endorsing peers, the confirmed tx id must survive on
// the stored signature row, not just the returned copy.
func TestSign_PersistsLedgerTxID(t *testing.T) {
	store := dbtest.SetupDB(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var prop struct {
			DedupKey string `json:"dedup_key"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&prop))
		require.NoError(t, json.NewEncoder(w).Encode(map[string]interface{}{
			"tx_id": "tx-" + prop.DedupKey,
			"block": 9,
			"endorsement": map[string]interface{}{
				"identity": "peer-1",
			},
		}))
	}))
	defer srv.Close()

	lg, err := ledger.NewService(context.Background(), &ledger.Config{
		Database: store,
		Client: ledger.NewClient(&ledger.ClientConfig{
			Endpoints:   []string{srv.URL},
			Quorum:      1,
			MaxAttempts: 1,
			BaseBackoff: time.Millisecond,
		}),
	})
	require.NoError(t, err)
	svc := NewService(context.Background(), &Config{Database: store, Ledger: lg, Keys: keys.NewStore()})
	defer func() {
		require.NoError(t, svc.Stop())
	}()

	ctx := context.Background()
	owner := &types.User{ID: uuid.New(), Email: "anchored@versafe.io", CreatedAt: time.Now()}
	require.NoError(t, store.SaveUser(ctx, owner))
	env := &testEnv{svc: svc, store: store, owner: owner.ID}
	doc := env.newDocument(t, 1, types.StateUploaded)

	sig, err := svc.Sign(ctx, uuid.New(), doc.ID, types.SignatureElectronic, []byte("text:Anchored"))
	require.NoError(t, err)
	require.NotEqual(t, "", sig.LedgerTxID)

	stored, err := store.SignaturesForDocument(ctx, doc.ID)
	require.NoError(t, err)
	require.Equal(t, 1, len(stored))
	assert.Equal(t, sig.LedgerTxID, stored[0].LedgerTxID)
}

// Concurrent sign and revoke must serialise through the shared
// per-document lock: whichever runs second observes the first's state.
func TestSignRevokeRace(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()
	locker := env.svc.cfg.Locker
	doc := env.newDocument(t, 1, types.StateUploaded)

	revoke := func() {
		locker.Lock(doc.ID)
		defer locker.Unlock(doc.ID)
		loaded, err := env.store.Document(ctx, doc.ID)
		require.NoError(t, err)
		if loaded.State.Terminal() {
			return
		}
		loaded.State = types.StateRevoked
		loaded.RevokedReason = "race"
		require.NoError(t, env.store.UpdateDocument(ctx, loaded))
	}

	var wg sync.WaitGroup
	var signErr error
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, signErr = env.svc.Sign(ctx, uuid.New(), doc.ID, types.SignatureElectronic, []byte("text:Race"))
	}()
	go func() {
		defer wg.Done()
		revoke()
	}()
	wg.Wait()

	got, err := env.store.Document(ctx, doc.ID)
	require.NoError(t, err)
	if signErr != nil {
		// Revoke won the race; the sign observed the terminal state.
		require.ErrorIs(t, signErr, ErrTerminalState)
		assert.Equal(t, types.StateRevoked, got.State)
	} else {
		// Sign won; the revoke saw SIGNED and still revoked it, or
		// bailed on the terminal check. Either end state is legal.
		sigs, err := env.store.SignaturesForDocument(ctx, doc.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, len(sigs))
	}
}
