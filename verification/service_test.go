package verification

import (
	"context"
	"crypto/sha256"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/versafe/versafe/db"
	dbtest "github.com/versafe/versafe/db/testing"
	"github.com/versafe/versafe/ledger"
	"github.com/versafe/versafe/storage"
	"github.com/versafe/versafe/testing/assert"
	"github.com/versafe/versafe/testing/require"
	"github.com/versafe/versafe/types"
)

// fakeGateway serves a canned ledger record.
type fakeGateway struct {
	rec *ledger.Record
	err error
}

func (f *fakeGateway) Register(_ context.Context, _ *ledger.RegisterRequest) (*types.LedgerTransaction, error) {
	return &types.LedgerTransaction{Status: types.TxConfirmed}, nil
}

func (f *fakeGateway) UpdateState(_ context.Context, _ *ledger.StateUpdateRequest) (*types.LedgerTransaction, error) {
	return &types.LedgerTransaction{Status: types.TxConfirmed}, nil
}

func (f *fakeGateway) RecordSignature(_ context.Context, _ *ledger.SignatureRequest) (*types.LedgerTransaction, error) {
	return &types.LedgerTransaction{Status: types.TxConfirmed}, nil
}

func (f *fakeGateway) Query(_ context.Context, _ uuid.UUID) (*ledger.Record, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.rec, nil
}

func (f *fakeGateway) History(_ context.Context, _ uuid.UUID) ([]*types.LedgerTransaction, error) {
	return nil, nil
}

func (f *fakeGateway) TxStatus(_ context.Context, _ string) (types.TxStatus, error) {
	return types.TxConfirmed, nil
}

func (f *fakeGateway) NextSeq(_ context.Context, _ uuid.UUID) (uint64, error) {
	return 1, nil
}

type testEnv struct {
	svc     *Service
	store   db.Database
	files   *storage.Store
	gateway *fakeGateway
	dir     string
}

func setupEnv(t *testing.T) *testEnv {
	t.Helper()
	store := dbtest.SetupDB(t)
	dir := t.TempDir()
	files, err := storage.NewStore(dir)
	require.NoError(t, err)
	gw := &fakeGateway{}
	svc := NewService(context.Background(), &Config{
		Database: store,
		Storage:  files,
		Ledger:   gw,
	})
	t.Cleanup(func() {
		require.NoError(t, svc.Stop())
	})
	return &testEnv{svc: svc, store: store, files: files, gateway: gw, dir: dir}
}

// storeDocument persists content plus a Document row pointing at it.
func (env *testEnv) storeDocument(t *testing.T, content string, state types.DocumentState) *types.Document {
	t.Helper()
	ctx := context.Background()
	owner := &types.User{ID: uuid.New(), Email: uuid.New().String() + "@versafe.io", CreatedAt: time.Now()}
	require.NoError(t, env.store.SaveUser(ctx, owner))

	ref, _, err := env.files.Save(strings.NewReader(content))
	require.NoError(t, err)
	digest := sha256.Sum256([]byte(content))
	doc := &types.Document{
		ID:                 uuid.New(),
		OwnerID:            owner.ID,
		FileName:           "doc.txt",
		MediaType:          "text/plain",
		DigestAlgo:         types.SHA256,
		Digest:             digest[:],
		StorageRef:         ref,
		SecurityLevel:      types.SecurityLow,
		SignaturesRequired: 1,
		State:              state,
		CreatedAt:          time.Now().UTC(),
	}
	require.NoError(t, env.store.SaveDocument(ctx, doc))
	return doc
}

func TestVerify_MatchPromotesSigned(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()
	doc := env.storeDocument(t, "attested content\n", types.StateSigned)
	env.gateway.rec = &ledger.Record{
		DocumentID: doc.ID,
		Digest:     doc.Digest,
		Algo:       doc.DigestAlgo,
		State:      types.StateSigned,
		TxID:       "tx-1",
		Block:      7,
	}

	res, err := env.svc.VerifyDocument(ctx, uuid.New(), doc.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeMatch, res.Outcome)

	got, err := env.store.Document(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StateVerified, got.State)

	events, err := env.svc.History(ctx, doc.ID)
	require.NoError(t, err)
	require.Equal(t, 1, len(events))
	assert.Equal(t, true, events[0].Verified)
}

func TestVerify_MatchLeavesUploadedAlone(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()
	doc := env.storeDocument(t, "not yet signed\n", types.StateUploaded)
	env.gateway.rec = &ledger.Record{DocumentID: doc.ID, Digest: doc.Digest, TxID: "tx-1"}

	res, err := env.svc.VerifyDocument(ctx, uuid.New(), doc.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeMatch, res.Outcome)

	got, err := env.store.Document(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StateUploaded, got.State)
}

func TestVerify_TamperQuarantines(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()
	doc := env.storeDocument(t, "original content\n", types.StateSigned)

	// Tamper with the stored bytes behind the service's back.
	require.NoError(t, os.WriteFile(filepath.Join(env.dir, doc.StorageRef), []byte("tampered"), 0600))

	res, err := env.svc.VerifyDocument(ctx, uuid.New(), doc.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDigestMismatch, res.Outcome)

	got, err := env.store.Document(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StateQuarantined, got.State)

	events, err := env.svc.History(ctx, doc.ID)
	require.NoError(t, err)
	require.Equal(t, 1, len(events))
	assert.Equal(t, false, events[0].Verified)
}

func TestVerify_LedgerMismatch(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()
	doc := env.storeDocument(t, "local truth\n", types.StateSigned)
	env.gateway.rec = &ledger.Record{DocumentID: doc.ID, Digest: []byte("a different digest"), TxID: "tx-1"}

	res, err := env.svc.VerifyDocument(ctx, uuid.New(), doc.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeLedgerMismatch, res.Outcome)

	// The local row is untouched; divergence is for operators to resolve.
	got, err := env.store.Document(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StateSigned, got.State)
}

func TestVerify_LedgerUnavailableIsIndeterminate(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()
	doc := env.storeDocument(t, "unreachable ledger\n", types.StateSigned)
	env.gateway.err = ledger.ErrLedgerUnavailable

	res, err := env.svc.VerifyDocument(ctx, uuid.New(), doc.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeLedgerUnavailable, res.Outcome)

	got, err := env.store.Document(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StateSigned, got.State)

	events, err := env.svc.History(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, len(events))
}

func TestVerify_QueuedOutboxIsIndeterminate(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()
	doc := env.storeDocument(t, "queued anchor\n", types.StateSigned)
	env.gateway.rec = &ledger.Record{DocumentID: doc.ID, Digest: doc.Digest, TxID: "tx-1"}

	// A queued operation means the ledger's view of this document is
	// stale, even though a confirmed record exists.
	require.NoError(t, env.store.EnqueueOutbox(ctx, &types.OutboxEntry{
		DocumentID: doc.ID,
		Kind:       types.TxStateUpdate,
		DedupKey:   ledger.DedupKey(doc.ID, types.TxStateUpdate, 1),
		Payload:    []byte(`{}`),
		EnqueuedAt: time.Now().UTC(),
	}))

	res, err := env.svc.VerifyDocument(ctx, uuid.New(), doc.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeLedgerUnavailable, res.Outcome)

	got, err := env.store.Document(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StateSigned, got.State)
}

func TestVerify_SimulatedRecordIsIndeterminate(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()
	doc := env.storeDocument(t, "simulated anchor\n", types.StateSigned)
	env.gateway.rec = &ledger.Record{DocumentID: doc.ID, Digest: doc.Digest, Simulated: true}

	res, err := env.svc.VerifyDocument(ctx, uuid.New(), doc.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeLedgerUnavailable, res.Outcome)
}

func TestVerify_NotFound(t *testing.T) {
	env := setupEnv(t)
	res, err := env.svc.VerifyDocument(context.Background(), uuid.New(), uuid.New())
	require.NoError(t, err)
	assert.Equal(t, OutcomeNotFound, res.Outcome)
}
