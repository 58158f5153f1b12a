package kv

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/versafe/versafe/db/iface"
	"github.com/versafe/versafe/testing/assert"
	"github.com/versafe/versafe/testing/require"
	"github.com/versafe/versafe/types"
)

func TestSaveSignature_UniquePair(t *testing.T) {
	s := setupDB(t)
	ctx := context.Background()
	owner := testUser(t, s)
	doc := testDocument(t, s, owner)
	signer := uuid.New()

	sig := &types.Signature{
		ID:         uuid.New(),
		DocumentID: doc.ID,
		SignerID:   signer,
		Type:       types.SignatureElectronic,
		CreatedAt:  time.Now(),
	}
	require.NoError(t, s.SaveSignature(ctx, sig))

	second := &types.Signature{
		ID:         uuid.New(),
		DocumentID: doc.ID,
		SignerID:   signer,
		Type:       types.SignatureDigital,
		CreatedAt:  time.Now(),
	}
	require.ErrorIs(t, s.SaveSignature(ctx, second), iface.ErrAlreadyExists)

	has, err := s.HasSignature(ctx, doc.ID, signer)
	require.NoError(t, err)
	assert.Equal(t, true, has)
}

func TestSaveSignatureAndDocument_OneTransaction(t *testing.T) {
	s := setupDB(t)
	ctx := context.Background()
	owner := testUser(t, s)
	doc := testDocument(t, s, owner)

	sig := &types.Signature{
		ID:         uuid.New(),
		DocumentID: doc.ID,
		SignerID:   uuid.New(),
		Type:       types.SignatureElectronic,
		Verified:   true,
		CreatedAt:  time.Now(),
	}
	doc.State = types.StateSigned
	require.NoError(t, s.SaveSignatureAndDocument(ctx, sig, doc))

	got, err := s.Document(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StateSigned, got.State)
	sigs, err := s.SignaturesForDocument(ctx, doc.ID)
	require.NoError(t, err)
	require.Equal(t, 1, len(sigs))
	assert.Equal(t, sig.ID, sigs[0].ID)

	// A rejected write leaves neither record behind.
	dup := &types.Signature{
		ID:         uuid.New(),
		DocumentID: doc.ID,
		SignerID:   sig.SignerID,
		Type:       types.SignatureElectronic,
		CreatedAt:  time.Now(),
	}
	doc.State = types.StateVerified
	require.ErrorIs(t, s.SaveSignatureAndDocument(ctx, dup, doc), iface.ErrAlreadyExists)
	got, err = s.Document(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StateSigned, got.State)
}

func TestUpdateSignature(t *testing.T) {
	s := setupDB(t)
	ctx := context.Background()
	owner := testUser(t, s)
	doc := testDocument(t, s, owner)

	sig := &types.Signature{
		ID:         uuid.New(),
		DocumentID: doc.ID,
		SignerID:   uuid.New(),
		Type:       types.SignatureElectronic,
		CreatedAt:  time.Now(),
	}
	require.NoError(t, s.SaveSignature(ctx, sig))

	sig.LedgerTxID = "tx-anchored"
	require.NoError(t, s.UpdateSignature(ctx, sig))
	got, err := s.Signature(ctx, sig.ID)
	require.NoError(t, err)
	assert.Equal(t, "tx-anchored", got.LedgerTxID)

	missing := &types.Signature{ID: uuid.New(), DocumentID: doc.ID, SignerID: uuid.New(), CreatedAt: time.Now()}
	require.ErrorIs(t, s.UpdateSignature(ctx, missing), iface.ErrNotFound)
}

func TestSaveSignature_DocumentMustExist(t *testing.T) {
	s := setupDB(t)
	sig := &types.Signature{
		ID:         uuid.New(),
		DocumentID: uuid.New(),
		SignerID:   uuid.New(),
		CreatedAt:  time.Now(),
	}
	require.ErrorIs(t, s.SaveSignature(context.Background(), sig), iface.ErrMissingReference)
}

func TestSignaturesForDocument_ChronologicalOrder(t *testing.T) {
	s := setupDB(t)
	ctx := context.Background()
	owner := testUser(t, s)
	doc := testDocument(t, s, owner)

	base := time.Now().UTC()
	for i := 0; i < 3; i++ {
		sig := &types.Signature{
			ID:         uuid.New(),
			DocumentID: doc.ID,
			SignerID:   uuid.New(),
			Type:       types.SignatureElectronic,
			CreatedAt:  base.Add(time.Duration(i) * time.Millisecond),
		}
		require.NoError(t, s.SaveSignature(ctx, sig))
	}

	sigs, err := s.SignaturesForDocument(ctx, doc.ID)
	require.NoError(t, err)
	require.Equal(t, 3, len(sigs))
	for i := 1; i < len(sigs); i++ {
		assert.Equal(t, true, !sigs[i].CreatedAt.Before(sigs[i-1].CreatedAt))
	}
}
