package kv

import (
	"bytes"
	"context"
	"sort"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/versafe/versafe/db/iface"
	"github.com/versafe/versafe/types"
	bolt "go.etcd.io/bbolt"
	"go.opencensus.io/trace"
)

// pairIndexKey enforces the unique (document_id, signer_id) constraint.
func pairIndexKey(documentID, signerID uuid.UUID) []byte {
	key := make([]byte, 0, 32)
	key = append(key, documentID[:]...)
	key = append(key, signerID[:]...)
	return key
}

// SaveSignature persists a signature. The parent document must exist
// and the (document, signer) pair must not already hold a signature.
func (s *Store) SaveSignature(ctx context.Context, sig *types.Signature) error {
	ctx, span := trace.StartSpan(ctx, "versafeDB.SaveSignature")
	defer span.End()

	enc, err := encode(ctx, sig)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		if tx.Bucket(documentsBucket).Get(sig.DocumentID[:]) == nil {
			return errors.Wrap(iface.ErrMissingReference, "signature document does not exist")
		}
		pairIdx := tx.Bucket(signatureDocumentIndexBucket)
		pairKey := pairIndexKey(sig.DocumentID, sig.SignerID)
		if pairIdx.Get(pairKey) != nil {
			return errors.Wrap(iface.ErrAlreadyExists, "signer already signed this document")
		}
		if err := tx.Bucket(signaturesBucket).Put(sig.ID[:], enc); err != nil {
			return err
		}
		return pairIdx.Put(pairKey, sig.ID[:])
	})
}

// SaveSignatureAndDocument persists a signature together with its
// parent document's state advance in one transaction, so a crash
// cannot leave a counted signature behind a stale document state. The
// document update invariants apply as in UpdateDocument.
func (s *Store) SaveSignatureAndDocument(ctx context.Context, sig *types.Signature, doc *types.Document) error {
	ctx, span := trace.StartSpan(ctx, "versafeDB.SaveSignatureAndDocument")
	defer span.End()

	encSig, err := encode(ctx, sig)
	if err != nil {
		return err
	}
	encDoc, err := encode(ctx, doc)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		pairIdx := tx.Bucket(signatureDocumentIndexBucket)
		pairKey := pairIndexKey(sig.DocumentID, sig.SignerID)
		if pairIdx.Get(pairKey) != nil {
			return errors.Wrap(iface.ErrAlreadyExists, "signer already signed this document")
		}
		if err := putDocumentUpdate(ctx, tx, doc, encDoc); err != nil {
			return err
		}
		if err := tx.Bucket(signaturesBucket).Put(sig.ID[:], encSig); err != nil {
			return err
		}
		return pairIdx.Put(pairKey, sig.ID[:])
	})
}

// UpdateSignature overwrites an existing signature record.
func (s *Store) UpdateSignature(ctx context.Context, sig *types.Signature) error {
	ctx, span := trace.StartSpan(ctx, "versafeDB.UpdateSignature")
	defer span.End()

	enc, err := encode(ctx, sig)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(signaturesBucket)
		if bkt.Get(sig.ID[:]) == nil {
			return iface.ErrNotFound
		}
		return bkt.Put(sig.ID[:], enc)
	})
}

// Signature retrieves a signature by id.
func (s *Store) Signature(ctx context.Context, id uuid.UUID) (*types.Signature, error) {
	ctx, span := trace.StartSpan(ctx, "versafeDB.Signature")
	defer span.End()

	var sig *types.Signature
	err := s.db.View(func(tx *bolt.Tx) error {
		enc := tx.Bucket(signaturesBucket).Get(id[:])
		if enc == nil {
			return iface.ErrNotFound
		}
		sig = &types.Signature{}
		return decode(ctx, enc, sig)
	})
	return sig, err
}

// SignaturesForDocument returns every signature on a document ordered
// by creation time.
func (s *Store) SignaturesForDocument(ctx context.Context, documentID uuid.UUID) ([]*types.Signature, error) {
	ctx, span := trace.StartSpan(ctx, "versafeDB.SignaturesForDocument")
	defer span.End()

	sigs := make([]*types.Signature, 0)
	err := s.db.View(func(tx *bolt.Tx) error {
		sigBkt := tx.Bucket(signaturesBucket)
		c := tx.Bucket(signatureDocumentIndexBucket).Cursor()
		for k, id := c.Seek(documentID[:]); k != nil && bytes.HasPrefix(k, documentID[:]); k, id = c.Next() {
			enc := sigBkt.Get(id)
			if enc == nil {
				continue
			}
			sig := &types.Signature{}
			if err := decode(ctx, enc, sig); err != nil {
				return err
			}
			sigs = append(sigs, sig)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(sigs, func(i, j int) bool { return sigs[i].CreatedAt.Before(sigs[j].CreatedAt) })
	return sigs, nil
}

// HasSignature reports whether the signer already signed the document.
func (s *Store) HasSignature(ctx context.Context, documentID, signerID uuid.UUID) (bool, error) {
	_, span := trace.StartSpan(ctx, "versafeDB.HasSignature")
	defer span.End()

	var has bool
	err := s.db.View(func(tx *bolt.Tx) error {
		has = tx.Bucket(signatureDocumentIndexBucket).Get(pairIndexKey(documentID, signerID)) != nil
		return nil
	})
	return has, err
}
