package kv

import (
	"bytes"
	"context"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/versafe/versafe/db/iface"
	"github.com/versafe/versafe/types"
	bolt "go.etcd.io/bbolt"
	"go.opencensus.io/trace"
)

// SaveShareGrant persists a share grant against an existing document.
func (s *Store) SaveShareGrant(ctx context.Context, grant *types.ShareGrant) error {
	ctx, span := trace.StartSpan(ctx, "versafeDB.SaveShareGrant")
	defer span.End()

	enc, err := encode(ctx, grant)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		if tx.Bucket(documentsBucket).Get(grant.DocumentID[:]) == nil {
			return errors.Wrap(iface.ErrMissingReference, "share grant document does not exist")
		}
		if err := tx.Bucket(shareGrantsBucket).Put(grant.ID[:], enc); err != nil {
			return err
		}
		idxKey := append(append([]byte{}, grant.DocumentID[:]...), grant.ID[:]...)
		return tx.Bucket(shareDocumentIndexBucket).Put(idxKey, grant.ID[:])
	})
}

// ShareGrantsForDocument returns every grant issued for a document.
func (s *Store) ShareGrantsForDocument(ctx context.Context, documentID uuid.UUID) ([]*types.ShareGrant, error) {
	ctx, span := trace.StartSpan(ctx, "versafeDB.ShareGrantsForDocument")
	defer span.End()

	grants := make([]*types.ShareGrant, 0)
	err := s.db.View(func(tx *bolt.Tx) error {
		grantBkt := tx.Bucket(shareGrantsBucket)
		c := tx.Bucket(shareDocumentIndexBucket).Cursor()
		for k, id := c.Seek(documentID[:]); k != nil && bytes.HasPrefix(k, documentID[:]); k, id = c.Next() {
			enc := grantBkt.Get(id)
			if enc == nil {
				continue
			}
			grant := &types.ShareGrant{}
			if err := decode(ctx, enc, grant); err != nil {
				return err
			}
			grants = append(grants, grant)
		}
		return nil
	})
	return grants, err
}
