package kv

import (
	"bytes"
	"context"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/versafe/versafe/db/iface"
	"github.com/versafe/versafe/encoding/bytesutil"
	"github.com/versafe/versafe/types"
	bolt "go.etcd.io/bbolt"
	"go.opencensus.io/trace"
)

// SaveVerificationEvent appends a verification event. The history is
// append-only; events are never updated or deleted.
func (s *Store) SaveVerificationEvent(ctx context.Context, ev *types.VerificationEvent) error {
	ctx, span := trace.StartSpan(ctx, "versafeDB.SaveVerificationEvent")
	defer span.End()

	enc, err := encode(ctx, ev)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		if tx.Bucket(documentsBucket).Get(ev.DocumentID[:]) == nil {
			return errors.Wrap(iface.ErrMissingReference, "verification event document does not exist")
		}
		if err := tx.Bucket(verificationEventsBucket).Put(ev.ID[:], enc); err != nil {
			return err
		}
		idxKey := make([]byte, 0, 16+8+16)
		idxKey = append(idxKey, ev.DocumentID[:]...)
		idxKey = append(idxKey, bytesutil.Bytes8(uint64(ev.CreatedAt.UnixNano()))...)
		idxKey = append(idxKey, ev.ID[:]...)
		return tx.Bucket(verificationDocumentIndexBucket).Put(idxKey, ev.ID[:])
	})
}

// VerificationEventsForDocument returns the document's verification
// history in chronological order.
func (s *Store) VerificationEventsForDocument(ctx context.Context, documentID uuid.UUID) ([]*types.VerificationEvent, error) {
	ctx, span := trace.StartSpan(ctx, "versafeDB.VerificationEventsForDocument")
	defer span.End()

	events := make([]*types.VerificationEvent, 0)
	err := s.db.View(func(tx *bolt.Tx) error {
		evBkt := tx.Bucket(verificationEventsBucket)
		c := tx.Bucket(verificationDocumentIndexBucket).Cursor()
		for k, id := c.Seek(documentID[:]); k != nil && bytes.HasPrefix(k, documentID[:]); k, id = c.Next() {
			enc := evBkt.Get(id)
			if enc == nil {
				continue
			}
			ev := &types.VerificationEvent{}
			if err := decode(ctx, enc, ev); err != nil {
				return err
			}
			events = append(events, ev)
		}
		return nil
	})
	return events, err
}
