package kv

import (
	"bytes"
	"context"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/versafe/versafe/db/filters"
	"github.com/versafe/versafe/db/iface"
	"github.com/versafe/versafe/encoding/bytesutil"
	"github.com/versafe/versafe/types"
	bolt "go.etcd.io/bbolt"
	"go.opencensus.io/trace"
)

// ownerIndexKey orders a document under its owner by creation time,
// the kv stand-in for the (owner_id, created_at) listing index.
func ownerIndexKey(doc *types.Document) []byte {
	key := make([]byte, 0, 16+8+16)
	key = append(key, doc.OwnerID[:]...)
	key = append(key, bytesutil.Bytes8(uint64(doc.CreatedAt.UnixNano()))...)
	key = append(key, doc.ID[:]...)
	return key
}

// SaveDocument persists a new document record. The owner must exist.
func (s *Store) SaveDocument(ctx context.Context, doc *types.Document) error {
	ctx, span := trace.StartSpan(ctx, "versafeDB.SaveDocument")
	defer span.End()

	enc, err := encode(ctx, doc)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		if tx.Bucket(usersBucket).Get(doc.OwnerID[:]) == nil {
			return errors.Wrap(iface.ErrMissingReference, "document owner does not exist")
		}
		bkt := tx.Bucket(documentsBucket)
		if bkt.Get(doc.ID[:]) != nil {
			return iface.ErrAlreadyExists
		}
		if err := bkt.Put(doc.ID[:], enc); err != nil {
			return err
		}
		return tx.Bucket(documentOwnerIndexBucket).Put(ownerIndexKey(doc), doc.ID[:])
	})
}

// Document retrieves a document by id.
func (s *Store) Document(ctx context.Context, id uuid.UUID) (*types.Document, error) {
	ctx, span := trace.StartSpan(ctx, "versafeDB.Document")
	defer span.End()

	var doc *types.Document
	err := s.db.View(func(tx *bolt.Tx) error {
		enc := tx.Bucket(documentsBucket).Get(id[:])
		if enc == nil {
			return iface.ErrNotFound
		}
		doc = &types.Document{}
		return decode(ctx, enc, doc)
	})
	return doc, err
}

// UpdateDocument overwrites a document record while enforcing the
// schema invariants: the digest is stable, a set ledger tx id is never
// mutated, and state changes must follow the state machine.
func (s *Store) UpdateDocument(ctx context.Context, doc *types.Document) error {
	ctx, span := trace.StartSpan(ctx, "versafeDB.UpdateDocument")
	defer span.End()

	enc, err := encode(ctx, doc)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return putDocumentUpdate(ctx, tx, doc, enc)
	})
}

// putDocumentUpdate enforces the document update invariants inside an
// open transaction and writes the new record.
func putDocumentUpdate(ctx context.Context, tx *bolt.Tx, doc *types.Document, enc []byte) error {
	bkt := tx.Bucket(documentsBucket)
	prevEnc := bkt.Get(doc.ID[:])
	if prevEnc == nil {
		return iface.ErrNotFound
	}
	prev := &types.Document{}
	if err := decode(ctx, prevEnc, prev); err != nil {
		return err
	}
	if len(prev.Digest) > 0 && !bytes.Equal(prev.Digest, doc.Digest) {
		return errors.Wrap(iface.ErrImmutableRecord, "document digest cannot change")
	}
	if prev.LedgerTxID != "" && doc.LedgerTxID != prev.LedgerTxID {
		return errors.Wrap(iface.ErrImmutableRecord, "ledger tx id cannot change once set")
	}
	if prev.State != doc.State && !types.CanTransition(prev.State, doc.State) {
		return errors.Wrapf(types.ErrInvalidTransition, "%s -> %s", prev.State, doc.State)
	}
	return bkt.Put(doc.ID[:], enc)
}

// Documents returns one page of the owner's documents ordered by
// creation time, along with the total count matching the filter.
// Quarantined documents are excluded unless the filter asks for them.
func (s *Store) Documents(ctx context.Context, ownerID uuid.UUID, f *filters.QueryFilter) ([]*types.Document, int, error) {
	ctx, span := trace.StartSpan(ctx, "versafeDB.Documents")
	defer span.End()

	page, limit := 1, 20
	var stateFilter types.DocumentState
	var levelFilter types.SecurityLevel
	if f != nil {
		for k, v := range f.Filters() {
			switch k {
			case filters.State:
				stateFilter = v.(types.DocumentState)
			case filters.SecurityLevel:
				levelFilter = v.(types.SecurityLevel)
			case filters.Page:
				page = v.(int)
			case filters.Limit:
				limit = v.(int)
			}
		}
	}
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 20
	}

	matched := make([]*types.Document, 0)
	err := s.db.View(func(tx *bolt.Tx) error {
		docs := tx.Bucket(documentsBucket)
		c := tx.Bucket(documentOwnerIndexBucket).Cursor()
		for k, id := c.Seek(ownerID[:]); k != nil && bytes.HasPrefix(k, ownerID[:]); k, id = c.Next() {
			enc := docs.Get(id)
			if enc == nil {
				continue
			}
			doc := &types.Document{}
			if err := decode(ctx, enc, doc); err != nil {
				return err
			}
			if doc.State == types.StateQuarantined && stateFilter != types.StateQuarantined {
				continue
			}
			if stateFilter != "" && doc.State != stateFilter {
				continue
			}
			if levelFilter != "" && doc.SecurityLevel != levelFilter {
				continue
			}
			matched = append(matched, doc)
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}

	total := len(matched)
	start := (page - 1) * limit
	if start >= total {
		return []*types.Document{}, total, nil
	}
	end := start + limit
	if end > total {
		end = total
	}
	return matched[start:end], total, nil
}

// DocumentsInState scans for every document currently in the given
// state. Used by the expiry sweep and the registration reconciler.
func (s *Store) DocumentsInState(ctx context.Context, state types.DocumentState) ([]*types.Document, error) {
	ctx, span := trace.StartSpan(ctx, "versafeDB.DocumentsInState")
	defer span.End()

	docs := make([]*types.Document, 0)
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(documentsBucket).ForEach(func(_, enc []byte) error {
			doc := &types.Document{}
			if err := decode(ctx, enc, doc); err != nil {
				return err
			}
			if doc.State == state {
				docs = append(docs, doc)
			}
			return nil
		})
	})
	return docs, err
}
